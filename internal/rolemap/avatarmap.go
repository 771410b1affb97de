package rolemap

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"EmbyToolbox/internal/config"
	"EmbyToolbox/internal/emby"
	"EmbyToolbox/internal/githubstore"
	"EmbyToolbox/internal/helpers"
	"EmbyToolbox/internal/taskcenter"
	"EmbyToolbox/internal/tmdb"
)

const (
	avatarMapFile    = "actor_avatar_map.json"
	githubAvatarPath = "database/actor_avatar_map.json"
)

// AvatarEntry 单个演员的头像选择，按演员TMDB ID索引
type AvatarEntry struct {
	ActorName   string `json:"actor_name"`
	Source      string `json:"source"` // tmdb | douban | url
	ImagePath   string `json:"image_path"`
	LastUpdated string `json:"last_updated"`
}

// avatarEmbyApi 头像恢复需要的Emby操作子集
type avatarEmbyApi interface {
	FetchAllItems(ctx context.Context, params map[string]string) ([]emby.BaseItem, error)
	UploadImage(ctx context.Context, itemId, imageType string, data []byte, contentType string) error
}

type imageFetcher func(ctx context.Context, url string) ([]byte, string, error)

// AvatarMapper 演员头像映射表，记住用户为每个演员选定的头像
type AvatarMapper struct {
	emby       avatarEmbyApi
	github     *githubstore.Client
	fetchImage imageFetcher
	cfg        func() config.ActorRoleMapperConfig
	mapFile    string
	log        *helpers.Logger
}

func NewAvatarMapper(embyClient avatarEmbyApi, github *githubstore.Client, fetchImage imageFetcher, cfg func() config.ActorRoleMapperConfig, dataDir string, log *helpers.Logger) *AvatarMapper {
	return &AvatarMapper{
		emby:       embyClient,
		github:     github,
		fetchImage: fetchImage,
		cfg:        cfg,
		mapFile:    filepath.Join(dataDir, avatarMapFile),
		log:        log.Cat("头像映射"),
	}
}

// Load 读取头像映射表
func (m *AvatarMapper) Load() (map[string]AvatarEntry, error) {
	data := map[string]AvatarEntry{}
	err := helpers.WithFileLock(m.mapFile, lockTimeout, func() error {
		if !helpers.PathExists(m.mapFile) {
			return nil
		}
		return helpers.ReadJSONFile(m.mapFile, &data)
	})
	return data, err
}

// SaveChoice 记录一次头像选择
func (m *AvatarMapper) SaveChoice(tmdbPersonId string, entry AvatarEntry) error {
	if tmdbPersonId == "" {
		return fmt.Errorf("缺少演员TMDB ID，无法保存头像选择")
	}
	entry.LastUpdated = time.Now().UTC().Format(time.RFC3339)
	return helpers.WithFileLock(m.mapFile, lockTimeout, func() error {
		data := map[string]AvatarEntry{}
		if helpers.PathExists(m.mapFile) {
			if err := helpers.ReadJSONFile(m.mapFile, &data); err != nil {
				return err
			}
		}
		data[tmdbPersonId] = entry
		return helpers.WriteJSONAtomic(m.mapFile, data)
	})
}

// imageURL 把映射条目转成可下载的图片地址
func (e AvatarEntry) imageURL() string {
	if e.Source == "tmdb" {
		return tmdb.ImageURL(e.ImagePath, "original")
	}
	return e.ImagePath
}

// RestoreAllTask 批量恢复头像：先拉全量演员建TMDB索引，再逐条匹配上传
func (m *AvatarMapper) RestoreAllTask(cooldown float64) taskcenter.TaskFunc {
	return func(ctx context.Context, h *taskcenter.Handle) (interface{}, error) {
		avatarMap, err := m.Load()
		if err != nil {
			return nil, err
		}
		if len(avatarMap) == 0 {
			return nil, fmt.Errorf("本地头像映射表为空")
		}
		m.log.Infof("任务启动，映射表共 %d 条记录", len(avatarMap))

		persons, err := m.emby.FetchAllItems(ctx, map[string]string{
			"Recursive":        "true",
			"IncludeItemTypes": "Person",
			"Fields":           "ProviderIds",
		})
		if err != nil {
			return nil, fmt.Errorf("拉取Emby演员数据失败: %w", err)
		}
		tmdbToEmby := map[string]string{}
		for _, p := range persons {
			if id := p.TmdbId(); id != "" {
				tmdbToEmby[id] = p.Id
			}
		}
		m.log.Infof("索引构建完成，共 %d 个演员，其中 %d 个包含TMDB ID", len(persons), len(tmdbToEmby))

		total := len(avatarMap)
		h.UpdateProgress(0, total)
		done, restored, missing := 0, 0, 0
		for tmdbId, entry := range avatarMap {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			done++
			h.UpdateProgress(done, total)

			embyId, ok := tmdbToEmby[tmdbId]
			if !ok {
				missing++
				continue
			}
			if cooldown > 0 && done > 1 {
				select {
				case <-ctx.Done():
				case <-time.After(time.Duration(cooldown * float64(time.Second))):
				}
			}
			data, contentType, err := m.fetchImage(ctx, entry.imageURL())
			if err != nil {
				m.log.Errorf("下载演员【%s】的头像失败: %v", entry.ActorName, err)
				continue
			}
			if err := m.emby.UploadImage(ctx, embyId, "Primary", data, contentType); err != nil {
				m.log.Errorf("为演员【%s】上传头像失败: %v", entry.ActorName, err)
				continue
			}
			restored++
		}
		m.log.Infof("批量恢复完毕: 成功 %d, 未在Emby中找到 %d", restored, missing)
		return map[string]int{"restored_count": restored, "missing_count": missing}, nil
	}
}

// UploadTask 上传头像映射表到GitHub
func (m *AvatarMapper) UploadTask() taskcenter.TaskFunc {
	return func(ctx context.Context, h *taskcenter.Handle) (interface{}, error) {
		cfg := m.cfg().Github
		ref, err := githubstore.ParseRepoRef(cfg.RepoUrl, cfg.Branch, cfg.PersonalAccessToken)
		if err != nil {
			return nil, err
		}
		data, err := m.Load()
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			return nil, fmt.Errorf("本地头像映射表文件 %s 不存在或为空", avatarMapFile)
		}
		content, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return nil, err
		}
		sha, err := m.github.GetFileSha(ctx, ref, githubAvatarPath)
		if err != nil {
			return nil, err
		}
		message := "Update actor avatar map (" + time.Now().Format("2006-01-02 15:04:05") + ")"
		if _, err := m.github.PutFile(ctx, ref, githubAvatarPath, message, content, sha); err != nil {
			return nil, err
		}
		m.log.Info("头像映射表已同步到GitHub仓库")
		return nil, nil
	}
}

// DownloadTask 从GitHub拉取头像映射表覆盖本地
func (m *AvatarMapper) DownloadTask() taskcenter.TaskFunc {
	return func(ctx context.Context, h *taskcenter.Handle) (interface{}, error) {
		cfg := m.cfg().Github
		ref, err := githubstore.ParseRepoRef(cfg.RepoUrl, cfg.Branch, cfg.PersonalAccessToken)
		if err != nil {
			return nil, err
		}
		info, err := m.github.GetContents(ctx, ref, githubAvatarPath)
		if err != nil {
			return nil, err
		}
		if info == nil {
			return nil, fmt.Errorf("GitHub仓库中不存在 %s", githubAvatarPath)
		}
		raw, err := githubstore.DecodeContent(info)
		if err != nil {
			return nil, err
		}
		data := map[string]AvatarEntry{}
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, fmt.Errorf("远程头像映射表格式不正确: %w", err)
		}
		err = helpers.WithFileLock(m.mapFile, lockTimeout, func() error {
			return helpers.WriteJSONAtomic(m.mapFile, data)
		})
		if err != nil {
			return nil, err
		}
		m.log.Infof("下载成功，本地头像映射表共 %d 条", len(data))
		return map[string]int{"total_entries": len(data)}, nil
	}
}
