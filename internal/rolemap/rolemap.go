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
)

const (
	roleMapFile   = "actor_role_map.json"
	githubMapPath = "database/actor_role_map.json"
	lockTimeout   = 10 * time.Second
)

// ActorRole 单条演员到角色的映射
type ActorRole struct {
	Name   string `json:"name"`
	TmdbId string `json:"tmdb_id"`
	Role   string `json:"role"`
}

// WorkEntry 单部作品的角色映射，按作品TMDB ID索引
type WorkEntry struct {
	Title       string      `json:"title"`
	EmbyItemIds []string    `json:"Emby_itemid"`
	Map         []ActorRole `json:"map"`
}

// embyApi 角色映射需要的Emby操作子集
type embyApi interface {
	GetItem(ctx context.Context, itemId, fields string) (*emby.BaseItem, error)
	UpdateItem(ctx context.Context, itemId string, item *emby.BaseItem) error
}

// Mapper 演员角色映射表：从Emby生成、恢复回Emby、
// 与GitHub仓库的 database/actor_role_map.json 双向同步。
type Mapper struct {
	emby    embyApi
	github  *githubstore.Client
	cfg     func() config.ActorRoleMapperConfig
	mapFile string
	log     *helpers.Logger
}

func NewMapper(embyClient embyApi, github *githubstore.Client, cfg func() config.ActorRoleMapperConfig, dataDir string, log *helpers.Logger) *Mapper {
	return &Mapper{
		emby:    embyClient,
		github:  github,
		cfg:     cfg,
		mapFile: filepath.Join(dataDir, roleMapFile),
		log:     log.Cat("角色映射"),
	}
}

// Load 读取本地映射表，文件缺失时返回空map
func (m *Mapper) Load() (map[string]WorkEntry, error) {
	data := map[string]WorkEntry{}
	err := helpers.WithFileLock(m.mapFile, lockTimeout, func() error {
		if !helpers.PathExists(m.mapFile) {
			return nil
		}
		return helpers.ReadJSONFile(m.mapFile, &data)
	})
	return data, err
}

func (m *Mapper) save(data map[string]WorkEntry) error {
	return helpers.WithFileLock(m.mapFile, lockTimeout, func() error {
		return helpers.WriteJSONAtomic(m.mapFile, data)
	})
}

// UpdateWork 更新单部作品的映射并写回文件
func (m *Mapper) UpdateWork(tmdbId string, entry WorkEntry) error {
	if tmdbId == "" {
		return fmt.Errorf("缺少作品TMDB ID")
	}
	return helpers.WithFileLock(m.mapFile, lockTimeout, func() error {
		data := map[string]WorkEntry{}
		if helpers.PathExists(m.mapFile) {
			if err := helpers.ReadJSONFile(m.mapFile, &data); err != nil {
				return err
			}
		}
		data[tmdbId] = entry
		return helpers.WriteJSONAtomic(m.mapFile, data)
	})
}

// GenerateResult 生成任务的汇总
type GenerateResult struct {
	TotalWorks  int `json:"total_works"`
	TotalActors int `json:"total_actors"`
}

// GenerateTask 从一批媒体项生成映射表并整体重写本地文件
func (m *Mapper) GenerateTask(itemIds []string, actorLimit int) taskcenter.TaskFunc {
	return func(ctx context.Context, h *taskcenter.Handle) (interface{}, error) {
		total := len(itemIds)
		m.log.Infof("生成任务启动，共 %d 个媒体项，演员上限 %d", total, actorLimit)
		h.UpdateProgress(0, total)

		roleMap := map[string]WorkEntry{}
		for i, itemId := range itemIds {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			h.UpdateProgress(i+1, total)

			item, err := m.emby.GetItem(ctx, itemId, "ProviderIds,People,Name")
			if err != nil {
				m.log.Errorf("获取媒体 %s 详情失败: %v", itemId, err)
				continue
			}
			tmdbId := item.TmdbId()
			if tmdbId == "" {
				m.log.Debugf("媒体《%s》缺少TMDB ID，跳过", item.Name)
				continue
			}
			// 同一作品的多个Emby版本共享一条映射
			if entry, ok := roleMap[tmdbId]; ok {
				entry.EmbyItemIds = append(entry.EmbyItemIds, itemId)
				roleMap[tmdbId] = entry
				continue
			}

			var roles []ActorRole
			count := 0
			for _, p := range item.People {
				if p.Type != "Actor" || p.Name == "" {
					continue
				}
				if actorLimit > 0 && count >= actorLimit {
					break
				}
				roles = append(roles, ActorRole{
					Name:   p.Name,
					TmdbId: p.TmdbId(),
					Role:   p.Role,
				})
				count++
			}
			if len(roles) == 0 {
				continue
			}
			roleMap[tmdbId] = WorkEntry{
				Title:       item.Name,
				EmbyItemIds: []string{itemId},
				Map:         roles,
			}
		}

		if err := m.save(roleMap); err != nil {
			return nil, fmt.Errorf("写入映射表失败: %w", err)
		}
		result := GenerateResult{TotalWorks: len(roleMap)}
		for _, entry := range roleMap {
			result.TotalActors += len(entry.Map)
		}
		m.log.Infof("映射表生成完毕，共 %d 部作品，%d 条角色关系", result.TotalWorks, result.TotalActors)
		return result, nil
	}
}

// RestoreWork 按单部作品的映射恢复其所有Emby版本的角色名。
// 演员匹配TMDB ID优先，失败时按名称降级。
func (m *Mapper) RestoreWork(ctx context.Context, entry WorkEntry) (int, error) {
	if len(entry.EmbyItemIds) == 0 || len(entry.Map) == 0 {
		return 0, fmt.Errorf("作品《%s》的映射数据不完整", entry.Title)
	}
	updated := 0
	for _, itemId := range entry.EmbyItemIds {
		if ctx.Err() != nil {
			return updated, ctx.Err()
		}
		item, err := m.emby.GetItem(ctx, itemId, "People")
		if err != nil {
			m.log.Errorf("获取媒体项 %s 失败: %v", itemId, err)
			continue
		}
		if len(item.People) == 0 {
			continue
		}

		byId := map[string]int{}
		byName := map[string]int{}
		for i, p := range item.People {
			if p.Type != "Actor" {
				continue
			}
			if id := p.TmdbId(); id != "" {
				byId[id] = i
			}
			byName[p.Name] = i
		}

		changed := false
		for _, mapped := range entry.Map {
			idx, ok := byId[mapped.TmdbId]
			if mapped.TmdbId == "" || !ok {
				idx, ok = byName[mapped.Name]
			}
			if !ok {
				continue
			}
			if item.People[idx].Role != mapped.Role {
				m.log.Infof("演员 [%s] 角色更新: '%s' -> '%s'", item.People[idx].Name, item.People[idx].Role, mapped.Role)
				item.People[idx].Role = mapped.Role
				changed = true
			}
		}
		if !changed {
			continue
		}
		if err := m.emby.UpdateItem(ctx, itemId, item); err != nil {
			m.log.Errorf("写回媒体项 %s 失败: %v", itemId, err)
			continue
		}
		updated++
	}
	return updated, nil
}

// RestoreTask 按范围批量恢复：映射表驱动，范围外的作品跳过
func (m *Mapper) RestoreTask(scopeItemIds []string) taskcenter.TaskFunc {
	return func(ctx context.Context, h *taskcenter.Handle) (interface{}, error) {
		fullMap, err := m.Load()
		if err != nil {
			return nil, fmt.Errorf("加载映射表失败: %w", err)
		}
		if len(fullMap) == 0 {
			return nil, fmt.Errorf("本地映射表为空，请先生成")
		}

		// 范围内媒体的 TMDB ID -> Emby版本 反查表
		tmdbToEmby := map[string][]string{}
		for _, itemId := range scopeItemIds {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			item, err := m.emby.GetItem(ctx, itemId, "ProviderIds")
			if err != nil {
				m.log.Debugf("获取媒体项 %s 的TMDB ID失败: %v", itemId, err)
				continue
			}
			if id := item.TmdbId(); id != "" {
				tmdbToEmby[id] = append(tmdbToEmby[id], itemId)
			}
		}

		total := len(fullMap)
		h.UpdateProgress(0, total)
		done, updated := 0, 0
		for tmdbId, entry := range fullMap {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			done++
			h.UpdateProgress(done, total)
			itemIds, ok := tmdbToEmby[tmdbId]
			if !ok {
				continue
			}
			m.log.Infof("开始处理作品《%s》，涉及 %d 个Emby版本", entry.Title, len(itemIds))
			entry.EmbyItemIds = itemIds
			n, err := m.RestoreWork(ctx, entry)
			if err != nil {
				m.log.Errorf("恢复作品《%s》失败: %v", entry.Title, err)
				continue
			}
			updated += n
		}
		m.log.Infof("批量恢复执行完毕，共更新 %d 个媒体项", updated)
		return map[string]int{"updated_count": updated}, nil
	}
}

// githubRef 从配置构建仓库定位
func (m *Mapper) githubRef() (githubstore.RepoRef, error) {
	cfg := m.cfg().Github
	if cfg.RepoUrl == "" {
		return githubstore.RepoRef{}, fmt.Errorf("未配置GitHub仓库URL")
	}
	return githubstore.ParseRepoRef(cfg.RepoUrl, cfg.Branch, cfg.PersonalAccessToken)
}

// UploadTask 把本地映射表上传到GitHub仓库的database目录
func (m *Mapper) UploadTask() taskcenter.TaskFunc {
	return func(ctx context.Context, h *taskcenter.Handle) (interface{}, error) {
		ref, err := m.githubRef()
		if err != nil {
			return nil, err
		}
		if ref.Pat == "" {
			return nil, fmt.Errorf("未配置GitHub个人访问令牌(PAT)")
		}
		data, err := m.Load()
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			return nil, fmt.Errorf("本地映射表文件 %s 不存在或为空，请先生成", roleMapFile)
		}
		content, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return nil, err
		}

		sha, err := m.github.GetFileSha(ctx, ref, githubMapPath)
		if err != nil {
			return nil, fmt.Errorf("检查远程文件状态失败: %w", err)
		}
		message := "Update actor role map (" + time.Now().Format("2006-01-02 15:04:05") + ")"
		if _, err := m.github.PutFile(ctx, ref, githubMapPath, message, content, sha); err != nil {
			return nil, err
		}
		m.log.Info("上传成功，映射表已同步到GitHub仓库")
		return nil, nil
	}
}

// DownloadTask 从GitHub仓库拉取映射表覆盖本地文件
func (m *Mapper) DownloadTask() taskcenter.TaskFunc {
	return func(ctx context.Context, h *taskcenter.Handle) (interface{}, error) {
		ref, err := m.githubRef()
		if err != nil {
			return nil, err
		}
		info, err := m.github.GetContents(ctx, ref, githubMapPath)
		if err != nil {
			return nil, err
		}
		if info == nil {
			return nil, fmt.Errorf("GitHub仓库中不存在 %s", githubMapPath)
		}
		raw, err := githubstore.DecodeContent(info)
		if err != nil {
			return nil, err
		}
		data := map[string]WorkEntry{}
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, fmt.Errorf("远程映射表格式不正确: %w", err)
		}
		if err := m.save(data); err != nil {
			return nil, err
		}
		m.log.Infof("下载成功，本地映射表已更新为GitHub版本，共 %d 部作品", len(data))
		return map[string]int{"total_works": len(data)}, nil
	}
}
