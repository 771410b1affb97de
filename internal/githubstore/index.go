package githubstore

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"EmbyToolbox/internal/config"
	"EmbyToolbox/internal/helpers"
)

const (
	indexFileName = "database.json"
	cacheDuration = time.Hour
	lockTimeout   = 10 * time.Second
)

// ImageEntry 聚合索引里的单条图片记录
type ImageEntry struct {
	RepoUrl string `json:"repo_url"`
	Sha     string `json:"sha"`
	Size    int64  `json:"size"`
	Url     string `json:"url"`
}

// RepoIndex 单个仓库根目录下 database.json 的结构
type RepoIndex struct {
	Version     int                              `json:"version"`
	LastUpdated string                           `json:"last_updated"`
	Images      map[string]map[string]ImageEntry `json:"images"`
}

func emptyRepoIndex() *RepoIndex {
	return &RepoIndex{Version: 1, Images: map[string]map[string]ImageEntry{}}
}

// Set 更新索引里某个作品某类图片的条目
func (idx *RepoIndex) Set(tmdbId, imageType string, entry ImageEntry) {
	if idx.Images == nil {
		idx.Images = map[string]map[string]ImageEntry{}
	}
	if _, ok := idx.Images[tmdbId]; !ok {
		idx.Images[tmdbId] = map[string]ImageEntry{}
	}
	idx.Images[tmdbId][imageType] = entry
}

// Remove 删除条目，作品下没有图片时连作品键一起删
func (idx *RepoIndex) Remove(tmdbId, imageType string) {
	if images, ok := idx.Images[tmdbId]; ok {
		delete(images, imageType)
		if len(images) == 0 {
			delete(idx.Images, tmdbId)
		}
	}
}

type aggregatedCache struct {
	CachedAt        string                `json:"cached_at"`
	AggregatedIndex map[string]ImageEntry `json:"aggregated_index"`
}

// RepoSource 聚合器需要的仓库清单提供方，每次调用取最新配置
type RepoSource func() ([]config.GithubRepoConfig, string)

// Aggregator 聚合所有仓库的索引，磁盘缓存1小时
type Aggregator struct {
	client    *Client
	repos     RepoSource
	cacheFile string
	log       *helpers.Logger
}

func NewAggregator(client *Client, repos RepoSource, dataDir string, log *helpers.Logger) *Aggregator {
	return &Aggregator{
		client:    client,
		repos:     repos,
		cacheFile: filepath.Join(dataDir, "poster_manager_aggregated_index.json"),
		log:       log.Cat("海报备份"),
	}
}

// FetchRepoIndex 获取单个仓库的database.json，仓库为空时返回空索引
func (a *Aggregator) FetchRepoIndex(ctx context.Context, ref RepoRef) (*RepoIndex, error) {
	info, err := a.client.GetContents(ctx, ref, indexFileName)
	if err != nil {
		return nil, fmt.Errorf("获取仓库 %s 的索引失败: %w", ref.ShortName(), err)
	}
	if info == nil {
		return emptyRepoIndex(), nil
	}
	raw, err := DecodeContent(info)
	if err != nil {
		return nil, fmt.Errorf("解码仓库 %s 的索引失败: %w", ref.ShortName(), err)
	}
	idx := emptyRepoIndex()
	if err := json.Unmarshal(raw, idx); err != nil {
		return nil, fmt.Errorf("解析仓库 %s 的索引失败: %w", ref.ShortName(), err)
	}
	if idx.Images == nil {
		idx.Images = map[string]map[string]ImageEntry{}
	}
	return idx, nil
}

// Get 返回聚合索引。命中有效缓存时直接返回，
// force为true或缓存过期/为空时从网络重新聚合。
func (a *Aggregator) Get(ctx context.Context, force bool) (map[string]ImageEntry, error) {
	if !force {
		if cached := a.readCache(); cached != nil {
			return cached, nil
		}
	} else {
		a.log.Info("已启用强制刷新，忽略本地聚合缓存")
	}

	repos, globalPat := a.repos()
	remote := map[string]ImageEntry{}
	successful := 0
	for _, repo := range repos {
		pat := repo.PersonalAccessToken
		if pat == "" {
			pat = globalPat
		}
		ref, err := ParseRepoRef(repo.RepoUrl, repo.Branch, pat)
		if err != nil {
			a.log.Errorf("跳过无效仓库配置: %v", err)
			continue
		}
		idx, err := a.FetchRepoIndex(ctx, ref)
		if err != nil {
			a.log.Errorf("处理仓库 %s 索引时出错: %v", repo.RepoUrl, err)
			continue
		}
		successful++
		for tmdbId, images := range idx.Images {
			for imageType, entry := range images {
				remote[fmt.Sprintf("%s-%s", tmdbId, imageType)] = entry
			}
		}
	}

	// 只有全部仓库都取到索引时才写缓存，避免半残缓存覆盖有效数据
	if successful == len(repos) {
		a.writeCache(remote)
		a.log.Infof("成功聚合全部(%d/%d)仓库的索引，共 %d 条记录", successful, len(repos), len(remote))
	} else {
		a.log.Warnf("未能成功获取所有仓库的索引(%d/%d)，聚合缓存未更新", successful, len(repos))
	}
	return remote, nil
}

func (a *Aggregator) readCache() map[string]ImageEntry {
	var result map[string]ImageEntry
	err := helpers.WithFileLock(a.cacheFile, 5*time.Second, func() error {
		if !helpers.PathExists(a.cacheFile) {
			return nil
		}
		var cache aggregatedCache
		if err := helpers.ReadJSONFile(a.cacheFile, &cache); err != nil {
			return err
		}
		cachedAt, err := time.Parse(time.RFC3339, cache.CachedAt)
		if err != nil {
			return err
		}
		age := time.Since(cachedAt)
		if age >= cacheDuration {
			return nil
		}
		if len(cache.AggregatedIndex) == 0 {
			a.log.Warn("检测到有效的空缓存文件，将强制刷新")
			return nil
		}
		a.log.Infof("命中本地聚合索引缓存 (更新于 %s 前)", age.Round(time.Second))
		result = cache.AggregatedIndex
		return nil
	})
	if err != nil {
		a.log.Warnf("读取聚合缓存失败，将从网络获取: %v", err)
		return nil
	}
	return result
}

func (a *Aggregator) writeCache(index map[string]ImageEntry) {
	err := helpers.WithFileLock(a.cacheFile, lockTimeout, func() error {
		return helpers.WriteJSONAtomic(a.cacheFile, aggregatedCache{
			CachedAt:        time.Now().Format(time.RFC3339),
			AggregatedIndex: index,
		})
	})
	if err != nil {
		a.log.Errorf("写入聚合索引缓存失败: %v", err)
	}
}

// RepoSizes 按仓库URL汇总聚合索引里的文件大小
func RepoSizes(index map[string]ImageEntry) map[string]int64 {
	sizes := map[string]int64{}
	for _, entry := range index {
		if entry.RepoUrl != "" {
			sizes[entry.RepoUrl] += entry.Size
		}
	}
	return sizes
}
