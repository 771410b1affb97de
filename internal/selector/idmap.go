package selector

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"EmbyToolbox/internal/helpers"
	"EmbyToolbox/internal/taskcenter"
)

const idMapFileName = "id_map.json"

// IdMapPath id_map.json在数据目录下的完整路径
func IdMapPath(dataDir string) string {
	return filepath.Join(dataDir, idMapFileName)
}

// LoadIdMap 读取TMDB ID到Emby条目id的反向映射表。
// 文件不存在时返回nil，由调用方决定如何提示。
func LoadIdMap(dataDir string) (map[string][]string, error) {
	path := IdMapPath(dataDir)
	var idMap map[string][]string
	err := helpers.WithFileLock(path, 10*time.Second, func() error {
		if !helpers.PathExists(path) {
			return nil
		}
		return helpers.ReadJSONFile(path, &idMap)
	})
	if err != nil {
		return nil, fmt.Errorf("读取ID映射表失败: %w", err)
	}
	return idMap, nil
}

// GenerateIdMapTask 重建 id_map.json：全量拉取电影和剧集，
// 按TMDB ID归并对应的Emby条目id。同一部作品在多个媒体库中
// 出现时会映射到多个id。
func (s *Selector) GenerateIdMapTask(dataDir string) taskcenter.TaskFunc {
	return func(ctx context.Context, h *taskcenter.Handle) (interface{}, error) {
		s.log.Info("开始生成ID映射表")
		items, err := s.emby.FetchAllItems(ctx, map[string]string{
			"Recursive":        "true",
			"IncludeItemTypes": "Movie,Series",
			"Fields":           "ProviderIds",
		})
		if err != nil {
			return nil, fmt.Errorf("获取全量媒体列表失败: %w", err)
		}
		h.UpdateProgress(len(items), len(items))

		idMap := map[string][]string{}
		for _, it := range items {
			tmdbId := it.TmdbId()
			if tmdbId == "" {
				continue
			}
			idMap[tmdbId] = append(idMap[tmdbId], it.Id)
		}

		path := IdMapPath(dataDir)
		err = helpers.WithFileLock(path, 10*time.Second, func() error {
			return helpers.WriteJSONAtomic(path, idMap)
		})
		if err != nil {
			return nil, fmt.Errorf("写入ID映射表失败: %w", err)
		}
		s.log.Infof("ID映射表已更新，共 %d 个TMDB ID，%d 个媒体条目", len(idMap), len(items))
		return map[string]int{"tmdb_count": len(idMap), "item_count": len(items)}, nil
	}
}
