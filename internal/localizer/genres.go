package localizer

import (
	"context"
	"fmt"

	"EmbyToolbox/internal/helpers"
	"EmbyToolbox/internal/taskcenter"
)

// GenreMapper 按配置的类型映射表把Emby媒体的英文类型替换为中文
type GenreMapper struct {
	emby    embyApi
	mapping func() map[string]string
	log     *helpers.Logger
}

func NewGenreMapper(embyClient embyApi, mapping func() map[string]string, log *helpers.Logger) *GenreMapper {
	return &GenreMapper{
		emby:    embyClient,
		mapping: mapping,
		log:     log.Cat("类型中文化"),
	}
}

// ApplyItem 处理单个媒体项，返回是否发生了更新
func (g *GenreMapper) ApplyItem(ctx context.Context, itemId string) (bool, error) {
	mapping := g.mapping()
	if len(mapping) == 0 {
		return false, nil
	}
	item, err := g.emby.GetItem(ctx, itemId, "Genres,Name")
	if err != nil {
		return false, fmt.Errorf("获取媒体项 %s 失败: %w", itemId, err)
	}
	changed := false
	for i, genre := range item.Genres {
		if translated, found := mapping[genre]; found && translated != genre {
			item.Genres[i] = translated
			changed = true
		}
	}
	if !changed {
		return false, nil
	}
	if err := g.emby.UpdateItem(ctx, itemId, item); err != nil {
		return false, fmt.Errorf("更新媒体项 %s 失败: %w", itemId, err)
	}
	g.log.Infof("媒体 %s 的类型已更新为 %v", item.Name, item.Genres)
	return true, nil
}

// GenreResult 类型中文化任务的汇总
type GenreResult struct {
	UpdatedCount int `json:"updated_count"`
}

// ApplyTask 对一批媒体项执行类型中文化的任务体
func (g *GenreMapper) ApplyTask(itemIds []string) taskcenter.TaskFunc {
	return func(ctx context.Context, h *taskcenter.Handle) (interface{}, error) {
		total := len(itemIds)
		g.log.Infof("任务启动，共需处理 %d 个媒体项", total)
		h.UpdateProgress(0, total)

		result := GenreResult{}
		for i, itemId := range itemIds {
			if ctx.Err() != nil {
				g.log.Warn("任务被用户取消")
				return result, ctx.Err()
			}
			h.UpdateProgress(i+1, total)
			updated, err := g.ApplyItem(ctx, itemId)
			if err != nil {
				g.log.Errorf("处理媒体项 %s 失败: %v", itemId, err)
				continue
			}
			if updated {
				result.UpdatedCount++
				h.UpdateResult(result)
			}
		}
		g.log.Infof("任务执行完毕，共更新了 %d 个项目的类型", result.UpdatedCount)
		return result, nil
	}
}
