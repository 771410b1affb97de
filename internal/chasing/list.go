package chasing

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"EmbyToolbox/internal/emby"
	"EmbyToolbox/internal/helpers"
)

const (
	listFileName = "chasing_series.json"
	lockTimeout  = 10 * time.Second
)

// Item 追更列表里的一个剧集
type Item struct {
	EmbyId string `json:"emby_id"`
	TmdbId string `json:"tmdb_id"`
}

type listEmbyApi interface {
	GetItem(ctx context.Context, itemId, fields string) (*emby.BaseItem, error)
}

// List 追更列表，chasing_series.json 的读写入口
type List struct {
	emby listEmbyApi
	file string
	log  *helpers.Logger
}

func NewList(embyClient listEmbyApi, dataDir string, log *helpers.Logger) *List {
	return &List{
		emby: embyClient,
		file: filepath.Join(dataDir, listFileName),
		log:  log.Cat("追更中心"),
	}
}

// Load 读取追更列表。兼容旧版纯字符串列表格式，
// 旧条目的TmdbId留空，由后续写操作补齐。
func (l *List) Load() ([]Item, error) {
	var items []Item
	err := helpers.WithFileLock(l.file, lockTimeout, func() error {
		if !helpers.PathExists(l.file) {
			return nil
		}
		var raw []json.RawMessage
		if err := helpers.ReadJSONFile(l.file, &raw); err != nil {
			return err
		}
		for _, entry := range raw {
			var legacy string
			if json.Unmarshal(entry, &legacy) == nil {
				items = append(items, Item{EmbyId: legacy})
				continue
			}
			var item Item
			if err := json.Unmarshal(entry, &item); err != nil {
				return err
			}
			items = append(items, item)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("读取追更列表失败: %w", err)
	}
	return items, nil
}

// save 写回列表，缺少任一id的条目被过滤掉
func (l *List) save(items []Item) error {
	final := make([]Item, 0, len(items))
	for _, item := range items {
		if item.EmbyId != "" && item.TmdbId != "" {
			final = append(final, item)
		}
	}
	if len(final) != len(items) {
		l.log.Warn("保存时发现部分条目缺少Emby ID或TMDB ID，已被过滤")
	}
	return helpers.WithFileLock(l.file, lockTimeout, func() error {
		return helpers.WriteJSONAtomic(l.file, final)
	})
}

// Add 把剧集加入追更列表，已存在时不重复添加
func (l *List) Add(ctx context.Context, seriesId, seriesName string) error {
	items, err := l.Load()
	if err != nil {
		return err
	}
	for _, item := range items {
		if item.EmbyId == seriesId {
			l.log.Debugf("剧集《%s》已存在于追更列表中，无需重复添加", seriesName)
			return nil
		}
	}
	details, err := l.emby.GetItem(ctx, seriesId, "ProviderIds")
	if err != nil {
		return fmt.Errorf("添加《%s》失败，无法获取其Emby详情: %w", seriesName, err)
	}
	tmdbId := details.TmdbId()
	if tmdbId == "" {
		return fmt.Errorf("添加《%s》失败，该剧集缺少TMDB ID", seriesName)
	}
	items = append(items, Item{EmbyId: seriesId, TmdbId: tmdbId})
	if err := l.save(items); err != nil {
		return err
	}
	l.log.Infof("已将剧集《%s》加入追更列表", seriesName)
	return nil
}

// Remove 从追更列表移除剧集
func (l *List) Remove(seriesId, seriesName, reason string) error {
	items, err := l.Load()
	if err != nil {
		return err
	}
	updated := make([]Item, 0, len(items))
	for _, item := range items {
		if item.EmbyId != seriesId {
			updated = append(updated, item)
		}
	}
	if len(updated) == len(items) {
		return nil
	}
	if err := l.save(updated); err != nil {
		return err
	}
	l.log.Infof("已将剧集《%s》从追更列表移除。原因: %s", seriesName, reason)
	return nil
}
