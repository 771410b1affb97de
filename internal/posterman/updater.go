package posterman

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"EmbyToolbox/internal/config"
	"EmbyToolbox/internal/douban"
	"EmbyToolbox/internal/helpers"
	"EmbyToolbox/internal/taskcenter"
)

// 豆瓣海报URL里的唯一标识，形如 /p2561716440.webp
var posterTagPattern = regexp.MustCompile(`/(p\d+)\.`)

// DoubanPosterTag 从豆瓣海报URL中提取唯一标识，提不出来为空串
func DoubanPosterTag(url string) string {
	m := posterTagPattern.FindStringSubmatch(url)
	if m == nil {
		return ""
	}
	return m[1]
}

// imageFetchFunc 下载海报原图，返回图片数据和Content-Type
type imageFetchFunc func(ctx context.Context, url string) ([]byte, string, error)

// cacheLoadFunc 读取本地豆瓣缓存
type cacheLoadFunc func() (map[string]douban.CacheEntry, error)

// UpdateResult 豆瓣海报更新结果
type UpdateResult struct {
	UpdatedCount int `json:"updated_count"`
	SkippedCount int `json:"skipped_count"`
}

// Updater 豆瓣海报更新器：用本地豆瓣缓存里的海报替换Emby主图，
// 并把海报标识写入ProviderIds.DbPosterTag，下次跳过未变化的海报。
type Updater struct {
	emby      embyApi
	loadCache cacheLoadFunc
	fetch     imageFetchFunc
	cfg       func() config.DoubanPosterUpdaterConfig
	log       *helpers.Logger
}

func NewUpdater(embyClient embyApi, loadCache cacheLoadFunc, fetch imageFetchFunc,
	cfg func() config.DoubanPosterUpdaterConfig, log *helpers.Logger) *Updater {
	return &Updater{
		emby:      embyClient,
		loadCache: loadCache,
		fetch:     fetch,
		cfg:       cfg,
		log:       log.Cat("豆瓣海报更新"),
	}
}

// Run 为指定媒体列表执行海报更新。webhook链路也走这里，传单元素切片。
func (u *Updater) Run(ctx context.Context, h *taskcenter.Handle, itemIds []string) (UpdateResult, error) {
	result := UpdateResult{}
	cfg := u.cfg()
	doubanMap, err := u.loadCache()
	if err != nil {
		return result, fmt.Errorf("加载豆瓣缓存失败: %w", err)
	}
	if len(doubanMap) == 0 {
		return result, fmt.Errorf("本地豆瓣数据库为空，任务无法执行")
	}

	u.log.Infof("任务启动，共需处理 %d 个媒体项。覆盖=%v, 间隔=%.1f秒, 跳过大陆=%v",
		len(itemIds), cfg.OverwriteExisting, cfg.UpdateInterval, cfg.SkipMainlandChina)
	h.UpdateProgress(0, len(itemIds))

	for i, itemId := range itemIds {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if i > 0 {
			sleepCooldown(ctx, cfg.UpdateInterval)
		}
		h.UpdateProgress(i+1, len(itemIds))

		if u.updateOne(ctx, itemId, doubanMap, cfg) {
			result.UpdatedCount++
		} else {
			result.SkippedCount++
		}
	}
	u.log.Infof("任务执行完毕，共成功更新 %d 个项目的海报", result.UpdatedCount)
	return result, nil
}

func (u *Updater) updateOne(ctx context.Context, itemId string,
	doubanMap map[string]douban.CacheEntry, cfg config.DoubanPosterUpdaterConfig) bool {
	item, err := u.emby.GetItem(ctx, itemId, "Name,ProviderIds")
	if err != nil {
		u.log.Errorf("获取媒体详情 (ID: %s) 失败: %v", itemId, err)
		return false
	}
	u.log.Infof("正在处理 %s (ID: %s)", item.Name, itemId)

	doubanId := item.DoubanId()
	if doubanId == "" {
		u.log.Debugf("跳过 %s，媒体项缺少豆瓣ID", item.Name)
		return false
	}
	entry, ok := doubanMap[doubanId]
	if !ok {
		u.log.Warnf("跳过 %s，本地豆瓣缓存中未找到ID为 %s 的数据", item.Name, doubanId)
		return false
	}

	if cfg.SkipMainlandChina && isMainlandChina(entry.Countries) {
		u.log.Infof("跳过 %s，制片地区为中国大陆: %v", item.Name, entry.Countries)
		return false
	}

	posterURL := entry.Pic["large"]
	if posterURL == "" {
		u.log.Debugf("跳过 %s，该豆瓣条目无海报信息", item.Name)
		return false
	}
	tag := DoubanPosterTag(posterURL)
	if tag == "" {
		u.log.Warnf("跳过 %s，无法从豆瓣海报URL中提取有效Tag: %s", item.Name, posterURL)
		return false
	}

	if !cfg.OverwriteExisting && currentPosterTag(item.ProviderIds) == tag {
		u.log.Debugf("跳过 %s，当前海报已是最新豆瓣海报", item.Name)
		return false
	}

	data, mimeType, err := u.fetch(ctx, posterURL)
	if err != nil {
		u.log.Errorf("下载豆瓣海报失败: %v", err)
		return false
	}
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	if err := u.emby.DeleteImage(ctx, itemId, "Primary", 0); err != nil {
		u.log.Debugf("删除旧主图失败(可能本来就没有): %v", err)
	}
	if err := u.emby.UploadImage(ctx, itemId, "Primary", data, mimeType); err != nil {
		u.log.Errorf("媒体 %s 海报更新失败: %v", item.Name, err)
		return false
	}

	if err := u.writePosterTag(ctx, itemId, tag); err != nil {
		u.log.Errorf("媒体 %s 海报已更新，但写入标记失败: %v", item.Name, err)
		return false
	}
	u.log.Infof("媒体 %s 海报更新并标记成功", item.Name)
	return true
}

// writePosterTag 把海报标识写入ProviderIds，标记已更新
func (u *Updater) writePosterTag(ctx context.Context, itemId, tag string) error {
	item, err := u.emby.GetItem(ctx, itemId, "ProviderIds")
	if err != nil {
		return err
	}
	if item.ProviderIds == nil {
		item.ProviderIds = map[string]string{}
	}
	item.ProviderIds["DbPosterTag"] = tag
	return u.emby.UpdateItem(ctx, itemId, item)
}

func currentPosterTag(providerIds map[string]string) string {
	for k, v := range providerIds {
		if strings.EqualFold(k, "DbPosterTag") {
			return v
		}
	}
	return ""
}

func isMainlandChina(countries []string) bool {
	for _, c := range countries {
		if c == "中国大陆" || c == "中国" {
			return true
		}
	}
	return false
}

// UpdateTask 定时任务入口
func (u *Updater) UpdateTask(itemIds []string) taskcenter.TaskFunc {
	return func(ctx context.Context, h *taskcenter.Handle) (interface{}, error) {
		return u.Run(ctx, h, itemIds)
	}
}
