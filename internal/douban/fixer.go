package douban

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"resty.dev/v3"

	"EmbyToolbox/internal/config"
	"EmbyToolbox/internal/emby"
	"EmbyToolbox/internal/helpers"
	"EmbyToolbox/internal/taskcenter"
)

var (
	dataBlockPattern = regexp.MustCompile(`window\.__DATA__ = (\{.*\});`)
	yearSuffixPattern = regexp.MustCompile(`\s*\((\d{4})\)$`)
)

// SearchResult 豆瓣搜索页解析出的单条结果
type SearchResult struct {
	Id     string `json:"id"`
	Title  string `json:"title"`
	Year   int    `json:"year"`
	Info   string `json:"info"`
	Poster string `json:"poster"`
}

// Fixer 豆瓣ID修复器。对缺少豆瓣ID的Emby条目做标题搜索匹配，
// 匹配失败的条目进入失败缓存供人工复核。
type Fixer struct {
	cfg       config.DoubanFixerConfig
	emby      *emby.Client
	http      *resty.Client
	cacheFile string
	log       *helpers.Logger
}

func NewFixer(cfg config.DoubanFixerConfig, embyClient *emby.Client, proxyURL, dataDir string, log *helpers.Logger) *Fixer {
	client := resty.New().
		SetTimeout(20 * time.Second).
		SetHeader("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/108.0.0.0 Safari/537.36").
		SetHeader("Cookie", cfg.Cookie)
	if proxyURL != "" {
		client.SetProxy(proxyURL)
	}
	return &Fixer{
		cfg:       cfg,
		emby:      embyClient,
		http:      client,
		cacheFile: filepath.Join(dataDir, "douban_fix_cache.json"),
		log:       log.Cat("豆瓣修复器"),
	}
}

// Search 在豆瓣搜索标题，解析页面内嵌的 window.__DATA__ 数据块
func (f *Fixer) Search(ctx context.Context, title string) ([]SearchResult, error) {
	cooldown := time.Duration(f.cfg.ApiCooldown * float64(time.Second))
	if cooldown > 0 {
		f.log.Infof("准备为 %s 搜索，等待 %.1f 秒冷却", title, f.cfg.ApiCooldown)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(cooldown):
		}
	}

	searchURL := fmt.Sprintf("https://search.douban.com/movie/subject_search?search_text=%s&cat=1002", url.QueryEscape(title))
	res, err := f.http.R().SetContext(ctx).Get(searchURL)
	if err != nil {
		return nil, fmt.Errorf("搜索 %s 时发生网络错误: %w", title, err)
	}
	if res.IsError() {
		return nil, fmt.Errorf("搜索 %s 失败，状态码: %d", title, res.StatusCode())
	}

	match := dataBlockPattern.FindStringSubmatch(res.String())
	if match == nil {
		f.log.Warnf("搜索 %s 成功，但未找到数据块，豆瓣页面结构可能已更新", title)
		return []SearchResult{}, nil
	}

	var data struct {
		Items []struct {
			Id       json.Number `json:"id"`
			Title    string      `json:"title"`
			Abstract string      `json:"abstract"`
			CoverUrl string      `json:"cover_url"`
		} `json:"items"`
	}
	if err := json.Unmarshal([]byte(match[1]), &data); err != nil {
		return nil, fmt.Errorf("解析 %s 的搜索数据失败: %w", title, err)
	}

	results := make([]SearchResult, 0, len(data.Items))
	for _, item := range data.Items {
		full := strings.TrimSpace(item.Title)
		year := 0
		if ym := yearSuffixPattern.FindStringSubmatch(full); ym != nil {
			year, _ = strconv.Atoi(ym[1])
		}
		results = append(results, SearchResult{
			Id:     item.Id.String(),
			Title:  strings.TrimSpace(yearSuffixPattern.ReplaceAllString(full, "")),
			Year:   year,
			Info:   item.Abstract,
			Poster: item.CoverUrl,
		})
	}
	f.log.Infof("为 %s 解析到 %d 个搜索结果", title, len(results))
	return results, nil
}

// matchResult 标题前缀一致且年份相差不超过1年视为匹配
func matchResult(name string, year int, results []SearchResult) string {
	if name == "" || year == 0 {
		return ""
	}
	for _, r := range results {
		if r.Year == 0 {
			continue
		}
		diff := r.Year - year
		if diff < 0 {
			diff = -diff
		}
		if strings.HasPrefix(r.Title, name) && diff <= 1 {
			return r.Id
		}
	}
	return ""
}

// FailEntry 失败缓存条目
type FailEntry struct {
	Id             string `json:"Id"`
	Name           string `json:"Name"`
	ProductionYear int    `json:"ProductionYear"`
	Type           string `json:"Type"`
	AddedTime      string `json:"AddedTime"`
}

func (f *Fixer) loadFailCache() map[string]FailEntry {
	cache := map[string]FailEntry{}
	if helpers.PathExists(f.cacheFile) {
		if err := helpers.ReadJSONFile(f.cacheFile, &cache); err != nil {
			return map[string]FailEntry{}
		}
	}
	return cache
}

func (f *Fixer) saveFailCache(cache map[string]FailEntry) {
	if err := helpers.WriteJSONAtomic(f.cacheFile, cache); err != nil {
		f.log.Errorf("保存失败缓存文件失败: %v", err)
	}
}

func (f *Fixer) addToFailCache(item *emby.BaseItem) {
	cache := f.loadFailCache()
	if _, ok := cache[item.Id]; ok {
		return
	}
	cache[item.Id] = FailEntry{
		Id:             item.Id,
		Name:           item.Name,
		ProductionYear: item.ProductionYear,
		Type:           item.Type,
		AddedTime:      time.Now().Format(time.RFC3339),
	}
	f.saveFailCache(cache)
	f.log.Warnf("媒体 %s 匹配失败，已添加到失败缓存", item.Name)
}

func (f *Fixer) removeFromFailCache(itemId string) {
	cache := f.loadFailCache()
	if _, ok := cache[itemId]; ok {
		delete(cache, itemId)
		f.saveFailCache(cache)
	}
}

// FailCache 当前失败缓存内容
func (f *Fixer) FailCache() map[string]FailEntry {
	return f.loadFailCache()
}

// FixItem 修复单个条目的豆瓣ID，返回是否写入了新ID
func (f *Fixer) FixItem(ctx context.Context, itemId string) (bool, error) {
	item, err := f.emby.GetItem(ctx, itemId, "ProviderIds,ProductionYear,Name")
	if err != nil {
		return false, err
	}
	f.log.Infof("正在处理 %s (ID: %s)", item.Name, itemId)

	if item.DoubanId() != "" {
		f.log.Debugf("跳过，已存在豆瓣ID: %s", item.DoubanId())
		return false, nil
	}

	results, err := f.Search(ctx, item.Name)
	if err != nil {
		f.addToFailCache(item)
		return false, err
	}

	doubanId := matchResult(item.Name, item.ProductionYear, results)
	if doubanId == "" {
		f.addToFailCache(item)
		return false, nil
	}
	f.log.Infof("为 %s 找到匹配，ID: %s", item.Name, doubanId)

	if err := f.applyDoubanId(ctx, itemId, doubanId); err != nil {
		f.addToFailCache(item)
		return false, err
	}
	f.removeFromFailCache(itemId)
	return true, nil
}

// applyDoubanId 将豆瓣ID写回Emby条目的ProviderIds
func (f *Fixer) applyDoubanId(ctx context.Context, itemId, doubanId string) error {
	item, err := f.emby.GetItem(ctx, itemId, "ProviderIds,ProductionYear,Name")
	if err != nil {
		return err
	}
	if item.DoubanId() == doubanId {
		f.log.Infof("媒体 %s 的豆瓣ID已是 %s，无需更新", item.Name, doubanId)
		return nil
	}
	if item.ProviderIds == nil {
		item.ProviderIds = map[string]string{}
	}
	item.ProviderIds["Douban"] = doubanId
	if err := f.emby.UpdateItem(ctx, itemId, item); err != nil {
		return err
	}
	f.log.Infof("更新成功: %s (%d) -> 豆瓣ID %s", item.Name, item.ProductionYear, doubanId)
	return nil
}

// ApplyManualId 人工指定豆瓣ID并从失败缓存移除
func (f *Fixer) ApplyManualId(ctx context.Context, itemId, doubanId string) error {
	if err := f.applyDoubanId(ctx, itemId, doubanId); err != nil {
		return err
	}
	f.removeFromFailCache(itemId)
	return nil
}

// FixResult 批量修复的汇总结果
type FixResult struct {
	FixedCount int `json:"fixed_count"`
}

// FixItemsTask 对给定条目列表执行批量修复，启动时清空旧失败缓存
func (f *Fixer) FixItemsTask(itemIds []string) taskcenter.TaskFunc {
	return func(ctx context.Context, h *taskcenter.Handle) (interface{}, error) {
		f.log.Info("正在清空旧的失败缓存")
		f.saveFailCache(map[string]FailEntry{})

		total := len(itemIds)
		f.log.Infof("任务启动，共需处理 %d 个媒体项", total)
		h.UpdateProgress(0, total)
		if total == 0 {
			return FixResult{}, nil
		}

		fixed := 0
		for i, id := range itemIds {
			if ctx.Err() != nil {
				f.log.Warn("任务被用户取消")
				return FixResult{FixedCount: fixed}, ctx.Err()
			}
			h.UpdateProgress(i+1, total)
			ok, err := f.FixItem(ctx, id)
			if err != nil {
				f.log.Warnf("处理媒体项 %s 失败: %v", id, err)
				continue
			}
			if ok {
				fixed++
			}
		}
		f.log.Infof("任务执行完毕，共成功修复 %d 个项目", fixed)
		return FixResult{FixedCount: fixed}, nil
	}
}
