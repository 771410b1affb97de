package episodes

import (
	"context"
	"errors"
	"os"

	"EmbyToolbox/internal/config"
	"EmbyToolbox/internal/emby"
	"EmbyToolbox/internal/githubstore"
	"EmbyToolbox/internal/helpers"
	"EmbyToolbox/internal/taskcenter"
	"EmbyToolbox/internal/tmdb"
)

const episodeFields = "SeriesId,SeriesName,Name,Overview,ImageTags,IndexNumber,ParentIndexNumber,ProviderIds"

// refresherEmbyApi 刷新器需要的Emby操作子集
type refresherEmbyApi interface {
	GetItem(ctx context.Context, itemId, fields string) (*emby.BaseItem, error)
	Episodes(ctx context.Context, seriesId, fields string) ([]emby.BaseItem, error)
	UpdateItem(ctx context.Context, itemId string, item *emby.BaseItem) error
	RefreshItem(ctx context.Context, itemId string, replaceAllMetadata, replaceAllImages bool) error
	UploadImage(ctx context.Context, itemId, imageType string, data []byte, contentType string) error
}

type tmdbApi interface {
	EpisodeDetails(ctx context.Context, tmdbId string, season, episode int) (*tmdb.Episode, error)
}

// indexFunc 取聚合索引（远程截图缓存定位用）
type indexFunc func(ctx context.Context, force bool) (map[string]githubstore.ImageEntry, error)

// downloadFunc 按索引条目下载远程文件
type downloadFunc func(ctx context.Context, entry githubstore.ImageEntry) ([]byte, error)

// imageFetcher 下载外部图片，返回数据和Content-Type
type imageFetcher func(ctx context.Context, url string) ([]byte, string, error)

// RefreshResult 刷新任务的汇总
type RefreshResult struct {
	RefreshedCount int `json:"refreshed_count"`
	SkippedCount   int `json:"skipped_count"`
}

// Refresher 分集元数据刷新器。emby模式只触发服务端刷新，
// toolbox模式直接从TMDB取中文元数据写回，并按配置回填截图。
type Refresher struct {
	emby       refresherEmbyApi
	tmdb       tmdbApi
	index      indexFunc
	download   downloadFunc
	fetchImage imageFetcher
	cfg        func() config.EpisodeRefresherConfig
	dataDir    string
	log        *helpers.Logger
}

func NewRefresher(embyClient refresherEmbyApi, tmdbClient tmdbApi, index indexFunc, download downloadFunc,
	fetchImage imageFetcher, cfg func() config.EpisodeRefresherConfig, dataDir string, log *helpers.Logger) *Refresher {
	return &Refresher{
		emby:       embyClient,
		tmdb:       tmdbClient,
		index:      index,
		download:   download,
		fetchImage: fetchImage,
		cfg:        cfg,
		dataDir:    dataDir,
		log:        log.Cat("分集刷新"),
	}
}

// RefreshSeriesTask 先把剧集展开成分集再刷新
func (r *Refresher) RefreshSeriesTask(seriesIds []string) taskcenter.TaskFunc {
	return func(ctx context.Context, h *taskcenter.Handle) (interface{}, error) {
		var episodeIds []string
		for _, seriesId := range seriesIds {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			eps, err := r.emby.Episodes(ctx, seriesId, "Id")
			if err != nil {
				r.log.Errorf("获取剧集 %s 的分集列表失败: %v", seriesId, err)
				continue
			}
			for _, ep := range eps {
				episodeIds = append(episodeIds, ep.Id)
			}
		}
		r.log.Infof("共 %d 部剧集，展开为 %d 个分集", len(seriesIds), len(episodeIds))
		return r.refreshEpisodes(ctx, h, episodeIds)
	}
}

// RefreshEpisodesTask 刷新指定的分集
func (r *Refresher) RefreshEpisodesTask(episodeIds []string) taskcenter.TaskFunc {
	return func(ctx context.Context, h *taskcenter.Handle) (interface{}, error) {
		return r.refreshEpisodes(ctx, h, episodeIds)
	}
}

func (r *Refresher) refreshEpisodes(ctx context.Context, h *taskcenter.Handle, episodeIds []string) (interface{}, error) {
	cfg := r.cfg()
	if cfg.RefreshMode == "toolbox" {
		return r.refreshToolbox(ctx, h, episodeIds, cfg)
	}
	return r.refreshEmby(ctx, h, episodeIds, cfg)
}

// episodeComplete 标题、简介、主图齐全视为完整
func episodeComplete(item *emby.BaseItem) bool {
	return item.Name != "" && item.Overview != "" && item.ImageTags["Primary"] != ""
}

// refreshEmby 通过Emby自身的刷新接口逐集触发FullRefresh
func (r *Refresher) refreshEmby(ctx context.Context, h *taskcenter.Handle, episodeIds []string, cfg config.EpisodeRefresherConfig) (interface{}, error) {
	total := len(episodeIds)
	r.log.Infof("任务启动(emby模式)，共 %d 个分集，覆盖元数据: %v", total, cfg.OverwriteMetadata)
	h.UpdateProgress(0, total)

	result := RefreshResult{}
	for i, id := range episodeIds {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		h.UpdateProgress(i+1, total)

		if cfg.SkipIfComplete {
			item, err := r.emby.GetItem(ctx, id, "SeriesName,Name,Overview,ImageTags,IndexNumber")
			if err == nil && episodeComplete(item) {
				r.log.Debugf("分集《%s》元数据完整，跳过", item.Name)
				result.SkippedCount++
				continue
			}
		}
		if err := r.emby.RefreshItem(ctx, id, cfg.OverwriteMetadata, true); err != nil {
			r.log.Errorf("触发分集 %s 刷新失败: %v", id, err)
			continue
		}
		result.RefreshedCount++
		// 给Emby的刷新队列留出间隔
		sleepCooldown(ctx, 0.2)
	}
	r.log.Infof("任务完成: 刷新 %d, 跳过 %d", result.RefreshedCount, result.SkippedCount)
	return result, nil
}

// refreshToolbox 不经过Emby刮削，直接用TMDB数据写回分集
func (r *Refresher) refreshToolbox(ctx context.Context, h *taskcenter.Handle, episodeIds []string, cfg config.EpisodeRefresherConfig) (interface{}, error) {
	total := len(episodeIds)
	r.log.Infof("任务启动(toolbox模式)，共 %d 个分集，截图缓存: %s", total, cfg.ScreenshotCacheMode)
	h.UpdateProgress(0, total)

	// 剧集TMDB ID查询缓存，同一部剧只查一次
	seriesTmdb := map[string]string{}
	var remote map[string]githubstore.ImageEntry
	if cfg.ScreenshotCacheMode == "remote" && r.index != nil {
		idx, err := r.index(ctx, false)
		if err != nil {
			r.log.Warnf("获取远程截图索引失败，截图将回退TMDB剧照: %v", err)
		} else {
			remote = idx
		}
	}

	result := RefreshResult{}
	for i, id := range episodeIds {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		h.UpdateProgress(i+1, total)

		item, err := r.emby.GetItem(ctx, id, episodeFields)
		if err != nil {
			r.log.Errorf("获取分集 %s 详情失败: %v", id, err)
			continue
		}
		if item.IndexNumber == nil || item.ParentIndexNumber == nil || item.SeriesId == "" {
			r.log.Debugf("分集 %s 缺少季/集编号，跳过", id)
			result.SkippedCount++
			continue
		}
		if cfg.SkipIfComplete && episodeComplete(item) {
			result.SkippedCount++
			continue
		}

		tmdbId, ok := seriesTmdb[item.SeriesId]
		if !ok {
			series, err := r.emby.GetItem(ctx, item.SeriesId, "ProviderIds,Name")
			if err != nil {
				r.log.Errorf("获取剧集 %s 详情失败: %v", item.SeriesId, err)
				continue
			}
			tmdbId = series.TmdbId()
			seriesTmdb[item.SeriesId] = tmdbId
			if tmdbId == "" {
				r.log.Warnf("剧集《%s》缺少TMDB ID，其分集无法刷新", series.Name)
			}
		}
		if tmdbId == "" {
			result.SkippedCount++
			continue
		}

		if r.refreshOne(ctx, item, tmdbId, remote, cfg) {
			result.RefreshedCount++
		} else {
			result.SkippedCount++
		}
		sleepCooldown(ctx, 0.2)
	}
	r.log.Infof("任务完成: 刷新 %d, 跳过 %d", result.RefreshedCount, result.SkippedCount)
	return result, nil
}

// refreshOne 刷新单个分集，返回是否发生了任何写入
func (r *Refresher) refreshOne(ctx context.Context, item *emby.BaseItem, seriesTmdbId string,
	remote map[string]githubstore.ImageEntry, cfg config.EpisodeRefresherConfig) bool {
	season := *item.ParentIndexNumber
	episode := *item.IndexNumber

	details, err := r.tmdb.EpisodeDetails(ctx, seriesTmdbId, season, episode)
	if err != nil {
		if errors.Is(err, tmdb.ErrNotFound) {
			r.log.Debugf("TMDB无 S%02dE%02d 的数据 (剧集TMDB ID %s)", season, episode, seriesTmdbId)
		} else {
			r.log.Errorf("查询TMDB分集数据失败: %v", err)
		}
		return false
	}

	changed := false
	if details.Name != "" && details.Name != item.Name &&
		(cfg.OverwriteMetadata || item.Name == "" || IsGenericEpisodeTitle(item.Name)) {
		r.log.Infof("S%02dE%02d 标题更新: '%s' -> '%s'", season, episode, item.Name, details.Name)
		item.Name = details.Name
		changed = true
	}
	if details.Overview != "" && details.Overview != item.Overview &&
		(cfg.OverwriteMetadata || item.Overview == "") {
		item.Overview = details.Overview
		changed = true
	}

	if item.ImageTags["Primary"] == "" || cfg.ForceOverwriteScreenshots {
		if r.applyImage(ctx, item, seriesTmdbId, season, episode, details, remote, cfg) {
			changed = true
		}
	}

	if changed {
		if err := r.emby.UpdateItem(ctx, item.Id, item); err != nil {
			r.log.Errorf("写回分集 S%02dE%02d 失败: %v", season, episode, err)
			return false
		}
	}
	return changed
}

// applyImage 按截图缓存模式取图并上传为主图。
// 截图缓存命中时写入ToolboxImageSource哨兵，缓存未命中回退TMDB剧照。
func (r *Refresher) applyImage(ctx context.Context, item *emby.BaseItem, tmdbId string, season, episode int,
	details *tmdb.Episode, remote map[string]githubstore.ImageEntry, cfg config.EpisodeRefresherConfig) bool {
	data, fromScreenshot := r.episodeImage(ctx, tmdbId, season, episode, details, remote, cfg)
	if len(data) == 0 {
		return false
	}
	if cfg.CropWidescreenTo169 {
		cropped, err := CropTo169(data)
		if err != nil {
			r.log.Warnf("S%02dE%02d 截图裁剪失败，使用原图: %v", season, episode, err)
		} else {
			data = cropped
		}
	}
	if err := r.emby.UploadImage(ctx, item.Id, "Primary", data, "image/jpeg"); err != nil {
		r.log.Errorf("上传 S%02dE%02d 主图失败: %v", season, episode, err)
		return false
	}
	if fromScreenshot {
		if item.ProviderIds == nil {
			item.ProviderIds = map[string]string{}
		}
		item.ProviderIds["ToolboxImageSource"] = "screenshot"
		return true
	}
	return false
}

// episodeImage 依次尝试本地截图缓存、远程截图仓库、TMDB剧照。
// 第二个返回值表示数据是否来自截图缓存。
func (r *Refresher) episodeImage(ctx context.Context, tmdbId string, season, episode int,
	details *tmdb.Episode, remote map[string]githubstore.ImageEntry, cfg config.EpisodeRefresherConfig) ([]byte, bool) {
	switch cfg.ScreenshotCacheMode {
	case "local":
		path := localScreenshotPath(r.dataDir, tmdbId, season, episode)
		if data, err := os.ReadFile(path); err == nil {
			r.log.Debugf("S%02dE%02d 命中本地截图缓存", season, episode)
			return data, true
		}
	case "remote":
		entry, ok := remote[ScreenshotKey(tmdbId, season, episode)]
		if ok && r.download != nil {
			sleepCooldown(ctx, cfg.Github.DownloadCooldown)
			data, err := r.download(ctx, entry)
			if err == nil {
				r.log.Debugf("S%02dE%02d 命中远程截图仓库", season, episode)
				return data, true
			}
			r.log.Warnf("下载远程截图失败: %v", err)
		}
	}
	if details.StillPath != "" && r.fetchImage != nil {
		data, _, err := r.fetchImage(ctx, tmdb.ImageURL(details.StillPath, "original"))
		if err == nil {
			return data, false
		}
		r.log.Warnf("下载TMDB剧照失败: %v", err)
	}
	return nil, false
}
