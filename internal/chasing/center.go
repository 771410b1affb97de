package chasing

import (
	"context"
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"EmbyToolbox/internal/config"
	"EmbyToolbox/internal/emby"
	"EmbyToolbox/internal/episodes"
	"EmbyToolbox/internal/helpers"
	"EmbyToolbox/internal/taskcenter"
	"EmbyToolbox/internal/tmdb"
)

type embyApi interface {
	GetItem(ctx context.Context, itemId, fields string) (*emby.BaseItem, error)
	Episodes(ctx context.Context, seriesId, fields string) ([]emby.BaseItem, error)
}

type tmdbApi interface {
	TvDetails(ctx context.Context, tmdbId string) (*tmdb.TvDetails, error)
	SeasonDetails(ctx context.Context, tmdbId string, season int) (*tmdb.Season, error)
}

// airTimesFunc 取剧集最新一季的精确播出时间，键为 "S<季>E<集>"
type airTimesFunc func(ctx context.Context, tmdbId string) (map[string]string, error)

// refreshFunc 刷新一批分集的元数据
type refreshFunc func(ctx context.Context, episodeIds []string) error

// notifyFunc 发送Telegram通知
type notifyFunc func(text string) error

// Center 追更中心：每日维护工作流和追剧日历通知
type Center struct {
	list     *List
	emby     embyApi
	tmdb     tmdbApi
	airTimes airTimesFunc
	refresh  refreshFunc
	notify   notifyFunc
	cfg      func() config.ChasingCenterConfig
	log      *helpers.Logger
}

func NewCenter(list *List, embyClient embyApi, tmdbClient tmdbApi, airTimes airTimesFunc,
	refresh refreshFunc, notify notifyFunc, cfg func() config.ChasingCenterConfig,
	log *helpers.Logger) *Center {
	return &Center{
		list:     list,
		emby:     embyClient,
		tmdb:     tmdbClient,
		airTimes: airTimes,
		refresh:  refresh,
		notify:   notify,
		cfg:      cfg,
		log:      log.Cat("追更中心"),
	}
}

func (c *Center) List() *List { return c.list }

// WorkflowTask 每日追更维护：逐剧刷新分集元数据，再做完结检测
func (c *Center) WorkflowTask() taskcenter.TaskFunc {
	return func(ctx context.Context, h *taskcenter.Handle) (interface{}, error) {
		items, err := c.list.Load()
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			c.log.Info("追更列表为空，无需执行")
			return map[string]int{"processed_count": 0}, nil
		}
		c.log.Infof("发现 %d 个追更剧集，开始逐一处理", len(items))
		h.UpdateProgress(0, len(items))

		for i, item := range items {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			name := c.seriesName(ctx, item.EmbyId)
			c.log.Infof("正在处理第 %d/%d 个剧集:《%s》", i+1, len(items), name)

			eps, err := c.emby.Episodes(ctx, item.EmbyId, "Id")
			if err != nil {
				c.log.Errorf("获取《%s》的分集列表失败: %v", name, err)
			} else if len(eps) == 0 {
				c.log.Infof("《%s》下暂无分集，跳过刷新", name)
			} else if c.refresh != nil {
				episodeIds := make([]string, 0, len(eps))
				for _, ep := range eps {
					episodeIds = append(episodeIds, ep.Id)
				}
				if err := c.refresh(ctx, episodeIds); err != nil {
					c.log.Errorf("刷新《%s》时发生错误: %v", name, err)
				}
			}

			c.checkComplete(ctx, item, name)
			h.UpdateProgress(i+1, len(items))

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Second):
			}
		}
		c.log.Info("每日追更维护任务执行完毕")
		return map[string]int{"processed_count": len(items)}, nil
	}
}

func (c *Center) seriesName(ctx context.Context, seriesId string) string {
	details, err := c.emby.GetItem(ctx, seriesId, "Name")
	if err != nil || details.Name == "" {
		return "ID " + seriesId
	}
	return details.Name
}

// checkComplete 完结检测。三个维度依次判断：
// 数量完整(Emby集数不少于TMDB总集数)、元数据质量完整、超时容错。
func (c *Center) checkComplete(ctx context.Context, item Item, name string) {
	if item.TmdbId == "" {
		c.log.Warnf("剧集《%s》缺少TMDB ID，无法进行完结检测", name)
		return
	}
	tv, err := c.tmdb.TvDetails(ctx, item.TmdbId)
	if err != nil {
		c.log.Errorf("获取《%s》的TMDB详情失败: %v", name, err)
		return
	}
	eps, err := c.emby.Episodes(ctx, item.EmbyId, "Name,Overview,ImageTags,ProviderIds")
	if err != nil {
		c.log.Errorf("获取《%s》的分集详情失败: %v", name, err)
		return
	}

	if tv.NumberOfEpisodes == 0 {
		c.log.Infof("剧集《%s》在TMDB上的总集数未知，跳过数量完整性检查", name)
		return
	}
	if len(eps) < tv.NumberOfEpisodes {
		c.log.Infof("剧集《%s》尚未完结: Emby中有 %d 集，TMDB显示总共 %d 集",
			name, len(eps), tv.NumberOfEpisodes)
		return
	}

	complete := true
	for i := range eps {
		if !episodeQualityComplete(&eps[i]) {
			complete = false
			break
		}
	}
	if complete {
		if err := c.list.Remove(item.EmbyId, name, "数量与元数据质量均完整"); err != nil {
			c.log.Errorf("移除《%s》失败: %v", name, err)
		}
		return
	}

	// 超时容错：最后一集播出超过宽限期后强制完结
	if tv.LastEpisodeToAir == nil || tv.LastEpisodeToAir.AirDate == "" {
		c.log.Warnf("剧集《%s》元数据不完整，且无法获取TMDB最后一集播出日期，暂时不移除", name)
		return
	}
	lastAir, err := time.Parse("2006-01-02", tv.LastEpisodeToAir.AirDate)
	if err != nil {
		c.log.Warnf("剧集《%s》的最后播出日期 %q 无法解析", name, tv.LastEpisodeToAir.AirDate)
		return
	}
	grace := c.cfg().CompletionGraceDays
	deadline := lastAir.AddDate(0, 0, grace)
	if time.Now().After(deadline) {
		reason := fmt.Sprintf("超出最终播出日期 %d 天，强制完结", grace)
		if err := c.list.Remove(item.EmbyId, name, reason); err != nil {
			c.log.Errorf("移除《%s》失败: %v", name, err)
		}
		return
	}
	daysLeft := int(time.Until(deadline).Hours() / 24)
	c.log.Infof("剧集《%s》元数据不完整，仍在 %d 天的等待期内，本次不移除", name, daysLeft)
}

// episodeQualityComplete 一集的元数据是否齐备：
// 非占位标题、有简介、有官方主图(截图缓存上传的图不算)。
func episodeQualityComplete(ep *emby.BaseItem) bool {
	if ep.Name == "" || episodes.IsGenericEpisodeTitle(ep.Name) {
		return false
	}
	if ep.Overview == "" {
		return false
	}
	if ep.ImageTags["Primary"] == "" {
		return false
	}
	for k, v := range ep.ProviderIds {
		if strings.EqualFold(k, "ToolboxImageSource") && v == "screenshot" {
			return false
		}
	}
	return true
}

// upcomingEpisode 日历里的一条排播
type upcomingEpisode struct {
	SeriesName string
	AirDate    time.Time
	AirTime    string // trakt的精确播出时间，没有为空
	Season     int
	Episode    int
	Name       string
}

// CalendarTask 生成未来N天的追剧日历并发送Telegram通知
func (c *Center) CalendarTask() taskcenter.TaskFunc {
	return func(ctx context.Context, h *taskcenter.Handle) (interface{}, error) {
		items, err := c.list.Load()
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			c.log.Info("追更列表为空，无需发送通知")
			return map[string]int{"episode_count": 0}, nil
		}

		days := c.cfg().CalendarDays
		if days <= 0 {
			days = 7
		}
		today := time.Now().Truncate(24 * time.Hour)
		end := today.AddDate(0, 0, days)

		var upcoming []upcomingEpisode
		h.UpdateProgress(0, len(items))
		for i, item := range items {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			upcoming = append(upcoming, c.collectUpcoming(ctx, item, today, end)...)
			h.UpdateProgress(i+1, len(items))
		}

		if len(upcoming) == 0 {
			c.log.Infof("检测到未来 %d 天内无更新，跳过本次通知", days)
			return map[string]int{"episode_count": 0}, nil
		}

		sort.Slice(upcoming, func(i, j int) bool {
			if !upcoming[i].AirDate.Equal(upcoming[j].AirDate) {
				return upcoming[i].AirDate.Before(upcoming[j].AirDate)
			}
			return upcoming[i].SeriesName < upcoming[j].SeriesName
		})

		message := buildCalendarMessage(upcoming, days, today)
		if c.notify == nil {
			return nil, fmt.Errorf("未配置Telegram通知")
		}
		if err := c.notify(message); err != nil {
			return nil, fmt.Errorf("发送Telegram通知失败: %w", err)
		}
		c.log.Infof("追剧日历已发送，共 %d 条排播", len(upcoming))
		return map[string]int{"episode_count": len(upcoming)}, nil
	}
}

// collectUpcoming 收集单个剧集在时间窗内的排播。
// trakt可用时用其精确播出时间标注。
func (c *Center) collectUpcoming(ctx context.Context, item Item, today, end time.Time) []upcomingEpisode {
	if item.TmdbId == "" {
		return nil
	}
	tv, err := c.tmdb.TvDetails(ctx, item.TmdbId)
	if err != nil {
		c.log.Errorf("获取剧集 %s 的播出信息时出错: %v", item.EmbyId, err)
		return nil
	}

	var airTimes map[string]string
	if c.airTimes != nil {
		if airTimes, err = c.airTimes(ctx, item.TmdbId); err != nil {
			c.log.Debugf("获取《%s》的精确播出时间失败: %v", tv.Name, err)
		}
	}

	var result []upcomingEpisode
	for _, season := range tv.Seasons {
		if season.SeasonNumber <= 0 {
			continue
		}
		details, err := c.tmdb.SeasonDetails(ctx, item.TmdbId, season.SeasonNumber)
		if err != nil || details == nil {
			continue
		}
		for _, ep := range details.Episodes {
			if ep.AirDate == "" {
				continue
			}
			airDate, err := time.Parse("2006-01-02", ep.AirDate)
			if err != nil {
				continue
			}
			if airDate.Before(today) || !airDate.Before(end) {
				continue
			}
			airTime := ""
			if precise, ok := airTimes[fmt.Sprintf("S%dE%d", ep.SeasonNumber, ep.EpisodeNumber)]; ok {
				if t, err := time.Parse(time.RFC3339, precise); err == nil {
					airTime = t.Local().Format("15:04")
				}
			}
			result = append(result, upcomingEpisode{
				SeriesName: tv.Name,
				AirDate:    airDate,
				AirTime:    airTime,
				Season:     ep.SeasonNumber,
				Episode:    ep.EpisodeNumber,
				Name:       ep.Name,
			})
		}
	}
	return result
}

var weekdayNames = []string{"周日", "周一", "周二", "周三", "周四", "周五", "周六"}

func buildCalendarMessage(upcoming []upcomingEpisode, days int, today time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📅 <b>Emby 追剧日历 (未来 %d 天)</b>\n", days)

	var lastDate time.Time
	for _, ep := range upcoming {
		if !ep.AirDate.Equal(lastDate) {
			lastDate = ep.AirDate
			relative := ""
			switch {
			case ep.AirDate.Equal(today):
				relative = " (今天)"
			case ep.AirDate.Equal(today.AddDate(0, 0, 1)):
				relative = " (明天)"
			}
			fmt.Fprintf(&b, "\n<b>%s %s%s</b>\n",
				ep.AirDate.Format("2006-01-02"), weekdayNames[ep.AirDate.Weekday()], relative)
		}
		name := ep.Name
		if name == "" {
			name = fmt.Sprintf("第 %d 集", ep.Episode)
		}
		line := fmt.Sprintf("- <b>[%s]</b> S%02dE%02d - %s",
			html.EscapeString(ep.SeriesName), ep.Season, ep.Episode, html.EscapeString(name))
		if ep.AirTime != "" {
			line += " " + ep.AirTime
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}
