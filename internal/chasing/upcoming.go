package chasing

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"EmbyToolbox/internal/helpers"
	"EmbyToolbox/internal/taskcenter"
	"EmbyToolbox/internal/tmdb"
)

const upcomingFileName = "upcoming_subscriptions.json"

// Subscription 订阅数据库里的一个条目，按TMDB ID索引
type Subscription struct {
	TmdbId       string  `json:"tmdb_id"`
	MediaType    string  `json:"media_type"` // movie | tv
	Title        string  `json:"title"`
	Overview     string  `json:"overview,omitempty"`
	PosterPath   string  `json:"poster_path,omitempty"`
	ReleaseDate  string  `json:"release_date"`
	Popularity   float64 `json:"popularity,omitempty"`
	IsSubscribed bool    `json:"is_subscribed"`
	IsPermanent  bool    `json:"is_permanent"`
	IsIgnored    bool    `json:"is_ignored"`
	SubscribedAt string  `json:"subscribed_at,omitempty"`
}

type upcomingTmdbApi interface {
	MovieDetails(ctx context.Context, tmdbId string) (*tmdb.MovieDetails, error)
	TvDetails(ctx context.Context, tmdbId string) (*tmdb.TvDetails, error)
}

// Upcoming 即将上映订阅管理，upcoming_subscriptions.json 的读写入口
type Upcoming struct {
	tmdb   upcomingTmdbApi
	notify notifyFunc
	file   string
	log    *helpers.Logger
}

func NewUpcoming(tmdbClient upcomingTmdbApi, notify notifyFunc, dataDir string, log *helpers.Logger) *Upcoming {
	return &Upcoming{
		tmdb:   tmdbClient,
		notify: notify,
		file:   filepath.Join(dataDir, upcomingFileName),
		log:    log.Cat("即将上映"),
	}
}

func (u *Upcoming) load() (map[string]Subscription, error) {
	subs := map[string]Subscription{}
	if !helpers.PathExists(u.file) {
		return subs, nil
	}
	if err := helpers.ReadJSONFile(u.file, &subs); err != nil {
		return nil, fmt.Errorf("读取订阅数据库失败: %w", err)
	}
	return subs, nil
}

// mutate 在文件锁内执行一次读-改-写
func (u *Upcoming) mutate(fn func(subs map[string]Subscription) error) error {
	return helpers.WithFileLock(u.file, lockTimeout, func() error {
		subs, err := u.load()
		if err != nil {
			return err
		}
		if err := fn(subs); err != nil {
			return err
		}
		return helpers.WriteJSONAtomic(u.file, subs)
	})
}

// All 返回对外可见的条目：未忽略，且未上映或被永久收藏。
// 按上映日期升序、热度降序排列。
func (u *Upcoming) All() ([]Subscription, error) {
	var subs map[string]Subscription
	err := helpers.WithFileLock(u.file, lockTimeout, func() (e error) {
		subs, e = u.load()
		return
	})
	if err != nil {
		return nil, err
	}
	today := time.Now().Format("2006-01-02")
	var out []Subscription
	for _, sub := range subs {
		if sub.IsIgnored {
			continue
		}
		if sub.IsPermanent || sub.ReleaseDate >= today {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ReleaseDate != out[j].ReleaseDate {
			return out[i].ReleaseDate < out[j].ReleaseDate
		}
		return out[i].Popularity > out[j].Popularity
	})
	return out, nil
}

// AddItem 按TMDB ID拉取详情并加入订阅数据库。
// 已存在的条目只更新永久收藏标记。
func (u *Upcoming) AddItem(ctx context.Context, tmdbId, mediaType string) (*Subscription, error) {
	sub := Subscription{TmdbId: tmdbId, MediaType: mediaType, IsPermanent: true}
	switch mediaType {
	case "movie":
		details, err := u.tmdb.MovieDetails(ctx, tmdbId)
		if err != nil {
			return nil, err
		}
		sub.Title = details.Title
		sub.Overview = details.Overview
		sub.PosterPath = details.PosterPath
		sub.ReleaseDate = details.ReleaseDate
	case "tv":
		details, err := u.tmdb.TvDetails(ctx, tmdbId)
		if err != nil {
			return nil, err
		}
		sub.Title = details.Name
		sub.Overview = details.Overview
		sub.PosterPath = details.PosterPath
		sub.ReleaseDate = details.FirstAirDate
	default:
		return nil, fmt.Errorf("未知的媒体类型 %q", mediaType)
	}
	if sub.PosterPath == "" {
		return nil, fmt.Errorf("媒体《%s》因缺少海报图而无法添加", sub.Title)
	}

	err := u.mutate(func(subs map[string]Subscription) error {
		if existing, ok := subs[tmdbId]; ok {
			existing.IsPermanent = true
			subs[tmdbId] = existing
			sub = existing
			u.log.Infof("数据库中已存在《%s》，将直接将其设置为永久收藏", sub.Title)
			return nil
		}
		subs[tmdbId] = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	u.log.Infof("成功将《%s》添加到订阅数据库", sub.Title)
	return &sub, nil
}

// Subscribe 订阅或取消订阅
func (u *Upcoming) Subscribe(tmdbId string, subscribe bool) error {
	return u.mutate(func(subs map[string]Subscription) error {
		sub, ok := subs[tmdbId]
		if !ok {
			return fmt.Errorf("数据库中未找到TMDB ID为 %s 的项目", tmdbId)
		}
		sub.IsSubscribed = subscribe
		if subscribe {
			sub.SubscribedAt = time.Now().UTC().Format(time.RFC3339)
		} else {
			sub.SubscribedAt = ""
		}
		subs[tmdbId] = sub
		if subscribe {
			u.log.Infof("成功订阅《%s》", sub.Title)
		} else {
			u.log.Infof("已取消订阅《%s》", sub.Title)
		}
		return nil
	})
}

// SetPermanent 设置或取消永久收藏
func (u *Upcoming) SetPermanent(tmdbId string, permanent bool) error {
	return u.mutate(func(subs map[string]Subscription) error {
		sub, ok := subs[tmdbId]
		if !ok {
			return fmt.Errorf("数据库中未找到TMDB ID为 %s 的项目", tmdbId)
		}
		sub.IsPermanent = permanent
		subs[tmdbId] = sub
		return nil
	})
}

// Ignore 标记为不感兴趣，之后不再展示
func (u *Upcoming) Ignore(tmdbId string) error {
	return u.mutate(func(subs map[string]Subscription) error {
		sub, ok := subs[tmdbId]
		if !ok {
			return fmt.Errorf("数据库中未找到TMDB ID为 %s 的项目", tmdbId)
		}
		sub.IsIgnored = true
		subs[tmdbId] = sub
		u.log.Infof("已将《%s》标记为不感兴趣", sub.Title)
		return nil
	})
}

// CheckTask 定时检查：先清理已上映的过期条目(永久收藏豁免)，
// 再为未来3天内上映的订阅项目发送Telegram提醒。
func (u *Upcoming) CheckTask() taskcenter.TaskFunc {
	return func(ctx context.Context, h *taskcenter.Handle) (interface{}, error) {
		pruned := 0
		err := u.mutate(func(subs map[string]Subscription) error {
			today := time.Now().Format("2006-01-02")
			for id, sub := range subs {
				if sub.ReleaseDate != "" && sub.ReleaseDate < today && !sub.IsPermanent {
					delete(subs, id)
					pruned++
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		if pruned > 0 {
			u.log.Infof("清理完成，共移除 %d 个已上映的过期项目", pruned)
		}

		subs, err := u.All()
		if err != nil {
			return nil, err
		}
		message, notified := buildUpcomingMessage(subs, time.Now())
		if notified == 0 {
			u.log.Info("检查完毕，未来3天内没有即将上映的订阅项目")
			return map[string]int{"notified_count": 0, "pruned_count": pruned}, nil
		}
		if u.notify == nil {
			return nil, fmt.Errorf("未配置Telegram通知")
		}
		if err := u.notify(message); err != nil {
			return nil, fmt.Errorf("发送订阅通知失败: %w", err)
		}
		u.log.Infof("成功发送订阅通知，共 %d 个项目", notified)
		return map[string]int{"notified_count": notified, "pruned_count": pruned}, nil
	}
}

var upcomingDayNames = map[int]string{
	0: "今日首映",
	1: "明日上映",
	2: "后天上映",
	3: "3天后上映",
}

// buildUpcomingMessage 把3天内上映的订阅项目按天分组成通知文本
func buildUpcomingMessage(subs []Subscription, now time.Time) (string, int) {
	today := now.Truncate(24 * time.Hour)
	grouped := map[int][]Subscription{}
	notified := 0
	for _, sub := range subs {
		if !sub.IsSubscribed || sub.ReleaseDate == "" {
			continue
		}
		release, err := time.Parse("2006-01-02", sub.ReleaseDate)
		if err != nil {
			continue
		}
		delta := int(release.Sub(today).Hours() / 24)
		if delta < 0 || delta > 3 {
			continue
		}
		grouped[delta] = append(grouped[delta], sub)
		notified++
	}
	if notified == 0 {
		return "", 0
	}

	var parts []string
	parts = append(parts, "🔔 <b>订阅日历提醒</b>")
	for day := 0; day <= 3; day++ {
		items := grouped[day]
		if len(items) == 0 {
			continue
		}
		sort.Slice(items, func(i, j int) bool { return items[i].Popularity > items[j].Popularity })
		date := today.AddDate(0, 0, day).Format("2006-01-02")
		var lines []string
		lines = append(lines, fmt.Sprintf("🎉 <b>%s</b> (%s)", upcomingDayNames[day], date))
		for _, sub := range items {
			year := ""
			if len(sub.ReleaseDate) >= 4 {
				year = " (" + sub.ReleaseDate[:4] + ")"
			}
			lines = append(lines, fmt.Sprintf("《%s》%s", sub.Title, year))
		}
		parts = append(parts, strings.Join(lines, "\n"))
	}
	return strings.Join(parts, "\n\n"), notified
}
