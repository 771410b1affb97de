package trakt

import (
	"context"
	"fmt"
	"sort"
	"time"

	"resty.dev/v3"

	"EmbyToolbox/internal/config"
	"EmbyToolbox/internal/helpers"
)

const apiBaseURL = "https://api.trakt.tv"

type showIds struct {
	Trakt int64  `json:"trakt"`
	Slug  string `json:"slug"`
	Tmdb  int64  `json:"tmdb"`
}

type show struct {
	Title string  `json:"title"`
	Ids   showIds `json:"ids"`
}

type searchResult struct {
	Show show `json:"show"`
}

type seasonSummary struct {
	Number int `json:"number"`
}

type episodeDetail struct {
	Number     int    `json:"number"`
	Title      string `json:"title"`
	FirstAired string `json:"first_aired"`
}

// Client Trakt API客户端，追更中心用它取精确到分钟的播出时间
type Client struct {
	http    *resty.Client
	cfg     config.TraktConfig
	log     *helpers.Logger
}

func NewClient(cfg config.TraktConfig, proxyURL string, log *helpers.Logger) *Client {
	client := resty.New().
		SetBaseURL(apiBaseURL).
		SetTimeout(20 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("trakt-api-version", "2").
		SetHeader("trakt-api-key", cfg.ClientId)
	if proxyURL != "" {
		client.SetProxy(proxyURL)
	}
	return &Client{http: client, cfg: cfg, log: log.Cat("Trakt")}
}

func (c *Client) Enabled() bool {
	return c.cfg.Enabled && c.cfg.ClientId != ""
}

func (c *Client) Close() {
	c.http.Close()
}

func (c *Client) get(ctx context.Context, endpoint string, params map[string]string, out interface{}) error {
	req := c.http.R().SetContext(ctx).SetForceResponseContentType("application/json")
	if params != nil {
		req.SetQueryParams(params)
	}
	if out != nil {
		req.SetResult(out)
	}
	res, err := req.Get(endpoint)
	if err != nil {
		return fmt.Errorf("请求Trakt %s 失败: %w", endpoint, err)
	}
	if res.IsError() {
		return fmt.Errorf("Trakt %s 返回状态码 %d", endpoint, res.StatusCode())
	}
	return nil
}

// lookupShow 通过TMDB ID查Trakt内部ID
func (c *Client) lookupShow(ctx context.Context, tmdbId string) (*show, error) {
	var results []searchResult
	err := c.get(ctx, "/search/tmdb/"+tmdbId, map[string]string{"type": "show"}, &results)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("trakt中未找到TMDB ID为 %s 的剧集", tmdbId)
	}
	s := results[0].Show
	if s.Ids.Trakt == 0 {
		return nil, fmt.Errorf("剧集《%s》缺少Trakt内部ID", s.Title)
	}
	return &s, nil
}

// LatestSeasonAirTimes 获取剧集最新一季各分集的精确播出时间。
// 返回 "S<季>E<集>" 到 ISO 时间的映射。未启用时返回nil。
func (c *Client) LatestSeasonAirTimes(ctx context.Context, tmdbId string) (map[string]string, error) {
	if !c.Enabled() {
		return nil, nil
	}
	s, err := c.lookupShow(ctx, tmdbId)
	if err != nil {
		return nil, err
	}

	var seasons []seasonSummary
	if err := c.get(ctx, fmt.Sprintf("/shows/%d/seasons", s.Ids.Trakt), nil, &seasons); err != nil {
		return nil, err
	}
	// 特辑(第0季)不算
	var numbers []int
	for _, season := range seasons {
		if season.Number > 0 {
			numbers = append(numbers, season.Number)
		}
	}
	if len(numbers) == 0 {
		return nil, fmt.Errorf("剧集《%s》没有有效的季", s.Title)
	}
	sort.Ints(numbers)
	latest := numbers[len(numbers)-1]

	var episodes []episodeDetail
	endpoint := fmt.Sprintf("/shows/%d/seasons/%d", s.Ids.Trakt, latest)
	if err := c.get(ctx, endpoint, map[string]string{"extended": "full"}, &episodes); err != nil {
		return nil, err
	}

	airTimes := map[string]string{}
	for _, ep := range episodes {
		if ep.FirstAired != "" {
			airTimes[fmt.Sprintf("S%dE%d", latest, ep.Number)] = ep.FirstAired
		}
	}
	c.log.Infof("已为《%s》第 %d 季获取 %d 条精确播出时间", s.Title, latest, len(airTimes))
	return airTimes, nil
}
