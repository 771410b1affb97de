package tmdb

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"resty.dev/v3"

	"EmbyToolbox/internal/config"
	"EmbyToolbox/internal/helpers"
)

const (
	defaultBaseURL = "https://api.themoviedb.org/3"
	cacheDuration  = time.Hour
)

// Episode TMDB分集信息
type Episode struct {
	Id            int64   `json:"id"`
	Name          string  `json:"name"`
	Overview      string  `json:"overview"`
	AirDate       string  `json:"air_date"`
	EpisodeNumber int     `json:"episode_number"`
	SeasonNumber  int     `json:"season_number"`
	StillPath     string  `json:"still_path"`
	VoteAverage   float64 `json:"vote_average"`
	Runtime       int     `json:"runtime"`
}

type Season struct {
	Id           int64     `json:"id"`
	Name         string    `json:"name"`
	AirDate      string    `json:"air_date"`
	SeasonNumber int       `json:"season_number"`
	EpisodeCount int       `json:"episode_count"`
	PosterPath   string    `json:"poster_path"`
	Episodes     []Episode `json:"episodes"`
}

// TvDetails 剧集详情，追更中心据此判断是否完结
type TvDetails struct {
	Id               int64    `json:"id"`
	Name             string   `json:"name"`
	OriginalName     string   `json:"original_name"`
	Overview         string   `json:"overview"`
	Status           string   `json:"status"` // Returning Series | Ended | Canceled
	InProduction     bool     `json:"in_production"`
	FirstAirDate     string   `json:"first_air_date"`
	LastAirDate      string   `json:"last_air_date"`
	NumberOfSeasons  int      `json:"number_of_seasons"`
	NumberOfEpisodes int      `json:"number_of_episodes"`
	PosterPath       string   `json:"poster_path"`
	OriginalLanguage string   `json:"original_language"`
	OriginCountry    []string `json:"origin_country"`
	Seasons          []Season `json:"seasons"`
	NextEpisodeToAir *Episode `json:"next_episode_to_air"`
	LastEpisodeToAir *Episode `json:"last_episode_to_air"`
}

type MovieDetails struct {
	Id               int64  `json:"id"`
	Title            string `json:"title"`
	OriginalTitle    string `json:"original_title"`
	Overview         string `json:"overview"`
	Status           string `json:"status"`
	ReleaseDate      string `json:"release_date"`
	PosterPath       string `json:"poster_path"`
	Runtime          int    `json:"runtime"`
	OriginalLanguage string `json:"original_language"`
}

type SearchItem struct {
	Id           int64  `json:"id"`
	Title        string `json:"title"`
	Name         string `json:"name"`
	ReleaseDate  string `json:"release_date"`
	FirstAirDate string `json:"first_air_date"`
	PosterPath   string `json:"poster_path"`
}

// DisplayTitle 电影用title、剧集用name
func (s SearchItem) DisplayTitle() string {
	if s.Title != "" {
		return s.Title
	}
	return s.Name
}

type searchResponse struct {
	Results []SearchItem `json:"results"`
}

type cacheItem struct {
	data     []byte
	cachedAt time.Time
}

// Client TMDB API客户端，请求结果内存缓存1小时。
// 支持自定义API域名（反代场景）。
type Client struct {
	http    *resty.Client
	apiKey  string
	baseURL string
	mu      sync.Mutex
	cache   map[string]cacheItem
	log     *helpers.Logger
}

func NewClient(cfg config.TmdbConfig, proxyURL string, log *helpers.Logger) (*Client, error) {
	if cfg.ApiKey == "" {
		return nil, fmt.Errorf("TMDB API Key 未配置")
	}
	baseURL := defaultBaseURL
	if cfg.CustomApiDomainEnabled && cfg.CustomApiDomain != "" {
		baseURL = strings.TrimRight(cfg.CustomApiDomain, "/") + "/3"
		log.Infof("TMDB使用自定义API域名: %s", baseURL)
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(20 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(time.Second)
	if proxyURL != "" {
		client.SetProxy(proxyURL)
	}
	return &Client{
		http:    client,
		apiKey:  cfg.ApiKey,
		baseURL: baseURL,
		cache:   map[string]cacheItem{},
		log:     log.Cat("TMDB"),
	}, nil
}

func (c *Client) Close() {
	c.http.Close()
}

func (c *Client) cacheGet(key string) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.cache[key]
	if !ok || time.Since(item.cachedAt) >= cacheDuration {
		return nil
	}
	return item.data
}

func (c *Client) cacheSet(key string, data []byte) {
	c.mu.Lock()
	c.cache[key] = cacheItem{data: data, cachedAt: time.Now()}
	c.mu.Unlock()
}

// get 带缓存的GET请求，结果反序列化到out
func (c *Client) get(ctx context.Context, endpoint string, params map[string]string, out interface{}) error {
	key := endpoint + "?" + fmt.Sprint(params)
	if data := c.cacheGet(key); data != nil {
		return unmarshalCached(data, out)
	}
	req := c.http.R().
		SetContext(ctx).
		SetQueryParam("api_key", c.apiKey).
		SetQueryParam("language", "zh-CN").
		SetQueryParams(params)
	res, err := req.Get(endpoint)
	if err != nil {
		return fmt.Errorf("请求TMDB %s 失败: %w", endpoint, err)
	}
	if res.StatusCode() == 404 {
		return ErrNotFound
	}
	if res.IsError() {
		return fmt.Errorf("TMDB %s 返回状态码 %d", endpoint, res.StatusCode())
	}
	body := res.Bytes()
	if err := unmarshalCached(body, out); err != nil {
		return fmt.Errorf("解析TMDB %s 响应失败: %w", endpoint, err)
	}
	c.cacheSet(key, body)
	return nil
}

// TvDetails 获取剧集详情
func (c *Client) TvDetails(ctx context.Context, tmdbId string) (*TvDetails, error) {
	var details TvDetails
	if err := c.get(ctx, "tv/"+tmdbId, nil, &details); err != nil {
		return nil, err
	}
	return &details, nil
}

// MovieDetails 获取电影详情
func (c *Client) MovieDetails(ctx context.Context, tmdbId string) (*MovieDetails, error) {
	var details MovieDetails
	if err := c.get(ctx, "movie/"+tmdbId, nil, &details); err != nil {
		return nil, err
	}
	return &details, nil
}

// SeasonDetails 整季详情，含全部分集列表
func (c *Client) SeasonDetails(ctx context.Context, tmdbId string, season int) (*Season, error) {
	var details Season
	if err := c.get(ctx, fmt.Sprintf("tv/%s/season/%d", tmdbId, season), nil, &details); err != nil {
		return nil, err
	}
	return &details, nil
}

// EpisodeDetails 单个分集详情，未收录时返回ErrNotFound
func (c *Client) EpisodeDetails(ctx context.Context, tmdbId string, season, episode int) (*Episode, error) {
	var details Episode
	endpoint := fmt.Sprintf("tv/%s/season/%d/episode/%d", tmdbId, season, episode)
	if err := c.get(ctx, endpoint, nil, &details); err != nil {
		return nil, err
	}
	return &details, nil
}

// Search 按标题搜索。mediaType为tv或movie，year为0时不带年份。
func (c *Client) Search(ctx context.Context, mediaType, query string, year int) ([]SearchItem, error) {
	params := map[string]string{
		"query":         query,
		"include_adult": "false",
	}
	if year > 0 {
		if mediaType == "tv" {
			params["first_air_date_year"] = fmt.Sprint(year)
		} else {
			params["year"] = fmt.Sprint(year)
		}
	}
	var resp searchResponse
	if err := c.get(ctx, "search/"+mediaType, params, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// ImageURL 拼接图片完整地址
func ImageURL(path, size string) string {
	if path == "" {
		return ""
	}
	if size == "" {
		size = "original"
	}
	return "https://image.tmdb.org/t/p/" + size + path
}
