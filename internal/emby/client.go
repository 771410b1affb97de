package emby

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"resty.dev/v3"

	"EmbyToolbox/internal/helpers"
)

// pageSize 全库遍历时单页条目数
const pageSize = 500

// Client Emby服务器API客户端。所有请求走api_key鉴权，
// 读接口尽量带用户上下文以拿到UserData。
type Client struct {
	http   *resty.Client
	server string
	apiKey string
	userId string
	log    *helpers.Logger
}

// NewClient 创建Emby客户端，proxyURL为空时直连
func NewClient(server, apiKey, userId, proxyURL string, log *helpers.Logger) *Client {
	client := resty.New().
		SetBaseURL(server).
		SetTimeout(60 * time.Second)
	if proxyURL != "" {
		client.SetProxy(proxyURL)
	}
	return &Client{
		http:   client,
		server: server,
		apiKey: apiKey,
		userId: userId,
		log:    log.Cat("Emby"),
	}
}

func (c *Client) Close() {
	c.http.Close()
}

func (c *Client) Server() string { return c.server }
func (c *Client) UserId() string { return c.userId }

func (c *Client) request(ctx context.Context) *resty.Request {
	return c.http.R().
		SetContext(ctx).
		SetQueryParam("api_key", c.apiKey)
}

// GetItem 查询单个条目详情，fields为逗号分隔的附加字段
func (c *Client) GetItem(ctx context.Context, itemId, fields string) (*BaseItem, error) {
	req := c.request(ctx).
		SetResult(&BaseItem{}).
		SetForceResponseContentType("application/json")
	if fields != "" {
		req.SetQueryParam("Fields", fields)
	}
	path := fmt.Sprintf("/emby/Users/%s/Items/%s", c.userId, itemId)
	if c.userId == "" {
		path = fmt.Sprintf("/emby/Items/%s", itemId)
	}
	res, err := req.Get(path)
	if err != nil {
		return nil, fmt.Errorf("查询条目 %s 失败: %w", itemId, err)
	}
	if res.IsError() {
		return nil, fmt.Errorf("查询条目 %s 失败，状态码: %d", itemId, res.StatusCode())
	}
	return res.Result().(*BaseItem), nil
}

// Items 按查询参数取一页条目
func (c *Client) Items(ctx context.Context, params map[string]string) (*QueryResult, error) {
	req := c.request(ctx).
		SetQueryParams(params).
		SetResult(&QueryResult{}).
		SetForceResponseContentType("application/json")
	path := "/emby/Items"
	if c.userId != "" {
		path = fmt.Sprintf("/emby/Users/%s/Items", c.userId)
	}
	res, err := req.Get(path)
	if err != nil {
		return nil, fmt.Errorf("查询条目列表失败: %w", err)
	}
	if res.IsError() {
		return nil, fmt.Errorf("查询条目列表失败，状态码: %d", res.StatusCode())
	}
	return res.Result().(*QueryResult), nil
}

// FetchAllItems 自动分页取回全部条目，单页500条
func (c *Client) FetchAllItems(ctx context.Context, params map[string]string) ([]BaseItem, error) {
	merged := make(map[string]string, len(params)+2)
	for k, v := range params {
		merged[k] = v
	}
	var all []BaseItem
	startIndex := 0
	for {
		if err := ctx.Err(); err != nil {
			return all, err
		}
		merged["StartIndex"] = strconv.Itoa(startIndex)
		merged["Limit"] = strconv.Itoa(pageSize)
		page, err := c.Items(ctx, merged)
		if err != nil {
			return all, err
		}
		all = append(all, page.Items...)
		if len(page.Items) == 0 || len(all) >= page.TotalRecordCount {
			break
		}
		startIndex += len(page.Items)
	}
	return all, nil
}

// Latest 最新入库条目。该端点返回裸数组而非QueryResult。
func (c *Client) Latest(ctx context.Context, itemTypes string, limit int) ([]BaseItem, error) {
	var items []BaseItem
	res, err := c.request(ctx).
		SetQueryParams(map[string]string{
			"Limit":            strconv.Itoa(limit),
			"IncludeItemTypes": itemTypes,
			"Fields":           "Id,Name,DateCreated",
		}).
		SetResult(&items).
		SetForceResponseContentType("application/json").
		Get(fmt.Sprintf("/emby/Users/%s/Items/Latest", c.userId))
	if err != nil {
		return nil, fmt.Errorf("查询最新入库失败: %w", err)
	}
	if res.IsError() {
		return nil, fmt.Errorf("查询最新入库失败，状态码: %d", res.StatusCode())
	}
	return items, nil
}

// Views 用户可见的媒体库视图
func (c *Client) Views(ctx context.Context) ([]View, error) {
	res, err := c.request(ctx).
		SetResult(&viewsResponse{}).
		SetForceResponseContentType("application/json").
		Get(fmt.Sprintf("/emby/Users/%s/Views", c.userId))
	if err != nil {
		return nil, fmt.Errorf("查询媒体库视图失败: %w", err)
	}
	if res.IsError() {
		return nil, fmt.Errorf("查询媒体库视图失败，状态码: %d", res.StatusCode())
	}
	return res.Result().(*viewsResponse).Items, nil
}

// LookupByProviderId 按外部ID反查条目，provider如 Tmdb / Imdb / Douban
func (c *Client) LookupByProviderId(ctx context.Context, provider, value, itemTypes string) ([]BaseItem, error) {
	params := map[string]string{
		"Recursive":           "true",
		"AnyProviderIdEquals": fmt.Sprintf("%s.%s", provider, value),
		"Fields":              "ProviderIds",
	}
	if itemTypes != "" {
		params["IncludeItemTypes"] = itemTypes
	}
	page, err := c.Items(ctx, params)
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}

// Episodes 取剧的全部分集
func (c *Client) Episodes(ctx context.Context, seriesId, fields string) ([]BaseItem, error) {
	req := c.request(ctx).
		SetResult(&QueryResult{}).
		SetForceResponseContentType("application/json")
	if fields != "" {
		req.SetQueryParam("Fields", fields)
	}
	if c.userId != "" {
		req.SetQueryParam("UserId", c.userId)
	}
	res, err := req.Get(fmt.Sprintf("/emby/Shows/%s/Episodes", seriesId))
	if err != nil {
		return nil, fmt.Errorf("查询剧集 %s 的分集失败: %w", seriesId, err)
	}
	if res.IsError() {
		return nil, fmt.Errorf("查询剧集 %s 的分集失败，状态码: %d", seriesId, res.StatusCode())
	}
	return res.Result().(*QueryResult).Items, nil
}

// UpdateItem 整体写回条目。Emby的更新接口是全量POST，
// 调用方应先GetItem拿到完整条目再改字段。
func (c *Client) UpdateItem(ctx context.Context, itemId string, item *BaseItem) error {
	res, err := c.request(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(item).
		Post(fmt.Sprintf("/emby/Items/%s", itemId))
	if err != nil {
		return fmt.Errorf("更新条目 %s 失败: %w", itemId, err)
	}
	if res.IsError() {
		return fmt.Errorf("更新条目 %s 失败，状态码: %d", itemId, res.StatusCode())
	}
	return nil
}

// RefreshItem 触发服务端元数据刷新
func (c *Client) RefreshItem(ctx context.Context, itemId string, replaceAllMetadata, replaceAllImages bool) error {
	res, err := c.request(ctx).
		SetQueryParams(map[string]string{
			"Recursive":           "true",
			"MetadataRefreshMode": "FullRefresh",
			"ImageRefreshMode":    "FullRefresh",
			"ReplaceAllMetadata":  strconv.FormatBool(replaceAllMetadata),
			"ReplaceAllImages":    strconv.FormatBool(replaceAllImages),
		}).
		Post(fmt.Sprintf("/emby/Items/%s/Refresh", itemId))
	if err != nil {
		return fmt.Errorf("刷新条目 %s 失败: %w", itemId, err)
	}
	if res.IsError() {
		return fmt.Errorf("刷新条目 %s 失败，状态码: %d", itemId, res.StatusCode())
	}
	return nil
}

// DownloadImage 下载条目图片原图，返回图片数据和Content-Type
func (c *Client) DownloadImage(ctx context.Context, itemId, imageType string) ([]byte, string, error) {
	res, err := c.request(ctx).
		Get(fmt.Sprintf("/emby/Items/%s/Images/%s", itemId, imageType))
	if err != nil {
		return nil, "", fmt.Errorf("下载条目 %s 的%s图失败: %w", itemId, imageType, err)
	}
	if res.IsError() {
		return nil, "", fmt.Errorf("下载条目 %s 的%s图失败，状态码: %d", itemId, imageType, res.StatusCode())
	}
	return res.Bytes(), res.Header().Get("Content-Type"), nil
}

// UploadImage 上传条目图片。Emby要求base64编码的请求体。
func (c *Client) UploadImage(ctx context.Context, itemId, imageType string, data []byte, contentType string) error {
	if contentType == "" {
		contentType = "image/jpeg"
	}
	encoded := base64.StdEncoding.EncodeToString(data)
	res, err := c.request(ctx).
		SetHeader("Content-Type", contentType).
		SetBody(encoded).
		Post(fmt.Sprintf("/emby/Items/%s/Images/%s", itemId, imageType))
	if err != nil {
		return fmt.Errorf("上传条目 %s 的%s图失败: %w", itemId, imageType, err)
	}
	if res.IsError() {
		return fmt.Errorf("上传条目 %s 的%s图失败，状态码: %d", itemId, imageType, res.StatusCode())
	}
	return nil
}

// DeleteImage 删除条目图片
func (c *Client) DeleteImage(ctx context.Context, itemId, imageType string, index int) error {
	res, err := c.request(ctx).
		Delete(fmt.Sprintf("/emby/Items/%s/Images/%s/%d", itemId, imageType, index))
	if err != nil {
		return fmt.Errorf("删除条目 %s 的%s图失败: %w", itemId, imageType, err)
	}
	if res.IsError() {
		return fmt.Errorf("删除条目 %s 的%s图失败，状态码: %d", itemId, imageType, res.StatusCode())
	}
	return nil
}

// Post 杂项写操作走通用POST
func (c *Client) Post(ctx context.Context, path string, body interface{}) error {
	res, err := c.request(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(path)
	if err != nil {
		return fmt.Errorf("POST %s 失败: %w", path, err)
	}
	if res.IsError() {
		return fmt.Errorf("POST %s 失败，状态码: %d", path, res.StatusCode())
	}
	return nil
}

// Ping 连通性检查
func (c *Client) Ping(ctx context.Context) error {
	res, err := c.request(ctx).Get("/emby/System/Info")
	if err != nil {
		return fmt.Errorf("连接Emby服务器失败: %w", err)
	}
	if res.IsError() {
		return fmt.Errorf("连接Emby服务器失败，状态码: %d", res.StatusCode())
	}
	return nil
}
