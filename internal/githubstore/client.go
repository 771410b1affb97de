package githubstore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"resty.dev/v3"

	"EmbyToolbox/internal/helpers"
)

var repoURLPattern = regexp.MustCompile(`https?://github\.com/([^/]+)/([^/]+)`)

// apiBase 测试中指向本地假服务
var apiBase = "https://api.github.com"

// RepoRef 一个可写仓库的完整定位信息
type RepoRef struct {
	RepoUrl string
	Owner   string
	Repo    string
	Branch  string
	Pat     string
}

// ParseRepoRef 从仓库URL解析出owner/repo
func ParseRepoRef(repoUrl, branch, pat string) (RepoRef, error) {
	m := repoURLPattern.FindStringSubmatch(repoUrl)
	if m == nil {
		return RepoRef{}, fmt.Errorf("无效的GitHub仓库URL: %s", repoUrl)
	}
	if branch == "" {
		branch = "main"
	}
	return RepoRef{
		RepoUrl: repoUrl,
		Owner:   m[1],
		Repo:    strings.TrimSuffix(m[2], ".git"),
		Branch:  branch,
		Pat:     pat,
	}, nil
}

func (r RepoRef) contentsURL(path string) string {
	return fmt.Sprintf("%s/repos/%s/%s/contents/%s", apiBase, r.Owner, r.Repo, path)
}

func (r RepoRef) ShortName() string {
	return r.Owner + "/" + r.Repo
}

// StatusError GitHub API返回的非2xx响应
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GitHub API错误 (状态码 %d): %s", e.Code, e.Message)
}

// IsStatus 判断错误链中是否包含指定状态码的API错误
func IsStatus(err error, code int) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// ContentInfo contents API返回的文件信息
type ContentInfo struct {
	Sha         string `json:"sha"`
	Size        int64  `json:"size"`
	Content     string `json:"content"`
	DownloadUrl string `json:"download_url"`
	Encoding    string `json:"encoding"`
}

// WriteResult 写操作返回的文件信息
type WriteResult struct {
	Content struct {
		Sha         string `json:"sha"`
		Size        int64  `json:"size"`
		DownloadUrl string `json:"download_url"`
	} `json:"content"`
}

// Client GitHub contents API客户端。写操作对瞬时网络故障
// （TLS握手、连接重置）重试3次，间隔5秒。
type Client struct {
	http       *resty.Client
	log        *helpers.Logger
	retryDelay time.Duration
}

func NewClient(proxyURL string, log *helpers.Logger) *Client {
	client := resty.New().
		SetTimeout(60 * time.Second).
		SetHeader("Accept", "application/vnd.github.v3+json")
	if proxyURL != "" {
		client.SetProxy(proxyURL)
	}
	return &Client{
		http:       client,
		log:        log.Cat("GitHub"),
		retryDelay: 5 * time.Second,
	}
}

func (c *Client) request(ctx context.Context, ref RepoRef) *resty.Request {
	req := c.http.R().SetContext(ctx)
	if ref.Pat != "" {
		req.SetHeader("Authorization", "token "+ref.Pat)
	}
	return req
}

func apiError(res *resty.Response) error {
	var body struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(res.Bytes(), &body)
	msg := body.Message
	if msg == "" {
		msg = res.Status()
	}
	return &StatusError{Code: res.StatusCode(), Message: msg}
}

// GetContents 读取文件内容和sha。404时返回nil而非错误。
func (c *Client) GetContents(ctx context.Context, ref RepoRef, path string) (*ContentInfo, error) {
	res, err := c.request(ctx, ref).
		SetQueryParam("ref", ref.Branch).
		SetResult(&ContentInfo{}).
		SetForceResponseContentType("application/json").
		Get(ref.contentsURL(path))
	if err != nil {
		return nil, fmt.Errorf("读取 %s/%s 失败: %w", ref.ShortName(), path, err)
	}
	if res.StatusCode() == 404 {
		return nil, nil
	}
	if res.IsError() {
		return nil, apiError(res)
	}
	return res.Result().(*ContentInfo), nil
}

// GetFileSha 只取文件当前sha，文件不存在时返回空串
func (c *Client) GetFileSha(ctx context.Context, ref RepoRef, path string) (string, error) {
	info, err := c.GetContents(ctx, ref, path)
	if err != nil {
		return "", err
	}
	if info == nil {
		return "", nil
	}
	return info.Sha, nil
}

// DecodeContent 解码contents API返回的base64文件内容
func DecodeContent(info *ContentInfo) ([]byte, error) {
	cleaned := strings.ReplaceAll(info.Content, "\n", "")
	return base64.StdEncoding.DecodeString(cleaned)
}

// PutFile 创建或覆盖文件。sha为空表示新建，非空表示覆盖。
func (c *Client) PutFile(ctx context.Context, ref RepoRef, path, message string, content []byte, sha string) (*WriteResult, error) {
	payload := map[string]string{
		"message": message,
		"content": base64.StdEncoding.EncodeToString(content),
		"branch":  ref.Branch,
	}
	if sha != "" {
		payload["sha"] = sha
	}
	var result *WriteResult
	err := c.withTransientRetry(ctx, func() error {
		res, err := c.request(ctx, ref).
			SetHeader("Content-Type", "application/json").
			SetBody(payload).
			SetResult(&WriteResult{}).
			SetForceResponseContentType("application/json").
			Put(ref.contentsURL(path))
		if err != nil {
			return err
		}
		if res.IsError() {
			return apiError(res)
		}
		result = res.Result().(*WriteResult)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("写入 %s/%s 失败: %w", ref.ShortName(), path, err)
	}
	return result, nil
}

// DeleteFile 删除文件，必须提供当前sha
func (c *Client) DeleteFile(ctx context.Context, ref RepoRef, path, message, sha string) error {
	payload := map[string]string{
		"message": message,
		"sha":     sha,
		"branch":  ref.Branch,
	}
	err := c.withTransientRetry(ctx, func() error {
		res, err := c.request(ctx, ref).
			SetHeader("Content-Type", "application/json").
			SetBody(payload).
			Delete(ref.contentsURL(path))
		if err != nil {
			return err
		}
		if res.IsError() {
			return apiError(res)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("删除 %s/%s 失败: %w", ref.ShortName(), path, err)
	}
	return nil
}

// DownloadRaw 下载二进制文件（走download_url）
func (c *Client) DownloadRaw(ctx context.Context, ref RepoRef, url string) ([]byte, error) {
	res, err := c.request(ctx, ref).Get(url)
	if err != nil {
		return nil, fmt.Errorf("下载 %s 失败: %w", url, err)
	}
	if res.IsError() {
		return nil, apiError(res)
	}
	return res.Bytes(), nil
}

// withTransientRetry 对瞬时网络故障重试，API层错误直接上抛
func (c *Client) withTransientRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			c.log.Warnf("网络操作失败 (尝试 %d/3)，%s后重试: %v", attempt, c.retryDelay, lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isTransient(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

func isTransient(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "handshake") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "tls") ||
		strings.Contains(msg, "eof")
}
