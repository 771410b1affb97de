package signin

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"resty.dev/v3"

	"EmbyToolbox/internal/config"
	"EmbyToolbox/internal/helpers"
)

const (
	hdhiveBase      = "https://hdhive.online"
	hdhiveUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

var pointsPattern = regexp.MustCompile(`获得 (\d+) 积分`)

// Hdhive 影巢签到模块
type Hdhive struct {
	http *resty.Client
	log  *helpers.Logger
}

func NewHdhive(proxyURL string, log *helpers.Logger) *Hdhive {
	client := resty.New().
		SetBaseURL(hdhiveBase).
		SetTimeout(60 * time.Second).
		SetHeader("User-Agent", hdhiveUserAgent).
		SetHeader("Accept", "application/json, text/plain, */*")
	if proxyURL != "" {
		client.SetProxy(proxyURL)
	}
	return &Hdhive{http: client, log: log.Cat("签到-影巢")}
}

func (h *Hdhive) Id() string   { return "hdhive" }
func (h *Hdhive) Name() string { return "影巢签到" }

// parseCookie 把 "k=v; k2=v2" 格式的Cookie拆成映射
func parseCookie(cookie string) map[string]string {
	out := map[string]string{}
	for _, part := range strings.Split(cookie, ";") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) == 2 && kv[0] != "" {
			out[kv[0]] = kv[1]
		}
	}
	return out
}

// refererFor 从JWT token里解出用户ID拼出Referer，解不出就用首页
func (h *Hdhive) refererFor(token string) string {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		h.log.Warnf("从Token中解析用户ID失败: %v", err)
		return hdhiveBase + "/"
	}
	sub, err := parsed.Claims.GetSubject()
	if err != nil || sub == "" {
		return hdhiveBase + "/"
	}
	return fmt.Sprintf("%s/user/%s", hdhiveBase, sub)
}

type hdhiveResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    struct {
		Credit int `json:"credit"`
	} `json:"data"`
}

// checkin 实际的签到HTTP请求，返回 成功与否+消息
func (h *Hdhive) checkin(ctx context.Context, cookies map[string]string) (bool, string) {
	token := cookies["token"]
	if token == "" {
		return false, "Cookie中缺少'token'"
	}

	req := h.http.R().SetContext(ctx).
		SetHeader("Origin", hdhiveBase).
		SetHeader("Referer", h.refererFor(token)).
		SetHeader("Authorization", "Bearer "+token).
		SetForceResponseContentType("application/json")
	if csrf := cookies["csrf_access_token"]; csrf != "" {
		req.SetHeader("x-csrf-token", csrf)
	}
	for k, v := range cookies {
		req.SetCookie(&http.Cookie{Name: k, Value: v})
	}

	var body hdhiveResponse
	req.SetResult(&body).SetError(&body)
	res, err := req.Post("/api/customer/user/checkin")
	if err != nil {
		return false, fmt.Sprintf("网络请求错误: %v", err)
	}
	h.log.Debugf("请求完成，HTTP状态码: %d", res.StatusCode())

	if res.StatusCode() != 200 && res.StatusCode() != 400 {
		text := res.String()
		if strings.Contains(text, "Just a moment...") || strings.Contains(text, "Checking your browser") {
			return false, fmt.Sprintf("Cloudflare 质询失败，HTTP状态码: %d", res.StatusCode())
		}
		if len(text) > 200 {
			text = text[:200]
		}
		return false, fmt.Sprintf("HTTP状态码: %d, 响应: %s", res.StatusCode(), text)
	}

	message := body.Message
	if message == "" {
		message = "无明确消息"
	}
	if body.Success || strings.Contains(message, "签到过") {
		return true, message
	}
	return false, message
}

// fetchCurrentPoints 签到成功后取最新总积分，失败不影响签到结果
func (h *Hdhive) fetchCurrentPoints(ctx context.Context, cookies map[string]string) (int, bool) {
	token := cookies["token"]
	if token == "" {
		return 0, false
	}
	req := h.http.R().SetContext(ctx).
		SetHeader("Authorization", "Bearer "+token).
		SetForceResponseContentType("application/json")
	for k, v := range cookies {
		req.SetCookie(&http.Cookie{Name: k, Value: v})
	}
	var body hdhiveResponse
	res, err := req.SetResult(&body).Get("/api/customer/user/info")
	if err != nil || res.IsError() || !body.Success {
		if err != nil {
			h.log.Warnf("获取最新总积分失败: %v", err)
		}
		return 0, false
	}
	return body.Data.Credit, true
}

// Sign 执行签到，失败按配置重试。连续签到计数在 data 上就地更新。
func (h *Hdhive) Sign(ctx context.Context, cfg config.SigninModuleConfig, data *ModuleData) Record {
	h.log.Info("开始执行签到")
	if cfg.Cookie == "" {
		h.log.Error("未配置Cookie，任务中止")
		return newRecord(StatusFailed, "未配置Cookie")
	}
	cookies := parseCookie(cfg.Cookie)

	var ok bool
	var message string
	for attempt := 0; ; attempt++ {
		ok, message = h.checkin(ctx, cookies)
		if ok {
			break
		}
		h.log.Errorf("签到失败: %s", message)
		if attempt >= cfg.MaxRetries {
			h.log.Error("所有重试均已失败")
			return newRecord(StatusFailed, message+" (已达最大重试次数)")
		}
		h.log.Warnf("将在 %.0f 秒后进行第 %d 次重试", cfg.RetryInterval, attempt+1)
		select {
		case <-ctx.Done():
			return newRecord(StatusFailed, "任务被取消")
		case <-time.After(time.Duration(cfg.RetryInterval * float64(time.Second))):
		}
	}

	h.log.Infof("API返回消息: %s", message)
	status := StatusSuccess
	if strings.Contains(message, "签到过") {
		status = StatusAlready
	}

	today := time.Now().Format("2006-01-02")
	if data.LastSuccessDate != today {
		yesterday := time.Now().AddDate(0, 0, -1).Format("2006-01-02")
		if data.LastSuccessDate == yesterday {
			data.ConsecutiveDays++
		} else {
			data.ConsecutiveDays = 1
		}
		data.LastSuccessDate = today
	}

	record := newRecord(status, message)
	record.Days = data.ConsecutiveDays
	if m := pointsPattern.FindStringSubmatch(message); m != nil {
		record.Points, _ = strconv.Atoi(m[1])
	}
	if status == StatusSuccess {
		time.Sleep(time.Second) // 等服务器积分入账
		if credit, ok := h.fetchCurrentPoints(ctx, cookies); ok {
			record.CurrentPoints = credit
		}
	}
	return record
}

func newRecord(status, message string) Record {
	return Record{
		Date:    time.Now().Format("2006-01-02 15:04:05"),
		Status:  status,
		Message: message,
	}
}
