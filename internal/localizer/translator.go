package localizer

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"resty.dev/v3"

	"EmbyToolbox/internal/config"
	"EmbyToolbox/internal/helpers"
)

// Translator 把英文/拼音角色名翻译成中文。
// 实现只负责一次调用，重试由调用方处理。
type Translator interface {
	Translate(ctx context.Context, text, contextTitle string) (string, error)
}

// BatchTranslator 支持整组角色名一次翻译的引擎
type BatchTranslator interface {
	Translator
	TranslateBatch(ctx context.Context, texts []string, contextTitle string) ([]string, error)
}

// NewTranslator 按配置的翻译模式构建引擎
func NewTranslator(cfg config.ActorLocalizerConfig, proxyFor func(string) string, log *helpers.Logger) Translator {
	switch cfg.TranslationMode {
	case "tencent":
		return newTencentTranslator(cfg.Tencent, log)
	case "siliconflow":
		return newSiliconflowTranslator(cfg.Siliconflow, log)
	default:
		return newWebTranslator(cfg.TranslatorEngine, proxyFor, log)
	}
}

// webTranslator 免费网页翻译接口，无需密钥
type webTranslator struct {
	http *resty.Client
	log  *helpers.Logger
}

func newWebTranslator(engine string, proxyFor func(string) string, log *helpers.Logger) *webTranslator {
	const endpoint = "https://translate.googleapis.com"
	client := resty.New().
		SetBaseURL(endpoint).
		SetTimeout(15 * time.Second)
	if proxyFor != nil {
		if proxyURL := proxyFor(endpoint); proxyURL != "" {
			client.SetProxy(proxyURL)
		}
	}
	if engine != "" && engine != "google" {
		log.Warnf("暂不支持翻译引擎 %s，使用google", engine)
	}
	return &webTranslator{http: client, log: log}
}

func (t *webTranslator) Translate(ctx context.Context, text, _ string) (string, error) {
	res, err := t.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"client": "gtx",
			"sl":     "auto",
			"tl":     "zh-CN",
			"dt":     "t",
			"q":      text,
		}).
		Get("/translate_a/single")
	if err != nil {
		return "", fmt.Errorf("翻译请求失败: %w", err)
	}
	if res.IsError() {
		return "", fmt.Errorf("翻译接口返回状态码 %d", res.StatusCode())
	}
	// 返回结构: [[["译文","原文",...],...],...]
	var payload []json.RawMessage
	if err := json.Unmarshal(res.Bytes(), &payload); err != nil || len(payload) == 0 {
		return "", fmt.Errorf("解析翻译响应失败")
	}
	var segments [][]json.RawMessage
	if err := json.Unmarshal(payload[0], &segments); err != nil {
		return "", fmt.Errorf("解析翻译响应失败")
	}
	var b strings.Builder
	for _, seg := range segments {
		if len(seg) == 0 {
			continue
		}
		var part string
		if err := json.Unmarshal(seg[0], &part); err == nil {
			b.WriteString(part)
		}
	}
	return strings.TrimSpace(b.String()), nil
}

// tencentTranslator 腾讯云机器翻译，TC3-HMAC-SHA256签名
type tencentTranslator struct {
	http *resty.Client
	cfg  config.TencentApiConfig
	log  *helpers.Logger
}

func newTencentTranslator(cfg config.TencentApiConfig, log *helpers.Logger) *tencentTranslator {
	return &tencentTranslator{
		http: resty.New().SetTimeout(15 * time.Second),
		cfg:  cfg,
		log:  log,
	}
}

func hmacSha256(key []byte, msg string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(msg))
	return h.Sum(nil)
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (t *tencentTranslator) Translate(ctx context.Context, text, _ string) (string, error) {
	const (
		host    = "tmt.tencentcloudapi.com"
		service = "tmt"
		action  = "TextTranslate"
		version = "2018-03-21"
	)
	payload, _ := json.Marshal(map[string]interface{}{
		"SourceText": text,
		"Source":     "en",
		"Target":     "zh",
		"ProjectId":  0,
	})
	now := time.Now()
	timestamp := now.Unix()
	date := now.UTC().Format("2006-01-02")

	canonicalRequest := strings.Join([]string{
		"POST",
		"/",
		"",
		"content-type:application/json\nhost:" + host + "\n",
		"content-type;host",
		sha256Hex(payload),
	}, "\n")
	credentialScope := fmt.Sprintf("%s/%s/tc3_request", date, service)
	stringToSign := strings.Join([]string{
		"TC3-HMAC-SHA256",
		fmt.Sprint(timestamp),
		credentialScope,
		sha256Hex([]byte(canonicalRequest)),
	}, "\n")
	secretDate := hmacSha256([]byte("TC3"+t.cfg.SecretKey), date)
	secretService := hmacSha256(secretDate, service)
	secretSigning := hmacSha256(secretService, "tc3_request")
	signature := hex.EncodeToString(hmacSha256(secretSigning, stringToSign))
	authorization := fmt.Sprintf(
		"TC3-HMAC-SHA256 Credential=%s/%s, SignedHeaders=content-type;host, Signature=%s",
		t.cfg.SecretId, credentialScope, signature)

	var result struct {
		Response struct {
			TargetText string `json:"TargetText"`
			Error      *struct {
				Code    string `json:"Code"`
				Message string `json:"Message"`
			} `json:"Error"`
		} `json:"Response"`
	}
	res, err := t.http.R().
		SetContext(ctx).
		SetHeader("Authorization", authorization).
		SetHeader("Content-Type", "application/json").
		SetHeader("Host", host).
		SetHeader("X-TC-Action", action).
		SetHeader("X-TC-Timestamp", fmt.Sprint(timestamp)).
		SetHeader("X-TC-Version", version).
		SetHeader("X-TC-Region", t.cfg.Region).
		SetBody(payload).
		SetResult(&result).
		Post("https://" + host)
	if err != nil {
		return "", fmt.Errorf("腾讯翻译请求失败: %w", err)
	}
	if res.IsError() {
		return "", fmt.Errorf("腾讯翻译返回状态码 %d", res.StatusCode())
	}
	if result.Response.Error != nil {
		return "", fmt.Errorf("腾讯API错误: %s - %s", result.Response.Error.Code, result.Response.Error.Message)
	}
	if result.Response.TargetText == "" {
		return text, nil
	}
	return result.Response.TargetText, nil
}

// siliconflowTranslator 大模型翻译，支持批量
type siliconflowTranslator struct {
	http *resty.Client
	cfg  config.SiliconflowApiConfig
	log  *helpers.Logger
}

const siliconflowURL = "https://api.siliconflow.cn/v1/chat/completions"

const singleSystemPrompt = `你是一位专业的影视剧翻译专家，擅长把英文或拼音格式的人名和角色名翻译成中文影视圈最通用的译名。
只返回翻译后的中文文本，不要任何解释或引号。输入已是中文或无法识别时原样返回。
常见超短英文缩写（MJ、DJ、M、Q等）直接返回原文。`

const batchSystemPrompt = `你是一个严格遵守指令的程序化翻译API。输入是一个角色名JSON字符串数组，
你的回答必须是且仅是一个合法的JSON字符串数组，与输入等长且顺序一一对应。
不要包含任何解释或代码块标记。已是中文、无法识别或是常见英文缩写的元素原样返回。`

func newSiliconflowTranslator(cfg config.SiliconflowApiConfig, log *helpers.Logger) *siliconflowTranslator {
	return &siliconflowTranslator{
		http: resty.New(),
		cfg:  cfg,
		log:  log,
	}
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (t *siliconflowTranslator) chat(ctx context.Context, systemPrompt, userPrompt string, maxTokens, timeoutSeconds int) (string, error) {
	var result chatResponse
	res, err := t.http.R().
		SetContext(ctx).
		SetTimeout(time.Duration(timeoutSeconds)*time.Second).
		SetHeader("Authorization", "Bearer "+t.cfg.ApiKey).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]interface{}{
			"model": t.cfg.ModelName,
			"messages": []map[string]string{
				{"role": "system", "content": systemPrompt},
				{"role": "user", "content": userPrompt},
			},
			"stream":      false,
			"max_tokens":  maxTokens,
			"temperature": t.cfg.Temperature,
			"top_p":       t.cfg.TopP,
		}).
		SetResult(&result).
		Post(siliconflowURL)
	if err != nil {
		return "", fmt.Errorf("SiliconFlow请求失败: %w", err)
	}
	if res.IsError() {
		return "", fmt.Errorf("SiliconFlow返回状态码 %d", res.StatusCode())
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("SiliconFlow响应格式不正确")
	}
	return strings.TrimSpace(result.Choices[0].Message.Content), nil
}

func (t *siliconflowTranslator) Translate(ctx context.Context, text, contextTitle string) (string, error) {
	userPrompt := fmt.Sprintf("请翻译以下人名或角色名：\n\n%s", text)
	if contextTitle != "" {
		userPrompt = fmt.Sprintf("请根据影视作品《%s》的上下文，翻译以下角色名：\n\n%s", contextTitle, text)
	}
	content, err := t.chat(ctx, singleSystemPrompt, userPrompt, 100, t.cfg.TimeoutSingle)
	if err != nil {
		return "", err
	}
	return strings.Trim(content, `"'`), nil
}

func (t *siliconflowTranslator) TranslateBatch(ctx context.Context, texts []string, contextTitle string) ([]string, error) {
	raw, _ := json.Marshal(texts)
	userPrompt := fmt.Sprintf("请严格按照系统指令的要求，翻译以下JSON数组中的所有角色名：\n\n%s", raw)
	if contextTitle != "" {
		userPrompt = fmt.Sprintf("请根据影视作品《%s》的上下文，严格按照系统指令的要求，翻译以下JSON数组中的所有角色名：\n\n%s", contextTitle, raw)
	}
	content, err := t.chat(ctx, batchSystemPrompt, userPrompt, len(raw)*2+500, t.cfg.TimeoutBatch)
	if err != nil {
		return nil, err
	}
	var translated []string
	if err := json.Unmarshal([]byte(content), &translated); err != nil {
		return nil, fmt.Errorf("解析批量翻译结果失败: %v，返回内容: %s", err, content)
	}
	if len(translated) != len(texts) {
		return nil, fmt.Errorf("批量翻译返回数量(%d)与请求数量(%d)不匹配", len(translated), len(texts))
	}
	return translated, nil
}
