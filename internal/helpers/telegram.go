package helpers

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramBot 结构体用于处理Telegram机器人操作
type TelegramBot struct {
	Token  string
	ChatID string
	Client *tgbotapi.BotAPI
}

// maskToken 掩码token用于日志输出
func maskToken(token string) string {
	if len(token) <= 8 {
		return "***"
	}
	return token[:4] + "***" + token[len(token)-4:]
}

// NewTelegramBot 创建Telegram机器人实例，proxyURL为空时直连
func NewTelegramBot(token, chatID, proxyURL string) (*TelegramBot, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram token为空")
	}
	if chatID == "" {
		return nil, fmt.Errorf("telegram chat ID为空")
	}
	client := &http.Client{
		Timeout: 120 * time.Second,
	}
	if proxyURL != "" {
		transport, err := createProxyTransport(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("创建代理传输失败: %w", err)
		}
		client.Transport = transport
	}
	bot, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, fmt.Errorf("创建Telegram机器人失败 (token: %s): %w", maskToken(token), err)
	}
	return &TelegramBot{
		Token:  token,
		ChatID: chatID,
		Client: bot,
	}, nil
}

func createProxyTransport(proxyURL string) (*http.Transport, error) {
	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return nil, err
	}
	return &http.Transport{
		Proxy: http.ProxyURL(parsed),
	}, nil
}

func (bot *TelegramBot) chatID() int64 {
	id, _ := strconv.ParseInt(bot.ChatID, 10, 64)
	return id
}

// SendMessage 发送消息到Telegram
func (bot *TelegramBot) SendMessage(text string) error {
	if bot == nil || bot.Client == nil {
		return fmt.Errorf("telegram bot 实例不能为空")
	}
	msg := tgbotapi.NewMessage(bot.chatID(), text)
	msg.ParseMode = "HTML"
	if _, err := bot.Client.Send(msg); err != nil {
		return fmt.Errorf("发送消息失败: %w", err)
	}
	return nil
}

// SendPhoto 发送图片到Telegram，支持本地文件路径或网络URL
func (bot *TelegramBot) SendPhoto(image string, caption string) error {
	if bot == nil || bot.Client == nil {
		return fmt.Errorf("telegram bot 实例不能为空")
	}
	var file tgbotapi.RequestFileData
	if strings.HasPrefix(strings.ToLower(image), "http://") || strings.HasPrefix(strings.ToLower(image), "https://") {
		file = tgbotapi.FileURL(image)
	} else {
		file = tgbotapi.FilePath(image)
	}
	msg := tgbotapi.NewPhoto(bot.chatID(), file)
	if caption != "" {
		// Telegram caption上限约1024字符
		runes := []rune(caption)
		if len(runes) > 1024 {
			caption = string(runes[:1024])
		}
		msg.Caption = caption
		msg.ParseMode = "HTML"
	}
	if _, err := bot.Client.Send(msg); err != nil {
		return fmt.Errorf("发送图片失败: %w", err)
	}
	return nil
}

// SendMessageWithRetry 带指数退避的重试发送
func (bot *TelegramBot) SendMessageWithRetry(text string, maxRetries int) error {
	var lastError error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			waitTime := time.Duration(attempt*attempt) * time.Second
			time.Sleep(waitTime)
		}
		if err := bot.SendMessage(text); err == nil {
			return nil
		} else {
			lastError = err
		}
	}
	return fmt.Errorf("telegram消息发送失败（已重试%d次）: %w", maxRetries, lastError)
}
