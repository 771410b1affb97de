package controllers

import (
	"github.com/gin-gonic/gin"

	"EmbyToolbox/internal/webhook"
)

// webhookSink Emby webhook入口。通知是否入队都返回200，
// Emby不关心处理结果，失败重发反而制造重复。
func (h *handlers) webhookSink(c *gin.Context) {
	var payload webhook.Payload
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.log.Warnf("webhook通知体解析失败: %v", err)
		ok(c, gin.H{"queued": false})
		return
	}
	queued, err := h.deps.Webhook.HandlePayload(c.Request.Context(), payload)
	if err != nil {
		h.log.Errorf("处理webhook通知失败: %v", err)
		ok(c, gin.H{"queued": false})
		return
	}
	ok(c, gin.H{"queued": queued})
}
