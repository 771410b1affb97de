package controllers

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"EmbyToolbox/internal/helpers"
)

// queryLogs 按级别/分类过滤历史日志，分页返回
func (h *handlers) queryLogs(c *gin.Context) {
	level := c.Query("level")
	category := c.Query("category")
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "100"))

	records, total, err := helpers.AppLogger.QueryLogRecords(level, category, page, pageSize)
	if err != nil {
		fail(c, "查询日志失败: %v", err)
		return
	}
	ok(c, gin.H{
		"records":   records,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}
