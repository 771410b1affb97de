package controllers

import (
	"encoding/json"
	"io"

	"github.com/gin-gonic/gin"
)

// getConfig 返回完整的应用配置文档
func (h *handlers) getConfig(c *gin.Context) {
	cfg, err := h.deps.Store.Load()
	if err != nil {
		fail(c, "读取配置失败: %v", err)
		return
	}
	ok(c, cfg)
}

// saveConfig 整体覆盖保存配置文档
func (h *handlers) saveConfig(c *gin.Context) {
	cfg, err := h.deps.Store.Load()
	if err != nil {
		fail(c, "读取配置失败: %v", err)
		return
	}
	if err := c.ShouldBindJSON(cfg); err != nil {
		fail(c, "请求参数有误: %v", err)
		return
	}
	if err := h.deps.Store.Save(cfg); err != nil {
		fail(c, "保存配置失败: %v", err)
		return
	}
	h.log.Info("应用配置已整体保存")
	ok(c, cfg)
}

// saveConfigSection 只更新配置文档的一个小节，其余内容不动
func (h *handlers) saveConfigSection(c *gin.Context) {
	section := c.Param("section")
	cfg, err := h.deps.Store.Load()
	if err != nil {
		fail(c, "读取配置失败: %v", err)
		return
	}

	var target interface{}
	switch section {
	case "server":
		target = &cfg.Server
	case "download":
		target = &cfg.Download
	case "tmdb":
		target = &cfg.Tmdb
	case "proxy":
		target = &cfg.Proxy
	case "douban":
		target = &cfg.Douban
	case "actor_localizer":
		target = &cfg.ActorLocalizer
	case "douban_fixer":
		target = &cfg.DoubanFixer
	case "scheduled_tasks":
		target = &cfg.ScheduledTasks
	case "douban_poster_updater":
		target = &cfg.DoubanPosterUpdater
	case "webhook":
		target = &cfg.Webhook
	case "episode_refresher":
		target = &cfg.EpisodeRefresher
	case "episode_renamer":
		target = &cfg.EpisodeRenamer
	case "poster_manager":
		target = &cfg.PosterManager
	case "telegram":
		target = &cfg.Telegram
	case "trakt":
		target = &cfg.Trakt
	case "signin":
		target = &cfg.Signin
	case "chasing_center":
		target = &cfg.ChasingCenter
	case "upcoming":
		target = &cfg.Upcoming
	case "actor_role_mapper":
		target = &cfg.ActorRoleMapper
	case "genre_mapping":
		target = &cfg.GenreMapping
	default:
		fail(c, "未知的配置小节: %s", section)
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		fail(c, "读取请求体失败: %v", err)
		return
	}
	if err := json.Unmarshal(body, target); err != nil {
		fail(c, "请求参数有误: %v", err)
		return
	}
	if err := h.deps.Store.Save(cfg); err != nil {
		fail(c, "保存配置失败: %v", err)
		return
	}
	h.log.Infof("配置小节 [%s] 已保存", section)
	ok(c, cfg)
}
