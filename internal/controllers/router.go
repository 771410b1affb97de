package controllers

import (
	"github.com/gin-gonic/gin"

	"EmbyToolbox/internal/config"
	"EmbyToolbox/internal/helpers"
	"EmbyToolbox/internal/taskcenter"
	"EmbyToolbox/internal/webhook"
)

// TaskDefinition 一个可手动触发的任务
type TaskDefinition struct {
	Id   string `json:"id"`
	Name string `json:"name"`
	Task func() taskcenter.TaskFunc `json:"-"`
}

// Deps 路由层的依赖集合，由main装配
type Deps struct {
	Store           *config.Store
	Tasks           *taskcenter.Manager
	TaskBroadcaster *taskcenter.Broadcaster
	Webhook         *webhook.Pipeline
	RunnableTasks   []TaskDefinition
	Logger          *helpers.Logger
}

// NewRouter 组装全部HTTP路由。
// webhook入口和登录不做认证，其余 /api 走JWT中间件。
func NewRouter(deps *Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(Cors())

	h := &handlers{deps: deps, log: deps.Logger.Cat("接口")}

	r.POST("/api/auth/login", Login)
	r.POST("/api/webhook/emby", h.webhookSink)

	api := r.Group("/api", JWTAuthMiddleware())
	{
		api.GET("/config", h.getConfig)
		api.POST("/config", h.saveConfig)
		api.POST("/config/:section", h.saveConfigSection)

		api.GET("/tasks", h.listTasks)
		api.GET("/tasks/available", h.availableTasks)
		api.POST("/tasks/run/:taskId", h.runTask)
		api.POST("/tasks/:id/cancel", h.cancelTask)

		api.GET("/logs", h.queryLogs)
		api.GET("/system/status", h.systemStatus)
	}

	ws := r.Group("/ws", JWTAuthMiddleware())
	{
		ws.GET("/tasks", h.tasksSocket)
		ws.GET("/logs", h.logsSocket)
	}
	return r
}

type handlers struct {
	deps *Deps
	log  *helpers.Logger
}
