package controllers

import (
	"github.com/gin-gonic/gin"
)

// listTasks 当前全部任务快照
func (h *handlers) listTasks(c *gin.Context) {
	ok(c, h.deps.Tasks.Snapshot())
}

// availableTasks 可手动触发的任务清单
func (h *handlers) availableTasks(c *gin.Context) {
	ok(c, h.deps.RunnableTasks)
}

// runTask 手动触发一个已登记的任务
func (h *handlers) runTask(c *gin.Context) {
	taskId := c.Param("taskId")
	for _, def := range h.deps.RunnableTasks {
		if def.Id != taskId {
			continue
		}
		if h.deps.Tasks.HasRunningWithPrefix(def.Name) {
			fail(c, "任务 [%s] 正在运行中，请等待其结束", def.Name)
			return
		}
		id := h.deps.Tasks.Register(def.Name, def.Task())
		ok(c, gin.H{"task_id": id})
		return
	}
	fail(c, "未知的任务: %s", taskId)
}

// cancelTask 请求取消运行中的任务
func (h *handlers) cancelTask(c *gin.Context) {
	id := c.Param("id")
	if !h.deps.Tasks.Cancel(id) {
		fail(c, "任务 %s 不存在或已结束", id)
		return
	}
	ok(c, gin.H{"cancelled": id})
}
