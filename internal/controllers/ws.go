package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"EmbyToolbox/internal/helpers"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 跨域校验走JWT中间件，这里放行
	CheckOrigin: func(*http.Request) bool { return true },
}

// tasksSocket 任务快照推送。连接建立后先推一次全量，
// 之后由广播循环在任务状态变化时推送。
func (h *handlers) tasksSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warnf("任务websocket升级失败: %v", err)
		return
	}
	h.deps.TaskBroadcaster.Add(conn)
	if err := conn.WriteJSON(h.deps.Tasks.Snapshot()); err != nil {
		h.deps.TaskBroadcaster.Remove(conn)
		return
	}
	// 读循环只为感知断连
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.deps.TaskBroadcaster.Remove(conn)
				return
			}
		}
	}()
}

// logsSocket 实时日志推送
func (h *handlers) logsSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warnf("日志websocket升级失败: %v", err)
		return
	}
	ch := helpers.LogStream.Subscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	go func() {
		defer func() {
			helpers.LogStream.Unsubscribe(ch)
			conn.Close()
		}()
		for {
			select {
			case <-done:
				return
			case rec, okCh := <-ch:
				if !okCh {
					return
				}
				if err := conn.WriteJSON(rec); err != nil {
					return
				}
			}
		}
	}()
}
