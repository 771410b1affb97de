package taskcenter

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"

	"EmbyToolbox/internal/helpers"
)

// Broadcaster 把任务快照推给所有已连接的websocket客户端
type Broadcaster struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]bool
	log   *helpers.Logger
}

func NewBroadcaster(log *helpers.Logger) *Broadcaster {
	return &Broadcaster{
		conns: make(map[*websocket.Conn]bool),
		log:   log.Cat("任务"),
	}
}

func (b *Broadcaster) Add(conn *websocket.Conn) {
	b.mu.Lock()
	b.conns[conn] = true
	b.mu.Unlock()
}

func (b *Broadcaster) Remove(conn *websocket.Conn) {
	b.mu.Lock()
	delete(b.conns, conn)
	b.mu.Unlock()
	conn.Close()
}

// Broadcast 逐个连接写出，写失败的连接直接摘掉
func (b *Broadcaster) Broadcast(payload interface{}) {
	b.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(b.conns))
	for c := range b.conns {
		conns = append(conns, c)
	}
	b.mu.Unlock()
	for _, c := range conns {
		if err := c.WriteJSON(payload); err != nil {
			b.log.Debugf("任务广播连接写入失败，移除连接: %v", err)
			b.Remove(c)
		}
	}
}

// RunBroadcastLoop 消费任务变更信号并广播最新快照，ctx结束时退出
func RunBroadcastLoop(ctx context.Context, m *Manager, b *Broadcaster) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.Updates():
			b.Broadcast(m.Snapshot())
		}
	}
}
