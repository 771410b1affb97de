package taskcenter

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"EmbyToolbox/internal/helpers"
)

const (
	StatusRunning    = "running"
	StatusCancelling = "cancelling"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
	StatusFailed     = "failed"
)

// TaskInfo 任务快照，按原样推送给前端
type TaskInfo struct {
	Id        string      `json:"id"`
	Name      string      `json:"name"`
	Status    string      `json:"status"`
	StartTime string      `json:"start_time"`
	Progress  int         `json:"progress"`
	Total     int         `json:"total"`
	Result    interface{} `json:"result"`
}

// TaskFunc 任务体。ctx在取消时关闭，任务应尽快收尾返回。
type TaskFunc func(ctx context.Context, h *Handle) (interface{}, error)

// Handle 任务体用来回报进度和中间结果
type Handle struct {
	id string
	m  *Manager
}

func (h *Handle) ID() string { return h.id }

// NewNopHandle 返回不关联管理器的句柄，直接调用任务体时使用
func NewNopHandle() *Handle { return &Handle{} }

func (h *Handle) UpdateProgress(progress, total int) {
	if h.m == nil {
		return
	}
	h.m.mu.Lock()
	if e, ok := h.m.tasks[h.id]; ok {
		e.info.Progress = progress
		e.info.Total = total
	}
	h.m.mu.Unlock()
	h.m.notify()
}

// UpdateResult 实时更新结果字段并立即广播
func (h *Handle) UpdateResult(result interface{}) {
	if h.m == nil {
		return
	}
	h.m.mu.Lock()
	if e, ok := h.m.tasks[h.id]; ok {
		e.info.Result = result
	}
	h.m.mu.Unlock()
	h.m.notify()
}

type taskEntry struct {
	info    TaskInfo
	cancel  context.CancelFunc
	started time.Time
}

// Manager 运行中任务注册表。任务结束后保留终态10秒再清理。
type Manager struct {
	mu           sync.Mutex
	tasks        map[string]*taskEntry
	signal       chan struct{}
	cleanupDelay time.Duration
	log          *helpers.Logger
}

func NewManager(log *helpers.Logger) *Manager {
	return &Manager{
		tasks:        make(map[string]*taskEntry),
		signal:       make(chan struct{}, 1),
		cleanupDelay: 10 * time.Second,
		log:          log.Cat("任务"),
	}
}

// Updates 合并后的变更信号，广播循环据此取最新快照
func (m *Manager) Updates() <-chan struct{} { return m.signal }

func (m *Manager) notify() {
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

// Register 注册并立即在后台启动任务，返回任务id
func (m *Manager) Register(name string, fn TaskFunc) string {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	m.mu.Lock()
	m.tasks[id] = &taskEntry{
		info: TaskInfo{
			Id:        id,
			Name:      name,
			Status:    StatusRunning,
			StartTime: now.Format(time.RFC3339),
		},
		cancel:  cancel,
		started: now,
	}
	m.mu.Unlock()
	m.log.Infof("注册新任务: %s (ID: %s)", name, id)
	m.notify()
	go m.run(ctx, id, name, fn)
	return id
}

func (m *Manager) run(ctx context.Context, id, name string, fn TaskFunc) {
	var result interface{}
	status := StatusCompleted

	func() {
		defer func() {
			if r := recover(); r != nil {
				status = StatusFailed
				m.log.Errorf("任务 %s (ID: %s) 发生panic: %v", name, id, r)
			}
		}()
		var err error
		result, err = fn(ctx, &Handle{id: id, m: m})
		switch {
		case ctx.Err() != nil:
			status = StatusCancelled
			m.log.Infof("任务 %s (ID: %s) 已被取消", name, id)
		case err != nil:
			status = StatusFailed
			m.log.Errorf("任务 %s (ID: %s) 失败: %v", name, id, err)
		default:
			m.log.Infof("任务 %s (ID: %s) 已成功完成", name, id)
		}
	}()

	m.mu.Lock()
	if e, ok := m.tasks[id]; ok {
		e.info.Status = status
		if result != nil {
			e.info.Result = result
		}
	}
	m.mu.Unlock()
	m.notify()

	time.AfterFunc(m.cleanupDelay, func() {
		m.mu.Lock()
		delete(m.tasks, id)
		m.mu.Unlock()
		m.notify()
		m.log.Infof("已清理已结束的任务: %s", id)
	})
}

// Cancel 请求取消运行中的任务；非运行态返回false
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	e, ok := m.tasks[id]
	if !ok || e.info.Status != StatusRunning {
		m.mu.Unlock()
		return false
	}
	e.info.Status = StatusCancelling
	name := e.info.Name
	cancel := e.cancel
	m.mu.Unlock()
	cancel()
	m.log.Infof("正在取消任务 %s (ID: %s)", name, id)
	m.notify()
	return true
}

// Snapshot 当前全部任务，按启动时间排序
func (m *Manager) Snapshot() []TaskInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TaskInfo, 0, len(m.tasks))
	order := make([]*taskEntry, 0, len(m.tasks))
	for _, e := range m.tasks {
		order = append(order, e)
	}
	sort.Slice(order, func(i, j int) bool {
		if order[i].started.Equal(order[j].started) {
			return order[i].info.Id < order[j].info.Id
		}
		return order[i].started.Before(order[j].started)
	})
	for _, e := range order {
		out = append(out, e.info)
	}
	return out
}

// HasRunningWithPrefix 是否存在名字带给定前缀且未结束的任务。
// 调度器触发前用它避免同一任务重复启动。
func (m *Manager) HasRunningWithPrefix(prefix string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.tasks {
		if !strings.HasPrefix(e.info.Name, prefix) {
			continue
		}
		if e.info.Status == StatusRunning || e.info.Status == StatusCancelling {
			return true
		}
	}
	return false
}

// setCleanupDelay 测试用
func (m *Manager) setCleanupDelay(d time.Duration) { m.cleanupDelay = d }
