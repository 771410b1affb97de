package helpers

import (
	"sync"
)

// 事件类型
type EventType string

const (
	// 应用配置文档保存后发布，调度器据此重建定时任务
	ConfigSavedEvent EventType = "config_saved"
	// 追更列表发生变化，追更中心据此刷新id映射
	ChasingUpdatedEvent EventType = "chasing_updated"
)

// 事件数据
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// 事件处理函数类型
type EventHandler func(event Event)

// 事件总线
type EventBus struct {
	handlers map[EventType][]EventHandler
	mutex    sync.RWMutex
}

var globalEventBus *EventBus

// 初始化事件总线
func InitEventBus() {
	globalEventBus = &EventBus{
		handlers: make(map[EventType][]EventHandler),
	}
}

// 订阅事件
func Subscribe(eventType EventType, handler EventHandler) {
	if globalEventBus == nil {
		return
	}
	globalEventBus.mutex.Lock()
	defer globalEventBus.mutex.Unlock()
	globalEventBus.handlers[eventType] = append(globalEventBus.handlers[eventType], handler)
}

// 发布事件，异步处理避免阻塞发布方
func Publish(eventType EventType, data any) {
	if globalEventBus == nil {
		return
	}
	globalEventBus.mutex.RLock()
	handlers := globalEventBus.handlers[eventType]
	globalEventBus.mutex.RUnlock()
	if len(handlers) == 0 {
		return
	}
	event := Event{Type: eventType, Data: data}
	go func() {
		for _, handler := range handlers {
			func() {
				defer func() {
					if r := recover(); r != nil && AppLogger != nil {
						AppLogger.Errorf("事件处理器执行时发生panic: %v", r)
					}
				}()
				handler(event)
			}()
		}
	}()
}
