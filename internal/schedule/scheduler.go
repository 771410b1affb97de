package schedule

import (
	"sync"

	"github.com/robfig/cron/v3"

	"EmbyToolbox/internal/config"
	"EmbyToolbox/internal/helpers"
	"EmbyToolbox/internal/taskcenter"
)

// Job 一个可调度的定时任务定义。
// Cron从当前配置里取表达式和启用状态，Task在每次触发时构造任务函数。
type Job struct {
	Id       string
	TaskName string // 注册到任务中心的名字，同时作为防重前缀
	Cron     func(cfg *config.AppConfig) (expr string, enabled bool)
	Task     func() taskcenter.TaskFunc
}

// Scheduler 把配置里的cron表达式翻译成注册在任务中心上的定时任务。
// 配置每次保存后做一轮对账：该删的删，该加的加。
type Scheduler struct {
	cron  *cron.Cron
	tasks *taskcenter.Manager
	cfg   func() *config.AppConfig
	log   *helpers.Logger

	mu      sync.Mutex
	jobs    []Job
	entries map[string]cron.EntryID
}

func NewScheduler(tasks *taskcenter.Manager, cfg func() *config.AppConfig, log *helpers.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		tasks:   tasks,
		cfg:     cfg,
		log:     log.Cat("调度器"),
		entries: map[string]cron.EntryID{},
	}
}

// AddJob 登记一个任务定义。只影响后续的Reconcile，不立即生效。
func (s *Scheduler) AddJob(job Job) {
	s.mu.Lock()
	s.jobs = append(s.jobs, job)
	s.mu.Unlock()
}

// Start 启动cron并监听配置保存事件，每次保存后重新对账
func (s *Scheduler) Start() {
	s.Reconcile()
	s.cron.Start()
	helpers.Subscribe(helpers.ConfigSavedEvent, func(helpers.Event) {
		s.log.Info("检测到配置已保存，重新对账定时任务")
		s.Reconcile()
	})
}

func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Reconcile 按当前配置重建全部定时任务。
// 无效的cron表达式记录错误并跳过，不影响其他任务。
func (s *Scheduler) Reconcile() {
	cfg := s.cfg()
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, entry := range s.entries {
		s.cron.Remove(entry)
		delete(s.entries, id)
	}

	for _, job := range s.jobs {
		expr, enabled := job.Cron(cfg)
		if !enabled || expr == "" {
			continue
		}
		job := job
		entry, err := s.cron.AddFunc(expr, func() { s.fire(job) })
		if err != nil {
			s.log.Errorf("任务 [%s] 的cron表达式 %q 无效，已跳过: %v", job.Id, expr, err)
			continue
		}
		s.entries[job.Id] = entry
		s.log.Infof("已注册定时任务 [%s]，cron: %s", job.Id, expr)
	}
	s.log.Infof("定时任务对账完成，当前共 %d 个任务", len(s.entries))
}

// fire 触发一次任务。同名任务还在运行时跳过本次触发。
func (s *Scheduler) fire(job Job) {
	if s.tasks.HasRunningWithPrefix(job.TaskName) {
		s.log.Warnf("任务 [%s] 的上一次执行尚未结束，跳过本次触发", job.TaskName)
		return
	}
	s.tasks.Register(job.TaskName, job.Task())
}

// JobIds 当前已注册的任务id，测试和状态接口用
func (s *Scheduler) JobIds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	return ids
}
