package signin

import (
	"context"
	"fmt"
	"html"
	"math/rand"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"EmbyToolbox/internal/config"
	"EmbyToolbox/internal/helpers"
	"EmbyToolbox/internal/taskcenter"
)

const (
	dataFileName = "signin_data.json"
	lockTimeout  = 5 * time.Second

	StatusSuccess = "签到成功"
	StatusAlready = "已签到"
	StatusFailed  = "签到失败"
)

// Record 一次签到的结果
type Record struct {
	Date          string `json:"date"` // 2006-01-02 15:04:05
	Status        string `json:"status"`
	Message       string `json:"message"`
	Points        int    `json:"points,omitempty"`
	Days          int    `json:"days,omitempty"`
	CurrentPoints int    `json:"current_points,omitempty"`
}

// ModuleData 单个模块的历史与连续签到计数，持久化在 signin_data.json
type ModuleData struct {
	History         []Record `json:"history"`
	LastSigninTime  string   `json:"last_signin_time,omitempty"`
	LastSuccessDate string   `json:"last_success_date,omitempty"` // 2006-01-02
	ConsecutiveDays int      `json:"consecutive_days,omitempty"`
}

// Module 可插拔的签到站点模块
type Module interface {
	Id() string
	Name() string
	Sign(ctx context.Context, cfg config.SigninModuleConfig, data *ModuleData) Record
}

type notifyFunc func(text string) error

// Summary 前端签到卡片的摘要
type Summary struct {
	Id              string                    `json:"id"`
	Name            string                    `json:"name"`
	Config          config.SigninModuleConfig `json:"config"`
	LastSigninTime  string                    `json:"last_signin_time,omitempty"`
	ConsecutiveDays int                       `json:"consecutive_days"`
}

// Manager 签到管理器：调度各模块执行并维护 signin_data.json
type Manager struct {
	modules []Module
	notify  notifyFunc
	cfg     func() config.SigninConfig
	file    string
	log     *helpers.Logger
}

func NewManager(modules []Module, notify notifyFunc, cfg func() config.SigninConfig,
	dataDir string, log *helpers.Logger) *Manager {
	return &Manager{
		modules: modules,
		notify:  notify,
		cfg:     cfg,
		file:    filepath.Join(dataDir, dataFileName),
		log:     log.Cat("签到管理器"),
	}
}

func (m *Manager) Modules() []Module { return m.modules }

func (m *Manager) module(moduleId string) Module {
	for _, mod := range m.modules {
		if mod.Id() == moduleId {
			return mod
		}
	}
	return nil
}

func (m *Manager) moduleConfig(moduleId string) config.SigninModuleConfig {
	return m.cfg().Modules[moduleId]
}

func (m *Manager) loadData() (map[string]*ModuleData, error) {
	data := map[string]*ModuleData{}
	if !helpers.PathExists(m.file) {
		return data, nil
	}
	if err := helpers.ReadJSONFile(m.file, &data); err != nil {
		return nil, fmt.Errorf("读取签到数据文件失败: %w", err)
	}
	return data, nil
}

// mutate 在文件锁内执行一次读-改-写
func (m *Manager) mutate(fn func(data map[string]*ModuleData) error) error {
	return helpers.WithFileLock(m.file, lockTimeout, func() error {
		data, err := m.loadData()
		if err != nil {
			return err
		}
		if err := fn(data); err != nil {
			return err
		}
		return helpers.WriteJSONAtomic(m.file, data)
	})
}

// Summaries 所有模块的摘要，配置与计数合并返回
func (m *Manager) Summaries() ([]Summary, error) {
	var data map[string]*ModuleData
	err := helpers.WithFileLock(m.file, lockTimeout, func() (e error) {
		data, e = m.loadData()
		return
	})
	if err != nil {
		return nil, err
	}
	summaries := make([]Summary, 0, len(m.modules))
	for _, mod := range m.modules {
		s := Summary{Id: mod.Id(), Name: mod.Name(), Config: m.moduleConfig(mod.Id())}
		if d := data[mod.Id()]; d != nil {
			s.LastSigninTime = d.LastSigninTime
			s.ConsecutiveDays = d.ConsecutiveDays
		}
		summaries = append(summaries, s)
	}
	return summaries, nil
}

// History 指定模块的签到历史
func (m *Manager) History(moduleId string) ([]Record, error) {
	var data map[string]*ModuleData
	err := helpers.WithFileLock(m.file, lockTimeout, func() (e error) {
		data, e = m.loadData()
		return
	})
	if err != nil {
		return nil, err
	}
	d := data[moduleId]
	if d == nil {
		return []Record{}, nil
	}
	return d.History, nil
}

// ResetModuleData 重置统计数据，历史记录保留
func (m *Manager) ResetModuleData(moduleId string) error {
	err := m.mutate(func(data map[string]*ModuleData) error {
		d := data[moduleId]
		if d == nil {
			return fmt.Errorf("未找到模块 %s 的数据", moduleId)
		}
		data[moduleId] = &ModuleData{History: d.History}
		return nil
	})
	if err != nil {
		return err
	}
	m.log.Infof("模块 [%s] 的统计数据已重置", moduleId)
	return nil
}

// RunTask 执行一个模块的签到。定时触发时先做随机延迟。
func (m *Manager) RunTask(moduleId string, manual bool) taskcenter.TaskFunc {
	return func(ctx context.Context, h *taskcenter.Handle) (interface{}, error) {
		mod := m.module(moduleId)
		if mod == nil {
			return nil, fmt.Errorf("未找到签到模块: %s", moduleId)
		}
		cfg := m.moduleConfig(moduleId)
		log := m.log.Cat("签到-" + mod.Name())
		if !cfg.Enabled {
			log.Warnf("模块 [%s] 未启用，跳过执行", mod.Name())
			return map[string]string{"status": "skipped"}, nil
		}

		if !manual {
			if delay := randomDelay(cfg.RandomDelay); delay > 0 {
				log.Infof("定时任务已触发，将随机延迟 %d 秒后执行", int(delay.Seconds()))
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(delay):
				}
			}
		}

		log.Infof("开始执行模块 [%s] 的签到任务", mod.Name())
		var record Record
		err := m.mutate(func(data map[string]*ModuleData) error {
			d := data[moduleId]
			if d == nil {
				d = &ModuleData{}
				data[moduleId] = d
			}
			record = mod.Sign(ctx, cfg, d)
			d.History = append([]Record{record}, d.History...)
			d.History = pruneHistory(d.History, cfg.HistoryDays)
			if record.Status == StatusSuccess || record.Status == StatusAlready {
				d.LastSigninTime = record.Date
			}
			return nil
		})
		if err != nil {
			return nil, err
		}

		switch record.Status {
		case StatusSuccess:
			log.Infof("任务执行成功。详情: %s", record.Message)
		case StatusAlready:
			log.Infof("今日已签到。详情: %s", record.Message)
		default:
			log.Errorf("任务执行失败。详情: %s", record.Message)
		}

		if cfg.Notify && m.notify != nil {
			if err := m.notify(buildNotification(mod.Name(), record)); err != nil {
				log.Warnf("发送签到结果通知失败: %v", err)
			}
		}
		log.Info("签到任务流程执行完毕")
		return record, nil
	}
}

// pruneHistory 丢弃超过保留天数的记录
func pruneHistory(history []Record, retentionDays int) []Record {
	if retentionDays <= 0 {
		return history
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	kept := make([]Record, 0, len(history))
	for _, rec := range history {
		ts, err := time.ParseInLocation("2006-01-02 15:04:05", rec.Date, time.Local)
		if err != nil || !ts.Before(cutoff) {
			kept = append(kept, rec)
		}
	}
	return kept
}

// randomDelay 解析 "min-max" 格式的随机延迟配置
func randomDelay(spec string) time.Duration {
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return 0
	}
	min, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	max, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil || min < 0 || min >= max {
		return 0
	}
	return time.Duration(min+rand.Intn(max-min)) * time.Second
}

func buildNotification(moduleName string, rec Record) string {
	icon := "✅"
	if rec.Status == StatusFailed {
		icon = "❌"
	} else if rec.Status == StatusAlready {
		icon = "ℹ️"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>%s</b>\n", icon, html.EscapeString(moduleName))
	fmt.Fprintf(&b, "状态: %s\n", rec.Status)
	fmt.Fprintf(&b, "详情: %s", html.EscapeString(rec.Message))
	if rec.Points > 0 {
		fmt.Fprintf(&b, "\n本次积分: %d", rec.Points)
	}
	if rec.CurrentPoints > 0 {
		fmt.Fprintf(&b, "\n当前总积分: %d", rec.CurrentPoints)
	}
	if rec.Days > 0 {
		fmt.Fprintf(&b, "\n连续签到: %d 天", rec.Days)
	}
	return b.String()
}
