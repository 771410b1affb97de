package webhook

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"EmbyToolbox/internal/config"
	"EmbyToolbox/internal/emby"
	"EmbyToolbox/internal/helpers"
	"EmbyToolbox/internal/taskcenter"
)

// SentinelKey 写入ProviderIds的处理标记，避免同一媒体被自动链重复处理
const SentinelKey = "ToolboxWebhookProcessed"

// Payload Emby webhook通知体，只关心事件名和内嵌的媒体描述
type Payload struct {
	Event string `json:"Event"`
	Item  struct {
		Id   string `json:"Id"`
		Name string `json:"Name"`
		Type string `json:"Type"`
	} `json:"Item"`
}

type embyApi interface {
	GetItem(ctx context.Context, itemId, fields string) (*emby.BaseItem, error)
	UpdateItem(ctx context.Context, itemId string, item *emby.BaseItem) error
}

type fixerApi interface {
	FixItem(ctx context.Context, itemId string) (bool, error)
}

type cacheApi interface {
	SyncEntryFromDirectory(root, doubanId string, extraFields []string) error
}

// localizeFunc 对单个媒体项执行演员中文化
type localizeFunc func(ctx context.Context, itemId string) error

// posterFunc 对单个媒体项执行豆瓣海报更新
type posterFunc func(ctx context.Context, h *taskcenter.Handle, itemIds []string) error

type queueEntry struct {
	id   string
	name string
}

// Pipeline webhook自动处理管线：去重入队，单个worker依次消费，
// 每个媒体项走一条固定的处理链。
type Pipeline struct {
	emby      embyApi
	fixer     fixerApi
	cache     cacheApi
	localize  localizeFunc
	poster    posterFunc
	tasks     *taskcenter.Manager
	cfg       func() config.WebhookConfig
	doubanCfg func() config.DoubanConfig
	log       *helpers.Logger

	mu       sync.Mutex
	queue    []queueEntry
	inFlight map[string]bool
	wake     chan struct{}
}

func NewPipeline(embyClient embyApi, fixer fixerApi, cache cacheApi, localize localizeFunc,
	poster posterFunc, tasks *taskcenter.Manager, cfg func() config.WebhookConfig,
	doubanCfg func() config.DoubanConfig, log *helpers.Logger) *Pipeline {
	return &Pipeline{
		emby:      embyClient,
		fixer:     fixer,
		cache:     cache,
		localize:  localize,
		poster:    poster,
		tasks:     tasks,
		cfg:       cfg,
		doubanCfg: doubanCfg,
		log:       log.Cat("Webhook"),
		inFlight:  map[string]bool{},
		wake:      make(chan struct{}, 1),
	}
}

// HandlePayload 接收一条webhook通知。返回是否入队。
func (p *Pipeline) HandlePayload(ctx context.Context, payload Payload) (bool, error) {
	if !p.cfg().Enabled {
		p.log.Debug("webhook自动化未启用，忽略通知")
		return false, nil
	}
	switch payload.Event {
	case "item.add", "library.new":
	default:
		p.log.Debugf("忽略事件 %q", payload.Event)
		return false, nil
	}
	if payload.Item.Id == "" {
		return false, nil
	}

	targetId := payload.Item.Id
	targetName := payload.Item.Name
	switch strings.ToLower(payload.Item.Type) {
	case "movie", "series":
	case "episode":
		// 分集通知提级到所属剧集
		ep, err := p.emby.GetItem(ctx, payload.Item.Id, "SeriesId,SeriesName")
		if err != nil {
			return false, fmt.Errorf("获取分集 %s 的所属剧集失败: %w", payload.Item.Id, err)
		}
		if ep.SeriesId == "" {
			p.log.Warnf("分集 %s 缺少所属剧集信息，忽略", payload.Item.Id)
			return false, nil
		}
		targetId = ep.SeriesId
		targetName = ep.SeriesName
	default:
		p.log.Debugf("忽略类型为 %q 的媒体项", payload.Item.Type)
		return false, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inFlight[targetId] {
		p.log.Infof("媒体项 %s (%s) 已在处理队列中，丢弃重复通知", targetName, targetId)
		return false, nil
	}
	p.inFlight[targetId] = true
	p.queue = append(p.queue, queueEntry{id: targetId, name: targetName})
	select {
	case p.wake <- struct{}{}:
	default:
	}
	p.log.Infof("媒体项 %s (%s) 已加入处理队列", targetName, targetId)
	return true, nil
}

func (p *Pipeline) dequeue() (queueEntry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return queueEntry{}, false
	}
	entry := p.queue[0]
	p.queue = p.queue[1:]
	return entry, true
}

func (p *Pipeline) release(itemId string) {
	p.mu.Lock()
	delete(p.inFlight, itemId)
	p.mu.Unlock()
}

// Run worker主循环：每次注册一个自动化任务并等它结束，再取下一个
func (p *Pipeline) Run(ctx context.Context) {
	p.log.Info("webhook处理worker已启动")
	for {
		entry, ok := p.dequeue()
		if !ok {
			select {
			case <-ctx.Done():
				p.log.Info("webhook处理worker已退出")
				return
			case <-p.wake:
				continue
			}
		}

		done := make(chan struct{})
		name := "Webhook-自动处理-" + entry.name
		p.tasks.Register(name, func(taskCtx context.Context, h *taskcenter.Handle) (interface{}, error) {
			defer close(done)
			return nil, p.runChain(taskCtx, h, entry.id, entry.name)
		})
		select {
		case <-done:
		case <-ctx.Done():
			<-done
		}
		p.release(entry.id)
	}
}

// sleep 可中断的等待
func sleep(ctx context.Context, seconds int) error {
	if seconds <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Duration(seconds) * time.Second):
		return nil
	}
}

// runChain 单个媒体项的自动处理链。
// 步骤3-5失败中止，步骤6-7失败继续，最后写入处理标记。
func (p *Pipeline) runChain(ctx context.Context, h *taskcenter.Handle, itemId, itemName string) error {
	log := p.log
	log.Infof("开始处理新入库媒体 [%s] (ID: %s)", itemName, itemId)

	// 步骤 1: 幂等检查
	item, err := p.emby.GetItem(ctx, itemId, "Name,Type,ProviderIds")
	if err != nil {
		return fmt.Errorf("无法获取媒体 %s 的详细信息: %w", itemId, err)
	}
	if itemName == "" {
		itemName = item.Name
	}
	if _, done := providerId(item, SentinelKey); done {
		log.Infof("媒体 [%s] 此前已由自动链处理过，跳过", itemName)
		return nil
	}

	// 步骤 2: 初始等待，给Emby自带刮削留时间
	cfg := p.cfg()
	log.Infof("[步骤 2/8 | 初始等待] 等待 %d 秒，以便Emby完成自动刮削", cfg.InitialWaitTime)
	if err := sleep(ctx, cfg.InitialWaitTime); err != nil {
		return err
	}

	// 步骤 3: 确保豆瓣ID
	log.Info("[步骤 3/8 | 获取豆瓣ID] 开始")
	item, err = p.emby.GetItem(ctx, itemId, "Name,Type,ProviderIds")
	if err != nil {
		return fmt.Errorf("无法获取媒体 %s 的详细信息: %w", itemId, err)
	}
	doubanId, _ := providerId(item, "Douban")
	if doubanId != "" {
		log.Infof("媒体 [%s] 已有关联的豆瓣ID: %s，跳过ID修复", itemName, doubanId)
	} else {
		log.Infof("媒体 [%s] 缺少豆瓣ID，开始执行ID修复", itemName)
		fixed, err := p.fixer.FixItem(ctx, itemId)
		if err != nil {
			return fmt.Errorf("豆瓣ID修复失败: %w", err)
		}
		if fixed {
			refreshed, err := p.emby.GetItem(ctx, itemId, "ProviderIds")
			if err == nil {
				doubanId, _ = providerId(refreshed, "Douban")
			}
		}
		if doubanId == "" {
			return fmt.Errorf("最终未能获取到媒体 [%s] 的豆瓣ID，自动化流程中止", itemName)
		}
		log.Infof("成功修复并获取到新的豆瓣ID: %s", doubanId)
	}

	// 步骤 4: 等待豆瓣插件下载元数据
	log.Infof("[步骤 4/8 | 插件等待] 等待 %d 秒，以便Emby豆瓣插件下载元数据", cfg.PluginWaitTime)
	if err := sleep(ctx, cfg.PluginWaitTime); err != nil {
		return err
	}

	// 步骤 5: 增量同步豆瓣缓存
	log.Info("[步骤 5/8 | 同步豆瓣数据] 开始")
	douban := p.doubanCfg()
	if douban.Directory == "" {
		return fmt.Errorf("豆瓣数据根目录未配置，无法进行增量更新")
	}
	if err := p.cache.SyncEntryFromDirectory(douban.Directory, doubanId, douban.ExtraFields); err != nil {
		return fmt.Errorf("增量同步豆瓣数据失败: %w", err)
	}

	// 步骤 6: 演员中文化（失败不阻断）
	log.Info("[步骤 6/8 | 演员中文化] 开始")
	if err := p.localize(ctx, itemId); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Errorf("演员中文化步骤执行失败，将继续后续任务: %v", err)
	}

	// 步骤 7: 豆瓣海报更新（失败不阻断）
	log.Info("[步骤 7/8 | 豆瓣海报更新] 开始")
	if err := p.poster(ctx, h, []string{itemId}); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Errorf("豆瓣海报更新步骤执行失败: %v", err)
	}

	// 步骤 8: 写入处理标记
	if err := p.writeSentinel(ctx, itemId); err != nil {
		return fmt.Errorf("写入处理标记失败: %w", err)
	}
	log.Infof("[步骤 8/8 | 完成] 媒体 [%s] 的自动化处理流程已全部执行完毕", itemName)
	return nil
}

func (p *Pipeline) writeSentinel(ctx context.Context, itemId string) error {
	item, err := p.emby.GetItem(ctx, itemId, "ProviderIds")
	if err != nil {
		return err
	}
	if item.ProviderIds == nil {
		item.ProviderIds = map[string]string{}
	}
	item.ProviderIds[SentinelKey] = time.Now().UTC().Format(time.RFC3339)
	return p.emby.UpdateItem(ctx, itemId, item)
}

// providerId 大小写不敏感地取一个provider id
func providerId(item *emby.BaseItem, key string) (string, bool) {
	for k, v := range item.ProviderIds {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}
