package localizer

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"EmbyToolbox/internal/config"
	"EmbyToolbox/internal/douban"
	"EmbyToolbox/internal/emby"
	"EmbyToolbox/internal/helpers"
	"EmbyToolbox/internal/taskcenter"
)

var (
	pureEnglishPattern = regexp.MustCompile(`^[a-zA-Z0-9\s.,'\-!&()]+$`)
	rolePrefixPattern  = regexp.MustCompile(`^(饰演|饰)\s*`)
)

// embyApi 中文化需要的Emby操作子集
type embyApi interface {
	GetItem(ctx context.Context, itemId, fields string) (*emby.BaseItem, error)
	UpdateItem(ctx context.Context, itemId string, item *emby.BaseItem) error
}

// Localizer 演员角色名中文化。优先用本地豆瓣缓存精确匹配，
// 其次按配置做纯英文替换或调用翻译引擎。
type Localizer struct {
	emby       embyApi
	cache      *douban.CacheManager
	translator Translator
	cfg        func() config.ActorLocalizerConfig
	log        *helpers.Logger
}

func New(embyClient embyApi, cache *douban.CacheManager, translator Translator, cfg func() config.ActorLocalizerConfig, log *helpers.Logger) *Localizer {
	return &Localizer{
		emby:       embyClient,
		cache:      cache,
		translator: translator,
		cfg:        cfg,
		log:        log.Cat("演员中文化"),
	}
}

func isPureEnglish(s string) bool {
	return s != "" && pureEnglishPattern.MatchString(s)
}

// cleanDoubanCharacter 去掉豆瓣角色名的"饰"前缀
func cleanDoubanCharacter(character string) string {
	return strings.TrimSpace(rolePrefixPattern.ReplaceAllString(character, ""))
}

// matchDoubanActor 在豆瓣演员表中找对应演员。
// 先按中文名精确匹配，再按拼音/拉丁名比对英文名。
func matchDoubanActor(embyName string, actors []douban.CacheActor) *douban.CacheActor {
	for i := range actors {
		if actors[i].Name == embyName {
			return &actors[i]
		}
	}
	normalized := strings.ToLower(strings.ReplaceAll(embyName, " ", ""))
	if normalized == "" || helpers.HasChinese(embyName) {
		return nil
	}
	for i := range actors {
		latin := strings.ToLower(strings.ReplaceAll(actors[i].LatinName, " ", ""))
		if latin != "" && latin == normalized {
			return &actors[i]
		}
		if helpers.PinyinFull(actors[i].Name) == normalized {
			return &actors[i]
		}
	}
	return nil
}

type pendingTranslation struct {
	name string
	role string
}

// ProcessItem 处理单个媒体项，返回是否发生了更新
func (l *Localizer) ProcessItem(ctx context.Context, itemId string, doubanMap map[string]douban.CacheEntry) (bool, error) {
	cfg := l.cfg()
	item, err := l.emby.GetItem(ctx, itemId, "People,ProviderIds,Name")
	if err != nil {
		return false, err
	}
	l.log.Infof("正在处理: [%s] (ID: %s)", item.Name, itemId)

	doubanId := item.DoubanId()
	if doubanId == "" {
		l.log.Debugf("跳过 %s，无豆瓣ID", item.Name)
		return false, nil
	}

	needsWork := false
	for _, p := range item.People {
		if p.Type == "Actor" && p.Role != "" && !helpers.HasChinese(p.Role) {
			needsWork = true
			break
		}
	}
	if !needsWork {
		l.log.Debugf("跳过 %s，所有角色名均已包含中文或为空", item.Name)
		return false, nil
	}

	doubanItem, ok := doubanMap[doubanId]
	if !ok {
		l.log.Warnf("跳过 %s，本地无豆瓣ID %s 的数据", item.Name, doubanId)
		return false, nil
	}

	limit := cfg.PersonLimit
	if limit <= 0 || limit > len(item.People) {
		limit = len(item.People)
	}

	people := make([]emby.Person, len(item.People))
	copy(people, item.People)
	changed := false
	var pending []pendingTranslation

	for i := 0; i < limit; i++ {
		p := people[i]
		if p.Type != "Actor" || p.Role == "" || helpers.HasChinese(p.Role) {
			continue
		}
		if actor := matchDoubanActor(p.Name, doubanItem.Actors); actor != nil {
			role := cleanDoubanCharacter(actor.Character)
			if role != "" && helpers.HasChinese(role) {
				l.log.Infof("更新: %s: '%s' -> '%s' (来自豆瓣)", p.Name, p.Role, role)
				people[i].Role = role
				changed = true
				continue
			}
		}
		if cfg.ReplaceEnglishRole && isPureEnglish(p.Role) {
			l.log.Infof("更新: %s: '%s' -> '演员' (来自替换)", p.Name, p.Role)
			people[i].Role = "演员"
			changed = true
			continue
		}
		if cfg.TranslationEnabled {
			pending = append(pending, pendingTranslation{name: p.Name, role: p.Role})
		}
	}

	if cfg.TranslationEnabled && len(pending) > 0 {
		if l.translateRoles(ctx, cfg, item.Name, pending, people) {
			changed = true
		}
	}

	if !changed {
		l.log.Infof("处理完成，[%s] 无任何变更", item.Name)
		return false, nil
	}

	full, err := l.emby.GetItem(ctx, itemId, "")
	if err != nil {
		return false, fmt.Errorf("获取完整媒体详情失败: %w", err)
	}
	full.People = people
	if err := l.emby.UpdateItem(ctx, itemId, full); err != nil {
		return false, fmt.Errorf("应用更新到Emby失败: %w", err)
	}
	l.log.Infof("已成功应用 [%s] 的角色更新", item.Name)
	return true, nil
}

// translateRoles 翻译待处理角色并就地写回people，返回是否有变更。
// siliconflow批量模式失败时降级为逐个翻译。
func (l *Localizer) translateRoles(ctx context.Context, cfg config.ActorLocalizerConfig, title string, pending []pendingTranslation, people []emby.Person) bool {
	l.log.Infof("为《%s》收集到 %d 个待翻译角色", title, len(pending))
	changed := false
	apply := func(name, oldRole, newRole, source string) {
		if newRole == "" || newRole == oldRole {
			return
		}
		for i := range people {
			if people[i].Name == name {
				people[i].Role = newRole
				changed = true
				l.log.Infof("更新: %s: '%s' -> '%s' (来自%s)", name, oldRole, newRole, source)
				return
			}
		}
	}

	cooldown := func() {
		if cfg.ApiCooldownEnabled && cfg.ApiCooldownTime > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(time.Duration(cfg.ApiCooldownTime * float64(time.Second))):
			}
		}
	}

	if batch, ok := l.translator.(BatchTranslator); ok && cfg.Siliconflow.BatchTranslationEnabled {
		cooldown()
		roles := make([]string, len(pending))
		for i, p := range pending {
			roles[i] = p.role
		}
		translated, err := l.translateBatchWithRetry(ctx, batch, roles, title)
		if err == nil {
			for i, p := range pending {
				apply(p.name, p.role, translated[i], "批量翻译")
			}
			return changed
		}
		l.log.Warnf("批量翻译失败，将为《%s》逐个翻译: %v", title, err)
	}

	for _, p := range pending {
		if ctx.Err() != nil {
			break
		}
		cooldown()
		newRole, err := l.translateWithRetry(ctx, p.role, title)
		if err != nil {
			l.log.Errorf("翻译 '%s' 失败: %v", p.role, err)
			continue
		}
		apply(p.name, p.role, newRole, "单个翻译")
	}
	return changed
}

func (l *Localizer) translateWithRetry(ctx context.Context, text, title string) (string, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			l.log.Warnf("第 %d/3 次重试翻译: '%s'", attempt+1, text)
		}
		result, err := l.translator.Translate(ctx, text, title)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	return "", lastErr
}

func (l *Localizer) translateBatchWithRetry(ctx context.Context, batch BatchTranslator, texts []string, title string) ([]string, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			l.log.Warnf("第 %d/3 次重试批量翻译 (共 %d 项)", attempt+1, len(texts))
		}
		result, err := batch.TranslateBatch(ctx, texts, title)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// ApplyResult 中文化任务结果
type ApplyResult struct {
	UpdatedCount int `json:"updated_count"`
}

// ApplyTask 对一批媒体项执行中文化的任务体
func (l *Localizer) ApplyTask(itemIds []string) taskcenter.TaskFunc {
	return func(ctx context.Context, h *taskcenter.Handle) (interface{}, error) {
		doubanMap, err := l.cache.Load()
		if err != nil {
			return nil, fmt.Errorf("加载豆瓣缓存失败: %w", err)
		}
		if len(doubanMap) == 0 {
			return nil, fmt.Errorf("本地豆瓣数据库为空，任务中止")
		}
		total := len(itemIds)
		l.log.Infof("任务启动，共需处理 %d 个媒体项", total)
		h.UpdateProgress(0, total)

		result := ApplyResult{}
		for i, itemId := range itemIds {
			if ctx.Err() != nil {
				l.log.Warn("任务被用户取消")
				return result, ctx.Err()
			}
			h.UpdateProgress(i+1, total)
			updated, err := l.ProcessItem(ctx, itemId, doubanMap)
			if err != nil {
				l.log.Errorf("处理媒体项 %s 失败: %v", itemId, err)
				continue
			}
			if updated {
				result.UpdatedCount++
				h.UpdateResult(result)
			}
		}
		l.log.Infof("任务执行完毕，共更新了 %d 个项目的演员角色", result.UpdatedCount)
		return result, nil
	}
}
