package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"EmbyToolbox/internal/helpers"
)

// ErrUnreadable 配置文件存在但无法解析，启动应当中止
var ErrUnreadable = errors.New("配置文件存在但无法解析")

// Store 独占管理磁盘上的配置文档
type Store struct {
	path string
	mu   sync.Mutex
	log  *helpers.Logger
}

func NewStore(path string, log *helpers.Logger) *Store {
	return &Store{path: path, log: log.Cat("配置")}
}

func (s *Store) Path() string { return s.path }

type sectionSlot struct {
	key string
	ptr func(*AppConfig) interface{}
	def func(*AppConfig, *AppConfig)
}

func sectionSlots() []sectionSlot {
	return []sectionSlot{
		{"server", func(c *AppConfig) interface{} { return &c.Server }, func(c, d *AppConfig) { c.Server = d.Server }},
		{"download", func(c *AppConfig) interface{} { return &c.Download }, func(c, d *AppConfig) { c.Download = d.Download }},
		{"tmdb", func(c *AppConfig) interface{} { return &c.Tmdb }, func(c, d *AppConfig) { c.Tmdb = d.Tmdb }},
		{"proxy", func(c *AppConfig) interface{} { return &c.Proxy }, func(c, d *AppConfig) { c.Proxy = d.Proxy }},
		{"douban", func(c *AppConfig) interface{} { return &c.Douban }, func(c, d *AppConfig) { c.Douban = d.Douban }},
		{"actor_localizer", func(c *AppConfig) interface{} { return &c.ActorLocalizer }, func(c, d *AppConfig) { c.ActorLocalizer = d.ActorLocalizer }},
		{"douban_fixer", func(c *AppConfig) interface{} { return &c.DoubanFixer }, func(c, d *AppConfig) { c.DoubanFixer = d.DoubanFixer }},
		{"scheduled_tasks", func(c *AppConfig) interface{} { return &c.ScheduledTasks }, func(c, d *AppConfig) { c.ScheduledTasks = d.ScheduledTasks }},
		{"douban_poster_updater", func(c *AppConfig) interface{} { return &c.DoubanPosterUpdater }, func(c, d *AppConfig) { c.DoubanPosterUpdater = d.DoubanPosterUpdater }},
		{"webhook", func(c *AppConfig) interface{} { return &c.Webhook }, func(c, d *AppConfig) { c.Webhook = d.Webhook }},
		{"episode_refresher", func(c *AppConfig) interface{} { return &c.EpisodeRefresher }, func(c, d *AppConfig) { c.EpisodeRefresher = d.EpisodeRefresher }},
		{"episode_renamer", func(c *AppConfig) interface{} { return &c.EpisodeRenamer }, func(c, d *AppConfig) { c.EpisodeRenamer = d.EpisodeRenamer }},
		{"poster_manager", func(c *AppConfig) interface{} { return &c.PosterManager }, func(c, d *AppConfig) { c.PosterManager = d.PosterManager }},
		{"telegram", func(c *AppConfig) interface{} { return &c.Telegram }, func(c, d *AppConfig) { c.Telegram = d.Telegram }},
		{"trakt", func(c *AppConfig) interface{} { return &c.Trakt }, func(c, d *AppConfig) { c.Trakt = d.Trakt }},
		{"signin", func(c *AppConfig) interface{} { return &c.Signin }, func(c, d *AppConfig) { c.Signin = d.Signin }},
		{"chasing_center", func(c *AppConfig) interface{} { return &c.ChasingCenter }, func(c, d *AppConfig) { c.ChasingCenter = d.ChasingCenter }},
		{"upcoming", func(c *AppConfig) interface{} { return &c.Upcoming }, func(c, d *AppConfig) { c.Upcoming = d.Upcoming }},
		{"actor_role_mapper", func(c *AppConfig) interface{} { return &c.ActorRoleMapper }, func(c, d *AppConfig) { c.ActorRoleMapper = d.ActorRoleMapper }},
		{"genre_mapping", func(c *AppConfig) interface{} { return &c.GenreMapping }, func(c, d *AppConfig) { c.GenreMapping = d.GenreMapping }},
	}
}

// Load 读取配置文档。文件缺失时落盘一份缺省配置；
// 缺失或结构损坏的小节回填缺省值；跑过迁移后整体重写文件。
func (s *Store) Load() (*AppConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !helpers.PathExists(s.path) {
		cfg := Default()
		if err := s.write(cfg); err != nil {
			return nil, err
		}
		s.log.Infof("未发现配置文件，已写入缺省配置: %s", s.path)
		return cfg, nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var doc map[string]interface{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
		}
	}
	if doc == nil {
		doc = map[string]interface{}{}
	}

	migrated := s.migrate(doc)

	raw := map[string]json.RawMessage{}
	docBytes, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(docBytes, &raw); err != nil {
		return nil, err
	}

	cfg := Default()
	known := map[string]bool{}
	for _, slot := range sectionSlots() {
		known[slot.key] = true
		section, ok := raw[slot.key]
		if !ok {
			migrated = true
			continue
		}
		if err := json.Unmarshal(section, slot.ptr(cfg)); err != nil {
			s.log.Warnf("配置小节 %s 结构无效，回填缺省值: %v", slot.key, err)
			slot.def(cfg, Default())
			migrated = true
		}
	}

	// 未知顶层键保留，保存时原样写回
	cfg.Extra = map[string]json.RawMessage{}
	for k, v := range raw {
		if !known[k] {
			cfg.Extra[k] = v
		}
	}

	if s.backfill(cfg) {
		migrated = true
	}

	if migrated {
		if err := s.write(cfg); err != nil {
			return nil, err
		}
		s.log.Info("配置文件已迁移到最新结构并重写")
	}
	return cfg, nil
}

// migrate 在原始文档上执行命名迁移，返回是否有改动
func (s *Store) migrate(doc map[string]interface{}) bool {
	changed := false

	// 旧版 actor_localizer.siliconflow.timeout 拆分为单个/批量两个超时
	if sf, ok := dig(doc, "actor_localizer", "siliconflow"); ok {
		if t, has := sf["timeout"]; has {
			old := toInt(t, 20)
			if _, ok := sf["timeout_single"]; !ok {
				sf["timeout_single"] = old
			}
			if _, ok := sf["timeout_batch"]; !ok {
				batch := old + 25
				if batch < 45 {
					batch = 45
				}
				sf["timeout_batch"] = batch
			}
			delete(sf, "timeout")
			s.log.Info("检测到旧的 timeout 配置，已迁移为 timeout_single / timeout_batch")
			changed = true
		}
	}

	// 旧版 local_screenshot_caching_enabled 迁移为 screenshot_cache_mode
	if er, ok := dig(doc, "episode_refresher"); ok {
		if v, has := er["local_screenshot_caching_enabled"]; has {
			if _, ok := er["screenshot_cache_mode"]; !ok {
				if b, _ := v.(bool); b {
					er["screenshot_cache_mode"] = "local"
				} else {
					er["screenshot_cache_mode"] = "none"
				}
			}
			delete(er, "local_screenshot_caching_enabled")
			s.log.Info("检测到旧的截图缓存开关，已迁移为 screenshot_cache_mode")
			changed = true
		}
		if gh, ok := dig(er, "github"); ok {
			if _, has := gh["download_cooldown"]; !has {
				gh["download_cooldown"] = 0.5
				changed = true
			}
			if _, has := gh["upload_cooldown"]; !has {
				gh["upload_cooldown"] = 1.0
				changed = true
			}
		}
	}

	// 已废弃的字幕处理器小节直接删除
	if _, has := doc["subtitle_processor"]; has {
		delete(doc, "subtitle_processor")
		changed = true
	}

	return changed
}

// backfill 在类型化配置上补齐衍生缺省值，返回是否有改动
func (s *Store) backfill(cfg *AppConfig) bool {
	changed := false
	if len(cfg.GenreMapping) == 0 {
		cfg.GenreMapping = copyGenreMap()
		changed = true
	}
	if cfg.Webhook.InitialWaitTime <= 0 {
		cfg.Webhook.InitialWaitTime = 30
		changed = true
	}
	if cfg.Webhook.PluginWaitTime <= 0 {
		cfg.Webhook.PluginWaitTime = 60
		changed = true
	}
	if cfg.PosterManager.RepositorySizeThresholdMb <= 0 {
		cfg.PosterManager.RepositorySizeThresholdMb = 900
		changed = true
	}
	if cfg.Signin.Modules == nil {
		cfg.Signin.Modules = map[string]SigninModuleConfig{}
		changed = true
	}
	// 补齐缺失的默认定时任务条目
	existing := map[string]bool{}
	for _, t := range cfg.ScheduledTasks.Tasks {
		existing[t.Id] = true
	}
	for _, def := range DefaultScheduledTasks() {
		if !existing[def.Id] {
			cfg.ScheduledTasks.Tasks = append(cfg.ScheduledTasks.Tasks, def)
			changed = true
		}
	}
	return changed
}

// Save 整体序列化写盘，不暴露部分写
func (s *Store) Save(cfg *AppConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.write(cfg); err != nil {
		return err
	}
	helpers.Publish(helpers.ConfigSavedEvent, nil)
	return nil
}

func (s *Store) write(cfg *AppConfig) error {
	if len(cfg.Extra) == 0 {
		return helpers.WriteJSONAtomic(s.path, cfg)
	}
	structBytes, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	merged := map[string]json.RawMessage{}
	if err := json.Unmarshal(structBytes, &merged); err != nil {
		return err
	}
	for k, v := range cfg.Extra {
		if _, clash := merged[k]; !clash {
			merged[k] = v
		}
	}
	return helpers.WriteJSONAtomic(s.path, merged)
}

func dig(m map[string]interface{}, keys ...string) (map[string]interface{}, bool) {
	cur := m
	for _, k := range keys {
		next, ok := cur[k].(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func toInt(v interface{}, def int) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case json.Number:
		i, err := n.Int64()
		if err == nil {
			return int(i)
		}
	}
	return def
}
