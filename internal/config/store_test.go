package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"EmbyToolbox/internal/helpers"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	logger, err := helpers.NewLogger(filepath.Join(dir, "app.log"), false, false)
	require.NoError(t, err)
	return NewStore(path, logger), path
}

func TestLoadCreatesDefaultWhenMissing(t *testing.T) {
	store, path := newTestStore(t)

	cfg, err := store.Load()
	require.NoError(t, err)

	assert.Equal(t, "blacklist", cfg.Proxy.Mode)
	assert.Equal(t, 45, cfg.ActorLocalizer.Siliconflow.TimeoutBatch)
	assert.True(t, helpers.PathExists(path))
}

func TestLoadUnreadableAborts(t *testing.T) {
	store, path := newTestStore(t)
	require.NoError(t, os.WriteFile(path, []byte("{broken json"), 0o644))

	_, err := store.Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnreadable)
}

func TestMigrateSiliconflowTimeoutSplit(t *testing.T) {
	store, path := newTestStore(t)
	doc := map[string]interface{}{
		"actor_localizer": map[string]interface{}{
			"siliconflow": map[string]interface{}{
				"timeout": 30,
			},
		},
	}
	data, _ := json.Marshal(doc)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := store.Load()
	require.NoError(t, err)

	assert.Equal(t, 30, cfg.ActorLocalizer.Siliconflow.TimeoutSingle)
	assert.Equal(t, 55, cfg.ActorLocalizer.Siliconflow.TimeoutBatch)

	// 迁移后重写的文件里不应再有旧键
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), `"timeout":`)
}

func TestMigrateSiliconflowTimeoutFloor(t *testing.T) {
	store, path := newTestStore(t)
	data, _ := json.Marshal(map[string]interface{}{
		"actor_localizer": map[string]interface{}{
			"siliconflow": map[string]interface{}{"timeout": 10},
		},
	})
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.ActorLocalizer.Siliconflow.TimeoutSingle)
	assert.Equal(t, 45, cfg.ActorLocalizer.Siliconflow.TimeoutBatch)
}

func TestMigrateScreenshotCacheMode(t *testing.T) {
	store, path := newTestStore(t)
	data, _ := json.Marshal(map[string]interface{}{
		"episode_refresher": map[string]interface{}{
			"local_screenshot_caching_enabled": true,
		},
	})
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "local", cfg.EpisodeRefresher.ScreenshotCacheMode)
	// 冷却时间同步回填
	assert.Equal(t, 0.5, cfg.EpisodeRefresher.Github.DownloadCooldown)
	assert.Equal(t, 1.0, cfg.EpisodeRefresher.Github.UploadCooldown)
}

func TestMigrateDropsSubtitleProcessor(t *testing.T) {
	store, path := newTestStore(t)
	data, _ := json.Marshal(map[string]interface{}{
		"subtitle_processor": map[string]interface{}{"enabled": true},
	})
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := store.Load()
	require.NoError(t, err)
	_, kept := cfg.Extra["subtitle_processor"]
	assert.False(t, kept)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "subtitle_processor")
}

func TestUnknownKeysPreserved(t *testing.T) {
	store, path := newTestStore(t)
	data, _ := json.Marshal(map[string]interface{}{
		"server":     map[string]interface{}{"server": "http://emby:8096"},
		"my_plugin":  map[string]interface{}{"flag": true},
	})
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := store.Load()
	require.NoError(t, err)
	require.NoError(t, store.Save(cfg))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Contains(t, doc, "my_plugin")
	assert.Equal(t, "http://emby:8096", cfg.Server.Server)
}

func TestInvalidSectionFallsBackToDefault(t *testing.T) {
	store, path := newTestStore(t)
	data, _ := json.Marshal(map[string]interface{}{
		"proxy": "not an object",
	})
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "blacklist", cfg.Proxy.Mode)
}

func TestScheduledTasksTopUp(t *testing.T) {
	store, path := newTestStore(t)
	data, _ := json.Marshal(map[string]interface{}{
		"scheduled_tasks": map[string]interface{}{
			"tasks": []map[string]interface{}{
				{"id": "actor_localizer", "name": "演员中文化", "enabled": true, "cron": "0 3 * * *"},
			},
		},
	})
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := store.Load()
	require.NoError(t, err)

	ids := map[string]ScheduledTaskItem{}
	for _, item := range cfg.ScheduledTasks.Tasks {
		ids[item.Id] = item
	}
	assert.Len(t, cfg.ScheduledTasks.Tasks, len(DefaultScheduledTasks()))
	// 已有条目保留用户设置
	assert.True(t, ids["actor_localizer"].Enabled)
	assert.Equal(t, "0 3 * * *", ids["actor_localizer"].Cron)
	assert.Contains(t, ids, "episode_renamer")
}

func TestLoadSaveRoundTripStable(t *testing.T) {
	store, _ := newTestStore(t)
	cfg, err := store.Load()
	require.NoError(t, err)

	cfg.Server.ApiKey = "abc123"
	require.NoError(t, store.Save(cfg))

	again, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "abc123", again.Server.ApiKey)
	assert.Equal(t, cfg.GenreMapping, again.GenreMapping)
}
