package webhook

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"EmbyToolbox/internal/config"
	"EmbyToolbox/internal/emby"
	"EmbyToolbox/internal/helpers"
	"EmbyToolbox/internal/taskcenter"
)

type fakeEmby struct {
	mu    sync.Mutex
	items map[string]*emby.BaseItem
}

func (f *fakeEmby) GetItem(_ context.Context, itemId, _ string) (*emby.BaseItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[itemId]
	if !ok {
		return nil, os.ErrNotExist
	}
	clone := *item
	clone.ProviderIds = map[string]string{}
	for k, v := range item.ProviderIds {
		clone.ProviderIds[k] = v
	}
	return &clone, nil
}

func (f *fakeEmby) UpdateItem(_ context.Context, itemId string, item *emby.BaseItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[itemId] = item
	return nil
}

func (f *fakeEmby) provider(itemId, key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if item := f.items[itemId]; item != nil {
		return item.ProviderIds[key]
	}
	return ""
}

type fakeFixer struct {
	emby *fakeEmby
	id   string // 修复成功后写入的豆瓣ID，空表示修复失败
	runs int
}

func (f *fakeFixer) FixItem(_ context.Context, itemId string) (bool, error) {
	f.runs++
	if f.id == "" {
		return false, nil
	}
	f.emby.mu.Lock()
	defer f.emby.mu.Unlock()
	if item := f.emby.items[itemId]; item != nil {
		if item.ProviderIds == nil {
			item.ProviderIds = map[string]string{}
		}
		item.ProviderIds["Douban"] = f.id
	}
	return true, nil
}

type fakeCache struct {
	mu     sync.Mutex
	synced []string
	err    error
}

func (f *fakeCache) SyncEntryFromDirectory(_, doubanId string, _ []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.synced = append(f.synced, doubanId)
	return f.err
}

type pipelineEnv struct {
	emby      *fakeEmby
	fixer     *fakeFixer
	cache     *fakeCache
	localized []string
	postered  []string
	pipeline  *Pipeline
}

func newEnv(t *testing.T, fake *fakeEmby, fixer *fakeFixer, cache *fakeCache) *pipelineEnv {
	t.Helper()
	logger, err := helpers.NewLogger(filepath.Join(t.TempDir(), "app.log"), false, false)
	require.NoError(t, err)

	env := &pipelineEnv{emby: fake, fixer: fixer, cache: cache}
	localize := func(_ context.Context, itemId string) error {
		env.localized = append(env.localized, itemId)
		return nil
	}
	poster := func(_ context.Context, _ *taskcenter.Handle, itemIds []string) error {
		env.postered = append(env.postered, itemIds...)
		return nil
	}
	env.pipeline = NewPipeline(fake, fixer, cache, localize, poster,
		taskcenter.NewManager(logger),
		func() config.WebhookConfig { return config.WebhookConfig{Enabled: true} },
		func() config.DoubanConfig { return config.DoubanConfig{Directory: "/douban"} },
		logger)
	return env
}

func TestRunChainHappyPath(t *testing.T) {
	fake := &fakeEmby{items: map[string]*emby.BaseItem{
		"e1": {Id: "e1", Name: "电影一", Type: "Movie", ProviderIds: map[string]string{}},
	}}
	fixer := &fakeFixer{emby: fake, id: "db1"}
	env := newEnv(t, fake, fixer, &fakeCache{})

	err := env.pipeline.runChain(context.Background(), taskcenter.NewNopHandle(), "e1", "电影一")
	require.NoError(t, err)

	assert.Equal(t, 1, fixer.runs)
	assert.Equal(t, []string{"db1"}, env.cache.synced)
	assert.Equal(t, []string{"e1"}, env.localized)
	assert.Equal(t, []string{"e1"}, env.postered)
	assert.NotEmpty(t, fake.provider("e1", SentinelKey))
}

func TestRunChainSentinelAborts(t *testing.T) {
	fake := &fakeEmby{items: map[string]*emby.BaseItem{
		"e1": {Id: "e1", Name: "电影一", ProviderIds: map[string]string{
			SentinelKey: "2026-01-01T00:00:00Z",
			"Douban":    "db1",
		}},
	}}
	fixer := &fakeFixer{emby: fake, id: "db1"}
	env := newEnv(t, fake, fixer, &fakeCache{})

	err := env.pipeline.runChain(context.Background(), taskcenter.NewNopHandle(), "e1", "电影一")
	require.NoError(t, err)
	assert.Zero(t, fixer.runs)
	assert.Empty(t, env.cache.synced)
	assert.Empty(t, env.localized)
}

func TestRunChainFixerFailureAborts(t *testing.T) {
	fake := &fakeEmby{items: map[string]*emby.BaseItem{
		"e1": {Id: "e1", Name: "电影一", ProviderIds: map[string]string{}},
	}}
	env := newEnv(t, fake, &fakeFixer{emby: fake}, &fakeCache{})

	err := env.pipeline.runChain(context.Background(), taskcenter.NewNopHandle(), "e1", "电影一")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "未能获取到")
	assert.Empty(t, env.cache.synced)
	assert.Empty(t, fake.provider("e1", SentinelKey))
}

func TestRunChainCacheSyncFailureAborts(t *testing.T) {
	fake := &fakeEmby{items: map[string]*emby.BaseItem{
		"e1": {Id: "e1", Name: "电影一", ProviderIds: map[string]string{"Douban": "db1"}},
	}}
	env := newEnv(t, fake, &fakeFixer{emby: fake}, &fakeCache{err: errors.New("目录不存在")})

	err := env.pipeline.runChain(context.Background(), taskcenter.NewNopHandle(), "e1", "电影一")
	require.Error(t, err)
	assert.Empty(t, env.localized)
	assert.Empty(t, fake.provider("e1", SentinelKey))
}

func TestRunChainLocalizeFailureContinues(t *testing.T) {
	fake := &fakeEmby{items: map[string]*emby.BaseItem{
		"e1": {Id: "e1", Name: "电影一", ProviderIds: map[string]string{"Douban": "db1"}},
	}}
	env := newEnv(t, fake, &fakeFixer{emby: fake}, &fakeCache{})
	env.pipeline.localize = func(_ context.Context, _ string) error {
		return errors.New("翻译服务不可用")
	}

	err := env.pipeline.runChain(context.Background(), taskcenter.NewNopHandle(), "e1", "电影一")
	require.NoError(t, err)
	assert.Equal(t, []string{"e1"}, env.postered)
	assert.NotEmpty(t, fake.provider("e1", SentinelKey))
}

func TestHandlePayloadDedupAndEvents(t *testing.T) {
	fake := &fakeEmby{items: map[string]*emby.BaseItem{
		"e1": {Id: "e1", Name: "电影一", ProviderIds: map[string]string{}},
	}}
	env := newEnv(t, fake, &fakeFixer{emby: fake}, &fakeCache{})

	payload := Payload{Event: "item.add"}
	payload.Item.Id = "e1"
	payload.Item.Name = "电影一"
	payload.Item.Type = "Movie"

	queued, err := env.pipeline.HandlePayload(context.Background(), payload)
	require.NoError(t, err)
	assert.True(t, queued)

	// 同一媒体项在处理完成前丢弃重复通知
	queued, err = env.pipeline.HandlePayload(context.Background(), payload)
	require.NoError(t, err)
	assert.False(t, queued)
	assert.Len(t, env.pipeline.queue, 1)

	// 无关事件被忽略
	other := payload
	other.Event = "playback.start"
	queued, err = env.pipeline.HandlePayload(context.Background(), other)
	require.NoError(t, err)
	assert.False(t, queued)
}

func TestHandlePayloadDisabled(t *testing.T) {
	fake := &fakeEmby{items: map[string]*emby.BaseItem{
		"e1": {Id: "e1", Name: "电影一", ProviderIds: map[string]string{}},
	}}
	env := newEnv(t, fake, &fakeFixer{emby: fake}, &fakeCache{})
	env.pipeline.cfg = func() config.WebhookConfig { return config.WebhookConfig{Enabled: false} }

	payload := Payload{Event: "item.add"}
	payload.Item.Id = "e1"
	payload.Item.Name = "电影一"
	payload.Item.Type = "Movie"

	queued, err := env.pipeline.HandlePayload(context.Background(), payload)
	require.NoError(t, err)
	assert.False(t, queued)
	assert.Empty(t, env.pipeline.queue)
}

func TestHandlePayloadLiftsEpisodeToSeries(t *testing.T) {
	fake := &fakeEmby{items: map[string]*emby.BaseItem{
		"ep1": {Id: "ep1", Name: "第1集", SeriesId: "s1", SeriesName: "剧集一"},
	}}
	env := newEnv(t, fake, &fakeFixer{emby: fake}, &fakeCache{})

	payload := Payload{Event: "library.new"}
	payload.Item.Id = "ep1"
	payload.Item.Name = "第1集"
	payload.Item.Type = "Episode"

	queued, err := env.pipeline.HandlePayload(context.Background(), payload)
	require.NoError(t, err)
	assert.True(t, queued)
	require.Len(t, env.pipeline.queue, 1)
	assert.Equal(t, "s1", env.pipeline.queue[0].id)
	assert.Equal(t, "剧集一", env.pipeline.queue[0].name)
}

func TestWorkerProcessesQueue(t *testing.T) {
	fake := &fakeEmby{items: map[string]*emby.BaseItem{
		"e1": {Id: "e1", Name: "电影一", ProviderIds: map[string]string{"Douban": "db1"}},
	}}
	env := newEnv(t, fake, &fakeFixer{emby: fake}, &fakeCache{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go env.pipeline.Run(ctx)

	payload := Payload{Event: "item.add"}
	payload.Item.Id = "e1"
	payload.Item.Type = "Movie"
	_, err := env.pipeline.HandlePayload(context.Background(), payload)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return fake.provider("e1", SentinelKey) != ""
	}, 5*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		env.pipeline.mu.Lock()
		defer env.pipeline.mu.Unlock()
		return len(env.pipeline.inFlight) == 0
	}, 5*time.Second, 20*time.Millisecond)
}
