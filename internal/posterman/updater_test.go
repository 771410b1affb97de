package posterman

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"EmbyToolbox/internal/config"
	"EmbyToolbox/internal/douban"
	"EmbyToolbox/internal/emby"
	"EmbyToolbox/internal/helpers"
	"EmbyToolbox/internal/taskcenter"
)

func newUpdater(t *testing.T, fake *fakeEmby, cache map[string]douban.CacheEntry,
	cfg config.DoubanPosterUpdaterConfig) *Updater {
	t.Helper()
	logger, err := helpers.NewLogger(filepath.Join(t.TempDir(), "app.log"), false, false)
	require.NoError(t, err)
	fetch := func(_ context.Context, url string) ([]byte, string, error) {
		return []byte("douban:" + url), "image/webp", nil
	}
	load := func() (map[string]douban.CacheEntry, error) { return cache, nil }
	return NewUpdater(fake, load, fetch, func() config.DoubanPosterUpdaterConfig { return cfg }, logger)
}

func TestDoubanPosterTag(t *testing.T) {
	assert.Equal(t, "p2561716440", DoubanPosterTag("https://img1.doubanio.com/view/photo/l/public/p2561716440.webp"))
	assert.Empty(t, DoubanPosterTag("https://img1.doubanio.com/no-tag.jpg"))
}

func TestUpdaterRunUpdatesPosterAndTag(t *testing.T) {
	fake := &fakeEmby{items: map[string]*emby.BaseItem{
		"m1": {Id: "m1", Name: "电影一", ProviderIds: map[string]string{"Douban": "123"}},
	}}
	cache := map[string]douban.CacheEntry{
		"123": {Pic: map[string]string{"large": "https://img.example/p999.webp"}},
	}
	u := newUpdater(t, fake, cache, config.DoubanPosterUpdaterConfig{})

	res, err := u.Run(context.Background(), taskcenter.NewNopHandle(), []string{"m1"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.UpdatedCount)

	assert.Equal(t, []byte("douban:https://img.example/p999.webp"), fake.uploaded["m1/Primary"])
	assert.Contains(t, fake.deleted, "m1/Primary")
	require.NotNil(t, fake.updated["m1"])
	assert.Equal(t, "p999", fake.updated["m1"].ProviderIds["DbPosterTag"])
}

func TestUpdaterRunSkipsUnchangedTag(t *testing.T) {
	fake := &fakeEmby{items: map[string]*emby.BaseItem{
		"m1": {Id: "m1", Name: "电影一", ProviderIds: map[string]string{
			"Douban":      "123",
			"DbPosterTag": "p999",
		}},
	}}
	cache := map[string]douban.CacheEntry{
		"123": {Pic: map[string]string{"large": "https://img.example/p999.webp"}},
	}
	u := newUpdater(t, fake, cache, config.DoubanPosterUpdaterConfig{})

	res, err := u.Run(context.Background(), taskcenter.NewNopHandle(), []string{"m1"})
	require.NoError(t, err)
	assert.Equal(t, 0, res.UpdatedCount)
	assert.Equal(t, 1, res.SkippedCount)
	assert.Empty(t, fake.uploaded)
}

func TestUpdaterRunOverwriteIgnoresTag(t *testing.T) {
	fake := &fakeEmby{items: map[string]*emby.BaseItem{
		"m1": {Id: "m1", Name: "电影一", ProviderIds: map[string]string{
			"Douban":      "123",
			"DbPosterTag": "p999",
		}},
	}}
	cache := map[string]douban.CacheEntry{
		"123": {Pic: map[string]string{"large": "https://img.example/p999.webp"}},
	}
	u := newUpdater(t, fake, cache, config.DoubanPosterUpdaterConfig{OverwriteExisting: true})

	res, err := u.Run(context.Background(), taskcenter.NewNopHandle(), []string{"m1"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.UpdatedCount)
	assert.NotEmpty(t, fake.uploaded["m1/Primary"])
}

func TestUpdaterRunSkipsMainlandChina(t *testing.T) {
	fake := &fakeEmby{items: map[string]*emby.BaseItem{
		"m1": {Id: "m1", Name: "国产片", ProviderIds: map[string]string{"Douban": "123"}},
	}}
	cache := map[string]douban.CacheEntry{
		"123": {
			Countries: []string{"中国大陆"},
			Pic:       map[string]string{"large": "https://img.example/p999.webp"},
		},
	}
	u := newUpdater(t, fake, cache, config.DoubanPosterUpdaterConfig{SkipMainlandChina: true})

	res, err := u.Run(context.Background(), taskcenter.NewNopHandle(), []string{"m1"})
	require.NoError(t, err)
	assert.Equal(t, 0, res.UpdatedCount)
	assert.Empty(t, fake.uploaded)
}

func TestUpdaterRunSkipsMissingDoubanId(t *testing.T) {
	fake := &fakeEmby{items: map[string]*emby.BaseItem{
		"m1": {Id: "m1", Name: "无豆瓣ID"},
	}}
	cache := map[string]douban.CacheEntry{
		"123": {Pic: map[string]string{"large": "https://img.example/p1.webp"}},
	}
	u := newUpdater(t, fake, cache, config.DoubanPosterUpdaterConfig{})

	res, err := u.Run(context.Background(), taskcenter.NewNopHandle(), []string{"m1"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.SkippedCount)
}

func TestUpdaterRunEmptyCacheFails(t *testing.T) {
	u := newUpdater(t, &fakeEmby{}, nil, config.DoubanPosterUpdaterConfig{})
	_, err := u.Run(context.Background(), taskcenter.NewNopHandle(), []string{"m1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "豆瓣数据库为空")
}
