package posterman

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"EmbyToolbox/internal/config"
	"EmbyToolbox/internal/emby"
	"EmbyToolbox/internal/githubstore"
	"EmbyToolbox/internal/helpers"
	"EmbyToolbox/internal/taskcenter"
)

type fakeEmby struct {
	items    map[string]*emby.BaseItem
	images   map[string][]byte // itemId/imageType -> 原图数据
	uploaded map[string][]byte
	deleted  []string
	updated  map[string]*emby.BaseItem
}

func (f *fakeEmby) GetItem(_ context.Context, itemId, _ string) (*emby.BaseItem, error) {
	item, ok := f.items[itemId]
	if !ok {
		return nil, fmt.Errorf("未找到条目 %s", itemId)
	}
	clone := *item
	if item.ProviderIds != nil {
		clone.ProviderIds = map[string]string{}
		for k, v := range item.ProviderIds {
			clone.ProviderIds[k] = v
		}
	}
	return &clone, nil
}

func (f *fakeEmby) DownloadImage(_ context.Context, itemId, imageType string) ([]byte, string, error) {
	data, ok := f.images[itemId+"/"+imageType]
	if !ok {
		return nil, "", fmt.Errorf("条目 %s 没有 %s 图片", itemId, imageType)
	}
	return data, "image/jpeg", nil
}

func (f *fakeEmby) UploadImage(_ context.Context, itemId, imageType string, data []byte, _ string) error {
	if f.uploaded == nil {
		f.uploaded = map[string][]byte{}
	}
	f.uploaded[itemId+"/"+imageType] = data
	return nil
}

func (f *fakeEmby) DeleteImage(_ context.Context, itemId, imageType string, _ int) error {
	f.deleted = append(f.deleted, itemId+"/"+imageType)
	return nil
}

func (f *fakeEmby) UpdateItem(_ context.Context, itemId string, item *emby.BaseItem) error {
	if f.updated == nil {
		f.updated = map[string]*emby.BaseItem{}
	}
	f.updated[itemId] = item
	f.items[itemId] = item
	return nil
}

func newManager(t *testing.T, fake *fakeEmby, ids []string, cfg config.PosterManagerConfig) *Manager {
	t.Helper()
	dir := t.TempDir()
	logger, err := helpers.NewLogger(filepath.Join(dir, "app.log"), false, false)
	require.NoError(t, err)
	resolve := func(context.Context, config.TargetScope, string) ([]string, error) {
		return ids, nil
	}
	return NewManager(fake, resolve, nil, nil,
		func() config.PosterManagerConfig { return cfg }, nil, dir, logger)
}

func writeCacheFile(t *testing.T, cachePath, tmdbId, filename string) string {
	t.Helper()
	dir := filepath.Join(cachePath, tmdbId)
	require.NoError(t, os.MkdirAll(dir, 0755))
	path := filepath.Join(dir, filename)
	require.NoError(t, os.WriteFile(path, []byte("image-"+filename), 0644))
	return path
}

func TestScanLocalCache(t *testing.T) {
	cachePath := t.TempDir()
	writeCacheFile(t, cachePath, "100", "poster.jpg")
	writeCacheFile(t, cachePath, "100", "clearlogo.png")
	writeCacheFile(t, cachePath, "200", "fanart.jpg")

	fake := &fakeEmby{items: map[string]*emby.BaseItem{
		"m1": {Id: "m1", Name: "电影一", ProviderIds: map[string]string{"Tmdb": "100"}},
		"m2": {Id: "m2", Name: "电影二", ProviderIds: map[string]string{"Tmdb": "200"}},
		"m3": {Id: "m3", Name: "无ID电影"},
	}}
	m := newManager(t, fake, nil, config.PosterManagerConfig{LocalCachePath: cachePath})

	candidates, err := m.scanLocalCache(context.Background(),
		[]string{"m1", "m2", "m3"}, AllContentTypes())
	require.NoError(t, err)
	require.Len(t, candidates, 3)

	byKey := map[string]githubstore.Candidate{}
	for _, c := range candidates {
		byKey[c.Key()] = c
	}
	assert.Equal(t, "images/100/poster.jpg", byKey["100-poster"].RemotePath)
	assert.Equal(t, "images/100/clearlogo.png", byKey["100-logo"].RemotePath)
	assert.Equal(t, "images/200/fanart.jpg", byKey["200-fanart"].RemotePath)
}

func TestScanLocalCacheInvalidPath(t *testing.T) {
	m := newManager(t, &fakeEmby{}, nil, config.PosterManagerConfig{})
	_, err := m.scanLocalCache(context.Background(), []string{"m1"}, AllContentTypes())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "本地缓存路径")
}

func TestRestoreFromLocalTask(t *testing.T) {
	cachePath := t.TempDir()
	writeCacheFile(t, cachePath, "100", "poster.jpg")
	writeCacheFile(t, cachePath, "200", "poster.jpg")

	fake := &fakeEmby{items: map[string]*emby.BaseItem{
		// m1没有主图，需要恢复
		"m1": {Id: "m1", Name: "电影一", ProviderIds: map[string]string{"Tmdb": "100"}},
		// m2已有主图，未开覆盖时跳过
		"m2": {
			Id: "m2", Name: "电影二",
			ProviderIds: map[string]string{"Tmdb": "200"},
			ImageTags:   map[string]string{"Primary": "tag"},
		},
	}}
	m := newManager(t, fake, []string{"m1", "m2"},
		config.PosterManagerConfig{LocalCachePath: cachePath})

	fn := m.RestoreFromLocalTask(config.TargetScope{Mode: "by_search"}, []string{ContentPoster})
	res, err := fn(context.Background(), taskcenter.NewNopHandle())
	require.NoError(t, err)

	result := res.(map[string]int)
	assert.Equal(t, 1, result["restored_count"])
	assert.Equal(t, []byte("image-poster.jpg"), fake.uploaded["m1/Primary"])
	assert.NotContains(t, fake.uploaded, "m2/Primary")
	// 上传前先删掉旧图
	assert.Contains(t, fake.deleted, "m1/Primary")
}

func TestRestoreFromLocalTaskOverwrite(t *testing.T) {
	cachePath := t.TempDir()
	writeCacheFile(t, cachePath, "200", "poster.jpg")

	fake := &fakeEmby{items: map[string]*emby.BaseItem{
		"m2": {
			Id: "m2", Name: "电影二",
			ProviderIds: map[string]string{"Tmdb": "200"},
			ImageTags:   map[string]string{"Primary": "tag"},
		},
	}}
	m := newManager(t, fake, []string{"m2"}, config.PosterManagerConfig{
		LocalCachePath:     cachePath,
		OverwriteOnRestore: true,
	})

	fn := m.RestoreFromLocalTask(config.TargetScope{Mode: "by_search"}, []string{ContentPoster})
	res, err := fn(context.Background(), taskcenter.NewNopHandle())
	require.NoError(t, err)
	assert.Equal(t, 1, res.(map[string]int)["restored_count"])
	assert.NotEmpty(t, fake.uploaded["m2/Primary"])
}

func TestBuildRestorePlanSkipsMissingRemote(t *testing.T) {
	fake := &fakeEmby{items: map[string]*emby.BaseItem{
		"m1": {Id: "m1", Name: "电影一", ProviderIds: map[string]string{"Tmdb": "100"}},
	}}
	m := newManager(t, fake, nil, config.PosterManagerConfig{})

	remote := map[string]githubstore.ImageEntry{"100-poster": {Size: 1}}
	plan := m.buildRestorePlan(context.Background(), []string{"m1"},
		AllContentTypes(), remote, false)
	require.Len(t, plan, 1)
	assert.Equal(t, ContentPoster, plan[0].ContentType)
	assert.Equal(t, "100", plan[0].TmdbId)
}

func TestStatsFromIndex(t *testing.T) {
	remote := map[string]githubstore.ImageEntry{
		"100-poster":             {Size: 10},
		"100-logo":               {Size: 20},
		"200-fanart":             {Size: 30},
		"300-season-1-episode-2": {Size: 40},
	}
	cfg := config.PosterManagerConfig{
		RepositorySizeThresholdMb: 100,
		GithubRepos: []config.GithubRepoConfig{
			{
				RepoUrl: "https://github.com/user/repo1",
				State:   config.GithubRepoState{SizeBytes: 60, LastChecked: "2026-08-30T00:00:00Z"},
			},
			{RepoUrl: "https://github.com/user/repo2"},
		},
	}

	stats := statsFromIndex(remote, cfg)
	assert.Equal(t, 4, stats.TotalImages)
	assert.Equal(t, int64(100), stats.TotalSizeBytes)
	assert.Equal(t, 2, stats.RepoCount)
	assert.Equal(t, int64(2*100*1024*1024), stats.TotalCapacityBytes)
	assert.Equal(t, 1, stats.TypeCounts[ContentPoster])
	assert.Equal(t, 1, stats.TypeCounts[ContentLogo])
	assert.Equal(t, 1, stats.TypeCounts[ContentFanart])
	require.Len(t, stats.RepoDetails, 2)
	assert.Equal(t, "user/repo1", stats.RepoDetails[0].Name)
	assert.Equal(t, int64(60), stats.RepoDetails[0].UsedBytes)
}

func TestRemoteFilePath(t *testing.T) {
	assert.Equal(t, "images/100/poster.jpg", remoteFilePath("100", ContentPoster))
	assert.Equal(t, "images/100/clearlogo.png", remoteFilePath("100", ContentLogo))
	assert.Equal(t, "images/100/fanart.jpg", remoteFilePath("100", ContentFanart))
}
