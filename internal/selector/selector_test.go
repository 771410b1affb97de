package selector

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"EmbyToolbox/internal/config"
	"EmbyToolbox/internal/emby"
	"EmbyToolbox/internal/helpers"
)

// fakeEmby 内存中的Emby读实现
type fakeEmby struct {
	favorites   map[string][]emby.BaseItem // itemType -> items
	latest      []emby.BaseItem
	views       []emby.View
	byParent    map[string][]emby.BaseItem
	byType      map[string][]emby.BaseItem
	failParents map[string]bool // 命中的库返回已取到的分页并附带错误
}

func (f *fakeEmby) Items(ctx context.Context, params map[string]string) (*emby.QueryResult, error) {
	items, err := f.FetchAllItems(ctx, params)
	if err != nil {
		return nil, err
	}
	return &emby.QueryResult{Items: items, TotalRecordCount: len(items)}, nil
}

func (f *fakeEmby) FetchAllItems(ctx context.Context, params map[string]string) ([]emby.BaseItem, error) {
	if params["Filters"] == "IsFavorite" {
		return f.favorites[params["IncludeItemTypes"]], nil
	}
	if parent := params["ParentId"]; parent != "" {
		var out []emby.BaseItem
		for _, it := range f.byParent[parent] {
			if matchesTypes(it.Type, params["IncludeItemTypes"]) {
				out = append(out, it)
			}
		}
		if f.failParents[parent] {
			return out, errors.New("连接中断")
		}
		return out, nil
	}
	return f.byType[params["IncludeItemTypes"]], nil
}

func (f *fakeEmby) Latest(ctx context.Context, itemTypes string, limit int) ([]emby.BaseItem, error) {
	return f.latest, nil
}

func (f *fakeEmby) Views(ctx context.Context) ([]emby.View, error) {
	return f.views, nil
}

func matchesTypes(itemType, include string) bool {
	if include == "" {
		return true
	}
	for _, t := range strings.Split(include, ",") {
		if t == itemType {
			return true
		}
	}
	return false
}

func newSelector(t *testing.T, f *fakeEmby) *Selector {
	t.Helper()
	logger, err := helpers.NewLogger(filepath.Join(t.TempDir(), "app.log"), false, false)
	require.NoError(t, err)
	return New(f, logger)
}

func TestBySearchReturnsIdsVerbatim(t *testing.T) {
	s := newSelector(t, &fakeEmby{})
	ids, err := s.Resolve(context.Background(), config.TargetScope{Mode: "by_search", ItemIds: []string{"1", "2", "2", "3"}}, TargetAny)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, ids)
}

func TestFavoritesNarrowing(t *testing.T) {
	f := &fakeEmby{
		favorites: map[string][]emby.BaseItem{
			"Movie":  {{Id: "m1"}, {Id: "m2"}},
			"Series": {{Id: "s1"}},
			"Episode": {
				{Id: "e1", SeriesId: "s2"},
				{Id: "e2", SeriesId: "s2"},
				{Id: "e3", SeriesId: "s3"},
			},
		},
	}
	s := newSelector(t, f)

	movies, err := s.Resolve(context.Background(), config.TargetScope{Mode: "favorites"}, TargetMovies)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"m1", "m2"}, movies)

	// 收藏分集上提为所属剧集，去重后3个剧集id
	shows, err := s.Resolve(context.Background(), config.TargetScope{Mode: "favorites"}, TargetTvshows)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"s1", "s2", "s3"}, shows)

	all, err := s.Resolve(context.Background(), config.TargetScope{Mode: "favorites"}, TargetAny)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestLatestFiltersByDate(t *testing.T) {
	now := time.Now().UTC()
	f := &fakeEmby{
		latest: []emby.BaseItem{
			{Id: "a", DateCreated: now.Add(-24 * time.Hour).Format(time.RFC3339)},
			{Id: "b", DateCreated: now.Add(-3 * 24 * time.Hour).Format(time.RFC3339)},
			{Id: "c", DateCreated: now.Add(-10 * 24 * time.Hour).Format(time.RFC3339)},
			// 服务端按时间倒序，过期条目之后的不再检查
			{Id: "d", DateCreated: now.Format(time.RFC3339)},
		},
	}
	s := newSelector(t, f)
	ids, err := s.Resolve(context.Background(), config.TargetScope{Mode: "latest", Days: 7, Limit: 100}, TargetAny)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestLatestZeroDaysReturnsEmpty(t *testing.T) {
	s := newSelector(t, &fakeEmby{latest: []emby.BaseItem{{Id: "a", DateCreated: time.Now().UTC().Format(time.RFC3339)}}})
	ids, err := s.Resolve(context.Background(), config.TargetScope{Mode: "latest", Days: 0, Limit: 10}, TargetAny)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestLatestHonorsLimit(t *testing.T) {
	now := time.Now().UTC()
	var latest []emby.BaseItem
	for _, id := range []string{"a", "b", "c", "d"} {
		latest = append(latest, emby.BaseItem{Id: id, DateCreated: now.Format(time.RFC3339)})
	}
	s := newSelector(t, &fakeEmby{latest: latest})
	ids, err := s.Resolve(context.Background(), config.TargetScope{Mode: "latest", Days: 7, Limit: 2}, TargetAny)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestByTypeConflictingTargetReturnsEmpty(t *testing.T) {
	f := &fakeEmby{byType: map[string][]emby.BaseItem{"Series": {{Id: "s1", Type: "Series"}}}}
	s := newSelector(t, f)
	ids, err := s.Resolve(context.Background(), config.TargetScope{Mode: "by_type", MediaType: "Series"}, TargetMovies)
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = s.Resolve(context.Background(), config.TargetScope{Mode: "by_type", MediaType: "Series"}, TargetTvshows)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, ids)
}

func TestByLibraryEmptyIdsReturnsEmpty(t *testing.T) {
	s := newSelector(t, &fakeEmby{})
	ids, err := s.Resolve(context.Background(), config.TargetScope{Mode: "by_library"}, TargetAny)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestByLibraryKeepsPartialPagesOnError(t *testing.T) {
	f := &fakeEmby{
		byParent: map[string][]emby.BaseItem{
			"lib1": {{Id: "m1", Type: "Movie"}, {Id: "m2", Type: "Movie"}},
			"lib2": {{Id: "m3", Type: "Movie"}},
		},
		failParents: map[string]bool{"lib1": true},
	}
	s := newSelector(t, f)
	ids, err := s.Resolve(context.Background(), config.TargetScope{Mode: "by_library", LibraryIds: []string{"lib1", "lib2"}}, TargetAny)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"m1", "m2", "m3"}, ids)
}

func TestAllModeKeepsPartialPagesOnError(t *testing.T) {
	f := &fakeEmby{
		views: []emby.View{
			{Id: "v1", Name: "电影", CollectionType: "movies"},
			{Id: "v2", Name: "更多电影", CollectionType: "movies"},
		},
		byParent: map[string][]emby.BaseItem{
			"v1": {{Id: "m1", Type: "Movie"}},
			"v2": {{Id: "m2", Type: "Movie"}},
		},
		failParents: map[string]bool{"v1": true},
	}
	s := newSelector(t, f)
	ids, err := s.Resolve(context.Background(), config.TargetScope{Mode: "all"}, TargetAny)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"m1", "m2"}, ids)
}

func TestAllModeAppliesBlacklist(t *testing.T) {
	f := &fakeEmby{
		views: []emby.View{
			{Id: "v1", Name: "电影", CollectionType: "movies"},
			{Id: "v2", Name: "垃圾库", CollectionType: "movies"},
		},
		byParent: map[string][]emby.BaseItem{
			"v1": {{Id: "m1", Type: "Movie"}},
			"v2": {{Id: "m2", Type: "Movie"}},
		},
	}
	s := newSelector(t, f)
	ids, err := s.Resolve(context.Background(), config.TargetScope{Mode: "all", LibraryBlacklist: "垃圾库, 别的"}, TargetAny)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, ids)
}

func TestAllModeAllViewsBlacklistedReturnsEmpty(t *testing.T) {
	f := &fakeEmby{
		views:    []emby.View{{Id: "v1", Name: "电影"}},
		byParent: map[string][]emby.BaseItem{"v1": {{Id: "m1", Type: "Movie"}}},
	}
	s := newSelector(t, f)
	ids, err := s.Resolve(context.Background(), config.TargetScope{Mode: "all", LibraryBlacklist: "电影"}, TargetAny)
	require.NoError(t, err)
	assert.Empty(t, ids)
}
