package localizer

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"EmbyToolbox/internal/emby"
	"EmbyToolbox/internal/helpers"
	"EmbyToolbox/internal/taskcenter"
)

func newGenreMapper(t *testing.T, embyClient *fakeEmby, mapping map[string]string) *GenreMapper {
	t.Helper()
	logger, err := helpers.NewLogger(filepath.Join(t.TempDir(), "app.log"), false, false)
	require.NoError(t, err)
	return NewGenreMapper(embyClient, func() map[string]string { return mapping }, logger)
}

func TestGenreApplyItemTranslates(t *testing.T) {
	fake := &fakeEmby{items: map[string]*emby.BaseItem{
		"m1": {Id: "m1", Name: "电影一", Genres: []string{"Action", "喜剧", "Drama"}},
	}}
	g := newGenreMapper(t, fake, map[string]string{"Action": "动作", "Drama": "剧情"})

	updated, err := g.ApplyItem(context.Background(), "m1")
	require.NoError(t, err)
	assert.True(t, updated)
	assert.Equal(t, []string{"动作", "喜剧", "剧情"}, fake.items["m1"].Genres)
}

func TestGenreApplyItemNoChange(t *testing.T) {
	fake := &fakeEmby{items: map[string]*emby.BaseItem{
		"m1": {Id: "m1", Name: "电影一", Genres: []string{"动作", "剧情"}},
	}}
	g := newGenreMapper(t, fake, map[string]string{"Action": "动作"})

	updated, err := g.ApplyItem(context.Background(), "m1")
	require.NoError(t, err)
	assert.False(t, updated)
	assert.Empty(t, fake.updated)
}

func TestGenreApplyItemEmptyMapping(t *testing.T) {
	fake := &fakeEmby{items: map[string]*emby.BaseItem{
		"m1": {Id: "m1", Name: "电影一", Genres: []string{"Action"}},
	}}
	g := newGenreMapper(t, fake, nil)

	updated, err := g.ApplyItem(context.Background(), "m1")
	require.NoError(t, err)
	assert.False(t, updated)
}

func TestGenreApplyTaskCountsUpdates(t *testing.T) {
	fake := &fakeEmby{items: map[string]*emby.BaseItem{
		"m1": {Id: "m1", Name: "电影一", Genres: []string{"Action"}},
		"m2": {Id: "m2", Name: "电影二", Genres: []string{"喜剧"}},
	}}
	g := newGenreMapper(t, fake, map[string]string{"Action": "动作"})

	res, err := g.ApplyTask([]string{"m1", "m2", "missing"})(context.Background(), taskcenter.NewNopHandle())
	require.NoError(t, err)
	assert.Equal(t, GenreResult{UpdatedCount: 1}, res)
}
