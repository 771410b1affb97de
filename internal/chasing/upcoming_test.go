package chasing

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"EmbyToolbox/internal/helpers"
	"EmbyToolbox/internal/taskcenter"
	"EmbyToolbox/internal/tmdb"
)

func newUpcoming(t *testing.T, tm *fakeTmdb, notify notifyFunc) *Upcoming {
	t.Helper()
	dir := t.TempDir()
	logger, err := helpers.NewLogger(filepath.Join(dir, "app.log"), false, false)
	require.NoError(t, err)
	return NewUpcoming(tm, notify, dir, logger)
}

func futureDate(days int) string {
	return time.Now().AddDate(0, 0, days).Format("2006-01-02")
}

func TestUpcomingAddSubscribeIgnore(t *testing.T) {
	tm := &fakeTmdb{movies: map[string]*tmdb.MovieDetails{
		"500": {Title: "电影一", PosterPath: "/p500.jpg", ReleaseDate: futureDate(10)},
	}}
	u := newUpcoming(t, tm, nil)

	sub, err := u.AddItem(context.Background(), "500", "movie")
	require.NoError(t, err)
	assert.Equal(t, "电影一", sub.Title)
	assert.True(t, sub.IsPermanent)

	require.NoError(t, u.Subscribe("500", true))
	subs, err := u.All()
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.True(t, subs[0].IsSubscribed)
	assert.NotEmpty(t, subs[0].SubscribedAt)

	require.NoError(t, u.Ignore("500"))
	subs, err = u.All()
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestUpcomingAddTvMissingPoster(t *testing.T) {
	tm := &fakeTmdb{tv: map[string]*tmdb.TvDetails{
		"600": {Name: "剧集一", FirstAirDate: futureDate(5)},
	}}
	u := newUpcoming(t, tm, nil)

	_, err := u.AddItem(context.Background(), "600", "tv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "缺少海报图")
}

func TestUpcomingSubscribeUnknownId(t *testing.T) {
	u := newUpcoming(t, &fakeTmdb{}, nil)
	err := u.Subscribe("999", true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "未找到TMDB ID")
}

func TestCheckTaskPrunesExpired(t *testing.T) {
	u := newUpcoming(t, &fakeTmdb{}, nil)
	seed := map[string]Subscription{
		"1": {TmdbId: "1", Title: "已过期", ReleaseDate: futureDate(-5)},
		"2": {TmdbId: "2", Title: "永久收藏", ReleaseDate: futureDate(-5), IsPermanent: true},
		"3": {TmdbId: "3", Title: "未上映", ReleaseDate: futureDate(10)},
	}
	require.NoError(t, helpers.WriteJSONAtomic(u.file, seed))

	res, err := u.CheckTask()(context.Background(), taskcenter.NewNopHandle())
	require.NoError(t, err)
	counts := res.(map[string]int)
	assert.Equal(t, 1, counts["pruned_count"])
	assert.Equal(t, 0, counts["notified_count"])

	subs, err := u.All()
	require.NoError(t, err)
	assert.Len(t, subs, 2)
}

func TestCheckTaskNotifies(t *testing.T) {
	var sent string
	notify := func(text string) error {
		sent = text
		return nil
	}
	u := newUpcoming(t, &fakeTmdb{}, notify)
	seed := map[string]Subscription{
		"1": {TmdbId: "1", Title: "今日电影", ReleaseDate: futureDate(0), IsSubscribed: true},
		"2": {TmdbId: "2", Title: "明日电影", ReleaseDate: futureDate(1), IsSubscribed: true},
		"3": {TmdbId: "3", Title: "远期电影", ReleaseDate: futureDate(20), IsSubscribed: true},
		"4": {TmdbId: "4", Title: "未订阅", ReleaseDate: futureDate(1)},
	}
	require.NoError(t, helpers.WriteJSONAtomic(u.file, seed))

	res, err := u.CheckTask()(context.Background(), taskcenter.NewNopHandle())
	require.NoError(t, err)
	assert.Equal(t, 2, res.(map[string]int)["notified_count"])
	assert.Contains(t, sent, "今日首映")
	assert.Contains(t, sent, "明日上映")
	assert.Contains(t, sent, "《今日电影》")
	assert.NotContains(t, sent, "远期电影")
	assert.NotContains(t, sent, "未订阅")
}

func TestBuildUpcomingMessageEmpty(t *testing.T) {
	msg, n := buildUpcomingMessage(nil, time.Now())
	assert.Empty(t, msg)
	assert.Zero(t, n)
}
