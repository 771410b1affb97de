package signin

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"EmbyToolbox/internal/config"
	"EmbyToolbox/internal/helpers"
	"EmbyToolbox/internal/taskcenter"
)

type fakeModule struct {
	id     string
	name   string
	record Record
}

func (f *fakeModule) Id() string   { return f.id }
func (f *fakeModule) Name() string { return f.name }

func (f *fakeModule) Sign(_ context.Context, _ config.SigninModuleConfig, data *ModuleData) Record {
	if f.record.Status == StatusSuccess {
		data.ConsecutiveDays++
	}
	return f.record
}

func newManager(t *testing.T, mod Module, cfg config.SigninConfig, notify notifyFunc) *Manager {
	t.Helper()
	dir := t.TempDir()
	logger, err := helpers.NewLogger(filepath.Join(dir, "app.log"), false, false)
	require.NoError(t, err)
	return NewManager([]Module{mod}, notify, func() config.SigninConfig { return cfg }, dir, logger)
}

func TestRunTaskRecordsHistory(t *testing.T) {
	now := time.Now().Format("2006-01-02 15:04:05")
	mod := &fakeModule{id: "demo", name: "演示签到",
		record: Record{Date: now, Status: StatusSuccess, Message: "签到成功！获得 10 积分", Points: 10}}
	cfg := config.SigninConfig{Modules: map[string]config.SigninModuleConfig{
		"demo": {Enabled: true, HistoryDays: 30},
	}}

	var sent string
	m := newManager(t, mod, cfg, func(text string) error { sent = text; return nil })

	res, err := m.RunTask("demo", true)(context.Background(), taskcenter.NewNopHandle())
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.(Record).Status)
	assert.Empty(t, sent) // notify未开启

	history, err := m.History("demo")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 10, history[0].Points)

	summaries, err := m.Summaries()
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, now, summaries[0].LastSigninTime)
	assert.Equal(t, 1, summaries[0].ConsecutiveDays)
}

func TestRunTaskNotify(t *testing.T) {
	mod := &fakeModule{id: "demo", name: "演示签到",
		record: newRecord(StatusFailed, "Cookie失效")}
	cfg := config.SigninConfig{Modules: map[string]config.SigninModuleConfig{
		"demo": {Enabled: true, Notify: true},
	}}

	var sent string
	m := newManager(t, mod, cfg, func(text string) error { sent = text; return nil })

	_, err := m.RunTask("demo", true)(context.Background(), taskcenter.NewNopHandle())
	require.NoError(t, err)
	assert.Contains(t, sent, "❌")
	assert.Contains(t, sent, "演示签到")
	assert.Contains(t, sent, "Cookie失效")
}

func TestRunTaskSkipsDisabled(t *testing.T) {
	mod := &fakeModule{id: "demo", name: "演示签到", record: newRecord(StatusSuccess, "ok")}
	m := newManager(t, mod, config.SigninConfig{
		Modules: map[string]config.SigninModuleConfig{"demo": {Enabled: false}},
	}, nil)

	_, err := m.RunTask("demo", false)(context.Background(), taskcenter.NewNopHandle())
	require.NoError(t, err)
	history, err := m.History("demo")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestRunTaskUnknownModule(t *testing.T) {
	mod := &fakeModule{id: "demo", name: "演示签到"}
	m := newManager(t, mod, config.SigninConfig{}, nil)

	_, err := m.RunTask("nope", true)(context.Background(), taskcenter.NewNopHandle())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "未找到签到模块")
}

func TestResetModuleData(t *testing.T) {
	mod := &fakeModule{id: "demo", name: "演示签到",
		record: newRecord(StatusSuccess, "签到成功")}
	cfg := config.SigninConfig{Modules: map[string]config.SigninModuleConfig{
		"demo": {Enabled: true},
	}}
	m := newManager(t, mod, cfg, nil)
	_, err := m.RunTask("demo", true)(context.Background(), taskcenter.NewNopHandle())
	require.NoError(t, err)

	require.NoError(t, m.ResetModuleData("demo"))
	history, err := m.History("demo")
	require.NoError(t, err)
	assert.Len(t, history, 1) // 历史保留，计数清零

	summaries, err := m.Summaries()
	require.NoError(t, err)
	assert.Zero(t, summaries[0].ConsecutiveDays)
	assert.Empty(t, summaries[0].LastSigninTime)
}

func TestPruneHistory(t *testing.T) {
	old := time.Now().AddDate(0, 0, -40).Format("2006-01-02 15:04:05")
	fresh := time.Now().Format("2006-01-02 15:04:05")
	history := []Record{{Date: fresh}, {Date: old}, {Date: "坏日期"}}

	kept := pruneHistory(history, 30)
	require.Len(t, kept, 2) // 过期的丢弃，解析失败的保留
	assert.Equal(t, fresh, kept[0].Date)

	assert.Len(t, pruneHistory(history, 0), 3)
}

func TestRandomDelay(t *testing.T) {
	assert.Zero(t, randomDelay(""))
	assert.Zero(t, randomDelay("abc"))
	assert.Zero(t, randomDelay("10-5"))
	d := randomDelay("1-3")
	assert.GreaterOrEqual(t, d, time.Second)
	assert.Less(t, d, 3*time.Second)
}

func TestParseCookie(t *testing.T) {
	cookies := parseCookie("token=abc; csrf_access_token=xyz; broken")
	assert.Equal(t, "abc", cookies["token"])
	assert.Equal(t, "xyz", cookies["csrf_access_token"])
	assert.Len(t, cookies, 2)
}

func TestPointsPattern(t *testing.T) {
	m := pointsPattern.FindStringSubmatch("签到成功！获得 15 积分")
	require.NotNil(t, m)
	assert.Equal(t, "15", m[1])
	assert.Nil(t, pointsPattern.FindStringSubmatch("今天已经签到过了"))
}
