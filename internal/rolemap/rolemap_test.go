package rolemap

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"EmbyToolbox/internal/config"
	"EmbyToolbox/internal/emby"
	"EmbyToolbox/internal/helpers"
	"EmbyToolbox/internal/taskcenter"
)

type fakeEmby struct {
	items   map[string]*emby.BaseItem
	updated map[string]int
}

func (f *fakeEmby) GetItem(_ context.Context, itemId, _ string) (*emby.BaseItem, error) {
	item, ok := f.items[itemId]
	if !ok {
		return nil, fmt.Errorf("未找到条目 %s", itemId)
	}
	clone := *item
	clone.People = append([]emby.Person{}, item.People...)
	return &clone, nil
}

func (f *fakeEmby) UpdateItem(_ context.Context, itemId string, item *emby.BaseItem) error {
	if f.updated == nil {
		f.updated = map[string]int{}
	}
	f.updated[itemId]++
	f.items[itemId].People = item.People
	return nil
}

func newMapper(t *testing.T, fake *fakeEmby) *Mapper {
	t.Helper()
	dir := t.TempDir()
	logger, err := helpers.NewLogger(filepath.Join(dir, "app.log"), false, false)
	require.NoError(t, err)
	cfg := func() config.ActorRoleMapperConfig { return config.ActorRoleMapperConfig{} }
	return NewMapper(fake, nil, cfg, dir, logger)
}

func actor(name, tmdbId, role string) emby.Person {
	p := emby.Person{Name: name, Type: "Actor", Role: role}
	if tmdbId != "" {
		p.ProviderIds = map[string]string{"Tmdb": tmdbId}
	}
	return p
}

func TestGenerateTaskBuildsMap(t *testing.T) {
	fake := &fakeEmby{items: map[string]*emby.BaseItem{
		"e1": {
			Id: "e1", Name: "作品A",
			ProviderIds: map[string]string{"Tmdb": "100"},
			People: []emby.Person{
				actor("张三", "7", "主角"),
				actor("李四", "", "配角"),
				{Name: "导演", Type: "Director"},
			},
		},
		// 同一作品的另一个版本
		"e2": {
			Id: "e2", Name: "作品A",
			ProviderIds: map[string]string{"Tmdb": "100"},
			People:      []emby.Person{actor("张三", "7", "主角")},
		},
		"e3": {Id: "e3", Name: "无ID作品", People: []emby.Person{actor("王五", "", "路人")}},
	}}
	m := newMapper(t, fake)

	fn := m.GenerateTask([]string{"e1", "e2", "e3"}, 50)
	res, err := fn(context.Background(), taskcenter.NewNopHandle())
	require.NoError(t, err)

	result := res.(GenerateResult)
	assert.Equal(t, 1, result.TotalWorks)
	assert.Equal(t, 2, result.TotalActors)

	data, err := m.Load()
	require.NoError(t, err)
	entry := data["100"]
	assert.Equal(t, "作品A", entry.Title)
	assert.ElementsMatch(t, []string{"e1", "e2"}, entry.EmbyItemIds)
	require.Len(t, entry.Map, 2)
	assert.Equal(t, "7", entry.Map[0].TmdbId)
}

func TestGenerateTaskHonorsActorLimit(t *testing.T) {
	fake := &fakeEmby{items: map[string]*emby.BaseItem{
		"e1": {
			Id: "e1", Name: "群像剧",
			ProviderIds: map[string]string{"Tmdb": "200"},
			People: []emby.Person{
				actor("甲", "1", "A"), actor("乙", "2", "B"), actor("丙", "3", "C"),
			},
		},
	}}
	m := newMapper(t, fake)

	fn := m.GenerateTask([]string{"e1"}, 2)
	_, err := fn(context.Background(), taskcenter.NewNopHandle())
	require.NoError(t, err)

	data, _ := m.Load()
	assert.Len(t, data["200"].Map, 2)
}

func TestRestoreWorkIdFirstNameFallback(t *testing.T) {
	fake := &fakeEmby{items: map[string]*emby.BaseItem{
		"e1": {
			Id: "e1",
			People: []emby.Person{
				// 名字与映射表不同，但TMDB ID一致
				actor("Zhang San", "7", "Old Role"),
				// 无ID，按名称匹配
				actor("李四", "", "旧角色"),
			},
		},
	}}
	m := newMapper(t, fake)

	entry := WorkEntry{
		Title:       "作品A",
		EmbyItemIds: []string{"e1"},
		Map: []ActorRole{
			{Name: "张三", TmdbId: "7", Role: "主角"},
			{Name: "李四", TmdbId: "", Role: "配角"},
			{Name: "不存在", TmdbId: "99", Role: "无"},
		},
	}
	updated, err := m.RestoreWork(context.Background(), entry)
	require.NoError(t, err)
	assert.Equal(t, 1, updated)

	people := fake.items["e1"].People
	assert.Equal(t, "主角", people[0].Role)
	assert.Equal(t, "配角", people[1].Role)
}

func TestRestoreWorkNoChangesSkipsUpdate(t *testing.T) {
	fake := &fakeEmby{items: map[string]*emby.BaseItem{
		"e1": {Id: "e1", People: []emby.Person{actor("张三", "7", "主角")}},
	}}
	m := newMapper(t, fake)

	entry := WorkEntry{
		Title:       "作品A",
		EmbyItemIds: []string{"e1"},
		Map:         []ActorRole{{Name: "张三", TmdbId: "7", Role: "主角"}},
	}
	updated, err := m.RestoreWork(context.Background(), entry)
	require.NoError(t, err)
	assert.Equal(t, 0, updated)
	assert.Empty(t, fake.updated)
}

func TestRestoreTaskScopeDriven(t *testing.T) {
	fake := &fakeEmby{items: map[string]*emby.BaseItem{
		"e1": {
			Id:          "e1",
			ProviderIds: map[string]string{"Tmdb": "100"},
			People:      []emby.Person{actor("张三", "7", "Old")},
		},
	}}
	m := newMapper(t, fake)
	require.NoError(t, m.UpdateWork("100", WorkEntry{
		Title:       "在范围内",
		EmbyItemIds: []string{"stale-id"},
		Map:         []ActorRole{{Name: "张三", TmdbId: "7", Role: "主角"}},
	}))
	require.NoError(t, m.UpdateWork("999", WorkEntry{
		Title:       "范围外",
		EmbyItemIds: []string{"e9"},
		Map:         []ActorRole{{Name: "甲", Role: "乙"}},
	}))

	fn := m.RestoreTask([]string{"e1"})
	res, err := fn(context.Background(), taskcenter.NewNopHandle())
	require.NoError(t, err)
	assert.Equal(t, 1, res.(map[string]int)["updated_count"])
	assert.Equal(t, "主角", fake.items["e1"].People[0].Role)
}

func TestRestoreTaskFailsOnEmptyMap(t *testing.T) {
	m := newMapper(t, &fakeEmby{items: map[string]*emby.BaseItem{}})
	fn := m.RestoreTask([]string{"e1"})
	_, err := fn(context.Background(), taskcenter.NewNopHandle())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "映射表为空")
}

func TestUpdateWorkRequiresTmdbId(t *testing.T) {
	m := newMapper(t, &fakeEmby{})
	assert.Error(t, m.UpdateWork("", WorkEntry{}))
}

func TestAvatarSaveChoiceAndLoad(t *testing.T) {
	dir := t.TempDir()
	logger, err := helpers.NewLogger(filepath.Join(dir, "app.log"), false, false)
	require.NoError(t, err)
	m := NewAvatarMapper(nil, nil, nil, func() config.ActorRoleMapperConfig { return config.ActorRoleMapperConfig{} }, dir, logger)

	require.NoError(t, m.SaveChoice("7", AvatarEntry{ActorName: "张三", Source: "tmdb", ImagePath: "/abc.jpg"}))
	require.Error(t, m.SaveChoice("", AvatarEntry{}))

	data, err := m.Load()
	require.NoError(t, err)
	require.Contains(t, data, "7")
	assert.Equal(t, "张三", data["7"].ActorName)
	assert.NotEmpty(t, data["7"].LastUpdated)
}

type fakeAvatarEmby struct {
	persons  []emby.BaseItem
	uploaded map[string]string
}

func (f *fakeAvatarEmby) FetchAllItems(_ context.Context, _ map[string]string) ([]emby.BaseItem, error) {
	return f.persons, nil
}

func (f *fakeAvatarEmby) UploadImage(_ context.Context, itemId, imageType string, _ []byte, contentType string) error {
	if f.uploaded == nil {
		f.uploaded = map[string]string{}
	}
	f.uploaded[itemId] = imageType
	return nil
}

func TestAvatarRestoreAllTask(t *testing.T) {
	dir := t.TempDir()
	logger, err := helpers.NewLogger(filepath.Join(dir, "app.log"), false, false)
	require.NoError(t, err)

	fake := &fakeAvatarEmby{persons: []emby.BaseItem{
		{Id: "p1", Name: "张三", ProviderIds: map[string]string{"Tmdb": "7"}},
	}}
	fetch := func(_ context.Context, url string) ([]byte, string, error) {
		return []byte("img"), "image/jpeg", nil
	}
	m := NewAvatarMapper(fake, nil, fetch, func() config.ActorRoleMapperConfig { return config.ActorRoleMapperConfig{} }, dir, logger)
	require.NoError(t, m.SaveChoice("7", AvatarEntry{ActorName: "张三", Source: "tmdb", ImagePath: "/a.jpg"}))
	require.NoError(t, m.SaveChoice("8", AvatarEntry{ActorName: "不在Emby", Source: "url", ImagePath: "https://x/b.jpg"}))

	fn := m.RestoreAllTask(0)
	res, err := fn(context.Background(), taskcenter.NewNopHandle())
	require.NoError(t, err)

	counts := res.(map[string]int)
	assert.Equal(t, 1, counts["restored_count"])
	assert.Equal(t, 1, counts["missing_count"])
	assert.Equal(t, "Primary", fake.uploaded["p1"])
}
