package episodes

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"EmbyToolbox/internal/config"
	"EmbyToolbox/internal/emby"
	"EmbyToolbox/internal/helpers"
	"EmbyToolbox/internal/taskcenter"
)

func newRenamer(t *testing.T, fake *fakeEmby, cfg config.EpisodeRenamerConfig) (*Renamer, string) {
	t.Helper()
	dir := t.TempDir()
	logger, err := helpers.NewLogger(filepath.Join(dir, "app.log"), false, false)
	require.NoError(t, err)
	return NewRenamer(fake, func() config.EpisodeRenamerConfig { return cfg }, dir, logger), dir
}

func TestIsGenericEpisodeTitle(t *testing.T) {
	assert.True(t, IsGenericEpisodeTitle(""))
	assert.True(t, IsGenericEpisodeTitle("Episode 5"))
	assert.True(t, IsGenericEpisodeTitle("第5集"))
	assert.True(t, IsGenericEpisodeTitle("第 5 集"))
	assert.False(t, IsGenericEpisodeTitle("风起陇西"))
	assert.False(t, IsGenericEpisodeTitle("Episode of Bardock"))
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "a_b_c", sanitizeFilename(`a/b:c`))
	assert.Equal(t, "正常标题", sanitizeFilename("正常标题"))
}

func TestExtractTitleFromFilename(t *testing.T) {
	assert.Equal(t, "Old Title", extractTitleFromFilename("Show S01E02 - Old Title - ADWeb"))
	assert.Equal(t, "", extractTitleFromFilename("Show S01E02 - ADWeb"))
	assert.Equal(t, "", extractTitleFromFilename("randomfile"))
}

func TestNewBaseFilename(t *testing.T) {
	// 替换已有标题
	name, reason := newBaseFilename("Show S01E02 - Old Title - ADWeb", "新标题")
	assert.Equal(t, "Show S01E02 - 新标题 - ADWeb", name)
	assert.Empty(t, reason)

	// 无标题段则插入
	name, reason = newBaseFilename("Show S01E02 - ADWeb", "新标题")
	assert.Equal(t, "Show S01E02 - 新标题 - ADWeb", name)
	assert.Empty(t, reason)

	// 标题已一致
	name, reason = newBaseFilename("Show S01E02 - 新标题 - ADWeb", "新标题")
	assert.Empty(t, name)
	assert.Equal(t, "标题已是最新", reason)

	// 结构无法解析
	name, reason = newBaseFilename("randomfile", "新标题")
	assert.Empty(t, name)
	assert.Equal(t, "无法解析文件名", reason)
}

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
}

func TestRenameTaskRenamesAssociatedFiles(t *testing.T) {
	mediaDir := t.TempDir()
	oldBase := filepath.Join(mediaDir, "Show S01E02 - Old Title - ADWeb")
	touch(t, oldBase+".strm")
	touch(t, oldBase+".nfo")

	fake := &fakeEmby{items: map[string]*emby.BaseItem{
		"e1": {
			Id: "e1", Name: "新标题", SeriesId: "s1", SeriesName: "某剧",
			Path:              oldBase + ".strm",
			ParentIndexNumber: intp(1), IndexNumber: intp(2),
		},
	}}
	r, _ := newRenamer(t, fake, config.EpisodeRenamerConfig{})

	fn := r.RenameTask([]string{"e1"})
	res, err := fn(context.Background(), taskcenter.NewNopHandle())
	require.NoError(t, err)
	assert.Equal(t, 1, res.(RenameResult).RenamedCount)

	newBase := filepath.Join(mediaDir, "Show S01E02 - 新标题 - ADWeb")
	assert.True(t, helpers.PathExists(newBase+".strm"))
	assert.True(t, helpers.PathExists(newBase+".nfo"))
	assert.False(t, helpers.PathExists(oldBase+".strm"))

	// 改名后触发了一次文件扫描
	assert.Equal(t, []string{"s1"}, fake.refreshed)

	// 审计日志留下待网盘改名的记录
	pending, err := r.PendingEntries()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, oldBase, pending[0].OldBasePath)
	assert.Equal(t, newBase, pending[0].NewBasePath)
}

func TestRenameTaskSkipsGenericTitle(t *testing.T) {
	fake := &fakeEmby{items: map[string]*emby.BaseItem{
		"e1": {
			Id: "e1", Name: "第 2 集", SeriesId: "s1",
			Path:              "/media/Show S01E02 - ADWeb.strm",
			ParentIndexNumber: intp(1), IndexNumber: intp(2),
		},
	}}
	r, _ := newRenamer(t, fake, config.EpisodeRenamerConfig{})

	fn := r.RenameTask([]string{"e1"})
	res, err := fn(context.Background(), taskcenter.NewNopHandle())
	require.NoError(t, err)
	assert.Equal(t, 0, res.(RenameResult).RenamedCount)
	assert.Equal(t, 1, res.(RenameResult).SkippedCount)
	assert.Empty(t, fake.refreshed)
}

func TestAppendLogEntryDedupsPending(t *testing.T) {
	r, _ := newRenamer(t, &fakeEmby{}, config.EpisodeRenamerConfig{})
	entry := RenameLogEntry{
		Id: "a", SeriesId: "s1", SeasonNumber: 1, EpisodeNumber: 2, Status: statusPending,
	}
	require.NoError(t, r.appendLogEntry(entry))
	entry.Id = "b"
	require.NoError(t, r.appendLogEntry(entry))

	all, err := r.LoadLog()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestApplyClouddriveTask(t *testing.T) {
	embyRoot := t.TempDir()
	cloudRoot := t.TempDir()

	// 网盘上的真实视频文件
	cloudFile := filepath.Join(cloudRoot, "ShowA", "ShowA S01E02.mkv")
	touch(t, cloudFile)

	oldBase := filepath.Join(embyRoot, "ShowA", "ShowA S01E02 - Old - ADWeb")
	newBase := filepath.Join(embyRoot, "ShowA", "ShowA S01E02 - 新标题 - ADWeb")

	fake := &fakeEmby{
		episodes: map[string][]emby.BaseItem{
			"s1": {{
				Id: "e-new", SeriesId: "s1",
				ParentIndexNumber: intp(1), IndexNumber: intp(2),
				MediaSources: []emby.MediaSource{
					{Path: "http://cd.example/static/x?/ShowA/ShowA S01E02.mkv"},
				},
			}},
		},
	}
	r, _ := newRenamer(t, fake, config.EpisodeRenamerConfig{
		EmbyPathRoot:       embyRoot,
		ClouddrivePathRoot: cloudRoot,
	})

	entry := RenameLogEntry{
		Id: "log1", SeriesId: "s1", SeasonNumber: 1, EpisodeNumber: 2,
		OldBasePath: oldBase, NewBasePath: newBase, Status: statusPending,
	}
	require.NoError(t, r.appendLogEntry(entry))

	fn := r.ApplyClouddriveTask([]RenameLogEntry{entry})
	res, err := fn(context.Background(), taskcenter.NewNopHandle())
	require.NoError(t, err)

	result := res.(ClouddriveRenameResult)
	assert.Equal(t, 1, result.UpdatedCount)
	assert.Empty(t, result.FailedLogs)

	renamed := filepath.Join(cloudRoot, "ShowA", "ShowA S01E02 - 新标题 - ADWeb.mkv")
	assert.True(t, helpers.PathExists(renamed))
	assert.False(t, helpers.PathExists(cloudFile))

	all, err := r.LoadLog()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, statusCompleted, all[0].Status)
}

func TestApplyClouddriveTaskMissingFileFails(t *testing.T) {
	embyRoot := t.TempDir()
	fake := &fakeEmby{
		episodes: map[string][]emby.BaseItem{
			"s1": {{
				Id: "e-new", SeriesId: "s1",
				ParentIndexNumber: intp(1), IndexNumber: intp(2),
				MediaSources: []emby.MediaSource{{Path: "http://cd/x?/ShowA/gone.mkv"}},
			}},
		},
	}
	r, _ := newRenamer(t, fake, config.EpisodeRenamerConfig{
		EmbyPathRoot:       embyRoot,
		ClouddrivePathRoot: t.TempDir(),
	})

	entry := RenameLogEntry{
		Id: "log1", SeriesId: "s1", SeasonNumber: 1, EpisodeNumber: 2,
		OldBasePath: filepath.Join(embyRoot, "ShowA", "gone S01E02 - Old - Web"),
		NewBasePath: filepath.Join(embyRoot, "ShowA", "gone S01E02 - 新 - Web"),
		Status:      statusPending,
	}
	fn := r.ApplyClouddriveTask([]RenameLogEntry{entry})
	res, err := fn(context.Background(), taskcenter.NewNopHandle())
	require.NoError(t, err)

	result := res.(ClouddriveRenameResult)
	assert.Equal(t, 0, result.UpdatedCount)
	require.Len(t, result.FailedLogs, 1)
	assert.Contains(t, result.FailedLogs[0].Error, "网盘文件不存在")
}
