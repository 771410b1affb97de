package selector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"EmbyToolbox/internal/emby"
	"EmbyToolbox/internal/taskcenter"
)

func TestGenerateIdMapTask(t *testing.T) {
	s := newSelector(t, &fakeEmby{
		byType: map[string][]emby.BaseItem{
			"Movie,Series": {
				{Id: "e1", ProviderIds: map[string]string{"Tmdb": "100"}},
				{Id: "e2", ProviderIds: map[string]string{"Tmdb": "100"}},
				{Id: "e3", ProviderIds: map[string]string{"Tmdb": "200"}},
				{Id: "e4"},
			},
		},
	})
	dataDir := t.TempDir()

	fn := s.GenerateIdMapTask(dataDir)
	res, err := fn(context.Background(), taskcenter.NewNopHandle())
	require.NoError(t, err)
	assert.Equal(t, 2, res.(map[string]int)["tmdb_count"])

	idMap, err := LoadIdMap(dataDir)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"e1", "e2"}, idMap["100"])
	assert.Equal(t, []string{"e3"}, idMap["200"])
	// 缺少TMDB ID的条目不入映射表
	assert.Len(t, idMap, 2)
}

func TestLoadIdMapMissingFile(t *testing.T) {
	idMap, err := LoadIdMap(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, idMap)
}
