package liststore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"graphweaver/pkg/zh"
)

const sampleList = `## person
刘晓波
(en) Fang Lizhi
// pending verification
胡耀邦

## organization
中国共产党

## new
待查名单
`

func newStore(t *testing.T, content string) (*Store, string) {
	t.Helper()
	conv, err := zh.NewConverter()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "LIST.md")
	if content != "" {
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return New(path, conv, zap.NewNop()), path
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestParse(t *testing.T) {
	s, _ := newStore(t, sampleList)

	sections, err := s.Parse()
	require.NoError(t, err)
	require.Len(t, sections, 3)

	assert.Equal(t, "person", sections[0].Category)
	require.Len(t, sections[0].Entries, 3)
	assert.Equal(t, "刘晓波", sections[0].Entries[0].Name)
	assert.Equal(t, "zh", sections[0].Entries[0].Lang)
	assert.Equal(t, "Fang Lizhi", sections[0].Entries[1].Name)
	assert.Equal(t, "en", sections[0].Entries[1].Lang)
	assert.Equal(t, []string{"// pending verification"}, sections[0].Comments)

	assert.Equal(t, "new", sections[2].Category)
}

func TestAddTitleAppendsUnderNew(t *testing.T) {
	s, path := newStore(t, sampleList)

	require.NoError(t, s.AddTitle("林昭"))
	content := readFile(t, path)
	idx := strings.Index(content, "## new")
	require.Positive(t, idx)
	assert.Contains(t, content[idx:], "林昭")
}

func TestAddTitleSimplifiedDedup(t *testing.T) {
	s, path := newStore(t, sampleList)
	before := readFile(t, path)

	// traditional form of an existing simplified entry
	require.NoError(t, s.AddTitle("劉曉波"))
	assert.Equal(t, before, readFile(t, path))
}

func TestAddTitleCreatesNewSection(t *testing.T) {
	s, path := newStore(t, "## person\n刘晓波\n")

	require.NoError(t, s.AddTitle("林昭"))
	content := readFile(t, path)
	assert.Contains(t, content, "## new\n林昭")
}

func TestAddTitlesBatchDedup(t *testing.T) {
	s, path := newStore(t, "## new\n")

	require.NoError(t, s.AddTitles("林昭", "林昭", "劉賓雁", "刘宾雁"))
	content := readFile(t, path)
	assert.Equal(t, 1, strings.Count(content, "林昭"))
	assert.Contains(t, content, "劉賓雁")
	assert.NotContains(t, content, "刘宾雁", "simplified duplicate of a batch entry is dropped")
}

func TestUpdateTitleReplacesLine(t *testing.T) {
	s, path := newStore(t, sampleList)

	require.NoError(t, s.UpdateTitle("胡耀邦", "胡耀邦 (政治家)"))
	content := readFile(t, path)
	assert.Contains(t, content, "胡耀邦 (政治家)")
	assert.Equal(t, 1, strings.Count(content, "胡耀邦"))
}

func TestUpdateTitleDeletesWhenTargetExists(t *testing.T) {
	s, path := newStore(t, "## person\n刘晓波\n劉曉波先生\n")

	// target collides with an existing entry via simplified comparison
	require.NoError(t, s.UpdateTitle("劉曉波先生", "刘晓波"))
	content := readFile(t, path)
	assert.Equal(t, 1, strings.Count(content, "刘晓波"))
	assert.NotContains(t, content, "劉曉波先生")
}

func TestUpdateTitleKeepsLangPrefix(t *testing.T) {
	s, path := newStore(t, "## person\n(en) Fang Lizhi\n")

	require.NoError(t, s.UpdateTitle("Fang Lizhi", "Fang Li-Zhi"))
	assert.Contains(t, readFile(t, path), "(en) Fang Li-Zhi")
}

func TestRemoveTitle(t *testing.T) {
	s, path := newStore(t, sampleList)

	require.NoError(t, s.RemoveTitle("劉曉波")) // traditional form removes simplified entry
	content := readFile(t, path)
	assert.NotContains(t, content, "刘晓波")
	assert.Contains(t, content, "胡耀邦")
}

func TestRewriteSortedOrdersByRank(t *testing.T) {
	s, path := newStore(t, sampleList)

	ranks := map[string]float64{"胡耀邦": 500, "刘晓波": 100, "Fang Lizhi": 300}
	require.NoError(t, s.RewriteSorted(func(name string) float64 { return ranks[name] }))

	content := readFile(t, path)
	assert.Less(t, strings.Index(content, "胡耀邦"), strings.Index(content, "Fang Lizhi"))
	assert.Less(t, strings.Index(content, "Fang Lizhi"), strings.Index(content, "刘晓波"))
	assert.Contains(t, content, "// pending verification")
	assert.Contains(t, content, "## organization")
}

func TestItems(t *testing.T) {
	s, _ := newStore(t, sampleList)

	items, err := s.Items()
	require.NoError(t, err)
	require.Len(t, items, 5)
	assert.Equal(t, Item{Name: "刘晓波", Category: "person", Lang: "zh"}, items[0])
	assert.Equal(t, Item{Name: "中国共产党", Category: "organization", Lang: "zh"}, items[3])
}

func TestMissingFileIsEmpty(t *testing.T) {
	s, _ := newStore(t, "")
	sections, err := s.Parse()
	require.NoError(t, err)
	assert.Empty(t, sections)

	require.NoError(t, s.AddTitle("林昭"))
	items, err := s.Items()
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "new", items[0].Category)
}
