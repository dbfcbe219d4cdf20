package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNodeType(t *testing.T) {
	tests := []struct {
		name     string
		category string
		want     NodeType
		ok       bool
	}{
		{"exact match", "Person", TypePerson, true},
		{"lowercase", "organization", TypeOrganization, true},
		{"padded", "  Event ", TypeEvent, true},
		{"unknown category", "new", "", false},
		{"empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseNodeType(tt.category)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIdentifierClassification(t *testing.T) {
	assert.True(t, IsQcode("Q123456"))
	assert.False(t, IsQcode("Q12a"))
	assert.False(t, IsQcode("BAIDU:某人"))

	assert.True(t, IsTemporaryID("BAIDU:某人"))
	assert.True(t, IsTemporaryID("CDT:白纸运动 参与者"))
	assert.False(t, IsTemporaryID("Q42"))

	assert.Equal(t, "白纸运动 参与者", TemporaryOriginalName("CDT:白纸运动 参与者"))
	assert.Equal(t, "Q42", TemporaryOriginalName("Q42"))
}

func TestPrimaryLangPreference(t *testing.T) {
	n := &Node{ID: "Q1", Name: map[string][]string{
		"en": {"Liu Xiaobo"},
		"ja": {"劉暁波"},
	}}
	assert.Equal(t, "en", n.PrimaryLang())

	n.Name["zh-cn"] = []string{"刘晓波"}
	assert.Equal(t, "zh-cn", n.PrimaryLang())
	assert.Equal(t, "刘晓波", n.DisplayName())

	empty := &Node{ID: "Q2"}
	assert.Equal(t, "", empty.PrimaryLang())
	assert.Equal(t, "Q2", empty.DisplayName())
}

func TestMergeNameLists(t *testing.T) {
	t.Run("existing canonical wins over new", func(t *testing.T) {
		existing := map[string][]string{"zh-cn": {"刘晓波", "晓波"}}
		fresh := map[string][]string{"zh-cn": {"劉曉波"}, "en": {"Liu Xiaobo"}}

		merged := MergeNameLists(existing, fresh, "zh-cn", "")

		require.Contains(t, merged, "zh-cn")
		assert.Equal(t, "刘晓波", merged["zh-cn"][0])
		assert.ElementsMatch(t, []string{"刘晓波", "晓波", "劉曉波"}, merged["zh-cn"])
		assert.Equal(t, []string{"Liu Xiaobo"}, merged["en"])
	})

	t.Run("override replaces canonical in primary language only", func(t *testing.T) {
		existing := map[string][]string{
			"zh-cn": {"劉曉波"},
			"en":    {"Liu Xiaobo"},
		}
		merged := MergeNameLists(existing, nil, "zh-cn", "刘晓波")

		assert.Equal(t, "刘晓波", merged["zh-cn"][0])
		assert.Contains(t, merged["zh-cn"], "劉曉波")
		assert.Equal(t, "Liu Xiaobo", merged["en"][0])
	})

	t.Run("aliases sorted after canonical", func(t *testing.T) {
		existing := map[string][]string{"en": {"Main", "c", "a", "b"}}
		merged := MergeNameLists(existing, nil, "en", "")
		assert.Equal(t, []string{"Main", "a", "b", "c"}, merged["en"])
	})

	t.Run("blank names dropped", func(t *testing.T) {
		merged := MergeNameLists(map[string][]string{"en": {"X", ""}}, nil, "en", "")
		assert.Equal(t, []string{"X"}, merged["en"])
	})
}

func TestNodeClone(t *testing.T) {
	n := &Node{
		ID:   "Q1",
		Type: TypePerson,
		Name: map[string][]string{"en": {"A"}},
		Properties: map[string]any{
			"description": map[string]any{"en": "writer"},
		},
	}
	cp := n.Clone()
	cp.Name["en"][0] = "B"
	cp.Properties["description"].(map[string]any)["en"] = "poet"

	assert.Equal(t, "A", n.Name["en"][0])
	assert.Equal(t, "writer", n.Properties["description"].(map[string]any)["en"])
}
