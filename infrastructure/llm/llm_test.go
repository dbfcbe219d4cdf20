package llm

import (
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphweaver/domain/graph"
)

func TestLoadPrompts(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		"parser_system.txt", "merge_check.txt", "merge_execute.txt",
		"clean_single_relation.txt", "pr_validator.txt",
	}
	for _, f := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, f), []byte("prompt for "+f+"\n"), 0o644))
	}

	ps, err := LoadPrompts(dir)
	require.NoError(t, err)
	assert.Equal(t, "prompt for parser_system.txt", ps.ParserSystem)
	assert.Equal(t, "prompt for pr_validator.txt", ps.PRValidator)
}

func TestLoadPromptsMissingFile(t *testing.T) {
	_, err := LoadPrompts(t.TempDir())
	assert.Error(t, err)
}

func TestRenderSubstitutesPlaceholders(t *testing.T) {
	out := render("article {{title}} in {{category}}", map[string]string{
		"title": "刘晓波", "category": "person",
	})
	assert.Equal(t, "article 刘晓波 in person", out)
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"fenced no lang", "```\n[1,2]\n```", `[1,2]`},
		{"surrounding whitespace", "  {\"a\":1}\n", `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractJSON(tt.in))
		})
	}
}

func TestPropertiesViewOmitsIdentity(t *testing.T) {
	node := &graph.Node{
		ID:   "Q27698",
		Type: graph.TypePerson,
		Name: map[string][]string{"zh-cn": {"刘晓波"}},
		Properties: map[string]any{
			"description": map[string]any{"zh-cn": "作家"},
		},
	}

	view := propertiesView(node.Properties)
	assert.NotContains(t, view, "Q27698")
	assert.NotContains(t, view, "刘晓波")
	assert.NotContains(t, view, `"name"`)
	assert.Contains(t, view, "作家")

	rel := &graph.Relationship{Source: "Q27698", Target: "Q148", Type: graph.RelMemberOf}
	view = propertiesView(rel.Properties)
	assert.NotContains(t, view, "Q27698")
	assert.NotContains(t, view, "Q148")
	assert.Contains(t, view, `"properties"`)
}

func fewShotGraph() *graph.Graph {
	g := graph.New()
	g.AddNode(&graph.Node{
		ID:   "Q7195",
		Type: graph.TypePerson,
		Name: map[string][]string{"zh-cn": {"邓小平"}, "en": {"Deng Xiaoping"}},
	})
	g.AddNode(&graph.Node{
		ID:   "Q148",
		Type: graph.TypeOrganization,
		Name: map[string][]string{"zh-cn": {"中国共产党"}},
	})
	g.PutRelationship(&graph.Relationship{
		Source: "Q7195", Target: "Q148", Type: graph.RelMemberOf,
	})
	return g
}

func TestBuildFewShotRewritesIDsToNames(t *testing.T) {
	out := BuildFewShot(fewShotGraph(), 12, 24, rand.New(rand.NewSource(1)))

	assert.NotContains(t, out, "Q7195", "examples must not leak internal IDs")
	assert.Contains(t, out, "邓小平")
	assert.Contains(t, out, "MEMBER_OF")
}

func TestBuildFewShotRespectsLimits(t *testing.T) {
	g := graph.New()
	for i := 0; i < 50; i++ {
		g.AddNode(&graph.Node{
			ID:   "Q" + strings.Repeat("1", i+1),
			Type: graph.TypePerson,
			Name: map[string][]string{"zh-cn": {strings.Repeat("甲", i+1)}},
		})
	}
	out := BuildFewShot(g, 3, 5, rand.New(rand.NewSource(1)))
	assert.Equal(t, 3, strings.Count(out, `"type": "Person"`))
}

func TestBuildFewShotEmptyGraph(t *testing.T) {
	assert.Empty(t, BuildFewShot(graph.New(), 12, 24, nil))
	assert.Empty(t, BuildFewShot(nil, 12, 24, nil))
}
