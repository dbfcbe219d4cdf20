package frontend

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"graphweaver/domain/graph"
	"graphweaver/infrastructure/persistence"
)

type fixture struct {
	gen    *Generator
	cache  *persistence.PageviewsCache
	outDir string
}

func newFixture(t *testing.T, doc *graph.Document, coreSize int) *fixture {
	t.Helper()
	dir := t.TempDir()
	graphStore := persistence.NewGraphStore(filepath.Join(dir, "master_graph_qcode.json"), zap.NewNop())
	require.NoError(t, graphStore.Save(doc))
	cache, err := persistence.OpenPageviewsCache(filepath.Join(dir, "pageviews.json"), zap.NewNop())
	require.NoError(t, err)

	outDir := filepath.Join(dir, "docs", "data")
	return &fixture{
		gen:    New(graphStore, cache, outDir, coreSize, zap.NewNop()),
		cache:  cache,
		outDir: outDir,
	}
}

func person(id, name string, aliases ...string) *graph.Node {
	return &graph.Node{
		ID:   id,
		Type: graph.TypePerson,
		Name: map[string][]string{"zh-cn": append([]string{name}, aliases...)},
	}
}

func readJSON(t *testing.T, path string, v any) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, v))
}

func TestExportsNameIndex(t *testing.T) {
	f := newFixture(t, &graph.Document{
		Nodes: []*graph.Node{
			person("Q1", "刘晓波", "劉曉波"),
			person("BAIDU:某人", "某人"),
		},
	}, 10)

	report, err := f.gen.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Nodes)
	assert.Equal(t, 3, report.Names)

	var index map[string]string
	readJSON(t, filepath.Join(f.outDir, "name_to_id.json"), &index)
	assert.Equal(t, "Q1", index["刘晓波"])
	assert.Equal(t, "Q1", index["劉曉波"], "aliases resolve too")
	assert.Equal(t, "BAIDU:某人", index["某人"])
}

func TestExportsPerNodeFiles(t *testing.T) {
	f := newFixture(t, &graph.Document{
		Nodes: []*graph.Node{person("Q1", "甲"), person("Q2", "乙"), person("BAIDU:某人", "某人")},
		Relationships: []*graph.Relationship{
			{Source: "Q1", Target: "Q2", Type: graph.RelFriendOf, Properties: map[string]any{"description": "挚友"}},
		},
	}, 10)

	_, err := f.gen.Run(context.Background())
	require.NoError(t, err)

	var q1 nodeFile
	readJSON(t, filepath.Join(f.outDir, "nodes", "Q1.json"), &q1)
	assert.Equal(t, "Q1", q1.Node.ID)
	require.Len(t, q1.Relationships, 1)
	assert.Equal(t, "Q2", q1.Relationships[0].Target)

	var q2 nodeFile
	readJSON(t, filepath.Join(f.outDir, "nodes", "Q2.json"), &q2)
	assert.Len(t, q2.Relationships, 1, "undirected edge listed on both endpoints")

	// the colon in temporary IDs is not filesystem-safe
	_, err = os.Stat(filepath.Join(f.outDir, "nodes", "BAIDU_某人.json"))
	assert.NoError(t, err)
}

func TestInitialCoreNetwork(t *testing.T) {
	f := newFixture(t, &graph.Document{
		Nodes: []*graph.Node{person("Q1", "甲"), person("Q2", "乙"), person("Q3", "丙")},
		Relationships: []*graph.Relationship{
			{Source: "Q1", Target: "Q2", Type: graph.RelFriendOf, Properties: map[string]any{"description": "挚友"}},
			{Source: "Q2", Target: "Q3", Type: graph.RelMetWith, Properties: map[string]any{"description": "会面"}},
		},
	}, 2)
	f.cache.Put("甲", persistence.PageviewStats{AvgDailyViews: 100})
	f.cache.Put("乙", persistence.PageviewStats{AvgDailyViews: 50})
	f.cache.Put("丙", persistence.PageviewStats{AvgDailyViews: 5})

	report, err := f.gen.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.CoreNodes)
	assert.Equal(t, 1, report.CoreRels)

	var core graph.Document
	readJSON(t, filepath.Join(f.outDir, "initial.json"), &core)
	require.Len(t, core.Nodes, 2)
	ids := []string{core.Nodes[0].ID, core.Nodes[1].ID}
	assert.ElementsMatch(t, []string{"Q1", "Q2"}, ids)
	require.Len(t, core.Relationships, 1)
	assert.Equal(t, graph.RelFriendOf, core.Relationships[0].Type)
}

func TestCoreUsesAliasTraffic(t *testing.T) {
	f := newFixture(t, &graph.Document{
		Nodes: []*graph.Node{person("Q1", "刘晓波", "劉曉波"), person("Q2", "乙")},
	}, 1)
	// only the traditional form has cached traffic
	f.cache.Put("劉曉波", persistence.PageviewStats{AvgDailyViews: 300})
	f.cache.Put("乙", persistence.PageviewStats{AvgDailyViews: 10})

	var core graph.Document
	_, err := f.gen.Run(context.Background())
	require.NoError(t, err)
	readJSON(t, filepath.Join(f.outDir, "initial.json"), &core)
	require.Len(t, core.Nodes, 1)
	assert.Equal(t, "Q1", core.Nodes[0].ID)
}
