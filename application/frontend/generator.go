// Package frontend exports the master graph as the static JSON files the
// web viewer loads: a name index, one file per node and an initial core
// network for the first render.
package frontend

import (
	"context"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"graphweaver/domain/graph"
	"graphweaver/infrastructure/persistence"
)

// Generator writes the frontend data directory from the master graph.
type Generator struct {
	graphStore *persistence.GraphStore
	pageviews  *persistence.PageviewsCache
	outDir     string
	coreSize   int
	logger     *zap.Logger
}

// New wires a generator. outDir is the data directory the static site
// serves, typically docs/data.
func New(graphStore *persistence.GraphStore, pageviews *persistence.PageviewsCache, outDir string, coreSize int, logger *zap.Logger) *Generator {
	return &Generator{
		graphStore: graphStore,
		pageviews:  pageviews,
		outDir:     outDir,
		coreSize:   coreSize,
		logger:     logger,
	}
}

// Report summarizes one export.
type Report struct {
	Nodes     int
	Names     int
	CoreNodes int
	CoreRels  int
}

// nodeFile is the per-node payload: the node itself plus every relationship
// touching it, so the viewer can expand a node with one fetch.
type nodeFile struct {
	Node          *graph.Node           `json:"node"`
	Relationships []*graph.Relationship `json:"relationships"`
}

// Run exports the graph. The export is a full rewrite; stale per-node files
// from removed nodes are left behind and harmless, the name index no longer
// points at them.
func (f *Generator) Run(ctx context.Context) (*Report, error) {
	doc, err := f.graphStore.Load()
	if err != nil {
		return nil, err
	}
	g := graph.FromDocument(doc)
	report := &Report{Nodes: g.NodeCount()}

	nameToID := make(map[string]string)
	for _, n := range g.Nodes() {
		for _, names := range n.Name {
			for _, name := range names {
				if name == "" {
					continue
				}
				if _, taken := nameToID[name]; !taken {
					nameToID[name] = n.ID
				}
			}
		}
	}
	report.Names = len(nameToID)
	if err := persistence.WriteJSONFile(filepath.Join(f.outDir, "name_to_id.json"), nameToID); err != nil {
		return report, err
	}

	byNode := make(map[string][]*graph.Relationship)
	for _, r := range g.Relationships() {
		byNode[r.Source] = append(byNode[r.Source], r)
		if r.Target != r.Source {
			byNode[r.Target] = append(byNode[r.Target], r)
		}
	}

	for _, id := range g.SortedNodeIDs() {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		n, _ := g.Node(id)
		payload := nodeFile{Node: n, Relationships: byNode[id]}
		if payload.Relationships == nil {
			payload.Relationships = []*graph.Relationship{}
		}
		path := filepath.Join(f.outDir, "nodes", persistence.SanitizeFilename(id)+".json")
		if err := persistence.WriteJSONFile(path, payload); err != nil {
			return report, err
		}
	}

	core := f.coreNetwork(g)
	report.CoreNodes = len(core.Nodes)
	report.CoreRels = len(core.Relationships)
	if err := persistence.WriteJSONFile(filepath.Join(f.outDir, "initial.json"), core); err != nil {
		return report, err
	}

	f.logger.Info("frontend data exported",
		zap.String("dir", f.outDir),
		zap.Int("nodes", report.Nodes),
		zap.Int("names", report.Names),
		zap.Int("core_nodes", report.CoreNodes),
		zap.Int("core_rels", report.CoreRels))
	return report, nil
}

// coreNetwork picks the hottest nodes by average daily views and the
// relationships running between them.
func (f *Generator) coreNetwork(g *graph.Graph) *graph.Document {
	ids := g.SortedNodeIDs()
	sort.SliceStable(ids, func(i, j int) bool {
		return f.views(g, ids[i]) > f.views(g, ids[j])
	})
	if f.coreSize > 0 && len(ids) > f.coreSize {
		ids = ids[:f.coreSize]
	}

	member := make(map[string]struct{}, len(ids))
	core := &graph.Document{}
	for _, id := range ids {
		n, _ := g.Node(id)
		core.Nodes = append(core.Nodes, n)
		member[id] = struct{}{}
	}
	for _, r := range g.Relationships() {
		if _, ok := member[r.Source]; !ok {
			continue
		}
		if _, ok := member[r.Target]; !ok {
			continue
		}
		core.Relationships = append(core.Relationships, r)
	}
	return core
}

// views ranks a node by the best traffic figure across its known names.
func (f *Generator) views(g *graph.Graph, id string) float64 {
	n, ok := g.Node(id)
	if !ok {
		return 0
	}
	var best float64
	for _, names := range n.Name {
		for _, name := range names {
			if v := f.pageviews.AvgDailyViews(name); v > best {
				best = v
			}
		}
	}
	return best
}
