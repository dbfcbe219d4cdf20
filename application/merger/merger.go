// Package merger folds freshly parsed fragments into the master graph,
// resolving every fragment entity to a canonical identity before any data
// moves.
package merger

import (
	"context"
	"path/filepath"

	"go.uber.org/zap"

	"graphweaver/domain/graph"
	"graphweaver/infrastructure/persistence"
	"graphweaver/infrastructure/wiki"
	"graphweaver/pkg/observability"
	"graphweaver/pkg/zh"
)

// WikiResolver is the slice of the wiki client the merger needs.
type WikiResolver interface {
	GetQcode(ctx context.Context, title, lang string) (string, string)
	CheckLinkStatus(ctx context.Context, title, lang string) (wiki.LinkStatus, string)
	SaveCaches() error
}

// LLM is the judgment surface used during merging.
type LLM interface {
	ShouldMerge(ctx context.Context, resident, fresh *graph.Node) (bool, error)
	MergeItems(ctx context.Context, resident, fresh *graph.Node) (*graph.Node, error)
	ShouldMergeRelationship(ctx context.Context, resident, fresh *graph.Relationship) (bool, error)
	MergeRelationships(ctx context.Context, resident, fresh *graph.Relationship) (*graph.Relationship, error)
}

// TitleAdder feeds newly canonicalized titles back to the watch list.
type TitleAdder interface {
	AddTitle(title string) error
}

// Report summarizes one merge run.
type Report struct {
	Fragments    int
	NodesMerged  int
	NodesCreated int
	NodesDropped int
	RelsInserted int
	RelsMerged   int
	RelsSkipped  int
}

// Merger owns the fragment-to-master merge pass.
type Merger struct {
	graphStore *persistence.GraphStore
	fragments  *persistence.FragmentStore
	log        *persistence.ProcessedLog
	wiki       WikiResolver
	llm        LLM
	list       TitleAdder
	conv       *zh.Converter
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// New wires a merger.
func New(graphStore *persistence.GraphStore, fragments *persistence.FragmentStore, log *persistence.ProcessedLog, wikiClient WikiResolver, llmService LLM, list TitleAdder, conv *zh.Converter, metrics *observability.Metrics, logger *zap.Logger) *Merger {
	return &Merger{
		graphStore: graphStore,
		fragments:  fragments,
		log:        log,
		wiki:       wikiClient,
		llm:        llmService,
		list:       list,
		conv:       conv,
		metrics:    metrics,
		logger:     logger,
	}
}

// Run merges every unprocessed fragment into the master graph, then persists
// the graph, the processed log and the wiki caches.
func (m *Merger) Run(ctx context.Context) (*Report, error) {
	processed, err := m.log.Load()
	if err != nil {
		return nil, err
	}
	files, err := m.fragments.Unmerged(processed)
	if err != nil {
		return nil, err
	}
	report := &Report{Fragments: len(files)}
	if len(files) == 0 {
		m.logger.Info("no unmerged fragments")
		return report, nil
	}

	doc, err := m.graphStore.Load()
	if err != nil {
		return nil, err
	}
	g := graph.FromDocument(doc)

	var merged []string
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		frag, err := m.fragments.Read(path)
		if err != nil {
			m.logger.Warn("skipping unreadable fragment", zap.String("path", path), zap.Error(err))
			continue
		}
		m.mergeFragment(ctx, g, frag, report)
		merged = append(merged, filepath.Base(path))
	}

	if err := m.graphStore.Save(g.ToDocument()); err != nil {
		return report, err
	}
	if err := m.log.Append(merged); err != nil {
		return report, err
	}
	if err := m.wiki.SaveCaches(); err != nil {
		m.logger.Warn("failed to save wiki caches", zap.Error(err))
	}
	m.logger.Info("merge complete",
		zap.Int("fragments", report.Fragments),
		zap.Int("nodes_merged", report.NodesMerged),
		zap.Int("nodes_created", report.NodesCreated),
		zap.Int("nodes_dropped", report.NodesDropped),
		zap.Int("rels_inserted", report.RelsInserted))
	return report, nil
}

// mergeFragment folds one fragment. The local map carries this fragment's
// name→ID resolutions so its relationships resolve even for names the global
// index does not know yet.
func (m *Merger) mergeFragment(ctx context.Context, g *graph.Graph, frag *graph.Document, report *Report) {
	local := make(map[string]string)

	for _, fresh := range frag.Nodes {
		if fresh == nil {
			continue
		}
		lang := fresh.PrimaryLang()
		name := fresh.PrimaryName(lang)
		if name == "" {
			continue
		}

		id, override, keep := m.resolveIdentity(ctx, g, fresh, name, lang)
		if !keep {
			report.NodesDropped++
			m.metrics.NodesDropped.Inc()
			continue
		}

		if resident, ok := g.Node(id); ok {
			m.mergeNode(ctx, g, resident, fresh, lang, override)
			report.NodesMerged++
			m.metrics.NodesMerged.Inc()
		} else {
			created := fresh.Clone()
			created.ID = id
			created.Name = graph.MergeNameLists(nil, fresh.Name, lang, override)
			g.AddNode(created)
			report.NodesCreated++
		}

		for _, names := range fresh.Name {
			for _, n := range names {
				if n != "" {
					local[n] = id
				}
			}
		}
	}

	for _, rel := range frag.Relationships {
		if rel == nil {
			continue
		}
		m.mergeRelationship(ctx, g, rel, local, report)
	}
}

// resolveIdentity implements the identity ladder: Wikidata first, then the
// global name index, then link-status classification with fallback sources.
// override carries the canonical-name correction discovered along the way.
func (m *Merger) resolveIdentity(ctx context.Context, g *graph.Graph, fresh *graph.Node, name, lang string) (id, override string, keep bool) {
	wikiLang := wikiLangFor(lang)

	if qcode, finalTitle := m.wiki.GetQcode(ctx, name, wikiLang); qcode != "" {
		if finalTitle != name {
			override = finalTitle
			if wikiLang == "zh" {
				override = m.conv.Simplify(finalTitle)
			}
		}
		return qcode, override, true
	}

	if existing, ok := g.ResolveName(name); ok {
		return existing, "", true
	}

	status, detail := m.wiki.CheckLinkStatus(ctx, name, wikiLang)
	switch status {
	case wiki.StatusBaidu:
		return graph.TempPrefixBaidu + name, "", true
	case wiki.StatusCDT:
		return graph.TempPrefixCDT + name, "", true
	case wiki.StatusRedirect, wiki.StatusDisambig:
		m.logger.Info("dropping ambiguous fragment node",
			zap.String("name", name), zap.String("status", string(status)),
			zap.String("detail", detail))
		return "", "", false
	default:
		m.logger.Info("dropping unresolvable fragment node",
			zap.String("name", name), zap.String("status", string(status)))
		return "", "", false
	}
}

// mergeNode folds a fresh node into the resident one: names first, then the
// LLM-arbitrated property overlay. Identity fields never cross the LLM.
func (m *Merger) mergeNode(ctx context.Context, g *graph.Graph, resident, fresh *graph.Node, lang, override string) {
	resident.Name = graph.MergeNameLists(resident.Name, fresh.Name, lang, override)
	g.RegisterNames(resident)

	ok, err := m.llm.ShouldMerge(ctx, resident, fresh)
	if err != nil {
		m.logger.Warn("merge check failed, keeping resident properties",
			zap.String("node", resident.ID), zap.Error(err))
		return
	}
	if !ok {
		return
	}
	merged, err := m.llm.MergeItems(ctx, resident, fresh)
	if err != nil {
		m.logger.Warn("merge execution failed, keeping resident properties",
			zap.String("node", resident.ID), zap.Error(err))
		return
	}
	if merged.Properties != nil {
		if resident.Properties == nil {
			resident.Properties = make(map[string]any, len(merged.Properties))
		}
		for k, v := range merged.Properties {
			resident.Properties[k] = v
		}
	}
	if merged.Type != "" && graph.IsValidNodeType(merged.Type) {
		resident.Type = merged.Type
	}
}

// mergeRelationship resolves endpoints and inserts or merges the edge at its
// canonical key.
func (m *Merger) mergeRelationship(ctx context.Context, g *graph.Graph, rel *graph.Relationship, local map[string]string, report *Report) {
	source, ok := resolveEndpoint(g, local, rel.Source)
	if !ok {
		report.RelsSkipped++
		m.logger.Info("skipping relationship with unresolved source",
			zap.String("source", rel.Source), zap.String("type", string(rel.Type)))
		return
	}
	target, ok := resolveEndpoint(g, local, rel.Target)
	if !ok {
		report.RelsSkipped++
		m.logger.Info("skipping relationship with unresolved target",
			zap.String("target", rel.Target), zap.String("type", string(rel.Type)))
		return
	}

	fresh := rel.Clone()
	fresh.Source, fresh.Target = source, target

	resident, inserted := g.PutRelationship(fresh)
	if inserted {
		report.RelsInserted++
		return
	}

	ok, err := m.llm.ShouldMergeRelationship(ctx, resident, fresh)
	if err != nil || !ok {
		if err != nil {
			m.logger.Warn("relationship merge check failed", zap.Error(err))
		}
		return
	}
	merged, err := m.llm.MergeRelationships(ctx, resident, fresh)
	if err != nil {
		m.logger.Warn("relationship merge failed", zap.Error(err))
		return
	}
	g.ReplaceRelationship(merged)
	report.RelsMerged++
}

// resolveEndpoint maps a fragment endpoint to a node ID: IDs pass through,
// then the fragment-local map, then the global name index.
func resolveEndpoint(g *graph.Graph, local map[string]string, endpoint string) (string, bool) {
	if _, ok := g.Node(endpoint); ok {
		return endpoint, true
	}
	if id, ok := local[endpoint]; ok {
		return id, true
	}
	return g.ResolveName(endpoint)
}

// wikiLangFor maps a list language code to the wiki subdomain.
func wikiLangFor(lang string) string {
	if lang == "" || lang == "zh-cn" {
		return "zh"
	}
	return lang
}
