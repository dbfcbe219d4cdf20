// Package maintainer runs the deep-maintenance pass over the master graph:
// authoritative-name refresh, watch-list repair, schema enforcement, the
// relationship audit, cache GC and temporary-ID upgrades. Every step is
// idempotent, so an interrupted pass can simply rerun.
package maintainer

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"graphweaver/application/liststore"
	"graphweaver/domain/graph"
	"graphweaver/infrastructure/config"
	"graphweaver/infrastructure/llm"
	"graphweaver/infrastructure/persistence"
	"graphweaver/infrastructure/wiki"
	"graphweaver/pkg/observability"
	"graphweaver/pkg/zh"
)

// WikiResolver is the slice of the wiki client maintenance needs.
type WikiResolver interface {
	GetQcode(ctx context.Context, title, lang string) (string, string)
	GetAuthoritativeTitleByQcode(ctx context.Context, qcode, lang string) wiki.TitleLookup
	GetAuthoritativeTitleAndStatus(ctx context.Context, title, lang string) wiki.TitleLookup
	SaveCaches() error
}

// Auditor judges relationship batches.
type Auditor interface {
	AuditRelations(ctx context.Context, batch []llm.RelationContext) (map[string]llm.Verdict, error)
}

// Options bounds one maintenance pass.
type Options struct {
	GraphUpdateLimit      int
	ListUpdateLimit       int
	RelationCleanPerRun   int
	RelationCleanSkipDays int
	Workers               int
}

// Report counts what each step changed.
type Report struct {
	NamesRefreshed   int
	NodesRemoved     int
	ListUpdated      int
	ListRemoved      int
	TypesCorrected   int
	RelsPruned       int
	SchemaViolations int
	RelsAudited      int
	RelsDeleted      int
	CacheEvicted     int
	TempIDsUpgraded  int
}

// Maintainer executes the eight maintenance steps in order.
type Maintainer struct {
	graphStore *persistence.GraphStore
	list       *liststore.Store
	links      *persistence.LinkStatusCache
	falseRels  *persistence.FalseRelationsCache
	wiki       WikiResolver
	auditor    Auditor
	conv       *zh.Converter
	tuning     func() *config.Tuning
	opts       Options
	metrics    *observability.Metrics
	logger     *zap.Logger

	now    func() time.Time
	rng    *rand.Rand
	randFn func() float64
	sleep  func(time.Duration)
}

// New wires a maintainer.
func New(graphStore *persistence.GraphStore, list *liststore.Store, links *persistence.LinkStatusCache, falseRels *persistence.FalseRelationsCache, wikiClient WikiResolver, auditor Auditor, conv *zh.Converter, tuning func() *config.Tuning, opts Options, metrics *observability.Metrics, logger *zap.Logger) *Maintainer {
	if opts.Workers <= 0 {
		opts.Workers = 16
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &Maintainer{
		graphStore: graphStore,
		list:       list,
		links:      links,
		falseRels:  falseRels,
		wiki:       wikiClient,
		auditor:    auditor,
		conv:       conv,
		tuning:     tuning,
		opts:       opts,
		metrics:    metrics,
		logger:     logger,
		now:        time.Now,
		rng:        rng,
		randFn:     rng.Float64,
		sleep:      time.Sleep,
	}
}

// Run executes the full pass and persists every store that changed.
func (m *Maintainer) Run(ctx context.Context) (*Report, error) {
	doc, err := m.graphStore.Load()
	if err != nil {
		return nil, err
	}
	g := graph.FromDocument(doc)
	report := &Report{}

	if err := m.refreshQcodeNames(ctx, g, report); err != nil {
		return report, err
	}
	if err := m.refreshWatchList(ctx, report); err != nil {
		return report, err
	}
	if err := m.correctTypesFromList(g, report); err != nil {
		return report, err
	}
	m.pruneDescriptionless(g, report)
	m.validateSchema(g, report)
	if err := m.auditRelations(ctx, g, report); err != nil {
		return report, err
	}
	report.CacheEvicted = m.links.PruneFallbackEntries(time.Duration(m.tuning().CacheGCDays) * 24 * time.Hour)
	m.upgradeTempIDs(ctx, g, report)

	if err := m.graphStore.Save(g.ToDocument()); err != nil {
		return report, err
	}
	if err := m.falseRels.Save(); err != nil {
		return report, err
	}
	if err := m.wiki.SaveCaches(); err != nil {
		m.logger.Warn("failed to save wiki caches", zap.Error(err))
	}
	m.logger.Info("maintenance complete",
		zap.Int("names_refreshed", report.NamesRefreshed),
		zap.Int("nodes_removed", report.NodesRemoved),
		zap.Int("rels_pruned", report.RelsPruned),
		zap.Int("rels_deleted", report.RelsDeleted),
		zap.Int("temp_ids_upgraded", report.TempIDsUpgraded))
	return report, nil
}

// wikiLangFor maps a node's name-language key to the wiki subdomain.
func wikiLangFor(langKey string) string {
	if langKey == "zh-cn" || langKey == "zh" {
		return "zh"
	}
	return langKey
}

// langKeyFor maps a wiki subdomain back to the name-map key.
func langKeyFor(wikiLang string) string {
	if wikiLang == "zh" {
		return "zh-cn"
	}
	return wikiLang
}

// refreshQcodeNames re-resolves authoritative titles for Q-code nodes and
// removes nodes Wikidata no longer validates in any language.
func (m *Maintainer) refreshQcodeNames(ctx context.Context, g *graph.Graph, report *Report) error {
	var ids []string
	for _, id := range g.SortedNodeIDs() {
		if graph.IsQcode(id) {
			ids = append(ids, id)
		}
	}
	if len(ids) > m.opts.GraphUpdateLimit {
		m.rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
		ids = ids[:m.opts.GraphUpdateLimit]
		sort.Strings(ids)
	}

	type lookupResult struct {
		id     string
		titles map[string]string // wiki lang → authoritative title
		anyOK  bool
		anyErr bool
	}
	results := make([]lookupResult, len(ids))

	grp, grpCtx := errgroup.WithContext(ctx)
	grp.SetLimit(m.opts.Workers)
	for i, id := range ids {
		i, id := i, id
		grp.Go(func() error {
			node, ok := g.Node(id)
			if !ok {
				return nil
			}
			langs := map[string]struct{}{"zh": {}, "en": {}}
			for langKey := range node.Name {
				langs[wikiLangFor(langKey)] = struct{}{}
			}

			res := lookupResult{id: id, titles: make(map[string]string)}
			for lang := range langs {
				lookup := m.wiki.GetAuthoritativeTitleByQcode(grpCtx, id, lang)
				switch lookup.Status {
				case wiki.LookupOK:
					res.anyOK = true
					res.titles[lang] = lookup.Title
				case wiki.LookupError:
					res.anyErr = true
				}
			}
			results[i] = res
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return err
	}

	var canonicals []string
	for _, res := range results {
		if res.id == "" {
			continue
		}
		if !res.anyOK && !res.anyErr {
			removed := g.RemoveNode(res.id)
			report.NodesRemoved++
			m.logger.Info("removing node no longer on wikidata",
				zap.String("id", res.id), zap.Int("relationships", removed))
			continue
		}
		node, ok := g.Node(res.id)
		if !ok {
			continue
		}
		for lang, title := range res.titles {
			if lang == "zh" {
				title = m.conv.Simplify(title)
			}
			key := langKeyFor(lang)
			if node.PrimaryName(key) != title {
				report.NamesRefreshed++
			}
			node.Name = graph.MergeNameLists(node.Name, nil, key, title)
			if lang == "zh" {
				canonicals = append(canonicals, title)
			}
		}
		g.RegisterNames(node)
	}

	if len(canonicals) > 0 {
		if err := m.list.AddTitles(canonicals...); err != nil {
			m.logger.Warn("failed to extend watch list", zap.Error(err))
		}
	}
	return nil
}

// resolveStable follows redirect chains to a fixed point, guarding against
// cycles.
func (m *Maintainer) resolveStable(ctx context.Context, title, lang string) wiki.TitleLookup {
	seen := map[string]struct{}{title: {}}
	current := title
	for hops := 0; hops < 5; hops++ {
		lookup := m.wiki.GetAuthoritativeTitleAndStatus(ctx, current, lang)
		if lookup.Status != wiki.LookupOK || lookup.Title == current {
			return lookup
		}
		if _, cycled := seen[lookup.Title]; cycled {
			return wiki.TitleLookup{Title: current, Status: wiki.LookupOK}
		}
		seen[lookup.Title] = struct{}{}
		current = lookup.Title
	}
	return wiki.TitleLookup{Title: current, Status: wiki.LookupOK}
}

// refreshWatchList re-resolves sampled list entries against the wiki,
// removing dead ones and rewriting redirected ones.
func (m *Maintainer) refreshWatchList(ctx context.Context, report *Report) error {
	items, err := m.list.Items()
	if err != nil {
		return err
	}
	if len(items) > m.opts.ListUpdateLimit {
		m.rng.Shuffle(len(items), func(i, j int) { items[i], items[j] = items[j], items[i] })
		items = items[:m.opts.ListUpdateLimit]
	}

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		lang := wikiLangFor(item.Lang)

		lookup := m.resolveStable(ctx, item.Name, lang)
		if lang == "zh" && (lookup.Status == wiki.LookupNotFound || lookup.Status == wiki.LookupError) {
			// a page can live under either script form; prefer whichever
			// resolves to itself
			for _, alt := range []string{m.conv.Simplify(item.Name), m.conv.Traditionalize(item.Name)} {
				if alt == item.Name {
					continue
				}
				if altLookup := m.resolveStable(ctx, alt, lang); altLookup.Status == wiki.LookupOK {
					lookup = altLookup
					break
				}
			}
		}

		switch lookup.Status {
		case wiki.LookupDisambig, wiki.LookupNotFound:
			if err := m.list.RemoveTitle(item.Name); err != nil {
				return err
			}
			report.ListRemoved++
			m.logger.Info("removing dead watch-list entry",
				zap.String("name", item.Name), zap.String("status", string(lookup.Status)))
		case wiki.LookupOK:
			title := lookup.Title
			if lang == "zh" {
				title = m.conv.Simplify(title)
			}
			if title != item.Name {
				if err := m.list.UpdateTitle(item.Name, title); err != nil {
					return err
				}
				report.ListUpdated++
			}
		}
	}
	return nil
}

// correctTypesFromList realigns node types with the watch-list categories.
func (m *Maintainer) correctTypesFromList(g *graph.Graph, report *Report) error {
	sections, err := m.list.Parse()
	if err != nil {
		return err
	}
	want := make(map[string]graph.NodeType)
	for _, sec := range sections {
		t, ok := graph.ParseNodeType(sec.Category)
		if !ok {
			continue
		}
		for _, e := range sec.Entries {
			want[m.conv.NormalizeKey(e.Name)] = t
		}
	}

	for _, node := range g.Nodes() {
		name := node.DisplayName()
		t, ok := want[m.conv.NormalizeKey(name)]
		if !ok || node.Type == t {
			continue
		}
		m.logger.Info("correcting node type from watch list",
			zap.String("id", node.ID), zap.String("name", name),
			zap.String("from", string(node.Type)), zap.String("to", string(t)))
		node.Type = t
		report.TypesCorrected++
	}
	return nil
}

// pruneDescriptionless drops relationships with no usable evidence text.
func (m *Maintainer) pruneDescriptionless(g *graph.Graph, report *Report) {
	for _, r := range g.Relationships() {
		if graph.DescriptionPresent(r.Properties) {
			continue
		}
		g.DeleteRelationship(r.Key())
		report.RelsPruned++
		m.metrics.RelsDeleted.Inc()
	}
}

// validateSchema enforces the closed type sets and property whitelists.
func (m *Maintainer) validateSchema(g *graph.Graph, report *Report) {
	for _, node := range g.Nodes() {
		if !graph.IsValidNodeType(node.Type) {
			g.RemoveNode(node.ID)
			report.SchemaViolations++
			m.logger.Warn("removing node with invalid type",
				zap.String("id", node.ID), zap.String("type", string(node.Type)))
			continue
		}
		allowed := graph.AllowedNodeProperties(node.Type)
		for key := range node.Properties {
			if _, ok := allowed[key]; !ok {
				delete(node.Properties, key)
				report.SchemaViolations++
			}
		}
	}

	relAllowed := graph.AllowedRelationshipProperties()
	for _, r := range g.Relationships() {
		rule, known := graph.RelationshipTypeRules[r.Type]
		if !known {
			g.DeleteRelationship(r.Key())
			report.SchemaViolations++
			continue
		}
		source, okS := g.Node(r.Source)
		target, okT := g.Node(r.Target)
		if !okS || !okT || !rule.Allows(source.Type, target.Type) {
			g.DeleteRelationship(r.Key())
			report.SchemaViolations++
			m.metrics.RelsDeleted.Inc()
			continue
		}
		for key := range r.Properties {
			if _, ok := relAllowed[key]; !ok {
				delete(r.Properties, key)
				report.SchemaViolations++
			}
		}
	}
}

// redundancyTypes are the relationship types that pile up between the same
// pair of nodes; two or more of them on one pair forces the pair back into
// the audit regardless of cache age.
var redundancyTypes = map[graph.RelType]struct{}{
	graph.RelInfluenced: {},
	graph.RelPushed:     {},
	graph.RelBlocked:    {},
	graph.RelFriendOf:   {},
	graph.RelEnemyOf:    {},
	graph.RelMetWith:    {},
}

// redundantPairRels returns every relationship belonging to a node pair that
// carries two or more redundancy-set relationships.
func redundantPairRels(g *graph.Graph) []*graph.Relationship {
	byPair := make(map[[2]string][]*graph.Relationship)
	for _, r := range g.Relationships() {
		if _, ok := redundancyTypes[r.Type]; !ok {
			continue
		}
		a, b := r.Source, r.Target
		if a > b {
			a, b = b, a
		}
		byPair[[2]string{a, b}] = append(byPair[[2]string{a, b}], r)
	}
	var out []*graph.Relationship
	for _, rels := range byPair {
		if len(rels) >= 2 {
			out = append(out, rels...)
		}
	}
	return out
}

// auditCandidates picks the relationships due for revalidation.
func (m *Maintainer) auditCandidates(g *graph.Graph) []*graph.Relationship {
	ramp := m.tuning().RelationClean
	skip := float64(m.opts.RelationCleanSkipDays)

	var candidates []*graph.Relationship
	seen := make(map[graph.RelKey]struct{})
	for _, r := range redundantPairRels(g) {
		candidates = append(candidates, r)
		seen[r.Key()] = struct{}{}
	}
	for _, r := range g.Relationships() {
		if _, dup := seen[r.Key()]; dup {
			continue
		}
		last, ok := m.falseRels.LastConfirmed(r.Key().String())
		if !ok {
			candidates = append(candidates, r)
			continue
		}
		ageDays := m.now().Sub(last).Hours() / 24
		if ageDays < skip {
			continue
		}
		if ageDays >= float64(ramp.EndDays) || m.randFn() < ramp.At(ageDays) {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) > m.opts.RelationCleanPerRun {
		m.rng.Shuffle(len(candidates), func(i, j int) {
			candidates[i], candidates[j] = candidates[j], candidates[i]
		})
		candidates = candidates[:m.opts.RelationCleanPerRun]
	}
	return candidates
}

// auditRelations runs the multi-round relationship audit: delete verdicts
// remove the edge, keep verdicts refresh the false-relations cache,
// abstentions are requeued with a cooldown between rounds.
func (m *Maintainer) auditRelations(ctx context.Context, g *graph.Graph, report *Report) error {
	pending := m.auditCandidates(g)
	report.RelsAudited = len(pending)
	if len(pending) == 0 {
		return nil
	}

	t := m.tuning()
	names := g.IDToDisplayName()
	byKey := make(map[string]*graph.Relationship, len(pending))
	for _, r := range pending {
		byKey[r.Key().String()] = r
	}

	for round := 0; round < t.AuditMaxRounds && len(pending) > 0; round++ {
		if round > 0 {
			m.logger.Info("audit retry round",
				zap.Int("round", round), zap.Int("pending", len(pending)))
			m.sleep(time.Duration(t.AuditCooldownSeconds) * time.Second)
		}

		var requeue []*graph.Relationship
		var mu sync.Mutex
		grp, grpCtx := errgroup.WithContext(ctx)
		grp.SetLimit(m.opts.Workers)

		for start := 0; start < len(pending); start += t.AuditBatchSize {
			end := start + t.AuditBatchSize
			if end > len(pending) {
				end = len(pending)
			}
			chunk := pending[start:end]
			grp.Go(func() error {
				batch := make([]llm.RelationContext, 0, len(chunk))
				for _, r := range chunk {
					var desc any
					if r.Properties != nil {
						desc = r.Properties["description"]
					}
					batch = append(batch, llm.RelationContext{
						Key:         r.Key().String(),
						SourceName:  names[r.Source],
						TargetName:  names[r.Target],
						Type:        string(r.Type),
						Description: desc,
					})
				}

				verdicts, err := m.auditor.AuditRelations(grpCtx, batch)
				if err != nil {
					m.logger.Warn("audit batch failed, requeueing", zap.Error(err))
					mu.Lock()
					requeue = append(requeue, chunk...)
					mu.Unlock()
					return nil
				}

				mu.Lock()
				defer mu.Unlock()
				for _, r := range chunk {
					key := r.Key().String()
					switch verdicts[key] {
					case llm.VerdictDelete:
						if g.DeleteRelationship(r.Key()) {
							report.RelsDeleted++
							m.metrics.RelsDeleted.Inc()
						}
						m.falseRels.Forget(key)
						m.logger.Info("audit removed relationship", zap.String("key", key))
					case llm.VerdictKeep:
						m.falseRels.Confirm(key)
					default:
						requeue = append(requeue, r)
					}
				}
				return nil
			})
		}
		if err := grp.Wait(); err != nil {
			return err
		}
		pending = requeue
	}

	if len(pending) > 0 {
		m.logger.Warn("audit gave up on undecided relationships",
			zap.Int("pending", len(pending)))
	}
	return nil
}

// deepMergeProperties overlays src onto dst, recursing where both sides are
// maps so multilingual descriptions combine instead of clobbering.
func deepMergeProperties(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range src {
		if srcMap, okS := v.(map[string]any); okS {
			if dstMap, okD := dst[k].(map[string]any); okD {
				dst[k] = deepMergeProperties(dstMap, srcMap)
				continue
			}
		}
		dst[k] = v
	}
	return dst
}

// upgradeTempIDs retries Q-code resolution for fallback-source nodes and
// rewrites the graph when one succeeds.
func (m *Maintainer) upgradeTempIDs(ctx context.Context, g *graph.Graph, report *Report) {
	for _, id := range g.SortedNodeIDs() {
		if !graph.IsTemporaryID(id) {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		node, ok := g.Node(id)
		if !ok {
			continue
		}
		name := graph.TemporaryOriginalName(id)
		qcode, finalTitle := m.wiki.GetQcode(ctx, name, "zh")
		if qcode == "" {
			continue
		}

		if resident, exists := g.Node(qcode); exists {
			resident.Name = graph.MergeNameLists(resident.Name, node.Name, node.PrimaryLang(), "")
			resident.Properties = deepMergeProperties(resident.Properties, node.Properties)
			g.RegisterNames(resident)
			g.RemapID(id, qcode)
			g.RemoveNode(id)
		} else {
			upgraded := node.Clone()
			upgraded.ID = qcode
			override := ""
			if finalTitle != "" && finalTitle != name {
				override = m.conv.Simplify(finalTitle)
			}
			upgraded.Name = graph.MergeNameLists(node.Name, nil, node.PrimaryLang(), override)
			g.RemapID(id, qcode)
			g.RemoveNode(id)
			g.AddNode(upgraded)
		}
		report.TempIDsUpgraded++
		m.logger.Info("upgraded temporary id",
			zap.String("from", id), zap.String("to", qcode))
	}
}
