// Package processor selects a bounded slice of the watch list each run,
// fetches the articles, runs the parser and writes one fragment per entity.
package processor

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
	"graphweaver/infrastructure/persistence"
	"graphweaver/pkg/errors"
	"graphweaver/pkg/sampling"
)

// WikiReader is the slice of the wiki client the processor needs.
type WikiReader interface {
	GetLatestRevisionTime(ctx context.Context, title, lang string) (time.Time, bool)
	GetWikitext(ctx context.Context, title, lang string) (string, string)
}

// Parser extracts a fragment from one article's wikitext.
type Parser interface {
	ParseWikitext(ctx context.Context, title, category, wikitext string) (*graph.Document, error)
}

// Options bounds one processing run.
type Options struct {
	MaxItemsToCheck   int
	MaxItemsPerRun    int
	ScreeningWorkers  int
	ProcessingWorkers int
}

// Report summarizes a run.
type Report struct {
	Scanned   int
	Eligible  int
	Selected  int
	Processed int
	Failed    int
}

// Processor drives the fetch-parse-write pipeline.
type Processor struct {
	list      *liststore.Store
	fragments *persistence.FragmentStore
	pageviews *persistence.PageviewsCache
	wiki      WikiReader
	parser    Parser
	tuning    func() *config.Tuning
	opts      Options
	logger    *zap.Logger

	now func() time.Time
	// rng drives sampling and runs only on the Run goroutine; randFn is
	// called from screening workers and must be goroutine-safe.
	rng    *rand.Rand
	randFn func() float64
}

// New wires a processor.
func New(list *liststore.Store, fragments *persistence.FragmentStore, pageviews *persistence.PageviewsCache, wiki WikiReader, parser Parser, tuning func() *config.Tuning, opts Options, logger *zap.Logger) *Processor {
	return &Processor{
		list:      list,
		fragments: fragments,
		pageviews: pageviews,
		wiki:      wiki,
		parser:    parser,
		tuning:    tuning,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		randFn:    rand.Float64,
	}
}

// shouldProcess applies the freshness policy to one entry. The only wiki
// call it may make is a single revision-time lookup.
func (p *Processor) shouldProcess(ctx context.Context, item liststore.Item) bool {
	last, processed := p.fragments.LatestFragmentTime(item.Category, item.Name)
	if !processed {
		return true
	}

	ramp := p.tuning().Freshness
	ageDays := p.now().Sub(last).Hours() / 24
	if ageDays <= float64(ramp.StartDays) {
		return false
	}

	if rev, ok := p.wiki.GetLatestRevisionTime(ctx, item.Name, item.Lang); ok && !rev.After(last) {
		return false
	}

	if ageDays > float64(ramp.EndDays) {
		return true
	}
	return p.randFn() < ramp.At(ageDays)
}

// rankByViews orders items hottest-first using the pageviews cache.
func (p *Processor) rankByViews(items []liststore.Item) []liststore.Item {
	ranked := append([]liststore.Item(nil), items...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return p.pageviews.AvgDailyViews(ranked[i].Name) > p.pageviews.AvgDailyViews(ranked[j].Name)
	})
	return ranked
}

// sample narrows items to at most k. With a pageviews cache the draw is
// weighted by rank; without one it falls back to uniform.
func (p *Processor) sample(items []liststore.Item, ramp config.WeightRamp, k int) []liststore.Item {
	if len(items) <= k {
		return items
	}
	if p.pageviews.Len() == 0 {
		uniform := append([]liststore.Item(nil), items...)
		p.rng.Shuffle(len(uniform), func(i, j int) { uniform[i], uniform[j] = uniform[j], uniform[i] })
		return uniform[:k]
	}
	rw := sampling.RankWeights{Min: ramp.Min, Max: ramp.Max, Exponent: ramp.Exponent}
	return sampling.SampleRanked(p.rng, p.rankByViews(items), rw, k)
}

// Run executes one processing pass. Per-item failures are logged and
// counted; only infrastructure errors fail the run.
func (p *Processor) Run(ctx context.Context) (*Report, error) {
	items, err := p.list.Items()
	if err != nil {
		return nil, err
	}
	report := &Report{Scanned: len(items)}
	t := p.tuning()

	universe := p.sample(items, t.UniverseWeights, p.opts.MaxItemsToCheck)

	// screening pass: cheap freshness checks in parallel
	var mu sync.Mutex
	var eligible []liststore.Item
	screen, screenCtx := errgroup.WithContext(ctx)
	screen.SetLimit(p.opts.ScreeningWorkers)
	for _, item := range universe {
		item := item
		screen.Go(func() error {
			if p.shouldProcess(screenCtx, item) {
				mu.Lock()
				eligible = append(eligible, item)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := screen.Wait(); err != nil {
		return report, err
	}
	report.Eligible = len(eligible)

	selected := p.sample(eligible, t.SelectionWeights, p.opts.MaxItemsPerRun)
	report.Selected = len(selected)
	p.logger.Info("processing run planned",
		zap.Int("scanned", report.Scanned),
		zap.Int("eligible", report.Eligible),
		zap.Int("selected", report.Selected))

	var failed, processed int
	work, workCtx := errgroup.WithContext(ctx)
	work.SetLimit(p.opts.ProcessingWorkers)
	for _, item := range selected {
		item := item
		work.Go(func() error {
			if err := p.processOne(workCtx, item); err != nil {
				p.logger.Warn("item failed",
					zap.String("name", item.Name),
					zap.String("category", item.Category),
					zap.Error(err))
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}
			mu.Lock()
			processed++
			mu.Unlock()
			return nil
		})
	}
	if err := work.Wait(); err != nil {
		return report, err
	}
	report.Processed = processed
	report.Failed = failed
	return report, nil
}

func (p *Processor) processOne(ctx context.Context, item liststore.Item) error {
	text, finalTitle := p.wiki.GetWikitext(ctx, item.Name, item.Lang)
	if text == "" {
		return errors.NewNotFound("no article content for " + item.Name)
	}

	doc, err := p.parser.ParseWikitext(ctx, finalTitle, item.Category, text)
	if err != nil {
		return err
	}

	path, err := p.fragments.Write(item.Category, item.Name, doc)
	if err != nil {
		return err
	}
	p.logger.Info("fragment written",
		zap.String("name", item.Name),
		zap.String("path", path),
		zap.Int("nodes", len(doc.Nodes)),
		zap.Int("relationships", len(doc.Relationships)))
	return nil
}
