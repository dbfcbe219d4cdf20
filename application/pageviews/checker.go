// Package pageviews refreshes traffic statistics for the watch list and
// reorders it hottest-first, so the samplers and the frontend have a current
// popularity signal.
package pageviews

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"graphweaver/application/liststore"
	"graphweaver/infrastructure/config"
	"graphweaver/infrastructure/persistence"
)

// StatsSource fetches traffic stats for one title.
type StatsSource interface {
	Stats(ctx context.Context, title, lang string) persistence.PageviewStats
}

// Options bounds one checking run.
type Options struct {
	MaxChecks int
	BatchSize int
	Workers   int
}

// Report summarizes a run.
type Report struct {
	Scanned int
	Due     int
	Checked int
	Failed  int
}

// Checker screens the watch list for stale pageview stats, refreshes them in
// batches and rewrites the list sorted by average daily views.
type Checker struct {
	list      *liststore.Store
	cache     *persistence.PageviewsCache
	creations *persistence.CreationDateCache
	source    StatsSource
	tuning    func() *config.Tuning
	opts      Options
	logger    *zap.Logger

	now    func() time.Time
	rng    *rand.Rand
	randFn func() float64
}

// New wires a checker.
func New(list *liststore.Store, cache *persistence.PageviewsCache, creations *persistence.CreationDateCache, source StatsSource, tuning func() *config.Tuning, opts Options, logger *zap.Logger) *Checker {
	if opts.Workers <= 0 {
		opts.Workers = 32
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &Checker{
		list:      list,
		cache:     cache,
		creations: creations,
		source:    source,
		tuning:    tuning,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
		rng:       rng,
		randFn:    rng.Float64,
	}
}

// due applies the freshness ramp to one entry's last check time.
func (c *Checker) due(name string) bool {
	stats, ok := c.cache.Get(name)
	if !ok || stats.CheckTimestamp.IsZero() {
		return true
	}
	ramp := c.tuning().Freshness
	ageDays := c.now().Sub(stats.CheckTimestamp).Hours() / 24
	if ageDays <= float64(ramp.StartDays) {
		return false
	}
	if ageDays >= float64(ramp.EndDays) {
		return true
	}
	return c.randFn() < ramp.At(ageDays)
}

// Run refreshes stats for every due entry, persists both caches and rewrites
// the watch list in descending traffic order. Failed lookups are cached too,
// with the failure sentinel, so they are not retried until their next ramp
// window.
func (c *Checker) Run(ctx context.Context) (*Report, error) {
	items, err := c.list.Items()
	if err != nil {
		return nil, err
	}
	report := &Report{Scanned: len(items)}

	var pending []liststore.Item
	for _, item := range items {
		if c.due(item.Name) {
			pending = append(pending, item)
		}
	}
	report.Due = len(pending)
	if c.opts.MaxChecks > 0 && len(pending) > c.opts.MaxChecks {
		c.rng.Shuffle(len(pending), func(i, j int) { pending[i], pending[j] = pending[j], pending[i] })
		pending = pending[:c.opts.MaxChecks]
	}
	c.logger.Info("pageviews run planned",
		zap.Int("scanned", report.Scanned),
		zap.Int("due", report.Due),
		zap.Int("capped", len(pending)))

	var mu sync.Mutex
	batchSize := c.opts.BatchSize
	if batchSize <= 0 {
		batchSize = len(pending)
	}
	for start := 0; start < len(pending); start += batchSize {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		end := start + batchSize
		if end > len(pending) {
			end = len(pending)
		}

		batch, batchCtx := errgroup.WithContext(ctx)
		batch.SetLimit(c.opts.Workers)
		for _, item := range pending[start:end] {
			item := item
			batch.Go(func() error {
				stats := c.source.Stats(batchCtx, item.Name, item.Lang)
				mu.Lock()
				c.cache.Put(item.Name, stats)
				report.Checked++
				if stats.TotalViews < 0 {
					report.Failed++
				}
				mu.Unlock()
				return nil
			})
		}
		if err := batch.Wait(); err != nil {
			return report, err
		}

		// checkpoint between batches so an aborted run keeps its progress
		if err := c.saveCaches(); err != nil {
			return report, err
		}
	}

	if err := c.saveCaches(); err != nil {
		return report, err
	}
	if err := c.list.RewriteSorted(c.cache.AvgDailyViews); err != nil {
		return report, err
	}
	c.logger.Info("pageviews run complete",
		zap.Int("checked", report.Checked),
		zap.Int("failed", report.Failed))
	return report, nil
}

func (c *Checker) saveCaches() error {
	if err := c.cache.Save(); err != nil {
		return err
	}
	return c.creations.Save()
}
