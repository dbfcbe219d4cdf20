// Command pipeline runs one step of the knowledge-graph pipeline: process
// (fetch and parse articles), merge (fold fragments into the master graph),
// maintain (consistency pass), pageviews (traffic refresh and list reorder),
// frontend (static data export) or all of them in order.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"graphweaver/application/frontend"
	"graphweaver/application/liststore"
	"graphweaver/application/maintainer"
	"graphweaver/application/merger"
	"graphweaver/application/pageviews"
	"graphweaver/application/processor"
	"graphweaver/domain/graph"
	"graphweaver/infrastructure/config"
	"graphweaver/infrastructure/llm"
	"graphweaver/infrastructure/persistence"
	"graphweaver/infrastructure/ratelimit"
	"graphweaver/infrastructure/wiki"
	"graphweaver/interfaces/debug"
	"graphweaver/pkg/observability"
	"graphweaver/pkg/zh"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "pipeline failed:", err)
		os.Exit(1)
	}
}

func run() error {
	step := "all"
	if len(os.Args) > 1 {
		step = os.Args[1]
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := buildLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()
	logger = logger.With(zap.String("run_id", uuid.NewString()), zap.String("step", step))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	watcher, err := config.NewTuningWatcher(cfg.Paths.TuningFile, logger)
	if err != nil {
		return err
	}
	watcher.Start()
	defer watcher.Stop()
	tuning := watcher.Current

	metrics := observability.NewMetrics()
	if cfg.DebugAddr != "" && cfg.EnableMetrics {
		srv := debug.NewServer(cfg.DebugAddr, metrics, logger)
		srv.Start()
		defer srv.Shutdown(context.Background())
	}

	conv, err := zh.NewConverter()
	if err != nil {
		return err
	}

	list := liststore.New(cfg.Paths.ListFile, conv, logger)
	graphStore := persistence.NewGraphStore(cfg.Paths.MasterGraph, logger)
	fragments := persistence.NewFragmentStore(cfg.Paths.FragmentsDir, logger)
	processedLog := persistence.NewProcessedLog(cfg.Paths.ProcessedLog)

	qcodes, err := persistence.OpenQcodeCache(cfg.Paths.QcodeCache, logger)
	if err != nil {
		return err
	}
	links, err := persistence.OpenLinkStatusCache(cfg.Paths.LinkStatusCache, logger)
	if err != nil {
		return err
	}
	pvCache, err := persistence.OpenPageviewsCache(cfg.Paths.PageviewsCache, logger)
	if err != nil {
		return err
	}
	creations, err := persistence.OpenCreationDateCache(cfg.Paths.CreationDateCache, logger)
	if err != nil {
		return err
	}
	falseRels, err := persistence.OpenFalseRelationsCache(cfg.Paths.FalseRelationsCache, logger)
	if err != nil {
		return err
	}

	pacer := ratelimit.NewPacer(cfg.Wiki.RequestsPerSecond, cfg.Wiki.MaxConcurrent)
	wikiClient := wiki.NewClient(wiki.Config{
		APIURLTemplate:  cfg.Wiki.APIURLTemplate,
		BaseURLTemplate: cfg.Wiki.BaseURLTemplate,
		BaiduBaseURL:    cfg.Wiki.BaiduBaseURL,
		CDTSpaceBaseURL: cfg.Wiki.CDTSpaceBaseURL,
		UserAgent:       cfg.Wiki.UserAgent,
	}, pacer, conv, qcodes, links, list, metrics, logger)
	pvPacer := ratelimit.NewPacer(float64(cfg.Wiki.PageviewsPerMinute)/60.0, cfg.Wiki.MaxConcurrent)
	pvClient := wiki.NewPageviewsClient(cfg.Wiki.PageviewsAPI, wikiClient, pvPacer, creations, logger)

	gemini, err := llm.NewGemini(ctx, cfg.LLM, tuning().NullChargeProbability, cfg.Paths.CacheDir, metrics, logger)
	if err != nil {
		return err
	}
	defer gemini.Close()

	steps := map[string]func(context.Context) error{
		"process": func(ctx context.Context) error {
			// the parser samples few-shot examples from the current graph
			doc, err := graphStore.Load()
			if err != nil {
				return err
			}
			gemini.SetFewShotSource(graph.FromDocument(doc))

			proc := processor.New(list, fragments, pvCache, wikiClient, gemini, tuning, processor.Options{
				MaxItemsToCheck:   cfg.MaxListItemsToCheck,
				MaxItemsPerRun:    cfg.MaxListItemsPerRun,
				ScreeningWorkers:  cfg.ScreeningWorkers,
				ProcessingWorkers: cfg.ProcessingWorkers,
			}, logger)
			_, err = proc.Run(ctx)
			return err
		},
		"merge": func(ctx context.Context) error {
			m := merger.New(graphStore, fragments, processedLog, wikiClient, gemini, list, conv, metrics, logger)
			_, err := m.Run(ctx)
			return err
		},
		"maintain": func(ctx context.Context) error {
			m := maintainer.New(graphStore, list, links, falseRels, wikiClient, gemini, conv, tuning, maintainer.Options{
				GraphUpdateLimit:      cfg.GraphUpdateLimit,
				ListUpdateLimit:       cfg.ListUpdateLimit,
				RelationCleanPerRun:   cfg.RelationCleanPerRun,
				RelationCleanSkipDays: cfg.RelationCleanSkipDays,
			}, metrics, logger)
			_, err := m.Run(ctx)
			return err
		},
		"pageviews": func(ctx context.Context) error {
			c := pageviews.New(list, pvCache, creations, pvClient, tuning, pageviews.Options{
				MaxChecks: cfg.MaxPageviewChecks,
				BatchSize: cfg.PageviewBatchSize,
				Workers:   cfg.Wiki.MaxConcurrent,
			}, logger)
			_, err := c.Run(ctx)
			return err
		},
		"frontend": func(ctx context.Context) error {
			g := frontend.New(graphStore, pvCache, cfg.Paths.FrontendDataDir, cfg.CoreNetworkSize, logger)
			_, err := g.Run(ctx)
			return err
		},
	}

	if step == "validate-pr" {
		if len(os.Args) < 3 {
			return fmt.Errorf("usage: pipeline validate-pr <diff-file>")
		}
		diff, err := os.ReadFile(os.Args[2])
		if err != nil {
			return err
		}
		review, err := gemini.ValidatePRDiff(ctx, string(diff))
		if err != nil {
			return err
		}
		logger.Info("diff reviewed",
			zap.Bool("approved", review.Approved),
			zap.String("reason", review.Reason))
		if !review.Approved {
			os.Exit(2)
		}
		return nil
	}

	if step == "all" {
		for _, name := range []string{"process", "merge", "maintain", "pageviews", "frontend"} {
			logger.Info("running step", zap.String("name", name))
			if err := steps[name](ctx); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
		}
		return nil
	}

	fn, ok := steps[step]
	if !ok {
		return fmt.Errorf("unknown step %q (want process, merge, maintain, pageviews, frontend, validate-pr or all)", step)
	}
	return fn(ctx)
}

func buildLogger(cfg *config.Config) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.IsProduction() {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}
	if level, err := zapcore.ParseLevel(cfg.LogLevel); err == nil {
		zcfg.Level = zap.NewAtomicLevelAt(level)
	}
	return zcfg.Build()
}
