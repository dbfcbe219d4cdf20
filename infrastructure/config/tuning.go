package config

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"graphweaver/pkg/errors"
)

// WeightRamp parameterizes the rank weight used by the weighted samplers:
// w = min + (max-min) * (1 - rank/n)^exponent.
type WeightRamp struct {
	Min      float64 `yaml:"min"`
	Max      float64 `yaml:"max"`
	Exponent float64 `yaml:"exponent"`
}

// ProbabilityRamp is a linear probability ramp over an age interval in days:
// below StartDays the probability is 0 (callers usually skip outright), above
// EndDays it is 1.
type ProbabilityRamp struct {
	StartDays  int     `yaml:"start_days"`
	EndDays    int     `yaml:"end_days"`
	StartValue float64 `yaml:"start_value"`
	EndValue   float64 `yaml:"end_value"`
}

// At evaluates the ramp for an age in days.
func (r ProbabilityRamp) At(ageDays float64) float64 {
	if ageDays <= float64(r.StartDays) {
		return r.StartValue
	}
	if ageDays >= float64(r.EndDays) {
		return r.EndValue
	}
	span := float64(r.EndDays - r.StartDays)
	frac := (ageDays - float64(r.StartDays)) / span
	return r.StartValue + (r.EndValue-r.StartValue)*frac
}

// Tuning holds the empirically calibrated knobs. They live in a yaml file
// next to the repo so a run can be re-paced without a rebuild; the watcher
// hot-reloads edits.
type Tuning struct {
	// Freshness ramp for deciding whether a recently processed title gets
	// re-processed.
	Freshness ProbabilityRamp `yaml:"freshness"`

	// Relationship revalidation ramp keyed on time since last audit.
	RelationClean ProbabilityRamp `yaml:"relation_clean"`

	// Rank weights for the two sampling passes over the watch list.
	UniverseWeights  WeightRamp `yaml:"universe_weights"`
	SelectionWeights WeightRamp `yaml:"selection_weights"`

	// Single-relation audit pacing.
	AuditMaxRounds       int     `yaml:"audit_max_rounds"`
	AuditCooldownSeconds int     `yaml:"audit_cooldown_seconds"`
	AuditBatchSize       int     `yaml:"audit_batch_size"`

	// Probability of charging the daily budget when a call returns nothing,
	// covering silent failures that still consumed quota upstream.
	NullChargeProbability float64 `yaml:"null_charge_probability"`

	// Link-status cache entries older than this many days are collected.
	CacheGCDays int `yaml:"cache_gc_days"`
}

// DefaultTuning returns the calibrated defaults used when no tuning file
// exists.
func DefaultTuning() *Tuning {
	return &Tuning{
		Freshness: ProbabilityRamp{
			StartDays: 7, EndDays: 30,
			StartValue: 1.0 / 12.0, EndValue: 9.0 / 10.0,
		},
		RelationClean: ProbabilityRamp{
			StartDays: 30, EndDays: 90,
			StartValue: 1.0 / 12.0, EndValue: 9.0 / 10.0,
		},
		UniverseWeights:       WeightRamp{Min: 1, Max: 10, Exponent: 2},
		SelectionWeights:      WeightRamp{Min: 1, Max: 10, Exponent: 2},
		AuditMaxRounds:        20,
		AuditCooldownSeconds:  30,
		AuditBatchSize:        15,
		NullChargeProbability: 0.25,
		CacheGCDays:           30,
	}
}

func (t *Tuning) validate() error {
	if t.AuditMaxRounds <= 0 || t.AuditBatchSize <= 0 {
		return errors.NewValidation("audit rounds and batch size must be positive")
	}
	if t.NullChargeProbability < 0 || t.NullChargeProbability > 1 {
		return errors.NewValidation("null charge probability must be within [0, 1]")
	}
	if t.Freshness.EndDays <= t.Freshness.StartDays {
		return errors.NewValidation("freshness ramp must have end_days > start_days")
	}
	return nil
}

// TuningWatcher serves the current tuning snapshot and hot-reloads the yaml
// file when it changes.
type TuningWatcher struct {
	path    string
	watcher *fsnotify.Watcher
	current *Tuning
	mu      sync.RWMutex
	logger  *zap.Logger
	stopCh  chan struct{}
}

// NewTuningWatcher loads the tuning file and starts watching its directory.
// A missing file is not an error; defaults are served until one appears.
func NewTuningWatcher(path string, logger *zap.Logger) (*TuningWatcher, error) {
	var current *Tuning
	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		logger.Info("no tuning file, using defaults", zap.String("path", path))
		current = DefaultTuning()
	} else {
		loaded, err := loadTuningFile(path)
		if err != nil {
			return nil, err
		}
		current = loaded
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.NewInternal("failed to create tuning watcher", err)
	}
	// Watch the directory so atomic renames are seen.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, errors.NewInternal("failed to watch tuning directory", err)
	}

	return &TuningWatcher{
		path:    path,
		watcher: watcher,
		current: current,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}, nil
}

// Start begins the watch loop.
func (w *TuningWatcher) Start() {
	go w.watchLoop()
	w.logger.Info("tuning watcher started", zap.String("path", w.path))
}

// Stop terminates the watch loop.
func (w *TuningWatcher) Stop() {
	close(w.stopCh)
	w.watcher.Close()
}

// Current returns the active tuning snapshot.
func (w *TuningWatcher) Current() *Tuning {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

func (w *TuningWatcher) watchLoop() {
	var debounce *time.Timer
	for {
		select {
		case <-w.stopCh:
			if debounce != nil {
				debounce.Stop()
			}
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(100*time.Millisecond, w.reload)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("tuning watcher error", zap.Error(err))
		}
	}
}

func (w *TuningWatcher) reload() {
	tuning, err := loadTuningFile(w.path)
	if err != nil {
		w.logger.Error("failed to reload tuning, keeping current", zap.Error(err))
		return
	}
	w.mu.Lock()
	w.current = tuning
	w.mu.Unlock()
	w.logger.Info("tuning reloaded", zap.String("path", w.path))
}

func loadTuningFile(path string) (*Tuning, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read tuning file")
	}
	tuning := DefaultTuning()
	if err := yaml.Unmarshal(data, tuning); err != nil {
		return nil, errors.Wrap(err, "failed to parse tuning file")
	}
	if err := tuning.validate(); err != nil {
		return nil, err
	}
	return tuning, nil
}
