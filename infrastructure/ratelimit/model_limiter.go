// Package ratelimit paces outbound traffic: per-model limiters combining a
// sliding-window RPM budget with a persistent daily counter, and a leaky
// bucket plus semaphore for the wiki APIs.
package ratelimit

import (
	"context"
	"encoding/json"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"graphweaver/pkg/errors"
)

// ModelLimiter enforces one LLM endpoint's budget. RPM is a sliding window
// over the last minute; RPD is a counter persisted across runs, reset when
// the date rolls over.
type ModelLimiter struct {
	name        string
	maxRequests int
	window      time.Duration

	rpdLimit    int
	counterPath string

	mu         sync.Mutex
	stamps     []time.Time
	dailyDate  string
	dailyCount int

	// charge probability for calls that returned nothing; covers failures
	// that still consumed quota upstream
	nullCharge float64

	logger *zap.Logger
	now    func() time.Time
	randFn func() float64
}

// NewModelLimiter builds a limiter for the named model. rpdLimit 0 disables
// daily accounting; otherwise the counter lives in
// <cacheDir>/<counterName>_rpd_counter.json.
func NewModelLimiter(name string, rpm, rpdLimit int, counterName, cacheDir string, nullCharge float64, logger *zap.Logger) *ModelLimiter {
	l := &ModelLimiter{
		name:        name,
		maxRequests: rpm,
		window:      time.Minute,
		rpdLimit:    rpdLimit,
		nullCharge:  nullCharge,
		logger:      logger,
		now:         time.Now,
		randFn:      rand.Float64,
	}
	if rpdLimit > 0 && counterName != "" {
		l.counterPath = filepath.Join(cacheDir, counterName+"_rpd_counter.json")
		l.loadDailyCounter()
	}
	return l
}

type dailyCounter struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

func (l *ModelLimiter) loadDailyCounter() {
	today := l.now().Format("2006-01-02")
	l.dailyDate = today
	l.dailyCount = 0

	data, err := os.ReadFile(l.counterPath)
	if err == nil {
		var c dailyCounter
		if json.Unmarshal(data, &c) == nil && c.Date == today {
			l.dailyCount = c.Count
			return
		}
	}
	l.saveDailyCounter()
}

func (l *ModelLimiter) saveDailyCounter() {
	if l.counterPath == "" {
		return
	}
	data, err := json.Marshal(dailyCounter{Date: l.dailyDate, Count: l.dailyCount})
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(l.counterPath), 0o755); err != nil {
		return
	}
	if err := os.WriteFile(l.counterPath, data, 0o644); err != nil {
		l.logger.Warn("failed to persist daily counter",
			zap.String("model", l.name), zap.Error(err))
	}
}

// rollover resets the counter when the date changed since the last call.
// Callers hold l.mu.
func (l *ModelLimiter) rollover() {
	today := l.now().Format("2006-01-02")
	if today != l.dailyDate {
		l.dailyDate = today
		l.dailyCount = 0
		l.saveDailyCounter()
	}
}

// Wait blocks until a request slot is free. It returns a rate-limit error
// without blocking when the daily budget is exhausted.
func (l *ModelLimiter) Wait(ctx context.Context) error {
	l.mu.Lock()

	if l.rpdLimit > 0 {
		l.rollover()
		if l.dailyCount >= l.rpdLimit {
			l.mu.Unlock()
			return errors.NewRateLimit("daily budget exhausted for model " + l.name)
		}
	}

	now := l.now()
	cutoff := now.Add(-l.window)
	kept := l.stamps[:0]
	for _, t := range l.stamps {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	l.stamps = kept

	var wait time.Duration
	if len(l.stamps) >= l.maxRequests {
		wait = l.stamps[0].Sub(cutoff)
	}
	l.stamps = append(l.stamps, now.Add(wait))
	l.mu.Unlock()

	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}

// Charge records a completed call against the daily budget. Calls that
// produced nothing are charged probabilistically.
func (l *ModelLimiter) Charge(produced bool) {
	if l.rpdLimit <= 0 {
		return
	}
	if !produced && l.randFn() >= l.nullCharge {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover()
	l.dailyCount++
	l.saveDailyCounter()
}

// Remaining reports how much of the daily budget is left; -1 when no daily
// budget is configured.
func (l *ModelLimiter) Remaining() int {
	if l.rpdLimit <= 0 {
		return -1
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover()
	return l.rpdLimit - l.dailyCount
}

// Name returns the model name the limiter guards.
func (l *ModelLimiter) Name() string { return l.name }

// Do runs fn under the limiter and settles the daily charge from its result.
// A quota error is returned unwrapped so callers can substitute their safe
// default via errors.IsRateLimit.
func Do[T any](ctx context.Context, l *ModelLimiter, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := l.Wait(ctx); err != nil {
		return zero, err
	}
	out, err := fn(ctx)
	l.Charge(err == nil)
	return out, err
}
