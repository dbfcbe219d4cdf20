package ratelimit

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"graphweaver/pkg/errors"
)

func newTestLimiter(t *testing.T, rpm, rpd int, nullCharge float64) *ModelLimiter {
	t.Helper()
	return NewModelLimiter("test-model", rpm, rpd, "test_model", t.TempDir(), nullCharge, zap.NewNop())
}

func TestWaitReturnsRateLimitWhenBudgetExhausted(t *testing.T) {
	l := newTestLimiter(t, 10, 2, 0.25)

	require.NoError(t, l.Wait(context.Background()))
	l.Charge(true)
	require.NoError(t, l.Wait(context.Background()))
	l.Charge(true)

	err := l.Wait(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsRateLimit(err))
}

func TestChargePersistsCounter(t *testing.T) {
	dir := t.TempDir()
	l := NewModelLimiter("m", 10, 100, "m", dir, 0.25, zap.NewNop())

	l.Charge(true)
	l.Charge(true)

	data, err := os.ReadFile(filepath.Join(dir, "m_rpd_counter.json"))
	require.NoError(t, err)
	var c struct {
		Date  string `json:"date"`
		Count int    `json:"count"`
	}
	require.NoError(t, json.Unmarshal(data, &c))
	assert.Equal(t, 2, c.Count)
	assert.Equal(t, time.Now().Format("2006-01-02"), c.Date)
}

func TestCounterSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	l := NewModelLimiter("m", 10, 100, "m", dir, 0.25, zap.NewNop())
	l.Charge(true)
	l.Charge(true)
	l.Charge(true)

	restarted := NewModelLimiter("m", 10, 100, "m", dir, 0.25, zap.NewNop())
	assert.Equal(t, 97, restarted.Remaining())
}

func TestStaleCounterResetOnNewDay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "m_rpd_counter.json")
	stale, _ := json.Marshal(map[string]any{"date": "2001-01-01", "count": 99})
	require.NoError(t, os.WriteFile(path, stale, 0o644))

	l := NewModelLimiter("m", 10, 100, "m", dir, 0.25, zap.NewNop())
	assert.Equal(t, 100, l.Remaining())
}

func TestNullChargeProbability(t *testing.T) {
	l := newTestLimiter(t, 10, 1000, 0.25)

	l.randFn = func() float64 { return 0.9 }
	l.Charge(false)
	assert.Equal(t, 1000, l.Remaining(), "above the threshold no charge is taken")

	l.randFn = func() float64 { return 0.1 }
	l.Charge(false)
	assert.Equal(t, 999, l.Remaining(), "below the threshold the budget is charged")
}

func TestWaitEnforcesWindow(t *testing.T) {
	l := newTestLimiter(t, 2, 0, 0.25)

	base := time.Unix(1000, 0)
	current := base
	l.now = func() time.Time { return current }

	start := time.Now()
	require.NoError(t, l.Wait(context.Background()))
	require.NoError(t, l.Wait(context.Background()))
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	// third request inside the same minute must block; cancel instead of
	// sleeping a minute in the test
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDoSubstitutesNothingOnQuota(t *testing.T) {
	l := newTestLimiter(t, 10, 1, 0.25)
	l.Charge(true)

	out, err := Do(context.Background(), l, func(context.Context) (string, error) {
		t.Fatal("fn must not run once the budget is exhausted")
		return "", nil
	})
	assert.Empty(t, out)
	assert.True(t, errors.IsRateLimit(err))
}

func TestDoChargesOnSuccess(t *testing.T) {
	l := newTestLimiter(t, 10, 5, 0.25)

	out, err := Do(context.Background(), l, func(context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, out)
	assert.Equal(t, 4, l.Remaining())
}
