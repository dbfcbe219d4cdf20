package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GRAPHWEAVER_ROOT", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 2000, cfg.MaxListItemsToCheck)
	assert.Equal(t, 400, cfg.MaxListItemsPerRun)
	assert.Equal(t, 32, cfg.ScreeningWorkers)
	assert.Equal(t, 8, cfg.ProcessingWorkers)
	assert.Equal(t, "gemini-2.5-pro", cfg.LLM.Parser.Model)
	assert.Equal(t, 5, cfg.LLM.Parser.RPM)
	assert.Equal(t, 113, cfg.LLM.Parser.RPD)
	assert.Equal(t, filepath.Join(cfg.Paths.DataDir, "LIST.md"), cfg.Paths.ListFile)
	assert.Contains(t, cfg.Wiki.APIURLTemplate, "{lang}")
	assert.Equal(t, 180, cfg.Wiki.PageviewsPerMinute)
	assert.Equal(t, filepath.Join(cfg.Paths.CacheDir, "wiki_link_status_cache.json"), cfg.Paths.LinkStatusCache)
	assert.Equal(t, filepath.Join(cfg.Paths.CacheDir, "qcode_cache.json"), cfg.Paths.QcodeCache)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("GRAPHWEAVER_ROOT", t.TempDir())
	t.Setenv("MAX_LIST_ITEMS_PER_RUN", "25")
	t.Setenv("PARSER_MODEL", "gemini-3.0-pro")
	t.Setenv("WIKI_MAX_CONCURRENT", "4")
	t.Setenv("PAGEVIEWS_RPM", "120")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.MaxListItemsPerRun)
	assert.Equal(t, "gemini-3.0-pro", cfg.LLM.Parser.Model)
	assert.Equal(t, 4, cfg.Wiki.MaxConcurrent)
	assert.Equal(t, 120, cfg.Wiki.PageviewsPerMinute)
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Setenv("GRAPHWEAVER_ROOT", t.TempDir())
	t.Setenv("MAX_LIST_ITEMS_PER_RUN", "0")

	_, err := Load()
	assert.Error(t, err)
}

func TestProbabilityRampAt(t *testing.T) {
	ramp := ProbabilityRamp{StartDays: 7, EndDays: 30, StartValue: 1.0 / 12.0, EndValue: 0.9}

	assert.InDelta(t, 1.0/12.0, ramp.At(3), 1e-9)
	assert.InDelta(t, 1.0/12.0, ramp.At(7), 1e-9)
	assert.InDelta(t, 0.9, ramp.At(30), 1e-9)
	assert.InDelta(t, 0.9, ramp.At(200), 1e-9)

	mid := ramp.At(18.5)
	assert.Greater(t, mid, 1.0/12.0)
	assert.Less(t, mid, 0.9)
}

func TestDefaultTuningValid(t *testing.T) {
	assert.NoError(t, DefaultTuning().validate())
}
