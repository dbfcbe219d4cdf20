// Package config loads pipeline configuration from the environment, with a
// small yaml tuning file for the empirically calibrated knobs that get
// adjusted between runs.
package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-playground/validator/v10"

	"graphweaver/pkg/errors"
)

// ModelLimits holds one LLM endpoint's rate budget. RPD 0 means no daily
// budget is tracked for the model.
type ModelLimits struct {
	Model       string `validate:"required"`
	RPM         int    `validate:"gt=0"`
	RPD         int    `validate:"gte=0"`
	CounterName string
}

// LLMConfig assigns a model and budget to each task the pipeline delegates
// to an LLM.
type LLMConfig struct {
	APIKey string `validate:"required"`

	Parser          ModelLimits
	MergeCheck      ModelLimits
	MergeExecute    ModelLimits
	RelationCleaner ModelLimits
	PRValidator     ModelLimits

	FewShotNodeSamples int `validate:"gte=0"`
	FewShotRelSamples  int `validate:"gte=0"`
	PromptsDir         string
}

// WikiConfig covers the MediaWiki API, the pageviews REST API and the
// fallback sources probed when a zh page does not exist.
type WikiConfig struct {
	APIURLTemplate  string `validate:"required"`
	BaseURLTemplate string `validate:"required"`
	PageviewsAPI    string `validate:"required,url"`
	BaiduBaseURL    string `validate:"required,url"`
	CDTSpaceBaseURL string `validate:"required,url"`
	UserAgent       string `validate:"required"`

	// RequestsPerSecond and MaxConcurrent pace the MediaWiki APIs;
	// PageviewsPerMinute is the separate budget of the pageviews REST API.
	RequestsPerSecond  float64 `validate:"gt=0"`
	MaxConcurrent      int     `validate:"gt=0"`
	PageviewsPerMinute int     `validate:"gt=0"`
}

// Paths anchors every file the pipeline reads or writes under the repo root.
// The cache filenames are part of the on-disk layout shared with other
// consumers of the data directory and must not drift.
type Paths struct {
	RootDir         string `validate:"required"`
	DataDir         string
	ListFile        string
	ProcessedLog    string
	FragmentsDir    string
	CacheDir        string
	DocsDir         string
	MasterGraph     string
	FrontendDataDir string
	TuningFile      string

	QcodeCache          string
	LinkStatusCache     string
	PageviewsCache      string
	CreationDateCache   string
	FalseRelationsCache string
}

// Config holds all application configuration.
type Config struct {
	Environment string
	LogLevel    string

	DebugAddr     string
	EnableMetrics bool

	Paths Paths
	Wiki  WikiConfig
	LLM   LLMConfig

	MaxListItemsToCheck   int `validate:"gt=0"`
	MaxListItemsPerRun    int `validate:"gt=0"`
	ScreeningWorkers      int `validate:"gt=0"`
	ProcessingWorkers     int `validate:"gt=0"`
	MaxPageviewChecks     int `validate:"gt=0"`
	PageviewBatchSize     int `validate:"gt=0"`
	CoreNetworkSize       int `validate:"gt=0"`
	ListUpdateLimit       int `validate:"gt=0"`
	GraphUpdateLimit      int `validate:"gt=0"`
	RelationCleanPerRun   int `validate:"gt=0"`
	RelationCleanSkipDays int `validate:"gt=0"`
}

// Load builds the configuration from environment variables. Relative paths
// are derived from GRAPHWEAVER_ROOT (default: the working directory).
func Load() (*Config, error) {
	root := getEnv("GRAPHWEAVER_ROOT", ".")
	dataDir := filepath.Join(root, "data")
	cacheDir := filepath.Join(root, ".cache")
	docsDir := filepath.Join(root, "docs")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		DebugAddr:     getEnv("DEBUG_ADDR", ""),
		EnableMetrics: getEnvBool("ENABLE_METRICS", true),

		Paths: Paths{
			RootDir:         root,
			DataDir:         dataDir,
			ListFile:        filepath.Join(dataDir, "LIST.md"),
			ProcessedLog:    filepath.Join(dataDir, "processed_files.log"),
			FragmentsDir:    dataDir,
			CacheDir:        cacheDir,
			DocsDir:         docsDir,
			MasterGraph:     filepath.Join(docsDir, "master_graph_qcode.json"),
			FrontendDataDir: filepath.Join(docsDir, "data"),
			TuningFile:      getEnv("TUNING_FILE", filepath.Join(root, "tuning.yaml")),

			QcodeCache:          filepath.Join(cacheDir, "qcode_cache.json"),
			LinkStatusCache:     filepath.Join(cacheDir, "wiki_link_status_cache.json"),
			PageviewsCache:      filepath.Join(cacheDir, "pageviews_cache.json"),
			CreationDateCache:   filepath.Join(cacheDir, "creation_date_cache.json"),
			FalseRelationsCache: filepath.Join(cacheDir, "false_relations_cache.json"),
		},

		Wiki: WikiConfig{
			APIURLTemplate:     getEnv("WIKI_API_URL", "https://{lang}.wikipedia.org/w/api.php"),
			BaseURLTemplate:    getEnv("WIKI_BASE_URL", "https://{lang}.wikipedia.org/wiki/"),
			PageviewsAPI:       getEnv("PAGEVIEWS_API", "https://wikimedia.org/api/rest_v1/metrics/pageviews/per-article/"),
			BaiduBaseURL:       getEnv("BAIDU_BASE_URL", "https://baike.baidu.com/item/"),
			CDTSpaceBaseURL:    getEnv("CDT_SPACE_BASE_URL", "https://chinadigitaltimes.net/space/"),
			UserAgent:          getEnv("WIKI_USER_AGENT", "GraphWeaver/1.0 (https://github.com/graphweaver/graphweaver)"),
			RequestsPerSecond:  getEnvFloat("WIKI_RPS", 150),
			MaxConcurrent:      getEnvInt("WIKI_MAX_CONCURRENT", 32),
			PageviewsPerMinute: getEnvInt("PAGEVIEWS_RPM", 180),
		},

		LLM: LLMConfig{
			APIKey: getEnv("GEMINI_API_KEY", ""),
			Parser: ModelLimits{
				Model:       getEnv("PARSER_MODEL", "gemini-2.5-pro"),
				RPM:         getEnvInt("PARSER_RPM", 5),
				RPD:         getEnvInt("PARSER_RPD", 113),
				CounterName: "gemini_pro",
			},
			MergeCheck: ModelLimits{
				Model:       getEnv("MERGE_CHECK_MODEL", "gemma-3-27b-it"),
				RPM:         getEnvInt("MERGE_CHECK_RPM", 30),
				RPD:         getEnvInt("MERGE_CHECK_RPD", 16200),
				CounterName: "gemma",
			},
			MergeExecute: ModelLimits{
				Model:       getEnv("MERGE_EXECUTE_MODEL", "gemini-2.5-flash"),
				RPM:         getEnvInt("MERGE_EXECUTE_RPM", 10),
				RPD:         getEnvInt("MERGE_EXECUTE_RPD", 281),
				CounterName: "gemini_flash",
			},
			RelationCleaner: ModelLimits{
				Model:       getEnv("RELATION_CLEANER_MODEL", "gemini-2.5-flash-lite"),
				RPM:         getEnvInt("RELATION_CLEANER_RPM", 15),
				RPD:         getEnvInt("RELATION_CLEANER_RPD", 1125),
				CounterName: "gemini_flash_lite",
			},
			PRValidator: ModelLimits{
				Model:       getEnv("PR_VALIDATOR_MODEL", "gemini-2.5-flash-preview-09-2025"),
				RPM:         getEnvInt("PR_VALIDATOR_RPM", 10),
				RPD:         getEnvInt("PR_VALIDATOR_RPD", 281),
				CounterName: "gemini_flash_preview",
			},
			FewShotNodeSamples: getEnvInt("FEW_SHOT_NODE_SAMPLES", 12),
			FewShotRelSamples:  getEnvInt("FEW_SHOT_REL_SAMPLES", 24),
			PromptsDir:         getEnv("PROMPTS_DIR", filepath.Join(root, "prompts")),
		},

		MaxListItemsToCheck:   getEnvInt("MAX_LIST_ITEMS_TO_CHECK", 2000),
		MaxListItemsPerRun:    getEnvInt("MAX_LIST_ITEMS_PER_RUN", 400),
		ScreeningWorkers:      getEnvInt("SCREENING_WORKERS", 32),
		ProcessingWorkers:     getEnvInt("PROCESSING_WORKERS", 8),
		MaxPageviewChecks:     getEnvInt("MAX_PAGEVIEW_CHECKS", 7000),
		PageviewBatchSize:     getEnvInt("PAGEVIEW_BATCH_SIZE", 120),
		CoreNetworkSize:       getEnvInt("CORE_NETWORK_SIZE", 2000),
		ListUpdateLimit:       getEnvInt("LIST_UPDATE_LIMIT", 20000),
		GraphUpdateLimit:      getEnvInt("GRAPH_UPDATE_LIMIT", 20000),
		RelationCleanPerRun:   getEnvInt("REL_CLEAN_NUM", 1000),
		RelationCleanSkipDays: getEnvInt("REL_CLEAN_SKIP_DAYS", 30),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks the loaded configuration. The LLM API key is only required
// outside development so that dry runs and tests load without credentials.
func (c *Config) Validate() error {
	if c.IsDevelopment() && c.LLM.APIKey == "" {
		c.LLM.APIKey = "dev-placeholder"
	}
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	return nil
}

// IsDevelopment checks if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction checks if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat gets a float environment variable with a default value
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}
