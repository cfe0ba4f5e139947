package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/llm"
	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/research"
	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/search"
)

type Config struct {
	Port string `yaml:"port"`

	LLMProvider      string        `yaml:"llm_provider"`
	LLMModel         string        `yaml:"llm_model"`
	LLMBaseURL       string        `yaml:"llm_base_url"`
	LLMTimeout       time.Duration `yaml:"llm_timeout"`
	LLMRetryAttempts int           `yaml:"llm_retry_attempts"`
	OpenAIAPIKey     string        `yaml:"openai_api_key"`
	OpenRouterAPIKey string        `yaml:"openrouter_api_key"`
	AnthropicAPIKey  string        `yaml:"anthropic_api_key"`
	GeminiAPIKey     string        `yaml:"gemini_api_key"`

	SearchProvider      string        `yaml:"search_provider"`
	SearchDepth         string        `yaml:"search_depth"`
	SearchTimeout       time.Duration `yaml:"search_timeout"`
	SearchRatePerSecond float64       `yaml:"search_rate_per_second"`
	TavilyAPIKey        string        `yaml:"tavily_api_key"`
	BraveAPIKey         string        `yaml:"brave_api_key"`
	FetchMissingContent bool          `yaml:"fetch_missing_content"`

	MaxPlanSteps         int           `yaml:"max_plan_steps"`
	MaxResultsPerQuery   int           `yaml:"max_results_per_query"`
	MaxSources           int           `yaml:"max_sources"`
	MaxHighlights        int           `yaml:"max_highlights"`
	MaxHighlightChars    int           `yaml:"max_highlight_chars"`
	HighlightMode        string        `yaml:"highlight_mode"`
	HighlightChunkChars  int           `yaml:"highlight_chunk_chars"`
	SourceExcerptChars   int           `yaml:"source_excerpt_chars"`
	ContextBudgetChars   int           `yaml:"context_budget_chars"`
	RetrievalConcurrency int           `yaml:"retrieval_concurrency"`
	RunTimeout           time.Duration `yaml:"run_timeout"`

	PostgresURL       string `yaml:"postgres_url"`
	ExecutionMode     string `yaml:"execution_mode"`
	TemporalAddress   string `yaml:"temporal_address"`
	TemporalTaskQueue string `yaml:"temporal_task_queue"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

const (
	ExecutionModeInline   = "inline"
	ExecutionModeTemporal = "temporal"
)

func defaults() Config {
	r := research.DefaultConfig()
	return Config{
		Port:                 "8080",
		LLMProvider:          "openai",
		LLMTimeout:           60 * time.Second,
		LLMRetryAttempts:     2,
		SearchProvider:       "tavily",
		SearchDepth:          "basic",
		SearchTimeout:        15 * time.Second,
		FetchMissingContent:  r.FetchMissingContent,
		MaxPlanSteps:         r.MaxPlanSteps,
		MaxResultsPerQuery:   r.MaxResultsPerQuery,
		MaxSources:           r.MaxSources,
		MaxHighlights:        r.MaxHighlights,
		MaxHighlightChars:    r.MaxHighlightChars,
		HighlightMode:        r.HighlightMode,
		HighlightChunkChars:  r.HighlightChunkChars,
		SourceExcerptChars:   r.SourceExcerptChars,
		ContextBudgetChars:   r.ContextBudgetChars,
		RetrievalConcurrency: r.RetrievalConcurrency,
		RunTimeout:           r.RunTimeout,
		ExecutionMode:        ExecutionModeInline,
		TemporalAddress:      "localhost:7233",
		TemporalTaskQueue:    "research-runs",
		LogLevel:             "info",
		LogFormat:            "json",
	}
}

// Load reads RESEARCH_CONFIG_FILE when set, then lets environment variables
// override individual keys.
func Load() (Config, error) {
	cfg := defaults()
	if path := os.Getenv("RESEARCH_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.LLMProvider = getEnv("LLM_PROVIDER", cfg.LLMProvider)
	cfg.LLMModel = getEnv("LLM_MODEL", cfg.LLMModel)
	cfg.LLMBaseURL = getEnv("LLM_BASE_URL", cfg.LLMBaseURL)
	cfg.LLMTimeout = getEnvDuration("LLM_TIMEOUT", cfg.LLMTimeout)
	cfg.LLMRetryAttempts = getEnvInt("LLM_RETRY_ATTEMPTS", cfg.LLMRetryAttempts)
	cfg.OpenAIAPIKey = getEnv("OPENAI_API_KEY", cfg.OpenAIAPIKey)
	cfg.OpenRouterAPIKey = getEnv("OPENROUTER_API_KEY", cfg.OpenRouterAPIKey)
	cfg.AnthropicAPIKey = getEnv("ANTHROPIC_API_KEY", cfg.AnthropicAPIKey)
	cfg.GeminiAPIKey = getEnv("GEMINI_API_KEY", cfg.GeminiAPIKey)

	cfg.SearchProvider = getEnv("SEARCH_PROVIDER", cfg.SearchProvider)
	cfg.SearchDepth = getEnv("SEARCH_DEPTH", cfg.SearchDepth)
	cfg.SearchTimeout = getEnvDuration("SEARCH_TIMEOUT", cfg.SearchTimeout)
	cfg.SearchRatePerSecond = getEnvFloat("SEARCH_RATE_PER_SECOND", cfg.SearchRatePerSecond)
	cfg.TavilyAPIKey = getEnv("TAVILY_API_KEY", cfg.TavilyAPIKey)
	cfg.BraveAPIKey = getEnv("BRAVE_API_KEY", cfg.BraveAPIKey)
	cfg.FetchMissingContent = getEnvBool("FETCH_MISSING_CONTENT", cfg.FetchMissingContent)

	cfg.MaxPlanSteps = getEnvInt("MAX_PLAN_STEPS", cfg.MaxPlanSteps)
	cfg.MaxResultsPerQuery = getEnvInt("MAX_RESULTS_PER_QUERY", cfg.MaxResultsPerQuery)
	cfg.MaxSources = getEnvInt("MAX_SOURCES", cfg.MaxSources)
	cfg.MaxHighlights = getEnvInt("MAX_HIGHLIGHTS", cfg.MaxHighlights)
	cfg.MaxHighlightChars = getEnvInt("MAX_HIGHLIGHT_CHARS", cfg.MaxHighlightChars)
	cfg.HighlightMode = getEnv("HIGHLIGHT_MODE", cfg.HighlightMode)
	cfg.HighlightChunkChars = getEnvInt("HIGHLIGHT_CHUNK_CHARS", cfg.HighlightChunkChars)
	cfg.SourceExcerptChars = getEnvInt("SOURCE_EXCERPT_CHARS", cfg.SourceExcerptChars)
	cfg.ContextBudgetChars = getEnvInt("CONTEXT_BUDGET_CHARS", cfg.ContextBudgetChars)
	cfg.RetrievalConcurrency = getEnvInt("RETRIEVAL_CONCURRENCY", cfg.RetrievalConcurrency)
	cfg.RunTimeout = getEnvDuration("RUN_TIMEOUT", cfg.RunTimeout)

	cfg.PostgresURL = getEnv("POSTGRES_URL", cfg.PostgresURL)
	cfg.ExecutionMode = getEnv("EXECUTION_MODE", cfg.ExecutionMode)
	cfg.TemporalAddress = getEnv("TEMPORAL_ADDRESS", cfg.TemporalAddress)
	cfg.TemporalTaskQueue = getEnv("TEMPORAL_TASK_QUEUE", cfg.TemporalTaskQueue)

	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("LOG_FORMAT", cfg.LogFormat)
	return cfg, nil
}

// Validate checks enumerations and bounds. Missing provider keys are not an
// error here; see MissingKeys.
func (c Config) Validate() error {
	var errs []error
	oneOf := func(key, value string, allowed ...string) {
		for _, a := range allowed {
			if strings.EqualFold(value, a) {
				return
			}
		}
		errs = append(errs, fmt.Errorf("%s must be one of %s, got %q", key, strings.Join(allowed, ", "), value))
	}
	positive := func(key string, value int) {
		if value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", key, value))
		}
	}

	oneOf("LLM_PROVIDER", c.LLMProvider, "openai", "openrouter", "anthropic", "gemini", "local")
	oneOf("SEARCH_PROVIDER", c.SearchProvider, "tavily", "brave")
	oneOf("SEARCH_DEPTH", c.SearchDepth, "basic", "advanced")
	oneOf("HIGHLIGHT_MODE", c.HighlightMode, research.HighlightModeHeuristic, research.HighlightModeLLM)
	oneOf("EXECUTION_MODE", c.ExecutionMode, ExecutionModeInline, ExecutionModeTemporal)
	oneOf("LOG_LEVEL", c.LogLevel, "debug", "info", "warn", "error")
	oneOf("LOG_FORMAT", c.LogFormat, "json", "console")

	positive("MAX_PLAN_STEPS", c.MaxPlanSteps)
	positive("MAX_RESULTS_PER_QUERY", c.MaxResultsPerQuery)
	positive("MAX_SOURCES", c.MaxSources)
	positive("MAX_HIGHLIGHTS", c.MaxHighlights)
	positive("MAX_HIGHLIGHT_CHARS", c.MaxHighlightChars)
	positive("HIGHLIGHT_CHUNK_CHARS", c.HighlightChunkChars)
	positive("SOURCE_EXCERPT_CHARS", c.SourceExcerptChars)
	positive("CONTEXT_BUDGET_CHARS", c.ContextBudgetChars)
	positive("RETRIEVAL_CONCURRENCY", c.RetrievalConcurrency)
	positive("LLM_RETRY_ATTEMPTS", c.LLMRetryAttempts)
	if c.RunTimeout <= 0 {
		errs = append(errs, fmt.Errorf("RUN_TIMEOUT must be positive, got %s", c.RunTimeout))
	}
	if c.SearchRatePerSecond < 0 {
		errs = append(errs, fmt.Errorf("SEARCH_RATE_PER_SECOND must not be negative, got %v", c.SearchRatePerSecond))
	}
	if strings.TrimSpace(c.Port) == "" {
		errs = append(errs, errors.New("PORT must not be empty"))
	}
	return errors.Join(errs...)
}

// MissingKeys lists the credentials the selected providers need but lack.
func (c Config) MissingKeys() []string {
	var missing []string
	switch strings.ToLower(c.LLMProvider) {
	case "openai":
		if c.OpenAIAPIKey == "" {
			missing = append(missing, "OPENAI_API_KEY")
		}
	case "openrouter":
		if c.OpenRouterAPIKey == "" {
			missing = append(missing, "OPENROUTER_API_KEY")
		}
	case "anthropic":
		if c.AnthropicAPIKey == "" {
			missing = append(missing, "ANTHROPIC_API_KEY")
		}
	case "gemini":
		if c.GeminiAPIKey == "" {
			missing = append(missing, "GEMINI_API_KEY")
		}
	}
	switch strings.ToLower(c.SearchProvider) {
	case "tavily":
		if c.TavilyAPIKey == "" {
			missing = append(missing, "TAVILY_API_KEY")
		}
	case "brave":
		if c.BraveAPIKey == "" {
			missing = append(missing, "BRAVE_API_KEY")
		}
	}
	return missing
}

func (c Config) LLMConfig() llm.Config {
	return llm.Config{
		Provider:         c.LLMProvider,
		Model:            c.LLMModel,
		BaseURL:          c.LLMBaseURL,
		OpenAIAPIKey:     c.OpenAIAPIKey,
		OpenRouterAPIKey: c.OpenRouterAPIKey,
		AnthropicAPIKey:  c.AnthropicAPIKey,
		GeminiAPIKey:     c.GeminiAPIKey,
		Timeout:          c.LLMTimeout,
		RetryAttempts:    c.LLMRetryAttempts,
	}
}

func (c Config) SearchConfig() search.Config {
	return search.Config{
		Provider:      c.SearchProvider,
		TavilyAPIKey:  c.TavilyAPIKey,
		BraveAPIKey:   c.BraveAPIKey,
		Depth:         c.SearchDepth,
		Timeout:       c.SearchTimeout,
		RatePerSecond: c.SearchRatePerSecond,
		RetryAttempts: c.LLMRetryAttempts,
	}
}

func (c Config) ResearchConfig() research.Config {
	return research.Config{
		MaxPlanSteps:         c.MaxPlanSteps,
		MaxResultsPerQuery:   c.MaxResultsPerQuery,
		MaxSources:           c.MaxSources,
		MaxHighlights:        c.MaxHighlights,
		MaxHighlightChars:    c.MaxHighlightChars,
		HighlightMode:        strings.ToLower(c.HighlightMode),
		HighlightChunkChars:  c.HighlightChunkChars,
		SourceExcerptChars:   c.SourceExcerptChars,
		ContextBudgetChars:   c.ContextBudgetChars,
		RetrievalConcurrency: c.RetrievalConcurrency,
		FetchMissingContent:  c.FetchMissingContent,
		RunTimeout:           c.RunTimeout,
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}
