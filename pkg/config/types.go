package config

import (
	"fmt"
	"time"
)

// ProviderClass is the category a provider credential belongs to. The
// dispatcher selects within a class.
type ProviderClass string

const (
	ClassLLM       ProviderClass = "llm"
	ClassSearch    ProviderClass = "search"
	ClassSocial    ProviderClass = "social"
	ClassExtractor ProviderClass = "extractor"
)

// AllClasses lists every provider class in a stable order.
func AllClasses() []ProviderClass {
	return []ProviderClass{ClassLLM, ClassSearch, ClassSocial, ClassExtractor}
}

// Valid reports whether c names a known provider class.
func (c ProviderClass) Valid() bool {
	switch c {
	case ClassLLM, ClassSearch, ClassSocial, ClassExtractor:
		return true
	}
	return false
}

// ProviderCredential is one named credential entry inside a class pool.
type ProviderCredential struct {
	Name string `yaml:"name"`
	// Kind selects the adapter: gemini, openai_compat, serper, google_cse,
	// scrape, supadata, reader.
	Kind     string `yaml:"kind"`
	APIKey   string `yaml:"api_key,omitempty"`
	Endpoint string `yaml:"endpoint,omitempty"`
	// Model carries the sub-choice for classes that have one (LLM model
	// name, search engine ID, ...).
	Model       string        `yaml:"model,omitempty"`
	Priority    int           `yaml:"priority"`
	DailyQuota  int           `yaml:"daily_quota,omitempty"`
	MinInterval time.Duration `yaml:"min_interval,omitempty"`
}

// ProvidersConfig holds the ordered credential pools per class.
type ProvidersConfig struct {
	LLM       []ProviderCredential `yaml:"llm"`
	Search    []ProviderCredential `yaml:"search"`
	Social    []ProviderCredential `yaml:"social"`
	Extractor []ProviderCredential `yaml:"extractor"`
}

// ForClass returns the credential pool for a class.
func (p *ProvidersConfig) ForClass(class ProviderClass) []ProviderCredential {
	switch class {
	case ClassLLM:
		return p.LLM
	case ClassSearch:
		return p.Search
	case ClassSocial:
		return p.Social
	case ClassExtractor:
		return p.Extractor
	}
	return nil
}

// EngineConfig controls scheduler and dispatcher timing.
type EngineConfig struct {
	// ComponentDeadline bounds one component execution.
	ComponentDeadline time.Duration `yaml:"component_deadline"`
	// LLMCallTimeout is the hard deadline for one LLM provider call.
	LLMCallTimeout time.Duration `yaml:"llm_call_timeout"`
	// SearchCallTimeout bounds one search or social provider call.
	SearchCallTimeout time.Duration `yaml:"search_call_timeout"`
	// ExtractStrategyTimeout bounds each strategy in the extraction chain.
	ExtractStrategyTimeout time.Duration `yaml:"extract_strategy_timeout"`
	// MaxRateLimitWait is the longest the dispatcher sleeps on a rate
	// limiter advisory before treating the provider as failed.
	MaxRateLimitWait time.Duration `yaml:"max_rate_limit_wait"`
	// MaxConsecutiveFailures disables a provider after this many generic
	// failures in a row.
	MaxConsecutiveFailures int `yaml:"max_consecutive_failures"`
	// ExtractTopResults is how many web search result URLs are run through
	// the extraction chain.
	ExtractTopResults int `yaml:"extract_top_results"`
	// ParallelPrompts bounds concurrent LLM prompts fanned out by a single
	// component.
	ParallelPrompts int `yaml:"parallel_prompts"`
	// AllowSyntheticFallback lets the social class return placeholder data
	// when no provider is configured. Off by default: missing data must be
	// an explicit error, never fabricated silently.
	AllowSyntheticFallback bool `yaml:"allow_synthetic_fallback"`
}

// QueueConfig controls the session worker pool.
type QueueConfig struct {
	// WorkerCount is the number of session executor goroutines.
	WorkerCount int `yaml:"worker_count"`
	// MaxConcurrentSessions caps sessions executing at once; submissions
	// beyond the cap queue (RejectWhenFull=false) or are rejected.
	MaxConcurrentSessions int `yaml:"max_concurrent_sessions"`
	// RejectWhenFull makes submit fail instead of queueing at the cap.
	RejectWhenFull bool `yaml:"reject_when_full"`
	// SessionTimeout bounds one full session execution.
	SessionTimeout time.Duration `yaml:"session_timeout"`
	// GracefulShutdownTimeout is the max wait for active sessions on stop.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`
	// PollInterval is the base interval for checking pending sessions.
	PollInterval time.Duration `yaml:"poll_interval"`
	// PollIntervalJitter randomizes the poll interval to avoid thundering
	// herds of workers.
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter"`
}

// RetentionConfig controls background cleanup of persisted sessions.
type RetentionConfig struct {
	SessionRetentionDays int           `yaml:"session_retention_days"`
	CleanupInterval      time.Duration `yaml:"cleanup_interval"`
}

// StorageConfig locates the checkpoint store.
type StorageConfig struct {
	Root string `yaml:"root"`
}

// Config is the fully resolved runtime configuration handed to main for
// wiring. Nothing reads configuration from globals.
type Config struct {
	configDir string

	Providers *ProvidersConfig
	Engine    *EngineConfig
	Queue     *QueueConfig
	Retention *RetentionConfig
	Storage   *StorageConfig
}

// ConfigDir returns the directory configuration was loaded from.
func (c *Config) ConfigDir() string { return c.configDir }

// ClassConfigured reports whether at least one credential exists for class.
func (c *Config) ClassConfigured(class ProviderClass) bool {
	return len(c.Providers.ForClass(class)) > 0
}

// CallTimeout returns the per-call deadline for a class.
func (c *Config) CallTimeout(class ProviderClass) time.Duration {
	switch class {
	case ClassLLM:
		return c.Engine.LLMCallTimeout
	case ClassExtractor:
		return c.Engine.ExtractStrategyTimeout
	default:
		return c.Engine.SearchCallTimeout
	}
}

// Stats summarizes loaded configuration for startup logging.
type Stats struct {
	LLMProviders       int
	SearchProviders    int
	SocialProviders    int
	ExtractorProviders int
}

// Stats returns provider pool sizes.
func (c *Config) Stats() Stats {
	return Stats{
		LLMProviders:       len(c.Providers.LLM),
		SearchProviders:    len(c.Providers.Search),
		SocialProviders:    len(c.Providers.Social),
		ExtractorProviders: len(c.Providers.Extractor),
	}
}

func (c *Config) String() string {
	s := c.Stats()
	return fmt.Sprintf("config{llm=%d search=%d social=%d extractor=%d}",
		s.LLMProviders, s.SearchProviders, s.SocialProviders, s.ExtractorProviders)
}
