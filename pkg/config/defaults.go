package config

import "time"

// DefaultEngineConfig returns the built-in engine defaults.
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		ComponentDeadline:      10 * time.Minute,
		LLMCallTimeout:         60 * time.Second,
		SearchCallTimeout:      30 * time.Second,
		ExtractStrategyTimeout: 15 * time.Second,
		MaxRateLimitWait:       2 * time.Second,
		MaxConsecutiveFailures: 3,
		ExtractTopResults:      3,
		ParallelPrompts:        4,
		AllowSyntheticFallback: false,
	}
}

// DefaultQueueConfig returns the built-in queue defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		WorkerCount:             3,
		MaxConcurrentSessions:   3,
		RejectWhenFull:          false,
		SessionTimeout:          30 * time.Minute,
		GracefulShutdownTimeout: 30 * time.Minute,
		PollInterval:            500 * time.Millisecond,
		PollIntervalJitter:      100 * time.Millisecond,
	}
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		SessionRetentionDays: 30,
		CleanupInterval:      6 * time.Hour,
	}
}

// DefaultStorageConfig returns the built-in storage defaults.
func DefaultStorageConfig() *StorageConfig {
	return &StorageConfig{
		Root: "./data/checkpoints",
	}
}

// defaultMinInterval is applied to credentials that don't set min_interval.
// Search engines get a longer gap than LLM endpoints.
func defaultMinInterval(class ProviderClass) time.Duration {
	switch class {
	case ClassSearch, ClassSocial:
		return 1 * time.Second
	case ClassExtractor:
		return 500 * time.Millisecond
	default:
		return 500 * time.Millisecond
	}
}
