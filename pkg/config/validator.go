package config

import (
	"errors"
	"fmt"
)

// knownKinds maps each provider class to the adapter kinds it accepts.
var knownKinds = map[ProviderClass]map[string]bool{
	ClassLLM:       {"gemini": true, "openai_compat": true},
	ClassSearch:    {"serper": true, "google_cse": true, "scrape": true},
	ClassSocial:    {"supadata": true},
	ClassExtractor: {"reader": true, "browser": true},
}

// kindsNeedingKey lists adapter kinds that cannot work without an API key.
var kindsNeedingKey = map[string]bool{
	"gemini":        true,
	"openai_compat": true,
	"serper":        true,
	"google_cse":    true,
	"supadata":      true,
}

// Validate checks the resolved configuration before it is handed out.
// A class with an empty pool is legal (the class is disabled); entries that
// do exist must be coherent.
func Validate(cfg *Config) error {
	var errs []error

	for _, class := range AllClasses() {
		seen := make(map[string]bool)
		for i, cred := range cfg.Providers.ForClass(class) {
			field := fmt.Sprintf("providers.%s[%d]", class, i)

			if cred.Name == "" {
				errs = append(errs, &ValidationError{Field: field + ".name", Message: "name is required"})
				continue
			}
			if seen[cred.Name] {
				errs = append(errs, &ValidationError{Field: field + ".name", Message: "duplicate provider name " + cred.Name})
			}
			seen[cred.Name] = true

			if !knownKinds[class][cred.Kind] {
				errs = append(errs, &ValidationError{
					Field:   field + ".kind",
					Message: fmt.Sprintf("unknown kind %q for class %s", cred.Kind, class),
				})
			}
			if kindsNeedingKey[cred.Kind] && cred.APIKey == "" {
				errs = append(errs, &ValidationError{
					Field:   field + ".api_key",
					Message: "api_key is required for kind " + cred.Kind,
				})
			}
			if cred.DailyQuota < 0 {
				errs = append(errs, &ValidationError{Field: field + ".daily_quota", Message: "daily_quota must be >= 0"})
			}
			if cred.MinInterval < 0 {
				errs = append(errs, &ValidationError{Field: field + ".min_interval", Message: "min_interval must be >= 0"})
			}
		}
	}

	if cfg.Engine.ComponentDeadline <= 0 {
		errs = append(errs, &ValidationError{Field: "engine.component_deadline", Message: "must be positive"})
	}
	if cfg.Engine.MaxConsecutiveFailures < 1 {
		errs = append(errs, &ValidationError{Field: "engine.max_consecutive_failures", Message: "must be >= 1"})
	}
	if cfg.Engine.ParallelPrompts < 1 {
		errs = append(errs, &ValidationError{Field: "engine.parallel_prompts", Message: "must be >= 1"})
	}
	if cfg.Queue.WorkerCount < 1 {
		errs = append(errs, &ValidationError{Field: "queue.worker_count", Message: "must be >= 1"})
	}
	if cfg.Queue.MaxConcurrentSessions < 1 {
		errs = append(errs, &ValidationError{Field: "queue.max_concurrent_sessions", Message: "must be >= 1"})
	}
	if cfg.Storage.Root == "" {
		errs = append(errs, &ValidationError{Field: "storage.root", Message: "must be set"})
	}

	return errors.Join(errs...)
}
