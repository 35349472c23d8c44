// Package provider implements the multi-provider fallback layer: named
// credential pools per class, health tracking with cooldowns, rate limiting,
// and the dispatcher that rotates across providers on failure.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/insightlabs/marketscope/pkg/config"
)

// ErrorKind classifies a failed provider call. Every outbound boundary
// reports one of these.
type ErrorKind string

const (
	KindRateLimited   ErrorKind = "rate_limited"
	KindAuth          ErrorKind = "auth"
	KindTimeout       ErrorKind = "timeout"
	KindServerError   ErrorKind = "server_error"
	KindEmptyResponse ErrorKind = "empty_response"
	KindProtocol      ErrorKind = "protocol"
	KindCancelled     ErrorKind = "cancelled"

	// Kinds observed above the dispatcher, at the scheduler boundary.
	KindValidationFailed      ErrorKind = "validation_failed"
	KindDependencyMissing     ErrorKind = "dependency_missing"
	KindStorage               ErrorKind = "storage"
	KindAllProvidersExhausted ErrorKind = "all_providers_exhausted"
)

// ErrAllProvidersExhausted signals that no live provider in a class could
// serve a request. It is distinct from any single-provider failure.
var ErrAllProvidersExhausted = errors.New("all providers exhausted")

// ErrQuotaExhausted is returned by the rate limiter when a provider's daily
// quota is spent. The dispatcher treats it as a rate_limited failure.
var ErrQuotaExhausted = errors.New("daily quota exhausted")

// ErrClassUnavailable is returned when a class has no configured providers.
var ErrClassUnavailable = errors.New("provider class not configured")

// CallError wraps one failed provider call with its classification.
type CallError struct {
	Provider string
	Kind     ErrorKind
	Err      error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// NewCallError builds a classified call error. Adapters use this to report
// exactly one attempt; they never retry locally.
func NewCallError(provider string, kind ErrorKind, err error) *CallError {
	return &CallError{Provider: provider, Kind: kind, Err: err}
}

// ExhaustedError carries the attempt trail when a class is exhausted.
type ExhaustedError struct {
	Class     config.ProviderClass
	Attempted []string
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%v for class %s (attempted: %v)", ErrAllProvidersExhausted, e.Class, e.Attempted)
}

func (e *ExhaustedError) Unwrap() error { return ErrAllProvidersExhausted }

// Classify maps an arbitrary call failure to an ErrorKind. Adapter-tagged
// errors keep their kind; context errors map to timeout/cancelled;
// everything else is a server error.
func Classify(err error) ErrorKind {
	var callErr *CallError
	if errors.As(err, &callErr) {
		return callErr.Kind
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, ErrQuotaExhausted):
		return KindRateLimited
	default:
		return KindServerError
	}
}
