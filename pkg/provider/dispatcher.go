package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/insightlabs/marketscope/pkg/config"
)

// Dispatcher selects the best live provider of a class for each call and
// rotates to the next-best on failure. All retry logic lives here; adapters
// do exactly one attempt.
type Dispatcher struct {
	registry *Registry
	limiter  *RateLimiter
	adapters map[config.ProviderClass]map[string]Adapter

	callTimeout func(config.ProviderClass) time.Duration
	maxWait     time.Duration
	sleep       func(context.Context, time.Duration) error
}

// NewDispatcher wires a dispatcher over the shared registry and limiter.
// Per-class call deadlines and the max rate-limit wait come from cfg.
func NewDispatcher(cfg *config.Config, registry *Registry, limiter *RateLimiter) *Dispatcher {
	return &Dispatcher{
		registry:    registry,
		limiter:     limiter,
		adapters:    make(map[config.ProviderClass]map[string]Adapter),
		callTimeout: cfg.CallTimeout,
		maxWait:     cfg.Engine.MaxRateLimitWait,
		sleep:       sleepCtx,
	}
}

// RegisterAdapter binds an adapter to a (class, kind) pair. Called once at
// startup from main's wiring.
func (d *Dispatcher) RegisterAdapter(class config.ProviderClass, kind string, adapter Adapter) {
	if d.adapters[class] == nil {
		d.adapters[class] = make(map[string]Adapter)
	}
	d.adapters[class][kind] = adapter
}

// Invoke tries providers of a class in registry order until one succeeds.
//
// The candidate list is fetched once at the start of the call and not
// re-fetched mid-invocation, so flapping health state cannot starve a
// single invocation. Across invocations the ordering is re-evaluated.
func (d *Dispatcher) Invoke(ctx context.Context, class config.ProviderClass, req Request) (*Response, error) {
	candidates := d.registry.ListAvailable(class)
	if len(candidates) == 0 {
		return nil, &ExhaustedError{Class: class}
	}

	log := slog.With("class", string(class))
	attempted := make([]string, 0, len(candidates))

	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, NewCallError(candidate.Name, KindCancelled, err)
		}

		if ok := d.acquire(ctx, candidate.Name); !ok {
			// Quota spent or still rate-limited after the max wait: treat
			// as a rate_limited failure for this provider and rotate.
			d.registry.RecordFailure(candidate.Name, KindRateLimited)
			attempted = append(attempted, candidate.Name)
			continue
		}

		resp, err := d.callOne(ctx, class, candidate, req)
		if err == nil {
			d.registry.RecordSuccess(candidate.Name)
			return resp, nil
		}

		kind := Classify(err)
		if kind == KindCancelled {
			d.limiter.Release(candidate.Name)
			d.registry.RecordFailure(candidate.Name, KindCancelled)
			return nil, err
		}

		d.registry.RecordFailure(candidate.Name, kind)
		attempted = append(attempted, candidate.Name)
		log.Warn("Provider call failed, rotating",
			"provider", candidate.Name,
			"kind", string(kind),
			"error", err)
	}

	return nil, &ExhaustedError{Class: class, Attempted: attempted}
}

// acquire consults the rate limiter, sleeping up to maxWait on an advisory.
// Returns false when the provider cannot be called now.
func (d *Dispatcher) acquire(ctx context.Context, name string) bool {
	deadline := time.Now().Add(d.maxWait)
	for {
		wait, err := d.limiter.Acquire(name)
		if err != nil {
			return false
		}
		if wait == 0 {
			return true
		}
		if time.Now().Add(wait).After(deadline) {
			return false
		}
		if err := d.sleep(ctx, wait); err != nil {
			return false
		}
	}
}

// callOne runs one adapter attempt under the class deadline.
func (d *Dispatcher) callOne(ctx context.Context, class config.ProviderClass, candidate Candidate, req Request) (*Response, error) {
	adapter := d.adapters[class][candidate.Credential.Kind]
	if adapter == nil {
		return nil, NewCallError(candidate.Name, KindProtocol,
			fmt.Errorf("no adapter registered for kind %q", candidate.Credential.Kind))
	}

	callCtx, cancel := context.WithTimeout(ctx, d.callTimeout(class))
	defer cancel()

	resp, err := adapter.Invoke(callCtx, candidate.Credential, req)
	if err != nil {
		// Deadline on the call context (not the caller's) is a timeout for
		// this provider, not a cancellation of the whole invoke.
		if callCtx.Err() != nil && ctx.Err() == nil {
			return nil, NewCallError(candidate.Name, KindTimeout, err)
		}
		return nil, err
	}
	if emptyResponse(resp) {
		return nil, NewCallError(candidate.Name, KindEmptyResponse, fmt.Errorf("provider returned no usable content"))
	}
	resp.Provider = candidate.Name
	return resp, nil
}

func emptyResponse(resp *Response) bool {
	if resp == nil {
		return true
	}
	return strings.TrimSpace(resp.Text) == "" && len(resp.Results) == 0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
