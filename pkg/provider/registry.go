package provider

import (
	"sort"
	"sync"
	"time"

	"github.com/insightlabs/marketscope/pkg/config"
	"github.com/insightlabs/marketscope/pkg/models"
)

// State is the health state of one provider entry.
type State string

const (
	StateHealthy  State = "healthy"
	StateDegraded State = "degraded"
	StateDisabled State = "disabled"
)

// Backoff constants. A long-term-broken key retries at most once per hour.
const (
	rateLimitBackoffBase = 120 * time.Second
	genericBackoffBase   = 30 * time.Second
	backoffCap           = time.Hour
	maxBackoffExponent   = 6
)

// Backoff returns the cooldown applied after the k-th consecutive failure:
// min(base * 2^min(k,6), 1h).
func Backoff(base time.Duration, k int) time.Duration {
	if k > maxBackoffExponent {
		k = maxBackoffExponent
	}
	d := base << uint(k)
	if d > backoffCap {
		return backoffCap
	}
	return d
}

// Entry is one named provider with its live health state. All fields are
// guarded by the registry mutex.
type Entry struct {
	Name       string
	Class      config.ProviderClass
	Priority   int
	Credential config.ProviderCredential

	state               State
	consecutiveFailures int
	totalFailures       int
	totalSuccesses      int
	requestsToday       int
	dayBucketStart      time.Time
	disabledUntil       time.Time
}

// Registry holds the per-class provider pools. One mutex guards all state;
// operations are O(providers-per-class) and cheap.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*Entry
	now     func() time.Time

	maxConsecutive int
}

// NewRegistry creates an empty registry. maxConsecutive generic failures in
// a row disable a provider with a cooldown.
func NewRegistry(maxConsecutive int) *Registry {
	if maxConsecutive < 1 {
		maxConsecutive = 3
	}
	return &Registry{
		entries:        make(map[string]*Entry),
		now:            time.Now,
		maxConsecutive: maxConsecutive,
	}
}

// NewRegistryFromConfig builds a registry pre-populated from the credential
// pools in cfg.
func NewRegistryFromConfig(cfg *config.Config) *Registry {
	r := NewRegistry(cfg.Engine.MaxConsecutiveFailures)
	for _, class := range config.AllClasses() {
		for _, cred := range cfg.Providers.ForClass(class) {
			r.Register(class, cred)
		}
	}
	return r
}

// SetClock overrides the registry clock. Test hook.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// Register adds a provider entry. Duplicate names overwrite.
func (r *Registry) Register(class config.ProviderClass, cred config.ProviderCredential) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[cred.Name] = &Entry{
		Name:           cred.Name,
		Class:          class,
		Priority:       cred.Priority,
		Credential:     cred,
		state:          StateHealthy,
		dayBucketStart: dayStart(r.now()),
	}
}

// Candidate is a selection snapshot handed to the dispatcher: enough to
// rank and call the provider without holding the registry mutex.
type Candidate struct {
	Name                string
	Credential          config.ProviderCredential
	Priority            int
	ConsecutiveFailures int
}

// ListAvailable returns entries of a class that may be called now: state is
// not disabled, or the cooldown has passed (the entry is re-probed). Sorted
// by (priority, consecutive_failures) ascending, then stably by name.
func (r *Registry) ListAvailable(class config.ProviderClass) []Candidate {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.rehabilitateLocked(now)

	var out []Candidate
	for _, e := range r.entries {
		if e.Class != class {
			continue
		}
		if e.state == StateDisabled && now.Before(e.disabledUntil) {
			continue
		}
		out = append(out, Candidate{
			Name:                e.Name,
			Credential:          e.Credential,
			Priority:            e.Priority,
			ConsecutiveFailures: e.consecutiveFailures,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		if out[i].ConsecutiveFailures != out[j].ConsecutiveFailures {
			return out[i].ConsecutiveFailures < out[j].ConsecutiveFailures
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// RecordSuccess marks a call as succeeded: healthy state, failure streak
// reset, success and daily counters bumped.
func (r *Registry) RecordSuccess(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entries[name]
	if e == nil {
		return
	}
	r.rollDayLocked(e)
	e.state = StateHealthy
	e.consecutiveFailures = 0
	e.totalSuccesses++
	e.requestsToday++
}

// RecordFailure bumps failure counters and applies cooldowns. A rate-limit
// failure disables the entry immediately with the longer backoff base;
// other kinds disable it only after maxConsecutive failures in a row.
func (r *Registry) RecordFailure(name string, kind ErrorKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entries[name]
	if e == nil {
		return
	}
	e.consecutiveFailures++
	e.totalFailures++

	now := r.now()
	switch kind {
	case KindRateLimited:
		e.state = StateDisabled
		e.disabledUntil = now.Add(Backoff(rateLimitBackoffBase, e.consecutiveFailures))
	case KindCancelled:
		// Cancellation says nothing about provider health.
		e.consecutiveFailures--
		e.totalFailures--
	default:
		if e.consecutiveFailures >= r.maxConsecutive {
			e.state = StateDisabled
			e.disabledUntil = now.Add(Backoff(genericBackoffBase, e.consecutiveFailures))
		} else {
			e.state = StateDegraded
		}
	}
}

// RehabilitateExpired re-enables every entry whose cooldown has passed.
func (r *Registry) RehabilitateExpired(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rehabilitateLocked(now)
}

// Reset restores one entry (or all, when name is empty) to a clean healthy
// state. Administrative operation.
func (r *Registry) Reset(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if name != "" && e.Name != name {
			continue
		}
		e.state = StateHealthy
		e.consecutiveFailures = 0
		e.disabledUntil = time.Time{}
	}
}

// RequestsToday returns the daily counter for one provider.
func (r *Registry) RequestsToday(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entries[name]
	if e == nil {
		return 0
	}
	r.rollDayLocked(e)
	return e.requestsToday
}

// Snapshot returns a point-in-time copy of every entry for reports and the
// health endpoint.
func (r *Registry) Snapshot() []models.ProviderSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.ProviderSnapshot, 0, len(r.entries))
	for _, e := range r.entries {
		snap := models.ProviderSnapshot{
			Name:                e.Name,
			Class:               string(e.Class),
			Priority:            e.Priority,
			State:               string(e.state),
			ConsecutiveFailures: e.consecutiveFailures,
			TotalFailures:       e.totalFailures,
			TotalSuccesses:      e.totalSuccesses,
			RequestsToday:       e.requestsToday,
		}
		if !e.disabledUntil.IsZero() {
			t := e.disabledUntil
			snap.DisabledUntil = &t
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Class != out[j].Class {
			return out[i].Class < out[j].Class
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// State returns the current health state of one provider.
func (r *Registry) State(name string) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entries[name]
	if e == nil {
		return "", false
	}
	if e.state == StateDisabled && !r.now().Before(e.disabledUntil) {
		return StateHealthy, true
	}
	return e.state, true
}

func (r *Registry) rehabilitateLocked(now time.Time) {
	for _, e := range r.entries {
		if e.state == StateDisabled && !now.Before(e.disabledUntil) {
			e.state = StateHealthy
			e.disabledUntil = time.Time{}
		}
		r.rollDayLocked(e)
	}
}

// rollDayLocked resets the daily counter when the local day changes.
func (r *Registry) rollDayLocked(e *Entry) {
	today := dayStart(r.now())
	if !e.dayBucketStart.Equal(today) {
		e.dayBucketStart = today
		e.requestsToday = 0
	}
}

func dayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
