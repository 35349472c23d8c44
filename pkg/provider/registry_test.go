package provider

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insightlabs/marketscope/pkg/config"
)

func newTestRegistry(maxConsecutive int) (*Registry, *time.Time) {
	r := NewRegistry(maxConsecutive)
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	r.SetClock(func() time.Time { return now })
	return r, &now
}

func registerLLM(r *Registry, name string, priority int) {
	r.Register(config.ClassLLM, config.ProviderCredential{
		Name: name, Kind: "fake", Priority: priority,
	})
}

func TestBackoffFormula(t *testing.T) {
	base := 30 * time.Second
	assert.Equal(t, 30*time.Second, Backoff(base, 0))
	assert.Equal(t, 60*time.Second, Backoff(base, 1))
	assert.Equal(t, 8*time.Minute, Backoff(base, 4))
	// Exponent is capped at 6, then the cap of one hour applies.
	assert.Equal(t, 32*time.Minute, Backoff(base, 6))
	assert.Equal(t, 32*time.Minute, Backoff(base, 20))
	assert.Equal(t, time.Hour, Backoff(rateLimitBackoffBase, 20))
}

func TestListAvailableOrdering(t *testing.T) {
	r, _ := newTestRegistry(3)
	registerLLM(r, "bravo", 2)
	registerLLM(r, "alpha", 1)
	registerLLM(r, "charlie", 1)

	// Same priority ties break on failure streak, then name.
	r.RecordFailure("alpha", KindServerError)

	candidates := r.ListAvailable(config.ClassLLM)
	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = c.Name
	}
	assert.Equal(t, []string{"charlie", "alpha", "bravo"}, names)
}

func TestRateLimitFailureDisablesImmediately(t *testing.T) {
	r, now := newTestRegistry(3)
	registerLLM(r, "p1", 1)

	r.RecordFailure("p1", KindRateLimited)

	assert.Empty(t, r.ListAvailable(config.ClassLLM))
	state, ok := r.State("p1")
	require.True(t, ok)
	assert.Equal(t, StateDisabled, state)

	// First rate-limit failure backs off 2^1 * base.
	*now = now.Add(Backoff(rateLimitBackoffBase, 1) + time.Second)
	candidates := r.ListAvailable(config.ClassLLM)
	require.Len(t, candidates, 1)
	assert.Equal(t, "p1", candidates[0].Name)
}

func TestGenericFailuresDisableAfterThreshold(t *testing.T) {
	r, _ := newTestRegistry(3)
	registerLLM(r, "p1", 1)

	r.RecordFailure("p1", KindServerError)
	r.RecordFailure("p1", KindServerError)
	state, _ := r.State("p1")
	assert.Equal(t, StateDegraded, state)
	assert.Len(t, r.ListAvailable(config.ClassLLM), 1, "degraded providers stay selectable")

	r.RecordFailure("p1", KindServerError)
	state, _ = r.State("p1")
	assert.Equal(t, StateDisabled, state)
	assert.Empty(t, r.ListAvailable(config.ClassLLM))
}

func TestSuccessResetsFailureStreak(t *testing.T) {
	r, _ := newTestRegistry(3)
	registerLLM(r, "p1", 1)

	r.RecordFailure("p1", KindServerError)
	r.RecordFailure("p1", KindServerError)
	r.RecordSuccess("p1")

	snap := r.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, 0, snap[0].ConsecutiveFailures)
	assert.Equal(t, 2, snap[0].TotalFailures)
	assert.Equal(t, 1, snap[0].TotalSuccesses)
	assert.Equal(t, string(StateHealthy), snap[0].State)
}

func TestCancelledFailuresDoNotCount(t *testing.T) {
	r, _ := newTestRegistry(1)
	registerLLM(r, "p1", 1)

	r.RecordFailure("p1", KindCancelled)

	snap := r.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, 0, snap[0].ConsecutiveFailures)
	assert.Equal(t, 0, snap[0].TotalFailures)
	assert.Len(t, r.ListAvailable(config.ClassLLM), 1)
}

func TestResetRestoresDisabledProvider(t *testing.T) {
	r, _ := newTestRegistry(1)
	registerLLM(r, "p1", 1)
	registerLLM(r, "p2", 2)

	r.RecordFailure("p1", KindServerError)
	r.RecordFailure("p2", KindServerError)
	require.Empty(t, r.ListAvailable(config.ClassLLM))

	r.Reset("p1")
	candidates := r.ListAvailable(config.ClassLLM)
	require.Len(t, candidates, 1)
	assert.Equal(t, "p1", candidates[0].Name)

	r.Reset("")
	assert.Len(t, r.ListAvailable(config.ClassLLM), 2)
}

func TestDailyCounterRollsAtMidnight(t *testing.T) {
	r, now := newTestRegistry(3)
	registerLLM(r, "p1", 1)

	r.RecordSuccess("p1")
	r.RecordSuccess("p1")
	assert.Equal(t, 2, r.RequestsToday("p1"))

	*now = now.Add(24 * time.Hour)
	assert.Equal(t, 0, r.RequestsToday("p1"))
}

func TestClassesAreIsolated(t *testing.T) {
	r, _ := newTestRegistry(3)
	registerLLM(r, "p1", 1)
	r.Register(config.ClassSearch, config.ProviderCredential{Name: "s1", Kind: "fake", Priority: 1})

	assert.Len(t, r.ListAvailable(config.ClassLLM), 1)
	assert.Len(t, r.ListAvailable(config.ClassSearch), 1)
	assert.Empty(t, r.ListAvailable(config.ClassSocial))
}
