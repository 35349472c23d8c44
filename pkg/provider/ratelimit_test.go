package provider

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter() (*RateLimiter, *time.Time) {
	l := &RateLimiter{state: make(map[string]*limiterState)}
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestAcquireEnforcesMinInterval(t *testing.T) {
	l, now := newTestLimiter()
	l.Configure("p1", time.Second, 0)

	wait, err := l.Acquire("p1")
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), wait)

	// Second call inside the window gets an advisory wait, not a grant.
	wait, err = l.Acquire("p1")
	require.NoError(t, err)
	assert.Equal(t, time.Second, wait)

	*now = now.Add(time.Second)
	wait, err = l.Acquire("p1")
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), wait)
}

func TestAcquireGrantReservesSlot(t *testing.T) {
	l, _ := newTestLimiter()
	l.Configure("p1", time.Second, 0)

	wait, err := l.Acquire("p1")
	require.NoError(t, err)
	require.Equal(t, time.Duration(0), wait)

	// A concurrent caller in the same instant must not also pass.
	wait, err = l.Acquire("p1")
	require.NoError(t, err)
	assert.Greater(t, wait, time.Duration(0))
}

func TestDailyQuotaExhaustion(t *testing.T) {
	l, now := newTestLimiter()
	l.Configure("p1", 0, 2)

	for i := 0; i < 2; i++ {
		wait, err := l.Acquire("p1")
		require.NoError(t, err)
		require.Equal(t, time.Duration(0), wait)
	}

	_, err := l.Acquire("p1")
	assert.ErrorIs(t, err, ErrQuotaExhausted)

	// Quota resets at the next local midnight.
	*now = now.Add(24 * time.Hour)
	_, err = l.Acquire("p1")
	assert.NoError(t, err)
}

func TestReleaseReturnsQuotaSlot(t *testing.T) {
	l, _ := newTestLimiter()
	l.Configure("p1", 0, 1)

	_, err := l.Acquire("p1")
	require.NoError(t, err)
	_, err = l.Acquire("p1")
	require.ErrorIs(t, err, ErrQuotaExhausted)

	l.Release("p1")
	_, err = l.Acquire("p1")
	assert.NoError(t, err)
}

func TestUnknownProviderIsUnlimited(t *testing.T) {
	l, _ := newTestLimiter()

	for i := 0; i < 10; i++ {
		wait, err := l.Acquire("unconfigured")
		require.NoError(t, err)
		assert.Equal(t, time.Duration(0), wait)
	}
}

func TestRequestsTodayCounts(t *testing.T) {
	l, _ := newTestLimiter()
	l.Configure("p1", 0, 0)

	_, _ = l.Acquire("p1")
	_, _ = l.Acquire("p1")
	assert.Equal(t, 2, l.RequestsToday("p1"))
}
