package provider

import (
	"sync"
	"time"

	"github.com/insightlabs/marketscope/pkg/config"
)

// RateLimiter gates every outbound provider call: a configurable minimum
// interval between successive calls per provider, plus a daily counter that
// resets at local midnight.
//
// Acquire never blocks and never holds a lock across a network call; it
// either grants immediately or advises the caller how long to sleep.
type RateLimiter struct {
	mu    sync.Mutex
	state map[string]*limiterState
	now   func() time.Time
}

type limiterState struct {
	minInterval time.Duration
	dailyQuota  int // 0 = unlimited

	lastCall  time.Time
	countDay  int
	dayBucket time.Time
}

// NewRateLimiter creates a limiter with per-provider settings taken from
// the credential pools in cfg.
func NewRateLimiter(cfg *config.Config) *RateLimiter {
	l := &RateLimiter{
		state: make(map[string]*limiterState),
		now:   time.Now,
	}
	for _, class := range config.AllClasses() {
		for _, cred := range cfg.Providers.ForClass(class) {
			l.Configure(cred.Name, cred.MinInterval, cred.DailyQuota)
		}
	}
	return l
}

// Configure registers (or replaces) the limits for one provider.
func (l *RateLimiter) Configure(name string, minInterval time.Duration, dailyQuota int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state[name] = &limiterState{
		minInterval: minInterval,
		dailyQuota:  dailyQuota,
		dayBucket:   dayStart(l.now()),
	}
}

// SetClock overrides the limiter clock. Test hook.
func (l *RateLimiter) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// Acquire asks permission to call a provider. It returns (0, nil) for an
// immediate grant, (d, nil) when the caller should wait d and retry, or
// (0, ErrQuotaExhausted) when the daily quota is spent. An unknown provider
// is granted immediately.
//
// A grant reserves the slot: lastCall advances on grant so concurrent
// callers cannot both pass inside one min-interval window.
func (l *RateLimiter) Acquire(name string) (time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.state[name]
	if s == nil {
		return 0, nil
	}

	now := l.now()
	l.rollDayLocked(s, now)

	if s.dailyQuota > 0 && s.countDay >= s.dailyQuota {
		return 0, ErrQuotaExhausted
	}

	if !s.lastCall.IsZero() {
		elapsed := now.Sub(s.lastCall)
		if elapsed < s.minInterval {
			return s.minInterval - elapsed, nil
		}
	}

	s.lastCall = now
	s.countDay++
	return 0, nil
}

// Release returns a reserved slot after a call that never reached the
// provider (e.g. the dispatcher abandoned the wait). Successful and failed
// calls both count against the quota and keep their reservation.
func (l *RateLimiter) Release(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.state[name]
	if s == nil {
		return
	}
	if s.countDay > 0 {
		s.countDay--
	}
}

// RequestsToday returns the daily counter for one provider.
func (l *RateLimiter) RequestsToday(name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.state[name]
	if s == nil {
		return 0
	}
	l.rollDayLocked(s, l.now())
	return s.countDay
}

func (l *RateLimiter) rollDayLocked(s *limiterState, now time.Time) {
	today := dayStart(now)
	if !s.dayBucket.Equal(today) {
		s.dayBucket = today
		s.countDay = 0
	}
}
