package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBackend = errors.New("backend failed")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(settings Settings) (*Breaker, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	b := New("store", settings)
	b.now = clock.Now
	b.expiry = clock.Now().Add(b.settings.Interval)
	return b, clock
}

func fail(b *Breaker, n int) {
	for i := 0; i < n; i++ {
		_, _ = b.Execute(func() (interface{}, error) { return nil, errBackend })
	}
}

func TestBreakerStateTransitions(t *testing.T) {
	tests := []struct {
		name     string
		settings Settings
		requests []bool // true = success
		want     State
	}{
		{
			name:     "stays closed on successes",
			requests: []bool{true, true, true},
			want:     StateClosed,
		},
		{
			name: "opens after consecutive failures",
			settings: Settings{ReadyToTrip: func(c Counts) bool {
				return c.ConsecutiveFailures >= 3
			}},
			requests: []bool{false, false, false},
			want:     StateOpen,
		},
		{
			name: "success resets the failure streak",
			settings: Settings{ReadyToTrip: func(c Counts) bool {
				return c.ConsecutiveFailures >= 2
			}},
			requests: []bool{false, true, false},
			want:     StateClosed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, _ := newTestBreaker(tt.settings)
			for _, ok := range tt.requests {
				_, _ = b.Execute(func() (interface{}, error) {
					if ok {
						return "ok", nil
					}
					return nil, errBackend
				})
			}
			assert.Equal(t, tt.want, b.State())
		})
	}
}

func TestBreakerOpenRejects(t *testing.T) {
	b, _ := newTestBreaker(Settings{ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 }})
	fail(b, 1)

	called := false
	_, err := b.Execute(func() (interface{}, error) {
		called = true
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	var transitions []string
	b, clock := newTestBreaker(Settings{
		MaxRequests: 2,
		Timeout:     time.Second,
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 2 },
		OnStateChange: func(_ string, from, to State) {
			transitions = append(transitions, from.String()+">"+to.String())
		},
	})

	fail(b, 2)
	require.Equal(t, StateOpen, b.State())

	clock.Advance(2 * time.Second)
	assert.Equal(t, StateHalfOpen, b.State())

	for i := 0; i < 2; i++ {
		_, err := b.Execute(func() (interface{}, error) { return "ok", nil })
		require.NoError(t, err)
	}
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, []string{"closed>open", "open>half-open", "half-open>closed"}, transitions)
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(Settings{
		Timeout:     time.Second,
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 },
	})
	fail(b, 1)
	clock.Advance(2 * time.Second)
	require.Equal(t, StateHalfOpen, b.State())

	fail(b, 1)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerHalfOpenLimitsTrials(t *testing.T) {
	b, clock := newTestBreaker(Settings{
		MaxRequests: 1,
		Timeout:     time.Second,
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 },
	})
	fail(b, 1)
	clock.Advance(2 * time.Second)

	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_, _ = b.Execute(func() (interface{}, error) {
			<-release
			return "ok", nil
		})
		close(done)
	}()

	require.Eventually(t, func() bool { return b.Counts().Requests == 1 }, time.Second, time.Millisecond)
	_, err := b.Execute(func() (interface{}, error) { return "ok", nil })
	assert.ErrorIs(t, err, ErrTooManyRequests)

	close(release)
	<-done
}

func TestBreakerIsSuccessful(t *testing.T) {
	errNotFound := errors.New("not found")
	b, _ := newTestBreaker(Settings{
		ReadyToTrip:  func(c Counts) bool { return c.ConsecutiveFailures >= 1 },
		IsSuccessful: func(err error) bool { return errors.Is(err, errNotFound) },
	})

	_, err := b.Execute(func() (interface{}, error) { return nil, errNotFound })
	assert.ErrorIs(t, err, errNotFound)
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, uint32(1), b.Counts().TotalSuccesses)
}

func TestBreakerIntervalClearsCounts(t *testing.T) {
	b, clock := newTestBreaker(Settings{Interval: time.Minute})
	fail(b, 3)
	assert.Equal(t, uint32(3), b.Counts().ConsecutiveFailures)

	clock.Advance(2 * time.Minute)
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, Counts{}, b.Counts())
}

func TestDoTyped(t *testing.T) {
	b, _ := newTestBreaker(Settings{})
	n, err := Do(context.Background(), b, func(context.Context) (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, n)
}

func TestDoCancelledContext(t *testing.T) {
	b, _ := newTestBreaker(Settings{ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 }})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Do(ctx, b, func(context.Context) (int, error) { return 0, nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, uint32(0), b.Counts().Requests)

	ctx, cancel = context.WithCancel(context.Background())
	_, err = Do(ctx, b, func(ctx context.Context) (int, error) {
		cancel()
		return 0, ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerPanicCountsAsFailure(t *testing.T) {
	b, _ := newTestBreaker(Settings{ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 }})
	assert.Panics(t, func() {
		_, _ = b.Execute(func() (interface{}, error) { panic("boom") })
	})
	assert.Equal(t, StateOpen, b.State())
}
