package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterWaitPacesSameDomain(t *testing.T) {
	t.Parallel()

	l := New(Config{RequestsPerSecond: 10, Burst: 1}, nil, nil)
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "test.com"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "test.com"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiterDifferentDomains(t *testing.T) {
	t.Parallel()

	l := New(Config{RequestsPerSecond: 1, Burst: 1}, nil, nil)
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "a.com"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "b.com"))
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiterUnlimitedByDefault(t *testing.T) {
	t.Parallel()

	l := New(Config{}, nil, nil)
	start := time.Now()
	for range 20 {
		require.NoError(t, l.Wait(context.Background(), "a.com"))
	}
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiterBlockPenalty(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	l := New(Config{BlockPenalty: 60 * time.Millisecond, MaxPenalty: time.Second}, rec, nil)
	l.ReportBlocked("a.com")
	require.Equal(t, []string{"a.com"}, rec.get("failure"))

	start := time.Now()
	require.NoError(t, l.Wait(context.Background(), "a.com"))
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	start = time.Now()
	require.NoError(t, l.Wait(context.Background(), "b.com"))
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiterPenaltyHonoursContext(t *testing.T) {
	t.Parallel()

	l := New(Config{BlockPenalty: time.Hour}, nil, nil)
	l.ReportBlocked("a.com")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx, "a.com")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLimiterPenaltyDoublesAndCaps(t *testing.T) {
	t.Parallel()

	clk := &fixedClock{now: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}
	l := New(Config{BlockPenalty: 10 * time.Second, MaxPenalty: 35 * time.Second}, nil, clk)

	l.ReportBlocked("a.com")
	require.Equal(t, clk.now.Add(10*time.Second), l.BlockedUntil("a.com"))
	l.ReportBlocked("a.com")
	require.Equal(t, clk.now.Add(20*time.Second), l.BlockedUntil("a.com"))
	l.ReportBlocked("a.com")
	require.Equal(t, clk.now.Add(35*time.Second), l.BlockedUntil("a.com"))
	l.ReportBlocked("a.com")
	require.Equal(t, clk.now.Add(35*time.Second), l.BlockedUntil("a.com"))
}

func TestLimiterSuccessClearsPenalty(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	l := New(Config{BlockPenalty: time.Hour}, rec, nil)
	l.ReportBlocked("a.com")
	require.False(t, l.BlockedUntil("a.com").IsZero())

	l.ReportSuccess("a.com")
	require.True(t, l.BlockedUntil("a.com").IsZero())
	require.Equal(t, []string{"a.com"}, rec.get("success"))
	require.NoError(t, l.Wait(context.Background(), "a.com"))
}

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time { return c.now }

type recorder struct {
	mu     sync.Mutex
	events map[string][]string
}

func (r *recorder) add(kind, domain string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.events == nil {
		r.events = make(map[string][]string)
	}
	r.events[kind] = append(r.events[kind], domain)
}

func (r *recorder) RecordFailure(domain string) { r.add("failure", domain) }

func (r *recorder) RecordSuccess(domain string) { r.add("success", domain) }

func (r *recorder) get(kind string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events[kind]...)
}
