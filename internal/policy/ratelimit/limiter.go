// Package ratelimit implements a per-domain token bucket throttle with
// exponential back-off after anti-bot blocks.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/tiered-crawler/internal/clock/system"
	"github.com/JakeFAU/tiered-crawler/internal/crawler"
	"github.com/JakeFAU/tiered-crawler/internal/metrics"
)

// Defaults applied to zero Config fields.
const (
	DefaultBlockPenalty = 30 * time.Second
	DefaultMaxPenalty   = 10 * time.Minute
)

// Config holds throttle configuration.
type Config struct {
	// RequestsPerSecond per domain. Zero or negative disables pacing.
	RequestsPerSecond float64
	Burst             int
	BlockPenalty      time.Duration
	MaxPenalty        time.Duration
}

// FailureRecorder receives block and success reports, typically a circuit breaker.
type FailureRecorder interface {
	RecordFailure(domain string)
	RecordSuccess(domain string)
}

type domainState struct {
	limiter      *rate.Limiter
	blocks       int
	blockedUntil time.Time
}

// Limiter implements crawler.Throttle.
type Limiter struct {
	cfg      Config
	rate     rate.Limit
	burst    int
	clock    crawler.Clock
	recorder FailureRecorder

	mu      sync.Mutex
	domains map[string]*domainState
}

// New creates a Limiter. recorder and clock may be nil.
func New(cfg Config, recorder FailureRecorder, clock crawler.Clock) *Limiter {
	r := rate.Limit(cfg.RequestsPerSecond)
	if cfg.RequestsPerSecond <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	if cfg.BlockPenalty <= 0 {
		cfg.BlockPenalty = DefaultBlockPenalty
	}
	if cfg.MaxPenalty < cfg.BlockPenalty {
		cfg.MaxPenalty = max(DefaultMaxPenalty, cfg.BlockPenalty)
	}
	if clock == nil {
		clock = system.New()
	}
	return &Limiter{
		cfg:      cfg,
		rate:     r,
		burst:    burst,
		clock:    clock,
		recorder: recorder,
		domains:  make(map[string]*domainState),
	}
}

// Wait blocks until domain may be contacted: first through any block penalty,
// then for a token.
func (l *Limiter) Wait(ctx context.Context, domain string) error {
	start := time.Now()
	limiter, until := l.state(domain)

	if pause := until.Sub(l.clock.Now()); pause > 0 {
		timer := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("block penalty wait: %w", ctx.Err())
		case <-timer.C:
		}
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveThrottleWait(domain, waited)
	}
	return nil
}

// ReportSuccess clears domain's block penalty.
func (l *Limiter) ReportSuccess(domain string) {
	l.mu.Lock()
	if s, ok := l.domains[domain]; ok {
		s.blocks = 0
		s.blockedUntil = time.Time{}
	}
	l.mu.Unlock()
	if l.recorder != nil {
		l.recorder.RecordSuccess(domain)
	}
}

// ReportBlocked pauses domain for a penalty that doubles on each consecutive
// block, capped at MaxPenalty.
func (l *Limiter) ReportBlocked(domain string) {
	l.mu.Lock()
	s := l.stateLocked(domain)
	s.blocks++
	penalty := l.penaltyFor(s.blocks)
	s.blockedUntil = l.clock.Now().Add(penalty)
	l.mu.Unlock()

	metrics.ObserveBlocked(domain)
	if l.recorder != nil {
		l.recorder.RecordFailure(domain)
	}
}

// BlockedUntil returns the end of domain's current penalty, or the zero time.
func (l *Limiter) BlockedUntil(domain string) time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.domains[domain]; ok {
		return s.blockedUntil
	}
	return time.Time{}
}

func (l *Limiter) penaltyFor(blocks int) time.Duration {
	penalty := l.cfg.BlockPenalty
	for i := 1; i < blocks; i++ {
		penalty *= 2
		if penalty >= l.cfg.MaxPenalty {
			return l.cfg.MaxPenalty
		}
	}
	return min(penalty, l.cfg.MaxPenalty)
}

func (l *Limiter) state(domain string) (*rate.Limiter, time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.stateLocked(domain)
	return s.limiter, s.blockedUntil
}

func (l *Limiter) stateLocked(domain string) *domainState {
	s, ok := l.domains[domain]
	if !ok {
		s = &domainState{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.domains[domain] = s
	}
	return s
}
