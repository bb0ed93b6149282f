// Package breaker implements a per-domain circuit breaker.
//
// A domain trips after Threshold consecutive failures that all fall inside
// Window. It then stays open for Cooldown, after which the counters reset and
// the domain closes again.
package breaker

import (
	"sync"
	"time"

	"github.com/JakeFAU/tiered-crawler/internal/clock/system"
	"github.com/JakeFAU/tiered-crawler/internal/crawler"
	"github.com/JakeFAU/tiered-crawler/internal/metrics"
)

// Defaults applied to zero Config fields.
const (
	DefaultThreshold = 5
	DefaultWindow    = 10 * time.Minute
	DefaultCooldown  = 5 * time.Minute
)

// Config holds breaker thresholds.
type Config struct {
	Threshold int
	Window    time.Duration
	Cooldown  time.Duration
}

type state struct {
	failures  int
	firstFail time.Time
	openUntil time.Time
}

// Breaker tracks failure state per domain. It is safe for concurrent use.
type Breaker struct {
	cfg   Config
	clock crawler.Clock

	mu      sync.Mutex
	domains map[string]*state
}

// New creates a Breaker. A nil clock uses the system clock.
func New(cfg Config, clock crawler.Clock) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if clock == nil {
		clock = system.New()
	}
	return &Breaker{cfg: cfg, clock: clock, domains: make(map[string]*state)}
}

// Tripped reports whether domain is currently open.
func (b *Breaker) Tripped(domain string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.domains[domain]
	if !ok || s.openUntil.IsZero() {
		return false
	}
	if b.clock.Now().Before(s.openUntil) {
		return true
	}
	delete(b.domains, domain)
	return false
}

// RecordFailure counts one failure against domain and trips it at the threshold.
func (b *Breaker) RecordFailure(domain string) {
	now := b.clock.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.domains[domain]
	if !ok {
		s = &state{}
		b.domains[domain] = s
	}
	if !s.openUntil.IsZero() {
		if now.Before(s.openUntil) {
			return
		}
		*s = state{}
	}
	if s.failures == 0 || now.Sub(s.firstFail) > b.cfg.Window {
		s.failures = 0
		s.firstFail = now
	}
	s.failures++
	if s.failures >= b.cfg.Threshold {
		s.openUntil = now.Add(b.cfg.Cooldown)
		metrics.ObserveBreakerTrip(domain)
	}
}

// RecordSuccess clears domain's failure count. An open breaker stays open
// until its cooldown elapses.
func (b *Breaker) RecordSuccess(domain string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.domains[domain]
	if !ok || !s.openUntil.IsZero() {
		return
	}
	delete(b.domains, domain)
}

// OpenUntil returns when domain closes again, or the zero time when it is closed.
func (b *Breaker) OpenUntil(domain string) time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.domains[domain]; ok {
		return s.openUntil
	}
	return time.Time{}
}
