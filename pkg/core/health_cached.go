// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"context"
	"sync"
	"time"
)

// ProbeChecker turns a probe function into a HealthChecker and throttles it:
// results younger than the minimum interval are served from cache.
type ProbeChecker struct {
	probe       func(ctx context.Context) error
	degraded    bool
	minInterval time.Duration
	timeout     time.Duration

	mu         sync.RWMutex
	lastCheck  time.Time
	lastResult HealthResult
}

// ProbeOption configures a ProbeChecker.
type ProbeOption func(*ProbeChecker)

// WithMinInterval sets how long a result is reused.
func WithMinInterval(d time.Duration) ProbeOption {
	return func(p *ProbeChecker) { p.minInterval = d }
}

// WithProbeTimeout bounds each probe.
func WithProbeTimeout(d time.Duration) ProbeOption {
	return func(p *ProbeChecker) { p.timeout = d }
}

// WithDegradedOnFailure reports a failing probe as degraded instead of
// unhealthy, for optional components.
func WithDegradedOnFailure() ProbeOption {
	return func(p *ProbeChecker) { p.degraded = true }
}

// NewProbeChecker creates a throttled checker. A nil probe is always healthy.
func NewProbeChecker(probe func(ctx context.Context) error, opts ...ProbeOption) *ProbeChecker {
	p := &ProbeChecker{
		probe:       probe,
		minInterval: 10 * time.Second,
		timeout:     5 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Check returns the cached result or runs the probe.
func (p *ProbeChecker) Check(ctx context.Context) HealthResult {
	p.mu.RLock()
	if p.fresh() {
		result := p.lastResult
		p.mu.RUnlock()
		return result
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	// Double-check after acquiring write lock
	if p.fresh() {
		return p.lastResult
	}

	result := HealthResult{Status: HealthHealthy, LastCheck: time.Now()}
	if p.probe != nil {
		checkCtx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()
		if err := p.probe(checkCtx); err != nil {
			result.Status = HealthUnhealthy
			if p.degraded {
				result.Status = HealthDegraded
			}
			result.Message = err.Error()
		}
	}

	p.lastResult = result
	p.lastCheck = result.LastCheck
	return result
}

func (p *ProbeChecker) fresh() bool {
	return !p.lastCheck.IsZero() && time.Since(p.lastCheck) < p.minInterval
}
