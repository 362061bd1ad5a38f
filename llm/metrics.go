// Copyright 2025 Yukpo
// SPDX-License-Identifier: BUSL-1.1

package llm

import (
	"sync"
	"time"
)

// ModelMetrics is the per-entry call accounting snapshot.
type ModelMetrics struct {
	TotalRequests       int64     `json:"total_requests"`
	SuccessfulRequests  int64     `json:"successful_requests"`
	FailedRequests      int64     `json:"failed_requests"`
	TotalTokensUsed     int64     `json:"total_tokens_used"`
	TotalCost           float64   `json:"total_cost"`
	AverageResponseTime float64   `json:"average_response_time_ms"`
	LastUsed            time.Time `json:"last_used"`
	SuccessRate         float64   `json:"success_rate"`
}

// MetricsTracker collects per-model metrics. Writes happen once per call,
// at call end, under a write lock.
type MetricsTracker struct {
	mu      sync.RWMutex
	metrics map[string]*ModelMetrics
}

// NewMetricsTracker creates an empty tracker.
func NewMetricsTracker() *MetricsTracker {
	return &MetricsTracker{metrics: make(map[string]*ModelMetrics)}
}

// RecordSuccess records a completed call with its usage and latency.
// The average latency uses an exponential moving average (alpha 0.3) so
// recent behavior dominates routing diagnostics.
func (t *MetricsTracker) RecordSuccess(model string, tokens int, costPerToken float64, latency time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	m := t.get(model)
	m.TotalRequests++
	m.SuccessfulRequests++
	m.TotalTokensUsed += int64(tokens)
	m.TotalCost += float64(tokens) * costPerToken
	m.LastUsed = time.Now()

	latencyMs := float64(latency.Milliseconds())
	if m.AverageResponseTime == 0 {
		m.AverageResponseTime = latencyMs
	} else {
		m.AverageResponseTime = 0.7*m.AverageResponseTime + 0.3*latencyMs
	}

	m.SuccessRate = float64(m.SuccessfulRequests) / float64(m.TotalRequests)
}

// RecordFailure records a failed or timed-out call.
func (t *MetricsTracker) RecordFailure(model string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	m := t.get(model)
	m.TotalRequests++
	m.FailedRequests++
	m.SuccessRate = float64(m.SuccessfulRequests) / float64(m.TotalRequests)
}

// Get returns a copy of the metrics for one model.
func (t *MetricsTracker) Get(model string) ModelMetrics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if m, ok := t.metrics[model]; ok {
		return *m
	}
	return ModelMetrics{}
}

// Snapshot returns a copy of all collected metrics.
func (t *MetricsTracker) Snapshot() map[string]ModelMetrics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]ModelMetrics, len(t.metrics))
	for name, m := range t.metrics {
		out[name] = *m
	}
	return out
}

// get returns the entry for model, creating it if needed. Caller holds the
// write lock.
func (t *MetricsTracker) get(model string) *ModelMetrics {
	m, ok := t.metrics[model]
	if !ok {
		m = &ModelMetrics{}
		t.metrics[model] = m
	}
	return m
}
