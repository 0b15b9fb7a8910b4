package monitoring

import (
	"time"

	"github.com/GriffinCanCode/addonhost/backend/internal/domain/pipeline"
)

// The methods below let Metrics observe the runtime registry, the install
// pipeline and the store client.

// AddonLoaded records a successful load
func (m *Metrics) AddonLoaded(_ string, took time.Duration) {
	m.AddonsLoaded.Inc()
	m.LoadDuration.Observe(took.Seconds())
	m.mu.Lock()
	m.snapshot.LoadedAddons++
	m.mu.Unlock()
}

// AddonLoadFailed records a failed load
func (m *Metrics) AddonLoadFailed(string) {
	m.LoadFailures.Inc()
}

// AddonUnloaded records an unload
func (m *Metrics) AddonUnloaded(string) {
	m.AddonsLoaded.Dec()
	m.mu.Lock()
	m.snapshot.LoadedAddons--
	m.mu.Unlock()
}

// AttemptFinished records the outcome of an install attempt
func (m *Metrics) AttemptFinished(outcome pipeline.Outcome) {
	m.InstallAttempts.WithLabelValues(string(outcome)).Inc()
}

// StagedChanged records the number of staged packages
func (m *Metrics) StagedChanged(count int) {
	m.AddonsStaged.Set(float64(count))
	m.mu.Lock()
	m.snapshot.StagedAddons = int64(count)
	m.mu.Unlock()
}

// StoreRequest records one remote store request
func (m *Metrics) StoreRequest(op, status string, took time.Duration) {
	m.StoreRequests.WithLabelValues(op, status).Inc()
	m.StoreDuration.WithLabelValues(op).Observe(took.Seconds())
}
