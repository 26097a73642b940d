package cloudmetrics

import (
	"strings"
	"sync"
)

// Recorder receives accounting events from the rest of the service. The
// package-level functions route to a noop until Register installs the
// live recorder, so callers never need a nil check.
type Recorder interface {
	RecordUsageUnit(outcome string)
	RecordRetentionPurge()
	RecordEngineError(operation string)
}

type recorder struct {
	metrics *metrics
}

type noopRecorder struct{}

func (noopRecorder) RecordUsageUnit(string)   {}
func (noopRecorder) RecordRetentionPurge()    {}
func (noopRecorder) RecordEngineError(string) {}

var (
	activeRecorder Recorder = noopRecorder{}
	recorderMu     sync.RWMutex
)

func setRecorder(rec Recorder) {
	if rec == nil {
		return
	}
	recorderMu.Lock()
	activeRecorder = rec
	recorderMu.Unlock()
}

func RecordUsageUnit(outcome string) {
	recorderMu.RLock()
	rec := activeRecorder
	recorderMu.RUnlock()
	rec.RecordUsageUnit(outcome)
}

func RecordRetentionPurge() {
	recorderMu.RLock()
	rec := activeRecorder
	recorderMu.RUnlock()
	rec.RecordRetentionPurge()
}

func RecordEngineError(operation string) {
	recorderMu.RLock()
	rec := activeRecorder
	recorderMu.RUnlock()
	rec.RecordEngineError(operation)
}

func (r *recorder) RecordUsageUnit(outcome string) {
	if r == nil || r.metrics == nil {
		return
	}
	r.metrics.usageUnits.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (r *recorder) RecordRetentionPurge() {
	if r == nil || r.metrics == nil {
		return
	}
	r.metrics.retentionPurges.Inc()
}

func (r *recorder) RecordEngineError(operation string) {
	if r == nil || r.metrics == nil {
		return
	}
	r.metrics.engineErrors.WithLabelValues(normalizeLabel(operation)).Inc()
}

func normalizeLabel(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	return value
}
