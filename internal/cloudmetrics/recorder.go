package cloudmetrics

import (
	"strings"
	"sync"
)

type Recorder interface {
	RecordSplitCalculation(scope, chargeType string)
	RecordCycleClosed(scope string)
	RecordChargeCreated(scope, chargeType string)
	RecordEngineError(scope, operation string)
	UpdateActiveConfigs(count int)
}

type recorder struct {
	kpis         *kpiMetrics
	defaultScope string
}

type noopRecorder struct{}

func (noopRecorder) RecordSplitCalculation(string, string) {}
func (noopRecorder) RecordCycleClosed(string)              {}
func (noopRecorder) RecordChargeCreated(string, string)    {}
func (noopRecorder) RecordEngineError(string, string)      {}
func (noopRecorder) UpdateActiveConfigs(int)               {}

var (
	activeRecorder Recorder = noopRecorder{}
	recorderMu     sync.RWMutex
)

// ReplaceRecorder swaps the process-wide recorder and returns a
// function to restore the previous one.
func ReplaceRecorder(rec Recorder) func() {
	if rec == nil {
		rec = noopRecorder{}
	}
	recorderMu.Lock()
	prev := activeRecorder
	activeRecorder = rec
	recorderMu.Unlock()
	return func() {
		recorderMu.Lock()
		activeRecorder = prev
		recorderMu.Unlock()
	}
}

func RecordSplitCalculation(scope, chargeType string) {
	recorderMu.RLock()
	rec := activeRecorder
	recorderMu.RUnlock()
	rec.RecordSplitCalculation(scope, chargeType)
}

func RecordCycleClosed(scope string) {
	recorderMu.RLock()
	rec := activeRecorder
	recorderMu.RUnlock()
	rec.RecordCycleClosed(scope)
}

func RecordChargeCreated(scope, chargeType string) {
	recorderMu.RLock()
	rec := activeRecorder
	recorderMu.RUnlock()
	rec.RecordChargeCreated(scope, chargeType)
}

func RecordEngineError(scope, operation string) {
	recorderMu.RLock()
	rec := activeRecorder
	recorderMu.RUnlock()
	rec.RecordEngineError(scope, operation)
}

func UpdateActiveConfigs(count int) {
	recorderMu.RLock()
	rec := activeRecorder
	recorderMu.RUnlock()
	rec.UpdateActiveConfigs(count)
}

func (r *recorder) RecordSplitCalculation(scope, chargeType string) {
	if r == nil || r.kpis == nil {
		return
	}
	r.kpis.splitCalculations.WithLabelValues(r.normalizeScope(scope), normalizeLabel(chargeType)).Inc()
}

func (r *recorder) RecordCycleClosed(scope string) {
	if r == nil || r.kpis == nil {
		return
	}
	r.kpis.cyclesClosed.WithLabelValues(r.normalizeScope(scope)).Inc()
}

func (r *recorder) RecordChargeCreated(scope, chargeType string) {
	if r == nil || r.kpis == nil {
		return
	}
	r.kpis.chargesCreated.WithLabelValues(r.normalizeScope(scope), normalizeLabel(chargeType)).Inc()
}

func (r *recorder) RecordEngineError(scope, operation string) {
	if r == nil || r.kpis == nil {
		return
	}
	r.kpis.engineErrors.WithLabelValues(r.normalizeScope(scope), normalizeLabel(operation)).Inc()
}

func (r *recorder) UpdateActiveConfigs(count int) {
	if r == nil || r.kpis == nil {
		return
	}
	if count < 0 {
		count = 0
	}
	r.kpis.activeConfigs.Set(float64(count))
}

func (r *recorder) normalizeScope(scope string) string {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		scope = strings.TrimSpace(r.defaultScope)
	}
	if scope == "" {
		return "unknown"
	}
	return scope
}

func normalizeLabel(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	return value
}
