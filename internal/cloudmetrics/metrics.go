package cloudmetrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type kpiMetrics struct {
	splitCalculations *prometheus.CounterVec
	cyclesClosed      *prometheus.CounterVec
	chargesCreated    *prometheus.CounterVec
	engineErrors      *prometheus.CounterVec
	activeConfigs     prometheus.Gauge
}

func newKPIMetrics(registry *prometheus.Registry) *kpiMetrics {
	kpis := &kpiMetrics{
		splitCalculations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rentfolio_cloud_split_calculations_total",
			Help: "Split calculations performed, by scope and charge type.",
		}, []string{"scope", "charge_type"}),
		cyclesClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rentfolio_cloud_cycles_closed_total",
			Help: "Billing cycles closed, by scope.",
		}, []string{"scope"}),
		chargesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rentfolio_cloud_charges_created_total",
			Help: "Charges created from closed cycles, by scope and charge type.",
		}, []string{"scope", "charge_type"}),
		engineErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rentfolio_cloud_engine_errors_total",
			Help: "Engine errors surfaced to operators, by scope and operation.",
		}, []string{"scope", "operation"}),
		activeConfigs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rentfolio_cloud_active_configs",
			Help: "Currently ACTIVE split configurations across all scopes.",
		}),
	}

	registry.MustRegister(
		kpis.splitCalculations,
		kpis.cyclesClosed,
		kpis.chargesCreated,
		kpis.engineErrors,
		kpis.activeConfigs,
	)
	return kpis
}

// CloudMetrics owns the accounting registry pushed to the operator plane.
type CloudMetrics struct {
	registry *prometheus.Registry
	pusher   Pusher
	logger   *zap.Logger

	buildInfo   prometheus.Gauge
	memoryUsage prometheus.Gauge
}

// New wires the KPI registry. A nil registry allocates a private one so
// accounting series never leak onto the public /metrics endpoint.
func New(registry *prometheus.Registry, pusher Pusher, instanceID, version string, logger *zap.Logger) *CloudMetrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	buildInfo := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rentfolio_cloud_instance_info",
		Help: "Instance identity for cloud accounting.",
		ConstLabels: prometheus.Labels{
			"instance_id": normalizeLabel(instanceID),
			"version":     normalizeLabel(version),
		},
	})
	buildInfo.Set(1)
	memoryUsage := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rentfolio_cloud_memory_bytes",
		Help: "Process memory obtained from the OS.",
	})

	registry.MustRegister(buildInfo, memoryUsage)

	return &CloudMetrics{
		registry:    registry,
		pusher:      pusher,
		logger:      logger,
		buildInfo:   buildInfo,
		memoryUsage: memoryUsage,
	}
}

// Registry exposes the accounting registry for recorder wiring.
func (c *CloudMetrics) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// SetMemoryUsage records process memory in bytes.
func (c *CloudMetrics) SetMemoryUsage(bytes uint64) {
	if c == nil || c.memoryUsage == nil {
		return
	}
	c.memoryUsage.Set(float64(bytes))
}

// Push sends the accounting registry through the configured pusher.
func (c *CloudMetrics) Push(ctx context.Context) error {
	if c == nil || c.pusher == nil {
		return nil
	}
	return c.pusher.Push(ctx, c.registry)
}
