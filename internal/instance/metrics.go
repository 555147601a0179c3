package instance

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("github.com/devghori1264/aerophoenix/vkd/internal/instance")

var (
	lifecycleOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vkd_lifecycle_operations_total",
		Help: "Lifecycle operations by kind and outcome.",
	}, []string{"op", "result"})
	reconcileTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vkd_reconcile_ticks_total",
		Help: "Reconciliation sweeps by outcome.",
	}, []string{"result"})
	reconcileSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vkd_reconcile_skipped_total",
		Help: "Instances skipped because their container field stayed locked.",
	})
	reconcileCorrections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vkd_reconcile_corrections_total",
		Help: "Status corrections applied by reconciliation.",
	}, []string{"kind"})
	instancesGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vkd_instances",
		Help: "Instances currently in the registry.",
	})
)
