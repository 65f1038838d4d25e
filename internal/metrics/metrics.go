// Package metrics provides Prometheus metrics instrumentation for meshsim.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector provides metrics recording interface.
// This allows components to record metrics without direct prometheus dependency.
type Collector interface {
	// Route reconciliation metrics
	RecordReconcileDuration(ctx context.Context, status string, duration time.Duration)
	RecordReconciledRoutes(ctx context.Context, outcome string, count int)
	RecordReconcileError(ctx context.Context, errorType string)

	// Certificate lifecycle metrics
	RecordCertEnsureDuration(ctx context.Context, outcome string, duration time.Duration)
	RecordCertOutcome(ctx context.Context, outcome string)
	RecordIssuerWaitDuration(ctx context.Context, resource string, duration time.Duration)

	// Helm metrics
	RecordHelmOperation(ctx context.Context, operation, status string, duration time.Duration)
	RecordHelmError(ctx context.Context, operation, errorType string)
	RecordHelmChartInfo(ctx context.Context, chart, version, appVersion string)
}

// prometheusCollector implements Collector using Prometheus metrics.
type prometheusCollector struct {
	// Route reconciliation metrics
	reconcileDuration    *prometheus.HistogramVec
	reconciledRoutes     *prometheus.GaugeVec
	reconcileErrorsTotal *prometheus.CounterVec

	// Certificate lifecycle metrics
	certEnsureDuration *prometheus.HistogramVec
	certOutcomesTotal  *prometheus.CounterVec
	issuerWaitDuration *prometheus.HistogramVec

	// Helm metrics
	helmDuration    *prometheus.HistogramVec
	helmOpsTotal    *prometheus.CounterVec
	helmErrorsTotal *prometheus.CounterVec
	helmChartInfo   *prometheus.GaugeVec
}

// NewCollector creates a new Prometheus metrics collector and registers metrics.
func NewCollector(reg prometheus.Registerer) Collector {
	c := &prometheusCollector{}
	c.initReconcileMetrics()
	c.initCertMetrics()
	c.initHelmMetrics()
	c.register(reg)

	return c
}

// RecordReconcileDuration records the duration of a route reconciliation pass.
func (c *prometheusCollector) RecordReconcileDuration(
	_ context.Context,
	status string,
	duration time.Duration,
) {
	c.reconcileDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordReconciledRoutes records per-outcome route counts from the last pass.
func (c *prometheusCollector) RecordReconciledRoutes(_ context.Context, outcome string, count int) {
	c.reconciledRoutes.WithLabelValues(outcome).Set(float64(count))
}

// RecordReconcileError records a reconciliation error by type.
func (c *prometheusCollector) RecordReconcileError(_ context.Context, errorType string) {
	c.reconcileErrorsTotal.WithLabelValues(errorType).Inc()
}

// RecordCertEnsureDuration records the duration of a certificate ensure run.
func (c *prometheusCollector) RecordCertEnsureDuration(
	_ context.Context,
	outcome string,
	duration time.Duration,
) {
	c.certEnsureDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordCertOutcome records the outcome of a certificate ensure run.
func (c *prometheusCollector) RecordCertOutcome(_ context.Context, outcome string) {
	c.certOutcomesTotal.WithLabelValues(outcome).Inc()
}

// RecordIssuerWaitDuration records how long a readiness poll blocked.
func (c *prometheusCollector) RecordIssuerWaitDuration(
	_ context.Context,
	resource string,
	duration time.Duration,
) {
	c.issuerWaitDuration.WithLabelValues(resource).Observe(duration.Seconds())
}

// RecordHelmOperation records a Helm operation.
func (c *prometheusCollector) RecordHelmOperation(
	_ context.Context,
	operation, status string,
	duration time.Duration,
) {
	c.helmDuration.WithLabelValues(operation).Observe(duration.Seconds())
	c.helmOpsTotal.WithLabelValues(operation, status).Inc()
}

// RecordHelmError records a Helm error.
func (c *prometheusCollector) RecordHelmError(_ context.Context, operation, errorType string) {
	c.helmErrorsTotal.WithLabelValues(operation, errorType).Inc()
}

// RecordHelmChartInfo records the deployed Helm chart version info.
func (c *prometheusCollector) RecordHelmChartInfo(_ context.Context, chart, version, appVersion string) {
	c.helmChartInfo.WithLabelValues(chart, version, appVersion).Set(1)
}

func (c *prometheusCollector) initReconcileMetrics() {
	c.reconcileDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "meshsim_reconcile_duration_seconds",
			Help:    "Duration of route reconciliation passes",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"status"},
	)
	c.reconciledRoutes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "meshsim_reconciled_routes",
			Help: "Routes from the last reconciliation pass by outcome",
		},
		[]string{"outcome"},
	)
	c.reconcileErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meshsim_reconcile_errors_total",
			Help: "Total reconciliation errors by type",
		},
		[]string{"error_type"},
	)
}

func (c *prometheusCollector) initCertMetrics() {
	c.certEnsureDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "meshsim_cert_ensure_duration_seconds",
			Help:    "Duration of certificate ensure runs",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 180, 600},
		},
		[]string{"outcome"},
	)
	c.certOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meshsim_cert_outcomes_total",
			Help: "Certificate ensure outcomes",
		},
		[]string{"outcome"},
	)
	c.issuerWaitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "meshsim_issuer_wait_duration_seconds",
			Help:    "Time spent waiting on issuer and certificate readiness",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"resource"},
	)
}

func (c *prometheusCollector) initHelmMetrics() {
	c.helmDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "meshsim_helm_operation_duration_seconds",
			Help:    "Duration of Helm operations",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"operation"},
	)
	c.helmOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meshsim_helm_operations_total",
			Help: "Total Helm operations",
		},
		[]string{"operation", "status"},
	)
	c.helmErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meshsim_helm_errors_total",
			Help: "Total Helm errors by type",
		},
		[]string{"operation", "error_type"},
	)
	c.helmChartInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "meshsim_helm_chart_info",
			Help: "Deployed Helm chart version info (always 1)",
		},
		[]string{"chart", "version", "app_version"},
	)
}

func (c *prometheusCollector) register(reg prometheus.Registerer) {
	reg.MustRegister(
		c.reconcileDuration,
		c.reconciledRoutes,
		c.reconcileErrorsTotal,
		c.certEnsureDuration,
		c.certOutcomesTotal,
		c.issuerWaitDuration,
		c.helmDuration,
		c.helmOpsTotal,
		c.helmErrorsTotal,
		c.helmChartInfo,
	)
}

// NoopCollector is a no-op implementation of Collector for testing.
type NoopCollector struct{}

// NewNoopCollector creates a new no-op collector.
func NewNoopCollector() *NoopCollector {
	return &NoopCollector{}
}

// RecordReconcileDuration is a no-op.
func (c *NoopCollector) RecordReconcileDuration(_ context.Context, _ string, _ time.Duration) {}

// RecordReconciledRoutes is a no-op.
func (c *NoopCollector) RecordReconciledRoutes(_ context.Context, _ string, _ int) {}

// RecordReconcileError is a no-op.
func (c *NoopCollector) RecordReconcileError(_ context.Context, _ string) {}

// RecordCertEnsureDuration is a no-op.
func (c *NoopCollector) RecordCertEnsureDuration(_ context.Context, _ string, _ time.Duration) {}

// RecordCertOutcome is a no-op.
func (c *NoopCollector) RecordCertOutcome(_ context.Context, _ string) {}

// RecordIssuerWaitDuration is a no-op.
func (c *NoopCollector) RecordIssuerWaitDuration(_ context.Context, _ string, _ time.Duration) {}

// RecordHelmOperation is a no-op.
func (c *NoopCollector) RecordHelmOperation(_ context.Context, _, _ string, _ time.Duration) {}

// RecordHelmError is a no-op.
func (c *NoopCollector) RecordHelmError(_ context.Context, _, _ string) {}

// RecordHelmChartInfo is a no-op.
func (c *NoopCollector) RecordHelmChartInfo(_ context.Context, _, _, _ string) {}
