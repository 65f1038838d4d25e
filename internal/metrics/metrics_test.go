package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorInterface(t *testing.T) {
	t.Parallel()

	// Verify that prometheusCollector implements Collector interface
	var _ Collector = (*prometheusCollector)(nil)
	var _ Collector = (*NoopCollector)(nil)
}

func TestNewCollector(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	collector := NewCollector(reg)

	require.NotNil(t, collector)
	assert.IsType(t, &prometheusCollector{}, collector)
}

func TestNoopCollector(t *testing.T) {
	t.Parallel()

	collector := NewNoopCollector()
	require.NotNil(t, collector)

	ctx := context.Background()

	// All methods should not panic
	assert.NotPanics(t, func() {
		collector.RecordReconcileDuration(ctx, "success", time.Second)
		collector.RecordReconciledRoutes(ctx, "applied", 5)
		collector.RecordReconcileError(ctx, "timeout")
		collector.RecordCertEnsureDuration(ctx, "issued", time.Minute)
		collector.RecordCertOutcome(ctx, "reused")
		collector.RecordIssuerWaitDuration(ctx, "certificate", time.Second*30)
		collector.RecordHelmOperation(ctx, "install", "success", time.Second)
		collector.RecordHelmError(ctx, "install", "timeout")
		collector.RecordHelmChartInfo(ctx, "cert-manager", "v1.16.2", "v1.16.2")
	})
}

func TestMetricsRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	collector := NewCollector(reg).(*prometheusCollector)
	ctx := context.Background()

	// Trigger all metrics to be collected at least once
	collector.RecordReconcileDuration(ctx, "success", time.Second)
	collector.RecordReconciledRoutes(ctx, "applied", 1)
	collector.RecordReconcileError(ctx, "test")
	collector.RecordCertEnsureDuration(ctx, "issued", time.Second)
	collector.RecordCertOutcome(ctx, "issued")
	collector.RecordIssuerWaitDuration(ctx, "issuer", time.Second)
	collector.RecordHelmOperation(ctx, "install", "success", time.Second)
	collector.RecordHelmError(ctx, "install", "test")
	collector.RecordHelmChartInfo(ctx, "test", "1.0.0", "1.0.0")

	// Verify metrics are registered
	metricFamilies, err := reg.Gather()
	require.NoError(t, err)

	expectedMetrics := []string{
		"meshsim_reconcile_duration_seconds",
		"meshsim_reconciled_routes",
		"meshsim_reconcile_errors_total",
		"meshsim_cert_ensure_duration_seconds",
		"meshsim_cert_outcomes_total",
		"meshsim_issuer_wait_duration_seconds",
		"meshsim_helm_operation_duration_seconds",
		"meshsim_helm_operations_total",
		"meshsim_helm_errors_total",
		"meshsim_helm_chart_info",
	}

	registeredMetrics := make(map[string]bool)
	for _, mf := range metricFamilies {
		registeredMetrics[mf.GetName()] = true
	}

	for _, expected := range expectedMetrics {
		assert.True(t, registeredMetrics[expected], "metric %s should be registered", expected)
	}
}

func TestRecordReconcileDuration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	collector := NewCollector(reg).(*prometheusCollector)
	ctx := context.Background()

	collector.RecordReconcileDuration(ctx, "success", time.Second)

	// Check that histogram was observed
	count := testutil.CollectAndCount(collector.reconcileDuration)
	assert.Equal(t, 1, count)
}

func TestRecordReconciledRoutes(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	collector := NewCollector(reg).(*prometheusCollector)
	ctx := context.Background()

	collector.RecordReconciledRoutes(ctx, "applied", 5)
	collector.RecordReconciledRoutes(ctx, "skipped", 3)
	collector.RecordReconciledRoutes(ctx, "failed", 1)

	appliedCount := testutil.ToFloat64(collector.reconciledRoutes.WithLabelValues("applied"))
	skippedCount := testutil.ToFloat64(collector.reconciledRoutes.WithLabelValues("skipped"))
	failedCount := testutil.ToFloat64(collector.reconciledRoutes.WithLabelValues("failed"))

	assert.Equal(t, float64(5), appliedCount)
	assert.Equal(t, float64(3), skippedCount)
	assert.Equal(t, float64(1), failedCount)
}

func TestRecordReconcileError(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	collector := NewCollector(reg).(*prometheusCollector)
	ctx := context.Background()

	collector.RecordReconcileError(ctx, "timeout")
	collector.RecordReconcileError(ctx, "timeout")
	collector.RecordReconcileError(ctx, "network")

	timeoutCount := testutil.ToFloat64(collector.reconcileErrorsTotal.WithLabelValues("timeout"))
	networkCount := testutil.ToFloat64(collector.reconcileErrorsTotal.WithLabelValues("network"))

	assert.Equal(t, float64(2), timeoutCount)
	assert.Equal(t, float64(1), networkCount)
}

func TestRecordCertEnsureDuration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	collector := NewCollector(reg).(*prometheusCollector)
	ctx := context.Background()

	collector.RecordCertEnsureDuration(ctx, "issued", time.Minute)

	count := testutil.CollectAndCount(collector.certEnsureDuration)
	assert.Equal(t, 1, count)
}

func TestRecordCertOutcome(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	collector := NewCollector(reg).(*prometheusCollector)
	ctx := context.Background()

	collector.RecordCertOutcome(ctx, "reused")
	collector.RecordCertOutcome(ctx, "reused")
	collector.RecordCertOutcome(ctx, "issued")

	reusedCount := testutil.ToFloat64(collector.certOutcomesTotal.WithLabelValues("reused"))
	issuedCount := testutil.ToFloat64(collector.certOutcomesTotal.WithLabelValues("issued"))

	assert.Equal(t, float64(2), reusedCount)
	assert.Equal(t, float64(1), issuedCount)
}

func TestRecordIssuerWaitDuration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	collector := NewCollector(reg).(*prometheusCollector)
	ctx := context.Background()

	collector.RecordIssuerWaitDuration(ctx, "issuer", time.Second*10)
	collector.RecordIssuerWaitDuration(ctx, "certificate", time.Minute)

	count := testutil.CollectAndCount(collector.issuerWaitDuration)
	assert.Equal(t, 2, count)
}

func TestRecordHelmOperation(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	collector := NewCollector(reg).(*prometheusCollector)
	ctx := context.Background()

	collector.RecordHelmOperation(ctx, "install", "success", time.Second)

	// Check histogram and counter
	durationCount := testutil.CollectAndCount(collector.helmDuration)
	opsCount := testutil.ToFloat64(collector.helmOpsTotal.WithLabelValues("install", "success"))

	assert.Equal(t, 1, durationCount)
	assert.Equal(t, float64(1), opsCount)
}

func TestRecordHelmError(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	collector := NewCollector(reg).(*prometheusCollector)
	ctx := context.Background()

	collector.RecordHelmError(ctx, "install", "timeout")

	count := testutil.ToFloat64(collector.helmErrorsTotal.WithLabelValues("install", "timeout"))
	assert.Equal(t, float64(1), count)
}

func TestRecordHelmChartInfo(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	collector := NewCollector(reg).(*prometheusCollector)
	ctx := context.Background()

	collector.RecordHelmChartInfo(ctx, "cert-manager", "v1.16.2", "v1.16.2")

	count := testutil.ToFloat64(collector.helmChartInfo.WithLabelValues("cert-manager", "v1.16.2", "v1.16.2"))
	assert.Equal(t, float64(1), count)
}
