package routes

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
	istioclientv1beta1 "istio.io/client-go/pkg/apis/networking/v1beta1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/meshsim/meshsim/internal/metrics"
)

const defaultWorkers = 4

// Reconciler makes the mesh routing state match the intent declared on
// labeled Services. Every pass re-reads live state; nothing is cached
// between runs.
type Reconciler struct {
	client  client.Client
	metrics metrics.Collector
	logger  *slog.Logger
	workers int
}

// NewReconciler creates a route Reconciler. workers bounds concurrent
// upserts; values below one fall back to a small default.
func NewReconciler(c client.Client, metricsCollector metrics.Collector, logger *slog.Logger, workers int) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}

	if workers < 1 {
		workers = defaultWorkers
	}

	return &Reconciler{
		client:  c,
		metrics: metricsCollector,
		logger:  logger.With("component", "route-reconciler"),
		workers: workers,
	}
}

// Reconcile scans all routing-enabled Services and upserts one
// VirtualService per Service. Per-Service failures are isolated and
// reported; the pass itself only fails when the cluster cannot be
// listed at all.
//
// Services in different namespaces may resolve to the same external
// hostname. They are deliberately not deduplicated: both upserts
// proceed and the routing layer sees last-write-wins. Operators who
// need uniqueness enforce it via host labels.
func (r *Reconciler) Reconcile(ctx context.Context, baseDomain, gatewayRef string) (*Report, error) {
	start := time.Now()

	report, err := r.reconcile(ctx, baseDomain, gatewayRef)
	if err != nil {
		r.metrics.RecordReconcileDuration(ctx, "error", time.Since(start))

		return nil, err
	}

	status := "success"
	if report.HasFailures() {
		status = "partial"
	}

	r.metrics.RecordReconcileDuration(ctx, status, time.Since(start))
	r.metrics.RecordReconciledRoutes(ctx, "applied", len(report.Applied))
	r.metrics.RecordReconciledRoutes(ctx, "skipped", len(report.Skipped))
	r.metrics.RecordReconciledRoutes(ctx, "failed", len(report.Failed))

	r.logger.Info("reconciliation pass complete",
		"run_id", report.RunID,
		"applied", len(report.Applied),
		"skipped", len(report.Skipped),
		"failed", len(report.Failed),
		"duration", time.Since(start),
	)

	return report, nil
}

func (r *Reconciler) reconcile(ctx context.Context, baseDomain, gatewayRef string) (*Report, error) {
	regions, err := r.namespaceRegions(ctx)
	if err != nil {
		return nil, err
	}

	services := &corev1.ServiceList{}

	err = r.client.List(ctx, services, client.MatchingLabels{LabelRoutingEnabled: "true"})
	if err != nil {
		r.metrics.RecordReconcileError(ctx, metrics.ClassifyKubeError(err))

		return nil, errors.Wrap(err, "failed to list routing-enabled services")
	}

	report := NewReport()
	if len(services.Items) == 0 {
		return report, nil
	}

	var mu sync.Mutex

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(r.workers)

	for i := range services.Items {
		svc := &services.Items[i]

		group.Go(func() error {
			outcome := r.reconcileService(groupCtx, svc, regions[svc.Namespace], baseDomain, gatewayRef)

			mu.Lock()
			defer mu.Unlock()

			switch o := outcome.(type) {
			case AppliedRoute:
				report.Applied = append(report.Applied, o)
			case SkippedRoute:
				report.Skipped = append(report.Skipped, o)
			case FailedRoute:
				report.Failed = append(report.Failed, o)
			}

			// Failures are recorded, never propagated: one bad
			// Service must not abort the others.
			return nil
		})
	}

	_ = group.Wait()

	sortReport(report)

	return report, nil
}

// reconcileService handles a single Service and returns one of
// AppliedRoute, SkippedRoute, or FailedRoute.
func (r *Reconciler) reconcileService(
	ctx context.Context,
	svc *corev1.Service,
	region, baseDomain, gatewayRef string,
) any {
	key := types.NamespacedName{Namespace: svc.Namespace, Name: svc.Name}

	if region == "" {
		r.logger.Warn("skipping service: namespace has no region label",
			"service", key.String())

		return SkippedRoute{Resource: key, Reason: ReasonNoRegion}
	}

	port, reason := ResolvePort(svc)
	if reason != "" {
		r.logger.Warn("skipping service", "service", key.String(), "reason", reason)

		return SkippedRoute{Resource: key, Reason: reason}
	}

	hostname := Hostname(region, ResolveHost(svc), baseDomain)
	desired := BuildVirtualService(svc, hostname, port, gatewayRef)

	if err := r.upsert(ctx, desired); err != nil {
		r.metrics.RecordReconcileError(ctx, metrics.ClassifyKubeError(err))
		r.logger.Error("failed to upsert route", "service", key.String(), "error", err)

		return FailedRoute{Resource: key, Err: err}
	}

	r.logger.Debug("route applied",
		"service", key.String(),
		"rule", desired.Name,
		"hostname", hostname,
		"port", port,
	)

	return AppliedRoute{
		Resource: key,
		RuleName: desired.Name,
		Hostname: hostname,
		Port:     port,
	}
}

func (r *Reconciler) upsert(ctx context.Context, desired *istioclientv1beta1.VirtualService) error {
	existing := &istioclientv1beta1.VirtualService{}

	err := r.client.Get(ctx, client.ObjectKeyFromObject(desired), existing)
	if apierrors.IsNotFound(err) {
		if createErr := r.client.Create(ctx, desired); createErr != nil {
			return errors.Wrapf(createErr, "failed to create VirtualService %s/%s",
				desired.Namespace, desired.Name)
		}

		return nil
	}

	if err != nil {
		return errors.Wrapf(err, "failed to get VirtualService %s/%s", desired.Namespace, desired.Name)
	}

	if !virtualServiceNeedsUpdate(existing, desired) {
		return nil
	}

	patch := client.MergeFrom(existing.DeepCopy())
	desired.Spec.DeepCopyInto(&existing.Spec)

	if existing.Labels == nil {
		existing.Labels = map[string]string{}
	}

	existing.Labels[ManagedByLabel] = ManagedByValue

	if err := r.client.Patch(ctx, existing, patch); err != nil {
		return errors.Wrapf(err, "failed to patch VirtualService %s/%s", desired.Namespace, desired.Name)
	}

	return nil
}

// namespaceRegions maps namespace names to region codes. Namespaces
// without the region label are absent from the map.
func (r *Reconciler) namespaceRegions(ctx context.Context) (map[string]string, error) {
	namespaces := &corev1.NamespaceList{}

	err := r.client.List(ctx, namespaces)
	if err != nil {
		r.metrics.RecordReconcileError(ctx, metrics.ClassifyKubeError(err))

		return nil, errors.Wrap(err, "failed to list namespaces")
	}

	regions := make(map[string]string, len(namespaces.Items))

	for i := range namespaces.Items {
		ns := &namespaces.Items[i]
		if region, ok := ns.Labels[LabelRegion]; ok && region != "" {
			regions[ns.Name] = region
		}
	}

	return regions, nil
}

// sortReport orders report entries by namespace/name so output is
// stable regardless of worker scheduling.
func sortReport(report *Report) {
	sort.Slice(report.Applied, func(i, j int) bool {
		return report.Applied[i].Resource.String() < report.Applied[j].Resource.String()
	})
	sort.Slice(report.Skipped, func(i, j int) bool {
		return report.Skipped[i].Resource.String() < report.Skipped[j].Resource.String()
	})
	sort.Slice(report.Failed, func(i, j int) bool {
		return report.Failed[i].Resource.String() < report.Failed[j].Resource.String()
	})
}
