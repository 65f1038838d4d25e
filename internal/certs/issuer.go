package certs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/wait"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/meshsim/meshsim/internal/metrics"
)

// Tier selects the ACME endpoint.
type Tier string

// ACME tiers. Staging is used everywhere except production
// environments to stay clear of rate limits.
const (
	TierStaging    Tier = "staging"
	TierProduction Tier = "production"
)

// ACME directory endpoints.
const (
	ACMEStagingURL    = "https://acme-staging-v02.api.letsencrypt.org/directory"
	ACMEProductionURL = "https://acme-v02.api.letsencrypt.org/directory"
)

// Readiness polling policy. The waits are cancellable through the
// context; the timeouts are hard fatal limits.
const (
	IssuerReadyTimeout      = 120 * time.Second
	CertificateReadyTimeout = 600 * time.Second

	pollInterval     = 5 * time.Second
	progressInterval = 30 * time.Second
)

var (
	clusterIssuerGVK = schema.GroupVersionKind{
		Group:   "cert-manager.io",
		Version: "v1",
		Kind:    "ClusterIssuer",
	}
	certificateGVK = schema.GroupVersionKind{
		Group:   "cert-manager.io",
		Version: "v1",
		Kind:    "Certificate",
	}
)

// IssuerBackend is the ACME-capable issuing path. A nil backend means
// only self-signed issuance is possible.
type IssuerBackend interface {
	// Healthy verifies the backend's external dependencies are
	// reachable with the given credentials.
	Healthy(ctx context.Context, creds CloudflareCredentials) error

	// ApplyIssuer upserts the issuer for the tier and returns its name.
	ApplyIssuer(ctx context.Context, tier Tier, creds CloudflareCredentials) (string, error)

	// WaitIssuerReady blocks until the issuer reports ready or the
	// timeout elapses.
	WaitIssuerReady(ctx context.Context, issuerName string, timeout time.Duration) error

	// SubmitCertificate upserts a Certificate request for *.<domain>
	// and <domain> bound to secretName.
	SubmitCertificate(ctx context.Context, domain, namespace, secretName, issuerName string) (string, error)

	// WaitCertificateReady blocks until the certificate reports ready
	// or the timeout elapses, reporting progress periodically.
	WaitCertificateReady(ctx context.Context, namespace, certName string, timeout time.Duration) error
}

// IssuerName returns the ClusterIssuer name for a tier.
func IssuerName(tier Tier) string {
	if tier == TierProduction {
		return "letsencrypt-prod"
	}

	return "letsencrypt-staging"
}

// CertificateName derives the Certificate resource name from the domain.
func CertificateName(domain string) string {
	return strings.ReplaceAll(domain, ".", "-") + "-wildcard-cert"
}

// acmeBackend drives cert-manager resources over the Kubernetes API.
// cert-manager types are handled as unstructured objects so the tool
// does not pin a cert-manager client dependency.
type acmeBackend struct {
	client               client.Client
	certManagerNamespace string
	metrics              metrics.Collector
	logger               *slog.Logger
}

// NewACMEBackend creates the cert-manager backed issuing path.
func NewACMEBackend(
	c client.Client,
	certManagerNamespace string,
	collector metrics.Collector,
	logger *slog.Logger,
) IssuerBackend {
	if logger == nil {
		logger = slog.Default()
	}

	return &acmeBackend{
		client:               c,
		certManagerNamespace: certManagerNamespace,
		metrics:              collector,
		logger:               logger.With("component", "acme-backend"),
	}
}

func (b *acmeBackend) Healthy(ctx context.Context, creds CloudflareCredentials) error {
	return cloudflareHealthCheck(ctx, creds, b.metrics)
}

func (b *acmeBackend) ApplyIssuer(ctx context.Context, tier Tier, creds CloudflareCredentials) (string, error) {
	if err := ensureSolverSecret(ctx, b.client, b.certManagerNamespace, creds); err != nil {
		return "", err
	}

	name := IssuerName(tier)
	desired := buildClusterIssuer(name, tier, creds.Email)

	if err := b.upsertUnstructured(ctx, desired); err != nil {
		return "", errors.Mark(
			errors.Wrapf(err, "failed to apply ClusterIssuer %s", name),
			ErrIssuerUnavailable)
	}

	b.logger.Info("cluster issuer applied", "issuer", name, "tier", string(tier))

	return name, nil
}

func (b *acmeBackend) WaitIssuerReady(ctx context.Context, issuerName string, timeout time.Duration) error {
	start := time.Now()

	obj := &unstructured.Unstructured{}
	obj.SetGroupVersionKind(clusterIssuerGVK)

	err := wait.PollUntilContextTimeout(ctx, pollInterval, timeout, true,
		func(ctx context.Context) (bool, error) {
			getErr := b.client.Get(ctx, types.NamespacedName{Name: issuerName}, obj)
			if getErr != nil {
				if apierrors.IsNotFound(getErr) {
					return false, nil
				}

				return false, getErr
			}

			return conditionTrue(obj, "Ready"), nil
		})

	b.metrics.RecordIssuerWaitDuration(ctx, "issuer", time.Since(start))

	if err != nil {
		// A poll aborted by an API failure is an availability problem,
		// not a readiness timeout.
		if !wait.Interrupted(err) {
			return errors.Mark(
				errors.Wrapf(err, "failed to check ClusterIssuer %s", issuerName),
				ErrIssuerUnavailable)
		}

		return errors.Wrapf(ErrIssuerNotReady, "ClusterIssuer %s after %s: %s",
			issuerName, timeout, describeConditions(obj))
	}

	b.logger.Info("cluster issuer ready", "issuer", issuerName, "elapsed", time.Since(start))

	return nil
}

func (b *acmeBackend) SubmitCertificate(
	ctx context.Context,
	domain, namespace, secretName, issuerName string,
) (string, error) {
	name := CertificateName(domain)
	desired := buildCertificate(name, namespace, domain, secretName, issuerName)

	if err := b.upsertUnstructured(ctx, desired); err != nil {
		return "", errors.Wrapf(err, "failed to apply Certificate %s/%s", namespace, name)
	}

	b.logger.Info("certificate requested",
		"certificate", name,
		"domain", domain,
		"issuer", issuerName,
	)

	return name, nil
}

func (b *acmeBackend) WaitCertificateReady(
	ctx context.Context,
	namespace, certName string,
	timeout time.Duration,
) error {
	start := time.Now()
	lastProgress := start

	obj := &unstructured.Unstructured{}
	obj.SetGroupVersionKind(certificateGVK)

	err := wait.PollUntilContextTimeout(ctx, pollInterval, timeout, true,
		func(ctx context.Context) (bool, error) {
			getErr := b.client.Get(ctx, types.NamespacedName{Name: certName, Namespace: namespace}, obj)
			if getErr != nil {
				if apierrors.IsNotFound(getErr) {
					return false, nil
				}

				return false, getErr
			}

			if conditionTrue(obj, "Ready") {
				return true, nil
			}

			if time.Since(lastProgress) >= progressInterval {
				lastProgress = time.Now()
				b.logger.Info("still waiting for certificate",
					"certificate", certName,
					"elapsed", time.Since(start).Round(time.Second),
					"conditions", describeConditions(obj),
					"events", b.recentEvents(ctx, namespace, certName),
				)
			}

			return false, nil
		})

	b.metrics.RecordIssuerWaitDuration(ctx, "certificate", time.Since(start))

	if err != nil {
		if !wait.Interrupted(err) {
			return errors.Mark(
				errors.Wrapf(err, "failed to check Certificate %s/%s", namespace, certName),
				ErrIssuerUnavailable)
		}

		// Surface the last observed state so the operator can act
		// without re-querying the cluster.
		return errors.Wrapf(ErrIssuanceTimeout, "Certificate %s/%s after %s: conditions: %s; events: %s",
			namespace, certName, timeout, describeConditions(obj), b.recentEvents(ctx, namespace, certName))
	}

	b.logger.Info("certificate ready", "certificate", certName, "elapsed", time.Since(start))

	return nil
}

func (b *acmeBackend) upsertUnstructured(ctx context.Context, desired *unstructured.Unstructured) error {
	existing := &unstructured.Unstructured{}
	existing.SetGroupVersionKind(desired.GroupVersionKind())

	err := b.client.Get(ctx, client.ObjectKeyFromObject(desired), existing)
	if apierrors.IsNotFound(err) {
		return b.client.Create(ctx, desired)
	}

	if err != nil {
		return err
	}

	patch := client.MergeFrom(existing.DeepCopy())
	existing.Object["spec"] = desired.Object["spec"]

	return b.client.Patch(ctx, existing, patch)
}

// recentEvents returns a compact summary of events for the named
// object, best-effort.
func (b *acmeBackend) recentEvents(ctx context.Context, namespace, name string) string {
	events := &corev1.EventList{}

	err := b.client.List(ctx, events,
		client.InNamespace(namespace),
		client.MatchingFields{"involvedObject.name": name})
	if err != nil || len(events.Items) == 0 {
		return "none observed"
	}

	parts := make([]string, 0, len(events.Items))
	for i := range events.Items {
		ev := &events.Items[i]
		parts = append(parts, fmt.Sprintf("%s: %s", ev.Reason, ev.Message))
	}

	return strings.Join(parts, "; ")
}

func buildClusterIssuer(name string, tier Tier, email string) *unstructured.Unstructured {
	server := ACMEStagingURL
	if tier == TierProduction {
		server = ACMEProductionURL
	}

	obj := &unstructured.Unstructured{
		Object: map[string]any{
			"metadata": map[string]any{
				"name": name,
			},
			"spec": map[string]any{
				"acme": map[string]any{
					"server": server,
					"email":  email,
					"privateKeySecretRef": map[string]any{
						"name": name + "-account-key",
					},
					"solvers": []any{
						map[string]any{
							"dns01": map[string]any{
								"cloudflare": map[string]any{
									"email": email,
									"apiTokenSecretRef": map[string]any{
										"name": SolverSecretName,
										"key":  SolverSecretKey,
									},
								},
							},
						},
					},
				},
			},
		},
	}
	obj.SetGroupVersionKind(clusterIssuerGVK)

	return obj
}

func buildCertificate(name, namespace, domain, secretName, issuerName string) *unstructured.Unstructured {
	obj := &unstructured.Unstructured{
		Object: map[string]any{
			"metadata": map[string]any{
				"name":      name,
				"namespace": namespace,
			},
			"spec": map[string]any{
				"secretName": secretName,
				"issuerRef": map[string]any{
					"name": issuerName,
					"kind": "ClusterIssuer",
				},
				"dnsNames": []any{
					"*." + domain,
					domain,
				},
			},
		},
	}
	obj.SetGroupVersionKind(certificateGVK)

	return obj
}

// conditionTrue reports whether the object has a status condition of
// the given type with status "True".
func conditionTrue(obj *unstructured.Unstructured, condType string) bool {
	conditions, found, err := unstructured.NestedSlice(obj.Object, "status", "conditions")
	if err != nil || !found {
		return false
	}

	for _, c := range conditions {
		cond, ok := c.(map[string]any)
		if !ok {
			continue
		}

		if cond["type"] == condType && cond["status"] == "True" {
			return true
		}
	}

	return false
}

func describeConditions(obj *unstructured.Unstructured) string {
	conditions, found, err := unstructured.NestedSlice(obj.Object, "status", "conditions")
	if err != nil || !found || len(conditions) == 0 {
		return "none observed"
	}

	parts := make([]string, 0, len(conditions))

	for _, c := range conditions {
		cond, ok := c.(map[string]any)
		if !ok {
			continue
		}

		parts = append(parts, fmt.Sprintf("%v=%v (%v: %v)",
			cond["type"], cond["status"], cond["reason"], cond["message"]))
	}

	return strings.Join(parts, "; ")
}
