package certs

import (
	"context"
	"time"

	"github.com/cloudflare/cloudflare-go/v6"
	"github.com/cloudflare/cloudflare-go/v6/option"
	"github.com/cloudflare/cloudflare-go/v6/zones"
	"github.com/cockroachdb/errors"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/meshsim/meshsim/internal/metrics"
)

// SolverSecretName is the Secret holding the Cloudflare API token for
// the DNS-01 solver, in the cert-manager namespace.
const SolverSecretName = "cloudflare-api-token-secret"

// SolverSecretKey is the data key the solver reads the token from.
const SolverSecretKey = "api-token"

// CloudflareCredentials are the inputs required for DNS-01 validation.
type CloudflareCredentials struct {
	Email    string
	APIToken string
	ZoneID   string
}

// Complete reports whether all required fields are present.
func (c CloudflareCredentials) Complete() bool {
	return c.Email != "" && c.APIToken != "" && c.ZoneID != ""
}

// cloudflareHealthCheck verifies the API token can read the configured
// zone. A single zone read exercises both token validity and zone
// access.
func cloudflareHealthCheck(ctx context.Context, creds CloudflareCredentials, collector metrics.Collector) error {
	cfClient := cloudflare.NewClient(option.WithAPIToken(creds.APIToken))

	start := time.Now()

	_, err := cfClient.Zones.Get(ctx, zones.ZoneGetParams{
		ZoneID: cloudflare.F(creds.ZoneID),
	})
	if err != nil {
		collector.RecordReconcileError(ctx, metrics.ClassifyCloudflareError(err))

		return errors.Wrapf(err, "cloudflare zone %s is not accessible", creds.ZoneID)
	}

	collector.RecordIssuerWaitDuration(ctx, "cloudflare_health", time.Since(start))

	return nil
}

// ensureSolverSecret upserts the DNS-01 solver token Secret in the
// cert-manager namespace.
func ensureSolverSecret(ctx context.Context, c client.Client, namespace string, creds CloudflareCredentials) error {
	desired := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      SolverSecretName,
			Namespace: namespace,
		},
		Type: corev1.SecretTypeOpaque,
		Data: map[string][]byte{
			SolverSecretKey: []byte(creds.APIToken),
		},
	}

	existing := &corev1.Secret{}

	err := c.Get(ctx, types.NamespacedName{Name: SolverSecretName, Namespace: namespace}, existing)
	if apierrors.IsNotFound(err) {
		if createErr := c.Create(ctx, desired); createErr != nil {
			return errors.Wrap(createErr, "failed to create solver secret")
		}

		return nil
	}

	if err != nil {
		return errors.Wrap(err, "failed to get solver secret")
	}

	if string(existing.Data[SolverSecretKey]) == creds.APIToken {
		return nil
	}

	patch := client.MergeFrom(existing.DeepCopy())
	existing.Data = desired.Data

	if err := c.Patch(ctx, existing, patch); err != nil {
		return errors.Wrap(err, "failed to update solver secret")
	}

	return nil
}
