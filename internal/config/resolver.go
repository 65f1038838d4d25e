package config

import (
	"context"

	"github.com/cockroachdb/errors"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

const (
	// CredentialsSecretName is the Secret consulted for Cloudflare
	// credentials when they are not provided via flags or environment.
	CredentialsSecretName = "meshsim-cloudflare-credentials"

	credentialsEmailKey  = "email"
	credentialsTokenKey  = "api-token"
	credentialsZoneIDKey = "zone-id"
)

// CredentialsResolver fills in Cloudflare credentials from a cluster
// Secret. Flag and environment values always take precedence; only
// empty fields are resolved.
type CredentialsResolver struct {
	client    client.Client
	namespace string
}

// NewCredentialsResolver creates a resolver reading from the given
// namespace.
func NewCredentialsResolver(c client.Client, namespace string) *CredentialsResolver {
	return &CredentialsResolver{
		client:    c,
		namespace: namespace,
	}
}

// Resolve populates empty credential fields on cfg from the credentials
// Secret. A missing Secret is not an error; the ACME path is simply not
// taken when credentials stay incomplete.
func (r *CredentialsResolver) Resolve(ctx context.Context, cfg *Config) error {
	if cfg.HasCloudflareCredentials() {
		return nil
	}

	secret := &corev1.Secret{}

	err := r.client.Get(ctx, types.NamespacedName{
		Name:      CredentialsSecretName,
		Namespace: r.namespace,
	}, secret)
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil
		}

		return errors.Wrapf(err, "failed to get credentials secret %s/%s", r.namespace, CredentialsSecretName)
	}

	if cfg.CloudflareEmail == "" {
		cfg.CloudflareEmail = string(secret.Data[credentialsEmailKey])
	}

	if cfg.CloudflareAPIToken == "" {
		cfg.CloudflareAPIToken = string(secret.Data[credentialsTokenKey])
	}

	if cfg.CloudflareZoneID == "" {
		cfg.CloudflareZoneID = string(secret.Data[credentialsZoneIDKey])
	}

	return nil
}
