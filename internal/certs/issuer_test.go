package certs

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/client/interceptor"

	"github.com/meshsim/meshsim/internal/metrics"
)

func TestBuildClusterIssuerStaging(t *testing.T) {
	t.Parallel()

	obj := buildClusterIssuer("letsencrypt-staging", TierStaging, "admin@example.com")

	assert.Equal(t, "ClusterIssuer", obj.GetKind())
	assert.Equal(t, "letsencrypt-staging", obj.GetName())

	server, _, err := unstructured.NestedString(obj.Object, "spec", "acme", "server")
	require.NoError(t, err)
	assert.Equal(t, ACMEStagingURL, server)

	email, _, err := unstructured.NestedString(obj.Object, "spec", "acme", "email")
	require.NoError(t, err)
	assert.Equal(t, "admin@example.com", email)

	solvers, _, err := unstructured.NestedSlice(obj.Object, "spec", "acme", "solvers")
	require.NoError(t, err)
	require.Len(t, solvers, 1)

	solver, ok := solvers[0].(map[string]any)
	require.True(t, ok)

	ref, _, err := unstructured.NestedMap(solver, "dns01", "cloudflare", "apiTokenSecretRef")
	require.NoError(t, err)
	assert.Equal(t, SolverSecretName, ref["name"])
	assert.Equal(t, SolverSecretKey, ref["key"])
}

func TestBuildClusterIssuerProduction(t *testing.T) {
	t.Parallel()

	obj := buildClusterIssuer("letsencrypt-prod", TierProduction, "admin@example.com")

	server, _, err := unstructured.NestedString(obj.Object, "spec", "acme", "server")
	require.NoError(t, err)
	assert.Equal(t, ACMEProductionURL, server)
}

func TestBuildCertificate(t *testing.T) {
	t.Parallel()

	obj := buildCertificate("dev-example-com-wildcard-cert", "istio-system",
		"dev.example.com", "dev-example-com-tls", "letsencrypt-staging")

	assert.Equal(t, "Certificate", obj.GetKind())
	assert.Equal(t, "istio-system", obj.GetNamespace())

	secretName, _, err := unstructured.NestedString(obj.Object, "spec", "secretName")
	require.NoError(t, err)
	assert.Equal(t, "dev-example-com-tls", secretName)

	dnsNames, _, err := unstructured.NestedSlice(obj.Object, "spec", "dnsNames")
	require.NoError(t, err)
	assert.Equal(t, []any{"*.dev.example.com", "dev.example.com"}, dnsNames)

	issuerKind, _, err := unstructured.NestedString(obj.Object, "spec", "issuerRef", "kind")
	require.NoError(t, err)
	assert.Equal(t, "ClusterIssuer", issuerKind)
}

func TestConditionTrue(t *testing.T) {
	t.Parallel()

	withConditions := func(conditions ...map[string]any) *unstructured.Unstructured {
		anyConds := make([]any, 0, len(conditions))
		for _, c := range conditions {
			anyConds = append(anyConds, c)
		}

		return &unstructured.Unstructured{
			Object: map[string]any{
				"status": map[string]any{
					"conditions": anyConds,
				},
			},
		}
	}

	tests := []struct {
		name     string
		obj      *unstructured.Unstructured
		expected bool
	}{
		{
			name:     "ready true",
			obj:      withConditions(map[string]any{"type": "Ready", "status": "True"}),
			expected: true,
		},
		{
			name:     "ready false",
			obj:      withConditions(map[string]any{"type": "Ready", "status": "False"}),
			expected: false,
		},
		{
			name: "other condition true",
			obj: withConditions(
				map[string]any{"type": "Issuing", "status": "True"},
			),
			expected: false,
		},
		{
			name: "ready among several",
			obj: withConditions(
				map[string]any{"type": "Issuing", "status": "False"},
				map[string]any{"type": "Ready", "status": "True"},
			),
			expected: true,
		},
		{
			name:     "no status",
			obj:      &unstructured.Unstructured{Object: map[string]any{}},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, conditionTrue(tt.obj, "Ready"))
		})
	}
}

func TestDescribeConditions(t *testing.T) {
	t.Parallel()

	obj := &unstructured.Unstructured{
		Object: map[string]any{
			"status": map[string]any{
				"conditions": []any{
					map[string]any{
						"type":    "Ready",
						"status":  "False",
						"reason":  "Pending",
						"message": "order is pending validation",
					},
				},
			},
		},
	}

	summary := describeConditions(obj)
	assert.Contains(t, summary, "Ready=False")
	assert.Contains(t, summary, "Pending")
	assert.Contains(t, summary, "order is pending validation")

	empty := &unstructured.Unstructured{Object: map[string]any{}}
	assert.Equal(t, "none observed", describeConditions(empty))
}

func TestEnsureSolverSecret(t *testing.T) {
	t.Parallel()

	scheme := runtime.NewScheme()
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
	c := fake.NewClientBuilder().WithScheme(scheme).Build()

	ctx := context.Background()
	creds := CloudflareCredentials{Email: "a@b.c", APIToken: "tok-1", ZoneID: "z"}

	require.NoError(t, ensureSolverSecret(ctx, c, "cert-manager", creds))

	secret := &corev1.Secret{}
	require.NoError(t, c.Get(ctx,
		types.NamespacedName{Name: SolverSecretName, Namespace: "cert-manager"}, secret))
	assert.Equal(t, "tok-1", string(secret.Data[SolverSecretKey]))

	// Rotating the token updates the secret in place.
	creds.APIToken = "tok-2"
	require.NoError(t, ensureSolverSecret(ctx, c, "cert-manager", creds))

	require.NoError(t, c.Get(ctx,
		types.NamespacedName{Name: SolverSecretName, Namespace: "cert-manager"}, secret))
	assert.Equal(t, "tok-2", string(secret.Data[SolverSecretKey]))
}

func TestEnsureSolverSecretIdempotent(t *testing.T) {
	t.Parallel()

	scheme := runtime.NewScheme()
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))

	existing := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      SolverSecretName,
			Namespace: "cert-manager",
		},
		Data: map[string][]byte{SolverSecretKey: []byte("tok-1")},
	}
	c := fake.NewClientBuilder().WithScheme(scheme).WithObjects(existing).Build()

	ctx := context.Background()
	creds := CloudflareCredentials{Email: "a@b.c", APIToken: "tok-1", ZoneID: "z"}

	require.NoError(t, ensureSolverSecret(ctx, c, "cert-manager", creds))

	after := &corev1.Secret{}
	require.NoError(t, c.Get(ctx,
		types.NamespacedName{Name: SolverSecretName, Namespace: "cert-manager"}, after))

	// Unchanged token means no write.
	assert.Equal(t, existing.ResourceVersion, after.ResourceVersion)
}

// waitTestBackend wires a fake client whose Get calls are replaced by fn.
func waitTestBackend(fn func() error) IssuerBackend {
	scheme := runtime.NewScheme()
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))

	c := fake.NewClientBuilder().
		WithScheme(scheme).
		WithInterceptorFuncs(interceptor.Funcs{
			Get: func(
				_ context.Context,
				_ client.WithWatch,
				_ client.ObjectKey,
				_ client.Object,
				_ ...client.GetOption,
			) error {
				return fn()
			},
		}).
		Build()

	return NewACMEBackend(c, "cert-manager", metrics.NewNoopCollector(), nil)
}

func TestWaitIssuerReadyHardAPIError(t *testing.T) {
	t.Parallel()

	backend := waitTestBackend(func() error {
		return apierrors.NewInternalError(errors.New("etcd is unavailable"))
	})

	err := backend.WaitIssuerReady(context.Background(), "letsencrypt-staging", time.Minute)
	require.Error(t, err)

	// An API failure is an availability problem, not a readiness timeout.
	assert.ErrorIs(t, err, ErrIssuerUnavailable)
	assert.NotErrorIs(t, err, ErrIssuerNotReady)
}

func TestWaitIssuerReadyTimeout(t *testing.T) {
	t.Parallel()

	backend := waitTestBackend(func() error {
		return apierrors.NewNotFound(schema.GroupResource{Resource: "clusterissuers"}, "letsencrypt-staging")
	})

	err := backend.WaitIssuerReady(context.Background(), "letsencrypt-staging", 50*time.Millisecond)
	require.Error(t, err)

	assert.ErrorIs(t, err, ErrIssuerNotReady)
	assert.NotErrorIs(t, err, ErrIssuerUnavailable)
}

func TestWaitCertificateReadyHardAPIError(t *testing.T) {
	t.Parallel()

	backend := waitTestBackend(func() error {
		return apierrors.NewInternalError(errors.New("etcd is unavailable"))
	})

	err := backend.WaitCertificateReady(context.Background(),
		"istio-system", "dev-example-com-wildcard-cert", time.Minute)
	require.Error(t, err)

	assert.ErrorIs(t, err, ErrIssuerUnavailable)
	assert.NotErrorIs(t, err, ErrIssuanceTimeout)
}
