package gateway_test

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	istionetworkingv1beta1 "istio.io/api/networking/v1beta1"
	istioclientv1beta1 "istio.io/client-go/pkg/apis/networking/v1beta1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	"github.com/meshsim/meshsim/internal/gateway"
)

func setupFakeClient(t *testing.T, objects ...client.Object) client.Client {
	t.Helper()

	scheme := runtime.NewScheme()
	require.NoError(t, clientgoscheme.AddToScheme(scheme))
	require.NoError(t, istioclientv1beta1.AddToScheme(scheme))

	return fake.NewClientBuilder().
		WithScheme(scheme).
		WithObjects(objects...).
		Build()
}

func tlsSecret(namespace, name string) *corev1.Secret {
	return &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Namespace: namespace,
			Name:      name,
		},
		Type: corev1.SecretTypeTLS,
		Data: map[string][]byte{
			corev1.TLSCertKey:       []byte("cert"),
			corev1.TLSPrivateKeyKey: []byte("key"),
		},
	}
}

func TestName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "sandbox-example-com-gateway", gateway.Name("sandbox.example.com"))
}

func TestReference(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "istio-system/sandbox-example-com-gateway",
		gateway.Reference("istio-system", "sandbox-example-com-gateway"))
}

func TestEnsureCreatesGateway(t *testing.T) {
	t.Parallel()

	fakeClient := setupFakeClient(t, tlsSecret("istio-system", "sandbox-example-com-tls"))
	manager := gateway.NewManager(fakeClient, "istio-system", slog.Default())

	err := manager.Ensure(t.Context(), "sandbox-example-com-gateway", "sandbox.example.com", "sandbox-example-com-tls")
	require.NoError(t, err)

	got := &istioclientv1beta1.Gateway{}
	require.NoError(t, fakeClient.Get(t.Context(),
		types.NamespacedName{Namespace: "istio-system", Name: "sandbox-example-com-gateway"}, got))

	require.Len(t, got.Spec.Servers, 1)
	server := got.Spec.Servers[0]

	assert.Equal(t, []string{"*.sandbox.example.com"}, server.Hosts)
	assert.Equal(t, uint32(443), server.Port.Number)
	assert.Equal(t, "HTTPS", server.Port.Protocol)
	assert.Equal(t, istionetworkingv1beta1.ServerTLSSettings_SIMPLE, server.Tls.Mode)
	assert.Equal(t, "sandbox-example-com-tls", server.Tls.CredentialName)
	assert.Equal(t, map[string]string{"istio": "ingressgateway"}, got.Spec.Selector)
}

func TestEnsureFailsWithoutTLSSecret(t *testing.T) {
	t.Parallel()

	fakeClient := setupFakeClient(t)
	manager := gateway.NewManager(fakeClient, "istio-system", slog.Default())

	err := manager.Ensure(t.Context(), "sandbox-example-com-gateway", "sandbox.example.com", "sandbox-example-com-tls")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provision certificates first")
}

func TestEnsureIsIdempotent(t *testing.T) {
	t.Parallel()

	fakeClient := setupFakeClient(t, tlsSecret("istio-system", "sandbox-example-com-tls"))
	manager := gateway.NewManager(fakeClient, "istio-system", slog.Default())

	require.NoError(t, manager.Ensure(t.Context(), "sandbox-example-com-gateway", "sandbox.example.com", "sandbox-example-com-tls"))

	first := &istioclientv1beta1.Gateway{}
	require.NoError(t, fakeClient.Get(t.Context(),
		types.NamespacedName{Namespace: "istio-system", Name: "sandbox-example-com-gateway"}, first))

	require.NoError(t, manager.Ensure(t.Context(), "sandbox-example-com-gateway", "sandbox.example.com", "sandbox-example-com-tls"))

	second := &istioclientv1beta1.Gateway{}
	require.NoError(t, fakeClient.Get(t.Context(),
		types.NamespacedName{Namespace: "istio-system", Name: "sandbox-example-com-gateway"}, second))

	assert.Equal(t, first.ResourceVersion, second.ResourceVersion)
}

func TestEnsureUpdatesChangedGateway(t *testing.T) {
	t.Parallel()

	fakeClient := setupFakeClient(t,
		tlsSecret("istio-system", "sandbox-example-com-tls"),
		tlsSecret("istio-system", "old-tls"),
	)
	manager := gateway.NewManager(fakeClient, "istio-system", slog.Default())

	require.NoError(t, manager.Ensure(t.Context(), "sandbox-example-com-gateway", "old.example.com", "old-tls"))
	require.NoError(t, manager.Ensure(t.Context(), "sandbox-example-com-gateway", "sandbox.example.com", "sandbox-example-com-tls"))

	got := &istioclientv1beta1.Gateway{}
	require.NoError(t, fakeClient.Get(t.Context(),
		types.NamespacedName{Namespace: "istio-system", Name: "sandbox-example-com-gateway"}, got))

	require.Len(t, got.Spec.Servers, 1)
	assert.Equal(t, []string{"*.sandbox.example.com"}, got.Spec.Servers[0].Hosts)
	assert.Equal(t, "sandbox-example-com-tls", got.Spec.Servers[0].Tls.CredentialName)
}
