// Package regions provisions region namespaces with zero-trust
// defaults: strict mTLS, deny-by-default authorization, and a baseline
// network policy.
package regions

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
	istiosecurityapiv1beta1 "istio.io/api/security/v1beta1"
	istiosecurityv1beta1 "istio.io/client-go/pkg/apis/security/v1beta1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/meshsim/meshsim/internal/kube"
	"github.com/meshsim/meshsim/internal/routes"
)

// Namespace labels applied to every region namespace.
const (
	LabelInjection    = "istio-injection"
	LabelSecurity     = "meshsim.io/security-policy"
	SecurityZeroTrust = "zero-trust"
)

// Manager provisions and labels region namespaces.
type Manager struct {
	client        client.Client
	meshNamespace string
	logger        *slog.Logger
}

// NewManager creates a region Manager. meshNamespace is where the
// ingress gateway runs; its service account is granted ingress.
func NewManager(c client.Client, meshNamespace string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		client:        c,
		meshNamespace: meshNamespace,
		logger:        logger.With("component", "region-manager"),
	}
}

// NamespaceName returns the namespace for a region code.
func NamespaceName(region string) string {
	return "region-" + region
}

// Setup provisions all given regions. Each region gets a labeled,
// mesh-injected namespace plus its zero-trust policy set. Safe to
// re-run; existing policies are left in place.
func (m *Manager) Setup(ctx context.Context, regionCodes []string) error {
	for _, region := range regionCodes {
		if err := m.setupRegion(ctx, region); err != nil {
			return errors.Wrapf(err, "failed to set up region %s", region)
		}
	}

	return nil
}

func (m *Manager) setupRegion(ctx context.Context, region string) error {
	namespace := NamespaceName(region)

	m.logger.Info("configuring region", "region", region, "namespace", namespace)

	err := kube.EnsureNamespace(ctx, m.client, namespace, map[string]string{
		LabelInjection:     "enabled",
		routes.LabelRegion: region,
		LabelSecurity:      SecurityZeroTrust,
	})
	if err != nil {
		return err
	}

	if err := m.applyPeerAuthentication(ctx, namespace); err != nil {
		return err
	}

	if err := m.applyAuthorizationPolicies(ctx, namespace); err != nil {
		return err
	}

	return m.applyNetworkPolicy(ctx, namespace)
}

// applyPeerAuthentication enforces STRICT mTLS namespace-wide.
func (m *Manager) applyPeerAuthentication(ctx context.Context, namespace string) error {
	policy := &istiosecurityv1beta1.PeerAuthentication{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "default",
			Namespace: namespace,
		},
		Spec: istiosecurityapiv1beta1.PeerAuthentication{
			Mtls: &istiosecurityapiv1beta1.PeerAuthentication_MutualTLS{
				Mode: istiosecurityapiv1beta1.PeerAuthentication_MutualTLS_STRICT,
			},
		},
	}

	return m.createIfAbsent(ctx, policy, "PeerAuthentication")
}

// applyAuthorizationPolicies installs the deny-all default plus an
// allow rule for the ingress gateway and intra-namespace traffic.
func (m *Manager) applyAuthorizationPolicies(ctx context.Context, namespace string) error {
	ingressPrincipal := "cluster.local/ns/" + m.meshNamespace + "/sa/istio-ingressgateway-service-account"

	allowIngress := &istiosecurityv1beta1.AuthorizationPolicy{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "allow-ingress-gateway",
			Namespace: namespace,
		},
		Spec: istiosecurityapiv1beta1.AuthorizationPolicy{
			Rules: []*istiosecurityapiv1beta1.Rule{
				{
					From: []*istiosecurityapiv1beta1.Rule_From{
						{
							Source: &istiosecurityapiv1beta1.Source{
								Principals: []string{ingressPrincipal},
							},
						},
					},
				},
				{
					From: []*istiosecurityapiv1beta1.Rule_From{
						{
							Source: &istiosecurityapiv1beta1.Source{
								Namespaces: []string{namespace},
							},
						},
					},
				},
			},
		},
	}

	if err := m.createIfAbsent(ctx, allowIngress, "AuthorizationPolicy"); err != nil {
		return err
	}

	// Empty spec denies everything not explicitly allowed.
	denyAll := &istiosecurityv1beta1.AuthorizationPolicy{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "deny-all",
			Namespace: namespace,
		},
		Spec: istiosecurityapiv1beta1.AuthorizationPolicy{},
	}

	return m.createIfAbsent(ctx, denyAll, "AuthorizationPolicy")
}

// applyNetworkPolicy installs the baseline L3/L4 policy: ingress only
// from the mesh namespace, the region itself, and local pods; egress to
// DNS, the control plane, the region itself, and other zero-trust
// regions.
func (m *Manager) applyNetworkPolicy(ctx context.Context, namespace string) error {
	protoTCP := corev1.ProtocolTCP
	protoUDP := corev1.ProtocolUDP
	dnsPort := intstr.FromInt32(53)
	istiodPort := intstr.FromInt32(15012)

	policy := &networkingv1.NetworkPolicy{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "baseline-zero-trust",
			Namespace: namespace,
		},
		Spec: networkingv1.NetworkPolicySpec{
			PodSelector: metav1.LabelSelector{},
			PolicyTypes: []networkingv1.PolicyType{
				networkingv1.PolicyTypeIngress,
				networkingv1.PolicyTypeEgress,
			},
			Ingress: []networkingv1.NetworkPolicyIngressRule{
				{
					From: []networkingv1.NetworkPolicyPeer{
						{
							NamespaceSelector: &metav1.LabelSelector{
								MatchLabels: map[string]string{"kubernetes.io/metadata.name": m.meshNamespace},
							},
						},
						{
							NamespaceSelector: &metav1.LabelSelector{
								MatchLabels: map[string]string{"kubernetes.io/metadata.name": namespace},
							},
						},
					},
				},
				{
					From: []networkingv1.NetworkPolicyPeer{
						{PodSelector: &metav1.LabelSelector{}},
					},
				},
			},
			Egress: []networkingv1.NetworkPolicyEgressRule{
				{
					// DNS resolution.
					Ports: []networkingv1.NetworkPolicyPort{
						{Protocol: &protoUDP, Port: &dnsPort},
						{Protocol: &protoTCP, Port: &dnsPort},
					},
				},
				{
					// Istio control plane.
					To: []networkingv1.NetworkPolicyPeer{
						{
							NamespaceSelector: &metav1.LabelSelector{
								MatchLabels: map[string]string{"kubernetes.io/metadata.name": m.meshNamespace},
							},
						},
					},
					Ports: []networkingv1.NetworkPolicyPort{
						{Protocol: &protoTCP, Port: &istiodPort},
					},
				},
				{
					// Intra-namespace traffic.
					To: []networkingv1.NetworkPolicyPeer{
						{
							NamespaceSelector: &metav1.LabelSelector{
								MatchLabels: map[string]string{"kubernetes.io/metadata.name": namespace},
							},
						},
					},
				},
				{
					// Cross-region traffic between zero-trust namespaces.
					To: []networkingv1.NetworkPolicyPeer{
						{
							NamespaceSelector: &metav1.LabelSelector{
								MatchLabels: map[string]string{LabelSecurity: SecurityZeroTrust},
							},
						},
					},
				},
			},
		},
	}

	return m.createIfAbsent(ctx, policy, "NetworkPolicy")
}

func (m *Manager) createIfAbsent(ctx context.Context, obj client.Object, kind string) error {
	err := m.client.Create(ctx, obj)
	if err != nil {
		if apierrors.IsAlreadyExists(err) {
			return nil
		}

		return errors.Wrapf(err, "failed to create %s %s/%s", kind, obj.GetNamespace(), obj.GetName())
	}

	m.logger.Debug("policy created", "kind", kind, "namespace", obj.GetNamespace(), "name", obj.GetName())

	return nil
}
