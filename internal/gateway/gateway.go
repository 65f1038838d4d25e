// Package gateway manages the shared wildcard ingress Gateway that
// regional routes attach to.
package gateway

import (
	"context"
	"log/slog"
	"strings"

	"github.com/cockroachdb/errors"
	istionetworkingv1beta1 "istio.io/api/networking/v1beta1"
	istioclientv1beta1 "istio.io/client-go/pkg/apis/networking/v1beta1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// Manager ensures the wildcard ingress Gateway exists and stays in
// sync with the configured domain and TLS secret.
type Manager struct {
	client        client.Client
	meshNamespace string
	logger        *slog.Logger
}

// NewManager creates a gateway Manager operating in meshNamespace.
func NewManager(c client.Client, meshNamespace string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		client:        c,
		meshNamespace: meshNamespace,
		logger:        logger.With("component", "gateway-manager"),
	}
}

// Name returns the Gateway name derived from a domain.
func Name(domain string) string {
	return strings.ReplaceAll(domain, ".", "-") + "-gateway"
}

// Reference returns the namespaced gateway reference VirtualServices
// bind to.
func Reference(meshNamespace, name string) string {
	return meshNamespace + "/" + name
}

// Ensure upserts the wildcard HTTPS Gateway for domain, terminating
// TLS with secretName. The secret must already exist in the mesh
// namespace; certificate provisioning is a prerequisite, not a side
// effect of this call.
func (m *Manager) Ensure(ctx context.Context, name, domain, secretName string) error {
	secret := &corev1.Secret{}

	err := m.client.Get(ctx, types.NamespacedName{Namespace: m.meshNamespace, Name: secretName}, secret)
	if err != nil {
		if apierrors.IsNotFound(err) {
			return errors.Newf("TLS secret %s/%s not found; provision certificates first", m.meshNamespace, secretName)
		}

		return errors.Wrapf(err, "failed to check TLS secret %s/%s", m.meshNamespace, secretName)
	}

	desired := buildGateway(m.meshNamespace, name, domain, secretName)

	existing := &istioclientv1beta1.Gateway{}

	err = m.client.Get(ctx, types.NamespacedName{Namespace: m.meshNamespace, Name: name}, existing)
	if err != nil {
		if !apierrors.IsNotFound(err) {
			return errors.Wrapf(err, "failed to get Gateway %s/%s", m.meshNamespace, name)
		}

		if err := m.client.Create(ctx, desired); err != nil {
			return errors.Wrapf(err, "failed to create Gateway %s/%s", m.meshNamespace, name)
		}

		m.logger.Info("gateway created", "namespace", m.meshNamespace, "name", name, "domain", domain)

		return nil
	}

	if !gatewayNeedsUpdate(existing, desired) {
		return nil
	}

	patch := client.MergeFrom(existing.DeepCopy())
	desired.Spec.DeepCopyInto(&existing.Spec)

	if err := m.client.Patch(ctx, existing, patch); err != nil {
		return errors.Wrapf(err, "failed to update Gateway %s/%s", m.meshNamespace, name)
	}

	m.logger.Info("gateway updated", "namespace", m.meshNamespace, "name", name, "domain", domain)

	return nil
}

func buildGateway(namespace, name, domain, secretName string) *istioclientv1beta1.Gateway {
	return &istioclientv1beta1.Gateway{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: namespace,
		},
		Spec: istionetworkingv1beta1.Gateway{
			Selector: map[string]string{"istio": "ingressgateway"},
			Servers: []*istionetworkingv1beta1.Server{
				{
					Port: &istionetworkingv1beta1.Port{
						Number:   443,
						Name:     "https",
						Protocol: "HTTPS",
					},
					Hosts: []string{"*." + domain},
					Tls: &istionetworkingv1beta1.ServerTLSSettings{
						Mode:           istionetworkingv1beta1.ServerTLSSettings_SIMPLE,
						CredentialName: secretName,
					},
				},
			},
		},
	}
}

func gatewayNeedsUpdate(existing, desired *istioclientv1beta1.Gateway) bool {
	if len(existing.Spec.Servers) != len(desired.Spec.Servers) {
		return true
	}

	for i, server := range desired.Spec.Servers {
		current := existing.Spec.Servers[i]

		if len(current.Hosts) != len(server.Hosts) {
			return true
		}

		for j, host := range server.Hosts {
			if current.Hosts[j] != host {
				return true
			}
		}

		if current.Port == nil || server.Port == nil {
			return true
		}

		if current.Port.Number != server.Port.Number || current.Port.Protocol != server.Port.Protocol {
			return true
		}

		if current.Tls == nil || server.Tls == nil {
			return current.Tls != server.Tls
		}

		if current.Tls.Mode != server.Tls.Mode || current.Tls.CredentialName != server.Tls.CredentialName {
			return true
		}
	}

	if len(existing.Spec.Selector) != len(desired.Spec.Selector) {
		return true
	}

	for key, value := range desired.Spec.Selector {
		if existing.Spec.Selector[key] != value {
			return true
		}
	}

	return false
}
