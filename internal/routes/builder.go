package routes

import (
	"fmt"

	istionetworkingv1beta1 "istio.io/api/networking/v1beta1"
	istioclientv1beta1 "istio.io/client-go/pkg/apis/networking/v1beta1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// ManagedByLabel marks resources owned by meshsim.
const ManagedByLabel = "app.kubernetes.io/managed-by"

// ManagedByValue is the value set on ManagedByLabel.
const ManagedByValue = "meshsim"

// BuildVirtualService constructs the desired VirtualService for a
// Service route. The destination is the Service's cluster-local FQDN on
// the resolved port.
func BuildVirtualService(
	svc *corev1.Service,
	hostname string,
	port uint32,
	gatewayRef string,
) *istioclientv1beta1.VirtualService {
	destination := fmt.Sprintf("%s.%s.svc.cluster.local", svc.Name, svc.Namespace)

	return &istioclientv1beta1.VirtualService{
		TypeMeta: metav1.TypeMeta{
			APIVersion: "networking.istio.io/v1beta1",
			Kind:       "VirtualService",
		},
		ObjectMeta: metav1.ObjectMeta{
			Name:      RuleName(svc.Name),
			Namespace: svc.Namespace,
			Labels: map[string]string{
				ManagedByLabel: ManagedByValue,
			},
		},
		Spec: istionetworkingv1beta1.VirtualService{
			Hosts:    []string{hostname},
			Gateways: []string{gatewayRef},
			Http: []*istionetworkingv1beta1.HTTPRoute{
				{
					Route: []*istionetworkingv1beta1.HTTPRouteDestination{
						{
							Destination: &istionetworkingv1beta1.Destination{
								Host: destination,
								Port: &istionetworkingv1beta1.PortSelector{
									Number: port,
								},
							},
						},
					},
				},
			},
		},
	}
}

// virtualServiceNeedsUpdate reports whether the existing VirtualService
// differs from the desired one in any field the reconciler manages.
func virtualServiceNeedsUpdate(existing, desired *istioclientv1beta1.VirtualService) bool {
	if !stringSlicesEqual(existing.Spec.Hosts, desired.Spec.Hosts) {
		return true
	}

	if !stringSlicesEqual(existing.Spec.Gateways, desired.Spec.Gateways) {
		return true
	}

	if len(existing.Spec.Http) != len(desired.Spec.Http) {
		return true
	}

	for i, desiredHTTP := range desired.Spec.Http {
		existingHTTP := existing.Spec.Http[i]
		if len(existingHTTP.Route) != len(desiredHTTP.Route) {
			return true
		}

		for j, desiredRoute := range desiredHTTP.Route {
			existingRoute := existingHTTP.Route[j]
			if existingRoute.Destination == nil || desiredRoute.Destination == nil {
				return true
			}

			if existingRoute.Destination.Host != desiredRoute.Destination.Host {
				return true
			}

			existingPort := existingRoute.Destination.Port
			desiredPort := desiredRoute.Destination.Port

			if (existingPort == nil) != (desiredPort == nil) {
				return true
			}

			if existingPort != nil && existingPort.Number != desiredPort.Number {
				return true
			}
		}
	}

	if existing.Labels[ManagedByLabel] != desired.Labels[ManagedByLabel] {
		return true
	}

	return false
}

func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}
