// Package routes derives external routing rules from labeled Services
// and reconciles them against the mesh.
package routes

import (
	"fmt"
	"strconv"

	corev1 "k8s.io/api/core/v1"
)

// Well-known labels and annotations consumed by the reconciler. Labels
// always win over annotations; annotations win over computed defaults.
const (
	// LabelRegion marks a namespace with its region code.
	LabelRegion = "meshsim.io/region"

	// LabelRoutingEnabled opts a Service into route reconciliation.
	LabelRoutingEnabled = "meshsim.io/routing-enabled"

	// KeyHost overrides the hostname component, as a label or
	// annotation. Defaults to the Service name.
	KeyHost = "meshsim.io/host"

	// KeyPort overrides the target port, as a label or annotation.
	// Defaults to the Service's first declared port.
	KeyPort = "meshsim.io/port"
)

// Skip reasons reported for Services that cannot be reconciled.
const (
	ReasonNoRegion    = "namespace has no region label"
	ReasonNoPort      = "no port override and no declared ports"
	ReasonInvalidPort = "port override is not a valid port number"
)

// ResolveHost returns the hostname component for a Service: the host
// label if set, else the host annotation, else the Service name.
func ResolveHost(svc *corev1.Service) string {
	if v, ok := svc.Labels[KeyHost]; ok && v != "" {
		return v
	}

	if v, ok := svc.Annotations[KeyHost]; ok && v != "" {
		return v
	}

	return svc.Name
}

// ResolvePort returns the target port for a Service: the port label if
// set, else the port annotation, else the first declared port. The
// returned reason is empty on success and one of the Reason constants
// otherwise.
func ResolvePort(svc *corev1.Service) (uint32, string) {
	for _, v := range []string{svc.Labels[KeyPort], svc.Annotations[KeyPort]} {
		if v == "" {
			continue
		}

		port, err := strconv.ParseUint(v, 10, 16)
		if err != nil || port == 0 {
			return 0, ReasonInvalidPort
		}

		return uint32(port), ""
	}

	if len(svc.Spec.Ports) == 0 {
		return 0, ReasonNoPort
	}

	return uint32(svc.Spec.Ports[0].Port), ""
}

// Hostname computes the external hostname for a route.
func Hostname(region, host, baseDomain string) string {
	return fmt.Sprintf("%s-%s.%s", region, host, baseDomain)
}

// RuleName computes the deterministic VirtualService name for a Service.
func RuleName(serviceName string) string {
	return "route-" + serviceName
}
