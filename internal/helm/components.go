package helm

import (
	"context"

	"github.com/cockroachdb/errors"
)

// Chart references for the platform components the sandbox depends on.
const (
	CertManagerChartRef  = "oci://quay.io/jetstack/charts/cert-manager"
	IstioBaseChartRef    = "oci://gcr.io/istio-release/charts/base"
	IstiodChartRef       = "oci://gcr.io/istio-release/charts/istiod"
	IstioGatewayChartRef = "oci://gcr.io/istio-release/charts/gateway"
)

// Component describes one Helm-managed platform dependency.
type Component struct {
	ReleaseName string
	Namespace   string
	ChartRef    string
	Version     string
	Values      map[string]any
}

// CertManagerComponent returns the cert-manager release with CRD
// installation enabled. Issuer and Certificate objects cannot be
// applied without it.
func CertManagerComponent() Component {
	return Component{
		ReleaseName: "cert-manager",
		Namespace:   "cert-manager",
		ChartRef:    CertManagerChartRef,
		Values: map[string]any{
			"installCRDs": true,
		},
	}
}

// IstioComponents returns the mesh control-plane releases in install
// order: base CRDs, istiod, then the ingress gateway.
func IstioComponents(meshNamespace string) []Component {
	return []Component{
		{
			ReleaseName: "istio-base",
			Namespace:   meshNamespace,
			ChartRef:    IstioBaseChartRef,
		},
		{
			ReleaseName: "istiod",
			Namespace:   meshNamespace,
			ChartRef:    IstiodChartRef,
		},
		{
			ReleaseName: "istio-ingressgateway",
			Namespace:   meshNamespace,
			ChartRef:    IstioGatewayChartRef,
			Values: map[string]any{
				"labels": map[string]any{
					"istio": "ingressgateway",
				},
			},
		},
	}
}

// EnsureComponent installs the component or upgrades it when the
// release already exists. An empty Version resolves to the latest
// stable chart.
func (m *Manager) EnsureComponent(ctx context.Context, component Component) error {
	version := component.Version

	if version == "" {
		latest, err := m.GetLatestVersion(ctx, component.ChartRef)
		if err != nil {
			return errors.Wrapf(err, "failed to resolve version for %s", component.ReleaseName)
		}

		version = latest
	}

	loadedChart, err := m.LoadChart(ctx, component.ChartRef, version)
	if err != nil {
		return errors.Wrapf(err, "failed to load chart for %s", component.ReleaseName)
	}

	actionConfig, err := m.GetActionConfig(component.Namespace)
	if err != nil {
		return errors.Wrapf(err, "failed to build action config for %s", component.ReleaseName)
	}

	if m.ReleaseExists(actionConfig, component.ReleaseName) {
		m.logger.Info("upgrading component", "release", component.ReleaseName, "namespace", component.Namespace, "version", version)

		_, err = m.Upgrade(ctx, actionConfig, component.ReleaseName, loadedChart, component.Values)

		return err
	}

	m.logger.Info("installing component", "release", component.ReleaseName, "namespace", component.Namespace, "version", version)

	_, err = m.Install(ctx, actionConfig, component.ReleaseName, component.Namespace, loadedChart, component.Values)

	return err
}
