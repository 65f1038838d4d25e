package helm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCertManagerComponent(t *testing.T) {
	t.Parallel()

	component := CertManagerComponent()

	assert.Equal(t, "cert-manager", component.ReleaseName)
	assert.Equal(t, "cert-manager", component.Namespace)
	assert.Equal(t, CertManagerChartRef, component.ChartRef)
	assert.Equal(t, true, component.Values["installCRDs"])
}

func TestIstioComponents(t *testing.T) {
	t.Parallel()

	components := IstioComponents("istio-system")

	require.Len(t, components, 3)

	// Install order matters: CRDs before the control plane, control
	// plane before the gateway.
	assert.Equal(t, "istio-base", components[0].ReleaseName)
	assert.Equal(t, "istiod", components[1].ReleaseName)
	assert.Equal(t, "istio-ingressgateway", components[2].ReleaseName)

	for _, component := range components {
		assert.Equal(t, "istio-system", component.Namespace)
	}

	labels, ok := components[2].Values["labels"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ingressgateway", labels["istio"])
}
