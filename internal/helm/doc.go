// Package helm installs the platform components the sandbox depends
// on using the Helm SDK.
//
// # Overview
//
// The install command uses this package to bring up cert-manager and
// the Istio control plane before any mesh resources are applied:
//
//   - Automatic chart discovery from OCI registries
//   - Chart version resolution and caching
//   - Release installation, upgrade, and uninstallation
//
// # Chart Sources
//
// Charts are pulled from their upstream OCI registries:
//
//	oci://quay.io/jetstack/charts/cert-manager
//	oci://gcr.io/istio-release/charts/{base,istiod,gateway}
//
// When no version is pinned, the Manager resolves the latest stable
// (non-prerelease) tag and caches the pulled chart per ref and
// version to avoid repeated downloads.
//
// # Thread Safety
//
// The chart cache is guarded by a RWMutex, so a single Manager can be
// shared across concurrent component installs.
package helm
