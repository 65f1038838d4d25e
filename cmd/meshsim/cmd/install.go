package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/meshsim/meshsim/internal/helm"
)

//nolint:gochecknoglobals // cobra command pattern
var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install platform components via Helm",
	Long: `Installs cert-manager and the Istio control plane from their
upstream OCI chart registries. Releases that already exist are
upgraded in place.`,
	RunE: runInstall,
}

//nolint:gochecknoinits // cobra command pattern
func init() {
	installCmd.Flags().Bool("skip-istio", false, "Only install cert-manager")
	installCmd.Flags().String("cert-manager-version", "", "Pin the cert-manager chart version")
	installCmd.Flags().String("istio-version", "", "Pin the Istio chart versions")

	rootCmd.AddCommand(installCmd)
}

func runInstall(cobraCmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(cobraCmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}

	manager, err := helm.NewManager(rt.metrics, rt.logger)
	if err != nil {
		return err
	}

	certManager := helm.CertManagerComponent()
	certManager.Version, _ = cobraCmd.Flags().GetString("cert-manager-version")

	if err := manager.EnsureComponent(ctx, certManager); err != nil {
		return err
	}

	skipIstio, _ := cobraCmd.Flags().GetBool("skip-istio")
	if skipIstio {
		return nil
	}

	istioVersion, _ := cobraCmd.Flags().GetString("istio-version")

	for _, component := range helm.IstioComponents(rt.cfg.MeshNamespace) {
		component.Version = istioVersion

		if err := manager.EnsureComponent(ctx, component); err != nil {
			return err
		}
	}

	rt.logger.Info("platform components installed")

	return nil
}
