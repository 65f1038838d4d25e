package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/meshsim/meshsim/internal/certs"
	"github.com/meshsim/meshsim/internal/gateway"
	"github.com/meshsim/meshsim/internal/orchestrator"
	"github.com/meshsim/meshsim/internal/regions"
	"github.com/meshsim/meshsim/internal/routes"
)

//nolint:gochecknoglobals // cobra command pattern
var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Bring the whole sandbox to its desired state",
	Long: `Ensures the wildcard certificate, the ingress gateway, region
namespaces with zero-trust policies, and per-service routes, in that
order. A certificate failure halts the sequence.`,
	RunE: runUp,
}

//nolint:gochecknoinits // cobra command pattern
func init() {
	rootCmd.AddCommand(upCmd)
}

func runUp(cobraCmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(cobraCmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}

	report, err := newSandboxOrchestrator(rt).Up(ctx, *rt.cfg)
	if err != nil {
		return err
	}

	logReport(rt, report)

	if report.HasFailures() {
		return errFailedRoutes
	}

	return nil
}

func newSandboxOrchestrator(rt *runtime) *orchestrator.Orchestrator {
	return orchestrator.New(
		newCertManager(rt),
		gateway.NewManager(rt.client, rt.cfg.MeshNamespace, rt.logger),
		regions.NewManager(rt.client, rt.cfg.MeshNamespace, rt.logger),
		routes.NewReconciler(rt.client, rt.metrics, rt.logger, rt.cfg.Workers),
		rt.logger,
	)
}

func newCertManager(rt *runtime) *certs.Manager {
	issuer := certs.NewACMEBackend(rt.client, rt.cfg.CertManagerNamespace, rt.metrics, rt.logger)

	return certs.NewManager(
		rt.client,
		certs.NewBackupStore(rt.cfg.BackupDir),
		issuer,
		rt.metrics,
		rt.logger,
	)
}
