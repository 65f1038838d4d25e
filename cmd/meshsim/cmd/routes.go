package cmd

import (
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/meshsim/meshsim/internal/gateway"
	"github.com/meshsim/meshsim/internal/routes"
)

//nolint:gochecknoglobals // cobra command pattern
var errFailedRoutes = errors.New("some routes failed to apply")

//nolint:gochecknoglobals // cobra command pattern
var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "Manage per-service routes",
}

//nolint:gochecknoglobals // cobra command pattern
var routesSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile VirtualServices for all routing-enabled services",
	RunE:  runRoutesSync,
}

//nolint:gochecknoinits // cobra command pattern
func init() {
	routesCmd.AddCommand(routesSyncCmd)
	rootCmd.AddCommand(routesCmd)
}

func runRoutesSync(cobraCmd *cobra.Command, _ []string) error {
	ctx := cobraCmd.Context()

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}

	gatewayName := rt.cfg.GatewayName
	if gatewayName == "" {
		gatewayName = gateway.Name(rt.cfg.Domain)
	}

	reconciler := routes.NewReconciler(rt.client, rt.metrics, rt.logger, rt.cfg.Workers)

	report, err := reconciler.Reconcile(ctx, rt.cfg.Domain, gateway.Reference(rt.cfg.MeshNamespace, gatewayName))
	if err != nil {
		return err
	}

	logReport(rt, report)

	if report.HasFailures() {
		return errFailedRoutes
	}

	return nil
}

func logReport(rt *runtime, report *routes.Report) {
	for _, applied := range report.Applied {
		rt.logger.Info("route applied",
			"service", applied.Resource.String(),
			"rule", applied.RuleName,
			"hostname", applied.Hostname,
			"port", applied.Port,
		)
	}

	for _, skipped := range report.Skipped {
		rt.logger.Warn("route skipped",
			"service", skipped.Resource.String(),
			"reason", skipped.Reason,
		)
	}

	for _, failed := range report.Failed {
		rt.logger.Error("route failed",
			"service", failed.Resource.String(),
			"error", failed.Err.Error(),
		)
	}

	rt.logger.Info("reconciliation finished",
		"run_id", report.RunID,
		"applied", len(report.Applied),
		"skipped", len(report.Skipped),
		"failed", len(report.Failed),
	)
}
