package cmd

import (
	"github.com/spf13/cobra"

	"github.com/meshsim/meshsim/internal/regions"
)

//nolint:gochecknoglobals // cobra command pattern
var regionsCmd = &cobra.Command{
	Use:   "regions",
	Short: "Manage region namespaces",
}

//nolint:gochecknoglobals // cobra command pattern
var regionsSetupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Provision region namespaces with zero-trust policies",
	RunE:  runRegionsSetup,
}

//nolint:gochecknoinits // cobra command pattern
func init() {
	regionsCmd.AddCommand(regionsSetupCmd)
	rootCmd.AddCommand(regionsCmd)
}

func runRegionsSetup(cobraCmd *cobra.Command, _ []string) error {
	ctx := cobraCmd.Context()

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}

	manager := regions.NewManager(rt.client, rt.cfg.MeshNamespace, rt.logger)

	if err := manager.Setup(ctx, rt.cfg.Regions); err != nil {
		return err
	}

	rt.logger.Info("regions ready", "regions", rt.cfg.Regions)

	return nil
}
