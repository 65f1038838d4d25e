package cmd

import (
	"github.com/spf13/cobra"

	"github.com/meshsim/meshsim/internal/gateway"
)

//nolint:gochecknoglobals // cobra command pattern
var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Manage the shared ingress gateway",
}

//nolint:gochecknoglobals // cobra command pattern
var gatewayEnsureCmd = &cobra.Command{
	Use:   "ensure",
	Short: "Ensure the wildcard HTTPS gateway exists",
	Long: `Upserts the Istio Gateway terminating TLS with the wildcard
certificate secret. Fails when the secret is missing; run
"meshsim certs ensure" first.`,
	RunE: runGatewayEnsure,
}

//nolint:gochecknoinits // cobra command pattern
func init() {
	gatewayCmd.AddCommand(gatewayEnsureCmd)
	rootCmd.AddCommand(gatewayCmd)
}

func runGatewayEnsure(cobraCmd *cobra.Command, _ []string) error {
	ctx := cobraCmd.Context()

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}

	gatewayName := rt.cfg.GatewayName
	if gatewayName == "" {
		gatewayName = gateway.Name(rt.cfg.Domain)
	}

	manager := gateway.NewManager(rt.client, rt.cfg.MeshNamespace, rt.logger)

	if err := manager.Ensure(ctx, gatewayName, rt.cfg.Domain, rt.cfg.SecretName()); err != nil {
		return err
	}

	rt.logger.Info("gateway ready", "name", gatewayName, "host", rt.cfg.WildcardHost())

	return nil
}
