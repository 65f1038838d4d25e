// Package orchestrator sequences full sandbox bring-up: certificates,
// the ingress gateway, region namespaces, and route reconciliation.
package orchestrator

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"

	"github.com/meshsim/meshsim/internal/certs"
	"github.com/meshsim/meshsim/internal/config"
	"github.com/meshsim/meshsim/internal/gateway"
	"github.com/meshsim/meshsim/internal/regions"
	"github.com/meshsim/meshsim/internal/routes"
)

// Orchestrator wires the managers together for the up command.
type Orchestrator struct {
	certs   *certs.Manager
	gateway *gateway.Manager
	regions *regions.Manager
	routes  *routes.Reconciler
	logger  *slog.Logger
}

// New creates an Orchestrator from already-constructed managers.
func New(
	certManager *certs.Manager,
	gatewayManager *gateway.Manager,
	regionManager *regions.Manager,
	reconciler *routes.Reconciler,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		certs:   certManager,
		gateway: gatewayManager,
		regions: regionManager,
		routes:  reconciler,
		logger:  logger.With("component", "orchestrator"),
	}
}

// Up brings the whole sandbox to its desired state. Certificate
// provisioning runs first and any failure there halts the sequence;
// the gateway cannot terminate TLS without the secret, so continuing
// would only produce a broken mesh.
func (o *Orchestrator) Up(ctx context.Context, cfg config.Config) (*routes.Report, error) {
	secretName := cfg.SecretName()

	outcome, err := o.certs.Ensure(ctx, certs.EnsureRequest{
		Namespace:        cfg.MeshNamespace,
		SecretName:       secretName,
		Domain:           cfg.Domain,
		EnvironmentClass: cfg.EnvironmentClass,
		Credentials: certs.CloudflareCredentials{
			Email:    cfg.CloudflareEmail,
			APIToken: cfg.CloudflareAPIToken,
			ZoneID:   cfg.CloudflareZoneID,
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "certificate provisioning failed, halting bring-up")
	}

	o.logger.Info("certificate ready", "secret", secretName, "outcome", outcome)

	gatewayName := cfg.GatewayName
	if gatewayName == "" {
		gatewayName = gateway.Name(cfg.Domain)
	}

	if err := o.regions.Setup(ctx, cfg.Regions); err != nil {
		return nil, errors.Wrap(err, "region setup failed")
	}

	if err := o.gateway.Ensure(ctx, gatewayName, cfg.Domain, secretName); err != nil {
		return nil, errors.Wrap(err, "gateway setup failed")
	}

	report, err := o.routes.Reconcile(ctx, cfg.Domain, gateway.Reference(cfg.MeshNamespace, gatewayName))
	if err != nil {
		return nil, errors.Wrap(err, "route reconciliation failed")
	}

	return report, nil
}
