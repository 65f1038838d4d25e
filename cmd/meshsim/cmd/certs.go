package cmd

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/types"

	"github.com/meshsim/meshsim/internal/certs"
)

//nolint:gochecknoglobals // cobra command pattern
var certsCmd = &cobra.Command{
	Use:   "certs",
	Short: "Manage the wildcard TLS certificate",
}

//nolint:gochecknoglobals // cobra command pattern
var certsEnsureCmd = &cobra.Command{
	Use:   "ensure",
	Short: "Guarantee a valid wildcard certificate exists",
	Long: `Reuses the live secret when it has enough validity left, restores
from a local backup when possible, and otherwise provisions a fresh
certificate via ACME or self-signed issuance.`,
	RunE: runCertsEnsure,
}

//nolint:gochecknoglobals // cobra command pattern
var certsInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Describe the current certificate secret",
	RunE:  runCertsInfo,
}

//nolint:gochecknoinits // cobra command pattern
func init() {
	certsCmd.AddCommand(certsEnsureCmd)
	certsCmd.AddCommand(certsInfoCmd)
	rootCmd.AddCommand(certsCmd)
}

func runCertsEnsure(cobraCmd *cobra.Command, _ []string) error {
	ctx := cobraCmd.Context()

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}

	outcome, err := newCertManager(rt).Ensure(ctx, certs.EnsureRequest{
		Namespace:        rt.cfg.MeshNamespace,
		SecretName:       rt.cfg.SecretName(),
		Domain:           rt.cfg.Domain,
		EnvironmentClass: rt.cfg.EnvironmentClass,
		Credentials: certs.CloudflareCredentials{
			Email:    rt.cfg.CloudflareEmail,
			APIToken: rt.cfg.CloudflareAPIToken,
			ZoneID:   rt.cfg.CloudflareZoneID,
		},
	})
	if err != nil {
		return err
	}

	rt.logger.Info("certificate ready", "secret", rt.cfg.SecretName(), "outcome", string(outcome))

	return nil
}

func runCertsInfo(cobraCmd *cobra.Command, _ []string) error {
	ctx := cobraCmd.Context()

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}

	secretName := rt.cfg.SecretName()
	secret := &corev1.Secret{}

	err = rt.client.Get(ctx, types.NamespacedName{Namespace: rt.cfg.MeshNamespace, Name: secretName}, secret)
	if err != nil {
		if apierrors.IsNotFound(err) {
			return errors.Newf("secret %s/%s not found", rt.cfg.MeshNamespace, secretName)
		}

		return errors.Wrap(err, "failed to read certificate secret")
	}

	cert, err := certs.ParseCertificatePEM(secret.Data[corev1.TLSCertKey])
	if err != nil {
		return errors.Wrap(err, "failed to parse certificate")
	}

	info := certs.Describe(cert, time.Now())

	rt.logger.Info("certificate",
		"secret", secretName,
		"subject", info.Subject,
		"issuer", info.Issuer,
		"not_after", info.NotAfter,
		"days_remaining", info.DaysRemaining,
		"self_signed", info.SelfSigned,
		"reusable", info.Reusable,
	)

	return nil
}
