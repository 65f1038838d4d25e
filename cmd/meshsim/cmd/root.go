package cmd

import (
	"context"
	"log/slog"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/meshsim/meshsim/internal/certs"
	"github.com/meshsim/meshsim/internal/config"
	"github.com/meshsim/meshsim/internal/kube"
	"github.com/meshsim/meshsim/internal/metrics"
)

//nolint:gochecknoglobals // set by SetVersion from main
var (
	version = "development"
	gitsha  = "development"
)

func SetVersion(ver, sha string) {
	version = ver
	gitsha = sha
}

//nolint:gochecknoglobals // cobra command pattern
var rootCmd = &cobra.Command{
	Use:   "meshsim",
	Short: "Multi-region zero-trust service mesh sandbox",
	Long: `meshsim provisions a multi-region Istio sandbox: wildcard TLS
certificates, a shared ingress gateway, zero-trust region namespaces,
and per-service routing derived from labels.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

//nolint:gochecknoinits // cobra command pattern
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "Log format (json, text)")

	rootCmd.PersistentFlags().String("domain", "", "Base domain for routes and certificates")
	rootCmd.PersistentFlags().String("environment", config.EnvDevelopment, "Environment class (development, staging, production)")
	rootCmd.PersistentFlags().StringSlice("regions", []string{"us", "eu", "ap"}, "Region names to provision")
	rootCmd.PersistentFlags().String("mesh-namespace", "istio-system", "Namespace of the ingress gateway and TLS secret")
	rootCmd.PersistentFlags().String("cert-manager-namespace", "cert-manager", "Namespace cert-manager runs in")
	rootCmd.PersistentFlags().String("gateway-name", "", "Ingress Gateway name (defaults to <domain>-gateway)")
	rootCmd.PersistentFlags().String("backup-dir", certs.DefaultBackupDir, "Directory for certificate backups")
	rootCmd.PersistentFlags().String("cloudflare-email", "", "Cloudflare account email (or MESHSIM_CLOUDFLARE_EMAIL)")
	rootCmd.PersistentFlags().String("cloudflare-api-token", "", "Cloudflare API token (or MESHSIM_CLOUDFLARE_API_TOKEN)")
	rootCmd.PersistentFlags().String("cloudflare-zone-id", "", "Cloudflare zone ID (or MESHSIM_CLOUDFLARE_ZONE_ID)")
	rootCmd.PersistentFlags().String("kubeconfig", "", "Path to kubeconfig (empty for in-cluster or default loading rules)")
	rootCmd.PersistentFlags().Int("workers", 4, "Concurrent route applies")
	rootCmd.PersistentFlags().String("metrics-addr", ":8080", "Address for metrics endpoint")

	_ = viper.BindPFlags(rootCmd.PersistentFlags())
}

func initConfig() {
	viper.SetEnvPrefix("MESHSIM")
	viper.AutomaticEnv()

	viper.SetDefault("environment", config.EnvDevelopment)
	viper.SetDefault("mesh-namespace", "istio-system")
	viper.SetDefault("cert-manager-namespace", "cert-manager")
	viper.SetDefault("backup-dir", certs.DefaultBackupDir)
	viper.SetDefault("workers", 4)
	viper.SetDefault("log-level", "info")
	viper.SetDefault("log-format", "json")
	viper.SetDefault("metrics-addr", ":8080")
}

func Execute() error {
	return errors.Wrap(rootCmd.Execute(), "command execution failed")
}

func setupLogger() *slog.Logger {
	level := slog.LevelInfo

	switch viper.GetString("log-level") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if viper.GetString("log-format") == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// runtime bundles everything a subcommand needs after setup.
type runtime struct {
	cfg     *config.Config
	client  client.Client
	metrics metrics.Collector
	logger  *slog.Logger
}

// newRuntime resolves configuration, connects to the cluster, and
// fills in Cloudflare credentials from the in-cluster Secret when
// flags and environment left them empty.
func newRuntime(ctx context.Context) (*runtime, error) {
	logger := setupLogger()
	slog.SetDefault(logger)
	ctrl.SetLogger(logr.FromSlogHandler(logger.Handler()))

	cfg := config.FromViper(viper.GetViper())

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	kubeClient, err := kube.NewClient(cfg.Kubeconfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create kubernetes client")
	}

	resolver := config.NewCredentialsResolver(kubeClient, cfg.CertManagerNamespace)
	if err := resolver.Resolve(ctx, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to resolve cloudflare credentials")
	}

	logger.Info("starting meshsim",
		"version", version,
		"gitsha", gitsha,
		"domain", cfg.Domain,
		"environment", cfg.EnvironmentClass,
	)

	return &runtime{
		cfg:     cfg,
		client:  kubeClient,
		metrics: metrics.NewCollector(prometheus.DefaultRegisterer),
		logger:  logger,
	}, nil
}
