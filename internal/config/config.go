// Package config provides configuration resolution for meshsim.
package config

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
)

// Environment classes. Staging ACME endpoints are used for everything
// except EnvProduction.
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// Config holds the resolved meshsim configuration. It is built once at
// startup and treated as immutable afterwards.
type Config struct {
	// Domain is the base domain routes and certificates are issued for.
	Domain string

	// EnvironmentClass is one of development, staging, or production.
	EnvironmentClass string

	// Regions are the region names to provision namespaces and
	// zero-trust policies for.
	Regions []string

	// MeshNamespace is where the ingress gateway, the wildcard
	// certificate, and its secret live.
	MeshNamespace string

	// CertManagerNamespace is where cert-manager and its DNS solver
	// credentials live.
	CertManagerNamespace string

	// GatewayName is the name of the shared ingress Gateway.
	GatewayName string

	// BackupDir is the local directory certificate backups are
	// written to.
	BackupDir string

	// Cloudflare DNS-01 solver credentials. All three must be set for
	// the ACME path to be used.
	CloudflareEmail    string
	CloudflareAPIToken string
	CloudflareZoneID   string

	// Kubeconfig is the path to the kubeconfig file. Empty means
	// in-cluster or the default loading rules.
	Kubeconfig string

	// Workers bounds the number of concurrent route applies.
	Workers int

	LogLevel  string
	LogFormat string

	MetricsAddr string
}

// FromViper builds a Config from bound viper keys.
func FromViper(v *viper.Viper) *Config {
	return &Config{
		Domain:               v.GetString("domain"),
		EnvironmentClass:     v.GetString("environment"),
		Regions:              v.GetStringSlice("regions"),
		MeshNamespace:        v.GetString("mesh-namespace"),
		CertManagerNamespace: v.GetString("cert-manager-namespace"),
		GatewayName:          v.GetString("gateway-name"),
		BackupDir:            v.GetString("backup-dir"),
		CloudflareEmail:      v.GetString("cloudflare-email"),
		CloudflareAPIToken:   v.GetString("cloudflare-api-token"),
		CloudflareZoneID:     v.GetString("cloudflare-zone-id"),
		Kubeconfig:           v.GetString("kubeconfig"),
		Workers:              v.GetInt("workers"),
		LogLevel:             v.GetString("log-level"),
		LogFormat:            v.GetString("log-format"),
		MetricsAddr:          v.GetString("metrics-addr"),
	}
}

//nolint:wrapcheck // errors.Newf creates new errors
func (c *Config) Validate() error {
	if c.Domain == "" {
		return errors.New("domain is required")
	}

	switch c.EnvironmentClass {
	case EnvDevelopment, EnvStaging, EnvProduction:
	default:
		return errors.Newf("invalid environment class: %q (expected %s, %s, or %s)",
			c.EnvironmentClass, EnvDevelopment, EnvStaging, EnvProduction)
	}

	if len(c.Regions) == 0 {
		return errors.New("at least one region is required")
	}

	if c.Workers < 1 {
		return errors.Newf("workers must be positive, got %d", c.Workers)
	}

	return nil
}

// IsProduction reports whether production ACME endpoints should be used.
func (c *Config) IsProduction() bool {
	return c.EnvironmentClass == EnvProduction
}

// SecretName derives the TLS secret name from the domain: dots become
// dashes and a "-tls" suffix is appended.
func (c *Config) SecretName() string {
	return strings.ReplaceAll(c.Domain, ".", "-") + "-tls"
}

// WildcardHost returns the wildcard hostname covering all routes.
func (c *Config) WildcardHost() string {
	return "*." + c.Domain
}

// HasCloudflareCredentials reports whether all fields required for the
// DNS-01 solver are set.
func (c *Config) HasCloudflareCredentials() bool {
	return c.CloudflareEmail != "" && c.CloudflareAPIToken != "" && c.CloudflareZoneID != ""
}
