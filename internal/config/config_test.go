package config_test

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshsim/meshsim/internal/config"
)

func validConfig() *config.Config {
	return &config.Config{
		Domain:           "example.com",
		EnvironmentClass: config.EnvDevelopment,
		Regions:          []string{"us", "eu"},
		MeshNamespace:    "istio-system",
		Workers:          4,
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{
			name:   "valid config",
			mutate: func(_ *config.Config) {},
		},
		{
			name:    "missing domain",
			mutate:  func(c *config.Config) { c.Domain = "" },
			wantErr: "domain is required",
		},
		{
			name:    "invalid environment class",
			mutate:  func(c *config.Config) { c.EnvironmentClass = "prod" },
			wantErr: "invalid environment class",
		},
		{
			name:    "no regions",
			mutate:  func(c *config.Config) { c.Regions = nil },
			wantErr: "at least one region",
		},
		{
			name:    "zero workers",
			mutate:  func(c *config.Config) { c.Workers = 0 },
			wantErr: "workers must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestSecretName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		domain   string
		expected string
	}{
		{
			name:     "two label domain",
			domain:   "example.com",
			expected: "example-com-tls",
		},
		{
			name:     "subdomain",
			domain:   "mesh.internal.example.com",
			expected: "mesh-internal-example-com-tls",
		},
		{
			name:     "single label",
			domain:   "localhost",
			expected: "localhost-tls",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := &config.Config{Domain: tt.domain}
			assert.Equal(t, tt.expected, cfg.SecretName())
		})
	}
}

func TestWildcardHost(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Domain: "example.com"}
	assert.Equal(t, "*.example.com", cfg.WildcardHost())
}

func TestIsProduction(t *testing.T) {
	t.Parallel()

	tests := []struct {
		env      string
		expected bool
	}{
		{config.EnvDevelopment, false},
		{config.EnvStaging, false},
		{config.EnvProduction, true},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			t.Parallel()

			cfg := &config.Config{EnvironmentClass: tt.env}
			assert.Equal(t, tt.expected, cfg.IsProduction())
		})
	}
}

func TestHasCloudflareCredentials(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		email    string
		token    string
		zoneID   string
		expected bool
	}{
		{
			name:     "all present",
			email:    "admin@example.com",
			token:    "token",
			zoneID:   "zone",
			expected: true,
		},
		{
			name:     "missing email",
			token:    "token",
			zoneID:   "zone",
			expected: false,
		},
		{
			name:     "missing token",
			email:    "admin@example.com",
			zoneID:   "zone",
			expected: false,
		},
		{
			name:     "missing zone",
			email:    "admin@example.com",
			token:    "token",
			expected: false,
		},
		{
			name:     "all missing",
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := &config.Config{
				CloudflareEmail:    tt.email,
				CloudflareAPIToken: tt.token,
				CloudflareZoneID:   tt.zoneID,
			}
			assert.Equal(t, tt.expected, cfg.HasCloudflareCredentials())
		})
	}
}

func TestFromViper(t *testing.T) {
	t.Parallel()

	v := viper.New()
	v.Set("domain", "example.com")
	v.Set("environment", "production")
	v.Set("regions", []string{"us", "eu", "ap"})
	v.Set("mesh-namespace", "istio-system")
	v.Set("cert-manager-namespace", "cert-manager")
	v.Set("gateway-name", "mesh-gateway")
	v.Set("backup-dir", "./cluster-state")
	v.Set("workers", 8)
	v.Set("log-level", "debug")
	v.Set("log-format", "text")

	cfg := config.FromViper(v)

	assert.Equal(t, "example.com", cfg.Domain)
	assert.Equal(t, config.EnvProduction, cfg.EnvironmentClass)
	assert.Equal(t, []string{"us", "eu", "ap"}, cfg.Regions)
	assert.Equal(t, "istio-system", cfg.MeshNamespace)
	assert.Equal(t, "cert-manager", cfg.CertManagerNamespace)
	assert.Equal(t, "mesh-gateway", cfg.GatewayName)
	assert.Equal(t, "./cluster-state", cfg.BackupDir)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
}
