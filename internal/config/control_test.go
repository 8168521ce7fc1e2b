package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestControlPlaneConfig_Validate(t *testing.T) {
	t.Parallel()

	valid := func() ControlPlaneConfig {
		return ControlPlaneConfig{
			Host:         "0.0.0.0",
			Port:         "8080",
			BuildTimeout: time.Minute,
			APIKeyHash:   "5dec7e1c36e8ec7f526cfa8ff6dc788daad76f6dd34467662eb47990dca6b55d",
			TLSEnabled:   true,
			TLSCert:      "/certs/cert.pem",
			TLSKey:       "/certs/key.pem",
		}
	}

	tests := []struct {
		name        string
		mutate      func(c *ControlPlaneConfig)
		environment string
		wantErr     string
	}{
		{name: "valid production", mutate: func(*ControlPlaneConfig) {}, environment: "production"},
		{
			name:        "no key and no TLS in development",
			mutate:      func(c *ControlPlaneConfig) { c.APIKeyHash, c.TLSEnabled = "", false },
			environment: "development",
		},
		{
			name:        "missing key in production",
			mutate:      func(c *ControlPlaneConfig) { c.APIKeyHash = "" },
			environment: "production",
			wantErr:     "API key hash is required",
		},
		{
			name:        "TLS disabled in production",
			mutate:      func(c *ControlPlaneConfig) { c.TLSEnabled = false },
			environment: "production",
			wantErr:     "TLS must be enabled",
		},
		{
			name:        "short hash",
			mutate:      func(c *ControlPlaneConfig) { c.APIKeyHash = "abc" },
			environment: "development",
			wantErr:     "must be 64 characters",
		},
		{
			name:        "non hex hash",
			mutate:      func(c *ControlPlaneConfig) { c.APIKeyHash = "zz" + c.APIKeyHash[2:] },
			environment: "development",
			wantErr:     "valid hexadecimal",
		},
		{
			name:        "TLS without files",
			mutate:      func(c *ControlPlaneConfig) { c.TLSKey = "" },
			environment: "staging",
			wantErr:     "cert or key file",
		},
		{
			name:        "port out of range",
			mutate:      func(c *ControlPlaneConfig) { c.Port = "70000" },
			environment: "development",
			wantErr:     "between 1 and 65535",
		},
		{
			name:        "host with whitespace",
			mutate:      func(c *ControlPlaneConfig) { c.Host = " localhost" },
			environment: "development",
			wantErr:     "whitespace",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := valid()
			tt.mutate(&cfg)

			err := cfg.Validate(tt.environment)

			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestControlPlaneConfig_Timeouts(t *testing.T) {
	runLoadCases(t, []loadCase{
		{
			name:    "Should derive write timeout from build timeout",
			envVars: map[string]string{"BIFROST_SERVER_CONTROL_BUILD_TIMEOUT": "1m"},
			want: func(t *testing.T, cfg *Config) {
				assert.Equal(t, time.Minute, cfg.Server.Control.BuildTimeout)
				assert.Equal(t, 70*time.Second, cfg.Server.Control.WriteTimeout())
				assert.Equal(t, "0.0.0.0:8080", cfg.Server.Control.Addr())
			},
		},
		{
			name:    "Should reject zero build timeout",
			envVars: map[string]string{"BIFROST_SERVER_CONTROL_BUILD_TIMEOUT": "0s"},
			wantErr: "validation error",
		},
	})
}
