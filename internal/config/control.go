package config

import (
	"encoding/hex"
	"fmt"
	"time"
)

// ControlPlaneConfig configures the HTTP control plane (builds, datafiles, explain).
type ControlPlaneConfig struct {
	Host              string        `envconfig:"HOST" default:"0.0.0.0"`
	Port              string        `envconfig:"PORT" default:"8080"`
	ReadTimeout       time.Duration `envconfig:"READ_TIMEOUT" default:"10s"`
	ReadHeaderTimeout time.Duration `envconfig:"READ_HEADER_TIMEOUT" default:"5s"`
	IdleTimeout       time.Duration `envconfig:"IDLE_TIMEOUT" default:"60s"`
	MaxHeaderBytes    int           `envconfig:"MAX_HEADER_BYTES" default:"524288" validate:"min=1"`

	// BuildTimeout bounds a build triggered through POST /api/v1/builds. The
	// server write timeout is derived from it.
	BuildTimeout time.Duration `envconfig:"BUILD_TIMEOUT" default:"2m" validate:"gt=0"`

	// DatafileCacheSize and DatafileCacheTTL bound the in-memory L1 in front of Redis.
	DatafileCacheSize int           `envconfig:"DATAFILE_CACHE_SIZE" default:"1000" validate:"min=1"`
	DatafileCacheTTL  time.Duration `envconfig:"DATAFILE_CACHE_TTL" default:"5m" validate:"gt=0"`

	// APIKeyHash is the hex SHA-256 of the key clients send in X-API-Key.
	// Empty disables authentication outside production.
	APIKeyHash string `envconfig:"API_KEY_HASH"`
	TLSEnabled bool   `envconfig:"TLS_ENABLED" default:"false"`
	TLSCert    string `envconfig:"TLS_CERT_FILE"`
	TLSKey     string `envconfig:"TLS_KEY_FILE"`
}

// Addr returns the listen address.
func (c *ControlPlaneConfig) Addr() string {
	return c.Host + ":" + c.Port
}

// WriteTimeout leaves room for the slowest handler, a synchronous build.
func (c *ControlPlaneConfig) WriteTimeout() time.Duration {
	return c.BuildTimeout + 10*time.Second
}

// Validate checks the listener and, in production, the API key and TLS settings.
func (c *ControlPlaneConfig) Validate(environment string) error {
	if err := validatePort(c.Port, "control plane"); err != nil {
		return err
	}
	if err := validateHost(c.Host, "control plane"); err != nil {
		return err
	}

	if c.APIKeyHash != "" {
		if err := validateSHA256Hash(c.APIKeyHash); err != nil {
			return fmt.Errorf("invalid API key hash: %w", err)
		}
	}

	if environment == EnvironmentProduction {
		if c.APIKeyHash == "" {
			return fmt.Errorf("API key hash is required in production environment")
		}
		if !c.TLSEnabled {
			return fmt.Errorf("TLS must be enabled in production environment")
		}
	}

	if c.TLSEnabled && (c.TLSCert == "" || c.TLSKey == "") {
		return fmt.Errorf("TLS enabled but cert or key file not specified")
	}

	return nil
}

func validateSHA256Hash(hash string) error {
	if len(hash) != 64 {
		return fmt.Errorf("SHA-256 hash must be 64 characters, got %d", len(hash))
	}
	if _, err := hex.DecodeString(hash); err != nil {
		return fmt.Errorf("hash must be valid hexadecimal: %w", err)
	}
	return nil
}
