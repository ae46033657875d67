package config

import (
	"fmt"

	"tokenescrow/storage"
)

// MinJWTSecretLength is the shortest HMAC secret accepted when auth is on.
const MinJWTSecretLength = 32

// Validate checks the normalized configuration.
func (c *Config) Validate() error {
	if err := c.Schedule().Validate(); err != nil {
		return fmt.Errorf("escrow: %w", err)
	}
	switch c.Storage.Backend {
	case storage.BackendLevelDB, storage.BackendBolt, storage.BackendMemory:
	default:
		return fmt.Errorf("storage: unknown backend %q", c.Storage.Backend)
	}
	if c.RPC.RequireAuth && len(c.RPC.JWTSecret) < MinJWTSecretLength {
		return fmt.Errorf("rpc: JWTSecret must be at least %d bytes when RequireAuth is set", MinJWTSecretLength)
	}
	if c.RPC.RequestsPerMinute < 0 || c.RPC.Burst < 0 {
		return fmt.Errorf("rpc: rate limits must be non-negative")
	}
	if c.Logging.MaxSizeMB < 0 || c.Logging.MaxBackups < 0 || c.Logging.MaxAgeDays < 0 {
		return fmt.Errorf("logging: rotation limits must be non-negative")
	}
	if c.Environment == "prod" && !c.RPC.RequireAuth {
		return fmt.Errorf("rpc: RequireAuth must be enabled in prod")
	}
	return nil
}
