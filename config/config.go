package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"tokenescrow/native/escrow"
	"tokenescrow/storage"
)

const (
	envEnvironment = "ESCROW_ENV"
	envJWTSecret   = "ESCROW_JWT_SECRET"
)

type Config struct {
	RPCAddress  string `toml:"RPCAddress"`
	DataDir     string `toml:"DataDir"`
	NetworkName string `toml:"NetworkName"`
	GenesisFile string `toml:"GenesisFile"`
	Environment string `toml:"Environment"`

	Storage   Storage   `toml:"Storage"`
	Logging   Logging   `toml:"Logging"`
	Escrow    Escrow    `toml:"Escrow"`
	RPC       RPC       `toml:"RPC"`
	Telemetry Telemetry `toml:"Telemetry"`
}

// Load loads the configuration from the given path, writing a default file
// when none exists yet. Environment overrides are applied after decoding.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg, err = createDefault(path)
		if err != nil {
			return nil, err
		}
	} else {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, err
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config file %s: unknown key %q", path, undecoded[0].String())
		}
	}
	cfg.applyEnv()
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns the configuration written for a fresh install.
func Default() *Config {
	return &Config{
		RPCAddress:  "127.0.0.1:8545",
		DataDir:     "./escrow-data",
		NetworkName: "escrow-local",
		Environment: "dev",
		Storage:     Storage{Backend: storage.BackendLevelDB},
		Logging:     Logging{MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 28},
		Escrow:      Escrow{FirstTrancheDays: 182, SecondTrancheDays: 365},
		RPC: RPC{
			JWTIssuer:         "escrowctl",
			RequestsPerMinute: 120,
			Burst:             20,
			ReadHeaderTimeout: 5,
			ShutdownTimeout:   10,
		},
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func (c *Config) applyEnv() {
	if env := strings.TrimSpace(os.Getenv(envEnvironment)); env != "" {
		c.Environment = env
	}
	if secret := strings.TrimSpace(os.Getenv(envJWTSecret)); secret != "" {
		c.RPC.JWTSecret = secret
	}
}

func (c *Config) normalize() {
	defaults := Default()
	if strings.TrimSpace(c.RPCAddress) == "" {
		c.RPCAddress = defaults.RPCAddress
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = defaults.DataDir
	}
	if strings.TrimSpace(c.NetworkName) == "" {
		c.NetworkName = defaults.NetworkName
	}
	c.Environment = strings.ToLower(strings.TrimSpace(c.Environment))
	if c.Environment == "" {
		c.Environment = defaults.Environment
	}
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = defaults.Storage.Backend
	}
	if c.Escrow.FirstTrancheDays == 0 {
		c.Escrow.FirstTrancheDays = defaults.Escrow.FirstTrancheDays
	}
	if c.Escrow.SecondTrancheDays == 0 {
		c.Escrow.SecondTrancheDays = defaults.Escrow.SecondTrancheDays
	}
	if c.RPC.RequestsPerMinute == 0 {
		c.RPC.RequestsPerMinute = defaults.RPC.RequestsPerMinute
	}
	if c.RPC.Burst == 0 {
		c.RPC.Burst = defaults.RPC.Burst
	}
	if c.RPC.ReadHeaderTimeout == 0 {
		c.RPC.ReadHeaderTimeout = defaults.RPC.ReadHeaderTimeout
	}
	if c.RPC.ShutdownTimeout == 0 {
		c.RPC.ShutdownTimeout = defaults.RPC.ShutdownTimeout
	}
	if strings.TrimSpace(c.RPC.JWTIssuer) == "" {
		c.RPC.JWTIssuer = defaults.RPC.JWTIssuer
	}
}

// Schedule converts the configured tranche days into an escrow schedule.
func (c *Config) Schedule() escrow.Schedule {
	return escrow.Schedule{
		FirstDelay:  time.Duration(c.Escrow.FirstTrancheDays) * 24 * time.Hour,
		SecondDelay: time.Duration(c.Escrow.SecondTrancheDays) * 24 * time.Hour,
	}
}

// ShutdownTimeout returns the graceful shutdown budget.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.RPC.ShutdownTimeout) * time.Second
}

// ReadHeaderTimeout returns the HTTP header read timeout.
func (c *Config) ReadHeaderTimeout() time.Duration {
	return time.Duration(c.RPC.ReadHeaderTimeout) * time.Second
}
