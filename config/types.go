package config

// Escrow controls the vesting schedule applied when delivery is confirmed.
type Escrow struct {
	FirstTrancheDays  uint32 `toml:"FirstTrancheDays"`
	SecondTrancheDays uint32 `toml:"SecondTrancheDays"`
}

// RPC configures the JSON-RPC listener and its guards.
type RPC struct {
	JWTSecret         string   `toml:"JWTSecret"`
	JWTIssuer         string   `toml:"JWTIssuer"`
	RequireAuth       bool     `toml:"RequireAuth"`
	RequestsPerMinute int      `toml:"RequestsPerMinute"`
	Burst             int      `toml:"Burst"`
	AllowedOrigins    []string `toml:"AllowedOrigins"`
	ReadHeaderTimeout int      `toml:"ReadHeaderTimeout"`
	ShutdownTimeout   int      `toml:"ShutdownTimeout"`
}

// Telemetry configures the OTLP exporters.
type Telemetry struct {
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Headers  string `toml:"Headers"`
	Traces   bool   `toml:"Traces"`
	Metrics  bool   `toml:"Metrics"`
}

// Storage selects the key/value backend.
type Storage struct {
	Backend string `toml:"Backend"`
}

// Logging configures the optional rotating log file.
type Logging struct {
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}
