package config

// Server controls the HTTP listener and request admission.
type Server struct {
	ListenAddress      string   `toml:"listen_address" yaml:"listen_address"`
	ReadTimeoutSecs    int      `toml:"read_timeout_secs" yaml:"read_timeout_secs"`
	WriteTimeoutSecs   int      `toml:"write_timeout_secs" yaml:"write_timeout_secs"`
	RateLimitPerSecond float64  `toml:"rate_limit_per_second" yaml:"rate_limit_per_second"`
	RateLimitBurst     int      `toml:"rate_limit_burst" yaml:"rate_limit_burst"`
	AllowedOrigins     []string `toml:"allowed_origins" yaml:"allowed_origins"`
	EnableMetrics      bool     `toml:"enable_metrics" yaml:"enable_metrics"`
}

// Auth configures bearer-token verification for mutating routes. The token
// subject is the caller's account address.
type Auth struct {
	Enabled        bool   `toml:"enabled" yaml:"enabled"`
	HMACSecret     string `toml:"hmac_secret" yaml:"hmac_secret"`
	Issuer         string `toml:"issuer" yaml:"issuer"`
	Audience       string `toml:"audience" yaml:"audience"`
	ClockSkewSecs  int    `toml:"clock_skew_secs" yaml:"clock_skew_secs"`
	TokenTTLMinute int    `toml:"token_ttl_minutes" yaml:"token_ttl_minutes"`
}

// Storage selects the state store backend.
type Storage struct {
	Backend string `toml:"backend" yaml:"backend"`
	Path    string `toml:"path" yaml:"path"`
}

// Journal configures the event journal. Path is a sqlite file for the sqlite
// driver and a connection string for postgres.
type Journal struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Driver  string `toml:"driver" yaml:"driver"`
	Path    string `toml:"path" yaml:"path"`
}

// Webhook forwards committed protocol events to an HTTP endpoint. An empty
// Events list forwards every event type.
type Webhook struct {
	URL         string   `toml:"url" yaml:"url"`
	Secret      string   `toml:"secret" yaml:"secret"`
	Events      []string `toml:"events" yaml:"events"`
	MaxAttempts int      `toml:"max_attempts" yaml:"max_attempts"`
	QueueSize   int      `toml:"queue_size" yaml:"queue_size"`
}

// Logging configures the structured logger.
type Logging struct {
	Level      string `toml:"level" yaml:"level"`
	File       string `toml:"file" yaml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `toml:"compress" yaml:"compress"`
}

// Telemetry configures the OTLP exporters.
type Telemetry struct {
	Endpoint    string  `toml:"endpoint" yaml:"endpoint"`
	Insecure    bool    `toml:"insecure" yaml:"insecure"`
	Traces      bool    `toml:"traces" yaml:"traces"`
	Metrics     bool    `toml:"metrics" yaml:"metrics"`
	SampleRatio float64 `toml:"sample_ratio" yaml:"sample_ratio"`
	Headers     string  `toml:"headers" yaml:"headers"`
}

// Allocation is a genesis balance. Amount is a decimal in whole units.
type Allocation struct {
	Address string `toml:"address" yaml:"address"`
	Symbol  string `toml:"symbol" yaml:"symbol"`
	Amount  string `toml:"amount" yaml:"amount"`
}

// Assets names the collateral and quote assets and seeds balances.
type Assets struct {
	FloorSymbol    string       `toml:"floor_symbol" yaml:"floor_symbol"`
	QuoteSymbol    string       `toml:"quote_symbol" yaml:"quote_symbol"`
	FloorSupplyCap string       `toml:"floor_supply_cap" yaml:"floor_supply_cap"`
	Allocations    []Allocation `toml:"allocations" yaml:"allocations"`
}

// Pool sets the genesis reserves and fee schedule. Amounts are decimals in
// whole units.
type Pool struct {
	ReserveFloor   string `toml:"reserve_floor" yaml:"reserve_floor"`
	ReserveQuote   string `toml:"reserve_quote" yaml:"reserve_quote"`
	FeeStartBps    uint64 `toml:"fee_start_bps" yaml:"fee_start_bps"`
	FeeEndBps      uint64 `toml:"fee_end_bps" yaml:"fee_end_bps"`
	FeeDecayTarget string `toml:"fee_decay_target" yaml:"fee_decay_target"`
	Treasury       string `toml:"treasury" yaml:"treasury"`
}

// Vault sets the kinked rate curve. Values are decimal fractions ("0.02").
type Vault struct {
	BaseRate   string `toml:"base_rate" yaml:"base_rate"`
	Slope      string `toml:"slope" yaml:"slope"`
	Kink       string `toml:"kink" yaml:"kink"`
	Multiplier string `toml:"multiplier" yaml:"multiplier"`
}

// Ledger configures delinquency handling.
type Ledger struct {
	GracePeriod       string `toml:"grace_period" yaml:"grace_period"`
	RecoveryBountyBps uint64 `toml:"recovery_bounty_bps" yaml:"recovery_bounty_bps"`
}

type Pauses struct {
	Pool   bool `toml:"pool" yaml:"pool"`
	Ledger bool `toml:"ledger" yaml:"ledger"`
	Vault  bool `toml:"vault" yaml:"vault"`
}

// Config bundles every section of the daemon configuration.
type Config struct {
	Service   string    `toml:"service" yaml:"service"`
	Env       string    `toml:"env" yaml:"env"`
	Server    Server    `toml:"server" yaml:"server"`
	Auth      Auth      `toml:"auth" yaml:"auth"`
	Storage   Storage   `toml:"storage" yaml:"storage"`
	Journal   Journal   `toml:"journal" yaml:"journal"`
	Webhook   Webhook   `toml:"webhook" yaml:"webhook"`
	Logging   Logging   `toml:"logging" yaml:"logging"`
	Telemetry Telemetry `toml:"telemetry" yaml:"telemetry"`
	Assets    Assets    `toml:"assets" yaml:"assets"`
	Pool      Pool      `toml:"pool" yaml:"pool"`
	Vault     Vault     `toml:"vault" yaml:"vault"`
	Ledger    Ledger    `toml:"ledger" yaml:"ledger"`
	Pauses    Pauses    `toml:"pauses" yaml:"pauses"`
}
