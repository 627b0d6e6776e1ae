package config

import (
	"fmt"
	"strings"

	"floorlend/storage"
	"floorlend/storage/journal"
)

// Validate checks the sections that can be verified without building the
// protocol parameters. Amount and address syntax is checked by Params.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil")
	}
	if strings.TrimSpace(cfg.Server.ListenAddress) == "" {
		return fmt.Errorf("server: listen_address required")
	}
	if cfg.Server.RateLimitPerSecond < 0 || cfg.Server.RateLimitBurst < 0 {
		return fmt.Errorf("server: rate limits must be non-negative")
	}
	if cfg.Server.RateLimitPerSecond > 0 && cfg.Server.RateLimitBurst == 0 {
		return fmt.Errorf("server: rate_limit_burst required when rate limiting")
	}
	if cfg.Auth.Enabled && len(strings.TrimSpace(cfg.Auth.HMACSecret)) < 32 {
		return fmt.Errorf("auth: hmac_secret must be at least 32 bytes when auth is enabled")
	}
	switch cfg.Storage.Backend {
	case storage.BackendMemory:
	case storage.BackendLevelDB, storage.BackendBolt:
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			return fmt.Errorf("storage: path required for %s backend", cfg.Storage.Backend)
		}
	default:
		return fmt.Errorf("storage: unknown backend %q", cfg.Storage.Backend)
	}
	if cfg.Journal.Enabled {
		switch cfg.Journal.Driver {
		case journal.DriverSQLite, journal.DriverPostgres:
		default:
			return fmt.Errorf("journal: unknown driver %q", cfg.Journal.Driver)
		}
		if strings.TrimSpace(cfg.Journal.Path) == "" {
			return fmt.Errorf("journal: path required when enabled")
		}
	}
	if cfg.Webhook.URL != "" {
		if len(strings.TrimSpace(cfg.Webhook.Secret)) < 16 {
			return fmt.Errorf("webhook: secret must be at least 16 bytes when url is set")
		}
		if cfg.Webhook.MaxAttempts < 0 || cfg.Webhook.QueueSize < 0 {
			return fmt.Errorf("webhook: max_attempts and queue_size must be non-negative")
		}
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: sample_ratio must be within [0,1]")
	}
	if cfg.Assets.FloorSymbol == "" || cfg.Assets.QuoteSymbol == "" {
		return fmt.Errorf("assets: floor_symbol and quote_symbol required")
	}
	if cfg.Pool.FeeStartBps >= 10_000 || cfg.Pool.FeeEndBps > cfg.Pool.FeeStartBps {
		return fmt.Errorf("pool: fee schedule requires end <= start < 10000")
	}
	if cfg.Ledger.RecoveryBountyBps >= 10_000 {
		return fmt.Errorf("ledger: recovery_bounty_bps must be below 10000")
	}
	return nil
}
