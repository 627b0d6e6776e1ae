package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FLOORD_"

// Default returns a configuration that runs an in-memory instance with the
// default pool and rate curve.
func Default() *Config {
	return &Config{
		Service: "floord",
		Env:     "local",
		Server: Server{
			ListenAddress:      ":8080",
			ReadTimeoutSecs:    10,
			WriteTimeoutSecs:   15,
			RateLimitPerSecond: 20,
			RateLimitBurst:     40,
			AllowedOrigins:     []string{},
			EnableMetrics:      true,
		},
		Auth: Auth{
			Issuer:         "floord",
			Audience:       "floorlend",
			ClockSkewSecs:  30,
			TokenTTLMinute: 60,
		},
		Storage:   Storage{Backend: "memory"},
		Journal:   Journal{Driver: "sqlite", Path: "floord-journal.db"},
		Logging:   Logging{Level: "info", MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 30},
		Telemetry: Telemetry{Endpoint: "localhost:4318"},
		Webhook: Webhook{
			Events:      []string{"lending.delinquent.marked", "lending.recovered", "vault.written_off"},
			MaxAttempts: 5,
			QueueSize:   256,
		},
		Assets: Assets{
			FloorSymbol: "FLR",
			QuoteSymbol: "QUOTE",
			Allocations: []Allocation{},
		},
		Pool: Pool{
			ReserveFloor:   "1000000",
			ReserveQuote:   "10000",
			FeeStartBps:    300,
			FeeEndBps:      30,
			FeeDecayTarget: "100000",
		},
		Vault: Vault{
			BaseRate:   "0.02",
			Slope:      "0.05",
			Kink:       "0.8",
			Multiplier: "3",
		},
		Ledger: Ledger{GracePeriod: "72h", RecoveryBountyBps: 50},
	}
}

// Load reads the configuration at path. TOML is the default format; files
// ending in .yaml or .yml are decoded as YAML. A missing file yields the
// defaults. Unknown keys are rejected, env overrides applied last.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			if err := decode(path, data, cfg); err != nil {
				return nil, fmt.Errorf("config %s: %w", path, err)
			}
		}
	}
	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	normalize(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		return nil
	default:
		meta, err := toml.Decode(string(data), cfg)
		if err != nil {
			return err
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, key := range undecoded {
				keys = append(keys, key.String())
			}
			return fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
		}
		return nil
	}
}

// applyEnv overrides secrets and deployment knobs from FLOORD_* variables.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	str("ENV", &cfg.Env)
	str("LISTEN_ADDRESS", &cfg.Server.ListenAddress)
	str("AUTH_HMAC_SECRET", &cfg.Auth.HMACSecret)
	str("STORAGE_BACKEND", &cfg.Storage.Backend)
	str("STORAGE_PATH", &cfg.Storage.Path)
	str("JOURNAL_DRIVER", &cfg.Journal.Driver)
	str("JOURNAL_PATH", &cfg.Journal.Path)
	str("WEBHOOK_URL", &cfg.Webhook.URL)
	str("WEBHOOK_SECRET", &cfg.Webhook.Secret)
	str("LOG_LEVEL", &cfg.Logging.Level)
	str("OTLP_ENDPOINT", &cfg.Telemetry.Endpoint)
	str("OTLP_HEADERS", &cfg.Telemetry.Headers)
	if v, ok := lookup(EnvPrefix + "AUTH_ENABLED"); ok {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sAUTH_ENABLED: %w", EnvPrefix, err)
		}
		cfg.Auth.Enabled = enabled
	}
	return nil
}

func normalize(cfg *Config) {
	cfg.Service = strings.TrimSpace(cfg.Service)
	if cfg.Service == "" {
		cfg.Service = "floord"
	}
	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "memory"
	}
	cfg.Journal.Driver = strings.ToLower(strings.TrimSpace(cfg.Journal.Driver))
	if cfg.Journal.Driver == "" {
		cfg.Journal.Driver = "sqlite"
	}
	cfg.Assets.FloorSymbol = strings.ToUpper(strings.TrimSpace(cfg.Assets.FloorSymbol))
	cfg.Assets.QuoteSymbol = strings.ToUpper(strings.TrimSpace(cfg.Assets.QuoteSymbol))
	if cfg.Server.AllowedOrigins == nil {
		cfg.Server.AllowedOrigins = []string{}
	}
	cfg.Webhook.URL = strings.TrimSpace(cfg.Webhook.URL)
	if cfg.Webhook.Events == nil {
		cfg.Webhook.Events = []string{}
	}
	if cfg.Assets.Allocations == nil {
		cfg.Assets.Allocations = []Allocation{}
	}
}

// Write persists cfg as TOML, creating parent directories as needed.
func Write(path string, cfg *Config) error {
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
