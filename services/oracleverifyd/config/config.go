package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"cosmossdk.io/math"
	"gopkg.in/yaml.v3"

	"oraclecheck/chain"
)

// RPCEnvPrefix prefixes the per-chain RPC override variables, e.g.
// ORACLEVERIFY_RPC_8453.
const RPCEnvPrefix = "ORACLEVERIFY_RPC_"

// EnvVar names the deployment environment variable.
const EnvVar = "ORACLEVERIFY_ENV"

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	if value.Value == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value.Value, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures runtime configuration for oracleverifyd.
type Config struct {
	ListenAddress string            `yaml:"listen"`
	Environment   string            `yaml:"env"`
	LogLevel      string            `yaml:"log_level"`
	DatabasePath  string            `yaml:"database"`
	MeteringPath  string            `yaml:"metering"`
	RPC           map[uint64]string `yaml:"rpc"`
	Whitelist     WhitelistConfig   `yaml:"whitelist"`
	Directory     DirectoryConfig   `yaml:"directory"`
	Verify        VerifyConfig      `yaml:"verify"`
	Registry      RegistryConfig    `yaml:"registry"`
	RateLimit     RateLimitConfig   `yaml:"rate_limit"`
	Telemetry     TelemetryConfig   `yaml:"telemetry"`
}

// WhitelistConfig points at the curated TOML override.
type WhitelistConfig struct {
	CuratedPath string `yaml:"curated"`
}

// DirectoryConfig configures the market directory client.
type DirectoryConfig struct {
	Endpoint string   `yaml:"endpoint"`
	Timeout  Duration `yaml:"timeout"`
}

// VerifyConfig tunes verification runs.
type VerifyConfig struct {
	// ThresholdPercent is the accepted absolute price deviation.
	ThresholdPercent string   `yaml:"threshold_percent"`
	RunTimeout       Duration `yaml:"run_timeout"`
	SessionTTL       Duration `yaml:"session_ttl"`
}

// RegistryConfig controls the deployment indexer.
type RegistryConfig struct {
	Interval Duration `yaml:"interval"`
	LogChunk uint64   `yaml:"log_chunk"`
	Disabled bool     `yaml:"disabled"`
}

// RateLimitConfig is a per-client token bucket.
type RateLimitConfig struct {
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

// TelemetryConfig configures the OTLP exporters.
type TelemetryConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	Traces      bool    `yaml:"traces"`
	Metrics     bool    `yaml:"metrics"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Option customises Load.
type Option func(*loadOptions)

type loadOptions struct {
	lookupEnv func(string) (string, bool)
	environ   func() []string
}

// WithEnv replaces the process environment, mainly for tests.
func WithEnv(env map[string]string) Option {
	return func(o *loadOptions) {
		o.lookupEnv = func(key string) (string, bool) {
			v, ok := env[key]
			return v, ok
		}
		o.environ = func() []string {
			out := make([]string, 0, len(env))
			for k, v := range env {
				out = append(out, k+"="+v)
			}
			return out
		}
	}
}

// Load reads configuration from path and applies environment overrides.
func Load(path string, opts ...Option) (Config, error) {
	o := loadOptions{lookupEnv: os.LookupEnv, environ: os.Environ}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	if err := applyEnv(&cfg, o); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, o loadOptions) error {
	if env, ok := o.lookupEnv(EnvVar); ok && strings.TrimSpace(env) != "" {
		cfg.Environment = strings.TrimSpace(env)
	}
	for _, kv := range o.environ() {
		key, value, found := strings.Cut(kv, "=")
		if !found || !strings.HasPrefix(key, RPCEnvPrefix) {
			continue
		}
		chainID, err := strconv.ParseUint(strings.TrimPrefix(key, RPCEnvPrefix), 10, 64)
		if err != nil {
			return fmt.Errorf("%s: invalid chain id", key)
		}
		if cfg.RPC == nil {
			cfg.RPC = make(map[uint64]string)
		}
		cfg.RPC[chainID] = strings.TrimSpace(value)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7090"
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = "/var/data/oracleverifyd.sqlite"
	}
	if cfg.MeteringPath == "" {
		cfg.MeteringPath = "/var/data/oracleverifyd-metering.db"
	}
	if cfg.Directory.Timeout.Duration == 0 {
		cfg.Directory.Timeout.Duration = 15 * time.Second
	}
	if strings.TrimSpace(cfg.Verify.ThresholdPercent) == "" {
		cfg.Verify.ThresholdPercent = "10"
	}
	if cfg.Verify.RunTimeout.Duration == 0 {
		cfg.Verify.RunTimeout.Duration = 30 * time.Second
	}
	if cfg.Verify.SessionTTL.Duration == 0 {
		cfg.Verify.SessionTTL.Duration = 30 * time.Minute
	}
	if cfg.Registry.Interval.Duration == 0 {
		cfg.Registry.Interval.Duration = 5 * time.Minute
	}
	if cfg.Registry.LogChunk == 0 {
		cfg.Registry.LogChunk = chain.DefaultLogChunk
	}
	if cfg.RateLimit.RatePerSecond == 0 {
		cfg.RateLimit.RatePerSecond = 5
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 20
	}
}

func validate(cfg Config) error {
	var errs []error
	if len(cfg.RPC) == 0 {
		errs = append(errs, errors.New("at least one rpc endpoint must be configured"))
	}
	for chainID, endpoint := range cfg.RPC {
		if _, err := chain.LookupNetwork(chainID); err != nil {
			errs = append(errs, fmt.Errorf("rpc: %w", err))
		}
		if strings.TrimSpace(endpoint) == "" {
			errs = append(errs, fmt.Errorf("rpc: empty endpoint for chain %d", chainID))
		}
	}
	if _, err := cfg.Threshold(); err != nil {
		errs = append(errs, err)
	}
	if cfg.RateLimit.RatePerSecond < 0 || cfg.RateLimit.Burst < 0 {
		errs = append(errs, errors.New("rate_limit values must not be negative"))
	}
	durations := []struct {
		name  string
		value time.Duration
	}{
		{"directory.timeout", cfg.Directory.Timeout.Duration},
		{"verify.run_timeout", cfg.Verify.RunTimeout.Duration},
		{"verify.session_ttl", cfg.Verify.SessionTTL.Duration},
		{"registry.interval", cfg.Registry.Interval.Duration},
	}
	for _, d := range durations {
		if d.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", d.name, d.value))
		}
	}
	if r := cfg.Telemetry.SampleRatio; r < 0 || r > 1 {
		errs = append(errs, errors.New("telemetry.sample_ratio must be within [0, 1]"))
	}
	return errors.Join(errs...)
}

// Threshold parses the deviation threshold.
func (c Config) Threshold() (math.LegacyDec, error) {
	dec, err := math.LegacyNewDecFromStr(strings.TrimSpace(c.Verify.ThresholdPercent))
	if err != nil {
		return math.LegacyDec{}, fmt.Errorf("verify.threshold_percent: %w", err)
	}
	if !dec.IsPositive() {
		return math.LegacyDec{}, fmt.Errorf("verify.threshold_percent must be positive")
	}
	return dec, nil
}
