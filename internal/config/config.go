// Package config loads triad settings from TRIAD_* environment variables
// and an optional YAML file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Health snapshots are reused for at least MinHealthTTL and at most
// MaxHealthTTL.
const (
	MinHealthTTL = 30 * time.Second
	MaxHealthTTL = 60 * time.Second
)

type Config struct {
	Log     LogConfig
	Cache   CacheConfig
	Ops     OpsConfig
	Chain   ChainConfig
	Media   MediaConfig
	Health  HealthConfig
	Saga    SagaConfig
	Monitor MonitorConfig
}

type LogConfig struct {
	Level string
	JSON  bool
}

type CacheConfig struct {
	Driver string // sqlite3 | postgres
	DSN    string
}

type OpsConfig struct {
	Backend       string // sqlite | etcd
	Path          string
	EtcdEndpoints []string
	EtcdPrefix    string
}

type ChainConfig struct {
	Path     string
	Network  string
	Contract string
	// SignerAddress enables ledger recreation during repair.
	SignerAddress string
	ManualMining  bool
}

type MediaConfig struct {
	APIURL     string
	GatewayURL string
	Token      string
}

type HealthConfig struct {
	TTL           time.Duration
	Timeout       time.Duration
	DegradedAfter time.Duration
}

type SagaConfig struct {
	VerifyAttempts int
	VerifyDelay    time.Duration
	OrphanGrace    time.Duration
	PreparedTTL    time.Duration
	MaxCapacity    int64
}

type MonitorConfig struct {
	SweepInterval    time.Duration
	PollInterval     time.Duration
	LatencyThreshold time.Duration
	ErrorRate        float64
	MinSamples       int64
	Cooldown         time.Duration
	WebhookURL       string
	Source           string
}

// Load reads the environment and, when path is set, a YAML file. Environment
// variables win over the file; TRIAD_CACHE_DSN overrides cache.dsn.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("triad")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := Config{
		Log: LogConfig{
			Level: strings.TrimSpace(v.GetString("log.level")),
			JSON:  v.GetBool("log.json"),
		},
		Cache: CacheConfig{
			Driver: strings.ToLower(strings.TrimSpace(v.GetString("cache.driver"))),
			DSN:    strings.TrimSpace(v.GetString("cache.dsn")),
		},
		Ops: OpsConfig{
			Backend:       strings.ToLower(strings.TrimSpace(v.GetString("ops.backend"))),
			Path:          strings.TrimSpace(v.GetString("ops.path")),
			EtcdEndpoints: splitList(v.GetStringSlice("ops.etcd_endpoints")),
			EtcdPrefix:    strings.TrimSpace(v.GetString("ops.etcd_prefix")),
		},
		Chain: ChainConfig{
			Path:          strings.TrimSpace(v.GetString("chain.path")),
			Network:       strings.TrimSpace(v.GetString("chain.network")),
			Contract:      strings.ToLower(strings.TrimSpace(v.GetString("chain.contract"))),
			SignerAddress: strings.ToLower(strings.TrimSpace(v.GetString("chain.signer"))),
			ManualMining:  v.GetBool("chain.manual_mining"),
		},
		Media: MediaConfig{
			APIURL:     strings.TrimSpace(v.GetString("media.api_url")),
			GatewayURL: strings.TrimSpace(v.GetString("media.gateway_url")),
			Token:      strings.TrimSpace(v.GetString("media.token")),
		},
		Health: HealthConfig{
			TTL:           clampTTL(v.GetDuration("health.ttl")),
			Timeout:       v.GetDuration("health.timeout"),
			DegradedAfter: v.GetDuration("health.degraded_after"),
		},
		Saga: SagaConfig{
			VerifyAttempts: v.GetInt("saga.verify_attempts"),
			VerifyDelay:    v.GetDuration("saga.verify_delay"),
			OrphanGrace:    v.GetDuration("saga.orphan_grace"),
			PreparedTTL:    v.GetDuration("saga.prepared_ttl"),
			MaxCapacity:    v.GetInt64("saga.max_capacity"),
		},
		Monitor: MonitorConfig{
			SweepInterval:    v.GetDuration("monitor.sweep_interval"),
			PollInterval:     v.GetDuration("monitor.poll_interval"),
			LatencyThreshold: v.GetDuration("monitor.latency_threshold"),
			ErrorRate:        v.GetFloat64("monitor.error_rate"),
			MinSamples:       v.GetInt64("monitor.min_samples"),
			Cooldown:         v.GetDuration("monitor.cooldown"),
			WebhookURL:       strings.TrimSpace(v.GetString("monitor.webhook_url")),
			Source:           strings.TrimSpace(v.GetString("monitor.source")),
		},
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)

	v.SetDefault("cache.driver", "sqlite3")
	v.SetDefault("cache.dsn", "data/cache.db")

	v.SetDefault("ops.backend", "sqlite")
	v.SetDefault("ops.path", "data/operations.db")
	v.SetDefault("ops.etcd_endpoints", []string{})
	v.SetDefault("ops.etcd_prefix", "")

	v.SetDefault("chain.path", "data/chain.db")
	v.SetDefault("chain.network", "triad-dev-1")
	v.SetDefault("chain.contract", "0x00000000000000000000000000000000000c0de1")
	v.SetDefault("chain.signer", "")
	v.SetDefault("chain.manual_mining", false)

	v.SetDefault("media.api_url", "http://127.0.0.1:5080")
	v.SetDefault("media.gateway_url", "")
	v.SetDefault("media.token", "")

	v.SetDefault("health.ttl", MinHealthTTL)
	v.SetDefault("health.timeout", 5*time.Second)
	v.SetDefault("health.degraded_after", time.Second)

	v.SetDefault("saga.verify_attempts", 5)
	v.SetDefault("saga.verify_delay", 2*time.Second)
	v.SetDefault("saga.orphan_grace", 10*time.Minute)
	v.SetDefault("saga.prepared_ttl", 24*time.Hour)
	v.SetDefault("saga.max_capacity", 0)

	v.SetDefault("monitor.sweep_interval", 15*time.Minute)
	v.SetDefault("monitor.poll_interval", 30*time.Second)
	v.SetDefault("monitor.latency_threshold", 2*time.Second)
	v.SetDefault("monitor.error_rate", 0.2)
	v.SetDefault("monitor.min_samples", 10)
	v.SetDefault("monitor.cooldown", 5*time.Minute)
	v.SetDefault("monitor.webhook_url", "")
	v.SetDefault("monitor.source", "triad")
}

func (c Config) validate() error {
	switch c.Cache.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("invalid TRIAD_CACHE_DRIVER %q: must be sqlite3 or postgres", c.Cache.Driver)
	}
	if c.Cache.DSN == "" {
		return fmt.Errorf("TRIAD_CACHE_DSN is required")
	}
	switch c.Ops.Backend {
	case "sqlite":
		if c.Ops.Path == "" {
			return fmt.Errorf("TRIAD_OPS_PATH is required for the sqlite backend")
		}
	case "etcd":
		if len(c.Ops.EtcdEndpoints) == 0 {
			return fmt.Errorf("TRIAD_OPS_ETCD_ENDPOINTS is required for the etcd backend")
		}
	default:
		return fmt.Errorf("invalid TRIAD_OPS_BACKEND %q: must be sqlite or etcd", c.Ops.Backend)
	}
	if c.Chain.Network == "" {
		return fmt.Errorf("TRIAD_CHAIN_NETWORK is required")
	}
	if c.Saga.VerifyAttempts < 1 {
		return fmt.Errorf("invalid TRIAD_SAGA_VERIFY_ATTEMPTS %d: must be at least 1", c.Saga.VerifyAttempts)
	}
	if c.Monitor.ErrorRate < 0 || c.Monitor.ErrorRate > 1 {
		return fmt.Errorf("invalid TRIAD_MONITOR_ERROR_RATE %v: must be within [0, 1]", c.Monitor.ErrorRate)
	}
	return nil
}

func clampTTL(d time.Duration) time.Duration {
	if d < MinHealthTTL {
		return MinHealthTTL
	}
	if d > MaxHealthTTL {
		return MaxHealthTTL
	}
	return d
}

// splitList accepts both YAML lists and comma-separated env values.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
