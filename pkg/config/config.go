// Package config loads chainbridge settings through viper.
//
// Settings come, in increasing priority, from built-in defaults, an optional
// config file, CHAINBRIDGE_* environment variables, command-line flags and,
// in plugin mode, the options lightningd passes at init.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/fortiblox/chainbridge/pkg/backend"
)

// Viper keys.
const (
	KeyBackend            = "backend"
	KeyNetwork            = "network"
	KeyDataDir            = "data-dir"
	KeyProxy              = "proxy"
	KeyEsploraURLs        = "esplora.urls"
	KeyEsploraTimeout     = "esplora.timeout"
	KeyBitcoindHost       = "bitcoind.host"
	KeyBitcoindUser       = "bitcoind.user"
	KeyBitcoindPassword   = "bitcoind.password"
	KeyBitcoindTimeout    = "bitcoind.timeout"
	KeyLightClientPeers   = "lightclient.peers"
	KeyCacheEngine        = "cache.engine"
	KeyCacheConfirmations = "cache.confirmations"
	KeyFeesMaxMultiplier  = "fees.max-multiplier"
	KeyFeesCommitPercent  = "fees.commit-percent"
	KeyFeesMaxFeeRate     = "fees.max-feerate"
	KeyHealthAddr         = "health.addr"
	KeyHealthInterval     = "health.interval"
	KeyHTTPAddr           = "http.addr"
	KeyLogLevel           = "log.level"
	KeyLogFormat          = "log.format"
)

// Cache engines.
const (
	CacheBolt   = "bolt"
	CacheBadger = "badger"
	CacheNone   = "none"
)

// EnvPrefix prefixes every environment variable, e.g. CHAINBRIDGE_BACKEND or
// CHAINBRIDGE_ESPLORA_URLS.
const EnvPrefix = "CHAINBRIDGE"

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the resolved configuration.
type Config struct {
	Backend     string            `mapstructure:"backend"`
	Network     string            `mapstructure:"network"`
	DataDir     string            `mapstructure:"data-dir"`
	Proxy       string            `mapstructure:"proxy"`
	Esplora     EsploraConfig     `mapstructure:"esplora"`
	Bitcoind    BitcoindConfig    `mapstructure:"bitcoind"`
	LightClient LightClientConfig `mapstructure:"lightclient"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Fees        FeesConfig        `mapstructure:"fees"`
	Health      HealthConfig      `mapstructure:"health"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Log         LogConfig         `mapstructure:"log"`
}

// EsploraConfig configures the explorer backend.
type EsploraConfig struct {
	// URLs overrides the per-network default base URLs.
	URLs    []string      `mapstructure:"urls"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// BitcoindConfig configures the full-node backend.
type BitcoindConfig struct {
	Host     string        `mapstructure:"host"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// LightClientConfig configures the light client backend.
type LightClientConfig struct {
	// Peers are host:port addresses to connect to instead of DNS seeds.
	Peers []string `mapstructure:"peers"`
}

// CacheConfig configures the block cache.
type CacheConfig struct {
	Engine        string `mapstructure:"engine"`
	Confirmations uint64 `mapstructure:"confirmations"`
}

// FeesConfig configures the fee policy and the broadcast fee-sanity check.
type FeesConfig struct {
	MaxMultiplier uint64 `mapstructure:"max-multiplier"`
	CommitPercent uint64 `mapstructure:"commit-percent"`
	MaxFeeRate    uint64 `mapstructure:"max-feerate"`
}

// HealthConfig configures the gRPC health endpoint. An empty Addr disables
// the listener but the probe still runs.
type HealthConfig struct {
	Addr     string        `mapstructure:"addr"`
	Interval time.Duration `mapstructure:"interval"`
}

// HTTPConfig configures the standalone JSON-RPC server.
type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

// LogConfig configures logrus.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// New returns a viper instance with defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// SetDefaults installs the default value of every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyBackend, backend.DefaultKind.String())
	v.SetDefault(KeyNetwork, "bitcoin")
	v.SetDefault(KeyDataDir, "")
	v.SetDefault(KeyProxy, "")
	v.SetDefault(KeyEsploraURLs, []string{})
	v.SetDefault(KeyEsploraTimeout, 30*time.Second)
	v.SetDefault(KeyBitcoindHost, "127.0.0.1:8332")
	v.SetDefault(KeyBitcoindUser, "")
	v.SetDefault(KeyBitcoindPassword, "")
	v.SetDefault(KeyBitcoindTimeout, 60*time.Second)
	v.SetDefault(KeyLightClientPeers, []string{})
	v.SetDefault(KeyCacheEngine, CacheBolt)
	v.SetDefault(KeyCacheConfirmations, 6)
	v.SetDefault(KeyFeesMaxMultiplier, backend.DefaultFeePolicy().MaxMultiplier)
	v.SetDefault(KeyFeesCommitPercent, backend.DefaultFeePolicy().CommitPercent)
	v.SetDefault(KeyFeesMaxFeeRate, backend.DefaultMaxFeeRate)
	v.SetDefault(KeyHealthAddr, "")
	v.SetDefault(KeyHealthInterval, 30*time.Second)
	v.SetDefault(KeyHTTPAddr, "127.0.0.1:9737")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "text")
}

// ReadFile merges a config file into v. Any format viper understands is
// accepted.
func ReadFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.MergeInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

// Load decodes and validates the settings held by v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges. The backend token is checked by the
// registry so that an unknown token surfaces as an unsupported backend.
func (c *Config) Validate() error {
	switch c.Cache.Engine {
	case CacheBolt, CacheBadger, CacheNone:
	default:
		return fmt.Errorf("%w: unknown cache engine %q", ErrInvalidConfig, c.Cache.Engine)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrInvalidConfig, c.Log.Format)
	}
	if c.Esplora.Timeout <= 0 {
		return fmt.Errorf("%w: esplora.timeout must be positive", ErrInvalidConfig)
	}
	if c.Bitcoind.Timeout <= 0 {
		return fmt.Errorf("%w: bitcoind.timeout must be positive", ErrInvalidConfig)
	}
	if c.Health.Interval <= 0 {
		return fmt.Errorf("%w: health.interval must be positive", ErrInvalidConfig)
	}
	if c.Fees.CommitPercent > 100 {
		return fmt.Errorf("%w: fees.commit-percent above 100", ErrInvalidConfig)
	}
	return nil
}

// FeePolicy returns the configured fee policy.
func (c *Config) FeePolicy() backend.FeePolicy {
	return backend.FeePolicy{
		MaxMultiplier: c.Fees.MaxMultiplier,
		CommitPercent: c.Fees.CommitPercent,
	}
}
