// Package config loads lockcached settings from a YAML file and
// LOCKCACHE_* environment variables.
//
// Durations take a unit ("90s", "6h"); a bare number is read as seconds, so
// `orders: 600` is ten minutes.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/unkn0wn-root/lockcache/codec"
	"github.com/unkn0wn-root/lockcache/registry"
)

// EnvPrefix prefixes environment overrides: redis.address => LOCKCACHE_REDIS_ADDRESS.
const EnvPrefix = "LOCKCACHE"

// Config holds all daemon configuration
type Config struct {
	Redis   RedisConfig   `mapstructure:"redis"`
	Writer  WriterConfig  `mapstructure:"writer"`
	Caches  CachesConfig  `mapstructure:"caches"`
	Near    NearConfig    `mapstructure:"near"`
	Events  EventsConfig  `mapstructure:"events"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// WriterConfig tunes the locked cache writer. lock_wait 0 disables locking.
type WriterConfig struct {
	LockWait    time.Duration `mapstructure:"lock_wait"`
	LockTTL     time.Duration `mapstructure:"lock_ttl"`
	MaxLockWait time.Duration `mapstructure:"max_lock_wait"`
	ScanCount   int64         `mapstructure:"scan_count"`
	DeleteBatch int           `mapstructure:"delete_batch"`
	WorkerID    string        `mapstructure:"worker_id"`
}

// CachesConfig configures cache name resolution.
type CachesConfig struct {
	DefaultTTL time.Duration `mapstructure:"default_ttl"`
	Prefix     string        `mapstructure:"prefix"`     // prepended to "<name>::"
	Format     string        `mapstructure:"format"`     // json, cbor or msgpack
	MaxDecode  int           `mapstructure:"max_decode"` // bytes; 0 = unlimited

	// TTLs statically registers caches; bare numbers are seconds. Viper
	// lowercases map keys, so cache names listed here must be lowercase.
	TTLs map[string]time.Duration `mapstructure:"ttls"`
}

// NearConfig configures the in-process near cache.
type NearConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	MaxEntries int64         `mapstructure:"max_entries"`
	TTL        time.Duration `mapstructure:"ttl"`
}

// EventsConfig names the invalidation channel and its message encoding.
type EventsConfig struct {
	Channel string `mapstructure:"channel"`
	Format  string `mapstructure:"format"` // json, cbor or msgpack
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// MetricsConfig holds metrics settings
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

// Load reads configPath (or ./config.yaml, ./config/config.yaml when empty),
// applies environment overrides and validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// a missing default file is fine; env and defaults still apply
		var nf viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &nf) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	hooks := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		secondsHook,
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hooks); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// secondsHook decodes bare numbers (and digit-only strings from the
// environment) into durations of that many seconds.
func secondsHook(from, to reflect.Type, data any) (any, error) {
	if to != durationType || from == durationType {
		return data, nil
	}
	v := reflect.ValueOf(data)
	switch from.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return time.Duration(v.Int()) * time.Second, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return time.Duration(v.Uint()) * time.Second, nil
	case reflect.Float32, reflect.Float64:
		return time.Duration(v.Float() * float64(time.Second)), nil
	case reflect.String:
		if n, err := strconv.ParseInt(strings.TrimSpace(v.String()), 10, 64); err == nil {
			return time.Duration(n) * time.Second, nil
		}
	}
	return data, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("writer.lock_wait", "50ms")
	v.SetDefault("writer.lock_ttl", "180s")
	v.SetDefault("writer.max_lock_wait", "0s")
	v.SetDefault("writer.scan_count", 100000)
	v.SetDefault("writer.delete_batch", 1000)
	v.SetDefault("writer.worker_id", "")

	v.SetDefault("caches.default_ttl", "6h")
	v.SetDefault("caches.prefix", "")
	v.SetDefault("caches.format", "json")
	v.SetDefault("caches.max_decode", 0)

	v.SetDefault("near.enabled", false)
	v.SetDefault("near.max_entries", 100000)
	v.SetDefault("near.ttl", "1m")

	v.SetDefault("events.channel", "lockcache:events")
	v.SetDefault("events.format", "json")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.address", ":9091")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Redis.Address == "" {
		return fmt.Errorf("redis address is required")
	}

	w := c.Writer
	if w.LockWait < 0 || w.MaxLockWait < 0 {
		return fmt.Errorf("writer lock waits must be >= 0")
	}
	if w.LockTTL <= 0 {
		return fmt.Errorf("writer lock_ttl must be > 0")
	}
	if w.ScanCount <= 0 || w.DeleteBatch <= 0 {
		return fmt.Errorf("writer scan_count and delete_batch must be > 0")
	}

	if c.Caches.DefaultTTL < 0 {
		return fmt.Errorf("caches default_ttl must be >= 0")
	}
	if _, err := c.Caches.CodecFormat(); err != nil {
		return err
	}
	if c.Caches.MaxDecode < 0 {
		return fmt.Errorf("caches max_decode must be >= 0")
	}
	if _, err := codec.ParseFormat(c.Events.Format); err != nil {
		return fmt.Errorf("events: %w", err)
	}
	for name, ttl := range c.Caches.TTLs {
		if name == "" || strings.Contains(name, registry.TTLSeparator) {
			return fmt.Errorf("%w: %q", registry.ErrInvalidCacheName, name)
		}
		if ttl < 0 {
			return fmt.Errorf("cache %q: ttl must be >= 0", name)
		}
	}

	if c.Near.Enabled && c.Near.MaxEntries <= 0 {
		return fmt.Errorf("near max_entries must be > 0")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}
	return nil
}

// CodecFormat parses Format.
func (c CachesConfig) CodecFormat() (codec.Format, error) {
	return codec.ParseFormat(c.Format)
}

// KeyPrefix returns the registry key prefix for Prefix.
func (c CachesConfig) KeyPrefix() registry.KeyPrefix {
	if c.Prefix == "" {
		return registry.SimplePrefix
	}
	return registry.Prefixed(c.Prefix)
}

// Initial converts TTLs into static registry configs.
func (c CachesConfig) Initial() map[string]registry.Config {
	out := make(map[string]registry.Config, len(c.TTLs))
	for name, ttl := range c.TTLs {
		out[name] = registry.Config{TTL: ttl}
	}
	return out
}
