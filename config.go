package entitysync

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/huykn/entity-sync/cache"
	"github.com/huykn/entity-sync/policy"
)

// EnvPrefix prefixes every environment override read by LoadConfig.
const EnvPrefix = "ENTITYSYNC_"

// fileConfig is the YAML shape of a configuration file.
type fileConfig struct {
	PodID              string           `yaml:"pod_id"`
	LogLevel           string           `yaml:"log_level"`
	Debug              bool             `yaml:"debug"`
	ContextTimeout     *policy.Duration `yaml:"context_timeout,omitempty"`
	SerializeMutations bool             `yaml:"serialize_mutations"`
	FailedBulk         string           `yaml:"failed_bulk"`
	LocalCache         struct {
		MaxSize int `yaml:"max_size"`
	} `yaml:"local_cache"`
	Redis struct {
		Addr             string           `yaml:"addr"`
		Password         string           `yaml:"password"`
		DB               int              `yaml:"db"`
		Channel          string           `yaml:"channel"`
		PersistSnapshots bool             `yaml:"persist_snapshots"`
		SnapshotPrefix   string           `yaml:"snapshot_prefix"`
		SnapshotTTL      *policy.Duration `yaml:"snapshot_ttl,omitempty"`
	} `yaml:"redis"`
	AMQP struct {
		URL      string `yaml:"url"`
		Exchange string `yaml:"exchange"`
	} `yaml:"amqp"`
	policy.Document `yaml:",inline"`
}

// LoadConfig reads a YAML configuration file on top of DefaultConfig and
// then applies ENTITYSYNC_* environment overrides. An empty path skips the
// file. A missing file is not an error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config: %w", err)
		default:
			if err := applyFile(&cfg, data); err != nil {
				return Config{}, err
			}
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, data []byte) error {
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	if fc.PodID != "" {
		cfg.PodID = fc.PodID
	}
	if fc.LogLevel != "" {
		cfg.LogLevel = fc.LogLevel
	}
	cfg.DebugMode = fc.Debug
	if fc.ContextTimeout != nil {
		cfg.ContextTimeout = time.Duration(*fc.ContextTimeout)
	}
	cfg.SerializeMutations = fc.SerializeMutations
	if fc.FailedBulk != "" {
		fb, err := ParseFailedBulk(fc.FailedBulk)
		if err != nil {
			return err
		}
		cfg.FailedBulk = fb
	}
	if fc.LocalCache.MaxSize != 0 {
		cfg.LocalCacheConfig.MaxSize = fc.LocalCache.MaxSize
	}

	cfg.RedisAddr = fc.Redis.Addr
	cfg.RedisPassword = fc.Redis.Password
	cfg.RedisDB = fc.Redis.DB
	if fc.Redis.Channel != "" {
		cfg.InvalidationChannel = fc.Redis.Channel
	}
	cfg.PersistSnapshots = fc.Redis.PersistSnapshots
	if fc.Redis.SnapshotPrefix != "" {
		cfg.SnapshotPrefix = fc.Redis.SnapshotPrefix
	}
	if fc.Redis.SnapshotTTL != nil {
		cfg.SnapshotTTL = time.Duration(*fc.Redis.SnapshotTTL)
	}

	cfg.AMQPURL = fc.AMQP.URL
	if fc.AMQP.Exchange != "" {
		cfg.NotificationExchange = fc.AMQP.Exchange
	}

	if len(fc.Policies) > 0 || fc.Retry != nil {
		doc := fc.Document
		cfg.PolicyOverrides = &doc
	}
	return nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	get := func(name string) (string, bool) {
		v, ok := lookup(EnvPrefix + name)
		return v, ok && v != ""
	}

	// Pod ID
	if v, ok := get("POD_ID"); ok {
		cfg.PodID = v
	}

	// Redis configuration
	if v, ok := get("REDIS_ADDR"); ok {
		cfg.RedisAddr = v
	}
	if v, ok := get("REDIS_PASSWORD"); ok {
		cfg.RedisPassword = v
	}
	if v, ok := get("REDIS_DB"); ok {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sREDIS_DB: %w", EnvPrefix, err)
		}
		cfg.RedisDB = db
	}
	if v, ok := get("CHANNEL"); ok {
		cfg.InvalidationChannel = v
	}
	if v, ok := get("PERSIST_SNAPSHOTS"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sPERSIST_SNAPSHOTS: %w", EnvPrefix, err)
		}
		cfg.PersistSnapshots = b
	}

	if v, ok := get("AMQP_URL"); ok {
		cfg.AMQPURL = v
	}

	// Logging
	if v, ok := get("DEBUG"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sDEBUG: %w", EnvPrefix, err)
		}
		cfg.DebugMode = b
	}
	if v, ok := get("LOG_LEVEL"); ok {
		if _, err := ParseLogLevel(v); err != nil {
			return err
		}
		cfg.LogLevel = v
	}

	// Context timeout
	if v, ok := get("CONTEXT_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sCONTEXT_TIMEOUT: %w", EnvPrefix, err)
		}
		cfg.ContextTimeout = d
	}
	return nil
}

// ParseLogLevel parses debug, info, warn or error (case-insensitive).
func ParseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

// ParseFailedBulk parses "untouched" or "mark_stale".
func ParseFailedBulk(s string) (FailedBulkPolicy, error) {
	switch s {
	case "untouched":
		return cache.FailedBulkUntouched, nil
	case "mark_stale":
		return cache.FailedBulkMarkStale, nil
	default:
		return 0, fmt.Errorf("%w: unknown failed_bulk %q", ErrInvalidConfig, s)
	}
}
