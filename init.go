package entitysync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"

	"github.com/huykn/entity-sync/cache"
	"github.com/huykn/entity-sync/notify"
	"github.com/huykn/entity-sync/policy"
	"github.com/huykn/entity-sync/storage"
	cachesync "github.com/huykn/entity-sync/sync"
)

// Config configures a coordinator together with its optional Redis and
// RabbitMQ wiring.
type Config struct {
	// PodID is the unique identifier for this surface/instance.
	// Used to avoid self-invalidation in pub/sub.
	PodID string

	// LocalCacheConfig configures the local value cache.
	LocalCacheConfig LocalCacheConfig

	// LocalCacheFactory is the factory for creating local cache instances.
	// If nil, defaults to the LRU factory.
	LocalCacheFactory LocalCacheFactory

	// RedisAddr is the Redis server address (e.g., "localhost:6379").
	// Empty disables peer synchronization and snapshot persistence.
	RedisAddr string

	// RedisPassword is the optional Redis password.
	RedisPassword string

	// RedisDB is the Redis database number.
	RedisDB int

	// InvalidationChannel is the Redis pub/sub channel for invalidation sets.
	InvalidationChannel string

	// PersistSnapshots stores fetched values in Redis so a restarted
	// surface can hydrate them.
	PersistSnapshots bool

	// SnapshotPrefix prefixes every snapshot key in Redis.
	SnapshotPrefix string

	// SnapshotTTL expires snapshots in Redis. Zero keeps them forever.
	SnapshotTTL time.Duration

	// SerializationFormat specifies how snapshots are serialized ("json").
	SerializationFormat string

	// AMQPURL enables publishing mutation outcomes to RabbitMQ.
	AMQPURL string

	// NotificationExchange is the fan-out exchange for mutation outcomes.
	NotificationExchange string

	// Marshaller is the marshaller for serialization.
	// If nil, one is chosen from SerializationFormat.
	Marshaller Marshaller

	// Logger is the logger for debug logging.
	// If nil and LogLevel is set, a slog text logger on stderr is used;
	// otherwise logging is disabled.
	Logger Logger

	// LogLevel is one of debug, info, warn, error.
	LogLevel string

	// DebugMode enables debug logging.
	DebugMode bool

	// ContextTimeout is the default timeout for background operations.
	ContextTimeout time.Duration

	// Policies replaces the built-in policy table.
	Policies *policy.Table

	// PolicyOverrides are merged into the policy table.
	PolicyOverrides *policy.Document

	// SerializeMutations rejects concurrent mutations of the same entity.
	SerializeMutations bool

	// FailedBulk decides the fate of failed ids in bulk mutations.
	FailedBulk FailedBulkPolicy

	// Sink is informed of mutation outcomes.
	Sink NotificationSink

	// Tracer traces reads and mutations.
	Tracer trace.Tracer

	// OnError is called when an error occurs in background operations.
	OnError func(error)

	// OnUnauthorized is called on every 401/403.
	OnUnauthorized func(error)
}

// Coordinator is a SyncCoordinator that also owns the connections New
// opened for it.
type Coordinator struct {
	*cache.SyncCoordinator
	closers []io.Closer
}

// Close closes the coordinator, then the connections it owns.
func (c *Coordinator) Close() error {
	errs := []error{c.SyncCoordinator.Close()}
	for _, cl := range c.closers {
		errs = append(errs, cl.Close())
	}
	return errors.Join(errs...)
}

// New creates a new coordinator instance.
// This is the root-level initialization function that allows users to import from the root package.
func New(cfg Config) (*Coordinator, error) {
	opts := cache.Options{
		PodID:              cfg.PodID,
		LocalCacheConfig:   cfg.LocalCacheConfig,
		LocalCacheFactory:  cfg.LocalCacheFactory,
		Marshaller:         cfg.Marshaller,
		Logger:             cfg.Logger,
		DebugMode:          cfg.DebugMode,
		ContextTimeout:     cfg.ContextTimeout,
		SerializeMutations: cfg.SerializeMutations,
		FailedBulk:         cfg.FailedBulk,
		Sink:               cfg.Sink,
		Tracer:             cfg.Tracer,
		OnError:            cfg.OnError,
		OnUnauthorized:     cfg.OnUnauthorized,
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	if opts.Marshaller == nil {
		s, err := storage.GetSerializer(cfg.SerializationFormat)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		opts.Marshaller = s
	}
	if opts.Logger == nil && cfg.LogLevel != "" {
		level, err := ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		opts.Logger = cache.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	}

	table, err := cfg.PolicyTable()
	if err != nil {
		return nil, err
	}
	opts.Policies = table

	var closers []io.Closer
	closeAll := func() {
		for _, c := range closers {
			c.Close()
		}
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), opts.ContextTimeout)
		err := client.Ping(ctx).Err()
		cancel()
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("%w: %w", ErrRedisConnection, err)
		}
		closers = append(closers, client)

		if cfg.PersistSnapshots {
			opts.Store = storage.NewRedisStoreFromClient(client, cfg.SnapshotPrefix, cfg.SnapshotTTL)
		}
		ps := cachesync.NewPubSubSynchronizer(client, cfg.InvalidationChannel, cfg.PodID)
		if cfg.OnError != nil {
			ps.OnError(cfg.OnError)
		}
		opts.Synchronizer = ps
	}

	if cfg.AMQPURL != "" {
		sink, err := notify.DialAMQP(notify.AMQPConfig{
			URL:      cfg.AMQPURL,
			Exchange: cfg.NotificationExchange,
			Timeout:  opts.ContextTimeout,
		})
		if err != nil {
			closeAll()
			return nil, err
		}
		if cfg.OnError != nil {
			sink.OnError(cfg.OnError)
		}
		closers = append(closers, sink)
		if opts.Sink != nil {
			opts.Sink = notify.MultiSink{opts.Sink, sink}
		} else {
			opts.Sink = sink
		}
	}

	sc, err := cache.New(opts)
	if err != nil {
		closeAll()
		return nil, err
	}
	return &Coordinator{SyncCoordinator: sc, closers: closers}, nil
}

// PolicyTable returns the policy table New would use: Policies or the
// built-in table, with PolicyOverrides merged in.
func (cfg Config) PolicyTable() (*policy.Table, error) {
	table := cfg.Policies
	if table == nil {
		table = policy.DefaultTable()
	} else {
		table = table.Clone()
	}
	if cfg.PolicyOverrides != nil {
		if err := cfg.PolicyOverrides.Apply(table); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	return table, nil
}

// DefaultConfig returns a configuration for a single in-process
// coordinator. Set RedisAddr to synchronize with peers.
func DefaultConfig() Config {
	return Config{
		PodID:                "pod-" + uuid.NewString(),
		InvalidationChannel:  cachesync.DefaultChannel,
		SnapshotPrefix:       storage.DefaultKeyPrefix,
		SerializationFormat:  storage.FormatJSON,
		NotificationExchange: notify.DefaultExchange,
		ContextTimeout:       5 * time.Second,
		LocalCacheConfig:     DefaultLocalCacheConfig(),
		LocalCacheFactory:    nil, // Will default to LRU in New()
		Marshaller:           nil, // Will default to JSON in New()
		Logger:               nil, // Will default to no-op in New()
		DebugMode:            false,
		FailedBulk:           cache.FailedBulkUntouched,
	}
}
