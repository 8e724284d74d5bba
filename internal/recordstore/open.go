package recordstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/jmerrifield20/civicstreak/internal/streak"
)

// Drivers accepted by Open.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverRedis    = "redis"
)

// Options selects and configures a backend.
type Options struct {
	Driver    string
	Namespace streak.Namespace

	// Postgres: an existing pool is shared; otherwise DatabaseURL is dialled
	// and the pool is closed with the store.
	Pool        *pgxpool.Pool
	DatabaseURL string

	SQLitePath string

	RedisURL    string
	RedisPrefix string

	// CacheSize > 0 wraps the backend in a CachedStore.
	CacheSize int
}

// Open returns the backend described by opts.
func Open(ctx context.Context, opts Options, logger *zap.Logger) (Backend, error) {
	if err := opts.Namespace.Validate(); err != nil {
		return nil, err
	}

	var (
		b   Backend
		err error
	)
	switch opts.Driver {
	case DriverMemory, "":
		b = NewMemoryStore(opts.Namespace)
	case DriverPostgres:
		b, err = openPostgres(ctx, opts, logger)
	case DriverSQLite:
		b, err = OpenSQLite(opts.SQLitePath, opts.Namespace, logger)
	case DriverRedis:
		b, err = OpenRedis(ctx, opts.RedisURL, opts.Namespace, opts.RedisPrefix, logger)
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
	if err != nil {
		return nil, err
	}

	if opts.CacheSize > 0 {
		cached, err := NewCachedStore(b, opts.CacheSize, logger)
		if err != nil {
			_ = b.Close()
			return nil, err
		}
		b = cached
	}

	logger.Info("record store opened",
		zap.String("driver", opts.Driver),
		zap.String("namespace", string(opts.Namespace)),
		zap.Int("cache_size", opts.CacheSize),
	)
	return b, nil
}

func openPostgres(ctx context.Context, opts Options, logger *zap.Logger) (*PostgresStore, error) {
	if opts.Pool != nil {
		return NewPostgresStore(opts.Pool, opts.Namespace, logger), nil
	}
	if opts.DatabaseURL == "" {
		return nil, fmt.Errorf("postgres store requires a database url")
	}
	pool, err := pgxpool.New(ctx, opts.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := NewPostgresStore(pool, opts.Namespace, logger)
	s.owned = true
	return s, nil
}
