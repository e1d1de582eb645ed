package store

import (
	"context"
	"fmt"
	"log/slog"
)

const (
	DriverMemory   = "memory"
	DriverBadger   = "badger"
	DriverBolt     = "bolt"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)

// Options selects and configures a driver. Only the fields of the chosen
// driver are read.
type Options struct {
	Driver string

	// Path is the database directory for badger or file for bolt. An empty
	// badger path keeps the database in memory.
	Path string

	Redis    RedisOptions
	Postgres PostgresOptions

	Logger *slog.Logger
}

// Open constructs the driver named by opts.Driver. An empty name selects the
// memory driver.
func Open(ctx context.Context, opts Options) (Store, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "store", "driver", opts.Driver)

	var (
		s   Store
		err error
	)
	switch opts.Driver {
	case "", DriverMemory:
		s = NewMemoryStore()
	case DriverBadger:
		if opts.Path == "" {
			s, err = NewBadgerStore("", WithBadgerInMemory())
		} else {
			s, err = NewBadgerStore(opts.Path)
		}
	case DriverBolt:
		if opts.Path == "" {
			return nil, fmt.Errorf("bolt driver requires a path")
		}
		s, err = NewBoltStore(opts.Path)
	case DriverRedis:
		s, err = NewRedisStore(ctx, opts.Redis)
	case DriverPostgres:
		s, err = NewPostgresStore(ctx, opts.Postgres)
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
	if err != nil {
		return nil, err
	}
	log.Info("store opened", "path", opts.Path)
	return s, nil
}
