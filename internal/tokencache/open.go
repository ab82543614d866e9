package tokencache

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Options selects and configures a backend.
type Options struct {
	Backend string

	FilePath string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
	RedisTTL      time.Duration

	PostgresDSN string
	Owner       string

	// Secret, when set, seals every value before it reaches the backend.
	Secret string
}

// Opened is a Cache plus the function that releases its resources.
type Opened struct {
	Cache
	Close func() error
}

// Open builds the configured backend. The postgres backend uses the
// pgx database/sql driver, which the caller must register by import.
func Open(ctx context.Context, opts Options) (*Opened, error) {
	var (
		cache   Cache
		closeFn = func() error { return nil }
	)
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", BackendMemory:
		cache = NewMemory()
	case BackendFile:
		path := opts.FilePath
		if path == "" {
			p, err := DefaultFilePath()
			if err != nil {
				return nil, err
			}
			path = p
		}
		cache = NewFile(path)
	case BackendRedis:
		r, err := NewRedis(ctx, RedisOptions{
			Addr:     opts.RedisAddr,
			Password: opts.RedisPassword,
			DB:       opts.RedisDB,
			Prefix:   opts.RedisPrefix,
			TTL:      opts.RedisTTL,
		})
		if err != nil {
			return nil, err
		}
		cache, closeFn = r, r.Close
	case BackendPostgres:
		if opts.PostgresDSN == "" {
			return nil, fmt.Errorf("tokencache: postgres DSN is required")
		}
		db, err := sql.Open("pgx", opts.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("%w: open postgres: %v", ErrUnavailable, err)
		}
		db.SetMaxOpenConns(4)
		db.SetMaxIdleConns(4)
		db.SetConnMaxLifetime(30 * time.Minute)
		s := NewSQL(db, opts.Owner)
		if err := s.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		cache, closeFn = s, db.Close
	default:
		return nil, fmt.Errorf("tokencache: unknown backend %q", opts.Backend)
	}

	if opts.Secret != "" {
		sealed, err := NewSealed(cache, opts.Secret, nil)
		if err != nil {
			_ = closeFn()
			return nil, err
		}
		cache = sealed
	}
	return &Opened{Cache: cache, Close: closeFn}, nil
}
