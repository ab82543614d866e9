package tokencache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SQL stores keys in a token_cache table, scoped by owner so one
// database can hold several installations.
type SQL struct {
	db    *sql.DB
	owner string
}

const schemaSQL = `create table if not exists token_cache (
	owner      text not null,
	key        text not null,
	value      text not null,
	updated_at timestamptz not null default now(),
	primary key (owner, key)
)`

// NewSQL wraps db. Call EnsureSchema once before first use.
func NewSQL(db *sql.DB, owner string) *SQL {
	if owner == "" {
		owner = "default"
	}
	return &SQL{db: db, owner: owner}
}

// EnsureSchema creates the token_cache table when missing.
func (s *SQL) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("%w: create token_cache: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *SQL) Get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx,
		`select value from token_cache where owner = $1 and key = $2`,
		s.owner, key,
	).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return v, true, nil
}

func (s *SQL) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		insert into token_cache(owner, key, value, updated_at)
		values ($1, $2, $3, now())
		on conflict (owner, key) do update
		set value = excluded.value, updated_at = excluded.updated_at
	`, s.owner, key, value)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *SQL) Remove(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx,
		`delete from token_cache where owner = $1 and key = $2`,
		s.owner, key,
	); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
