// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package datastore

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// poolIface is the part of pgxpool.Pool the store uses; pgxmock satisfies it.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// querier is what one upsert needs; both the pool and a transaction satisfy it.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// The insert only happens when the key exists or there is room for a new one,
// so the capacity check and the write are a single statement. With a limit
// set, the statement runs under capacityLockKey so concurrent new keys cannot
// both pass the count.
const upsertSQL = `INSERT INTO plugin_data (key, value, version, updated_at)
SELECT $1, $2, 1, now()
WHERE $3::int <= 0
   OR EXISTS (SELECT 1 FROM plugin_data WHERE key = $1)
   OR (SELECT count(*) FROM plugin_data) < $3::int
ON CONFLICT (key) DO UPDATE
SET value = EXCLUDED.value,
    version = plugin_data.version + 1,
    updated_at = now()
RETURNING version, updated_at`

// capacityLockKey is the transaction-scoped advisory lock serializing
// capacity-limited writes.
const capacityLockKey int64 = 0x706c7567696e64 // "plugind"

const lockSQL = `SELECT pg_advisory_xact_lock($1)`

// PostgresStore keeps entries in the plugin_data table.
type PostgresStore struct {
	pool   poolIface
	limits Limits
	close  func()
}

// NewPostgresStore wraps an existing pool.
func NewPostgresStore(pool poolIface, limits Limits) *PostgresStore {
	return &PostgresStore{pool: pool, limits: limits}
}

// ConnectRetries bounds how often OpenPostgres pings before giving up.
const ConnectRetries = 5

// OpenPostgres connects to dsn, retrying the initial ping with exponential
// backoff.
func OpenPostgres(ctx context.Context, dsn string, limits Limits) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, oops.Code(CodeBackend).In("datastore").With("operation", "connect").Wrap(err)
	}

	backoff := retry.WithMaxRetries(ConnectRetries, retry.NewExponential(200*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if pingErr := pool.Ping(ctx); pingErr != nil {
			return retry.RetryableError(pingErr)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, oops.Code(CodeBackend).
			In("datastore").
			With("operation", "ping").
			Hint("check datastore.postgres.url or DATABASE_URL").
			Wrap(err)
	}

	s := NewPostgresStore(pool, limits)
	s.close = pool.Close
	return s, nil
}

// Set implements Store.
func (s *PostgresStore) Set(ctx context.Context, key, value string) (Entry, error) {
	if err := s.limits.Validate(key, value); err != nil {
		return Entry{}, err
	}

	if s.limits.MaxEntries <= 0 {
		return s.upsert(ctx, s.pool, key, value)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Entry{}, pgError("set", key, err)
	}
	if _, err := tx.Exec(ctx, lockSQL, capacityLockKey); err != nil {
		_ = tx.Rollback(ctx)
		return Entry{}, pgError("set", key, err)
	}
	e, err := s.upsert(ctx, tx, key, value)
	if err != nil {
		_ = tx.Rollback(ctx)
		return Entry{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Entry{}, pgError("set", key, err)
	}
	return e, nil
}

func (s *PostgresStore) upsert(ctx context.Context, q querier, key, value string) (Entry, error) {
	var version int64
	var updated time.Time
	err := q.QueryRow(ctx, upsertSQL, key, value, s.limits.MaxEntries).Scan(&version, &updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, capacityError(key, s.limits.MaxEntries)
	}
	if err != nil {
		return Entry{}, pgError("set", key, err)
	}
	return Entry{Key: key, Value: value, Version: uint64(version), UpdatedAt: updated}, nil //nolint:gosec // versions are positive
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, key string) (Entry, error) {
	e := Entry{Key: key}
	var version int64
	err := s.pool.QueryRow(ctx,
		`SELECT value, version, updated_at FROM plugin_data WHERE key = $1`,
		key).Scan(&e.Value, &version, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, notFoundError(key)
	}
	if err != nil {
		return Entry{}, pgError("get", key, err)
	}
	e.Version = uint64(version) //nolint:gosec // versions are positive
	return e, nil
}

// Has implements Store.
func (s *PostgresStore) Has(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM plugin_data WHERE key = $1)`,
		key).Scan(&exists)
	if err != nil {
		return false, pgError("has", key, err)
	}
	return exists, nil
}

// Delete implements Store.
func (s *PostgresStore) Delete(ctx context.Context, key string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM plugin_data WHERE key = $1`, key)
	if err != nil {
		return false, pgError("delete", key, err)
	}
	return tag.RowsAffected() > 0, nil
}

// Len implements Store.
func (s *PostgresStore) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM plugin_data`).Scan(&n); err != nil {
		return 0, pgError("len", "", err)
	}
	return n, nil
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	if s.close != nil {
		s.close()
	}
	return nil
}

func pgError(op, key string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UndefinedTable {
		return oops.Code(CodeBackend).
			In("datastore").
			With("operation", op).
			With("key", key).
			Hint("run `pluginhost migrate up` to create plugin_data").
			Wrap(err)
	}
	return backendError(op, key, err)
}
