// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package datastore

import (
	"context"
	"log/slog"

	"github.com/samber/oops"
)

// Backend names accepted in configuration.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config selects and configures a backend.
type Config struct {
	Backend     string
	Limits      Limits
	PostgresURL string
	RedisAddr   string
	RedisPrefix string
}

// Open creates the configured backend wrapped with metrics.
func Open(ctx context.Context, cfg Config) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Backend {
	case "", BackendMemory:
		s = NewMemoryStore(cfg.Limits)
	case BackendPostgres:
		if cfg.PostgresURL == "" {
			return nil, oops.Code("CONFIG_INVALID").
				In("datastore").
				Hint("set datastore.postgres.url or DATABASE_URL").
				Errorf("postgres backend needs a database URL")
		}
		s, err = OpenPostgres(ctx, cfg.PostgresURL, cfg.Limits)
	case BackendRedis:
		s, err = OpenRedis(ctx, cfg.RedisAddr, cfg.RedisPrefix, cfg.Limits)
	default:
		return nil, oops.Code("CONFIG_INVALID").
			In("datastore").
			With("backend", cfg.Backend).
			Errorf("unknown data store backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	slog.Info("data store ready",
		"backend", cfg.Backend,
		"max_entries", cfg.Limits.MaxEntries,
		"max_key_bytes", cfg.Limits.MaxKeyBytes,
		"max_value_bytes", cfg.Limits.MaxValueBytes)
	return Instrument(s), nil
}
