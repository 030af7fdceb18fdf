// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package datastore provides the process-wide key/value store shared by all
// plugins. Keys are not scoped per plugin: any plugin may read or overwrite
// any entry.
package datastore

import (
	"context"
	"errors"
	"time"

	"github.com/samber/oops"
)

// Error codes.
const (
	CodeCapacity = "DATA_STORE_CAPACITY"
	CodeInvalid  = "DATA_STORE_INVALID"
	CodeBackend  = "DATA_STORE_BACKEND"
)

// Sentinel errors, reachable with errors.Is through the oops wrappers.
var (
	ErrCapacity = errors.New("data store capacity reached")
	ErrInvalid  = errors.New("invalid data store entry")
	ErrNotFound = errors.New("data store key not found")
)

// Entry is one stored value. Version starts at 1 and increases by one on
// every overwrite of the same key.
type Entry struct {
	Key       string
	Value     string
	Version   uint64
	UpdatedAt time.Time
}

// Store is implemented by every backend. All operations are atomic with
// respect to each other for a given key.
type Store interface {
	// Set writes value under key. Overwrites always succeed; new keys may
	// fail with ErrCapacity.
	Set(ctx context.Context, key, value string) (Entry, error)
	// Get returns the entry for key or ErrNotFound.
	Get(ctx context.Context, key string) (Entry, error)
	// Has reports whether key exists.
	Has(ctx context.Context, key string) (bool, error)
	// Delete removes key and reports whether it existed.
	Delete(ctx context.Context, key string) (bool, error)
	// Len returns the number of entries.
	Len(ctx context.Context) (int, error)
	// Close releases backend resources.
	Close() error
}

// Default limits.
const (
	DefaultMaxKeyBytes   = 256
	DefaultMaxValueBytes = 64 * 1024
)

// Limits bounds what a store accepts. Zero values mean unlimited.
type Limits struct {
	MaxEntries    int
	MaxKeyBytes   int
	MaxValueBytes int
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{
		MaxKeyBytes:   DefaultMaxKeyBytes,
		MaxValueBytes: DefaultMaxValueBytes,
	}
}

// Validate checks key and value against the size limits.
func (l Limits) Validate(key, value string) error {
	switch {
	case key == "":
		return invalidError(key).Wrapf(ErrInvalid, "key must not be empty")
	case l.MaxKeyBytes > 0 && len(key) > l.MaxKeyBytes:
		return invalidError(key).
			With("max_key_bytes", l.MaxKeyBytes).
			Wrapf(ErrInvalid, "key is %d bytes", len(key))
	case l.MaxValueBytes > 0 && len(value) > l.MaxValueBytes:
		return invalidError(key).
			With("max_value_bytes", l.MaxValueBytes).
			Wrapf(ErrInvalid, "value is %d bytes", len(value))
	}
	return nil
}

func invalidError(key string) oops.OopsErrorBuilder {
	return oops.Code(CodeInvalid).In("datastore").With("key", key)
}

func capacityError(key string, maxEntries int) error {
	return oops.Code(CodeCapacity).
		In("datastore").
		With("key", key).
		With("max_entries", maxEntries).
		Hint("delete unused keys or raise datastore.max-entries").
		Wrap(ErrCapacity)
}

func notFoundError(key string) error {
	return oops.In("datastore").With("key", key).Wrap(ErrNotFound)
}

func backendError(op, key string, err error) error {
	return oops.Code(CodeBackend).
		In("datastore").
		With("operation", op).
		With("key", key).
		Wrap(err)
}
