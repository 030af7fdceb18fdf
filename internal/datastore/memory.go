// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package datastore

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps entries in process memory for the lifetime of the host.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
	limits  Limits
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(limits Limits) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]Entry),
		limits:  limits,
		now:     time.Now,
	}
}

// Set implements Store.
func (s *MemoryStore) Set(_ context.Context, key, value string) (Entry, error) {
	if err := s.limits.Validate(key, value); err != nil {
		return Entry{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, exists := s.entries[key]
	if !exists && s.limits.MaxEntries > 0 && len(s.entries) >= s.limits.MaxEntries {
		return Entry{}, capacityError(key, s.limits.MaxEntries)
	}

	e := Entry{
		Key:       key,
		Value:     value,
		Version:   prev.Version + 1,
		UpdatedAt: s.now(),
	}
	s.entries[key] = e
	return e, nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok {
		return Entry{}, notFoundError(key)
	}
	return e, nil
}

// Has implements Store.
func (s *MemoryStore) Has(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.entries[key]
	return ok, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; !ok {
		return false, nil
	}
	delete(s.entries, key)
	return true, nil
}

// Len implements Store.
func (s *MemoryStore) Len(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}
