// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package datastore

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Operation results recorded in metrics.
const (
	ResultOK       = "ok"
	ResultMiss     = "miss"
	ResultCapacity = "capacity"
	ResultInvalid  = "invalid"
	ResultError    = "error"
)

// Operations counts store calls by operation and result.
// Use RegisterMetrics to register this with a Prometheus registry.
var Operations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pluginhost_datastore_operations_total",
		Help: "Total number of shared data store operations",
	},
	[]string{"op", "result"},
)

// RegisterMetrics registers data store metrics with reg.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(Operations)
}

func record(op, result string) {
	Operations.WithLabelValues(op, result).Inc()
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, ErrNotFound):
		return ResultMiss
	case errors.Is(err, ErrCapacity):
		return ResultCapacity
	case errors.Is(err, ErrInvalid):
		return ResultInvalid
	default:
		return ResultError
	}
}

// instrumented records metrics around any Store.
type instrumented struct {
	Store
}

// Instrument wraps s so every call is counted in Operations.
func Instrument(s Store) Store {
	return instrumented{Store: s}
}

func (i instrumented) Set(ctx context.Context, key, value string) (Entry, error) {
	e, err := i.Store.Set(ctx, key, value)
	record("set", resultOf(err))
	return e, err
}

func (i instrumented) Get(ctx context.Context, key string) (Entry, error) {
	e, err := i.Store.Get(ctx, key)
	record("get", resultOf(err))
	return e, err
}

func (i instrumented) Has(ctx context.Context, key string) (bool, error) {
	ok, err := i.Store.Has(ctx, key)
	if err == nil && !ok {
		record("has", ResultMiss)
	} else {
		record("has", resultOf(err))
	}
	return ok, err
}

func (i instrumented) Delete(ctx context.Context, key string) (bool, error) {
	ok, err := i.Store.Delete(ctx, key)
	if err == nil && !ok {
		record("delete", ResultMiss)
	} else {
		record("delete", resultOf(err))
	}
	return ok, err
}
