// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"context"

	"github.com/holomush/pluginhost/pkg/pluginapi"
)

// Source says where a candidate came from.
type Source string

// Candidate sources.
const (
	SourceBuiltin Source = "builtin"
	SourceLua     Source = "lua"
	SourceBinary  Source = "binary"
)

// Candidate is a plugin offered to the host before validation.
type Candidate struct {
	Plugin pluginapi.Plugin
	Source Source
	// Dir is the plugin directory for manifest-backed plugins.
	Dir string
	// Capabilities are the grants requested by the manifest.
	Capabilities []string

	release func() error
}

// NewCandidate wraps an in-process plugin.
func NewCandidate(p pluginapi.Plugin, source Source) *Candidate {
	return &Candidate{Plugin: p, Source: source}
}

// OnRelease registers fn to run when the candidate is released.
func (c *Candidate) OnRelease(fn func() error) *Candidate {
	c.release = fn
	return c
}

// Release frees resources held by the candidate, such as a plugin process.
// It is safe to call more than once.
func (c *Candidate) Release() error {
	if c == nil || c.release == nil {
		return nil
	}
	fn := c.release
	c.release = nil
	return fn()
}

// Loader opens manifest-backed plugins of one runtime type.
type Loader interface {
	Open(ctx context.Context, m *Manifest, dir string) (*Candidate, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, m *Manifest, dir string) (*Candidate, error)

// Open calls f.
func (f LoaderFunc) Open(ctx context.Context, m *Manifest, dir string) (*Candidate, error) {
	return f(ctx, m, dir)
}
