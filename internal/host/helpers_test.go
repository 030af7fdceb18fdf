// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package host_test

import (
	"context"
	"sync"
	"time"

	"github.com/holomush/pluginhost/internal/plugin"
	"github.com/holomush/pluginhost/pkg/pluginapi"
)

// recorder collects lifecycle and delivery lines from test plugins.
type recorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *recorder) add(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = nil
}

type testPlugin struct {
	rec        *recorder
	desc       pluginapi.Descriptor
	onInit     func(h pluginapi.Host) error
	onShutdown func()
	host       pluginapi.Host
	released   int
}

func newPlugin(rec *recorder, name string, prio pluginapi.Priority, deps ...pluginapi.Dependency) *testPlugin {
	return &testPlugin{
		rec: rec,
		desc: pluginapi.Descriptor{
			Name:         name,
			Version:      "1.0.0",
			ABIVersion:   pluginapi.ABIVersion,
			Priority:     prio,
			Dependencies: deps,
		},
	}
}

func (p *testPlugin) Info() pluginapi.Descriptor { return p.desc }

func (p *testPlugin) Init(h pluginapi.Host) error {
	p.host = h
	p.rec.add("init:" + p.desc.Name)
	if p.onInit != nil {
		return p.onInit(h)
	}
	return nil
}

func (p *testPlugin) Shutdown() {
	p.rec.add("shutdown:" + p.desc.Name)
	if p.onShutdown != nil {
		p.onShutdown()
	}
}

// listen returns a callback recording "<plugin>:<event>:<payload>".
func (p *testPlugin) listen() *pluginapi.Callback {
	return pluginapi.NewCallback(func(_ context.Context, event, payload string) error {
		p.rec.add(p.desc.Name + ":" + event + ":" + payload)
		return nil
	})
}

func candidates(ps ...*testPlugin) []*plugin.Candidate {
	out := make([]*plugin.Candidate, len(ps))
	for i, p := range ps {
		out[i] = plugin.NewCandidate(p, plugin.SourceBuiltin).OnRelease(func() error {
			p.released++
			return nil
		})
	}
	return out
}

func req(name string) pluginapi.Dependency {
	return pluginapi.Dependency{Name: name, Kind: pluginapi.Required}
}

func opt(name string) pluginapi.Dependency {
	return pluginapi.Dependency{Name: name, Kind: pluginapi.Optional}
}

// clock is a manually advanced time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock { return &clock{now: time.Unix(1_700_000_000, 0)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

type observer struct {
	mu     sync.Mutex
	events []string
}

func (o *observer) PluginLoaded(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, "+"+name)
}

func (o *observer) PluginUnloaded(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, "-"+name)
}

func (o *observer) all() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.events...)
}
