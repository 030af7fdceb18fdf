// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package host runs plugins: it admits candidates, initializes them in
// dependency order, hands each one its facade, drives timers and queued
// event delivery, and tears everything down in reverse order.
//
// All plugin code runs while holding the host's execution token, so no two
// calls into plugin code overlap.
package host

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/pluginhost/internal/datastore"
	"github.com/holomush/pluginhost/internal/dispatch"
	"github.com/holomush/pluginhost/internal/eventbus"
	"github.com/holomush/pluginhost/internal/plugin"
	"github.com/holomush/pluginhost/internal/plugin/capability"
	"github.com/holomush/pluginhost/internal/timer"
	"github.com/holomush/pluginhost/pkg/errutil"
	"github.com/holomush/pluginhost/pkg/pluginapi"
)

// Defaults.
const (
	DefaultTick        = 16 * time.Millisecond
	DefaultDataTimeout = 2 * time.Second
)

// Events published by the host itself.
const (
	EventTick              = "tick"
	EventConsoleInput      = "consoleInput"
	EventPluginLoaded      = "pluginLoaded"
	EventPluginUnloaded    = "pluginUnloaded"
	EventRequestPluginList = "requestPluginList"
	EventPluginList        = "pluginList"
	EventHostShutdown      = "hostShutdown"
)

// Observer is told when plugins come and go.
type Observer interface {
	PluginLoaded(name string)
	PluginUnloaded(name string)
}

// Report summarizes Start.
type Report struct {
	Plan     *plugin.LoadPlan
	Loaded   []string
	Failures []plugin.Failure
}

// entry is one accepted candidate.
type entry struct {
	cand   *plugin.Candidate
	desc   pluginapi.Descriptor
	index  int
	loaded bool
	// gen increases on every Init so deliveries queued for an earlier
	// instance are dropped.
	gen    uint64
	facade *facade
}

// Host owns the plugin set and the services plugins share.
type Host struct {
	// token serializes every call into plugin code.
	token sync.Mutex

	stackMu sync.Mutex
	stack   []string

	stateMu sync.RWMutex
	plugins map[string]*entry
	order   []string
	started bool
	ready   bool
	stopped bool

	queueMu sync.Mutex
	queue   []delivery

	done     chan struct{}
	doneOnce sync.Once

	bus       *eventbus.Bus
	timers    *timer.Service
	store     datastore.Store
	enforcer  *capability.Enforcer
	observers []Observer
	logger    *slog.Logger

	abi         uint32
	tick        time.Duration
	tickEvent   bool
	dataTimeout time.Duration
	clock       func() time.Time
}

// Option configures a Host.
type Option func(*Host)

// WithStore sets the shared data store. Defaults to an in-memory store
// with default limits.
func WithStore(s datastore.Store) Option {
	return func(h *Host) {
		h.store = s
	}
}

// WithEnforcer gates LoadPlugin and UnloadPlugin behind capability grants.
func WithEnforcer(e *capability.Enforcer) Option {
	return func(h *Host) {
		h.enforcer = e
	}
}

// WithObserver registers o for load and unload notifications.
func WithObserver(o Observer) Option {
	return func(h *Host) {
		h.observers = append(h.observers, o)
	}
}

// WithLogger sets the host logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Host) {
		h.logger = l
	}
}

// WithTick sets the dispatch loop period.
func WithTick(d time.Duration) Option {
	return func(h *Host) {
		if d > 0 {
			h.tick = d
		}
	}
}

// WithTickEvent publishes EventTick on every loop iteration.
func WithTickEvent(on bool) Option {
	return func(h *Host) {
		h.tickEvent = on
	}
}

// WithDataTimeout bounds each data store call made through a facade.
func WithDataTimeout(d time.Duration) Option {
	return func(h *Host) {
		if d > 0 {
			h.dataTimeout = d
		}
	}
}

// WithClock sets the time source for timers.
func WithClock(now func() time.Time) Option {
	return func(h *Host) {
		h.clock = now
	}
}

// WithABI overrides the ABI version plugins must declare.
func WithABI(abi uint32) Option {
	return func(h *Host) {
		h.abi = abi
	}
}

// New creates a host. Nothing runs until Start.
func New(opts ...Option) *Host {
	h := &Host{
		plugins:     make(map[string]*entry),
		done:        make(chan struct{}),
		logger:      slog.Default(),
		abi:         pluginapi.ABIVersion,
		tick:        DefaultTick,
		dataTimeout: DefaultDataTimeout,
		clock:       time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.store == nil {
		h.store = datastore.NewMemoryStore(datastore.DefaultLimits())
	}

	inv := dispatch.InvokerFunc(h.invoke)
	h.bus = eventbus.New(eventbus.WithInvoker(inv), eventbus.WithLogger(h.logger))
	h.timers = timer.New(timer.WithInvoker(inv), timer.WithLogger(h.logger), timer.WithClock(h.clock))
	return h
}

// Start admits candidates in discovery order, resolves the load plan and
// initializes every plugin in it. Rejected candidates are released.
func (h *Host) Start(ctx context.Context, candidates []*plugin.Candidate) (*Report, error) {
	h.token.Lock()
	defer h.token.Unlock()

	h.stateMu.Lock()
	if h.started {
		h.stateMu.Unlock()
		return nil, oops.In("host").Errorf("host already started")
	}
	h.started = true
	h.stateMu.Unlock()

	report := &Report{}
	validator := plugin.NewValidatorForABI(h.abi)

	var descs []pluginapi.Descriptor
	for i, c := range candidates {
		d, err := h.admit(validator, c)
		if err != nil {
			name := failureName(d, i)
			report.Failures = append(report.Failures, plugin.Failure{Plugin: name, Err: err})
			h.release(name, c)
			continue
		}
		h.stateMu.Lock()
		h.plugins[d.Name] = &entry{cand: c, desc: d, index: i}
		h.stateMu.Unlock()
		descs = append(descs, d)
	}

	plan := plugin.Resolve(descs)
	report.Plan = plan
	report.Failures = append(report.Failures, plan.Failures...)

	for _, name := range plan.Order {
		if err := h.initInOrder(ctx, name); err != nil {
			report.Failures = append(report.Failures, plugin.Failure{Plugin: name, Err: err})
		}
	}

	report.Loaded = h.Loaded()
	h.stateMu.Lock()
	h.ready = true
	h.stateMu.Unlock()
	for _, f := range report.Failures {
		recordLoadFailure(f.Err)
		errutil.LogError(h.logger.With("plugin", f.Plugin), "plugin not loaded", f.Err)
	}
	h.logger.Info("plugins started",
		"loaded", len(report.Loaded),
		"failed", len(report.Failures),
		"order", report.Loaded)
	return report, nil
}

// Plan validates candidates and resolves their load order without calling
// Init or registering anything. Report.Loaded stays empty and candidates
// are not released.
func (h *Host) Plan(candidates []*plugin.Candidate) *Report {
	report := &Report{}
	validator := plugin.NewValidatorForABI(h.abi)

	var descs []pluginapi.Descriptor
	for i, c := range candidates {
		d, err := check(validator, c)
		if err != nil {
			report.Failures = append(report.Failures, plugin.Failure{Plugin: failureName(d, i), Err: err})
			continue
		}
		descs = append(descs, d)
	}

	report.Plan = plugin.Resolve(descs)
	report.Failures = append(report.Failures, report.Plan.Failures...)
	return report
}

func failureName(d pluginapi.Descriptor, index int) string {
	if d.Name == "" {
		return fmt.Sprintf("candidate #%d", index)
	}
	return d.Name
}

// check validates c's descriptor. On failure the raw descriptor is
// returned so the caller can still name the plugin.
func check(v *plugin.Validator, c *plugin.Candidate) (pluginapi.Descriptor, error) {
	if c == nil || c.Plugin == nil {
		return pluginapi.Descriptor{}, oops.Code(plugin.CodeInvalidName).In("host").Errorf("candidate has no plugin")
	}
	raw, err := safeInfo(c.Plugin)
	if err != nil {
		return raw, err
	}
	d, err := v.Validate(raw)
	if err != nil {
		return raw, err
	}
	return d, nil
}

// admit validates c's descriptor and registers its capability grants.
func (h *Host) admit(v *plugin.Validator, c *plugin.Candidate) (pluginapi.Descriptor, error) {
	d, err := check(v, c)
	if err != nil {
		return d, err
	}
	if h.enforcer != nil && len(c.Capabilities) > 0 {
		if err := h.enforcer.AddGrants(d.Name, c.Capabilities); err != nil {
			return d, err
		}
	}
	return d, nil
}

func safeInfo(p pluginapi.Plugin) (d pluginapi.Descriptor, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = oops.Code(plugin.CodeInitFailed).In("host").Errorf("plugin info panicked: %v", r)
		}
	}()
	return p.Info(), nil
}

// initInOrder initializes name unless it is already loaded or a required
// dependency is not. The token must be held.
func (h *Host) initInOrder(ctx context.Context, name string) error {
	if h.IsLoaded(name) {
		return nil
	}
	e := h.entry(name)
	for _, dep := range e.desc.Dependencies {
		if dep.Kind.IsOptional() || h.IsLoaded(dep.Name) {
			continue
		}
		return oops.Code(plugin.CodeInitFailed).
			In("host").
			With("plugin", name).
			With("dependency", dep.Name).
			Errorf("required dependency %s failed to initialize", dep.Name)
	}
	return h.initPlugin(ctx, e)
}

// initPlugin hands e its facade and calls Init. The token must be held.
func (h *Host) initPlugin(_ context.Context, e *entry) error {
	name := e.desc.Name

	h.stateMu.Lock()
	e.gen++
	f := newFacade(h, name)
	e.facade = f
	h.stateMu.Unlock()

	err := h.call(name, func() error { return e.cand.Plugin.Init(f) })
	if err != nil {
		f.close()
		h.bus.UnsubscribeOwner(name)
		h.timers.CancelOwner(name)
		return oops.Code(plugin.CodeInitFailed).
			In("host").
			With("plugin", name).
			Wrapf(err, "plugin %s failed to initialize", name)
	}

	h.stateMu.Lock()
	e.loaded = true
	h.order = append(h.order, name)
	h.stateMu.Unlock()

	PluginsLoaded.Inc()
	for _, o := range h.observers {
		o.PluginLoaded(name)
	}
	h.logger.Info("plugin loaded", "plugin", name, "version", e.desc.Version, "source", string(e.cand.Source))
	h.Publish(EventPluginLoaded, name)
	return nil
}

// unloadPlugin shuts name down and removes everything it owns. The token
// must be held.
func (h *Host) unloadPlugin(name string) {
	h.stateMu.Lock()
	e, ok := h.plugins[name]
	if !ok || !e.loaded {
		h.stateMu.Unlock()
		return
	}
	e.loaded = false
	h.order = slices.DeleteFunc(h.order, func(n string) bool { return n == name })
	f := e.facade
	h.stateMu.Unlock()

	if err := h.call(name, func() error {
		e.cand.Plugin.Shutdown()
		return nil
	}); err != nil {
		errutil.LogWarn(h.logger.With("plugin", name), "plugin shutdown failed", err)
	}
	f.close()
	subs := h.bus.UnsubscribeOwner(name)
	timers := h.timers.CancelOwner(name)

	PluginsLoaded.Dec()
	for _, o := range h.observers {
		o.PluginUnloaded(name)
	}
	h.logger.Info("plugin unloaded", "plugin", name, "subscriptions", subs, "timers", timers)
	h.Publish(EventPluginUnloaded, name)
}

// Stop unloads every plugin in reverse load order and releases every
// candidate. It is safe to call more than once.
func (h *Host) Stop(_ context.Context) error {
	h.token.Lock()
	defer h.token.Unlock()

	h.stateMu.Lock()
	if h.stopped {
		h.stateMu.Unlock()
		return nil
	}
	h.stopped = true
	order := slices.Clone(h.order)
	h.stateMu.Unlock()

	for i := len(order) - 1; i >= 0; i-- {
		h.unloadPlugin(order[i])
	}

	for _, e := range h.entries() {
		h.release(e.desc.Name, e.cand)
	}
	h.finish()
	h.logger.Info("plugins stopped", "unloaded", len(order))
	return nil
}

func (h *Host) release(name string, c *plugin.Candidate) {
	if err := c.Release(); err != nil {
		errutil.LogWarn(h.logger.With("plugin", name), "release plugin resources", err)
	}
}

// call runs fn as owner's code, turning a panic into an error.
func (h *Host) call(owner string, fn func() error) (err error) {
	h.enter(owner)
	defer h.leave()
	defer func() {
		if r := recover(); r != nil {
			err = oops.In("host").
				With("plugin", owner).
				With("stack", string(debug.Stack())).
				Errorf("plugin panicked: %v", r)
		}
	}()
	return fn()
}

// invoke runs a bus or timer callback for owner. Callbacks of plugins that
// are no longer loaded are dropped.
func (h *Host) invoke(ctx context.Context, owner string, cb *pluginapi.Callback, event, payload string) error {
	if !h.IsLoaded(owner) {
		h.logger.Debug("dropping callback for unloaded plugin", "plugin", owner, "event", event)
		return nil
	}
	h.enter(owner)
	defer h.leave()
	return cb.Invoke(ctx, event, payload)
}

func (h *Host) enter(owner string) {
	h.stackMu.Lock()
	h.stack = append(h.stack, owner)
	h.stackMu.Unlock()
}

func (h *Host) leave() {
	h.stackMu.Lock()
	h.stack = h.stack[:len(h.stack)-1]
	h.stackMu.Unlock()
}

// running reports whether owner's code is executing under the token.
func (h *Host) running(owner string) bool {
	h.stackMu.Lock()
	defer h.stackMu.Unlock()
	return slices.Contains(h.stack, owner)
}

// withToken runs fn holding the token, or inline when caller's own code
// already holds it.
func (h *Host) withToken(caller string, fn func() error) error {
	if caller == "" || !h.running(caller) {
		h.token.Lock()
		defer h.token.Unlock()
	}
	return fn()
}

func (h *Host) entry(name string) *entry {
	h.stateMu.RLock()
	defer h.stateMu.RUnlock()
	return h.plugins[name]
}

// entries returns every accepted plugin in discovery order.
func (h *Host) entries() []*entry {
	h.stateMu.RLock()
	out := make([]*entry, 0, len(h.plugins))
	for _, e := range h.plugins {
		out = append(out, e)
	}
	h.stateMu.RUnlock()
	slices.SortFunc(out, func(a, b *entry) int { return a.index - b.index })
	return out
}

// IsLoaded reports whether name is currently loaded.
func (h *Host) IsLoaded(name string) bool {
	h.stateMu.RLock()
	defer h.stateMu.RUnlock()
	e, ok := h.plugins[name]
	return ok && e.loaded
}

// Loaded returns the loaded plugins in load order.
func (h *Host) Loaded() []string {
	h.stateMu.RLock()
	defer h.stateMu.RUnlock()
	return slices.Clone(h.order)
}

// Known returns every accepted plugin in discovery order.
func (h *Host) Known() []string {
	es := h.entries()
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.desc.Name
	}
	return out
}

// Ready reports whether Start has finished and Stop has not run.
func (h *Host) Ready() bool {
	h.stateMu.RLock()
	defer h.stateMu.RUnlock()
	return h.ready && !h.stopped
}

// Store returns the shared data store.
func (h *Host) Store() datastore.Store { return h.store }

// Bus returns the event bus.
func (h *Host) Bus() *eventbus.Bus { return h.bus }

// Timers returns the timer service.
func (h *Host) Timers() *timer.Service { return h.timers }

// Done is closed once a plugin publishes EventHostShutdown or Stop runs.
func (h *Host) Done() <-chan struct{} { return h.done }

func (h *Host) finish() {
	h.doneOnce.Do(func() { close(h.done) })
}
