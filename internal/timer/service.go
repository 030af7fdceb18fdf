// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package timer schedules one-shot and repeating plugin timers.
//
// Timers are driven by Fire, which the host calls from its dispatch loop.
// Callbacks run without the service lock held, so a callback may set or
// cancel timers, including its own.
package timer

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/pluginhost/internal/dispatch"
	"github.com/holomush/pluginhost/internal/eventbus"
	"github.com/holomush/pluginhost/pkg/errutil"
	"github.com/holomush/pluginhost/pkg/pluginapi"
)

var tracer = otel.Tracer("pluginhost/timer")

// Service holds every active timer.
type Service struct {
	mu     sync.Mutex
	lastID pluginapi.TimerID
	timers map[pluginapi.TimerID]*entry
	queue  queue

	now       func() time.Time
	invoker   dispatch.Invoker
	onFailure dispatch.FailureHandler
	logger    *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the time source used to compute due times.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithInvoker sets how callbacks are run. Defaults to dispatch.Direct.
func WithInvoker(inv dispatch.Invoker) Option {
	return func(s *Service) {
		s.invoker = inv
	}
}

// WithFailureHandler registers a hook for contained callback failures.
func WithFailureHandler(h dispatch.FailureHandler) Option {
	return func(s *Service) {
		s.onFailure = h
	}
}

// WithLogger sets the logger used for failure diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// New creates an empty timer service.
func New(opts ...Option) *Service {
	s := &Service{
		timers:  make(map[pluginapi.TimerID]*entry),
		now:     time.Now,
		invoker: dispatch.Direct,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Set schedules cb to fire after delay on behalf of owner. Negative delays
// are treated as zero. A nil callback is not scheduled and yields
// pluginapi.NoTimer.
func (s *Service) Set(owner string, delay time.Duration, cb *pluginapi.Callback, repeat bool) pluginapi.TimerID {
	if cb == nil {
		return pluginapi.NoTimer
	}
	delay = max(delay, 0)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastID++
	e := &entry{
		id:     s.lastID,
		owner:  owner,
		cb:     cb,
		delay:  delay,
		repeat: repeat,
		due:    s.now().Add(delay),
		index:  -1,
	}
	s.timers[e.id] = e
	heap.Push(&s.queue, e)
	TimersActive.Set(float64(len(s.timers)))
	return e.id
}

// Cancel retires the timer and reports whether it was active. Cancelling
// twice reports false the second time.
func (s *Service) Cancel(id pluginapi.TimerID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.timers[id]
	if !ok {
		return false
	}
	s.retire(e)
	return true
}

// CancelOwner retires every timer belonging to owner.
func (s *Service) CancelOwner(owner string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, e := range s.timers {
		if e.owner == owner {
			s.retire(e)
			n++
		}
	}
	return n
}

// retire must be called with s.mu held.
func (s *Service) retire(e *entry) {
	delete(s.timers, e.id)
	if e.index >= 0 {
		heap.Remove(&s.queue, e.index)
	}
	TimersActive.Set(float64(len(s.timers)))
}

// Active returns the number of scheduled timers.
func (s *Service) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// NextDue returns when the earliest timer is due.
func (s *Service) NextDue() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		return time.Time{}, false
	}
	return s.queue[0].due, true
}

// Fire runs every timer due at or before now, in due-time order with ties
// broken by ascending handle. Each timer fires at most once per call. A timer
// cancelled by an earlier callback of the same call does not fire. A
// repeating timer is re-armed at now plus its delay unless it was cancelled
// while firing; a failing callback does not cancel it. One-shot timers are
// retired just before their callback runs. Fire returns the number of timers
// that fired.
func (s *Service) Fire(ctx context.Context, now time.Time) int {
	s.mu.Lock()
	var due []*entry
	for len(s.queue) > 0 && !s.queue[0].due.After(now) {
		due = append(due, heap.Pop(&s.queue).(*entry)) //nolint:forcetypeassert // heap only holds *entry
	}
	s.mu.Unlock()

	fired := 0
	for _, e := range due {
		if !s.claim(e) {
			continue
		}
		s.fire(ctx, e)
		fired++

		if !e.repeat {
			continue
		}
		s.mu.Lock()
		if cur, ok := s.timers[e.id]; ok && cur == e {
			e.due = now.Add(e.delay)
			heap.Push(&s.queue, e)
		}
		s.mu.Unlock()
	}
	return fired
}

// claim reports whether e is still scheduled and retires it when it is a
// one-shot.
func (s *Service) claim(e *entry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.timers[e.id]; !ok || cur != e {
		return false
	}
	if !e.repeat {
		delete(s.timers, e.id)
		TimersActive.Set(float64(len(s.timers)))
	}
	return true
}

func (s *Service) fire(ctx context.Context, e *entry) {
	ctx, span := tracer.Start(ctx, "timer.fire",
		trace.WithAttributes(
			attribute.Int64("timer.id", int64(e.id)), //nolint:gosec // handles stay far below MaxInt64
			attribute.String("timer.owner", e.owner),
			attribute.Bool("timer.repeat", e.repeat),
		),
	)
	defer span.End()

	TimersFired.Inc()
	err := dispatch.Call(ctx, s.invoker, dispatch.SourceTimer, e.owner, e.cb, pluginapi.TimerEvent, "", s.onFailure)
	if err != nil {
		span.RecordError(err)
		eventbus.RecordCallbackFailure(dispatch.SourceTimer, e.owner)
		errutil.LogWarn(s.logger.With("timer_id", uint64(e.id)), "timer callback failed", err)
	}
}
