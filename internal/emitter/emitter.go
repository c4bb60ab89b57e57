// Package emitter provides the in-process event bus the domain layers use to
// decouple resource mutations from activity posting.
//
// Two handler kinds exist: On handlers are fire-and-forget and run
// synchronously in registration order; When handlers are awaitable and may
// complete out of order. Emit returns only after every When handler has
// completed, with their errors aggregated.
package emitter

import (
	"context"
	"sync"

	"go.uber.org/multierr"
)

// Handler is a fire-and-forget listener.
type Handler func(ctx context.Context, args ...any)

// AwaitableHandler reports completion through its return value.
type AwaitableHandler func(ctx context.Context, args ...any) error

// Emitter fans typed events out to registered listeners. Handler lists are
// read-mostly: registration happens at startup, emission afterwards.
type Emitter struct {
	mu   sync.RWMutex
	on   map[string][]Handler
	when map[string][]AwaitableHandler
}

func New() *Emitter {
	return &Emitter{
		on:   make(map[string][]Handler),
		when: make(map[string][]AwaitableHandler),
	}
}

// On registers a synchronous listener invoked in registration order.
// There is no back-channel; errors inside On handlers are the handler's problem.
func (e *Emitter) On(name string, fn Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.on[name] = append(e.on[name], fn)
}

// When registers an awaitable listener. Emit completion observes it.
func (e *Emitter) When(name string, fn AwaitableHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.when[name] = append(e.when[name], fn)
}

// Emit invokes all On handlers, then awaits all When handlers, then calls
// done with the aggregated non-nil errors (nil when all succeeded). A nil
// done drops completion silently.
//
// A When handler's error is captured, never propagated by panic; the sum of
// errors is surfaced to done.
func (e *Emitter) Emit(ctx context.Context, name string, args ...any) {
	e.EmitDone(ctx, name, nil, args...)
}

func (e *Emitter) EmitDone(ctx context.Context, name string, done func(error), args ...any) {
	e.mu.RLock()
	onHandlers := e.on[name]
	whenHandlers := e.when[name]
	e.mu.RUnlock()

	for _, fn := range onHandlers {
		fn(ctx, args...)
	}

	if len(whenHandlers) == 0 {
		if done != nil {
			done(nil)
		}
		return
	}

	var (
		wg     sync.WaitGroup
		errMu  sync.Mutex
		errSum error
	)
	for _, fn := range whenHandlers {
		wg.Add(1)
		go func(fn AwaitableHandler) {
			defer wg.Done()
			if err := fn(ctx, args...); err != nil {
				errMu.Lock()
				errSum = multierr.Append(errSum, err)
				errMu.Unlock()
			}
		}(fn)
	}
	wg.Wait()

	if done != nil {
		done(errSum)
	}
}
