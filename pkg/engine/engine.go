// Package engine is loom's external façade: it wires together an
// Injector and a Worker Host behind the small set of operations an
// embedding application actually calls (start, add_factory, push,
// withdraw, spawn, rpc, cast), the way a library's root package usually
// hides its internal component wiring behind a handful of constructors.
package engine

import (
	"context"

	"github.com/juju/clock"

	"github.com/cuemby/loom/pkg/events"
	"github.com/cuemby/loom/pkg/host"
	"github.com/cuemby/loom/pkg/injector"
	"github.com/cuemby/loom/pkg/item"
	"github.com/cuemby/loom/pkg/proc"
	"github.com/cuemby/loom/pkg/registry"
)

// Engine is a running loom instance.
type Engine struct {
	injector *injector.Injector
	host     *host.Host
	events   *events.Broker
}

// Option configures an Engine.
type Option func(*options)

type options struct {
	clock clock.Clock
}

// WithClock overrides the clock used throughout the engine, primarily for
// deterministic tests with a testclock.Clock.
func WithClock(c clock.Clock) Option { return func(o *options) { o.clock = c } }

// Start builds and starts a new Engine.
func Start(opts ...Option) *Engine {
	o := &options{clock: clock.WallClock}
	for _, opt := range opts {
		opt(o)
	}

	broker := events.NewBroker()
	broker.Start()

	inj := injector.New(injector.WithClock(o.clock), injector.WithEvents(broker))
	inj.Start()

	return &Engine{injector: inj, host: inj.Host(), events: broker}
}

// Stop shuts the engine down. Running workers are not stopped; only the
// Injector's coordination loop exits.
func (e *Engine) Stop() {
	e.injector.Kill(nil)
	_ = e.injector.Wait()
	e.events.Stop()
}

// AddFactory registers a factory, per Factory recipe contract: f.Start
// will be invoked with (f.Args, dependency_list) whenever a satisfying
// tuple is found, including once immediately for a factory with no
// requirements.
func (e *Engine) AddFactory(f *registry.Factory) error {
	return e.injector.AddFactory(f)
}

// RemoveFactory unregisters a factory by ID. Running workers it already
// started are left alone.
func (e *Engine) RemoveFactory(id string) error {
	return e.injector.RemoveFactory(id)
}

// Push inserts a new item under key, owned by owner (nil for an
// externally-owned item that only explicit Withdraw can remove).
func (e *Engine) Push(key item.Key, value any, owner *proc.Handle) (*item.Item, error) {
	return e.injector.Push(key, value, owner)
}

// Withdraw revokes an item, cascading a stop to every active worker whose
// tuple includes it.
func (e *Engine) Withdraw(it *item.Item, reason error) error {
	return e.injector.Withdraw(it, reason)
}

// Spawn starts a standalone worker outside of the factory/matching
// machinery, for callers that just want the Worker Host directly.
func (e *Engine) Spawn(ctx context.Context, module host.Module, args any, opts host.SpawnOptions) (*host.Handle, error) {
	return e.host.Spawn(ctx, module, args, opts)
}

// RPC calls into a worker and waits for its reply.
func (e *Engine) RPC(ctx context.Context, handle *host.Handle, msg any) (any, error) {
	return e.host.RPC(ctx, handle, msg)
}

// Cast sends msg to a worker without waiting for a reply.
func (e *Engine) Cast(handle *host.Handle, msg any) {
	e.host.Cast(handle, msg)
}

// Host returns the Worker Host backing this Engine, for factories that
// need to spawn their own workers.
func (e *Engine) Host() *host.Host { return e.host }

// Events returns a subscription to the engine's structured event stream.
func (e *Engine) Events() events.Subscriber { return e.injector.Events() }

// Snapshot returns a point-in-time view of the engine's internal counts.
func (e *Engine) Snapshot(ctx context.Context) (injector.Snapshot, error) {
	return e.injector.Snapshot(ctx)
}
