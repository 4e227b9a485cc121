// Package host implements loom's Worker Host: a lightweight, in-process
// actor runtime. Each spawned worker is one goroutine with a mailbox,
// dispatching messages through a (state function, state data) pair the
// way an Erlang gen_statem dispatches through {StateName, Data} — but
// expressed as a plain Go closure pair instead of a reflective callback
// lookup.
package host

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/rs/zerolog"

	"github.com/cuemby/loom/pkg/enginerrors"
	"github.com/cuemby/loom/pkg/events"
	"github.com/cuemby/loom/pkg/log"
	"github.com/cuemby/loom/pkg/metrics"
	"github.com/cuemby/loom/pkg/proc"
)

// DefaultSpawnTimeout bounds how long Spawn waits for a worker's
// create_initial_state handshake before giving up and killing it.
const DefaultSpawnTimeout = 500 * time.Millisecond

// StateFn is one state of a worker's state machine. It receives the
// reply continuation for the current message (for a cast, one that
// discards whatever it is given), the
// message itself, and the worker's current state data, and returns a
// Result describing the transition.
type StateFn func(reply ReplyFunc, msg any, data any) Result

// ReplyFunc completes an in-flight RPC. Calling it more than once, or
// calling it after the RPC caller has given up, is a safe no-op.
type ReplyFunc func(value any, err error)

type resultKind int

const (
	kindNext resultKind = iota
	kindNoChange
	kindExit
)

// Result is what a StateFn returns to tell the worker loop what to do
// next.
type Result struct {
	kind resultKind
	fn   StateFn
	data any
	err  error
}

// Next transitions the worker to fn with new state data.
func Next(fn StateFn, data any) Result { return Result{kind: kindNext, fn: fn, data: data} }

// NoChange keeps the worker in its current state.
func NoChange() Result { return Result{kind: kindNoChange} }

// Exit terminates the worker with reason (nil means a normal exit).
func Exit(reason error) Result { return Result{kind: kindExit, err: reason} }

// Module is the recipe a worker is spawned from: it builds the initial
// state function and state data from the spawn arguments. A Module value
// is shared read-only state across potentially many spawned workers; it
// must not be mutated by CreateInitialState or by any StateFn it hands
// out.
type Module interface {
	CreateInitialState(args any) (StateFn, any, error)
}

// StartedHook is an optional Module hook invoked once, after
// CreateInitialState succeeds and before the worker accepts messages.
type StartedHook interface {
	Started(data any)
}

// StoppedHook is an optional Module hook invoked once, as the worker is
// about to exit, whatever the reason (including a panic turned into a
// runtime_error).
type StoppedHook interface {
	Stopped(data any, reason error)
}

// Identity is a snapshot of a worker's current dispatch state, returned
// by Host.Identity and sent as a system message reply.
type Identity struct {
	WorkerID  uuid.UUID
	Module    string
	CurrentFn string
	StartArgs any
	Traced    bool
}

// SpawnOptions configures a single Spawn call.
type SpawnOptions struct {
	// Timeout bounds the create_initial_state handshake. Zero means
	// DefaultSpawnTimeout.
	Timeout time.Duration
	// Link, if non-nil, ties the new worker's lifetime to link: whichever
	// dies first kills the other with the same reason.
	Link *Handle
}

// Handle is a live reference to a spawned worker.
type Handle struct {
	id       uuid.UUID
	proc     *proc.Handle
	mailbox  chan envelope
	sysCh    chan sysRequest
	stopCh   chan error
	identity *Identity // only ever written by the worker's own loop goroutine
}

// ID returns the worker's unique identifier, assigned at spawn time and
// stable for its lifetime.
func (h *Handle) ID() uuid.UUID { return h.id }

type envelope struct {
	msg   any
	reply ReplyFunc
}

type sysKind int

const (
	sysTraceOn sysKind = iota
	sysTraceOff
	sysIdentity
)

type sysRequest struct {
	kind  sysKind
	reply chan Identity
}

// Monitor subscribes to this worker's death.
func (h *Handle) Monitor() (proc.Token, <-chan proc.DownReason) { return h.proc.Monitor() }

// Demonitor cancels a subscription created by Monitor.
func (h *Handle) Demonitor(tok proc.Token) { h.proc.Demonitor(tok) }

// Dead reports whether the worker has exited.
func (h *Handle) Dead() <-chan struct{} { return h.proc.Dead() }

// Err returns the worker's exit reason, or nil while still alive.
func (h *Handle) Err() error { return h.proc.Err() }

func (h *Handle) String() string { return fmt.Sprintf("worker#%s", h.id) }

// Host spawns and drives workers. The zero value is not usable;
// construct with New.
type Host struct {
	clock          clock.Clock
	logger         zerolog.Logger
	events         *events.Broker
	defaultTimeout time.Duration
}

// Option configures a Host.
type Option func(*Host)

// WithClock overrides the clock used for spawn handshake timeouts,
// primarily for deterministic tests with a testclock.Clock. RPC
// timeouts come from the caller's context, not from this clock.
func WithClock(c clock.Clock) Option { return func(h *Host) { h.clock = c } }

// WithEvents attaches an event broker that Host publishes rpc_failed
// events to.
func WithEvents(b *events.Broker) Option { return func(h *Host) { h.events = b } }

// WithDefaultSpawnTimeout overrides DefaultSpawnTimeout.
func WithDefaultSpawnTimeout(d time.Duration) Option {
	return func(h *Host) { h.defaultTimeout = d }
}

// New returns a ready Host.
func New(opts ...Option) *Host {
	h := &Host{
		clock:          clock.WallClock,
		logger:         log.WithComponent("host"),
		defaultTimeout: DefaultSpawnTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	metrics.RegisterComponent("host", true, "")
	return h
}

// Spawn starts a new worker from module with the given arguments, and
// blocks until create_initial_state completes, fails, or times out. On
// success the worker is already running its state machine.
func (h *Host) Spawn(ctx context.Context, module Module, args any, opts SpawnOptions) (*Handle, error) {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = h.defaultTimeout
	}

	id := uuid.New()
	w := &worker{
		proc:    proc.New(),
		module:  module,
		args:    args,
		mailbox: make(chan envelope),
		sysCh:   make(chan sysRequest),
		stopCh:  make(chan error, 1),
		logger:  h.logger.With().Str("worker_id", id.String()).Logger(),
	}
	handle := &Handle{id: id, proc: w.proc, mailbox: w.mailbox, sysCh: w.sysCh, stopCh: w.stopCh}
	w.handle = handle

	initDone := make(chan error, 1)
	go w.run(initDone)

	timer := metrics.NewTimer()
	select {
	case err := <-initDone:
		timer.ObserveDuration(metrics.SpawnHandshakeDuration)
		if err != nil {
			return nil, enginerrors.New(enginerrors.SpawnInitFailed, err)
		}
		if opts.Link != nil {
			proc.Link(opts.Link.proc, handle.proc)
		}
		return handle, nil
	case <-h.clock.After(timeout):
		w.proc.Kill(enginerrors.New(enginerrors.SpawnTimeout, nil))
		return nil, enginerrors.New(enginerrors.SpawnTimeout, nil)
	case <-ctx.Done():
		w.proc.Kill(ctx.Err())
		return nil, ctx.Err()
	}
}

// RPC sends msg to handle and blocks for a reply, for the worker's death,
// or for ctx to be done, whichever happens first.
func (h *Host) RPC(ctx context.Context, handle *Handle, msg any) (any, error) {
	timer := metrics.NewTimer()
	val, err := h.rpc(ctx, handle, msg)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		h.reportRPCFailure(handle, err)
	}
	timer.ObserveDurationVec(metrics.RPCDuration, outcome)
	return val, err
}

func (h *Host) rpc(ctx context.Context, handle *Handle, msg any) (any, error) {
	replyCh := make(chan rpcReply, 1)
	env := envelope{
		msg: msg,
		reply: func(v any, err error) {
			select {
			case replyCh <- rpcReply{v, err}:
			default:
			}
		},
	}

	select {
	case handle.mailbox <- env:
	case <-handle.proc.Dead():
		return nil, enginerrors.New(enginerrors.RPCPeerDown, handle.proc.Err())
	case <-ctx.Done():
		return nil, enginerrors.New(enginerrors.RPCTimeout, ctx.Err())
	}

	tok, deathCh := handle.proc.Monitor()
	defer handle.proc.Demonitor(tok)

	select {
	case r := <-replyCh:
		return r.value, r.err
	case d := <-deathCh:
		return nil, enginerrors.New(enginerrors.ExitBeforeReply, d.Reason)
	case <-ctx.Done():
		return nil, enginerrors.New(enginerrors.RPCTimeout, ctx.Err())
	}
}

type rpcReply struct {
	value any
	err   error
}

func (h *Host) reportRPCFailure(handle *Handle, err error) {
	kind := "unknown"
	if kerr, ok := enginerrors.As(err); ok {
		kind = string(kerr.Kind)
	}
	metrics.RPCFailedTotal.WithLabelValues(kind).Inc()
	log.WithWorkerID(handle.id.String()).Warn().Str("kind", kind).Err(err).Msg("rpc_failed")
	if h.events != nil {
		h.events.Publish(&events.Event{Kind: events.RPCFailed, Message: kind, Err: err})
	}
}

// Cast sends msg to handle without waiting for a reply. If the state
// function invokes the reply continuation anyway, the value is silently
// discarded (but logged at debug level): a worker module written for
// RPC should still be safely castable.
func (h *Host) Cast(handle *Handle, msg any) {
	env := envelope{
		msg: msg,
		reply: func(any, error) {
			h.logger.Debug().Msg("cast_reply_discarded")
		},
	}
	select {
	case handle.mailbox <- env:
	case <-handle.proc.Dead():
	}
}

// Stop asks the worker to terminate gracefully with reason: its Stopped
// hook (if any) runs before the handle is marked dead. Stop is
// asynchronous and returns once the request has been delivered or the
// worker is already dead.
func (h *Host) Stop(handle *Handle, reason error) {
	select {
	case handle.stopCh <- reason:
	case <-handle.proc.Dead():
	}
}

// Trace toggles system-message tracing for a worker: while on, every
// dispatched message is logged at debug level with the worker's current
// state function name.
func (h *Host) Trace(handle *Handle, on bool) {
	kind := sysTraceOff
	if on {
		kind = sysTraceOn
	}
	req := sysRequest{kind: kind}
	select {
	case handle.sysCh <- req:
	case <-handle.proc.Dead():
	}
}

// Identity returns a snapshot of the worker's current dispatch state.
func (h *Host) Identity(handle *Handle) (Identity, error) {
	req := sysRequest{kind: sysIdentity, reply: make(chan Identity, 1)}
	select {
	case handle.sysCh <- req:
	case <-handle.proc.Dead():
		return Identity{}, enginerrors.New(enginerrors.RPCPeerDown, handle.proc.Err())
	}
	select {
	case id := <-req.reply:
		return id, nil
	case <-handle.proc.Dead():
		return Identity{}, enginerrors.New(enginerrors.RPCPeerDown, handle.proc.Err())
	}
}

type worker struct {
	proc    *proc.Handle
	handle  *Handle
	module  Module
	args    any
	mailbox chan envelope
	sysCh   chan sysRequest
	stopCh  chan error
	logger  zerolog.Logger

	fn     StateFn
	data   any
	traced bool
}

func (w *worker) run(initDone chan<- error) {
	fn, data, err := w.module.CreateInitialState(w.args)
	if err != nil {
		initDone <- err
		w.proc.Kill(err)
		return
	}
	w.fn, w.data = fn, data
	initDone <- nil

	if w.proc.IsDead() {
		// Spawn already gave up on us (timeout or caller context done)
		// and killed the handle before CreateInitialState returned.
		// Don't start a state machine nobody is waiting on.
		return
	}

	if starter, ok := w.module.(StartedHook); ok {
		starter.Started(data)
	}

	defer w.recoverPanic()
	w.loop()
}

func (w *worker) recoverPanic() {
	if r := recover(); r != nil {
		w.terminate(fmt.Errorf("runtime_error: %v", r))
	}
}

func (w *worker) loop() {
	for {
		select {
		case env := <-w.mailbox:
			if w.traced {
				w.logger.Debug().Str("current_fn", funcName(w.fn)).Msg("dispatch")
			}
			result := w.fn(env.reply, env.msg, w.data)
			switch result.kind {
			case kindNext:
				w.fn, w.data = result.fn, result.data
			case kindNoChange:
			case kindExit:
				w.terminate(result.err)
				return
			}
		case sys := <-w.sysCh:
			w.handleSys(sys)
		case reason := <-w.stopCh:
			w.terminate(reason)
			return
		case <-w.proc.Dead():
			// Killed from outside the loop, e.g. through a Link.
			w.terminate(w.proc.Err())
			return
		}
	}
}

func (w *worker) handleSys(sys sysRequest) {
	switch sys.kind {
	case sysTraceOn:
		w.traced = true
	case sysTraceOff:
		w.traced = false
	case sysIdentity:
		sys.reply <- Identity{
			WorkerID:  w.handle.id,
			Module:    reflect.TypeOf(w.module).String(),
			CurrentFn: funcName(w.fn),
			StartArgs: w.args,
			Traced:    w.traced,
		}
	}
}

func (w *worker) terminate(reason error) {
	if stopper, ok := w.module.(StoppedHook); ok {
		func() {
			defer func() { recover() }()
			stopper.Stopped(w.data, reason)
		}()
	}
	w.proc.Kill(reason)
}

func funcName(fn StateFn) string {
	if fn == nil {
		return ""
	}
	return runtime.FuncForPC(reflect.ValueOf(fn).Pointer()).Name()
}
