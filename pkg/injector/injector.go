// Package injector implements the Injector: the single serialized
// coordinator that owns the factory registry, item table, and active set,
// and reconciles them as events arrive. Every external operation is a
// request sent over a channel and answered by the loop goroutine, the
// same ticket/channel shape juju's dependency engine uses for its
// install/started/stopped traffic — generalized here from single-resource
// manifolds to multi-valued items matched by Cartesian product.
package injector

import (
	"context"
	"fmt"

	"github.com/juju/clock"
	"github.com/rs/zerolog"
	"gopkg.in/tomb.v2"

	"github.com/cuemby/loom/pkg/activeset"
	"github.com/cuemby/loom/pkg/enginerrors"
	"github.com/cuemby/loom/pkg/events"
	"github.com/cuemby/loom/pkg/host"
	"github.com/cuemby/loom/pkg/item"
	"github.com/cuemby/loom/pkg/itemtable"
	"github.com/cuemby/loom/pkg/log"
	"github.com/cuemby/loom/pkg/matcher"
	"github.com/cuemby/loom/pkg/metrics"
	"github.com/cuemby/loom/pkg/proc"
	"github.com/cuemby/loom/pkg/registry"
)

// Injector is the dependency-injection and lifecycle-coordination engine
// described in the component design: one goroutine processing a strict
// sequence of events against private, unsynchronized state.
type Injector struct {
	tomb   tomb.Tomb
	clock  clock.Clock
	logger zerolog.Logger
	events *events.Broker
	host   *host.Host

	registry *registry.Registry
	table    *itemtable.Table
	active   *activeset.Set

	// pendingStops records entries the Injector deliberately stopped, so
	// the eventual worker_down for that handle is recognized as the
	// expected confirmation (emit child_stopped) rather than an
	// independent crash (which would otherwise look identical).
	pendingStops map[*host.Handle]stopRecord

	addFactoryCh    chan addFactoryReq
	removeFactoryCh chan removeFactoryReq
	pushCh          chan pushReq
	withdrawCh      chan withdrawReq
	itemDownCh      chan itemDownMsg
	workerDownCh    chan workerDownMsg
	snapshotCh      chan chan Snapshot
}

type stopRecord struct {
	factoryID string
	tuple     []*item.Item
}

// Option configures an Injector.
type Option func(*Injector)

// WithClock overrides the clock handed to the Injector's Worker Host for
// spawn handshake timeouts. Event timestamps are set by the broker.
func WithClock(c clock.Clock) Option { return func(e *Injector) { e.clock = c } }

// WithEvents attaches the event broker the Injector publishes to. If
// omitted, a broker is created and started automatically.
func WithEvents(b *events.Broker) Option { return func(e *Injector) { e.events = b } }

// New constructs an Injector. Call Start to begin processing events.
func New(opts ...Option) *Injector {
	e := &Injector{
		clock:        clock.WallClock,
		logger:       log.WithComponent("injector"),
		registry:     registry.New(),
		table:        itemtable.New(),
		active:       activeset.New(),
		pendingStops: make(map[*host.Handle]stopRecord),

		addFactoryCh:    make(chan addFactoryReq),
		removeFactoryCh: make(chan removeFactoryReq),
		pushCh:          make(chan pushReq),
		withdrawCh:      make(chan withdrawReq),
		itemDownCh:      make(chan itemDownMsg, 16),
		workerDownCh:    make(chan workerDownMsg, 16),
		snapshotCh:      make(chan chan Snapshot),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.events == nil {
		e.events = events.NewBroker()
		e.events.Start()
	}
	e.host = host.New(host.WithClock(e.clock), host.WithEvents(e.events))
	return e
}

// Start begins the Injector's event loop.
func (e *Injector) Start() {
	metrics.RegisterComponent("injector", true, "")
	e.tomb.Go(func() error {
		defer metrics.UpdateComponent("injector", false, "stopped")
		e.loop()
		return nil
	})
}

// Kill stops the Injector. Running workers are not stopped; only the
// coordinator's own goroutine exits.
func (e *Injector) Kill(reason error) { e.tomb.Kill(reason) }

// Wait blocks until the Injector's loop has exited.
func (e *Injector) Wait() error { return e.tomb.Wait() }

// Events returns a subscription to the Injector's event stream.
func (e *Injector) Events() events.Subscriber { return e.events.Subscribe() }

// Host returns the Worker Host shared by this Injector, for callers that
// build factories needing to spawn workers themselves.
func (e *Injector) Host() *host.Host { return e.host }

func (e *Injector) loop() {
	for {
		select {
		case req := <-e.addFactoryCh:
			req.result <- e.handleAddFactory(req.factory)
		case req := <-e.removeFactoryCh:
			req.result <- e.handleRemoveFactory(req.id)
		case req := <-e.pushCh:
			req.result <- e.handlePush(req.key, req.value, req.owner)
		case req := <-e.withdrawCh:
			req.result <- e.handleWithdraw(req.it, req.reason)
		case msg := <-e.itemDownCh:
			e.handleItemDown(msg)
		case msg := <-e.workerDownCh:
			e.handleWorkerDown(msg)
		case reply := <-e.snapshotCh:
			reply <- e.snapshot()
		case <-e.tomb.Dying():
			return
		}
	}
}

// --- AddFactory ---

type addFactoryReq struct {
	factory *registry.Factory
	result  chan error
}

// AddFactory registers a new factory and immediately matches it against
// whatever items are already present, including instantiating it once
// if it has no requirements.
func (e *Injector) AddFactory(f *registry.Factory) error {
	req := addFactoryReq{factory: f, result: make(chan error, 1)}
	select {
	case e.addFactoryCh <- req:
	case <-e.tomb.Dying():
		return enginerrors.New(enginerrors.NotFound, e.tomb.Err())
	}
	return <-req.result
}

func (e *Injector) handleAddFactory(f *registry.Factory) error {
	if err := e.registry.Add(f); err != nil {
		return err
	}
	metrics.FactoriesTotal.Inc()
	e.emit(events.FactoryAdded, f.ID, "", nil)
	e.matchFactory(f)
	return nil
}

// --- RemoveFactory ---

type removeFactoryReq struct {
	id     string
	result chan error
}

// RemoveFactory unregisters a factory. Workers it already started keep
// running; removal only stops future matching.
func (e *Injector) RemoveFactory(id string) error {
	req := removeFactoryReq{id: id, result: make(chan error, 1)}
	select {
	case e.removeFactoryCh <- req:
	case <-e.tomb.Dying():
		return enginerrors.New(enginerrors.NotFound, e.tomb.Err())
	}
	return <-req.result
}

func (e *Injector) handleRemoveFactory(id string) error {
	if err := e.registry.Remove(id); err != nil {
		return err
	}
	metrics.FactoriesTotal.Dec()
	e.emit(events.FactoryRemoved, id, "", nil)
	return nil
}

// --- Push ---

type pushReq struct {
	key    item.Key
	value  any
	owner  *proc.Handle
	result chan pushResult
}

type pushResult struct {
	item *item.Item
	err  error
}

// Push creates a new Item for (key, value) and inserts it into the item
// table, triggering re-matching of every factory that requires key. If
// owner is non-nil, the item is withdrawn automatically when owner dies.
func (e *Injector) Push(key item.Key, value any, owner *proc.Handle) (*item.Item, error) {
	req := pushReq{key: key, value: value, owner: owner, result: make(chan pushResult, 1)}
	select {
	case e.pushCh <- req:
	case <-e.tomb.Dying():
		return nil, enginerrors.New(enginerrors.NotFound, e.tomb.Err())
	}
	res := <-req.result
	return res.item, res.err
}

func (e *Injector) handlePush(key item.Key, value any, owner *proc.Handle) pushResult {
	it := item.New(key, value)
	it.SetOwner(owner)
	e.table.Insert(it)
	metrics.ItemsTotal.WithLabelValues(string(key)).Inc()
	log.WithItemKey(string(key)).Debug().Str("item_id", it.ID().String()).Msg("item_pushed")
	e.emit(events.ItemPushed, "", string(key), nil)

	_, deathCh := it.Monitor()
	go func() {
		down := <-deathCh
		select {
		case e.itemDownCh <- itemDownMsg{item: it, reason: down.Reason}:
		case <-e.tomb.Dying():
		}
	}()

	if owner != nil {
		_, ownerDeathCh := owner.Monitor()
		go func() {
			down := <-ownerDeathCh
			it.Withdraw(fmt.Errorf("owner_down: %w", wrapNil(down.Reason)))
		}()
	}

	for _, f := range e.registry.DependingOn(key) {
		e.matchFactory(f)
	}
	return pushResult{item: it}
}

func wrapNil(err error) error {
	if err == nil {
		return fmt.Errorf("normal")
	}
	return err
}

// --- Withdraw ---

type withdrawReq struct {
	it     *item.Item
	reason error
	result chan error
}

// Withdraw revokes it, cascading a stop to every active entry whose
// tuple includes it.
func (e *Injector) Withdraw(it *item.Item, reason error) error {
	req := withdrawReq{it: it, reason: reason, result: make(chan error, 1)}
	select {
	case e.withdrawCh <- req:
	case <-e.tomb.Dying():
		return enginerrors.New(enginerrors.NotFound, e.tomb.Err())
	}
	return <-req.result
}

func (e *Injector) handleWithdraw(it *item.Item, reason error) error {
	if !e.table.Contains(it) {
		return enginerrors.New(enginerrors.NotFound, nil)
	}
	it.Withdraw(reason)
	return nil
}

// --- internal reactions ---

type itemDownMsg struct {
	item   *item.Item
	reason error
}

func (e *Injector) handleItemDown(msg itemDownMsg) {
	if !e.table.Remove(msg.item) {
		return // already processed (e.g. duplicate delivery)
	}
	metrics.ItemsTotal.WithLabelValues(string(msg.item.Key())).Dec()
	metrics.ItemsRevokedTotal.WithLabelValues(string(msg.item.Key())).Inc()
	e.emit(events.ItemRevoked, "", string(msg.item.Key()), msg.reason)

	for _, entry := range e.active.EntriesInvolving(msg.item) {
		e.stopEntry(entry, msg.reason)
	}
}

type workerDownMsg struct {
	worker *host.Handle
	reason error
}

func (e *Injector) handleWorkerDown(msg workerDownMsg) {
	if rec, ok := e.pendingStops[msg.worker]; ok {
		delete(e.pendingStops, msg.worker)
		metrics.ActiveEntriesTotal.Dec()
		metrics.WorkersStoppedTotal.WithLabelValues(rec.factoryID, reasonLabel(msg.reason)).Inc()
		e.emit(events.ChildStopped, rec.factoryID, "", msg.reason)
		return
	}

	entry, ok := e.active.EntryByWorker(msg.worker)
	if !ok {
		return // unrelated or already-reconciled death
	}
	e.active.Remove(entry.FactoryID, entry.Tuple)
	metrics.ActiveEntriesTotal.Dec()
	metrics.WorkersStoppedTotal.WithLabelValues(entry.FactoryID, reasonLabel(msg.reason)).Inc()
	e.emit(events.ChildStopped, entry.FactoryID, "", msg.reason)
	// No restart: an independently crashed worker is not re-started by
	// the Injector. Re-matching only happens on factory_added or
	// item_pushed.
}

func reasonLabel(err error) string {
	if err == nil {
		return "normal"
	}
	return "error"
}

// matchFactory computes the factory's candidate tuples and starts a
// worker for each one not already in the active set.
func (e *Injector) matchFactory(f *registry.Factory) {
	timer := metrics.NewTimer()
	candidates := matcher.Candidates(f.Requires, e.table)
	timer.ObserveDuration(metrics.MatchDuration)

	for _, tuple := range candidates {
		if e.active.Contains(f.ID, tuple) {
			continue
		}
		e.startEntry(f, tuple)
	}
}

func (e *Injector) startEntry(f *registry.Factory, tuple matcher.Tuple) {
	deps := make([]registry.Dependency, len(tuple))
	for i, it := range tuple {
		deps[i] = registry.Dependency{Key: it.Key(), Value: it.Value()}
	}

	e.emit(events.ChildStarting, f.ID, "", nil)
	handle, err := f.Start(f.Args, deps)
	if err != nil {
		metrics.WorkersSpawnFailedTotal.WithLabelValues(f.ID, spawnFailureKind(err)).Inc()
		log.WithFactoryID(f.ID).Warn().Err(err).Msg("spawn_failed")
		e.emit(events.ChildStopped, f.ID, "", err)
		return
	}

	_, deathCh := handle.Monitor()
	go func() {
		down := <-deathCh
		select {
		case e.workerDownCh <- workerDownMsg{worker: handle, reason: down.Reason}:
		case <-e.tomb.Dying():
		}
	}()

	e.active.Put(&activeset.Entry{FactoryID: f.ID, Tuple: tuple, Worker: handle})
	metrics.ActiveEntriesTotal.Inc()
	metrics.WorkersSpawnedTotal.WithLabelValues(f.ID).Inc()
	e.emit(events.ChildStarted, f.ID, "", nil)
}

func spawnFailureKind(err error) string {
	if enginerrors.Is(err, enginerrors.SpawnTimeout) {
		return string(enginerrors.SpawnTimeout)
	}
	if enginerrors.Is(err, enginerrors.SpawnInitFailed) {
		return string(enginerrors.SpawnInitFailed)
	}
	return "other"
}

func (e *Injector) stopEntry(entry *activeset.Entry, reason error) {
	e.active.Remove(entry.FactoryID, entry.Tuple)
	e.pendingStops[entry.Worker] = stopRecord{factoryID: entry.FactoryID, tuple: entry.Tuple}
	e.emit(events.ChildStopping, entry.FactoryID, "", nil)
	// Stop is asynchronous: the entry is already gone from the active
	// set, so the eventual worker_down for this handle is recognized via
	// pendingStops rather than treated as an independent crash.
	e.host.Stop(entry.Worker, reason)
}

func (e *Injector) emit(kind events.Kind, factoryID, itemKey string, err error) {
	e.events.Publish(&events.Event{
		Kind:      kind,
		FactoryID: factoryID,
		ItemKey:   itemKey,
		Err:       err,
	})
	e.logger.Debug().Str("kind", string(kind)).Str("factory_id", factoryID).Str("item_key", itemKey).Msg("event")
}

// Snapshot is a read-only view of the Injector's state, for
// introspection and tests.
type Snapshot struct {
	Factories    int
	ActiveCount  int
	PendingStops int
}

// Snapshot returns the current counts, computed inside the loop goroutine
// so it never races with a concurrent state change.
func (e *Injector) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	select {
	case e.snapshotCh <- reply:
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	case <-e.tomb.Dying():
		return Snapshot{}, e.tomb.Err()
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

func (e *Injector) snapshot() Snapshot {
	return Snapshot{
		Factories:    len(e.registry.All()),
		ActiveCount:  e.active.Len(),
		PendingStops: len(e.pendingStops),
	}
}
