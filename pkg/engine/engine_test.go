package engine_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/cuemby/loom/pkg/engine"
	"github.com/cuemby/loom/pkg/enginerrors"
	"github.com/cuemby/loom/pkg/events"
	"github.com/cuemby/loom/pkg/host"
	"github.com/cuemby/loom/pkg/item"
	"github.com/cuemby/loom/pkg/registry"
)

// echoModule is a trivial worker used across these tests: its state data
// is just a counter, and it replies to any RPC with the current count
// before incrementing it.
type echoModule struct{}

func (echoModule) CreateInitialState(args any) (host.StateFn, any, error) {
	return echoState, 0, nil
}

func echoState(reply host.ReplyFunc, msg any, data any) host.Result {
	count := data.(int)
	if msg == "stop" {
		reply(nil, nil)
		return host.Exit(nil)
	}
	reply(count, nil)
	return host.Next(echoState, count+1)
}

func spawnEcho(h *host.Host) registry.StartFunc {
	return func(args any, deps []registry.Dependency) (*host.Handle, error) {
		return h.Spawn(context.Background(), echoModule{}, args, host.SpawnOptions{})
	}
}

func waitForCandidate(t *testing.T, e *engine.Engine, want int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		snap, err := e.Snapshot(context.Background())
		if err != nil {
			t.Fatalf("snapshot: %v", err)
		}
		if snap.ActiveCount == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d active entries, last snapshot %+v", want, snap)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestSingletonFactoryInstantiatesOnceAtRegistration(t *testing.T) {
	e := engine.Start()
	defer e.Stop()

	err := e.AddFactory(&registry.Factory{
		ID:    "singleton",
		Start: spawnEcho(e.Host()),
	})
	if err != nil {
		t.Fatalf("AddFactory: %v", err)
	}

	waitForCandidate(t, e, 1)
}

func TestFactoryMatchesOnceDependencyIsPushed(t *testing.T) {
	e := engine.Start()
	defer e.Stop()

	err := e.AddFactory(&registry.Factory{
		ID:       "consumer",
		Requires: []item.Key{"config"},
		Start:    spawnEcho(e.Host()),
	})
	if err != nil {
		t.Fatalf("AddFactory: %v", err)
	}

	snap, _ := e.Snapshot(context.Background())
	if snap.ActiveCount != 0 {
		t.Fatalf("expected no active entries before the dependency exists, got %d", snap.ActiveCount)
	}

	if _, err := e.Push("config", "v1", nil); err != nil {
		t.Fatalf("Push: %v", err)
	}

	waitForCandidate(t, e, 1)
}

func TestCartesianProductSpawnsOneWorkerPerCombination(t *testing.T) {
	e := engine.Start()
	defer e.Stop()

	err := e.AddFactory(&registry.Factory{
		ID:       "pairer",
		Requires: []item.Key{"a", "b"},
		Start:    spawnEcho(e.Host()),
	})
	if err != nil {
		t.Fatalf("AddFactory: %v", err)
	}

	for _, v := range []string{"a1", "a2"} {
		if _, err := e.Push("a", v, nil); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}
	for _, v := range []string{"b1", "b2"} {
		if _, err := e.Push("b", v, nil); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}

	waitForCandidate(t, e, 4)
}

func TestWithdrawCascadesStopToDependents(t *testing.T) {
	e := engine.Start()
	defer e.Stop()

	if err := e.AddFactory(&registry.Factory{
		ID:       "consumer",
		Requires: []item.Key{"config"},
		Start:    spawnEcho(e.Host()),
	}); err != nil {
		t.Fatalf("AddFactory: %v", err)
	}

	cfg, err := e.Push("config", "v1", nil)
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	waitForCandidate(t, e, 1)

	if err := e.Withdraw(cfg, fmt.Errorf("config_rotated")); err != nil {
		t.Fatalf("Withdraw: %v", err)
	}

	waitForCandidate(t, e, 0)
}

func TestRemoveFactoryDoesNotStopRunningWorkers(t *testing.T) {
	e := engine.Start()
	defer e.Stop()

	if err := e.AddFactory(&registry.Factory{
		ID:    "singleton",
		Start: spawnEcho(e.Host()),
	}); err != nil {
		t.Fatalf("AddFactory: %v", err)
	}
	waitForCandidate(t, e, 1)

	if err := e.RemoveFactory("singleton"); err != nil {
		t.Fatalf("RemoveFactory: %v", err)
	}

	// Give any erroneous teardown a chance to happen before asserting it
	// didn't.
	time.Sleep(20 * time.Millisecond)
	snap, _ := e.Snapshot(context.Background())
	if snap.ActiveCount != 1 {
		t.Fatalf("expected the already-started worker to survive factory removal, got %d active", snap.ActiveCount)
	}
}

func TestSpawnTimeoutIsReportedAndNotLeftActive(t *testing.T) {
	e := engine.Start()
	defer e.Stop()

	sub := e.Events()

	blocked := blockingModule{}
	err := e.AddFactory(&registry.Factory{
		ID: "blocked",
		Start: func(args any, deps []registry.Dependency) (*host.Handle, error) {
			return e.Host().Spawn(context.Background(), blocked, nil, host.SpawnOptions{Timeout: 20 * time.Millisecond})
		},
	})
	if err != nil {
		t.Fatalf("AddFactory: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	snap, _ := e.Snapshot(context.Background())
	if snap.ActiveCount != 0 {
		t.Fatalf("expected a timed-out spawn to never become an active entry, got %d", snap.ActiveCount)
	}

	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-sub:
			if ev.Kind != events.ChildStopped {
				continue
			}
			if !enginerrors.Is(ev.Err, enginerrors.SpawnTimeout) {
				t.Fatalf("expected child_stopped to carry spawn_timeout, got %v", ev.Err)
			}
			return
		case <-deadline:
			t.Fatal("timed out waiting for child_stopped for the timed-out spawn")
		}
	}
}

// blockingModule never returns from CreateInitialState, to exercise the
// spawn handshake timeout.
type blockingModule struct{}

func (blockingModule) CreateInitialState(args any) (host.StateFn, any, error) {
	select {}
}

func TestRPCRoundTrip(t *testing.T) {
	e := engine.Start()
	defer e.Stop()

	handle, err := e.Spawn(context.Background(), echoModule{}, nil, host.SpawnOptions{})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	v, err := e.RPC(ctx, handle, "ping")
	if err != nil {
		t.Fatalf("RPC: %v", err)
	}
	if v.(int) != 0 {
		t.Fatalf("expected first reply to be 0, got %v", v)
	}

	v, err = e.RPC(ctx, handle, "ping")
	if err != nil {
		t.Fatalf("RPC: %v", err)
	}
	if v.(int) != 1 {
		t.Fatalf("expected second reply to be 1, got %v", v)
	}
}

func TestEventStreamReportsLifecycle(t *testing.T) {
	e := engine.Start()
	defer e.Stop()

	sub := e.Events()

	if err := e.AddFactory(&registry.Factory{ID: "singleton", Start: spawnEcho(e.Host())}); err != nil {
		t.Fatalf("AddFactory: %v", err)
	}

	seen := map[events.Kind]bool{}
	deadline := time.After(time.Second)
	for len(seen) < 3 {
		select {
		case ev := <-sub:
			seen[ev.Kind] = true
		case <-deadline:
			t.Fatalf("timed out waiting for lifecycle events, saw %v", seen)
		}
	}

	for _, want := range []events.Kind{events.FactoryAdded, events.ChildStarting, events.ChildStarted} {
		if !seen[want] {
			t.Fatalf("expected to observe %s in the event stream", want)
		}
	}
}
