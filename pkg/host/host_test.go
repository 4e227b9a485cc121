package host_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"go.uber.org/goleak"

	"github.com/cuemby/loom/pkg/enginerrors"
	"github.com/cuemby/loom/pkg/host"
)

// TestMain verifies that spawning and stopping workers never leaks the
// per-worker run/loop goroutine, since nothing else in this package
// asserts on goroutine counts directly.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type echoModule struct{}

func (echoModule) CreateInitialState(args any) (host.StateFn, any, error) {
	return echoState, args, nil
}

func echoState(reply host.ReplyFunc, msg any, data any) host.Result {
	reply(msg, nil)
	return host.NoChange()
}

func TestSpawnThenRPC(t *testing.T) {
	h := host.New()
	handle, err := h.Spawn(context.Background(), echoModule{}, "hello", host.SpawnOptions{})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer h.Stop(handle, nil)

	v, err := h.RPC(context.Background(), handle, 42)
	if err != nil {
		t.Fatalf("RPC: %v", err)
	}
	if v.(int) != 42 {
		t.Fatalf("got %v, want 42", v)
	}
}

type failingModule struct{ err error }

func (m failingModule) CreateInitialState(args any) (host.StateFn, any, error) {
	return nil, nil, m.err
}

func TestSpawnInitFailure(t *testing.T) {
	h := host.New()
	_, err := h.Spawn(context.Background(), failingModule{err: errors.New("bad config")}, nil, host.SpawnOptions{})
	if !enginerrors.Is(err, enginerrors.SpawnInitFailed) {
		t.Fatalf("expected SpawnInitFailed, got %v", err)
	}
}

type blockingModule struct{ unblock chan struct{} }

func (m blockingModule) CreateInitialState(args any) (host.StateFn, any, error) {
	<-m.unblock
	return echoState, nil, nil
}

func TestSpawnTimeoutUsesInjectedClock(t *testing.T) {
	c := testclock.NewClock(time.Unix(0, 0))
	h := host.New(host.WithClock(c))

	unblock := make(chan struct{})
	defer close(unblock)

	errCh := make(chan error, 1)
	go func() {
		_, err := h.Spawn(context.Background(), blockingModule{unblock: unblock}, nil, host.SpawnOptions{Timeout: time.Second})
		errCh <- err
	}()

	// Advance in small increments until the timer fires; avoids any
	// assumption about exactly when the spawn goroutine registers its
	// clock.After call relative to this one.
	deadline := time.After(5 * time.Second)
	for {
		c.Advance(10 * time.Millisecond)
		select {
		case err := <-errCh:
			if !enginerrors.Is(err, enginerrors.SpawnTimeout) {
				t.Fatalf("expected SpawnTimeout, got %v", err)
			}
			return
		case <-deadline:
			t.Fatal("timed out waiting for spawn timeout to fire")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestRPCToDeadWorkerReturnsPeerDown(t *testing.T) {
	h := host.New()
	handle, err := h.Spawn(context.Background(), echoModule{}, nil, host.SpawnOptions{})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	h.Stop(handle, errors.New("shutting down"))
	<-handle.Dead()

	_, err = h.RPC(context.Background(), handle, "anything")
	if !enginerrors.Is(err, enginerrors.RPCPeerDown) {
		t.Fatalf("expected RPCPeerDown, got %v", err)
	}
}

type exitingModule struct{}

func (exitingModule) CreateInitialState(args any) (host.StateFn, any, error) {
	return exitingState, nil, nil
}

func exitingState(reply host.ReplyFunc, msg any, data any) host.Result {
	return host.Exit(errors.New("done"))
}

func TestExitBeforeReplyIsReportedDistinctly(t *testing.T) {
	h := host.New()
	handle, err := h.Spawn(context.Background(), exitingModule{}, nil, host.SpawnOptions{})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	_, err = h.RPC(context.Background(), handle, "ping")
	if !enginerrors.Is(err, enginerrors.ExitBeforeReply) {
		t.Fatalf("expected ExitBeforeReply, got %v", err)
	}
}

type countingModule struct{}

func (countingModule) CreateInitialState(args any) (host.StateFn, any, error) {
	return countState, 0, nil
}

func countState(reply host.ReplyFunc, msg any, data any) host.Result {
	n := data.(int)
	reply(n, nil)
	return host.Next(countState, n+1)
}

func TestCastDoesNotWaitForReply(t *testing.T) {
	h := host.New()
	handle, err := h.Spawn(context.Background(), countingModule{}, nil, host.SpawnOptions{})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer h.Stop(handle, nil)

	h.Cast(handle, "first")

	v, err := h.RPC(context.Background(), handle, "second")
	if err != nil {
		t.Fatalf("RPC: %v", err)
	}
	if v.(int) != 1 {
		t.Fatalf("expected the cast to have advanced state once before the RPC reply, got %v", v)
	}
}

func TestIdentityReportsCurrentStateFunction(t *testing.T) {
	h := host.New()
	handle, err := h.Spawn(context.Background(), countingModule{}, nil, host.SpawnOptions{})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer h.Stop(handle, nil)

	id, err := h.Identity(handle)
	if err != nil {
		t.Fatalf("Identity: %v", err)
	}
	if id.CurrentFn == "" {
		t.Fatal("expected a non-empty current function name")
	}
}

func TestLinkedWorkerDiesWithParent(t *testing.T) {
	h := host.New()
	parent, err := h.Spawn(context.Background(), countingModule{}, nil, host.SpawnOptions{})
	if err != nil {
		t.Fatalf("Spawn parent: %v", err)
	}
	child, err := h.Spawn(context.Background(), countingModule{}, nil, host.SpawnOptions{Link: parent})
	if err != nil {
		t.Fatalf("Spawn child: %v", err)
	}

	h.Stop(parent, errors.New("parent stopped"))

	select {
	case <-child.Dead():
	case <-time.After(time.Second):
		t.Fatal("expected linked child to die with its parent")
	}
}
