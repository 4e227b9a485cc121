// Package enginerrors defines loom's uniform error taxonomy. Every
// fallible operation in the engine returns an error whose Kind can be
// tested with Is, instead of callers matching on message strings.
package enginerrors

import (
	stderrors "errors"
	"fmt"

	"github.com/juju/errors"
)

// Kind classifies a loom error.
type Kind string

const (
	AlreadyRegistered Kind = "already_registered"
	NotFound          Kind = "not_found"
	InvalidFactory    Kind = "invalid_factory"
	SpawnTimeout      Kind = "spawn_timeout"
	SpawnInitFailed   Kind = "spawn_init_failed"
	RPCTimeout        Kind = "rpc_timeout"
	RPCPeerDown       Kind = "rpc_peer_down"
	RPCNotAWorker     Kind = "rpc_not_a_worker"
	ExitBeforeReply   Kind = "exit_before_reply"
)

// Error is the concrete error type every loom operation returns on
// failure. Detail carries the underlying cause, if any, and is reachable
// through errors.Unwrap / errors.As.
type Error struct {
	Kind   Kind
	Detail error
}

func (e *Error) Error() string {
	if e.Detail != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Detail)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Detail }

// New builds a traced *Error of the given kind. errors.Trace attaches a
// call-site annotation the way the rest of the juju ecosystem does, so
// %+v on a returned error prints a short stack of "where".
func New(kind Kind, detail error) error {
	return errors.Trace(&Error{Kind: kind, Detail: detail})
}

// As walks both the standard Unwrap chain and juju/errors' Cause chain to
// find the *Error at the root of err, since errors.Trace may return a
// juju *errors.Err wrapping ours rather than our *Error directly.
func As(err error) (*Error, bool) {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e, true
		}
		if cause := errors.Cause(err); cause != nil && cause != err {
			err = cause
			continue
		}
		err = stderrors.Unwrap(err)
	}
	return nil, false
}

// Is reports whether err is (or wraps) an *Error of the given kind.
func Is(err error, kind Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == kind
}
