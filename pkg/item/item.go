// Package item implements the Item: the value the Injector hands out to
// satisfy factory dependencies. An Item pairs a key with a value and
// carries its own liveness handle, so withdrawing it (directly, or as a
// cascade from its owner's death) is just another proc.Kill.
package item

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/cuemby/loom/pkg/proc"
)

// Key identifies a class of item, e.g. "config" or "db.conn". Any two
// Items pushed under the same Key are distinguishable only by identity,
// never by Go's == on their Key/Value alone — two Items with an equal
// key and value are still different items if they have different refs.
type Key string

// Item is a single pushed value. The zero value is not usable; construct
// with New. An *Item is its own Ref: identity is pointer identity.
type Item struct {
	id    uuid.UUID
	key   Key
	value any
	owner *proc.Handle
	h     *proc.Handle
}

// New creates a live Item for the given key/value pair.
func New(key Key, value any) *Item {
	return &Item{id: uuid.New(), key: key, value: value, h: proc.New()}
}

// ID returns the item's unique identifier, stable for its lifetime and
// distinct from any other Item, even one pushed under the same key with
// an equal value. Useful as a stable log/metric correlation field where
// the pointer address isn't suitable (e.g. across process boundaries in
// a future remote transport).
func (it *Item) ID() uuid.UUID { return it.id }

// Key returns the item's key.
func (it *Item) Key() Key { return it.key }

// Value returns the item's value.
func (it *Item) Value() any { return it.value }

// SetOwner records the process that created this item. If owner later
// dies, the caller (the Injector) is responsible for withdrawing the
// item; Item itself does not watch its owner.
func (it *Item) SetOwner(owner *proc.Handle) { it.owner = owner }

// Owner returns the owning process handle, or nil if the item has no
// owner (e.g. it was pushed directly by an external caller rather than
// by a running worker).
func (it *Item) Owner() *proc.Handle { return it.owner }

// Monitor subscribes to this item's withdrawal.
func (it *Item) Monitor() (proc.Token, <-chan proc.DownReason) {
	return it.h.Monitor()
}

// Withdraw revokes the item, firing every monitor set up via Monitor.
// Idempotent: withdrawing an already-withdrawn item is a no-op.
func (it *Item) Withdraw(reason error) {
	it.h.Kill(reason)
}

// Dead reports whether this item has been withdrawn.
func (it *Item) Dead() <-chan struct{} { return it.h.Dead() }

// IsDead reports whether the item has already been withdrawn.
func (it *Item) IsDead() bool { return it.h.IsDead() }

func (it *Item) String() string {
	return fmt.Sprintf("item(%s)#%s", it.key, it.id)
}
