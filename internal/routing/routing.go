// Package routing implements RoutingTable: a vPPB-indexed array of
// {active, target_port} entries. lookup only returns a target for an
// active entry; every mutation replaces the whole entry atomically so
// concurrent readers never observe a torn {active, target_port} pair.
//
// Grounded on internal/concurrency/ring.go's atomic.Uint64 head/tail
// bookkeeping (padded to avoid false sharing) generalized to atomic.Pointer
// swaps of a small immutable struct per vPPB.
package routing

import (
	"fmt"
	"sync/atomic"
)

// Entry is one vPPB's routing state. Immutable once constructed; updates
// replace the pointer, never mutate fields in place.
type Entry struct {
	Active     bool
	TargetPort int
}

// Table is a fixed-size array of Entry, one per vPPB.
type Table struct {
	entries []atomic.Pointer[Entry]
}

var inactive = &Entry{Active: false}

// New allocates a routing table for vPPB ids [0, n).
func New(n int) *Table {
	t := &Table{entries: make([]atomic.Pointer[Entry], n)}
	for i := range t.entries {
		t.entries[i].Store(inactive)
	}
	return t
}

// Len reports the number of vPPB slots.
func (t *Table) Len() int { return len(t.entries) }

func (t *Table) check(vppb int) error {
	if vppb < 0 || vppb >= len(t.entries) {
		return fmt.Errorf("routing: vppb %d out of range [0,%d)", vppb, len(t.entries))
	}
	return nil
}

// SetTarget installs a target port for vppb without changing its active
// bit. The port binder does not use it; it installs targets with Bind.
func (t *Table) SetTarget(vppb int, port int) error {
	if err := t.check(vppb); err != nil {
		return err
	}
	cur := t.entries[vppb].Load()
	t.entries[vppb].Store(&Entry{Active: cur.Active, TargetPort: port})
	return nil
}

// Activate marks vppb active, forwarding to whatever target is currently
// installed.
func (t *Table) Activate(vppb int) error {
	if err := t.check(vppb); err != nil {
		return err
	}
	cur := t.entries[vppb].Load()
	t.entries[vppb].Store(&Entry{Active: true, TargetPort: cur.TargetPort})
	return nil
}

// Deactivate marks vppb inactive; lookup will miss until reactivated.
func (t *Table) Deactivate(vppb int) error {
	if err := t.check(vppb); err != nil {
		return err
	}
	cur := t.entries[vppb].Load()
	t.entries[vppb].Store(&Entry{Active: false, TargetPort: cur.TargetPort})
	return nil
}

// Bind atomically installs target and marks the entry active in one
// replacement, so no intermediate state is ever observable by a reader.
func (t *Table) Bind(vppb int, port int) error {
	if err := t.check(vppb); err != nil {
		return err
	}
	t.entries[vppb].Store(&Entry{Active: true, TargetPort: port})
	return nil
}

// Unbind atomically clears active and target in one replacement.
func (t *Table) Unbind(vppb int) error {
	if err := t.check(vppb); err != nil {
		return err
	}
	t.entries[vppb].Store(inactive)
	return nil
}

// Lookup returns (port, true) only if vppb is active.
func (t *Table) Lookup(vppb int) (int, bool) {
	if vppb < 0 || vppb >= len(t.entries) {
		return 0, false
	}
	e := t.entries[vppb].Load()
	if !e.Active {
		return 0, false
	}
	return e.TargetPort, true
}
