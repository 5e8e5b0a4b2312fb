// Package binder implements the port binder: the lifecycle of vPPB<->DSP
// bindings. It owns the per-vPPB BindState and serializes every transition
// through a single mutex, acting as the single logical writer for
// routing-table and bind-state mutations.
//
// Grounded on adapters/control_adapter.go's precondition-check-then-mutate
// pattern and internal/session/cancel.go's cloneable, lockable state store.
package binder

import (
	"sync"

	"github.com/cxlfabric/emulator/internal/cxlerr"
	"github.com/cxlfabric/emulator/internal/routing"
)

// State is one vPPB's bind lifecycle stage.
type State int

const (
	Unbound State = iota
	Binding
	Bound
	Unbinding
)

func (s State) String() string {
	switch s {
	case Unbound:
		return "unbound"
	case Binding:
		return "binding"
	case Bound:
		return "bound"
	case Unbinding:
		return "unbinding"
	default:
		return "invalid"
	}
}

// EventStatus is one of the three statuses the switch's registered event
// handler observes during a bind/unbind transition.
type EventStatus int

const (
	BindOrUnbindInProgress EventStatus = iota
	BoundLD
	UnboundLD
)

// Event is delivered to the registered handler on every bind/unbind state
// transition.
type Event struct {
	VCSID     int
	VppbID    int
	NewStatus EventStatus
}

// EventHandler observes bind/unbind transitions. May be nil.
type EventHandler func(Event)

type vppbState struct {
	state State
	port  int // meaningful only once Bound
}

// Binder owns BindState for every vPPB and mutates the shared RoutingTable
// in lockstep with it.
type Binder struct {
	mu      sync.Mutex
	states  []vppbState
	table   *routing.Table
	vcsID   int
	handler EventHandler
}

// New constructs a Binder for n vPPBs, backed by table. vcsID identifies
// the owning virtual switch for event payloads.
func New(vcsID int, n int, table *routing.Table) *Binder {
	return &Binder{
		states: make([]vppbState, n),
		table:  table,
		vcsID:  vcsID,
	}
}

// SetEventHandler installs (or replaces) the bind/unbind event handler.
func (b *Binder) SetEventHandler(h EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = h
}

func (b *Binder) checkRange(vppb int) error {
	if vppb < 0 || vppb >= len(b.states) {
		return cxlerr.New(cxlerr.CodeVppbOutOfRange, "vppb %d out of range [0,%d)", vppb, len(b.states))
	}
	return nil
}

func (b *Binder) emit(vppb int, status EventStatus) {
	if b.handler != nil {
		b.handler(Event{VCSID: b.vcsID, VppbID: vppb, NewStatus: status})
	}
}

// portInUse reports whether portID is already bound to a vPPB other than
// exclude: a DSP may be bound to at most one vPPB at a time.
func (b *Binder) portInUse(portID int, exclude int) bool {
	for i, s := range b.states {
		if i == exclude {
			continue
		}
		if s.state == Bound && s.port == portID {
			return true
		}
	}
	return false
}

// Bind transitions vppb Unbound -> Binding -> Bound(portID), installing
// routing plumbing so packets addressed to vppb egress via the DSP at
// portID.
func (b *Binder) Bind(portID, vppb int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkRange(vppb); err != nil {
		return err
	}
	if b.states[vppb].state != Unbound {
		return cxlerr.New(cxlerr.CodeAlreadyBound, "vppb %d is %s", vppb, b.states[vppb].state)
	}
	if b.portInUse(portID, vppb) {
		return cxlerr.New(cxlerr.CodeAlreadyBound, "port %d already bound to another vppb", portID)
	}

	// Step 1: mark Binding, notify.
	b.states[vppb] = vppbState{state: Binding}
	b.emit(vppb, BindOrUnbindInProgress)

	// Step 2: atomically install target + activate.
	if err := b.table.Bind(vppb, portID); err != nil {
		b.states[vppb] = vppbState{state: Unbound}
		return err
	}

	// Step 3: nothing in flight yet for a fresh bind; packets that entered
	// before step 2 observed no target and already miss-routed.

	// Step 4: mark Bound, notify.
	b.states[vppb] = vppbState{state: Bound, port: portID}
	b.emit(vppb, BoundLD)
	return nil
}

// Unbind transitions vppb Bound -> Unbinding -> Unbound, deactivating the
// routing-table entry before clearing local state so packets entering the
// router after deactivation observe the miss path (an Unsupported-Request
// completion for CXL.io, a silent drop for mem/cache).
func (b *Binder) Unbind(vppb int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkRange(vppb); err != nil {
		return err
	}
	if b.states[vppb].state != Bound {
		return cxlerr.New(cxlerr.CodeNotBound, "vppb %d is %s", vppb, b.states[vppb].state)
	}

	b.states[vppb] = vppbState{state: Unbinding, port: b.states[vppb].port}
	b.emit(vppb, BindOrUnbindInProgress)

	if err := b.table.Deactivate(vppb); err != nil {
		return err
	}

	// Any packet already dequeued by the router for this vppb before
	// deactivation completes delivery to the stale target; it cannot be
	// recalled mid-flight.

	b.states[vppb] = vppbState{state: Unbound}
	b.emit(vppb, UnboundLD)
	return b.table.Unbind(vppb)
}

// Rebind moves vppb's binding to a new physical port: an unbind followed
// by a bind. vppb is briefly Unbound between the two calls, so a packet
// routed in that window takes the miss path rather than the old or new
// target.
func (b *Binder) Rebind(vppb, newPortID int) error {
	if err := b.Unbind(vppb); err != nil {
		return err
	}
	return b.Bind(newPortID, vppb)
}

// BoundCount returns the number of vPPBs currently Bound.
func (b *Binder) BoundCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, s := range b.states {
		if s.state == Bound {
			n++
		}
	}
	return n
}

// BoundPort returns the port a vPPB is bound to, if any.
func (b *Binder) BoundPort(vppb int) (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if vppb < 0 || vppb >= len(b.states) {
		return 0, false
	}
	s := b.states[vppb]
	return s.port, s.state == Bound
}

// BindStatus reports the current BindState for vppb.
func (b *Binder) BindStatus(vppb int) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if vppb < 0 || vppb >= len(b.states) {
		return Unbound
	}
	return b.states[vppb].state
}
