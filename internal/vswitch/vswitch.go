// Package vswitch implements the virtual CXL switch: one upstream vPPB, N
// downstream vPPBs, the three class routers, the port binder, the routing
// table, and the fabric-manager bind/unbind API with interrupt emission.
//
// Grounded on adapters/control_adapter.go's composition-root shape (wiring
// a config store, metrics registry and debug probes behind one façade) and
// server/server.go's startup-sequence-then-Running lifecycle, generalized
// from a single WebSocket listener to the switch's router/binder/IRQ
// sub-component set.
package vswitch

import (
	"context"
	"log"
	"os"
	"sync"

	"github.com/cxlfabric/emulator/internal/binder"
	"github.com/cxlfabric/emulator/internal/config"
	"github.com/cxlfabric/emulator/internal/cxlconn"
	"github.com/cxlfabric/emulator/internal/cxlerr"
	"github.com/cxlfabric/emulator/internal/irq"
	"github.com/cxlfabric/emulator/internal/lifecycle"
	"github.com/cxlfabric/emulator/internal/metrics"
	"github.com/cxlfabric/emulator/internal/router"
	"github.com/cxlfabric/emulator/internal/routing"
	"github.com/cxlfabric/emulator/internal/wire"
)

// PortTypeLookup resolves a physical port's declared type, used for the
// USP/DSP precondition checks on construction and on every bind.
type PortTypeLookup func(portID int) (config.PortType, bool)

// Routes bundles the three class-specific routing strategies the caller
// has built from its address/BDF/snoop maps (see internal/router).
type Routes struct {
	IO    router.RouteFunc
	Mem   router.RouteFunc
	Cache router.RouteFunc
}

// EventHandler observes bind/unbind transitions; see binder.EventHandler.
type EventHandler = binder.EventHandler

// Switch is one virtual CXL switch instance (one VCS).
type Switch struct {
	*lifecycle.Base

	vcsID    int
	upstream *cxlconn.Connection
	table    *routing.Table
	binder   *binder.Binder
	irqMgr   *irq.Manager
	metrics  *metrics.Registry
	portType PortTypeLookup

	routers map[wire.PayloadType]*router.Router

	portsMu sync.RWMutex
	ports   map[int]cxlconn.Set

	biEnable  *bool
	biForward *bool

	log *log.Logger
}

// New constructs a Switch for one VCS. cfg.UpstreamPortIndex must resolve
// to a USP via portType, checked immediately: failure here means no state
// is ever mutated.
func New(vcsID int, cfg config.VCSConfig, routes Routes, portType PortTypeLookup, reg *metrics.Registry) (*Switch, error) {
	t, ok := portType(cfg.UpstreamPortIndex)
	if !ok {
		return nil, cxlerr.New(cxlerr.CodeVppbOutOfRange, "upstream port %d not declared", cfg.UpstreamPortIndex)
	}
	if t != config.PortUSP {
		return nil, cxlerr.New(cxlerr.CodePortTypeMismatch, "upstream port %d is not a USP", cfg.UpstreamPortIndex)
	}

	table := routing.New(cfg.VppbCount)
	s := &Switch{
		Base:     lifecycle.NewBase(),
		vcsID:    vcsID,
		upstream: cxlconn.New(64),
		table:    table,
		binder:   binder.New(vcsID, cfg.VppbCount, table),
		irqMgr:   irq.New("vcs"),
		metrics:  reg,
		portType: portType,
		ports:    make(map[int]cxlconn.Set),
		log:      log.New(os.Stderr, "vswitch: ", log.LstdFlags),
	}
	s.routers = map[wire.PayloadType]*router.Router{
		wire.PayloadIO:    router.New(wire.PayloadIO, s.upstream, table, s, cfg.VppbCount, routes.IO),
		wire.PayloadMem:   router.New(wire.PayloadMem, s.upstream, table, s, cfg.VppbCount, routes.Mem),
		wire.PayloadCache: router.New(wire.PayloadCache, s.upstream, table, s, cfg.VppbCount, routes.Cache),
	}
	for _, r := range s.routers {
		r.SetPinCPUs(cfg.WorkerCPUs)
	}
	return s, nil
}

// Upstream returns the switch's upstream-facing connection, driven by a
// proc.Processor wired to the host socket.
func (s *Switch) Upstream() *cxlconn.Connection { return s.upstream }

// IRQManager returns the switch's interrupt channel manager, so its peers
// can be attached as devices come online.
func (s *Switch) IRQManager() *irq.Manager { return s.irqMgr }

// SetEventHandler installs the bind/unbind observer invoked with
// {vcs_id, vppb_id, new_status} on every transition.
func (s *Switch) SetEventHandler(h EventHandler) { s.binder.SetEventHandler(h) }

// SetBIOverride forces the mem router's bias/invalidation bits for test
// mode; nil disables the corresponding override.
func (s *Switch) SetBIOverride(enable, forward *bool) {
	s.biEnable, s.biForward = enable, forward
	s.routers[wire.PayloadMem].BIOverrideEnable = enable
	s.routers[wire.PayloadMem].BIOverrideForward = forward
}

// AttachPort registers the connection set backing a physical port's
// device (a single-LD set of length 1, or an MLD's N-LD set), so routers
// can resolve a routing-table target to real FIFOs.
func (s *Switch) AttachPort(portID int, conns cxlconn.Set) {
	s.portsMu.Lock()
	defer s.portsMu.Unlock()
	s.ports[portID] = conns
}

// DetachPort removes a port's connection set, used when a device is
// physically removed.
func (s *Switch) DetachPort(portID int) {
	s.portsMu.Lock()
	defer s.portsMu.Unlock()
	delete(s.ports, portID)
}

// ConnFor implements router.PortLookup.
func (s *Switch) ConnFor(portID int) (cxlconn.Set, bool) {
	s.portsMu.RLock()
	defer s.portsMu.RUnlock()
	c, ok := s.ports[portID]
	return c, ok
}

// Start applies initial_bounds, then starts every router and the IRQ
// manager, awaiting each's readiness before transitioning to Running.
func (s *Switch) Start(ctx context.Context, initialBounds []int) error {
	s.MarkStarting()

	for vppb, portID := range initialBounds {
		if portID < 0 {
			continue
		}
		if err := s.bindInternal(portID, vppb); err != nil {
			return err
		}
	}

	runnables := []lifecycle.Runnable{s.routers[wire.PayloadIO], s.routers[wire.PayloadMem], s.routers[wire.PayloadCache], s.irqMgr}
	for _, r := range runnables {
		if err := r.Start(ctx); err != nil {
			return err
		}
	}
	for _, r := range runnables {
		if err := r.WaitReady(ctx); err != nil {
			return err
		}
	}

	s.MarkRunning()
	return nil
}

// WaitReady delegates to the embedded Base.
func (s *Switch) WaitReady(ctx context.Context) error { return s.Base.WaitReady(ctx) }

// Stop tears down every sub-component; one failing to stop cleanly still
// propagates cancellation to its siblings.
func (s *Switch) Stop() error {
	if !s.BeginStop() {
		return nil
	}
	err := lifecycle.StopAll(s.routers[wire.PayloadIO], s.routers[wire.PayloadMem], s.routers[wire.PayloadCache], s.irqMgr)
	s.upstream.Close()
	s.MarkStopped()
	return err
}

func (s *Switch) checkBindTarget(portID int) error {
	t, ok := s.portType(portID)
	if !ok {
		return cxlerr.New(cxlerr.CodeVppbOutOfRange, "port %d not declared", portID)
	}
	if t != config.PortDSP {
		return cxlerr.New(cxlerr.CodePortTypeMismatch, "port %d is not a DSP", portID)
	}
	return nil
}

func (s *Switch) bindInternal(portID, vppbID int) error {
	if err := s.checkBindTarget(portID); err != nil {
		return err
	}
	if err := s.binder.Bind(portID, vppbID); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.BindTotal.Inc()
	}
	return nil
}

// FmBindVppb is the fabric-manager bind entry point: binds vppbID to
// portID, then emits DEV_ADDED on the IRQ channel. A failed IRQ emission
// (no peer attached yet) is logged, not propagated: the bind itself
// already succeeded and is the operation's primary effect.
func (s *Switch) FmBindVppb(portID, vppbID int) error {
	if err := s.bindInternal(portID, vppbID); err != nil {
		return err
	}
	if err := s.irqMgr.SendIRQRequest(irq.CodeDevAdded, uint8(vppbID)); err != nil {
		s.log.Printf("DEV_ADDED irq not delivered for vppb %d: %v", vppbID, err)
	}
	return nil
}

// FmUnbindVppb is the fabric-manager unbind entry point: unbinds vppbID,
// then emits DEV_REMOVED on the IRQ channel.
func (s *Switch) FmUnbindVppb(vppbID int) error {
	if err := s.binder.Unbind(vppbID); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.UnbindTotal.Inc()
	}
	if err := s.irqMgr.SendIRQRequest(irq.CodeDevRemoved, uint8(vppbID)); err != nil {
		s.log.Printf("DEV_REMOVED irq not delivered for vppb %d: %v", vppbID, err)
	}
	return nil
}

// BoundCount, BoundPort and BindStatus mirror the port binder's
// introspection surface.
func (s *Switch) BoundCount() int                    { return s.binder.BoundCount() }
func (s *Switch) BoundPort(vppb int) (int, bool)     { return s.binder.BoundPort(vppb) }
func (s *Switch) BindStatus(vppb int) binder.State   { return s.binder.BindStatus(vppb) }

// Stats reports a debug snapshot: the VCS id, the bound-vPPB count and the
// number of attached ports, mirroring adapters/control_adapter.go's merged-map Stats() surface.
func (s *Switch) Stats() map[string]any {
	s.portsMu.RLock()
	attachedPorts := len(s.ports)
	s.portsMu.RUnlock()
	return map[string]any{
		"vcs_id":         s.vcsID,
		"bound_count":    s.binder.BoundCount(),
		"attached_ports": attachedPorts,
	}
}
