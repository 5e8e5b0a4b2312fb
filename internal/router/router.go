// Package router implements the three class-specific routers: IO, mem and
// cache. Each owns a downstream task (host -> bound DSP) and an upstream
// task (bound DSP -> host), preserving per-(class, vppb) FIFO order while
// giving no ordering guarantee across vPPBs.
//
// Grounded on reactor/reactor.go's Register+Run task-pair shape, adapted
// from a single event loop to one goroutine pair per class, and on
// api/handler.go's Handle(data any) for the per-packet dispatch contract.
package router

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"github.com/cxlfabric/emulator/internal/affinity"
	"github.com/cxlfabric/emulator/internal/cxlconn"
	"github.com/cxlfabric/emulator/internal/fifo"
	"github.com/cxlfabric/emulator/internal/lifecycle"
	"github.com/cxlfabric/emulator/internal/routing"
	"github.com/cxlfabric/emulator/internal/wire"
)

// RouteFunc extracts the destination vPPB id for a packet (BDF lookup for
// CXL.io config, HDM-decoder range lookup for memory, snoop-id lookup for
// cache).
type RouteFunc func(pkt wire.Packet) (vppb int, ok bool)

// PortLookup resolves a bound physical port id to its connection set. SLD
// ports expose a length-1 Set; MLD ports expose one Connection per LD.
type PortLookup interface {
	ConnFor(portID int) (cxlconn.Set, bool)
}

// egressPollInterval bounds how long the upstream drain task sleeps when it
// finds no bound DSP with anything queued, before re-polling with another
// non-blocking probe.
const egressPollInterval = 500 * time.Microsecond

// Router forwards one traffic class between the upstream vPPB and whatever
// DSPs are currently bound to the switch's downstream vPPBs.
type Router struct {
	*lifecycle.Base

	class    wire.PayloadType
	upstream *cxlconn.Connection
	table    *routing.Table
	ports    PortLookup
	route    RouteFunc
	vppbN    int

	// BIOverrideEnable/BIOverrideForward force the bias/invalidation bits
	// on CxlMemWr packets forwarded downstream, for test mode. Nil means
	// "do not override".
	BIOverrideEnable  *bool
	BIOverrideForward *bool

	// pinCPUs, if non-empty, pins this router's downstream and upstream
	// drain goroutines to the given CPU set on Start.
	pinCPUs []int

	wg     sync.WaitGroup
	cancel context.CancelFunc
	log    *log.Logger
}

// New constructs a Router for one traffic class.
func New(class wire.PayloadType, upstream *cxlconn.Connection, table *routing.Table, ports PortLookup, vppbN int, route RouteFunc) *Router {
	return &Router{
		Base:     lifecycle.NewBase(),
		class:    class,
		upstream: upstream,
		table:    table,
		ports:    ports,
		route:    route,
		vppbN:    vppbN,
		log:      log.New(os.Stderr, "router["+class.String()+"]: ", log.LstdFlags),
	}
}

// SetPinCPUs pins this router's two worker goroutines to cpus, taking
// effect on the next Start. Empty or nil leaves the goroutines unpinned.
func (r *Router) SetPinCPUs(cpus []int) { r.pinCPUs = cpus }

// Start launches the downstream and upstream tasks. The router derives its
// own cancellable context from ctx so Stop can unblock the upstream drain
// task without depending on the caller to cancel ctx itself.
func (r *Router) Start(ctx context.Context) error {
	r.MarkStarting()
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		if err := affinity.PinCurrentThread(r.pinCPUs); err != nil {
			r.log.Printf("pinning downstream worker to %v: %v", r.pinCPUs, err)
		}
		r.downstream(runCtx)
	}()
	go func() {
		defer r.wg.Done()
		if err := affinity.PinCurrentThread(r.pinCPUs); err != nil {
			r.log.Printf("pinning upstream drain worker to %v: %v", r.pinCPUs, err)
		}
		r.upstreamDrain(runCtx)
	}()
	go func() { r.wg.Wait(); r.MarkStopped() }()
	r.MarkRunning()
	return nil
}

func (r *Router) WaitReady(ctx context.Context) error { return r.Base.WaitReady(ctx) }

// Stop closes the upstream lane (unblocking the downstream task) and cancels
// the router's own context (unblocking the upstream drain task), then waits
// for both to exit.
func (r *Router) Stop() error {
	if !r.BeginStop() {
		return nil
	}
	r.upstreamPair().Close()
	if r.cancel != nil {
		r.cancel()
	}
	<-r.Base.Stopped()
	return nil
}

func (r *Router) upstreamPair() *fifo.FifoPair {
	p, _ := r.upstream.Pair(r.class)
	return p
}

// downstream implements the host->device path.
func (r *Router) downstream(ctx context.Context) {
	pair := r.upstreamPair()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		v, err := pair.HostToTarget.Pop()
		if err != nil {
			return
		}
		if _, closed := v.(fifo.Closed); closed {
			return
		}
		pkt := v.(wire.Packet)
		r.forwardDownstream(pkt)
	}
}

func (r *Router) forwardDownstream(pkt wire.Packet) {
	vppb, ok := r.route(pkt)
	if ok {
		if portID, ok2 := r.table.Lookup(vppb); ok2 {
			if set, ok3 := r.ports.ConnFor(portID); ok3 {
				if conn, err := set.At(pkt.Header().LdID); err == nil {
					if r.class == wire.PayloadMem {
						r.applyBIOverride(pkt)
					}
					if p, err := conn.Pair(r.class); err == nil {
						if err := p.HostToTarget.Push(pkt); err != nil {
							r.log.Printf("downstream push failed: %v", err)
						}
						return
					}
				}
			}
		}
	}
	r.handleMiss(pkt)
}

func (r *Router) applyBIOverride(pkt wire.Packet) {
	w, ok := pkt.(*wire.CxlMemWr)
	if !ok {
		return
	}
	if r.BIOverrideEnable != nil {
		w.BIEnable = *r.BIOverrideEnable
	}
	if r.BIOverrideForward != nil {
		w.BIForward = *r.BIOverrideForward
	}
}

// handleMiss implements the routing-table-miss behavior: an
// Unsupported-Request completion for CXL.io, a silent drop for mem/cache.
func (r *Router) handleMiss(pkt wire.Packet) {
	if r.class != wire.PayloadIO {
		return
	}
	h := pkt.Header()
	pair := r.upstreamPair()
	resp := &wire.CxlIoCompletion{
		Hdr:    wire.Header{PayloadType: wire.PayloadIO, LdID: h.LdID, Opcode: 0x0005, Tag: h.Tag},
		Status: wire.StatusUnsupportedRequest,
	}
	if err := pair.TargetToHost.Push(resp); err != nil {
		r.log.Printf("failed to deliver unsupported-request completion: %v", err)
	}
}

// upstreamDrain implements the device->host path: fairly drain every
// bound DSP's target_to_host lane into the upstream outbound queue,
// tagging with ld_id for MLD traffic.
func (r *Router) upstreamDrain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		found := false
		for vppb := 0; vppb < r.vppbN; vppb++ {
			portID, ok := r.table.Lookup(vppb)
			if !ok {
				continue
			}
			set, ok := r.ports.ConnFor(portID)
			if !ok {
				continue
			}
			for ld := range set {
				conn := set[ld]
				pair, err := conn.Pair(r.class)
				if err != nil {
					continue
				}
				v, ok := pair.TargetToHost.TryPop()
				if !ok {
					continue
				}
				if _, closed := v.(fifo.Closed); closed {
					continue
				}
				pkt := v.(wire.Packet)
				pkt.SetLdID(uint8(ld)) // tag with the index of the LD connection it came from
				if err := r.upstreamPair().TargetToHost.Push(pkt); err != nil {
					return
				}
				found = true
			}
		}
		if !found {
			select {
			case <-ctx.Done():
				return
			case <-time.After(egressPollInterval):
			}
		}
	}
}
