// Package fmld implements the Fabric-Manager-LD CCI endpoint: a single
// task answering Get LD Info / Get LD Allocations / Set LD Allocations
// against a per-LD allocation dictionary.
//
// Grounded on adapters/handler_adapter.go's single-reader dispatch loop and
// api/errors.go's structured-error reporting; the ld_dict-based algorithm
// is deliberately general over a configurable LD count, rather than a
// duplicated hard-coded-12 variant.
package fmld

import (
	"context"
	"log"
	"os"
	"sync"

	"github.com/cxlfabric/emulator/internal/cxlconn"
	"github.com/cxlfabric/emulator/internal/fifo"
	"github.com/cxlfabric/emulator/internal/lifecycle"
	"github.com/cxlfabric/emulator/internal/wire"
)

// GranularityUnit is the encoded memory_granularity value this FMLD stamps
// into Get LD Allocations responses: always a nonzero unit (1 == "one
// G-sized block"), rather than 0, so the field is a meaningful value for
// callers.
const GranularityUnit uint8 = 1

// FMLD is the CCI endpoint for one MLD's allocation state.
type FMLD struct {
	*lifecycle.Base

	conn       *cxlconn.Connection // upstream-facing CCI connection
	downstream *cxlconn.Connection // optional: reserved LD-directed FM traffic

	mu          sync.Mutex
	ldDict      []uint8
	granularity uint64 // G, in bytes

	log *log.Logger
}

// New constructs an FMLD over ldCount logical devices, each of size
// granularityBytes (per-LD memory size is G x 1). Every LD starts
// free/enabled (ld_dict[i] == 1).
func New(conn *cxlconn.Connection, ldCount int, granularityBytes uint64) *FMLD {
	dict := make([]uint8, ldCount)
	for i := range dict {
		dict[i] = 1
	}
	return &FMLD{
		Base:        lifecycle.NewBase(),
		conn:        conn,
		ldDict:      dict,
		granularity: granularityBytes,
		log:         log.New(os.Stderr, "fmld: ", log.LstdFlags),
	}
}

// SetDownstream installs the optional FMLD->LD connection whose
// target_to_host stream is forwarded verbatim upstream.
func (f *FMLD) SetDownstream(conn *cxlconn.Connection) {
	f.downstream = conn
}

// LdDictSnapshot returns a copy of the current allocation dictionary, for
// tests.
func (f *FMLD) LdDictSnapshot() []uint8 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]uint8, len(f.ldDict))
	copy(out, f.ldDict)
	return out
}

// Start launches the single CCI dispatch task (and, if a downstream
// connection is installed, the verbatim-forward task).
func (f *FMLD) Start(ctx context.Context) error {
	f.MarkStarting()
	go f.run(ctx)
	if f.downstream != nil {
		go f.forwardDownstream(ctx)
	}
	f.MarkRunning()
	return nil
}

// WaitReady delegates to the embedded Base.
func (f *FMLD) WaitReady(ctx context.Context) error { return f.Base.WaitReady(ctx) }

// Stop closes the CCI lanes, which unblocks the dispatch loop.
func (f *FMLD) Stop() error {
	if !f.BeginStop() {
		return nil
	}
	f.conn.CCI.Close()
	if f.downstream != nil {
		f.downstream.CCI.Close()
	}
	<-f.Base.Stopped()
	return nil
}

func (f *FMLD) run(ctx context.Context) {
	defer f.MarkStopped()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		v, err := f.conn.CCI.HostToTarget.Pop()
		if err != nil {
			return
		}
		if _, closed := v.(fifo.Closed); closed {
			return
		}
		req, ok := v.(wire.Packet)
		if !ok {
			continue
		}
		resp, terminate := f.dispatch(req)
		if resp != nil {
			if err := f.conn.CCI.TargetToHost.Push(resp); err != nil {
				return
			}
		}
		if terminate {
			f.log.Printf("closing CCI session: invalid opcode 0x%04x", req.Header().Opcode)
			f.conn.CCI.Close()
			return
		}
	}
}

// forwardDownstream relays the FMLD->LD reserved channel's target_to_host
// stream verbatim upstream.
func (f *FMLD) forwardDownstream(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		v, err := f.downstream.CCI.TargetToHost.Pop()
		if err != nil {
			return
		}
		if _, closed := v.(fifo.Closed); closed {
			return
		}
		if err := f.conn.CCI.TargetToHost.Push(v); err != nil {
			return
		}
	}
}

// dispatch routes req to the matching handler. terminate reports whether
// the CCI session must be closed after resp is sent: an unrecognized
// opcode is a protocol error that closes the session.
func (f *FMLD) dispatch(req wire.Packet) (resp wire.Packet, terminate bool) {
	switch r := req.(type) {
	case *wire.GetLdInfoRequest:
		return f.handleGetLdInfo(r), false
	case *wire.GetLdAllocationsRequest:
		return f.handleGetLdAllocations(r), false
	case *wire.SetLdAllocationsRequest:
		return f.handleSetLdAllocations(r), false
	default:
		return &wire.CciResponse{
			Hdr:        wire.Header{PayloadType: wire.PayloadCCI, LdID: req.Header().LdID, Tag: req.Header().Tag, Opcode: req.Header().Opcode | 0x8000},
			ReturnCode: wire.ReturnCodeUnsupported,
		}, true
	}
}

func (f *FMLD) handleGetLdInfo(req *wire.GetLdInfoRequest) *wire.GetLdInfoResponse {
	f.mu.Lock()
	defer f.mu.Unlock()
	ldCount := len(f.ldDict)
	return &wire.GetLdInfoResponse{
		Hdr:        headerFor(req),
		MemorySize: uint64(ldCount) * f.granularity,
		LdCount:    uint8(ldCount),
	}
}

func (f *FMLD) handleGetLdAllocations(req *wire.GetLdAllocationsRequest) wire.Packet {
	f.mu.Lock()
	defer f.mu.Unlock()
	ldCount := len(f.ldDict)
	start := int(req.StartLdID)
	if start < 0 || start >= ldCount {
		return &wire.CciResponse{Hdr: headerFor(req), ReturnCode: wire.ReturnCodeInvalidInput}
	}

	maxLen := ldCount - start
	ldLength := int(req.Limit)
	if ldLength > maxLen {
		ldLength = maxLen
	}

	numberOfLds := 0
	for i := 0; i < maxLen; i++ {
		if f.ldDict[start+i] == 1 {
			numberOfLds++
		}
	}

	list := make([]byte, 0, ldLength)
	for i := 0; i < ldLength; i++ {
		v := f.ldDict[start+i]
		list = append(list, v)
		if v == 0 {
			break
		}
	}

	return &wire.GetLdAllocationsResponse{
		Hdr:               headerFor(req),
		NumberOfLds:       uint8(numberOfLds),
		MemoryGranularity: GranularityUnit,
		StartLdID:         req.StartLdID,
		AllocList:         list,
	}
}

func (f *FMLD) handleSetLdAllocations(req *wire.SetLdAllocationsRequest) wire.Packet {
	f.mu.Lock()
	defer f.mu.Unlock()
	ldCount := len(f.ldDict)
	start := int(req.StartLdID)
	if start < 0 || start >= ldCount {
		return &wire.CciResponse{Hdr: headerFor(req), ReturnCode: wire.ReturnCodeInvalidInput}
	}

	n := int(req.NumberOfLds)
	if maxN := ldCount - start; n > maxN {
		n = maxN
	}
	if n > len(req.RequestedUnits) {
		n = len(req.RequestedUnits)
	}

	granted := make([]byte, n)
	responseCount := 0
	for i := 0; i < n; i++ {
		have := f.ldDict[start+i]
		want := req.RequestedUnits[i]
		g := have
		if want < g {
			g = want
		}
		f.ldDict[start+i] -= g
		granted[i] = g
		if g != 0 {
			responseCount++
		}
	}

	return &wire.SetLdAllocationsResponse{
		Hdr:                 headerFor(req),
		StartLdID:           req.StartLdID,
		ResponseNumberOfLds: uint8(responseCount),
		Granted:             granted,
	}
}

func headerFor(req wire.Packet) wire.Header {
	h := req.Header()
	return wire.Header{PayloadType: wire.PayloadCCI, LdID: h.LdID, Tag: h.Tag}
}
