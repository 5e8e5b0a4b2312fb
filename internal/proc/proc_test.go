package proc

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/cxlfabric/emulator/internal/cxlconn"
	"github.com/cxlfabric/emulator/internal/fifo"
	"github.com/cxlfabric/emulator/internal/framing"
	"github.com/cxlfabric/emulator/internal/wire"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestIngressRoutesByLdAndClass(t *testing.T) {
	hostR, hostW := io.Pipe()
	conns := cxlconn.NewSet(4, 8)
	p := New(framing.NewReader(hostR, 0), framing.NewWriter(io.Discard), conns, true, "mld")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := p.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer func() { hostW.Close(); p.Stop() }()
	if err := p.WaitReady(ctx); err != nil {
		t.Fatal(err)
	}

	go func() {
		w := framing.NewWriter(hostW)
		_ = w.WritePacket(&wire.CxlIoCfgRd{Hdr: wire.Header{PayloadType: wire.PayloadIO, LdID: 2, Opcode: 0x0001}, Bus: 0, Device: 0})
	}()

	waitFor(t, func() bool { return conns[2].IO.HostToTarget.Len() == 1 })
	v, err := conns[2].IO.HostToTarget.Pop()
	if err != nil {
		t.Fatal(err)
	}
	if v.(wire.Packet).Header().LdID != 2 {
		t.Fatalf("routed to wrong ld: %+v", v)
	}
	if conns[0].IO.HostToTarget.Len() != 0 {
		t.Fatal("leaked into ld 0's queue")
	}
}

func TestNonMLDClampsLdID(t *testing.T) {
	hostR, hostW := io.Pipe()
	conns := cxlconn.NewSet(1, 8)
	p := New(framing.NewReader(hostR, 0), framing.NewWriter(io.Discard), conns, false, "sld")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := p.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer func() { hostW.Close(); p.Stop() }()
	if err := p.WaitReady(ctx); err != nil {
		t.Fatal(err)
	}

	go func() {
		w := framing.NewWriter(hostW)
		_ = w.WritePacket(&wire.CxlIoCfgRd{Hdr: wire.Header{PayloadType: wire.PayloadIO, LdID: 9, Opcode: 0x0001}, Bus: 0, Device: 0})
	}()

	waitFor(t, func() bool { return conns[0].IO.HostToTarget.Len() == 1 })
	v, _ := conns[0].IO.HostToTarget.Pop()
	if v.(wire.Packet).Header().LdID != 0 {
		t.Fatalf("expected ld_id clamped to 0, got %d", v.(wire.Packet).Header().LdID)
	}
}

func TestEgressDrainsFairlyAndWrites(t *testing.T) {
	hostR, hostW := io.Pipe()
	outR, outW := io.Pipe()
	conns := cxlconn.NewSet(2, 8)
	p := New(framing.NewReader(hostR, 0), framing.NewWriter(outW), conns, true, "egress")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := p.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer func() { hostW.Close(); p.Stop() }()
	if err := p.WaitReady(ctx); err != nil {
		t.Fatal(err)
	}

	if err := conns[1].Cache.TargetToHost.Push(&wire.CxlCacheRsp{Hdr: wire.Header{PayloadType: wire.PayloadCache, LdID: 1, Opcode: 0x2003}, SnpID: 1, Address: 0x10}); err != nil {
		t.Fatal(err)
	}

	reader := framing.NewReader(outR, 0)
	got, err := reader.GetPacket()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := got.(*wire.CxlCacheRsp); !ok {
		t.Fatalf("wrong type off the wire: %T", got)
	}
}

// onIngressDone propagates the closed sentinel to every queue on EOF.
func TestEOFPropagatesClosedSentinel(t *testing.T) {
	hostR, hostW := io.Pipe()
	conns := cxlconn.NewSet(1, 8)
	p := New(framing.NewReader(hostR, 0), framing.NewWriter(io.Discard), conns, false, "eof")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := p.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer p.Stop()
	if err := p.WaitReady(ctx); err != nil {
		t.Fatal(err)
	}

	hostW.Close()

	waitFor(t, func() bool { return conns[0].IO.HostToTarget.Len() > 0 })
	v, err := conns[0].IO.HostToTarget.Pop()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := v.(fifo.Closed); !ok {
		t.Fatalf("expected closed sentinel, got %T", v)
	}
}
