package fmld

import (
	"context"
	"testing"

	"github.com/cxlfabric/emulator/internal/cxlconn"
	"github.com/cxlfabric/emulator/internal/wire"
)

const gib256 = 256 * 1024 * 1024

func newTestFMLD(t *testing.T, ldCount int) (*FMLD, *cxlconn.Connection) {
	t.Helper()
	conn := cxlconn.New(8)
	f := New(conn, ldCount, gib256)
	if err := f.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { f.Stop() })
	return f, conn
}

func roundtripCCI(t *testing.T, conn *cxlconn.Connection, req wire.Packet) wire.Packet {
	t.Helper()
	if err := conn.CCI.HostToTarget.Push(req); err != nil {
		t.Fatal(err)
	}
	v, err := conn.CCI.TargetToHost.Pop()
	if err != nil {
		t.Fatal(err)
	}
	return v.(wire.Packet)
}

func TestGetLdInfo(t *testing.T) {
	_, conn := newTestFMLD(t, 4)
	resp := roundtripCCI(t, conn, &wire.GetLdInfoRequest{})
	info, ok := resp.(*wire.GetLdInfoResponse)
	if !ok {
		t.Fatalf("wrong response type %T", resp)
	}
	if info.MemorySize != 4*gib256 || info.LdCount != 4 {
		t.Fatalf("got %+v", info)
	}
}

func TestGetLdAllocations(t *testing.T) {
	_, conn := newTestFMLD(t, 4)
	resp := roundtripCCI(t, conn, &wire.GetLdAllocationsRequest{StartLdID: 0, Limit: 3})
	r, ok := resp.(*wire.GetLdAllocationsResponse)
	if !ok {
		t.Fatalf("wrong response type %T", resp)
	}
	if r.NumberOfLds != 4 || r.StartLdID != 0 || len(r.AllocList) != 3 {
		t.Fatalf("got %+v", r)
	}
	for _, v := range r.AllocList {
		if v != 1 {
			t.Fatalf("expected all-1 alloc list, got %v", r.AllocList)
		}
	}
}

func TestSetLdAllocations(t *testing.T) {
	f, conn := newTestFMLD(t, 4)
	resp := roundtripCCI(t, conn, &wire.SetLdAllocationsRequest{NumberOfLds: 3, StartLdID: 0, RequestedUnits: []byte{0, 1, 2}})
	r, ok := resp.(*wire.SetLdAllocationsResponse)
	if !ok {
		t.Fatalf("wrong response type %T", resp)
	}
	if r.ResponseNumberOfLds != 2 {
		t.Fatalf("expected response_number_of_lds=2, got %d", r.ResponseNumberOfLds)
	}
	wantGranted := []byte{0, 1, 1}
	for i, v := range wantGranted {
		if r.Granted[i] != v {
			t.Fatalf("granted mismatch: got %v want %v", r.Granted, wantGranted)
		}
	}
	want := []uint8{1, 0, 0, 1}
	got := f.LdDictSnapshot()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ld_dict mismatch: got %v want %v", got, want)
		}
	}
}

func TestGetLdAllocationsOutOfRangeStart(t *testing.T) {
	_, conn := newTestFMLD(t, 4)
	resp := roundtripCCI(t, conn, &wire.GetLdAllocationsRequest{StartLdID: 9, Limit: 1})
	r, ok := resp.(*wire.CciResponse)
	if !ok || r.ReturnCode == wire.ReturnCodeSuccess {
		t.Fatalf("expected nonzero-return-code CciResponse, got %+v", resp)
	}
}

func TestUnknownOpcodeClosesSession(t *testing.T) {
	_, conn := newTestFMLD(t, 4)
	_ = roundtripCCI(t, conn, &wire.CciRequest{Hdr: wire.Header{PayloadType: wire.PayloadCCI, Opcode: 0x1234}, Payload: nil})
	// Session closed: a further push should eventually fail once the
	// reader task has exited and closed the lanes.
	for i := 0; i < 100; i++ {
		if err := conn.CCI.HostToTarget.Push(&wire.GetLdInfoRequest{}); err != nil {
			return
		}
	}
	t.Fatal("expected CCI session to close after unknown opcode")
}
