package framing

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/cxlfabric/emulator/internal/wire"
)

func TestWriteThenRead(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	pkt := &wire.CxlIoMemWr{Hdr: wire.Header{PayloadType: wire.PayloadIO, LdID: 3, Opcode: 0x0004}, Address: 0xFE000000, Data: []byte{0xEF, 0xBE, 0xAD, 0xDE}}
	if err := w.WritePacket(pkt); err != nil {
		t.Fatal(err)
	}

	r := NewReader(&buf, 0)
	got, err := r.GetPacket()
	if err != nil {
		t.Fatal(err)
	}
	mw, ok := got.(*wire.CxlIoMemWr)
	if !ok {
		t.Fatalf("wrong type %T", got)
	}
	if mw.Address != 0xFE000000 || mw.Header().LdID != 3 {
		t.Fatalf("unexpected packet %+v", mw)
	}
}

func TestCleanEOFAtBoundary(t *testing.T) {
	r := NewReader(bytes.NewReader(nil), 0)
	_, err := r.GetPacket()
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestMidPacketCloseIsHardError(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	pkt := &wire.CxlIoMemRd{Hdr: wire.Header{PayloadType: wire.PayloadIO, Opcode: 0x0003}, Address: 1, Length: 4}
	if err := w.WritePacket(pkt); err != nil {
		t.Fatal(err)
	}
	truncated := buf.Bytes()[:buf.Len()-2]
	r := NewReader(bytes.NewReader(truncated), 0)
	_, err := r.GetPacket()
	if !errors.Is(err, ErrShortFrame) {
		t.Fatalf("expected ErrShortFrame, got %v", err)
	}
}

func TestOversizeFrameRejected(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	pkt := &wire.CxlIoMemWr{Hdr: wire.Header{PayloadType: wire.PayloadIO, Opcode: 0x0004}, Address: 1, Data: make([]byte, 100)}
	if err := w.WritePacket(pkt); err != nil {
		t.Fatal(err)
	}
	r := NewReader(&buf, 16)
	_, err := r.GetPacket()
	if !errors.Is(err, ErrOversizeFrame) {
		t.Fatalf("expected ErrOversizeFrame, got %v", err)
	}
}
