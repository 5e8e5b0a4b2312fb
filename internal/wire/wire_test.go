package wire

import (
	"bytes"
	"testing"
)

// roundTrip checks serialize(parse(b)) == b and parse(serialize(P)) == P
// (checked structurally via re-serialization, since Packet has no generic
// equality).
func roundTrip(t *testing.T, p Packet) {
	t.Helper()
	b, err := Serialize(p)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	got, err := Parse(b)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	b2, err := Serialize(got)
	if err != nil {
		t.Fatalf("re-serialize: %v", err)
	}
	if !bytes.Equal(b, b2) {
		t.Fatalf("round trip mismatch:\n got=% x\nwant=% x", b2, b)
	}
}

func TestRoundTripIO(t *testing.T) {
	roundTrip(t, &CxlIoCfgRd{Hdr: Header{PayloadType: PayloadIO, LdID: 2, Opcode: 0x0001, Tag: 7}, Bus: 0, Device: 0, Function: 0, Offset: 0x10})
	roundTrip(t, &CxlIoCfgWr{Hdr: Header{PayloadType: PayloadIO, LdID: 2, Opcode: 0x0002}, Offset: 0x10, Data: 0xFFFFFFFF})
	roundTrip(t, &CxlIoMemRd{Hdr: Header{PayloadType: PayloadIO, LdID: 0, Opcode: 0x0003}, Address: 0xFE000000, Length: 4})
	roundTrip(t, &CxlIoMemWr{Hdr: Header{PayloadType: PayloadIO, LdID: 0, Opcode: 0x0004}, Address: 0xFE000000, Data: []byte{0xEF, 0xBE, 0xAD, 0xDE}})
	roundTrip(t, &CxlIoCompletion{Hdr: Header{PayloadType: PayloadIO, Opcode: 0x0005}, Status: StatusOK})
	roundTrip(t, &CxlIoCompletionWithData{Hdr: Header{PayloadType: PayloadIO, LdID: 2, Opcode: 0x0006}, Status: StatusOK, Data: []byte{1, 2, 3, 4}})
}

func TestRoundTripMem(t *testing.T) {
	roundTrip(t, &CxlMemRd{Hdr: Header{PayloadType: PayloadMem, Opcode: 0x1000}, Address: 0x1000})
	w := &CxlMemWr{Hdr: Header{PayloadType: PayloadMem, Opcode: 0x1001}, Address: 0x2000, BIEnable: true}
	w.Data[0] = 0xAA
	roundTrip(t, w)
	roundTrip(t, &CxlMemBIRsp{Hdr: Header{PayloadType: PayloadMem, Opcode: 0x1002}, Address: 0x3000, BIID: 9})
	roundTrip(t, &CxlMemBIForward{Hdr: Header{PayloadType: PayloadMem, Opcode: 0x1003}, Address: 0x3000, BIID: 9})
}

func TestRoundTripCache(t *testing.T) {
	roundTrip(t, &CxlCacheRd{Hdr: Header{PayloadType: PayloadCache, Opcode: 0x2000}, SnpID: 1, Address: 0x4000})
	roundTrip(t, &CxlCacheWr{Hdr: Header{PayloadType: PayloadCache, Opcode: 0x2001}, SnpID: 1, Address: 0x4000, Data: []byte{9, 9}})
	roundTrip(t, &CxlCacheSnp{Hdr: Header{PayloadType: PayloadCache, Opcode: 0x2002}, SnpID: 2, Address: 0x5000})
	roundTrip(t, &CxlCacheRsp{Hdr: Header{PayloadType: PayloadCache, Opcode: 0x2003}, SnpID: 2, Address: 0x5000, Data: []byte{1}})
}

func TestRoundTripCCI(t *testing.T) {
	roundTrip(t, &GetLdInfoRequest{Hdr: Header{PayloadType: PayloadCCI}})
	roundTrip(t, &GetLdInfoResponse{Hdr: Header{PayloadType: PayloadCCI}, MemorySize: 4 * 256 * 1024 * 1024, LdCount: 4})
	roundTrip(t, &GetLdAllocationsRequest{Hdr: Header{PayloadType: PayloadCCI}, StartLdID: 0, Limit: 3})
	roundTrip(t, &GetLdAllocationsResponse{Hdr: Header{PayloadType: PayloadCCI}, NumberOfLds: 4, MemoryGranularity: 1, StartLdID: 0, AllocList: []byte{1, 1, 1}})
	roundTrip(t, &SetLdAllocationsRequest{Hdr: Header{PayloadType: PayloadCCI}, NumberOfLds: 3, StartLdID: 0, RequestedUnits: []byte{0, 1, 2}})
	roundTrip(t, &SetLdAllocationsResponse{Hdr: Header{PayloadType: PayloadCCI}, StartLdID: 0, ResponseNumberOfLds: 2, Granted: []byte{0, 1, 1}})
	roundTrip(t, &CciRequest{Hdr: Header{PayloadType: PayloadCCI, Opcode: 0x9999}, Payload: []byte{1, 2, 3}})
	roundTrip(t, &CciResponse{Hdr: Header{PayloadType: PayloadCCI, Opcode: 0x9999 | respBit}, ReturnCode: ReturnCodeUnsupported})
}

func TestLdIDSurvivesRoundTrip(t *testing.T) {
	for ld := 0; ld < 256; ld += 37 {
		p := &CxlIoMemWr{Hdr: Header{PayloadType: PayloadIO, LdID: uint8(ld), Opcode: 0x0004}, Address: 1, Data: []byte{1}}
		b, err := Serialize(p)
		if err != nil {
			t.Fatal(err)
		}
		got, err := Parse(b)
		if err != nil {
			t.Fatal(err)
		}
		if got.Header().LdID != uint8(ld) {
			t.Fatalf("ld_id mismatch: got %d want %d", got.Header().LdID, ld)
		}
	}
}

func TestTruncatedPacketNeverPanics(t *testing.T) {
	full, _ := Serialize(&CxlIoMemWr{Hdr: Header{PayloadType: PayloadIO, Opcode: 0x0004}, Address: 1, Data: []byte{1, 2, 3, 4}})
	for n := 0; n < len(full); n++ {
		_, err := Parse(full[:n])
		if err == nil {
			continue
		}
		var pe *ParseError
		if perr, ok := err.(*ParseError); ok {
			pe = perr
		}
		if pe == nil {
			t.Fatalf("expected *ParseError for truncated input of %d bytes, got %v", n, err)
		}
	}
}

func TestUnknownOpcode(t *testing.T) {
	b := make([]byte, HeaderSize)
	putHeader(b, Header{PayloadType: PayloadIO, Opcode: 0xBEEF})
	_, err := Parse(b)
	pe, ok := err.(*ParseError)
	if !ok || pe.Kind != ErrUnknownOpcode {
		t.Fatalf("expected ErrUnknownOpcode, got %v", err)
	}
}
