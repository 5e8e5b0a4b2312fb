// Package wire implements the CXL fabric packet codec (parse/serialize) for
// every on-wire packet class: CXL.io, CXL.mem, CXL.cache and CCI.
//
// Every packet is little-endian on the wire. The common prefix carries the
// payload class and, for MLD traffic, the 8-bit ld_id tag that must survive
// a round trip through the fabric. Grounded on protocol/frame.go's
// DecodeFrame/EncodeFrame pair: fixed 2-field header, read-exact-then-parse
// body, offset-tracking encode.
package wire

import (
	"encoding/binary"
	"fmt"
)

// PayloadType discriminates the four CXL traffic classes carried by a
// CxlConnection.
type PayloadType uint8

const (
	PayloadIO PayloadType = iota
	PayloadMem
	PayloadCache
	PayloadCCI
)

func (p PayloadType) String() string {
	switch p {
	case PayloadIO:
		return "io"
	case PayloadMem:
		return "mem"
	case PayloadCache:
		return "cache"
	case PayloadCCI:
		return "cci"
	default:
		return fmt.Sprintf("payload(%d)", uint8(p))
	}
}

// Kind identifies the concrete packet variant.
type Kind uint8

const (
	KindCxlIoCfgRd Kind = iota
	KindCxlIoCfgWr
	KindCxlIoMemRd
	KindCxlIoMemWr
	KindCxlIoCompletion
	KindCxlIoCompletionWithData
	KindCxlMemRd
	KindCxlMemWr
	KindCxlMemBIRsp
	KindCxlMemBIForward
	KindCxlCacheRd
	KindCxlCacheWr
	KindCxlCacheSnp
	KindCxlCacheRsp
	KindCciRequest
	KindCciResponse
	KindGetLdInfoRequest
	KindGetLdInfoResponse
	KindGetLdAllocationsRequest
	KindGetLdAllocationsResponse
	KindSetLdAllocationsRequest
	KindSetLdAllocationsResponse
)

// CCI opcodes of interest. The high bit of the opcode distinguishes a
// response from a request for the same sub-command, keeping Get/Set LD
// {Info,Allocations} request and response on one opcode family.
const (
	OpGetLdInfo        uint16 = 0x5400
	OpGetLdAllocations uint16 = 0x5401
	OpSetLdAllocations uint16 = 0x5402
	respBit            uint16 = 0x8000
)

// Header is the common prefix carried by every packet.
type Header struct {
	PayloadType PayloadType
	LdID        uint8
	Opcode      uint16
	Tag         uint8
}

// Packet is the discriminated-variant contract every wire packet implements.
// Dispatch on Kind() is a single switch; no inheritance is used.
type Packet interface {
	Kind() Kind
	Header() Header
	SetLdID(uint8)
}

func (h Header) LdID0() uint8 { return h.LdID }

// --- CXL.io variants ---

type CxlIoCfgRd struct {
	Hdr                       Header
	Bus, Device, Function     uint8
	Offset                    uint16
}

func (p *CxlIoCfgRd) Kind() Kind       { return KindCxlIoCfgRd }
func (p *CxlIoCfgRd) Header() Header   { return p.Hdr }
func (p *CxlIoCfgRd) SetLdID(id uint8) { p.Hdr.LdID = id }

type CxlIoCfgWr struct {
	Hdr                    Header
	Bus, Device, Function  uint8
	Offset                 uint16
	Data                   uint32
}

func (p *CxlIoCfgWr) Kind() Kind       { return KindCxlIoCfgWr }
func (p *CxlIoCfgWr) Header() Header   { return p.Hdr }
func (p *CxlIoCfgWr) SetLdID(id uint8) { p.Hdr.LdID = id }

type CxlIoMemRd struct {
	Hdr     Header
	Address uint64
	Length  uint16
}

func (p *CxlIoMemRd) Kind() Kind       { return KindCxlIoMemRd }
func (p *CxlIoMemRd) Header() Header   { return p.Hdr }
func (p *CxlIoMemRd) SetLdID(id uint8) { p.Hdr.LdID = id }

type CxlIoMemWr struct {
	Hdr     Header
	Address uint64
	Data    []byte
}

func (p *CxlIoMemWr) Kind() Kind       { return KindCxlIoMemWr }
func (p *CxlIoMemWr) Header() Header   { return p.Hdr }
func (p *CxlIoMemWr) SetLdID(id uint8) { p.Hdr.LdID = id }

type CxlIoCompletion struct {
	Hdr    Header
	Status uint16
}

func (p *CxlIoCompletion) Kind() Kind       { return KindCxlIoCompletion }
func (p *CxlIoCompletion) Header() Header   { return p.Hdr }
func (p *CxlIoCompletion) SetLdID(id uint8) { p.Hdr.LdID = id }

type CxlIoCompletionWithData struct {
	Hdr    Header
	Status uint16
	Data   []byte
}

func (p *CxlIoCompletionWithData) Kind() Kind       { return KindCxlIoCompletionWithData }
func (p *CxlIoCompletionWithData) Header() Header   { return p.Hdr }
func (p *CxlIoCompletionWithData) SetLdID(id uint8) { p.Hdr.LdID = id }

// StatusUnsupportedRequest is the completion status the IO router
// synthesizes on a routing-table miss.
const StatusUnsupportedRequest uint16 = 0x0001
const StatusOK uint16 = 0x0000

// --- CXL.mem variants ---

type CxlMemRd struct {
	Hdr     Header
	Address uint64
}

func (p *CxlMemRd) Kind() Kind       { return KindCxlMemRd }
func (p *CxlMemRd) Header() Header   { return p.Hdr }
func (p *CxlMemRd) SetLdID(id uint8) { p.Hdr.LdID = id }

// CxlMemWr carries one 64-byte cacheline plus the bias/invalidation bits the
// mem router's test-mode overrides can force.
type CxlMemWr struct {
	Hdr       Header
	Address   uint64
	Data      [64]byte
	BIEnable  bool
	BIForward bool
}

func (p *CxlMemWr) Kind() Kind       { return KindCxlMemWr }
func (p *CxlMemWr) Header() Header   { return p.Hdr }
func (p *CxlMemWr) SetLdID(id uint8) { p.Hdr.LdID = id }

type CxlMemBIRsp struct {
	Hdr     Header
	Address uint64
	BIID    uint16
}

func (p *CxlMemBIRsp) Kind() Kind       { return KindCxlMemBIRsp }
func (p *CxlMemBIRsp) Header() Header   { return p.Hdr }
func (p *CxlMemBIRsp) SetLdID(id uint8) { p.Hdr.LdID = id }

type CxlMemBIForward struct {
	Hdr     Header
	Address uint64
	BIID    uint16
}

func (p *CxlMemBIForward) Kind() Kind       { return KindCxlMemBIForward }
func (p *CxlMemBIForward) Header() Header   { return p.Hdr }
func (p *CxlMemBIForward) SetLdID(id uint8) { p.Hdr.LdID = id }

// --- CXL.cache variants ---

type CxlCacheRd struct {
	Hdr     Header
	SnpID   uint16
	Address uint64
}

func (p *CxlCacheRd) Kind() Kind       { return KindCxlCacheRd }
func (p *CxlCacheRd) Header() Header   { return p.Hdr }
func (p *CxlCacheRd) SetLdID(id uint8) { p.Hdr.LdID = id }

type CxlCacheWr struct {
	Hdr     Header
	SnpID   uint16
	Address uint64
	Data    []byte
}

func (p *CxlCacheWr) Kind() Kind       { return KindCxlCacheWr }
func (p *CxlCacheWr) Header() Header   { return p.Hdr }
func (p *CxlCacheWr) SetLdID(id uint8) { p.Hdr.LdID = id }

type CxlCacheSnp struct {
	Hdr     Header
	SnpID   uint16
	Address uint64
}

func (p *CxlCacheSnp) Kind() Kind       { return KindCxlCacheSnp }
func (p *CxlCacheSnp) Header() Header   { return p.Hdr }
func (p *CxlCacheSnp) SetLdID(id uint8) { p.Hdr.LdID = id }

type CxlCacheRsp struct {
	Hdr     Header
	SnpID   uint16
	Address uint64
	Data    []byte
}

func (p *CxlCacheRsp) Kind() Kind       { return KindCxlCacheRsp }
func (p *CxlCacheRsp) Header() Header   { return p.Hdr }
func (p *CxlCacheRsp) SetLdID(id uint8) { p.Hdr.LdID = id }

// --- CCI generic + FMLD sub-variants ---

type CciRequest struct {
	Hdr     Header
	Payload []byte
}

func (p *CciRequest) Kind() Kind       { return KindCciRequest }
func (p *CciRequest) Header() Header   { return p.Hdr }
func (p *CciRequest) SetLdID(id uint8) { p.Hdr.LdID = id }

type CciResponse struct {
	Hdr        Header
	ReturnCode uint16
	Payload    []byte
}

func (p *CciResponse) Kind() Kind       { return KindCciResponse }
func (p *CciResponse) Header() Header   { return p.Hdr }
func (p *CciResponse) SetLdID(id uint8) { p.Hdr.LdID = id }

// CCI return codes: a nonzero code on an invalid request keeps the CCI
// session open; only an unrecognized opcode closes it.
const (
	ReturnCodeSuccess      uint16 = 0x0000
	ReturnCodeInvalidInput uint16 = 0x0001
	ReturnCodeUnsupported  uint16 = 0x0002
)

type GetLdInfoRequest struct{ Hdr Header }

func (p *GetLdInfoRequest) Kind() Kind       { return KindGetLdInfoRequest }
func (p *GetLdInfoRequest) Header() Header   { return p.Hdr }
func (p *GetLdInfoRequest) SetLdID(id uint8) { p.Hdr.LdID = id }

type GetLdInfoResponse struct {
	Hdr        Header
	MemorySize uint64
	LdCount    uint8
}

func (p *GetLdInfoResponse) Kind() Kind       { return KindGetLdInfoResponse }
func (p *GetLdInfoResponse) Header() Header   { return p.Hdr }
func (p *GetLdInfoResponse) SetLdID(id uint8) { p.Hdr.LdID = id }

type GetLdAllocationsRequest struct {
	Hdr       Header
	StartLdID uint8
	Limit     uint8
}

func (p *GetLdAllocationsRequest) Kind() Kind       { return KindGetLdAllocationsRequest }
func (p *GetLdAllocationsRequest) Header() Header   { return p.Hdr }
func (p *GetLdAllocationsRequest) SetLdID(id uint8) { p.Hdr.LdID = id }

type GetLdAllocationsResponse struct {
	Hdr               Header
	NumberOfLds       uint8
	MemoryGranularity uint8
	StartLdID         uint8
	AllocList         []byte
}

func (p *GetLdAllocationsResponse) Kind() Kind       { return KindGetLdAllocationsResponse }
func (p *GetLdAllocationsResponse) Header() Header   { return p.Hdr }
func (p *GetLdAllocationsResponse) SetLdID(id uint8) { p.Hdr.LdID = id }

// SetLdAllocationsRequest carries one requested-allocation-unit byte per LD:
// ld_allocation_list is a byte vector of per-LD requested units, rather than
// a 16-byte (range_1, range_2) u64 pair per LD, since the byte-vector form
// is what the allocation algorithm and its worked examples (e.g. a 3-byte
// list for 3 LDs) actually exercise.
type SetLdAllocationsRequest struct {
	Hdr            Header
	NumberOfLds    uint8
	StartLdID      uint8
	RequestedUnits []byte
}

func (p *SetLdAllocationsRequest) Kind() Kind       { return KindSetLdAllocationsRequest }
func (p *SetLdAllocationsRequest) Header() Header   { return p.Hdr }
func (p *SetLdAllocationsRequest) SetLdID(id uint8) { p.Hdr.LdID = id }

type SetLdAllocationsResponse struct {
	Hdr                 Header
	StartLdID           uint8
	ResponseNumberOfLds uint8
	Granted             []byte
}

func (p *SetLdAllocationsResponse) Kind() Kind       { return KindSetLdAllocationsResponse }
func (p *SetLdAllocationsResponse) Header() Header   { return p.Hdr }
func (p *SetLdAllocationsResponse) SetLdID(id uint8) { p.Hdr.LdID = id }

// --- errors ---

// ParseError wraps the three failure kinds a malformed packet can produce.
// The codec never panics on malformed input; every failure path returns
// one of these.
type ParseError struct {
	Kind ParseErrorKind
	Msg  string
}

func (e *ParseError) Error() string { return fmt.Sprintf("wire: %s: %s", e.Kind, e.Msg) }

type ParseErrorKind uint8

const (
	ErrTruncatedPacket ParseErrorKind = iota
	ErrUnknownOpcode
	ErrInvalidLength
)

func (k ParseErrorKind) String() string {
	switch k {
	case ErrTruncatedPacket:
		return "truncated-packet"
	case ErrUnknownOpcode:
		return "unknown-opcode"
	case ErrInvalidLength:
		return "invalid-length"
	default:
		return "unknown"
	}
}

func truncated(msg string) error { return &ParseError{Kind: ErrTruncatedPacket, Msg: msg} }
func unknownOpcode(op uint16) error {
	return &ParseError{Kind: ErrUnknownOpcode, Msg: fmt.Sprintf("opcode 0x%04x", op)}
}
func invalidLength(msg string) error { return &ParseError{Kind: ErrInvalidLength, Msg: msg} }

// HeaderSize is the fixed prefix length (not counting the 4-byte length
// field owned by the framing layer, see internal/framing).
const HeaderSize = 5 // payload_type(1) + ld_id(1) + opcode(2) + tag(1)

// parseHeader decodes the fixed prefix from b, which must be at least
// HeaderSize bytes.
func parseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, truncated("short header")
	}
	return Header{
		PayloadType: PayloadType(b[0]),
		LdID:        b[1],
		Opcode:      binary.LittleEndian.Uint16(b[2:4]),
		Tag:         b[4],
	}, nil
}

func putHeader(b []byte, h Header) {
	b[0] = byte(h.PayloadType)
	b[1] = h.LdID
	binary.LittleEndian.PutUint16(b[2:4], h.Opcode)
	b[4] = h.Tag
}

// Parse decodes one full packet (header + body) from b. It never panics; a
// malformed input always returns a *ParseError.
func Parse(b []byte) (Packet, error) {
	h, err := parseHeader(b)
	if err != nil {
		return nil, err
	}
	body := b[HeaderSize:]
	switch h.PayloadType {
	case PayloadIO:
		return parseIO(h, body)
	case PayloadMem:
		return parseMem(h, body)
	case PayloadCache:
		return parseCache(h, body)
	case PayloadCCI:
		return parseCCI(h, body)
	default:
		return nil, unknownOpcode(h.Opcode)
	}
}

// Serialize encodes a packet to its wire form, not including the 4-byte
// length prefix owned by internal/framing.
func Serialize(p Packet) ([]byte, error) {
	switch v := p.(type) {
	case *CxlIoCfgRd:
		buf := make([]byte, HeaderSize+5)
		putHeader(buf, v.Hdr)
		o := buf[HeaderSize:]
		o[0], o[1], o[2] = v.Bus, v.Device, v.Function
		binary.LittleEndian.PutUint16(o[3:5], v.Offset)
		return buf, nil
	case *CxlIoCfgWr:
		buf := make([]byte, HeaderSize+9)
		putHeader(buf, v.Hdr)
		o := buf[HeaderSize:]
		o[0], o[1], o[2] = v.Bus, v.Device, v.Function
		binary.LittleEndian.PutUint16(o[3:5], v.Offset)
		binary.LittleEndian.PutUint32(o[5:9], v.Data)
		return buf, nil
	case *CxlIoMemRd:
		buf := make([]byte, HeaderSize+10)
		putHeader(buf, v.Hdr)
		o := buf[HeaderSize:]
		binary.LittleEndian.PutUint64(o[0:8], v.Address)
		binary.LittleEndian.PutUint16(o[8:10], v.Length)
		return buf, nil
	case *CxlIoMemWr:
		buf := make([]byte, HeaderSize+8+len(v.Data))
		putHeader(buf, v.Hdr)
		o := buf[HeaderSize:]
		binary.LittleEndian.PutUint64(o[0:8], v.Address)
		copy(o[8:], v.Data)
		return buf, nil
	case *CxlIoCompletion:
		buf := make([]byte, HeaderSize+2)
		putHeader(buf, v.Hdr)
		binary.LittleEndian.PutUint16(buf[HeaderSize:], v.Status)
		return buf, nil
	case *CxlIoCompletionWithData:
		buf := make([]byte, HeaderSize+2+len(v.Data))
		putHeader(buf, v.Hdr)
		o := buf[HeaderSize:]
		binary.LittleEndian.PutUint16(o[0:2], v.Status)
		copy(o[2:], v.Data)
		return buf, nil
	case *CxlMemRd:
		buf := make([]byte, HeaderSize+8)
		putHeader(buf, v.Hdr)
		binary.LittleEndian.PutUint64(buf[HeaderSize:], v.Address)
		return buf, nil
	case *CxlMemWr:
		buf := make([]byte, HeaderSize+8+64+1)
		putHeader(buf, v.Hdr)
		o := buf[HeaderSize:]
		binary.LittleEndian.PutUint64(o[0:8], v.Address)
		copy(o[8:72], v.Data[:])
		o[72] = bitsOf(v.BIEnable, v.BIForward)
		return buf, nil
	case *CxlMemBIRsp:
		buf := make([]byte, HeaderSize+10)
		putHeader(buf, v.Hdr)
		o := buf[HeaderSize:]
		binary.LittleEndian.PutUint64(o[0:8], v.Address)
		binary.LittleEndian.PutUint16(o[8:10], v.BIID)
		return buf, nil
	case *CxlMemBIForward:
		buf := make([]byte, HeaderSize+10)
		putHeader(buf, v.Hdr)
		o := buf[HeaderSize:]
		binary.LittleEndian.PutUint64(o[0:8], v.Address)
		binary.LittleEndian.PutUint16(o[8:10], v.BIID)
		return buf, nil
	case *CxlCacheRd:
		buf := make([]byte, HeaderSize+10)
		putHeader(buf, v.Hdr)
		o := buf[HeaderSize:]
		binary.LittleEndian.PutUint16(o[0:2], v.SnpID)
		binary.LittleEndian.PutUint64(o[2:10], v.Address)
		return buf, nil
	case *CxlCacheWr:
		buf := make([]byte, HeaderSize+10+len(v.Data))
		putHeader(buf, v.Hdr)
		o := buf[HeaderSize:]
		binary.LittleEndian.PutUint16(o[0:2], v.SnpID)
		binary.LittleEndian.PutUint64(o[2:10], v.Address)
		copy(o[10:], v.Data)
		return buf, nil
	case *CxlCacheSnp:
		buf := make([]byte, HeaderSize+10)
		putHeader(buf, v.Hdr)
		o := buf[HeaderSize:]
		binary.LittleEndian.PutUint16(o[0:2], v.SnpID)
		binary.LittleEndian.PutUint64(o[2:10], v.Address)
		return buf, nil
	case *CxlCacheRsp:
		buf := make([]byte, HeaderSize+10+len(v.Data))
		putHeader(buf, v.Hdr)
		o := buf[HeaderSize:]
		binary.LittleEndian.PutUint16(o[0:2], v.SnpID)
		binary.LittleEndian.PutUint64(o[2:10], v.Address)
		copy(o[10:], v.Data)
		return buf, nil
	case *CciRequest:
		buf := make([]byte, HeaderSize+len(v.Payload))
		putHeader(buf, v.Hdr)
		copy(buf[HeaderSize:], v.Payload)
		return buf, nil
	case *CciResponse:
		buf := make([]byte, HeaderSize+2+len(v.Payload))
		putHeader(buf, v.Hdr)
		binary.LittleEndian.PutUint16(buf[HeaderSize:HeaderSize+2], v.ReturnCode)
		copy(buf[HeaderSize+2:], v.Payload)
		return buf, nil
	case *GetLdInfoRequest:
		h := v.Hdr
		h.Opcode = OpGetLdInfo
		buf := make([]byte, HeaderSize)
		putHeader(buf, h)
		return buf, nil
	case *GetLdInfoResponse:
		h := v.Hdr
		h.Opcode = OpGetLdInfo | respBit
		buf := make([]byte, HeaderSize+9)
		putHeader(buf, h)
		o := buf[HeaderSize:]
		binary.LittleEndian.PutUint64(o[0:8], v.MemorySize)
		o[8] = v.LdCount
		return buf, nil
	case *GetLdAllocationsRequest:
		h := v.Hdr
		h.Opcode = OpGetLdAllocations
		buf := make([]byte, HeaderSize+2)
		putHeader(buf, h)
		o := buf[HeaderSize:]
		o[0] = v.StartLdID
		o[1] = v.Limit
		return buf, nil
	case *GetLdAllocationsResponse:
		h := v.Hdr
		h.Opcode = OpGetLdAllocations | respBit
		buf := make([]byte, HeaderSize+4+len(v.AllocList))
		putHeader(buf, h)
		o := buf[HeaderSize:]
		o[0] = v.NumberOfLds
		o[1] = v.MemoryGranularity
		o[2] = v.StartLdID
		o[3] = byte(len(v.AllocList))
		copy(o[4:], v.AllocList)
		return buf, nil
	case *SetLdAllocationsRequest:
		h := v.Hdr
		h.Opcode = OpSetLdAllocations
		buf := make([]byte, HeaderSize+4+len(v.RequestedUnits))
		putHeader(buf, h)
		o := buf[HeaderSize:]
		o[0] = v.NumberOfLds
		o[1] = v.StartLdID
		// o[2:4] reserved
		copy(o[4:], v.RequestedUnits)
		return buf, nil
	case *SetLdAllocationsResponse:
		h := v.Hdr
		h.Opcode = OpSetLdAllocations | respBit
		buf := make([]byte, HeaderSize+2+len(v.Granted))
		putHeader(buf, h)
		o := buf[HeaderSize:]
		o[0] = v.StartLdID
		o[1] = v.ResponseNumberOfLds
		copy(o[2:], v.Granted)
		return buf, nil
	default:
		return nil, fmt.Errorf("wire: serialize: unsupported packet type %T", p)
	}
}

func bitsOf(biEnable, biForward bool) byte {
	var b byte
	if biEnable {
		b |= 0x1
	}
	if biForward {
		b |= 0x2
	}
	return b
}

func parseIO(h Header, b []byte) (Packet, error) {
	switch h.Opcode {
	case 0x0001:
		if len(b) < 5 {
			return nil, truncated("cfg-rd body")
		}
		return &CxlIoCfgRd{Hdr: h, Bus: b[0], Device: b[1], Function: b[2], Offset: binary.LittleEndian.Uint16(b[3:5])}, nil
	case 0x0002:
		if len(b) < 9 {
			return nil, truncated("cfg-wr body")
		}
		return &CxlIoCfgWr{Hdr: h, Bus: b[0], Device: b[1], Function: b[2], Offset: binary.LittleEndian.Uint16(b[3:5]), Data: binary.LittleEndian.Uint32(b[5:9])}, nil
	case 0x0003:
		if len(b) < 10 {
			return nil, truncated("mem-rd body")
		}
		return &CxlIoMemRd{Hdr: h, Address: binary.LittleEndian.Uint64(b[0:8]), Length: binary.LittleEndian.Uint16(b[8:10])}, nil
	case 0x0004:
		if len(b) < 8 {
			return nil, truncated("mem-wr body")
		}
		data := make([]byte, len(b)-8)
		copy(data, b[8:])
		return &CxlIoMemWr{Hdr: h, Address: binary.LittleEndian.Uint64(b[0:8]), Data: data}, nil
	case 0x0005:
		if len(b) < 2 {
			return nil, truncated("completion body")
		}
		return &CxlIoCompletion{Hdr: h, Status: binary.LittleEndian.Uint16(b[0:2])}, nil
	case 0x0006:
		if len(b) < 2 {
			return nil, truncated("completion-with-data body")
		}
		data := make([]byte, len(b)-2)
		copy(data, b[2:])
		return &CxlIoCompletionWithData{Hdr: h, Status: binary.LittleEndian.Uint16(b[0:2]), Data: data}, nil
	default:
		return nil, unknownOpcode(h.Opcode)
	}
}

func parseMem(h Header, b []byte) (Packet, error) {
	switch h.Opcode {
	case 0x1000:
		if len(b) < 8 {
			return nil, truncated("mem-rd body")
		}
		return &CxlMemRd{Hdr: h, Address: binary.LittleEndian.Uint64(b[0:8])}, nil
	case 0x1001:
		if len(b) < 73 {
			return nil, truncated("mem-wr body")
		}
		p := &CxlMemWr{Hdr: h, Address: binary.LittleEndian.Uint64(b[0:8])}
		copy(p.Data[:], b[8:72])
		p.BIEnable = b[72]&0x1 != 0
		p.BIForward = b[72]&0x2 != 0
		return p, nil
	case 0x1002:
		if len(b) < 10 {
			return nil, truncated("bi-rsp body")
		}
		return &CxlMemBIRsp{Hdr: h, Address: binary.LittleEndian.Uint64(b[0:8]), BIID: binary.LittleEndian.Uint16(b[8:10])}, nil
	case 0x1003:
		if len(b) < 10 {
			return nil, truncated("bi-forward body")
		}
		return &CxlMemBIForward{Hdr: h, Address: binary.LittleEndian.Uint64(b[0:8]), BIID: binary.LittleEndian.Uint16(b[8:10])}, nil
	default:
		return nil, unknownOpcode(h.Opcode)
	}
}

func parseCache(h Header, b []byte) (Packet, error) {
	switch h.Opcode {
	case 0x2000:
		if len(b) < 10 {
			return nil, truncated("cache-rd body")
		}
		return &CxlCacheRd{Hdr: h, SnpID: binary.LittleEndian.Uint16(b[0:2]), Address: binary.LittleEndian.Uint64(b[2:10])}, nil
	case 0x2001:
		if len(b) < 10 {
			return nil, truncated("cache-wr body")
		}
		data := make([]byte, len(b)-10)
		copy(data, b[10:])
		return &CxlCacheWr{Hdr: h, SnpID: binary.LittleEndian.Uint16(b[0:2]), Address: binary.LittleEndian.Uint64(b[2:10]), Data: data}, nil
	case 0x2002:
		if len(b) < 10 {
			return nil, truncated("cache-snp body")
		}
		return &CxlCacheSnp{Hdr: h, SnpID: binary.LittleEndian.Uint16(b[0:2]), Address: binary.LittleEndian.Uint64(b[2:10])}, nil
	case 0x2003:
		if len(b) < 10 {
			return nil, truncated("cache-rsp body")
		}
		data := make([]byte, len(b)-10)
		copy(data, b[10:])
		return &CxlCacheRsp{Hdr: h, SnpID: binary.LittleEndian.Uint16(b[0:2]), Address: binary.LittleEndian.Uint64(b[2:10]), Data: data}, nil
	default:
		return nil, unknownOpcode(h.Opcode)
	}
}

func parseCCI(h Header, b []byte) (Packet, error) {
	isResp := h.Opcode&respBit != 0
	baseOp := h.Opcode &^ respBit
	switch baseOp {
	case OpGetLdInfo:
		if isResp {
			if len(b) < 9 {
				return nil, truncated("get-ld-info response body")
			}
			return &GetLdInfoResponse{Hdr: h, MemorySize: binary.LittleEndian.Uint64(b[0:8]), LdCount: b[8]}, nil
		}
		return &GetLdInfoRequest{Hdr: h}, nil
	case OpGetLdAllocations:
		if isResp {
			if len(b) < 4 {
				return nil, truncated("get-ld-allocations response body")
			}
			n := int(b[3])
			if len(b) < 4+n {
				return nil, truncated("get-ld-allocations response list")
			}
			list := make([]byte, n)
			copy(list, b[4:4+n])
			return &GetLdAllocationsResponse{Hdr: h, NumberOfLds: b[0], MemoryGranularity: b[1], StartLdID: b[2], AllocList: list}, nil
		}
		if len(b) < 2 {
			return nil, truncated("get-ld-allocations request body")
		}
		return &GetLdAllocationsRequest{Hdr: h, StartLdID: b[0], Limit: b[1]}, nil
	case OpSetLdAllocations:
		if isResp {
			if len(b) < 2 {
				return nil, truncated("set-ld-allocations response body")
			}
			granted := make([]byte, len(b)-2)
			copy(granted, b[2:])
			return &SetLdAllocationsResponse{Hdr: h, StartLdID: b[0], ResponseNumberOfLds: b[1], Granted: granted}, nil
		}
		if len(b) < 4 {
			return nil, truncated("set-ld-allocations request body")
		}
		n := int(b[0])
		if len(b) < 4+n {
			return nil, invalidLength("set-ld-allocations unit list")
		}
		units := make([]byte, n)
		copy(units, b[4:4+n])
		return &SetLdAllocationsRequest{Hdr: h, NumberOfLds: b[0], StartLdID: b[1], RequestedUnits: units}, nil
	default:
		if isResp {
			payload := make([]byte, max0(len(b)-2))
			var rc uint16
			if len(b) >= 2 {
				rc = binary.LittleEndian.Uint16(b[0:2])
				copy(payload, b[2:])
			}
			return &CciResponse{Hdr: h, ReturnCode: rc, Payload: payload}, nil
		}
		payload := make([]byte, len(b))
		copy(payload, b)
		return &CciRequest{Hdr: h, Payload: payload}, nil
	}
}

func max0(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
