// Package framing implements the length-prefixed packet reader/writer over
// an ordered byte stream. Every packet on the wire is a 4-byte
// little-endian length (covering the whole packet, length field included)
// followed by the wire.Header and variant body.
//
// Grounded on protocol/frame.go's DecodeFrame/EncodeFrame: read the fixed
// prefix first, use its length field to size the rest of the read, then
// hand the bytes to the codec.
package framing

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/cxlfabric/emulator/internal/wire"
)

// LengthPrefixSize is the size of the leading length field.
const LengthPrefixSize = 4

// DefaultMaxFrame is the default ceiling on a single packet's total size,
// validated against a configurable maximum. 4 KiB payload plus generous
// header room.
const DefaultMaxFrame = 8192

// ErrOversizeFrame is returned when a peer's declared length exceeds the
// configured maximum; the caller must terminate the connection.
var ErrOversizeFrame = errors.New("framing: frame exceeds configured maximum size")

// ErrShortFrame is returned when the stream closes between bytes of a
// packet: closure mid-packet is always a hard error, never a clean EOF.
var ErrShortFrame = errors.New("framing: stream closed mid-packet")

// Reader parses framed packets off an io.Reader.
type Reader struct {
	r        io.Reader
	maxFrame uint32
}

// NewReader constructs a Reader with the given maximum frame size. A
// maxFrame of 0 selects DefaultMaxFrame.
func NewReader(r io.Reader, maxFrame uint32) *Reader {
	if maxFrame == 0 {
		maxFrame = DefaultMaxFrame
	}
	return &Reader{r: r, maxFrame: maxFrame}
}

// readExact blocks until n bytes are available or the stream closes. A
// zero-byte read at the very start of a call is a clean EOF; any other
// short read is ErrShortFrame.
func readExact(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	read, err := io.ReadFull(r, buf)
	if err == nil {
		return buf, nil
	}
	if errors.Is(err, io.EOF) && read == 0 {
		return nil, io.EOF
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return nil, ErrShortFrame
	}
	return nil, err
}

// GetPacket reads and parses the next packet. Returns io.EOF at a clean
// packet boundary, ErrShortFrame on a mid-packet close, ErrOversizeFrame on
// an over-limit declared length, or a *wire.ParseError from the codec.
func (r *Reader) GetPacket() (wire.Packet, error) {
	lenBuf, err := readExact(r.r, LengthPrefixSize)
	if err != nil {
		return nil, err
	}
	total := binary.LittleEndian.Uint32(lenBuf)
	if total < LengthPrefixSize+wire.HeaderSize {
		return nil, fmt.Errorf("framing: %w: declared length %d too small", ErrShortFrame, total)
	}
	if total > r.maxFrame {
		return nil, ErrOversizeFrame
	}
	rest, err := readExact(r.r, int(total-LengthPrefixSize))
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrShortFrame
		}
		return nil, err
	}
	return wire.Parse(rest)
}

// Writer serializes packets with the length prefix and flushes them.
type Writer struct {
	w io.Writer
}

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WritePacket serializes p and writes the framed bytes in one call.
func (w *Writer) WritePacket(p wire.Packet) error {
	body, err := wire.Serialize(p)
	if err != nil {
		return err
	}
	total := LengthPrefixSize + len(body)
	buf := make([]byte, total)
	binary.LittleEndian.PutUint32(buf[:LengthPrefixSize], uint32(total))
	copy(buf[LengthPrefixSize:], body)
	_, err = w.w.Write(buf)
	return err
}
