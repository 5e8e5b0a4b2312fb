// Package cxlconn implements CxlConnection: the fixed bundle of per-class
// FifoPairs — IO, mem, cache, CCI — that a non-MLD port owns exactly one
// of, and an MLD port owns one per logical device.
//
// Grounded on protocol/connection.go's WSConnection, which bundles a
// transport, a buffer pool and inbox/outbox channels behind one struct;
// here the four channel pairs are keyed by wire.PayloadType instead of
// there being a single pair per socket.
package cxlconn

import (
	"fmt"

	"github.com/cxlfabric/emulator/internal/fifo"
	"github.com/cxlfabric/emulator/internal/wire"
)

// Connection bundles the four per-class FIFO pairs for one logical device.
type Connection struct {
	IO    *fifo.FifoPair
	Mem   *fifo.FifoPair
	Cache *fifo.FifoPair
	CCI   *fifo.FifoPair
}

// New allocates a Connection with every lane at the given per-queue
// capacity.
func New(queueCapacity int) *Connection {
	return &Connection{
		IO:    fifo.NewFifoPair(queueCapacity),
		Mem:   fifo.NewFifoPair(queueCapacity),
		Cache: fifo.NewFifoPair(queueCapacity),
		CCI:   fifo.NewFifoPair(queueCapacity),
	}
}

// Pair returns the FifoPair for the given traffic class.
func (c *Connection) Pair(class wire.PayloadType) (*fifo.FifoPair, error) {
	switch class {
	case wire.PayloadIO:
		return c.IO, nil
	case wire.PayloadMem:
		return c.Mem, nil
	case wire.PayloadCache:
		return c.Cache, nil
	case wire.PayloadCCI:
		return c.CCI, nil
	default:
		return nil, fmt.Errorf("cxlconn: unknown payload class %v", class)
	}
}

// Close closes all four lanes, used on Runnable stop.
func (c *Connection) Close() {
	c.IO.Close()
	c.Mem.Close()
	c.Cache.Close()
	c.CCI.Close()
}

// ForEachPair invokes fn with each (class, pair) tuple, used by shutdown
// sentinel propagation.
func (c *Connection) ForEachPair(fn func(class wire.PayloadType, pair *fifo.FifoPair)) {
	fn(wire.PayloadIO, c.IO)
	fn(wire.PayloadMem, c.Mem)
	fn(wire.PayloadCache, c.Cache)
	fn(wire.PayloadCCI, c.CCI)
}

// Set is the per-LD collection of Connections an MLD socket owns: one
// Connection per LD (0..N-1). A non-MLD port is represented as a Set of
// length 1.
type Set []*Connection

// NewSet allocates n Connections, each with the given per-queue capacity.
func NewSet(n int, queueCapacity int) Set {
	s := make(Set, n)
	for i := range s {
		s[i] = New(queueCapacity)
	}
	return s
}

// At returns the Connection for the given ld_id, validating range.
func (s Set) At(ldID uint8) (*Connection, error) {
	if int(ldID) >= len(s) {
		return nil, fmt.Errorf("cxlconn: ld_id %d out of range [0,%d)", ldID, len(s))
	}
	return s[ldID], nil
}

// Close tears down every connection in the set.
func (s Set) Close() {
	for _, c := range s {
		c.Close()
	}
}
