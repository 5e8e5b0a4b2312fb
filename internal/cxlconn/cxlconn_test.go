package cxlconn

import (
	"testing"

	"github.com/cxlfabric/emulator/internal/fifo"
	"github.com/cxlfabric/emulator/internal/wire"
)

func TestPairSelectsClass(t *testing.T) {
	c := New(4)
	p, err := c.Pair(wire.PayloadMem)
	if err != nil {
		t.Fatal(err)
	}
	if p != c.Mem {
		t.Fatal("expected Pair(PayloadMem) to return c.Mem")
	}
}

func TestPairUnknownClassIsError(t *testing.T) {
	c := New(4)
	if _, err := c.Pair(wire.PayloadType(99)); err == nil {
		t.Fatal("expected an error for an unknown payload class")
	}
}

func TestSetAtOutOfRange(t *testing.T) {
	s := NewSet(2, 4)
	if _, err := s.At(5); err == nil {
		t.Fatal("expected an out-of-range error")
	}
	if _, err := s.At(1); err != nil {
		t.Fatal(err)
	}
}

func TestForEachPairVisitsAllFour(t *testing.T) {
	c := New(4)
	seen := map[wire.PayloadType]*fifo.FifoPair{}
	c.ForEachPair(func(class wire.PayloadType, pair *fifo.FifoPair) {
		seen[class] = pair
	})
	if len(seen) != 4 {
		t.Fatalf("got %d classes visited, want 4", len(seen))
	}
	if seen[wire.PayloadCCI] != c.CCI {
		t.Fatal("expected the CCI pair to be visited with the correct pointer")
	}
}
