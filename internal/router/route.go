package router

import "github.com/cxlfabric/emulator/internal/wire"

// AddressRange maps [Base, Base+Size) to a downstream vPPB id, used for both
// BAR-decoded CXL.io MMIO and HDM-decoded CXL.mem routing.
type AddressRange struct {
	Base uint64
	Size uint64
	Vppb int
}

// AddressRangeMap is an ordered list of non-overlapping AddressRanges.
type AddressRangeMap []AddressRange

// Lookup returns the vPPB owning addr, if any.
func (m AddressRangeMap) Lookup(addr uint64) (int, bool) {
	for _, r := range m {
		if addr >= r.Base && addr < r.Base+r.Size {
			return r.Vppb, true
		}
	}
	return 0, false
}

// BDFFunc maps a (bus, device, function) triple to a vPPB id, mirroring how
// a PCIe root complex resolves a config-space access to a downstream bridge.
type BDFFunc func(bus, device, function uint8) (int, bool)

// DeviceIsVppb is the default BDFFunc: the PCIe device number on bus 0 is
// taken directly as the vPPB index, which is sufficient for a fabric with
// one DSP per bus-0 device slot.
func DeviceIsVppb(bus, device, function uint8) (int, bool) {
	if bus != 0 {
		return 0, false
	}
	return int(device), true
}

// SnoopIDMap maps a CXL.cache snoop id to a vPPB id.
type SnoopIDMap map[uint16]int

func (m SnoopIDMap) Lookup(id uint16) (int, bool) {
	v, ok := m[id]
	return v, ok
}

// NewIORoute builds the combined CXL.io RouteFunc: config-space accesses
// resolve through bdf, MMIO accesses resolve through bars, since CXL.io
// carries both PCIe config traffic and BAR-mapped MMIO.
func NewIORoute(bdf BDFFunc, bars AddressRangeMap) RouteFunc {
	return func(pkt wire.Packet) (int, bool) {
		switch p := pkt.(type) {
		case *wire.CxlIoCfgRd:
			return bdf(p.Bus, p.Device, p.Function)
		case *wire.CxlIoCfgWr:
			return bdf(p.Bus, p.Device, p.Function)
		case *wire.CxlIoMemRd:
			return bars.Lookup(p.Address)
		case *wire.CxlIoMemWr:
			return bars.Lookup(p.Address)
		default:
			return 0, false
		}
	}
}

// NewMemRoute builds the CXL.mem RouteFunc from an HDM-decoder-populated
// address range map.
func NewMemRoute(hdm AddressRangeMap) RouteFunc {
	return func(pkt wire.Packet) (int, bool) {
		switch p := pkt.(type) {
		case *wire.CxlMemRd:
			return hdm.Lookup(p.Address)
		case *wire.CxlMemWr:
			return hdm.Lookup(p.Address)
		case *wire.CxlMemBIRsp:
			return hdm.Lookup(p.Address)
		case *wire.CxlMemBIForward:
			return hdm.Lookup(p.Address)
		default:
			return 0, false
		}
	}
}

// NewCacheRoute builds the CXL.cache RouteFunc from a snoop-id map.
func NewCacheRoute(snoop SnoopIDMap) RouteFunc {
	return func(pkt wire.Packet) (int, bool) {
		switch p := pkt.(type) {
		case *wire.CxlCacheRd:
			return snoop.Lookup(p.SnpID)
		case *wire.CxlCacheWr:
			return snoop.Lookup(p.SnpID)
		case *wire.CxlCacheSnp:
			return snoop.Lookup(p.SnpID)
		case *wire.CxlCacheRsp:
			return snoop.Lookup(p.SnpID)
		default:
			return 0, false
		}
	}
}
