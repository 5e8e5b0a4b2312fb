// Package fake provides test doubles for the switch's physical-port and
// device layer, so binder/router/vswitch tests exercise real FIFO and
// routing logic without opening real TCP sockets.
//
// Grounded on fake/transport.go's controllable, in-memory stand-in for a
// real transport.
package fake

import "github.com/cxlfabric/emulator/internal/cxlconn"

// PortTable is an in-memory router.PortLookup: a map from physical port id
// to the cxlconn.Set behind it, populated directly by a test instead of
// being discovered via a real accept loop.
type PortTable map[int]cxlconn.Set

// ConnFor implements router.PortLookup.
func (p PortTable) ConnFor(portID int) (cxlconn.Set, bool) {
	s, ok := p[portID]
	return s, ok
}
