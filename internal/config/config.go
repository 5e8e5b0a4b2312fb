// Package config defines the typed shapes the switch loads its initial
// layout from, and their precondition validation.
//
// Grounded on control/config.go's ConfigStore (thread-safe snapshot +
// reload-listener store), generalized here from a map[string]any to a
// typed SwitchConfig so Validate can enforce port-type and index bounds
// before anything starts.
package config

import (
	"sync"

	"github.com/google/uuid"

	"github.com/cxlfabric/emulator/internal/cxlerr"
)

// PortType is the PCIe role of one physical port on the switch.
type PortType int

const (
	PortUSP PortType = iota // upstream port, faces the host
	PortDSP                 // downstream port, faces a device
)

func (t PortType) String() string {
	if t == PortUSP {
		return "USP"
	}
	return "DSP"
}

// PortConfig describes one physical port.
type PortConfig struct {
	Index int
	Type  PortType
}

// VCSConfig describes one virtual CXL switch instance: which physical
// port is upstream, how many downstream vPPBs it exposes, and the initial
// binding for each (a port index, or -1 for unbound).
type VCSConfig struct {
	UpstreamPortIndex int
	VppbCount         int
	InitialBounds     []int

	// WorkerCPUs, if non-empty, pins every router worker goroutine to this
	// CPU set on start (see internal/affinity). Empty leaves them unpinned.
	WorkerCPUs []int
}

// SLDConfig describes a single logical device's backing store.
type SLDConfig struct {
	PortIndex    int
	MemorySize   uint64
	MemoryFile   string
	SerialNumber string
}

// MLDLogicalDevice is one LD hosted behind a multi-logical-device port.
type MLDLogicalDevice struct {
	LdID         uint8
	MemorySize   uint64
	MemoryFile   string
	SerialNumber string
}

// MLDConfig describes a multi-logical-device port and the LDs behind it.
type MLDConfig struct {
	MldPortIndex int
	LDs          []MLDLogicalDevice
}

// SwitchConfig is the complete initial layout: every physical port, every
// virtual switch instance, and every device (single- or multi-logical)
// attached to a downstream port.
type SwitchConfig struct {
	Ports []PortConfig
	VCSs  []VCSConfig
	SLDs  []SLDConfig
	MLDs  []MLDConfig
}

func (c *SwitchConfig) portType(index int) (PortType, bool) {
	for _, p := range c.Ports {
		if p.Index == index {
			return p.Type, true
		}
	}
	return 0, false
}

// Validate enforces the preconditions the switch's startup sequence
// requires before any state mutation: every VCS's upstream port must
// exist and be a USP, every initial-bound target must exist and be a
// DSP, and every index must be in range.
func (c *SwitchConfig) Validate() error {
	for _, vcs := range c.VCSs {
		t, ok := c.portType(vcs.UpstreamPortIndex)
		if !ok {
			return cxlerr.New(cxlerr.CodeVppbOutOfRange, "vcs upstream port %d not declared", vcs.UpstreamPortIndex)
		}
		if t != PortUSP {
			return cxlerr.New(cxlerr.CodePortTypeMismatch, "vcs upstream port %d is not a USP", vcs.UpstreamPortIndex)
		}
		if len(vcs.InitialBounds) > vcs.VppbCount {
			return cxlerr.New(cxlerr.CodeVppbOutOfRange, "initial_bounds has %d entries for %d vppbs", len(vcs.InitialBounds), vcs.VppbCount)
		}
		for vppb, portIdx := range vcs.InitialBounds {
			if portIdx < 0 {
				continue
			}
			t, ok := c.portType(portIdx)
			if !ok {
				return cxlerr.New(cxlerr.CodeVppbOutOfRange, "initial_bounds[%d] references undeclared port %d", vppb, portIdx)
			}
			if t != PortDSP {
				return cxlerr.New(cxlerr.CodePortTypeMismatch, "initial_bounds[%d] targets port %d which is not a DSP", vppb, portIdx)
			}
		}
	}
	for _, sld := range c.SLDs {
		t, ok := c.portType(sld.PortIndex)
		if !ok {
			return cxlerr.New(cxlerr.CodeVppbOutOfRange, "sld references undeclared port %d", sld.PortIndex)
		}
		if t != PortDSP {
			return cxlerr.New(cxlerr.CodePortTypeMismatch, "sld port %d is not a DSP", sld.PortIndex)
		}
	}
	for _, mld := range c.MLDs {
		t, ok := c.portType(mld.MldPortIndex)
		if !ok {
			return cxlerr.New(cxlerr.CodeVppbOutOfRange, "mld references undeclared port %d", mld.MldPortIndex)
		}
		if t != PortDSP {
			return cxlerr.New(cxlerr.CodePortTypeMismatch, "mld port %d is not a DSP", mld.MldPortIndex)
		}
	}
	return nil
}

// Store is a thread-safe holder for the active SwitchConfig plus
// reload-listener propagation. Nothing in the switch subscribes to reloads;
// a replaced configuration is not re-applied to a running switch.
type Store struct {
	mu        sync.RWMutex
	id        string
	cfg       SwitchConfig
	listeners []func(SwitchConfig)
}

// NewStore wraps cfg in a Store, stamping it with a stable identifier for
// session/log correlation.
func NewStore(cfg SwitchConfig) *Store {
	return &Store{id: uuid.NewString(), cfg: cfg}
}

// ID returns the store's stable identifier.
func (s *Store) ID() string { return s.id }

// Snapshot returns a copy of the active configuration.
func (s *Store) Snapshot() SwitchConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Replace installs a new configuration and notifies every listener.
func (s *Store) Replace(cfg SwitchConfig) {
	s.mu.Lock()
	s.cfg = cfg
	listeners := append([]func(SwitchConfig){}, s.listeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(cfg)
	}
}

// OnReload registers a listener invoked (synchronously, by Replace's
// caller goroutine) whenever the configuration changes.
func (s *Store) OnReload(fn func(SwitchConfig)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}
