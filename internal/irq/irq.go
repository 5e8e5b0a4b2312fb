// Package irq implements the out-of-band interrupt channel: a TCP
// connection per peer carrying 2-byte (irq_code, dev_id) frames, with a
// callback registry dispatching received frames to per-device or
// per-irq-code handlers.
//
// Grounded on client/transport_client.go's net.Conn-wrapping transport
// (read/write/close over a plain socket, no framing beyond a fixed record
// size) and transport/tcp/listener.go's accept-loop-spawns-goroutine-per-peer
// shape, reduced from a WebSocket handshake to the fabric's fixed 2-byte
// wire format.
package irq

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"sync"

	"github.com/cxlfabric/emulator/internal/cxlerr"
	"github.com/cxlfabric/emulator/internal/lifecycle"
)

// Code is one of the fabric's interrupt reasons.
type Code uint8

const (
	CodeNull Code = iota
	CodeHostReady
	CodeAccelValidationFinished
	CodeHostSent
	CodeAccelTrainingFinished
	CodeDevRemoved
	CodeDevAdded
)

func (c Code) String() string {
	switch c {
	case CodeNull:
		return "NULL"
	case CodeHostReady:
		return "HOST_READY"
	case CodeAccelValidationFinished:
		return "ACCEL_VALIDATION_FINISHED"
	case CodeHostSent:
		return "HOST_SENT"
	case CodeAccelTrainingFinished:
		return "ACCEL_TRAINING_FINISHED"
	case CodeDevRemoved:
		return "DEV_REMOVED"
	case CodeDevAdded:
		return "DEV_ADDED"
	default:
		return fmt.Sprintf("Code(%d)", uint8(c))
	}
}

// Frame is one on-the-wire IRQ message: high 8 bits the code, low 8 bits
// the sending device id.
type Frame struct {
	Code  Code
	DevID uint8
}

// Encode returns the 2-byte little-endian wire form of f.
func (f Frame) Encode() []byte {
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, uint16(f.Code)<<8|uint16(f.DevID))
	return buf
}

// DecodeFrame parses a 2-byte little-endian buffer into a Frame.
func DecodeFrame(buf []byte) (Frame, error) {
	if len(buf) != 2 {
		return Frame{}, cxlerr.New(cxlerr.CodeParseError, "irq frame must be 2 bytes, got %d", len(buf))
	}
	v := binary.LittleEndian.Uint16(buf)
	return Frame{Code: Code(v >> 8), DevID: uint8(v)}, nil
}

// Handler reacts to a received IRQ. ctx is cancelled when the Manager
// stops, so a handler doing further work should watch it.
type Handler func(ctx context.Context, devID uint8, code Code)

type generalEntry struct {
	cb         Handler
	persistent bool
}

// Manager is the IRQ channel endpoint: one io.ReadWriteCloser per peer
// device, a callback registry, and the receive dispatch loop for each
// connection.
type Manager struct {
	*lifecycle.Base

	mu       sync.Mutex
	conns    map[uint8]io.ReadWriteCloser
	specific map[[2]uint8]Handler // [devID, code] -> handler
	general  map[Code]generalEntry
	runCtx   context.Context // valid once Start has run; nil before

	wg     sync.WaitGroup
	cancel context.CancelFunc
	log    *log.Logger
}

// New constructs an empty Manager; peers are attached with AddPeer, either
// before Start (picked up at launch) or after (spawned immediately).
func New(name string) *Manager {
	return &Manager{
		Base:     lifecycle.NewBase(),
		conns:    make(map[uint8]io.ReadWriteCloser),
		specific: make(map[[2]uint8]Handler),
		general:  make(map[Code]generalEntry),
		log:      log.New(os.Stderr, "irq["+name+"]: ", log.LstdFlags),
	}
}

// AddPeer registers conn as devID's connection. If the manager is already
// running its receive loop for this peer starts immediately; otherwise
// Start will pick it up.
func (m *Manager) AddPeer(devID uint8, conn io.ReadWriteCloser) {
	m.mu.Lock()
	m.conns[devID] = conn
	ctx := m.runCtx
	m.mu.Unlock()
	if ctx != nil {
		m.wg.Add(1)
		go func() { defer m.wg.Done(); m.recvLoop(ctx, devID, conn) }()
	}
}

// RegisterInterruptHandler binds (devID, code) -> cb, taking priority over
// any general handler for the same code.
func (m *Manager) RegisterInterruptHandler(devID uint8, code Code, cb Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.specific[[2]uint8{devID, uint8(code)}] = cb
}

// RegisterGeneralHandler binds code -> cb across every device. If
// persistent is false, the handler deregisters itself after its first
// invocation.
func (m *Manager) RegisterGeneralHandler(code Code, cb Handler, persistent bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.general[code] = generalEntry{cb: cb, persistent: persistent}
}

// SendIRQRequest writes a Frame{code, devID} to devID's connection.
func (m *Manager) SendIRQRequest(code Code, devID uint8) error {
	m.mu.Lock()
	conn, ok := m.conns[devID]
	m.mu.Unlock()
	if !ok {
		return cxlerr.New(cxlerr.CodeConnectionClosed, "no irq peer registered for dev %d", devID)
	}
	_, err := conn.Write(Frame{Code: code, DevID: devID}.Encode())
	return err
}

// Start launches one recvLoop per already-registered peer and arms AddPeer
// to spawn loops for any peer added afterward.
func (m *Manager) Start(ctx context.Context) error {
	m.MarkStarting()
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.mu.Lock()
	m.runCtx = runCtx
	peers := make(map[uint8]io.ReadWriteCloser, len(m.conns))
	for k, v := range m.conns {
		peers[k] = v
	}
	m.mu.Unlock()

	m.wg.Add(len(peers))
	for devID, conn := range peers {
		go func(devID uint8, conn io.ReadWriteCloser) {
			defer m.wg.Done()
			m.recvLoop(runCtx, devID, conn)
		}(devID, conn)
	}
	go func() { <-runCtx.Done(); m.wg.Wait(); m.MarkStopped() }()

	m.MarkRunning()
	return nil
}

func (m *Manager) WaitReady(ctx context.Context) error { return m.Base.WaitReady(ctx) }

// Stop cancels every in-flight handler invocation's context and closes
// every peer connection, unblocking the recvLoops.
func (m *Manager) Stop() error {
	if !m.BeginStop() {
		return nil
	}
	if m.cancel != nil {
		m.cancel()
	}
	m.mu.Lock()
	for _, conn := range m.conns {
		conn.Close()
	}
	m.mu.Unlock()
	<-m.Base.Stopped()
	return nil
}

func (m *Manager) recvLoop(ctx context.Context, devID uint8, conn io.ReadWriteCloser) {
	buf := make([]byte, 2)
	for {
		if _, err := io.ReadFull(conn, buf); err != nil {
			return
		}
		frame, err := DecodeFrame(buf)
		if err != nil {
			m.log.Printf("dev %d sent malformed irq frame: %v", devID, err)
			continue
		}
		m.dispatch(ctx, frame)
	}
}

// dispatch looks up a handler for frame: a specific (devID, code) handler
// first, then a general code handler, deregistering the latter if it was
// registered non-persistent. An unmatched frame is the "fail loudly"
// unknown-irq case.
func (m *Manager) dispatch(ctx context.Context, frame Frame) {
	m.mu.Lock()
	if cb, ok := m.specific[[2]uint8{frame.DevID, uint8(frame.Code)}]; ok {
		m.mu.Unlock()
		m.runHandler(ctx, cb, frame)
		return
	}
	entry, ok := m.general[frame.Code]
	if !ok {
		m.mu.Unlock()
		m.log.Printf("unknown irq: code=%s dev=%d has no registered handler", frame.Code, frame.DevID)
		return
	}
	if !entry.persistent {
		delete(m.general, frame.Code)
	}
	m.mu.Unlock()
	m.runHandler(ctx, entry.cb, frame)
}

func (m *Manager) runHandler(ctx context.Context, cb Handler, frame Frame) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		cb(ctx, frame.DevID, frame.Code)
	}()
}

// ServeHost accepts peer connections on ln and attaches each as the peer
// for the device id reported by devIDOf. Intended for the host side of the
// channel, where devices dial in; the device side instead dials out and
// calls AddPeer directly once connected.
func ServeHost(ctx context.Context, ln net.Listener, m *Manager, devIDOf func(net.Conn) (uint8, error)) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				m.log.Printf("accept error: %v", err)
				continue
			}
		}
		devID, err := devIDOf(conn)
		if err != nil {
			m.log.Printf("rejecting irq peer: %v", err)
			conn.Close()
			continue
		}
		m.AddPeer(devID, conn)
	}
}
