// Command cxlswitchd runs one virtual CXL switch: it accepts the upstream
// host connection, a stream of downstream device connections, and the
// out-of-band interrupt channel, then routes CXL.io/mem/cache traffic
// between them until signaled to stop.
//
// Grounded on examples/echo/main.go's signal.NotifyContext-driven
// accept-loop shutdown, generalized from one echo listener to the
// switch's three socket roles (host, device, irq).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/cxlfabric/emulator/internal/config"
	"github.com/cxlfabric/emulator/internal/cxlconn"
	"github.com/cxlfabric/emulator/internal/fmld"
	"github.com/cxlfabric/emulator/internal/framing"
	"github.com/cxlfabric/emulator/internal/irq"
	"github.com/cxlfabric/emulator/internal/metrics"
	"github.com/cxlfabric/emulator/internal/proc"
	"github.com/cxlfabric/emulator/internal/router"
	"github.com/cxlfabric/emulator/internal/vswitch"
)

// mldGranularityBytes is the per-LD allocation unit FMLD reports and grants
// against, matching the original's 256 MiB granularity.
const mldGranularityBytes = 256 * 1024 * 1024

func main() {
	hostAddr := flag.String("host-addr", ":9000", "listen address for the upstream host connection")
	deviceAddr := flag.String("device-addr", ":9001", "listen address devices dial in to")
	irqAddr := flag.String("irq-addr", ":9002", "listen address for the interrupt channel")
	vppbCount := flag.Int("vppb-count", 4, "number of downstream vPPBs exposed by this switch")
	workerCPUs := flag.String("worker-cpus", "", "comma-separated CPU ids to pin router workers to (empty: unpinned)")
	mldAddr := flag.String("mld-addr", "", "listen address for a multi-logical-device connection (empty: no MLD port)")
	mldLDCount := flag.Int("mld-ld-count", 8, "number of logical devices exposed by the MLD port, if -mld-addr is set")
	flag.Parse()

	logger := log.New(os.Stderr, "cxlswitchd: ", log.LstdFlags)

	cfg := defaultConfig(*vppbCount, *mldAddr != "", *mldLDCount)
	cpus, err := parseCPUList(*workerCPUs)
	if err != nil {
		logger.Fatalf("invalid -worker-cpus: %v", err)
	}
	cfg.VCSs[0].WorkerCPUs = cpus
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid switch configuration: %v", err)
	}
	store := config.NewStore(cfg)

	reg := metrics.New()
	routes := vswitch.Routes{
		IO:    router.NewIORoute(router.DeviceIsVppb, nil),
		Mem:   router.NewMemRoute(nil),
		Cache: router.NewCacheRoute(nil),
	}
	portType := func(portID int) (config.PortType, bool) {
		for _, p := range store.Snapshot().Ports {
			if p.Index == portID {
				return p.Type, true
			}
		}
		return 0, false
	}

	vcs := store.Snapshot().VCSs[0]
	sw, err := vswitch.New(0, vcs, routes, portType, reg)
	if err != nil {
		logger.Fatalf("constructing switch: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := sw.Start(ctx, vcs.InitialBounds); err != nil {
		logger.Fatalf("starting switch: %v", err)
	}

	hostLn, err := net.Listen("tcp", *hostAddr)
	if err != nil {
		logger.Fatalf("listening on %s: %v", *hostAddr, err)
	}
	deviceLn, err := net.Listen("tcp", *deviceAddr)
	if err != nil {
		logger.Fatalf("listening on %s: %v", *deviceAddr, err)
	}
	irqLn, err := net.Listen("tcp", *irqAddr)
	if err != nil {
		logger.Fatalf("listening on %s: %v", *irqAddr, err)
	}

	go acceptHost(ctx, logger, hostLn, sw)
	go acceptDevices(ctx, logger, deviceLn, sw, dspPortIDs(cfg))
	go irq.ServeHost(ctx, irqLn, sw.IRQManager(), readDevIDHandshake)

	var mldLn net.Listener
	if *mldAddr != "" {
		mldLn, err = net.Listen("tcp", *mldAddr)
		if err != nil {
			logger.Fatalf("listening on %s: %v", *mldAddr, err)
		}
		mldPortID := cfg.MLDs[0].MldPortIndex
		go acceptMLD(ctx, logger, mldLn, sw, mldPortID, *mldLDCount)
	}

	logger.Printf("switch running: host=%s device=%s irq=%s vppbs=%d", *hostAddr, *deviceAddr, *irqAddr, vcs.VppbCount)

	<-ctx.Done()
	logger.Printf("shutting down")
	hostLn.Close()
	deviceLn.Close()
	irqLn.Close()
	if mldLn != nil {
		mldLn.Close()
	}
	if err := sw.Stop(); err != nil {
		logger.Printf("shutdown error: %v", err)
	}
}

// defaultConfig describes one USP on port 0 and n DSPs, forming a single
// VCS with no devices initially bound: fm_bind_vppb attaches devices as
// they dial in. withMLD reserves one additional DSP port as a
// multi-logical-device port exposing ldCount logical devices behind an
// FMLD CCI endpoint.
func defaultConfig(n int, withMLD bool, ldCount int) config.SwitchConfig {
	ports := []config.PortConfig{{Index: 0, Type: config.PortUSP}}
	bounds := make([]int, n)
	for i := 0; i < n; i++ {
		ports = append(ports, config.PortConfig{Index: i + 1, Type: config.PortDSP})
		bounds[i] = -1
	}
	cfg := config.SwitchConfig{
		Ports: ports,
		VCSs: []config.VCSConfig{{
			UpstreamPortIndex: 0,
			VppbCount:         n,
			InitialBounds:     bounds,
		}},
	}
	if withMLD {
		mldPortID := n + 1
		ports = append(ports, config.PortConfig{Index: mldPortID, Type: config.PortDSP})
		cfg.Ports = ports
		lds := make([]config.MLDLogicalDevice, ldCount)
		for i := range lds {
			lds[i] = config.MLDLogicalDevice{LdID: uint8(i)}
		}
		cfg.MLDs = []config.MLDConfig{{MldPortIndex: mldPortID, LDs: lds}}
	}
	return cfg
}

// parseCPUList parses a comma-separated CPU-id list ("", the default,
// yields nil: no pinning).
func parseCPUList(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	cpus := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("cpu id %q: %w", p, err)
		}
		cpus[i] = n
	}
	return cpus, nil
}

// dspPortIDs lists every DSP available to plain single-LD device dial-ins,
// excluding any port reserved for an MLD (those are served by acceptMLD
// instead).
func dspPortIDs(cfg config.SwitchConfig) []int {
	mld := make(map[int]bool, len(cfg.MLDs))
	for _, m := range cfg.MLDs {
		mld[m.MldPortIndex] = true
	}
	var ids []int
	for _, p := range cfg.Ports {
		if p.Type == config.PortDSP && !mld[p.Index] {
			ids = append(ids, p.Index)
		}
	}
	return ids
}

// acceptHost accepts the single upstream host connection and bridges it to
// the switch's upstream connection via a non-MLD packet processor.
func acceptHost(ctx context.Context, logger *log.Logger, ln net.Listener, sw *vswitch.Switch) {
	conn, err := ln.Accept()
	if err != nil {
		if ctx.Err() == nil {
			logger.Printf("accepting host connection: %v", err)
		}
		return
	}
	p := proc.New(framing.NewReader(conn, 0), framing.NewWriter(conn), cxlconn.Set{sw.Upstream()}, false, "host")
	if err := p.Start(ctx); err != nil {
		logger.Printf("starting host processor: %v", err)
		return
	}
	go func() { <-ctx.Done(); conn.Close(); p.Stop() }()
}

// acceptDevices accepts one connection per dialing-in device, assigns it
// the next free DSP port id in order, and attaches its connection set to
// the switch so routers can resolve bindings to it. Each accepted device
// is modeled as a single-LD SLD; MLD fan-out is driven the same way by a
// caller that knows the device's LD count ahead of the accept loop.
func acceptDevices(ctx context.Context, logger *log.Logger, ln net.Listener, sw *vswitch.Switch, portIDs []int) {
	next := 0
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() == nil {
				logger.Printf("accepting device connection: %v", err)
			}
			return
		}
		if next >= len(portIDs) {
			logger.Printf("rejecting device: no free DSP port")
			conn.Close()
			continue
		}
		portID := portIDs[next]
		next++

		conns := cxlconn.Set{cxlconn.New(64)}
		p := proc.New(framing.NewReader(conn, 0), framing.NewWriter(conn), conns, false, "dsp")
		if err := p.Start(ctx); err != nil {
			logger.Printf("starting device processor for port %d: %v", portID, err)
			conn.Close()
			continue
		}
		sw.AttachPort(portID, conns)
		go func(conn net.Conn, p *proc.Processor, portID int) {
			<-ctx.Done()
			conn.Close()
			p.Stop()
			sw.DetachPort(portID)
		}(conn, p, portID)
	}
}

// acceptMLD accepts the single multi-logical-device connection, fans it out
// into ldCount per-LD connections via an MLD-mode processor, and runs an
// FMLD CCI endpoint over logical device 0's CCI lane to answer the fabric
// manager's Get LD Info and Get/Set LD Allocations requests for the whole
// port.
func acceptMLD(ctx context.Context, logger *log.Logger, ln net.Listener, sw *vswitch.Switch, portID, ldCount int) {
	conn, err := ln.Accept()
	if err != nil {
		if ctx.Err() == nil {
			logger.Printf("accepting mld connection: %v", err)
		}
		return
	}
	conns := cxlconn.NewSet(ldCount, 64)
	p := proc.New(framing.NewReader(conn, 0), framing.NewWriter(conn), conns, true, "mld")
	if err := p.Start(ctx); err != nil {
		logger.Printf("starting mld processor for port %d: %v", portID, err)
		conn.Close()
		return
	}
	sw.AttachPort(portID, conns)

	f := fmld.New(conns[0], ldCount, mldGranularityBytes)
	if err := f.Start(ctx); err != nil {
		logger.Printf("starting fmld for port %d: %v", portID, err)
		conn.Close()
		p.Stop()
		sw.DetachPort(portID)
		return
	}

	go func() {
		<-ctx.Done()
		f.Stop()
		conn.Close()
		p.Stop()
		sw.DetachPort(portID)
	}()
}

// readDevIDHandshake reads the single byte a device sends immediately
// after connecting on the irq channel to identify itself, before regular
// 2-byte irq frames begin.
func readDevIDHandshake(conn net.Conn) (uint8, error) {
	var b [1]byte
	if _, err := conn.Read(b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}
