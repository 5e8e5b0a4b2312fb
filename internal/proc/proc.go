// Package proc implements the bidirectional packet processor: the
// demultiplexer sitting between one physical byte stream and the
// CxlConnection(s) it carries, and (for MLD ports) the per-LD fan-out
// behind a single socket.
//
// Grounded on reactor/reactor.go's two-permanent-task-per-connection shape
// (one reader, one writer loop) and internal/transport/websocket_listener.go's
// accept-then-spawn-pair pattern, adapted from a single FIFO pair per
// socket to N per-LD FifoPairs behind one socket.
package proc

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/cxlfabric/emulator/internal/cxlconn"
	"github.com/cxlfabric/emulator/internal/fifo"
	"github.com/cxlfabric/emulator/internal/framing"
	"github.com/cxlfabric/emulator/internal/lifecycle"
	"github.com/cxlfabric/emulator/internal/wire"
)

// fanoutBuffer decouples the single ordered reader from N independent
// downstream queues: a full HostToTarget queue for one (ld, class) must
// block only that destination, never the reading of packets addressed
// elsewhere. Each destination gets its own forwarder goroutine fed from
// this buffer.
const fanoutBuffer = 64

// egressPollInterval is the backoff between fair round-robin sweeps over
// every (ld, class) target_to_host queue when none had anything ready.
const egressPollInterval = 500 * time.Microsecond

var classOrder = []wire.PayloadType{wire.PayloadIO, wire.PayloadMem, wire.PayloadCache, wire.PayloadCCI}

type destKey struct {
	ld    uint8
	class wire.PayloadType
}

// Processor demultiplexes one byte stream into conns (length 1 for a
// non-MLD port, length N for an MLD port exposing N logical devices).
type Processor struct {
	*lifecycle.Base

	reader *framing.Reader
	writer *framing.Writer
	conns  cxlconn.Set
	mld    bool

	forwarders map[destKey]chan wire.Packet

	wg     sync.WaitGroup
	cancel context.CancelFunc
	log    *log.Logger
}

// New constructs a Processor over reader/writer and conns. mld selects
// whether ld_id is honored (true) or clamped to 0 (false, exactly one
// connection).
func New(reader *framing.Reader, writer *framing.Writer, conns cxlconn.Set, mld bool, name string) *Processor {
	p := &Processor{
		Base:       lifecycle.NewBase(),
		reader:     reader,
		writer:     writer,
		conns:      conns,
		mld:        mld,
		forwarders: make(map[destKey]chan wire.Packet, len(conns)*len(classOrder)),
		log:        log.New(os.Stderr, "proc["+name+"]: ", log.LstdFlags),
	}
	for ld := range conns {
		for _, class := range classOrder {
			p.forwarders[destKey{uint8(ld), class}] = make(chan wire.Packet, fanoutBuffer)
		}
	}
	return p
}

// Start launches the ingress task, the egress task, and one forwarder
// goroutine per (ld, class) destination.
func (p *Processor) Start(ctx context.Context) error {
	p.MarkStarting()
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(2 + len(p.forwarders))
	for key, ch := range p.forwarders {
		go func(key destKey, ch chan wire.Packet) {
			defer p.wg.Done()
			p.forward(runCtx, key, ch)
		}(key, ch)
	}
	go func() { defer p.wg.Done(); p.ingress(runCtx) }()
	go func() { defer p.wg.Done(); p.egress(runCtx) }()
	go func() { p.wg.Wait(); p.MarkStopped() }()

	p.MarkRunning()
	return nil
}

func (p *Processor) WaitReady(ctx context.Context) error { return p.Base.WaitReady(ctx) }

// Stop cancels the processor's tasks and closes every connection's lanes,
// then waits for every task to return. Stop does not close the underlying
// stream: an ingress task blocked reading it returns only once the stream
// reports EOF or an error.
func (p *Processor) Stop() error {
	if !p.BeginStop() {
		return nil
	}
	if p.cancel != nil {
		p.cancel()
	}
	p.conns.Close()
	<-p.Base.Stopped()
	return nil
}

// forward relays packets from the fan-out buffer for one destination into
// its bounded HostToTarget queue, blocking there without affecting any
// other destination.
func (p *Processor) forward(ctx context.Context, key destKey, ch chan wire.Packet) {
	conn := p.conns[key.ld]
	pair, err := conn.Pair(key.class)
	if err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case pkt, ok := <-ch:
			if !ok {
				return
			}
			if err := pair.HostToTarget.Push(pkt); err != nil {
				return
			}
		}
	}
}

// ingress repeatedly reads one packet at a time from the stream and routes
// it to conn[ld_id].<class>.host_to_target.
func (p *Processor) ingress(ctx context.Context) {
	defer p.onIngressDone()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		pkt, err := p.reader.GetPacket()
		if err != nil {
			p.handleIngressError(err)
			return
		}

		ld := pkt.Header().LdID
		if !p.mld {
			ld = 0
			pkt.SetLdID(0)
		}
		if int(ld) >= len(p.conns) {
			p.log.Printf("dropping packet: ld_id %d out of range [0,%d)", ld, len(p.conns))
			continue
		}
		ch := p.forwarders[destKey{ld, pkt.Header().PayloadType}]
		select {
		case ch <- pkt:
		case <-ctx.Done():
			return
		}
	}
}

func (p *Processor) handleIngressError(err error) {
	if errors.Is(err, io.EOF) {
		return
	}
	if errors.Is(err, framing.ErrShortFrame) || errors.Is(err, framing.ErrOversizeFrame) {
		p.log.Printf("stream error, closing: %v", err)
		return
	}
	var pe *wire.ParseError
	if errors.As(err, &pe) {
		p.log.Printf("malformed packet, closing: %v", err)
		return
	}
	p.log.Printf("unexpected read error, closing: %v", err)
}

// onIngressDone enqueues the closed sentinel on every host_to_target queue
// so downstream consumers (routers, FMLD) observe a clean shutdown signal,
// then tears down the whole processor.
func (p *Processor) onIngressDone() {
	for _, conn := range p.conns {
		conn.ForEachPair(func(_ wire.PayloadType, pair *fifo.FifoPair) {
			_ = pair.HostToTarget.Push(fifo.Closed{})
		})
	}
	if p.cancel != nil {
		p.cancel()
	}
}

// egress fairly drains every (ld, class) target_to_host queue and writes
// packets out in the order each source queue produced them; interleaving
// across queues is a round-robin sweep, not a priority order.
func (p *Processor) egress(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		found := false
		for ld := range p.conns {
			conn := p.conns[ld]
			for _, class := range classOrder {
				pair, err := conn.Pair(class)
				if err != nil {
					continue
				}
				v, ok := pair.TargetToHost.TryPop()
				if !ok {
					continue
				}
				if _, closed := v.(fifo.Closed); closed {
					continue
				}
				pkt := v.(wire.Packet)
				if err := p.writer.WritePacket(pkt); err != nil {
					p.log.Printf("write error, closing: %v", err)
					return
				}
				found = true
			}
		}
		if !found {
			select {
			case <-ctx.Done():
				return
			case <-time.After(egressPollInterval):
			}
		}
	}
}
