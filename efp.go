// Package efp splits large frames into MTU sized fragments for unreliable,
// unordered transports and reassembles them on the other side, delivering
// complete or timed out frames in order.
package efp

import (
	"sync"
	"sync/atomic"

	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("efp")

// Sender transmits one wire fragment. The slice is reused once Send
// returns. Failures are the host's business.
type Sender interface {
	Send(fragment []byte)
}

// Receiver is handed every frame the worker delivers. The frame and its
// data belong to the receiver once Receive is called.
type Receiver interface {
	Receive(frame *Frame)
}

// SendFunc adapts a function to the Sender interface.
type SendFunc func(fragment []byte)

func (f SendFunc) Send(fragment []byte) { f(fragment) }

// ReceiveFunc adapts a function to the Receiver interface.
type ReceiveFunc func(frame *Frame)

func (f ReceiveFunc) Receive(frame *Frame) { f(frame) }

// Frame is a reassembled superframe. Broken is set when the frame was
// released by timeout before every fragment arrived; PTS and Code are then
// PTSUnknown and CodeUnknown unless the terminal fragment made it.
type Frame struct {
	Data          []byte
	Content       ContentType
	Broken        bool
	PTS           uint64
	Code          uint32
	Stream        uint8
	Flags         uint8
	DeliveryOrder uint64
}

// Protocol is one framing protocol instance. Pack and Unpack may be called
// from any goroutine; delivery happens on the worker started by Start.
type Protocol struct {
	config *Config

	packMu       sync.Mutex
	superFrameNo uint16

	mu        sync.Mutex
	buckets   *bucketStore
	streams   streamTable
	recoverer sequenceRecoverer
	sched     scheduler
	buffered  int

	workerMu sync.Mutex
	running  atomic.Bool
	quit     chan struct{}

	counters [CounterMax]atomic.Uint64
}

// New creates a protocol instance. The config is copied after defaults are
// applied.
func New(config *Config) (*Protocol, error) {
	cfg := *config
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	p := &Protocol{
		config:  &cfg,
		buckets: newBucketStore(cfg.BucketCount),
		streams: streamTable{},
		sched:   newScheduler(cfg.BucketTimeout, cfg.HOLTimeout),
	}
	log.Infof("[%s] constructed, mode %s, mtu %d, %d buckets", cfg.Name, cfg.Mode, cfg.MTU, cfg.BucketCount)
	return p, nil
}

// Config returns the effective configuration.
func (p *Protocol) Config() Config {
	return *p.config
}

// MTU returns the effective, possibly clamped, MTU.
func (p *Protocol) MTU() int {
	return p.config.MTU
}

// Close stops the worker if it is running.
func (p *Protocol) Close() error {
	var err error
	if p.running.Load() {
		err = p.Stop()
	}
	log.Infof("[%s] closed", p.config.Name)
	return err
}

// Reset drops all in-flight reassembly state, stream contexts and the
// superframe counters.
func (p *Protocol) Reset() {
	p.packMu.Lock()
	p.superFrameNo = 0
	p.packMu.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.buckets.reset()
	p.buffered = 0
	p.streams = streamTable{}
	p.recoverer.reset()
	p.sched = newScheduler(p.sched.bucketTimeout, p.sched.holTimeout)
}

// Counter returns one of the Counter* values.
func (p *Protocol) Counter(counter int) uint64 {
	return p.counters[counter].Load()
}

// Counters returns a snapshot of all counters.
func (p *Protocol) Counters() [CounterMax]uint64 {
	var out [CounterMax]uint64
	for i := range out {
		out[i] = p.counters[i].Load()
	}
	return out
}

// ActiveBuckets reports how many superframes are being reassembled.
func (p *Protocol) ActiveBuckets() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	var n int
	for i := range p.buckets.buckets {
		if p.buckets.buckets[i].active {
			n++
		}
	}
	return n
}

func (p *Protocol) inc(counter int) {
	p.counters[counter].Add(1)
}

const (
	CounterNumFramesPacked = iota
	CounterNumFragmentsSent
	CounterNumFragmentsReceived
	CounterNumFragmentsInvalid
	CounterNumFragmentsDuplicate
	CounterNumFragmentsStale
	CounterNumFramesDelivered
	CounterNumFramesBroken
	CounterNumFramesDroppedLate
	CounterNumHeadOfLineBlocks
	CounterMax
)

// CounterNames labels the counters for reporting.
var CounterNames = [CounterMax]string{
	"frames packed",
	"fragments sent",
	"fragments received",
	"fragments invalid",
	"fragments duplicate",
	"fragments stale",
	"frames delivered",
	"frames broken",
	"frames dropped late",
	"head of line blocks",
}
