package efp

import (
	"fmt"
	"math"
	"slices"
	"time"
)

// scheduler is the delivery state carried between sweeps. Guarded by the
// Protocol mutex.
type scheduler struct {
	bucketTimeout uint32
	holTimeout    uint32

	// primed is set once the worker knows where in the sequence to start.
	// With head of line handling on it waits for two candidates or a
	// timeout so the first frame seen is not delivered ahead of an earlier
	// one still in flight.
	primed   bool
	expected uint64

	blocked   bool
	holCount  uint32
	holTail   uint64
	delivered uint64
}

func newScheduler(bucketTimeout, holTimeout uint32) scheduler {
	return scheduler{
		bucketTimeout: bucketTimeout,
		holTimeout:    holTimeout,
		primed:        holTimeout == 0,
	}
}

func (s *scheduler) block(tail uint64) {
	s.blocked = true
	s.holCount = s.holTimeout
	s.holTail = tail
}

type candidate struct {
	deliveryOrder uint64
	index         int
}

// Start launches the delivery worker. bucketTimeout is how many ticks a
// bucket may sit without new fragments before it is delivered broken;
// holTimeout is how many ticks delivery waits for a missing frame before
// skipping it, 0 disables the wait and frames are delivered as soon as they
// are ready.
func (p *Protocol) Start(bucketTimeout, holTimeout uint32) error {
	if !p.config.Mode.unpacks() {
		return ErrWrongMode
	}
	p.workerMu.Lock()
	defer p.workerMu.Unlock()

	if p.running.Load() {
		log.Errorf("[%s] unpacker already working", p.config.Name)
		return ErrAlreadyStarted
	}
	if bucketTimeout == 0 {
		return fmt.Errorf("%w: bucket timeout can not be 0", ErrParameter)
	}
	if holTimeout >= bucketTimeout {
		return fmt.Errorf("%w: hol timeout %d must be less than bucket timeout %d", ErrParameter, holTimeout, bucketTimeout)
	}

	p.mu.Lock()
	p.sched = newScheduler(bucketTimeout, holTimeout)
	p.mu.Unlock()

	p.quit = make(chan struct{})
	p.running.Store(true)
	go p.worker(p.quit, p.config.TickInterval)
	log.Infof("[%s] unpacker started, bucket timeout %d, hol timeout %d, tick %s", p.config.Name, bucketTimeout, holTimeout, p.config.TickInterval)
	return nil
}

// Stop signals the worker and waits a bounded time for it to exit. If it
// does not, ErrFailedToStop is returned and the worker is abandoned.
func (p *Protocol) Stop() error {
	p.workerMu.Lock()
	defer p.workerMu.Unlock()

	if !p.running.Load() {
		return nil
	}
	select {
	case <-p.quit:
	default:
		close(p.quit)
	}
	for i := 0; i < p.config.StopPolls; i++ {
		if !p.running.Load() {
			log.Infof("[%s] unpacker stopped", p.config.Name)
			return nil
		}
		time.Sleep(p.config.StopPollInterval)
	}
	log.Errorf("[%s] unpacker worker not stopping, quitting anyway", p.config.Name)
	return ErrFailedToStop
}

// Running reports whether the worker goroutine is alive.
func (p *Protocol) Running() bool {
	return p.running.Load()
}

func (p *Protocol) worker(quit <-chan struct{}, interval time.Duration) {
	defer p.running.Store(false)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-quit:
			return
		case <-ticker.C:
			p.sweep()
		}
	}
}

// sweep ages every active bucket once, picks those that are complete or
// timed out and delivers what head of line handling allows, in order.
func (p *Protocol) sweep() {
	p.mu.Lock()
	s := &p.sched

	clearHead := false
	if s.blocked {
		if s.holCount > 0 {
			s.holCount--
		} else {
			clearHead = true
			s.blocked = false
		}
	}

	var (
		candidates  []candidate
		activeCount int
		timedOut    bool
		oldest      uint64 = math.MaxUint64
	)
	for i := range p.buckets.buckets {
		b := &p.buckets.buckets[i]
		if !b.active {
			continue
		}
		activeCount++
		if b.deliveryOrder < oldest {
			oldest = b.deliveryOrder
		}
		if clearHead && b.deliveryOrder < s.holTail {
			log.Debugf("[%s] forcing out superframe %d ahead of %d", p.config.Name, b.deliveryOrder, s.holTail)
			b.timeout = 1
		}
		if b.timeout > 0 {
			b.timeout--
		}
		if b.timeout == 0 {
			timedOut = true
			candidates = append(candidates, candidate{b.deliveryOrder, i})
			// stays a candidate on every following sweep until delivered
			b.timeout = 1
		} else if b.complete() {
			candidates = append(candidates, candidate{b.deliveryOrder, i})
		}
	}

	if (!s.primed && len(candidates) >= 2) || timedOut {
		s.primed = true
		s.expected = oldest
	}

	var frames []*Frame
	if len(candidates) > 0 && s.primed {
		slices.SortFunc(candidates, func(a, b candidate) int {
			switch {
			case a.deliveryOrder < b.deliveryOrder:
				return -1
			case a.deliveryOrder > b.deliveryOrder:
				return 1
			}
			return 0
		})

		if clearHead {
			for _, c := range candidates {
				frames = p.take(c, frames)
				s.expected = c.deliveryOrder + 1
			}
		} else {
			if s.holTimeout > 0 && !s.blocked && s.expected < candidates[0].deliveryOrder {
				p.headOfLine(candidates[0].deliveryOrder)
			}
			if !s.blocked {
				for _, c := range candidates {
					if s.holTimeout > 0 && c.deliveryOrder < s.expected {
						frames = p.take(c, frames)
						continue
					}
					if s.holTimeout > 0 && s.expected != c.deliveryOrder {
						p.headOfLine(c.deliveryOrder)
						break
					}
					s.expected = c.deliveryOrder + 1
					frames = p.take(c, frames)
				}
			}
		}
	}
	p.mu.Unlock()

	for _, f := range frames {
		p.config.Receiver.Receive(f)
	}

	if activeCount > p.buckets.size()/4*3 {
		log.Warningf("[%s] %d of %d buckets active", p.config.Name, activeCount, p.buckets.size())
	}
}

func (p *Protocol) headOfLine(tail uint64) {
	log.Debugf("[%s] head of line blocked, expected %d, next is %d", p.config.Name, p.sched.expected, tail)
	p.sched.block(tail)
	p.inc(CounterNumHeadOfLineBlocks)
}

// take releases the bucket behind c and appends its frame to frames. Frames
// older than one already delivered are dropped when head of line handling
// is on, they were given up on.
func (p *Protocol) take(c candidate, frames []*Frame) []*Frame {
	b := &p.buckets.buckets[c.index]
	s := &p.sched
	defer p.release(b)

	if s.holTimeout > 0 {
		if b.deliveryOrder < s.delivered {
			log.Debugf("[%s] dropping late superframe %d", p.config.Name, b.deliveryOrder)
			p.inc(CounterNumFramesDroppedLate)
			return frames
		}
		s.delivered = b.deliveryOrder
	}

	f := &Frame{
		Data:          b.payload(),
		Content:       b.content,
		Broken:        !b.complete(),
		PTS:           b.pts,
		Code:          b.code,
		Stream:        b.stream,
		Flags:         b.flags,
		DeliveryOrder: b.deliveryOrder,
	}
	p.inc(CounterNumFramesDelivered)
	if f.Broken {
		p.inc(CounterNumFramesBroken)
	}
	return append(frames, f)
}
