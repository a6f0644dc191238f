package efp

import (
	"errors"
	"fmt"
)

// Unpack feeds one wire fragment received from source into reassembly.
// Completed or timed out frames are delivered later by the worker.
//
// Fragments of every source share one bucket ring keyed by superframe
// number only; sources must use disjoint superframe ranges or accept
// collisions.
func (p *Protocol) Unpack(fragment []byte, source uint8) error {
	if !p.config.Mode.unpacks() {
		return ErrWrongMode
	}
	p.inc(CounterNumFragmentsReceived)
	if len(fragment) == 0 {
		return p.reject(ErrFrameSizeMismatch, 0)
	}

	switch fragment[0] & frameTypeMask {
	case frameType0:
		// filler, the host may put anything after the type byte
		return nil
	case frameType1:
		h, err := decodeType1(fragment)
		if err != nil {
			return p.reject(err, 0)
		}
		return p.reject(p.unpackType1(h, fragment[Type1HeaderSize:], source), h.superFrameNo)
	case frameType2:
		h, err := decodeType2(fragment)
		if err != nil {
			return p.reject(err, h.superFrameNo)
		}
		if h.fragmentNo != h.ofFragmentNo {
			return p.reject(ErrEndOfPacket, h.superFrameNo)
		}
		return p.reject(p.unpackType2(h, fragment[Type2HeaderSize:], source), h.superFrameNo)
	}
	return p.reject(ErrUnknownFrameType, 0)
}

func (p *Protocol) reject(err error, superFrameNo uint16) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrDuplicateFragment):
		p.inc(CounterNumFragmentsDuplicate)
	case errors.Is(err, ErrTooOldFragment):
		p.inc(CounterNumFragmentsStale)
	case errors.Is(err, ErrBufferOutOfBounds):
		log.Errorf("[%s] superframe %d: %v, bucket dropped", p.config.Name, superFrameNo, err)
		p.inc(CounterNumFragmentsInvalid)
	default:
		p.inc(CounterNumFragmentsInvalid)
	}
	log.Debugf("[%s] ignoring fragment of superframe %d: %v", p.config.Name, superFrameNo, err)
	return err
}

// unpackType1 handles fragments of frames larger than the MTU, all but the last.
func (p *Protocol) unpackType1(h type1Header, payload []byte, source uint8) error {
	if h.fragmentNo == h.ofFragmentNo {
		return ErrEndOfPacket
	}
	if h.fragmentNo > h.ofFragmentNo {
		return ErrBufferOutOfBounds
	}
	if len(payload) == 0 {
		return ErrFrameSizeMismatch
	}
	if len(payload) > p.config.MTU-Type1HeaderSize {
		return fmt.Errorf("%w: %d byte fragment, mtu is %d", ErrFrameSizeMismatch, len(payload), p.config.MTU)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	b := p.buckets.find(h.superFrameNo)
	if !b.active {
		deliveryOrder := p.recoverer.recover(h.superFrameNo)
		if deliveryOrder == b.deliveryOrder {
			return ErrTooOldFragment
		}
		previous := b.deliveryOrder
		b.activate(deliveryOrder, h.superFrameNo, h.ofFragmentNo, p.sched.bucketTimeout)

		// the first fragment to arrive defines the type 1 payload size,
		// the terminal slot is grown later if it needs more
		b.fragmentSize = len(payload)
		size := b.fragmentSize*int(h.ofFragmentNo) + min(b.fragmentSize, p.config.MTU-Type2HeaderSize)
		if err := p.allocate(b, size); err != nil {
			b.deliveryOrder = previous
			return err
		}
		b.flags = h.flags
		b.stream = h.stream
		sc := p.streams.get(source, h.stream)
		b.content = sc.content
		b.code = sc.code
		b.markReceived(h.fragmentNo)
		b.store(h.fragmentNo, payload)
		log.Debugf("[%s] superframe %d started by fragment %d of %d", p.config.Name, h.superFrameNo, h.fragmentNo, h.ofFragmentNo)
		return nil
	}

	if h.superFrameNo != b.savedSuperFrameNo {
		return fmt.Errorf("%w: superframe %d holds the bucket", ErrBufferOutOfResources, b.savedSuperFrameNo)
	}
	if h.fragmentNo > b.ofFragmentNo || h.ofFragmentNo != b.ofFragmentNo {
		p.release(b)
		return fmt.Errorf("%w: fragment %d of %d, bucket expects %d", ErrBufferOutOfBounds, h.fragmentNo, h.ofFragmentNo, b.ofFragmentNo)
	}
	if b.hasReceived(h.fragmentNo) {
		return ErrDuplicateFragment
	}
	if len(payload) != b.fragmentSize || !b.store(h.fragmentNo, payload) {
		p.release(b)
		return fmt.Errorf("%w: %d byte fragment, bucket uses %d", ErrBufferOutOfBounds, len(payload), b.fragmentSize)
	}
	b.markReceived(h.fragmentNo)
	b.timeout = p.sched.bucketTimeout
	b.fragmentCounter++
	return nil
}

// unpackType2 handles the terminal fragment of a superframe, which is also
// the only fragment of frames that fit the MTU.
func (p *Protocol) unpackType2(h type2Header, payload []byte, source uint8) error {
	if h.ofFragmentNo > 0 && h.type1PacketSize == 0 {
		return ErrFrameSizeMismatch
	}
	if int(h.type1PacketSize) > p.config.MTU-Type1HeaderSize || len(payload) > p.config.MTU-Type2HeaderSize {
		return fmt.Errorf("%w: fragments of %d and %d bytes, mtu is %d", ErrFrameSizeMismatch, h.type1PacketSize, len(payload), p.config.MTU)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	frameSize := int(h.type1PacketSize)*int(h.ofFragmentNo) + len(payload)

	b := p.buckets.find(h.superFrameNo)
	if !b.active {
		deliveryOrder := p.recoverer.recover(h.superFrameNo)
		if deliveryOrder == b.deliveryOrder {
			return ErrTooOldFragment
		}
		previous := b.deliveryOrder
		b.activate(deliveryOrder, h.superFrameNo, h.ofFragmentNo, p.sched.bucketTimeout)
		b.fragmentSize = int(h.type1PacketSize)
		if err := p.allocate(b, frameSize); err != nil {
			b.deliveryOrder = previous
			return err
		}
		p.applyTerminal(b, &h, source)
		b.frameSize = frameSize
		b.markReceived(h.fragmentNo)
		b.store(h.fragmentNo, payload)
		return nil
	}

	if h.superFrameNo != b.savedSuperFrameNo {
		return fmt.Errorf("%w: superframe %d holds the bucket", ErrBufferOutOfResources, b.savedSuperFrameNo)
	}
	if h.ofFragmentNo != b.ofFragmentNo {
		p.release(b)
		return fmt.Errorf("%w: fragment %d of %d, bucket expects %d", ErrBufferOutOfBounds, h.fragmentNo, h.ofFragmentNo, b.ofFragmentNo)
	}
	if b.hasReceived(h.fragmentNo) {
		return ErrDuplicateFragment
	}
	if int(h.type1PacketSize) != b.fragmentSize {
		p.release(b)
		return fmt.Errorf("%w: terminal fragment declares %d byte fragments, bucket uses %d", ErrBufferOutOfBounds, h.type1PacketSize, b.fragmentSize)
	}

	// the bucket was sized before the terminal payload was known
	if frameSize > len(b.data) {
		old := b.data
		if err := p.allocate(b, frameSize); err != nil {
			return err
		}
		copy(b.data, old)
	}
	b.store(h.fragmentNo, payload)
	b.markReceived(h.fragmentNo)
	b.timeout = p.sched.bucketTimeout
	b.fragmentCounter++

	// only the terminal fragment is authoritative for the metadata
	p.applyTerminal(b, &h, source)
	b.frameSize = frameSize
	return nil
}

func (p *Protocol) applyTerminal(b *bucket, h *type2Header, source uint8) {
	b.haveTerminal = true
	b.pts = h.pts
	b.flags = h.flags
	b.stream = h.stream
	sc := p.streams.get(source, h.stream)
	sc.content = h.content
	sc.code = h.code
	b.content = sc.content
	b.code = sc.code
}

// allocate gives the bucket a buffer of size bytes, replacing any it had.
// On failure the bucket goes back to inactive.
func (p *Protocol) allocate(b *bucket, size int) error {
	if size > MaxFrameSize(p.config.MTU) || p.buffered-len(b.data)+size > p.config.MaxBufferedBytes {
		p.release(b)
		return fmt.Errorf("%w: %d bytes with %d buffered", ErrMemoryAllocation, size, p.buffered)
	}
	data := p.config.Allocate(size)
	if data == nil || len(data) < size {
		p.release(b)
		return fmt.Errorf("%w: %d bytes", ErrMemoryAllocation, size)
	}
	p.buffered += size - len(b.data)
	b.data = data[:size]
	return nil
}

// release returns the bucket to the ring and its buffer to the budget.
func (p *Protocol) release(b *bucket) {
	p.buffered -= len(b.data)
	b.release()
}
