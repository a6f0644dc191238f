package efp

import (
	"fmt"
	"math"
)

// MaxFrameSize is the largest payload Pack accepts for the given MTU: every
// fragment index but the last carries a full type 1 payload, the last one
// a type 2 payload.
func MaxFrameSize(mtu int) int {
	return (mtu-Type1HeaderSize)*(math.MaxUint16-1) + (mtu - Type2HeaderSize)
}

// Pack fragments data and hands every fragment to the configured Sender.
// Only the high nibble of flags is transmitted.
func (p *Protocol) Pack(data []byte, content ContentType, pts uint64, code uint32, stream, flags uint8) error {
	if !p.config.Mode.packs() {
		return ErrWrongMode
	}
	if pts == PTSUnknown {
		return ErrReservedPTS
	}
	if code == CodeUnknown {
		return ErrReservedCode
	}
	flags &= flagsMask

	mtu := p.config.MTU
	if len(data) > MaxFrameSize(mtu) {
		return fmt.Errorf("%w: %d bytes, mtu %d allows %d", ErrTooLargeFrame, len(data), mtu, MaxFrameSize(mtu))
	}

	p.packMu.Lock()
	defer p.packMu.Unlock()

	terminal := type2Header{
		type1Header: type1Header{
			flags:        flags,
			stream:       stream,
			superFrameNo: p.superFrameNo,
		},
		content: content,
		code:    code,
		pts:     pts,
	}

	if len(data)+Type2HeaderSize <= mtu {
		log.Debugf("[%s] sending superframe %d as a single fragment", p.config.Name, p.superFrameNo)
		terminal.sizeOfData = uint16(len(data))
		p.send(&terminal, data)
		p.superFrameNo++
		p.inc(CounterNumFramesPacked)
		return nil
	}

	fragmentSize, ofFragmentNo, err := splitFrame(len(data), mtu)
	if err != nil {
		return err
	}
	log.Debugf("[%s] sending superframe %d as %d fragments of %d bytes", p.config.Name, p.superFrameNo, ofFragmentNo+1, fragmentSize)

	h := terminal.type1Header
	h.ofFragmentNo = uint16(ofFragmentNo)
	q := newBufferFromRef(data)
	packet := newBuffer(Type1HeaderSize + fragmentSize)

	// write each type 1 fragment with header and data
	for fragmentNo := 0; fragmentNo < ofFragmentNo; fragmentNo++ {
		h.fragmentNo = uint16(fragmentNo)
		chunk, err := q.getBytes(fragmentSize)
		if err != nil {
			return fmt.Errorf("%w: fragment %d of %d: %v", ErrInternalCalculation, fragmentNo, ofFragmentNo, err)
		}
		packet.reset()
		h.encode(packet)
		packet.writeBytes(chunk)
		p.config.Sender.Send(packet.bytes())
		p.inc(CounterNumFragmentsSent)
	}

	rest := q.remaining()
	if len(rest)+Type2HeaderSize > mtu {
		log.Errorf("[%s] calculation bug, %d bytes left for the terminal fragment of a %d byte frame", p.config.Name, len(rest), len(data))
		return ErrInternalCalculation
	}
	terminal.type1Header = h
	terminal.fragmentNo = uint16(ofFragmentNo)
	terminal.sizeOfData = uint16(len(rest))
	terminal.type1PacketSize = uint16(fragmentSize)
	p.send(&terminal, rest)
	p.superFrameNo++
	p.inc(CounterNumFramesPacked)
	return nil
}

func (p *Protocol) send(h *type2Header, payload []byte) {
	packet := newBuffer(Type2HeaderSize + len(payload))
	h.encode(packet)
	packet.writeBytes(payload)
	p.config.Sender.Send(packet.bytes())
	p.inc(CounterNumFragmentsSent)
}

// splitFrame decides the type 1 payload size and the terminal fragment index
// for a frame that does not fit a single fragment. Normally every type 1
// fragment is a full MTU. When the frame ends just short of a multiple of
// the type 1 payload there is no full-size split that leaves a terminal
// small enough, so a smaller uniform size is used instead.
func splitFrame(size, mtu int) (fragmentSize, ofFragmentNo int, err error) {
	full := mtu - Type1HeaderSize
	maxTerminal := mtu - Type2HeaderSize
	headerDelta := Type2HeaderSize - Type1HeaderSize

	ofFragmentNo = (size+headerDelta+full-1)/full - 1
	if ofFragmentNo*full <= size {
		return full, ofFragmentNo, nil
	}

	for k := ofFragmentNo; k <= math.MaxUint16; k++ {
		hi := size / k
		if hi > full {
			hi = full
		}
		lo := (size - maxTerminal + k - 1) / k
		if lo < 1 {
			lo = 1
		}
		if lo <= hi {
			return hi, k, nil
		}
	}
	return 0, 0, fmt.Errorf("%w: no fragmentation for %d bytes at mtu %d", ErrInternalCalculation, size, mtu)
}
