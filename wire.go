package efp

import (
	"fmt"
	"math"
)

// ContentType describes what a superframe carries.
type ContentType uint8

const (
	ContentUnknown ContentType = iota
	ContentPrivateData
	ContentADTS
	ContentMPEGTS
	ContentWebVTT
	ContentH264
	ContentH265
)

func (c ContentType) String() string {
	switch c {
	case ContentUnknown:
		return "unknown"
	case ContentPrivateData:
		return "private"
	case ContentADTS:
		return "adts"
	case ContentMPEGTS:
		return "mpegts"
	case ContentWebVTT:
		return "webvtt"
	case ContentH264:
		return "h264"
	case ContentH265:
		return "h265"
	}
	return fmt.Sprintf("content(%d)", uint8(c))
}

// ParseContentType is the inverse of ContentType.String for the named types.
func ParseContentType(s string) (ContentType, error) {
	for c := ContentUnknown; c <= ContentH265; c++ {
		if c.String() == s {
			return c, nil
		}
	}
	return ContentUnknown, fmt.Errorf("%w: unknown content type %q", ErrParameter, s)
}

const (
	// PTSUnknown and CodeUnknown mark metadata that has not arrived yet.
	// They can not be used as Pack input.
	PTSUnknown  uint64 = math.MaxUint64
	CodeUnknown uint32 = math.MaxUint32
)

const (
	frameType0 = 0
	frameType1 = 1
	frameType2 = 2

	frameTypeMask = 0x0f
	flagsMask     = 0xf0
)

const (
	Type1HeaderSize = 8
	Type2HeaderSize = 25
)

// type1Header precedes every non terminal fragment.
type type1Header struct {
	flags        uint8
	stream       uint8
	superFrameNo uint16
	fragmentNo   uint16
	ofFragmentNo uint16
}

func (h *type1Header) encode(p *buffer) {
	p.writeUint8(frameType1 | h.flags&flagsMask)
	p.writeUint8(h.stream)
	p.writeUint16(h.superFrameNo)
	p.writeUint16(h.fragmentNo)
	p.writeUint16(h.ofFragmentNo)
}

func decodeType1(packetData []byte) (type1Header, error) {
	var h type1Header
	if len(packetData) < Type1HeaderSize {
		return h, ErrFrameSizeMismatch
	}
	p := newBufferFromRef(packetData)
	prefix, _ := p.getUint8()
	h.flags = prefix & flagsMask
	h.stream, _ = p.getUint8()
	h.superFrameNo, _ = p.getUint16()
	h.fragmentNo, _ = p.getUint16()
	h.ofFragmentNo, _ = p.getUint16()
	return h, nil
}

// type2Header precedes the terminal fragment of a superframe and carries
// everything the receiver needs to finish it.
type type2Header struct {
	type1Header
	content         ContentType
	code            uint32
	pts             uint64
	sizeOfData      uint16
	type1PacketSize uint16
}

func (h *type2Header) encode(p *buffer) {
	p.writeUint8(frameType2 | h.flags&flagsMask)
	p.writeUint8(h.stream)
	p.writeUint16(h.superFrameNo)
	p.writeUint16(h.fragmentNo)
	p.writeUint16(h.ofFragmentNo)
	p.writeUint8(uint8(h.content))
	p.writeUint32(h.code)
	p.writeUint64(h.pts)
	p.writeUint16(h.sizeOfData)
	p.writeUint16(h.type1PacketSize)
}

func decodeType2(packetData []byte) (type2Header, error) {
	var h type2Header
	if len(packetData) < Type2HeaderSize {
		return h, ErrFrameSizeMismatch
	}
	p := newBufferFromRef(packetData)
	prefix, _ := p.getUint8()
	h.flags = prefix & flagsMask
	h.stream, _ = p.getUint8()
	h.superFrameNo, _ = p.getUint16()
	h.fragmentNo, _ = p.getUint16()
	h.ofFragmentNo, _ = p.getUint16()
	content, _ := p.getUint8()
	h.content = ContentType(content)
	h.code, _ = p.getUint32()
	h.pts, _ = p.getUint64()
	h.sizeOfData, _ = p.getUint16()
	h.type1PacketSize, _ = p.getUint16()
	if int(h.sizeOfData) != len(packetData)-Type2HeaderSize {
		return h, ErrFrameSizeMismatch
	}
	return h, nil
}
