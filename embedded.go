package efp

import (
	"fmt"
	"math"
)

// EmbeddedContent tags an item carried in front of a frame's own payload.
type EmbeddedContent uint8

const (
	EmbeddedIllegal EmbeddedContent = iota
	EmbeddedPrivateData
	EmbeddedH222PMT
	EmbeddedMP4FragBCDC

	embeddedLast    = 0x80
	embeddedTagMask = 0x7f

	EmbeddedHeaderSize = 3
)

func (c EmbeddedContent) valid() bool {
	return c > EmbeddedIllegal && c <= EmbeddedMP4FragBCDC
}

// EmbeddedItem is one item taken out of a frame by ExtractEmbeddedData.
// Data aliases the frame buffer.
type EmbeddedItem struct {
	Content EmbeddedContent
	Data    []byte
}

// AddEmbeddedData returns a new buffer with data prepended to packet behind
// an embedded header. Items are prepended, so the item closest to the frame
// payload is added first with isLast set.
func AddEmbeddedData(packet, data []byte, content EmbeddedContent, isLast bool) ([]byte, error) {
	if len(data) > math.MaxUint16 {
		return nil, ErrTooLargeEmbeddedData
	}
	if !content.valid() {
		return nil, fmt.Errorf("%w: tag %d", ErrIllegalEmbeddedData, content)
	}
	tag := uint8(content)
	if isLast {
		tag |= embeddedLast
	}
	b := newBuffer(EmbeddedHeaderSize + len(data) + len(packet))
	b.writeUint8(tag)
	b.writeUint16(uint16(len(data)))
	b.writeBytes(data)
	b.writeBytes(packet)
	return b.bytes(), nil
}

// ExtractEmbeddedData walks the embedded items at the start of packet up to
// and including the one marked last. It returns the items and the offset at
// which the frame's own payload starts.
func ExtractEmbeddedData(packet []byte) ([]EmbeddedItem, int, error) {
	var items []EmbeddedItem
	p := newBufferFromRef(packet)
	for {
		tag, err := p.getUint8()
		if err != nil {
			return items, p.pos, ErrFrameSizeMismatch
		}
		content := EmbeddedContent(tag & embeddedTagMask)
		if !content.valid() {
			return items, p.pos - 1, fmt.Errorf("%w: tag %d", ErrIllegalEmbeddedData, content)
		}
		size, err := p.getUint16()
		if err != nil {
			return items, p.pos, ErrFrameSizeMismatch
		}
		data, err := p.getBytes(int(size))
		if err != nil {
			return items, p.pos, fmt.Errorf("%w: embedded item of %d bytes, %d left", ErrFrameSizeMismatch, size, len(p.remaining()))
		}
		items = append(items, EmbeddedItem{Content: content, Data: data})
		if tag&embeddedLast != 0 {
			return items, p.pos, nil
		}
	}
}
