package efp

import (
	"io"
)

// buffer is a helper struct for serializing and deserializing as the caller
// does not need to externally manage where in the buffer they are currently reading or writing to.
// All integers are little endian.
type buffer struct {
	buf []byte
	pos int
}

func newBuffer(size int) *buffer {
	b := &buffer{}
	b.buf = make([]byte, size)
	return b
}

func newBufferFromRef(buf []byte) *buffer {
	b := &buffer{}
	b.buf = buf
	b.pos = 0
	return b
}

func (b *buffer) bytes() []byte {
	return b.buf[:b.pos]
}

func (b *buffer) remaining() []byte {
	return b.buf[b.pos:]
}

func (b *buffer) reset() *buffer {
	b.pos = 0
	return b
}

func (b *buffer) getBytes(length int) ([]byte, error) {
	if length < 0 || b.pos+length > len(b.buf) {
		return nil, io.ErrUnexpectedEOF
	}
	value := b.buf[b.pos : b.pos+length]
	b.pos += length
	return value, nil
}

func (b *buffer) getUint8() (uint8, error) {
	buf, err := b.getBytes(sizeUint8)
	if err != nil {
		return 0, err
	}
	return buf[0], nil
}

func (b *buffer) getUint16() (uint16, error) {
	buf, err := b.getBytes(sizeUint16)
	if err != nil {
		return 0, err
	}
	return uint16(buf[0]) | uint16(buf[1])<<8, nil
}

func (b *buffer) getUint32() (uint32, error) {
	buf, err := b.getBytes(sizeUint32)
	if err != nil {
		return 0, err
	}
	var n uint32
	for i := sizeUint32 - 1; i >= 0; i-- {
		n = n<<8 | uint32(buf[i])
	}
	return n, nil
}

func (b *buffer) getUint64() (uint64, error) {
	buf, err := b.getBytes(sizeUint64)
	if err != nil {
		return 0, err
	}
	var n uint64
	for i := sizeUint64 - 1; i >= 0; i-- {
		n = n<<8 | uint64(buf[i])
	}
	return n, nil
}

func (b *buffer) writeBytes(src []byte) {
	b.pos += copy(b.buf[b.pos:], src)
}

func (b *buffer) writeUint8(n uint8) {
	b.buf[b.pos] = n
	b.pos++
}

func (b *buffer) writeUint16(n uint16) {
	b.buf[b.pos] = byte(n)
	b.buf[b.pos+1] = byte(n >> 8)
	b.pos += sizeUint16
}

func (b *buffer) writeUint32(n uint32) {
	for i := 0; i < sizeUint32; i++ {
		b.buf[b.pos+i] = byte(n >> (8 * i))
	}
	b.pos += sizeUint32
}

func (b *buffer) writeUint64(n uint64) {
	for i := 0; i < sizeUint64; i++ {
		b.buf[b.pos+i] = byte(n >> (8 * i))
	}
	b.pos += sizeUint64
}

const (
	sizeUint8  = 1
	sizeUint16 = 2
	sizeUint32 = 4
	sizeUint64 = 8
)
