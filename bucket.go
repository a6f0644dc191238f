package efp

import (
	"math"
)

// bucket holds the reassembly state of one in-flight superframe.
type bucket struct {
	active            bool
	deliveryOrder     uint64
	savedSuperFrameNo uint16

	// ofFragmentNo is the index of the terminal fragment. fragmentCounter
	// counts fragments received after the first, so the two are equal once
	// the superframe is complete.
	ofFragmentNo    uint16
	fragmentCounter uint32
	received        []uint64

	fragmentSize int
	data         []byte
	frameSize    int
	haveTerminal bool

	pts     uint64
	code    uint32
	content ContentType
	stream  uint8
	flags   uint8
	timeout uint32
}

func (b *bucket) activate(deliveryOrder uint64, superFrameNo, ofFragmentNo uint16, timeout uint32) {
	b.active = true
	b.deliveryOrder = deliveryOrder
	b.savedSuperFrameNo = superFrameNo
	b.ofFragmentNo = ofFragmentNo
	b.fragmentCounter = 0
	b.timeout = timeout
	b.pts = PTSUnknown
	b.code = CodeUnknown
	b.content = ContentUnknown
	b.haveTerminal = false
	b.frameSize = 0
	b.data = nil

	words := (int(ofFragmentNo) + 1 + 63) / 64
	if cap(b.received) < words {
		b.received = make([]uint64, words)
	} else {
		b.received = b.received[:words]
		clear(b.received)
	}
}

// markReceived sets the receipt bit for fragment i and reports whether it
// was clear before.
func (b *bucket) markReceived(i uint16) bool {
	word, bit := i/64, uint64(1)<<(i%64)
	if b.received[word]&bit != 0 {
		return false
	}
	b.received[word] |= bit
	return true
}

func (b *bucket) hasReceived(i uint16) bool {
	return b.received[i/64]&(uint64(1)<<(i%64)) != 0
}

// store copies a fragment payload into place. The offset is computed from
// the bucket's own fragment size, never from anything on the wire.
func (b *bucket) store(fragmentNo uint16, payload []byte) bool {
	offset := b.fragmentSize * int(fragmentNo)
	if offset < 0 || offset+len(payload) > len(b.data) {
		return false
	}
	copy(b.data[offset:], payload)
	return true
}

func (b *bucket) complete() bool {
	return b.fragmentCounter == uint32(b.ofFragmentNo)
}

// payload is what gets delivered. Without the terminal fragment the real
// frame size is unknown and only the type 1 span is handed out.
func (b *bucket) payload() []byte {
	size := b.frameSize
	if !b.haveTerminal {
		size = b.fragmentSize * int(b.ofFragmentNo)
	}
	if size > len(b.data) {
		size = len(b.data)
	}
	return b.data[:size]
}

func (b *bucket) release() {
	b.active = false
	b.data = nil
}

// bucketStore is a fixed ring of buckets indexed by superframe number.
type bucketStore struct {
	buckets []bucket
	mask    uint16
}

func newBucketStore(numEntries int) *bucketStore {
	s := &bucketStore{
		buckets: make([]bucket, numEntries),
		mask:    uint16(numEntries - 1),
	}
	s.reset()
	return s
}

func (s *bucketStore) reset() {
	for i := range s.buckets {
		s.buckets[i] = bucket{deliveryOrder: math.MaxUint64}
	}
}

func (s *bucketStore) find(superFrameNo uint16) *bucket {
	return &s.buckets[superFrameNo&s.mask]
}

func (s *bucketStore) size() int {
	return len(s.buckets)
}
