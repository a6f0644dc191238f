package efp

import (
	"errors"
	"testing"
)

var unpackErrors = []error{
	ErrFrameSizeMismatch,
	ErrUnknownFrameType,
	ErrEndOfPacket,
	ErrTooOldFragment,
	ErrBufferOutOfResources,
	ErrBufferOutOfBounds,
	ErrDuplicateFragment,
	ErrMemoryAllocation,
}

func FuzzUnpack(f *testing.F) {
	ctx := &testContext{}
	config := NewDefaultConfig()
	config.MTU = 300
	config.Mode = ModePacker
	config.Sender = ctx
	seeder, err := New(config)
	if err != nil {
		f.Fatal(err)
	}
	for _, size := range []int{1, 275, 276, 1000, 2*292 - 1} {
		if err := seeder.Pack(testPayload(size, int64(size)), ContentH264, 1, 1, 0, 0); err != nil {
			f.Fatal(err)
		}
	}
	fragments := ctx.takeFragments()
	for i, fragment := range fragments {
		f.Add(fragment, fragments[(i+1)%len(fragments)])
	}

	f.Fuzz(func(t *testing.T, first, second []byte) {
		p, _ := newTestProtocol(t, 300, func(c *Config) {
			c.BucketCount = 16
			c.MaxBufferedBytes = 1 << 22
		})
		arm(p, 2, 1)
		for _, fragment := range [][]byte{first, second, first} {
			if err := p.Unpack(fragment, 0); err != nil && !isOneOf(err, unpackErrors) {
				t.Fatalf("unexpected error %v", err)
			}
		}
		sweeps(p, 4)
		if p.ActiveBuckets() == 0 && p.buffered != 0 {
			t.Fatalf("%d bytes buffered with no active bucket", p.buffered)
		}
	})
}

func FuzzExtractEmbeddedData(f *testing.F) {
	packet, _ := AddEmbeddedData([]byte("payload"), []byte("pmt"), EmbeddedH222PMT, true)
	f.Add(packet)
	f.Add([]byte{0x81, 0xff, 0xff})

	f.Fuzz(func(t *testing.T, packet []byte) {
		items, offset, err := ExtractEmbeddedData(packet)
		if err != nil {
			if !isOneOf(err, []error{ErrFrameSizeMismatch, ErrIllegalEmbeddedData}) {
				t.Fatalf("unexpected error %v", err)
			}
			return
		}
		if offset > len(packet) {
			t.Fatalf("offset %d past %d byte packet", offset, len(packet))
		}
		size := 0
		for _, item := range items {
			size += EmbeddedHeaderSize + len(item.Data)
		}
		if size != offset {
			t.Fatalf("items cover %d bytes, offset is %d", size, offset)
		}
	})
}

func isOneOf(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
