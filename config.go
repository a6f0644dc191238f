package efp

import (
	"fmt"
	"math"
	"math/bits"
	"time"

	"github.com/google/uuid"
)

// Mode selects which halves of the protocol an instance runs.
type Mode int

const (
	ModePacker Mode = iota
	ModeUnpacker
	ModeBoth
)

func (m Mode) String() string {
	switch m {
	case ModePacker:
		return "packer"
	case ModeUnpacker:
		return "unpacker"
	case ModeBoth:
		return "both"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseMode maps "packer", "unpacker" or "both" to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "packer":
		return ModePacker, nil
	case "unpacker":
		return ModeUnpacker, nil
	case "both", "":
		return ModeBoth, nil
	}
	return 0, fmt.Errorf("%w: unknown mode %q", ErrParameter, s)
}

func (m Mode) packs() bool   { return m == ModePacker || m == ModeBoth }
func (m Mode) unpacks() bool { return m == ModeUnpacker || m == ModeBoth }

const (
	MinMTU = math.MaxUint8
	MaxMTU = math.MaxUint16

	DefaultBucketCount = 1 << 13

	DefaultMaxBufferedBytes = 1 << 28
)

// Config holds protocol instance configuration data
type Config struct {
	Name string
	// MTU is the largest fragment Pack emits and the largest Unpack accepts,
	// so a receiver needs at least the MTU of its senders.
	MTU  int
	Mode Mode

	// BucketCount is the size of the reassembly ring. Must be a power of two.
	BucketCount int
	// BucketTimeout and HOLTimeout are counted in worker ticks.
	BucketTimeout uint32
	HOLTimeout    uint32
	TickInterval  time.Duration

	// StopPolls bounds how many times Stop checks for the worker to exit.
	StopPolls        int
	StopPollInterval time.Duration

	// Sender is called by Pack once per wire fragment
	Sender Sender
	// Receiver is called by the worker once per delivered frame
	Receiver Receiver
	// Allocate can be used to implement custom memory allocation for bucket buffers.
	// Returning nil signals allocation failure.
	Allocate func(int) []byte
	// MaxBufferedBytes bounds the sum of all bucket buffers. Buckets that
	// would exceed it fail with ErrMemoryAllocation.
	MaxBufferedBytes int
}

// NewDefaultConfig creates a typical configuration for a bidirectional instance
func NewDefaultConfig() *Config {
	return &Config{
		Name:             uuid.NewString(),
		MTU:              1456,
		Mode:             ModeBoth,
		BucketCount:      DefaultBucketCount,
		BucketTimeout:    50,
		HOLTimeout:       20,
		TickInterval:     10 * time.Millisecond,
		StopPolls:        1000,
		StopPollInterval: time.Millisecond,
		MaxBufferedBytes: DefaultMaxBufferedBytes,
	}
}

// normalize clamps the MTU and fills zero values. It mirrors the forgiving
// behaviour of the wire format: a bad MTU is corrected, not refused.
func (c *Config) normalize() {
	if c.Name == "" {
		c.Name = uuid.NewString()
	}
	switch {
	case c.MTU > MaxMTU:
		log.Warningf("[%s] mtu %d larger than %d, clamping", c.Name, c.MTU, MaxMTU)
		c.MTU = MaxMTU
	case c.MTU < MinMTU && c.Mode != ModeUnpacker:
		log.Warningf("[%s] mtu %d lower than %d, clamping", c.Name, c.MTU, MinMTU)
		c.MTU = MinMTU
	}
	if c.BucketCount == 0 {
		c.BucketCount = DefaultBucketCount
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 10 * time.Millisecond
	}
	if c.StopPolls <= 0 {
		c.StopPolls = 1000
	}
	if c.StopPollInterval <= 0 {
		c.StopPollInterval = time.Millisecond
	}
	if c.Allocate == nil {
		c.Allocate = defaultAllocate
	}
	if c.MaxBufferedBytes <= 0 {
		c.MaxBufferedBytes = DefaultMaxBufferedBytes
	}
}

func (c *Config) validate() error {
	if c.Mode < ModePacker || c.Mode > ModeBoth {
		return fmt.Errorf("%w: mode %d", ErrParameter, c.Mode)
	}
	if c.BucketCount <= 0 || bits.OnesCount(uint(c.BucketCount)) != 1 || c.BucketCount > 1<<16 {
		return fmt.Errorf("%w: bucket count %d must be a power of two no larger than 65536", ErrParameter, c.BucketCount)
	}
	if c.Mode.packs() && c.Sender == nil {
		return ErrMissingSender
	}
	if c.Mode.unpacks() && c.Receiver == nil {
		return ErrMissingReceiver
	}
	if c.Mode.unpacks() && c.MTU <= Type2HeaderSize {
		return fmt.Errorf("%w: mtu %d can not carry a terminal fragment", ErrParameter, c.MTU)
	}
	return nil
}

func defaultAllocate(size int) []byte {
	if size < 0 {
		return nil
	}
	return make([]byte, size)
}
