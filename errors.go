package efp

import "errors"

// Input validation
var (
	ErrFrameSizeMismatch    = errors.New("efp: fragment size mismatch")
	ErrUnknownFrameType     = errors.New("efp: unknown frame type")
	ErrEndOfPacket          = errors.New("efp: type 2 fragment is not the last fragment")
	ErrReservedPTS          = errors.New("efp: pts value is reserved")
	ErrReservedCode         = errors.New("efp: code value is reserved")
	ErrTooLargeFrame        = errors.New("efp: frame too large for mtu")
	ErrTooLargeEmbeddedData = errors.New("efp: embedded data larger than 65535 bytes")
	ErrIllegalEmbeddedData  = errors.New("efp: illegal embedded content")
)

// Reassembly integrity
var (
	ErrTooOldFragment       = errors.New("efp: fragment belongs to an already delivered superframe")
	ErrBufferOutOfResources = errors.New("efp: bucket in use by another superframe")
	ErrBufferOutOfBounds    = errors.New("efp: fragment outside bucket bounds")
	ErrDuplicateFragment    = errors.New("efp: duplicate fragment")
	ErrMemoryAllocation     = errors.New("efp: could not allocate bucket buffer")
)

// Lifecycle and configuration
var (
	ErrAlreadyStarted      = errors.New("efp: unpacker already started")
	ErrParameter           = errors.New("efp: invalid parameter")
	ErrFailedToStop        = errors.New("efp: unpacker did not stop in time")
	ErrInternalCalculation = errors.New("efp: internal calculation error")
	ErrMissingSender       = errors.New("efp: packer mode requires a sender")
	ErrMissingReceiver     = errors.New("efp: unpacker mode requires a receiver")
	ErrWrongMode           = errors.New("efp: operation not available in this mode")
)
