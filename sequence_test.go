package efp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecoverFirstValue(t *testing.T) {
	var s sequenceRecoverer
	assert.Equal(t, uint64(65000), s.recover(65000))
	assert.Equal(t, uint64(65001), s.recover(65001))
}

func TestRecoverWrap(t *testing.T) {
	var s sequenceRecoverer
	s.recover(65534)
	assert.Equal(t, uint64(65534+3), s.recover(1))
	// a reordered predecessor maps back before the wrap
	assert.Equal(t, uint64(65535), s.recover(65535))
	assert.Equal(t, uint64(65538), s.recover(2))
}

func TestRecoverMonotonic(t *testing.T) {
	var s sequenceRecoverer
	var raw uint16 = 60000
	prev := s.recover(raw)
	for i := 0; i < 300000; i++ {
		raw += uint16(1 + i%7)
		next := s.recover(raw)
		require.Greater(t, next, prev, "raw %d", raw)
		prev = next
	}
}

func TestRecoverReset(t *testing.T) {
	var s sequenceRecoverer
	s.recover(10)
	s.recover(20)
	s.reset()
	assert.Equal(t, uint64(5), s.recover(5))
}
