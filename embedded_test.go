package efp

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedRoundTrip(t *testing.T) {
	frame := []byte("frame payload")

	packet, err := AddEmbeddedData(frame, []byte("pmt"), EmbeddedH222PMT, true)
	require.NoError(t, err)
	packet, err = AddEmbeddedData(packet, []byte("private"), EmbeddedPrivateData, false)
	require.NoError(t, err)
	require.Len(t, packet, len(frame)+2*EmbeddedHeaderSize+len("pmt")+len("private"))

	items, offset, err := ExtractEmbeddedData(packet)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, EmbeddedPrivateData, items[0].Content)
	assert.Equal(t, []byte("private"), items[0].Data)
	assert.Equal(t, EmbeddedH222PMT, items[1].Content)
	assert.Equal(t, []byte("pmt"), items[1].Data)
	assert.Equal(t, frame, packet[offset:])
}

func TestEmbeddedEmptyItem(t *testing.T) {
	packet, err := AddEmbeddedData(nil, nil, EmbeddedMP4FragBCDC, true)
	require.NoError(t, err)
	assert.Equal(t, []byte{byte(EmbeddedMP4FragBCDC) | 0x80, 0, 0}, packet)

	items, offset, err := ExtractEmbeddedData(packet)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Empty(t, items[0].Data)
	assert.Equal(t, EmbeddedHeaderSize, offset)
}

func TestEmbeddedLargest(t *testing.T) {
	data := bytes.Repeat([]byte{0xaa}, 0xffff)
	packet, err := AddEmbeddedData([]byte{1}, data, EmbeddedPrivateData, true)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x81, 0xff, 0xff}, packet[:3])

	_, err = AddEmbeddedData(nil, append(data, 0), EmbeddedPrivateData, true)
	require.ErrorIs(t, err, ErrTooLargeEmbeddedData)
}

func TestEmbeddedIllegal(t *testing.T) {
	_, err := AddEmbeddedData(nil, []byte{1}, EmbeddedIllegal, true)
	require.ErrorIs(t, err, ErrIllegalEmbeddedData)
	_, err = AddEmbeddedData(nil, []byte{1}, EmbeddedContent(4), true)
	require.ErrorIs(t, err, ErrIllegalEmbeddedData)

	_, _, err = ExtractEmbeddedData([]byte{0x80, 0, 0})
	require.ErrorIs(t, err, ErrIllegalEmbeddedData)
	_, _, err = ExtractEmbeddedData([]byte{0x7f, 0, 0})
	require.ErrorIs(t, err, ErrIllegalEmbeddedData)
}

func TestEmbeddedTruncated(t *testing.T) {
	packet, err := AddEmbeddedData(nil, []byte("abcdef"), EmbeddedPrivateData, true)
	require.NoError(t, err)

	for _, n := range []int{0, 1, 2, 5} {
		_, _, err := ExtractEmbeddedData(packet[:n])
		require.ErrorIs(t, err, ErrFrameSizeMismatch, "length %d", n)
	}

	// no item is marked last
	chained, err := AddEmbeddedData(nil, []byte("x"), EmbeddedPrivateData, false)
	require.NoError(t, err)
	items, _, err := ExtractEmbeddedData(chained)
	require.ErrorIs(t, err, ErrFrameSizeMismatch)
	assert.Len(t, items, 1)
}
