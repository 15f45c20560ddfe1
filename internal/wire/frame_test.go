package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valerka1292/tankidecode/internal/core"
)

func TestUnwrapFrameSmall(t *testing.T) {
	buf := []byte{0x00, 0x03, 'a', 'b', 'c', 0xFF}
	payload, consumed, err := UnwrapFrame(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), payload)
	assert.Equal(t, 5, consumed)
}

func TestUnwrapFrameBig(t *testing.T) {
	body := bytes.Repeat([]byte{0x5A}, 300)
	buf := append([]byte{0x80, 0x00, 0x01, 0x2C}, body...)
	payload, consumed, err := UnwrapFrame(buf)
	require.NoError(t, err)
	assert.Equal(t, body, payload)
	assert.Equal(t, len(buf), consumed)
}

func TestUnwrapFrameBigIgnoresCompressedBit(t *testing.T) {
	buf := []byte{0xC0, 0x00, 0x00, 0x02, 'o', 'k'}
	_, _, err := UnwrapFrame(buf)
	// 0xC0 has bit 7 set: the length is (0x40<<24)|2, far beyond the buffer.
	require.ErrorIs(t, err, core.ErrIncompleteFrame)
}

func TestUnwrapFrameIncomplete(t *testing.T) {
	tests := []struct {
		name string
		buf  []byte
	}{
		{"empty", nil},
		{"one byte", []byte{0x00}},
		{"big header short", []byte{0x80, 0x00, 0x00}},
		{"small body short", []byte{0x00, 0x05, 'a', 'b'}},
		{"big body short", []byte{0x80, 0x00, 0x00, 0x03, 'a'}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, consumed, err := UnwrapFrame(tt.buf)
			require.ErrorIs(t, err, core.ErrIncompleteFrame)
			assert.Nil(t, payload)
			assert.Zero(t, consumed)
		})
	}
}

func TestUnwrapFrameCompressed(t *testing.T) {
	tests := []struct {
		name string
		body []byte
	}{
		{"fixed huffman", []byte{0xCB, 0x48, 0xCD, 0xC9, 0xC9, 0x07, 0x00}},
		{"stored block", []byte{0x01, 0x05, 0x00, 0xFA, 0xFF, 'h', 'e', 'l', 'l', 'o'}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := append([]byte{0x40, byte(len(tt.body))}, tt.body...)
			payload, consumed, err := UnwrapFrame(buf)
			require.NoError(t, err)
			assert.Equal(t, []byte("hello"), payload)
			assert.Equal(t, len(buf), consumed)
		})
	}
}

func TestUnwrapFrameCorruptDeflate(t *testing.T) {
	buf := []byte{0x40, 0x03, 0xFF, 0xFF, 0xFF}
	_, consumed, err := UnwrapFrame(buf)
	require.ErrorIs(t, err, core.ErrDecompress)
	assert.Equal(t, 5, consumed)
}

func TestAppendFrameRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("tank"), 2000)
	for _, compress := range []bool{false, true} {
		buf, err := AppendFrame(nil, payload, compress)
		require.NoError(t, err)

		got, consumed, err := UnwrapFrame(buf)
		require.NoError(t, err)
		assert.Equal(t, payload, got)
		assert.Equal(t, len(buf), consumed)
	}
}
