// Package wire implements the low-level binary encodings of the protocol:
// the big-endian byte cursor, variable-length integers, the optional-field
// bitmap and length-prefixed frames.
package wire

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/valerka1292/tankidecode/internal/core"
)

// Cursor reads big-endian values from an immutable buffer.
// Every read past the end fails with core.ErrInsufficientData and leaves the
// position untouched.
type Cursor struct {
	data []byte
	pos  int
}

// NewCursor creates a Cursor positioned at the start of data.
func NewCursor(data []byte) *Cursor {
	return &Cursor{data: data}
}

func (c *Cursor) need(n int, op string) error {
	if n < 0 {
		return fmt.Errorf("%s: negative count %d: %w", op, n, core.ErrInsufficientData)
	}
	if c.pos+n > len(c.data) {
		return fmt.Errorf("%s: need %d bytes (pos=%d, len=%d): %w", op, n, c.pos, len(c.data), core.ErrInsufficientData)
	}
	return nil
}

// ReadByte reads one unsigned byte.
func (c *Cursor) ReadByte() (byte, error) {
	if err := c.need(1, "ReadByte"); err != nil {
		return 0, err
	}
	b := c.data[c.pos]
	c.pos++
	return b, nil
}

// ReadBool reads one byte; any non-zero value is true.
func (c *Cursor) ReadBool() (bool, error) {
	b, err := c.ReadByte()
	return b != 0, err
}

// ReadShort reads an int16.
func (c *Cursor) ReadShort() (int16, error) {
	if err := c.need(2, "ReadShort"); err != nil {
		return 0, err
	}
	v := int16(binary.BigEndian.Uint16(c.data[c.pos:]))
	c.pos += 2
	return v, nil
}

// ReadInt reads an int32.
func (c *Cursor) ReadInt() (int32, error) {
	if err := c.need(4, "ReadInt"); err != nil {
		return 0, err
	}
	v := int32(binary.BigEndian.Uint32(c.data[c.pos:]))
	c.pos += 4
	return v, nil
}

// ReadUint64 reads an unsigned 64-bit integer.
func (c *Cursor) ReadUint64() (uint64, error) {
	if err := c.need(8, "ReadUint64"); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(c.data[c.pos:])
	c.pos += 8
	return v, nil
}

// ReadLong reads an int64.
func (c *Cursor) ReadLong() (int64, error) {
	v, err := c.ReadUint64()
	return int64(v), err
}

// ReadFloat reads an IEEE 754 float32.
func (c *Cursor) ReadFloat() (float32, error) {
	if err := c.need(4, "ReadFloat"); err != nil {
		return 0, err
	}
	v := math.Float32frombits(binary.BigEndian.Uint32(c.data[c.pos:]))
	c.pos += 4
	return v, nil
}

// ReadDouble reads an IEEE 754 float64.
func (c *Cursor) ReadDouble() (float64, error) {
	v, err := c.ReadUint64()
	if err != nil {
		return 0, fmt.Errorf("ReadDouble: %w", err)
	}
	return math.Float64frombits(v), nil
}

// ReadBytes reads n bytes. The returned slice is a copy.
func (c *Cursor) ReadBytes(n int) ([]byte, error) {
	if err := c.need(n, "ReadBytes"); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, c.data[c.pos:c.pos+n])
	c.pos += n
	return out, nil
}

// ReadString reads a DecodeLength-prefixed UTF-8 string.
func (c *Cursor) ReadString() (string, error) {
	n, err := DecodeLength(c)
	if err != nil {
		return "", fmt.Errorf("ReadString: length: %w", err)
	}
	b, err := c.ReadBytes(n)
	if err != nil {
		return "", fmt.Errorf("ReadString: %w", err)
	}
	if !utf8.Valid(b) {
		return "", fmt.Errorf("ReadString: %d bytes at pos %d: %w", n, c.pos-n, core.ErrInvalidUTF8)
	}
	return string(b), nil
}

// ReadIntVector reads a DecodeLength-counted list of int32.
func (c *Cursor) ReadIntVector() ([]int32, error) {
	n, err := DecodeLength(c)
	if err != nil {
		return nil, err
	}
	out := make([]int32, 0, n)
	for range n {
		v, err := c.ReadInt()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// ReadLongVector reads a DecodeLength-counted list of int64.
func (c *Cursor) ReadLongVector() ([]int64, error) {
	n, err := DecodeLength(c)
	if err != nil {
		return nil, err
	}
	out := make([]int64, 0, n)
	for range n {
		v, err := c.ReadLong()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Remaining returns the number of unread bytes.
func (c *Cursor) Remaining() int {
	return len(c.data) - c.pos
}

// Position returns the current read offset.
func (c *Cursor) Position() int {
	return c.pos
}

// Rest returns the unread bytes without consuming them.
func (c *Cursor) Rest() []byte {
	return c.data[c.pos:]
}

// Consumed returns the bytes read so far.
func (c *Cursor) Consumed() []byte {
	return c.data[:c.pos]
}
