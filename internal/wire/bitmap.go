package wire

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/valerka1292/tankidecode/internal/core"
)

const (
	bitmapOutOfLine   = 0x80
	bitmapLongLength  = 0x40
	bitmapInlineBytes = 0x60
	bitmapInlineShift = 3
)

// inlineSizes maps the number of extra inline bytes to the bitmap size in bits.
var inlineSizes = [4]int{5, 13, 21, 29}

// OptionalBitmap marks which optional fields of a payload were omitted.
// Bits are consumed MSB-first, one per optional field, in declaration order.
type OptionalBitmap struct {
	bits []byte
	size int
	pos  int
}

// NewOptionalBitmap builds a bitmap from explicit bit values.
func NewOptionalBitmap(values []bool) *OptionalBitmap {
	bits := make([]byte, (len(values)+7)/8)
	for i, v := range values {
		if v {
			bits[i>>3] |= 1 << ((7 ^ i) & 7)
		}
	}
	return &OptionalBitmap{bits: bits, size: len(values)}
}

// AllAbsent returns a bitmap of n set bits: every optional field omitted.
func AllAbsent(n int) *OptionalBitmap {
	values := make([]bool, n)
	for i := range values {
		values[i] = true
	}
	return NewOptionalBitmap(values)
}

// ReadOptionalBitmap parses the bitmap header at the cursor.
func ReadOptionalBitmap(c *Cursor) (*OptionalBitmap, error) {
	flag, err := c.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("optional bitmap flag: %w", err)
	}

	if flag&bitmapOutOfLine != 0 {
		length := int(flag & 0x3F)
		if flag&bitmapLongLength != 0 {
			b1, err := c.ReadByte()
			if err != nil {
				return nil, fmt.Errorf("optional bitmap length: %w", err)
			}
			b2, err := c.ReadByte()
			if err != nil {
				return nil, fmt.Errorf("optional bitmap length: %w", err)
			}
			length = length<<16 | int(b1)<<8 | int(b2)
		}
		bits, err := c.ReadBytes(length)
		if err != nil {
			return nil, fmt.Errorf("optional bitmap body: %w", err)
		}
		return &OptionalBitmap{bits: bits, size: length << 3}, nil
	}

	extra := int(flag&bitmapInlineBytes) >> 5
	raw, err := c.ReadBytes(extra)
	if err != nil {
		return nil, fmt.Errorf("optional bitmap inline bytes: %w", err)
	}
	bits := make([]byte, extra+1)
	bits[0] = flag << bitmapInlineShift
	for i, b := range raw {
		bits[i] |= b >> (8 - bitmapInlineShift)
		bits[i+1] = b << bitmapInlineShift
	}
	return &OptionalBitmap{bits: bits, size: inlineSizes[extra]}, nil
}

// ParseOptionalBitmapHex parses a bitmap header given on the command line,
// either as plain hex ("a0ff") or as a comma separated list ("0xa0,255").
func ParseOptionalBitmapHex(s string) (*OptionalBitmap, error) {
	s = strings.TrimSpace(s)
	var header []byte
	if strings.Contains(s, ",") {
		for _, part := range strings.Split(s, ",") {
			v, err := strconv.ParseUint(strings.TrimSpace(part), 0, 8)
			if err != nil {
				return nil, fmt.Errorf("bitmap byte %q: %w", part, err)
			}
			header = append(header, byte(v))
		}
	} else {
		var err error
		header, err = hex.DecodeString(strings.TrimPrefix(s, "0x"))
		if err != nil {
			return nil, fmt.Errorf("bitmap hex: %w", err)
		}
	}
	c := NewCursor(header)
	bm, err := ReadOptionalBitmap(c)
	if err != nil {
		return nil, err
	}
	if c.Remaining() != 0 {
		return nil, fmt.Errorf("bitmap header has %d trailing bytes", c.Remaining())
	}
	return bm, nil
}

// AppendOptionalBitmap appends the header encoding of values, inline when it fits.
func AppendOptionalBitmap(dst []byte, values []bool) []byte {
	if len(values) <= inlineSizes[3] {
		extra := 0
		for inlineSizes[extra] < len(values) {
			extra++
		}
		padded := make([]bool, inlineSizes[extra])
		copy(padded, values)
		flag := byte(extra) << 5
		for i := range 5 {
			if padded[i] {
				flag |= 1 << (4 - i)
			}
		}
		dst = append(dst, flag)
		for k := range extra {
			var b byte
			for i := range 8 {
				if padded[5+k*8+i] {
					b |= 1 << (7 - i)
				}
			}
			dst = append(dst, b)
		}
		return dst
	}

	body := NewOptionalBitmap(values).bits
	if n := len(body); n < 0x40 {
		dst = append(dst, bitmapOutOfLine|byte(n))
	} else {
		dst = append(dst, bitmapOutOfLine|bitmapLongLength|byte(n>>16&0x3F), byte(n>>8), byte(n))
	}
	return append(dst, body...)
}

// Next returns the bit at the current position and advances.
// A set bit means the optional field is absent.
func (m *OptionalBitmap) Next() (bool, error) {
	if m.pos >= m.size {
		return false, fmt.Errorf("bit %d of %d: %w", m.pos, m.size, core.ErrBitmapExhausted)
	}
	v := m.Bit(m.pos)
	m.pos++
	return v, nil
}

// Bit returns bit i without moving the position. Out of range bits read as false.
func (m *OptionalBitmap) Bit(i int) bool {
	if i < 0 || i>>3 >= len(m.bits) {
		return false
	}
	shift := (7 ^ i) & 7
	return m.bits[i>>3]&(1<<shift) != 0
}

// Size returns the declared number of bits.
func (m *OptionalBitmap) Size() int { return m.size }

// Position returns the number of bits consumed.
func (m *OptionalBitmap) Position() int { return m.pos }

func (m *OptionalBitmap) String() string {
	var sb strings.Builder
	for i := range m.size {
		if m.Bit(i) {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return fmt.Sprintf("OptionalMap[pos=%d,bits=%s,size=%d]", m.pos, sb.String(), m.size)
}
