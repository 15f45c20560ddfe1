package wire

import "fmt"

const (
	lengthTwoBytes   = 0x80
	lengthThreeBytes = 0x40

	// MaxLength is the largest value DecodeLength can produce (22 bits).
	MaxLength = 1<<22 - 1
)

// DecodeLength reads the variable-length integer used for string and
// collection prefixes:
//
//	0xxxxxxx                    0..127
//	10xxxxxx xxxxxxxx           14-bit value
//	11xxxxxx xxxxxxxx xxxxxxxx  22-bit value
func DecodeLength(c *Cursor) (int, error) {
	b0, err := c.ReadByte()
	if err != nil {
		return 0, err
	}
	if b0&lengthTwoBytes == 0 {
		return int(b0), nil
	}
	b1, err := c.ReadByte()
	if err != nil {
		return 0, err
	}
	if b0&lengthThreeBytes == 0 {
		return int(b0&0x3F)<<8 | int(b1), nil
	}
	b2, err := c.ReadByte()
	if err != nil {
		return 0, err
	}
	return int(b0&0x3F)<<16 | int(b1)<<8 | int(b2), nil
}

// AppendLength appends the shortest DecodeLength encoding of n.
func AppendLength(dst []byte, n int) ([]byte, error) {
	switch {
	case n < 0 || n > MaxLength:
		return dst, fmt.Errorf("length %d out of range", n)
	case n < 0x80:
		return append(dst, byte(n)), nil
	case n < 1<<14:
		return append(dst, lengthTwoBytes|byte(n>>8), byte(n)), nil
	default:
		return append(dst, lengthTwoBytes|lengthThreeBytes|byte(n>>16), byte(n>>8), byte(n)), nil
	}
}

// AppendString appends a length-prefixed string.
func AppendString(dst []byte, s string) ([]byte, error) {
	dst, err := AppendLength(dst, len(s))
	if err != nil {
		return dst, err
	}
	return append(dst, s...), nil
}
