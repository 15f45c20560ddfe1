package model

import (
	"encoding/binary"
	"math"
)

// payload builds big-endian test payloads.
type payload []byte

func (p payload) u8(b byte) payload { return append(p, b) }
func (p payload) short(v int16) payload { return binary.BigEndian.AppendUint16(p, uint16(v)) }
func (p payload) i32(v int32) payload { return binary.BigEndian.AppendUint32(p, uint32(v)) }
func (p payload) long(v int64) payload { return binary.BigEndian.AppendUint64(p, uint64(v)) }
func (p payload) f32(v float32) payload { return binary.BigEndian.AppendUint32(p, math.Float32bits(v)) }
func (p payload) str(s string) payload { return append(append(p, byte(len(s))), s...) }
func (p payload) raw(b ...byte) payload { return append(p, b...) }
func (p payload) flag(v bool) payload {
	if v {
		return append(p, 1)
	}
	return append(p, 0)
}
