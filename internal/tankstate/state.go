// Package tankstate decodes the bit-packed physics state sent for frequently
// updated objects.
package tankstate

import (
	"fmt"
	"math"

	"github.com/valerka1292/tankidecode/internal/core"
	"github.com/valerka1292/tankidecode/internal/wire"
)

// RegionSize is the size in bytes of one packed state.
const RegionSize = 21

// RegionBits is the number of bits every layout must consume exactly.
const RegionBits = RegionSize * 8

// Component widths and scales.
const (
	PositionBits        = 17
	OrientationBits     = 13
	LinearVelocityBits  = 13
	AngularVelocityBits = 13

	PositionScale        = 1.0
	OrientationScale     = math.Pi / 4096
	LinearVelocityScale  = 1.0
	AngularVelocityScale = 0.005
)

// Vec3 is an x, y, z triple.
type Vec3 [3]float64

// State is one decoded physics state.
type State struct {
	Position        Vec3
	Orientation     Vec3
	LinearVelocity  Vec3
	AngularVelocity Vec3
}

type quantizer struct {
	bits  int
	scale float64
}

// layout lists the vectors in wire order.
var layout = [4]quantizer{
	{PositionBits, PositionScale},
	{OrientationBits, OrientationScale},
	{LinearVelocityBits, LinearVelocityScale},
	{AngularVelocityBits, AngularVelocityScale},
}

func layoutBits() int {
	n := 0
	for _, q := range layout {
		n += 3 * q.bits
	}
	return n
}

func (s *State) vectors() [4]*Vec3 {
	return [4]*Vec3{&s.Position, &s.Orientation, &s.LinearVelocity, &s.AngularVelocity}
}

// Decode unpacks a RegionSize-byte region.
func Decode(region []byte) (State, error) {
	var s State
	if len(region) != RegionSize {
		return s, fmt.Errorf("region of %d bytes, want %d: %w", len(region), RegionSize, core.ErrStateRegion)
	}
	if n := layoutBits(); n != RegionBits {
		return s, fmt.Errorf("layout uses %d bits, region has %d: %w", n, RegionBits, core.ErrStateRegion)
	}

	r := bitReader{data: region}
	for i, v := range s.vectors() {
		q := layout[i]
		bias := uint32(1) << (q.bits - 1)
		for j := range v {
			raw := r.read(q.bits)
			v[j] = float64(int64(raw)-int64(bias)) * q.scale
		}
	}
	if r.pos != RegionBits {
		return s, fmt.Errorf("consumed %d bits, want %d: %w", r.pos, RegionBits, core.ErrStateRegion)
	}
	return s, nil
}

// ReadState reads and decodes one region from the cursor.
func ReadState(c *wire.Cursor) (State, error) {
	region, err := c.ReadBytes(RegionSize)
	if err != nil {
		return State{}, fmt.Errorf("state region: %w", err)
	}
	return Decode(region)
}

// Encode packs s into a region. Components are rounded to the nearest step
// and clamped to the representable range.
func Encode(s State) []byte {
	w := bitWriter{data: make([]byte, RegionSize)}
	for i, v := range s.vectors() {
		q := layout[i]
		bias := int64(1) << (q.bits - 1)
		limit := int64(1)<<q.bits - 1
		for _, x := range v {
			raw := int64(math.Round(x/q.scale)) + bias
			raw = max(0, min(raw, limit))
			w.write(uint32(raw), q.bits)
		}
	}
	return w.data
}

// Step returns the quantization step of each vector in wire order.
func Step() [4]float64 {
	var out [4]float64
	for i, q := range layout {
		out[i] = q.scale
	}
	return out
}

type bitReader struct {
	data []byte
	pos  int
}

func (r *bitReader) bit() bool {
	shift := (7 ^ r.pos) & 7
	v := r.data[r.pos>>3]&(1<<shift) != 0
	r.pos++
	return v
}

func (r *bitReader) read(bits int) uint32 {
	var v uint32
	for i := bits - 1; i >= 0; i-- {
		if r.bit() {
			v |= 1 << i
		}
	}
	return v
}

type bitWriter struct {
	data []byte
	pos  int
}

func (w *bitWriter) write(v uint32, bits int) {
	for i := bits - 1; i >= 0; i-- {
		if v&(1<<i) != 0 {
			w.data[w.pos>>3] |= 1 << ((7 ^ w.pos) & 7)
		}
		w.pos++
	}
}
