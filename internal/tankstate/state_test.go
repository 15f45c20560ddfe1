package tankstate

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valerka1292/tankidecode/internal/core"
	"github.com/valerka1292/tankidecode/internal/wire"
)

func TestLayoutFillsRegion(t *testing.T) {
	require.Equal(t, RegionBits, layoutBits())
	require.Equal(t, 168, RegionBits)
}

func TestDecodeZeroRegion(t *testing.T) {
	s, err := Decode(make([]byte, RegionSize))
	require.NoError(t, err)

	assert.Equal(t, Vec3{-65536, -65536, -65536}, s.Position)
	assert.InDelta(t, -math.Pi, s.Orientation[0], 1e-12)
	assert.Equal(t, Vec3{-4096, -4096, -4096}, s.LinearVelocity)
	assert.InDelta(t, -20.48, s.AngularVelocity[2], 1e-9)
}

func TestDecodeCenteredRegion(t *testing.T) {
	// Every component holds exactly its bias: all values decode to zero.
	region := Encode(State{})
	s, err := Decode(region)
	require.NoError(t, err)
	assert.Equal(t, State{}, s)

	// First position component bias is bit 0 set, then 16 zero bits.
	assert.Equal(t, byte(0x80), region[0])
}

func TestDecodeWrongSize(t *testing.T) {
	_, err := Decode(make([]byte, RegionSize-1))
	require.ErrorIs(t, err, core.ErrStateRegion)
}

func TestRoundTripWithinOneStep(t *testing.T) {
	in := State{
		Position:        Vec3{1234.4, -5000.7, 42},
		Orientation:     Vec3{0.5, -1.25, 3.0},
		LinearVelocity:  Vec3{-12.2, 300.9, 0},
		AngularVelocity: Vec3{1.337, -0.01, 19.99},
	}

	out, err := Decode(Encode(in))
	require.NoError(t, err)

	steps := Step()
	want := [4]Vec3{in.Position, in.Orientation, in.LinearVelocity, in.AngularVelocity}
	got := [4]Vec3{out.Position, out.Orientation, out.LinearVelocity, out.AngularVelocity}
	for i := range want {
		for j := range want[i] {
			assert.InDelta(t, want[i][j], got[i][j], steps[i], "vector %d component %d", i, j)
		}
	}
}

func TestReadStateFromCursor(t *testing.T) {
	data := append(Encode(State{Position: Vec3{1, 2, 3}}), 0xAA)
	c := wire.NewCursor(data)

	s, err := ReadState(c)
	require.NoError(t, err)
	assert.Equal(t, Vec3{1, 2, 3}, s.Position)
	assert.Equal(t, 1, c.Remaining())

	_, err = ReadState(c)
	require.ErrorIs(t, err, core.ErrInsufficientData)
}
