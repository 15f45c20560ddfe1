package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valerka1292/tankidecode/internal/core"
	"github.com/valerka1292/tankidecode/internal/wire"
)

func TestDependenciesCodec(t *testing.T) {
	p := payload{}.
		i32(5).
		i32(1).long(10).i32(2).long(100).long(200).
		i32(1).long(7).short(3).long(1).flag(true).u8(2).long(8).long(9)

	c := wire.NewCursor(p)
	obj, err := NewRegistry().Decode(c, nil, DependenciesModelID)
	require.NoError(t, err)
	assert.Equal(t, 0, c.Remaining())
	assert.Equal(t, "ObjectsDependenciesCodec", obj.Codec())

	v, _ := obj.Get("callback_id")
	assert.Equal(t, int32(5), v)

	v, _ = obj.Get("game_classes")
	classes := v.([]any)
	require.Len(t, classes, 1)
	class := classes[0].(*Object)
	v, _ = class.Get("class_id")
	assert.Equal(t, int64(10), v)
	v, _ = class.Get("models")
	assert.Equal(t, []int64{100, 200}, v)

	v, _ = obj.Get("resources")
	resources := v.([]any)
	require.Len(t, resources, 1)
	res := resources[0].(*Object)
	assert.Equal(t, []string{"codec", "id", "type", "version", "lazy", "dependencies"}, res.Keys())
	v, _ = res.Get("type")
	assert.Equal(t, int16(3), v)
	v, _ = res.Get("lazy")
	assert.Equal(t, true, v)
	v, _ = res.Get("dependencies")
	assert.Equal(t, []int64{8, 9}, v)
}

func TestDependenciesCodecNegativeCount(t *testing.T) {
	p := payload{}.i32(0).i32(-1)
	_, err := NewRegistry().Decode(wire.NewCursor(p), nil, DependenciesModelID)
	require.ErrorIs(t, err, core.ErrFieldDecode)
	assert.Contains(t, err.Error(), "game_classes")
}

func TestDataCodec(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(500, NewCodecFunc("XCC", func(d *Decoder) (*Object, error) {
		o := NewObject("XCC")
		x, err := d.Cursor.ReadInt()
		if err != nil {
			return nil, err
		}
		o.Set("x", x)
		return o, nil
	})))

	p := payload{}.
		i32(1).long(1).long(10).
		i32(2).long(NoModel).long(99).long(500).i32(-4)

	c := wire.NewCursor(p)
	obj, err := r.Decode(c, nil, DataModelID)
	require.NoError(t, err)
	assert.Equal(t, 0, c.Remaining())

	v, _ := obj.Get("objects")
	objects := v.([]any)
	require.Len(t, objects, 1)
	v, _ = objects[0].(*Object).Get("class_id")
	assert.Equal(t, int64(10), v)

	v, _ = obj.Get("models")
	models := v.([]any)
	require.Len(t, models, 2)

	v, _ = models[0].(*Object).Get("data")
	assert.Equal(t, int64(99), v)

	v, _ = models[1].(*Object).Get("data")
	nested := v.(*Object)
	assert.Equal(t, "XCC", nested.Codec())
	v, _ = nested.Get("x")
	assert.Equal(t, int32(-4), v)
}

func TestDataCodecUnknownNestedModel(t *testing.T) {
	p := payload{}.
		i32(0).
		i32(2).long(NoModel).long(1).long(777)

	_, err := NewRegistry().Decode(wire.NewCursor(p), nil, DataModelID)
	require.ErrorIs(t, err, core.ErrUnknownModel)
	assert.Contains(t, err.Error(), "models[1] (previous model 0)")
	assert.Contains(t, err.Error(), "model 777")
}
