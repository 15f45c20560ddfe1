// Package model implements the model-id driven codec dispatcher and the
// structured values it produces.
package model

import (
	"bytes"
	"encoding/json"
	"math"

	"github.com/valerka1292/tankidecode/internal/tankstate"
)

// CodecKey is the key every decoded object is tagged with.
const CodecKey = "codec"

// Object is a decoded structure. Keys keep their insertion order so output
// follows the declared field order.
type Object struct {
	keys   []string
	values map[string]any
}

// NewObject returns an Object tagged with the codec name.
func NewObject(codec string) *Object {
	o := &Object{values: make(map[string]any)}
	o.Set(CodecKey, codec)
	return o
}

// NewRecord returns an empty Object without a codec tag, for flattened
// output records that are not decoded payloads.
func NewRecord() *Object {
	return &Object{values: make(map[string]any)}
}

// Set stores v under k, keeping the original position of an existing key.
func (o *Object) Set(k string, v any) {
	if _, ok := o.values[k]; !ok {
		o.keys = append(o.keys, k)
	}
	o.values[k] = v
}

// Get returns the value stored under k.
func (o *Object) Get(k string) (any, bool) {
	v, ok := o.values[k]
	return v, ok
}

// Codec returns the codec name the object was decoded by.
func (o *Object) Codec() string {
	s, _ := o.values[CodecKey].(string)
	return s
}

// Keys returns the keys in insertion order.
func (o *Object) Keys() []string {
	return append([]string(nil), o.keys...)
}

// Len returns the number of keys.
func (o *Object) Len() int { return len(o.keys) }

// MarshalJSON writes the object with keys in insertion order.
// NaN and infinite floats are written as null.
func (o *Object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := MarshalValue(o.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalValue encodes a decoded value as JSON, tolerating NaN and Inf.
func MarshalValue(v any) ([]byte, error) {
	switch x := v.(type) {
	case float32:
		return marshalFloat(float64(x))
	case float64:
		return marshalFloat(x)
	case tankstate.Vec3:
		return marshalList(x[:])
	case []float64:
		return marshalList(x)
	case []any:
		return marshalList(x)
	case *Object:
		if x == nil {
			return []byte("null"), nil
		}
		return x.MarshalJSON()
	default:
		return json.Marshal(v)
	}
}

func marshalFloat(f float64) ([]byte, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(f)
}

func marshalList[T any](items []T) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, item := range items {
		if i > 0 {
			buf.WriteByte(',')
		}
		b, err := MarshalValue(item)
		if err != nil {
			return nil, err
		}
		buf.Write(b)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// Plain converts a decoded value into maps, slices, int64, float64, string,
// bool and nil only.
func Plain(v any) any {
	switch x := v.(type) {
	case *Object:
		if x == nil {
			return nil
		}
		m := make(map[string]any, len(x.keys))
		for _, k := range x.keys {
			m[k] = Plain(x.values[k])
		}
		return m
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = Plain(item)
		}
		return out
	case []int64:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = item
		}
		return out
	case []float64:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = item
		}
		return out
	case tankstate.Vec3:
		return []any{x[0], x[1], x[2]}
	case uint8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case int:
		return int64(x)
	case float32:
		return float64(x)
	default:
		return v
	}
}
