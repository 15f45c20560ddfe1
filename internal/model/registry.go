package model

import (
	"errors"
	"fmt"
	"sort"

	"github.com/valerka1292/tankidecode/internal/core"
	"github.com/valerka1292/tankidecode/internal/wire"
)

// Codec decodes one model payload.
type Codec interface {
	Name() string
	Decode(d *Decoder) (*Object, error)
}

// CodecFunc adapts a function to the Codec interface.
type CodecFunc struct {
	name string
	fn   func(d *Decoder) (*Object, error)
}

// NewCodecFunc returns a Codec named name backed by fn.
func NewCodecFunc(name string, fn func(d *Decoder) (*Object, error)) *CodecFunc {
	return &CodecFunc{name: name, fn: fn}
}

func (c *CodecFunc) Name() string                       { return c.name }
func (c *CodecFunc) Decode(d *Decoder) (*Object, error) { return c.fn(d) }

// Decoder is the state a codec decodes from: the payload cursor, the
// optional bitmap of the enclosing payload and the registry for nested
// model ids.
type Decoder struct {
	Cursor   *wire.Cursor
	Optional *wire.OptionalBitmap
	Registry *Registry
}

// Absent consumes one optional bit. A nil bitmap behaves as an empty one.
func (d *Decoder) Absent() (bool, error) {
	if d.Optional == nil {
		return false, fmt.Errorf("no optional bitmap: %w", core.ErrBitmapExhausted)
	}
	return d.Optional.Next()
}

// Model decodes a nested payload by model id.
func (d *Decoder) Model(id int64) (*Object, error) {
	return d.Registry.Decode(d.Cursor, d.Optional, id)
}

// Registry maps model ids to codecs. It is populated once at startup and
// only read afterwards, so one instance may be shared by every reader.
type Registry struct {
	codecs map[int64]Codec
}

// NewRegistry returns a registry holding the built-in composite codecs.
func NewRegistry() *Registry {
	r := &Registry{codecs: make(map[int64]Codec)}
	r.codecs[DependenciesModelID] = dependenciesCodec{}
	r.codecs[DataModelID] = dataCodec{}
	return r
}

// Register installs c under id. Registering an id twice is an error.
func (r *Registry) Register(id int64, c Codec) error {
	if prev, ok := r.codecs[id]; ok {
		return fmt.Errorf("model %d already registered as %s", id, prev.Name())
	}
	r.codecs[id] = c
	return nil
}

// Lookup returns the codec registered under id.
func (r *Registry) Lookup(id int64) (Codec, bool) {
	c, ok := r.codecs[id]
	return c, ok
}

// CodecName returns the name of the codec for id, or "" if unknown.
func (r *Registry) CodecName(id int64) string {
	if c, ok := r.codecs[id]; ok {
		return c.Name()
	}
	return ""
}

// Len returns the number of registered model ids.
func (r *Registry) Len() int { return len(r.codecs) }

// IDs returns the registered model ids in ascending order.
func (r *Registry) IDs() []int64 {
	ids := make([]int64, 0, len(r.codecs))
	for id := range r.codecs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Decode decodes the payload of model id at the cursor.
func (r *Registry) Decode(c *wire.Cursor, opt *wire.OptionalBitmap, id int64) (*Object, error) {
	codec, ok := r.codecs[id]
	if !ok {
		return nil, fmt.Errorf("model %d at offset %d: %w", id, c.Position(), core.ErrUnknownModel)
	}
	return codec.Decode(&Decoder{Cursor: c, Optional: opt, Registry: r})
}

// fieldError attaches the codec and field path to err. Errors that already
// carry a decode classification keep it.
func fieldError(codec, field string, err error) error {
	if errors.Is(err, core.ErrFieldDecode) || errors.Is(err, core.ErrUnknownModel) {
		return fmt.Errorf("%s.%s: %w", codec, field, err)
	}
	return fmt.Errorf("%w: %s.%s: %w", core.ErrFieldDecode, codec, field, err)
}
