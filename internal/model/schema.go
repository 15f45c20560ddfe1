package model

import (
	"fmt"
	"math"
	"os"
	"reflect"
	"strconv"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/valerka1292/tankidecode/internal/core"
	"github.com/valerka1292/tankidecode/internal/tankstate"
	"github.com/valerka1292/tankidecode/internal/wire"
)

// FieldType names the wire representation of a schema field.
type FieldType string

const (
	TypeByte      FieldType = "byte"
	TypeShort     FieldType = "short"
	TypeInt       FieldType = "int"
	TypeLong      FieldType = "long"
	TypeFloat     FieldType = "float"
	TypeDouble    FieldType = "double"
	TypeBool      FieldType = "bool"
	TypeString    FieldType = "string"
	TypeEnum      FieldType = "enum"
	TypeObject    FieldType = "object"
	TypeDate      FieldType = "date"
	TypeResource  FieldType = "resource"
	TypeCodec     FieldType = "codec"
	TypeTankState FieldType = "tank_state"
)

// FieldDef declares one payload field.
type FieldDef struct {
	Name       string    `mapstructure:"name"`
	Type       FieldType `mapstructure:"type"`
	Optional   bool      `mapstructure:"optional"`
	Collection int       `mapstructure:"collection"`
	// ElementOptional marks the elements of each collection level as
	// optional, outermost first: every element then consumes one bitmap bit
	// before it is read.
	ElementOptional []bool `mapstructure:"element_optional"`
	Codec           string `mapstructure:"codec"`
}

// CodecDef declares a composite codec. Fields of Inherits are decoded first.
type CodecDef struct {
	Name     string     `mapstructure:"name"`
	Inherits string     `mapstructure:"inherits"`
	Fields   []FieldDef `mapstructure:"fields"`
}

// ModelDef binds a model id to a codec.
type ModelDef struct {
	ID    int64  `mapstructure:"id"`
	Codec string `mapstructure:"codec"`
}

// Schema is the codec table produced by the offline generator.
type Schema struct {
	Codecs []CodecDef `mapstructure:"codecs"`
	Models []ModelDef `mapstructure:"models"`
}

// LoadSchema reads a YAML schema file.
func LoadSchema(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading schema %s: %w", path, err)
	}
	s, err := ParseSchema(data)
	if err != nil {
		return nil, fmt.Errorf("parsing schema %s: %w", path, err)
	}
	return s, nil
}

// ParseSchema decodes a YAML schema document.
func ParseSchema(data []byte) (*Schema, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrSchema, err)
	}

	var s Schema
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:  modelIDHook,
		ErrorUnused: true,
		Result:      &s,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(doc); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrSchema, err)
	}
	return &s, nil
}

// modelIDHook accepts model ids as signed or unsigned integers, as numeric
// strings, or as the {high, low} pair the client sources spell them in.
func modelIDHook(from, to reflect.Type, data any) (any, error) {
	if to.Kind() != reflect.Int64 {
		return data, nil
	}
	switch v := data.(type) {
	case uint64:
		return int64(v), nil
	case string:
		if n, err := strconv.ParseInt(v, 0, 64); err == nil {
			return n, nil
		}
		u, err := strconv.ParseUint(v, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("model id %q: %w", v, err)
		}
		return int64(u), nil
	case map[string]any:
		high, hok := v["high"].(int)
		low, lok := v["low"].(int)
		if !hok || !lok || len(v) != 2 {
			return nil, fmt.Errorf("model id pair must have integer high and low: %v", v)
		}
		if high < math.MinInt32 || high > math.MaxInt32 || low < math.MinInt32 || low > math.MaxUint32 {
			return nil, fmt.Errorf("model id pair out of range: %v", v)
		}
		return int64(high)<<32 | int64(low)&0xFFFFFFFF, nil
	}
	return data, nil
}

// Register compiles every codec and installs each model id into r.
func (s *Schema) Register(r *Registry) error {
	compiled, err := s.compile()
	if err != nil {
		return err
	}
	for _, m := range s.Models {
		c, ok := compiled[m.Codec]
		if !ok {
			return fmt.Errorf("%w: model %d references unknown codec %q", core.ErrSchema, m.ID, m.Codec)
		}
		if err := r.Register(m.ID, c); err != nil {
			return fmt.Errorf("%w: %w", core.ErrSchema, err)
		}
	}
	return nil
}

// NewRegistryFromSchema returns a registry holding the built-ins and every model in s.
func NewRegistryFromSchema(s *Schema) (*Registry, error) {
	r := NewRegistry()
	if err := s.Register(r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Schema) compile() (map[string]*schemaCodec, error) {
	defs := make(map[string]CodecDef, len(s.Codecs))
	compiled := make(map[string]*schemaCodec, len(s.Codecs))
	for _, def := range s.Codecs {
		if def.Name == "" {
			return nil, fmt.Errorf("%w: codec without name", core.ErrSchema)
		}
		if _, dup := defs[def.Name]; dup {
			return nil, fmt.Errorf("%w: codec %q defined twice", core.ErrSchema, def.Name)
		}
		defs[def.Name] = def
		compiled[def.Name] = &schemaCodec{name: def.Name}
	}

	for _, def := range s.Codecs {
		c := compiled[def.Name]
		if def.Inherits != "" {
			base, ok := compiled[def.Inherits]
			if !ok {
				return nil, fmt.Errorf("%w: codec %q inherits unknown %q", core.ErrSchema, def.Name, def.Inherits)
			}
			c.base = base
		}
		for _, f := range def.Fields {
			cf, err := compileField(def.Name, f, compiled)
			if err != nil {
				return nil, err
			}
			c.fields = append(c.fields, cf)
		}
	}

	for name, c := range compiled {
		seen := map[*schemaCodec]bool{}
		for b := c; b != nil; b = b.base {
			if seen[b] {
				return nil, fmt.Errorf("%w: inheritance cycle through %q", core.ErrSchema, name)
			}
			seen[b] = true
		}
	}
	return compiled, nil
}

func compileField(codec string, f FieldDef, compiled map[string]*schemaCodec) (schemaField, error) {
	sf := schemaField{
		name:            f.Name,
		typ:             f.Type,
		optional:        f.Optional,
		collection:      f.Collection,
		elementOptional: f.ElementOptional,
	}
	if f.Name == "" {
		return sf, fmt.Errorf("%w: codec %q has a field without name", core.ErrSchema, codec)
	}
	if f.Collection < 0 {
		return sf, fmt.Errorf("%w: %s.%s: negative collection level", core.ErrSchema, codec, f.Name)
	}
	if len(f.ElementOptional) > f.Collection {
		return sf, fmt.Errorf("%w: %s.%s: element_optional has %d levels, collection %d",
			core.ErrSchema, codec, f.Name, len(f.ElementOptional), f.Collection)
	}
	switch f.Type {
	case TypeByte, TypeShort, TypeInt, TypeLong, TypeFloat, TypeDouble, TypeBool, TypeString,
		TypeEnum, TypeObject, TypeDate, TypeResource, TypeTankState:
	case TypeCodec:
		nested, ok := compiled[f.Codec]
		if !ok {
			return sf, fmt.Errorf("%w: %s.%s references unknown codec %q", core.ErrSchema, codec, f.Name, f.Codec)
		}
		sf.nested = nested
	default:
		return sf, fmt.Errorf("%w: %s.%s has unknown type %q", core.ErrSchema, codec, f.Name, f.Type)
	}
	return sf, nil
}

// schemaCodec is a compiled CodecDef.
type schemaCodec struct {
	name   string
	base   *schemaCodec
	fields []schemaField
}

func (c *schemaCodec) Name() string { return c.name }

func (c *schemaCodec) Decode(d *Decoder) (*Object, error) {
	obj := NewObject(c.name)
	if err := c.decodeInto(d, obj); err != nil {
		return nil, err
	}
	return obj, nil
}

func (c *schemaCodec) decodeInto(d *Decoder, obj *Object) error {
	if c.base != nil {
		if err := c.base.decodeInto(d, obj); err != nil {
			return err
		}
	}
	for _, f := range c.fields {
		v, err := f.decode(d)
		if err != nil {
			return fieldError(c.name, f.name, err)
		}
		obj.Set(f.name, v)
	}
	return nil
}

type schemaField struct {
	name            string
	typ             FieldType
	optional        bool
	collection      int
	elementOptional []bool
	nested          *schemaCodec
}

// decode consults the optional bitmap first: an absent field consumes no
// payload bytes and is reported as nil.
func (f schemaField) decode(d *Decoder) (any, error) {
	if f.optional {
		absent, err := d.Absent()
		if err != nil {
			return nil, err
		}
		if absent {
			return nil, nil
		}
	}
	return f.decodeLevel(d, f.collection)
}

func (f schemaField) decodeLevel(d *Decoder, level int) (any, error) {
	if level == 0 {
		return f.decodeElement(d)
	}
	n, err := wire.DecodeLength(d.Cursor)
	if err != nil {
		return nil, err
	}
	optional := f.elementsOptional(f.collection - level)
	items := make([]any, 0, n)
	for range n {
		if optional {
			absent, err := d.Absent()
			if err != nil {
				return nil, err
			}
			if absent {
				items = append(items, nil)
				continue
			}
		}
		v, err := f.decodeLevel(d, level-1)
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	return items, nil
}

// elementsOptional reports whether the elements of collection level i,
// counted from the outermost, are optional.
func (f schemaField) elementsOptional(i int) bool {
	return i < len(f.elementOptional) && f.elementOptional[i]
}

func (f schemaField) decodeElement(d *Decoder) (any, error) {
	c := d.Cursor
	switch f.typ {
	case TypeByte:
		return c.ReadByte()
	case TypeShort:
		return c.ReadShort()
	case TypeInt, TypeEnum:
		return c.ReadInt()
	case TypeLong, TypeObject, TypeDate, TypeResource:
		return c.ReadLong()
	case TypeFloat:
		return c.ReadFloat()
	case TypeDouble:
		return c.ReadDouble()
	case TypeBool:
		return c.ReadBool()
	case TypeString:
		return c.ReadString()
	case TypeCodec:
		return f.nested.Decode(d)
	case TypeTankState:
		return readTankState(d)
	}
	return nil, fmt.Errorf("unsupported field type %q", f.typ)
}

// TankStateCodec is the name tagged on decoded physics states.
const TankStateCodec = "TankState"

func readTankState(d *Decoder) (*Object, error) {
	s, err := tankstate.ReadState(d.Cursor)
	if err != nil {
		return nil, err
	}
	obj := NewObject(TankStateCodec)
	obj.Set("position", s.Position)
	obj.Set("orientation", s.Orientation)
	obj.Set("linearVelocity", s.LinearVelocity)
	obj.Set("angularVelocity", s.AngularVelocity)
	return obj, nil
}
