package model

import (
	"fmt"

	"github.com/valerka1292/tankidecode/internal/core"
	"github.com/valerka1292/tankidecode/internal/wire"
)

// Well-known model ids of the built-in composite codecs.
const (
	DependenciesModelID int64 = 3216143066888387731
	DataModelID         int64 = 7640916300855664666
)

// NoModel marks a model data entry that carries a plain long instead of a payload.
const NoModel int64 = 0

func readCount(c *wire.Cursor) (int, error) {
	n, err := c.ReadInt()
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("negative count %d: %w", n, core.ErrFieldDecode)
	}
	return int(n), nil
}

// dependenciesCodec decodes the class and resource descriptors that must be
// loaded before objects of a space can be constructed.
type dependenciesCodec struct{}

func (dependenciesCodec) Name() string { return "ObjectsDependenciesCodec" }

func (c dependenciesCodec) Decode(d *Decoder) (*Object, error) {
	obj := NewObject(c.Name())
	cur := d.Cursor

	callbackID, err := cur.ReadInt()
	if err != nil {
		return nil, fieldError(c.Name(), "callback_id", err)
	}
	obj.Set("callback_id", callbackID)

	classes, err := readGameClasses(cur)
	if err != nil {
		return nil, fieldError(c.Name(), "game_classes", err)
	}
	obj.Set("game_classes", classes)

	resources, err := readResources(cur)
	if err != nil {
		return nil, fieldError(c.Name(), "resources", err)
	}
	obj.Set("resources", resources)
	return obj, nil
}

func readGameClasses(cur *wire.Cursor) ([]any, error) {
	n, err := readCount(cur)
	if err != nil {
		return nil, err
	}
	classes := make([]any, 0, n)
	for range n {
		class := NewObject("GameClass")
		classID, err := cur.ReadLong()
		if err != nil {
			return nil, err
		}
		class.Set("class_id", classID)

		m, err := readCount(cur)
		if err != nil {
			return nil, err
		}
		models := make([]int64, 0, m)
		for range m {
			id, err := cur.ReadLong()
			if err != nil {
				return nil, err
			}
			models = append(models, id)
		}
		class.Set("models", models)
		classes = append(classes, class)
	}
	return classes, nil
}

func readResources(cur *wire.Cursor) ([]any, error) {
	n, err := readCount(cur)
	if err != nil {
		return nil, err
	}
	resources := make([]any, 0, n)
	for range n {
		res, err := readResourceInfo(cur)
		if err != nil {
			return nil, err
		}
		deps, err := cur.ReadByte()
		if err != nil {
			return nil, err
		}
		ids := make([]int64, 0, deps)
		for range deps {
			id, err := cur.ReadLong()
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
		res.Set("dependencies", ids)
		resources = append(resources, res)
	}
	return resources, nil
}

func readResourceInfo(cur *wire.Cursor) (*Object, error) {
	res := NewObject("ResourceInfo")
	id, err := cur.ReadLong()
	if err != nil {
		return nil, err
	}
	typ, err := cur.ReadShort()
	if err != nil {
		return nil, err
	}
	version, err := cur.ReadLong()
	if err != nil {
		return nil, err
	}
	lazy, err := cur.ReadBool()
	if err != nil {
		return nil, err
	}
	res.Set("id", id)
	res.Set("type", typ)
	res.Set("version", version)
	res.Set("lazy", lazy)
	return res, nil
}

// dataCodec decodes the construction payload of a batch of objects: the
// object list followed by one model data entry per model instance.
type dataCodec struct{}

func (dataCodec) Name() string { return "ObjectsDataCodec" }

func (c dataCodec) Decode(d *Decoder) (*Object, error) {
	obj := NewObject(c.Name())
	cur := d.Cursor

	n, err := readCount(cur)
	if err != nil {
		return nil, fieldError(c.Name(), "objects", err)
	}
	objects := make([]any, 0, n)
	for range n {
		o := NewObject("GameObject")
		objectID, err := cur.ReadLong()
		if err != nil {
			return nil, fieldError(c.Name(), "objects", err)
		}
		classID, err := cur.ReadLong()
		if err != nil {
			return nil, fieldError(c.Name(), "objects", err)
		}
		o.Set("object_id", objectID)
		o.Set("class_id", classID)
		objects = append(objects, o)
	}
	obj.Set("objects", objects)

	n, err = readCount(cur)
	if err != nil {
		return nil, fieldError(c.Name(), "models", err)
	}
	models := make([]any, 0, n)
	prev := NoModel
	for i := range n {
		md, err := readModelData(d)
		if err != nil {
			return nil, fieldError(c.Name(), fmt.Sprintf("models[%d] (previous model %d)", i, prev), err)
		}
		prev, _ = mustInt64(md.Get("model_id"))
		models = append(models, md)
	}
	obj.Set("models", models)
	return obj, nil
}

func readModelData(d *Decoder) (*Object, error) {
	md := NewObject("ModelData")
	id, err := d.Cursor.ReadLong()
	if err != nil {
		return nil, err
	}
	md.Set("model_id", id)
	if id == NoModel {
		v, err := d.Cursor.ReadLong()
		if err != nil {
			return nil, err
		}
		md.Set("data", v)
		return md, nil
	}
	data, err := d.Model(id)
	if err != nil {
		return nil, err
	}
	md.Set("data", data)
	return md, nil
}

func mustInt64(v any, ok bool) (int64, bool) {
	if !ok {
		return 0, false
	}
	n, ok := v.(int64)
	return n, ok
}
