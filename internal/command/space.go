package command

import (
	"fmt"

	"github.com/valerka1292/tankidecode/internal/model"
	"github.com/valerka1292/tankidecode/internal/wire"
)

// SpaceDecoder decodes method invocations on space objects. The method id
// doubles as the model id of the argument payload.
type SpaceDecoder struct {
	Registry *model.Registry
}

// NewSpaceDecoder returns a SpaceDecoder dispatching through r.
func NewSpaceDecoder(r *model.Registry) *SpaceDecoder {
	return &SpaceDecoder{Registry: r}
}

func (d *SpaceDecoder) Decode(c *wire.Cursor, opt *wire.OptionalBitmap) (*Command, error) {
	objectID, err := c.ReadUint64()
	if err != nil {
		return nil, fmt.Errorf("space command object id: %w", err)
	}
	methodID, err := c.ReadUint64()
	if err != nil {
		return nil, fmt.Errorf("space command method id: %w", err)
	}
	data, err := d.Registry.Decode(c, opt, int64(methodID))
	if err != nil {
		return nil, fmt.Errorf("object %d method %d: %w", objectID, methodID, err)
	}
	return &Command{
		Kind:     KindSpace,
		Name:     data.Codec(),
		ObjectID: objectID,
		MethodID: methodID,
		Data:     data,
	}, nil
}
