// Package command decodes the commands carried by a payload: handshake
// control commands before a connection enters a space, space-channel
// method invocations afterwards.
package command

import (
	"fmt"

	"github.com/valerka1292/tankidecode/internal/core"
	"github.com/valerka1292/tankidecode/internal/model"
	"github.com/valerka1292/tankidecode/internal/wire"
)

// Kind distinguishes control commands from space commands.
type Kind string

const (
	KindControl Kind = "control"
	KindSpace   Kind = "space"
)

// Command is one decoded command.
type Command struct {
	Kind Kind

	// Control commands
	ID   byte
	Name string

	// Space commands
	ObjectID uint64
	MethodID uint64

	// Data holds the decoded fields. It is nil for control commands that
	// carry no fields.
	Data *model.Object
}

// Codec returns the codec name of the command's data, or "" without data.
func (c *Command) Codec() string {
	if c.Data == nil {
		return ""
	}
	return c.Data.Codec()
}

// Decoder decodes one command at the cursor.
type Decoder interface {
	Decode(c *wire.Cursor, opt *wire.OptionalBitmap) (*Command, error)
}

// DecodeError reports the payload offset of the command that failed.
type DecodeError struct {
	Offset int
	Index  int
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("command %d at offset %d: %v", e.Index, e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// DecodeAll decodes commands until the cursor is exhausted. On failure it
// returns the commands decoded so far and a *DecodeError.
func DecodeAll(dec Decoder, c *wire.Cursor, opt *wire.OptionalBitmap) ([]*Command, error) {
	var cmds []*Command
	for c.Remaining() > 0 {
		start := c.Position()
		cmd, err := dec.Decode(c, opt)
		if err == nil && c.Position() == start {
			err = fmt.Errorf("%d bytes left: %w", c.Remaining(), core.ErrTrailingBytes)
		}
		if err != nil {
			return cmds, &DecodeError{Offset: start, Index: len(cmds), Err: err}
		}
		cmds = append(cmds, cmd)
	}
	return cmds, nil
}
