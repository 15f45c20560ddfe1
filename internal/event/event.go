// Package event turns a capture container into a lazy sequence of typed
// events: connection begin and end, and one event per decoded command.
package event

import (
	"encoding/base64"
	"time"

	"github.com/valerka1292/tankidecode/internal/capture"
	"github.com/valerka1292/tankidecode/internal/command"
	"github.com/valerka1292/tankidecode/internal/model"
)

// Kind names the event variant.
type Kind string

const (
	KindBegin   Kind = "begin"
	KindEnd     Kind = "end"
	KindCommand Kind = "command"
)

// TimeLayout formats event times in flattened output.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// Event is one of *BeginEvent, *EndEvent or *CommandEvent.
type Event interface {
	Header() *Base
}

// Base holds the fields every event carries.
type Base struct {
	// Sequence starts at 1 and increases by one per event.
	Sequence     uint64
	Kind         Kind
	Time         time.Time
	ConnectionID uint16
	Outgoing     bool
}

func (b *Base) Header() *Base { return b }

// BeginEvent reports a new connection.
type BeginEvent struct {
	Base
	Source      capture.Endpoint
	Destination capture.Endpoint
}

// EndEvent reports a closed connection.
type EndEvent struct {
	Base
}

// CommandEvent carries one decoded command. When decoding a payload fails
// the reader emits a placeholder instead: Command is nil, Undecoded holds
// the bytes that could not be decoded and Err the reason.
type CommandEvent struct {
	Base
	// RecordID is the index of the capture record the command came from,
	// counting records of every type.
	RecordID  int
	Command   *command.Command
	Undecoded []byte
	Err       error
}

// Placeholder reports whether the event stands in for undecodable bytes.
func (e *CommandEvent) Placeholder() bool { return e.Command == nil }

func newBase(kind Kind, rec *capture.Record) Base {
	return Base{
		Kind:         kind,
		Time:         rec.Time(),
		ConnectionID: rec.ConnectionID,
		Outgoing:     rec.Outgoing,
	}
}

// Flatten renders an event as one flat record: the common header followed
// by the variant's fields, command fields inlined.
func Flatten(ev Event) *model.Object {
	h := ev.Header()
	o := model.NewRecord()
	o.Set("sequence", h.Sequence)
	o.Set("type", string(h.Kind))
	o.Set("time", h.Time.Format(TimeLayout))
	o.Set("connection_id", h.ConnectionID)
	o.Set("outgoing", h.Outgoing)

	switch e := ev.(type) {
	case *BeginEvent:
		o.Set("source", e.Source.String())
		o.Set("destination", e.Destination.String())
	case *CommandEvent:
		o.Set("record_id", e.RecordID)
		flattenCommand(o, e)
	}
	return o
}

func flattenCommand(o *model.Object, e *CommandEvent) {
	if e.Placeholder() {
		o.Set("command_type", string(command.KindSpace))
		o.Set("object_id", nil)
		o.Set("method_id", nil)
		o.Set("data", base64.StdEncoding.EncodeToString(e.Undecoded))
		if e.Err != nil {
			o.Set("error", e.Err.Error())
		}
		return
	}

	cmd := e.Command
	o.Set("command_type", string(cmd.Kind))
	switch cmd.Kind {
	case command.KindControl:
		o.Set("command_id", cmd.ID)
		if cmd.Name != "" {
			o.Set("name", cmd.Name)
		}
	case command.KindSpace:
		o.Set("object_id", cmd.ObjectID)
		o.Set("method_id", cmd.MethodID)
	}
	o.Set("data", cmd.Data)
}

// CommandData returns the value rendered after the direction prefix in text
// dumps: the decoded data, or the base64 text of a placeholder.
func CommandData(e *CommandEvent) any {
	if e.Placeholder() {
		return base64.StdEncoding.EncodeToString(e.Undecoded)
	}
	if e.Command.Data == nil {
		o := model.NewRecord()
		o.Set("command_id", e.Command.ID)
		return o
	}
	return e.Command.Data
}
