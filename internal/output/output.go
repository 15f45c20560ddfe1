// Package output renders decoded events for humans and machines.
package output

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"google.golang.org/protobuf/encoding/protodelim"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/valerka1292/tankidecode/internal/event"
	"github.com/valerka1292/tankidecode/internal/model"
)

// Writer consumes an event stream.
type Writer interface {
	Begin(start time.Time) error
	Write(ev event.Event) error
	Close() error
}

// Copy drains r into w. Events already written stay written when r fails.
func Copy(w Writer, r *event.Reader) (int, error) {
	if err := w.Begin(r.Start()); err != nil {
		return 0, err
	}
	n := 0
	for {
		ev, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			if cerr := w.Close(); cerr != nil {
				return n, cerr
			}
			return n, err
		}
		if err := w.Write(ev); err != nil {
			return n, err
		}
		n++
	}
	return n, w.Close()
}

// TextWriter prints one line per connection start and per command.
type TextWriter struct {
	w *bufio.Writer
}

func NewTextWriter(w io.Writer) *TextWriter {
	return &TextWriter{w: bufio.NewWriter(w)}
}

func (t *TextWriter) Begin(start time.Time) error {
	_, err := fmt.Fprintf(t.w, "Recording begins at %s\n", start.Format("2006-01-02 15:04:05.000"))
	return err
}

func (t *TextWriter) Write(ev event.Event) error {
	h := ev.Header()
	switch e := ev.(type) {
	case *event.BeginEvent:
		_, err := fmt.Fprintf(t.w, "[%d] %s -> %s\n", h.ConnectionID, e.Source, e.Destination)
		return err
	case *event.CommandEvent:
		prefix := "SV"
		if h.Outgoing {
			prefix = "CL"
		}
		b, err := model.MarshalValue(event.CommandData(e))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(t.w, "[%d] %s> %s\n", h.ConnectionID, prefix, b)
		return err
	}
	return nil
}

func (t *TextWriter) Close() error { return t.w.Flush() }

// JSONWriter writes a single JSON array of flattened events. NaN and
// infinite numbers are written as null.
type JSONWriter struct {
	w      *bufio.Writer
	indent string
	count  int
}

// NewJSONWriter indents nested values by indent spaces; 0 writes compact JSON.
func NewJSONWriter(w io.Writer, indent int) *JSONWriter {
	return &JSONWriter{w: bufio.NewWriter(w), indent: strings.Repeat(" ", indent)}
}

func (j *JSONWriter) Begin(time.Time) error { return nil }

func (j *JSONWriter) Write(ev event.Event) error {
	b, err := event.Flatten(ev).MarshalJSON()
	if err != nil {
		return err
	}
	sep := ","
	if j.count == 0 {
		sep = "["
	}
	if _, err := j.w.WriteString(sep); err != nil {
		return err
	}
	if j.indent != "" {
		var buf bytes.Buffer
		if err := json.Indent(&buf, b, j.indent, j.indent); err != nil {
			return err
		}
		b = buf.Bytes()
		if _, err := j.w.WriteString("\n" + j.indent); err != nil {
			return err
		}
	}
	if _, err := j.w.Write(b); err != nil {
		return err
	}
	j.count++
	return nil
}

func (j *JSONWriter) Close() error {
	var tail string
	switch {
	case j.count == 0:
		tail = "[]\n"
	case j.indent != "":
		tail = "\n]\n"
	default:
		tail = "]\n"
	}
	if _, err := j.w.WriteString(tail); err != nil {
		return err
	}
	return j.w.Flush()
}

// ProtoWriter writes each flattened event as a length-delimited
// google.protobuf.Struct message.
type ProtoWriter struct {
	w *bufio.Writer
}

func NewProtoWriter(w io.Writer) *ProtoWriter {
	return &ProtoWriter{w: bufio.NewWriter(w)}
}

func (p *ProtoWriter) Begin(time.Time) error { return nil }

func (p *ProtoWriter) Write(ev event.Event) error {
	m, ok := model.Plain(event.Flatten(ev)).(map[string]any)
	if !ok {
		return fmt.Errorf("event %d did not flatten to a map", ev.Header().Sequence)
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return fmt.Errorf("event %d: %w", ev.Header().Sequence, err)
	}
	_, err = protodelim.MarshalTo(p.w, s)
	return err
}

func (p *ProtoWriter) Close() error { return p.w.Flush() }

// ReadProto reads a stream written by ProtoWriter.
func ReadProto(r io.Reader) ([]*structpb.Struct, error) {
	br := bufio.NewReader(r)
	var out []*structpb.Struct
	for {
		s := &structpb.Struct{}
		err := protodelim.UnmarshalFrom(br, s)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, s)
	}
}
