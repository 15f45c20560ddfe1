package event

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/davecgh/go-spew/spew"

	"github.com/valerka1292/tankidecode/internal/capture"
	"github.com/valerka1292/tankidecode/internal/cipher"
	"github.com/valerka1292/tankidecode/internal/command"
	"github.com/valerka1292/tankidecode/internal/config"
	"github.com/valerka1292/tankidecode/internal/core"
	"github.com/valerka1292/tankidecode/internal/log"
	"github.com/valerka1292/tankidecode/internal/metrics"
	"github.com/valerka1292/tankidecode/internal/model"
	"github.com/valerka1292/tankidecode/internal/wire"
)

// RedactedValue replaces redacted fields.
const RedactedValue = "************"

// Redaction names one field masked in every space command of a codec.
type Redaction struct {
	Codec string
	Field string
}

// DefaultRedactions masks the login password.
var DefaultRedactions = []Redaction{{Codec: "LoginModelServer_login", Field: "password"}}

// Option configures a Reader.
type Option func(*Reader)

// WithFraming selects how Data record payloads are framed, one of
// config.FramingPayload (default) or config.FramingWire.
func WithFraming(mode string) Option {
	return func(r *Reader) { r.framing = mode }
}

// WithRedactions replaces the default redaction set.
func WithRedactions(rules ...Redaction) Option {
	return func(r *Reader) {
		r.redact = make(map[string][]string)
		for _, rule := range rules {
			r.redact[rule.Codec] = append(r.redact[rule.Codec], rule.Field)
		}
	}
}

// WithLogger sets the logger decode failures are reported to.
func WithLogger(l log.Logger) Option {
	return func(r *Reader) { r.log = l }
}

// Reader decodes a capture into events. It is forward-only and not safe for
// concurrent use; independent captures need independent readers, which may
// share one model.Registry.
type Reader struct {
	records  *capture.Reader
	registry *model.Registry
	space    command.Decoder
	framing  string
	redact   map[string][]string
	log      log.Logger

	conns map[uint16]*ConnectionState
	// protected is set by a server hash response asking for stream
	// protection; space connections opened afterwards get keyed.
	protected bool

	queue []Event
	seq   uint64
	err   error
	// last is the timestamp of the latest record.
	last int64
}

// NewReader reads the capture header from r and returns a Reader decoding
// space payloads through reg.
func NewReader(r io.Reader, reg *model.Registry, opts ...Option) (*Reader, error) {
	records, err := capture.NewReader(r)
	if err != nil {
		return nil, err
	}
	er := &Reader{
		records:  records,
		registry: reg,
		space:    command.NewSpaceDecoder(reg),
		framing:  config.FramingPayload,
		log:      log.GetLogger(),
		conns:    make(map[uint16]*ConnectionState),
	}
	WithRedactions(DefaultRedactions...)(er)
	for _, opt := range opts {
		opt(er)
	}
	if er.framing != config.FramingPayload && er.framing != config.FramingWire {
		return nil, fmt.Errorf("%w: unknown framing %q", core.ErrConfigInvalid, er.framing)
	}
	return er, nil
}

// Start returns the time the recording began.
func (r *Reader) Start() time.Time {
	return time.UnixMilli(r.records.Start()).UTC()
}

// Connection returns the state of a connection seen so far.
func (r *Reader) Connection(id uint16) (*ConnectionState, bool) {
	s, ok := r.conns[id]
	return s, ok
}

// Next returns the next event. It returns io.EOF after the last record and
// a structural error (bad record type, truncation) when the container is
// damaged; both are final.
func (r *Reader) Next() (Event, error) {
	for len(r.queue) == 0 {
		if r.err != nil {
			return nil, r.err
		}
		rec, err := r.records.Next()
		if err != nil {
			if errors.Is(err, io.EOF) && r.framing == config.FramingWire {
				r.flushAll()
			}
			r.err = err
			continue
		}
		r.last = rec.Timestamp
		r.process(rec, r.records.Index()-1)
	}
	ev := r.queue[0]
	r.queue[0] = nil
	r.queue = r.queue[1:]
	return ev, nil
}

func (r *Reader) emit(ev Event) {
	r.seq++
	h := ev.Header()
	h.Sequence = r.seq
	metrics.EventsTotal.WithLabelValues(string(h.Kind)).Inc()
	r.queue = append(r.queue, ev)
}

func (r *Reader) state(id uint16) *ConnectionState {
	s, ok := r.conns[id]
	if !ok {
		s = &ConnectionState{}
		r.conns[id] = s
	}
	return s
}

func (r *Reader) process(rec *capture.Record, recordID int) {
	metrics.RecordsTotal.WithLabelValues(rec.Type.String()).Inc()

	switch rec.Type {
	case capture.RecordBegin:
		r.conns[rec.ConnectionID] = &ConnectionState{}
		r.emit(&BeginEvent{
			Base:        newBase(KindBegin, rec),
			Source:      rec.Source,
			Destination: rec.Destination,
		})
	case capture.RecordData:
		if r.framing == config.FramingWire {
			r.processStream(rec, recordID)
		} else {
			r.processPayload(rec, recordID, rec.Payload)
		}
	case capture.RecordEnd:
		if r.framing == config.FramingWire {
			r.flushStream(rec, recordID)
		}
		r.emit(&EndEvent{Base: newBase(KindEnd, rec)})
	}
}

// processPayload decodes one payload: the optional bitmap header followed by
// commands until the payload is exhausted. It reports whether every byte
// decoded.
func (r *Reader) processPayload(rec *capture.Record, recordID int, payload []byte) bool {
	metrics.PayloadBytesTotal.Add(float64(len(payload)))
	st := r.state(rec.ConnectionID)

	c := wire.NewCursor(payload)
	opt, err := wire.ReadOptionalBitmap(c)
	if err != nil {
		r.fail(rec, recordID, payload, 0, err)
		return false
	}

	inSpace := st.Space
	var dec command.Decoder
	if inSpace {
		dec = r.space
	} else {
		dec = command.ControlDecoder(rec.Outgoing)
	}

	cmds, err := command.DecodeAll(dec, c, opt)
	for _, cmd := range cmds {
		if inSpace {
			r.redactCommand(cmd)
		} else if cmd.ID == command.ClientSpaceOpened {
			st.Space = true
		}
		r.observe(rec, st, cmd)
		metrics.CommandsTotal.WithLabelValues(string(cmd.Kind)).Inc()
		r.emit(&CommandEvent{Base: newBase(KindCommand, rec), RecordID: recordID, Command: cmd})
	}
	if err != nil {
		offset := c.Position()
		var de *command.DecodeError
		if errors.As(err, &de) {
			offset = de.Offset
		}
		r.fail(rec, recordID, payload[offset:], offset, err)
		return false
	}
	return true
}

func (r *Reader) redactCommand(cmd *command.Command) {
	for _, field := range r.redact[cmd.Codec()] {
		cmd.Data.Set(field, RedactedValue)
	}
}

// observe tracks the handshake commands that key stream protection.
func (r *Reader) observe(rec *capture.Record, st *ConnectionState, cmd *command.Command) {
	if cmd.Kind != command.KindControl {
		return
	}
	switch {
	case !rec.Outgoing && cmd.ID == command.ServerHashResponse:
		r.protected = cmd.Encrypt()
	case rec.Outgoing && cmd.ID == command.ClientSpaceOpened && r.protected:
		hash, ok := cmd.Hash()
		spaceID, ok2 := cmd.SpaceID()
		if !ok || !ok2 {
			return
		}
		st.Cipher = cipher.New(hash, uint32(spaceID>>32), uint32(spaceID))
		r.log.WithField("connection", rec.ConnectionID).
			WithField("space", spaceID).
			Debug("stream protection keyed")
	}
}

// fail emits the placeholder for bytes that could not be decoded.
func (r *Reader) fail(rec *capture.Record, recordID int, undecoded []byte, offset int, err error) {
	metrics.DecodeErrorsTotal.WithLabelValues(metrics.ErrorReason(err)).Inc()

	l := r.log.WithFields(map[string]interface{}{
		"connection": rec.ConnectionID,
		"record":     recordID,
		"offset":     offset,
	})
	l.WithError(err).Warn("payload decode failed")
	if l.IsDebugEnabled() {
		l.Debug("undecoded bytes:\n" + spew.Sdump(undecoded))
	}

	r.emit(&CommandEvent{
		Base:      newBase(KindCommand, rec),
		RecordID:  recordID,
		Undecoded: append([]byte(nil), undecoded...),
		Err:       err,
	})
}
