package capture

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/go-restruct/restruct"

	"github.com/valerka1292/tankidecode/internal/core"
)

// Reader reads records from a capture container.
type Reader struct {
	r     *bufio.Reader
	start int64
	index int
}

// NewReader consumes and validates the container header.
func NewReader(r io.Reader) (*Reader, error) {
	br := bufio.NewReader(r)
	buf := make([]byte, fileHeaderSize)
	if _, err := io.ReadFull(br, buf); err != nil {
		return nil, fmt.Errorf("reading header: %w: %w", core.ErrTruncatedRecord, err)
	}
	var h fileHeader
	if err := restruct.Unpack(buf, binary.BigEndian, &h); err != nil {
		return nil, fmt.Errorf("unpacking header: %w", err)
	}
	if string(h.Magic[:]) != Magic {
		return nil, fmt.Errorf("got %q: %w", h.Magic[:], core.ErrInvalidMagic)
	}
	return &Reader{r: br, start: int64(h.Start)}, nil
}

// Start returns the recording start in milliseconds since the Unix epoch.
func (r *Reader) Start() int64 { return r.start }

// Index returns the number of records read so far.
func (r *Reader) Index() int { return r.index }

// Next returns the next record. It returns io.EOF only at a record boundary;
// a record cut short fails with core.ErrTruncatedRecord.
func (r *Reader) Next() (*Record, error) {
	buf := make([]byte, recordHeaderSize)
	n, err := io.ReadFull(r.r, buf)
	if n == 0 && errors.Is(err, io.EOF) {
		return nil, io.EOF
	}
	if err != nil {
		return nil, r.truncated("record header", err)
	}
	var h recordHeader
	if err := restruct.Unpack(buf, binary.BigEndian, &h); err != nil {
		return nil, fmt.Errorf("unpacking record %d header: %w", r.index, err)
	}

	rec := &Record{
		Type:         h.recordType(),
		ConnectionID: h.ConnectionID,
		Outgoing:     h.outgoing(),
		Timestamp:    r.start + int64(h.Offset),
	}

	switch rec.Type {
	case RecordBegin:
		if rec.Source, err = r.readEndpoint(); err != nil {
			return nil, err
		}
		if rec.Destination, err = r.readEndpoint(); err != nil {
			return nil, err
		}
	case RecordData:
		var size [4]byte
		if _, err := io.ReadFull(r.r, size[:]); err != nil {
			return nil, r.truncated("payload length", err)
		}
		// the buffer grows with the bytes actually present, not the declared length
		var payload bytes.Buffer
		if _, err := io.CopyN(&payload, r.r, int64(binary.BigEndian.Uint32(size[:]))); err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return nil, r.truncated("payload", err)
		}
		rec.Payload = payload.Bytes()
	case RecordEnd:
	default:
		return nil, fmt.Errorf("record %d: type %d: %w", r.index, uint8(rec.Type), core.ErrInvalidRecordType)
	}

	r.index++
	return rec, nil
}

func (r *Reader) readEndpoint() (Endpoint, error) {
	buf := make([]byte, endpointHeaderSize)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return Endpoint{}, r.truncated("endpoint", err)
	}
	var h endpointHeader
	if err := restruct.Unpack(buf, binary.BigEndian, &h); err != nil {
		return Endpoint{}, fmt.Errorf("unpacking endpoint: %w", err)
	}
	ip := make([]byte, h.IPLen)
	if _, err := io.ReadFull(r.r, ip); err != nil {
		return Endpoint{}, r.truncated("endpoint address", err)
	}
	if !utf8.Valid(ip) {
		return Endpoint{}, fmt.Errorf("record %d endpoint address: %w", r.index, core.ErrInvalidUTF8)
	}
	return Endpoint{IP: string(ip), Port: h.Port}, nil
}

func (r *Reader) truncated(what string, err error) error {
	return fmt.Errorf("record %d %s: %w: %w", r.index, what, core.ErrTruncatedRecord, err)
}
