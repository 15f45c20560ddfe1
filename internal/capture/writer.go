package capture

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/go-restruct/restruct"
)

// Writer appends records to a capture container. Every record is flushed
// before Write returns.
type Writer struct {
	w     *bufio.Writer
	start int64
}

// NewWriter writes the container header with the given start time in
// milliseconds since the Unix epoch.
func NewWriter(w io.Writer, start int64) (*Writer, error) {
	h := fileHeader{Start: uint64(start)}
	copy(h.Magic[:], Magic)
	buf, err := restruct.Pack(binary.BigEndian, &h)
	if err != nil {
		return nil, fmt.Errorf("packing header: %w", err)
	}
	bw := bufio.NewWriter(w)
	if _, err := bw.Write(buf); err != nil {
		return nil, err
	}
	if err := bw.Flush(); err != nil {
		return nil, err
	}
	return &Writer{w: bw, start: start}, nil
}

// Start returns the recording start in milliseconds since the Unix epoch.
func (w *Writer) Start() int64 { return w.start }

// Write encodes rec and flushes it.
func (w *Writer) Write(rec *Record) error {
	offset := rec.Timestamp - w.start
	if offset < 0 || offset > math.MaxUint32 {
		return fmt.Errorf("timestamp %d outside recording window starting at %d", rec.Timestamp, w.start)
	}

	h := recordHeader{
		Offset:       uint32(offset),
		Flags:        uint8(rec.Type) << 4,
		ConnectionID: rec.ConnectionID,
	}
	if rec.Outgoing {
		h.Flags |= 1
	}
	buf, err := restruct.Pack(binary.BigEndian, &h)
	if err != nil {
		return fmt.Errorf("packing record header: %w", err)
	}

	switch rec.Type {
	case RecordBegin:
		for _, ep := range []Endpoint{rec.Source, rec.Destination} {
			if buf, err = appendEndpoint(buf, ep); err != nil {
				return err
			}
		}
	case RecordData:
		if uint64(len(rec.Payload)) > math.MaxUint32 {
			return fmt.Errorf("payload of %d bytes too large", len(rec.Payload))
		}
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(rec.Payload)))
		buf = append(buf, rec.Payload...)
	case RecordEnd:
	default:
		return fmt.Errorf("cannot write record type %d", uint8(rec.Type))
	}

	if _, err := w.w.Write(buf); err != nil {
		return err
	}
	return w.w.Flush()
}

func appendEndpoint(dst []byte, ep Endpoint) ([]byte, error) {
	if len(ep.IP) > MaxIPLength {
		return dst, fmt.Errorf("endpoint address of %d bytes exceeds %d", len(ep.IP), MaxIPLength)
	}
	b, err := restruct.Pack(binary.BigEndian, &endpointHeader{Port: ep.Port, IPLen: uint8(len(ep.IP))})
	if err != nil {
		return dst, fmt.Errorf("packing endpoint: %w", err)
	}
	dst = append(dst, b...)
	return append(dst, ep.IP...), nil
}
