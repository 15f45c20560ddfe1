package event

import (
	"errors"
	"slices"
	"strconv"

	"github.com/valerka1292/tankidecode/internal/capture"
	"github.com/valerka1292/tankidecode/internal/core"
	"github.com/valerka1292/tankidecode/internal/metrics"
	"github.com/valerka1292/tankidecode/internal/wire"
)

// processStream appends raw connection bytes to the direction's buffer and
// decodes every frame that became complete.
func (r *Reader) processStream(rec *capture.Record, recordID int) {
	st := r.state(rec.ConnectionID)
	dir := direction(rec.Outgoing)

	chunk := append([]byte(nil), rec.Payload...)
	if st.Cipher != nil {
		st.Cipher.Unwrap(chunk, rec.Outgoing)
	}
	st.pending[dir] = append(st.pending[dir], chunk...)

	for len(st.pending[dir]) > 0 {
		buf := st.pending[dir]
		payload, n, err := wire.UnwrapFrame(buf)
		if errors.Is(err, core.ErrIncompleteFrame) {
			return
		}
		st.pending[dir] = buf[n:]
		if err != nil {
			r.fail(rec, recordID, buf[:n], 0, err)
			continue
		}
		metrics.FramesTotal.WithLabelValues(strconv.FormatBool(buf[0]&0xC0 == 0x40)).Inc()

		keyed := st.Cipher != nil
		r.processPayload(rec, recordID, payload)
		if !keyed && st.Cipher != nil {
			// Everything after the keying frame is protected, including
			// bytes of either direction already buffered.
			st.pending[dir] = append([]byte(nil), st.pending[dir]...)
			st.Cipher.Unwrap(st.pending[dir], rec.Outgoing)
			other := 1 - dir
			st.pending[other] = append([]byte(nil), st.pending[other]...)
			st.Cipher.Unwrap(st.pending[other], other == 1)
		}
	}
}

// flushStream reports bytes left without a complete frame when a connection ends.
func (r *Reader) flushStream(rec *capture.Record, recordID int) {
	st, ok := r.conns[rec.ConnectionID]
	if !ok {
		return
	}
	for dir, rest := range st.pending {
		if len(rest) == 0 {
			continue
		}
		tail := *rec
		tail.Outgoing = dir == 1
		r.fail(&tail, recordID, rest, 0, core.ErrIncompleteFrame)
		st.pending[dir] = nil
	}
}

// flushAll reports bytes buffered on connections the capture never ended,
// in connection id order, at the time of the last record.
func (r *Reader) flushAll() {
	ids := make([]uint16, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		rec := &capture.Record{Type: capture.RecordEnd, ConnectionID: id, Timestamp: r.last}
		r.flushStream(rec, r.records.Index()-1)
	}
}
