package wire

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"

	"github.com/valerka1292/tankidecode/internal/core"
)

const (
	frameBigLength  = 0x80
	frameCompressed = 0x40

	// MaxSmallFrame is the largest payload the 2-byte header can describe.
	MaxSmallFrame = 1<<14 - 1
	// MaxBigFrame is the largest payload the 4-byte header can describe.
	MaxBigFrame = 1<<31 - 1
)

// UnwrapFrame parses one length-prefixed frame from the start of buf.
//
// It returns the (decompressed) payload and the number of bytes of buf the
// frame occupied. When buf does not yet hold a complete frame it returns
// core.ErrIncompleteFrame and consumed == 0; callers streaming from a socket
// or capture should keep the bytes and retry with more data.
//
// The 4-byte form never carries the compressed flag.
func UnwrapFrame(buf []byte) (payload []byte, consumed int, err error) {
	if len(buf) < 2 {
		return nil, 0, core.ErrIncompleteFrame
	}

	var (
		length     int
		header     int
		compressed bool
	)
	flag := buf[0]
	if flag&frameBigLength != 0 {
		if len(buf)-1 < 3 {
			return nil, 0, core.ErrIncompleteFrame
		}
		length = int(flag&^frameBigLength)<<24 | int(buf[1])<<16 | int(buf[2])<<8 | int(buf[3])
		header = 4
	} else {
		compressed = flag&frameCompressed != 0
		length = int(flag&0x3F)<<8 | int(buf[1])
		header = 2
	}

	if len(buf)-header < length {
		return nil, 0, core.ErrIncompleteFrame
	}
	body := buf[header : header+length]
	consumed = header + length

	if !compressed {
		payload = make([]byte, length)
		copy(payload, body)
		return payload, consumed, nil
	}

	payload, err = inflate(body)
	if err != nil {
		return nil, consumed, err
	}
	return payload, consumed, nil
}

// inflate decompresses raw DEFLATE data (no zlib header).
func inflate(body []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(body))
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("inflate %d bytes: %w: %w", len(body), core.ErrDecompress, err)
	}
	return out, nil
}

// AppendFrame appends payload wrapped in a frame header. When compress is set
// the payload is deflated and the small form is required.
func AppendFrame(dst, payload []byte, compress bool) ([]byte, error) {
	body := payload
	if compress {
		var buf bytes.Buffer
		w, err := flate.NewWriter(&buf, flate.BestCompression)
		if err != nil {
			return dst, err
		}
		if _, err := w.Write(payload); err != nil {
			return dst, err
		}
		if err := w.Close(); err != nil {
			return dst, err
		}
		body = buf.Bytes()
	}

	n := len(body)
	switch {
	case n <= MaxSmallFrame:
		b0 := byte(n >> 8)
		if compress {
			b0 |= frameCompressed
		}
		dst = append(dst, b0, byte(n))
	case compress:
		return dst, fmt.Errorf("compressed frame of %d bytes exceeds %d", n, MaxSmallFrame)
	case n <= MaxBigFrame:
		dst = append(dst, frameBigLength|byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
	default:
		return dst, fmt.Errorf("frame of %d bytes exceeds %d", n, MaxBigFrame)
	}
	return append(dst, body...), nil
}
