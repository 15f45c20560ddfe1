// Package core defines sentinel errors.
package core

import "errors"

// Sentinel errors following the ADR-021 error handling pattern.
var (
	// Capture container errors. These end the stream.
	ErrInvalidMagic      = errors.New("tnk: invalid magic")
	ErrTruncatedRecord   = errors.New("tnk: truncated record")
	ErrInvalidRecordType = errors.New("tnk: invalid record type")

	// Frame errors
	ErrIncompleteFrame = errors.New("tnk: incomplete frame")
	ErrDecompress      = errors.New("tnk: frame decompression failed")

	// Payload decoding errors. Recovered at record boundaries.
	ErrInsufficientData = errors.New("tnk: insufficient data")
	ErrInvalidUTF8      = errors.New("tnk: invalid utf-8 string")
	ErrUnknownModel     = errors.New("tnk: unknown model")
	ErrFieldDecode      = errors.New("tnk: field decode failed")
	ErrTrailingBytes    = errors.New("tnk: trailing bytes after commands")

	// ErrBitmapExhausted means more optional bits were consulted than the
	// header declared. It signals a codec/schema mismatch, not end of data.
	ErrBitmapExhausted = errors.New("tnk: optional bitmap exhausted")

	// ErrStateRegion is returned when the packed state widths do not fill the region exactly.
	ErrStateRegion = errors.New("tnk: state region size mismatch")

	// Codec schema errors
	ErrSchema = errors.New("tnk: invalid codec schema")

	// Configuration errors
	ErrConfigInvalid = errors.New("tnk: invalid configuration")
)

// IsStructural reports whether err ends a capture stream rather than a single record.
func IsStructural(err error) bool {
	return errors.Is(err, ErrInvalidMagic) ||
		errors.Is(err, ErrTruncatedRecord) ||
		errors.Is(err, ErrInvalidRecordType)
}
