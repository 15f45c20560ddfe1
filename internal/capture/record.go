// Package capture reads and writes the TNK capture container: a header
// followed by timestamped Begin, Data and End records per connection.
package capture

import (
	"fmt"
	"time"
)

// Magic starts every capture file.
const Magic = "TNK"

// RecordType tags a record.
type RecordType uint8

const (
	RecordBegin RecordType = 1
	RecordData  RecordType = 2
	RecordEnd   RecordType = 3
)

func (t RecordType) String() string {
	switch t {
	case RecordBegin:
		return "begin"
	case RecordData:
		return "data"
	case RecordEnd:
		return "end"
	default:
		return fmt.Sprintf("RecordType(%d)", uint8(t))
	}
}

// MaxIPLength bounds the textual endpoint address.
const MaxIPLength = 255

// Endpoint is one side of a captured connection.
type Endpoint struct {
	IP   string
	Port uint16
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.IP, e.Port)
}

// Record is one captured event. Source and Destination are set for Begin
// records, Payload for Data records. Readers never assume a Begin precedes
// the Data and End records of its connection.
type Record struct {
	Type         RecordType
	ConnectionID uint16
	Outgoing     bool
	// Timestamp is absolute, in milliseconds since the Unix epoch.
	Timestamp   int64
	Source      Endpoint
	Destination Endpoint
	Payload     []byte
}

// Time returns the record timestamp.
func (r *Record) Time() time.Time {
	return time.UnixMilli(r.Timestamp).UTC()
}

// fileHeader is the fixed container header.
type fileHeader struct {
	Magic [3]byte
	Start uint64
}

// recordHeader precedes every record body.
type recordHeader struct {
	Offset       uint32
	Flags        uint8
	ConnectionID uint16
}

func (h recordHeader) recordType() RecordType { return RecordType(h.Flags >> 4) }
func (h recordHeader) outgoing() bool         { return h.Flags&1 != 0 }

// endpointHeader precedes the address text of a Begin endpoint.
type endpointHeader struct {
	Port  uint16
	IPLen uint8
}

const (
	fileHeaderSize     = 11
	recordHeaderSize   = 7
	endpointHeaderSize = 3
)
