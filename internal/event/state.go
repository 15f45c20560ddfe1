package event

import (
	"github.com/valerka1292/tankidecode/internal/cipher"
)

// ConnectionState is what the reader remembers about one connection.
type ConnectionState struct {
	// Space is set once the client reports the space opened. Later payloads
	// decode as space commands.
	Space bool

	// Cipher is set when the connection was keyed for stream protection.
	// Only wire framing applies it.
	Cipher *cipher.Stream

	// pending holds wire-mode bytes not yet forming a complete frame,
	// indexed by direction (0 server to client, 1 client to server).
	pending [2][]byte
}

func direction(outgoing bool) int {
	if outgoing {
		return 1
	}
	return 0
}

// Pending returns the number of buffered wire-mode bytes for a direction.
func (s *ConnectionState) Pending(outgoing bool) int {
	return len(s.pending[direction(outgoing)])
}
