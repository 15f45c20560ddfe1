// Package cipher implements the transport obfuscation applied to protected
// connections after the hash handshake.
package cipher

// HashSize is the length of the protocol hash the key is derived from.
const HashSize = 32

const (
	slots        = 8
	clientMask   = 0x57
	selectorMask = 7
)

// Stream is a stateful per-connection substitution cipher with independent
// client and server state.
//
// Algorithm, per byte b of one direction:
//   - n = int8(b) ^ state[sel]
//   - emit byte(n), state[sel] = n
//   - sel ^= n & 7
//
// A Stream is not safe for concurrent use; one instance belongs to one connection.
type Stream struct {
	seed      int8
	client    [slots]int8
	server    [slots]int8
	clientSel int8
	serverSel int8
}

// New derives the key from the protocol hash and the two halves of the
// connection id and returns a freshly reset Stream.
func New(hash [HashSize]byte, idHigh, idLow uint32) *Stream {
	var seed byte
	for _, b := range hash {
		seed ^= b
	}
	for _, id := range [2]uint32{idHigh, idLow} {
		seed ^= byte(id >> 24)
		seed ^= byte(id >> 16)
		seed ^= byte(id >> 8)
		seed ^= byte(id)
	}
	s := &Stream{seed: int8(seed)}
	s.Reset()
	return s
}

// Seed returns the signed seed both sequences derive from.
func (s *Stream) Seed() int8 { return s.seed }

// Reset rebuilds both sequences and selectors from the seed. Only an explicit
// re-key calls this; a fresh Stream is already reset.
func (s *Stream) Reset() {
	for i := range slots {
		s.server[i] = s.seed ^ int8(i<<3)
		s.client[i] = s.server[i] ^ clientMask
	}
	s.clientSel = 0
	s.serverSel = 0
}

// UnwrapClient decodes client-to-server bytes in place.
func (s *Stream) UnwrapClient(data []byte) {
	unwrap(data, &s.client, &s.clientSel)
}

// UnwrapServer decodes server-to-client bytes in place.
func (s *Stream) UnwrapServer(data []byte) {
	unwrap(data, &s.server, &s.serverSel)
}

// Unwrap decodes data in place using the state of the given direction.
func (s *Stream) Unwrap(data []byte, outgoing bool) {
	if outgoing {
		s.UnwrapClient(data)
		return
	}
	s.UnwrapServer(data)
}

func unwrap(data []byte, state *[slots]int8, sel *int8) {
	for i, b := range data {
		n := int8(b) ^ state[*sel]
		data[i] = byte(n)
		state[*sel] = n
		*sel ^= n & selectorMask
	}
}

// Wrap encodes data in place so that Unwrap on a Stream keyed the same way
// restores it. Captures are decoded with Unwrap; Wrap builds test traffic.
func (s *Stream) Wrap(data []byte, outgoing bool) {
	if outgoing {
		wrap(data, &s.client, &s.clientSel)
		return
	}
	wrap(data, &s.server, &s.serverSel)
}

func wrap(data []byte, state *[slots]int8, sel *int8) {
	for i, b := range data {
		n := int8(b)
		data[i] = byte(n ^ state[*sel])
		state[*sel] = n
		*sel ^= n & selectorMask
	}
}
