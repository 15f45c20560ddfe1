package pcapimport

import (
	"fmt"
	"math"

	"github.com/google/gopacket"
	"github.com/google/gopacket/tcpassembly"

	"github.com/valerka1292/tankidecode/internal/capture"
)

type connKey struct {
	net, transport gopacket.Flow
}

func (k connKey) reverse() connKey {
	return connKey{k.net.Reverse(), k.transport.Reverse()}
}

// conn is one captured TCP connection. Each direction is a separate
// reassembled stream; End is written once both have completed.
type conn struct {
	id     uint16
	client connKey
	open   int
	// done is indexed by direction, 1 for outgoing.
	done [2]bool
}

// New implements tcpassembly.StreamFactory. It is called for the first
// segment of each direction.
func (imp *importer) New(net, transport gopacket.Flow) tcpassembly.Stream {
	key := connKey{net, transport}
	c, known := imp.conns[key]

	var outgoing bool
	switch {
	case len(imp.ports) > 0:
		outgoing = imp.isServerPort(uint16(imp.cur.DstPort))
	case known:
		outgoing = key == c.client
	default:
		// the initiator is the client
		outgoing = !(imp.cur.SYN && imp.cur.ACK)
	}

	dir := 0
	if outgoing {
		dir = 1
	}
	if known && c.done[dir] {
		if !imp.cur.SYN {
			// stray segment after the direction closed
			return discard{}
		}
		known = false
	}

	if !known {
		id, ok := imp.allocID()
		if !ok {
			imp.err = fmt.Errorf("more than %d connections open at once", math.MaxUint16)
			return discard{}
		}
		c = &conn{id: id, client: key}
		if !outgoing {
			c.client = key.reverse()
		}
		imp.active[id] = c
		imp.conns[key] = c
		imp.conns[key.reverse()] = c
		imp.stats.Connections++

		src, dst := endpoint(net.Src(), transport.Src()), endpoint(net.Dst(), transport.Dst())
		if !outgoing {
			src, dst = dst, src
		}
		imp.write(&capture.Record{
			Type:         capture.RecordBegin,
			ConnectionID: c.id,
			Outgoing:     true,
			Source:       src,
			Destination:  dst,
		}, imp.now)
		imp.log.WithField("connection", c.id).Debugf("connection %s -> %s", src, dst)
	}
	c.open++
	return &stream{imp: imp, conn: c, outgoing: outgoing}
}

// allocID returns the next connection id that is neither 0 nor held by an
// open connection.
func (imp *importer) allocID() (uint16, bool) {
	for range math.MaxUint16 + 1 {
		id := imp.nextID
		imp.nextID++
		if id == 0 {
			continue
		}
		if _, open := imp.active[id]; !open {
			return id, true
		}
	}
	return 0, false
}

// stream writes one direction of a connection as Data records.
type stream struct {
	imp      *importer
	conn     *conn
	outgoing bool
}

func (s *stream) Reassembled(rs []tcpassembly.Reassembly) {
	for _, r := range rs {
		if r.Skip != 0 {
			s.imp.log.WithField("connection", s.conn.id).
				WithField("outgoing", s.outgoing).
				Warnf("stream gap, %d bytes lost", r.Skip)
		}
		if len(r.Bytes) == 0 {
			continue
		}
		s.imp.write(&capture.Record{
			Type:         capture.RecordData,
			ConnectionID: s.conn.id,
			Outgoing:     s.outgoing,
			Payload:      r.Bytes,
		}, r.Seen)
	}
}

func (s *stream) ReassemblyComplete() {
	dir := 0
	if s.outgoing {
		dir = 1
	}
	s.conn.done[dir] = true
	s.conn.open--
	if s.conn.open > 0 {
		return
	}
	delete(s.imp.active, s.conn.id)
	s.imp.write(&capture.Record{
		Type:         capture.RecordEnd,
		ConnectionID: s.conn.id,
		Outgoing:     true,
	}, s.imp.now)
}

type discard struct{}

func (discard) Reassembled([]tcpassembly.Reassembly) {}
func (discard) ReassemblyComplete()                  {}
