package pcapimport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valerka1292/tankidecode/internal/capture"
	"github.com/valerka1292/tankidecode/internal/command"
	"github.com/valerka1292/tankidecode/internal/config"
	"github.com/valerka1292/tankidecode/internal/event"
	"github.com/valerka1292/tankidecode/internal/model"
	"github.com/valerka1292/tankidecode/internal/wire"
)

const (
	clientIP   = "10.0.0.1"
	serverIP   = "10.0.0.2"
	clientPort = 40000
	serverPort = 5190
)

var epoch = time.UnixMilli(1_700_000_000_000)

type segment struct {
	fromClient bool
	seq, ack   uint32
	syn, fin   bool
	payload    []byte
}

func tcpFrame(t *testing.T, s segment) []byte {
	t.Helper()
	src, dst := clientIP, serverIP
	sport, dport := uint16(clientPort), uint16(serverPort)
	if !s.fromClient {
		src, dst, sport, dport = dst, src, dport, sport
	}
	return ipFrame(t, src, dst, &layers.TCP{
		SrcPort: layers.TCPPort(sport),
		DstPort: layers.TCPPort(dport),
		Seq:     s.seq,
		Ack:     s.ack,
		SYN:     s.syn,
		ACK:     s.ack != 0,
		FIN:     s.fin,
		Window:  65535,
	}, s.payload)
}

func ipFrame(t *testing.T, src, dst string, transport gopacket.SerializableLayer, payload []byte) []byte {
	t.Helper()
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.ParseIP(src).To4(),
		DstIP:    net.ParseIP(dst).To4(),
	}
	switch l := transport.(type) {
	case *layers.TCP:
		require.NoError(t, l.SetNetworkLayerForChecksum(ip))
	case *layers.UDP:
		ip.Protocol = layers.IPProtocolUDP
		require.NoError(t, l.SetNetworkLayerForChecksum(ip))
	}
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
		DstMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 6},
		EthernetType: layers.EthernetTypeIPv4,
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, transport, gopacket.Payload(payload)))
	return buf.Bytes()
}

func writePcap(t *testing.T, frames ...[]byte) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	w := pcapgo.NewWriter(&buf)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))
	for i, f := range frames {
		ci := gopacket.CaptureInfo{
			Timestamp:     epoch.Add(time.Duration(i) * time.Millisecond),
			CaptureLength: len(f),
			Length:        len(f),
		}
		require.NoError(t, w.WritePacket(ci, f))
	}
	return &buf
}

func frame(t *testing.T, body ...byte) []byte {
	t.Helper()
	payload := append(wire.AppendOptionalBitmap(nil, nil), body...)
	b, err := wire.AppendFrame(nil, payload, false)
	require.NoError(t, err)
	return b
}

func session(t *testing.T) [][]byte {
	request := frame(t, command.ClientLog)
	response := frame(t, command.ServerMessage)
	return [][]byte{
		tcpFrame(t, segment{fromClient: true, seq: 100, syn: true}),
		tcpFrame(t, segment{seq: 500, ack: 101, syn: true}),
		tcpFrame(t, segment{fromClient: true, seq: 101, ack: 501, payload: request}),
		tcpFrame(t, segment{seq: 501, ack: 101 + uint32(len(request)), payload: response}),
		tcpFrame(t, segment{fromClient: true, seq: 101 + uint32(len(request)), ack: 501 + uint32(len(response)), fin: true}),
		tcpFrame(t, segment{seq: 501 + uint32(len(response)), ack: 102 + uint32(len(request)), fin: true}),
	}
}

func readRecords(t *testing.T, b []byte) (int64, []*capture.Record) {
	t.Helper()
	r, err := capture.NewReader(bytes.NewReader(b))
	require.NoError(t, err)
	var out []*capture.Record
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return r.Start(), out
		}
		require.NoError(t, err)
		out = append(out, rec)
	}
}

func TestImportSession(t *testing.T) {
	frames := session(t)
	udp := ipFrame(t, clientIP, serverIP, &layers.UDP{SrcPort: 1, DstPort: serverPort}, []byte("x"))
	other := ipFrame(t, clientIP, serverIP, &layers.TCP{SrcPort: 1, DstPort: 80, SYN: true}, nil)
	frames = append(frames, udp, other)

	var out bytes.Buffer
	stats, err := Import(context.Background(), writePcap(t, frames...), &out, Options{Ports: []int{serverPort}})
	require.NoError(t, err)
	assert.Equal(t, 8, stats.Packets)
	assert.Equal(t, 6, stats.Accepted)
	assert.Equal(t, 2, stats.Filtered)
	assert.Equal(t, 1, stats.Connections)
	assert.Equal(t, 4, stats.Records)

	start, recs := readRecords(t, out.Bytes())
	assert.Equal(t, epoch.UnixMilli(), start)
	require.Len(t, recs, 4)

	begin := recs[0]
	assert.Equal(t, capture.RecordBegin, begin.Type)
	assert.Equal(t, uint16(1), begin.ConnectionID)
	assert.Equal(t, "10.0.0.1:40000", begin.Source.String())
	assert.Equal(t, "10.0.0.2:5190", begin.Destination.String())

	assert.Equal(t, capture.RecordData, recs[1].Type)
	assert.True(t, recs[1].Outgoing)
	assert.Equal(t, frame(t, command.ClientLog), recs[1].Payload)
	assert.Equal(t, epoch.UnixMilli()+2, recs[1].Timestamp)

	assert.Equal(t, capture.RecordData, recs[2].Type)
	assert.False(t, recs[2].Outgoing)
	assert.Equal(t, frame(t, command.ServerMessage), recs[2].Payload)

	assert.Equal(t, capture.RecordEnd, recs[3].Type)
	assert.Equal(t, uint16(1), recs[3].ConnectionID)
}

func TestImportWithoutPortsUsesInitiator(t *testing.T) {
	var out bytes.Buffer
	stats, err := Import(context.Background(), writePcap(t, session(t)...), &out, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Connections)

	_, recs := readRecords(t, out.Bytes())
	require.Len(t, recs, 4)
	assert.Equal(t, "10.0.0.1:40000", recs[0].Source.String())
	assert.True(t, recs[1].Outgoing)
	assert.False(t, recs[2].Outgoing)
}

func TestImportDecodesWithWireFraming(t *testing.T) {
	var out bytes.Buffer
	_, err := Import(context.Background(), writePcap(t, session(t)...), &out, Options{Ports: []int{serverPort}})
	require.NoError(t, err)

	r, err := event.NewReader(&out, model.NewRegistry(), event.WithFraming(config.FramingWire))
	require.NoError(t, err)
	var names []string
	for {
		ev, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		if ce, ok := ev.(*event.CommandEvent); ok {
			require.False(t, ce.Placeholder(), "%v", ce.Err)
			names = append(names, ce.Command.Name)
		}
	}
	assert.Equal(t, []string{"CL_LOG", "SV_MESSAGE"}, names)
}

func TestImportEmptyCapture(t *testing.T) {
	var out bytes.Buffer
	stats, err := Import(context.Background(), writePcap(t), &out, Options{})
	require.NoError(t, err)
	assert.Zero(t, stats.Packets)

	start, recs := readRecords(t, out.Bytes())
	assert.Zero(t, start)
	assert.Empty(t, recs)
}

func TestImportRejectsGarbage(t *testing.T) {
	_, err := Import(context.Background(), bytes.NewReader([]byte("not a pcap file")), io.Discard, Options{})
	assert.Error(t, err)

	_, err = Import(context.Background(), writePcap(t), io.Discard, Options{Ports: []int{70000}})
	assert.Error(t, err)
}

func TestImportCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Import(ctx, writePcap(t, session(t)...), io.Discard, Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPortFilter(t *testing.T) {
	vm, err := newPortVM([]uint16{serverPort, 443})
	require.NoError(t, err)

	accepts := func(f []byte) bool {
		n, err := vm.Run(f)
		require.NoError(t, err)
		return n > 0
	}
	assert.True(t, accepts(tcpFrame(t, segment{fromClient: true, seq: 1, syn: true})))
	assert.True(t, accepts(tcpFrame(t, segment{seq: 1, ack: 2, syn: true})))
	assert.False(t, accepts(ipFrame(t, clientIP, serverIP, &layers.TCP{SrcPort: 1, DstPort: 80}, nil)))
	assert.False(t, accepts(ipFrame(t, clientIP, serverIP, &layers.UDP{SrcPort: 1, DstPort: serverPort}, nil)))
	assert.False(t, accepts([]byte{1, 2, 3}))

	all, err := newPortVM(nil)
	require.NoError(t, err)
	n, err := all.Run(ipFrame(t, clientIP, serverIP, &layers.TCP{SrcPort: 1, DstPort: 80}, nil))
	require.NoError(t, err)
	assert.Positive(t, n)
}

func TestConnectionIDsSkipZeroAndOpen(t *testing.T) {
	imp := &importer{nextID: 65534, active: map[uint16]*conn{1: {id: 1}, 65535: {id: 65535}}}

	var got []uint16
	for range 3 {
		id, ok := imp.allocID()
		require.True(t, ok)
		imp.active[id] = &conn{id: id}
		got = append(got, id)
	}
	assert.Equal(t, []uint16{65534, 2, 3}, got)
}

func TestConnectionIDsExhausted(t *testing.T) {
	imp := &importer{nextID: 1, active: make(map[uint16]*conn)}
	for id := 1; id <= 65535; id++ {
		imp.active[uint16(id)] = nil
	}
	_, ok := imp.allocID()
	assert.False(t, ok)
}
