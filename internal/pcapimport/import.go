// Package pcapimport converts TCP traffic from a pcap or pcapng file into a
// capture container whose Data records hold raw, in-order stream bytes.
// Decode the result with wire framing.
package pcapimport

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/google/gopacket/tcpassembly"
	"golang.org/x/net/bpf"

	"github.com/valerka1292/tankidecode/internal/capture"
	"github.com/valerka1292/tankidecode/internal/log"
	"github.com/valerka1292/tankidecode/internal/metrics"
)

// Packet results, the label values of metrics.ImportPacketsTotal.
const (
	ResultAccepted    = "accepted"
	ResultFiltered    = "filtered"
	ResultUndecodable = "undecodable"
)

var pcapngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

// Options configures an import.
type Options struct {
	// Ports are the game server ports. Segments sent to one of them are
	// outgoing; segments on other ports are dropped. When empty every TCP
	// connection is kept and its initiator is the client.
	Ports []int
	// MaxBufferedPages bounds the out-of-order data held by the reassembler.
	MaxBufferedPages int
	Logger           log.Logger
}

// Stats summarizes an import.
type Stats struct {
	Packets     int
	Accepted    int
	Filtered    int
	Undecodable int
	Connections int
	Records     int
}

type packetSource interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// Import reads every packet from in and writes the reassembled connections
// to out. The container starts at the first packet's timestamp.
func Import(ctx context.Context, in io.Reader, out io.Writer, opts Options) (*Stats, error) {
	src, err := openSource(in)
	if err != nil {
		return nil, err
	}
	ports, err := serverPorts(opts.Ports)
	if err != nil {
		return nil, err
	}

	imp := &importer{
		out:    out,
		ports:  ports,
		conns:  make(map[connKey]*conn),
		active: make(map[uint16]*conn),
		nextID: 1,
		log:    opts.Logger,
		stats:  &Stats{},
	}
	if imp.log == nil {
		imp.log = log.GetLogger()
	}
	if src.LinkType() == layers.LinkTypeEthernet {
		if imp.vm, err = newPortVM(ports); err != nil {
			return nil, err
		}
	}

	assembler := tcpassembly.NewAssembler(tcpassembly.NewStreamPool(imp))
	if opts.MaxBufferedPages > 0 {
		assembler.MaxBufferedPagesTotal = opts.MaxBufferedPages
	}

	for {
		if err := ctx.Err(); err != nil {
			return imp.stats, err
		}
		data, ci, err := src.ReadPacketData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return imp.stats, fmt.Errorf("reading packet %d: %w", imp.stats.Packets+1, err)
		}
		imp.stats.Packets++
		if err := imp.begin(ci.Timestamp); err != nil {
			return imp.stats, err
		}

		netFlow, tcp, result := imp.classify(data, src.LinkType())
		imp.count(result)
		if result != ResultAccepted {
			continue
		}
		imp.now, imp.cur = ci.Timestamp, tcp
		assembler.AssembleWithTimestamp(netFlow, tcp, ci.Timestamp)
		if imp.err != nil {
			return imp.stats, imp.err
		}
	}

	if err := imp.begin(time.UnixMilli(0)); err != nil {
		return imp.stats, err
	}
	assembler.FlushAll()
	imp.log.WithFields(map[string]interface{}{
		"packets":     imp.stats.Packets,
		"accepted":    imp.stats.Accepted,
		"connections": imp.stats.Connections,
		"records":     imp.stats.Records,
	}).Info("pcap import finished")
	return imp.stats, imp.err
}

func openSource(in io.Reader) (packetSource, error) {
	br := bufio.NewReader(in)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("reading pcap header: %w", err)
	}
	if slices.Equal(magic, pcapngMagic) {
		r, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, fmt.Errorf("opening pcapng: %w", err)
		}
		return r, nil
	}
	r, err := pcapgo.NewReader(br)
	if err != nil {
		return nil, fmt.Errorf("opening pcap: %w", err)
	}
	return r, nil
}

func serverPorts(ports []int) ([]uint16, error) {
	out := make([]uint16, 0, len(ports))
	for _, p := range ports {
		if p <= 0 || p > 65535 {
			return nil, fmt.Errorf("invalid port %d", p)
		}
		if !slices.Contains(out, uint16(p)) {
			out = append(out, uint16(p))
		}
	}
	return out, nil
}

type importer struct {
	out   io.Writer
	w     *capture.Writer
	vm    *bpf.VM
	ports []uint16
	log   log.Logger

	conns  map[connKey]*conn
	active map[uint16]*conn
	nextID uint16

	// now and cur describe the packet being assembled.
	now time.Time
	cur *layers.TCP

	stats *Stats
	err   error
}

// begin writes the container header once, at the first packet.
func (imp *importer) begin(ts time.Time) error {
	if imp.w != nil {
		return nil
	}
	w, err := capture.NewWriter(imp.out, ts.UnixMilli())
	if err != nil {
		return err
	}
	imp.w = w
	return nil
}

func (imp *importer) classify(data []byte, link layers.LinkType) (gopacket.Flow, *layers.TCP, string) {
	if imp.vm != nil {
		if n, err := imp.vm.Run(data); err != nil || n == 0 {
			return gopacket.Flow{}, nil, ResultFiltered
		}
	}

	pkt := gopacket.NewPacket(data, link, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	network := pkt.NetworkLayer()
	tcp, _ := pkt.Layer(layers.LayerTypeTCP).(*layers.TCP)
	if tcp == nil || network == nil {
		if pkt.ErrorLayer() != nil {
			return gopacket.Flow{}, nil, ResultUndecodable
		}
		return gopacket.Flow{}, nil, ResultFiltered
	}
	if len(imp.ports) > 0 && !imp.isServerPort(uint16(tcp.SrcPort)) && !imp.isServerPort(uint16(tcp.DstPort)) {
		return gopacket.Flow{}, nil, ResultFiltered
	}
	return network.NetworkFlow(), tcp, ResultAccepted
}

func (imp *importer) count(result string) {
	metrics.ImportPacketsTotal.WithLabelValues(result).Inc()
	switch result {
	case ResultAccepted:
		imp.stats.Accepted++
	case ResultFiltered:
		imp.stats.Filtered++
	case ResultUndecodable:
		imp.stats.Undecodable++
	}
}

func (imp *importer) isServerPort(p uint16) bool {
	return slices.Contains(imp.ports, p)
}

// write stores rec, clamping timestamps that precede the first packet.
// The first failure sticks and stops the import.
func (imp *importer) write(rec *capture.Record, ts time.Time) {
	if imp.err != nil {
		return
	}
	rec.Timestamp = max(ts.UnixMilli(), imp.w.Start())
	if err := imp.w.Write(rec); err != nil {
		imp.err = fmt.Errorf("writing %s record for connection %d: %w", rec.Type, rec.ConnectionID, err)
		return
	}
	imp.stats.Records++
}

func endpoint(ip, port gopacket.Endpoint) capture.Endpoint {
	return capture.Endpoint{IP: ip.String(), Port: binary.BigEndian.Uint16(port.Raw())}
}
