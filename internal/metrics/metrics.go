// Package metrics implements Prometheus metrics.
package metrics

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"

	"github.com/valerka1292/tankidecode/internal/core"
)

const namespace = "tankidecode"

var (
	// RecordsTotal counts capture records read by type
	RecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Total number of capture records read",
		},
		[]string{"type"},
	)

	// EventsTotal counts emitted events by kind
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Total number of events emitted",
		},
		[]string{"kind"},
	)

	// CommandsTotal counts decoded commands by channel
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Total number of commands decoded",
		},
		[]string{"channel"},
	)

	// DecodeErrorsTotal counts payloads abandoned mid-decode by reason
	DecodeErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Total number of payloads whose decode stopped on an error",
		},
		[]string{"reason"},
	)

	// FramesTotal counts unwrapped wire frames
	FramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Total number of wire frames unwrapped",
		},
		[]string{"compressed"},
	)

	// PayloadBytesTotal counts payload bytes handed to the command decoders
	PayloadBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payload_bytes_total",
			Help:      "Total number of payload bytes decoded",
		},
	)

	// ImportPacketsTotal counts pcap packets seen by the importer
	ImportPacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_packets_total",
			Help:      "Total number of pcap packets processed by import",
		},
		[]string{"result"},
	)
)

// Decode error reasons
const (
	ReasonUnknownModel     = "unknown_model"
	ReasonBitmapExhausted  = "bitmap_exhausted"
	ReasonInsufficientData = "insufficient_data"
	ReasonTrailingBytes    = "trailing_bytes"
	ReasonDecompress       = "decompress"
	ReasonInvalidUTF8      = "invalid_utf8"
	ReasonFieldDecode      = "field_decode"
	ReasonOther            = "other"
)

// ErrorReason classifies a decode error for the reason label.
// The most specific sentinel wins.
func ErrorReason(err error) string {
	switch {
	case errors.Is(err, core.ErrUnknownModel):
		return ReasonUnknownModel
	case errors.Is(err, core.ErrBitmapExhausted):
		return ReasonBitmapExhausted
	case errors.Is(err, core.ErrInsufficientData):
		return ReasonInsufficientData
	case errors.Is(err, core.ErrTrailingBytes):
		return ReasonTrailingBytes
	case errors.Is(err, core.ErrDecompress):
		return ReasonDecompress
	case errors.Is(err, core.ErrInvalidUTF8):
		return ReasonInvalidUTF8
	case errors.Is(err, core.ErrFieldDecode):
		return ReasonFieldDecode
	default:
		return ReasonOther
	}
}

// WriteTextfile writes every registered metric in the text exposition
// format, for the node exporter textfile collector.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("writing metrics to %s: %w", path, err)
	}
	return nil
}

// Sample is one counter value.
type Sample struct {
	Name  string
	Value float64
}

// Summary returns the non-zero tankidecode counters sorted by name, labels
// rendered as name{k="v"}.
func Summary() ([]Sample, error) {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return nil, err
	}
	var out []Sample
	for _, mf := range families {
		if !strings.HasPrefix(mf.GetName(), namespace+"_") || mf.GetType() != dto.MetricType_COUNTER {
			continue
		}
		for _, m := range mf.GetMetric() {
			v := m.GetCounter().GetValue()
			if v == 0 {
				continue
			}
			out = append(out, Sample{Name: sampleName(mf.GetName(), m.GetLabel()), Value: v})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func sampleName(name string, labels []*dto.LabelPair) string {
	if len(labels) == 0 {
		return name
	}
	parts := make([]string, 0, len(labels))
	for _, l := range labels {
		parts = append(parts, fmt.Sprintf("%s=%q", l.GetName(), l.GetValue()))
	}
	return name + "{" + strings.Join(parts, ",") + "}"
}
