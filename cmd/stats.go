package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/valerka1292/tankidecode/internal/metrics"
)

var statsCmd = &cobra.Command{
	Use:   "stats FILE",
	Short: "Decode a capture and print decode counters",
	Long: `Decode a capture without printing events and show the counters collected
on the way: records, events and commands by kind, decode errors by reason.

--metrics-out also writes every counter in the Prometheus text format, for
the node exporter textfile collector.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if statsMetricsOut != "" {
			cfg.Metrics.Textfile = statsMetricsOut
		}
		return runStats(cmd.OutOrStdout(), args[0])
	},
}

var statsMetricsOut string

func init() {
	statsCmd.Flags().StringVar(&statsMetricsOut, "metrics-out", "", "write a Prometheus textfile, overrides metrics.textfile")
}

func runStats(w io.Writer, path string) error {
	r, f, err := openEvents(path)
	if err != nil {
		return err
	}
	defer f.Close()

	for {
		_, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
	}

	samples, err := metrics.Summary()
	if err != nil {
		return err
	}
	for _, s := range samples {
		fmt.Fprintf(w, "%s %g\n", s.Name, s.Value)
	}
	return nil
}
