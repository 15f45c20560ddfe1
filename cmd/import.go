package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/valerka1292/tankidecode/internal/pcapimport"
)

var importCmd = &cobra.Command{
	Use:   "import PCAP OUT",
	Short: "Convert TCP traffic from a pcap file into a capture",
	Long: `Reassemble the TCP connections of a pcap or pcapng file and write them as a
capture. Data records hold raw stream bytes, so decode the result with
--framing wire.

Examples:
  tankidecode import traffic.pcap session.tnk --port 5190
  tankidecode dump --framing wire session.tnk`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ports := importPorts
		if len(ports) == 0 {
			ports = cfg.Import.Ports
		}
		return runImport(cmd.Context(), cmd.OutOrStdout(), args[0], args[1], pcapimport.Options{
			Ports:            ports,
			MaxBufferedPages: cfg.Import.MaxBufferedPages,
		})
	},
}

var importPorts []int

func init() {
	importCmd.Flags().IntSliceVarP(&importPorts, "port", "p", nil, "game server port, repeatable; overrides import.ports")
}

func runImport(ctx context.Context, w io.Writer, in, out string, opts pcapimport.Options) error {
	src, err := os.Open(in)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(out)
	if err != nil {
		return err
	}
	stats, err := pcapimport.Import(ctx, src, dst, opts)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%d packets, %d accepted, %d filtered, %d undecodable\n",
		stats.Packets, stats.Accepted, stats.Filtered, stats.Undecodable)
	fmt.Fprintf(w, "%d connections, %d records written to %s\n", stats.Connections, stats.Records, out)
	return nil
}
