package cmd

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/valerka1292/tankidecode/internal/output"
)

var dumpCmd = &cobra.Command{
	Use:   "dump FILE",
	Short: "Decode a capture and print its events",
	Long: `Decode every record of a capture file.

The default output is one line per connection start and per command, with
CL> marking client commands and SV> server commands. --json writes a single
JSON array of flattened events and --pb a stream of length-delimited
google.protobuf.Struct messages.

Examples:
  tankidecode dump session.tnk
  tankidecode dump --json session.tnk > session.json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format := "text"
		switch {
		case dumpJSON:
			format = "json"
		case dumpProto:
			format = "pb"
		}
		return runDump(cmd.OutOrStdout(), args[0], format)
	},
}

var (
	dumpJSON  bool
	dumpProto bool
)

func init() {
	dumpCmd.Flags().BoolVarP(&dumpJSON, "json", "j", false, "write a JSON array")
	dumpCmd.Flags().BoolVar(&dumpProto, "pb", false, "write length-delimited protobuf Struct messages")
	dumpCmd.MarkFlagsMutuallyExclusive("json", "pb")
}

func runDump(w io.Writer, path, format string) error {
	r, f, err := openEvents(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var out output.Writer
	switch format {
	case "json":
		out = output.NewJSONWriter(w, cfg.Output.JSONIndent)
	case "pb":
		out = output.NewProtoWriter(w)
	default:
		out = output.NewTextWriter(w)
	}
	_, err = output.Copy(out, r)
	return err
}
