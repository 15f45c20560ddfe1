package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/valerka1292/tankidecode/internal/output"
)

var binCmd = &cobra.Command{
	Use:   "bin FILE",
	Short: "Save the payload of every data record to its own file",
	Long: `Write the command bytes of each data record, without the optional bitmap
header, to DIR/<record>.bin. The record index counts records of every type.
The header bytes are printed next to each saved file; feed them back with
'frame --bitmap' to decode the file.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := binOutDir
		if dir == "" {
			dir = cfg.Output.DumpDir
		}
		return runBin(cmd.OutOrStdout(), args[0], dir)
	},
}

var binOutDir string

func init() {
	binCmd.Flags().StringVarP(&binOutDir, "out", "o", "", "output directory, overrides output.dump_dir")
}

func runBin(w io.Writer, path, dir string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	n, err := output.DumpPayloads(f, dir, w)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%d payloads written to %s\n", n, dir)
	return nil
}
