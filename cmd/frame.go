package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/valerka1292/tankidecode/internal/command"
	"github.com/valerka1292/tankidecode/internal/log"
	"github.com/valerka1292/tankidecode/internal/model"
	"github.com/valerka1292/tankidecode/internal/wire"
)

var frameCmd = &cobra.Command{
	Use:   "frame FILE",
	Short: "Decode a single space payload",
	Long: `Decode a file holding one space payload, such as a file written by 'bin'.

By default the payload starts with its optional bitmap header. With --bitmap
the file holds the commands only and the header is given on the command line,
as hex ("2a0f") or as a list ("0x2a,0x0f"). --unwrap first strips the length
prefix of a wire frame and inflates it when compressed.

Examples:
  tankidecode frame dump/12.bin --bitmap 0x00
  tankidecode frame packet.raw --unwrap`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFrame(cmd.OutOrStdout(), args[0], frameBitmap, frameUnwrap)
	},
}

var (
	frameBitmap string
	frameUnwrap bool
)

func init() {
	frameCmd.Flags().StringVarP(&frameBitmap, "bitmap", "b", "", "optional bitmap header to decode with")
	frameCmd.Flags().BoolVarP(&frameUnwrap, "unwrap", "u", false, "strip a wire frame header first")
}

func runFrame(w io.Writer, path, bitmap string, unwrap bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if unwrap {
		payload, n, err := wire.UnwrapFrame(data)
		if err != nil {
			return fmt.Errorf("unwrapping frame: %w", err)
		}
		if n < len(data) {
			log.GetLogger().Warnf("%d bytes after the frame ignored", len(data)-n)
		}
		data = payload
	}

	c := wire.NewCursor(data)
	var opt *wire.OptionalBitmap
	if bitmap != "" {
		opt, err = wire.ParseOptionalBitmapHex(bitmap)
	} else {
		opt, err = wire.ReadOptionalBitmap(c)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(w, opt)

	cmds, decodeErr := command.DecodeAll(command.NewSpaceDecoder(registry), c, opt)
	for _, cmd := range cmds {
		rec := model.NewRecord()
		rec.Set("object_id", cmd.ObjectID)
		rec.Set("method_id", cmd.MethodID)
		rec.Set("name", cmd.Name)
		rec.Set("data", cmd.Data)
		b, err := rec.MarshalJSON()
		if err != nil {
			return err
		}
		var buf bytes.Buffer
		if err := json.Indent(&buf, b, "", "    "); err != nil {
			return err
		}
		buf.WriteByte('\n')
		if _, err := buf.WriteTo(w); err != nil {
			return err
		}
	}
	if decodeErr != nil {
		fmt.Fprintf(w, "stopped with %s\n", opt)
		return decodeErr
	}
	return nil
}
