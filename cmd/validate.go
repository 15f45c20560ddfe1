package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration and codec schema",
	Long: `Load the configuration file and the codec schema it names without decoding
anything. Fails on invalid values, unknown schema keys and field types,
inheritance cycles and duplicate model ids.

Examples:
  tankidecode validate -c tankidecode.yml
  tankidecode validate --schema codecs.yml`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(cmd.OutOrStdout())
	},
}

func runValidate(w io.Writer) error {
	schema := cfg.Decode.Schema
	if schema == "" {
		schema = "built-in"
	}
	_, err := fmt.Fprintf(w, "VALID: framing %s, schema %s, %d model(s), %d redaction(s)\n",
		cfg.Decode.Framing, schema, registry.Len(), len(cfg.Decode.Redact))
	return err
}
