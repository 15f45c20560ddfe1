// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/valerka1292/tankidecode/internal/config"
	"github.com/valerka1292/tankidecode/internal/event"
	"github.com/valerka1292/tankidecode/internal/log"
	"github.com/valerka1292/tankidecode/internal/metrics"
	"github.com/valerka1292/tankidecode/internal/model"
)

var (
	// Global flags
	configFile string
	schemaFile string
	logLevel   string
	framing    string

	// Loaded by the root pre-run hook.
	cfg      *config.GlobalConfig
	registry *model.Registry
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tankidecode",
	Short: "tankidecode - decoder for recorded game protocol sessions",
	Long: `tankidecode reads TNK capture files and decodes the bit-packed game protocol
carried in them into readable events.

A capture holds timestamped begin, data and end records per connection.
Data payloads are decoded as control commands until the client opens a
space, and as space commands afterwards, using the built-in codecs plus an
optional codec schema.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup()
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if cfg == nil || cfg.Metrics.Textfile == "" {
			return nil
		}
		return metrics.WriteTextfile(cfg.Metrics.Textfile)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (defaults and TANKIDECODE_* environment when empty)")
	rootCmd.PersistentFlags().StringVar(&schemaFile, "schema", "",
		"codec schema file, overrides decode.schema")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"log level (trace/debug/info/warn/error), overrides log.level")
	rootCmd.PersistentFlags().StringVar(&framing, "framing", "",
		"data record framing (payload/wire), overrides decode.framing")

	// Add subcommands
	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(binCmd)
	rootCmd.AddCommand(frameCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(validateCmd)
}

// setup loads the configuration, applies flag overrides, initializes logging
// and builds the codec registry.
func setup() error {
	c, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if schemaFile != "" {
		c.Decode.Schema = schemaFile
	}
	if logLevel != "" {
		c.Log.Level = logLevel
	}
	if framing != "" {
		c.Decode.Framing = framing
	}
	if err := c.ValidateAndApplyDefaults(); err != nil {
		return err
	}
	if err := log.Init(c.Log); err != nil {
		return err
	}

	reg, err := loadRegistry(c.Decode.Schema)
	if err != nil {
		return err
	}
	cfg, registry = c, reg
	return nil
}

func loadRegistry(path string) (*model.Registry, error) {
	if path == "" {
		return model.NewRegistry(), nil
	}
	s, err := model.LoadSchema(path)
	if err != nil {
		return nil, err
	}
	reg, err := model.NewRegistryFromSchema(s)
	if err != nil {
		return nil, fmt.Errorf("schema %s: %w", path, err)
	}
	log.GetLogger().WithField("schema", path).Debugf("%d codecs registered", reg.Len())
	return reg, nil
}

// openEvents opens a capture file for decoding with the loaded configuration.
func openEvents(path string) (*event.Reader, *os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	rules := make([]event.Redaction, 0, len(cfg.Decode.Redact))
	for _, r := range cfg.Decode.Redact {
		rules = append(rules, event.Redaction{Codec: r.Codec, Field: r.Field})
	}
	r, err := event.NewReader(f, registry,
		event.WithFraming(cfg.Decode.Framing),
		event.WithRedactions(rules...),
		event.WithLogger(log.GetLogger()),
	)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, f, nil
}
