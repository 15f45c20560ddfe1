// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/valerka1292/tankidecode/internal/core"
)

// Framing modes of Data record payloads.
const (
	// FramingPayload: every Data record holds one already unwrapped payload.
	FramingPayload = "payload"
	// FramingWire: Data records hold raw TCP bytes that still carry frame
	// headers and, once keyed, the stream cipher.
	FramingWire = "wire"
)

// GlobalConfig represents the top-level configuration.
// Maps to the `tankidecode:` root key in YAML.
type GlobalConfig struct {
	Log     LogConfig     `mapstructure:"log"`
	Decode  DecodeConfig  `mapstructure:"decode"`
	Output  OutputConfig  `mapstructure:"output"`
	Import  ImportConfig  `mapstructure:"import"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// ─── Decode ───

// DecodeConfig controls the event reader.
type DecodeConfig struct {
	Framing string       `mapstructure:"framing"` // payload / wire
	Schema  string       `mapstructure:"schema"`  // codec table; empty = built-in codecs only
	Redact  []RedactRule `mapstructure:"redact"`
}

// RedactRule masks one field of every space command decoded by Codec.
type RedactRule struct {
	Codec string `mapstructure:"codec"`
	Field string `mapstructure:"field"`
}

// ─── Output ───

// OutputConfig controls the dump writers.
type OutputConfig struct {
	JSONIndent int    `mapstructure:"json_indent"`
	DumpDir    string `mapstructure:"dump_dir"`
}

// ─── Import ───

// ImportConfig controls pcap import.
type ImportConfig struct {
	Ports []int `mapstructure:"ports"`
	// Pages of out-of-order data buffered per connection before the
	// assembler skips ahead.
	MaxBufferedPages int `mapstructure:"max_buffered_pages"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"` // empty = do not export
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level"`  // trace / debug / info / warn / error
	Format  string           `mapstructure:"format"` // text / json
	Pattern string           `mapstructure:"pattern"`
	Time    string           `mapstructure:"time"`
	Outputs LogOutputsConfig `mapstructure:"outputs"`
}

// LogOutputsConfig contains log output destinations besides stderr.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Path     string         `mapstructure:"path"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `tankidecode: ...`.
type configRoot struct {
	Tankidecode GlobalConfig `mapstructure:"tankidecode"`
}

// Load loads configuration. An empty path yields defaults plus environment
// overrides (TANKIDECODE_ prefix, e.g. TANKIDECODE_DECODE_FRAMING).
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Tankidecode

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets default values for configuration.
// All keys use "tankidecode." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Log defaults
	v.SetDefault("tankidecode.log.level", "info")
	v.SetDefault("tankidecode.log.format", "text")
	v.SetDefault("tankidecode.log.pattern", "%time [%level] %field: %msg\n")
	v.SetDefault("tankidecode.log.time", "2006-01-02 15:04:05.000")
	v.SetDefault("tankidecode.log.outputs.file.enabled", false)
	v.SetDefault("tankidecode.log.outputs.file.path", "tankidecode.log")
	v.SetDefault("tankidecode.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("tankidecode.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("tankidecode.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("tankidecode.log.outputs.file.rotation.compress", true)

	// Decode defaults
	v.SetDefault("tankidecode.decode.framing", FramingPayload)
	v.SetDefault("tankidecode.decode.schema", "")
	v.SetDefault("tankidecode.decode.redact", []map[string]any{
		{"codec": "LoginModelServer_login", "field": "password"},
	})

	// Output defaults
	v.SetDefault("tankidecode.output.json_indent", 4)
	v.SetDefault("tankidecode.output.dump_dir", "dump")

	// Import defaults
	v.SetDefault("tankidecode.import.ports", []int{})
	v.SetDefault("tankidecode.import.max_buffered_pages", 64)

	// Metrics defaults
	v.SetDefault("tankidecode.metrics.textfile", "")
}

// ValidateAndApplyDefaults validates configuration and applies runtime defaults.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("%w: log level %q (must be trace/debug/info/warn/error)", core.ErrConfigInvalid, cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("%w: log format %q (must be json/text)", core.ErrConfigInvalid, cfg.Log.Format)
	}
	if cfg.Log.Outputs.File.Enabled && cfg.Log.Outputs.File.Path == "" {
		return fmt.Errorf("%w: log.outputs.file.path is required when file output is enabled", core.ErrConfigInvalid)
	}

	// ── Decode validation ──
	if cfg.Decode.Framing == "" {
		cfg.Decode.Framing = FramingPayload
	}
	if cfg.Decode.Framing != FramingPayload && cfg.Decode.Framing != FramingWire {
		return fmt.Errorf("%w: decode.framing %q (must be payload/wire)", core.ErrConfigInvalid, cfg.Decode.Framing)
	}
	for i, r := range cfg.Decode.Redact {
		if r.Codec == "" || r.Field == "" {
			return fmt.Errorf("%w: decode.redact[%d] needs codec and field", core.ErrConfigInvalid, i)
		}
	}

	// ── Output ──
	if cfg.Output.JSONIndent < 0 {
		return fmt.Errorf("%w: output.json_indent %d is negative", core.ErrConfigInvalid, cfg.Output.JSONIndent)
	}
	if cfg.Output.DumpDir == "" {
		cfg.Output.DumpDir = "dump"
	}

	// ── Import ──
	for _, p := range cfg.Import.Ports {
		if p <= 0 || p > 65535 {
			return fmt.Errorf("%w: import port %d out of range", core.ErrConfigInvalid, p)
		}
	}
	if cfg.Import.MaxBufferedPages <= 0 {
		cfg.Import.MaxBufferedPages = 64
	}
	return nil
}
