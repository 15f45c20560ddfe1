package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valerka1292/tankidecode/internal/core"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.False(t, cfg.Log.Outputs.File.Enabled)
	assert.Equal(t, FramingPayload, cfg.Decode.Framing)
	assert.Equal(t, []RedactRule{{Codec: "LoginModelServer_login", Field: "password"}}, cfg.Decode.Redact)
	assert.Equal(t, 4, cfg.Output.JSONIndent)
	assert.Equal(t, "dump", cfg.Output.DumpDir)
	assert.Equal(t, 64, cfg.Import.MaxBufferedPages)
	assert.Empty(t, cfg.Metrics.Textfile)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
tankidecode:
  log:
    level: DEBUG
    format: json
    outputs:
      file:
        enabled: true
        path: /tmp/tankidecode-test.log
  decode:
    framing: wire
    schema: codecs.yaml
    redact:
      - codec: LoginModelServer_login
        field: password
      - codec: RegistrationModelServer_register
        field: password
  output:
    json_indent: 2
  import:
    ports: [5190, 15050]
  metrics:
    textfile: /tmp/tankidecode.prom
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.True(t, cfg.Log.Outputs.File.Enabled)
	assert.Equal(t, 100, cfg.Log.Outputs.File.Rotation.MaxSizeMB)
	assert.Equal(t, FramingWire, cfg.Decode.Framing)
	assert.Equal(t, "codecs.yaml", cfg.Decode.Schema)
	assert.Len(t, cfg.Decode.Redact, 2)
	assert.Equal(t, 2, cfg.Output.JSONIndent)
	assert.Equal(t, []int{5190, 15050}, cfg.Import.Ports)
	assert.Equal(t, "/tmp/tankidecode.prom", cfg.Metrics.Textfile)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("TANKIDECODE_DECODE_FRAMING", "wire")
	t.Setenv("TANKIDECODE_LOG_LEVEL", "warn")

	cfg, err := Load(writeConfig(t, "tankidecode:\n  decode:\n    framing: payload\n"))
	require.NoError(t, err)
	assert.Equal(t, FramingWire, cfg.Decode.Framing)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad level", "tankidecode:\n  log:\n    level: loud\n"},
		{"bad format", "tankidecode:\n  log:\n    format: xml\n"},
		{"bad framing", "tankidecode:\n  decode:\n    framing: tls\n"},
		{"bad redact", "tankidecode:\n  decode:\n    redact:\n      - codec: X\n"},
		{"bad port", "tankidecode:\n  import:\n    ports: [70000]\n"},
		{"negative indent", "tankidecode:\n  output:\n    json_indent: -1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.ErrorIs(t, err, core.ErrConfigInvalid)
		})
	}
}
