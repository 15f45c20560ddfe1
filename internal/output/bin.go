package output

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/valerka1292/tankidecode/internal/capture"
	"github.com/valerka1292/tankidecode/internal/wire"
)

// DumpPayloads writes the command bytes of every Data record, without the
// optional bitmap header, to dir/<record>.bin, where record counts records
// of every type. Each saved file is reported on report together with the raw
// header bytes.
func DumpPayloads(r io.Reader, dir string, report io.Writer) (int, error) {
	records, err := capture.NewReader(r)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, err
	}

	saved := 0
	for {
		rec, err := records.Next()
		if errors.Is(err, io.EOF) {
			return saved, nil
		}
		if err != nil {
			return saved, err
		}
		if rec.Type != capture.RecordData {
			continue
		}

		i := records.Index() - 1
		c := wire.NewCursor(rec.Payload)
		if _, err := wire.ReadOptionalBitmap(c); err != nil {
			fmt.Fprintf(report, "Skipped %d.bin: %v\n", i, err)
			continue
		}
		name := strconv.Itoa(i) + ".bin"
		if err := os.WriteFile(filepath.Join(dir, name), c.Rest(), 0o644); err != nil {
			return saved, err
		}
		saved++
		fmt.Fprintf(report, "Saved %s, optional=%s\n", name, byteList(c.Consumed()))
	}
}

func byteList(b []byte) string {
	parts := make([]string, len(b))
	for i, v := range b {
		parts[i] = strconv.Itoa(int(v))
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
