package log

import (
	"fmt"
	"io"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/valerka1292/tankidecode/internal/config"
)

type MultiWriter struct {
	writers []io.Writer
}

func (m *MultiWriter) Write(p []byte) (n int, err error) {
	for _, w := range m.writers {
		_, e := w.Write(p)
		if e != nil {
			err = e
		}
	}
	return len(p), err
}

func (m *MultiWriter) Add(writer io.Writer) *MultiWriter {
	m.writers = append(m.writers, writer)
	return m
}

// AddFileAppender adds a rotating file output.
func (m *MultiWriter) AddFileAppender(fc config.FileOutputConfig) (*MultiWriter, error) {
	if fc.Path == "" {
		return m, fmt.Errorf("file output requires 'path' field")
	}
	m.writers = append(m.writers, &lumberjack.Logger{
		Filename:   fc.Path,
		MaxSize:    fc.Rotation.MaxSizeMB, // megabytes
		MaxBackups: fc.Rotation.MaxBackups,
		MaxAge:     fc.Rotation.MaxAgeDays, // days
		Compress:   fc.Rotation.Compress,
	})
	return m, nil
}

func NewMultiWriter() *MultiWriter {
	return &MultiWriter{writers: make([]io.Writer, 0)}
}
