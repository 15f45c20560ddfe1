package output

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/valerka1292/tankidecode/internal/capture"
	"github.com/valerka1292/tankidecode/internal/command"
	"github.com/valerka1292/tankidecode/internal/event"
	"github.com/valerka1292/tankidecode/internal/model"
	"github.com/valerka1292/tankidecode/internal/wire"
)

const (
	testStart   = int64(1_700_000_000_000)
	speedMethod = 2001
)

func testRegistry(t *testing.T) *model.Registry {
	t.Helper()
	r := model.NewRegistry()
	require.NoError(t, r.Register(speedMethod, model.NewCodecFunc("SpeedModel_update", func(d *model.Decoder) (*model.Object, error) {
		o := model.NewObject("SpeedModel_update")
		v, err := d.Cursor.ReadFloat()
		if err != nil {
			return nil, err
		}
		o.Set("speed", v)
		return o, nil
	})))
	return r
}

func testCapture(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := capture.NewWriter(&buf, testStart)
	require.NoError(t, err)

	empty := wire.AppendOptionalBitmap(nil, nil)
	opened := append(append([]byte(nil), empty...), command.ClientSpaceOpened)
	opened = append(opened, make([]byte, command.HashSize)...)
	opened = binary.BigEndian.AppendUint64(opened, 1)

	speed := append([]byte(nil), empty...)
	speed = binary.BigEndian.AppendUint64(speed, 8)
	speed = binary.BigEndian.AppendUint64(speed, speedMethod)
	speed = binary.BigEndian.AppendUint32(speed, math.Float32bits(float32(math.NaN())))

	records := []*capture.Record{
		{Type: capture.RecordBegin, ConnectionID: 1, Outgoing: true,
			Source: capture.Endpoint{IP: "127.0.0.1", Port: 0}, Destination: capture.Endpoint{IP: "1.2.3.4", Port: 80}},
		{Type: capture.RecordData, ConnectionID: 1, Payload: append(append([]byte(nil), empty...), command.ServerMessage)},
		{Type: capture.RecordData, ConnectionID: 1, Outgoing: true, Payload: opened},
		{Type: capture.RecordData, ConnectionID: 1, Payload: speed},
		{Type: capture.RecordData, ConnectionID: 1, Payload: append(append([]byte(nil), empty...), 0xFF)},
		{Type: capture.RecordEnd, ConnectionID: 1, Outgoing: true},
	}
	for i, rec := range records {
		rec.Timestamp = testStart + int64(i)
		require.NoError(t, w.Write(rec))
	}
	return buf.Bytes()
}

func newReader(t *testing.T) *event.Reader {
	t.Helper()
	r, err := event.NewReader(bytes.NewReader(testCapture(t)), testRegistry(t))
	require.NoError(t, err)
	return r
}

func TestTextWriter(t *testing.T) {
	var out bytes.Buffer
	n, err := Copy(NewTextWriter(&out), newReader(t))
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, "Recording begins at 2023-11-14 22:13:20.000", lines[0])
	assert.Equal(t, "[1] 127.0.0.1:0 -> 1.2.3.4:80", lines[1])
	assert.Equal(t, `[1] SV> {"command_id":35}`, lines[2])
	assert.True(t, strings.HasPrefix(lines[3], `[1] CL> {"codec":"CL_SPACE_OPENED","hash":"0000`), lines[3])
	assert.Equal(t, `[1] SV> {"codec":"SpeedModel_update","speed":null}`, lines[4])
	assert.Equal(t, `[1] SV> "/w=="`, lines[5])
}

func TestJSONWriter(t *testing.T) {
	for _, indent := range []int{0, 4} {
		var out bytes.Buffer
		_, err := Copy(NewJSONWriter(&out, indent), newReader(t))
		require.NoError(t, err)

		var events []map[string]any
		require.NoError(t, json.Unmarshal(out.Bytes(), &events), out.String())
		require.Len(t, events, 6)

		assert.Equal(t, "begin", events[0]["type"])
		assert.Equal(t, "127.0.0.1:0", events[0]["source"])
		data := events[3]["data"].(map[string]any)
		assert.Nil(t, data["speed"])
		assert.Contains(t, data, "speed")
		assert.Equal(t, "end", events[5]["type"])
		assert.Equal(t, float64(6), events[5]["sequence"])

		if indent > 0 {
			assert.True(t, strings.HasPrefix(out.String(), "[\n    {\n        \"sequence\": 1,"), out.String())
		} else {
			assert.NotContains(t, out.String(), "\n    ")
		}
	}
}

func TestJSONWriterEmpty(t *testing.T) {
	var out bytes.Buffer
	w := NewJSONWriter(&out, 4)
	require.NoError(t, w.Close())
	assert.Equal(t, "[]\n", out.String())
}

func TestProtoWriter(t *testing.T) {
	var out bytes.Buffer
	_, err := Copy(NewProtoWriter(&out), newReader(t))
	require.NoError(t, err)

	msgs, err := ReadProto(&out)
	require.NoError(t, err)
	require.Len(t, msgs, 6)

	begin := msgs[0].AsMap()
	assert.Equal(t, "begin", begin["type"])
	assert.Equal(t, "1.2.3.4:80", begin["destination"])

	speed := msgs[3].GetFields()["data"].GetStructValue().GetFields()
	assert.Equal(t, "SpeedModel_update", speed["codec"].GetStringValue())
	assert.True(t, math.IsNaN(speed["speed"].GetNumberValue()))

	placeholder := msgs[4].AsMap()
	assert.Equal(t, "/w==", placeholder["data"])
	assert.Contains(t, placeholder, "error")
}

func TestDumpPayloads(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "dump")
	var report bytes.Buffer
	n, err := DumpPayloads(bytes.NewReader(testCapture(t)), dir, &report)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	got, err := os.ReadFile(filepath.Join(dir, "1.bin"))
	require.NoError(t, err)
	assert.Equal(t, []byte{command.ServerMessage}, got)

	_, err = os.Stat(filepath.Join(dir, "0.bin"))
	assert.True(t, os.IsNotExist(err))

	assert.Contains(t, report.String(), "Saved 1.bin, optional=[0]\n")
	assert.Contains(t, report.String(), "Saved 4.bin, optional=[0]\n")
}

type mockWriter struct {
	mock.Mock
}

func (m *mockWriter) Begin(start time.Time) error { return m.Called(start).Error(0) }
func (m *mockWriter) Write(ev event.Event) error   { return m.Called(ev).Error(0) }
func (m *mockWriter) Close() error                 { return m.Called().Error(0) }

func TestCopyStopsOnWriteError(t *testing.T) {
	w := new(mockWriter)
	w.On("Begin", time.UnixMilli(testStart).UTC()).Return(nil)
	w.On("Write", mock.AnythingOfType("*event.BeginEvent")).Return(nil).Once()
	w.On("Write", mock.AnythingOfType("*event.CommandEvent")).Return(errors.New("disk full")).Once()

	n, err := Copy(w, newReader(t))
	assert.EqualError(t, err, "disk full")
	assert.Equal(t, 1, n)
	w.AssertExpectations(t)
	w.AssertNotCalled(t, "Close")
}

func TestCopyClosesOnReaderError(t *testing.T) {
	data := testCapture(t)
	r, err := event.NewReader(bytes.NewReader(data[:len(data)-2]), testRegistry(t))
	require.NoError(t, err)

	w := new(mockWriter)
	w.On("Begin", mock.Anything).Return(nil)
	w.On("Write", mock.Anything).Return(nil)
	w.On("Close").Return(nil).Once()

	n, err := Copy(w, r)
	assert.Error(t, err)
	assert.Equal(t, 5, n)
	w.AssertExpectations(t)
}
