package logstream

import (
	"bytes"
	"io"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roboto-ai/topicdata/pkg/models"
)

type message struct {
	logTime uint64
	value   any
}

func writeContainer(t *testing.T, encoding string, msgs []message) *bytes.Reader {
	t.Helper()
	var buf bytes.Buffer
	w, err := NewWriter(&buf, encoding)
	require.NoError(t, err)
	for _, m := range msgs {
		require.NoError(t, w.Write("/imu", m.logTime, m.value))
	}
	require.NoError(t, w.Close())
	return bytes.NewReader(buf.Bytes())
}

func mps(paths ...string) []models.MessagePath {
	out := make([]models.MessagePath, len(paths))
	for i, p := range paths {
		out[i] = models.MessagePath{Path: p}
	}
	return out
}

func drain(t *testing.T, r *Reader) ([]int64, []models.Record) {
	t.Helper()
	var times []int64
	var records []models.Record
	for r.HasNext() {
		times = append(times, r.PeekTimestamp())
		rec, err := r.Next()
		require.NoError(t, err)
		records = append(records, rec)
	}
	require.NoError(t, r.Err())
	return times, records
}

func TestReaderJSON(t *testing.T) {
	src := writeContainer(t, EncodingJSON, []message{
		{10, map[string]any{"pose": map[string]any{"x": 1, "y": 2}}},
		{20, map[string]any{"pose": map[string]any{"x": 3, "y": 4}}},
	})

	r, err := NewReader(src, mps("pose.x"))
	require.NoError(t, err)

	times, records := drain(t, r)
	assert.Equal(t, []int64{10, 20}, times)
	assert.Equal(t, []models.Record{
		{"pose": models.Record{"x": int64(1)}},
		{"pose": models.Record{"x": int64(3)}},
	}, records)

	assert.False(t, r.HasNext())
	assert.Equal(t, int64(math.MaxInt64), r.PeekTimestamp())
	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReaderMsgpack(t *testing.T) {
	src := writeContainer(t, EncodingMsgpack, []message{
		{5, map[string]any{"speed": 1.5, "label": "a"}},
	})

	r, err := NewReader(src, mps("speed"))
	require.NoError(t, err)

	_, records := drain(t, r)
	require.Len(t, records, 1)
	assert.Equal(t, models.Record{"speed": 1.5}, records[0])
}

func TestReaderWindow(t *testing.T) {
	var msgs []message
	for ts := uint64(0); ts < 100; ts += 10 {
		msgs = append(msgs, message{ts, map[string]any{"v": ts}})
	}
	src := writeContainer(t, EncodingJSON, msgs)

	r, err := NewReader(src, mps("v"), WithWindow(models.Window{Start: 20, End: 50}))
	require.NoError(t, err)

	times, _ := drain(t, r)
	assert.Equal(t, []int64{20, 30, 40}, times)
}

func TestReaderIsTimeAligned(t *testing.T) {
	src := writeContainer(t, EncodingJSON, []message{
		{10, map[string]any{"v": 1}},
		{10, map[string]any{"v": 2}},
		{30, map[string]any{"v": 3}},
	})

	r, err := NewReader(src, mps("v"))
	require.NoError(t, err)

	assert.True(t, r.IsTimeAligned(10))
	_, err = r.Next()
	require.NoError(t, err)
	assert.True(t, r.IsTimeAligned(10))
	_, err = r.Next()
	require.NoError(t, err)
	assert.False(t, r.IsTimeAligned(10))
	assert.True(t, r.IsTimeAligned(30))
}

func TestReaderSkipsUnknownEncodings(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, EncodingJSON)
	require.NoError(t, err)
	require.NoError(t, w.WriteRaw("/camera", "x-custom", 1, []byte{0xde, 0xad}))
	require.NoError(t, w.Write("/imu", 2, map[string]any{"v": 1}))
	require.NoError(t, w.Close())

	r, err := NewReader(bytes.NewReader(buf.Bytes()), mps("v"))
	require.NoError(t, err)

	times, _ := drain(t, r)
	assert.Equal(t, []int64{2}, times)
}

type upperFactory struct{}

func (upperFactory) DecoderFor(encoding string, _ Schema) (Decoder, bool) {
	if encoding != "x-custom" {
		return nil, false
	}
	return DecoderFunc(func(data []byte) (any, error) {
		return map[string]any{"raw": len(data)}, nil
	}), true
}

func TestReaderCustomDecoder(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, EncodingJSON)
	require.NoError(t, err)
	require.NoError(t, w.WriteRaw("/camera", "x-custom", 1, []byte{1, 2, 3}))
	require.NoError(t, w.Close())

	reg := DefaultRegistry().With(upperFactory{})
	r, err := NewReader(bytes.NewReader(buf.Bytes()), mps("raw"), WithRegistry(reg))
	require.NoError(t, err)

	_, records := drain(t, r)
	assert.Equal(t, []models.Record{{"raw": 3}}, records)
}

func TestReaderMalformedPayload(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, EncodingJSON)
	require.NoError(t, err)
	require.NoError(t, w.Write("/imu", 1, map[string]any{"v": 1}))
	require.NoError(t, w.WriteRaw("/imu", EncodingJSON, 2, []byte("{not json")))
	require.NoError(t, w.Close())

	r, err := NewReader(bytes.NewReader(buf.Bytes()), mps("v"))
	require.NoError(t, err)

	_, err = r.Next()
	require.NoError(t, err)
	assert.False(t, r.HasNext())
	assert.ErrorIs(t, r.Err(), models.ErrMalformed)
}

func TestRegistryFirstMatchWins(t *testing.T) {
	reg := NewRegistry(JSONFactory{}, upperFactory{}, MsgpackFactory{})

	_, ok := reg.Lookup("json", Schema{})
	assert.True(t, ok)
	_, ok = reg.Lookup("ros1", Schema{})
	assert.False(t, ok)

	d, ok := reg.Lookup("x-custom", Schema{})
	require.True(t, ok)
	v, err := d.Decode([]byte{1})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"raw": 1}, v)
}

func TestNewReaderRejectsGarbage(t *testing.T) {
	_, err := NewReader(bytes.NewReader([]byte("not an mcap file")), nil)
	assert.ErrorIs(t, err, models.ErrMalformed)
}
