package merge

import (
	"bytes"
	"context"
	"errors"
	"io"
	"iter"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roboto-ai/topicdata/internal/cache"
	"github.com/roboto-ai/topicdata/internal/logstream"
	"github.com/roboto-ai/topicdata/internal/storage"
	"github.com/roboto-ai/topicdata/pkg/models"
)

type message struct {
	logTime uint64
	value   map[string]any
}

func container(t *testing.T, msgs ...message) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := logstream.NewWriter(&buf, logstream.EncodingJSON)
	require.NoError(t, err)
	for _, m := range msgs {
		require.NoError(t, w.Write("/robot", m.logTime, m.value))
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

// memFetcher serves files from memory and counts fetches per file id.
type memFetcher struct {
	files map[string][]byte
	calls atomic.Int32
}

func (f *memFetcher) Fetch(_ context.Context, rep models.Representation, w io.Writer) error {
	f.calls.Add(1)
	id, _ := rep.FileID()
	data, ok := f.files[id]
	if !ok {
		return storage.ErrObjectNotFound
	}
	_, err := w.Write(data)
	return err
}

func group(repID, fileID string, paths ...string) models.MessagePathGroup {
	mps := make([]models.MessagePath, len(paths))
	for i, p := range paths {
		mps[i] = models.MessagePath{Path: p}
	}
	return models.MessagePathGroup{
		Representation: models.Representation{
			ID:            repID,
			StorageFormat: models.StorageFormatMCAP,
			Association:   models.Association{Type: models.AssociationFile, ID: fileID},
		},
		MessagePaths: mps,
	}
}

func newMerger(t *testing.T, f storage.Fetcher) *Merger {
	t.Helper()
	c, err := cache.New(t.TempDir())
	require.NoError(t, err)
	return New(c, f, WithConcurrency(2))
}

func collect(t *testing.T, seq iter.Seq2[models.Record, error]) ([]models.Record, error) {
	t.Helper()
	var out []models.Record
	for rec, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func TestMergeInterleavesByLogTime(t *testing.T) {
	f := &memFetcher{files: map[string][]byte{
		"fl_a": container(t,
			message{10, map[string]any{"pose": map[string]any{"x": 1}}},
			message{30, map[string]any{"pose": map[string]any{"x": 3}}},
		),
		"fl_b": container(t,
			message{10, map[string]any{"pose": map[string]any{"y": 10}}},
			message{20, map[string]any{"pose": map[string]any{"y": 20}}},
		),
	}}
	m := newMerger(t, f)

	groups := []models.MessagePathGroup{
		group("rp_a", "fl_a", "pose.x"),
		group("rp_b", "fl_b", "pose.y"),
	}
	records, err := collect(t, m.Merge(context.Background(), groups, models.Unbounded))
	require.NoError(t, err)

	assert.Equal(t, []models.Record{
		{"log_time": int64(10), "pose": models.Record{"x": int64(1), "y": int64(10)}},
		{"log_time": int64(20), "pose": models.Record{"y": int64(20)}},
		{"log_time": int64(30), "pose": models.Record{"x": int64(3)}},
	}, records)
}

func TestMergeAppliesWindow(t *testing.T) {
	f := &memFetcher{files: map[string][]byte{
		"fl_a": container(t,
			message{10, map[string]any{"v": 1}},
			message{20, map[string]any{"v": 2}},
			message{30, map[string]any{"v": 3}},
		),
	}}
	m := newMerger(t, f)

	records, err := collect(t, m.Merge(context.Background(),
		[]models.MessagePathGroup{group("rp_a", "fl_a", "v")},
		models.Window{Start: 15, End: 30},
	))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.Record{"log_time": int64(20), "v": int64(2)}, records[0])
}

func TestMergeDropsFailedDownloads(t *testing.T) {
	f := &memFetcher{files: map[string][]byte{
		"fl_a": container(t, message{10, map[string]any{"v": 1}}),
	}}
	m := newMerger(t, f)

	groups := []models.MessagePathGroup{
		group("rp_a", "fl_a", "v"),
		group("rp_missing", "fl_missing", "w"),
		{
			Representation: models.Representation{
				ID:            "rp_topic",
				StorageFormat: models.StorageFormatMCAP,
				Association:   models.Association{Type: models.AssociationTopic, ID: "tp_1"},
			},
		},
	}
	records, err := collect(t, m.Merge(context.Background(), groups, models.Unbounded))
	require.NoError(t, err)
	assert.Equal(t, []models.Record{{"log_time": int64(10), "v": int64(1)}}, records)
}

func TestMergeAllDownloadsFailed(t *testing.T) {
	m := newMerger(t, &memFetcher{files: map[string][]byte{}})

	records, err := collect(t, m.Merge(context.Background(),
		[]models.MessagePathGroup{group("rp_a", "fl_a", "v")}, models.Unbounded))
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestMergeRejectsColumnarGroups(t *testing.T) {
	m := newMerger(t, &memFetcher{})
	g := group("rp_a", "fl_a", "v")
	g.Representation.StorageFormat = models.StorageFormatParquet

	_, err := collect(t, m.Merge(context.Background(), []models.MessagePathGroup{g}, models.Unbounded))
	assert.ErrorIs(t, err, models.ErrUnsupported)
}

func TestMergeLeafConflict(t *testing.T) {
	f := &memFetcher{files: map[string][]byte{
		"fl_a": container(t, message{10, map[string]any{"v": 1}}),
		"fl_b": container(t, message{10, map[string]any{"v": 2}}),
	}}
	m := newMerger(t, f)

	_, err := collect(t, m.Merge(context.Background(), []models.MessagePathGroup{
		group("rp_a", "fl_a", "v"),
		group("rp_b", "fl_b", "v"),
	}, models.Unbounded))
	assert.ErrorIs(t, err, models.ErrMalformed)
}

func TestMergeYieldsRecordsBeforeDecodeFailure(t *testing.T) {
	var buf bytes.Buffer
	w, err := logstream.NewWriter(&buf, logstream.EncodingJSON)
	require.NoError(t, err)
	require.NoError(t, w.Write("/robot", 10, map[string]any{"v": 1}))
	require.NoError(t, w.WriteRaw("/robot", logstream.EncodingJSON, 20, []byte("{not json")))
	require.NoError(t, w.Close())

	f := &memFetcher{files: map[string][]byte{"fl_a": buf.Bytes()}}
	m := newMerger(t, f)

	records, err := collect(t, m.Merge(context.Background(), []models.MessagePathGroup{
		group("rp_a", "fl_a", "v"),
	}, models.Unbounded))
	assert.ErrorIs(t, err, models.ErrMalformed)
	assert.Contains(t, err.Error(), "rp_a")
	assert.Equal(t, []models.Record{{models.LogTimeField: int64(10), "v": int64(1)}}, records)
}

func TestMergeReportsFailureOnFirstMessage(t *testing.T) {
	var buf bytes.Buffer
	w, err := logstream.NewWriter(&buf, logstream.EncodingJSON)
	require.NoError(t, err)
	require.NoError(t, w.WriteRaw("/robot", logstream.EncodingJSON, 10, []byte("{not json")))
	require.NoError(t, w.Close())

	f := &memFetcher{files: map[string][]byte{"fl_a": buf.Bytes()}}
	m := newMerger(t, f)

	records, err := collect(t, m.Merge(context.Background(), []models.MessagePathGroup{
		group("rp_a", "fl_a", "v"),
	}, models.Unbounded))
	assert.ErrorIs(t, err, models.ErrMalformed)
	assert.Empty(t, records)
}

func TestMergeReservedLogTimeField(t *testing.T) {
	f := &memFetcher{files: map[string][]byte{
		"fl_a": container(t, message{10, map[string]any{"log_time": 99, "v": 1}}),
	}}
	m := newMerger(t, f)

	_, err := collect(t, m.Merge(context.Background(), []models.MessagePathGroup{
		group("rp_a", "fl_a", "log_time", "v"),
	}, models.Unbounded))
	assert.ErrorIs(t, err, models.ErrMalformed)
	assert.Contains(t, err.Error(), "reserved log time field")
	assert.NotContains(t, err.Error(), "more than one message path group")
}

func TestEnsureLocalUsesCache(t *testing.T) {
	f := &memFetcher{files: map[string][]byte{
		"fl_a": container(t, message{1, map[string]any{"v": 1}}),
	}}
	m := newMerger(t, f)
	groups := []models.MessagePathGroup{
		group("rp_a", "fl_a", "v"),
		group("rp_a", "fl_a", "w"),
	}

	local := m.EnsureLocal(context.Background(), groups)
	require.Len(t, local, 2)
	assert.Equal(t, local[0].Path, local[1].Path)
	assert.Equal(t, int32(1), f.calls.Load())

	local = m.EnsureLocal(context.Background(), groups)
	require.Len(t, local, 2)
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestMergeStopsEarly(t *testing.T) {
	f := &memFetcher{files: map[string][]byte{
		"fl_a": container(t,
			message{1, map[string]any{"v": 1}},
			message{2, map[string]any{"v": 2}},
		),
	}}
	m := newMerger(t, f)

	n := 0
	for _, err := range m.Merge(context.Background(), []models.MessagePathGroup{group("rp_a", "fl_a", "v")}, models.Unbounded) {
		require.NoError(t, err)
		n++
		break
	}
	assert.Equal(t, 1, n)
}

func TestMergeCanceledContext(t *testing.T) {
	f := &memFetcher{files: map[string][]byte{
		"fl_a": container(t, message{1, map[string]any{"v": 1}}),
	}}
	m := newMerger(t, f)
	local := m.EnsureLocal(context.Background(), []models.MessagePathGroup{group("rp_a", "fl_a", "v")})
	require.Len(t, local, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := collect(t, m.Merge(ctx, []models.MessagePathGroup{group("rp_a", "fl_a", "v")}, models.Unbounded))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestDeepMerge(t *testing.T) {
	tests := []struct {
		name    string
		dst     models.Record
		src     models.Record
		want    models.Record
		wantErr bool
	}{
		{
			name: "disjoint",
			dst:  models.Record{"a": 1},
			src:  models.Record{"b": 2},
			want: models.Record{"a": 1, "b": 2},
		},
		{
			name: "nested",
			dst:  models.Record{"pose": models.Record{"x": 1}},
			src:  models.Record{"pose": models.Record{"y": 2}},
			want: models.Record{"pose": models.Record{"x": 1, "y": 2}},
		},
		{
			name: "sequence elements",
			dst:  models.Record{"pts": []any{models.Record{"x": 1}, models.Record{"x": 2}}},
			src:  models.Record{"pts": []any{models.Record{"y": 3}, models.Record{"y": 4}}},
			want: models.Record{"pts": []any{models.Record{"x": 1, "y": 3}, models.Record{"x": 2, "y": 4}}},
		},
		{
			name:    "leaf conflict",
			dst:     models.Record{"pose": models.Record{"x": 1}},
			src:     models.Record{"pose": models.Record{"x": 2}},
			wantErr: true,
		},
		{
			name:    "leaf against record",
			dst:     models.Record{"pose": 1},
			src:     models.Record{"pose": models.Record{"x": 2}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := DeepMerge(tt.dst, tt.src)
			if tt.wantErr {
				assert.ErrorIs(t, err, models.ErrMalformed)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, tt.dst)
		})
	}
}
