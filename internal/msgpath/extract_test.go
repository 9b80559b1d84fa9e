package msgpath

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roboto-ai/topicdata/pkg/models"
)

func paths(ps ...string) []models.MessagePath {
	out := make([]models.MessagePath, len(ps))
	for i, p := range ps {
		out[i] = models.MessagePath{Path: p}
	}
	return out
}

func TestExtractMapping(t *testing.T) {
	msg := map[string]any{
		"pose": map[string]any{
			"position": map[string]any{"x": 1.0, "y": 2.0, "z": 3.0},
		},
		"velocity": 4.0,
	}

	got := Extract(msg, paths("pose.position.x", "pose.position.y"))

	assert.Equal(t, models.Record{
		"pose": models.Record{
			"position": models.Record{"x": 1.0, "y": 2.0},
		},
	}, got)
}

func TestExtractMissingAncestorIsOmitted(t *testing.T) {
	msg := map[string]any{
		"pose":     map[string]any{"orientation": map[string]any{"w": 1.0}},
		"velocity": 4.0,
	}

	got := Extract(msg, paths("pose.position.x", "velocity", "missing"))

	assert.Equal(t, models.Record{"velocity": 4.0}, got)
}

func TestExtractRewritesTimeFields(t *testing.T) {
	tests := []struct {
		name  string
		stamp map[string]any
	}{
		{"ros1", map[string]any{"secs": int64(5), "nsecs": int64(7)}},
		{"ros2", map[string]any{"sec": int64(5), "nanosec": int64(7)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := map[string]any{"header": map[string]any{"stamp": tt.stamp}}

			got := Extract(msg, paths("header.stamp.sec", "header.stamp.nsec"))

			assert.Equal(t, models.Record{
				"header": models.Record{
					"stamp": models.Record{"sec": int64(5), "nsec": int64(7)},
				},
			}, got)
		})
	}
}

func TestExtractSequences(t *testing.T) {
	msg := map[string]any{
		"points": []any{
			map[string]any{"x": 1, "y": 10},
			map[string]any{"x": 2},
			map[string]any{"x": 3, "y": 30},
		},
		"ranges": []float32{0.5, 1.5},
		"data":   []byte{1, 2, 3},
	}

	got := Extract(msg, paths("points.x", "points.y", "ranges", "data"))

	assert.Equal(t, models.Record{
		"points": []any{
			models.Record{"x": 1, "y": 10},
			models.Record{"x": 2},
			models.Record{"x": 3, "y": 30},
		},
		"ranges": []float32{0.5, 1.5},
		"data":   []byte{1, 2, 3},
	}, got)
}

func TestExtractAncestorAndDescendant(t *testing.T) {
	msg := map[string]any{
		"pose": map[string]any{"x": 1, "y": 2},
		"arr":  []any{map[string]any{"x": 1, "y": 2}},
	}

	tests := []struct {
		name  string
		paths []string
		want  models.Record
	}{
		{
			name:  "parent first",
			paths: []string{"pose", "pose.x"},
			want:  models.Record{"pose": map[string]any{"x": 1, "y": 2}},
		},
		{
			name:  "child first",
			paths: []string{"pose.x", "pose"},
			want:  models.Record{"pose": map[string]any{"x": 1, "y": 2}},
		},
		{
			name:  "sequence parent first",
			paths: []string{"arr", "arr.x"},
			want:  models.Record{"arr": []any{map[string]any{"x": 1, "y": 2}}},
		},
		{
			name:  "sequence child first",
			paths: []string{"arr.x", "arr"},
			want:  models.Record{"arr": []any{map[string]any{"x": 1, "y": 2}}},
		},
		{
			name:  "siblings are not ancestors",
			paths: []string{"pose.x", "pose.xy"},
			want:  models.Record{"pose": models.Record{"x": 1}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Extract(msg, paths(tt.paths...)))
		})
	}
}

type stamp struct {
	Secs  uint32 `msg:"secs"`
	Nsecs uint32 `msg:"nsecs"`
}

type header struct {
	Stamp   stamp  `msg:"stamp"`
	FrameID string `msg:"frame_id"`
	hidden  int
}

type point struct {
	X float64 `msg:"x"`
	Y float64 `msg:"y"`
}

type pointCloud struct {
	Header header  `msg:"header"`
	Points []point `msg:"points"`
}

func TestExtractReflectedStruct(t *testing.T) {
	msg := &pointCloud{
		Header: header{Stamp: stamp{Secs: 1, Nsecs: 2}, FrameID: "map"},
		Points: []point{{X: 1, Y: 2}, {X: 3, Y: 4}},
	}
	require.Equal(t, FamilyStruct, FamilyOf(msg))

	got := Extract(msg, paths("header.stamp.sec", "header.frame_id", "points.y", "header.hidden"))

	assert.Equal(t, models.Record{
		"header": models.Record{
			"stamp":    models.Record{"sec": uint32(1)},
			"frame_id": "map",
		},
		"points": []any{models.Record{"y": 2.0}, models.Record{"y": 4.0}},
	}, got)
}

func TestExtractDynamicStruct(t *testing.T) {
	st := NewDynamicStruct([]string{"sec", "nanosec"}, []any{int32(9), uint32(10)})
	msg := NewDynamicStruct([]string{"stamp", "value"}, []any{st, 1.25})

	got := Extract(msg, paths("stamp.nsec", "value"))

	assert.Equal(t, models.Record{
		"stamp": models.Record{"nsec": uint32(10)},
		"value": 1.25,
	}, got)
}

func TestExtractUsesPathInSchema(t *testing.T) {
	msg := map[string]any{"a.b": map[string]any{"c": 1}}
	mp := models.MessagePath{Path: "a_b.c", SourcePath: "a.b.c", PathInSchema: []string{"a.b", "c"}}

	got := Extract(msg, []models.MessagePath{mp})

	assert.Equal(t, models.Record{"a.b": models.Record{"c": 1}}, got)
}

func TestExtractLeafMessage(t *testing.T) {
	assert.Empty(t, Extract(42, paths("x")))
	assert.Empty(t, Extract(map[string]any{"x": 1}, nil))
}

func TestElementListGrows(t *testing.T) {
	var l ElementList
	r := l.GetOrInsertDefault(2)
	r["x"] = 1

	assert.Equal(t, 3, l.Len())
	assert.Equal(t, []any{models.Record{}, models.Record{}, models.Record{"x": 1}}, l.Values())
}

func TestMappingAccessor(t *testing.T) {
	a, ok := AccessorFor(map[string]any{"k": "v"})
	require.True(t, ok)
	assert.True(t, a.Has("k"))
	assert.False(t, a.Has("missing"))
	assert.Equal(t, []string{"k"}, a.Keys())
	v, ok := a.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}
