package topicdata

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roboto-ai/topicdata/pkg/models"
)

func TestFilterGroups(t *testing.T) {
	groups := []models.MessagePathGroup{
		{Representation: models.Representation{ID: "rp_1"}, MessagePaths: paths("pose.position.x", "pose.position.y", "pose.position.z")},
		{Representation: models.Representation{ID: "rp_2"}, MessagePaths: paths("pose.orientation.w", "header.stamp")},
	}

	tests := []struct {
		name    string
		include []string
		exclude []string
		want    map[string][]string
	}{
		{
			name: "everything",
			want: map[string][]string{
				"rp_1": {"pose.position.x", "pose.position.y", "pose.position.z"},
				"rp_2": {"pose.orientation.w", "header.stamp"},
			},
		},
		{
			name:    "include ancestor",
			include: []string{"pose"},
			want: map[string][]string{
				"rp_1": {"pose.position.x", "pose.position.y", "pose.position.z"},
				"rp_2": {"pose.orientation.w"},
			},
		},
		{
			name:    "exclude wins",
			include: []string{"pose.position"},
			exclude: []string{"pose.position.z"},
			want:    map[string][]string{"rp_1": {"pose.position.x", "pose.position.y"}},
		},
		{
			name:    "exclude ancestor of include",
			include: []string{"pose.position.x"},
			exclude: []string{"pose"},
			want:    map[string][]string{},
		},
		{
			name:    "prefix is not an ancestor",
			include: []string{"pose.pos"},
			want:    map[string][]string{},
		},
		{
			name:    "empty groups dropped",
			exclude: []string{"header", "pose.orientation"},
			want:    map[string][]string{"rp_1": {"pose.position.x", "pose.position.y", "pose.position.z"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := make(map[string][]string)
			for _, g := range FilterGroups(groups, tt.include, tt.exclude) {
				got[g.Representation.ID] = g.Paths()
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStaticSource(t *testing.T) {
	src := NewStaticSource()
	src.Add(models.Topic{ID: "tp_1"}, models.MessagePathGroup{MessagePaths: paths("a", "b")})

	topic, err := src.Topic(t.Context(), "tp_1")
	assert.NoError(t, err)
	assert.Len(t, topic.MessagePaths, 2)

	_, err = src.MessagePathGroups(t.Context(), "tp_2")
	assert.ErrorIs(t, err, models.ErrNotFound)
}
