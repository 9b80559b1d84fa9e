package topicdata

import (
	"context"
	"fmt"
	"sync"

	"github.com/roboto-ai/topicdata/pkg/models"
)

// MetadataSource resolves topics and the representations backing their
// message paths.
type MetadataSource interface {
	Topic(ctx context.Context, topicID string) (models.Topic, error)
	MessagePathGroups(ctx context.Context, topicID string) ([]models.MessagePathGroup, error)
}

// StaticSource is an in-memory MetadataSource.
type StaticSource struct {
	mu     sync.RWMutex
	topics map[string]models.Topic
	groups map[string][]models.MessagePathGroup
}

func NewStaticSource() *StaticSource {
	return &StaticSource{
		topics: make(map[string]models.Topic),
		groups: make(map[string][]models.MessagePathGroup),
	}
}

// Add registers topic with its message path groups. The topic's message
// paths are taken from the groups when it lists none.
func (s *StaticSource) Add(topic models.Topic, groups ...models.MessagePathGroup) {
	if len(topic.MessagePaths) == 0 {
		for _, g := range groups {
			topic.MessagePaths = append(topic.MessagePaths, g.MessagePaths...)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topics[topic.ID] = topic
	s.groups[topic.ID] = groups
}

func (s *StaticSource) Topic(_ context.Context, topicID string) (models.Topic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.topics[topicID]
	if !ok {
		return models.Topic{}, fmt.Errorf("%w: topic %s", models.ErrNotFound, topicID)
	}
	return t, nil
}

func (s *StaticSource) MessagePathGroups(_ context.Context, topicID string) ([]models.MessagePathGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	groups, ok := s.groups[topicID]
	if !ok {
		return nil, fmt.Errorf("%w: topic %s", models.ErrNotFound, topicID)
	}
	return append([]models.MessagePathGroup(nil), groups...), nil
}
