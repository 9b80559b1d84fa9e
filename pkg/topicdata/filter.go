package topicdata

import (
	"github.com/roboto-ai/topicdata/pkg/models"
)

// pathSet matches a path when the path itself or any of its ancestors is a
// member.
type pathSet map[string]bool

func newPathSet(paths []string) pathSet {
	if len(paths) == 0 {
		return nil
	}
	s := make(pathSet, len(paths))
	for _, p := range paths {
		s[p] = true
	}
	return s
}

func (s pathSet) matches(path string) bool {
	if s[path] {
		return true
	}
	for _, parent := range models.Parents(path) {
		if s[parent] {
			return true
		}
	}
	return false
}

// FilterGroups keeps the message paths selected by include and not removed
// by exclude. An empty include selects everything; exclude wins over
// include. Groups left without paths are dropped.
func FilterGroups(groups []models.MessagePathGroup, include, exclude []string) []models.MessagePathGroup {
	inc, exc := newPathSet(include), newPathSet(exclude)

	out := make([]models.MessagePathGroup, 0, len(groups))
	for _, g := range groups {
		var kept []models.MessagePath
		for _, mp := range g.MessagePaths {
			if inc != nil && !inc.matches(mp.Path) {
				continue
			}
			if exc.matches(mp.Path) {
				continue
			}
			kept = append(kept, mp)
		}
		if len(kept) == 0 {
			continue
		}
		out = append(out, models.MessagePathGroup{Representation: g.Representation, MessagePaths: kept})
	}
	return out
}
