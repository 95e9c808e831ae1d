package timeline

import (
	"fmt"
	"strings"
)

// State is the persistable form of a timeline. Entry spans and text are not
// stored; they are re-derived from the segments on restore so the script
// stays authoritative.
type State struct {
	Segments []Segment              `json:"segments"`
	Entries  []EntryState           `json:"entries"`
	Media    map[string][]MediaItem `json:"media,omitempty"`
}

// EntryState persists an entry's identity and segment coverage.
type EntryState struct {
	ID      string `json:"id"`
	Indices []int  `json:"indices"`
}

// Snapshot captures the current timeline for persistence.
func (t *Timeline) Snapshot() State {
	state := State{
		Segments: make([]Segment, len(t.segments)),
		Entries:  make([]EntryState, 0, len(t.entries)),
		Media:    make(map[string][]MediaItem, len(t.media)),
	}
	copy(state.Segments, t.segments)

	for _, e := range t.entries {
		indices := make([]int, len(e.Indices))
		copy(indices, e.Indices)
		state.Entries = append(state.Entries, EntryState{ID: e.ID, Indices: indices})
	}
	for id, items := range t.media {
		copied := make([]MediaItem, len(items))
		copy(copied, items)
		state.Media[id] = copied
	}
	return state
}

// Restore rebuilds a timeline from a persisted state.
func Restore(state State, opts Options) (*Timeline, error) {
	t := New(opts)
	t.segments = make([]Segment, len(state.Segments))
	copy(t.segments, state.Segments)

	t.entries = make([]*Entry, 0, len(state.Entries))
	for _, es := range state.Entries {
		if len(es.Indices) == 0 {
			return nil, fmt.Errorf("entry %s covers no segments", es.ID)
		}

		var texts []string
		for _, idx := range es.Indices {
			if idx < 0 || idx >= len(t.segments) {
				return nil, fmt.Errorf("entry %s references segment %d of %d", es.ID, idx, len(t.segments))
			}
			texts = append(texts, t.segments[idx].Text)
		}

		indices := make([]int, len(es.Indices))
		copy(indices, es.Indices)

		t.entries = append(t.entries, &Entry{
			ID:      es.ID,
			Indices: indices,
			Start:   t.segments[indices[0]].Start,
			End:     t.segments[indices[len(indices)-1]].End,
			Text:    strings.Join(texts, " "),
		})
	}

	for id, items := range state.Media {
		if t.Entry(id) == nil {
			return nil, fmt.Errorf("media references unknown entry %s", id)
		}
		copied := make([]MediaItem, len(items))
		copy(copied, items)
		t.media[id] = copied
	}
	return t, nil
}
