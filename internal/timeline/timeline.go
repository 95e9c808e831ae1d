// Package timeline implements the compose timeline: script segments,
// grouping, media assignment, duration reconciliation, playback resolution
// and export flattening.
package timeline

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

const (
	// MismatchEpsilon is the tolerance when comparing an entry's summed
	// media duration against its time span.
	MismatchEpsilon = 0.05

	// DefaultMinImageDuration is the floor for a user-editable image duration.
	DefaultMinImageDuration = 1.0

	// DefaultImageFallbackDuration is used when an entry has no remaining
	// capacity for a newly attached image.
	DefaultImageFallbackDuration = 3.0
)

var (
	ErrEntryNotFound   = errors.New("timeline entry not found")
	ErrItemNotFound    = errors.New("media item not found")
	ErrNotGroup        = errors.New("entry is not a group")
	ErrNotStaged       = errors.New("media item has no staged upload")
	ErrFixedDuration   = errors.New("duration is fixed for video media")
	ErrIndexOutOfRange = errors.New("index out of range")
)

// GroupingError is a user-facing, recoverable validation failure. The
// timeline is left unchanged when one is returned.
type GroupingError struct {
	Reason string
}

func (e *GroupingError) Error() string {
	return "invalid grouping: " + e.Reason
}

// Segment is one script segment from the transcript source. Segments are
// immutable, ordered, non-overlapping and ascending by Start.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Entry is one slot on the compose timeline: a single script segment or a
// group of adjacent ones. Indices are the original segment indices the
// entry covers, ascending and contiguous. Entries always partition the
// original indices in order.
type Entry struct {
	ID      string  `json:"id"`
	Indices []int   `json:"indices"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
}

// IsGroup reports whether the entry covers more than one original segment.
func (e *Entry) IsGroup() bool {
	return len(e.Indices) > 1
}

// Span returns the entry's time span in seconds.
func (e *Entry) Span() float64 {
	return e.End - e.Start
}

// Options tunes media duration defaults.
type Options struct {
	MinImageDuration     float64
	DefaultImageDuration float64
}

func (o Options) withDefaults() Options {
	if o.MinImageDuration <= 0 {
		o.MinImageDuration = DefaultMinImageDuration
	}
	if o.DefaultImageDuration <= 0 {
		o.DefaultImageDuration = DefaultImageFallbackDuration
	}
	return o
}

// Timeline holds the ordered entries and their media assignments. It is not
// safe for concurrent use; callers serialize mutations (the service layer
// mutates under a per-project load/store cycle).
type Timeline struct {
	opts     Options
	segments []Segment
	entries  []*Entry
	media    map[string][]MediaItem

	// releaseFn is invoked exactly once for each media item destroyed while
	// holding a staged local-upload reference.
	releaseFn func(MediaItem)
}

// New creates an empty timeline.
func New(opts Options) *Timeline {
	return &Timeline{
		opts:  opts.withDefaults(),
		media: make(map[string][]MediaItem),
	}
}

// SetReleaseFunc registers the hook invoked when a media item holding a
// staged reference is destroyed.
func (t *Timeline) SetReleaseFunc(fn func(MediaItem)) {
	t.releaseFn = fn
}

// Initialize replaces all timeline state with one single entry per segment.
// This is a wholesale reset: media attached to any prior state is released.
func (t *Timeline) Initialize(segments []Segment) {
	for _, items := range t.media {
		for _, item := range items {
			t.release(item)
		}
	}

	t.segments = make([]Segment, len(segments))
	copy(t.segments, segments)

	t.entries = make([]*Entry, 0, len(segments))
	for i := range t.segments {
		t.entries = append(t.entries, t.singleEntry(i))
	}
	t.media = make(map[string][]MediaItem)
}

// Segments returns the authoritative script segments.
func (t *Timeline) Segments() []Segment {
	return t.segments
}

// Entries returns the ordered timeline entries.
func (t *Timeline) Entries() []*Entry {
	return t.entries
}

// Entry returns the entry with the given id, or nil.
func (t *Timeline) Entry(id string) *Entry {
	for _, e := range t.entries {
		if e.ID == id {
			return e
		}
	}
	return nil
}

// Media returns the ordered media list for an entry. An absent key and an
// empty list both mean "no media".
func (t *Timeline) Media(entryID string) []MediaItem {
	return t.media[entryID]
}

// TotalSpan returns the end of the last segment, or 0 for an empty timeline.
func (t *Timeline) TotalSpan() float64 {
	if len(t.segments) == 0 {
		return 0
	}
	return t.segments[len(t.segments)-1].End
}

// Group replaces the entries at the given positions with one group entry.
// Positions must name at least two entries and be contiguous once sorted;
// otherwise a *GroupingError is returned and the timeline is unchanged.
// The group inherits the constituents' media lists concatenated in order.
func (t *Timeline) Group(positions []int) (*Entry, error) {
	if len(positions) < 2 {
		return nil, &GroupingError{Reason: "select at least two segments"}
	}

	sorted := make([]int, len(positions))
	copy(sorted, positions)
	sort.Ints(sorted)

	for i, p := range sorted {
		if p < 0 || p >= len(t.entries) {
			return nil, &GroupingError{Reason: fmt.Sprintf("position %d out of range", p)}
		}
		if i > 0 && p != sorted[i-1]+1 {
			return nil, &GroupingError{Reason: "segments must be adjacent"}
		}
	}

	first, last := sorted[0], sorted[len(sorted)-1]

	var indices []int
	var texts []string
	var merged []MediaItem
	for _, e := range t.entries[first : last+1] {
		indices = append(indices, e.Indices...)
		texts = append(texts, e.Text)
		merged = append(merged, t.media[e.ID]...)
		delete(t.media, e.ID)
	}

	group := &Entry{
		ID:      uuid.NewString(),
		Indices: indices,
		Start:   t.entries[first].Start,
		End:     t.entries[last].End,
		Text:    strings.Join(texts, " "),
	}

	replaced := make([]*Entry, 0, len(t.entries)-(last-first))
	replaced = append(replaced, t.entries[:first]...)
	replaced = append(replaced, group)
	replaced = append(replaced, t.entries[last+1:]...)
	t.entries = replaced

	if len(merged) > 0 {
		t.media[group.ID] = merged
	}
	return group, nil
}

// Ungroup splits the group entry at the given position back into singles,
// re-derived from the authoritative script segments. The group's entire
// media list is reassigned to the first resulting single.
func (t *Timeline) Ungroup(position int) ([]*Entry, error) {
	if position < 0 || position >= len(t.entries) {
		return nil, ErrIndexOutOfRange
	}
	group := t.entries[position]
	if !group.IsGroup() {
		return nil, ErrNotGroup
	}

	singles := make([]*Entry, 0, len(group.Indices))
	for _, idx := range group.Indices {
		singles = append(singles, t.singleEntry(idx))
	}

	items := t.media[group.ID]
	delete(t.media, group.ID)
	if len(items) > 0 {
		t.media[singles[0].ID] = items
	}

	replaced := make([]*Entry, 0, len(t.entries)+len(singles)-1)
	replaced = append(replaced, t.entries[:position]...)
	replaced = append(replaced, singles...)
	replaced = append(replaced, t.entries[position+1:]...)
	t.entries = replaced

	return singles, nil
}

func (t *Timeline) singleEntry(index int) *Entry {
	seg := t.segments[index]
	return &Entry{
		ID:      uuid.NewString(),
		Indices: []int{index},
		Start:   seg.Start,
		End:     seg.End,
		Text:    seg.Text,
	}
}

func (t *Timeline) release(item MediaItem) {
	if t.releaseFn != nil && item.StagedRef != "" {
		t.releaseFn(item)
	}
}
