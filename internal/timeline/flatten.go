package timeline

import "sort"

// Clip is the flat, absolute-time form of a placed media item, the unit the
// remote renderer consumes.
type Clip struct {
	AssetID   string    `json:"asset_id,omitempty"`
	Kind      MediaKind `json:"kind"`
	SourceURL string    `json:"source_url"`
	Start     float64   `json:"start"`
	Duration  float64   `json:"duration"`
}

// Flatten walks entries in order and emits one clip per media item with an
// absolute start of "entry start plus media duration consumed so far within
// the entry". A clip starting at or past total is dropped along with the
// rest of that entry's items; a clip overshooting total is capped to fit,
// and dropped if capping leaves nothing. Clips come back ascending by start.
func (t *Timeline) Flatten(total float64) []Clip {
	var clips []Clip

	for _, e := range t.entries {
		cursor := e.Start
		for _, item := range t.media[e.ID] {
			start := cursor
			cursor += item.Duration

			if start >= total {
				break
			}
			duration := item.Duration
			if start+duration > total {
				duration = total - start
			}
			if duration <= 0 {
				continue
			}

			clips = append(clips, Clip{
				AssetID:   item.AssetID,
				Kind:      item.Kind,
				SourceURL: item.SourceURL,
				Start:     start,
				Duration:  duration,
			})
		}
	}

	sort.SliceStable(clips, func(i, j int) bool {
		return clips[i].Start < clips[j].Start
	})
	return clips
}
