package timeline

import "math"

// Mismatch reports whether any entry lacks media or carries media whose
// summed duration deviates from the entry span by more than the epsilon.
// It is a pure function of the current entries and media map, recomputed
// after every mutation; preview and export are gated on it being false.
func (t *Timeline) Mismatch() bool {
	for _, e := range t.entries {
		items := t.media[e.ID]
		if len(items) == 0 {
			return true
		}
		if math.Abs(t.usedDuration(e.ID)-e.Span()) > MismatchEpsilon {
			return true
		}
	}
	return false
}

// EntryDelta returns the signed difference between an entry's summed media
// duration and its span. Positive means the media overshoots the segment.
func (t *Timeline) EntryDelta(entryID string) (float64, error) {
	entry := t.Entry(entryID)
	if entry == nil {
		return 0, ErrEntryNotFound
	}
	return t.usedDuration(entryID) - entry.Span(), nil
}

// Deltas returns the signed delta for every entry, keyed by entry id.
func (t *Timeline) Deltas() map[string]float64 {
	out := make(map[string]float64, len(t.entries))
	for _, e := range t.entries {
		out[e.ID] = t.usedDuration(e.ID) - e.Span()
	}
	return out
}
