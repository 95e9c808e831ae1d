package timeline

// Location resolves a playback time to the active entry and media item.
// Item is nil (and Index -1) when the entry's media runs out before the
// entry ends: a hole the display shows as a neutral placeholder.
type Location struct {
	Entry        *Entry
	Item         *MediaItem
	Index        int
	TimeIntoItem float64
}

// Locate maps a playback time to the active entry and the media item
// playing at that instant. It is total for any time in [0, TotalSpan]:
// times before the first entry clamp to it, times at or past the last
// entry's end clamp to the last entry. Entry matches are inclusive of the
// exact start boundary.
func (t *Timeline) Locate(at float64) Location {
	if len(t.entries) == 0 {
		return Location{Index: -1}
	}

	entry := t.entries[len(t.entries)-1]
	for _, e := range t.entries {
		if at < e.End {
			entry = e
			break
		}
	}

	offset := at - entry.Start
	if offset < 0 {
		offset = 0
	}

	items := t.media[entry.ID]
	var consumed float64
	for i := range items {
		if offset < consumed+items[i].Duration {
			return Location{
				Entry:        entry,
				Item:         &items[i],
				Index:        i,
				TimeIntoItem: offset - consumed,
			}
		}
		consumed += items[i].Duration
	}

	// Media exhausted before the entry ends.
	return Location{Entry: entry, Index: -1}
}
