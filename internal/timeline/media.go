package timeline

import (
	"math"

	"github.com/google/uuid"
)

// MediaKind identifies the source class of a placed media item.
type MediaKind string

const (
	KindImage      MediaKind = "image"       // local upload
	KindStockImage MediaKind = "stock_image" // stock search result
	KindStockVideo MediaKind = "stock_video" // stock clip with intrinsic length
)

// IsImage reports whether the kind has a user-editable display duration.
func (k MediaKind) IsImage() bool {
	return k == KindImage || k == KindStockImage
}

// Asset describes a source asset before placement. The same asset can be
// placed multiple times; each placement becomes a distinct MediaItem.
type Asset struct {
	ID         string    `json:"id"`
	Kind       MediaKind `json:"kind"`
	PreviewURL string    `json:"preview_url"`
	SourceURL  string    `json:"source_url"`
	Duration   float64   `json:"duration,omitempty"`   // intrinsic, video kinds
	StagedRef  string    `json:"staged_ref,omitempty"` // staging ref for local uploads
}

// MediaItem is one placed asset instance, exclusively owned by one entry.
type MediaItem struct {
	InstanceID string    `json:"instance_id"`
	AssetID    string    `json:"asset_id"`
	Kind       MediaKind `json:"kind"`
	PreviewURL string    `json:"preview_url"`
	SourceURL  string    `json:"source_url"`
	Duration   float64   `json:"duration"`
	StagedRef  string    `json:"staged_ref,omitempty"`
}

// Attach places an asset at the end of an entry's media list under a fresh
// instance id. Image durations are sized to the entry's remaining capacity,
// falling back to the default duration when the capacity is below the
// minimum (the mismatch indicator flags the overshoot). Video durations are
// the asset's intrinsic length.
func (t *Timeline) Attach(entryID string, asset Asset) (MediaItem, error) {
	entry := t.Entry(entryID)
	if entry == nil {
		return MediaItem{}, ErrEntryNotFound
	}

	item := MediaItem{
		InstanceID: uuid.NewString(),
		AssetID:    asset.ID,
		Kind:       asset.Kind,
		PreviewURL: asset.PreviewURL,
		SourceURL:  asset.SourceURL,
		StagedRef:  asset.StagedRef,
	}

	if asset.Kind.IsImage() {
		remaining := entry.Span() - t.usedDuration(entryID)
		if remaining < t.opts.MinImageDuration {
			item.Duration = t.opts.DefaultImageDuration
		} else {
			item.Duration = roundDuration(remaining)
		}
	} else {
		item.Duration = asset.Duration
	}

	t.media[entryID] = append(t.media[entryID], item)
	return item, nil
}

// Reorder moves the item at from to position to within an entry's media
// list. Durations are independent of position and are not touched.
func (t *Timeline) Reorder(entryID string, from, to int) error {
	items, ok := t.media[entryID]
	if !ok {
		return ErrEntryNotFound
	}
	if from < 0 || from >= len(items) || to < 0 || to >= len(items) {
		return ErrIndexOutOfRange
	}
	if from == to {
		return nil
	}

	moved := items[from]
	items = append(items[:from], items[from+1:]...)

	items = append(items, MediaItem{})
	copy(items[to+1:], items[to:])
	items[to] = moved

	t.media[entryID] = items
	return nil
}

// Remove deletes a placed item. The entry's key is dropped entirely when the
// last item goes; staged references are released through the release hook.
func (t *Timeline) Remove(entryID, instanceID string) error {
	items, ok := t.media[entryID]
	if !ok {
		return ErrItemNotFound
	}

	for i, item := range items {
		if item.InstanceID != instanceID {
			continue
		}
		t.release(item)
		items = append(items[:i], items[i+1:]...)
		if len(items) == 0 {
			delete(t.media, entryID)
		} else {
			t.media[entryID] = items
		}
		return nil
	}
	return ErrItemNotFound
}

// Promote swaps a staged local upload for its final hosted URL. The staged
// reference is released through the release hook and the item's source
// becomes the hosted URL; items without a staged reference return
// ErrNotStaged.
func (t *Timeline) Promote(entryID, instanceID, hostedURL string) (MediaItem, error) {
	items, ok := t.media[entryID]
	if !ok {
		return MediaItem{}, ErrItemNotFound
	}

	for i, item := range items {
		if item.InstanceID != instanceID {
			continue
		}
		if item.StagedRef == "" {
			return MediaItem{}, ErrNotStaged
		}
		t.release(item)
		items[i].StagedRef = ""
		items[i].SourceURL = hostedURL
		return items[i], nil
	}
	return MediaItem{}, ErrItemNotFound
}

// SetDuration updates an image item's display duration. The value is
// clamped to the minimum and rounded to a tenth of a second. Video
// durations are fixed and return ErrFixedDuration.
func (t *Timeline) SetDuration(entryID, instanceID string, duration float64) (MediaItem, error) {
	items, ok := t.media[entryID]
	if !ok {
		return MediaItem{}, ErrItemNotFound
	}

	for i, item := range items {
		if item.InstanceID != instanceID {
			continue
		}
		if !item.Kind.IsImage() {
			return MediaItem{}, ErrFixedDuration
		}
		if math.IsNaN(duration) || duration < t.opts.MinImageDuration {
			duration = t.opts.MinImageDuration
		}
		items[i].Duration = roundDuration(duration)
		return items[i], nil
	}
	return MediaItem{}, ErrItemNotFound
}

func (t *Timeline) usedDuration(entryID string) float64 {
	var sum float64
	for _, item := range t.media[entryID] {
		sum += item.Duration
	}
	return sum
}

// roundDuration rounds to a tenth of a second, the edit precision of the
// duration field.
func roundDuration(d float64) float64 {
	return math.Round(d*10) / 10
}
