// Package preview implements the preview synchronization engine: a playback
// session that follows an audio clock and keeps a media display in lockstep
// with the compose timeline. The audio clock is the single source of truth
// for the current position; the display only ever follows it.
package preview

import (
	"errors"

	"github.com/storyforge/storyforge-agent/internal/timeline"
)

// The four independent refusal reasons for opening a preview.
var (
	ErrNoNarration = errors.New("narration audio is not available")
	ErrNoSegments  = errors.New("script segments are not available")
	ErrNoDuration  = errors.New("narration duration is unknown")
	ErrMismatch    = errors.New("media does not cover the timeline")

	ErrNotReady = errors.New("preview session is not ready")
	ErrClosed   = errors.New("preview session is closed")
)

// CheckReady evaluates the preview gates: narration present, segments
// present, total duration known, no duration mismatch. The first failing
// gate is returned so the caller can surface a specific reason.
func CheckReady(narrationURL string, tl *timeline.Timeline, total float64) error {
	if narrationURL == "" {
		return ErrNoNarration
	}
	if tl == nil || len(tl.Segments()) == 0 {
		return ErrNoSegments
	}
	if total <= 0 {
		return ErrNoDuration
	}
	if tl.Mismatch() {
		return ErrMismatch
	}
	return nil
}

// AudioClock is the narration audio transport. Position is sampled on every
// frame while playing; no independent timer drives time forward.
type AudioClock interface {
	Position() float64
	Play()
	Pause()
	Seek(offset float64)
}

// Display is the visual output port. The session switches it between image
// and video sources as the active media item changes and mirrors the audio
// play/pause state onto video items.
type Display interface {
	ShowImage(url string)
	ShowVideo(url string, offset float64)
	PlayVideo()
	PauseVideo()
	ShowPlaceholder()
	Release()
}

// FrameScheduler drives the sampling loop, the animation-frame analogue.
// Start replaces any running loop; Stop is idempotent.
type FrameScheduler interface {
	Start(fn func())
	Stop()
}
