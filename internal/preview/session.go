package preview

import (
	"log/slog"
	"sync"
	"time"

	"github.com/storyforge/storyforge-agent/internal/timeline"
)

// State is the session lifecycle state.
type State int

const (
	StateClosed State = iota
	StateLoading
	StatePaused
	StatePlaying
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StatePaused:
		return "paused"
	case StatePlaying:
		return "playing"
	default:
		return "closed"
	}
}

const DefaultSettleDelay = 400 * time.Millisecond

// Tuning carries the pacing knobs for new sessions; zero values fall back
// to the scheduler and settle defaults.
type Tuning struct {
	FrameInterval time.Duration
	SettleDelay   time.Duration
}

// SessionConfig wires a preview session to its timeline and media ports.
type SessionConfig struct {
	Timeline     *timeline.Timeline
	NarrationURL string
	Total        float64
	Audio        AudioClock
	Display      Display
	Frames       FrameScheduler
	SettleDelay  time.Duration
	Logger       *slog.Logger
}

// Session follows the audio clock and drives the display. All methods are
// safe for use from the HTTP handler and timer callbacks; mutations are
// serialized on an internal mutex, and an epoch counter keeps callbacks
// from a torn-down session from touching a newer one.
type Session struct {
	mu sync.Mutex

	tl          *timeline.Timeline
	total       float64
	audio       AudioClock
	display     Display
	frames      FrameScheduler
	settleDelay time.Duration
	logger      *slog.Logger

	state       State
	epoch       uint64
	buffering   bool
	seekGen     uint64
	settleTimer *time.Timer

	// Play intent carried across a settle window. Set by Seek, consumed by
	// settle, cleared only by an explicit Pause or Close so that a second
	// seek issued while the first is settling still resumes playback.
	resumeAfterSettle bool

	activeEntryID string
	activeIndex   int
	activeItemID  string
	hasActive     bool
}

// NewSession validates the preview gates and opens a session in the loading
// state. The session becomes ready when the audio resource reports it can
// play (HandleCanPlay or HandleCanPlayThrough, whichever fires first).
func NewSession(cfg SessionConfig) (*Session, error) {
	if err := CheckReady(cfg.NarrationURL, cfg.Timeline, cfg.Total); err != nil {
		return nil, err
	}

	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Session{
		tl:          cfg.Timeline,
		total:       cfg.Total,
		audio:       cfg.Audio,
		display:     cfg.Display,
		frames:      cfg.Frames,
		settleDelay: cfg.SettleDelay,
		logger:      cfg.Logger,
		state:       StateLoading,
		activeIndex: -1,
	}
	s.logger.Info("preview session opened", "total_s", cfg.Total)
	return s, nil
}

// HandleCanPlayThrough marks the audio resource ready. Some backends never
// fire this stronger signal, so HandleCanPlay is an equally valid trigger.
func (s *Session) HandleCanPlayThrough() {
	s.markReady("canplaythrough")
}

// HandleCanPlay marks the audio resource ready via the basic signal.
func (s *Session) HandleCanPlay() {
	s.markReady("canplay")
}

func (s *Session) markReady(signal string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// First signal wins; later ones are no-ops.
	if s.state != StateLoading {
		return
	}
	s.state = StatePaused
	s.logger.Debug("preview ready", "signal", signal)
	s.applyLocked(s.audio.Position())
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsBuffering reports whether a seek is still settling.
func (s *Session) IsBuffering() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffering
}

// Position returns the audio clock's current position.
func (s *Session) Position() float64 {
	return s.audio.Position()
}

// Play starts playback. The frame loop samples the audio position every
// tick and re-resolves the active media item.
func (s *Session) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateClosed:
		return ErrClosed
	case StateLoading:
		return ErrNotReady
	case StatePlaying:
		return nil
	}

	s.state = StatePlaying
	s.audio.Play()
	if s.activeVideoLocked() {
		s.display.PlayVideo()
	}

	epoch := s.epoch
	s.frames.Start(func() { s.onFrame(epoch) })
	return nil
}

// Pause halts playback, leaving the position where it is.
func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateClosed:
		return ErrClosed
	case StateLoading:
		return ErrNotReady
	case StatePaused:
		s.resumeAfterSettle = false
		return nil
	}

	s.pauseLocked()
	s.resumeAfterSettle = false
	return nil
}

func (s *Session) pauseLocked() {
	s.state = StatePaused
	s.frames.Stop()
	s.audio.Pause()
	s.display.PauseVideo()
}

// onFrame is the per-tick follow step. A stale epoch means the session was
// closed or superseded after the loop was started; the sample is discarded.
func (s *Session) onFrame(epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if epoch != s.epoch || s.state != StatePlaying {
		return
	}

	pos := s.audio.Position()
	if pos >= s.total {
		// Reached the end: stop and rewind rather than parking at the end.
		s.pauseLocked()
		s.audio.Seek(0)
		s.applyLocked(0)
		return
	}
	s.applyLocked(pos)
}

// Seek scrubs to a new position: the follow loop stops, the audio jumps,
// the display updates optimistically, and the pre-seek play state resumes
// after the settle delay unless something else interrupted.
func (s *Session) Seek(to float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateClosed:
		return ErrClosed
	case StateLoading:
		return ErrNotReady
	}

	wasPlaying := s.state == StatePlaying || s.resumeAfterSettle
	if s.state == StatePlaying {
		s.pauseLocked()
	}

	if to < 0 {
		to = 0
	}
	if to > s.total {
		to = s.total
	}

	s.buffering = true
	s.audio.Seek(to)
	s.applyLocked(to)

	s.resumeAfterSettle = wasPlaying
	s.seekGen++
	gen := s.seekGen
	epoch := s.epoch
	if s.settleTimer != nil {
		s.settleTimer.Stop()
	}
	s.settleTimer = time.AfterFunc(s.settleDelay, func() {
		s.settle(epoch, gen)
	})
	return nil
}

func (s *Session) settle(epoch, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if epoch != s.epoch || gen != s.seekGen {
		return
	}
	s.buffering = false
	s.settleTimer = nil

	resume := s.resumeAfterSettle
	s.resumeAfterSettle = false
	if !resume || s.state != StatePaused {
		return
	}
	s.state = StatePlaying
	s.audio.Play()
	if s.activeVideoLocked() {
		s.display.PlayVideo()
	}
	frameEpoch := s.epoch
	s.frames.Start(func() { s.onFrame(frameEpoch) })
}

// Close tears the session down from any state: both media ports are paused,
// the frame loop and any pending settle timer are cancelled, and the
// display source is released so no background decode continues.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return
	}

	s.epoch++
	s.seekGen++
	if s.settleTimer != nil {
		s.settleTimer.Stop()
		s.settleTimer = nil
	}
	s.frames.Stop()
	s.audio.Pause()
	s.display.PauseVideo()
	s.display.Release()

	s.state = StateClosed
	s.buffering = false
	s.resumeAfterSettle = false
	s.logger.Info("preview session closed")
}

// applyLocked resolves the active item for pos and switches the display
// when it changed. Video items are seeked to the in-item offset on switch
// and mirror the audio's play state; a hole shows the placeholder.
func (s *Session) applyLocked(pos float64) {
	loc := s.tl.Locate(pos)
	if loc.Entry == nil {
		return
	}

	if loc.Item == nil {
		if s.hasActive || s.activeEntryID != loc.Entry.ID {
			s.display.ShowPlaceholder()
			s.hasActive = false
			s.activeEntryID = loc.Entry.ID
			s.activeIndex = -1
			s.activeItemID = ""
		}
		return
	}

	changed := !s.hasActive ||
		s.activeEntryID != loc.Entry.ID ||
		s.activeIndex != loc.Index ||
		s.activeItemID != loc.Item.InstanceID
	if !changed {
		return
	}

	s.hasActive = true
	s.activeEntryID = loc.Entry.ID
	s.activeIndex = loc.Index
	s.activeItemID = loc.Item.InstanceID

	if loc.Item.Kind.IsImage() {
		s.display.ShowImage(loc.Item.PreviewURL)
		return
	}

	s.display.ShowVideo(loc.Item.PreviewURL, loc.TimeIntoItem)
	if s.state == StatePlaying {
		s.display.PlayVideo()
	} else {
		s.display.PauseVideo()
	}
}

func (s *Session) activeVideoLocked() bool {
	return s.hasActive && s.activeIndex >= 0 && s.activeItemID != "" && !s.activeKindIsImage()
}

func (s *Session) activeKindIsImage() bool {
	items := s.tl.Media(s.activeEntryID)
	if s.activeIndex < 0 || s.activeIndex >= len(items) {
		return true
	}
	return items[s.activeIndex].Kind.IsImage()
}
