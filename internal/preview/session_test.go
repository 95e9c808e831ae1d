package preview

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/storyforge/storyforge-agent/internal/timeline"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeClock struct {
	mu      sync.Mutex
	pos     float64
	playing bool
	seeks   []float64
}

func (c *fakeClock) Position() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pos
}

func (c *fakeClock) Play() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.playing = true
}

func (c *fakeClock) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.playing = false
}

func (c *fakeClock) Seek(offset float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pos = offset
	c.seeks = append(c.seeks, offset)
}

func (c *fakeClock) setPos(p float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pos = p
}

func (c *fakeClock) isPlaying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing
}

func (c *fakeClock) seekCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seeks)
}

type fakeDisplay struct {
	mu       sync.Mutex
	calls    []string
	released int
}

func (d *fakeDisplay) record(call string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, call)
}

func (d *fakeDisplay) ShowImage(url string) { d.record("image " + url) }
func (d *fakeDisplay) ShowVideo(url string, off float64) {
	d.record(fmt.Sprintf("video %s@%.1f", url, off))
}
func (d *fakeDisplay) PlayVideo()       { d.record("play") }
func (d *fakeDisplay) PauseVideo()      { d.record("pause") }
func (d *fakeDisplay) ShowPlaceholder() { d.record("placeholder") }

func (d *fakeDisplay) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.released++
}

func (d *fakeDisplay) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func (d *fakeDisplay) last() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.calls) == 0 {
		return ""
	}
	return d.calls[len(d.calls)-1]
}

func (d *fakeDisplay) has(call string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.calls {
		if c == call {
			return true
		}
	}
	return false
}

// manualFrames lets tests drive the frame loop by hand.
type manualFrames struct {
	mu sync.Mutex
	fn func()
}

func (m *manualFrames) Start(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fn = fn
}

func (m *manualFrames) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fn = nil
}

func (m *manualFrames) step() {
	m.mu.Lock()
	fn := m.fn
	m.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (m *manualFrames) running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fn != nil
}

// previewTimeline: three 5s segments; first holds a 2s clip then a 3s
// image, the rest hold one 5s image each.
func previewTimeline(t *testing.T) *timeline.Timeline {
	t.Helper()
	tl := timeline.New(timeline.Options{})
	tl.Initialize([]timeline.Segment{
		{Start: 0, End: 5, Text: "one"},
		{Start: 5, End: 10, Text: "two"},
		{Start: 10, End: 15, Text: "three"},
	})

	entries := tl.Entries()
	if _, err := tl.Attach(entries[0].ID, timeline.Asset{
		ID: "clip", Kind: timeline.KindStockVideo, PreviewURL: "clip.mp4", Duration: 2,
	}); err != nil {
		t.Fatalf("attach: %v", err)
	}
	for i, name := range []string{"img-a", "img-b", "img-c"} {
		entryID := entries[0].ID
		if i > 0 {
			entryID = entries[i].ID
		}
		if _, err := tl.Attach(entryID, timeline.Asset{
			ID: name, Kind: timeline.KindStockImage, PreviewURL: name + ".jpg",
		}); err != nil {
			t.Fatalf("attach: %v", err)
		}
	}
	return tl
}

type harness struct {
	session *Session
	clock   *fakeClock
	display *fakeDisplay
	frames  *manualFrames
}

func openSession(t *testing.T, settle time.Duration) *harness {
	t.Helper()
	h := &harness{clock: &fakeClock{}, display: &fakeDisplay{}, frames: &manualFrames{}}

	session, err := NewSession(SessionConfig{
		Timeline:     previewTimeline(t),
		NarrationURL: "narration.mp3",
		Total:        15,
		Audio:        h.clock,
		Display:      h.display,
		Frames:       h.frames,
		SettleDelay:  settle,
		Logger:       testLogger(),
	})
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	h.session = session
	return h
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestCheckReady_RefusalReasons(t *testing.T) {
	full := previewTimeline(t)
	empty := timeline.New(timeline.Options{})
	gapped := timeline.New(timeline.Options{})
	gapped.Initialize([]timeline.Segment{{Start: 0, End: 5, Text: "bare"}})

	tests := []struct {
		name      string
		narration string
		tl        *timeline.Timeline
		total     float64
		want      error
	}{
		{name: "no narration", narration: "", tl: full, total: 15, want: ErrNoNarration},
		{name: "no segments", narration: "n.mp3", tl: empty, total: 15, want: ErrNoSegments},
		{name: "no duration", narration: "n.mp3", tl: full, total: 0, want: ErrNoDuration},
		{name: "mismatch", narration: "n.mp3", tl: gapped, total: 5, want: ErrMismatch},
		{name: "all gates pass", narration: "n.mp3", tl: full, total: 15, want: nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := CheckReady(tc.narration, tc.tl, tc.total)
			if !errors.Is(err, tc.want) {
				t.Fatalf("CheckReady = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestSession_DualReadinessSignals(t *testing.T) {
	h := openSession(t, time.Minute)

	if h.session.State() != StateLoading {
		t.Fatalf("state = %v, want loading", h.session.State())
	}
	if err := h.session.Play(); !errors.Is(err, ErrNotReady) {
		t.Fatalf("play before ready = %v, want ErrNotReady", err)
	}

	// The weaker signal is enough; the stronger one later is a no-op.
	h.session.HandleCanPlay()
	if h.session.State() != StatePaused {
		t.Fatalf("state = %v, want paused after canplay", h.session.State())
	}
	calls := h.display.callCount()
	h.session.HandleCanPlayThrough()
	if h.display.callCount() != calls {
		t.Fatal("second readiness signal must not re-apply")
	}
}

func TestSession_VideoMirrorsAudioTransport(t *testing.T) {
	h := openSession(t, time.Minute)
	h.session.HandleCanPlayThrough()

	// Position 0 resolves to the video clip, paused and seeked to 0.
	if !h.display.has("video clip.mp4@0.0") {
		t.Fatalf("display calls = %v, want video switch at offset 0", h.display.calls)
	}
	if !h.display.has("pause") {
		t.Fatal("video must start mirroring the paused audio")
	}

	if err := h.session.Play(); err != nil {
		t.Fatalf("play: %v", err)
	}
	if !h.clock.isPlaying() {
		t.Fatal("audio not playing")
	}
	if h.display.last() != "play" {
		t.Fatalf("last display call = %q, want play", h.display.last())
	}

	if err := h.session.Pause(); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if h.clock.isPlaying() {
		t.Fatal("audio still playing after pause")
	}
}

func TestSession_FrameSwitchesActiveItem(t *testing.T) {
	h := openSession(t, time.Minute)
	h.session.HandleCanPlayThrough()
	h.session.Play()

	// 2s in: the clip hands over to the first image.
	h.clock.setPos(2.0)
	h.frames.step()
	if h.display.last() != "image img-a.jpg" {
		t.Fatalf("last display call = %q, want image switch", h.display.last())
	}

	// Same item on the next tick: no redundant switching.
	calls := h.display.callCount()
	h.clock.setPos(3.0)
	h.frames.step()
	if h.display.callCount() != calls {
		t.Fatal("display switched for an unchanged active item")
	}

	// Into the second segment's image.
	h.clock.setPos(7.5)
	h.frames.step()
	if h.display.last() != "image img-b.jpg" {
		t.Fatalf("last display call = %q, want second image", h.display.last())
	}
}

func TestSession_HoleShowsPlaceholder(t *testing.T) {
	h := openSession(t, time.Minute)

	// Shrink the first image so the first entry has a gap at its tail.
	tl := h.session.tl
	entry := tl.Entries()[0]
	items := tl.Media(entry.ID)
	if _, err := tl.SetDuration(entry.ID, items[1].InstanceID, 1); err != nil {
		t.Fatalf("set duration: %v", err)
	}

	h.session.HandleCanPlayThrough()
	h.session.Play()

	h.clock.setPos(4.0) // past clip (2s) + image (1s), before entry end
	h.frames.step()
	if h.display.last() != "placeholder" {
		t.Fatalf("last display call = %q, want placeholder", h.display.last())
	}
}

func TestSession_EndOfNarrationRewinds(t *testing.T) {
	h := openSession(t, time.Minute)
	h.session.HandleCanPlayThrough()
	h.session.Play()

	h.clock.setPos(15.0)
	h.frames.step()

	if h.session.State() != StatePaused {
		t.Fatalf("state = %v, want paused at end", h.session.State())
	}
	if h.clock.Position() != 0 {
		t.Fatalf("position = %v, want rewound to 0", h.clock.Position())
	}
	if h.frames.running() {
		t.Fatal("frame loop still running after termination")
	}
}

func TestSession_SeekOptimisticThenResume(t *testing.T) {
	h := openSession(t, 20*time.Millisecond)
	h.session.HandleCanPlayThrough()
	h.session.Play()

	if err := h.session.Seek(7.5); err != nil {
		t.Fatalf("seek: %v", err)
	}

	// Optimistic: display already switched before the settle delay.
	if h.display.last() != "image img-b.jpg" {
		t.Fatalf("last display call = %q, want optimistic switch", h.display.last())
	}
	if !h.session.IsBuffering() {
		t.Fatal("buffering flag not set during settle")
	}
	if h.clock.isPlaying() {
		t.Fatal("audio must hold during settle")
	}

	waitFor(t, func() bool { return h.session.State() == StatePlaying }, "pre-seek play state not resumed")
	waitFor(t, func() bool { return !h.session.IsBuffering() }, "buffering flag not cleared")
	if !h.clock.isPlaying() {
		t.Fatal("audio not resumed after settle")
	}
	if !h.frames.running() {
		t.Fatal("frame loop not restarted after settle")
	}
}

func TestSession_SeekWhilePausedStaysPaused(t *testing.T) {
	h := openSession(t, 10*time.Millisecond)
	h.session.HandleCanPlayThrough()

	if err := h.session.Seek(12); err != nil {
		t.Fatalf("seek: %v", err)
	}
	waitFor(t, func() bool { return !h.session.IsBuffering() }, "buffering flag not cleared")

	if h.session.State() != StatePaused {
		t.Fatalf("state = %v, want paused", h.session.State())
	}
	if h.clock.isPlaying() {
		t.Fatal("paused seek must not start playback")
	}
}

func TestSession_SecondSeekSupersedesFirst(t *testing.T) {
	h := openSession(t, 20*time.Millisecond)
	h.session.HandleCanPlayThrough()
	h.session.Play()

	h.session.Seek(7.5)
	h.session.Seek(12.0)

	waitFor(t, func() bool { return h.session.State() == StatePlaying }, "resume never happened")
	if got := h.clock.Position(); got != 12.0 {
		t.Fatalf("position = %v, want the second seek target", got)
	}
	if got := h.clock.seekCount(); got != 2 {
		t.Fatalf("audio seeks = %d, want 2", got)
	}
}

func TestSession_PauseDuringSettleCancelsResume(t *testing.T) {
	h := openSession(t, 20*time.Millisecond)
	h.session.HandleCanPlayThrough()
	h.session.Play()

	h.session.Seek(7.5)
	if err := h.session.Pause(); err != nil {
		t.Fatalf("pause: %v", err)
	}

	// An explicit pause drops the carried play intent; the settle must not
	// restart playback behind the user's back.
	time.Sleep(50 * time.Millisecond)
	if h.session.State() != StatePaused {
		t.Fatalf("state = %v, want paused after explicit pause", h.session.State())
	}
	if h.clock.isPlaying() {
		t.Fatal("settle resumed playback after an explicit pause")
	}
}

func TestSession_CloseTearsDownAndBlocksStaleCallbacks(t *testing.T) {
	h := openSession(t, 10*time.Millisecond)
	h.session.HandleCanPlayThrough()
	h.session.Play()

	h.frames.mu.Lock()
	stale := h.frames.fn
	h.frames.mu.Unlock()

	h.session.Seek(7.5) // leave a settle timer pending
	h.session.Close()

	if h.session.State() != StateClosed {
		t.Fatalf("state = %v, want closed", h.session.State())
	}
	if h.clock.isPlaying() {
		t.Fatal("audio still playing after close")
	}
	if h.display.released != 1 {
		t.Fatalf("display released %d times, want 1", h.display.released)
	}

	// A frame callback captured before close must be inert.
	calls := h.display.callCount()
	h.clock.setPos(9.0)
	if stale != nil {
		stale()
	}
	if h.display.callCount() != calls {
		t.Fatal("stale frame callback mutated a closed session")
	}

	// The pending settle must not resurrect playback either.
	time.Sleep(30 * time.Millisecond)
	if h.session.State() != StateClosed || h.clock.isPlaying() {
		t.Fatal("pending settle timer acted after close")
	}

	// Closing again is a no-op.
	h.session.Close()
	if h.display.released != 1 {
		t.Fatal("double close released the display twice")
	}
}

func TestSession_CloseThenReopenIsIsolated(t *testing.T) {
	h := openSession(t, 10*time.Millisecond)
	h.session.HandleCanPlayThrough()
	h.session.Play()

	h.frames.mu.Lock()
	stale := h.frames.fn
	h.frames.mu.Unlock()

	h.session.Close()

	next := openSession(t, 10*time.Millisecond)
	next.session.HandleCanPlayThrough()

	calls := next.display.callCount()
	if stale != nil {
		stale()
	}
	if next.display.callCount() != calls {
		t.Fatal("old session callback reached the new session")
	}
	if next.session.State() != StatePaused {
		t.Fatalf("new session state = %v, want paused", next.session.State())
	}
}
