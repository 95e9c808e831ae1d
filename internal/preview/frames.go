package preview

import (
	"sync"
	"time"
)

// TickerFrames is the real FrameScheduler: a fixed-interval ticker standing
// in for the platform's animation-frame callback.
type TickerFrames struct {
	interval time.Duration

	mu   sync.Mutex
	stop chan struct{}
}

// NewTickerFrames creates a scheduler firing every interval.
func NewTickerFrames(interval time.Duration) *TickerFrames {
	if interval <= 0 {
		interval = 16 * time.Millisecond
	}
	return &TickerFrames{interval: interval}
}

// Start begins invoking fn on every tick, replacing any running loop.
func (f *TickerFrames) Start(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.stop != nil {
		close(f.stop)
	}
	stop := make(chan struct{})
	f.stop = stop

	go func() {
		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
}

// Stop cancels the running loop. Safe to call repeatedly.
func (f *TickerFrames) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.stop != nil {
		close(f.stop)
		f.stop = nil
	}
}
