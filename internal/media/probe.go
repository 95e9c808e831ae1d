// Package media probes local media files, primarily to learn the duration
// of a staged narration track.
package media

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
)

type Prober interface {
	Probe(ctx context.Context, path string) (*ProbeResult, error)
}

type ProbeResult struct {
	Duration float64
}

// FFprobe shells out to ffprobe on the host.
type FFprobe struct {
	binary string
	logger *slog.Logger
}

func NewFFprobe(logger *slog.Logger) *FFprobe {
	return &FFprobe{binary: "ffprobe", logger: logger}
}

func (f *FFprobe) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	cmd := exec.CommandContext(ctx, f.binary,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe %s: %w", path, err)
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return nil, fmt.Errorf("parse ffprobe duration %q: %w", strings.TrimSpace(string(out)), err)
	}

	if f.logger != nil {
		f.logger.Info("probed media file", "path", path, "duration_s", duration)
	}
	return &ProbeResult{Duration: duration}, nil
}

// StubProber returns a fixed duration, for hosts without ffprobe installed.
type StubProber struct {
	Duration float64
	logger   *slog.Logger
}

func NewStubProber(duration float64, logger *slog.Logger) *StubProber {
	return &StubProber{Duration: duration, logger: logger}
}

func (s *StubProber) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	if s.logger != nil {
		s.logger.Info("prober stub: probe requested", "path", path)
	}
	return &ProbeResult{Duration: s.Duration}, nil
}

var (
	_ Prober = (*FFprobe)(nil)
	_ Prober = (*StubProber)(nil)
)
