package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrPollTimeout means the overall polling deadline passed with the task
// still pending; the operation is abandoned rather than left open.
var ErrPollTimeout = errors.New("render task polling timed out")

const (
	DefaultPollInterval = 3 * time.Second
	DefaultPollTimeout  = 5 * time.Minute
)

// Poller drives a render task to a terminal outcome. Transient poll
// failures (network errors, 5xx) are retried on the next tick; a definitive
// failure or the overall timeout terminates. All timers are released on
// every terminal path.
type Poller struct {
	client   Client
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

func NewPoller(client Client, interval, timeout time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}
	return &Poller{client: client, interval: interval, timeout: timeout, logger: logger}
}

// Wait polls statusURL until success, failure, timeout or context
// cancellation. On success it returns the deliverable URL.
func (p *Poller) Wait(ctx context.Context, statusURL string) (string, error) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	deadline := time.NewTimer(p.timeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()

		case <-deadline.C:
			p.logger.Warn("render task abandoned", "status_url", statusURL, "timeout", p.timeout)
			return "", ErrPollTimeout

		case <-ticker.C:
			status, err := p.client.Poll(ctx, statusURL)
			if err != nil {
				if isTransient(err) {
					p.logger.Info("render poll failed, retrying", "error", err)
					continue
				}
				return "", fmt.Errorf("poll render task: %w", err)
			}

			switch status.Status {
			case StatusSuccess:
				if status.ResultURL == "" {
					return "", fmt.Errorf("render task succeeded without a result URL")
				}
				return status.ResultURL, nil

			case StatusFailure:
				text := status.ErrorText
				if text == "" {
					text = "render task failed"
				}
				return "", errors.New(text)

			default:
				// Still pending.
			}
		}
	}
}

// isTransient reports whether a poll error should be retried: network
// failures and 5xx responses are transient, 4xx are permanent.
func isTransient(err error) bool {
	var taskErr *TaskError
	if errors.As(err, &taskErr) {
		return taskErr.IsRetryable()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}
