// Package project owns compose projects: the persisted timeline per project,
// the mutations the editor performs on it, and the background jobs (render,
// publish) derived from it.
package project

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/storyforge/storyforge-agent/internal/preview"
	"github.com/storyforge/storyforge-agent/internal/timeline"
)

var (
	ErrProjectNotFound   = errors.New("project not found")
	ErrJobNotFound       = errors.New("job not found")
	ErrNarrationMissing  = errors.New("project has no narration track")
	ErrNoCompletedRender = errors.New("project has no completed render")
)

// Releaser frees a staged upload when the last timeline reference to it is
// destroyed. upload.Staging satisfies it.
type Releaser interface {
	Release(refID string) error
}

type Service struct {
	repo     Repository
	opts     timeline.Options
	tuning   preview.Tuning
	releaser Releaser
	logger   *slog.Logger
}

func NewService(repo Repository, opts timeline.Options, tuning preview.Tuning, releaser Releaser, logger *slog.Logger) *Service {
	return &Service{repo: repo, opts: opts, tuning: tuning, releaser: releaser, logger: logger}
}

// CreateProject seeds a project with one single entry per script segment.
func (s *Service) CreateProject(ctx context.Context, title string, segments []timeline.Segment) (*Project, error) {
	if title == "" {
		title = "Untitled"
	}

	tl := timeline.New(s.opts)
	tl.Initialize(segments)

	now := time.Now()
	p := &Project{
		ID:        NewID(),
		Title:     title,
		State:     tl.Snapshot(),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.CreateProject(ctx, p); err != nil {
		return nil, err
	}

	if s.logger != nil {
		s.logger.Info("project created", "project_id", p.ID, "segments", len(segments))
	}
	return p, nil
}

func (s *Service) GetProject(ctx context.Context, id string) (*Project, error) {
	p, err := s.repo.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrProjectNotFound
	}
	return p, nil
}

func (s *Service) ListProjects(ctx context.Context) ([]*Project, error) {
	return s.repo.ListProjects(ctx)
}

// DeleteProject removes a project and releases every staged upload its
// timeline still references.
func (s *Service) DeleteProject(ctx context.Context, id string) error {
	p, tl, err := s.load(ctx, id)
	if err != nil {
		return err
	}

	// Re-initializing with no segments destroys all media, firing the
	// release hook for each staged item exactly once.
	tl.Initialize(nil)

	if err := s.repo.DeleteProject(ctx, p.ID); err != nil {
		return err
	}
	if s.logger != nil {
		s.logger.Info("project deleted", "project_id", p.ID)
	}
	return nil
}

// SetNarration records the narration track and its probed duration.
func (s *Service) SetNarration(ctx context.Context, id, url string, duration float64) (*Project, error) {
	p, err := s.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}

	p.NarrationURL = url
	p.NarrationDuration = duration
	if err := s.repo.UpdateProject(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// SetScript replaces the project's segments wholesale: every entry is
// rebuilt as a single and all existing media is destroyed and released.
func (s *Service) SetScript(ctx context.Context, id string, segments []timeline.Segment) (*Project, error) {
	p, tl, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	tl.Initialize(segments)
	return s.persist(ctx, p, tl)
}

func (s *Service) Group(ctx context.Context, id string, positions []int) (*timeline.Entry, error) {
	p, tl, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	entry, err := tl.Group(positions)
	if err != nil {
		return nil, err
	}
	if _, err := s.persist(ctx, p, tl); err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *Service) Ungroup(ctx context.Context, id string, position int) ([]*timeline.Entry, error) {
	p, tl, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	entries, err := tl.Ungroup(position)
	if err != nil {
		return nil, err
	}
	if _, err := s.persist(ctx, p, tl); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Service) AttachMedia(ctx context.Context, id, entryID string, asset timeline.Asset) (timeline.MediaItem, error) {
	p, tl, err := s.load(ctx, id)
	if err != nil {
		return timeline.MediaItem{}, err
	}

	item, err := tl.Attach(entryID, asset)
	if err != nil {
		return timeline.MediaItem{}, err
	}
	if _, err := s.persist(ctx, p, tl); err != nil {
		return timeline.MediaItem{}, err
	}
	return item, nil
}

func (s *Service) ReorderMedia(ctx context.Context, id, entryID string, from, to int) error {
	p, tl, err := s.load(ctx, id)
	if err != nil {
		return err
	}

	if err := tl.Reorder(entryID, from, to); err != nil {
		return err
	}
	_, err = s.persist(ctx, p, tl)
	return err
}

func (s *Service) RemoveMedia(ctx context.Context, id, entryID, instanceID string) error {
	p, tl, err := s.load(ctx, id)
	if err != nil {
		return err
	}

	if err := tl.Remove(entryID, instanceID); err != nil {
		return err
	}
	_, err = s.persist(ctx, p, tl)
	return err
}

// PromoteMedia finalizes a locally uploaded item once its hosted copy
// exists: the staged upload is released and the hosted URL takes over as the
// item's source.
func (s *Service) PromoteMedia(ctx context.Context, id, entryID, instanceID, hostedURL string) (timeline.MediaItem, error) {
	p, tl, err := s.load(ctx, id)
	if err != nil {
		return timeline.MediaItem{}, err
	}

	item, err := tl.Promote(entryID, instanceID, hostedURL)
	if err != nil {
		return timeline.MediaItem{}, err
	}
	if _, err := s.persist(ctx, p, tl); err != nil {
		return timeline.MediaItem{}, err
	}
	return item, nil
}

func (s *Service) SetMediaDuration(ctx context.Context, id, entryID, instanceID string, duration float64) (timeline.MediaItem, error) {
	p, tl, err := s.load(ctx, id)
	if err != nil {
		return timeline.MediaItem{}, err
	}

	item, err := tl.SetDuration(entryID, instanceID, duration)
	if err != nil {
		return timeline.MediaItem{}, err
	}
	if _, err := s.persist(ctx, p, tl); err != nil {
		return timeline.MediaItem{}, err
	}
	return item, nil
}

// ReconcileReport summarizes how the timeline media compares against the
// entry spans derived from the script.
type ReconcileReport struct {
	Mismatch          bool               `json:"mismatch"`
	TotalSpan         float64            `json:"total_span"`
	NarrationDuration float64            `json:"narration_duration"`
	Deltas            map[string]float64 `json:"deltas"`
}

func (s *Service) Reconcile(ctx context.Context, id string) (*ReconcileReport, error) {
	p, tl, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	return &ReconcileReport{
		Mismatch:          tl.Mismatch(),
		TotalSpan:         tl.TotalSpan(),
		NarrationDuration: p.NarrationDuration,
		Deltas:            tl.Deltas(),
	}, nil
}

// PreviewCheck evaluates the preview gates for a project. A nil error means
// a preview session could open.
func (s *Service) PreviewCheck(ctx context.Context, id string) error {
	p, tl, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	return preview.CheckReady(p.NarrationURL, tl, p.NarrationDuration)
}

// OpenPreview validates the gates and opens a playback session driving the
// caller's audio and display ports, paced by the service's preview tuning.
func (s *Service) OpenPreview(ctx context.Context, id string, audio preview.AudioClock, display preview.Display) (*preview.Session, error) {
	p, tl, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	return preview.NewSession(preview.SessionConfig{
		Timeline:     tl,
		NarrationURL: p.NarrationURL,
		Total:        p.NarrationDuration,
		Audio:        audio,
		Display:      display,
		Frames:       preview.NewTickerFrames(s.tuning.FrameInterval),
		SettleDelay:  s.tuning.SettleDelay,
		Logger:       s.logger,
	})
}

// RequestRender queues a render job. It applies the same gates as preview:
// a project that cannot preview cleanly cannot render either.
func (s *Service) RequestRender(ctx context.Context, id string) (*Job, error) {
	p, tl, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := preview.CheckReady(p.NarrationURL, tl, p.NarrationDuration); err != nil {
		return nil, fmt.Errorf("project is not renderable: %w", err)
	}

	return s.createJob(ctx, p.ID, JobTypeRender)
}

// RequestPublish queues a publish job for the project's most recent
// completed render.
func (s *Service) RequestPublish(ctx context.Context, id string) (*Job, error) {
	if _, err := s.GetProject(ctx, id); err != nil {
		return nil, err
	}
	if _, err := s.LatestRenderResult(ctx, id); err != nil {
		return nil, err
	}
	return s.createJob(ctx, id, JobTypePublish)
}

// LatestRenderResult returns the deliverable URL of the newest completed
// render job for the project.
func (s *Service) LatestRenderResult(ctx context.Context, projectID string) (string, error) {
	jobs, err := s.repo.ListJobs(ctx, projectID, 50)
	if err != nil {
		return "", err
	}
	for _, j := range jobs {
		if j.Type == JobTypeRender && j.Status == JobStatusCompleted && j.ResultURL != "" {
			return j.ResultURL, nil
		}
	}
	return "", ErrNoCompletedRender
}

func (s *Service) GetJob(ctx context.Context, id string) (*Job, error) {
	j, err := s.repo.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if j == nil {
		return nil, ErrJobNotFound
	}
	return j, nil
}

func (s *Service) ListJobs(ctx context.Context, projectID string, limit int) ([]*Job, error) {
	return s.repo.ListJobs(ctx, projectID, limit)
}

func (s *Service) createJob(ctx context.Context, projectID, jobType string) (*Job, error) {
	now := time.Now()
	job := &Job{
		ID:        NewID(),
		ProjectID: projectID,
		Type:      jobType,
		Status:    JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	if s.logger != nil {
		s.logger.Info("job queued", "job_id", job.ID, "project_id", projectID, "type", jobType)
	}
	return job, nil
}

// load fetches a project and rebuilds its live timeline with the release
// hook attached.
func (s *Service) load(ctx context.Context, id string) (*Project, *timeline.Timeline, error) {
	p, err := s.GetProject(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	tl, err := timeline.Restore(p.State, s.opts)
	if err != nil {
		return nil, nil, fmt.Errorf("restore timeline for project %s: %w", id, err)
	}

	if s.releaser != nil {
		tl.SetReleaseFunc(func(item timeline.MediaItem) {
			if err := s.releaser.Release(item.StagedRef); err != nil && s.logger != nil {
				s.logger.Warn("failed to release staged upload",
					"ref", item.StagedRef, "asset_id", item.AssetID, "error", err)
			}
		})
	}
	return p, tl, nil
}

func (s *Service) persist(ctx context.Context, p *Project, tl *timeline.Timeline) (*Project, error) {
	p.State = tl.Snapshot()
	if err := s.repo.UpdateProject(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// RestoreTimeline rebuilds the live timeline for read-only consumers such
// as the preview and playback handlers.
func (s *Service) RestoreTimeline(p *Project) (*timeline.Timeline, error) {
	return timeline.Restore(p.State, s.opts)
}
