package project

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/storyforge/storyforge-agent/internal/preview"
	"github.com/storyforge/storyforge-agent/internal/render"
)

// Publisher uploads a finished render to an external destination.
type Publisher interface {
	Publish(ctx context.Context, videoURL, title string) (string, error)
}

// Runner drains pending jobs one at a time: render jobs go to the remote
// render service and are polled to completion, publish jobs hand the newest
// render result to the publisher.
type Runner struct {
	service      *Service
	repo         Repository
	renderClient render.Client
	poller       *render.Poller
	publisher    Publisher
	logger       *slog.Logger
	pollInterval time.Duration
	running      atomic.Bool
	paused       atomic.Bool
}

func NewRunner(service *Service, repo Repository, renderClient render.Client, poller *render.Poller, publisher Publisher, logger *slog.Logger) *Runner {
	return &Runner{
		service:      service,
		repo:         repo,
		renderClient: renderClient,
		poller:       poller,
		publisher:    publisher,
		logger:       logger,
		pollInterval: 5 * time.Second,
	}
}

func (r *Runner) Start(ctx context.Context) {
	if r.running.Swap(true) {
		return
	}

	r.logger.Info("job runner started")

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("job runner stopping")
			r.running.Store(false)
			return
		case <-ticker.C:
			if !r.paused.Load() {
				r.processNextJob(ctx)
			}
		}
	}
}

func (r *Runner) Pause() {
	r.paused.Store(true)
	r.logger.Info("job runner paused")
}

func (r *Runner) Resume() {
	r.paused.Store(false)
	r.logger.Info("job runner resumed")
}

func (r *Runner) IsPaused() bool {
	return r.paused.Load()
}

func (r *Runner) IsRunning() bool {
	return r.running.Load()
}

func (r *Runner) processNextJob(ctx context.Context) {
	jobs, err := r.repo.ListPendingJobs(ctx)
	if err != nil {
		r.logger.Error("failed to list pending jobs", "error", err)
		return
	}

	if len(jobs) == 0 {
		return
	}

	job := jobs[0]
	r.logger.Info("processing job", "job_id", job.ID, "type", job.Type)

	switch job.Type {
	case JobTypeRender:
		r.processRenderJob(ctx, job)

	case JobTypePublish:
		r.processPublishJob(ctx, job)

	default:
		r.logger.Warn("unknown job type", "type", job.Type)
		r.repo.UpdateJobStatus(ctx, job.ID, JobStatusFailed, "unknown job type")
	}
}

func (r *Runner) processRenderJob(ctx context.Context, job *Job) {
	if r.renderClient == nil || r.poller == nil {
		r.repo.UpdateJobStatus(ctx, job.ID, JobStatusFailed, "render service not configured")
		return
	}

	p, tl, err := r.service.load(ctx, job.ProjectID)
	if err != nil {
		r.repo.UpdateJobStatus(ctx, job.ID, JobStatusFailed, "project not found")
		return
	}
	// The gates are re-checked at processing time: the timeline may have
	// been edited between queueing and pickup.
	if err := preview.CheckReady(p.NarrationURL, tl, p.NarrationDuration); err != nil {
		r.repo.UpdateJobStatus(ctx, job.ID, JobStatusFailed, err.Error())
		return
	}

	clips := tl.Flatten(p.NarrationDuration)
	if len(clips) == 0 {
		r.repo.UpdateJobStatus(ctx, job.ID, JobStatusFailed, "timeline flattens to no clips")
		return
	}

	r.repo.UpdateJobStatus(ctx, job.ID, JobStatusRunning, "")

	submitted, err := r.renderClient.Submit(ctx, render.SubmitRequest{
		Clips:         clips,
		NarrationURL:  p.NarrationURL,
		TotalDuration: p.NarrationDuration,
	})
	if err != nil {
		r.logger.Error("render submission failed", "job_id", job.ID, "error", err)
		r.repo.UpdateJobStatus(ctx, job.ID, JobStatusFailed, err.Error())
		return
	}

	resultURL, err := r.poller.Wait(ctx, submitted.StatusURL)
	if err != nil {
		r.logger.Error("render task failed", "job_id", job.ID, "task_id", submitted.TaskID, "error", err)
		r.repo.UpdateJobStatus(ctx, job.ID, JobStatusFailed, err.Error())
		return
	}

	r.repo.UpdateJobResult(ctx, job.ID, resultURL)
	r.repo.UpdateJobStatus(ctx, job.ID, JobStatusCompleted, "")
	r.logger.Info("render job completed", "job_id", job.ID, "task_id", submitted.TaskID, "result_url", resultURL)
}

func (r *Runner) processPublishJob(ctx context.Context, job *Job) {
	if r.publisher == nil {
		r.repo.UpdateJobStatus(ctx, job.ID, JobStatusFailed, "publisher not configured")
		return
	}

	p, err := r.service.GetProject(ctx, job.ProjectID)
	if err != nil {
		r.repo.UpdateJobStatus(ctx, job.ID, JobStatusFailed, "project not found")
		return
	}

	videoURL, err := r.service.LatestRenderResult(ctx, job.ProjectID)
	if err != nil {
		r.repo.UpdateJobStatus(ctx, job.ID, JobStatusFailed, err.Error())
		return
	}

	r.repo.UpdateJobStatus(ctx, job.ID, JobStatusRunning, "")

	publishedURL, err := r.publisher.Publish(ctx, videoURL, p.Title)
	if err != nil {
		r.logger.Error("publish failed", "job_id", job.ID, "error", err)
		r.repo.UpdateJobStatus(ctx, job.ID, JobStatusFailed, err.Error())
		return
	}

	r.repo.UpdateJobResult(ctx, job.ID, publishedURL)
	r.repo.UpdateJobStatus(ctx, job.ID, JobStatusCompleted, "")
	r.logger.Info("publish job completed", "job_id", job.ID, "url", publishedURL)
}

func (r *Runner) GetActiveJobCount(ctx context.Context) int {
	jobs, err := r.repo.ListPendingJobs(ctx)
	if err != nil {
		return 0
	}
	return len(jobs)
}
