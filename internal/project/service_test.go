package project

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/storyforge/storyforge-agent/internal/db"
	"github.com/storyforge/storyforge-agent/internal/preview"
	"github.com/storyforge/storyforge-agent/internal/timeline"
)

type fakeReleaser struct {
	mu       sync.Mutex
	released []string
}

func (f *fakeReleaser) Release(refID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, refID)
	return nil
}

func (f *fakeReleaser) all() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.released...)
}

func setupService(t *testing.T) (*Service, Repository, *fakeReleaser) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	database, err := db.New(dbPath, nil)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	repo := NewRepository(database.Conn())
	releaser := &fakeReleaser{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tuning := preview.Tuning{FrameInterval: time.Millisecond, SettleDelay: 5 * time.Millisecond}
	svc := NewService(repo, timeline.Options{}, tuning, releaser, logger)
	return svc, repo, releaser
}

func twoSegments() []timeline.Segment {
	return []timeline.Segment{
		{Start: 0, End: 5, Text: "first"},
		{Start: 5, End: 10, Text: "second"},
	}
}

// fillProject attaches one image per entry so every span is covered.
func fillProject(t *testing.T, svc *Service, projectID string) {
	t.Helper()
	ctx := context.Background()

	p, err := svc.GetProject(ctx, projectID)
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	tl, err := svc.RestoreTimeline(p)
	if err != nil {
		t.Fatalf("RestoreTimeline: %v", err)
	}

	for i, e := range tl.Entries() {
		_, err := svc.AttachMedia(ctx, projectID, e.ID, timeline.Asset{
			ID:         "asset-" + string(rune('a'+i)),
			Kind:       timeline.KindStockImage,
			SourceURL:  "img.jpg",
			PreviewURL: "img-preview.jpg",
		})
		if err != nil {
			t.Fatalf("AttachMedia: %v", err)
		}
	}
}

func TestCreateProject_SeedsSinglesFromSegments(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	p, err := svc.CreateProject(ctx, "My Story", twoSegments())
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}

	loaded, err := svc.GetProject(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}

	tl, err := svc.RestoreTimeline(loaded)
	if err != nil {
		t.Fatalf("RestoreTimeline: %v", err)
	}
	if len(tl.Entries()) != 2 {
		t.Fatalf("entries = %d, want 2", len(tl.Entries()))
	}
	if tl.TotalSpan() != 10 {
		t.Fatalf("total span = %v, want 10", tl.TotalSpan())
	}
}

func TestGetProject_NotFound(t *testing.T) {
	svc, _, _ := setupService(t)

	_, err := svc.GetProject(context.Background(), "missing")
	if !errors.Is(err, ErrProjectNotFound) {
		t.Fatalf("error = %v, want ErrProjectNotFound", err)
	}
}

func TestGroup_PersistsAcrossReload(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	p, _ := svc.CreateProject(ctx, "t", twoSegments())

	entry, err := svc.Group(ctx, p.ID, []int{0, 1})
	if err != nil {
		t.Fatalf("Group: %v", err)
	}
	if !entry.IsGroup() {
		t.Fatal("expected a group entry")
	}

	loaded, _ := svc.GetProject(ctx, p.ID)
	tl, _ := svc.RestoreTimeline(loaded)
	if len(tl.Entries()) != 1 {
		t.Fatalf("entries after group = %d, want 1", len(tl.Entries()))
	}
}

func TestGroup_RejectionLeavesStateUnchanged(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	p, _ := svc.CreateProject(ctx, "t", twoSegments())

	_, err := svc.Group(ctx, p.ID, []int{0})
	var groupErr *timeline.GroupingError
	if !errors.As(err, &groupErr) {
		t.Fatalf("error = %v, want GroupingError", err)
	}

	loaded, _ := svc.GetProject(ctx, p.ID)
	tl, _ := svc.RestoreTimeline(loaded)
	if len(tl.Entries()) != 2 {
		t.Fatalf("entries = %d, want 2 (unchanged)", len(tl.Entries()))
	}
}

func TestRemoveMedia_ReleasesStagedUpload(t *testing.T) {
	svc, _, releaser := setupService(t)
	ctx := context.Background()

	p, _ := svc.CreateProject(ctx, "t", twoSegments())
	loaded, _ := svc.GetProject(ctx, p.ID)
	tl, _ := svc.RestoreTimeline(loaded)
	entryID := tl.Entries()[0].ID

	item, err := svc.AttachMedia(ctx, p.ID, entryID, timeline.Asset{
		ID:        "up-1",
		Kind:      timeline.KindImage,
		SourceURL: "local/up-1.jpg",
		StagedRef: "ref-1",
	})
	if err != nil {
		t.Fatalf("AttachMedia: %v", err)
	}

	if err := svc.RemoveMedia(ctx, p.ID, entryID, item.InstanceID); err != nil {
		t.Fatalf("RemoveMedia: %v", err)
	}

	if got := releaser.all(); len(got) != 1 || got[0] != "ref-1" {
		t.Fatalf("released = %v, want [ref-1]", got)
	}
}

func TestDeleteProject_ReleasesAllStagedMedia(t *testing.T) {
	svc, repo, releaser := setupService(t)
	ctx := context.Background()

	p, _ := svc.CreateProject(ctx, "t", twoSegments())
	loaded, _ := svc.GetProject(ctx, p.ID)
	tl, _ := svc.RestoreTimeline(loaded)

	for i, e := range tl.Entries() {
		_, err := svc.AttachMedia(ctx, p.ID, e.ID, timeline.Asset{
			ID:        "up",
			Kind:      timeline.KindImage,
			SourceURL: "local/up.jpg",
			StagedRef: "ref-" + string(rune('1'+i)),
		})
		if err != nil {
			t.Fatalf("AttachMedia: %v", err)
		}
	}

	if err := svc.DeleteProject(ctx, p.ID); err != nil {
		t.Fatalf("DeleteProject: %v", err)
	}

	if got := releaser.all(); len(got) != 2 {
		t.Fatalf("released = %v, want both refs", got)
	}
	if deleted, _ := repo.GetProject(ctx, p.ID); deleted != nil {
		t.Fatal("project should be gone")
	}
}

func TestSetScript_ResetsTimelineAndReleases(t *testing.T) {
	svc, _, releaser := setupService(t)
	ctx := context.Background()

	p, _ := svc.CreateProject(ctx, "t", twoSegments())
	loaded, _ := svc.GetProject(ctx, p.ID)
	tl, _ := svc.RestoreTimeline(loaded)

	_, err := svc.AttachMedia(ctx, p.ID, tl.Entries()[0].ID, timeline.Asset{
		ID: "up", Kind: timeline.KindImage, SourceURL: "u.jpg", StagedRef: "ref-x",
	})
	if err != nil {
		t.Fatalf("AttachMedia: %v", err)
	}

	_, err = svc.SetScript(ctx, p.ID, []timeline.Segment{{Start: 0, End: 3, Text: "new"}})
	if err != nil {
		t.Fatalf("SetScript: %v", err)
	}

	if got := releaser.all(); len(got) != 1 || got[0] != "ref-x" {
		t.Fatalf("released = %v, want [ref-x]", got)
	}

	loaded, _ = svc.GetProject(ctx, p.ID)
	tl, _ = svc.RestoreTimeline(loaded)
	if len(tl.Entries()) != 1 || len(tl.Media(tl.Entries()[0].ID)) != 0 {
		t.Fatal("timeline should be rebuilt empty from the new script")
	}
}

func TestPromoteMedia_SwapsStagedForHostedURL(t *testing.T) {
	svc, _, releaser := setupService(t)
	ctx := context.Background()

	p, _ := svc.CreateProject(ctx, "t", twoSegments())
	loaded, _ := svc.GetProject(ctx, p.ID)
	tl, _ := svc.RestoreTimeline(loaded)
	entryID := tl.Entries()[0].ID

	item, err := svc.AttachMedia(ctx, p.ID, entryID, timeline.Asset{
		ID:        "up-1",
		Kind:      timeline.KindImage,
		SourceURL: "local/up-1.jpg",
		StagedRef: "ref-1",
	})
	if err != nil {
		t.Fatalf("AttachMedia: %v", err)
	}

	promoted, err := svc.PromoteMedia(ctx, p.ID, entryID, item.InstanceID, "https://cdn.example/up-1.jpg")
	if err != nil {
		t.Fatalf("PromoteMedia: %v", err)
	}
	if promoted.SourceURL != "https://cdn.example/up-1.jpg" || promoted.StagedRef != "" {
		t.Fatalf("promoted = %+v, want hosted source and no staged ref", promoted)
	}
	if got := releaser.all(); len(got) != 1 || got[0] != "ref-1" {
		t.Fatalf("released = %v, want [ref-1]", got)
	}

	// The swap persists and the item is no longer promotable.
	loaded, _ = svc.GetProject(ctx, p.ID)
	tl, _ = svc.RestoreTimeline(loaded)
	stored := tl.Media(entryID)[0]
	if stored.SourceURL != "https://cdn.example/up-1.jpg" || stored.StagedRef != "" {
		t.Fatalf("stored = %+v, want persisted swap", stored)
	}
	if _, err := svc.PromoteMedia(ctx, p.ID, entryID, item.InstanceID, "elsewhere"); !errors.Is(err, timeline.ErrNotStaged) {
		t.Fatalf("second promote = %v, want ErrNotStaged", err)
	}
}

type stubClock struct {
	mu      sync.Mutex
	pos     float64
	playing bool
}

func (c *stubClock) Position() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pos
}

func (c *stubClock) Play() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.playing = true
}

func (c *stubClock) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.playing = false
}

func (c *stubClock) Seek(offset float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pos = offset
}

type stubDisplay struct{}

func (stubDisplay) ShowImage(string)          {}
func (stubDisplay) ShowVideo(string, float64) {}
func (stubDisplay) PlayVideo()                {}
func (stubDisplay) PauseVideo()               {}
func (stubDisplay) ShowPlaceholder()          {}
func (stubDisplay) Release()                  {}

func TestOpenPreview_RefusesUnreadyProject(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	p, _ := svc.CreateProject(ctx, "t", twoSegments())

	_, err := svc.OpenPreview(ctx, p.ID, &stubClock{}, stubDisplay{})
	if !errors.Is(err, preview.ErrNoNarration) {
		t.Fatalf("error = %v, want ErrNoNarration", err)
	}
}

func TestOpenPreview_SessionUsesServiceTuning(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	p, _ := svc.CreateProject(ctx, "t", twoSegments())
	fillProject(t, svc, p.ID)
	svc.SetNarration(ctx, p.ID, "narration.mp3", 10)

	session, err := svc.OpenPreview(ctx, p.ID, &stubClock{}, stubDisplay{})
	if err != nil {
		t.Fatalf("OpenPreview: %v", err)
	}
	defer session.Close()

	session.HandleCanPlay()
	if err := session.Play(); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if err := session.Seek(7); err != nil {
		t.Fatalf("Seek: %v", err)
	}

	// The service's 5ms settle delay resumes playback well inside this
	// deadline; the package default of 400ms would not.
	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		if session.State() == preview.StatePlaying && !session.IsBuffering() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("seek did not settle within the tuned delay")
}

func TestReconcile_ReportsDeltas(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	p, _ := svc.CreateProject(ctx, "t", twoSegments())

	report, err := svc.Reconcile(ctx, p.ID)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !report.Mismatch {
		t.Fatal("empty entries should mismatch")
	}
	if len(report.Deltas) != 2 {
		t.Fatalf("deltas = %d, want 2", len(report.Deltas))
	}

	fillProject(t, svc, p.ID)

	report, err = svc.Reconcile(ctx, p.ID)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if report.Mismatch {
		t.Fatalf("filled timeline should reconcile, deltas = %v", report.Deltas)
	}
}

func TestRequestRender_RefusesUnreadyProject(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	p, _ := svc.CreateProject(ctx, "t", twoSegments())

	_, err := svc.RequestRender(ctx, p.ID)
	if !errors.Is(err, preview.ErrNoNarration) {
		t.Fatalf("error = %v, want ErrNoNarration", err)
	}

	if _, err := svc.SetNarration(ctx, p.ID, "narration.mp3", 10); err != nil {
		t.Fatalf("SetNarration: %v", err)
	}

	_, err = svc.RequestRender(ctx, p.ID)
	if !errors.Is(err, preview.ErrMismatch) {
		t.Fatalf("error = %v, want ErrMismatch", err)
	}
}

func TestRequestRender_QueuesPendingJob(t *testing.T) {
	svc, repo, _ := setupService(t)
	ctx := context.Background()

	p, _ := svc.CreateProject(ctx, "t", twoSegments())
	fillProject(t, svc, p.ID)
	svc.SetNarration(ctx, p.ID, "narration.mp3", 10)

	job, err := svc.RequestRender(ctx, p.ID)
	if err != nil {
		t.Fatalf("RequestRender: %v", err)
	}
	if job.Type != JobTypeRender || job.Status != JobStatusPending {
		t.Fatalf("job = %+v, want pending render", job)
	}

	pending, err := repo.ListPendingJobs(ctx)
	if err != nil {
		t.Fatalf("ListPendingJobs: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != job.ID {
		t.Fatalf("pending = %+v, want the queued job", pending)
	}
}

func TestRequestPublish_RequiresCompletedRender(t *testing.T) {
	svc, repo, _ := setupService(t)
	ctx := context.Background()

	p, _ := svc.CreateProject(ctx, "t", twoSegments())

	_, err := svc.RequestPublish(ctx, p.ID)
	if !errors.Is(err, ErrNoCompletedRender) {
		t.Fatalf("error = %v, want ErrNoCompletedRender", err)
	}

	job := &Job{ID: NewID(), ProjectID: p.ID, Type: JobTypeRender, Status: JobStatusCompleted, ResultURL: "final.mp4"}
	if err := repo.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	queued, err := svc.RequestPublish(ctx, p.ID)
	if err != nil {
		t.Fatalf("RequestPublish: %v", err)
	}
	if queued.Type != JobTypePublish || queued.Status != JobStatusPending {
		t.Fatalf("job = %+v, want pending publish", queued)
	}
}
