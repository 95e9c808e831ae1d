package api

import (
	"time"

	"github.com/storyforge/storyforge-agent/internal/project"
	"github.com/storyforge/storyforge-agent/internal/stock"
	"github.com/storyforge/storyforge-agent/internal/timeline"
	"github.com/storyforge/storyforge-agent/internal/upload"
)

type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	UptimeS  int64  `json:"uptime_s"`
	DeviceID string `json:"device_id"`
}

type StatusResponse struct {
	State         string       `json:"state"`
	LastError     string       `json:"last_error,omitempty"`
	ProjectsCount int          `json:"projects_count"`
	JobsPending   int          `json:"jobs_pending"`
	ActiveJob     *JobResponse `json:"active_job,omitempty"`
}

type SegmentRequest struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type CreateProjectRequest struct {
	Title    string           `json:"title"`
	Segments []SegmentRequest `json:"segments"`
}

type SetScriptRequest struct {
	Segments []SegmentRequest `json:"segments"`
}

type SetNarrationRequest struct {
	RefID    string  `json:"ref_id,omitempty"`
	URL      string  `json:"url,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

type GroupRequest struct {
	Positions []int `json:"positions"`
}

type UngroupRequest struct {
	Position int `json:"position"`
}

type AttachMediaRequest struct {
	AssetID    string  `json:"asset_id"`
	Kind       string  `json:"kind"`
	PreviewURL string  `json:"preview_url,omitempty"`
	SourceURL  string  `json:"source_url"`
	Duration   float64 `json:"duration,omitempty"`
	StagedRef  string  `json:"staged_ref,omitempty"`
}

type PromoteMediaRequest struct {
	URL string `json:"url"`
}

type ReorderMediaRequest struct {
	From int `json:"from"`
	To   int `json:"to"`
}

type SetDurationRequest struct {
	Duration float64 `json:"duration"`
}

type MediaResponse struct {
	InstanceID string  `json:"instance_id"`
	AssetID    string  `json:"asset_id"`
	Kind       string  `json:"kind"`
	PreviewURL string  `json:"preview_url,omitempty"`
	SourceURL  string  `json:"source_url"`
	Duration   float64 `json:"duration"`
	StagedRef  string  `json:"staged_ref,omitempty"`
}

type EntryResponse struct {
	ID      string          `json:"id"`
	Indices []int           `json:"indices"`
	Start   float64         `json:"start"`
	End     float64         `json:"end"`
	Text    string          `json:"text"`
	IsGroup bool            `json:"is_group"`
	Media   []MediaResponse `json:"media"`
}

type ProjectResponse struct {
	ID                string  `json:"id"`
	Title             string  `json:"title"`
	NarrationURL      string  `json:"narration_url,omitempty"`
	NarrationDuration float64 `json:"narration_duration,omitempty"`
	SegmentsCount     int     `json:"segments_count"`
	EntriesCount      int     `json:"entries_count"`
	CreatedAt         string  `json:"created_at"`
	UpdatedAt         string  `json:"updated_at"`
}

type ProjectDetailResponse struct {
	ProjectResponse
	Segments []SegmentRequest `json:"segments"`
	Entries  []EntryResponse  `json:"entries"`
}

type ProjectsResponse struct {
	Projects []ProjectResponse `json:"projects"`
}

type PreviewCheckResponse struct {
	Ready  bool   `json:"ready"`
	Reason string `json:"reason,omitempty"`
}

type JobQueuedResponse struct {
	JobID string `json:"job_id"`
}

type JobResponse struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Type      string `json:"type"`
	Status    string `json:"status"`
	ResultURL string `json:"result_url,omitempty"`
	Error     string `json:"error,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type JobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

type StockResultResponse struct {
	ID         string  `json:"id"`
	Kind       string  `json:"kind"`
	PreviewURL string  `json:"preview_url"`
	SourceURL  string  `json:"source_url"`
	Duration   float64 `json:"duration,omitempty"`
}

type StockSearchResponse struct {
	Results []StockResultResponse `json:"results"`
}

type UploadedFileResponse struct {
	Filename string `json:"filename"`
	RefID    string `json:"ref_id,omitempty"`
	Size     int64  `json:"size,omitempty"`
	Error    string `json:"error,omitempty"`
}

type UploadsResponse struct {
	Files []UploadedFileResponse `json:"files"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func ProjectToResponse(p *project.Project) ProjectResponse {
	return ProjectResponse{
		ID:                p.ID,
		Title:             p.Title,
		NarrationURL:      p.NarrationURL,
		NarrationDuration: p.NarrationDuration,
		SegmentsCount:     len(p.State.Segments),
		EntriesCount:      len(p.State.Entries),
		CreatedAt:         p.CreatedAt.Format(time.RFC3339),
		UpdatedAt:         p.UpdatedAt.Format(time.RFC3339),
	}
}

func ProjectToDetailResponse(p *project.Project, tl *timeline.Timeline) ProjectDetailResponse {
	detail := ProjectDetailResponse{ProjectResponse: ProjectToResponse(p)}

	for _, s := range tl.Segments() {
		detail.Segments = append(detail.Segments, SegmentRequest{Start: s.Start, End: s.End, Text: s.Text})
	}
	for _, e := range tl.Entries() {
		detail.Entries = append(detail.Entries, EntryToResponse(e, tl.Media(e.ID)))
	}
	return detail
}

func EntryToResponse(e *timeline.Entry, media []timeline.MediaItem) EntryResponse {
	resp := EntryResponse{
		ID:      e.ID,
		Indices: e.Indices,
		Start:   e.Start,
		End:     e.End,
		Text:    e.Text,
		IsGroup: e.IsGroup(),
		Media:   make([]MediaResponse, 0, len(media)),
	}
	for _, m := range media {
		resp.Media = append(resp.Media, MediaToResponse(m))
	}
	return resp
}

func MediaToResponse(m timeline.MediaItem) MediaResponse {
	return MediaResponse{
		InstanceID: m.InstanceID,
		AssetID:    m.AssetID,
		Kind:       string(m.Kind),
		PreviewURL: m.PreviewURL,
		SourceURL:  m.SourceURL,
		Duration:   m.Duration,
		StagedRef:  m.StagedRef,
	}
}

func JobToResponse(j *project.Job) JobResponse {
	return JobResponse{
		ID:        j.ID,
		ProjectID: j.ProjectID,
		Type:      j.Type,
		Status:    j.Status,
		ResultURL: j.ResultURL,
		Error:     j.Error,
		CreatedAt: j.CreatedAt.Format(time.RFC3339),
		UpdatedAt: j.UpdatedAt.Format(time.RFC3339),
	}
}

func StockResultToResponse(r stock.Result) StockResultResponse {
	return StockResultResponse{
		ID:         r.ID,
		Kind:       r.Kind,
		PreviewURL: r.PreviewURL,
		SourceURL:  r.SourceURL,
		Duration:   r.Duration,
	}
}

func StagedFileToResponse(f *upload.StagedFile) UploadedFileResponse {
	return UploadedFileResponse{
		Filename: f.Filename,
		RefID:    f.RefID,
		Size:     f.Size,
	}
}

func (r AttachMediaRequest) Asset() timeline.Asset {
	return timeline.Asset{
		ID:         r.AssetID,
		Kind:       timeline.MediaKind(r.Kind),
		PreviewURL: r.PreviewURL,
		SourceURL:  r.SourceURL,
		Duration:   r.Duration,
		StagedRef:  r.StagedRef,
	}
}

func segmentsFromRequest(in []SegmentRequest) []timeline.Segment {
	out := make([]timeline.Segment, 0, len(in))
	for _, s := range in {
		out = append(out, timeline.Segment{Start: s.Start, End: s.End, Text: s.Text})
	}
	return out
}
