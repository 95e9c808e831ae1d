package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/storyforge/storyforge-agent/internal/preview"
	"github.com/storyforge/storyforge-agent/internal/project"
	"github.com/storyforge/storyforge-agent/internal/timeline"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))

	r.Get("/health", healthHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Repository, cfg.Logger))

		r.Get("/status", statusHandler(cfg))

		r.Get("/projects", listProjectsHandler(cfg))
		r.Post("/projects", createProjectHandler(cfg))
		r.Get("/projects/{id}", getProjectHandler(cfg))
		r.Delete("/projects/{id}", deleteProjectHandler(cfg))
		r.Put("/projects/{id}/script", setScriptHandler(cfg))
		r.Put("/projects/{id}/narration", setNarrationHandler(cfg))

		r.Post("/projects/{id}/group", groupHandler(cfg))
		r.Post("/projects/{id}/ungroup", ungroupHandler(cfg))

		r.Post("/projects/{id}/entries/{entryID}/media", attachMediaHandler(cfg))
		r.Post("/projects/{id}/entries/{entryID}/media/reorder", reorderMediaHandler(cfg))
		r.Delete("/projects/{id}/entries/{entryID}/media/{instanceID}", removeMediaHandler(cfg))
		r.Put("/projects/{id}/entries/{entryID}/media/{instanceID}/duration", setMediaDurationHandler(cfg))
		r.Post("/projects/{id}/entries/{entryID}/media/{instanceID}/promote", promoteMediaHandler(cfg))

		r.Get("/projects/{id}/reconcile", reconcileHandler(cfg))
		r.Get("/projects/{id}/preview", previewCheckHandler(cfg))
		r.Post("/projects/{id}/render", renderHandler(cfg))
		r.Post("/projects/{id}/publish", publishHandler(cfg))
		r.Get("/projects/{id}/jobs", listJobsHandler(cfg))
		r.Get("/jobs/{id}", getJobHandler(cfg))

		r.Get("/stock/search", stockSearchHandler(cfg))
		r.Post("/uploads", uploadsHandler(cfg))
		r.Get("/playback/staged/{ref}", playbackHandler(cfg))
	})

	return r
}

// writeDomainError maps service and timeline errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	var groupErr *timeline.GroupingError
	switch {
	case errors.Is(err, project.ErrProjectNotFound),
		errors.Is(err, project.ErrJobNotFound),
		errors.Is(err, timeline.ErrEntryNotFound),
		errors.Is(err, timeline.ErrItemNotFound):
		WriteError(w, http.StatusNotFound, err.Error(), "NOT_FOUND")

	case errors.As(err, &groupErr),
		errors.Is(err, timeline.ErrNotGroup),
		errors.Is(err, timeline.ErrNotStaged),
		errors.Is(err, timeline.ErrFixedDuration),
		errors.Is(err, timeline.ErrIndexOutOfRange),
		errors.Is(err, project.ErrNoCompletedRender),
		errors.Is(err, project.ErrNarrationMissing),
		errors.Is(err, preview.ErrNoNarration),
		errors.Is(err, preview.ErrNoSegments),
		errors.Is(err, preview.ErrNoDuration),
		errors.Is(err, preview.ErrMismatch):
		WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")

	default:
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
	}
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:   "ok",
			Version:  cfg.Version,
			UptimeS:  uptime,
			DeviceID: cfg.DeviceID,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		projects, _ := cfg.ProjectService.ListProjects(ctx)
		pending, _ := cfg.Repository.ListPendingJobs(ctx)
		running, _ := cfg.Repository.ListJobsByStatus(ctx, project.JobStatusRunning, 1)
		failed, _ := cfg.Repository.ListJobsByStatus(ctx, project.JobStatusFailed, 1)

		state := "idle"
		if cfg.Runner != nil && cfg.Runner.IsPaused() {
			state = "paused"
		} else if len(pending) > 0 || len(running) > 0 {
			state = "working"
		}

		resp := StatusResponse{
			State:         state,
			ProjectsCount: len(projects),
			JobsPending:   len(pending),
		}
		if len(running) > 0 {
			active := JobToResponse(running[0])
			resp.ActiveJob = &active
		}
		if len(failed) > 0 {
			resp.LastError = failed[0].Error
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func listProjectsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projects, err := cfg.ProjectService.ListProjects(r.Context())
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list projects", "INTERNAL_ERROR")
			return
		}

		resp := ProjectsResponse{Projects: make([]ProjectResponse, len(projects))}
		for i, p := range projects {
			resp.Projects[i] = ProjectToResponse(p)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func createProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateProjectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		p, err := cfg.ProjectService.CreateProject(r.Context(), req.Title, segmentsFromRequest(req.Segments))
		if err != nil {
			writeDomainError(w, err)
			return
		}

		WriteJSON(w, http.StatusCreated, ProjectToResponse(p))
	}
}

func getProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := cfg.ProjectService.GetProject(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, err)
			return
		}

		tl, err := cfg.ProjectService.RestoreTimeline(p)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}

		WriteJSON(w, http.StatusOK, ProjectToDetailResponse(p, tl))
	}
}

func deleteProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.ProjectService.DeleteProject(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func setScriptHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SetScriptRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		p, err := cfg.ProjectService.SetScript(r.Context(), chi.URLParam(r, "id"), segmentsFromRequest(req.Segments))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, ProjectToResponse(p))
	}
}

func setNarrationHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SetNarrationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		url := req.URL
		duration := req.Duration

		// A staged ref takes precedence: probe its duration and serve it
		// through the playback endpoint.
		if req.RefID != "" {
			path, err := cfg.Staging.Path(req.RefID)
			if err != nil {
				WriteError(w, http.StatusNotFound, "staged upload not found", "NOT_FOUND")
				return
			}
			probed, err := cfg.Prober.Probe(r.Context(), path)
			if err != nil {
				WriteError(w, http.StatusBadRequest, "could not probe narration duration: "+err.Error(), "BAD_REQUEST")
				return
			}
			url = "/playback/staged/" + req.RefID
			duration = probed.Duration
		}

		if url == "" {
			WriteError(w, http.StatusBadRequest, "ref_id or url is required", "BAD_REQUEST")
			return
		}

		p, err := cfg.ProjectService.SetNarration(r.Context(), chi.URLParam(r, "id"), url, duration)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, ProjectToResponse(p))
	}
}

func groupHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req GroupRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		entry, err := cfg.ProjectService.Group(r.Context(), chi.URLParam(r, "id"), req.Positions)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, EntryToResponse(entry, nil))
	}
}

func ungroupHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req UngroupRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		entries, err := cfg.ProjectService.Ungroup(r.Context(), chi.URLParam(r, "id"), req.Position)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		resp := make([]EntryResponse, len(entries))
		for i, e := range entries {
			resp[i] = EntryToResponse(e, nil)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func attachMediaHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AttachMediaRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.SourceURL == "" {
			WriteError(w, http.StatusBadRequest, "source_url is required", "BAD_REQUEST")
			return
		}
		switch timeline.MediaKind(req.Kind) {
		case timeline.KindImage, timeline.KindStockImage, timeline.KindStockVideo:
		default:
			WriteError(w, http.StatusBadRequest, "unknown media kind: "+req.Kind, "BAD_REQUEST")
			return
		}

		item, err := cfg.ProjectService.AttachMedia(r.Context(),
			chi.URLParam(r, "id"), chi.URLParam(r, "entryID"), req.Asset())
		if err != nil {
			writeDomainError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, MediaToResponse(item))
	}
}

func reorderMediaHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ReorderMediaRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		err := cfg.ProjectService.ReorderMedia(r.Context(),
			chi.URLParam(r, "id"), chi.URLParam(r, "entryID"), req.From, req.To)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func removeMediaHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := cfg.ProjectService.RemoveMedia(r.Context(),
			chi.URLParam(r, "id"), chi.URLParam(r, "entryID"), chi.URLParam(r, "instanceID"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func setMediaDurationHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SetDurationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		item, err := cfg.ProjectService.SetMediaDuration(r.Context(),
			chi.URLParam(r, "id"), chi.URLParam(r, "entryID"), chi.URLParam(r, "instanceID"), req.Duration)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, MediaToResponse(item))
	}
}

func promoteMediaHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PromoteMediaRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.URL == "" {
			WriteError(w, http.StatusBadRequest, "url is required", "BAD_REQUEST")
			return
		}

		item, err := cfg.ProjectService.PromoteMedia(r.Context(),
			chi.URLParam(r, "id"), chi.URLParam(r, "entryID"), chi.URLParam(r, "instanceID"), req.URL)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, MediaToResponse(item))
	}
}

func reconcileHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := cfg.ProjectService.Reconcile(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, report)
	}
}

func previewCheckHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := cfg.ProjectService.PreviewCheck(r.Context(), chi.URLParam(r, "id"))
		if err == nil {
			WriteJSON(w, http.StatusOK, PreviewCheckResponse{Ready: true})
			return
		}

		switch {
		case errors.Is(err, preview.ErrNoNarration),
			errors.Is(err, preview.ErrNoSegments),
			errors.Is(err, preview.ErrNoDuration),
			errors.Is(err, preview.ErrMismatch):
			WriteJSON(w, http.StatusOK, PreviewCheckResponse{Ready: false, Reason: err.Error()})
		default:
			writeDomainError(w, err)
		}
	}
}

func renderHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := cfg.ProjectService.RequestRender(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		WriteJSON(w, http.StatusAccepted, JobQueuedResponse{JobID: job.ID})
	}
}

func publishHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := cfg.ProjectService.RequestPublish(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		WriteJSON(w, http.StatusAccepted, JobQueuedResponse{JobID: job.ID})
	}
}

func listJobsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobs, err := cfg.ProjectService.ListJobs(r.Context(), chi.URLParam(r, "id"), 50)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list jobs", "INTERNAL_ERROR")
			return
		}

		resp := JobsResponse{Jobs: make([]JobResponse, len(jobs))}
		for i, j := range jobs {
			resp.Jobs[i] = JobToResponse(j)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getJobHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := cfg.ProjectService.GetJob(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, JobToResponse(job))
	}
}

func stockSearchHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.StockClient == nil {
			WriteError(w, http.StatusServiceUnavailable, "stock search is not configured", "NOT_CONFIGURED")
			return
		}

		query := r.URL.Query().Get("query")
		if query == "" {
			WriteError(w, http.StatusBadRequest, "query is required", "BAD_REQUEST")
			return
		}
		perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))

		results, err := cfg.StockClient.Search(r.Context(), query, perPage)
		if err != nil {
			WriteError(w, http.StatusBadGateway, err.Error(), "UPSTREAM_ERROR")
			return
		}

		resp := StockSearchResponse{Results: make([]StockResultResponse, len(results))}
		for i, res := range results {
			resp.Results[i] = StockResultToResponse(res)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

// uploadsHandler stages every file of a multipart request independently:
// one bad file does not fail the batch.
func uploadsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reader, err := r.MultipartReader()
		if err != nil {
			WriteError(w, http.StatusBadRequest, "multipart body required", "BAD_REQUEST")
			return
		}

		var resp UploadsResponse
		for {
			part, err := reader.NextPart()
			if err != nil {
				break
			}
			name := part.FileName()
			if name == "" {
				part.Close()
				continue
			}

			staged, err := cfg.Staging.Stage(name, part)
			part.Close()
			if err != nil {
				resp.Files = append(resp.Files, UploadedFileResponse{
					Filename: name,
					Error:    err.Error(),
				})
				continue
			}
			resp.Files = append(resp.Files, StagedFileToResponse(staged))
		}

		if len(resp.Files) == 0 {
			WriteError(w, http.StatusBadRequest, "no files in request", "BAD_REQUEST")
			return
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func playbackHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref := chi.URLParam(r, "ref")
		if ref == "" {
			WriteError(w, http.StatusBadRequest, "ref is required", "BAD_REQUEST")
			return
		}

		if err := cfg.PlaybackServer.ServeStaged(w, r, ref); err != nil {
			cfg.Logger.Error("playback failed", "ref", ref, "error", err)
		}
	}
}
