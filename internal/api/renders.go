package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/dunamismax/kirkproxy/internal/domain"
	"github.com/dunamismax/kirkproxy/internal/id"
	"github.com/dunamismax/kirkproxy/internal/queue"
	"github.com/dunamismax/kirkproxy/internal/storage"
	"github.com/rs/zerolog/hlog"
)

func (s *Server) handleCreateRender(w http.ResponseWriter, r *http.Request) {
	if s.queueClient == nil {
		writeDetail(w, http.StatusServiceUnavailable, "asynchronous renders are not enabled")
		return
	}

	req, err := parseRenderRequest(r)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidSize) {
			writeDetail(w, http.StatusBadRequest, detailInvalidArg)
			return
		}
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	now := s.now().UTC()
	run := domain.Run{
		ID:         id.New(),
		Mode:       domain.RunModeAsync,
		Size:       req.Size,
		Status:     domain.RunStatusQueued,
		WebhookURL: req.WebhookURL,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	logger := hlog.FromRequest(r).With().Str("run_id", run.ID).Logger()

	if err := s.runs.Create(ctx, run); err != nil {
		logger.Error().Err(err).Msg("create run failed")
		writeDetail(w, http.StatusInternalServerError, detailInternal)
		return
	}

	taskInfo, err := s.queueClient.EnqueueRender(ctx, queue.RenderPayload{
		RunID:       run.ID,
		Size:        run.Size,
		WebhookURL:  run.WebhookURL,
		RequestedAt: now,
	})
	if err != nil {
		logger.Error().Err(err).Msg("enqueue render failed")
		s.finishRun(r, run.ID, domain.RunUpdate{
			Status:      domain.RunStatusFailed,
			FailureKind: domain.FailureInternal,
			Error:       err.Error(),
		})
		writeDetail(w, http.StatusInternalServerError, detailInternal)
		return
	}
	s.metrics.enqueued.WithLabelValues(taskInfo.Queue).Inc()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"run_id":     run.ID,
		"status":     run.Status,
		"size":       run.Size,
		"queue":      taskInfo.Queue,
		"task_id":    taskInfo.ID,
		"status_url": fmt.Sprintf("/v1/renders/%s", run.ID),
		"image_url":  fmt.Sprintf("/v1/renders/%s/image", run.ID),
	})
}

func parseRenderRequest(r *http.Request) (domain.RenderRequest, error) {
	query := r.URL.Query()

	size, err := domain.ParseSize(query)
	if err != nil {
		return domain.RenderRequest{}, err
	}

	req := domain.RenderRequest{
		Size:       size,
		WebhookURL: strings.TrimSpace(query.Get("webhook_url")),
	}
	if err := req.Validate(); err != nil {
		return domain.RenderRequest{}, err
	}
	return req, nil
}

func (s *Server) handleGetRender(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleGetRenderImage(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	if run.Status != domain.RunStatusSucceeded || run.OutputKey == "" {
		writeDetail(w, http.StatusConflict, fmt.Sprintf("render is %s", run.Status))
		return
	}
	if s.images == nil {
		writeDetail(w, http.StatusNotFound, "render image not found")
		return
	}

	data, err := s.images.Read(r.Context(), run.OutputKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeDetail(w, http.StatusNotFound, "render image not found")
			return
		}
		hlog.FromRequest(r).Error().Err(err).Str("run_id", run.ID).Msg("read render image failed")
		writeDetail(w, http.StatusInternalServerError, detailInternal)
		return
	}
	writePNG(w, data)
}

func (s *Server) lookupRun(w http.ResponseWriter, r *http.Request) (domain.Run, bool) {
	runID := strings.TrimSpace(r.PathValue("id"))
	run, ok, err := s.runs.Get(r.Context(), runID)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("run_id", runID).Msg("load run failed")
		writeDetail(w, http.StatusInternalServerError, detailInternal)
		return domain.Run{}, false
	}
	if !ok {
		writeDetail(w, http.StatusNotFound, "render not found")
		return domain.Run{}, false
	}
	return run, true
}
