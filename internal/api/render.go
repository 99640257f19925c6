package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/dunamismax/kirkproxy/internal/domain"
	"github.com/dunamismax/kirkproxy/internal/id"
	"github.com/rs/zerolog/hlog"
)

const downloadTimeLayout = "20060102150405"

func (s *Server) handleInline(w http.ResponseWriter, r *http.Request) {
	s.serveRender(w, r, domain.RunModeInline)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	s.serveRender(w, r, domain.RunModeDownload)
}

// serveRender runs the pipeline within the request and streams the PNG.
// The size is validated before any outbound call is made.
func (s *Server) serveRender(w http.ResponseWriter, r *http.Request, mode string) {
	size, err := domain.ParseSize(r.URL.Query())
	if err != nil {
		writeDetail(w, http.StatusBadRequest, detailInvalidArg)
		return
	}

	ctx := r.Context()
	runID := id.New()
	logger := hlog.FromRequest(r).With().Str("run_id", runID).Str("mode", mode).Logger()

	now := s.now().UTC()
	if err := s.runs.Create(ctx, domain.Run{
		ID:        runID,
		Mode:      mode,
		Size:      size,
		Status:    domain.RunStatusProcessing,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		logger.Warn().Err(err).Msg("run record not created")
	}

	finished := s.metrics.trackRender(mode)
	data, err := s.render(r, runID, size)
	finished(err)
	if err != nil {
		kind := domain.FailureKind(err)
		logger.Error().Err(err).Str("kind", kind).Msg("render failed")
		s.finishRun(r, runID, domain.RunUpdate{
			Status:      domain.RunStatusFailed,
			FailureKind: kind,
			Error:       err.Error(),
		})

		if errors.Is(err, domain.ErrNoImage) {
			writeDetail(w, http.StatusBadGateway, detailNoImage)
			return
		}
		writeDetail(w, http.StatusInternalServerError, detailInternal)
		return
	}

	s.finishRun(r, runID, domain.RunUpdate{Status: domain.RunStatusSucceeded, OutputBytes: len(data)})

	if mode == domain.RunModeDownload {
		filename := fmt.Sprintf("kirk-lueyo-es%s.png", s.now().Format(downloadTimeLayout))
		w.Header().Set("Content-Disposition", "attachment; filename="+filename)
	}
	writePNG(w, data)
}

func (s *Server) render(r *http.Request, runID string, size int) ([]byte, error) {
	if s.renderer == nil {
		return nil, errors.New("renderer is not configured")
	}
	res, err := s.renderer.Run(r.Context(), runID, size)
	if err != nil {
		return nil, err
	}
	return res.Bytes()
}

func (s *Server) finishRun(r *http.Request, runID string, update domain.RunUpdate) {
	if _, err := s.runs.Update(r.Context(), runID, update); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Str("run_id", runID).Msg("run record not updated")
	}
}

func writePNG(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
