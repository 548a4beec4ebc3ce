package api

import (
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/terra-clan/skillscout/internal/assessment"
	"github.com/terra-clan/skillscout/internal/faults"
	"github.com/terra-clan/skillscout/internal/health"
	"github.com/terra-clan/skillscout/internal/models"
	"github.com/terra-clan/skillscout/internal/pipeline"
	"github.com/terra-clan/skillscout/internal/storage"
	"github.com/terra-clan/skillscout/internal/workspace"
)

// Response helpers

type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *apiError   `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := apiResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := apiResponse{
		Success: false,
		Error: &apiError{
			Code:    code,
			Message: message,
		},
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}

// respondFailure maps domain errors onto HTTP statuses. action is used in
// the log line and the message of unclassified failures.
func respondFailure(w http.ResponseWriter, err error, action string) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found", "resource not found")
		return
	case errors.Is(err, storage.ErrDuplicate):
		respondError(w, http.StatusConflict, "conflict", "resource already exists")
		return
	case errors.Is(err, pipeline.ErrAnalysisInProgress):
		respondError(w, http.StatusConflict, "analysis_in_progress", err.Error())
		return
	case errors.Is(err, assessment.ErrAnalysisIncomplete):
		respondError(w, http.StatusConflict, "analysis_incomplete", err.Error())
		return
	case errors.Is(err, pipeline.ErrWorkspaceUnavailable):
		respondError(w, http.StatusConflict, "workspace_unavailable", err.Error())
		return
	case errors.Is(err, workspace.ErrIsDirectory):
		respondError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	case errors.Is(err, fs.ErrNotExist):
		respondError(w, http.StatusNotFound, "not_found", "path not found")
		return
	}

	var fe *faults.Error
	var resp *faults.ErrorResponse
	if errors.As(err, &fe) || errors.As(err, &resp) {
		kind := faults.KindOf(err)
		switch kind {
		case faults.KindInvalidInput:
			respondError(w, http.StatusBadRequest, "validation_error", err.Error())
		case faults.KindAIRequestFailed, faults.KindAIResponseMalformed, faults.KindQuestionValidationFailed:
			slog.Error("upstream failure", "action", action, "error", err)
			respondError(w, http.StatusBadGateway, string(kind), err.Error())
		default:
			slog.Error("classified failure", "action", action, "error", err)
			respondError(w, http.StatusInternalServerError, string(kind), err.Error())
		}
		return
	}

	slog.Error("request failed", "action", action, "error", err)
	respondError(w, http.StatusInternalServerError, "internal_error", "failed to "+action)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return false
	}
	return true
}

// Health handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	results := s.health.CheckAll(r.Context())

	checks := make(map[string]string, len(results))
	for name, err := range results {
		if err != nil {
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}

	if !health.Healthy(results) {
		slog.Warn("readiness check failed", "checks", checks)
		respondError(w, http.StatusServiceUnavailable, "not_ready", "service not ready")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ready",
		"checks": checks,
	})
}

// Candidate handlers

func (s *Server) handlePutCandidate(w http.ResponseWriter, r *http.Request) {
	var profile models.CandidateProfile
	if !decodeBody(w, r, &profile) {
		return
	}
	profile.ID = chi.URLParam(r, "id")

	if err := s.repositories.UpsertCandidate(r.Context(), &profile); err != nil {
		respondFailure(w, err, "store candidate")
		return
	}

	respondJSON(w, http.StatusOK, profile)
}

func (s *Server) handleGetCandidate(w http.ResponseWriter, r *http.Request) {
	profile, err := s.repositories.GetCandidate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondFailure(w, err, "get candidate")
		return
	}

	respondJSON(w, http.StatusOK, profile)
}

func (s *Server) handleCandidateScore(w http.ResponseWriter, r *http.Request) {
	score, err := s.repositories.Score(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondFailure(w, err, "compute score")
		return
	}

	respondJSON(w, http.StatusOK, score)
}

// Repository handlers

func (s *Server) handleLinkRepository(w http.ResponseWriter, r *http.Request) {
	var req models.LinkRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if req.URL == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "repo_url is required")
		return
	}

	repo, err := s.repositories.Link(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		respondFailure(w, err, "link repository")
		return
	}

	respondJSON(w, http.StatusCreated, repo)
}

func (s *Server) handleListRepositories(w http.ResponseWriter, r *http.Request) {
	filters := models.ListFilters{
		CandidateID: chi.URLParam(r, "id"),
		Status:      models.AnalysisStatus(r.URL.Query().Get("status")),
		Limit:       50, // default
		Offset:      0,
	}

	if filters.Status != "" && !filters.Status.IsValid() {
		respondError(w, http.StatusBadRequest, "validation_error", "unknown status: "+string(filters.Status))
		return
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
			filters.Limit = limit
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil && offset >= 0 {
			filters.Offset = offset
		}
	}

	repos, err := s.repositories.List(r.Context(), filters)
	if err != nil {
		respondFailure(w, err, "list repositories")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"repositories": repos,
		"total":        len(repos),
	})
}

func (s *Server) handleGetRepository(w http.ResponseWriter, r *http.Request) {
	repo, err := s.repositories.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondFailure(w, err, "get repository")
		return
	}

	respondJSON(w, http.StatusOK, repo)
}

func (s *Server) handleUnlinkRepository(w http.ResponseWriter, r *http.Request) {
	if err := s.repositories.Unlink(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondFailure(w, err, "unlink repository")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"message": "repository unlinked",
	})
}

func (s *Server) handleStartAnalysis(w http.ResponseWriter, r *http.Request) {
	repo, err := s.repositories.StartAnalysis(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondFailure(w, err, "start analysis")
		return
	}

	respondJSON(w, http.StatusAccepted, repo)
}

// File handlers

func (s *Server) handleBrowseFiles(w http.ResponseWriter, r *http.Request) {
	rel := r.URL.Query().Get("path")

	entries, file, err := s.repositories.Browse(r.Context(), chi.URLParam(r, "id"), rel)
	if err != nil {
		respondFailure(w, err, "browse workspace")
		return
	}

	if file != nil {
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"type": "file",
			"file": file,
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"type":    "directory",
		"path":    rel,
		"entries": entries,
	})
}

func (s *Server) handleSummarizeFile(w http.ResponseWriter, r *http.Request) {
	rel := r.URL.Query().Get("path")
	if rel == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "path is required")
		return
	}

	summary, err := s.repositories.SummarizeFile(r.Context(), chi.URLParam(r, "id"), rel)
	if err != nil {
		respondFailure(w, err, "summarize file")
		return
	}

	respondJSON(w, http.StatusOK, summary)
}

// Assessment handlers

func (s *Server) handleGenerateAssessment(w http.ResponseWriter, r *http.Request) {
	a, err := s.assessments.Generate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondFailure(w, err, "generate assessment")
		return
	}

	respondJSON(w, http.StatusOK, a)
}

func (s *Server) handleGetAssessment(w http.ResponseWriter, r *http.Request) {
	a, err := s.assessments.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondFailure(w, err, "get assessment")
		return
	}

	respondJSON(w, http.StatusOK, a)
}

func (s *Server) handleSubmitAttempt(w http.ResponseWriter, r *http.Request) {
	var req models.SubmitRequest
	if !decodeBody(w, r, &req) {
		return
	}

	attempt, updated, err := s.assessments.Submit(r.Context(), chi.URLParam(r, "id"), req.Answers, req.TimeSpent)
	if err != nil {
		respondFailure(w, err, "submit attempt")
		return
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"attempt":    attempt,
		"assessment": updated,
	})
}

func (s *Server) handleListAttempts(w http.ResponseWriter, r *http.Request) {
	attempts, err := s.assessments.Attempts(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondFailure(w, err, "list attempts")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"attempts": attempts,
		"total":    len(attempts),
	})
}
