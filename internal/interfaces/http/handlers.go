// Package http is the JSON submission API: URL analysis enqueue, task status,
// health, and metrics.
package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"pagegraph-backend/internal/graph"
	"pagegraph-backend/internal/service/analysis"
	"pagegraph-backend/pkg/api"
	appErrors "pagegraph-backend/pkg/errors"
)

// AnalyzeRequest is one URL submission.
type AnalyzeRequest struct {
	URL        string `json:"url" validate:"required,url"`
	Context    string `json:"context"`
	TabID      string `json:"tab_id"`
	WindowID   string `json:"window_id"`
	BookmarkID string `json:"bookmark_id"`
	Content    string `json:"content"`
}

// Handler serves the analysis endpoints.
type Handler struct {
	service  *analysis.Service
	conn     *graph.Connection
	validate *validator.Validate
	logger   *zap.Logger
}

// NewHandler creates the HTTP handler.
func NewHandler(service *analysis.Service, conn *graph.Connection, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		service:  service,
		conn:     conn,
		validate: validator.New(),
		logger:   logger,
	}
}

// Analyze enqueues one URL.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid submission: "+err.Error())
		return
	}
	h.enqueue(w, r, []AnalyzeRequest{req})
}

// AnalyzeBatch enqueues several URLs under one task.
func (h *Handler) AnalyzeBatch(w http.ResponseWriter, r *http.Request) {
	var reqs []AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(reqs) == 0 {
		api.Error(w, http.StatusBadRequest, "empty batch")
		return
	}
	for i := range reqs {
		if err := h.validate.Struct(reqs[i]); err != nil {
			api.Error(w, http.StatusBadRequest, "invalid submission: "+err.Error())
			return
		}
	}
	h.enqueue(w, r, reqs)
}

func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request, reqs []AnalyzeRequest) {
	items := make([]analysis.SubmissionItem, 0, len(reqs))
	for _, req := range reqs {
		items = append(items, analysis.SubmissionItem{
			URL:        req.URL,
			Context:    req.Context,
			TabID:      req.TabID,
			WindowID:   req.WindowID,
			BookmarkID: req.BookmarkID,
			Content:    req.Content,
		})
	}

	result, err := h.service.EnqueueURLs(r.Context(), items)
	if err != nil {
		h.writeError(w, err)
		return
	}
	api.JSON(w, http.StatusAccepted, map[string]any{
		"task_id":       result.TaskID,
		"status":        "enqueued",
		"progress":      0.0,
		"message":       "accepted",
		"urls_enqueued": result.URLsEnqueued,
		"queue_size":    result.QueueSize,
		"queued_at":     result.QueuedAt,
	})
}

// Status returns the aggregated task status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	if taskID == "" {
		api.Error(w, http.StatusBadRequest, "missing task_id")
		return
	}
	view, err := h.service.GetStatus(r.Context(), taskID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	api.JSON(w, http.StatusOK, view)
}

// Health reports liveness plus the store pool snapshot.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	pool := h.conn.CheckPool(r.Context())
	status := http.StatusOK
	if pool.Status == "unavailable" {
		status = http.StatusServiceUnavailable
	}
	api.JSON(w, status, map[string]any{
		"status": pool.Status,
		"pool":   pool,
	})
}

// writeError maps the error taxonomy onto HTTP statuses: unknown task is a
// 404, bad input a 400, everything else a 5xx with the taxonomy code.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case appErrors.IsNotFound(err):
		api.ErrorWithCode(w, http.StatusNotFound, err.Error(), string(appErrors.KindNotFound))
	case appErrors.IsValidation(err):
		api.ErrorWithCode(w, http.StatusBadRequest, err.Error(), string(appErrors.KindValidation))
	case appErrors.IsTimeout(err):
		api.ErrorWithCode(w, http.StatusGatewayTimeout, err.Error(), string(appErrors.KindTimeout))
	case appErrors.IsStore(err):
		h.logger.Error("store failure surfaced to API", zap.Error(err))
		api.ErrorWithCode(w, http.StatusBadGateway, "store unavailable", appErrors.CodeOf(err))
	default:
		h.logger.Error("unhandled API error", zap.Error(err))
		api.Error(w, http.StatusInternalServerError, "internal server error")
	}
}
