package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pendergraft/ipenforcer/internal/auth"
	"github.com/pendergraft/ipenforcer/internal/cases/domain"
	"github.com/pendergraft/ipenforcer/internal/validation"
)

// Service defines the case service interface for HTTP transport.
type Service interface {
	List(ctx context.Context, filter domain.ListFilter, pagination domain.PaginationParams) (*domain.ListResult, error)
	Get(ctx context.Context, id string) (*domain.Case, error)
	SetStatus(ctx context.Context, id, status string) (*domain.Case, error)
	Evidence(ctx context.Context, id string) (*domain.EvidenceFile, error)
}

// Handler handles HTTP requests for cases.
type Handler struct {
	svc    Service
	logger *slog.Logger
}

// NewHandler creates a new cases HTTP handler.
func NewHandler(svc Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// RegisterRoutes registers the case routes on a chi router. Callers are
// expected to put them behind operator authentication.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Get("/{id}", h.handleGet)
	r.Put("/{id}/status", h.handleSetStatus)
	r.Get("/{id}/evidence", h.handleEvidence)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	result, err := h.svc.List(r.Context(), domain.ListFilter{
		Status:    q.Get("status"),
		ArtworkID: q.Get("artwork"),
		Reporter:  q.Get("reporter"),
	}, domain.PaginationParams{Limit: limit, Offset: offset})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	data := result.Cases
	if data == nil {
		data = []domain.Case{}
	}
	writeJSON(w, http.StatusOK, ListResponse{
		Data: data,
		Pagination: Pagination{
			Limit:   result.Limit,
			Offset:  result.Offset,
			HasMore: result.HasMore,
		},
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Failed to read request body")
		return
	}
	var req StatusRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON")
		return
	}
	if err := validation.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_STATUS", err.Error())
		return
	}

	id := chi.URLParam(r, "id")
	c, err := h.svc.SetStatus(r.Context(), id, req.Status)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.logger.Info("case status updated",
		"case", id,
		"status", c.Status,
		"operator", auth.OperatorFromContext(r.Context()),
	)
	writeJSON(w, http.StatusOK, c)
}

// handleEvidence serves the stored evidence file as a download. The content
// type is sniffed from the stored bytes, never taken from the reporter.
func (h *Handler) handleEvidence(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	file, err := h.svc.Evidence(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.logger.Info("case evidence downloaded",
		"case", id,
		"ref", file.Ref,
		"operator", auth.OperatorFromContext(r.Context()),
	)
	w.Header().Set("Content-Type", file.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(file.Data)))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": id + "-evidence" + file.Extension,
	}))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	w.Write(file.Data)
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Case not found")
	case errors.Is(err, domain.ErrNoEvidence):
		writeError(w, http.StatusNotFound, "NO_EVIDENCE", err.Error())
	case errors.Is(err, domain.ErrInvalidFilter):
		writeError(w, http.StatusBadRequest, "INVALID_FILTER", err.Error())
	case errors.Is(err, domain.ErrInvalidStatus):
		writeError(w, http.StatusBadRequest, "INVALID_STATUS", err.Error())
	case errors.Is(err, domain.ErrCaseRuled):
		writeError(w, http.StatusConflict, "CASE_RULED", err.Error())
	default:
		h.logger.Error("case request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
	}
}

// WriteError writes the API error envelope. It is shared with the
// authentication middleware guarding these routes.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	writeError(w, status, code, message)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}
