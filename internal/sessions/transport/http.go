package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/pendergraft/ipenforcer/internal/gallery"
	"github.com/pendergraft/ipenforcer/internal/sessions/domain"
	"github.com/pendergraft/ipenforcer/internal/validation"
	"github.com/pendergraft/ipenforcer/internal/workflow"
)

const (
	defaultWaitTimeout = 10 * time.Second
	maxWaitTimeout     = 30 * time.Second

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Service defines the session service interface for HTTP transport.
type Service interface {
	Open(ctx context.Context, artworkID string) (*domain.Session, error)
	Get(ctx context.Context, id string) (*domain.Session, error)
	Await(ctx context.Context, id string, state workflow.State) (*domain.Session, error)
	Close(ctx context.Context, id string) error
	SubmitReport(ctx context.Context, id string, req domain.ReportRequest) (*domain.Session, error)
	ToggleAttestation(ctx context.Context, id, criterion string) (*domain.Session, error)
	TriggerDispute(ctx context.Context, id string) (workflow.DisputeOutcome, *domain.Session, error)
	ConnectWallet(ctx context.Context, id, address string) (*domain.Session, error)
	DisconnectWallet(ctx context.Context, id string) (*domain.Session, error)
	OpenDetail(ctx context.Context, id string) (*domain.Session, error)
	CloseDetail(ctx context.Context, id string) (*domain.Session, error)
	RequestRecap(ctx context.Context, id string) (*domain.Session, error)
	Subscribe(ctx context.Context, id string) (<-chan workflow.Snapshot, func(), error)
}

// Handler handles HTTP requests for sessions.
type Handler struct {
	svc              Service
	maxEvidenceBytes int64
	logger           *slog.Logger
	upgrader         websocket.Upgrader
}

// NewHandler creates a new sessions HTTP handler. Reports with evidence
// larger than maxEvidenceBytes are rejected before reaching the service.
func NewHandler(svc Service, maxEvidenceBytes int64, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{
		svc:              svc,
		maxEvidenceBytes: maxEvidenceBytes,
		logger:           logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Sessions are unauthenticated and scoped by an unguessable id.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// RegisterArtworkRoutes registers the gallery routes.
func (h *Handler) RegisterArtworkRoutes(r chi.Router) {
	r.Get("/", h.handleListArtworks)
	r.Get("/{artworkId}", h.handleGetArtwork)
}

// RegisterRoutes registers all session routes on a chi router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.handleOpen)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.handleGet)
		r.Delete("/", h.handleClose)
		r.Post("/report", h.handleReport)
		r.Post("/attestations/{criterion}/toggle", h.handleToggle)
		r.Post("/wallet", h.handleConnectWallet)
		r.Delete("/wallet", h.handleDisconnectWallet)
		r.Post("/dispute", h.handleDispute)
		r.Post("/detail", h.handleOpenDetail)
		r.Delete("/detail", h.handleCloseDetail)
		r.Post("/recap", h.handleRecap)
		r.Get("/events", h.handleEvents)
	})
}

func (h *Handler) handleListArtworks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ArtworkListResponse{Data: gallery.List()})
}

func (h *Handler) handleGetArtwork(w http.ResponseWriter, r *http.Request) {
	art, err := gallery.Get(chi.URLParam(r, "artworkId"))
	if err != nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Artwork not found")
		return
	}
	writeJSON(w, http.StatusOK, art)
}

func (h *Handler) handleOpen(w http.ResponseWriter, r *http.Request) {
	var req OpenRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	sess, err := h.svc.Open(r.Context(), req.ArtworkID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	wait := r.URL.Query().Get("wait")
	if wait == "" {
		sess, err := h.svc.Get(r.Context(), id)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sess)
		return
	}

	state, ok := workflow.ParseState(wait)
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", fmt.Sprintf("Unknown state %q", wait))
		return
	}
	timeout := defaultWaitTimeout
	if t := r.URL.Query().Get("timeout"); t != "" {
		secs, err := strconv.Atoi(t)
		if err != nil || secs <= 0 {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "timeout must be a positive number of seconds")
			return
		}
		timeout = min(time.Duration(secs)*time.Second, maxWaitTimeout)
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	sess, err := h.svc.Await(ctx, id, state)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handler) handleClose(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Close(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	var req domain.ReportRequest

	mediaType := strings.ToLower(strings.TrimSpace(strings.Split(r.Header.Get("Content-Type"), ";")[0]))
	if mediaType == "multipart/form-data" {
		parsed, ok := h.parseMultipartReport(w, r)
		if !ok {
			return
		}
		req = parsed
	} else {
		var body ReportRequest
		if !decodeJSON(w, r, &body) {
			return
		}
		req = body.ToDomain()
	}

	sess, err := h.svc.SubmitReport(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, sess)
}

// parseMultipartReport reads the sourceUrl field and the optional evidence
// file part.
func (h *Handler) parseMultipartReport(w http.ResponseWriter, r *http.Request) (domain.ReportRequest, bool) {
	var req domain.ReportRequest

	// Keep at most the evidence limit in memory; anything larger spills to
	// temporary files and is rejected below.
	memory := h.maxEvidenceBytes
	if memory <= 0 {
		memory = 10 << 20
	}
	if err := r.ParseMultipartForm(memory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Request body too large")
			return req, false
		}
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid multipart form")
		return req, false
	}
	defer r.MultipartForm.RemoveAll()

	req.SourceURL = r.FormValue("sourceUrl")

	file, header, err := r.FormFile("evidence")
	switch {
	case errors.Is(err, http.ErrMissingFile):
		return req, true
	case err != nil:
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid evidence file")
		return req, false
	}
	defer file.Close()

	if h.maxEvidenceBytes > 0 && header.Size > h.maxEvidenceBytes {
		writeError(w, http.StatusBadRequest, "EVIDENCE_TOO_LARGE",
			fmt.Sprintf("Evidence file exceeds %d bytes", h.maxEvidenceBytes))
		return req, false
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Failed to read evidence file")
		return req, false
	}
	req.Evidence = &domain.EvidenceUpload{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}
	return req, true
}

func (h *Handler) handleToggle(w http.ResponseWriter, r *http.Request) {
	sess, err := h.svc.ToggleAttestation(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "criterion"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handler) handleConnectWallet(w http.ResponseWriter, r *http.Request) {
	var req WalletRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	sess, err := h.svc.ConnectWallet(r.Context(), chi.URLParam(r, "id"), req.Address)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handler) handleDisconnectWallet(w http.ResponseWriter, r *http.Request) {
	sess, err := h.svc.DisconnectWallet(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handler) handleDispute(w http.ResponseWriter, r *http.Request) {
	outcome, sess, err := h.svc.TriggerDispute(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	status := http.StatusAccepted
	if outcome == workflow.DisputeConnectRequested {
		status = http.StatusOK
	}
	writeJSON(w, status, DisputeResponse{Outcome: outcome, Session: sess})
}

func (h *Handler) handleOpenDetail(w http.ResponseWriter, r *http.Request) {
	sess, err := h.svc.OpenDetail(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handler) handleCloseDetail(w http.ResponseWriter, r *http.Request) {
	sess, err := h.svc.CloseDetail(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handler) handleRecap(w http.ResponseWriter, r *http.Request) {
	sess, err := h.svc.RequestRecap(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, sess)
}

// handleEvents streams workflow snapshots over a websocket until the client
// goes away or the session closes.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	snapshots, cancel, err := h.svc.Subscribe(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	defer cancel()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrading to websocket", "session", id, "error", err)
		return
	}
	defer conn.Close()

	// The reader only handles control frames; it ends when the client
	// closes the connection.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case snap, ok := <-snapshots:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"))
				return
			}
			if err := conn.WriteJSON(snap); err != nil {
				h.logger.Debug("websocket write failed", "session", id, "error", err)
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Session not found")
	case errors.Is(err, domain.ErrUnknownArtwork):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, domain.ErrTooManySessions):
		writeError(w, http.StatusServiceUnavailable, "TOO_MANY_SESSIONS", err.Error())
	case errors.Is(err, workflow.ErrInvalidDraft):
		writeError(w, http.StatusBadRequest, "INVALID_DRAFT", err.Error())
	case errors.Is(err, domain.ErrInvalidSourceURL):
		writeError(w, http.StatusBadRequest, "INVALID_SOURCE_URL", err.Error())
	case errors.Is(err, domain.ErrInvalidAddress):
		writeError(w, http.StatusBadRequest, "INVALID_ADDRESS", err.Error())
	case errors.Is(err, domain.ErrEvidenceTooLarge):
		writeError(w, http.StatusBadRequest, "EVIDENCE_TOO_LARGE", err.Error())
	case errors.Is(err, domain.ErrEvidenceType), errors.Is(err, domain.ErrInvalidEvidence):
		writeError(w, http.StatusBadRequest, "INVALID_EVIDENCE", err.Error())
	case errors.Is(err, workflow.ErrUnknownCriterion):
		writeError(w, http.StatusBadRequest, "UNKNOWN_CRITERION", err.Error())
	case errors.Is(err, workflow.ErrInvalidState):
		writeError(w, http.StatusConflict, "INVALID_STATE", err.Error())
	case errors.Is(err, workflow.ErrDetailClosed):
		writeError(w, http.StatusConflict, "DETAIL_CLOSED", err.Error())
	default:
		h.logger.Error("session request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
	}
}

// decodeJSON decodes and validates a request body, writing the error
// response itself on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Failed to read request body")
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON")
		return false
	}
	if err := validation.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return false
	}
	return true
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
