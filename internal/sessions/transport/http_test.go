package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/ipenforcer/internal/gallery"
	"github.com/pendergraft/ipenforcer/internal/sessions/domain"
	"github.com/pendergraft/ipenforcer/internal/workflow"
)

// mockService implements Service for testing
type mockService struct {
	err     error
	outcome workflow.DisputeOutcome
	events  chan workflow.Snapshot

	lastReport    domain.ReportRequest
	lastCriterion string
	lastAddress   string
	lastWait      workflow.State
	closed        []string
}

func newMockService() *mockService {
	return &mockService{outcome: workflow.DisputeStarted}
}

func (m *mockService) session(id string) *domain.Session {
	art, _ := gallery.Get("artwork-1")
	return &domain.Session{
		ID:       id,
		Artwork:  art,
		Workflow: workflow.Snapshot{ArtworkID: art.ID, State: workflow.StateIntake},
	}
}

func (m *mockService) result(id string) (*domain.Session, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.session(id), nil
}

func (m *mockService) Open(ctx context.Context, artworkID string) (*domain.Session, error) {
	if m.err != nil {
		return nil, m.err
	}
	if _, err := gallery.Get(artworkID); err != nil {
		return nil, domain.ErrUnknownArtwork
	}
	return m.session("s-1"), nil
}

func (m *mockService) Get(ctx context.Context, id string) (*domain.Session, error) {
	return m.result(id)
}

func (m *mockService) Await(ctx context.Context, id string, state workflow.State) (*domain.Session, error) {
	m.lastWait = state
	return m.result(id)
}

func (m *mockService) Close(ctx context.Context, id string) error {
	if m.err != nil {
		return m.err
	}
	m.closed = append(m.closed, id)
	return nil
}

func (m *mockService) SubmitReport(ctx context.Context, id string, req domain.ReportRequest) (*domain.Session, error) {
	m.lastReport = req
	return m.result(id)
}

func (m *mockService) ToggleAttestation(ctx context.Context, id, criterion string) (*domain.Session, error) {
	m.lastCriterion = criterion
	return m.result(id)
}

func (m *mockService) TriggerDispute(ctx context.Context, id string) (workflow.DisputeOutcome, *domain.Session, error) {
	sess, err := m.result(id)
	if err != nil {
		return "", nil, err
	}
	return m.outcome, sess, nil
}

func (m *mockService) ConnectWallet(ctx context.Context, id, address string) (*domain.Session, error) {
	m.lastAddress = address
	return m.result(id)
}

func (m *mockService) DisconnectWallet(ctx context.Context, id string) (*domain.Session, error) {
	return m.result(id)
}

func (m *mockService) OpenDetail(ctx context.Context, id string) (*domain.Session, error) {
	return m.result(id)
}

func (m *mockService) CloseDetail(ctx context.Context, id string) (*domain.Session, error) {
	return m.result(id)
}

func (m *mockService) RequestRecap(ctx context.Context, id string) (*domain.Session, error) {
	return m.result(id)
}

func (m *mockService) Subscribe(ctx context.Context, id string) (<-chan workflow.Snapshot, func(), error) {
	if m.err != nil {
		return nil, nil, m.err
	}
	return m.events, func() {}, nil
}

func newRouter(svc Service, maxEvidenceBytes int64) http.Handler {
	h := NewHandler(svc, maxEvidenceBytes, nil)
	r := chi.NewRouter()
	r.Route("/api/v1/artworks", h.RegisterArtworkRoutes)
	r.Route("/api/v1/sessions", h.RegisterRoutes)
	return r
}

func do(t *testing.T, router http.Handler, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error.Code
}

func TestHandler_Artworks(t *testing.T) {
	router := newRouter(newMockService(), 0)

	rec := do(t, router, http.MethodGet, "/api/v1/artworks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Data []gallery.Artwork `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list.Data, 9)
	assert.Equal(t, "artwork-1", list.Data[0].ID)

	rec = do(t, router, http.MethodGet, "/api/v1/artworks/artwork-4", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/v1/artworks/artwork-42", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_Open(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"created", `{"artworkId":"artwork-2"}`, nil, http.StatusCreated, ""},
		{"invalid json", `{`, nil, http.StatusBadRequest, "INVALID_REQUEST"},
		{"missing artwork", `{}`, nil, http.StatusBadRequest, "INVALID_REQUEST"},
		{"unknown artwork", `{"artworkId":"artwork-99"}`, nil, http.StatusNotFound, "NOT_FOUND"},
		{"too many sessions", `{"artworkId":"artwork-2"}`, domain.ErrTooManySessions, http.StatusServiceUnavailable, "TOO_MANY_SESSIONS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newMockService()
			svc.err = tt.err
			rec := do(t, newRouter(svc, 0), http.MethodPost, "/api/v1/sessions", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, errorCode(t, rec))
			}
		})
	}
}

func TestHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{domain.ErrSessionNotFound, http.StatusNotFound, "NOT_FOUND"},
		{workflow.ErrInvalidDraft, http.StatusBadRequest, "INVALID_DRAFT"},
		{fmt.Errorf("%w: x", domain.ErrInvalidSourceURL), http.StatusBadRequest, "INVALID_SOURCE_URL"},
		{fmt.Errorf("%w: x", domain.ErrEvidenceTooLarge), http.StatusBadRequest, "EVIDENCE_TOO_LARGE"},
		{fmt.Errorf("%w: x", domain.ErrEvidenceType), http.StatusBadRequest, "INVALID_EVIDENCE"},
		{&workflow.StateError{Op: "submit report", State: workflow.StateAssessing}, http.StatusConflict, "INVALID_STATE"},
		{errors.New("disk on fire"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.wantCode, func(t *testing.T) {
			svc := newMockService()
			svc.err = tt.err
			rec := do(t, newRouter(svc, 0), http.MethodPost, "/api/v1/sessions/s-1/report", `{"sourceUrl":"https://example.com"}`)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantCode, errorCode(t, rec))
		})
	}
}

func TestHandler_Get(t *testing.T) {
	svc := newMockService()
	router := newRouter(svc, 0)

	rec := do(t, router, http.MethodGet, "/api/v1/sessions/s-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var sess domain.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sess))
	assert.Equal(t, "s-1", sess.ID)
	assert.Equal(t, workflow.StateIntake, sess.Workflow.State)

	rec = do(t, router, http.MethodGet, "/api/v1/sessions/s-1?wait=reviewing&timeout=1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, workflow.StateReviewing, svc.lastWait)

	rec = do(t, router, http.MethodGet, "/api/v1/sessions/s-1?wait=sleeping", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/v1/sessions/s-1?wait=reviewing&timeout=-3", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_Close(t *testing.T) {
	svc := newMockService()
	router := newRouter(svc, 0)

	rec := do(t, router, http.MethodDelete, "/api/v1/sessions/s-1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"s-1"}, svc.closed)

	svc.err = domain.ErrSessionNotFound
	rec = do(t, router, http.MethodDelete, "/api/v1/sessions/s-2", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_ReportJSON(t *testing.T) {
	svc := newMockService()
	rec := do(t, newRouter(svc, 0), http.MethodPost, "/api/v1/sessions/s-1/report", `{"sourceUrl":"https://example.com/copy"}`)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "https://example.com/copy", svc.lastReport.SourceURL)
	assert.Nil(t, svc.lastReport.Evidence)
}

func multipartReport(t *testing.T, sourceURL, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("sourceUrl", sourceURL))
	if filename != "" {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="evidence"; filename=%q`, filename))
		h.Set("Content-Type", contentType)
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestHandler_ReportMultipart(t *testing.T) {
	svc := newMockService()
	router := newRouter(svc, 1024)

	body, ct := multipartReport(t, "https://example.com/copy", "copy.png", "image/png", []byte("png-bytes"))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/s-1/report", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "https://example.com/copy", svc.lastReport.SourceURL)
	require.NotNil(t, svc.lastReport.Evidence)
	assert.Equal(t, "copy.png", svc.lastReport.Evidence.Name)
	assert.Equal(t, "image/png", svc.lastReport.Evidence.ContentType)
	assert.Equal(t, []byte("png-bytes"), svc.lastReport.Evidence.Data)
}

func TestHandler_ReportMultipartWithoutFile(t *testing.T) {
	svc := newMockService()
	body, ct := multipartReport(t, "https://example.com/copy", "", "", nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/s-1/report", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	newRouter(svc, 1024).ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Nil(t, svc.lastReport.Evidence)
}

func TestHandler_ReportMultipartTooLarge(t *testing.T) {
	svc := newMockService()
	body, ct := multipartReport(t, "", "copy.png", "image/png", bytes.Repeat([]byte("x"), 64))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/s-1/report", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	newRouter(svc, 16).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "EVIDENCE_TOO_LARGE", errorCode(t, rec))
}

func TestHandler_Toggle(t *testing.T) {
	svc := newMockService()
	rec := do(t, newRouter(svc, 0), http.MethodPost, "/api/v1/sessions/s-1/attestations/no_authorization/toggle", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no_authorization", svc.lastCriterion)

	svc.err = fmt.Errorf("%w: %q", workflow.ErrUnknownCriterion, "bogus")
	rec = do(t, newRouter(svc, 0), http.MethodPost, "/api/v1/sessions/s-1/attestations/bogus/toggle", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "UNKNOWN_CRITERION", errorCode(t, rec))
}

func TestHandler_Wallet(t *testing.T) {
	svc := newMockService()
	router := newRouter(svc, 0)

	rec := do(t, router, http.MethodPost, "/api/v1/sessions/s-1/wallet", `{"address":"0xabc"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0xabc", svc.lastAddress)

	rec = do(t, router, http.MethodPost, "/api/v1/sessions/s-1/wallet", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodDelete, "/api/v1/sessions/s-1/wallet", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	svc.err = fmt.Errorf("%w: bad", domain.ErrInvalidAddress)
	rec = do(t, router, http.MethodPost, "/api/v1/sessions/s-1/wallet", `{"address":"0xabc"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_ADDRESS", errorCode(t, rec))
}

func TestHandler_Dispute(t *testing.T) {
	tests := []struct {
		outcome    workflow.DisputeOutcome
		wantStatus int
	}{
		{workflow.DisputeStarted, http.StatusAccepted},
		{workflow.DisputeConnectRequested, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(string(tt.outcome), func(t *testing.T) {
			svc := newMockService()
			svc.outcome = tt.outcome
			rec := do(t, newRouter(svc, 0), http.MethodPost, "/api/v1/sessions/s-1/dispute", "")
			require.Equal(t, tt.wantStatus, rec.Code)

			var resp DisputeResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.outcome, resp.Outcome)
			require.NotNil(t, resp.Session)
			assert.Equal(t, "s-1", resp.Session.ID)
		})
	}
}

func TestHandler_DetailAndRecap(t *testing.T) {
	svc := newMockService()
	router := newRouter(svc, 0)

	assert.Equal(t, http.StatusOK, do(t, router, http.MethodPost, "/api/v1/sessions/s-1/detail", "").Code)
	assert.Equal(t, http.StatusAccepted, do(t, router, http.MethodPost, "/api/v1/sessions/s-1/recap", "").Code)
	assert.Equal(t, http.StatusOK, do(t, router, http.MethodDelete, "/api/v1/sessions/s-1/detail", "").Code)

	svc.err = workflow.ErrDetailClosed
	rec := do(t, router, http.MethodPost, "/api/v1/sessions/s-1/recap", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "DETAIL_CLOSED", errorCode(t, rec))
}

func TestHandler_Events(t *testing.T) {
	svc := newMockService()
	svc.events = make(chan workflow.Snapshot, 2)
	srv := httptest.NewServer(newRouter(svc, 0))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/sessions/s-1/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	svc.events <- workflow.Snapshot{Seq: 1, State: workflow.StateIntake}
	svc.events <- workflow.Snapshot{Seq: 2, State: workflow.StateAssessing}

	var snap workflow.Snapshot
	require.NoError(t, conn.ReadJSON(&snap))
	assert.Equal(t, workflow.StateIntake, snap.State)
	require.NoError(t, conn.ReadJSON(&snap))
	assert.Equal(t, workflow.StateAssessing, snap.State)

	close(svc.events)
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestHandler_EventsUnknownSession(t *testing.T) {
	svc := newMockService()
	svc.err = domain.ErrSessionNotFound

	rec := do(t, newRouter(svc, 0), http.MethodGet, "/api/v1/sessions/missing/events", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
