// Package client provides a Go client for the IP Enforcer API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Workflow states as reported in snapshots
const (
	StateIntake     = "intake"
	StateAssessing  = "assessing"
	StateReviewing  = "reviewing"
	StateSubmitting = "submitting"
	StateSucceeded  = "succeeded"
	StateFailed     = "failed"
)

// Dispute trigger outcomes
const (
	OutcomeStarted          = "started"
	OutcomeConnectRequested = "connect_requested"
)

// Client is an IP Enforcer API client
type Client struct {
	baseURL    string
	httpClient *http.Client
	dialer     *websocket.Dialer
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithDialer sets the websocket dialer used by Events
func WithDialer(d *websocket.Dialer) Option {
	return func(client *Client) {
		client.dialer = d
	}
}

// New creates a new IP Enforcer client
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		dialer: websocket.DefaultDialer,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Artwork is a protected artwork in the gallery
type Artwork struct {
	ID     string `json:"id"`
	Number int    `json:"number"`
	Title  string `json:"title"`
	Image  string `json:"image"`
}

// Wallet is the reporter's wallet connection as seen by the server
type Wallet struct {
	Connected      bool   `json:"connected"`
	Address        string `json:"address,omitempty"`
	ConnectPrompts int    `json:"connectPrompts"`
}

// Attestation is one criterion of the attestation checklist
type Attestation struct {
	Criterion string `json:"criterion"`
	Label     string `json:"label"`
	Checked   bool   `json:"checked"`
}

// EvidenceFile describes stored evidence
type EvidenceFile struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType,omitempty"`
	Size        int64  `json:"size"`
	Ref         string `json:"ref"`
}

// Draft is the submitted report
type Draft struct {
	SourceURL string        `json:"sourceUrl,omitempty"`
	Evidence  *EvidenceFile `json:"evidence,omitempty"`
}

// Assessment is the similarity assessment result
type Assessment struct {
	Score float64 `json:"score"`
}

// Submission is the dispute handed to arbitration
type Submission struct {
	ID              string        `json:"id"`
	ArtworkID       string        `json:"artworkId"`
	ReporterAddress string        `json:"reporterAddress"`
	Attestations    []Attestation `json:"attestations"`
	Score           float64       `json:"score"`
	SourceURL       string        `json:"sourceUrl,omitempty"`
	EvidenceRef     string        `json:"evidenceRef,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
}

// Failure describes a failed capability call
type Failure struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Recap is the legal contract detail view state
type Recap struct {
	DetailOpen bool     `json:"detailOpen"`
	State      string   `json:"state"`
	Text       string   `json:"text,omitempty"`
	Error      *Failure `json:"error,omitempty"`
}

// Snapshot is the report workflow state after a transition
type Snapshot struct {
	Seq             uint64        `json:"seq"`
	ArtworkID       string        `json:"artworkId"`
	State           string        `json:"state"`
	FailedFrom      string        `json:"failedFrom,omitempty"`
	Draft           *Draft        `json:"draft,omitempty"`
	Assessment      *Assessment   `json:"assessment,omitempty"`
	Attestations    []Attestation `json:"attestations"`
	Highlight       bool          `json:"highlight"`
	Submission      *Submission   `json:"submission,omitempty"`
	RewardRecipient string        `json:"rewardRecipient,omitempty"`
	Error           *Failure      `json:"error,omitempty"`
	Recap           Recap         `json:"recap"`
}

// Checked reports whether the named criterion is checked.
func (s Snapshot) Checked(criterion string) bool {
	for _, a := range s.Attestations {
		if a.Criterion == criterion {
			return a.Checked
		}
	}
	return false
}

// Session is one artwork page session
type Session struct {
	ID         string    `json:"id"`
	Artwork    Artwork   `json:"artwork"`
	Workflow   Snapshot  `json:"workflow"`
	Wallet     Wallet    `json:"wallet"`
	CreatedAt  time.Time `json:"createdAt"`
	LastActive time.Time `json:"lastActive"`
}

// DisputeResult is the response to a dispute trigger
type DisputeResult struct {
	Outcome string   `json:"outcome"`
	Session *Session `json:"session"`
}

// Evidence is an evidence file to upload with a report
type Evidence struct {
	Name        string
	ContentType string
	Content     io.Reader
}

// APIError represents an API error response
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ListArtworks lists the gallery
func (c *Client) ListArtworks(ctx context.Context) ([]Artwork, error) {
	var resp struct {
		Data []Artwork `json:"data"`
	}
	if err := c.get(ctx, "/api/v1/artworks", &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// OpenSession starts a report session on an artwork
func (c *Client) OpenSession(ctx context.Context, artworkID string) (*Session, error) {
	var resp Session
	if err := c.post(ctx, "/api/v1/sessions", map[string]string{"artworkId": artworkID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetSession gets the current state of a session
func (c *Client) GetSession(ctx context.Context, id string) (*Session, error) {
	var resp Session
	if err := c.get(ctx, sessionPath(id, ""), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// WaitForState long-polls until the session reaches state or fails. The
// server answers with the current state after timeout.
func (c *Client) WaitForState(ctx context.Context, id, state string, timeout time.Duration) (*Session, error) {
	q := url.Values{}
	q.Set("wait", state)
	if secs := int(timeout.Seconds()); secs > 0 {
		q.Set("timeout", fmt.Sprint(secs))
	}
	var resp Session
	if err := c.get(ctx, sessionPath(id, "")+"?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CloseSession tears a session down
func (c *Client) CloseSession(ctx context.Context, id string) error {
	return c.send(ctx, http.MethodDelete, sessionPath(id, ""), nil, nil)
}

// SubmitReport submits a report with a source URL only
func (c *Client) SubmitReport(ctx context.Context, id, sourceURL string) (*Session, error) {
	var resp Session
	if err := c.post(ctx, sessionPath(id, "/report"), map[string]string{"sourceUrl": sourceURL}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SubmitReportWithEvidence submits a report with an evidence file and an
// optional source URL
func (c *Client) SubmitReportWithEvidence(ctx context.Context, id, sourceURL string, ev Evidence) (*Session, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if sourceURL != "" {
		if err := mw.WriteField("sourceUrl", sourceURL); err != nil {
			return nil, err
		}
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="evidence"; filename=%q`, ev.Name))
	contentType := ev.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, ev.Content); err != nil {
		return nil, fmt.Errorf("reading evidence: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+sessionPath(id, "/report"), &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var resp Session
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ToggleAttestation flips one criterion of the checklist
func (c *Client) ToggleAttestation(ctx context.Context, id, criterion string) (*Session, error) {
	var resp Session
	path := sessionPath(id, "/attestations/"+url.PathEscape(criterion)+"/toggle")
	if err := c.post(ctx, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ConnectWallet records the reporter's connected wallet address
func (c *Client) ConnectWallet(ctx context.Context, id, address string) (*Session, error) {
	var resp Session
	if err := c.post(ctx, sessionPath(id, "/wallet"), map[string]string{"address": address}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DisconnectWallet clears the reporter's wallet address
func (c *Client) DisconnectWallet(ctx context.Context, id string) (*Session, error) {
	var resp Session
	if err := c.send(ctx, http.MethodDelete, sessionPath(id, "/wallet"), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TriggerDispute submits the dispute, or reports that the wallet must
// connect first
func (c *Client) TriggerDispute(ctx context.Context, id string) (*DisputeResult, error) {
	var resp DisputeResult
	if err := c.post(ctx, sessionPath(id, "/dispute"), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// OpenDetail opens the legal contract view
func (c *Client) OpenDetail(ctx context.Context, id string) (*Session, error) {
	var resp Session
	if err := c.post(ctx, sessionPath(id, "/detail"), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CloseDetail closes the legal contract view
func (c *Client) CloseDetail(ctx context.Context, id string) (*Session, error) {
	var resp Session
	if err := c.send(ctx, http.MethodDelete, sessionPath(id, "/detail"), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RequestRecap asks for the legal contract recap
func (c *Client) RequestRecap(ctx context.Context, id string) (*Session, error) {
	var resp Session
	if err := c.post(ctx, sessionPath(id, "/recap"), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Events streams workflow snapshots. The channel is closed when ctx ends or
// the server closes the stream.
func (c *Client) Events(ctx context.Context, id string) (<-chan Snapshot, error) {
	u, err := url.Parse(c.baseURL + sessionPath(id, "/events"))
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 {
			defer resp.Body.Close()
			return nil, c.parseError(resp)
		}
		return nil, err
	}

	out := make(chan Snapshot)
	go func() {
		defer close(out)
		defer conn.Close()

		stop := context.AfterFunc(ctx, func() { conn.Close() })
		defer stop()

		for {
			var snap Snapshot
			if err := conn.ReadJSON(&snap); err != nil {
				return
			}
			select {
			case out <- snap:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func sessionPath(id, suffix string) string {
	return "/api/v1/sessions/" + url.PathEscape(id) + suffix
}

func (c *Client) get(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	return c.do(req, result)
}

func (c *Client) post(ctx context.Context, path string, body, result any) error {
	return c.send(ctx, http.MethodPost, path, body, result)
}

func (c *Client) send(ctx context.Context, method, path string, body, result any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.do(req, result)
}

func (c *Client) do(req *http.Request, result any) error {
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.parseError(resp)
	}

	if result != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(result)
	}

	return nil
}

func (c *Client) parseError(resp *http.Response) error {
	var errResp struct {
		Error APIError `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil || errResp.Error.Code == "" {
		return &APIError{Status: resp.StatusCode, Code: "HTTP_ERROR", Message: resp.Status}
	}
	errResp.Error.Status = resp.StatusCode
	return &errResp.Error
}
