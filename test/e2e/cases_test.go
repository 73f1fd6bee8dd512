//go:build e2e

package e2e

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/ipenforcer/internal/evidence"
	"github.com/pendergraft/ipenforcer/internal/storage"
	"github.com/pendergraft/ipenforcer/pkg/client"
)

// fileDispute runs a URL-only report to completion and returns the case id
func fileDispute(t *testing.T, artworkID string) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	c := newClient()

	sess, err := c.OpenSession(ctx, artworkID)
	require.NoError(t, err)
	defer c.CloseSession(context.Background(), sess.ID)

	_, err = c.SubmitReport(ctx, sess.ID, "https://example.com/"+artworkID)
	require.NoError(t, err)
	_, err = c.WaitForState(ctx, sess.ID, client.StateReviewing, 10*time.Second)
	require.NoError(t, err)
	_, err = c.ConnectWallet(ctx, sess.ID, reporter)
	require.NoError(t, err)
	_, err = c.TriggerDispute(ctx, sess.ID)
	require.NoError(t, err)

	sess, err = c.WaitForState(ctx, sess.ID, client.StateSucceeded, 10*time.Second)
	require.NoError(t, err)
	require.NotNil(t, sess.Workflow.Submission)
	return sess.Workflow.Submission.ID
}

func TestCaseAPI_RequiresOperatorToken(t *testing.T) {
	resp, err := http.Get(testCtx.TestServer.URL + "/api/v1/cases")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCaseAPI_Lifecycle(t *testing.T) {
	ctx := context.Background()
	id := fileDispute(t, "artwork-8")

	resp, err := operatorRequest(ctx, http.MethodGet, "/api/v1/cases/"+id, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got struct {
		ID        string `json:"id"`
		ArtworkID string `json:"artworkId"`
		Status    string `json:"status"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "artwork-8", got.ArtworkID)
	assert.Equal(t, storage.CaseQueued, got.Status)

	for _, status := range []string{storage.CaseDisputed, storage.CaseRuled} {
		resp, err := operatorRequest(ctx, http.MethodPut, "/api/v1/cases/"+id+"/status", strings.NewReader(`{"status":"`+status+`"}`))
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode, status)
	}

	resp, err = operatorRequest(ctx, http.MethodPut, "/api/v1/cases/"+id+"/status", strings.NewReader(`{"status":"queued"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	record, err := testCtx.Store.GetCase(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, storage.CaseRuled, record.Status)

	resp, err = operatorRequest(ctx, http.MethodGet, "/api/v1/cases?status=ruled&artwork=artwork-8", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	var ids []string
	for _, c := range list.Data {
		ids = append(ids, c.ID)
	}
	assert.Contains(t, ids, id)
}

func TestCaseAPI_Evidence(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	c := newClient()
	pdf := "%PDF-1.7\nscreenshot of the copy"

	sess, err := c.OpenSession(ctx, "artwork-9")
	require.NoError(t, err)
	defer c.CloseSession(context.Background(), sess.ID)

	_, err = c.SubmitReportWithEvidence(ctx, sess.ID, "", client.Evidence{
		Name:        "copy.pdf",
		ContentType: "image/png",
		Content:     strings.NewReader(pdf),
	})
	require.NoError(t, err)
	_, err = c.WaitForState(ctx, sess.ID, client.StateReviewing, 10*time.Second)
	require.NoError(t, err)
	_, err = c.ConnectWallet(ctx, sess.ID, reporter)
	require.NoError(t, err)
	_, err = c.TriggerDispute(ctx, sess.ID)
	require.NoError(t, err)
	sess, err = c.WaitForState(ctx, sess.ID, client.StateSucceeded, 10*time.Second)
	require.NoError(t, err)
	id := sess.Workflow.Submission.ID

	resp, err := operatorRequest(ctx, http.MethodGet, "/api/v1/cases/"+id+"/evidence", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	// Sniffed from the content, not the declared type.
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, pdf, string(body))

	// A report after success is refused and stores nothing new.
	_, err = c.SubmitReportWithEvidence(ctx, sess.ID, "", client.Evidence{
		Name:    "again.pdf",
		Content: strings.NewReader("%PDF-1.7\nanother copy"),
	})
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	_, err = testCtx.Evidence.Get(ctx, evidence.Ref([]byte("%PDF-1.7\nanother copy")))
	assert.ErrorIs(t, err, evidence.ErrNotFound)

	urlOnly := fileDispute(t, "artwork-9")
	resp, err = operatorRequest(ctx, http.MethodGet, "/api/v1/cases/"+urlOnly+"/evidence", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
