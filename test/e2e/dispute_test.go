//go:build e2e

package e2e

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/ipenforcer/internal/storage"
	"github.com/pendergraft/ipenforcer/pkg/client"
)

const reporter = "0x52908400098527886E0F7030069857D2E4169EE7"

func TestDispute_EndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	c := newClient()

	sess, err := c.OpenSession(ctx, "artwork-7")
	require.NoError(t, err)
	defer c.CloseSession(context.Background(), sess.ID)
	assert.Equal(t, client.StateIntake, sess.Workflow.State)
	assert.False(t, sess.Wallet.Connected)

	events, err := c.Events(ctx, sess.ID)
	require.NoError(t, err)

	sess, err = c.SubmitReportWithEvidence(ctx, sess.ID, "https://example.com/stolen", client.Evidence{
		Name:    "stolen.png",
		Content: strings.NewReader("\x89PNG\r\n\x1a\nfake image body"),
	})
	require.NoError(t, err)
	assert.Equal(t, client.StateAssessing, sess.Workflow.State)

	sess, err = c.WaitForState(ctx, sess.ID, client.StateReviewing, 10*time.Second)
	require.NoError(t, err)
	require.Equal(t, client.StateReviewing, sess.Workflow.State)
	assert.InDelta(t, similarityScore, sess.Workflow.Assessment.Score, 1e-9)
	assert.True(t, sess.Workflow.Checked("similarity"))
	assert.True(t, sess.Workflow.Highlight)

	for _, criterion := range []string{"infringement", "no_authorization"} {
		sess, err = c.ToggleAttestation(ctx, sess.ID, criterion)
		require.NoError(t, err)
	}

	res, err := c.TriggerDispute(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, client.OutcomeConnectRequested, res.Outcome)
	assert.Equal(t, 1, res.Session.Wallet.ConnectPrompts)

	_, err = c.ConnectWallet(ctx, sess.ID, reporter)
	require.NoError(t, err)

	res, err = c.TriggerDispute(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, client.OutcomeStarted, res.Outcome)

	sess, err = c.WaitForState(ctx, sess.ID, client.StateSucceeded, 10*time.Second)
	require.NoError(t, err)
	require.Equal(t, client.StateSucceeded, sess.Workflow.State)
	sub := sess.Workflow.Submission
	require.NotNil(t, sub)
	assert.Equal(t, reporter, sess.Workflow.RewardRecipient)

	// the case is queued in the database
	record, err := testCtx.Store.GetCase(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.CaseQueued, record.Status)
	assert.Equal(t, "artwork-7", record.ArtworkID)
	assert.Equal(t, reporter, record.ReporterAddress)
	assert.Equal(t, "https://example.com/stolen", record.SourceURL)
	assert.True(t, record.Attestations["similarity"])
	assert.True(t, record.Attestations["infringement"])
	assert.True(t, record.Attestations["no_authorization"])
	assert.False(t, record.Attestations["solvent"])

	// and so is the evidence
	data, err := testCtx.Evidence.Get(ctx, record.EvidenceRef)
	require.NoError(t, err)
	assert.Equal(t, "\x89PNG\r\n\x1a\nfake image body", string(data))

	var states []string
	for snap := range events {
		states = append(states, snap.State)
		if snap.State == client.StateSucceeded {
			break
		}
	}
	assert.Contains(t, states, client.StateAssessing)
	assert.Contains(t, states, client.StateReviewing)
	assert.Contains(t, states, client.StateSubmitting)
	assert.Equal(t, client.StateSucceeded, states[len(states)-1])
}


func TestRecap_DetailView(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c := newClient()

	sess, err := c.OpenSession(ctx, "artwork-2")
	require.NoError(t, err)
	defer c.CloseSession(context.Background(), sess.ID)

	_, err = c.RequestRecap(ctx, sess.ID)
	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "DETAIL_CLOSED", apiErr.Code)

	_, err = c.OpenDetail(ctx, sess.ID)
	require.NoError(t, err)
	sess, err = c.RequestRecap(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "pending", sess.Workflow.Recap.State)

	require.Eventually(t, func() bool {
		s, err := c.GetSession(ctx, sess.ID)
		return err == nil && s.Workflow.Recap.State == "ready"
	}, 5*time.Second, 50*time.Millisecond)

	sess, err = c.CloseDetail(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "idle", sess.Workflow.Recap.State)
	assert.Empty(t, sess.Workflow.Recap.Text)
}

func TestReport_Rejections(t *testing.T) {
	ctx := context.Background()
	c := newClient()

	sess, err := c.OpenSession(ctx, "artwork-1")
	require.NoError(t, err)
	defer c.CloseSession(ctx, sess.ID)

	tests := []struct {
		name       string
		submit     func() error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "relative url",
			submit:     func() error { _, err := c.SubmitReport(ctx, sess.ID, "/copy"); return err },
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_SOURCE_URL",
		},
		{
			name:       "empty draft",
			submit:     func() error { _, err := c.SubmitReport(ctx, sess.ID, "   "); return err },
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_DRAFT",
		},
		{
			name: "unsupported evidence",
			submit: func() error {
				_, err := c.SubmitReportWithEvidence(ctx, sess.ID, "", client.Evidence{
					Name:    "payload.exe",
					Content: strings.NewReader("MZ"),
				})
				return err
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_EVIDENCE",
		},
		{
			name: "evidence over the limit",
			submit: func() error {
				_, err := c.SubmitReportWithEvidence(ctx, sess.ID, "", client.Evidence{
					Name:    "large.txt",
					Content: strings.NewReader(strings.Repeat("a", 1<<20+1)),
				})
				return err
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "EVIDENCE_TOO_LARGE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var apiErr *client.APIError
			require.True(t, errors.As(tt.submit(), &apiErr))
			assert.Equal(t, tt.wantStatus, apiErr.Status)
			assert.Equal(t, tt.wantCode, apiErr.Code)
		})
	}

	s, err := c.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, client.StateIntake, s.Workflow.State)
}
