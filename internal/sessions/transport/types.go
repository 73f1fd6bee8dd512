// Package transport provides HTTP request/response types for the sessions domain.
package transport

import (
	"github.com/pendergraft/ipenforcer/internal/sessions/domain"
	"github.com/pendergraft/ipenforcer/internal/workflow"
)

// OpenRequest is the HTTP request body for opening a session.
type OpenRequest struct {
	ArtworkID string `json:"artworkId" validate:"required"`
}

// ReportRequest is the JSON request body for submitting a report without
// an evidence file.
type ReportRequest struct {
	SourceURL string `json:"sourceUrl"`
}

// ToDomain converts ReportRequest to domain.ReportRequest.
func (r ReportRequest) ToDomain() domain.ReportRequest {
	return domain.ReportRequest{SourceURL: r.SourceURL}
}

// WalletRequest is the HTTP request body for connecting a wallet.
type WalletRequest struct {
	Address string `json:"address" validate:"required"`
}

// DisputeResponse is returned by the dispute trigger.
type DisputeResponse struct {
	Outcome workflow.DisputeOutcome `json:"outcome"`
	Session *domain.Session         `json:"session"`
}

// ArtworkListResponse is the response for listing artworks.
type ArtworkListResponse struct {
	Data any `json:"data"`
}
