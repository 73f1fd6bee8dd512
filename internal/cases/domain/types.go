// Package domain contains the operator view of arbitration cases.
package domain

import "github.com/pendergraft/ipenforcer/internal/storage"

// Case statuses in the order a case moves through them.
var Statuses = []string{storage.CaseQueued, storage.CaseDisputed, storage.CaseRuled}

// Case is a dispute recorded for the arbitration court.
type Case struct {
	ID              string          `json:"id"`
	ArtworkID       string          `json:"artworkId"`
	ReporterAddress string          `json:"reporterAddress"`
	Attestations    map[string]bool `json:"attestations"`
	Score           float64         `json:"score"`
	SourceURL       string          `json:"sourceUrl,omitempty"`
	EvidenceRef     string          `json:"evidenceRef,omitempty"`
	Status          string          `json:"status"`
	SubmittedAt     string          `json:"submittedAt"`
	CreatedAt       string          `json:"createdAt,omitempty"`
}

// ListFilter contains filter options for listing cases.
type ListFilter struct {
	Status    string
	ArtworkID string
	Reporter  string
}

// PaginationParams contains pagination options.
type PaginationParams struct {
	Limit  int
	Offset int
}

// ListResult contains paginated list results.
type ListResult struct {
	Cases   []Case
	Limit   int
	Offset  int
	HasMore bool
}

// EvidenceFile is the evidence a reporter attached to a case.
type EvidenceFile struct {
	Ref         string
	ContentType string
	// Extension is derived from the content, e.g. ".pdf".
	Extension string
	Data      []byte
}
