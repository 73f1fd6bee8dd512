package domain

import (
	"time"

	"github.com/pendergraft/ipenforcer/internal/gallery"
	"github.com/pendergraft/ipenforcer/internal/workflow"
)

// Wallet is the reporter's wallet connection as seen by the session.
type Wallet struct {
	Connected      bool   `json:"connected"`
	Address        string `json:"address,omitempty"`
	ConnectPrompts int    `json:"connectPrompts"`
}

// Session is a view of one artwork page session.
type Session struct {
	ID         string            `json:"id"`
	Artwork    gallery.Artwork   `json:"artwork"`
	Workflow   workflow.Snapshot `json:"workflow"`
	Wallet     Wallet            `json:"wallet"`
	CreatedAt  time.Time         `json:"createdAt"`
	LastActive time.Time         `json:"lastActive"`
}

// EvidenceUpload is an evidence file received with a report.
type EvidenceUpload struct {
	Name        string
	ContentType string
	Data        []byte
}

// ReportRequest is the reporter's draft as received from a client.
type ReportRequest struct {
	SourceURL string
	Evidence  *EvidenceUpload
}
