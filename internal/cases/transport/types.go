// Package transport provides HTTP handlers for the cases domain.
package transport

import "github.com/pendergraft/ipenforcer/internal/cases/domain"

// StatusRequest is the body of a case status update.
type StatusRequest struct {
	Status string `json:"status" validate:"required,oneof=queued disputed ruled"`
}

// Pagination describes a page of results.
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"hasMore"`
}

// ListResponse is the response body of a case listing.
type ListResponse struct {
	Data       []domain.Case `json:"data"`
	Pagination Pagination    `json:"pagination"`
}
