package storage

import "errors"

// Common storage errors
var (
	ErrNotFound      = errors.New("not found")
	ErrCaseExists    = errors.New("case already recorded")
	ErrInvalidStatus = errors.New("invalid case status")
	ErrCaseRuled     = errors.New("case already ruled")
)
