// Package apperr holds sentinel errors shared by the service, API and MCP layers.
package apperr

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
)
