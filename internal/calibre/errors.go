package calibre

import (
	"errors"
	"fmt"
)

// ErrUnauthorized indicates the content server rejected the configured credentials
var ErrUnauthorized = errors.New("content server rejected credentials")

// ErrNotConfigured indicates no server URL has been configured
var ErrNotConfigured = errors.New("content server is not configured")

// ServerError represents a 5xx error from the content server
type ServerError struct {
	StatusCode int
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("content server error: HTTP %d", e.StatusCode)
}
