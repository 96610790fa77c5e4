package ai

import (
	"errors"
	"fmt"
)

var (
	ErrNoActiveProvider = errors.New("no active AI provider configured")
	ErrProviderNotFound = errors.New("AI provider not found")
)

// ProviderError is a failed call to one provider. Message carries the
// vendor's own error text when it could be parsed, else the status line.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.Provider == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}
