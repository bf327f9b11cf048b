package models

import (
	"errors"
	"fmt"
	"net/http"
)

// Error taxonomy shared across the pipeline. Match with errors.Is.
var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrCacheCorruption = errors.New("cache entry corrupted")
	ErrEmptyResult     = errors.New("empty result")
	ErrIO              = errors.New("i/o error")
	ErrDecode          = errors.New("decode error")
	ErrPersistence     = errors.New("persistence error")
	ErrTimeout         = errors.New("timeout")
	ErrAuth            = errors.New("authentication failed")
	ErrBadRequest      = errors.New("bad request")
)

// ProviderError is a failure reported by an external backend.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %s", e.Provider, e.Message)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
}

// Unwrap maps well-known status codes onto the taxonomy.
func (e *ProviderError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized:
		return ErrAuth
	case http.StatusBadRequest:
		return ErrBadRequest
	}
	return nil
}
