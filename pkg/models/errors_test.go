package models

import (
	"errors"
	"fmt"
	"testing"
)

func TestProviderErrorUnwrap(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{401, ErrAuth},
		{400, ErrBadRequest},
	}
	for _, tt := range tests {
		err := fmt.Errorf("comment: %w", &ProviderError{Provider: "jira", StatusCode: tt.status, Message: "x"})
		if !errors.Is(err, tt.want) {
			t.Errorf("status %d: expected %v in chain", tt.status, tt.want)
		}
	}

	err := &ProviderError{Provider: "gemini", StatusCode: 503, Message: "unavailable"}
	if errors.Is(err, ErrAuth) || errors.Is(err, ErrBadRequest) {
		t.Error("503 should not map onto the taxonomy")
	}
	if got := err.Error(); got != "gemini: status 503: unavailable" {
		t.Errorf("Error() = %q", got)
	}
	if got := (&ProviderError{Provider: "slack", Message: "dial failed"}).Error(); got != "slack: dial failed" {
		t.Errorf("Error() = %q", got)
	}
}
