package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{Validation("Name is required"), http.StatusBadRequest},
		{fmt.Errorf("rename: %w", Validation("Name is required")), http.StatusBadRequest},
		{fmt.Errorf("switch: %w", ErrAccessDenied), http.StatusNotFound},
		{fmt.Errorf("save message: %w", ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("create session: %w", ErrReferential), http.StatusInternalServerError},
		{fmt.Errorf("chat: %w", ErrRateLimited), http.StatusTooManyRequests},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := HTTPStatus(tc.err); got != tc.want {
			t.Fatalf("HTTPStatus(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestMessageHidesOwnership(t *testing.T) {
	if Message(ErrAccessDenied) != Message(ErrNotFound) {
		t.Fatalf("access denied and not found must render the same message")
	}
	wrapped := fmt.Errorf("chat: %w", Validation("No message provided"))
	if got := Message(wrapped); got != "No message provided" {
		t.Fatalf("unexpected validation message %q", got)
	}
	if !errors.Is(wrapped, ErrValidation) {
		t.Fatalf("expected wrapped validation error to match ErrValidation")
	}
}
