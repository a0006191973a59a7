package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"validation", Validation("missing %s", "to"), http.StatusBadRequest},
		{"unauthorized", fmt.Errorf("signature: %w", ErrUnauthorized), http.StatusUnauthorized},
		{"not found", NotFound("conversation", "42"), http.StatusNotFound},
		{"duplicate", fmt.Errorf("create user: %w", ErrDuplicate), http.StatusConflict},
		{"conflict", Conflict("user already has an open conversation"), http.StatusConflict},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := HTTPStatus(tc.err); got != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, got)
			}
		})
	}
}

func TestKindsSurviveWrapping(t *testing.T) {
	err := fmt.Errorf("reopen: %w", Conflict("busy"))
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected wrapped conflict to match ErrConflict, got %v", err)
	}
	if errors.Is(err, ErrValidation) {
		t.Fatal("conflict must not match ErrValidation")
	}
}
