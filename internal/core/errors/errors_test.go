package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("save: %w", NewPersistenceError("write", "whitelist.cfg", stderrors.New("disk full")))

	if !stderrors.Is(err, ErrPersistenceFailed) {
		t.Fatalf("errors.Is(%v, ErrPersistenceFailed) = false, want true", err)
	}
	if stderrors.Is(err, ErrNotFound) {
		t.Fatalf("errors.Is(%v, ErrNotFound) = true, want false", err)
	}
}

func TestWithErrorDoesNotMutatePredefined(t *testing.T) {
	cause := stderrors.New("boom")
	wrapped := ErrInvalidAddress.WithError(cause)

	if ErrInvalidAddress.Err != nil {
		t.Fatalf("predefined error was mutated: %v", ErrInvalidAddress.Err)
	}
	if !stderrors.Is(wrapped, cause) {
		t.Fatalf("wrapped error lost its cause")
	}
}

func TestHTTPStatusCode(t *testing.T) {
	cases := []struct {
		err  *Error
		want int
	}{
		{ErrInvalidAddress, http.StatusBadRequest},
		{ErrNotFound, http.StatusNotFound},
		{ErrAlreadyWhitelisted, http.StatusConflict},
		{ErrPersistenceFailed, http.StatusServiceUnavailable},
		{ErrRateLimitExceeded, http.StatusTooManyRequests},
		{ErrForbidden, http.StatusForbidden},
		{NewConfigError("x", nil), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		if got := tc.err.HTTPStatusCode(); got != tc.want {
			t.Errorf("%s: HTTPStatusCode() = %d, want %d", tc.err.Code, got, tc.want)
		}
	}
}

func TestWriteHTTP(t *testing.T) {
	rec := httptest.NewRecorder()
	NewAddressError("nope", nil).WriteHTTP(rec)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type = %q", ct)
	}
	if body := rec.Body.String(); !strings.Contains(body, `"INVALID_ADDRESS"`) {
		t.Fatalf("body %q does not carry the code", body)
	}
}
