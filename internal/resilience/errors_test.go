package resilience

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

type statusErr struct{ code int }

func (e statusErr) Error() string   { return fmt.Sprintf("status %d", e.code) }
func (e statusErr) Temporary() bool { return e.code >= 500 }

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("invalid symbol"), false},
		{"transient", Transient(errors.New("x"), 503), true},
		{"wrapped transient", fmt.Errorf("lookup: %w", Transient(errors.New("x"), 429)), true},
		{"reset", errors.New("read: connection reset by peer"), true},
		{"canceled", context.Canceled, false},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), false},
		{"open", ErrOpen, false},
		{"temporary status", statusErr{503}, true},
		{"permanent status", statusErr{400}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsTransient(tc.err); got != tc.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestRetryableStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		if !RetryableStatus(code) {
			t.Errorf("%d should be retryable", code)
		}
	}
	for _, code := range []int{200, 400, 401, 404} {
		if RetryableStatus(code) {
			t.Errorf("%d should not be retryable", code)
		}
	}
}

func TestFromResponse(t *testing.T) {
	base := errors.New("status 429")
	resp := &http.Response{StatusCode: 429, Header: http.Header{"Retry-After": []string{"3"}}}

	err := FromResponse(resp, base)
	var te *TransientError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransientError, got %T", err)
	}
	if te.RetryAfter != 3*time.Second {
		t.Errorf("RetryAfter = %s, want 3s", te.RetryAfter)
	}
	if !errors.Is(err, base) {
		t.Error("expected wrapped base error")
	}

	resp = &http.Response{StatusCode: 404, Header: http.Header{}}
	if got := FromResponse(resp, base); got != base {
		t.Errorf("404 should pass through, got %v", got)
	}
}
