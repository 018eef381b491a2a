package providers

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestClassifyError(t *testing.T) {
	cases := []struct {
		msg  string
		want FailoverReason
	}{
		{"request timeout after 30s", FailoverTimeout},
		{"context deadline exceeded", FailoverTimeout},
		{"429 Too Many Requests", FailoverRateLimit},
		{"ThrottlingException: rate exceeded", FailoverRateLimit},
		{"invalid api key provided", FailoverAuth},
		{"401 unauthorized", FailoverAuth},
		{"insufficient quota for this month", FailoverBilling},
		{"content filter triggered", FailoverContentFilter},
		{"model not found: glm-9", FailoverModelUnavailable},
		{"503 service unavailable", FailoverServerError},
		{"overloaded_error", FailoverServerError},
		{"something else entirely", FailoverUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.msg, func(t *testing.T) {
			if got := ClassifyError(errors.New(tc.msg)); got != tc.want {
				t.Errorf("ClassifyError = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestClassifyStatusCode(t *testing.T) {
	cases := []struct {
		status int
		want   FailoverReason
	}{
		{401, FailoverAuth},
		{403, FailoverAuth},
		{402, FailoverBilling},
		{429, FailoverRateLimit},
		{400, FailoverInvalidRequest},
		{404, FailoverModelUnavailable},
		{500, FailoverServerError},
		{503, FailoverServerError},
		{418, FailoverUnknown},
	}
	for _, tc := range cases {
		if got := classifyStatusCode(tc.status); got != tc.want {
			t.Errorf("status %d = %q, want %q", tc.status, got, tc.want)
		}
	}
}

func TestFailoverReasonPredicates(t *testing.T) {
	retryable := []FailoverReason{FailoverRateLimit, FailoverTimeout, FailoverServerError}
	for _, r := range retryable {
		if !r.IsRetryable() {
			t.Errorf("%q should be retryable", r)
		}
		if r.ShouldFailover() {
			t.Errorf("%q should not trigger failover", r)
		}
	}
	failover := []FailoverReason{FailoverBilling, FailoverAuth, FailoverModelUnavailable}
	for _, r := range failover {
		if r.IsRetryable() {
			t.Errorf("%q should not be retryable", r)
		}
		if !r.ShouldFailover() {
			t.Errorf("%q should trigger failover", r)
		}
	}
}

func TestProviderErrorMessage(t *testing.T) {
	err := NewProviderError("zhipu", "glm-4-plus", errors.New("boom")).
		WithStatus(429).
		WithCode("rate_limit_exceeded").
		WithMessage("slow down").
		WithRequestID("req_123")

	msg := err.Error()
	for _, want := range []string{"[rate_limit]", "zhipu", "model=glm-4-plus", "status=429", "slow down"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q missing %q", msg, want)
		}
	}
	if err.RequestID != "req_123" {
		t.Errorf("request id = %q", err.RequestID)
	}
}

func TestProviderErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	wrapped := fmt.Errorf("outer: %w", NewProviderError("anthropic", "m", cause))

	if !IsProviderError(wrapped) {
		t.Error("IsProviderError should see through wrapping")
	}
	pe, ok := GetProviderError(wrapped)
	if !ok || pe.Provider != "anthropic" {
		t.Errorf("GetProviderError = %+v, %v", pe, ok)
	}
	if !errors.Is(wrapped, cause) {
		t.Error("cause lost in chain")
	}
}

func TestIsRetryableOnRawErrors(t *testing.T) {
	if !IsRetryable(errors.New("502 bad gateway")) {
		t.Error("server errors should retry")
	}
	if IsRetryable(errors.New("invalid api key")) {
		t.Error("auth errors should not retry")
	}
	pe := NewProviderError("zhipu", "m", errors.New("x")).WithStatus(429)
	if !IsRetryable(pe) {
		t.Error("429 provider error should retry")
	}
}
