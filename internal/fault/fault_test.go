package fault

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, 0},
		{"tagged transient", Transient("get", errors.New("503")), KindTransient},
		{"wrapped malformed", fmt.Errorf("decode: %w", Malformed("log", errors.New("bad hex"))), KindMalformed},
		{"rate limited", RateLimited("etherscan", errors.New("max rate limit reached")), KindRateLimited},
		{"deadline", context.DeadlineExceeded, KindTransient},
		{"net timeout", fmt.Errorf("post: %w", timeoutErr{}), KindTransient},
		{"plain error", errors.New("boom"), KindRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(Transient("post", errors.New("502"))) {
		t.Error("transient error should be retryable")
	}
	if Retryable(Rejected("post", errors.New("404"))) {
		t.Error("rejected error should not be retryable")
	}
	if Retryable(RateLimited("get", errors.New("slow down"))) {
		t.Error("rate limited error should not be retried within the cycle")
	}
}

func TestErrorUnwrap(t *testing.T) {
	base := errors.New("root cause")
	err := Transient("fetch", base)
	if !errors.Is(err, base) {
		t.Error("expected errors.Is to find the wrapped cause")
	}
	if err.Error() != "fetch: transient: root cause" {
		t.Errorf("unexpected message %q", err.Error())
	}
}
