package provider

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/quantora/marketdata-client/pkg/quote"
	"github.com/quantora/marketdata-client/pkg/retry"
)

func TestError_Error(t *testing.T) {
	withStatus := &Error{Kind: quote.KindTransient, StatusCode: 503, Message: "upstream down"}
	if !strings.Contains(withStatus.Error(), "503") {
		t.Errorf("Error() should contain status code: %q", withStatus.Error())
	}

	withoutStatus := Fatal("bad symbol", nil)
	if !strings.Contains(withoutStatus.Error(), "fatal") {
		t.Errorf("Error() should contain kind: %q", withoutStatus.Error())
	}
}

func TestError_Unwrap(t *testing.T) {
	inner := errors.New("connection reset")
	err := Transient("network failure", inner)
	if !errors.Is(err, inner) {
		t.Error("Transient error should unwrap to the inner error")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want retry.Class
	}{
		{"transient is retryable", Transient("timeout", nil), retry.ClassRetryable},
		{"fatal is not retryable", Fatal("invalid symbol", nil), retry.ClassFatal},
		{"timeout kind is not retryable", &Error{Kind: quote.KindTimeout, Message: "deadline"}, retry.ClassFatal},
		{"context deadline is not retryable", context.DeadlineExceeded, retry.ClassFatal},
		{"plain error is not retryable", errors.New("unknown"), retry.ClassFatal},
		{"wrapped transient is retryable", errors.Join(errors.New("outer"), Transient("inner", nil)), retry.ClassRetryable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}
