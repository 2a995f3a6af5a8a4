package requestctx

import (
	"context"
	"testing"
)

func TestRequestIDFromContextRoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-42")
	if got := RequestIDFromContext(ctx); got != "req-42" {
		t.Fatalf("RequestIDFromContext = %q, want %q", got, "req-42")
	}
}

func TestRequestIDFromContextEmpty(t *testing.T) {
	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Fatalf("expected empty string, got %q", got)
	}
}

func TestRequestIDNilContext(t *testing.T) {
	ctx := WithRequestID(nil, "req-99")
	if got := RequestIDFromContext(ctx); got != "req-99" {
		t.Fatalf("RequestIDFromContext = %q, want %q", got, "req-99")
	}
	if got := RequestIDFromContext(nil); got != "" {
		t.Fatalf("expected empty string for nil context, got %q", got)
	}
}
