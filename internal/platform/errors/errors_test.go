package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"google.golang.org/grpc/codes"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("list requirements: %w", Wrap(CodeNotFound, "project missing", stderrors.New("sql: no rows")))
	if !stderrors.Is(err, New(CodeNotFound, "")) {
		t.Fatal("expected errors.Is to match by code")
	}
	if stderrors.Is(err, New(CodeConflict, "")) {
		t.Fatal("expected different code not to match")
	}
	if got := CodeOf(err); got != CodeNotFound {
		t.Fatalf("CodeOf = %q, want %q", got, CodeNotFound)
	}
	if got := Message(err); got != "project missing" {
		t.Fatalf("Message = %q, want %q", got, "project missing")
	}
}

func TestCodeOfForeignAndNil(t *testing.T) {
	t.Parallel()

	if got := CodeOf(nil); got != "" {
		t.Fatalf("CodeOf(nil) = %q, want empty", got)
	}
	if got := CodeOf(stderrors.New("boom")); got != CodeUnknown {
		t.Fatalf("CodeOf = %q, want %q", got, CodeUnknown)
	}
}

func TestFromHTTPStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status int
		want   Code
	}{
		{http.StatusBadRequest, CodeInvalidArgument},
		{http.StatusUnauthorized, CodeUnauthenticated},
		{http.StatusForbidden, CodePermissionDenied},
		{http.StatusNotFound, CodeNotFound},
		{http.StatusConflict, CodeConflict},
		{http.StatusServiceUnavailable, CodeUnavailable},
		{http.StatusGatewayTimeout, CodeUnavailable},
		{http.StatusInternalServerError, CodeInternal},
		{http.StatusTeapot, CodeUnknown},
	}
	for _, tc := range tests {
		if got := FromHTTPStatus(tc.status); got != tc.want {
			t.Fatalf("FromHTTPStatus(%d) = %q, want %q", tc.status, got, tc.want)
		}
	}
}

func TestFromResponsePrefersKnownServerCode(t *testing.T) {
	t.Parallel()

	err := FromResponse(http.StatusBadRequest, CodeConflict, "name taken")
	if err.Code != CodeConflict || err.Status != http.StatusBadRequest {
		t.Fatalf("err = %+v", err)
	}
	err = FromResponse(http.StatusNotFound, "WEIRD", "")
	if err.Code != CodeNotFound || err.Message != string(CodeNotFound) {
		t.Fatalf("err = %+v", err)
	}
}

func TestCodeMappings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code Code
		grpc codes.Code
		http int
	}{
		{CodeUnavailable, codes.Unavailable, http.StatusServiceUnavailable},
		{CodeNotFound, codes.NotFound, http.StatusNotFound},
		{CodeInvalidArgument, codes.InvalidArgument, http.StatusBadRequest},
		{CodeConflict, codes.FailedPrecondition, http.StatusConflict},
		{CodeDecode, codes.DataLoss, http.StatusBadRequest},
		{CodeUnknown, codes.Internal, http.StatusInternalServerError},
	}
	for _, tc := range tests {
		if got := tc.code.GRPCCode(); got != tc.grpc {
			t.Fatalf("%s.GRPCCode() = %v, want %v", tc.code, got, tc.grpc)
		}
		if got := tc.code.HTTPStatus(); got != tc.http {
			t.Fatalf("%s.HTTPStatus() = %d, want %d", tc.code, got, tc.http)
		}
	}
}
