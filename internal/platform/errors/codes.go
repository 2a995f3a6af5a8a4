// Package errors provides structured error codes shared by the API client,
// the query layer and the reference backend.
package errors

import (
	"net/http"

	"google.golang.org/grpc/codes"
)

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Transport errors
	CodeUnavailable Code = "UNAVAILABLE"

	// Server-reported errors
	CodeNotFound         Code = "NOT_FOUND"
	CodeInvalidArgument  Code = "INVALID_ARGUMENT"
	CodeConflict         Code = "CONFLICT"
	CodeUnauthenticated  Code = "UNAUTHENTICATED"
	CodePermissionDenied Code = "PERMISSION_DENIED"
	CodeInternal         Code = "INTERNAL"

	// Payload errors
	CodeDecode Code = "DECODE"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	case CodeUnavailable:
		return codes.Unavailable
	case CodeNotFound:
		return codes.NotFound
	case CodeInvalidArgument:
		return codes.InvalidArgument
	case CodeConflict:
		return codes.FailedPrecondition
	case CodeUnauthenticated:
		return codes.Unauthenticated
	case CodePermissionDenied:
		return codes.PermissionDenied
	case CodeDecode:
		return codes.DataLoss
	default:
		return codes.Internal
	}
}

// HTTPStatus maps a code to the status the reference backend answers with.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInvalidArgument, CodeDecode:
		return http.StatusBadRequest
	case CodeConflict:
		return http.StatusConflict
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodePermissionDenied:
		return http.StatusForbidden
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// FromHTTPStatus classifies a non-2xx response status.
func FromHTTPStatus(status int) Code {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return CodeInvalidArgument
	case http.StatusUnauthorized:
		return CodeUnauthenticated
	case http.StatusForbidden:
		return CodePermissionDenied
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusConflict, http.StatusPreconditionFailed:
		return CodeConflict
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return CodeUnavailable
	default:
		if status >= 500 {
			return CodeInternal
		}
		return CodeUnknown
	}
}

// Known reports whether c is one of the declared codes.
func (c Code) Known() bool {
	switch c {
	case CodeUnavailable, CodeNotFound, CodeInvalidArgument, CodeConflict,
		CodeUnauthenticated, CodePermissionDenied, CodeInternal, CodeDecode:
		return true
	default:
		return false
	}
}
