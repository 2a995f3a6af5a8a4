package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/louisbranch/adminhub/internal/platform/entitystore"
	apperrors "github.com/louisbranch/adminhub/internal/platform/errors"
	"github.com/louisbranch/adminhub/internal/platform/httpx"
	"github.com/louisbranch/adminhub/internal/platform/requestctx"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestDoSendsJSONAndTraceHeaders(t *testing.T) {
	t.Parallel()

	var gotMethod, gotPath, gotQuery, gotTrace, gotType string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotTrace = r.Header.Get("traceparent")
		gotType = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id":"r9","name":"Audit"}`)
	}))
	t.Cleanup(srv.Close)

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	client, err := New(srv.URL+"/api", WithTracerProvider(tp), WithPropagator(propagation.TraceContext{}))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	resp, err := client.Do(context.Background(), Request{
		Method: http.MethodPost,
		Path:   Path("projects", "proj-1", "requirements"),
		Query:  url.Values{"page": {"1"}},
		Body:   map[string]any{"name": "Audit"},
	})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if resp.Status != http.StatusCreated {
		t.Fatalf("status = %d, want %d", resp.Status, http.StatusCreated)
	}
	if gotMethod != http.MethodPost || gotPath != "/api/projects/proj-1/requirements" || gotQuery != "page=1" {
		t.Fatalf("request = %s %s?%s", gotMethod, gotPath, gotQuery)
	}
	if gotType != "application/json" || gotBody["name"] != "Audit" {
		t.Fatalf("body = %v (%s)", gotBody, gotType)
	}
	if gotTrace == "" {
		t.Fatal("expected traceparent header")
	}
	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if got := spans[0].Name(); got != "POST /projects/proj-1/requirements" {
		t.Fatalf("span name = %q", got)
	}

	entity, err := DecodeEntity(resp)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entity["name"] != "Audit" {
		t.Fatalf("entity = %v", entity)
	}
}

func TestDoMapsErrorResponses(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		status      int
		body        string
		wantCode    apperrors.Code
		wantMessage string
	}{
		{
			name:        "structured body",
			status:      http.StatusNotFound,
			body:        `{"error":{"code":"NOT_FOUND","message":"requirement r1 not found"}}`,
			wantCode:    apperrors.CodeNotFound,
			wantMessage: "requirement r1 not found",
		},
		{
			name:        "server code wins",
			status:      http.StatusBadRequest,
			body:        `{"error":{"code":"CONFLICT","message":"name taken"}}`,
			wantCode:    apperrors.CodeConflict,
			wantMessage: "name taken",
		},
		{
			name:        "plain text",
			status:      http.StatusBadGateway,
			body:        "upstream down",
			wantCode:    apperrors.CodeUnavailable,
			wantMessage: "upstream down",
		},
		{
			name:        "empty body",
			status:      http.StatusInternalServerError,
			wantCode:    apperrors.CodeInternal,
			wantMessage: http.StatusText(http.StatusInternalServerError),
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			}))
			t.Cleanup(srv.Close)

			client, err := New(srv.URL)
			if err != nil {
				t.Fatalf("new client: %v", err)
			}
			_, err = client.Do(context.Background(), Request{Path: "/requirements/r1"})
			var apiErr *apperrors.Error
			if !errors.As(err, &apiErr) {
				t.Fatalf("err = %v, want *errors.Error", err)
			}
			if apiErr.Code != tc.wantCode || apiErr.Message != tc.wantMessage || apiErr.Status != tc.status {
				t.Fatalf("err = %+v, want code %s message %q", apiErr, tc.wantCode, tc.wantMessage)
			}
		})
	}
}

func TestDoTransportFailureIsUnavailable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	client, err := New(base)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.Do(context.Background(), Request{Path: "/projects"})
	if got := apperrors.CodeOf(err); got != apperrors.CodeUnavailable {
		t.Fatalf("code = %q, want %q (err %v)", got, apperrors.CodeUnavailable, err)
	}
}

func TestDoForwardsRequestID(t *testing.T) {
	t.Parallel()

	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get(httpx.RequestIDHeader)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client, err := New(srv.URL, WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ctx := requestctx.WithRequestID(context.Background(), "req-7")
	if _, err := client.Do(ctx, Request{Path: "/projects"}); err != nil {
		t.Fatalf("do: %v", err)
	}
	if got != "req-7" {
		t.Fatalf("request id header = %q, want %q", got, "req-7")
	}
}

func TestDoRejectsUnencodableBody(t *testing.T) {
	t.Parallel()

	client, err := New("http://127.0.0.1:1")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.Do(context.Background(), Request{Method: http.MethodPost, Path: "/x", Body: func() {}})
	if got := apperrors.CodeOf(err); got != apperrors.CodeInvalidArgument {
		t.Fatalf("code = %q, want %q", got, apperrors.CodeInvalidArgument)
	}
}

func TestNewValidatesBaseURL(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "  ", "ftp://example.com", "::"} {
		if _, err := New(raw); err == nil {
			t.Fatalf("New(%q) expected error", raw)
		}
	}
}

func TestPathEscapesSegments(t *testing.T) {
	t.Parallel()

	if got := Path("projects", "p 1/x", "requirements"); got != "/projects/p%201%2Fx/requirements" {
		t.Fatalf("Path = %q", got)
	}
}

func TestDecodeList(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		body      string
		key       string
		wantIDs   []entitystore.EntityID
		wantTotal int
		wantErr   bool
	}{
		{
			name:      "envelope",
			body:      `{"requirements":[{"id":"r1"},{"id":"r2"}],"pagination":{"page":1,"limit":20,"total":42}}`,
			key:       "requirements",
			wantIDs:   []entitystore.EntityID{"r1", "r2"},
			wantTotal: 42,
		},
		{
			name:      "bare array",
			body:      `[{"id":1},{"id":2},{"id":3}]`,
			key:       "templates",
			wantIDs:   []entitystore.EntityID{"1", "2", "3"},
			wantTotal: 3,
		},
		{
			name:      "sole array under another key",
			body:      `{"data":[{"id":"c1"}],"meta":{"x":1}}`,
			key:       "customers",
			wantIDs:   []entitystore.EntityID{"c1"},
			wantTotal: 1,
		},
		{
			name:    "missing collection",
			body:    `{"pagination":{"page":1}}`,
			key:     "roles",
			wantErr: true,
		},
		{
			name:    "malformed",
			body:    `{"roles":[`,
			key:     "roles",
			wantErr: true,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			list, err := DecodeList(&Response{Body: []byte(tc.body)}, tc.key)
			if tc.wantErr {
				if apperrors.CodeOf(err) != apperrors.CodeDecode {
					t.Fatalf("err = %v, want DECODE", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(list.Items) != len(tc.wantIDs) {
				t.Fatalf("items = %v", list.Items)
			}
			for i, item := range list.Items {
				id, ok := item.ID()
				if !ok || id != tc.wantIDs[i] {
					t.Fatalf("item[%d] id = %q, want %q", i, id, tc.wantIDs[i])
				}
			}
			if list.Pagination.Total != tc.wantTotal {
				t.Fatalf("total = %d, want %d", list.Pagination.Total, tc.wantTotal)
			}
		})
	}
}

func TestDecodeEntityRejectsNull(t *testing.T) {
	t.Parallel()

	if _, err := DecodeEntity(&Response{Body: []byte("null")}); apperrors.CodeOf(err) != apperrors.CodeDecode {
		t.Fatalf("err = %v, want DECODE", err)
	}
}
