// Package apiclient is the JSON over HTTP transport used by the query layer.
//
// Every request opens a client span and carries W3C trace context headers.
// Failures are reported as *errors.Error values: transport failures as
// UNAVAILABLE, non-2xx responses with the code and message from the error
// body when present.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"

	apperrors "github.com/louisbranch/adminhub/internal/platform/errors"
	"github.com/louisbranch/adminhub/internal/platform/httpx"
	"github.com/louisbranch/adminhub/internal/platform/requestctx"
	"github.com/louisbranch/adminhub/internal/platform/timeouts"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName = "github.com/louisbranch/adminhub/internal/platform/apiclient"

	// maxBodyBytes caps how much of a response body is read.
	maxBodyBytes = 16 << 20
)

// Request describes one API call. Path is relative to the client base URL.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
}

// Response is a successful (2xx) API response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Client issues requests against one API base URL.
type Client struct {
	base       *url.URL
	http       *http.Client
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
	logger     *log.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTracerProvider sets the provider spans are opened on.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) {
		if tp != nil {
			c.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithPropagator sets the propagator used to inject trace headers.
func WithPropagator(p propagation.TextMapPropagator) Option {
	return func(c *Client) { c.propagator = p }
}

// WithLogger sets the logger used for transport failures.
func WithLogger(logger *log.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New returns a client for baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url scheme must be http or https, got %q", base.Scheme)
	}
	c := &Client{
		base:   base,
		http:   &http.Client{Timeout: timeouts.HTTPRequest},
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Do performs req and returns the response of a 2xx reply.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	target := c.resolve(req.Path, req.Query)

	ctx, span := c.tracer.Start(ctx, method+" "+req.Path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			semconv.URLFull(target),
		),
	)
	defer span.End()

	var body io.Reader
	if req.Body != nil {
		payload, err := json.Marshal(req.Body)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, "encode body")
			return nil, apperrors.Wrap(apperrors.CodeInvalidArgument, "encode request body", err)
		}
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, "build request")
		return nil, apperrors.Wrap(apperrors.CodeInvalidArgument, "build request", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if requestID := requestctx.RequestIDFromContext(ctx); requestID != "" {
		httpReq.Header.Set(httpx.RequestIDHeader, requestID)
	}
	c.propagatorOrGlobal().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	resp, err := c.http.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, "transport")
		if c.logger != nil {
			c.logger.Printf("api %s %s: %v", method, req.Path, err)
		}
		return nil, apperrors.Wrap(apperrors.CodeUnavailable, fmt.Sprintf("%s %s: %v", method, req.Path, err), err)
	}
	defer resp.Body.Close()
	span.SetAttributes(semconv.HTTPResponseStatusCode(resp.StatusCode))

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, "read body")
		return nil, apperrors.Wrap(apperrors.CodeUnavailable, "read response body", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := responseError(resp.StatusCode, payload)
		span.SetStatus(otelcodes.Error, string(apiErr.Code))
		return nil, apiErr
	}
	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: payload}, nil
}

func (c *Client) resolve(path string, query url.Values) string {
	u := *c.base
	u.Path = strings.TrimRight(c.base.Path, "/") + "/" + strings.TrimLeft(path, "/")
	u.RawPath = ""
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *Client) propagatorOrGlobal() propagation.TextMapPropagator {
	if c.propagator != nil {
		return c.propagator
	}
	return otel.GetTextMapPropagator()
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func responseError(status int, payload []byte) *apperrors.Error {
	var body errorBody
	if len(payload) > 0 && json.Unmarshal(payload, &body) == nil {
		return apperrors.FromResponse(status, apperrors.Code(body.Error.Code), body.Error.Message)
	}
	message := strings.TrimSpace(string(payload))
	if message == "" {
		message = http.StatusText(status)
	}
	return apperrors.FromResponse(status, "", message)
}

// Path joins escaped path segments: Path("projects", "p 1") is
// "/projects/p%201".
func Path(segments ...string) string {
	var b strings.Builder
	for _, segment := range segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(segment))
	}
	return b.String()
}
