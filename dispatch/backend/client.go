package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	constant "github.com/LerianStudio/lib-dispatch/dispatch/constants"
	"github.com/LerianStudio/lib-dispatch/dispatch/log"
	"github.com/LerianStudio/lib-dispatch/dispatch/opentelemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultRESTPath is the resource root appended to the base URL.
	DefaultRESTPath = "/rest/v1"
	// DefaultUserAgent identifies outbound requests.
	DefaultUserAgent = "lib-dispatch"

	maxResponseBytes = 10 << 20
	maxMessageLength = 256
	tracerName       = "lib-dispatch/backend"
)

var (
	// ErrMissingBaseURL is returned by New when Config.BaseURL is empty.
	ErrMissingBaseURL = errors.New("backend base URL is required")
	// ErrInvalidBaseURL is returned by New when Config.BaseURL cannot be parsed.
	ErrInvalidBaseURL = errors.New("backend base URL is invalid")
)

// Config configures a Client.
type Config struct {
	BaseURL    string
	APIKey     string
	RESTPath   string
	HealthPath string
	UserAgent  string
	HTTPClient *http.Client
	Logger     log.Logger
}

// Request is one resolved backend call.
type Request struct {
	Method string
	Target string
	Body   any
	Query  map[string]any
}

// Client issues requests against the resource API.
type Client struct {
	base       *url.URL
	apiKey     string
	restPath   string
	healthPath string
	userAgent  string
	http       *http.Client
	logger     log.Logger
	tracer     trace.Tracer
}

// New validates cfg and returns a Client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, ErrMissingBaseURL
	}

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBaseURL, cfg.BaseURL)
	}

	restPath := cfg.RESTPath
	if restPath == "" {
		restPath = DefaultRESTPath
	}

	restPath = "/" + strings.Trim(restPath, "/")

	healthPath := cfg.HealthPath
	if healthPath == "" {
		healthPath = restPath + "/"
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	return &Client{
		base:       base,
		apiKey:     cfg.APIKey,
		restPath:   restPath,
		healthPath: healthPath,
		userAgent:  userAgent,
		http:       httpClient,
		logger:     logger,
		tracer:     otel.Tracer(tracerName),
	}, nil
}

// Do executes req and returns the decoded JSON response body, or nil for an
// empty body. Failures are *Error values.
func (c *Client) Do(ctx context.Context, req Request) (any, error) {
	method := strings.ToUpper(strings.TrimSpace(req.Method))

	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete:
	default:
		return nil, invalidRequest("unsupported method %q", req.Method)
	}

	if strings.TrimSpace(req.Target) == "" {
		return nil, invalidRequest("target is required")
	}

	ctx, span := c.tracer.Start(ctx, "backend."+strings.ToLower(method), trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String(constant.AttrTransactionTarget, req.Target),
		attribute.String("http.request.method", method),
	)

	endpoint := c.resourceURL(req.Target, req.Query)

	var body io.Reader

	if req.Body != nil && method != http.MethodGet && method != http.MethodDelete {
		payload, err := json.Marshal(req.Body)
		if err != nil {
			berr := invalidRequest("encode body: %v", err)
			recordSpanError(span, berr)

			return nil, berr
		}

		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		berr := invalidRequest("build request: %v", err)
		recordSpanError(span, berr)

		return nil, berr
	}

	c.setHeaders(ctx, httpReq)

	if body != nil {
		httpReq.Header.Set(constant.HeaderContentType, constant.ContentTypeJSON)
	}

	if method == http.MethodPost || method == http.MethodPatch {
		httpReq.Header.Set(constant.HeaderPrefer, constant.PreferReturnRepresentation)
	}

	start := time.Now()

	resp, err := c.http.Do(httpReq)
	if err != nil {
		berr := classifyTransportError(ctx, err)
		recordSpanError(span, berr)
		c.logger.Log(ctx, log.LevelDebug, "backend request failed",
			log.String("method", method),
			log.String("target", req.Target),
			log.String(constant.AttrErrorCategory, string(berr.Category)),
			log.Err(err),
		)

		return nil, berr
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		berr := classifyTransportError(ctx, err)
		recordSpanError(span, berr)

		return nil, berr
	}

	c.logger.Log(ctx, log.LevelDebug, "backend request",
		log.String("method", method),
		log.String("target", req.Target),
		log.Int("status", resp.StatusCode),
		log.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		berr := classifyStatus(resp.StatusCode, responseMessage(resp.StatusCode, raw))
		recordSpanError(span, berr)

		return nil, berr
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		berr := &Error{Category: CategoryDecode, StatusCode: resp.StatusCode, Message: "response is not valid JSON", Err: err}
		recordSpanError(span, berr)

		return nil, berr
	}

	return decoded, nil
}

// Ping issues a lightweight GET against the health path. Any response below
// 500 counts as reachable.
func (c *Client) Ping(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "backend.ping", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base.String()+c.healthPath, nil)
	if err != nil {
		return invalidRequest("build ping request: %v", err)
	}

	c.setHeaders(ctx, httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		berr := classifyTransportError(ctx, err)
		recordSpanError(span, berr)

		return berr
	}
	defer resp.Body.Close()

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	if resp.StatusCode >= http.StatusInternalServerError {
		berr := classifyStatus(resp.StatusCode, http.StatusText(resp.StatusCode))
		recordSpanError(span, berr)

		return berr
	}

	return nil
}

// Close releases idle transport connections.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

func (c *Client) resourceURL(target string, query map[string]any) string {
	endpoint := c.base.String() + c.restPath + "/" + url.PathEscape(target)

	if encoded := EncodeQuery(query); encoded != "" {
		endpoint += "?" + encoded
	}

	return endpoint
}

func (c *Client) setHeaders(ctx context.Context, req *http.Request) {
	req.Header.Set(constant.HeaderAccept, constant.ContentTypeJSON)
	req.Header.Set(constant.HeaderUserAgent, c.userAgent)

	if c.apiKey != "" {
		req.Header.Set(constant.HeaderAPIKey, c.apiKey)
		req.Header.Set(constant.Authorization, constant.Bearer+" "+c.apiKey)
	}

	opentelemetry.InjectHTTPContext(&req.Header, ctx)
}

func responseMessage(status int, raw []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}

	msg := ""
	if err := json.Unmarshal(raw, &payload); err == nil {
		msg = payload.Message
		if msg == "" {
			msg = payload.Error
		}
	}

	if msg == "" {
		msg = strings.TrimSpace(string(raw))
	}

	if msg == "" {
		msg = http.StatusText(status)
	}

	if len(msg) > maxMessageLength {
		msg = msg[:maxMessageLength]
	}

	return msg
}

func recordSpanError(span trace.Span, err *Error) {
	span.SetAttributes(attribute.String(constant.AttrErrorCategory, string(err.Category)))
	span.SetStatus(codes.Error, err.Error())
}
