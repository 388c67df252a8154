package http

import (
	"encoding/json"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/LerianStudio/lib-dispatch/dispatch"
	cn "github.com/LerianStudio/lib-dispatch/dispatch/constants"
	"github.com/LerianStudio/lib-dispatch/dispatch/log"
	"github.com/LerianStudio/lib-dispatch/dispatch/security"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// logObfuscationDisabled caches LOG_OBFUSCATION_DISABLED at init time.
var logObfuscationDisabled = os.Getenv("LOG_OBFUSCATION_DISABLED") == "true"

// unloggedPaths are probed too often to be worth an access line.
var unloggedPaths = map[string]bool{
	"/health": true,
	"/ping":   true,
}

// RequestInfo is a struct design to store http access log data.
type RequestInfo struct {
	Method        string
	Username      string
	URI           string
	Referer       string
	RemoteAddress string
	Status        int
	Date          time.Time
	Duration      time.Duration
	UserAgent     string
	TraceID       string
	Protocol      string
	Size          int
	Body          string
}

// ResponseMetricsWrapper carries the response status code and size.
type ResponseMetricsWrapper struct {
	Context    *fiber.Ctx
	StatusCode int
	Size       int
}

// NewRequestInfo creates an instance of RequestInfo. Sensitive body fields
// are redacted unless LOG_OBFUSCATION_DISABLED is "true".
func NewRequestInfo(c *fiber.Ctx) *RequestInfo {
	username, referer := "-", "-"

	parsedURL, err := url.Parse(string(c.Request().URI().FullURI()))
	if err == nil && parsedURL.User != nil {
		if name := parsedURL.User.Username(); name != "" {
			username = name
		}
	}

	if c.Get(fiber.HeaderReferer) != "" {
		referer = c.Get(fiber.HeaderReferer)
	}

	body := ""

	if c.Request().Header.ContentLength() > 0 {
		if logObfuscationDisabled {
			body = string(c.Body())
		} else {
			body = obfuscatedBody(c.Get(fiber.HeaderContentType), c.Body())
		}
	}

	return &RequestInfo{
		TraceID:       c.Get(cn.HeaderID),
		Method:        c.Method(),
		URI:           c.OriginalURL(),
		Username:      username,
		Referer:       referer,
		UserAgent:     c.Get(cn.HeaderUserAgent),
		RemoteAddress: c.IP(),
		Protocol:      c.Protocol(),
		Date:          time.Now().UTC(),
		Body:          body,
	}
}

// CLFString produces a log entry format similar to Common Log Format (CLF)
// Ref: https://httpd.apache.org/docs/trunk/logs.html#common
func (r *RequestInfo) CLFString() string {
	return strings.Join([]string{
		r.RemoteAddress,
		"-",
		r.Username,
		r.Protocol,
		r.Date.Format("[02/Jan/2006:15:04:05 -0700]"),
		`"` + r.Method + " " + r.URI + `"`,
		strconv.Itoa(r.Status),
		strconv.Itoa(r.Size),
		r.Referer,
		r.UserAgent,
	}, " ")
}

// String implements fmt.Stringer using CLFString.
func (r *RequestInfo) String() string {
	return r.CLFString()
}

// FinishRequestInfo sets Duration from Date and copies status and size from rw.
func (r *RequestInfo) FinishRequestInfo(rw *ResponseMetricsWrapper) {
	r.Duration = time.Now().UTC().Sub(r.Date)
	r.Status = rw.StatusCode
	r.Size = rw.Size
}

type logMiddleware struct {
	Logger log.Logger
}

// LogMiddlewareOption represents the log middleware function as an implementation.
type LogMiddlewareOption func(l *logMiddleware)

// WithCustomLogger is a functional option for logMiddleware.
func WithCustomLogger(logger log.Logger) LogMiddlewareOption {
	return func(l *logMiddleware) {
		if logger != nil {
			l.Logger = logger
		}
	}
}

func buildOpts(opts ...LogMiddlewareOption) *logMiddleware {
	mid := &logMiddleware{
		Logger: log.NewGoLogger(log.LevelInfo, nil),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(mid)
		}
	}

	return mid
}

// WithHTTPLogging logs one Common Log Format line per request and installs a
// request-scoped logger carrying the request id in the user context.
// Health and ping probes are not logged.
// Ref: https://httpd.apache.org/docs/trunk/logs.html#common
func WithHTTPLogging(opts ...LogMiddlewareOption) fiber.Handler {
	mid := buildOpts(opts...)

	return func(c *fiber.Ctx) error {
		if unloggedPaths[c.Path()] {
			return c.Next()
		}

		setRequestHeaderID(c)

		info := NewRequestInfo(c)

		logger := mid.Logger.With(log.String(cn.HeaderID, info.TraceID))

		c.SetUserContext(dispatch.ContextWithLogger(c.UserContext(), logger))

		err := c.Next()

		info.FinishRequestInfo(&ResponseMetricsWrapper{
			Context:    c,
			StatusCode: c.Response().StatusCode(),
			Size:       len(c.Response().Body()),
		})

		fields := []log.Field{log.Duration("duration", info.Duration)}
		if info.Body != "" {
			fields = append(fields, log.String("body", info.Body))
		}

		logger.Log(c.UserContext(), log.LevelInfo, info.CLFString(), fields...)

		return err
	}
}

// setRequestHeaderID reuses a non-blank incoming X-Request-Id or mints one, echoes
// it on the response and stores it in the user context.
func setRequestHeaderID(c *fiber.Ctx) {
	headerID := strings.TrimSpace(c.Get(cn.HeaderID))

	if headerID == "" {
		headerID = uuid.New().String()
		c.Request().Header.Set(cn.HeaderID, headerID)
	}

	c.Set(cn.HeaderID, headerID)

	ctx := dispatch.ContextWithHeaderID(c.UserContext(), headerID)
	ctx = dispatch.ContextWithSpanAttributes(ctx, attribute.String("app.request.request_id", headerID))
	c.SetUserContext(ctx)
}

func obfuscatedBody(contentType string, body []byte) string {
	switch {
	case strings.Contains(contentType, fiber.MIMEApplicationJSON):
		return obfuscatedJSON(body)
	case strings.Contains(contentType, fiber.MIMEApplicationForm):
		return obfuscatedForm(body)
	default:
		return string(body)
	}
}

func obfuscatedJSON(body []byte) string {
	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		return string(body)
	}

	switch v := data.(type) {
	case map[string]any:
		data = security.RedactMap(v)
	case []any:
		for i, item := range v {
			if m, ok := item.(map[string]any); ok {
				v[i] = security.RedactMap(m)
			}
		}
	}

	out, err := json.Marshal(data)
	if err != nil {
		return string(body)
	}

	return string(out)
}

func obfuscatedForm(body []byte) string {
	form, err := url.ParseQuery(string(body))
	if err != nil {
		return string(body)
	}

	for key, values := range form {
		if !security.IsSensitiveField(key) {
			continue
		}

		for i := range values {
			values[i] = security.RedactedValue
		}
	}

	return form.Encode()
}
