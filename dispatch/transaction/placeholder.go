package transaction

import (
	"regexp"
	"strings"
	"time"
)

var (
	refPlaceholder       = regexp.MustCompile(`^\{\{\s*([A-Za-z0-9_\-]+)\.([A-Za-z0-9_\-][A-Za-z0-9_.\-]*)\s*\}\}$`)
	timestampPlaceholder = regexp.MustCompile(`^\{\{\s*timestamp\s*\}\}$`)
)

// Scope maps a target name to the id of the latest transaction of the same
// group that addressed it.
type Scope map[string]string

// RawRequest is a request whose payload and query use the string placeholder
// convention instead of tagged values.
type RawRequest struct {
	Operation    string
	Target       string
	Payload      map[string]any
	Query        map[string]any
	Priority     int
	Timeout      time.Duration
	MaxRetries   *int
	Dependencies []string
	Metadata     map[string]any
}

// Request converts r, resolving placeholders against scope.
func (r RawRequest) Request(scope Scope) Request {
	return Request{
		Operation:    r.Operation,
		Target:       r.Target,
		Payload:      ParsePlaceholders(r.Payload, scope),
		Query:        ParsePlaceholders(r.Query, scope),
		Priority:     r.Priority,
		Timeout:      r.Timeout,
		MaxRetries:   r.MaxRetries,
		Dependencies: r.Dependencies,
		Metadata:     r.Metadata,
	}
}

// ParsePlaceholders converts top-level string values of raw:
//
//	"{{timestamp}}"   → Now()
//	"{{table.field}}" → Ref(scope[table], field) when table is in scope
//
// Everything else, including placeholders for unknown tables, stays a literal.
func ParsePlaceholders(raw map[string]any, scope Scope) Values {
	if raw == nil {
		return nil
	}

	out := make(Values, len(raw))

	for k, v := range raw {
		out[k] = parseValue(v, scope)
	}

	return out
}

func parseValue(v any, scope Scope) Value {
	s, ok := v.(string)
	if !ok || !strings.HasPrefix(s, "{{") {
		return Literal(v)
	}

	if timestampPlaceholder.MatchString(s) {
		return Now().withText(s)
	}

	match := refPlaceholder.FindStringSubmatch(s)
	if match == nil {
		return Literal(v)
	}

	id, ok := scope[match[1]]
	if !ok {
		return Literal(v)
	}

	return Ref(id, match[2]).withText(s)
}
