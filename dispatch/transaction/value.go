package transaction

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ValueKind tags the variant held by a Value.
type ValueKind int

const (
	// KindLiteral is a plain value sent as-is.
	KindLiteral ValueKind = iota
	// KindRef reads a field from another transaction's result.
	KindRef
	// KindNow is replaced by the dispatch-time clock.
	KindNow
)

// TimestampPlaceholder is the string form of Now.
const TimestampPlaceholder = "{{timestamp}}"

// Reference points at a field of another transaction's result.
type Reference struct {
	TransactionID string `json:"transactionId"`
	Field         string `json:"field"`
}

// Value is a payload or query value.
type Value struct {
	kind    ValueKind
	literal any
	ref     Reference
	// text is the placeholder as the caller wrote it, when parsed from one.
	text string
}

// Values maps field names to values.
type Values map[string]Value

// ResultLookup returns the result of a Completed transaction.
type ResultLookup func(id string) (any, bool)

// Literal wraps v.
func Literal(v any) Value {
	return Value{kind: KindLiteral, literal: v}
}

// Ref refers to field of the result of transaction id. Field may be a dotted
// path into nested objects.
func Ref(id, field string) Value {
	return Value{kind: KindRef, ref: Reference{TransactionID: id, Field: field}}
}

// Now resolves to the dispatch-time clock.
func Now() Value {
	return Value{kind: KindNow}
}

// Kind returns the variant tag.
func (v Value) Kind() ValueKind {
	return v.kind
}

// Literal returns the wrapped literal, or nil for other kinds.
func (v Value) Literal() any {
	if v.kind != KindLiteral {
		return nil
	}

	return v.literal
}

// Reference returns the reference held by a KindRef value.
func (v Value) Reference() (Reference, bool) {
	return v.ref, v.kind == KindRef
}

// withText records the caller's placeholder text so an unresolved value
// passes through exactly as submitted.
func (v Value) withText(text string) Value {
	v.text = text
	return v
}

// Placeholder renders the value in its "{{...}}" string form: the caller's
// text for parsed placeholders, "{{id.field}}" for references built with Ref.
// Literals render as their JSON text.
func (v Value) Placeholder() string {
	if v.kind != KindLiteral && v.text != "" {
		return v.text
	}

	switch v.kind {
	case KindRef:
		return "{{" + v.ref.TransactionID + "." + v.ref.Field + "}}"
	case KindNow:
		return TimestampPlaceholder
	default:
		if s, ok := v.literal.(string); ok {
			return s
		}

		raw, err := json.Marshal(v.literal)
		if err != nil {
			return ""
		}

		return string(raw)
	}
}

// Resolve returns the concrete value to send. A reference that cannot be
// resolved passes through unchanged as its placeholder text.
func (v Value) Resolve(lookup ResultLookup, now time.Time) any {
	switch v.kind {
	case KindNow:
		return now.UTC().Format(time.RFC3339Nano)
	case KindRef:
		if lookup == nil {
			return v.Placeholder()
		}

		result, ok := lookup(v.ref.TransactionID)
		if !ok {
			return v.Placeholder()
		}

		field, ok := lookupField(result, v.ref.Field)
		if !ok {
			return v.Placeholder()
		}

		return field
	default:
		return v.literal
	}
}

// MarshalJSON renders literals as-is and other kinds as placeholder text.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.kind == KindLiteral {
		return json.Marshal(v.literal)
	}

	return json.Marshal(v.Placeholder())
}

// UnmarshalJSON decodes any JSON value as a literal.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*v = Literal(raw)

	return nil
}

// LiteralValues wraps every entry of m as a literal.
func LiteralValues(m map[string]any) Values {
	if m == nil {
		return nil
	}

	out := make(Values, len(m))
	for k, v := range m {
		out[k] = Literal(v)
	}

	return out
}

// Resolve resolves every value. It returns nil for an empty set.
func (vs Values) Resolve(lookup ResultLookup, now time.Time) map[string]any {
	if len(vs) == 0 {
		return nil
	}

	out := make(map[string]any, len(vs))
	for k, v := range vs {
		out[k] = v.Resolve(lookup, now)
	}

	return out
}

// References returns the distinct transaction ids referenced by vs, sorted.
func (vs Values) References() []string {
	seen := make(map[string]struct{})

	for _, v := range vs {
		if ref, ok := v.Reference(); ok {
			seen[ref.TransactionID] = struct{}{}
		}
	}

	if len(seen) == 0 {
		return nil
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

// Clone returns a shallow copy of vs.
func (vs Values) Clone() Values {
	if vs == nil {
		return nil
	}

	out := make(Values, len(vs))
	for k, v := range vs {
		out[k] = v
	}

	return out
}

// lookupField walks a dotted path into result. A list result reads from its
// first row; numeric segments index into lists.
func lookupField(result any, path string) (any, bool) {
	current := result

	if rows, ok := current.([]any); ok {
		if len(rows) == 0 {
			return nil, false
		}

		current = rows[0]
	}

	if path == "" {
		return current, true
	}

	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[segment]
			if !ok {
				return nil, false
			}

			current = next
		case []any:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}

			current = node[idx]
		default:
			return nil, false
		}
	}

	return current, true
}
