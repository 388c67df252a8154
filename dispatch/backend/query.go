package backend

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// reservedParams pass through verbatim instead of becoming column filters.
var reservedParams = map[string]bool{
	"select":      true,
	"order":       true,
	"limit":       true,
	"offset":      true,
	"on_conflict": true,
	"columns":     true,
}

var operatorPrefix = regexp.MustCompile(`^(not\.)?(eq|neq|gt|gte|lt|lte|like|ilike|match|imatch|is|in|cs|cd|ov|sl|sr|nxr|nxl|adj|fts|plfts|phfts|wfts)\.`)

// EncodeQuery renders resolved query values as PostgREST parameters.
// Plain column values become equality filters (key=eq.value); values that
// already carry an operator prefix and reserved keys pass through.
func EncodeQuery(query map[string]any) string {
	if len(query) == 0 {
		return ""
	}

	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	values := url.Values{}

	for _, k := range keys {
		values.Add(k, filterValue(k, query[k]))
	}

	return values.Encode()
}

func filterValue(key string, value any) string {
	if value == nil {
		if reservedParams[key] {
			return ""
		}

		return "is.null"
	}

	var s string

	switch v := value.(type) {
	case string:
		s = v
	case []any:
		parts := make([]string, len(v))
		for i, item := range v {
			parts[i] = fmt.Sprintf("%v", item)
		}

		if reservedParams[key] {
			return strings.Join(parts, ",")
		}

		return "in.(" + strings.Join(parts, ",") + ")"
	default:
		s = fmt.Sprintf("%v", v)
	}

	if reservedParams[key] || operatorPrefix.MatchString(s) {
		return s
	}

	return "eq." + s
}
