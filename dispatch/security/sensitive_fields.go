package security

import (
	"strings"
	"unicode"
)

// RedactedValue replaces sensitive values.
const RedactedValue = "********"

// sensitiveTokens match as a single word anywhere in the field name.
var sensitiveTokens = map[string]bool{
	"password":      true,
	"passwd":        true,
	"secret":        true,
	"token":         true,
	"apikey":        true,
	"authorization": true,
	"credential":    true,
	"credentials":   true,
	"privatekey":    true,
	"ssn":           true,
	"cvv":           true,
	"pin":           true,
}

// sensitivePairs match two adjacent words, so "api_key" and "apiKey" match
// while "key" or "monkey_id" alone do not.
var sensitivePairs = map[[2]string]bool{
	{"api", "key"}:      true,
	{"private", "key"}:  true,
	{"secret", "key"}:   true,
	{"access", "key"}:   true,
	{"client", "id"}:    true,
	{"card", "number"}:  true,
	{"service", "key"}:  true,
	{"service", "role"}: true,
}

// DefaultSensitiveFields returns the single-word sensitive names.
func DefaultSensitiveFields() []string {
	out := make([]string, 0, len(sensitiveTokens))
	for k := range sensitiveTokens {
		out = append(out, k)
	}

	return out
}

// IsSensitiveField reports whether fieldName names a secret. Matching is
// case-insensitive and splits camelCase, snake_case, kebab-case and dotted
// names into words.
func IsSensitiveField(fieldName string) bool {
	words := splitWords(fieldName)

	if sensitiveTokens[strings.Join(words, "")] {
		return true
	}

	for i, w := range words {
		if sensitiveTokens[w] {
			return true
		}

		if i > 0 && sensitivePairs[[2]string{words[i-1], w}] {
			return true
		}
	}

	return false
}

// RedactMap returns a copy of m with sensitive keys replaced by RedactedValue,
// descending into nested maps and lists.
func RedactMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}

	out := make(map[string]any, len(m))

	for k, v := range m {
		if IsSensitiveField(k) {
			out[k] = RedactedValue
			continue
		}

		out[k] = redactValue(v)
	}

	return out
}

func redactValue(v any) any {
	switch node := v.(type) {
	case map[string]any:
		return RedactMap(node)
	case []any:
		out := make([]any, len(node))
		for i, item := range node {
			out[i] = redactValue(item)
		}

		return out
	default:
		return v
	}
}

func splitWords(name string) []string {
	var (
		words   []string
		current []rune
	)

	flush := func() {
		if len(current) > 0 {
			words = append(words, strings.ToLower(string(current)))
			current = current[:0]
		}
	}

	runes := []rune(name)

	for i, r := range runes {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			flush()
			continue
		}

		if unicode.IsUpper(r) && len(current) > 0 {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])

			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				flush()
			}
		}

		current = append(current, r)
	}

	flush()

	return words
}
