package opentelemetry

import (
	"encoding/json"
	"strings"

	"github.com/LerianStudio/lib-dispatch/dispatch/security"
)

// FieldObfuscator decides which fields are redacted and with what.
type FieldObfuscator interface {
	ShouldObfuscate(fieldName string) bool
	GetObfuscatedValue() string
}

// DefaultObfuscator redacts the names security.IsSensitiveField reports.
type DefaultObfuscator struct{}

// NewDefaultObfuscator returns the shared sensitive-field obfuscator.
func NewDefaultObfuscator() *DefaultObfuscator {
	return &DefaultObfuscator{}
}

func (DefaultObfuscator) ShouldObfuscate(fieldName string) bool {
	return security.IsSensitiveField(fieldName)
}

func (DefaultObfuscator) GetObfuscatedValue() string {
	return security.RedactedValue
}

// CustomObfuscator redacts exactly the given names, case-insensitively.
type CustomObfuscator struct {
	sensitiveFields map[string]bool
}

// NewCustomObfuscator builds a CustomObfuscator.
func NewCustomObfuscator(sensitiveFields []string) *CustomObfuscator {
	fieldMap := make(map[string]bool, len(sensitiveFields))
	for _, field := range sensitiveFields {
		fieldMap[strings.ToLower(field)] = true
	}

	return &CustomObfuscator{sensitiveFields: fieldMap}
}

func (o *CustomObfuscator) ShouldObfuscate(fieldName string) bool {
	return o.sensitiveFields[strings.ToLower(fieldName)]
}

func (o *CustomObfuscator) GetObfuscatedValue() string {
	return security.RedactedValue
}

func obfuscateFields(data any, obfuscator FieldObfuscator) any {
	switch v := data.(type) {
	case map[string]any:
		result := make(map[string]any, len(v))

		for key, value := range v {
			if obfuscator.ShouldObfuscate(key) {
				result[key] = obfuscator.GetObfuscatedValue()
			} else {
				result[key] = obfuscateFields(value, obfuscator)
			}
		}

		return result
	case []any:
		result := make([]any, len(v))

		for i, item := range v {
			result[i] = obfuscateFields(item, obfuscator)
		}

		return result
	default:
		return data
	}
}

// ObfuscateStruct round-trips value through JSON and redacts sensitive fields.
func ObfuscateStruct(value any, obfuscator FieldObfuscator) (any, error) {
	if obfuscator == nil {
		return value, nil
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}

	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}

	return obfuscateFields(data, obfuscator), nil
}
