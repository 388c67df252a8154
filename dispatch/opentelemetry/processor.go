package opentelemetry

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/LerianStudio/lib-dispatch/dispatch"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// AttrBagSpanProcessor copies request-scoped attributes from context into every span at start.
type AttrBagSpanProcessor struct{}

func (AttrBagSpanProcessor) OnStart(ctx context.Context, s sdktrace.ReadWriteSpan) {
	if kv := dispatch.AttributesFromContext(ctx); len(kv) > 0 {
		s.SetAttributes(kv...)
	}
}

func (AttrBagSpanProcessor) OnEnd(sdktrace.ReadOnlySpan) {}

func (AttrBagSpanProcessor) Shutdown(context.Context) error { return nil }

func (AttrBagSpanProcessor) ForceFlush(context.Context) error { return nil }

// ObfuscatingSpanProcessor redacts sensitive string attributes before the
// span reaches next. JSON attribute values are walked field by field.
type ObfuscatingSpanProcessor struct {
	obfuscator FieldObfuscator
	next       sdktrace.SpanProcessor
}

// NewObfuscatingSpanProcessor wraps next. A nil obfuscator selects the default.
func NewObfuscatingSpanProcessor(obfuscator FieldObfuscator, next sdktrace.SpanProcessor) *ObfuscatingSpanProcessor {
	if obfuscator == nil {
		obfuscator = NewDefaultObfuscator()
	}

	return &ObfuscatingSpanProcessor{obfuscator: obfuscator, next: next}
}

func (p *ObfuscatingSpanProcessor) OnStart(ctx context.Context, s sdktrace.ReadWriteSpan) {
	if p.next != nil {
		p.next.OnStart(ctx, s)
	}
}

func (p *ObfuscatingSpanProcessor) OnEnd(s sdktrace.ReadOnlySpan) {
	if rw, ok := s.(sdktrace.ReadWriteSpan); ok && s != nil {
		var redacted []attribute.KeyValue

		for _, attr := range s.Attributes() {
			if attr.Value.Type() != attribute.STRING {
				continue
			}

			val := attr.Value.AsString()
			if newVal := p.obfuscateStringValue(string(attr.Key), val); newVal != val {
				redacted = append(redacted, attribute.String(string(attr.Key), newVal))
			}
		}

		if len(redacted) > 0 {
			rw.SetAttributes(redacted...)
		}
	}

	if p.next != nil {
		p.next.OnEnd(s)
	}
}

func (p *ObfuscatingSpanProcessor) Shutdown(ctx context.Context) error {
	if p.next != nil {
		return p.next.Shutdown(ctx)
	}

	return nil
}

func (p *ObfuscatingSpanProcessor) ForceFlush(ctx context.Context) error {
	if p.next != nil {
		return p.next.ForceFlush(ctx)
	}

	return nil
}

func (p *ObfuscatingSpanProcessor) obfuscateStringValue(key, val string) string {
	val = sanitizeUTF8String(val)

	if p.obfuscator == nil {
		return val
	}

	if p.obfuscator.ShouldObfuscate(key) {
		return p.obfuscator.GetObfuscatedValue()
	}

	trimmed := strings.TrimSpace(val)
	if trimmed == "" || (trimmed[0] != '{' && trimmed[0] != '[') {
		return val
	}

	var data any
	if err := json.Unmarshal([]byte(trimmed), &data); err != nil {
		return val
	}

	out, err := json.Marshal(obfuscateFields(data, p.obfuscator))
	if err != nil {
		return val
	}

	return string(out)
}
