package logger

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
)

const redacted = "[REDACTED]"

var sensitiveKeys = []string{
	"authorization",
	"password",
	"secret",
	"token",
	"api_key",
	"connection_string",
	"instrumentation_key",
}

var keySeparators = strings.NewReplacer("-", "_", ".", "_", " ", "_")

var sensitiveValues = []*regexp.Regexp{
	regexp.MustCompile(`(?i)bearer\s+[a-z0-9._~+/=-]+`),
	regexp.MustCompile(`(?i)instrumentationkey=[^;\s]+`),
	regexp.MustCompile(`sk-[a-zA-Z0-9_-]{20,}`),
	regexp.MustCompile(`\d{8,10}:[a-zA-Z0-9_-]{30,}`),
}

// redactHandler scrubs secrets from attributes before the next handler sees them.
type redactHandler struct {
	next slog.Handler
}

func newRedactHandler(next slog.Handler) slog.Handler {
	return &redactHandler{next: next}
}

func (h *redactHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *redactHandler) Handle(ctx context.Context, record slog.Record) error {
	clean := slog.NewRecord(record.Time, record.Level, redactString(record.Message), record.PC)
	record.Attrs(func(attr slog.Attr) bool {
		clean.AddAttrs(redactAttr(attr))
		return true
	})

	return h.next.Handle(ctx, clean)
}

func (h *redactHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clean := make([]slog.Attr, 0, len(attrs))
	for _, attr := range attrs {
		clean = append(clean, redactAttr(attr))
	}

	return &redactHandler{next: h.next.WithAttrs(clean)}
}

func (h *redactHandler) WithGroup(name string) slog.Handler {
	return &redactHandler{next: h.next.WithGroup(name)}
}

func redactAttr(attr slog.Attr) slog.Attr {
	attr.Value = attr.Value.Resolve()

	if isSensitiveKey(attr.Key) {
		return slog.String(attr.Key, redacted)
	}

	switch attr.Value.Kind() {
	case slog.KindString:
		return slog.String(attr.Key, redactString(attr.Value.String()))
	case slog.KindGroup:
		group := attr.Value.Group()
		clean := make([]any, 0, len(group))
		for _, item := range group {
			clean = append(clean, redactAttr(item))
		}
		return slog.Group(attr.Key, clean...)
	case slog.KindAny:
		// Error text often embeds request headers or provider responses.
		if err, ok := attr.Value.Any().(error); ok && err != nil {
			return slog.String(attr.Key, redactString(err.Error()))
		}
		return attr
	default:
		return attr
	}
}

// isSensitiveKey matches whole key segments, so "bot_token" is sensitive and
// "input_tokens" is not.
func isSensitiveKey(key string) bool {
	normalized := "_" + strings.ToLower(keySeparators.Replace(key)) + "_"
	for _, candidate := range sensitiveKeys {
		if strings.Contains(normalized, "_"+candidate+"_") {
			return true
		}
	}

	return false
}

func redactString(value string) string {
	for _, pattern := range sensitiveValues {
		value = pattern.ReplaceAllString(value, redacted)
	}

	return value
}
