package trace

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Tags is a set of span tags keyed by tag name.
type Tags map[string]any

// Span is a tagged unit of work that is finished exactly once. It mirrors
// every tag it writes so later readers can inspect what was already set.
type Span struct {
	mu       sync.Mutex
	span     oteltrace.Span
	tags     map[string]string
	finished bool
}

func newSpan(s oteltrace.Span) *Span {
	return &Span{
		span: s,
		tags: make(map[string]string),
	}
}

// SetTag sets a single tag. It reports false, and changes nothing, when the
// span has already finished.
func (s *Span) SetTag(key string, value any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return false
	}
	s.setLocked(key, value)
	return true
}

// SetTags sets every tag in tags. It reports false when the span has
// already finished.
func (s *Span) SetTags(tags Tags) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return false
	}
	for k, v := range tags {
		s.setLocked(k, v)
	}
	return true
}

// SetTagIfAbsent sets key only if no value was set for it before.
func (s *Span) SetTagIfAbsent(key string, value any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return false
	}
	if _, ok := s.tags[key]; ok {
		return false
	}
	s.setLocked(key, value)
	return true
}

// SetError marks the underlying span status as an error.
func (s *Span) SetError(description string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return false
	}
	s.span.SetStatus(codes.Error, description)
	return true
}

func (s *Span) setLocked(key string, value any) {
	kv, str := attr(key, value)
	s.tags[key] = str
	s.span.SetAttributes(kv)
}

// Tag returns the string form of a tag previously set on the span.
func (s *Span) Tag(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.tags[key]
	return v, ok
}

// Tags returns a copy of every tag set on the span.
func (s *Span) Tags() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.tags))
	for k, v := range s.tags {
		out[k] = v
	}
	return out
}

// Finish ends the span now. Only the first call has any effect; it reports
// whether this call finished the span.
func (s *Span) Finish() bool {
	return s.FinishAt(time.Time{})
}

// FinishAt ends the span at t, or now when t is zero.
func (s *Span) FinishAt(t time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return false
	}
	s.finished = true
	if t.IsZero() {
		s.span.End()
	} else {
		s.span.End(oteltrace.WithTimestamp(t))
	}
	return true
}

// Finished reports whether the span has been finished.
func (s *Span) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// SpanContext returns the identifiers of the span.
func (s *Span) SpanContext() oteltrace.SpanContext {
	return s.span.SpanContext()
}

// ContextWith returns ctx with the span set as the active span.
func (s *Span) ContextWith(ctx context.Context) context.Context {
	return oteltrace.ContextWithSpan(ctx, s.span)
}

func attr(key string, v any) (attribute.KeyValue, string) {
	switch val := v.(type) {
	case string:
		return attribute.String(key, val), val
	case int:
		return attribute.Int(key, val), strconv.Itoa(val)
	case int64:
		return attribute.Int64(key, val), strconv.FormatInt(val, 10)
	case float64:
		return attribute.Float64(key, val), strconv.FormatFloat(val, 'g', -1, 64)
	case bool:
		return attribute.Bool(key, val), strconv.FormatBool(val)
	case fmt.Stringer:
		s := val.String()
		return attribute.String(key, s), s
	default:
		s := fmt.Sprint(val)
		return attribute.String(key, s), s
	}
}
