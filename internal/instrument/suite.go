package instrument

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	oteltrace "go.opentelemetry.io/otel/trace"

	"testtrace/internal/trace"
)

// Tracer starts spans and flushes them. *trace.Provider implements it.
type Tracer interface {
	Start(ctx context.Context, name string, tags trace.Tags, opts ...oteltrace.SpanStartOption) (context.Context, *trace.Span)
	EndChildren(span *trace.Span) int
	Flush(ctx context.Context) error
}

// Suite is the span state of one test file: the spans of tests that are
// currently running, keyed by test name.
type Suite struct {
	name   string
	tracer Tracer

	mu     sync.Mutex
	active map[string]*trace.Span
}

// NewSuite returns an empty suite named name.
func NewSuite(name string, tracer Tracer) *Suite {
	return &Suite{
		name:   name,
		tracer: tracer,
		active: make(map[string]*trace.Span),
	}
}

// SuiteName returns path relative to rootDir with forward slashes. Paths
// outside rootDir are returned unchanged.
func SuiteName(rootDir, path string) string {
	if rootDir == "" {
		return filepath.ToSlash(path)
	}
	rel, err := filepath.Rel(rootDir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

// Name returns the suite identifier written to test.suite.
func (s *Suite) Name() string {
	return s.name
}

// BeginSpan starts a span for testName and records it as the test's active
// span, replacing any earlier entry for the same name.
func (s *Suite) BeginSpan(ctx context.Context, testName, spanName string, tags trace.Tags, opts ...oteltrace.SpanStartOption) (context.Context, *trace.Span) {
	ctx, span := s.tracer.Start(ctx, spanName, tags, opts...)
	s.mu.Lock()
	s.active[testName] = span
	s.mu.Unlock()
	return ctx, span
}

// Instant records a zero-duration span that is never tracked as active.
func (s *Suite) Instant(ctx context.Context, spanName string, tags trace.Tags, opts ...oteltrace.SpanStartOption) *trace.Span {
	now := time.Now()
	_, span := s.tracer.Start(ctx, spanName, tags, append(opts[:len(opts):len(opts)], oteltrace.WithTimestamp(now))...)
	span.FinishAt(now)
	return span
}

// TagAndFinish applies tags and finishes span. A span finished earlier by
// another path is left as it is; the result reports whether this call
// finished it.
func (s *Suite) TagAndFinish(span *trace.Span, tags trace.Tags) bool {
	return s.TagAndFinishAt(span, tags, time.Time{})
}

// TagAndFinishAt is TagAndFinish with an explicit end time.
func (s *Suite) TagAndFinishAt(span *trace.Span, tags trace.Tags, end time.Time) bool {
	span.SetTags(tags)
	return span.FinishAt(end)
}

// Lookup returns the active span of testName.
func (s *Suite) Lookup(testName string) (*trace.Span, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	span, ok := s.active[testName]
	return span, ok
}

// Forget drops testName's entry if it still refers to span.
func (s *Suite) Forget(testName string, span *trace.Span) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active[testName] == span {
		delete(s.active, testName)
	}
}

// Active returns the names of tests with an active span.
func (s *Suite) Active() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.active))
	for name := range s.active {
		names = append(names, name)
	}
	return names
}

// FinishAbandoned finishes and forgets every span still active, such as the
// span of a test whose body never returned. It returns how many spans this
// call finished.
func (s *Suite) FinishAbandoned(end time.Time) int {
	s.mu.Lock()
	spans := s.active
	s.active = make(map[string]*trace.Span)
	s.mu.Unlock()

	n := 0
	for _, span := range spans {
		if span.FinishAt(end) {
			n++
		}
	}
	// Only untracked spans are left open by now.
	for _, span := range spans {
		s.tracer.EndChildren(span)
	}
	return n
}
