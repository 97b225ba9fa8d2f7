package trace

import (
	"context"
	"sync"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// openSpans is a span processor that remembers every span that has started
// but not ended yet, grouped by trace.
type openSpans struct {
	mu      sync.Mutex
	byTrace map[oteltrace.TraceID]map[oteltrace.SpanID]sdktrace.ReadWriteSpan
}

var _ sdktrace.SpanProcessor = (*openSpans)(nil)

func newOpenSpans() *openSpans {
	return &openSpans{
		byTrace: make(map[oteltrace.TraceID]map[oteltrace.SpanID]sdktrace.ReadWriteSpan),
	}
}

func (o *openSpans) OnStart(_ context.Context, s sdktrace.ReadWriteSpan) {
	sc := s.SpanContext()
	o.mu.Lock()
	defer o.mu.Unlock()
	spans, ok := o.byTrace[sc.TraceID()]
	if !ok {
		spans = make(map[oteltrace.SpanID]sdktrace.ReadWriteSpan)
		o.byTrace[sc.TraceID()] = spans
	}
	spans[sc.SpanID()] = s
}

func (o *openSpans) OnEnd(s sdktrace.ReadOnlySpan) {
	sc := s.SpanContext()
	o.mu.Lock()
	defer o.mu.Unlock()
	spans, ok := o.byTrace[sc.TraceID()]
	if !ok {
		return
	}
	delete(spans, sc.SpanID())
	if len(spans) == 0 {
		delete(o.byTrace, sc.TraceID())
	}
}

func (o *openSpans) Shutdown(context.Context) error   { return nil }
func (o *openSpans) ForceFlush(context.Context) error { return nil }

// endTrace ends every open span of traceID except the one with ID keep and
// returns how many were ended.
func (o *openSpans) endTrace(traceID oteltrace.TraceID, keep oteltrace.SpanID) int {
	o.mu.Lock()
	var pending []sdktrace.ReadWriteSpan
	for id, s := range o.byTrace[traceID] {
		if id != keep {
			pending = append(pending, s)
		}
	}
	o.mu.Unlock()

	// End re-enters OnEnd, so the lock must not be held here.
	for _, s := range pending {
		s.End()
	}
	return len(pending)
}

// count returns the number of open spans in traceID.
func (o *openSpans) count(traceID oteltrace.TraceID) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.byTrace[traceID])
}
