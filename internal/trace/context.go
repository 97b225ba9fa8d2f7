package trace

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"

	"go.opentelemetry.io/otel/propagation"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Carrier keys understood by SyntheticPropagator.
const (
	HeaderTraceID  = "x-trace-id"
	HeaderParentID = "x-parent-id"
	HeaderSampled  = "x-sampling-priority"
)

// RootParentID is the parent ID of a context that has no real parent.
const RootParentID = "0000000000000000"

// ContextFactory fabricates a synthetic root trace context for every test
// event. Each context gets a fresh 64-bit trace ID, no parent and a keep
// sampling decision.
type ContextFactory struct {
	random     io.Reader
	propagator propagation.TextMapPropagator
}

// NewContextFactory returns a factory drawing trace IDs from random.
// A nil random uses crypto/rand.
func NewContextFactory(random io.Reader) *ContextFactory {
	if random == nil {
		random = rand.Reader
	}
	return &ContextFactory{
		random:     random,
		propagator: SyntheticPropagator{},
	}
}

// Carrier returns the synthetic carrier for a new root context.
func (f *ContextFactory) Carrier() (propagation.MapCarrier, error) {
	var b [8]byte
	if _, err := io.ReadFull(f.random, b[:]); err != nil {
		return nil, fmt.Errorf("trace: read trace id: %w", err)
	}
	id := binary.BigEndian.Uint64(b[:])
	if id == 0 {
		// An all-zero trace ID is invalid and would make the SDK pick its own.
		id = 1
	}
	return propagation.MapCarrier{
		HeaderTraceID:  strconv.FormatUint(id, 10),
		HeaderParentID: RootParentID,
		HeaderSampled:  "1",
	}, nil
}

// New returns ctx carrying a fresh synthetic root span context. Spans started
// from the returned context join the synthetic trace as roots.
func (f *ContextFactory) New(ctx context.Context) (context.Context, error) {
	carrier, err := f.Carrier()
	if err != nil {
		return ctx, err
	}
	return f.propagator.Extract(ctx, carrier), nil
}

// SyntheticPropagator reads and writes the x-trace-id / x-parent-id /
// x-sampling-priority carrier format. Trace IDs are 64-bit decimal values
// stored in the low half of the 128-bit OTel trace ID.
type SyntheticPropagator struct{}

var _ propagation.TextMapPropagator = SyntheticPropagator{}

// Inject writes the span context found in ctx into carrier.
func (SyntheticPropagator) Inject(ctx context.Context, carrier propagation.TextMapCarrier) {
	sc := oteltrace.SpanContextFromContext(ctx)
	if !sc.TraceID().IsValid() {
		return
	}
	tid := sc.TraceID()
	sid := sc.SpanID()
	carrier.Set(HeaderTraceID, strconv.FormatUint(binary.BigEndian.Uint64(tid[8:]), 10))
	carrier.Set(HeaderParentID, hex.EncodeToString(sid[:]))
	if sc.IsSampled() {
		carrier.Set(HeaderSampled, "1")
	} else {
		carrier.Set(HeaderSampled, "0")
	}
}

// Extract returns ctx with the remote span context described by carrier.
// Malformed carriers leave ctx untouched.
func (SyntheticPropagator) Extract(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	id, err := strconv.ParseUint(carrier.Get(HeaderTraceID), 10, 64)
	if err != nil || id == 0 {
		return ctx
	}
	var tid oteltrace.TraceID
	binary.BigEndian.PutUint64(tid[8:], id)

	var sid oteltrace.SpanID
	if parent := carrier.Get(HeaderParentID); parent != "" {
		b, err := hex.DecodeString(parent)
		if err != nil || len(b) != len(sid) {
			return ctx
		}
		copy(sid[:], b)
	}

	var flags oteltrace.TraceFlags
	if carrier.Get(HeaderSampled) == "1" {
		flags = oteltrace.FlagsSampled
	}

	sc := oteltrace.NewSpanContext(oteltrace.SpanContextConfig{
		TraceID:    tid,
		SpanID:     sid,
		TraceFlags: flags,
	})
	return oteltrace.ContextWithRemoteSpanContext(ctx, sc)
}

// Fields returns the carrier keys used by the propagator.
func (SyntheticPropagator) Fields() []string {
	return []string{HeaderTraceID, HeaderParentID, HeaderSampled}
}

// LowTraceID returns the 64-bit portion of a trace ID written by the factory.
func LowTraceID(id oteltrace.TraceID) uint64 {
	return binary.BigEndian.Uint64(id[8:])
}
