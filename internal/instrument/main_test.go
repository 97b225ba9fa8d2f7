package instrument

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/goleak"

	"testtrace/internal/hook"
	"testtrace/internal/params"
	"testtrace/internal/trace"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// currentTest is a runner execution context whose running test is set by
// the test driving the adapter.
type currentTest struct {
	mu   sync.Mutex
	name string
}

func (c *currentTest) CurrentTestName() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name, c.name != ""
}

func (c *currentTest) set(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.name = name
}

type fixture struct {
	t        *testing.T
	provider *trace.Provider
	exporter *tracetest.InMemoryExporter
	reader   *sdkmetric.ManualReader
	each     *hook.Point[params.RegisterFunc]
	current  *currentTest
	adapter  *harness

	registered map[string]any
}

func newFixture(t *testing.T, withContext bool, opts ...Option) *fixture {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	reader := sdkmetric.NewManualReader()
	p, err := trace.NewProvider(context.Background(),
		trace.WithSpanExporter(exp),
		trace.WithBatchTimeout(time.Hour),
		trace.WithMetricReader(reader),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	f := &fixture{
		t:          t,
		provider:   p,
		exporter:   exp,
		reader:     reader,
		current:    &currentTest{},
		registered: make(map[string]any),
	}
	f.each = hook.NewPoint[params.RegisterFunc](func(name string, args []any, fn any) {
		f.registered[name] = fn
	})

	env := Environment{
		Runner:    Runner{Name: HarnessRunner, Version: "1.2.0"},
		RootDir:   "/repo",
		SuitePath: "/repo/pkg/math_test.go",
		Each:      f.each,
	}
	if withContext {
		env.Context = f.current
	}
	opts = append([]Option{WithMeter(p.Meter("test")), WithFlushTimeout(5 * time.Second)}, opts...)
	a, err := New(env, p, opts...)
	require.NoError(t, err)
	f.adapter = a.(*harness)
	return f
}

func (f *fixture) handle(name EventName, test *Test, failure *Failure) error {
	return f.adapter.HandleEvent(context.Background(), &Event{Name: name, Test: test, Failure: failure})
}

// start sends test_start for name and returns the instrumented body.
func (f *fixture) start(name string, fn any) TestFunc {
	f.t.Helper()
	f.current.set(name)
	test := &Test{Name: name, Fn: fn}
	require.NoError(f.t, f.handle(EventTestStart, test, nil))
	wrapped, ok := test.Fn.(TestFunc)
	require.True(f.t, ok, "test_start should replace the body")
	return wrapped
}

func (f *fixture) flush() {
	f.t.Helper()
	require.NoError(f.t, f.provider.Flush(context.Background()))
}

// span returns the only exported span whose test.name is name.
func (f *fixture) span(name string) tracetest.SpanStub {
	f.t.Helper()
	f.flush()
	var found []tracetest.SpanStub
	for _, s := range f.exporter.GetSpans() {
		if tagsOf(s)[TagTestName] == name {
			found = append(found, s)
		}
	}
	require.Len(f.t, found, 1, "spans for %q", name)
	return found[0]
}

func tagsOf(s tracetest.SpanStub) map[string]string {
	out := make(map[string]string, len(s.Attributes))
	for _, kv := range s.Attributes {
		out[string(kv.Key)] = kv.Value.Emit()
	}
	return out
}

// testCounts returns the testtrace.tests counter by test.status.
func (f *fixture) testCounts() map[string]int64 {
	f.t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(f.t, f.reader.Collect(context.Background(), &rm))
	out := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "testtrace.tests" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(f.t, ok)
			for _, dp := range sum.DataPoints {
				status, _ := dp.Attributes.Value(attribute.Key(TagTestStatus))
				out[status.AsString()] = dp.Value
			}
		}
	}
	return out
}
