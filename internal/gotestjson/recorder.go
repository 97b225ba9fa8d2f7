package gotestjson

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	oteltrace "go.opentelemetry.io/otel/trace"

	"testtrace/internal/instrument"
	"testtrace/internal/jsonutil"
	"testtrace/internal/trace"
)

// Framework is the test.framework tag of recorded spans.
const Framework = "gotest"

// maxLine bounds a single line of test2json input.
const maxLine = 4 << 20

// Recorder turns test2json events into spans.
//
// It is not an instrument.Adapter: go test runs the test bodies in another
// process, so there is nothing to wrap. It shares the adapters' suites,
// tags, outcome tagging, metrics and flush barrier instead.
type Recorder struct {
	tracer   instrument.Tracer
	contexts *trace.ContextFactory
	barrier  *instrument.FlushBarrier
	metrics  *instrument.Metrics
	metadata map[string]string
	module   string
	logger   *slog.Logger

	// flushes tracks the background flushes started by package teardown.
	flushes sync.WaitGroup

	mu       sync.Mutex
	packages map[string]*pkgState
	failed   bool
	tests    int
}

// pkgState is the suite of one package and the per-test state the events
// refer back to.
type pkgState struct {
	suite    *instrument.Suite
	contexts map[string]context.Context
	output   map[string]*strings.Builder
}

// Option configures a Recorder.
type Option func(*options)

type options struct {
	logger       *slog.Logger
	contexts     *trace.ContextFactory
	metadata     map[string]string
	flushTimeout time.Duration
	meter        metric.Meter
	rootDir      string
}

// WithLogger sets the recorder logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithContextFactory sets where each top level test's trace comes from.
func WithContextFactory(f *trace.ContextFactory) Option {
	return func(o *options) { o.contexts = f }
}

// WithMetadata adds tags to every span.
func WithMetadata(tags map[string]string) Option {
	return func(o *options) { o.metadata = tags }
}

// WithMeter records test counts, late timeouts and flush latency on m.
func WithMeter(m metric.Meter) Option {
	return func(o *options) { o.meter = m }
}

// WithRootDir names each package suite relative to the module whose go.mod
// is in dir. Without a readable go.mod suites keep their import path.
func WithRootDir(dir string) Option {
	return func(o *options) { o.rootDir = dir }
}

// WithFlushTimeout bounds Flush.
func WithFlushTimeout(d time.Duration) Option {
	return func(o *options) { o.flushTimeout = d }
}

// NewRecorder returns a Recorder that starts spans with tracer.
func NewRecorder(tracer instrument.Tracer, opts ...Option) *Recorder {
	o := options{flushTimeout: 10 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.contexts == nil {
		o.contexts = trace.NewContextFactory(nil)
	}
	var module string
	if o.rootDir != "" {
		var err error
		if module, err = ModulePath(o.rootDir); err != nil {
			o.logger.Debug("gotestjson: suites keep their import path", "root", o.rootDir, "error", err)
		}
	}
	m := instrument.NewMetrics(o.meter)
	return &Recorder{
		tracer:   tracer,
		contexts: o.contexts,
		barrier:  instrument.NewFlushBarrier(tracer, o.flushTimeout, o.logger, m),
		metrics:  m,
		metadata: o.metadata,
		module:   module,
		logger:   o.logger,
		packages: make(map[string]*pkgState),
	}
}

// Decode records every event read from r until EOF. Each line is copied to
// tee first when tee is non-nil; lines that are not test2json events, such
// as build output, are passed through and otherwise ignored.
func (r *Recorder) Decode(ctx context.Context, in io.Reader, tee io.Writer) error {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)
	for sc.Scan() {
		line := sc.Bytes()
		if tee != nil {
			if _, err := fmt.Fprintf(tee, "%s\n", line); err != nil {
				return fmt.Errorf("gotestjson: copy input: %w", err)
			}
		}
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var ev Event
		if err := jsonutil.UnmarshalWithContext(line, &ev, "decode test2json event"); err != nil {
			r.logger.Debug("gotestjson: skipping line", "error", err)
			continue
		}
		r.Record(ctx, ev)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("gotestjson: read events: %w", err)
	}
	return nil
}

// Record applies one event.
func (r *Recorder) Record(ctx context.Context, ev Event) {
	if ev.Package == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	pkg := r.pkg(ev.Package)
	switch {
	case ev.Action == ActionRun && ev.Test != "":
		r.run(ctx, pkg, ev)
	case ev.Action == ActionOutput:
		r.output(ctx, pkg, ev)
	case ev.Action.terminal() && ev.Test != "":
		r.finish(ctx, pkg, ev)
	case ev.Action.terminal():
		r.teardown(ev)
	}
}

func (r *Recorder) pkg(name string) *pkgState {
	pkg, ok := r.packages[name]
	if !ok {
		pkg = &pkgState{
			suite:    instrument.NewSuite(suiteName(r.module, name), r.tracer),
			contexts: make(map[string]context.Context),
			output:   make(map[string]*strings.Builder),
		}
		r.packages[name] = pkg
	}
	return pkg
}

func (r *Recorder) run(ctx context.Context, pkg *pkgState, ev Event) {
	parent, ok := pkg.contexts[parentTest(ev.Test)]
	if !ok {
		var err error
		parent, err = r.contexts.New(ctx)
		if err != nil {
			r.logger.Warn("gotestjson: no trace context", "test", ev.Test, "error", err)
			return
		}
	}
	tags := instrument.CommonTags(instrument.TestIdentity{
		Suite:     pkg.suite.Name(),
		Framework: Framework,
		Name:      ev.Test,
	}, r.metadata)
	spanCtx, _ := pkg.suite.BeginSpan(parent, ev.Test, Framework+".test", tags, oteltrace.WithTimestamp(ev.Time))
	pkg.contexts[ev.Test] = spanCtx
	pkg.output[ev.Test] = &strings.Builder{}
}

func (r *Recorder) output(ctx context.Context, pkg *pkgState, ev Event) {
	if f, ok := classify(ev.Output); ok {
		r.fail(ctx, pkg, f)
		return
	}
	if b, ok := pkg.output[ev.Test]; ok && !framing(ev.Output) {
		b.WriteString(ev.Output)
	}
}

// classify returns the failure an output line reports, if any.
func classify(output string) (instrument.Failure, bool) {
	if isTimeout(output) {
		return instrument.Failure{
			Kind:    instrument.FailureTimeout,
			Message: strings.TrimSpace(output),
		}, true
	}
	return instrument.Failure{}, false
}

// fail applies a package-wide failure to every running test of the package;
// the testing package does not say which test was stuck.
func (r *Recorder) fail(ctx context.Context, pkg *pkgState, f instrument.Failure) {
	r.failed = true
	tagged := 0
	for _, name := range pkg.suite.Active() {
		if span, ok := pkg.suite.Lookup(name); ok && instrument.TagTimeout(span, f) {
			tagged++
		}
	}
	if tagged == 0 {
		r.logger.Debug("gotestjson: timeout with no running test", "message", f.Message)
		r.metrics.LateTimeout(ctx)
	}
}

func (r *Recorder) finish(ctx context.Context, pkg *pkgState, ev Event) {
	span, ok := pkg.suite.Lookup(ev.Test)
	if !ok {
		r.logger.Debug("gotestjson: result for unknown test", "package", ev.Package, "test", ev.Test)
		return
	}
	tags := trace.Tags{}
	switch ev.Action {
	case ActionPass:
		// A timeout tagged earlier keeps its fail status.
		span.SetTagIfAbsent(instrument.TagTestStatus, instrument.StatusPass)
	case ActionSkip:
		tags[instrument.TagTestStatus] = instrument.StatusSkip
	case ActionFail:
		r.failed = true
		msg := strings.TrimSpace(pkg.output[ev.Test].String())
		instrument.TagFailure(span, instrument.GenericErrorType, msg, "")
	}
	if pkg.suite.TagAndFinishAt(span, tags, ev.Time) {
		status, _ := span.Tag(instrument.TagTestStatus)
		r.metrics.TestFinished(ctx, status)
	}
	if parentTest(ev.Test) == "" {
		// Subtests share their parent's trace; only a top level test owns it.
		r.tracer.EndChildren(span)
	}
	pkg.suite.Forget(ev.Test, span)
	delete(pkg.contexts, ev.Test)
	delete(pkg.output, ev.Test)
	r.tests++
}

func (r *Recorder) teardown(ev Event) {
	pkg, ok := r.packages[ev.Package]
	if !ok {
		return
	}
	if ev.Action == ActionFail {
		r.failed = true
	}
	if n := pkg.suite.FinishAbandoned(ev.Time); n > 0 {
		r.logger.Debug("gotestjson: finished abandoned spans", "package", ev.Package, "count", n)
	}
	delete(r.packages, ev.Package)

	// Hand the package's spans to the exporter without holding up the
	// stream; a long-lived server otherwise sits on them until the batch
	// timeout.
	r.flushes.Add(1)
	go func() {
		defer r.flushes.Done()
		_ = r.barrier.Wait(context.Background())
	}()
}

// Failed reports whether any recorded test or package failed.
func (r *Recorder) Failed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failed
}

// Tests returns how many test results have been recorded.
func (r *Recorder) Tests() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tests
}

// Flush waits until every finished span has been exported.
func (r *Recorder) Flush(ctx context.Context) error {
	return r.barrier.Wait(ctx)
}

// Close tears down every package still open, as happens when the stream is
// cut short, then flushes.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	now := time.Now()
	var open []string
	for name := range r.packages {
		open = append(open, name)
	}
	for _, name := range open {
		r.teardown(Event{Time: now, Package: name})
	}
	r.mu.Unlock()

	r.flushes.Wait()
	if err := r.Flush(ctx); err != nil {
		return fmt.Errorf("gotestjson: close: %w", err)
	}
	return nil
}

// framing reports whether line is one of the testing package's own status
// lines rather than test output.
func framing(line string) bool {
	s := strings.TrimSpace(line)
	for _, p := range []string{"=== RUN", "=== PAUSE", "=== CONT", "--- PASS", "--- FAIL", "--- SKIP"} {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
