package instrument

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	oteltrace "go.opentelemetry.io/otel/trace"

	"testtrace/internal/params"
	"testtrace/internal/trace"
)

// HarnessRunner is the runner name of in-process harnesses that hand test
// bodies to the adapter before running them.
const HarnessRunner = "harness"

func init() {
	Register(HarnessRunner, "v1.0.0", newHarness)
}

// harness is the Adapter for in-process runners.
type harness struct {
	env      Environment
	suite    *Suite
	tracer   Tracer
	params   *params.Registry
	contexts *trace.ContextFactory
	barrier  *FlushBarrier
	metadata map[string]string
	logger   *slog.Logger
	metrics  *Metrics

	mu        sync.Mutex
	states    map[string]State
	installed bool
}

func newHarness(env Environment, deps Deps) (Adapter, error) {
	if deps.Tracer == nil {
		return nil, fmt.Errorf("instrument: %s adapter needs a tracer", env.Runner.Name)
	}
	suiteName := SuiteName(env.RootDir, env.SuitePath)
	m := NewMetrics(deps.Meter)
	return &harness{
		env:      env,
		suite:    NewSuite(suiteName, deps.Tracer),
		tracer:   deps.Tracer,
		params:   params.NewRegistry(),
		contexts: deps.Contexts,
		barrier:  NewFlushBarrier(deps.Tracer, deps.FlushTimeout, deps.Logger, m),
		metadata: deps.Metadata,
		logger:   deps.Logger.With("suite", suiteName),
		metrics:  m,
		states:   make(map[string]State),
	}, nil
}

func (a *harness) HandleEvent(ctx context.Context, ev *Event) error {
	switch ev.Name {
	case EventSetup:
		return a.setup()
	case EventTestStart:
		a.testStart(ev)
	case EventTestSkip:
		a.testSkip(ctx, ev, StateSkipped)
	case EventTestTodo:
		a.testSkip(ctx, ev, StateTodo)
	case EventTestFnFailure:
		a.testFnFailure(ctx, ev)
	case EventTeardown:
		return a.teardown(ctx)
	default:
		a.logger.Debug("instrument: ignoring event", "event", ev.Name)
	}
	return nil
}

// setup wraps the parameterized registration entry point so every case's
// arguments are recorded.
func (a *harness) setup() error {
	if a.env.Each == nil {
		return nil
	}
	err := a.env.Each.Wrap(func(next params.RegisterFunc) params.RegisterFunc {
		return params.Capture(a.params, next)
	})
	if err != nil {
		return fmt.Errorf("instrument: install parameter capture: %w", err)
	}
	a.mu.Lock()
	a.installed = true
	a.mu.Unlock()
	return nil
}

func (a *harness) testStart(ev *Event) {
	if ev.Test == nil {
		return
	}
	wrapped, err := a.WrapTestBody(ev.Test.Name, ev.Test.Fn)
	if err != nil {
		// The runner still runs the original body; only the span is lost.
		a.logger.Warn("instrument: test left uninstrumented", "test", ev.Test.Name, "error", err)
		return
	}
	ev.Test.Fn = wrapped
}

func (a *harness) testSkip(ctx context.Context, ev *Event, state State) {
	if ev.Test == nil {
		return
	}
	parent, err := a.contexts.New(ctx)
	if err != nil {
		a.logger.Warn("instrument: no trace context for skipped test", "test", ev.Test.Name, "error", err)
		return
	}
	name, enrich := a.resolveName(ev.Test.Name)
	tags := a.commonTags(name, ev.Test.Name, enrich)
	tags[TagTestStatus] = StatusSkip

	a.suite.Instant(parent, a.spanName(), tags)
	a.setState(name, state)
	a.metrics.TestFinished(ctx, StatusSkip)
}

// testFnFailure layers a timeout onto the running test's span. The span may
// already be gone when the failure arrives; that is expected and ignored.
func (a *harness) testFnFailure(ctx context.Context, ev *Event) {
	if ev.Failure == nil || ev.Failure.Kind != FailureTimeout {
		return
	}
	name, ok := a.currentTestName(ev)
	if !ok {
		return
	}
	span, ok := a.suite.Lookup(name)
	if !ok {
		a.logger.Debug("instrument: timeout for finished test", "test", name)
		a.metrics.LateTimeout(ctx)
		return
	}
	if !TagTimeout(span, *ev.Failure) {
		a.logger.Debug("instrument: timeout for finished span", "test", name)
		a.metrics.LateTimeout(ctx)
		return
	}
	a.setState(name, StateTimedOut)
}

// teardown finishes abandoned spans, waits for delivery, then resets the
// parameter registry and restores the registration entry point.
func (a *harness) teardown(ctx context.Context) error {
	if n := a.suite.FinishAbandoned(time.Time{}); n > 0 {
		a.logger.Debug("instrument: finished abandoned spans", "count", n)
	}

	// A failed flush is logged by the barrier; teardown continues regardless.
	_ = a.barrier.Wait(ctx)

	a.params.Reset()

	a.mu.Lock()
	installed := a.installed
	a.installed = false
	a.mu.Unlock()
	if installed {
		if err := a.env.Each.Unwrap(); err != nil {
			return fmt.Errorf("instrument: restore registration entry point: %w", err)
		}
	}
	return nil
}

func (a *harness) WrapTestBody(name string, fn any) (TestFunc, error) {
	body, err := Normalize(fn)
	if err != nil {
		return nil, err
	}
	parentCtx, err := a.contexts.New(context.Background())
	if err != nil {
		return nil, err
	}
	parent := oteltrace.SpanContextFromContext(parentCtx)
	display, enrich := a.resolveName(name)
	tags := a.commonTags(display, name, enrich)
	a.setState(display, StatePending)

	return func(ctx context.Context) error {
		return a.run(oteltrace.ContextWithRemoteSpanContext(ctx, parent), display, tags, body)
	}, nil
}

// run executes body inside the test span. The body's error or panic is
// passed through unchanged.
func (a *harness) run(ctx context.Context, name string, tags trace.Tags, body TestFunc) (err error) {
	ctx, span := a.suite.BeginSpan(ctx, name, a.spanName(), maps.Clone(tags))
	a.setState(name, StateRunning)

	returned := false
	defer func() {
		r := recover()
		a.safely(name, func() {
			switch {
			case r != nil:
				a.recordPanic(span, name, r)
			case err != nil:
				a.recordFailure(span, name, err)
			case returned:
				a.recordPass(span, name)
			default:
				// runtime.Goexit: the runner decides the outcome.
				a.logger.Debug("instrument: test body exited early", "test", name)
			}
			if n := a.tracer.EndChildren(span); n > 0 {
				a.logger.Debug("instrument: finished open child spans", "test", name, "count", n)
			}
			if span.Finish() {
				status, _ := span.Tag(TagTestStatus)
				a.metrics.TestFinished(ctx, status)
			}
		})
		a.suite.Forget(name, span)
		if r != nil {
			panic(r)
		}
	}()

	err = body(ctx)
	returned = true
	return err
}

func (a *harness) recordPass(span *trace.Span, name string) {
	// A timeout tagged while the body was still running wins.
	if span.SetTagIfAbsent(TagTestStatus, StatusPass) {
		a.setState(name, StatePassed)
	}
}

func (a *harness) recordFailure(span *trace.Span, name string, err error) {
	if TagFailure(span, ErrorType(err), err.Error(), fmt.Sprintf("%+v", err)) {
		a.setState(name, StateFailed)
	}
}

func (a *harness) recordPanic(span *trace.Span, name string, r any) {
	p := newPanicError(r)
	if TagFailure(span, p.typeName(), p.Error(), p.stack) {
		a.setState(name, StateFailed)
	}
}

// safely runs fn and logs, instead of propagating, any panic it raises so
// instrumentation faults never change a test's outcome.
func (a *harness) safely(test string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("instrument: span bookkeeping failed", "test", test, "panic", r)
		}
	}()
	fn()
}

// resolveName returns the running test's display name and whether the
// runner could supply it. Without it the event's own name is used and
// parameters are not attached.
func (a *harness) resolveName(eventName string) (string, bool) {
	if a.env.Context == nil {
		return eventName, false
	}
	if name, ok := a.env.Context.CurrentTestName(); ok && name != "" {
		return name, true
	}
	return eventName, false
}

func (a *harness) currentTestName(ev *Event) (string, bool) {
	if a.env.Context != nil {
		if name, ok := a.env.Context.CurrentTestName(); ok && name != "" {
			return name, true
		}
	}
	if ev.Test != nil && ev.Test.Name != "" {
		return ev.Test.Name, true
	}
	return "", false
}

// commonTags returns the tags shared by every span of a test. Parameters are
// looked up by the literal name the case was registered under.
func (a *harness) commonTags(display, registered string, enrich bool) trace.Tags {
	tags := CommonTags(TestIdentity{
		Suite:     a.suite.Name(),
		Framework: a.env.Runner.Name,
		Name:      display,
	}, a.metadata)
	if enrich {
		if p, ok := a.params.Lookup(registered); ok {
			tags[TagTestParameters] = p
		}
	}
	return tags
}

func (a *harness) spanName() string {
	return a.env.Runner.Name + ".test"
}

func (a *harness) setState(name string, s State) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.states[name] = s
}

// TestState returns the lifecycle state recorded for a test.
func (a *harness) TestState(name string) (State, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.states[name]
	return s, ok
}
