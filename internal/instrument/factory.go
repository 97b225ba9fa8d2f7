// Package instrument adapts a test runner's lifecycle events into test spans
// and holds suite teardown until those spans are delivered.
//
// A runner hands each suite an Environment and feeds its events to the
// Adapter that New selects for the runner. On test_start the adapter replaces
// the test body with one that runs inside the test's span; on teardown it
// finishes anything left open, waits for the exporter and uninstalls itself.
package instrument

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/mod/semver"

	"testtrace/internal/hook"
	"testtrace/internal/params"
	"testtrace/internal/trace"
)

var (
	// ErrUnknownRunner is returned by New for runners with no registered adapter.
	ErrUnknownRunner = errors.New("instrument: unknown runner")
	// ErrUnsupportedVersion is returned by New for runner versions older than
	// the adapter supports.
	ErrUnsupportedVersion = errors.New("instrument: unsupported runner version")
)

// Adapter receives one suite's events.
type Adapter interface {
	// HandleEvent processes a runner event. Only setup and teardown can
	// fail, and only when the adapter cannot install or uninstall itself.
	HandleEvent(ctx context.Context, ev *Event) error
	// WrapTestBody returns fn instrumented to run inside a span for the
	// test called name.
	WrapTestBody(name string, fn any) (TestFunc, error)
}

// ExecutionContext exposes what the runner knows about the running test.
type ExecutionContext interface {
	// CurrentTestName returns the full display name of the running test.
	CurrentTestName() (string, bool)
}

// Runner identifies the test runner that produces the events.
type Runner struct {
	Name    string
	Version string
}

// Environment is what a runner provides for one suite.
type Environment struct {
	Runner    Runner
	RootDir   string
	SuitePath string
	// Each is the runner's parameterized registration entry point. Nil when
	// the runner has none.
	Each *hook.Point[params.RegisterFunc]
	// Context is nil when the runner cannot tell which test is running.
	Context ExecutionContext
}

// Deps are the collaborators every adapter is built with.
type Deps struct {
	Tracer       Tracer
	Contexts     *trace.ContextFactory
	Logger       *slog.Logger
	Meter        metric.Meter
	FlushTimeout time.Duration
	Metadata     map[string]string
}

// Constructor builds an adapter for one suite.
type Constructor func(env Environment, deps Deps) (Adapter, error)

// Option configures New.
type Option func(*Deps)

// WithLogger sets the adapter logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Deps) { d.Logger = l }
}

// WithMeter sets the meter adapter metrics are recorded with.
func WithMeter(m metric.Meter) Option {
	return func(d *Deps) { d.Meter = m }
}

// WithContextFactory sets where synthetic root contexts come from.
func WithContextFactory(f *trace.ContextFactory) Option {
	return func(d *Deps) { d.Contexts = f }
}

// WithFlushTimeout bounds how long teardown waits for the exporter.
func WithFlushTimeout(timeout time.Duration) Option {
	return func(d *Deps) { d.FlushTimeout = timeout }
}

// WithMetadata adds tags, such as CI metadata, to every test span.
func WithMetadata(tags map[string]string) Option {
	return func(d *Deps) { d.Metadata = tags }
}

type registration struct {
	minVersion string
	ctor       Constructor
}

var (
	registryMu sync.RWMutex
	registry   = map[string]registration{}
)

// Register makes an adapter available for runner name at versions from
// minVersion on. An empty minVersion accepts every version.
func Register(name, minVersion string, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = registration{minVersion: canonicalVersion(minVersion), ctor: ctor}
}

// New builds the adapter registered for env.Runner.
func New(env Environment, tracer Tracer, opts ...Option) (Adapter, error) {
	registryMu.RLock()
	reg, ok := registry[env.Runner.Name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRunner, env.Runner.Name)
	}
	if reg.minVersion != "" {
		v := canonicalVersion(env.Runner.Version)
		if !semver.IsValid(v) || semver.Compare(v, reg.minVersion) < 0 {
			return nil, fmt.Errorf("%w: %s %q, need %s", ErrUnsupportedVersion, env.Runner.Name, env.Runner.Version, reg.minVersion)
		}
	}

	deps := Deps{Tracer: tracer, FlushTimeout: 10 * time.Second}
	for _, opt := range opts {
		opt(&deps)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Contexts == nil {
		deps.Contexts = trace.NewContextFactory(nil)
	}
	return reg.ctor(env, deps)
}

func canonicalVersion(v string) string {
	if v == "" {
		return ""
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}
