package main

import (
	"bytes"
	"context"
	"flag"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"testtrace/internal/config"
	"testtrace/internal/gotestjson"
	"testtrace/internal/trace"
)

func TestParseFlags(t *testing.T) {
	f, err := parseFlags([]string{"-root", "/src", "-quiet", "-log-format", "json"}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, cliFlags{root: "/src", quiet: true, logFormat: "json"}, f)

	_, err = parseFlags([]string{"-log-format", "xml"}, io.Discard)
	assert.Error(t, err)

	_, err = parseFlags([]string{"-h"}, io.Discard)
	assert.ErrorIs(t, err, flag.ErrHelp)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, "json", slog.LevelInfo).Info("hello", "k", "v")
	assert.Contains(t, buf.String(), `"msg":"hello"`)

	buf.Reset()
	newLogger(&buf, "text", slog.LevelWarn).Info("hidden")
	assert.Empty(t, buf.String())
}

func newPipeRecorder(t *testing.T) (*gotestjson.Recorder, *tracetest.InMemoryExporter) {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	p, err := trace.NewProvider(context.Background(), trace.WithSpanExporter(exp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
	return gotestjson.NewRecorder(p), exp
}

func TestPipe(t *testing.T) {
	input := `{"Action":"run","Package":"p","Test":"TestA"}
{"Action":"pass","Package":"p","Test":"TestA"}
{"Action":"pass","Package":"p"}
`
	rec, exp := newPipeRecorder(t)
	var out bytes.Buffer

	err := pipe(context.Background(), strings.NewReader(input), &out, rec, slog.Default())

	require.NoError(t, err)
	assert.Equal(t, input, out.String())
	assert.Len(t, exp.GetSpans(), 1, "pipe must flush before returning")
}

func TestPipe_Failure(t *testing.T) {
	input := `{"Action":"run","Package":"p","Test":"TestA"}
{"Action":"fail","Package":"p","Test":"TestA"}
{"Action":"fail","Package":"p"}
`
	rec, exp := newPipeRecorder(t)

	err := pipe(context.Background(), strings.NewReader(input), nil, rec, slog.Default())

	assert.ErrorIs(t, err, errTestsFailed)
	assert.Len(t, exp.GetSpans(), 1)
}

func TestApplyFlags(t *testing.T) {
	cfg := config.Config{RootDir: "/from/env", ListenAddr: ":9876"}

	assert.Equal(t, cfg, applyFlags(cfg, cliFlags{}))

	got := applyFlags(cfg, cliFlags{root: "/from/flag", listen: "127.0.0.1:0"})
	assert.Equal(t, "/from/flag", got.RootDir)
	assert.Equal(t, "127.0.0.1:0", got.ListenAddr)
}

func TestNewRecorder_UsesRootDirAndMeter(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module example.com/calc\n"), 0o644))

	exp := tracetest.NewInMemoryExporter()
	reader := sdkmetric.NewManualReader()
	p, err := trace.NewProvider(context.Background(),
		trace.WithSpanExporter(exp),
		trace.WithMetricReader(reader),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	cfg := applyFlags(config.Config{RootDir: "/elsewhere", FlushTimeout: time.Second}, cliFlags{root: dir})
	rec := newRecorder(cfg, p, map[string]string{"ci.provider.name": "github"}, slog.Default())

	input := `{"Action":"run","Package":"example.com/calc/add","Test":"TestAdd"}
{"Action":"pass","Package":"example.com/calc/add","Test":"TestAdd"}
{"Action":"pass","Package":"example.com/calc/add"}
`
	require.NoError(t, pipe(context.Background(), strings.NewReader(input), nil, rec, slog.Default()))

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	tags := map[string]string{}
	for _, kv := range spans[0].Attributes {
		tags[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "add", tags["test.suite"])
	assert.Equal(t, "github", tags["ci.provider.name"])

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	var names []string
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			names = append(names, m.Name)
		}
	}
	assert.Contains(t, names, "testtrace.tests")
	assert.Contains(t, names, "testtrace.flush.duration")
}
