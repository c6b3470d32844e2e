package tshark

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/timvw/pcap-patrol/internal/config"
	"github.com/timvw/pcap-patrol/internal/proc"
	"github.com/timvw/pcap-patrol/internal/qerr"
)

// fakeProc is the scripted outcome of one process.
type fakeProc struct {
	stdout string
	stderr string
	exit   int
	err    error
}

// fakeRunner answers every Run/Start through handle.
type fakeRunner struct {
	mu     sync.Mutex
	handle func(args []string) fakeProc
	calls  [][]string
	kills  int
}

func (f *fakeRunner) record(args []string) fakeProc {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string(nil), args...))
	f.mu.Unlock()
	return f.handle(args)
}

func (f *fakeRunner) Run(_ context.Context, args []string, _ time.Duration) (*proc.Result, error) {
	p := f.record(args)
	if p.err != nil {
		return nil, p.err
	}
	return &proc.Result{ExitCode: p.exit, Stdout: p.stdout, Stderr: p.stderr}, nil
}

func (f *fakeRunner) Start(_ context.Context, args []string) (*proc.Stream, error) {
	p := f.record(args)
	if p.err != nil {
		return nil, p.err
	}
	kill := func() error {
		f.mu.Lock()
		f.kills++
		f.mu.Unlock()
		return nil
	}
	return proc.NewStream(strings.NewReader(p.stdout), strings.NewReader(p.stderr), kill), nil
}

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.DefaultTimeoutDuration = 30 * time.Second
	cfg.ExportTimeoutDuration = 300 * time.Second
	return cfg
}

func newTestEngine(t *testing.T, handle func(args []string) fakeProc, opts ...Option) (*Engine, *fakeRunner) {
	t.Helper()
	return newTestEngineWithConfig(t, testConfig(), handle, opts...)
}

func newTestEngineWithConfig(t *testing.T, cfg *config.Config, handle func(args []string) fakeProc, opts ...Option) (*Engine, *fakeRunner) {
	t.Helper()
	r := &fakeRunner{handle: handle}
	return NewEngine(config.NewStore(cfg, ""), r, opts...), r
}

// argValue returns the value following flag, or "".
func argValue(args []string, flag string) string {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

func hasArg(args []string, v string) bool {
	for _, a := range args {
		if a == v {
			return true
		}
	}
	return false
}

func requireCode(t *testing.T, err error, code qerr.Code) *qerr.Error {
	t.Helper()
	require.Error(t, err)
	var qe *qerr.Error
	require.True(t, errors.As(err, &qe), "expected *qerr.Error, got %T: %v", err, err)
	require.Equal(t, code, qe.Code, "error: %v", err)
	return qe
}

func TestEngineWrapsRunnerErrors(t *testing.T) {
	e, _ := newTestEngine(t, func([]string) fakeProc {
		return fakeProc{err: errors.New("boom")}
	})
	_, err := e.FrameNumbers(context.Background(), Query{Path: "c.pcap", Limit: 1})
	requireCode(t, err, qerr.Internal)
}

func TestEngineReadsReloadedSnapshot(t *testing.T) {
	t.Setenv("PCAP_PATROL_CONFIG", "")
	t.Setenv("PCAP_PATROL_TSHARK", "")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tshark_path: /usr/bin/tshark\n"), 0o644))
	store, err := config.Open(path)
	require.NoError(t, err)

	r := &fakeRunner{handle: func([]string) fakeProc { return fakeProc{stdout: "1\n"} }}
	e := NewEngine(store, r)

	_, err = e.FrameNumbers(context.Background(), Query{Path: "c.pcap", Limit: 1})
	require.NoError(t, err)
	require.Equal(t, "/usr/bin/tshark", r.calls[0][0])

	require.NoError(t, os.WriteFile(path, []byte("tshark_path: /opt/tshark\n"), 0o644))
	_, err = store.Reload()
	require.NoError(t, err)
	_, err = e.FrameNumbers(context.Background(), Query{Path: "c.pcap", Limit: 1})
	require.NoError(t, err)
	require.Equal(t, "/opt/tshark", r.calls[1][0])
}

func TestEngineSpansUseSuppliedTracer(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	defer tp.Shutdown(context.Background())

	e, _ := newTestEngine(t, func(args []string) fakeProc {
		if argValue(args, "-Y") == "tcp." {
			return fakeProc{stderr: "tshark: Invalid display filter \"tcp.\""}
		}
		return fakeProc{stdout: "1\n2\n"}
	}, WithTracer(tp.Tracer(TracerName)))

	_, err := e.FrameNumbers(context.Background(), Query{Path: "c.pcap", Limit: 10})
	require.NoError(t, err)
	_, err = e.FrameNumbers(context.Background(), Query{Path: "c.pcap", DisplayFilter: "tcp.", Limit: 10})
	requireCode(t, err, qerr.InvalidFilter)

	spans := rec.Ended()
	require.Len(t, spans, 2)
	results := []string{}
	for _, span := range spans {
		assert.Equal(t, "tshark.frames", span.Name())
		for _, kv := range span.Attributes() {
			if kv.Key == attribute.Key("pcap.result") {
				results = append(results, kv.Value.AsString())
			}
		}
	}
	assert.Equal(t, []string{"OK", string(qerr.InvalidFilter)}, results)
}
