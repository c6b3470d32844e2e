// Package tshark turns capture queries into tshark invocations and parses
// the results.
//
// Every operation reads one configuration snapshot, composes arguments,
// runs exactly one tshark process (or one per frame for detail lookups),
// and returns either a complete result or a single *qerr.Error.
package tshark

import (
	"context"
	"errors"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/timvw/pcap-patrol/internal/config"
	ppotel "github.com/timvw/pcap-patrol/internal/otel"
	"github.com/timvw/pcap-patrol/internal/proc"
	"github.com/timvw/pcap-patrol/internal/qerr"
)

// TracerName is the instrumentation scope of engine spans.
const TracerName = "pcap-patrol/tshark"

// Engine executes capture queries.
type Engine struct {
	store    *config.Store
	runner   proc.Runner
	logger   *zap.Logger
	tracer   trace.Tracer
	metrics  *ppotel.Metrics
	now      func() time.Time
	catalogs *CatalogCache
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithTracer sets the tracer query spans are opened on.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithMetrics attaches OTEL counters. Nil is allowed.
func WithMetrics(m *ppotel.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock overrides the wall clock used for streaming timeouts.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithCatalogCache reuses field catalog dumps across calls.
func WithCatalogCache(c *CatalogCache) Option {
	return func(e *Engine) { e.catalogs = c }
}

// NewEngine creates an Engine reading its configuration from store.
func NewEngine(store *config.Store, runner proc.Runner, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		runner: runner,
		logger: zap.NewNop(),
		tracer: otel.Tracer(TracerName),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the current configuration snapshot.
func (e *Engine) Config() *config.Config {
	return e.store.Current()
}

// Compose resolves req against the current configuration.
func (e *Engine) Compose(path string, req Request) (Query, error) {
	return Compose(e.store.Current(), path, req)
}

// begin opens a span for op. The returned func records the outcome and
// converts err to a structured error.
func (e *Engine) begin(ctx context.Context, op string, q Query) (context.Context, func(err error, rows int) error) {
	ctx, span := e.tracer.Start(ctx, "tshark."+op, trace.WithAttributes(
		attribute.String("pcap.path", q.Path),
		attribute.String("pcap.display_filter", q.DisplayFilter),
		attribute.Int("pcap.limit", q.Limit),
		attribute.Int("pcap.offset", q.Offset),
	))
	start := e.now()

	return ctx, func(err error, rows int) error {
		defer span.End()
		err = qerr.Wrap(err)
		code := string(qerr.CodeOf(err))
		if code == "" {
			code = "OK"
		}
		elapsed := e.now().Sub(start)
		span.SetAttributes(attribute.Int("pcap.rows", rows), attribute.String("pcap.result", code))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, code)
			e.logger.Debug("query failed", zap.String("op", op), zap.String("code", code), zap.Error(err))
		} else {
			e.logger.Debug("query done", zap.String("op", op), zap.Int("rows", rows), zap.Duration("elapsed", elapsed))
		}
		e.metrics.RecordQuery(ctx, op, code, rows, elapsed)
		return err
	}
}

// streamOutcome is what remains after a streaming run finished.
type streamOutcome struct {
	lines  int
	stderr string
}

// stream runs args and hands each stdout line to each until it asks to
// stop or output ends. The process is terminated on every return path.
// Elapsed wall-clock time is checked after every line read.
func (e *Engine) stream(ctx context.Context, op string, args []string, timeout time.Duration, each func(line string) (stop bool, err error)) (*streamOutcome, error) {
	s, err := e.runner.Start(ctx, args)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	started := e.now()
	for {
		line, err := s.ReadLine()
		// A cancelled run ends its output early; what was read is partial.
		if ctxErr := ctx.Err(); ctxErr != nil {
			e.logger.Warn("tshark cancelled", zap.String("op", op), zap.Error(ctxErr))
			return nil, qerr.WithDetails(qerr.Timeout, "tshark cancelled", map[string]any{
				"error": ctxErr.Error(),
			})
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, qerr.Wrap(err)
		}
		if timeout > 0 && e.now().Sub(started) > timeout {
			e.logger.Warn("tshark timed out", zap.String("op", op), zap.Duration("timeout", timeout))
			return nil, qerr.WithDetails(qerr.Timeout, "tshark timed out", map[string]any{
				"timeout": timeout.String(),
			})
		}
		stop, err := each(line)
		if err != nil {
			return nil, err
		}
		if stop {
			break
		}
	}

	out := &streamOutcome{lines: s.Lines(), stderr: s.Stderr()}
	if s.Killed() {
		e.logger.Debug("terminated tshark early", zap.String("op", op), zap.Int("lines", out.lines))
		e.metrics.RecordKill(ctx, op)
	}
	return out, nil
}
