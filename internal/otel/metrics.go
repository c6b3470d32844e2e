package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "pcap-patrol"

// Metrics holds the OTEL instruments recorded by query engines and the
// explain command. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Query counters, partitioned by operation and result code.
	Queries         metric.Int64Counter
	RowsEmitted     metric.Int64Counter
	ProcessesKilled metric.Int64Counter
	QueryDuration   metric.Float64Histogram

	// LLM token counters, partitioned by provider and model.
	InputTokens  metric.Int64Counter
	OutputTokens metric.Int64Counter
}

// NewMetrics creates all metric instruments on mp. A nil mp uses the
// global provider, which records nothing until one is registered.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(meterName)
	m := &Metrics{}
	var err error

	m.Queries, err = meter.Int64Counter("queries.total",
		metric.WithDescription("Capture queries partitioned by operation and result code"))
	if err != nil {
		return nil, err
	}

	m.RowsEmitted, err = meter.Int64Counter("rows.emitted",
		metric.WithDescription("Rows, frames or matches returned by capture queries"),
		metric.WithUnit("{row}"))
	if err != nil {
		return nil, err
	}

	m.ProcessesKilled, err = meter.Int64Counter("processes.killed",
		metric.WithDescription("tshark processes terminated before end of output"))
	if err != nil {
		return nil, err
	}

	m.QueryDuration, err = meter.Float64Histogram("query.duration",
		metric.WithDescription("Wall-clock duration of capture queries"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	m.InputTokens, err = meter.Int64Counter("llm.tokens.input",
		metric.WithDescription("Total LLM input tokens consumed"),
		metric.WithUnit("{token}"))
	if err != nil {
		return nil, err
	}

	m.OutputTokens, err = meter.Int64Counter("llm.tokens.output",
		metric.WithDescription("Total LLM output tokens consumed"),
		metric.WithUnit("{token}"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordQuery records the outcome of one engine operation.
func (m *Metrics) RecordQuery(ctx context.Context, op, code string, rows int, elapsed time.Duration) {
	if m == nil {
		return
	}
	opAttr := attribute.String("query.operation", op)
	m.Queries.Add(ctx, 1, metric.WithAttributes(opAttr, attribute.String("query.code", code)))
	if rows > 0 {
		m.RowsEmitted.Add(ctx, int64(rows), metric.WithAttributes(opAttr))
	}
	m.QueryDuration.Record(ctx, float64(elapsed)/float64(time.Millisecond), metric.WithAttributes(opAttr))
}

// RecordKill records an early termination of a streaming process.
func (m *Metrics) RecordKill(ctx context.Context, op string) {
	if m == nil {
		return
	}
	m.ProcessesKilled.Add(ctx, 1, metric.WithAttributes(attribute.String("query.operation", op)))
}

// RecordTokens records LLM token usage on the metric counters.
func (m *Metrics) RecordTokens(ctx context.Context, provider, model string, input, output int64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("llm.provider", provider),
		attribute.String("llm.model", model),
	)
	m.InputTokens.Add(ctx, input, attrs)
	m.OutputTokens.Add(ctx, output, attrs)
}
