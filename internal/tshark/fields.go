package tshark

import (
	"context"
	"encoding/csv"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/timvw/pcap-patrol/internal/config"
	"github.com/timvw/pcap-patrol/internal/model"
	"github.com/timvw/pcap-patrol/internal/qerr"
)

// maxSuggestedFields bounds how many invalid fields get catalog lookups.
const maxSuggestedFields = 10

// WarnHeaderMismatch is reported when the timeline header does not have
// one column per requested field.
const WarnHeaderMismatch = "header_field_count_mismatch"

// window applies offset/limit to a sequence of data lines.
type window struct {
	offset, limit int
	skipped       int
	taken         int
}

func (w *window) full() bool { return w.taken >= w.limit }

// skip reports whether the next line falls before the offset.
func (w *window) skip() bool {
	if w.skipped < w.offset {
		w.skipped++
		return true
	}
	return false
}

func validateWindow(cfg *config.Config, q Query) error {
	if q.Offset < 0 {
		return qerr.WithDetails(qerr.InvalidArgument, "offset must be >= 0", map[string]any{"offset": q.Offset})
	}
	if q.Limit < 0 {
		return qerr.WithDetails(qerr.InvalidArgument, "limit must be >= 0", map[string]any{"limit": q.Limit})
	}
	if q.Limit > cfg.MaxTimelineRows {
		return qerr.WithDetails(qerr.InvalidArgument, "limit exceeds max_timeline_rows", map[string]any{
			"limit":             q.Limit,
			"max_timeline_rows": cfg.MaxTimelineRows,
		})
	}
	return nil
}

// FrameNumbers lists the frames matching q in capture order, windowed by
// q.Offset and q.Limit.
func (e *Engine) FrameNumbers(ctx context.Context, q Query) (frames []int, err error) {
	ctx, done := e.begin(ctx, "frames", q)
	defer func() { err = done(err, len(frames)) }()

	cfg := e.store.Current()
	return e.frameNumbers(ctx, cfg, q)
}

func (e *Engine) frameNumbers(ctx context.Context, cfg *config.Config, q Query) ([]int, error) {
	if err := validateWindow(cfg, q); err != nil {
		return nil, err
	}
	args, err := composeArgs(cfg.TsharkPath, q, q.DisplayFilter, frameNumberOutput())
	if err != nil {
		return nil, err
	}
	e.logger.Debug("starting tshark", zap.Strings("args", args))

	w := &window{offset: q.Offset, limit: q.Limit}
	frames := []int{}
	out, err := e.stream(ctx, "frames", args, cfg.DefaultTimeoutDuration, func(line string) (bool, error) {
		s := strings.TrimSpace(line)
		if s == "" {
			return false, nil
		}
		if w.full() {
			return true, nil
		}
		if w.skip() {
			return false, nil
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return false, nil
		}
		frames = append(frames, n)
		w.taken++
		return w.full(), nil
	})
	if err != nil {
		return nil, err
	}
	if err := e.checkStderr(ctx, cfg, out, q.DisplayFilter, nil); err != nil {
		return nil, err
	}
	return frames, nil
}

// Timeline extracts fields for every frame matching q, windowed by
// q.Offset and q.Limit.
func (e *Engine) Timeline(ctx context.Context, q Query, fields []string) (tl *model.Timeline, err error) {
	ctx, done := e.begin(ctx, "timeline", q)
	defer func() {
		rows := 0
		if tl != nil {
			rows = len(tl.Rows)
		}
		err = done(err, rows)
	}()

	cfg := e.store.Current()
	fields = cleanFields(fields)
	if len(fields) == 0 {
		return nil, qerr.New(qerr.InvalidArgument, "fields must not be empty")
	}
	if err := validateWindow(cfg, q); err != nil {
		return nil, err
	}
	args, err := composeArgs(cfg.TsharkPath, q, q.DisplayFilter, fieldsOutput(fields, fieldsFormat{header: "y"}))
	if err != nil {
		return nil, err
	}
	e.logger.Debug("starting tshark", zap.Strings("args", args))

	result := &model.Timeline{Rows: []model.FieldRow{}, Warnings: []string{}}
	w := &window{offset: q.Offset, limit: q.Limit}
	sawHeader := false
	out, err := e.stream(ctx, "timeline", args, cfg.DefaultTimeoutDuration, func(line string) (bool, error) {
		if !sawHeader {
			sawHeader = true
			if got := len(strings.Split(line, "\t")); got != len(fields) {
				e.logger.Warn("timeline header mismatch", zap.Int("columns", got), zap.Int("fields", len(fields)))
				result.Warnings = append(result.Warnings, WarnHeaderMismatch)
			}
			return false, nil
		}
		if strings.TrimSpace(line) == "" {
			return false, nil
		}
		if w.full() {
			return true, nil
		}
		if w.skip() {
			return false, nil
		}
		result.Rows = append(result.Rows, ParseFieldRow(fields, line))
		w.taken++
		return w.full(), nil
	})
	if err != nil {
		return nil, err
	}
	if err := e.checkStderr(ctx, cfg, out, q.DisplayFilter, fields); err != nil {
		return nil, err
	}
	if out.lines == 0 {
		return nil, qerr.New(qerr.Internal, "tshark produced no output")
	}
	return result, nil
}

// FrameFields returns the raw values of fields for a single frame. Values
// keep the aggregator; missing columns map to "".
func (e *Engine) FrameFields(ctx context.Context, q Query, frame int, fields []string) (vals map[string]string, err error) {
	ctx, done := e.begin(ctx, "frame_fields", q)
	defer func() { err = done(err, len(vals)) }()

	return e.frameFields(ctx, e.store.Current(), q, frame, fields)
}

func (e *Engine) frameFields(ctx context.Context, cfg *config.Config, q Query, frame int, fields []string) (map[string]string, error) {
	if frame <= 0 {
		return nil, qerr.WithDetails(qerr.InvalidArgument, "frame_number must be > 0", map[string]any{"frame_number": frame})
	}
	fields = cleanFields(fields)
	if len(fields) == 0 {
		return nil, qerr.New(qerr.InvalidArgument, "fields must not be empty")
	}
	args, err := composeArgs(cfg.TsharkPath, q, frameFilter(frame), fieldsOutput(fields, fieldsFormat{quote: true}))
	if err != nil {
		return nil, err
	}
	e.logger.Debug("running tshark", zap.Strings("args", args))

	res, err := e.runner.Run(ctx, args, cfg.DefaultTimeoutDuration)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, qerr.WithDetails(qerr.Internal, "tshark failed", map[string]any{
			"exit_code": res.ExitCode,
			"stderr":    strings.TrimSpace(res.Stderr),
		})
	}

	var first string
	for _, line := range strings.Split(res.Stdout, "\n") {
		if strings.TrimSpace(line) != "" {
			first = strings.TrimRight(line, "\r")
			break
		}
	}
	parts := splitQuotedTSV(first)
	vals := make(map[string]string, len(fields))
	for i, f := range fields {
		if i < len(parts) {
			vals[f] = parts[i]
		} else {
			vals[f] = ""
		}
	}
	return vals, nil
}

// checkStderr classifies residual error output once a stream has ended.
func (e *Engine) checkStderr(ctx context.Context, cfg *config.Config, out *streamOutcome, filter string, fields []string) error {
	switch ClassifyStderr(out.stderr) {
	case StderrInvalidFilter:
		return qerr.WithDetails(qerr.InvalidFilter, "invalid display filter", map[string]any{
			"display_filter": filter,
			"stderr":         out.stderr,
		})
	case StderrInvalidFields:
		invalid := InvalidFieldNames(out.stderr)
		return qerr.WithDetails(qerr.InvalidFields, "invalid fields", map[string]any{
			"fields":      fields,
			"invalid":     invalid,
			"suggestions": e.suggest(ctx, cfg, invalid),
			"stderr":      out.stderr,
		})
	}
	if out.lines == 0 && out.stderr != "" {
		return qerr.WithDetails(qerr.Internal, "tshark failed", map[string]any{"stderr": out.stderr})
	}
	if out.stderr != "" {
		e.logger.Debug("ignoring tshark stderr", zap.String("stderr", out.stderr))
	}
	return nil
}

// ParseFieldRow maps one tab-separated line onto fields. Missing columns
// become "".
func ParseFieldRow(fields []string, line string) model.FieldRow {
	parts := strings.Split(line, "\t")
	row := make(model.FieldRow, len(fields))
	for i, f := range fields {
		raw := ""
		if i < len(parts) {
			raw = parts[i]
		}
		row[f] = SplitMulti(raw)
	}
	return row
}

// SplitMulti splits an aggregated value on Aggregator, dropping empty
// segments. Values without an aggregator are returned unchanged.
func SplitMulti(raw string) any {
	if !strings.Contains(raw, Aggregator) {
		return raw
	}
	vals := []string{}
	for _, p := range strings.Split(raw, Aggregator) {
		if p != "" {
			vals = append(vals, p)
		}
	}
	return vals
}

// splitQuotedTSV splits a line written with quote=d. Lines the csv reader
// rejects fall back to a plain tab split.
func splitQuotedTSV(line string) []string {
	r := csv.NewReader(strings.NewReader(line))
	r.Comma = '\t'
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	rec, err := r.Read()
	if err != nil {
		return strings.Split(line, "\t")
	}
	return rec
}

func cleanFields(fields []string) []string {
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

