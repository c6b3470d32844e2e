package tshark

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/timvw/pcap-patrol/internal/config"
	"github.com/timvw/pcap-patrol/internal/model"
	"github.com/timvw/pcap-patrol/internal/qerr"
)

// Verbosity levels for frame detail.
const (
	VerbositySummary = "summary"
	VerbosityFull    = "full"
)

// MaxDetailFrames caps FrameDetails.
const MaxDetailFrames = 50

// layerProtocols maps layer names accepted from callers to tshark
// protocol names for -O.
var layerProtocols = map[string]string{
	"ngap":     "ngap",
	"nas_5gs":  "nas-5gs",
	"nas-5gs":  "nas-5gs",
	"s1ap":     "s1ap",
	"sctp":     "sctp",
	"ip":       "ip",
	"ipv6":     "ipv6",
	"tcp":      "tcp",
	"udp":      "udp",
	"http":     "http",
	"http2":    "http2",
	"gtp":      "gtp",
	"gtpv2":    "gtpv2",
	"pfcp":     "pfcp",
	"diameter": "diameter",
	"sip":      "sip",
}

// DetailOptions selects what FrameDetail renders.
type DetailOptions struct {
	FrameNumber int
	Layers      []string
	// RestrictLayers limits the tree to Layers' protocols.
	RestrictLayers bool
	Verbosity      string
	MaxBytes       int
}

// LayerProtocols maps layer names to protocol names in first-seen order.
// Unknown names are dropped.
func LayerProtocols(layers []string) []string {
	var protos []string
	seen := make(map[string]bool)
	for _, l := range layers {
		p, ok := layerProtocols[strings.TrimSpace(l)]
		if !ok || seen[p] {
			continue
		}
		seen[p] = true
		protos = append(protos, p)
	}
	return protos
}

// FrameDetail renders the protocol tree of one frame.
func (e *Engine) FrameDetail(ctx context.Context, q Query, opts DetailOptions) (d *model.FrameDetail, err error) {
	ctx, done := e.begin(ctx, "detail", q)
	defer func() { err = done(err, boolToRows(d != nil)) }()

	return e.frameDetail(ctx, e.store.Current(), q, opts)
}

// FrameDetails renders several frames in the given order.
func (e *Engine) FrameDetails(ctx context.Context, q Query, frames []int, opts DetailOptions) (out []model.FrameDetail, err error) {
	ctx, done := e.begin(ctx, "details", q)
	defer func() { err = done(err, len(out)) }()

	if len(frames) == 0 {
		return nil, qerr.New(qerr.InvalidArgument, "frame_numbers is empty")
	}
	if len(frames) > MaxDetailFrames {
		return nil, qerr.WithDetails(qerr.InvalidArgument, "too many frame_numbers", map[string]any{
			"max":   MaxDetailFrames,
			"count": len(frames),
		})
	}
	cfg := e.store.Current()
	out = make([]model.FrameDetail, 0, len(frames))
	for _, n := range frames {
		opts.FrameNumber = n
		d, err := e.frameDetail(ctx, cfg, q, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, nil
}

func (e *Engine) frameDetail(ctx context.Context, cfg *config.Config, q Query, opts DetailOptions) (*model.FrameDetail, error) {
	if opts.FrameNumber <= 0 {
		return nil, qerr.WithDetails(qerr.InvalidArgument, "frame_number must be > 0", map[string]any{"frame_number": opts.FrameNumber})
	}
	verbosity, err := validateDetail(opts)
	if err != nil {
		return nil, err
	}

	var protos []string
	if opts.RestrictLayers {
		protos = LayerProtocols(opts.Layers)
	}
	args, err := composeArgs(cfg.TsharkPath, q, frameFilter(opts.FrameNumber), detailOutput(verbosity, protos))
	if err != nil {
		return nil, err
	}
	e.logger.Debug("running tshark", zap.Strings("args", args))

	res, err := e.runner.Run(ctx, args, cfg.DefaultTimeoutDuration)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 && strings.TrimSpace(res.Stdout) == "" {
		return nil, qerr.WithDetails(qerr.Internal, "tshark frame detail failed", map[string]any{
			"exit_code": res.ExitCode,
			"stderr":    strings.TrimSpace(res.Stderr),
		})
	}

	text, truncated := Truncate(res.Stdout, opts.MaxBytes)
	return &model.FrameDetail{FrameNumber: opts.FrameNumber, Text: text, Truncated: truncated}, nil
}

// validateDetail checks everything but the frame number and returns the
// effective verbosity.
func validateDetail(opts DetailOptions) (string, error) {
	if opts.MaxBytes <= 0 {
		return "", qerr.WithDetails(qerr.InvalidArgument, "max_bytes must be > 0", map[string]any{"max_bytes": opts.MaxBytes})
	}
	verbosity := opts.Verbosity
	if verbosity == "" {
		verbosity = VerbositySummary
	}
	if verbosity != VerbositySummary && verbosity != VerbosityFull {
		return "", qerr.WithDetails(qerr.InvalidArgument, "verbosity must be summary|full", map[string]any{"verbosity": opts.Verbosity})
	}
	return verbosity, nil
}

// Truncate cuts text to at most maxBytes bytes. Invalid UTF-8 is replaced
// before measuring; the cut may split a multi-byte character.
func Truncate(text string, maxBytes int) (string, bool) {
	text = strings.ToValidUTF8(text, "�")
	if len(text) <= maxBytes {
		return text, false
	}
	return text[:maxBytes], true
}

func boolToRows(ok bool) int {
	if ok {
		return 1
	}
	return 0
}
