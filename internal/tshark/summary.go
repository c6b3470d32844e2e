package tshark

import (
	"context"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/timvw/pcap-patrol/internal/model"
	"github.com/timvw/pcap-patrol/internal/qerr"
)

// probeProtocols are checked by HasProtocols, keyed by report name.
var probeProtocols = []struct{ key, filter string }{
	{"sctp", "sctp"},
	{"ngap", "ngap"},
	{"nas_5gs", "nas-5gs"},
	{"pfcp", "pfcp"},
	{"gtpv2", "gtpv2"},
	{"gtp", "gtp"},
}

// Summary describes the capture at path using capinfos.
func (e *Engine) Summary(ctx context.Context, path string) (s *model.CaptureSummary, err error) {
	ctx, done := e.begin(ctx, "summary", Query{Path: path})
	defer func() { err = done(err, boolToRows(s != nil)) }()

	cfg := e.store.Current()
	args := []string{cfg.CapinfosPath, "-M", "-c", "-a", "-e", "-u", "-H", path}
	e.logger.Debug("running capinfos", zap.Strings("args", args))
	res, err := e.runner.Run(ctx, args, cfg.DefaultTimeoutDuration)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, qerr.WithDetails(qerr.Internal, "capinfos failed", map[string]any{
			"exit_code": res.ExitCode,
			"stderr":    strings.TrimSpace(res.Stderr),
		})
	}
	s = ParseCapinfos(res.Stdout)
	s.PcapPath = path
	return s, nil
}

// ParseCapinfos reads capinfos key/value output. Unparseable numbers
// are reported as zero.
func ParseCapinfos(out string) *model.CaptureSummary {
	kv := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		kv[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}

	s := &model.CaptureSummary{
		TimeStart: kv["First packet time"],
		TimeEnd:   kv["Last packet time"],
		SHA256:    kv["SHA256"],
		Source:    "capinfos",
	}
	s.PacketCount, _ = strconv.Atoi(kv["Number of packets"])
	if fields := strings.Fields(kv["Capture duration"]); len(fields) > 0 {
		s.Duration, _ = strconv.ParseFloat(fields[0], 64)
	}
	return s
}

// Version returns the first line of `tshark -v`.
func (e *Engine) Version(ctx context.Context) (v string, err error) {
	ctx, done := e.begin(ctx, "version", Query{})
	defer func() { err = done(err, boolToRows(v != "")) }()

	cfg := e.store.Current()
	res, err := e.runner.Run(ctx, []string{cfg.TsharkPath, "-v"}, cfg.DefaultTimeoutDuration)
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", qerr.WithDetails(qerr.TsharkNotFound, "tshark not available", map[string]any{
			"stderr": strings.TrimSpace(res.Stderr),
		})
	}
	first, _, _ := strings.Cut(res.Stdout, "\n")
	return strings.TrimSpace(first), nil
}

// HasProtocols reports which common mobile-core protocols appear in the
// capture at least once. A protocol the installed dissectors do not know
// is reported absent.
func (e *Engine) HasProtocols(ctx context.Context, q Query) (found map[string]bool, err error) {
	ctx, done := e.begin(ctx, "has_protocols", q)
	defer func() { err = done(err, len(found)) }()

	cfg := e.store.Current()
	found = make(map[string]bool, len(probeProtocols))
	for _, p := range probeProtocols {
		frames, err := e.frameNumbers(ctx, cfg, q.WithFilter(p.filter).WithWindow(1, 0))
		if err != nil {
			if qerr.Is(err, qerr.InvalidFilter) {
				found[p.key] = false
				continue
			}
			return nil, err
		}
		found[p.key] = len(frames) > 0
	}
	return found, nil
}
