package tshark

import (
	"strconv"
	"strings"

	"github.com/timvw/pcap-patrol/internal/qerr"
)

const (
	// MaxDecodeAs caps the number of decode-as overrides per query.
	MaxDecodeAs = 50
	// MaxPreferences caps the number of preference overrides per query.
	MaxPreferences = 100

	// Aggregator joins multiple occurrences of a field in one column.
	Aggregator = "|"
)

// fieldsFormat selects the -T fields output directives.
type fieldsFormat struct {
	header string // "y", "n" or "" to leave tshark's default
	quote  bool
}

// composeArgs builds the tshark argument vector. Order is fixed: decode
// overrides, preference overrides, input file, display filter (if any),
// then the output directives.
func composeArgs(tshark string, q Query, filter string, output []string) ([]string, error) {
	if len(q.DecodeAs) > MaxDecodeAs {
		return nil, qerr.WithDetails(qerr.InvalidArgument, "too many decode_as entries", map[string]any{
			"max":   MaxDecodeAs,
			"count": len(q.DecodeAs),
		})
	}
	if len(q.Preferences) > MaxPreferences {
		return nil, qerr.WithDetails(qerr.InvalidArgument, "too many preferences", map[string]any{
			"max":   MaxPreferences,
			"count": len(q.Preferences),
		})
	}

	args := []string{tshark}
	for _, d := range q.DecodeAs {
		if d = strings.TrimSpace(d); d != "" {
			args = append(args, "-d", d)
		}
	}
	for _, p := range q.Preferences {
		if p = strings.TrimSpace(p); p != "" {
			args = append(args, "-o", p)
		}
	}
	args = append(args, "-r", q.Path)
	if filter != "" {
		args = append(args, "-Y", filter)
	}
	return append(args, output...), nil
}

// frameNumberOutput lists only frame numbers, one per line.
func frameNumberOutput() []string {
	return []string{"-T", "fields", "-e", "frame.number"}
}

// fieldsOutput extracts fields as tab-separated columns with all
// occurrences joined by Aggregator.
func fieldsOutput(fields []string, f fieldsFormat) []string {
	out := []string{"-T", "fields"}
	if f.header != "" {
		out = append(out, "-E", "header="+f.header)
	}
	out = append(out, "-E", "separator=\t")
	if f.quote {
		out = append(out, "-E", "quote=d")
	}
	out = append(out, "-E", "occurrence=a", "-E", "aggregator="+Aggregator)
	for _, field := range fields {
		if field = strings.TrimSpace(field); field != "" {
			out = append(out, "-e", field)
		}
	}
	return out
}

// detailOutput requests the verbose protocol tree, optionally with a hex
// dump and restricted to a protocol subset.
func detailOutput(verbosity string, protos []string) []string {
	out := []string{"-V"}
	if verbosity == VerbosityFull {
		out = append(out, "-x")
	}
	if len(protos) > 0 {
		out = append(out, "-O", strings.Join(protos, ","))
	}
	return out
}

// frameFilter selects exactly one frame.
func frameFilter(frame int) string {
	return "frame.number==" + strconv.Itoa(frame)
}
