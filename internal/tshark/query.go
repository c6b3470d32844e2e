package tshark

import (
	"strings"

	"github.com/timvw/pcap-patrol/internal/config"
	"github.com/timvw/pcap-patrol/internal/qerr"
)

// Request is the caller-facing query description, before profile and
// global defaults are applied.
type Request struct {
	DisplayFilter string
	Profile       string
	DecodeAs      []string
	Preferences   []string
	Limit         int
	Offset        int
}

// Query is a fully resolved capture query. It is built once per call and
// not modified afterwards.
type Query struct {
	Path          string
	DisplayFilter string
	// DecodeAs entries are "proto,dissector" overrides, in precedence order.
	DecodeAs []string
	// Preferences entries are "key:value" overrides, in precedence order.
	Preferences []string
	Limit       int
	Offset      int
}

// Compose resolves req against cfg for the capture at path.
//
// The profile's filter is ANDed in front of the caller's filter. Decode
// overrides are global, then profile, then request; preferences are global,
// then profile, then request. Duplicates are dropped keeping the first one.
func Compose(cfg *config.Config, path string, req Request) (Query, error) {
	filter := strings.TrimSpace(req.DisplayFilter)
	var profDecode, profPrefs []string

	if req.Profile != "" {
		prof, ok := cfg.Profile(req.Profile)
		if !ok {
			return Query{}, qerr.WithDetails(qerr.InvalidArgument, "unknown profile", map[string]any{
				"profile":   req.Profile,
				"available": cfg.ProfileNames(),
			})
		}
		filter = CombineFilters(prof.DisplayFilter, filter)
		profDecode = prof.DecodeAs
		profPrefs = prof.Preferences
	}

	return Query{
		Path:          path,
		DisplayFilter: filter,
		DecodeAs:      dedupe(cfg.GlobalDecodeAs, profDecode, req.DecodeAs),
		Preferences:   dedupe(cfg.GlobalPreferences, profPrefs, req.Preferences),
		Limit:         req.Limit,
		Offset:        req.Offset,
	}, nil
}

// CombineFilters ANDs two display filters, parenthesising both sides.
// An empty side yields the other one unchanged.
func CombineFilters(base, extra string) string {
	base = strings.TrimSpace(base)
	extra = strings.TrimSpace(extra)
	switch {
	case base == "":
		return extra
	case extra == "":
		return base
	}
	return "(" + base + ") && (" + extra + ")"
}

// WithFilter returns a copy of q selecting filter instead.
func (q Query) WithFilter(filter string) Query {
	q.DisplayFilter = filter
	return q
}

// WithWindow returns a copy of q with a different offset/limit window.
func (q Query) WithWindow(limit, offset int) Query {
	q.Limit = limit
	q.Offset = offset
	return q
}

// dedupe concatenates lists, trimming entries and dropping blanks and
// repeats. The first occurrence wins.
func dedupe(lists ...[]string) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, list := range lists {
		for _, s := range list {
			s = strings.TrimSpace(s)
			if s == "" || seen[s] {
				continue
			}
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
