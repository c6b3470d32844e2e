// Package capture locates capture files and reads them natively.
package capture

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/timvw/pcap-patrol/internal/config"
	"github.com/timvw/pcap-patrol/internal/qerr"
)

// Resolve maps a caller-supplied path to exactly one capture file inside
// the allowed directories.
//
// Relative paths are tried against the working directory and every allowed
// directory. When AllowAnyPcapPath is set, absolute paths outside the
// allowed directories are accepted too.
func Resolve(cfg *config.Config, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", qerr.New(qerr.InvalidArgument, "pcap_path is empty")
	}
	p := expandHome(raw)

	var candidates []string
	if filepath.IsAbs(p) {
		candidates = append(candidates, p)
	} else {
		if abs, err := filepath.Abs(p); err == nil {
			candidates = append(candidates, abs)
		}
		for _, d := range cfg.AllowedPcapDirs {
			candidates = append(candidates, filepath.Join(d, p))
		}
	}

	allowed := make([]string, 0, len(cfg.AllowedPcapDirs))
	for _, d := range cfg.AllowedPcapDirs {
		allowed = append(allowed, canonical(d))
	}
	anyAbs := cfg.AllowAnyPcapPath && filepath.IsAbs(p)

	var matches []string
	seen := make(map[string]bool)
	for _, c := range candidates {
		c = canonical(c)
		st, err := os.Stat(c)
		if err != nil || !st.Mode().IsRegular() {
			continue
		}
		if !anyAbs && !within(c, allowed) {
			continue
		}
		if seen[c] {
			continue
		}
		seen[c] = true
		matches = append(matches, c)
	}

	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return "", qerr.WithDetails(qerr.FileNotFound, "pcap file not found", map[string]any{
			"pcap_path":         raw,
			"allowed_pcap_dirs": cfg.AllowedPcapDirs,
		})
	}
	return "", qerr.WithDetails(qerr.AmbiguousPcapPath, "multiple pcaps matched", map[string]any{
		"pcap_path": raw,
		"matches":   matches,
	})
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p[1:], "/"))
		}
	}
	return p
}

// canonical returns an absolute, symlink-free form of p when it exists.
func canonical(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		return resolved
	}
	return filepath.Clean(p)
}

func within(p string, dirs []string) bool {
	for _, d := range dirs {
		rel, err := filepath.Rel(d, p)
		if err != nil {
			continue
		}
		if rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))) {
			return true
		}
	}
	return false
}
