package tshark

import "strings"

// StderrKind is the classification of tshark's residual error output.
type StderrKind int

const (
	// StderrBenign is warning noise, or nothing at all.
	StderrBenign StderrKind = iota
	// StderrInvalidFilter means the display filter did not compile.
	StderrInvalidFilter
	// StderrInvalidFields means at least one -e field is unknown.
	StderrInvalidFields
)

const (
	markerInvalidFilter = "invalid display filter"
	markerInvalidFields = "fields aren't valid"
)

func (k StderrKind) String() string {
	switch k {
	case StderrInvalidFilter:
		return "invalid_filter"
	case StderrInvalidFields:
		return "invalid_fields"
	}
	return "benign"
}

// ClassifyStderr maps error text to a StderrKind. Matching is
// case-insensitive; an invalid filter wins over invalid fields.
func ClassifyStderr(stderr string) StderrKind {
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, markerInvalidFilter):
		return StderrInvalidFilter
	case strings.Contains(lower, markerInvalidFields):
		return StderrInvalidFields
	}
	return StderrBenign
}

// InvalidFieldNames extracts the offending field names from an
// invalid-fields message. tshark prints them one per line after a
// "Some fields aren't valid:" heading.
func InvalidFieldNames(stderr string) []string {
	var names []string
	for _, line := range strings.Split(stderr, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)
		if strings.HasPrefix(lower, "tshark:") || strings.HasPrefix(lower, "some fields") {
			continue
		}
		names = append(names, line)
	}
	return names
}
