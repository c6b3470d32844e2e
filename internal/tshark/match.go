package tshark

import (
	"regexp"

	"github.com/timvw/pcap-patrol/internal/qerr"
)

// compileMatcher builds the pattern used for catalog and frame searches.
// Literal text is quoted so reported match offsets stay in the original
// string, including under case folding.
func compileMatcher(text string, isRegex, caseSensitive bool) (*regexp.Regexp, error) {
	expr := text
	if !isRegex {
		expr = regexp.QuoteMeta(text)
	}
	if !caseSensitive {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, qerr.WithDetails(qerr.InvalidArgument, "invalid regex", map[string]any{
			"pattern": text,
			"error":   err.Error(),
		})
	}
	return re, nil
}
