package tshark

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/timvw/pcap-patrol/internal/model"
	"github.com/timvw/pcap-patrol/internal/qerr"
)

// MaxSearchMatches is the hard ceiling on SearchOptions.MaxMatches.
const MaxSearchMatches = 200

// DefaultSnippetContext is the number of characters kept around a match.
const DefaultSnippetContext = 240

// SearchOptions describes a full-text search over frame dissections.
type SearchOptions struct {
	Text           string
	IsRegex        bool
	CaseSensitive  bool
	Layers         []string
	RestrictLayers bool
	MaxMatches     int
	// MaxBytes bounds each frame's dissection before matching.
	MaxBytes            int
	SnippetContextChars int
}

// Search scans the dissection of every candidate frame of q, in order,
// and reports the first match in each until MaxMatches frames matched.
func (e *Engine) Search(ctx context.Context, q Query, opts SearchOptions) (r *model.SearchResult, err error) {
	ctx, done := e.begin(ctx, "search", q)
	defer func() {
		rows := 0
		if r != nil {
			rows = len(r.Matches)
		}
		err = done(err, rows)
	}()

	if strings.TrimSpace(opts.Text) == "" {
		return nil, qerr.New(qerr.InvalidArgument, "query is empty")
	}
	if opts.MaxMatches <= 0 {
		return nil, qerr.WithDetails(qerr.InvalidArgument, "max_matches must be > 0", map[string]any{"max_matches": opts.MaxMatches})
	}
	if opts.MaxMatches > MaxSearchMatches {
		opts.MaxMatches = MaxSearchMatches
	}
	if opts.SnippetContextChars < 0 {
		return nil, qerr.WithDetails(qerr.InvalidArgument, "snippet_context_chars must be >= 0", map[string]any{
			"snippet_context_chars": opts.SnippetContextChars,
		})
	}
	detail := DetailOptions{
		Layers:         opts.Layers,
		RestrictLayers: opts.RestrictLayers,
		Verbosity:      VerbositySummary,
		MaxBytes:       opts.MaxBytes,
	}
	if _, err := validateDetail(detail); err != nil {
		return nil, err
	}
	re, err := compileMatcher(opts.Text, opts.IsRegex, opts.CaseSensitive)
	if err != nil {
		return nil, err
	}

	cfg := e.store.Current()
	frames, err := e.frameNumbers(ctx, cfg, q)
	if err != nil {
		return nil, err
	}

	result := &model.SearchResult{FramesScanned: len(frames), Matches: []model.SearchMatch{}}
	for _, n := range frames {
		if err := ctx.Err(); err != nil {
			return nil, qerr.WithDetails(qerr.Timeout, "search cancelled", map[string]any{"error": err.Error()})
		}
		detail.FrameNumber = n
		d, err := e.frameDetail(ctx, cfg, q, detail)
		if err != nil {
			return nil, err
		}
		loc := re.FindStringIndex(d.Text)
		if loc == nil {
			continue
		}
		result.Matches = append(result.Matches, model.SearchMatch{
			FrameNumber: n,
			Truncated:   d.Truncated,
			Snippet:     Snippet(d.Text, loc[0], loc[1], opts.SnippetContextChars),
		})
		if len(result.Matches) >= opts.MaxMatches {
			break
		}
	}
	return result, nil
}

// Snippet returns text[start:end] widened by up to n characters on each
// side. start and end are byte offsets.
func Snippet(text string, start, end, n int) string {
	a := start
	for i := 0; i < n && a > 0; i++ {
		_, size := utf8.DecodeLastRuneInString(text[:a])
		a -= size
	}
	b := end
	for i := 0; i < n && b < len(text); i++ {
		_, size := utf8.DecodeRuneInString(text[b:])
		b += size
	}
	return text[a:b]
}
