package tshark

import (
	"context"
	"strconv"
	"strings"

	"github.com/timvw/pcap-patrol/internal/model"
	"github.com/timvw/pcap-patrol/internal/qerr"
)

// Session keys that can be followed, in priority order.
const (
	FollowHTTP2Stream     = "http2.streamid"
	FollowDiameterSession = "diameter.Session-Id"
	FollowSIPCall         = "sip.Call-ID"
)

var followFields = []string{FollowHTTP2Stream, FollowDiameterSession, FollowSIPCall}

// ResolveFollow builds a display filter selecting every frame of the
// session frame belongs to. The first key present in the frame wins.
func (e *Engine) ResolveFollow(ctx context.Context, q Query, frame int) (f *model.FollowFilter, err error) {
	ctx, done := e.begin(ctx, "follow_filter", q)
	defer func() { err = done(err, boolToRows(f != nil)) }()

	vals, err := e.frameFields(ctx, e.store.Current(), q, frame, followFields)
	if err != nil {
		return nil, err
	}
	return FollowFromFields(frame, vals)
}

// Follow resolves the follow filter for frame and lists the frames it
// selects, restricted by q's own filter and window.
func (e *Engine) Follow(ctx context.Context, q Query, frame int) (r *model.FollowResult, err error) {
	ctx, done := e.begin(ctx, "follow", q)
	defer func() {
		rows := 0
		if r != nil {
			rows = len(r.Frames)
		}
		err = done(err, rows)
	}()

	cfg := e.store.Current()
	vals, err := e.frameFields(ctx, cfg, q, frame, followFields)
	if err != nil {
		return nil, err
	}
	ff, err := FollowFromFields(frame, vals)
	if err != nil {
		return nil, err
	}
	effective := CombineFilters(q.DisplayFilter, ff.DisplayFilter)
	frames, err := e.frameNumbers(ctx, cfg, q.WithFilter(effective))
	if err != nil {
		return nil, err
	}
	return &model.FollowResult{
		FollowFilter:        *ff,
		FrameNumber:         frame,
		FollowDisplayFilter: ff.DisplayFilter,
		EffectiveFilter:     effective,
		Frames:              frames,
	}, nil
}

// FollowFromFields picks the follow key from raw field values. Only the
// first aggregated occurrence of each field is considered.
func FollowFromFields(frame int, vals map[string]string) (*model.FollowFilter, error) {
	if v := firstOccurrence(vals[FollowHTTP2Stream]); v != "" {
		if id, err := strconv.Atoi(v); err == nil {
			return &model.FollowFilter{
				FollowType:    FollowHTTP2Stream,
				FollowKey:     strconv.Itoa(id),
				DisplayFilter: FollowHTTP2Stream + "==" + strconv.Itoa(id),
			}, nil
		}
	}
	for _, field := range []string{FollowDiameterSession, FollowSIPCall} {
		if v := firstOccurrence(vals[field]); v != "" {
			return &model.FollowFilter{
				FollowType:    field,
				FollowKey:     v,
				DisplayFilter: field + "==" + QuoteFilterString(v),
			}, nil
		}
	}
	return nil, qerr.WithDetails(qerr.NotFound, "no follow key found in frame", map[string]any{
		"frame_number": frame,
		"checked":      followFields,
	})
}

// QuoteFilterString renders s as a display filter string literal.
func QuoteFilterString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

func firstOccurrence(raw string) string {
	first, _, _ := strings.Cut(raw, Aggregator)
	return strings.TrimSpace(first)
}
