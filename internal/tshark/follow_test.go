package tshark

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timvw/pcap-patrol/internal/qerr"
)

func TestFollowFromFieldsPriority(t *testing.T) {
	tests := []struct {
		name       string
		vals       map[string]string
		wantType   string
		wantKey    string
		wantFilter string
	}{
		{
			name:       "http2 wins over sip",
			vals:       map[string]string{FollowHTTP2Stream: "3|5", FollowSIPCall: "abc@host"},
			wantType:   FollowHTTP2Stream,
			wantKey:    "3",
			wantFilter: "http2.streamid==3",
		},
		{
			name:       "non-integer stream id falls through",
			vals:       map[string]string{FollowHTTP2Stream: "x", FollowDiameterSession: "gw;123;456", FollowSIPCall: "abc"},
			wantType:   FollowDiameterSession,
			wantKey:    "gw;123;456",
			wantFilter: `diameter.Session-Id=="gw;123;456"`,
		},
		{
			name:       "sip call id quoted",
			vals:       map[string]string{FollowSIPCall: ` a"b\c |other`},
			wantType:   FollowSIPCall,
			wantKey:    `a"b\c`,
			wantFilter: `sip.Call-ID=="a\"b\\c"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := FollowFromFields(9, tt.vals)
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, f.FollowType)
			assert.Equal(t, tt.wantKey, f.FollowKey)
			assert.Equal(t, tt.wantFilter, f.DisplayFilter)
		})
	}
}

func TestFollowFromFieldsNotFound(t *testing.T) {
	_, err := FollowFromFields(4, map[string]string{FollowHTTP2Stream: "", FollowSIPCall: " "})
	qe := requireCode(t, err, qerr.NotFound)
	assert.Equal(t, 4, qe.Details["frame_number"])
	assert.Equal(t, []string{FollowHTTP2Stream, FollowDiameterSession, FollowSIPCall}, qe.Details["checked"])
}

func TestQuoteFilterString(t *testing.T) {
	tests := []struct{ in, want string }{
		{"", `""`},
		{"plain", `"plain"`},
		{`say "hi"`, `"say \"hi\""`},
		{`C:\dir`, `"C:\\dir"`},
		{`\"`, `"\\\""`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, QuoteFilterString(tt.in), "QuoteFilterString(%q)", tt.in)
	}
}

func TestFollow(t *testing.T) {
	e, r := newTestEngine(t, func(args []string) fakeProc {
		switch argValue(args, "-Y") {
		case "frame.number==7":
			return fakeProc{stdout: "\"\"\t\"\"\t\"call-1@ims\"\n"}
		case `(sip) && (sip.Call-ID=="call-1@ims")`:
			return fakeProc{stdout: "7\n9\n12\n"}
		}
		return fakeProc{stderr: "unexpected " + argValue(args, "-Y")}
	})

	res, err := e.Follow(context.Background(), Query{Path: "c.pcap", DisplayFilter: "sip", Limit: 100}, 7)
	require.NoError(t, err)
	assert.Equal(t, FollowSIPCall, res.FollowType)
	assert.Equal(t, "call-1@ims", res.FollowKey)
	assert.Equal(t, `sip.Call-ID=="call-1@ims"`, res.FollowDisplayFilter)
	assert.Equal(t, `(sip) && (sip.Call-ID=="call-1@ims")`, res.EffectiveFilter)
	assert.Equal(t, []int{7, 9, 12}, res.Frames)
	assert.Equal(t, 7, res.FrameNumber)
	assert.Len(t, r.calls, 2)
}

func TestResolveFollowNotFound(t *testing.T) {
	e, _ := newTestEngine(t, func([]string) fakeProc { return fakeProc{stdout: "\"\"\t\"\"\t\"\"\n"} })
	_, err := e.ResolveFollow(context.Background(), Query{Path: "c.pcap"}, 2)
	requireCode(t, err, qerr.NotFound)
}

func TestFollowCancelledDiscardsPartialFrames(t *testing.T) {
	e, _ := newTestEngine(t, func(args []string) fakeProc {
		if hasArg(args, "quote=d") {
			return fakeProc{stdout: "\"7\"\t\"\"\t\"\"\n"}
		}
		return fakeProc{stdout: "1\n4\n"}
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r, err := e.Follow(ctx, Query{Path: "c.pcap", Limit: 10}, 4)
	requireCode(t, err, qerr.Timeout)
	assert.Nil(t, r)
}
