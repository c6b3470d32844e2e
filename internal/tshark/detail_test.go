package tshark

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timvw/pcap-patrol/internal/qerr"
)

func TestTruncate(t *testing.T) {
	texts := []string{"", "abc", "héllo wörld", "日本語のテキスト", strings.Repeat("x", 100)}
	for _, text := range texts {
		for n := 1; n <= len(text)+2; n++ {
			got, truncated := Truncate(text, n)
			assert.Equal(t, len(text) > n, truncated, "Truncate(%q, %d)", text, n)
			assert.Equal(t, min(n, len(text)), len(got), "Truncate(%q, %d)", text, n)
			assert.True(t, strings.HasPrefix(text, got))
		}
	}
}

func TestTruncateReplacesInvalidUTF8(t *testing.T) {
	got, truncated := Truncate("a\xffb", 100)
	assert.False(t, truncated)
	assert.Equal(t, "a\uFFFDb", got)
}

func TestLayerProtocols(t *testing.T) {
	got := LayerProtocols([]string{"ngap", "nas_5gs", "nas-5gs", "bogus", " sctp ", "ngap"})
	assert.Equal(t, []string{"ngap", "nas-5gs", "sctp"}, got)
	assert.Empty(t, LayerProtocols(nil))
}

func TestFrameDetailArgs(t *testing.T) {
	e, r := newTestEngine(t, func([]string) fakeProc {
		return fakeProc{stdout: "Frame 5: 120 bytes on wire\nNG Application Protocol\n"}
	})
	q := Query{Path: "c.pcap", DisplayFilter: "ngap", DecodeAs: []string{"sctp.port==38412,ngap"}}

	d, err := e.FrameDetail(context.Background(), q, DetailOptions{
		FrameNumber:    5,
		Layers:         []string{"ngap", "nas_5gs", "unknown"},
		RestrictLayers: true,
		Verbosity:      VerbosityFull,
		MaxBytes:       1000,
	})
	require.NoError(t, err)
	assert.Equal(t, 5, d.FrameNumber)
	assert.False(t, d.Truncated)
	assert.Contains(t, d.Text, "NG Application Protocol")

	assert.Equal(t, []string{
		"tshark", "-d", "sctp.port==38412,ngap", "-r", "c.pcap",
		"-Y", "frame.number==5", "-V", "-x", "-O", "ngap,nas-5gs",
	}, r.calls[0])
}

func TestFrameDetailUnrestrictedIgnoresLayers(t *testing.T) {
	e, r := newTestEngine(t, func([]string) fakeProc { return fakeProc{stdout: "Frame 1\n"} })
	_, err := e.FrameDetail(context.Background(), Query{Path: "c.pcap"}, DetailOptions{
		FrameNumber: 1,
		Layers:      []string{"ngap"},
		MaxBytes:    10,
	})
	require.NoError(t, err)
	assert.False(t, hasArg(r.calls[0], "-O"))
	assert.False(t, hasArg(r.calls[0], "-x"))
}

func TestFrameDetailTruncates(t *testing.T) {
	e, _ := newTestEngine(t, func([]string) fakeProc { return fakeProc{stdout: strings.Repeat("ab", 50)} })
	d, err := e.FrameDetail(context.Background(), Query{Path: "c.pcap"}, DetailOptions{FrameNumber: 1, MaxBytes: 7})
	require.NoError(t, err)
	assert.True(t, d.Truncated)
	assert.Equal(t, "abababa", d.Text)
}

func TestFrameDetailExitCodes(t *testing.T) {
	e, _ := newTestEngine(t, func([]string) fakeProc { return fakeProc{exit: 2, stderr: "read error"} })
	_, err := e.FrameDetail(context.Background(), Query{Path: "c.pcap"}, DetailOptions{FrameNumber: 1, MaxBytes: 10})
	qe := requireCode(t, err, qerr.Internal)
	assert.Equal(t, "read error", qe.Details["stderr"])

	e, _ = newTestEngine(t, func([]string) fakeProc { return fakeProc{exit: 2, stdout: "Frame 1\n", stderr: "cut short"} })
	d, err := e.FrameDetail(context.Background(), Query{Path: "c.pcap"}, DetailOptions{FrameNumber: 1, MaxBytes: 100})
	require.NoError(t, err)
	assert.Equal(t, "Frame 1\n", d.Text)
}

func TestFrameDetailValidation(t *testing.T) {
	e, r := newTestEngine(t, func([]string) fakeProc { return fakeProc{} })
	for _, opts := range []DetailOptions{
		{FrameNumber: 0, MaxBytes: 10},
		{FrameNumber: 1, MaxBytes: 0},
		{FrameNumber: 1, MaxBytes: 10, Verbosity: "verbose"},
	} {
		_, err := e.FrameDetail(context.Background(), Query{Path: "c.pcap"}, opts)
		requireCode(t, err, qerr.InvalidArgument)
	}
	assert.Empty(t, r.calls)
}

func TestFrameDetails(t *testing.T) {
	e, r := newTestEngine(t, func(args []string) fakeProc {
		return fakeProc{stdout: "detail of " + argValue(args, "-Y")}
	})
	got, err := e.FrameDetails(context.Background(), Query{Path: "c.pcap"}, []int{3, 1}, DetailOptions{MaxBytes: 100})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 3, got[0].FrameNumber)
	assert.Equal(t, "detail of frame.number==3", got[0].Text)
	assert.Equal(t, 1, got[1].FrameNumber)
	assert.Len(t, r.calls, 2)

	_, err = e.FrameDetails(context.Background(), Query{Path: "c.pcap"}, nil, DetailOptions{MaxBytes: 100})
	requireCode(t, err, qerr.InvalidArgument)

	tooMany := make([]int, MaxDetailFrames+1)
	for i := range tooMany {
		tooMany[i] = i + 1
	}
	_, err = e.FrameDetails(context.Background(), Query{Path: "c.pcap"}, tooMany, DetailOptions{MaxBytes: 100})
	requireCode(t, err, qerr.InvalidArgument)
}
