package tshark

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timvw/pcap-patrol/internal/qerr"
)

func searchEngine(t *testing.T, details map[string]string) (*Engine, *fakeRunner) {
	t.Helper()
	return newTestEngine(t, func(args []string) fakeProc {
		if hasArg(args, "-V") {
			return fakeProc{stdout: details[argValue(args, "-Y")]}
		}
		return fakeProc{stdout: "1\n2\n3\n"}
	})
}

func TestSearchSubstring(t *testing.T) {
	e, r := searchEngine(t, map[string]string{
		"frame.number==1": "Frame 1\nCause: registration accepted\n",
		"frame.number==2": "Frame 2\nCause: Registration REJECTED\n",
		"frame.number==3": "Frame 3\nregistration rejected again\n",
	})

	res, err := e.Search(context.Background(), Query{Path: "c.pcap", Limit: 10}, SearchOptions{
		Text:                "registration rejected",
		MaxMatches:          10,
		MaxBytes:            1000,
		SnippetContextChars: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.FramesScanned)
	require.Len(t, res.Matches, 2)
	assert.Equal(t, 2, res.Matches[0].FrameNumber)
	assert.Equal(t, "e: Registration REJECTED\n", res.Matches[0].Snippet)
	assert.Equal(t, 3, res.Matches[1].FrameNumber)
	assert.Len(t, r.calls, 4)
}

func TestSearchCaseSensitive(t *testing.T) {
	e, _ := searchEngine(t, map[string]string{
		"frame.number==1": "Cause: Registration REJECTED",
		"frame.number==2": "Cause: registration rejected",
		"frame.number==3": "",
	})
	res, err := e.Search(context.Background(), Query{Path: "c.pcap", Limit: 10}, SearchOptions{
		Text:          "registration rejected",
		CaseSensitive: true,
		MaxMatches:    10,
		MaxBytes:      1000,
	})
	require.NoError(t, err)
	require.Len(t, res.Matches, 1)
	assert.Equal(t, 2, res.Matches[0].FrameNumber)
	assert.Equal(t, "registration rejected", res.Matches[0].Snippet)
}

func TestSearchRegexStopsAtMaxMatches(t *testing.T) {
	e, r := searchEngine(t, map[string]string{
		"frame.number==1": "Result-Code: 5001",
		"frame.number==2": "Result-Code: 5003",
		"frame.number==3": "Result-Code: 5012",
	})
	res, err := e.Search(context.Background(), Query{Path: "c.pcap", Limit: 10}, SearchOptions{
		Text:       `result-code: 50\d\d`,
		IsRegex:    true,
		MaxMatches: 2,
		MaxBytes:   1000,
	})
	require.NoError(t, err)
	require.Len(t, res.Matches, 2)
	assert.Equal(t, 3, res.FramesScanned)
	assert.Len(t, r.calls, 3, "third frame should not be fetched")
}

func TestSearchReportsTruncation(t *testing.T) {
	e, _ := searchEngine(t, map[string]string{
		"frame.number==1": "needle " + strings.Repeat("x", 100),
	})
	res, err := e.Search(context.Background(), Query{Path: "c.pcap", Limit: 1}, SearchOptions{
		Text:       "needle",
		MaxMatches: 1,
		MaxBytes:   20,
	})
	require.NoError(t, err)
	require.Len(t, res.Matches, 1)
	assert.True(t, res.Matches[0].Truncated)
}

func TestSearchValidation(t *testing.T) {
	e, r := searchEngine(t, nil)
	for _, opts := range []SearchOptions{
		{Text: "  ", MaxMatches: 1, MaxBytes: 10},
		{Text: "x", MaxMatches: 0, MaxBytes: 10},
		{Text: "(", IsRegex: true, MaxMatches: 1, MaxBytes: 10},
		{Text: "x", MaxMatches: 1, MaxBytes: 10, SnippetContextChars: -1},
		{Text: "x", MaxMatches: 1, MaxBytes: 0},
		{Text: "x", MaxMatches: 1, MaxBytes: -1},
	} {
		_, err := e.Search(context.Background(), Query{Path: "c.pcap", Limit: 10}, opts)
		requireCode(t, err, qerr.InvalidArgument)
	}
	assert.Empty(t, r.calls)
}

func TestSearchRejectsZeroMaxBytesWithoutCandidates(t *testing.T) {
	e, r := newTestEngine(t, func([]string) fakeProc { return fakeProc{} })
	res, err := e.Search(context.Background(), Query{Path: "c.pcap", Limit: 10}, SearchOptions{
		Text:       "x",
		MaxMatches: 1,
	})
	requireCode(t, err, qerr.InvalidArgument)
	assert.Nil(t, res)
	assert.Empty(t, r.calls, "no tshark process for an invalid request")
}

func TestSearchLiteralIsNotRegex(t *testing.T) {
	e, _ := searchEngine(t, map[string]string{
		"frame.number==1": "path /nudm-uecm/v1/imsi-001",
		"frame.number==2": "path /nudm-uecm/v1/imsi-0X1",
	})
	res, err := e.Search(context.Background(), Query{Path: "c.pcap", Limit: 2}, SearchOptions{
		Text:       "imsi-0.1",
		MaxMatches: 5,
		MaxBytes:   100,
	})
	require.NoError(t, err)
	assert.Empty(t, res.Matches)
}

func TestSearchMaxMatchesCapped(t *testing.T) {
	details := map[string]string{}
	e, _ := searchEngine(t, details)
	res, err := e.Search(context.Background(), Query{Path: "c.pcap", Limit: 3}, SearchOptions{
		Text:       "nothing",
		MaxMatches: MaxSearchMatches + 500,
		MaxBytes:   100,
	})
	require.NoError(t, err)
	assert.Empty(t, res.Matches)
}

func TestSnippet(t *testing.T) {
	text := "añb-MATCH-çde"
	start := strings.Index(text, "MATCH")
	end := start + len("MATCH")

	assert.Equal(t, "MATCH", Snippet(text, start, end, 0))
	assert.Equal(t, "b-MATCH-ç", Snippet(text, start, end, 2))
	assert.Equal(t, "ñb-MATCH-çd", Snippet(text, start, end, 3))
	assert.Equal(t, text, Snippet(text, start, end, 100))
}
