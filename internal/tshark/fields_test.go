package tshark

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timvw/pcap-patrol/internal/model"
	"github.com/timvw/pcap-patrol/internal/qerr"
)

func numberedLines(from, to int) string {
	var b strings.Builder
	for i := from; i <= to; i++ {
		fmt.Fprintf(&b, "%d\n", i)
	}
	return b.String()
}

func TestSplitMulti(t *testing.T) {
	tests := []struct {
		raw  string
		want any
	}{
		{"a|b|c", []string{"a", "b", "c"}},
		{"a||b", []string{"a", "b"}},
		{"plain", "plain"},
		{"", ""},
		{"|", []string{}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SplitMulti(tt.raw), "SplitMulti(%q)", tt.raw)
	}
}

func TestParseFieldRowPadsMissingColumns(t *testing.T) {
	row := ParseFieldRow([]string{"frame.number", "ip.src", "sip.Call-ID"}, "4\t10.0.0.1|10.0.0.2")
	assert.Equal(t, model.FieldRow{
		"frame.number": "4",
		"ip.src":       []string{"10.0.0.1", "10.0.0.2"},
		"sip.Call-ID":  "",
	}, row)
}

func TestFrameNumbersWindow(t *testing.T) {
	const total = 20
	full := make([]int, total)
	for i := range full {
		full[i] = i + 1
	}

	e, _ := newTestEngine(t, func([]string) fakeProc {
		return fakeProc{stdout: numberedLines(1, total)}
	})

	for offset := 0; offset <= total+2; offset++ {
		for limit := 0; limit <= total+2; limit++ {
			got, err := e.FrameNumbers(context.Background(), Query{Path: "c.pcap", Offset: offset, Limit: limit})
			require.NoError(t, err, "offset=%d limit=%d", offset, limit)

			lo := min(offset, total)
			hi := min(offset+limit, total)
			require.Equal(t, full[lo:hi], got, "offset=%d limit=%d", offset, limit)
		}
	}
}

func TestFrameNumbersTCPScenario(t *testing.T) {
	// 20 frames in file order; every fourth one from frame 3 is UDP.
	var tcp []int
	for i := 1; i <= 20; i++ {
		if i%4 != 3 {
			tcp = append(tcp, i)
		}
	}
	require.Len(t, tcp, 15)

	e, r := newTestEngine(t, func(args []string) fakeProc {
		if argValue(args, "-Y") != "tcp" {
			return fakeProc{stderr: "unexpected filter"}
		}
		var b strings.Builder
		for _, n := range tcp {
			fmt.Fprintf(&b, "%d\n", n)
		}
		return fakeProc{stdout: b.String()}
	})

	got, err := e.FrameNumbers(context.Background(), Query{Path: "c.pcap", DisplayFilter: "tcp", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, tcp[:10], got)
	assert.Equal(t, 1, r.kills, "stream should be terminated once the limit is reached")
}

func TestFrameNumbersCancelledDiscardsPartialFrames(t *testing.T) {
	e, _ := newTestEngine(t, func([]string) fakeProc {
		return fakeProc{stdout: "1\n2\n"}
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got, err := e.FrameNumbers(ctx, Query{Path: "c.pcap", Limit: 10})
	requireCode(t, err, qerr.Timeout)
	assert.Nil(t, got)
}

func TestTimelineCancelledDiscardsPartialRows(t *testing.T) {
	e, _ := newTestEngine(t, func([]string) fakeProc {
		return fakeProc{stdout: "frame.number\n1\n2\n"}
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tl, err := e.Timeline(ctx, Query{Path: "c.pcap", Limit: 10}, []string{"frame.number"})
	requireCode(t, err, qerr.Timeout)
	assert.Nil(t, tl)
}

func TestFrameNumbersZeroLimitStillReportsInvalidFilter(t *testing.T) {
	e, r := newTestEngine(t, func(args []string) fakeProc {
		if argValue(args, "-Y") == "tcp." {
			return fakeProc{stderr: "tshark: Invalid display filter \"tcp.\""}
		}
		return fakeProc{stdout: numberedLines(1, 5)}
	})

	got, err := e.FrameNumbers(context.Background(), Query{Path: "c.pcap", Limit: 0})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 1, r.kills, "tshark stops at the first data line")

	_, err = e.FrameNumbers(context.Background(), Query{Path: "c.pcap", DisplayFilter: "tcp.", Limit: 0})
	requireCode(t, err, qerr.InvalidFilter)
}

func TestFrameNumbersSkipsJunkLines(t *testing.T) {
	e, _ := newTestEngine(t, func([]string) fakeProc {
		return fakeProc{stdout: "1\n\n  \nx\n2\r\n"}
	})
	got, err := e.FrameNumbers(context.Background(), Query{Path: "c.pcap", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, got)
}

func TestFrameNumbersInvalidFilter(t *testing.T) {
	e, _ := newTestEngine(t, func([]string) fakeProc {
		return fakeProc{stderr: "tshark: Invalid display filter \"tcp.\": \"tcp.\" is not a valid protocol or protocol field.\n"}
	})
	_, err := e.FrameNumbers(context.Background(), Query{Path: "c.pcap", DisplayFilter: "tcp.", Limit: 10})
	qe := requireCode(t, err, qerr.InvalidFilter)
	assert.Equal(t, "tcp.", qe.Details["display_filter"])
	assert.Contains(t, qe.Details["stderr"], "Invalid display filter")
}

func TestFrameNumbersStderrWithoutOutput(t *testing.T) {
	e, _ := newTestEngine(t, func([]string) fakeProc {
		return fakeProc{stderr: "tshark: The file \"c.pcap\" appears to be damaged or corrupt."}
	})
	_, err := e.FrameNumbers(context.Background(), Query{Path: "c.pcap", Limit: 10})
	requireCode(t, err, qerr.Internal)
}

func TestFrameNumbersBenignStderr(t *testing.T) {
	e, _ := newTestEngine(t, func([]string) fakeProc {
		return fakeProc{stdout: "1\n2\n", stderr: "tshark: Lua: Error during loading"}
	})
	got, err := e.FrameNumbers(context.Background(), Query{Path: "c.pcap", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, got)
}

func TestFrameNumbersEmptyResult(t *testing.T) {
	e, _ := newTestEngine(t, func([]string) fakeProc { return fakeProc{} })
	got, err := e.FrameNumbers(context.Background(), Query{Path: "c.pcap", Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFrameNumbersTimeout(t *testing.T) {
	var tick int64
	clock := func() time.Time {
		tick++
		return time.Unix(tick, 0)
	}
	cfg := testConfig()
	cfg.DefaultTimeoutDuration = 3 * time.Second

	e, r := newTestEngineWithConfig(t, cfg, func([]string) fakeProc {
		return fakeProc{stdout: numberedLines(1, 100)}
	}, WithClock(clock))

	got, err := e.FrameNumbers(context.Background(), Query{Path: "c.pcap", Limit: 100})
	requireCode(t, err, qerr.Timeout)
	assert.Nil(t, got)
	assert.Equal(t, 1, r.kills)
}

func TestFrameNumbersWindowValidation(t *testing.T) {
	cfg := testConfig()
	cfg.MaxTimelineRows = 50
	e, r := newTestEngineWithConfig(t, cfg, func([]string) fakeProc { return fakeProc{} })

	for _, q := range []Query{
		{Path: "c.pcap", Limit: -1},
		{Path: "c.pcap", Offset: -1, Limit: 1},
		{Path: "c.pcap", Limit: 51},
	} {
		_, err := e.FrameNumbers(context.Background(), q)
		requireCode(t, err, qerr.InvalidArgument)
	}
	assert.Empty(t, r.calls)
}

func TestTimelineRows(t *testing.T) {
	e, r := newTestEngine(t, func([]string) fakeProc {
		return fakeProc{stdout: "frame.number\tip.src\n1\t10.0.0.1\n\n2\t10.0.0.1|10.0.0.2\n3\t10.0.0.3\n"}
	})

	tl, err := e.Timeline(context.Background(), Query{Path: "c.pcap", Limit: 2, Offset: 1}, []string{"frame.number", "ip.src"})
	require.NoError(t, err)
	assert.Empty(t, tl.Warnings)
	assert.Equal(t, []model.FieldRow{
		{"frame.number": "2", "ip.src": []string{"10.0.0.1", "10.0.0.2"}},
		{"frame.number": "3", "ip.src": "10.0.0.3"},
	}, tl.Rows)

	args := r.calls[0]
	assert.Equal(t, "header=y", args[indexOf(args, "-T")+3])
}

func indexOf(args []string, v string) int {
	for i, a := range args {
		if a == v {
			return i
		}
	}
	return -1
}

func TestTimelineHeaderMismatchWarns(t *testing.T) {
	e, _ := newTestEngine(t, func([]string) fakeProc {
		return fakeProc{stdout: "frame.number\n1\n"}
	})
	tl, err := e.Timeline(context.Background(), Query{Path: "c.pcap", Limit: 10}, []string{"frame.number", "ip.src"})
	require.NoError(t, err)
	assert.Equal(t, []string{WarnHeaderMismatch}, tl.Warnings)
	assert.Len(t, tl.Rows, 1)
}

func TestTimelineRejectsEmptyFields(t *testing.T) {
	e, r := newTestEngine(t, func([]string) fakeProc { return fakeProc{} })
	_, err := e.Timeline(context.Background(), Query{Path: "c.pcap", Limit: 10}, []string{" "})
	requireCode(t, err, qerr.InvalidArgument)
	assert.Empty(t, r.calls)
}

func TestTimelineNoOutput(t *testing.T) {
	e, _ := newTestEngine(t, func([]string) fakeProc { return fakeProc{} })
	_, err := e.Timeline(context.Background(), Query{Path: "c.pcap", Limit: 10}, []string{"frame.number"})
	requireCode(t, err, qerr.Internal)
}

func TestTimelineInvalidFieldsSuggests(t *testing.T) {
	catalog := strings.Join([]string{
		"P\tSession Initiation Protocol\tsip",
		"F\tCall-ID\tsip.Call-ID\tFT_STRING\tsip",
		"F\tCall-ID generated\tsip.Call-ID_generated\tFT_STRING\tsip",
		"F\tSource Port\ttcp.srcport\tFT_UINT16\ttcp",
	}, "\n")

	e, _ := newTestEngine(t, func(args []string) fakeProc {
		if hasArg(args, "-G") {
			return fakeProc{stdout: catalog}
		}
		return fakeProc{stderr: "tshark: Some fields aren't valid:\n\tsip.call-id\n\tno.such\n"}
	})

	fields := []string{"frame.number", "sip.call-id", "no.such"}
	_, err := e.Timeline(context.Background(), Query{Path: "c.pcap", Limit: 10}, fields)
	qe := requireCode(t, err, qerr.InvalidFields)
	assert.Equal(t, []string{"sip.call-id", "no.such"}, qe.Details["invalid"])
	assert.Equal(t, fields, qe.Details["fields"])

	suggestions := qe.Details["suggestions"].(map[string][]string)
	assert.Equal(t, []string{"sip.Call-ID", "sip.Call-ID_generated"}, suggestions["sip.call-id"])
	assert.Empty(t, suggestions["no.such"])
}

func TestInvalidFieldsSuggestionsSurviveCatalogFailure(t *testing.T) {
	e, _ := newTestEngine(t, func(args []string) fakeProc {
		if hasArg(args, "-G") {
			return fakeProc{exit: 1, stderr: "nope"}
		}
		return fakeProc{stderr: "tshark: Some fields aren't valid:\n\tbad.field\n"}
	})
	_, err := e.Timeline(context.Background(), Query{Path: "c.pcap", Limit: 10}, []string{"bad.field"})
	qe := requireCode(t, err, qerr.InvalidFields)
	assert.Equal(t, map[string][]string{"bad.field": {}}, qe.Details["suggestions"])
}

func TestClassifyStderr(t *testing.T) {
	tests := []struct {
		stderr string
		want   StderrKind
	}{
		{"", StderrBenign},
		{"tshark: Lua: warning", StderrBenign},
		{"tshark: Invalid display filter \"x\"", StderrInvalidFilter},
		{"TSHARK: INVALID DISPLAY FILTER", StderrInvalidFilter},
		{"tshark: Some fields aren't valid:\n\tfoo", StderrInvalidFields},
		{"Invalid display filter\nSome fields aren't valid", StderrInvalidFilter},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyStderr(tt.stderr), "ClassifyStderr(%q)", tt.stderr)
	}
}

func TestInvalidFieldNames(t *testing.T) {
	got := InvalidFieldNames("tshark: Some fields aren't valid:\n\tfoo.bar\n\n  baz  \nSome fields aren't valid\n")
	assert.Equal(t, []string{"foo.bar", "baz"}, got)
}

func TestFrameFields(t *testing.T) {
	e, r := newTestEngine(t, func([]string) fakeProc {
		return fakeProc{stdout: "\"12\"\t\"a \"\"quoted\"\" id\"\n"}
	})
	vals, err := e.FrameFields(context.Background(), Query{Path: "c.pcap", DisplayFilter: "ignored"}, 7,
		[]string{"http2.streamid", "sip.Call-ID", "diameter.Session-Id"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"http2.streamid":      "12",
		"sip.Call-ID":         `a "quoted" id`,
		"diameter.Session-Id": "",
	}, vals)
	assert.Equal(t, "frame.number==7", argValue(r.calls[0], "-Y"))
	assert.True(t, hasArg(r.calls[0], "quote=d"))
}

func TestFrameFieldsFailure(t *testing.T) {
	e, _ := newTestEngine(t, func([]string) fakeProc {
		return fakeProc{exit: 2, stderr: "boom"}
	})
	_, err := e.FrameFields(context.Background(), Query{Path: "c.pcap"}, 1, []string{"frame.number"})
	qe := requireCode(t, err, qerr.Internal)
	assert.Equal(t, "boom", qe.Details["stderr"])

	_, err = e.FrameFields(context.Background(), Query{Path: "c.pcap"}, 0, []string{"frame.number"})
	requireCode(t, err, qerr.InvalidArgument)
}
