package tshark

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/timvw/pcap-patrol/internal/config"
	"github.com/timvw/pcap-patrol/internal/model"
	"github.com/timvw/pcap-patrol/internal/qerr"
)

// Column is one exported packet list column.
type Column = config.Column

// MaxPreviewRows caps Preview.
const MaxPreviewRows = 200

// ExportTimeLayout is the layout of the reformatted time column.
const ExportTimeLayout = "2006-01-02 15:04:05.000000"

// DefaultColumns is the standard packet list: the classic Wireshark
// columns followed by subscriber, session and transport identifiers.
var DefaultColumns = []Column{
	{Name: "No", Field: "frame.number"},
	{Name: "Time", Field: "frame.time_epoch"},
	{Name: "Source", Field: "_ws.col.Source"},
	{Name: "Destination", Field: "_ws.col.Destination"},
	{Name: "Protocol", Field: "_ws.col.Protocol"},
	{Name: "Length", Field: "frame.len"},
	{Name: "Info", Field: "_ws.col.Info"},
	{Name: "IMSI", Field: "e212.imsi"},
	{Name: "SUCI", Field: "nas_5gs.mm.suci.scheme_output"},
	{Name: "SUCI_NAI", Field: "nas_5gs.mm.suci.nai"},
	{Name: "RAN_UE_NGAP_ID", Field: "ngap.RAN_UE_NGAP_ID"},
	{Name: "AMF_UE_NGAP_ID", Field: "ngap.AMF_UE_NGAP_ID"},
	{Name: "NAS_PDU_SESSION_ID", Field: "nas_5gs.pdu_session_id"},
	{Name: "NGAP_PDU_SESSION_ID", Field: "ngap.pDUSessionID"},
	{Name: "DIAMETER_CMD_CODE", Field: "diameter.cmd.code"},
	{Name: "DIAMETER_APP_ID", Field: "diameter.applicationId"},
	{Name: "DIAMETER_SESSION_ID", Field: "diameter.Session-Id"},
	{Name: "DIAMETER_RESULT_CODE", Field: "diameter.Result-Code"},
	{Name: "DIAMETER_ORIGIN_HOST", Field: "diameter.Origin-Host"},
	{Name: "DIAMETER_DEST_HOST", Field: "diameter.Destination-Host"},
	{Name: "DIAMETER_CC_REQUEST_TYPE", Field: "diameter.CC-Request-Type"},
	{Name: "DIAMETER_SUBSCRIPTION_ID_DATA", Field: "diameter.Subscription-Id-Data"},
	{Name: "DIAMETER_FLOW_DESCRIPTION", Field: "diameter.Flow-Description"},
	{Name: "PFCP_SEID", Field: "pfcp.seid"},
	{Name: "PFCP_FSEID_IPV4", Field: "pfcp.f_seid.ipv4"},
	{Name: "GTP_TEID", Field: "gtp.teid"},
	{Name: "GTPV2_TEID", Field: "gtpv2.teid"},
	{Name: "HTTP2_METHOD", Field: "http2.headers.method"},
	{Name: "HTTP2_PATH", Field: "http2.headers.path"},
	{Name: "HTTP2_STATUS", Field: "http2.headers.status"},
	{Name: "HTTP2_STREAMID", Field: "http2.streamid"},
	{Name: "HTTP2_TYPE", Field: "http2.type"},
	{Name: "HTTP2_FLAGS", Field: "http2.flags"},
	{Name: "SCTP_SPORT", Field: "sctp.srcport"},
	{Name: "SCTP_DPORT", Field: "sctp.dstport"},
	{Name: "TCP_SPORT", Field: "tcp.srcport"},
	{Name: "TCP_DPORT", Field: "tcp.dstport"},
	{Name: "UDP_SPORT", Field: "udp.srcport"},
	{Name: "UDP_DPORT", Field: "udp.dstport"},
	{Name: "IP_SRC", Field: "ip.src"},
	{Name: "IP_DST", Field: "ip.dst"},
	{Name: "IPV6_SRC", Field: "ipv6.src"},
	{Name: "IPV6_DST", Field: "ipv6.dst"},
}

// BuildColumns assembles the export column list. Blank entries are
// skipped; a name seen earlier wins.
func BuildColumns(includeDefaults bool, extra ...[]Column) ([]Column, error) {
	var cols []Column
	seen := make(map[string]bool)
	add := func(c Column) {
		c.Name = strings.TrimSpace(c.Name)
		c.Field = strings.TrimSpace(c.Field)
		if c.Name == "" || c.Field == "" || seen[c.Name] {
			return
		}
		seen[c.Name] = true
		cols = append(cols, c)
	}
	if includeDefaults {
		for _, c := range DefaultColumns {
			add(c)
		}
	}
	for _, list := range extra {
		for _, c := range list {
			add(c)
		}
	}
	if len(cols) == 0 {
		return nil, qerr.New(qerr.InvalidArgument, "no columns selected")
	}
	return cols, nil
}

// ExportOptions describes a packet list export.
type ExportOptions struct {
	Columns    []Column
	OutputPath string
}

// ExportPacketList streams every frame matching q into a tab-separated
// file at opts.OutputPath. The file is removed if the export fails.
func (e *Engine) ExportPacketList(ctx context.Context, q Query, opts ExportOptions) (r *model.ExportResult, err error) {
	ctx, done := e.begin(ctx, "export", q)
	defer func() {
		rows := 0
		if r != nil {
			rows = r.RowsWritten
		}
		err = done(err, rows)
	}()

	cfg := e.store.Current()
	cols, err := BuildColumns(false, opts.Columns)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(opts.OutputPath) == "" {
		return nil, qerr.New(qerr.InvalidArgument, "output path is empty")
	}
	fields := make([]string, len(cols))
	names := make([]string, len(cols))
	for i, c := range cols {
		fields[i] = c.Field
		names[i] = c.Name
	}
	args, err := composeArgs(cfg.TsharkPath, q, q.DisplayFilter, fieldsOutput(fields, fieldsFormat{header: "n", quote: true}))
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(opts.OutputPath), 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.Create(opts.OutputPath)
	if err != nil {
		return nil, fmt.Errorf("create export file: %w", err)
	}
	removeFile := true
	defer func() {
		if removeFile {
			f.Close()
			os.Remove(opts.OutputPath)
		}
	}()

	w := bufio.NewWriter(f)
	if _, err := w.WriteString(strings.Join(names, "\t") + "\n"); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}

	e.logger.Debug("starting tshark export", zap.Strings("args", args), zap.String("output", opts.OutputPath))
	rows := 0
	out, err := e.stream(ctx, "export", args, cfg.ExportTimeoutDuration, func(line string) (bool, error) {
		if line == "" {
			return false, nil
		}
		parts := splitQuotedTSV(line)
		for len(parts) < len(cols) {
			parts = append(parts, "")
		}
		if len(parts) > 1 {
			if ts, ok := FormatEpoch(parts[1], cfg.TimeOffsetHours); ok {
				parts[1] = ts
			} else {
				parts[1] = strings.TrimSpace(parts[1])
			}
		}
		if _, err := w.WriteString(quoteTSV(parts)); err != nil {
			return true, fmt.Errorf("write row: %w", err)
		}
		rows++
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	if err := e.checkStderr(ctx, cfg, out, q.DisplayFilter, fields); err != nil {
		return nil, err
	}
	if err := w.Flush(); err != nil {
		return nil, fmt.Errorf("flush export file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close export file: %w", err)
	}
	removeFile = false

	result := &model.ExportResult{OutputPath: opts.OutputPath, RowsWritten: rows, Warnings: []string{}}
	if st, err := os.Stat(opts.OutputPath); err == nil {
		result.FileSizeBytes = st.Size()
	}
	return result, nil
}

// FormatEpoch renders an epoch-seconds string as UTC shifted by
// offsetHours. ok is false when raw is empty or not a number.
func FormatEpoch(raw string, offsetHours int) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return raw, false
	}
	t, ok := parseEpoch(s)
	if !ok {
		return raw, false
	}
	return t.UTC().Add(time.Duration(offsetHours) * time.Hour).Format(ExportTimeLayout), true
}

// parseEpoch parses "sec[.frac]" exactly and anything else ParseFloat
// accepts approximately.
func parseEpoch(s string) (time.Time, bool) {
	sec, frac, _ := strings.Cut(s, ".")
	if isDigits(strings.TrimPrefix(sec, "-")) && (frac == "" || isDigits(frac)) {
		secs, err := strconv.ParseInt(sec, 10, 64)
		if err == nil {
			if len(frac) > 9 {
				frac = frac[:9]
			}
			frac += strings.Repeat("0", 9-len(frac))
			nanos, _ := strconv.ParseInt(frac, 10, 64)
			if strings.HasPrefix(sec, "-") {
				nanos = -nanos
			}
			return time.Unix(secs, nanos), true
		}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || math.Abs(v) > math.MaxInt64/2 {
		return time.Time{}, false
	}
	whole := math.Floor(v)
	return time.Unix(int64(whole), int64((v-whole)*1e9)), true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// quoteTSV renders one row with every field double-quoted.
func quoteTSV(fields []string) string {
	var b strings.Builder
	for i, f := range fields {
		if i > 0 {
			b.WriteByte('\t')
		}
		b.WriteByte('"')
		b.WriteString(strings.ReplaceAll(f, `"`, `""`))
		b.WriteByte('"')
	}
	b.WriteByte('\n')
	return b.String()
}

// ExportPath names an export file: <dir>/<base>.packet_list.<UTC ts>.tsv.
// Characters outside letters, digits, "-", "_" and "." become "_".
func ExportPath(dir, base string, now time.Time) string {
	base = strings.TrimSpace(base)
	if base == "" {
		base = "capture"
	}
	safe := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' || r == '.' {
			return r
		}
		return '_'
	}, base)
	return filepath.Join(dir, safe+".packet_list."+now.UTC().Format("20060102T150405Z")+".tsv")
}

// CaptureBase is the capture file name without its extension.
func CaptureBase(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Preview reads up to n rows of an export file keyed by column name.
func Preview(path string, n int) ([]map[string]string, error) {
	if n < 0 {
		return nil, qerr.WithDetails(qerr.InvalidArgument, "preview_rows must be non-negative", map[string]any{"preview_rows": n})
	}
	if n > MaxPreviewRows {
		n = MaxPreviewRows
	}
	rows := []map[string]string{}
	if n == 0 {
		return rows, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open export file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = '\t'
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return rows, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read export header: %w", err)
	}
	for len(rows) < n {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read export row: %w", err)
		}
		row := make(map[string]string, len(header))
		for i, name := range header {
			if i < len(rec) {
				row[name] = rec[i]
			} else {
				row[name] = ""
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
