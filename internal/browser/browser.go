// Package browser is an interactive packet-list browser over a capture.
//
// The list view pages through timeline rows; enter opens the dissection of
// the selected frame in a scrollable viewport.
package browser

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/timvw/pcap-patrol/internal/model"
	"github.com/timvw/pcap-patrol/internal/tshark"
)

// FrameField is the field every page must carry to open frame details.
const FrameField = "frame.number"

// DefaultFields is the column set shown when none is configured.
var DefaultFields = []string{
	FrameField,
	"frame.time_relative",
	"ip.src",
	"ip.dst",
	"_ws.col.Protocol",
	"_ws.col.Info",
}

// DefaultPageSize is the number of rows fetched per page.
const DefaultPageSize = 100

// Source supplies pages of rows and single-frame dissections.
type Source interface {
	Page(ctx context.Context, fields []string, offset, limit int) (*model.Timeline, error)
	Detail(ctx context.Context, frame int) (*model.FrameDetail, error)
}

// EngineSource reads pages and details through a tshark Engine.
type EngineSource struct {
	Engine   *tshark.Engine
	Query    tshark.Query
	Layers   []string
	MaxBytes int
}

// Page returns limit timeline rows starting at offset.
func (s *EngineSource) Page(ctx context.Context, fields []string, offset, limit int) (*model.Timeline, error) {
	return s.Engine.Timeline(ctx, s.Query.WithWindow(limit, offset), fields)
}

// Detail returns the full dissection of frame.
func (s *EngineSource) Detail(ctx context.Context, frame int) (*model.FrameDetail, error) {
	return s.Engine.FrameDetail(ctx, s.Query, tshark.DetailOptions{
		FrameNumber:    frame,
		Layers:         s.Layers,
		RestrictLayers: len(s.Layers) > 0,
		Verbosity:      tshark.VerbosityFull,
		MaxBytes:       s.MaxBytes,
	})
}

type viewMode int

const (
	modeList viewMode = iota
	modeDetail
)

// messages
type pageMsg struct {
	offset int
	tl     *model.Timeline
	err    error
}

type detailMsg struct {
	detail *model.FrameDetail
	err    error
}

// Browser runs the interactive packet browser.
type Browser struct {
	Source   Source
	Fields   []string // defaults to DefaultFields
	PageSize int      // defaults to DefaultPageSize
	Theme    Theme
	Title    string
}

// Run blocks until the user quits.
func (b *Browser) Run(ctx context.Context) error {
	m := newModel(ctx, b)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}

type browserModel struct {
	src      Source
	ctx      context.Context
	title    string
	fields   []string
	pageSize int
	st       styles

	mode    viewMode
	offset  int
	rows    []model.FieldRow
	hasNext bool

	table    table.Model
	viewport viewport.Model
	detail   *model.FrameDetail

	loading bool
	message string

	width  int
	height int
}

func newModel(ctx context.Context, b *Browser) *browserModel {
	fields := b.Fields
	if len(fields) == 0 {
		fields = DefaultFields
	}
	if !containsField(fields, FrameField) {
		fields = append([]string{FrameField}, fields...)
	}
	pageSize := b.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	theme := b.Theme
	if theme.Primary == "" {
		theme = DarkTheme()
	}
	st := newStyles(theme)

	t := table.New(
		table.WithColumns(columnsFor(fields, 120)),
		table.WithFocused(true),
		table.WithHeight(20),
	)
	t.SetStyles(st.table)

	return &browserModel{
		src:      b.Source,
		ctx:      ctx,
		title:    b.Title,
		fields:   fields,
		pageSize: pageSize,
		st:       st,
		table:    t,
		viewport: viewport.New(120, 20),
	}
}

func (m *browserModel) Init() tea.Cmd {
	return m.loadPage(0)
}

// loadPage fetches one row more than a page to learn whether a next page
// exists.
func (m *browserModel) loadPage(offset int) tea.Cmd {
	m.loading = true
	src, ctx, fields, limit := m.src, m.ctx, m.fields, m.pageSize+1
	return func() tea.Msg {
		tl, err := src.Page(ctx, fields, offset, limit)
		return pageMsg{offset: offset, tl: tl, err: err}
	}
}

func (m *browserModel) loadDetail(frame int) tea.Cmd {
	m.loading = true
	src, ctx := m.src, m.ctx
	return func() tea.Msg {
		d, err := src.Detail(ctx, frame)
		return detailMsg{detail: d, err: err}
	}
}

func (m *browserModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.mode == modeDetail {
			return m.handleDetailKey(msg)
		}
		return m.handleListKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		return m, nil

	case pageMsg:
		m.loading = false
		if msg.err != nil {
			m.message = "Error: " + msg.err.Error()
			return m, nil
		}
		m.message = ""
		m.offset = msg.offset
		rows := msg.tl.Rows
		m.hasNext = len(rows) > m.pageSize
		if m.hasNext {
			rows = rows[:m.pageSize]
		}
		m.rows = rows
		m.table.SetRows(tableRows(m.fields, rows))
		m.table.SetCursor(0)
		if len(msg.tl.Warnings) > 0 {
			m.message = "Warnings: " + strings.Join(msg.tl.Warnings, ", ")
		}
		return m, nil

	case detailMsg:
		m.loading = false
		if msg.err != nil {
			m.message = "Error: " + msg.err.Error()
			return m, nil
		}
		m.message = ""
		m.detail = msg.detail
		m.viewport.SetContent(msg.detail.Text)
		m.viewport.GotoTop()
		m.mode = modeDetail
		return m, nil
	}

	return m, nil
}

func (m *browserModel) handleListKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "n", "right", "pgdown":
		if m.loading || !m.hasNext {
			return m, nil
		}
		return m, m.loadPage(m.offset + m.pageSize)

	case "p", "left", "pgup":
		if m.loading || m.offset == 0 {
			return m, nil
		}
		return m, m.loadPage(max(m.offset-m.pageSize, 0))

	case "r":
		if m.loading {
			return m, nil
		}
		return m, m.loadPage(m.offset)

	case "enter":
		if m.loading {
			return m, nil
		}
		frame, ok := m.selectedFrame()
		if !ok {
			m.message = "No frame number in selected row"
			return m, nil
		}
		return m, m.loadDetail(frame)
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *browserModel) handleDetailKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "esc", "backspace", "left", "h":
		m.mode = modeList
		m.detail = nil
		return m, nil
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// selectedFrame returns the frame number of the row under the cursor.
func (m *browserModel) selectedFrame() (int, bool) {
	i := m.table.Cursor()
	if i < 0 || i >= len(m.rows) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(cellText(m.rows[i][FrameField])))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func (m *browserModel) resize() {
	// title + status line, plus the table header and its border
	h := m.height - 4
	if h < 1 {
		h = 1
	}
	m.table.SetColumns(columnsFor(m.fields, m.width))
	m.table.SetHeight(h)
	m.table.SetWidth(m.width)
	m.viewport.Width = m.width
	m.viewport.Height = m.height - 2
}

func (m *browserModel) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder
	title := "Packet Browser"
	if m.title != "" {
		title += "  " + m.title
	}
	b.WriteString(m.st.title.Render(title))
	b.WriteString("  ")

	switch m.mode {
	case modeDetail:
		if m.detail != nil {
			b.WriteString(m.st.frame.Render(fmt.Sprintf("frame %d", m.detail.FrameNumber)))
			b.WriteString("  ")
		}
		b.WriteString(m.st.dim.Render("↑↓/PgUp/PgDn=scroll  Esc=back  q=quit"))
		b.WriteString("\n")
		b.WriteString(m.viewport.View())
		b.WriteString("\n")
		if m.detail != nil && m.detail.Truncated {
			b.WriteString(m.st.warn.Render("dissection truncated"))
			b.WriteString("  ")
		}
		b.WriteString(m.st.status.Render(fmt.Sprintf("%3.f%%", m.viewport.ScrollPercent()*100)))
		return b.String()
	}

	b.WriteString(m.st.dim.Render("↑↓=select  Enter=detail  n/p=page  r=reload  q=quit"))
	b.WriteString("\n")
	b.WriteString(m.table.View())
	b.WriteString("\n")
	b.WriteString(m.statusLine())
	return b.String()
}

func (m *browserModel) statusLine() string {
	if m.loading {
		return m.st.warn.Render("loading...")
	}
	if strings.HasPrefix(m.message, "Error") {
		return m.st.err.Render(m.message)
	}
	status := fmt.Sprintf("rows %d-%d", m.offset+1, m.offset+len(m.rows))
	if len(m.rows) == 0 {
		status = "no rows"
	}
	if m.hasNext {
		status += "  (more)"
	}
	if m.message != "" {
		status += "  " + m.message
	}
	return m.st.status.Render(status)
}

// columnsFor splits width across fields. The frame column stays narrow and
// the last column takes what is left.
func columnsFor(fields []string, width int) []table.Column {
	cols := make([]table.Column, len(fields))
	remaining := width - 2*len(fields)
	for i, f := range fields {
		w := 16
		switch {
		case f == FrameField:
			w = 8
		case i == len(fields)-1:
			w = max(remaining, 16)
		}
		remaining -= w
		cols[i] = table.Column{Title: f, Width: w}
	}
	return cols
}

func tableRows(fields []string, rows []model.FieldRow) []table.Row {
	out := make([]table.Row, len(rows))
	for i, r := range rows {
		row := make(table.Row, len(fields))
		for j, f := range fields {
			row[j] = cellText(r[f])
		}
		out[i] = row
	}
	return out
}

// cellText renders a field value. Multi-occurrence values are joined with
// commas.
func cellText(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case []string:
		return strings.Join(v, ",")
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func containsField(fields []string, name string) bool {
	for _, f := range fields {
		if f == name {
			return true
		}
	}
	return false
}
