package browser

import (
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
)

// Theme defines all colors used by the packet browser.
// Use DarkTheme() or LightTheme() to get a pre-built theme,
// or construct a custom Theme.
type Theme struct {
	Primary        lipgloss.Color // title, cursor
	Secondary      lipgloss.Color // selected row text
	Error          lipgloss.Color // query errors
	Warning        lipgloss.Color // loading, truncation notes
	Info           lipgloss.Color // frame numbers
	Text           lipgloss.Color
	TextMuted      lipgloss.Color // hints, status line
	BackgroundElem lipgloss.Color // selected row background
	Border         lipgloss.Color
}

// DarkTheme returns the default dark theme.
func DarkTheme() Theme {
	return Theme{
		Primary:        lipgloss.Color("#fab283"),
		Secondary:      lipgloss.Color("#5c9cf5"),
		Error:          lipgloss.Color("#e06c75"),
		Warning:        lipgloss.Color("#f5a742"),
		Info:           lipgloss.Color("#56b6c2"),
		Text:           lipgloss.Color("#eeeeee"),
		TextMuted:      lipgloss.Color("#808080"),
		BackgroundElem: lipgloss.Color("#1e1e1e"),
		Border:         lipgloss.Color("#484848"),
	}
}

// LightTheme returns a light theme for bright terminal backgrounds.
func LightTheme() Theme {
	return Theme{
		Primary:        lipgloss.Color("#b35c00"),
		Secondary:      lipgloss.Color("#0550ae"),
		Error:          lipgloss.Color("#cf222e"),
		Warning:        lipgloss.Color("#bf8700"),
		Info:           lipgloss.Color("#0969da"),
		Text:           lipgloss.Color("#1f2328"),
		TextMuted:      lipgloss.Color("#656d76"),
		BackgroundElem: lipgloss.Color("#f6f8fa"),
		Border:         lipgloss.Color("#d0d7de"),
	}
}

// ThemeByName returns a theme by name. Defaults to dark.
func ThemeByName(name string) Theme {
	switch name {
	case "light":
		return LightTheme()
	default:
		return DarkTheme()
	}
}

// styles holds all lipgloss styles derived from a Theme.
type styles struct {
	title  lipgloss.Style
	err    lipgloss.Style
	warn   lipgloss.Style
	dim    lipgloss.Style
	status lipgloss.Style
	frame  lipgloss.Style
	table  table.Styles
}

func newStyles(t Theme) styles {
	ts := table.DefaultStyles()
	ts.Header = ts.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(t.Border).
		BorderBottom(true).
		Bold(true)
	ts.Selected = ts.Selected.
		Foreground(t.Secondary).
		Background(t.BackgroundElem).
		Bold(true)
	ts.Cell = ts.Cell.Foreground(t.Text)

	return styles{
		title:  lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		err:    lipgloss.NewStyle().Foreground(t.Error),
		warn:   lipgloss.NewStyle().Foreground(t.Warning),
		dim:    lipgloss.NewStyle().Foreground(t.TextMuted),
		status: lipgloss.NewStyle().Foreground(t.TextMuted),
		frame:  lipgloss.NewStyle().Bold(true).Foreground(t.Info),
		table:  ts,
	}
}
