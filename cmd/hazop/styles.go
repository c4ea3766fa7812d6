package main

import (
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"hazop/internal/stage"
)

// Semantic colors
var (
	colorSuccess = lipgloss.Color("#8BC34A")
	colorWarning = lipgloss.Color("#FFC107")
	colorError   = lipgloss.Color("#e53935")
	colorInfo    = lipgloss.Color("#2196F3")
	colorMuted   = lipgloss.AdaptiveColor{Light: "#6b7280", Dark: "#9ca3af"}
	colorBorder  = lipgloss.AdaptiveColor{Light: "#dce0e5", Dark: "#2a3850"}
)

// styles holds the console styles for progress and summaries.
type styles struct {
	Header  lipgloss.Style
	Muted   lipgloss.Style
	Info    lipgloss.Style
	Summary lipgloss.Style
	Label   lipgloss.Style
	status  map[stage.Status]lipgloss.Style
	plain   bool
}

func newStyles(plain bool) styles {
	s := styles{
		Header: lipgloss.NewStyle().Bold(true),
		Muted:  lipgloss.NewStyle().Foreground(colorMuted),
		Info:   lipgloss.NewStyle().Foreground(colorInfo),
		Summary: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1),
		Label: lipgloss.NewStyle().Width(14).Foreground(colorMuted),
		status: map[stage.Status]lipgloss.Style{
			stage.StatusSuccess: lipgloss.NewStyle().Foreground(colorSuccess).Bold(true),
			stage.StatusFailed:  lipgloss.NewStyle().Foreground(colorError).Bold(true),
			stage.StatusTimeout: lipgloss.NewStyle().Foreground(colorWarning).Bold(true),
			stage.StatusError:   lipgloss.NewStyle().Foreground(colorError).Bold(true),
			stage.StatusSkipped: lipgloss.NewStyle().Foreground(colorMuted),
		},
	}
	if plain {
		s.plain = true
		s.Header = lipgloss.NewStyle()
		s.Muted = lipgloss.NewStyle()
		s.Info = lipgloss.NewStyle()
		s.Summary = lipgloss.NewStyle()
		s.Label = lipgloss.NewStyle().Width(14)
		for k := range s.status {
			s.status[k] = lipgloss.NewStyle()
		}
	}
	return s
}

// Table returns a table with the given headers. Plain output drops the
// borders and leaves space-aligned columns.
func (s styles) Table(headers ...string) *table.Table {
	t := table.New().Headers(headers...)
	if s.plain {
		return t.Border(lipgloss.HiddenBorder()).
			BorderTop(false).BorderBottom(false).BorderLeft(false).BorderRight(false).
			BorderHeader(false).BorderColumn(false).
			StyleFunc(func(row, col int) lipgloss.Style {
				if col == len(headers)-1 {
					return lipgloss.NewStyle()
				}
				return lipgloss.NewStyle().PaddingRight(2)
			})
	}
	return t.Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorBorder)).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return s.Header.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
}

// Status renders a status token.
func (s styles) Status(st stage.Status) string {
	return s.status[st].Render(string(st))
}

// Tag renders the bracketed progress prefix for a status.
func (s styles) Tag(st stage.Status) string {
	tag := "[FAIL]"
	switch st {
	case stage.StatusSuccess:
		tag = "[OK]"
	case stage.StatusTimeout:
		tag = "[TIME]"
	case stage.StatusSkipped:
		tag = "[SKIP]"
	}
	return s.status[st].Render(tag)
}

// plainOutput reports whether colors should be disabled.
func plainOutput() bool {
	if os.Getenv("NO_COLOR") != "" {
		return true
	}
	term := strings.ToLower(os.Getenv("TERM"))
	return term == "dumb"
}

// darkBackground guesses the terminal background from COLORFGBG ("fg;bg").
func darkBackground() bool {
	parts := strings.Split(os.Getenv("COLORFGBG"), ";")
	if len(parts) != 2 {
		return true
	}
	bg, err := strconv.Atoi(parts[1])
	if err != nil {
		return true
	}
	// 0-6 and 8 (dark grey) are dark backgrounds
	return (bg >= 0 && bg <= 6) || bg == 8
}
