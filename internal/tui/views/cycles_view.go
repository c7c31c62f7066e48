package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"bwprobe/internal/stats"
	"bwprobe/internal/tui/result"
	"bwprobe/internal/tui/styles"
)

// CyclesView lists finished cycles, newest first, with the selected one
// shown in detail below the table.
type CyclesView struct {
	Summaries []stats.Summary
	Table     table.Model

	Width  int
	Height int
}

func NewCyclesView() CyclesView {
	columns := []table.Column{
		{Title: "Cycle", Width: 6},
		{Title: "Started", Width: 10},
		{Title: "Elapsed", Width: 9},
		{Title: "Downloaded", Width: 12},
		{Title: "Average", Width: 14},
		{Title: "Peak", Width: 14},
		{Title: "Failures", Width: 9},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(6),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(styles.ColorBorder).
		BorderBottom(true).
		Bold(true).
		Foreground(styles.ColorPrimary)

	s.Selected = s.Selected.
		Foreground(styles.ColorBg).
		Background(styles.ColorPrimary).
		Bold(true)

	t.SetStyles(s)

	return CyclesView{Table: t}
}

// Add records a finished cycle.
func (m *CyclesView) Add(sum stats.Summary) {
	m.Summaries = append(m.Summaries, sum)
	m.refresh()
}

func (m *CyclesView) refresh() {
	rows := make([]table.Row, len(m.Summaries))
	for i := range m.Summaries {
		s := m.Summaries[len(m.Summaries)-1-i]
		rows[i] = table.Row{
			fmt.Sprintf("%d", s.Cycle),
			s.Started.Format("15:04:05"),
			s.Elapsed.Round(time.Second).String(),
			stats.FormatBytes(s.TotalBytes),
			stats.FormatSpeed(s.Average),
			stats.FormatSpeed(s.Peak),
			fmt.Sprintf("%d", s.Failures),
		}
	}
	m.Table.SetRows(rows)
}

// Selected returns the summary under the cursor.
func (m CyclesView) Selected() *stats.Summary {
	idx := m.Table.Cursor()
	if idx < 0 || idx >= len(m.Summaries) {
		return nil
	}
	return &m.Summaries[len(m.Summaries)-1-idx]
}

func (m CyclesView) Init() tea.Cmd {
	return nil
}

func (m CyclesView) Update(msg tea.Msg) (CyclesView, tea.Cmd) {
	var cmd tea.Cmd
	if msg, ok := msg.(tea.WindowSizeMsg); ok {
		m.Width = msg.Width
		m.Height = msg.Height
		m.Table.SetWidth(msg.Width - 4)
	}

	m.Table, cmd = m.Table.Update(msg)
	return m, cmd
}

func (m CyclesView) View() string {
	s := strings.Builder{}
	s.WriteString(styles.Title.Render("📜 Finished Cycles"))
	s.WriteString("\n\n")

	if len(m.Summaries) == 0 {
		s.WriteString(styles.Subtle.Render("No cycle has finished yet."))
		return s.String()
	}

	s.WriteString(styles.Box.Render(m.Table.View()))
	s.WriteString("\n\n")
	if sel := m.Selected(); sel != nil {
		s.WriteString(result.Render(*sel))
	}
	return s.String()
}
