package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/samber/lo"

	"bwprobe/internal/runner"
	"bwprobe/internal/stats"
	"bwprobe/internal/tui/components"
	"bwprobe/internal/tui/styles"
)

// DashboardView shows the running cycle: progress, throughput cards and a
// sparkline of recent samples.
type DashboardView struct {
	Info     runner.CycleInfo
	Last     stats.Sample
	Peak     float64
	Running  bool
	Previous *stats.Summary

	// Live returns the counters of the running cycle. May be nil.
	Live func() *stats.Stats

	Progress   progress.Model
	Throughput components.Sparkline

	Width  int
	Height int
}

func NewDashboardView(live func() *stats.Stats, width int) DashboardView {
	prog := progress.New(
		progress.WithGradient("#7D56F4", "#04B575"),
		progress.WithWidth(max(width-10, 10)),
		progress.WithoutPercentage(),
	)

	return DashboardView{
		Live:       live,
		Progress:   prog,
		Throughput: components.NewSparkline(max(width-12, 10), "Throughput (Mbps)", styles.Speed),
		Width:      width,
	}
}

func (m DashboardView) Init() tea.Cmd {
	return nil
}

func (m DashboardView) Update(msg tea.Msg) (DashboardView, tea.Cmd) {
	switch msg := msg.(type) {
	case runner.Update:
		switch msg.Kind {
		case runner.UpdateCycleStarted:
			m.Info = msg.Info
			m.Last = stats.Sample{Cycle: msg.Info.Cycle}
			m.Peak = 0
			m.Running = true
			m.Throughput.Reset()
			return m, m.Progress.SetPercent(0)

		case runner.UpdateSample:
			m.Last = msg.Sample
			m.Peak = max(m.Peak, msg.Sample.Speed)
			m.Throughput.Add(stats.Mbps(msg.Sample.Speed))
			return m, m.Progress.SetPercent(m.percent(msg.Sample.Elapsed))

		case runner.UpdateCycleFinished:
			sum := msg.Summary
			m.Previous = &sum
			m.Running = false
			if m.Info.Config.Bounded() {
				return m, m.Progress.SetPercent(1)
			}
		}

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.Progress.Width = max(msg.Width-10, 10)
		m.Throughput.SetWidth(max(msg.Width-12, 10))

	case progress.FrameMsg:
		newModel, cmd := m.Progress.Update(msg)
		if newModel, ok := newModel.(progress.Model); ok {
			m.Progress = newModel
		}
		return m, cmd
	}

	return m, nil
}

func (m DashboardView) percent(elapsed time.Duration) float64 {
	d := m.Info.Config.Duration
	if d <= 0 {
		return 0
	}
	return min(float64(elapsed)/float64(d), 1)
}

func (m DashboardView) View() string {
	s := strings.Builder{}

	if m.Info.Cycle == 0 {
		s.WriteString(styles.Subtle.Render("Waiting for the first cycle..."))
		return s.String()
	}

	// --- Header ---
	cfg := m.Info.Config
	timer := m.Last.Elapsed.Round(time.Second).String()
	if cfg.Bounded() {
		timer = fmt.Sprintf("%s / %s", timer, cfg.Duration)
	}
	cycleLabel := fmt.Sprintf("Cycle %d", m.Info.Cycle)
	if cfg.Cycles > 1 {
		cycleLabel = fmt.Sprintf("Cycle %d of %d", m.Info.Cycle, cfg.Cycles)
	}
	status := "running"
	if !m.Running {
		status = "idle"
	}

	header := lipgloss.JoinHorizontal(lipgloss.Center,
		styles.Title.Render("⚡ "+cycleLabel),
		lipgloss.NewStyle().MarginLeft(2).Foreground(styles.ColorSubtle).Render(timer),
		lipgloss.NewStyle().MarginLeft(4).Render(styles.StateStyle(status).Render("["+status+"]")),
	)
	s.WriteString(header)
	s.WriteString("\n\n")

	if cfg.Bounded() {
		s.WriteString(m.Progress.View())
		s.WriteString("\n\n")
	}

	// --- Throughput ---
	avg := 0.0
	if m.Last.Elapsed > 0 {
		avg = float64(m.Last.Total) / m.Last.Elapsed.Seconds()
	}
	limit := styles.Subtle.Render("unlimited")
	if cfg.LimitMbps > 0 {
		limit = styles.Text.Render(fmt.Sprintf("%.2f Mbps", cfg.LimitMbps))
	}

	row1 := lipgloss.JoinHorizontal(lipgloss.Top,
		MakeCard("Current", styles.Speed.Render(stats.FormatSpeed(m.Last.Speed))),
		MakeCard("Average", styles.Speed.Render(stats.FormatSpeed(avg))),
		MakeCard("Peak", styles.Active.Render(stats.FormatSpeed(m.Peak))),
		MakeCard("Limit", limit),
	)
	s.WriteString(row1)
	s.WriteString("\n")

	// --- Counters ---
	var requests, failures, retries, rotations uint64
	if m.Live != nil {
		if st := m.Live(); st != nil {
			requests = st.Requests.Load()
			failures = st.Failures.Load()
			retries = st.Retries.Load()
			rotations = st.Rotations.Load()
		}
	}
	failStyle := styles.Text
	if failures > 0 {
		failStyle = styles.Error
	}

	row2 := lipgloss.JoinHorizontal(lipgloss.Top,
		MakeCard("Downloaded", styles.Text.Render(stats.FormatBytes(m.Last.Total))),
		MakeCard("Requests", styles.Text.Render(fmt.Sprintf("%d", requests))),
		MakeCard("Failures", failStyle.Render(fmt.Sprintf("%d / %d retries", failures, retries))),
		MakeCard("Rotations", styles.Text.Render(fmt.Sprintf("%d", rotations))),
	)
	s.WriteString(row2)
	s.WriteString("\n\n")

	s.WriteString(styles.Box.Render(m.Throughput.View()))
	s.WriteString("\n")

	// --- Targets ---
	s.WriteString(styles.Subtle.Render(fmt.Sprintf("%d workers over %d urls, %s pick", cfg.Concurrency, len(cfg.URLs), cfg.Pick)))
	s.WriteString("\n")
	for _, u := range lo.Slice(cfg.URLs, 0, 3) {
		s.WriteString(styles.Subtle.Render("  " + truncate(u, max(m.Width-10, 20))))
		s.WriteString("\n")
	}
	if len(cfg.URLs) > 3 {
		s.WriteString(styles.Subtle.Render(fmt.Sprintf("  ... and %d more", len(cfg.URLs)-3)))
		s.WriteString("\n")
	}

	if m.Previous != nil {
		p := m.Previous
		s.WriteString("\n")
		s.WriteString(styles.Subtle.Render(fmt.Sprintf(
			"Last cycle #%d: %s in %s, avg %s, peak %s",
			p.Cycle,
			stats.FormatBytes(p.TotalBytes),
			p.Elapsed.Round(time.Second),
			stats.FormatSpeed(p.Average),
			stats.FormatSpeed(p.Peak),
		)))
	}

	return s.String()
}

func MakeCard(title, value string) string {
	return styles.Box.Width(20).Align(lipgloss.Center).Render(
		fmt.Sprintf("%s\n%s", styles.Subtle.Render(title), value),
	)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
