package app

import (
	"context"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"bwprobe/internal/runner"
	"bwprobe/internal/stats"
	"bwprobe/internal/tui/styles"
	"bwprobe/internal/tui/views"
)

type ClearStatusMsg struct{}

func clearStatusCmd() tea.Cmd {
	return tea.Tick(3*time.Second, func(_ time.Time) tea.Msg {
		return ClearStatusMsg{}
	})
}

// View Enum
type ViewID int

const (
	ViewDashboard ViewID = iota
	ViewCycles
)

type UpdateMsg runner.Update

// RunFinishedMsg is sent once Runner.Run has returned.
type RunFinishedMsg struct {
	Err error
}

type Model struct {
	Runner  *runner.Runner
	Updates runner.StatsUpdateChan
	Cancel  context.CancelFunc

	Finished bool
	Err      error

	Width  int
	Height int

	CurrentView ViewID
	MenuItems   []string

	DashView   views.DashboardView
	CyclesView views.CyclesView

	StatusMsg string
}

func NewModel(r *runner.Runner, updates runner.StatsUpdateChan, cancel context.CancelFunc) Model {
	return Model{
		Runner:      r,
		Updates:     updates,
		Cancel:      cancel,
		CurrentView: ViewDashboard,
		MenuItems:   []string{"[1] Live", "[2] Cycles"},
		DashView:    views.NewDashboardView(r.Current, 80),
		CyclesView:  views.NewCyclesView(),
	}
}

func (m Model) Init() tea.Cmd {
	return waitForUpdate(m.Updates)
}

func waitForUpdate(sub runner.StatsUpdateChan) tea.Cmd {
	return func() tea.Msg {
		u, ok := <-sub
		if !ok {
			return nil
		}
		return UpdateMsg(u)
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case ClearStatusMsg:
		m.StatusMsg = ""
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.Finished {
				return m, tea.Quit
			}
			// First press drains the session, the second one leaves at once.
			if m.StatusMsg == stoppingMsg {
				return m, tea.Quit
			}
			m.Cancel()
			m.StatusMsg = stoppingMsg
			return m, nil

		case "s":
			if !m.Finished {
				m.Runner.Stop()
				m.StatusMsg = stoppingMsg
			}
			return m, nil

		case "tab", "ctrl+right", "ctrl+left":
			if m.CurrentView == ViewDashboard {
				m.CurrentView = ViewCycles
			} else {
				m.CurrentView = ViewDashboard
			}
			return m, nil

		case "1":
			m.CurrentView = ViewDashboard
			return m, nil
		case "2":
			m.CurrentView = ViewCycles
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		inner := tea.WindowSizeMsg{Width: m.Width - 6, Height: m.Height - 8}

		m.DashView, _ = m.DashView.Update(inner)
		m.CyclesView, _ = m.CyclesView.Update(inner)
		return m, nil

	case UpdateMsg:
		u := runner.Update(msg)
		var c tea.Cmd
		m.DashView, c = m.DashView.Update(u)
		cmds = append(cmds, c)

		if u.Kind == runner.UpdateCycleFinished {
			m.CyclesView.Add(u.Summary)
			m.StatusMsg = "Cycle finished."
			cmds = append(cmds, clearStatusCmd())
		}
		cmds = append(cmds, waitForUpdate(m.Updates))
		return m, tea.Batch(cmds...)

	case RunFinishedMsg:
		m.Finished = true
		m.Err = msg.Err
		m.CurrentView = ViewCycles
		m.StatusMsg = "Session finished. Press q to quit."
		if msg.Err != nil {
			m.StatusMsg = "Session failed: " + msg.Err.Error()
		}
		return m, nil
	}

	var cmd tea.Cmd
	switch m.CurrentView {
	case ViewDashboard:
		m.DashView, cmd = m.DashView.Update(msg)
	case ViewCycles:
		m.CyclesView, cmd = m.CyclesView.Update(msg)
	}
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

const stoppingMsg = "Stopping, waiting for workers..."

func (m Model) View() string {
	if m.Width == 0 {
		return "Loading..."
	}

	nav := strings.Builder{}
	for i, item := range m.MenuItems {
		if ViewID(i) == m.CurrentView {
			nav.WriteString(styles.TabActive.Render(item))
		} else {
			nav.WriteString(styles.TabBase.Render(item))
		}
	}
	state := m.Runner.State().String()
	nav.WriteString(styles.TabBase.Render(styles.StateStyle(state).Render(state)))
	navBar := styles.FooterBase.Width(m.Width).Render(nav.String())

	contentStr := ""
	switch m.CurrentView {
	case ViewDashboard:
		contentStr = m.DashView.View()
	case ViewCycles:
		contentStr = m.CyclesView.View()
	}
	content := styles.Panel.Width(m.Width - 2).Height(m.Height - 6).Render(contentStr)

	keys := []string{
		styles.RenderKey("Tab", "View"),
		styles.RenderKey("S", "Stop"),
		styles.RenderKey("Q", "Quit"),
	}
	footer := styles.FooterBase.Width(m.Width).Render(strings.Join(keys, "   "))

	if m.StatusMsg != "" {
		status := styles.Box.BorderForeground(styles.ColorHighlight).Render(m.StatusMsg)
		return lipgloss.JoinVertical(lipgloss.Left, navBar, content, status, footer)
	}
	return lipgloss.JoinVertical(lipgloss.Left, navBar, content, footer)
}

// Start runs a session behind the dashboard. It returns once the user quits
// and the session has drained.
func Start(ctx context.Context, cfg runner.Config, opts ...runner.Option) ([]stats.Summary, error) {
	updates := make(runner.StatsUpdateChan, 100)
	r, err := runner.NewRunner(cfg, append(opts, runner.WithReporter(updates))...)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(NewModel(r, updates, cancel), tea.WithAltScreen())

	done := make(chan error, 1)
	go func() {
		err := r.Run(ctx)
		done <- err
		p.Send(RunFinishedMsg{Err: err})
	}()

	if _, err := p.Run(); err != nil {
		cancel()
		<-done
		return r.Summaries(), err
	}

	cancel()
	runErr := <-done
	return r.Summaries(), runErr
}
