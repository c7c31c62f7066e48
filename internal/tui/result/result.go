package result

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/samber/lo"

	"bwprobe/internal/stats"
	"bwprobe/internal/tui/styles"
)

// Render draws the detail panel of one cycle summary.
func Render(sum stats.Summary) string {
	s := strings.Builder{}

	title := fmt.Sprintf("📊 Cycle %d", sum.Cycle)
	if sum.Cancelled {
		title += " (interrupted)"
	}
	s.WriteString(styles.Active.Render(title))
	s.WriteString("\n")

	overview := fmt.Sprintf(
		"Elapsed:    %s\nDownloaded: %s\nRequests:   %d\nRotations:  %d",
		sum.Elapsed.Round(time.Millisecond),
		stats.FormatBytes(sum.TotalBytes),
		sum.Requests,
		sum.Rotations,
	)
	speeds := fmt.Sprintf(
		"Average: %s\nP50:     %s\nP90:     %s\nMean:    %s\nPeak:    %s",
		stats.FormatSpeed(sum.Average),
		stats.FormatSpeed(sum.P50),
		stats.FormatSpeed(sum.P90),
		stats.FormatSpeed(sum.Mean),
		stats.FormatSpeed(sum.Peak),
	)

	failStyle := styles.Text
	if sum.Failures > 0 || sum.Exhausted > 0 {
		failStyle = styles.Error
	}
	failures := failStyle.Render(fmt.Sprintf(
		"Failures:   %d\nRetries:    %d\nGave up:    %d\nStragglers: %d",
		sum.Failures, sum.Retries, sum.Exhausted, sum.Stragglers,
	))

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		styles.Box.Render(overview),
		styles.Box.Render(styles.Speed.Render(speeds)),
		styles.Box.Render(failures),
	))

	if len(sum.Errors) > 0 {
		s.WriteString("\n")
		s.WriteString(styles.Subtle.Render("Error Details"))
		s.WriteString("\n")
		for _, e := range lo.Slice(sum.TopErrors(), 0, 5) {
			disp := e
			if len(disp) > 60 {
				disp = disp[:57] + "..."
			}
			s.WriteString(fmt.Sprintf("%s %s\n", styles.Error.Render(fmt.Sprintf("%d x", sum.Errors[e])), disp))
		}
	}

	return s.String()
}
