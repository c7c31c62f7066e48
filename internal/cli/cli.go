package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/samber/lo"

	"bwprobe/internal/runner"
	"bwprobe/internal/stats"
)

// Printer is the headless reporter: a header per cycle, one line per sample
// and a summary table when the cycle ends.
type Printer struct {
	out      io.Writer
	duration time.Duration
}

func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// Start runs a session in the foreground and prints its progress to stdout.
func Start(ctx context.Context, cfg runner.Config, opts ...runner.Option) error {
	p := NewPrinter(os.Stdout)

	r, err := runner.NewRunner(cfg, append(opts, runner.WithReporter(p))...)
	if err != nil {
		return err
	}
	if err := r.Run(ctx); err != nil {
		return err
	}

	if sums := r.Summaries(); len(sums) > 1 {
		p.PrintOverall(sums)
	}
	return nil
}

func (p *Printer) CycleStarted(info runner.CycleInfo) {
	p.duration = info.Config.Duration

	cfg := info.Config
	fmt.Fprintf(p.out, "\n🚀 STARTING BWPROBE CYCLE %d\n", info.Cycle)
	fmt.Fprintf(p.out, "======================================================================\n")
	fmt.Fprintf(p.out, "Session    : %s\n", info.SessionID)
	for i, u := range cfg.URLs {
		label := "URLs       :"
		if i > 0 {
			label = "            "
		}
		fmt.Fprintf(p.out, "%s %s\n", label, u)
	}
	fmt.Fprintf(p.out, "Workers    : %d (%s pick, rotate every %s)\n", cfg.Concurrency, cfg.Pick, stats.FormatBytes(cfg.RotateAfter))
	if cfg.LimitMbps > 0 {
		fmt.Fprintf(p.out, "Limit      : %.2f Mbps\n", cfg.LimitMbps)
	} else {
		fmt.Fprintf(p.out, "Limit      : unlimited\n")
	}
	if cfg.Duration > 0 {
		fmt.Fprintf(p.out, "Duration   : %s\n", cfg.Duration)
	} else {
		fmt.Fprintf(p.out, "Duration   : until interrupted\n")
	}
	fmt.Fprintf(p.out, "======================================================================\n\n")
}

func (p *Printer) Sampled(s stats.Sample) {
	line := fmt.Sprintf("%s | %s | %s total",
		s.Elapsed.Round(time.Second),
		stats.FormatSpeed(s.Speed),
		stats.FormatBytes(s.Total),
	)
	if p.duration > 0 {
		pct := s.Elapsed.Seconds() / p.duration.Seconds()
		line = fmt.Sprintf("%s %3.0f%% | %s", progressBar(pct, 20), min(pct, 1)*100, line)
	}
	fmt.Fprintln(p.out, line)
}

func (p *Printer) CycleFinished(sum stats.Summary) {
	fmt.Fprintf(p.out, "\n📊 CYCLE %d RESULTS\n", sum.Cycle)

	t := newTable(p.out)
	t.AppendRows([]table.Row{
		{"Elapsed", sum.Elapsed.Round(time.Millisecond)},
		{"Downloaded", stats.FormatBytes(sum.TotalBytes)},
		{"Average", stats.FormatSpeed(sum.Average)},
		{"P50 / P90", fmt.Sprintf("%s / %s", stats.FormatSpeed(sum.P50), stats.FormatSpeed(sum.P90))},
		{"Sample mean", stats.FormatSpeed(sum.Mean)},
		{"Peak", stats.FormatSpeed(sum.Peak)},
		{"Requests", sum.Requests},
		{"Failures / Retries", fmt.Sprintf("%d / %d", sum.Failures, sum.Retries)},
		{"Rotations", sum.Rotations},
	})
	if sum.Exhausted > 0 {
		t.AppendRow(table.Row{"Gave up", sum.Exhausted})
	}
	if sum.Stragglers > 0 {
		t.AppendRow(table.Row{"Stragglers", sum.Stragglers})
	}
	if sum.Cancelled {
		t.AppendRow(table.Row{"Status", "interrupted"})
	}
	t.Render()

	if len(sum.Errors) > 0 {
		fmt.Fprintf(p.out, "\n❌ FAILURE SUMMARY\n")
		for _, msg := range lo.Slice(sum.TopErrors(), 0, 5) {
			fmt.Fprintf(p.out, "   %d x %s\n", sum.Errors[msg], msg)
		}
	}
}

// PrintOverall prints one row per cycle plus the session average.
func (p *Printer) PrintOverall(sums []stats.Summary) {
	fmt.Fprintf(p.out, "\n📈 SESSION OVERVIEW\n")

	t := newTable(p.out)
	t.AppendHeader(table.Row{"Cycle", "Started", "Downloaded", "Average", "Peak", "Failures"})
	for _, s := range sums {
		t.AppendRow(table.Row{
			s.Cycle,
			s.Started.Format("15:04:05"),
			stats.FormatBytes(s.TotalBytes),
			stats.FormatSpeed(s.Average),
			stats.FormatSpeed(s.Peak),
			s.Failures,
		})
	}

	avg := lo.SumBy(sums, func(s stats.Summary) float64 { return s.Average }) / float64(len(sums))
	total := lo.SumBy(sums, func(s stats.Summary) int64 { return s.TotalBytes })
	t.AppendFooter(table.Row{"", "", stats.FormatBytes(total), stats.FormatSpeed(avg), "", ""})
	t.Render()
}

func newTable(out io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleRounded)
	t.Style().Format.Header = text.FormatUpper
	return t
}

func progressBar(pct float64, width int) string {
	filled := int(pct * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return "[" + strings.Repeat("█", filled) + strings.Repeat("-", width-filled) + "]"
}
