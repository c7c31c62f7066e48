package views

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bwprobe/internal/runner"
	"bwprobe/internal/stats"
)

func TestCyclesViewNewestFirst(t *testing.T) {
	m := NewCyclesView()
	m.Add(stats.Summary{Cycle: 1, TotalBytes: 1 << 20})
	m.Add(stats.Summary{Cycle: 2, TotalBytes: 2 << 20, Errors: map[string]int{"boom": 2}, Failures: 2})

	rows := m.Table.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, "2", rows[0][0])
	assert.Equal(t, "1", rows[1][0])

	sel := m.Selected()
	require.NotNil(t, sel)
	assert.Equal(t, 2, sel.Cycle)
	assert.Contains(t, m.View(), "2 x")
}

func TestDashboardViewFollowsCycle(t *testing.T) {
	cfg := runner.DefaultConfig()
	cfg.URLs = []string{"http://a/1.bin"}
	cfg.Duration = 10 * time.Second

	m := NewDashboardView(nil, 100)
	assert.Contains(t, m.View(), "Waiting")

	m, _ = m.Update(runner.Update{Kind: runner.UpdateCycleStarted, Info: runner.CycleInfo{Cycle: 3, Config: cfg}})
	m, _ = m.Update(runner.Update{Kind: runner.UpdateSample, Sample: stats.Sample{
		Cycle: 3, Elapsed: 2 * time.Second, Total: 4 << 20, Speed: 2 << 20,
	}})
	m, _ = m.Update(runner.Update{Kind: runner.UpdateSample, Sample: stats.Sample{
		Cycle: 3, Elapsed: 3 * time.Second, Total: 5 << 20, Speed: 1 << 20,
	}})

	assert.Equal(t, float64(2<<20), m.Peak)
	assert.InDelta(t, 0.3, m.percent(m.Last.Elapsed), 1e-9)

	view := m.View()
	assert.Contains(t, view, "Cycle 3")
	assert.Contains(t, view, "16.00 Mbps", "peak")
	assert.Contains(t, view, "http://a/1.bin")
}
