package runner

import (
	"time"

	"bwprobe/internal/stats"
)

// CycleInfo describes a cycle that just started.
type CycleInfo struct {
	SessionID string
	Cycle     int
	Started   time.Time
	Config    Config
}

// Reporter receives lifecycle events and samples. Calls come from the
// controller goroutine, one at a time.
type Reporter interface {
	CycleStarted(info CycleInfo)
	Sampled(s stats.Sample)
	CycleFinished(sum stats.Summary)
}

// Reporters fans events out to several reporters.
type Reporters []Reporter

func (rs Reporters) CycleStarted(info CycleInfo) {
	for _, r := range rs {
		r.CycleStarted(info)
	}
}

func (rs Reporters) Sampled(s stats.Sample) {
	for _, r := range rs {
		r.Sampled(s)
	}
}

func (rs Reporters) CycleFinished(sum stats.Summary) {
	for _, r := range rs {
		r.CycleFinished(sum)
	}
}

// UpdateKind tags an Update.
type UpdateKind int

const (
	UpdateCycleStarted UpdateKind = iota
	UpdateSample
	UpdateCycleFinished
)

// Update is sent over a StatsUpdateChan.
type Update struct {
	Kind    UpdateKind
	Info    CycleInfo
	Sample  stats.Sample
	Summary stats.Summary
}

// StatsUpdateChan is the channel type
type StatsUpdateChan chan Update

// lifecycleSendTimeout bounds how long a lifecycle event waits for a reader.
const lifecycleSendTimeout = time.Second

func (ch StatsUpdateChan) CycleStarted(info CycleInfo) {
	ch.sendWait(Update{Kind: UpdateCycleStarted, Info: info})
}

func (ch StatsUpdateChan) Sampled(s stats.Sample) {
	// Non-blocking send, the UI acts as backpressure
	select {
	case ch <- Update{Kind: UpdateSample, Sample: s}:
	default:
	}
}

func (ch StatsUpdateChan) CycleFinished(sum stats.Summary) {
	ch.sendWait(Update{Kind: UpdateCycleFinished, Summary: sum})
}

func (ch StatsUpdateChan) sendWait(u Update) {
	t := time.NewTimer(lifecycleSendTimeout)
	defer t.Stop()
	select {
	case ch <- u:
	case <-t.C:
	}
}
