// Package metrics provides the process counters shared by the coach, the
// transport and the timer tick.
package metrics

import (
	"log/slog"
	"sync/atomic"
)

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	GeneratorCalls    int64 `json:"generator_calls"`
	GeneratorFailures int64 `json:"generator_failures"`
	MessagesSent      int64 `json:"messages_sent"`
	SendFailures      int64 `json:"send_failures"`
	CheckinsSent      int64 `json:"checkins_sent"`
	InsightsSent      int64 `json:"insights_sent"`
	NudgesSent        int64 `json:"nudges_sent"`
	Ticks             int64 `json:"ticks"`
}

// Metrics is an explicit counters object. A nil *Metrics ignores all updates.
type Metrics struct {
	generatorCalls    atomic.Int64
	generatorFailures atomic.Int64
	messagesSent      atomic.Int64
	sendFailures      atomic.Int64
	checkinsSent      atomic.Int64
	insightsSent      atomic.Int64
	nudgesSent        atomic.Int64
	ticks             atomic.Int64
}

// New returns zeroed counters.
func New() *Metrics {
	return &Metrics{}
}

func (m *Metrics) GeneratorCall() {
	if m != nil {
		m.generatorCalls.Add(1)
	}
}

func (m *Metrics) GeneratorFailure() {
	if m != nil {
		m.generatorFailures.Add(1)
	}
}

func (m *Metrics) MessageSent() {
	if m != nil {
		m.messagesSent.Add(1)
	}
}

func (m *Metrics) SendFailure() {
	if m != nil {
		m.sendFailures.Add(1)
	}
}

func (m *Metrics) CheckinSent() {
	if m != nil {
		m.checkinsSent.Add(1)
	}
}

func (m *Metrics) InsightSent() {
	if m != nil {
		m.insightsSent.Add(1)
	}
}

func (m *Metrics) NudgeSent() {
	if m != nil {
		m.nudgesSent.Add(1)
	}
}

func (m *Metrics) Tick() {
	if m != nil {
		m.ticks.Add(1)
	}
}

// Snapshot returns the current counter values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	return Snapshot{
		GeneratorCalls:    m.generatorCalls.Load(),
		GeneratorFailures: m.generatorFailures.Load(),
		MessagesSent:      m.messagesSent.Load(),
		SendFailures:      m.sendFailures.Load(),
		CheckinsSent:      m.checkinsSent.Load(),
		InsightsSent:      m.insightsSent.Load(),
		NudgesSent:        m.nudgesSent.Load(),
		Ticks:             m.ticks.Load(),
	}
}

// Reset zeroes every counter and returns the values it replaced.
func (m *Metrics) Reset() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	prev := Snapshot{
		GeneratorCalls:    m.generatorCalls.Swap(0),
		GeneratorFailures: m.generatorFailures.Swap(0),
		MessagesSent:      m.messagesSent.Swap(0),
		SendFailures:      m.sendFailures.Swap(0),
		CheckinsSent:      m.checkinsSent.Swap(0),
		InsightsSent:      m.insightsSent.Swap(0),
		NudgesSent:        m.nudgesSent.Swap(0),
		Ticks:             m.ticks.Swap(0),
	}
	slog.Info("Metrics.Reset: counters reset", "generator_calls", prev.GeneratorCalls,
		"messages_sent", prev.MessagesSent, "send_failures", prev.SendFailures, "ticks", prev.Ticks)
	return prev
}
