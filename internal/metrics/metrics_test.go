package metrics

import (
	"sync"
	"testing"
)

func TestCountersAndReset(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.GeneratorCall()
			m.MessageSent()
		}()
	}
	wg.Wait()
	m.GeneratorFailure()
	m.SendFailure()
	m.CheckinSent()
	m.InsightSent()
	m.NudgeSent()
	m.Tick()

	snap := m.Snapshot()
	if snap.GeneratorCalls != 50 || snap.MessagesSent != 50 {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.GeneratorFailures != 1 || snap.SendFailures != 1 || snap.CheckinsSent != 1 ||
		snap.InsightsSent != 1 || snap.NudgesSent != 1 || snap.Ticks != 1 {
		t.Errorf("snapshot = %+v", snap)
	}

	prev := m.Reset()
	if prev != snap {
		t.Errorf("Reset returned %+v, want %+v", prev, snap)
	}
	if got := m.Snapshot(); got != (Snapshot{}) {
		t.Errorf("after reset = %+v, want zero", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.GeneratorCall()
	m.Tick()
	if m.Snapshot() != (Snapshot{}) || m.Reset() != (Snapshot{}) {
		t.Error("nil metrics should report zero")
	}
}
