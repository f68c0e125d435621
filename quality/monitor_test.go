package quality

import (
	"testing"
	"time"

	"github.com/moonlight-stream/moonlight-common-go/types"
)

// withFakeClock replaces timeNow for the duration of fn, restoring the
// real clock afterward.
func withFakeClock(fn func(advance func(time.Duration))) {
	base := time.Unix(0, 0)
	timeNow = func() time.Time { return base }
	defer func() { timeNow = time.Now }()

	fn(func(d time.Duration) {
		base = base.Add(d)
	})
}

func newMonitorCapturingStatus() (*Monitor, *[]types.ConnectionStatus) {
	var seen []types.ConnectionStatus
	m := NewMonitor(func(s types.ConnectionStatus) {
		seen = append(seen, s)
	})
	return m, &seen
}

// feedWindow simulates one 3-second sampling window with total frames and
// a given loss percentage, then advances the clock past the window
// boundary so the next ConnectionSawFrame call evaluates it.
func feedWindow(m *Monitor, advance func(time.Duration), frame *int, total, lossPct int) {
	good := total - (total*lossPct)/100
	for i := 0; i < total; i++ {
		*frame++
		if i < good {
			m.ConnectionReceivedCompleteFrame(*frame)
		}
		m.ConnectionSawFrame(*frame)
	}
	advance(sampleWindow)
}

func TestMonitor_ImmediatePoorAt30PercentLoss(t *testing.T) {
	withFakeClock(func(advance func(time.Duration)) {
		m, seen := newMonitorCapturingStatus()
		frame := 0

		feedWindow(m, advance, &frame, 100, 30)
		// One more frame after the window elapsed triggers evaluation.
		frame++
		m.ConnectionSawFrame(frame)

		if len(*seen) != 1 || (*seen)[0] != types.ConnStatusPoor {
			t.Fatalf("status transitions = %v, want [Poor]", *seen)
		}
	})
}

func TestMonitor_ConsecutiveWindowsAt15PercentGoesPoorOnSecond(t *testing.T) {
	withFakeClock(func(advance func(time.Duration)) {
		m, seen := newMonitorCapturingStatus()
		frame := 0

		feedWindow(m, advance, &frame, 100, 15)
		frame++
		m.ConnectionSawFrame(frame) // evaluates first window: no transition yet

		if len(*seen) != 0 {
			t.Fatalf("status transitions after first 15%% window = %v, want none", *seen)
		}

		feedWindow(m, advance, &frame, 100, 15)
		frame++
		m.ConnectionSawFrame(frame) // evaluates second window: now transitions

		if len(*seen) != 1 || (*seen)[0] != types.ConnStatusPoor {
			t.Fatalf("status transitions = %v, want [Poor] after second consecutive 15%% window", *seen)
		}
	})
}

func TestMonitor_SingleWindowAt15PercentDoesNotTransition(t *testing.T) {
	withFakeClock(func(advance func(time.Duration)) {
		m, seen := newMonitorCapturingStatus()
		frame := 0

		feedWindow(m, advance, &frame, 100, 15)
		frame++
		m.ConnectionSawFrame(frame)

		if len(*seen) != 0 {
			t.Fatalf("status transitions = %v, want none (single 15%% window is not enough)", *seen)
		}
	})
}

func TestMonitor_MidRangeLossNeverTransitions(t *testing.T) {
	withFakeClock(func(advance func(time.Duration)) {
		m, seen := newMonitorCapturingStatus()
		frame := 0

		for i := 0; i < 5; i++ {
			feedWindow(m, advance, &frame, 100, 10)
			frame++
			m.ConnectionSawFrame(frame)
		}

		if len(*seen) != 0 {
			t.Fatalf("status transitions = %v, want none (6-14%% loss never changes state)", *seen)
		}
	})
}

func TestMonitor_PoorToOkayOnSingleGoodWindow(t *testing.T) {
	withFakeClock(func(advance func(time.Duration)) {
		m, seen := newMonitorCapturingStatus()
		frame := 0

		feedWindow(m, advance, &frame, 100, 30)
		frame++
		m.ConnectionSawFrame(frame)
		if len(*seen) != 1 || (*seen)[0] != types.ConnStatusPoor {
			t.Fatalf("setup: status transitions = %v, want [Poor]", *seen)
		}

		// The frame that evaluated the previous window counts toward this
		// one, so the window holds 101 frames: with 4 lost, 96 are good and
		// the measured loss is 100 - 9600/101 = 5%, exactly the Okay bound.
		feedWindow(m, advance, &frame, 100, 4)
		frame++
		m.ConnectionSawFrame(frame)

		if len(*seen) != 2 || (*seen)[1] != types.ConnStatusOkay {
			t.Fatalf("status transitions = %v, want [Poor Okay]", *seen)
		}
	})
}

func TestMonitor_ConnectionDetectedFrameLoss_OverflowEscalatesToIDR(t *testing.T) {
	m := NewMonitor(nil)

	for i := 0; i < invalidationQueueCap; i++ {
		m.ConnectionDetectedFrameLoss(i, i+1)
	}
	if m.TakeIdrRequired() {
		t.Fatal("IDR required before the queue overflowed")
	}

	m.ConnectionDetectedFrameLoss(1000, 1001)
	if !m.TakeIdrRequired() {
		t.Fatal("queue overflow did not escalate to IDR required")
	}
	if m.TakeIdrRequired() {
		t.Fatal("TakeIdrRequired did not clear the flag")
	}
}

func TestMonitor_NextInvalidationRange_FIFOAndDrains(t *testing.T) {
	m := NewMonitor(nil)
	m.ConnectionDetectedFrameLoss(1, 2)
	m.ConnectionDetectedFrameLoss(3, 4)

	r1, ok := m.NextInvalidationRange()
	if !ok || r1.StartFrame != 1 || r1.EndFrame != 2 {
		t.Fatalf("first range = %+v, ok=%v, want {1 2}", r1, ok)
	}
	r2, ok := m.NextInvalidationRange()
	if !ok || r2.StartFrame != 3 || r2.EndFrame != 4 {
		t.Fatalf("second range = %+v, ok=%v, want {3 4}", r2, ok)
	}
	if _, ok := m.NextInvalidationRange(); ok {
		t.Fatal("queue reported a range after draining, want empty")
	}
}

func TestMonitor_LastSeenAndLastGoodFrame(t *testing.T) {
	m := NewMonitor(nil)
	m.ConnectionSawFrame(10)
	m.ConnectionReceivedCompleteFrame(7)

	if m.LastSeenFrame() != 10 {
		t.Fatalf("LastSeenFrame = %d, want 10", m.LastSeenFrame())
	}
	if m.LastGoodFrame() != 7 {
		t.Fatalf("LastGoodFrame = %d, want 7", m.LastGoodFrame())
	}
}
