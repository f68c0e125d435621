// Package quality implements the Connection Quality Monitor: rolling
// frame-loss hysteresis, packet-loss counting for telemetry reports, and
// the bounded reference-frame invalidation queue that decides whether a
// lost frame range can be patched incrementally or needs a full IDR.
package quality

import (
	"sync"
	"time"

	"github.com/moonlight-stream/moonlight-common-go/types"
)

const (
	immediatePoorLossRate   = 30
	consecutivePoorLossRate = 15
	okayLossRate            = 5
	sampleWindow            = 3000 * time.Millisecond

	invalidationQueueCap = 20
)

// InvalidationRange is a contiguous span of frames the video pipeline
// failed to fully reassemble.
type InvalidationRange struct {
	StartFrame int
	EndFrame   int
}

// Monitor tracks frame arrival/loss statistics for one session and decides
// when to surface a connection-quality transition or an IDR requirement.
// A single Monitor instance is owned by the Control Session; both the
// termination-mapping logic and the telemetry payload builder read its
// LastSeenFrame/LastGoodFrame accessors rather than keeping their own
// copies of the counters.
type Monitor struct {
	mu sync.Mutex

	onStatusChange func(types.ConnectionStatus)

	lastGoodFrame int
	lastSeenFrame int

	intervalStart          time.Time
	intervalGoodFrames     int
	intervalTotalFrames    int
	lastIntervalLossPct    int
	lastConnectionStatus   types.ConnectionStatus

	lossCountSinceLastReport int

	idrRequired bool
	invalidate  chan InvalidationRange
}

// NewMonitor builds a Monitor. onStatusChange is invoked synchronously
// from ConnectionSawFrame whenever the hysteresis state transitions; pass
// nil to ignore status updates.
func NewMonitor(onStatusChange func(types.ConnectionStatus)) *Monitor {
	return &Monitor{
		onStatusChange:       onStatusChange,
		lastConnectionStatus: types.ConnStatusOkay,
		intervalStart:        timeNow(),
		invalidate:           make(chan InvalidationRange, invalidationQueueCap),
	}
}

// timeNow is indirected only so tests can be deterministic if needed; the
// production path always uses wall-clock time.
var timeNow = time.Now

// ConnectionReceivedCompleteFrame records that frameIndex was fully
// reassembled and updates the counter the telemetry loss-stats payload
// reports as lastGoodFrame.
func (m *Monitor) ConnectionReceivedCompleteFrame(frameIndex int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastGoodFrame = frameIndex
	m.intervalGoodFrames++
}

// ConnectionSawFrame records that frameIndex arrived (complete or not) and
// evaluates the rolling 3-second hysteresis window, firing onStatusChange
// on a transition. frameIndex must never regress.
func (m *Monitor) ConnectionSawFrame(frameIndex int) {
	m.mu.Lock()

	now := timeNow()
	if now.Sub(m.intervalStart) >= sampleWindow {
		if m.intervalTotalFrames != 0 {
			lossPct := 100 - (m.intervalGoodFrames*100)/m.intervalTotalFrames

			var next types.ConnectionStatus
			transition := false

			if m.lastConnectionStatus != types.ConnStatusPoor &&
				(lossPct >= immediatePoorLossRate ||
					(lossPct >= consecutivePoorLossRate && m.lastIntervalLossPct >= consecutivePoorLossRate)) {
				next = types.ConnStatusPoor
				transition = true
			} else if lossPct <= okayLossRate && m.lastConnectionStatus != types.ConnStatusOkay {
				next = types.ConnStatusOkay
				transition = true
			}

			if transition {
				m.lastConnectionStatus = next
			}
			m.lastIntervalLossPct = lossPct

			m.intervalStart = now
			m.intervalGoodFrames = 0
			m.intervalTotalFrames = 0

			if transition {
				cb := m.onStatusChange
				m.mu.Unlock()
				if cb != nil {
					cb(next)
				}
				m.mu.Lock()
			}
		} else {
			m.intervalStart = now
			m.intervalGoodFrames = 0
			m.intervalTotalFrames = 0
		}
	}

	m.intervalTotalFrames += frameIndex - m.lastSeenFrame
	m.lastSeenFrame = frameIndex
	m.mu.Unlock()
}

// ConnectionLostPackets accounts for a gap in the received packet sequence
// for the next loss-stats report.
func (m *Monitor) ConnectionLostPackets(lastReceived, nextReceived int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lossCountSinceLastReport += (nextReceived - lastReceived) - 1
}

// TakeLossCount returns the accumulated loss count and resets it, for use
// by the telemetry worker's loss-stats payload.
func (m *Monitor) TakeLossCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.lossCountSinceLastReport
	m.lossCountSinceLastReport = 0
	return n
}

// ConnectionDetectedFrameLoss enqueues a lost frame range for the
// invalidation worker. If the bounded queue is full, this escalates
// directly to requiring a full IDR frame instead -- there is no larger
// backlog to fall back to.
func (m *Monitor) ConnectionDetectedFrameLoss(startFrame, endFrame int) {
	select {
	case m.invalidate <- InvalidationRange{StartFrame: startFrame, EndFrame: endFrame}:
	default:
		m.mu.Lock()
		m.idrRequired = true
		m.mu.Unlock()
	}
}

// RequestIdrOnDemand marks that the next invalidation cycle must request a
// full IDR frame, independent of any queued invalidation ranges.
func (m *Monitor) RequestIdrOnDemand() {
	m.mu.Lock()
	m.idrRequired = true
	m.mu.Unlock()
}

// NextInvalidationRange returns the next queued range, or ok=false if the
// queue is currently empty.
func (m *Monitor) NextInvalidationRange() (InvalidationRange, bool) {
	select {
	case r := <-m.invalidate:
		return r, true
	default:
		return InvalidationRange{}, false
	}
}

// TakeIdrRequired reports and clears whether a full IDR frame is due.
func (m *Monitor) TakeIdrRequired() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	required := m.idrRequired
	m.idrRequired = false
	return required
}

// LastSeenFrame returns the highest frame index observed, complete or not.
func (m *Monitor) LastSeenFrame() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSeenFrame
}

// LastGoodFrame returns the highest frame index fully reassembled.
func (m *Monitor) LastGoodFrame() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastGoodFrame
}
