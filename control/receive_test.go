package control

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/moonlight-stream/moonlight-common-go/protocol"
	"github.com/moonlight-stream/moonlight-common-go/quality"
	"github.com/moonlight-stream/moonlight-common-go/transport"
	"github.com/moonlight-stream/moonlight-common-go/types"
)

// fakeDrainAdapter feeds a scripted sequence of events to the receive
// worker, mimicking PeerAdapter's disconnect-suppression behavior: the
// first EventDisconnect handed to Service is swallowed and reported as
// EventNone with DisconnectPending now true, exactly like the real
// go-enet-backed adapter.
type fakeDrainAdapter struct {
	mu             sync.Mutex
	events         []transport.Event
	disconnectSeen bool
}

func (f *fakeDrainAdapter) Service(time.Duration) (transport.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.events) == 0 {
		return transport.Event{Type: transport.EventNone}, nil
	}
	ev := f.events[0]
	f.events = f.events[1:]

	if ev.Type == transport.EventDisconnect && !f.disconnectSeen {
		f.disconnectSeen = true
		return transport.Event{Type: transport.EventNone}, nil
	}
	return ev, nil
}

func (f *fakeDrainAdapter) SendOnChannel(uint8, uint32, []byte) error { return nil }
func (f *fakeDrainAdapter) RequiresFraming() bool                     { return false }
func (f *fakeDrainAdapter) DisconnectPending() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnectSeen
}
func (f *fakeDrainAdapter) Disconnect()  {}
func (f *fakeDrainAdapter) Close() error { return nil }

type fakeCallbacks struct {
	types.ConnectionCallbacks
	terminatedCode int
	terminated     bool
}

func (f *fakeCallbacks) ConnectionTerminated(code int) {
	f.terminated = true
	f.terminatedCode = code
}

func newTestSession(cb *fakeCallbacks) *Session {
	return &Session{
		version:   protocol.VersionQuad{7, 1, 431, 0},
		monitor:   quality.NewMonitor(nil),
		callbacks: cb,
	}
}

func TestHandleTermination_HRESULTUnexpectedWhenNoFrameSeen(t *testing.T) {
	cb := &fakeCallbacks{}
	s := newTestSession(cb)

	payload := make([]byte, 4)
	protocol.ByteOrder.PutUint32(payload, 0x80030023)
	s.handleTermination(payload)

	if !cb.terminated {
		t.Fatal("ConnectionTerminated was not called")
	}
	if cb.terminatedCode != types.ErrUnexpectedTermination {
		t.Fatalf("code = %d, want %d (no frame ever seen)", cb.terminatedCode, types.ErrUnexpectedTermination)
	}
}

func TestHandleTermination_HRESULTGracefulWhenFrameSeen(t *testing.T) {
	cb := &fakeCallbacks{}
	s := newTestSession(cb)
	s.monitor.ConnectionSawFrame(5)

	payload := make([]byte, 4)
	protocol.ByteOrder.PutUint32(payload, 0x80030023)
	s.handleTermination(payload)

	if cb.terminatedCode != types.ErrGracefulTermination {
		t.Fatalf("code = %d, want %d (frame was seen)", cb.terminatedCode, types.ErrGracefulTermination)
	}
}

func TestHandleTermination_ShortReasonMapsSameAsHRESULT(t *testing.T) {
	cb := &fakeCallbacks{}
	s := newTestSession(cb)
	s.monitor.ConnectionSawFrame(1)

	payload := []byte{0x00, 0x01} // reason 0x0100, little-endian
	s.handleTermination(payload)

	if cb.terminatedCode != types.ErrGracefulTermination {
		t.Fatalf("code = %d, want %d", cb.terminatedCode, types.ErrGracefulTermination)
	}
}

func TestHandleTermination_ProtectedContentHRESULT(t *testing.T) {
	cb := &fakeCallbacks{}
	s := newTestSession(cb)

	payload := make([]byte, 4)
	protocol.ByteOrder.PutUint32(payload, 0x800e9302)
	s.handleTermination(payload)

	if cb.terminatedCode != types.ErrProtectedContent {
		t.Fatalf("code = %d, want %d", cb.terminatedCode, types.ErrProtectedContent)
	}
}

func TestHandleTermination_UnknownHRESULTPassesThrough(t *testing.T) {
	cb := &fakeCallbacks{}
	s := newTestSession(cb)

	payload := make([]byte, 4)
	protocol.ByteOrder.PutUint32(payload, 0x12345678)
	s.handleTermination(payload)

	if cb.terminatedCode != 0x12345678 {
		t.Fatalf("code = %#x, want %#x", cb.terminatedCode, 0x12345678)
	}
}

func TestHandleTermination_UnknownShortReasonPassesThrough(t *testing.T) {
	cb := &fakeCallbacks{}
	s := newTestSession(cb)

	payload := []byte{0x34, 0x12} // reason 0x1234
	s.handleTermination(payload)

	if cb.terminatedCode != 0x1234 {
		t.Fatalf("code = %#x, want %#x", cb.terminatedCode, 0x1234)
	}
}

func TestTerminate_OnlyFiresCallbackOnce(t *testing.T) {
	cb := &fakeCallbacks{}
	s := newTestSession(cb)

	s.terminate(1)
	s.terminate(2)

	if cb.terminatedCode != 1 {
		t.Fatalf("terminatedCode = %d, want 1 (first call wins)", cb.terminatedCode)
	}
}

// TestRunReceive_DrainsReceivesBeforeReportingDisconnect exercises the
// disconnect drain scenario: while DisconnectPending is true, two receive
// events land before the disconnect is finally confirmed. Both receives
// must be dispatched (rumble callbacks fired) before the terminal
// ConnectionTerminated callback runs.
func TestRunReceive_DrainsReceivesBeforeReportingDisconnect(t *testing.T) {
	version := protocol.VersionQuad{7, 1, 431, 0}
	profile := protocol.ProfileFor(version)
	rumbleType, ok := profile.Code(protocol.IdxRumbleData)
	if !ok {
		t.Fatal("test profile has no rumble code")
	}

	rumbleFrame := func(controller uint16) transport.Event {
		payload := make([]byte, 2+10)
		binary.LittleEndian.PutUint16(payload[0:2], rumbleType)
		binary.LittleEndian.PutUint16(payload[6:8], controller)
		return transport.Event{Type: transport.EventReceive, Data: payload}
	}

	adapter := &fakeDrainAdapter{events: []transport.Event{
		{Type: transport.EventDisconnect},
		rumbleFrame(1),
		rumbleFrame(2),
		{Type: transport.EventDisconnect},
	}}

	var mu sync.Mutex
	var order []string
	cb := &fakeCallbacks{}
	record := func(kind string) {
		mu.Lock()
		order = append(order, kind)
		mu.Unlock()
	}

	s := &Session{
		id:        newTestSession(cb).id,
		profile:   profile,
		version:   version,
		adapter:   adapter,
		monitor:   quality.NewMonitor(nil),
		callbacks: &recordingCallbacks{record: record, inner: cb},
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	done := make(chan struct{})
	s.wg.Add(1)
	go func() {
		s.runReceive()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("runReceive did not return")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) < 3 {
		t.Fatalf("order = %v, want at least [rumble rumble terminated]", order)
	}
	for _, kind := range order[:len(order)-1] {
		if kind != "rumble" {
			t.Fatalf("order = %v, want receives before terminate", order)
		}
	}
	if order[len(order)-1] != "terminated" {
		t.Fatalf("order = %v, want terminate last", order)
	}
	if !cb.terminated || cb.terminatedCode != -1 {
		t.Fatalf("terminated=%v code=%d, want true/-1", cb.terminated, cb.terminatedCode)
	}
}

// recordingCallbacks wraps fakeCallbacks to observe the relative order of
// rumble notifications and the terminal callback.
type recordingCallbacks struct {
	types.ConnectionCallbacks
	record func(string)
	inner  *fakeCallbacks
}

func (r *recordingCallbacks) Rumble(controllerNumber, lowFreq, highFreq uint16) {
	r.record("rumble")
}

func (r *recordingCallbacks) ConnectionTerminated(code int) {
	r.record("terminated")
	r.inner.ConnectionTerminated(code)
}
