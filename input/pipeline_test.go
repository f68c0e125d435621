package input

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"sync/atomic"
	"testing"

	"github.com/moonlight-stream/moonlight-common-go/codec"
	"github.com/moonlight-stream/moonlight-common-go/protocol"
)

type fakeControlSender struct {
	sent [][]byte
	err  error
}

func (f *fakeControlSender) SendInputPacket(data []byte) error {
	if f.err != nil {
		return f.err
	}
	cp := append([]byte(nil), data...)
	f.sent = append(f.sent, cp)
	return nil
}

// newRunningPipeline builds a Pipeline already marked running, without
// launching the sender goroutine, so tests can inspect what lands in the
// queue before anything drains it.
func newRunningPipeline(version protocol.VersionQuad, control controlSender, legacyCodec *codec.LegacyInputCodec, legacyConn io.Writer) *Pipeline {
	p := NewPipeline(version, control, legacyCodec, legacyConn)
	atomic.StoreInt32(&p.state, stateRunning)
	return p
}

func relDelta(pkt *queuedPacket) (int16, int16) {
	x := int16(binary.BigEndian.Uint16(pkt.data[relMouseOffDeltaX : relMouseOffDeltaX+2]))
	y := int16(binary.BigEndian.Uint16(pkt.data[relMouseOffDeltaY : relMouseOffDeltaY+2]))
	return x, y
}

// TestPipeline_RelMouseMoveCoalescesThenSaturates reproduces the
// (30000,0) sent three times example: each addition overflows int16, so
// every call after the first lands in a fresh packet instead of
// accumulating into the one still queued.
func TestPipeline_RelMouseMoveCoalescesThenSaturates(t *testing.T) {
	p := newRunningPipeline(protocol.VersionQuad{7, 1, 431, 0}, &fakeControlSender{}, nil, nil)

	for i := 0; i < 3; i++ {
		if err := p.SendMouseMove(30000, 0); err != nil {
			t.Fatalf("SendMouseMove #%d: %v", i, err)
		}
	}

	if len(p.queue) != 3 {
		t.Fatalf("queued packets = %d, want 3 (each addition overflows int16)", len(p.queue))
	}

	for i := 0; i < 3; i++ {
		pkt := <-p.queue
		x, y := relDelta(pkt)
		if x != 30000 || y != 0 {
			t.Fatalf("packet %d delta = (%d,%d), want (30000,0)", i, x, y)
		}
	}
}

// TestPipeline_RelMouseMoveAccumulatesWithinRange verifies the normal
// coalescing path: small deltas that stay within int16 range merge into
// the single still-queued packet.
func TestPipeline_RelMouseMoveAccumulatesWithinRange(t *testing.T) {
	p := newRunningPipeline(protocol.VersionQuad{7, 1, 431, 0}, &fakeControlSender{}, nil, nil)

	if err := p.SendMouseMove(10, -5); err != nil {
		t.Fatalf("SendMouseMove: %v", err)
	}
	if err := p.SendMouseMove(3, -2); err != nil {
		t.Fatalf("SendMouseMove: %v", err)
	}

	if len(p.queue) != 1 {
		t.Fatalf("queued packets = %d, want 1", len(p.queue))
	}
	pkt := <-p.queue
	x, y := relDelta(pkt)
	if x != 13 || y != -7 {
		t.Fatalf("accumulated delta = (%d,%d), want (13,-7)", x, y)
	}
}

// TestPipeline_MousePositionDedupToLatest reproduces the abs-mouse dedup
// property: N calls before the pipeline drains produce exactly one
// queued packet carrying only the last position sent.
func TestPipeline_MousePositionDedupToLatest(t *testing.T) {
	p := newRunningPipeline(protocol.VersionQuad{7, 1, 431, 0}, &fakeControlSender{}, nil, nil)

	positions := [][4]int16{
		{1, 1, 1920, 1080},
		{500, 500, 1920, 1080},
		{999, 888, 1920, 1080},
	}
	for _, pos := range positions {
		if err := p.SendMousePosition(pos[0], pos[1], pos[2], pos[3]); err != nil {
			t.Fatalf("SendMousePosition: %v", err)
		}
	}

	if len(p.queue) != 1 {
		t.Fatalf("queued packets = %d, want 1", len(p.queue))
	}
	pkt := <-p.queue
	want := buildAbsMouseMovePacket(999, 888, 1920, 1080)
	if !bytes.Equal(pkt.data, want) {
		t.Fatalf("queued packet = %x, want %x (last position only)", pkt.data, want)
	}
}

func TestPipeline_OfferReturnsErrQueueFullWhenSaturated(t *testing.T) {
	p := newRunningPipeline(protocol.VersionQuad{7, 1, 431, 0}, &fakeControlSender{}, nil, nil)

	for i := 0; i < queueCapacity; i++ {
		if err := p.SendMouseButton(true, 0); err != nil {
			t.Fatalf("SendMouseButton #%d: %v", i, err)
		}
	}

	if err := p.SendMouseButton(true, 0); err != ErrQueueFull {
		t.Fatalf("SendMouseButton on full queue = %v, want %v", err, ErrQueueFull)
	}
}

func TestPipeline_Dispatch_EncryptedControlStreamSendsPlaintext(t *testing.T) {
	sender := &fakeControlSender{}
	p := NewPipeline(protocol.VersionQuad{7, 1, 431, 0}, sender, nil, nil)

	data := []byte("plaintext input packet")
	if err := p.dispatch(data); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(sender.sent) != 1 || !bytes.Equal(sender.sent[0], data) {
		t.Fatalf("sent = %v, want plaintext packet forwarded unmodified", sender.sent)
	}
}

func TestPipeline_Dispatch_ENetGenerationSendsLegacyEncryptedOverControl(t *testing.T) {
	key := bytes.Repeat([]byte{0x09}, 16)
	iv := bytes.Repeat([]byte{0x0a}, 16)
	lc := codec.NewLegacyInputCodec(key, iv, true)

	sender := &fakeControlSender{}
	p := NewPipeline(protocol.VersionQuad{5, 0, 0, 0}, sender, lc, nil)

	data := []byte("gen5 plaintext")
	if err := p.dispatch(data); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("sent %d packets, want 1", len(sender.sent))
	}
	got := sender.sent[0]
	length := binary.BigEndian.Uint32(got[0:4])
	if int(length) != len(got)-4 {
		t.Fatalf("length prefix = %d, want %d", length, len(got)-4)
	}
}

func TestPipeline_Dispatch_PreENetGenerationWritesToLegacyConn(t *testing.T) {
	key := bytes.Repeat([]byte{0x0b}, 16)
	iv := bytes.Repeat([]byte{0x0c}, 16)
	lc := codec.NewLegacyInputCodec(key, iv, false)

	sender := &fakeControlSender{}
	var conn bytes.Buffer
	p := NewPipeline(protocol.VersionQuad{3, 0, 0, 0}, sender, lc, &conn)

	data := []byte("gen3 plaintext")
	if err := p.dispatch(data); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("sent over control = %d packets, want 0 (pre-Gen5 uses dedicated socket)", len(sender.sent))
	}
	if conn.Len() == 0 {
		t.Fatal("legacy conn received nothing")
	}
	length := binary.BigEndian.Uint32(conn.Bytes()[0:4])
	if int(length) != conn.Len()-4 {
		t.Fatalf("length prefix = %d, want %d", length, conn.Len()-4)
	}
}

func TestPipeline_MultiControllerCoalescesSameControllerState(t *testing.T) {
	p := newRunningPipeline(protocol.VersionQuad{7, 1, 431, 0}, &fakeControlSender{}, nil, nil)

	if err := p.SendMultiController(0, 0x1, 0, 0, 0, 0, 0, 0, 0); err != nil {
		t.Fatalf("SendMultiController: %v", err)
	}
	if err := p.SendMultiController(0, 0x1, 0, 0, 0, 100, 200, 0, 0); err != nil {
		t.Fatalf("SendMultiController: %v", err)
	}

	if len(p.queue) != 1 {
		t.Fatalf("queued packets = %d, want 1 (same controller/mask/buttons coalesce)", len(p.queue))
	}
}

func TestPipeline_SendBeforeStartReturnsErrClosed(t *testing.T) {
	p := NewPipeline(protocol.VersionQuad{7, 1, 431, 0}, &fakeControlSender{}, nil, nil)

	if err := p.SendMouseButton(true, 0); err != ErrClosed {
		t.Fatalf("SendMouseButton before Start = %v, want %v", err, ErrClosed)
	}
	if err := p.SendMouseMove(1, 1); err != ErrClosed {
		t.Fatalf("SendMouseMove before Start = %v, want %v", err, ErrClosed)
	}
	if err := p.SendMousePosition(1, 1, 100, 100); err != ErrClosed {
		t.Fatalf("SendMousePosition before Start = %v, want %v", err, ErrClosed)
	}
	if err := p.SendKeyboard(0x41, true, 0); err != ErrClosed {
		t.Fatalf("SendKeyboard before Start = %v, want %v", err, ErrClosed)
	}
	if err := p.SendScroll(1); err != ErrClosed {
		t.Fatalf("SendScroll before Start = %v, want %v", err, ErrClosed)
	}
	if err := p.SendUTF8Text("x"); err != ErrClosed {
		t.Fatalf("SendUTF8Text before Start = %v, want %v", err, ErrClosed)
	}
	if err := p.SendController(0, 0, 0, 0, 0, 0, 0); err != ErrClosed {
		t.Fatalf("SendController before Start = %v, want %v", err, ErrClosed)
	}
	if err := p.SendMultiController(0, 0, 0, 0, 0, 0, 0, 0, 0); err != ErrClosed {
		t.Fatalf("SendMultiController before Start = %v, want %v", err, ErrClosed)
	}
}

func TestPipeline_SendAfterCloseReturnsErrClosed(t *testing.T) {
	p := NewPipeline(protocol.VersionQuad{7, 1, 431, 0}, &fakeControlSender{}, nil, nil)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	p.Close()

	if err := p.SendMouseButton(true, 0); err != ErrClosed {
		t.Fatalf("SendMouseButton after Close = %v, want %v", err, ErrClosed)
	}
}

func TestPipeline_MultiControllerDoesNotCoalesceAcrossDifferentControllers(t *testing.T) {
	p := newRunningPipeline(protocol.VersionQuad{7, 1, 431, 0}, &fakeControlSender{}, nil, nil)

	if err := p.SendMultiController(0, 0x1, 0, 0, 0, 0, 0, 0, 0); err != nil {
		t.Fatalf("SendMultiController: %v", err)
	}
	if err := p.SendMultiController(1, 0x1, 0, 0, 0, 0, 0, 0, 0); err != nil {
		t.Fatalf("SendMultiController: %v", err)
	}

	if len(p.queue) != 2 {
		t.Fatalf("queued packets = %d, want 2 (different controller numbers must not coalesce)", len(p.queue))
	}
}
