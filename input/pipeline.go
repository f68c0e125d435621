package input

import (
	"context"
	"errors"
	"io"
	"log"
	"math"
	"sync"
	"sync/atomic"

	"github.com/moonlight-stream/moonlight-common-go/codec"
	"github.com/moonlight-stream/moonlight-common-go/protocol"
	"github.com/moonlight-stream/moonlight-common-go/types"
)

// ErrQueueFull is returned when the outgoing input queue is saturated.
// The caller dropped an event; there is no escalation path (unlike video
// frame loss, a missed input event has no retry that would make sense).
var ErrQueueFull = errors.New("input: queue full")

// ErrClosed is returned by Send* calls made before Start or after Close.
var ErrClosed = errors.New("input: pipeline closed")

// Pipeline lifecycle states, held in state.
const (
	stateInit    int32 = iota
	stateRunning
	stateClosed
)

// controlSender is the subset of control.Session the pipeline depends on.
// Declared locally to avoid an import cycle back into control.
type controlSender interface {
	SendInputPacket(data []byte) error
}

const queueCapacity = 30

type packetKind int

const (
	kindOther packetKind = iota
	kindRelMouseMove
	kindAbsMouseMove
	kindMultiController
)

type queuedPacket struct {
	kind packetKind
	data []byte

	// multi-controller coalescing key
	controllerNumber  uint16
	activeGamepadMask uint16
	buttonFlags       uint32
}

// Pipeline serializes, coalesces, and routes outgoing input events. One
// Pipeline belongs to exactly one stream session; construct a new one per
// connection attempt.
type Pipeline struct {
	version protocol.VersionQuad

	control     controlSender
	legacyCodec *codec.LegacyInputCodec // nil when the control stream does its own encryption
	legacyConn  io.Writer                // dedicated pre-Gen5 input socket; nil for Gen5+

	queue chan *queuedPacket
	state int32 // atomic; one of stateInit, stateRunning, stateClosed

	pendingMu           sync.Mutex
	pendingRelMove      *queuedPacket
	pendingAbsMove      *queuedPacket
	pendingMultiCtrl    *queuedPacket

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce sync.Once
}

// NewPipeline builds an input pipeline. legacyCodec and legacyConn must be
// nil exactly when protocol.EncryptedControlStream(version) is true (the
// unified control stream encrypts input itself); otherwise legacyCodec is
// required, and legacyConn is required only pre-Gen5 (protocol.UsesENet
// false), where input rides a dedicated TCP socket rather than the control
// channel.
func NewPipeline(version protocol.VersionQuad, control controlSender, legacyCodec *codec.LegacyInputCodec, legacyConn io.Writer) *Pipeline {
	return &Pipeline{
		version:     version,
		control:     control,
		legacyCodec: legacyCodec,
		legacyConn:  legacyConn,
		queue:       make(chan *queuedPacket, queueCapacity),
	}
}

// Start launches the sender worker and, on new-enough servers, requests
// haptics support be enabled on the server side.
func (p *Pipeline) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go p.run()
	atomic.StoreInt32(&p.state, stateRunning)

	if p.version.AtLeast(7, 1, 0) {
		if err := p.sendEnableHaptics(); err != nil {
			return err
		}
	}
	return nil
}

// Close stops the sender worker. Queued packets that haven't been sent
// yet are dropped. Send* calls made after Close returns ErrClosed.
func (p *Pipeline) Close() {
	p.closeOnce.Do(func() {
		atomic.StoreInt32(&p.state, stateClosed)
		if p.cancel != nil {
			p.cancel()
		}
		p.wg.Wait()
	})
}

// checkOpen reports ErrClosed when called before Start or after Close, so
// every public Send* method rejects rather than silently queuing into a
// worker that either doesn't exist yet or has already stopped draining.
func (p *Pipeline) checkOpen() error {
	if atomic.LoadInt32(&p.state) != stateRunning {
		return ErrClosed
	}
	return nil
}

func (p *Pipeline) run() {
	defer p.wg.Done()
	log.Printf("input: sender worker starting")
	defer log.Printf("input: sender worker stopped")
	for {
		select {
		case <-p.ctx.Done():
			return
		case pkt := <-p.queue:
			p.clearPendingIfMatch(pkt)
			_ = p.dispatch(pkt.data)
		}
	}
}

// clearPendingIfMatch drops the producer-side coalescing slot once its
// packet has left the queue, so later calls build a fresh packet instead
// of mutating one already in flight.
func (p *Pipeline) clearPendingIfMatch(pkt *queuedPacket) {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	switch pkt.kind {
	case kindRelMouseMove:
		if p.pendingRelMove == pkt {
			p.pendingRelMove = nil
		}
	case kindAbsMouseMove:
		if p.pendingAbsMove == pkt {
			p.pendingAbsMove = nil
		}
	case kindMultiController:
		if p.pendingMultiCtrl == pkt {
			p.pendingMultiCtrl = nil
		}
	}
}

// offer enqueues pkt without blocking, reporting ErrQueueFull if the
// outgoing queue is saturated.
func (p *Pipeline) offer(pkt *queuedPacket) error {
	select {
	case p.queue <- pkt:
		return nil
	default:
		log.Printf("input: queue full, dropping packet kind=%d", pkt.kind)
		return ErrQueueFull
	}
}

// dispatch routes one already-built plaintext packet to the wire,
// mirroring the tail of inputSendThreadProc: servers new enough to
// negotiate the encrypted unified control stream get the plaintext
// packet handed straight to the Control Session (it does its own
// encryption); everyone else gets it legacy-encrypted first, then either
// written to the dedicated input TCP socket (pre-Gen5) or forwarded over
// the control channel's ENet connection as an otherwise-ordinary input
// message (Gen5/Gen6/Gen7 pre-7.1.431), which is still separately
// encrypted despite riding the same transport as control traffic.
func (p *Pipeline) dispatch(data []byte) error {
	if protocol.EncryptedControlStream(p.version) {
		return p.control.SendInputPacket(data)
	}

	encrypted, err := p.legacyCodec.Encrypt(data)
	if err != nil {
		return err
	}
	framed := append(codec.LengthPrefix(len(encrypted)), encrypted...)

	if !protocol.UsesENet(p.version) {
		_, err := p.legacyConn.Write(framed)
		return err
	}
	return p.control.SendInputPacket(framed)
}

func (p *Pipeline) sendEnableHaptics() error {
	return p.offer(&queuedPacket{kind: kindOther, data: buildHapticsPacket()})
}

// SendMouseMove queues a relative mouse movement. Consecutive calls before
// the pipeline drains the previous one accumulate into a single packet,
// clamped to avoid int16 overflow: a delta that would overflow is left
// for the next packet instead of wrapping.
func (p *Pipeline) SendMouseMove(deltaX, deltaY int16) error {
	if err := p.checkOpen(); err != nil {
		return err
	}
	if deltaX == 0 && deltaY == 0 {
		return nil
	}

	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()

	if p.pendingRelMove != nil {
		curX := int32(int16(protocol.ByteOrder.Uint16(p.pendingRelMove.data[relMouseOffDeltaX : relMouseOffDeltaX+2])))
		curY := int32(int16(protocol.ByteOrder.Uint16(p.pendingRelMove.data[relMouseOffDeltaY : relMouseOffDeltaY+2])))
		sumX := curX + int32(deltaX)
		sumY := curY + int32(deltaY)
		if sumX >= math.MinInt16 && sumX <= math.MaxInt16 && sumY >= math.MinInt16 && sumY <= math.MaxInt16 {
			protocol.ByteOrder.PutUint16(p.pendingRelMove.data[relMouseOffDeltaX:relMouseOffDeltaX+2], uint16(int16(sumX)))
			protocol.ByteOrder.PutUint16(p.pendingRelMove.data[relMouseOffDeltaY:relMouseOffDeltaY+2], uint16(int16(sumY)))
			return nil
		}
		// Would overflow: leave the pending packet alone and fall through
		// to queue a fresh one once it's pulled off the queue.
	}

	pkt := &queuedPacket{kind: kindRelMouseMove, data: buildRelMouseMovePacket(protocol.UsesENet(p.version), deltaX, deltaY)}
	if err := p.offer(pkt); err != nil {
		return err
	}
	p.pendingRelMove = pkt
	return nil
}

// SendMousePosition queues an absolute mouse position event. Unlike
// relative movement, later calls fully replace the pending packet rather
// than accumulating, since only the latest position is ever meaningful.
func (p *Pipeline) SendMousePosition(x, y, refWidth, refHeight int16) error {
	if err := p.checkOpen(); err != nil {
		return err
	}
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()

	if p.pendingAbsMove != nil {
		copy(p.pendingAbsMove.data, buildAbsMouseMovePacket(x, y, refWidth, refHeight))
		return nil
	}

	pkt := &queuedPacket{kind: kindAbsMouseMove, data: buildAbsMouseMovePacket(x, y, refWidth, refHeight)}
	if err := p.offer(pkt); err != nil {
		return err
	}
	p.pendingAbsMove = pkt
	return nil
}

// SendMouseButton queues a mouse button press or release event.
func (p *Pipeline) SendMouseButton(down bool, button uint8) error {
	if err := p.checkOpen(); err != nil {
		return err
	}
	pkt := &queuedPacket{kind: kindOther, data: buildMouseButtonPacket(protocol.UsesENet(p.version), down, button)}
	return p.offer(pkt)
}

// SendKeyboard queues a key press or release event, applying the GFE
// modifier fixups the wire protocol expects.
func (p *Pipeline) SendKeyboard(keyCode int16, down bool, modifiers uint8) error {
	if err := p.checkOpen(); err != nil {
		return err
	}
	keyCode, modifiers = fixModifiers(keyCode, modifiers)
	pkt := &queuedPacket{kind: kindOther, data: buildKeyboardPacket(keyCode, down, modifiers)}
	return p.offer(pkt)
}

// SendScroll queues a vertical scroll wheel event, in multiples of
// protocol.WheelDelta.
func (p *Pipeline) SendScroll(amount int16) error {
	if err := p.checkOpen(); err != nil {
		return err
	}
	if amount == 0 {
		return nil
	}
	pkt := &queuedPacket{kind: kindOther, data: buildScrollPacket(protocol.UsesENet(p.version), amount)}
	return p.offer(pkt)
}

// SendUTF8Text queues a Unicode text input event.
func (p *Pipeline) SendUTF8Text(text string) error {
	if err := p.checkOpen(); err != nil {
		return err
	}
	pkt := &queuedPacket{kind: kindOther, data: buildUTF8TextPacket(text)}
	return p.offer(pkt)
}

// SendController queues a single-gamepad state update, for servers that
// predate multi-controller support.
func (p *Pipeline) SendController(buttonFlags uint32, leftTrigger, rightTrigger uint8,
	leftStickX, leftStickY, rightStickX, rightStickY int16) error {

	if err := p.checkOpen(); err != nil {
		return err
	}
	pkt := &queuedPacket{kind: kindOther, data: buildControllerPacket(buttonFlags, leftTrigger, rightTrigger,
		leftStickX, leftStickY, rightStickX, rightStickY)}
	return p.offer(pkt)
}

// SendMultiController queues a multi-gamepad state update. Consecutive
// updates for the same controller, active-gamepad mask, and button state
// coalesce into the still-queued packet rather than enqueuing a new one,
// matching the reference client's handling of high-frequency stick/trigger
// updates during a single frame's input burst.
func (p *Pipeline) SendMultiController(controllerNumber, activeGamepadMask uint16, buttonFlags uint32,
	leftTrigger, rightTrigger uint8, leftStickX, leftStickY, rightStickX, rightStickY int16) error {

	if err := p.checkOpen(); err != nil {
		return err
	}

	// GFE caps controller numbering; servers negotiating the modern
	// unified control stream tolerate the full Sunshine-era range, but
	// this client always targets GameStream's historical limit.
	controllerNumber %= 4
	activeGamepadMask &= 0xF
	if buttonFlags&types.ButtonMisc != 0 {
		buttonFlags |= types.ButtonHome
	}

	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()

	if p.pendingMultiCtrl != nil &&
		p.pendingMultiCtrl.controllerNumber == controllerNumber &&
		p.pendingMultiCtrl.activeGamepadMask == activeGamepadMask &&
		p.pendingMultiCtrl.buttonFlags == buttonFlags {

		copy(p.pendingMultiCtrl.data, buildMultiControllerPacket(protocol.UsesENet(p.version), controllerNumber, activeGamepadMask,
			buttonFlags, leftTrigger, rightTrigger, leftStickX, leftStickY, rightStickX, rightStickY))
		return nil
	}

	pkt := &queuedPacket{
		kind:              kindMultiController,
		data:              buildMultiControllerPacket(protocol.UsesENet(p.version), controllerNumber, activeGamepadMask, buttonFlags, leftTrigger, rightTrigger, leftStickX, leftStickY, rightStickX, rightStickY),
		controllerNumber:  controllerNumber,
		activeGamepadMask: activeGamepadMask,
		buttonFlags:       buttonFlags,
	}
	if err := p.offer(pkt); err != nil {
		return err
	}
	p.pendingMultiCtrl = pkt
	return nil
}
