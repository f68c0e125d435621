package control

import (
	"encoding/binary"
	"log"
	"time"

	"github.com/moonlight-stream/moonlight-common-go/protocol"
	"github.com/moonlight-stream/moonlight-common-go/transport"
	"github.com/moonlight-stream/moonlight-common-go/types"
)

// servicePollInterval bounds how long each Service call blocks so the
// worker notices context cancellation promptly. The reference client
// polls with a zero timeout and sleeps 10ms between empty polls; blocking
// directly for this long inside Service is equivalent and avoids a
// busy-sleep loop.
const servicePollInterval = 10 * time.Millisecond

// disconnectDrainWindow and disconnectWaitWindow are the two stages the
// receive worker waits through once the adapter reports a pending
// disconnect: a short window to drain any stragglers still arriving while
// the disconnect is suppressed, then a longer window to let the peer's
// disconnect be confirmed before giving up on it.
const (
	disconnectDrainWindow = 100 * time.Millisecond
	disconnectWaitWindow  = 1000 * time.Millisecond
)

// eventContext bundles the lookups runReceive needs to interpret a
// received frame, so both the main loop and the disconnect drain can
// dispatch events through the same code path.
type eventContext struct {
	hasRumble  bool
	rumbleType uint16
	hasTerm    bool
	termType   uint16
}

// runReceive services the ENet peer for control messages: rumble
// notifications, the termination message, and an unsolicited disconnect.
// It never runs for pre-Gen5 (TCP) sessions -- the reference
// controlReceiveThreadFunc returns immediately in that case too, since
// legacy servers only ever reply synchronously to requests we send.
func (s *Session) runReceive() {
	defer s.wg.Done()
	log.Printf("control[%s]: receive worker starting", s.id)
	defer log.Printf("control[%s]: receive worker stopped", s.id)

	rumbleType, hasRumble := s.profile.Code(protocol.IdxRumbleData)
	termType, hasTerm := s.profile.Code(protocol.IdxTermination)
	ectx := eventContext{hasRumble: hasRumble, rumbleType: rumbleType, hasTerm: hasTerm, termType: termType}

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		ev, err := s.adapter.Service(servicePollInterval)
		if err != nil {
			log.Printf("control[%s]: receive service error: %v", s.id, err)
			s.terminate(-1)
			return
		}

		if ev.Type == transport.EventNone && s.adapter.DisconnectPending() {
			if s.drainDisconnect(ectx) {
				return
			}
			continue
		}

		if s.dispatchEvent(ev, ectx) {
			return
		}
	}
}

// drainDisconnect implements the two-stage wait the receive worker runs
// once the adapter reports DisconnectPending: first disconnectDrainWindow
// with the disconnect still suppressed, to let any in-flight receives
// land, then, if that's quiet, disconnectWaitWindow to let the peer's
// disconnect be confirmed. If both stages go quiet the server is assumed
// dead. It returns true once the caller should stop the receive loop.
func (s *Session) drainDisconnect(ectx eventContext) bool {
	for _, window := range []time.Duration{disconnectDrainWindow, disconnectWaitWindow} {
		select {
		case <-s.ctx.Done():
			return true
		default:
		}

		ev, err := s.adapter.Service(window)
		if err != nil {
			log.Printf("control[%s]: receive service error: %v", s.id, err)
			s.terminate(-1)
			return true
		}
		if ev.Type != transport.EventNone {
			return s.dispatchEvent(ev, ectx)
		}
	}

	log.Printf("control[%s]: disconnect drain timed out, assuming server died", s.id)
	s.terminate(-1)
	return true
}

// dispatchEvent handles one adapter event and reports whether the receive
// worker should stop: the peer disconnected or the server sent its
// termination message.
func (s *Session) dispatchEvent(ev transport.Event, ectx eventContext) bool {
	switch ev.Type {
	case transport.EventNone:
		return false

	case transport.EventDisconnect:
		log.Printf("control[%s]: peer disconnected", s.id)
		s.terminate(-1)
		return true

	case transport.EventReceive:
		v1, err := s.toV1(ev.Data)
		if err != nil {
			log.Printf("control[%s]: dropped undecryptable control message: %v", s.id, err)
			if s.metrics != nil {
				s.metrics.IncGCMFailures()
			}
			return false
		}
		if len(v1) < 2 {
			return false
		}

		msgType := binary.LittleEndian.Uint16(v1[0:2])
		payload := v1[2:]

		switch {
		case ectx.hasRumble && msgType == ectx.rumbleType:
			s.handleRumble(payload)
		case ectx.hasTerm && msgType == ectx.termType:
			s.handleTermination(payload)
			return true
		}
	}
	return false
}

func (s *Session) handleRumble(payload []byte) {
	if s.callbacks == nil || len(payload) < 10 {
		return
	}
	controllerNumber := binary.LittleEndian.Uint16(payload[4:6])
	lowFreq := binary.LittleEndian.Uint16(payload[6:8])
	highFreq := binary.LittleEndian.Uint16(payload[8:10])
	s.callbacks.Rumble(controllerNumber, lowFreq, highFreq)
}

// handleTermination maps the server's termination notification onto the
// client-facing error codes, preserving the reference client's special
// casing of the graceful-shutdown and protected-content HRESULTs: both
// the extended (HRESULT) and short (legacy reason) forms resolve to
// graceful-vs-unexpected based on whether a frame was ever seen.
func (s *Session) handleTermination(payload []byte) {
	var code int

	if len(payload) >= 4 {
		errorCode := protocol.ByteOrder.Uint32(payload[0:4])
		switch errorCode {
		case 0x80030023:
			code = s.gracefulOrEarly()
		case 0x800e9302:
			code = types.ErrProtectedContent
		default:
			code = int(errorCode)
		}
	} else if len(payload) >= 2 {
		reason := binary.LittleEndian.Uint16(payload[0:2])
		if reason == 0x0100 {
			code = s.gracefulOrEarly()
		} else {
			code = int(reason)
		}
	}

	log.Printf("control[%s]: server termination notice, code=%d", s.id, code)
	s.terminate(code)
}

func (s *Session) gracefulOrEarly() int {
	if s.monitor.LastSeenFrame() != 0 {
		return types.ErrGracefulTermination
	}
	return types.ErrUnexpectedTermination
}

// toV1 normalizes a received frame to [type u16 LE][payload...]. Encrypted
// sessions decrypt and convert from the V2 wire layout; everyone else
// already received a bare V1 frame from the adapter.
func (s *Session) toV1(data []byte) ([]byte, error) {
	if s.codec == nil {
		return data, nil
	}
	return s.codec.DecryptToV1(data)
}
