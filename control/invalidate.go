package control

import (
	"encoding/binary"
	"time"

	"github.com/moonlight-stream/moonlight-common-go/protocol"
	"github.com/moonlight-stream/moonlight-common-go/quality"
)

// invalidationFramePayloadLen matches IDX_INVALIDATE_REF_FRAMES's fixed 24
// byte payload across every generation that supports it: two big-endian
// int64 frame indices (start, end) plus an unused trailing int64.
const invalidationFramePayloadLen = 24

// idrLookbackFrames bounds how far back an on-demand IDR request's
// invalidation range reaches when few frames have been seen yet.
const idrLookbackFrames = 0x20

// runInvalidation drains queued frame-loss ranges (or, when an IDR is
// required, discards them and requests a full IDR instead). The
// reference implementation blocks on an event signaled by the producer;
// this polls the bounded queue on a short interval instead, since
// quality.Monitor intentionally doesn't expose its internal channel for a
// worker outside its package to select on.
func (s *Session) runInvalidation() {
	defer s.wg.Done()

	ticker := time.NewTicker(invalidationPollMs * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.invalidationCycle(); err != nil {
				s.terminate(-1)
				return
			}
		}
	}
}

func (s *Session) invalidationCycle() error {
	if s.monitor.TakeIdrRequired() {
		for {
			if _, ok := s.monitor.NextInvalidationRange(); !ok {
				break
			}
		}
		return s.requestIDRFrame()
	}

	r, ok := s.monitor.NextInvalidationRange()
	if !ok {
		return nil
	}

	// Aggregate every currently-queued range into one invalidation
	// request, matching requestInvalidateReferenceFrames.
	for {
		next, ok := s.monitor.NextInvalidationRange()
		if !ok {
			break
		}
		if next.EndFrame > r.EndFrame {
			r.EndFrame = next.EndFrame
		}
	}

	return s.sendInvalidateRange(r)
}

// requestIDRFrame sends the generation-appropriate IDR request: a
// dedicated small message on pre-Gen5 servers, or (for Gen5+) an
// invalidate-ref-frames request whose range is derived from the last
// frame seen, matching requestIdrFrame.
func (s *Session) requestIDRFrame() error {
	if protocol.UsesENet(s.version) {
		last := s.monitor.LastSeenFrame()
		var start, end int64
		if last < idrLookbackFrames {
			start, end = 0, int64(last)
		} else {
			start, end = int64(last)-idrLookbackFrames, int64(last)
		}
		return s.sendInvalidateRange(quality.InvalidationRange{StartFrame: int(start), EndFrame: int(end)})
	}

	return s.sendAndDiscardReply(protocol.IdxRequestIDRFrame, s.profile.Preconstructed(protocol.IdxRequestIDRFrame))
}

func (s *Session) sendInvalidateRange(r quality.InvalidationRange) error {
	payload := make([]byte, invalidationFramePayloadLen)
	binary.BigEndian.PutUint64(payload[0:8], uint64(r.StartFrame))
	binary.BigEndian.PutUint64(payload[8:16], uint64(r.EndFrame))
	return s.sendAndDiscardReply(protocol.IdxInvalidateRefFrames, payload)
}
