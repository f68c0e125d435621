// Package control drives the control channel: the startup handshake, the
// receive/telemetry/invalidation workers, and the single send path every
// outgoing control and (on newer servers) input message passes through.
package control

import (
	"context"
	"encoding/binary"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/moonlight-stream/moonlight-common-go/codec"
	"github.com/moonlight-stream/moonlight-common-go/protocol"
	"github.com/moonlight-stream/moonlight-common-go/quality"
	"github.com/moonlight-stream/moonlight-common-go/transport"
	"github.com/moonlight-stream/moonlight-common-go/types"
)

// Periodic ping is a bare keepalive independent of the generation's
// message profile; the reference client hardcodes its type code rather
// than resolving it from the profile table.
const periodicPingType = 0x0200

const (
	lossReportIntervalMs  = 50
	periodicPingIntervalMs = 250
	invalidationPollMs    = 5
	controlReplyTimeout   = 10 * time.Second
)

var errUnsupportedMessage = errors.New("control: message not supported by negotiated profile")

// Session owns one control-channel connection for the lifetime of a
// stream. It is not reusable across reconnects; build a new Session for
// each attempt.
type Session struct {
	id        uuid.UUID
	profile   *protocol.Profile
	version   protocol.VersionQuad
	adapter   transport.Adapter
	codec     *codec.ControlCodec // nil unless protocol.EncryptedControlStream(version)
	monitor   *quality.Monitor
	metrics   *quality.Metrics
	callbacks types.ConnectionCallbacks

	sendMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	terminateOnce sync.Once

	hdr hdrState
}

// NewSession builds a Session around an already-connected adapter. codec
// must be non-nil exactly when protocol.EncryptedControlStream(version)
// is true; callers are expected to have already completed the RTSP
// handshake and negotiated version.
func NewSession(version protocol.VersionQuad, adapter transport.Adapter, ctrlCodec *codec.ControlCodec, monitor *quality.Monitor, metrics *quality.Metrics, callbacks types.ConnectionCallbacks) *Session {
	return &Session{
		id:        uuid.New(),
		profile:   protocol.ProfileFor(version),
		version:   version,
		adapter:   adapter,
		codec:     ctrlCodec,
		monitor:   monitor,
		metrics:   metrics,
		callbacks: callbacks,
	}
}

// Start performs the START A / START B handshake and launches the
// telemetry and invalidation workers (and, for ENet-based generations,
// the receive worker). If any step fails, everything started so far is
// unwound before the error is returned.
func (s *Session) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	log.Printf("control[%s]: starting, profile=%s", s.id, s.profile.Name())

	// The receive worker must be running before Start A/B goes out: a
	// failure mid-handshake only unwinds the receive worker via context
	// cancellation, and there has to be one to unwind.
	if protocol.UsesENet(s.version) {
		s.wg.Add(1)
		go s.runReceive()
	}

	if err := s.sendAndDiscardReply(protocol.IdxStartA, s.profile.Preconstructed(protocol.IdxStartA)); err != nil {
		log.Printf("control[%s]: START A failed: %v", s.id, err)
		s.cancel()
		s.wg.Wait()
		return err
	}

	if err := s.sendAndDiscardReply(protocol.IdxStartB, s.profile.Preconstructed(protocol.IdxStartB)); err != nil {
		log.Printf("control[%s]: START B failed: %v", s.id, err)
		s.cancel()
		s.wg.Wait()
		return err
	}

	s.wg.Add(1)
	go s.runTelemetry()

	s.wg.Add(1)
	go s.runInvalidation()

	log.Printf("control[%s]: handshake complete, workers running", s.id)
	return nil
}

// Stop tears the session down without treating it as a server-initiated
// termination: the ConnectionTerminated callback is not invoked.
func (s *Session) Stop() {
	log.Printf("control[%s]: stopping", s.id)
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.adapter.Disconnect()
	_ = s.adapter.Close()
}

// terminate fires the ConnectionTerminated callback exactly once and
// unwinds every worker goroutine, regardless of which one observed the
// failure first.
func (s *Session) terminate(code int) {
	s.terminateOnce.Do(func() {
		if s.callbacks != nil {
			s.callbacks.ConnectionTerminated(code)
		}
	})
	if s.cancel != nil {
		s.cancel()
	}
}

// ID returns the session's correlation ID, stable for its lifetime and
// useful for tying log lines and metrics to one connection attempt.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// RequestIDRFrame asks the invalidation worker to request a full IDR frame
// on its next cycle, discarding any queued incremental invalidation
// ranges in favor of the full frame.
func (s *Session) RequestIDRFrame() {
	s.monitor.RequestIdrOnDemand()
}

// ReportFrame feeds one video frame's arrival into the connection quality
// monitor: complete marks whether the frame fully reassembled. Callers
// (the video receive path) drive the hysteresis and invalidation logic
// entirely through this one entry point.
func (s *Session) ReportFrame(frameIndex int, complete bool) {
	s.monitor.ConnectionSawFrame(frameIndex)
	if s.metrics != nil {
		s.metrics.IncFramesSeen()
	}
	if complete {
		s.monitor.ConnectionReceivedCompleteFrame(frameIndex)
	} else if s.metrics != nil {
		s.metrics.IncFramesLost()
	}
}

// SendInputPacket forwards an already-encoded input packet over the
// unified control channel. Only valid for generation 5+ servers; callers
// must gate on protocol.UsesENet before routing input this way.
func (s *Session) SendInputPacket(data []byte) error {
	return s.sendAndForget(protocol.IdxInputData, data)
}

// buildFrame wraps payload in whatever header the negotiated transport
// expects: the AES-GCM envelope for the encrypted control stream, the
// 4-byte length-prefixed TCP header for legacy servers, or the bare V1
// ENet header (just the type) otherwise.
func (s *Session) buildFrame(msgType uint16, payload []byte) ([]byte, error) {
	if s.codec != nil {
		return s.codec.EncryptFrame(msgType, payload)
	}

	if s.adapter.RequiresFraming() {
		frame := make([]byte, 4+len(payload))
		binary.LittleEndian.PutUint16(frame[0:2], msgType)
		binary.LittleEndian.PutUint16(frame[2:4], uint16(len(payload)))
		copy(frame[4:], payload)
		return frame, nil
	}

	frame := make([]byte, 2+len(payload))
	binary.LittleEndian.PutUint16(frame[0:2], msgType)
	copy(frame[2:], payload)
	return frame, nil
}
