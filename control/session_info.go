package control

import (
	"sync"

	"github.com/moonlight-stream/moonlight-common-go/transport"
	"github.com/moonlight-stream/moonlight-common-go/types"
)

// hdrState holds the display metadata negotiated over RTSP, surfaced to
// the embedding client alongside everything else the control session
// tracks. It has no bearing on the wire protocol this package implements;
// it's plain state storage kept here because the teacher's Stream type
// co-located it with connection status for the same reason.
type hdrState struct {
	mu       sync.Mutex
	enabled  bool
	metadata types.HDRMetadata
}

func (s *Session) SetHDRMode(enabled bool, metadata types.HDRMetadata) {
	s.hdr.mu.Lock()
	defer s.hdr.mu.Unlock()
	s.hdr.enabled = enabled
	s.hdr.metadata = metadata
}

// IsHDREnabled reports whether the negotiated stream is using HDR.
func (s *Session) IsHDREnabled() bool {
	s.hdr.mu.Lock()
	defer s.hdr.mu.Unlock()
	return s.hdr.enabled
}

// GetHDRMetadata returns the negotiated HDR display metadata, if any.
func (s *Session) GetHDRMetadata() (types.HDRMetadata, bool) {
	s.hdr.mu.Lock()
	defer s.hdr.mu.Unlock()
	return s.hdr.metadata, s.hdr.enabled
}

// GetRTTInfo returns the adapter's live round-trip-time estimate. ok is
// false for transports that don't track RTT (the legacy TCP control
// socket).
func (s *Session) GetRTTInfo() (types.RTTInfo, bool) {
	provider, ok := s.adapter.(transport.RTTProvider)
	if !ok {
		return types.RTTInfo{}, false
	}
	estimate, variance := provider.RoundTripTime()
	return types.RTTInfo{EstimatedRTT: estimate, EstimatedRTTVariance: variance}, true
}
