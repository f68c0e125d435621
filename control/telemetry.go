package control

import (
	"encoding/binary"
	"time"

	"github.com/moonlight-stream/moonlight-common-go/protocol"
)

// runTelemetry sends either a bare periodic ping (7.1.415+ servers) or a
// loss-stats report (older servers), never both -- the two modes are
// mutually exclusive per-connection, decided once from the negotiated
// version. This mirrors lossStatsThreadFunc, which branches the same way
// for its entire lifetime rather than per iteration.
func (s *Session) runTelemetry() {
	defer s.wg.Done()

	if protocol.UsePeriodicPing(s.version) {
		s.runPeriodicPing()
	} else {
		s.runLossStats()
	}
}

func (s *Session) runPeriodicPing() {
	ticker := time.NewTicker(periodicPingIntervalMs * time.Millisecond)
	defer ticker.Stop()

	payload := make([]byte, 8)
	binary.LittleEndian.PutUint16(payload[0:2], 4)

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.sendRaw(periodicPingType, payload); err != nil {
				s.terminate(-1)
				return
			}
		}
	}
}

func (s *Session) runLossStats() {
	ticker := time.NewTicker(lossReportIntervalMs * time.Millisecond)
	defer ticker.Stop()

	payloadLen := s.profile.PayloadLen(protocol.IdxLossStats)

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			payload := make([]byte, payloadLen)
			binary.LittleEndian.PutUint32(payload[0:4], uint32(s.monitor.TakeLossCount()))
			binary.LittleEndian.PutUint32(payload[4:8], lossReportIntervalMs)
			binary.LittleEndian.PutUint32(payload[8:12], 1000)
			binary.LittleEndian.PutUint64(payload[12:20], uint64(s.monitor.LastGoodFrame()))
			binary.LittleEndian.PutUint32(payload[28:32], 0x14)

			if err := s.sendAndForget(protocol.IdxLossStats, payload); err != nil {
				s.terminate(-1)
				return
			}
		}
	}
}
