package control

import (
	"github.com/moonlight-stream/moonlight-common-go/protocol"
)

// sendAndForget frames and transmits a message for idx with no expectation
// of a reply, matching sendMessageAndForget. The send mutex serializes
// frame construction (which allocates the GCM sequence number or TCP
// length header) with the actual transport write.
func (s *Session) sendAndForget(idx protocol.MessageIndex, payload []byte) error {
	msgType, ok := s.profile.Code(idx)
	if !ok {
		return errUnsupportedMessage
	}
	return s.sendRaw(msgType, payload)
}

func (s *Session) sendRaw(msgType uint16, payload []byte) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	frame, err := s.buildFrame(msgType, payload)
	if err != nil {
		return err
	}
	return s.adapter.SendOnChannel(protocol.ControlChannel, protocol.ENetPacketFlagReliable, frame)
}

// sendAndDiscardReply sends a message and, for the legacy TCP transport
// only, synchronously reads and discards the server's reply frame (there
// is no background receive worker servicing that socket). On ENet this is
// identical to sendAndForget -- the reference client never actually reads
// a reply there either, despite the name.
func (s *Session) sendAndDiscardReply(idx protocol.MessageIndex, payload []byte) error {
	if err := s.sendAndForget(idx, payload); err != nil {
		return err
	}

	if !s.adapter.RequiresFraming() {
		return nil
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	_, err := s.adapter.Service(controlReplyTimeout)
	return err
}
