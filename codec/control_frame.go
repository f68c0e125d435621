// Package codec implements the wire-level framing and encryption used to
// carry control and input messages once a session has negotiated the
// encrypted control stream (server 7.1.431+).
package codec

import (
	"encoding/binary"
	"errors"
	"sync"

	"github.com/moonlight-stream/moonlight-common-go/crypto"
)

// ErrRuntPacket indicates a received encrypted frame was too short to hold
// a sequence number, GCM tag, and inner V2 header.
var ErrRuntPacket = errors.New("codec: runt encrypted control packet")

// ErrBadHeaderType indicates the outer frame's type field was not the
// fixed 0x0001 encrypted-control marker.
var ErrBadHeaderType = errors.New("codec: unexpected encrypted header type")

const encryptedHeaderType = 0x0001
const gcmTagLen = 16
const innerHeaderLen = 4 // V2 header: type(2) + payloadLength(2)

// ControlCodec wire header sizes.
const (
	OuterHeaderLen = 8 // type(2) + length(2) + seq(4)
)

// ControlCodec frames and encrypts/decrypts messages on the unified,
// AES-GCM-protected control channel. A sequence counter is monotonically
// increasing and doubles as the GCM IV source; the caller is responsible
// for serializing calls (the control session's send mutex does this).
type ControlCodec struct {
	mu  sync.Mutex
	ctx *crypto.Context
	seq uint32
}

// NewControlCodec builds a codec keyed with the remote input AES key
// negotiated during the RTSP handshake.
func NewControlCodec(key []byte) (*ControlCodec, error) {
	ctx, err := crypto.NewContext(key)
	if err != nil {
		return nil, err
	}
	return &ControlCodec{ctx: ctx}, nil
}

// gcmIV derives the 16-byte nonce used for both directions of the unified
// control channel. Only the low byte of the sequence number is folded in
// -- a truncating cast present in the reference server, preserved here
// bit-for-bit since real servers depend on it.
func gcmIV(seq uint32) []byte {
	iv := make([]byte, 16)
	iv[0] = byte(seq)
	return iv
}

// EncryptFrame builds a complete wire frame for msgType/payload: the V2
// inner header (type + payload length) is encrypted together with the
// payload under AES-128-GCM, then wrapped in the outer encrypted-control
// envelope carrying the sequence number in the clear.
func (c *ControlCodec) EncryptFrame(msgType uint16, payload []byte) ([]byte, error) {
	c.mu.Lock()
	seq := c.seq
	c.seq++
	c.mu.Unlock()

	inner := make([]byte, innerHeaderLen+len(payload))
	binary.LittleEndian.PutUint16(inner[0:2], msgType)
	binary.LittleEndian.PutUint16(inner[2:4], uint16(len(payload)))
	copy(inner[4:], payload)

	iv := gcmIV(seq)
	ciphertext, tag, err := c.ctx.EncryptGCM(inner, iv, nil)
	if err != nil {
		return nil, err
	}

	innerLen := uint16(4 + gcmTagLen + len(ciphertext))
	frame := make([]byte, OuterHeaderLen+gcmTagLen+len(ciphertext))
	binary.LittleEndian.PutUint16(frame[0:2], encryptedHeaderType)
	binary.LittleEndian.PutUint16(frame[2:4], innerLen)
	binary.LittleEndian.PutUint32(frame[4:8], seq)
	copy(frame[OuterHeaderLen:OuterHeaderLen+gcmTagLen], tag)
	copy(frame[OuterHeaderLen+gcmTagLen:], ciphertext)
	return frame, nil
}

// DecryptToV1 decrypts a received encrypted-control wire frame and
// rewrites its inner header in place from the V2 layout (type +
// payloadLength) to the V1 layout (type only), matching what the rest of
// the control-message dispatcher expects. The returned slice is
// [type LE u16][payload...].
func (c *ControlCodec) DecryptToV1(wire []byte) ([]byte, error) {
	if len(wire) < OuterHeaderLen {
		return nil, ErrRuntPacket
	}

	headerType := binary.LittleEndian.Uint16(wire[0:2])
	innerLen := binary.LittleEndian.Uint16(wire[2:4])
	seq := binary.LittleEndian.Uint32(wire[4:8])

	if headerType != encryptedHeaderType {
		return nil, ErrBadHeaderType
	}
	if int(innerLen) < 4+gcmTagLen+innerHeaderLen {
		return nil, ErrRuntPacket
	}
	if len(wire) < OuterHeaderLen+int(innerLen)-4 {
		return nil, ErrRuntPacket
	}

	tag := wire[OuterHeaderLen : OuterHeaderLen+gcmTagLen]
	ciphertext := wire[OuterHeaderLen+gcmTagLen : OuterHeaderLen+int(innerLen)-4]

	iv := gcmIV(seq)
	plaintext, err := c.ctx.DecryptGCM(ciphertext, iv, tag, nil)
	if err != nil {
		return nil, err
	}

	// In-place V2->V1 conversion: drop the 2-byte payloadLength field by
	// shifting the payload left by 2 bytes, leaving [type u16][payload].
	copy(plaintext[2:], plaintext[4:])
	return plaintext[:len(plaintext)-2], nil
}
