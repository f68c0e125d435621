// Package protocol defines the wire protocol structures for Moonlight streaming.
package protocol

import (
	"encoding/binary"
)

// Byte order for protocol messages
var ByteOrder = binary.BigEndian
var LittleEndian = binary.LittleEndian

// RTP packet header
type RTPHeader struct {
	Header         uint8  // Version, padding, extension, CSRC count
	PacketType     uint8  // Marker + payload type
	SequenceNumber uint16
	Timestamp      uint32
	SSRC           uint32
}

const (
	RTPHeaderSize    = 12
	MaxRTPHeaderSize = 16
)

// NV input packet header
type NVInputHeader struct {
	Size  uint32 // Big-endian
	Magic uint32 // Little-endian
}

// Keyboard packet
type KeyboardPacket struct {
	Header    NVInputHeader
	Flags     uint8
	KeyCode   uint16
	Modifiers uint8
	Zero      uint8
}

// Relative mouse move packet
type RelMouseMovePacket struct {
	Header NVInputHeader
	DeltaX int16 // Big-endian
	DeltaY int16 // Big-endian
}

// Absolute mouse move packet
type AbsMouseMovePacket struct {
	Header NVInputHeader
	X      uint16 // Big-endian
	Y      uint16 // Big-endian
	Unused uint16
	Width  uint16 // Big-endian
	Height uint16 // Big-endian
}

// Mouse button packet
type MouseButtonPacket struct {
	Header NVInputHeader
	Button uint8
}

// Scroll packet
type ScrollPacket struct {
	Header     NVInputHeader
	ScrollAmt1 int16 // Big-endian
	ScrollAmt2 int16 // Big-endian
	Zero       uint16
}

// Controller packet (legacy)
type ControllerPacket struct {
	Header       NVInputHeader
	HeaderB      uint16
	ButtonFlags  uint16
	LeftTrigger  uint8
	RightTrigger uint8
	LeftStickX   int16
	LeftStickY   int16
	RightStickX  int16
	RightStickY  int16
	TailA        uint32
	TailB        uint16
}

// Multi-controller packet
type MultiControllerPacket struct {
	Header           NVInputHeader
	HeaderB          uint16
	ControllerNumber uint16
	ActiveGamepadMask uint16
	MidB             uint16
	ButtonFlags      uint16
	LeftTrigger      uint8
	RightTrigger     uint8
	LeftStickX       int16
	LeftStickY       int16
	RightStickX      int16
	RightStickY      int16
	TailA            uint16
	ButtonFlags2     uint16
	TailB            uint16
}

// Haptics packet (enable rumble)
type HapticsPacket struct {
	Header NVInputHeader
	Enable uint16
}

// UTF-8 text packet
type UTF8TextPacket struct {
	Header NVInputHeader
	Text   []byte
}

// Magic numbers for input packets
const (
	KeyboardMagicDown = 0x03
	KeyboardMagicUp   = 0x04

	MouseMoveRelMagic     = 0x06
	MouseMoveRelMagicGen5 = 0x07
	MouseMoveAbsMagic     = 0x05
	MouseButtonDownMagic  = 0x07
	MouseButtonUpMagic    = 0x08
	MouseButtonDownGen5   = 0x08
	MouseButtonUpGen5     = 0x09

	ScrollMagic     = 0x09
	ScrollMagicGen5 = 0x0A

	ControllerMagic          = 0x0d
	MultiControllerMagic     = 0x0e
	MultiControllerMagicGen5 = 0x1e

	EnableHapticsMagic = 0x55
	UTF8TextEventMagic = 0x56
)

// Controller packet constants
const (
	ControllerHeaderB = 0x1400
	ControllerTailA   = 0x00140000
	ControllerTailB   = 0x0014

	MultiControllerHeaderB = 0x001c
	MultiControllerMidB    = 0x0014
	MultiControllerTailA   = 0x0000
	MultiControllerTailB   = 0x0014
)

// ENet packet flags
const (
	ENetPacketFlagReliable   = 1 << 0
	ENetPacketFlagUnsequenced = 1 << 1
	ENetPacketFlagNoAllocate = 1 << 2
)

// ControlChannel is the single ENet channel the control peer uses for
// every message: control-plane traffic and, once negotiated, input data
// riding the unified control stream.
const ControlChannel = 0

// ControlChannelCount is the number of ENet channels the control peer
// connection is opened with.
const ControlChannelCount = 1

// Video encryption header
type EncVideoHeader struct {
	IV          [12]byte
	Tag         [16]byte
	FrameNumber uint32
}

// Control stream TCP packet header
type NVCtrlTCPHeader struct {
	Type          uint16
	PayloadLength uint16
}

// Control stream ENet packet header (V1)
type NVCtrlENetHeaderV1 struct {
	Type uint16
}

// Control stream ENet packet header (V2)
type NVCtrlENetHeaderV2 struct {
	Type          uint16
	PayloadLength uint16
}

// Control stream encrypted packet header
type NVCtrlEncryptedHeader struct {
	EncryptedHeaderType uint16 // Always 0x0001
	Length              uint16 // sizeof(seq) + 16 byte tag + secondary header and data
	Seq                 uint32 // Monotonically increasing sequence number
}

// Wheel delta matches Windows WHEEL_DELTA
const WheelDelta = 120

// AES-GCM constants
const AESGCMTagLength = 16
