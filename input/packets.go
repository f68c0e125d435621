package input

import (
	"encoding/binary"

	"github.com/moonlight-stream/moonlight-common-go/protocol"
)

// Wire layout offsets shared by the coalescing logic in pipeline.go and
// the encoders below. Every packet starts with an NVInputHeader (4-byte
// big-endian size covering everything after the size field itself,
// followed by a 4-byte little-endian magic).
const (
	headerLen = 8

	relMouseOffDeltaX = headerLen
	relMouseOffDeltaY = headerLen + 2

	absMouseLen = 18

	multiControllerLen           = 30
	multiCtrlOffControllerNumber = headerLen + 2
	multiCtrlOffActiveMask       = headerLen + 4
	multiCtrlOffMidB             = headerLen + 6
	multiCtrlOffButtonFlags      = headerLen + 8
	multiCtrlOffLeftTrigger      = headerLen + 10
	multiCtrlOffRightTrigger     = headerLen + 11
	multiCtrlOffLeftStickX       = headerLen + 12
	multiCtrlOffLeftStickY       = headerLen + 14
	multiCtrlOffRightStickX      = headerLen + 16
	multiCtrlOffRightStickY      = headerLen + 18
)

func putHeader(buf []byte, magic uint32) {
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(buf)-4))
	binary.LittleEndian.PutUint32(buf[4:8], magic)
}

func buildRelMouseMovePacket(gen5Plus bool, deltaX, deltaY int16) []byte {
	magic := uint32(protocol.MouseMoveRelMagic)
	if gen5Plus {
		magic = protocol.MouseMoveRelMagicGen5
	}
	buf := make([]byte, 12)
	putHeader(buf, magic)
	binary.BigEndian.PutUint16(buf[relMouseOffDeltaX:relMouseOffDeltaX+2], uint16(deltaX))
	binary.BigEndian.PutUint16(buf[relMouseOffDeltaY:relMouseOffDeltaY+2], uint16(deltaY))
	return buf
}

func buildAbsMouseMovePacket(x, y, refWidth, refHeight int16) []byte {
	buf := make([]byte, absMouseLen)
	putHeader(buf, protocol.MouseMoveAbsMagic)
	binary.BigEndian.PutUint16(buf[8:10], uint16(x))
	binary.BigEndian.PutUint16(buf[10:12], uint16(y))
	binary.BigEndian.PutUint16(buf[12:14], 0)
	binary.BigEndian.PutUint16(buf[14:16], uint16(refWidth-1))
	binary.BigEndian.PutUint16(buf[16:18], uint16(refHeight-1))
	return buf
}

func buildMouseButtonPacket(gen5Plus bool, down bool, button uint8) []byte {
	var magic uint32
	switch {
	case gen5Plus && down:
		magic = protocol.MouseButtonDownGen5
	case gen5Plus && !down:
		magic = protocol.MouseButtonUpGen5
	case !gen5Plus && down:
		magic = protocol.MouseButtonDownMagic
	default:
		magic = protocol.MouseButtonUpMagic
	}
	buf := make([]byte, 9)
	putHeader(buf, magic)
	buf[8] = button
	return buf
}

func buildKeyboardPacket(keyCode int16, down bool, modifiers uint8) []byte {
	magic := uint32(protocol.KeyboardMagicUp)
	if down {
		magic = protocol.KeyboardMagicDown
	}
	buf := make([]byte, 14)
	putHeader(buf, magic)
	buf[8] = 0 // flags, unused outside Sunshine's extended keyboard event
	binary.LittleEndian.PutUint16(buf[9:11], uint16(keyCode))
	buf[11] = modifiers
	buf[12] = 0
	buf[13] = 0
	return buf
}

func buildScrollPacket(gen5Plus bool, amount int16) []byte {
	magic := uint32(protocol.ScrollMagic)
	if gen5Plus {
		magic = protocol.ScrollMagicGen5
	}
	buf := make([]byte, 14)
	putHeader(buf, magic)
	binary.BigEndian.PutUint16(buf[8:10], uint16(amount))
	binary.BigEndian.PutUint16(buf[10:12], uint16(amount))
	binary.BigEndian.PutUint16(buf[12:14], 0)
	return buf
}

// buttonFlags is accepted as the full 32-bit field (the reference client
// ORs in flags like MISC that don't fit 16 bits before the sign-extension
// fixup runs) and truncated to its low 16 bits here, matching the wire
// format every known server generation actually expects on the wire.
func buildMultiControllerPacket(gen5Plus bool, controllerNumber, activeGamepadMask uint16, buttonFlags uint32,
	leftTrigger, rightTrigger uint8, leftStickX, leftStickY, rightStickX, rightStickY int16) []byte {

	magic := uint32(protocol.MultiControllerMagic)
	if gen5Plus {
		magic = protocol.MultiControllerMagicGen5
	}

	buf := make([]byte, multiControllerLen)
	putHeader(buf, magic)
	binary.LittleEndian.PutUint16(buf[8:10], protocol.MultiControllerHeaderB)
	binary.LittleEndian.PutUint16(buf[multiCtrlOffControllerNumber:multiCtrlOffControllerNumber+2], controllerNumber)
	binary.LittleEndian.PutUint16(buf[multiCtrlOffActiveMask:multiCtrlOffActiveMask+2], activeGamepadMask)
	binary.LittleEndian.PutUint16(buf[multiCtrlOffMidB:multiCtrlOffMidB+2], protocol.MultiControllerMidB)
	binary.LittleEndian.PutUint16(buf[multiCtrlOffButtonFlags:multiCtrlOffButtonFlags+2], uint16(buttonFlags))
	buf[multiCtrlOffLeftTrigger] = leftTrigger
	buf[multiCtrlOffRightTrigger] = rightTrigger
	binary.LittleEndian.PutUint16(buf[multiCtrlOffLeftStickX:multiCtrlOffLeftStickX+2], uint16(leftStickX))
	binary.LittleEndian.PutUint16(buf[multiCtrlOffLeftStickY:multiCtrlOffLeftStickY+2], uint16(leftStickY))
	binary.LittleEndian.PutUint16(buf[multiCtrlOffRightStickX:multiCtrlOffRightStickX+2], uint16(rightStickX))
	binary.LittleEndian.PutUint16(buf[multiCtrlOffRightStickY:multiCtrlOffRightStickY+2], uint16(rightStickY))
	binary.LittleEndian.PutUint16(buf[28:30], protocol.MultiControllerTailA)
	return buf
}

// buildControllerPacket encodes the legacy single-gamepad packet used by
// generations that predate multi-controller support.
func buildControllerPacket(buttonFlags uint32, leftTrigger, rightTrigger uint8,
	leftStickX, leftStickY, rightStickX, rightStickY int16) []byte {

	buf := make([]byte, 28)
	putHeader(buf, protocol.ControllerMagic)
	binary.LittleEndian.PutUint16(buf[8:10], protocol.ControllerHeaderB)
	binary.LittleEndian.PutUint16(buf[10:12], uint16(buttonFlags))
	buf[12] = leftTrigger
	buf[13] = rightTrigger
	binary.LittleEndian.PutUint16(buf[14:16], uint16(leftStickX))
	binary.LittleEndian.PutUint16(buf[16:18], uint16(leftStickY))
	binary.LittleEndian.PutUint16(buf[18:20], uint16(rightStickX))
	binary.LittleEndian.PutUint16(buf[20:22], uint16(rightStickY))
	binary.LittleEndian.PutUint32(buf[22:26], protocol.ControllerTailA)
	binary.LittleEndian.PutUint16(buf[26:28], protocol.ControllerTailB)
	return buf
}

func buildUTF8TextPacket(text string) []byte {
	textBytes := []byte(text)
	buf := make([]byte, 8+len(textBytes))
	putHeader(buf, protocol.UTF8TextEventMagic)
	copy(buf[8:], textBytes)
	return buf
}

func buildHapticsPacket() []byte {
	buf := make([]byte, 8)
	putHeader(buf, protocol.EnableHapticsMagic)
	return buf
}

// fixModifiers reconciles the client's raw virtual key with GameStream
// servers' expectations: left/right Windows keys must not carry the meta
// modifier bit, and the left/right variants of shift/ctrl/alt are folded
// into the corresponding modifier bit rather than passed through as
// distinct key codes.
func fixModifiers(keyCode int16, modifiers uint8) (int16, uint8) {
	switch keyCode & 0xFF {
	case 0x5B, 0x5C: // VK_LWIN, VK_RWIN
		modifiers &^= ModifierMeta
	case 0xA0: // VK_LSHIFT
		modifiers |= ModifierShift
	case 0xA1: // VK_RSHIFT
		modifiers &^= ModifierShift
	case 0xA2: // VK_LCONTROL
		modifiers |= ModifierCtrl
	case 0xA3: // VK_RCONTROL
		modifiers &^= ModifierCtrl
	case 0xA4: // VK_LMENU
		modifiers |= ModifierAlt
	case 0xA5: // VK_RMENU
		modifiers &^= ModifierAlt
	}
	return keyCode, modifiers
}

// Modifier bit flags for SendKeyboard.
const (
	ModifierShift = 0x01
	ModifierCtrl  = 0x02
	ModifierAlt   = 0x04
	ModifierMeta  = 0x08
)
