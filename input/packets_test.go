package input

import (
	"encoding/binary"
	"testing"

	"github.com/moonlight-stream/moonlight-common-go/protocol"
)

func TestBuildRelMouseMovePacket_Magic(t *testing.T) {
	pre := buildRelMouseMovePacket(false, 5, -5)
	if magic := binary.LittleEndian.Uint32(pre[4:8]); magic != protocol.MouseMoveRelMagic {
		t.Fatalf("pre-gen5 magic = %#x, want %#x", magic, protocol.MouseMoveRelMagic)
	}

	gen5 := buildRelMouseMovePacket(true, 5, -5)
	if magic := binary.LittleEndian.Uint32(gen5[4:8]); magic != protocol.MouseMoveRelMagicGen5 {
		t.Fatalf("gen5 magic = %#x, want %#x", magic, protocol.MouseMoveRelMagicGen5)
	}
}

func TestBuildRelMouseMovePacket_DeltaEncoding(t *testing.T) {
	buf := buildRelMouseMovePacket(true, 1234, -1234)
	gotX := int16(binary.BigEndian.Uint16(buf[relMouseOffDeltaX : relMouseOffDeltaX+2]))
	gotY := int16(binary.BigEndian.Uint16(buf[relMouseOffDeltaY : relMouseOffDeltaY+2]))
	if gotX != 1234 {
		t.Fatalf("deltaX = %d, want 1234", gotX)
	}
	if gotY != -1234 {
		t.Fatalf("deltaY = %d, want -1234", gotY)
	}
}

func TestBuildAbsMouseMovePacket_ReferenceDimensionsAreOffByOne(t *testing.T) {
	buf := buildAbsMouseMovePacket(100, 200, 1920, 1080)
	gotWidth := binary.BigEndian.Uint16(buf[14:16])
	gotHeight := binary.BigEndian.Uint16(buf[16:18])
	if gotWidth != 1919 {
		t.Fatalf("encoded width = %d, want 1919", gotWidth)
	}
	if gotHeight != 1079 {
		t.Fatalf("encoded height = %d, want 1079", gotHeight)
	}
}

func TestBuildMultiControllerPacket_UsesMultiControllerHeaderB(t *testing.T) {
	buf := buildMultiControllerPacket(true, 0, 0, 0, 0, 0, 0, 0, 0, 0)
	if len(buf) != multiControllerLen {
		t.Fatalf("packet length = %d, want %d", len(buf), multiControllerLen)
	}
	got := binary.LittleEndian.Uint16(buf[8:10])
	if got != protocol.MultiControllerHeaderB {
		t.Fatalf("HeaderB = %#x, want %#x (protocol.MultiControllerHeaderB)", got, protocol.MultiControllerHeaderB)
	}
	if got == protocol.ControllerHeaderB {
		t.Fatal("HeaderB equals the legacy single-controller HeaderB; wrong constant")
	}
}

func TestBuildMultiControllerPacket_TruncatesButtonFlagsTo16Bits(t *testing.T) {
	// A button flag combination that doesn't fit in 16 bits (e.g. MISC)
	// must still land correctly once truncated, and must not panic or
	// corrupt adjacent fields.
	buf := buildMultiControllerPacket(true, 1, 0xF, 0x010000|0x0001, 10, 20, 1, 2, 3, 4)
	got := binary.LittleEndian.Uint16(buf[multiCtrlOffButtonFlags : multiCtrlOffButtonFlags+2])
	if got != 0x0001 {
		t.Fatalf("truncated button flags = %#x, want %#x", got, 0x0001)
	}
}

func TestBuildControllerPacket_LegacyFields(t *testing.T) {
	buf := buildControllerPacket(0x0001, 10, 20, 100, -100, 200, -200)
	if len(buf) != 28 {
		t.Fatalf("packet length = %d, want 28", len(buf))
	}
	if got := binary.LittleEndian.Uint16(buf[8:10]); got != protocol.ControllerHeaderB {
		t.Fatalf("HeaderB = %#x, want %#x", got, protocol.ControllerHeaderB)
	}
	if got := binary.LittleEndian.Uint16(buf[10:12]); got != 0x0001 {
		t.Fatalf("button flags = %#x, want %#x", got, 0x0001)
	}
}

func TestFixModifiers_LeftShiftSetsShift(t *testing.T) {
	_, mods := fixModifiers(0xA0, 0)
	if mods&ModifierShift == 0 {
		t.Fatal("left shift did not set ModifierShift")
	}
}

func TestFixModifiers_RightShiftClearsShift(t *testing.T) {
	_, mods := fixModifiers(0xA1, ModifierShift)
	if mods&ModifierShift != 0 {
		t.Fatal("right shift did not clear ModifierShift")
	}
}

func TestFixModifiers_WinKeyClearsMeta(t *testing.T) {
	_, mods := fixModifiers(0x5B, ModifierMeta)
	if mods&ModifierMeta != 0 {
		t.Fatal("VK_LWIN did not clear ModifierMeta")
	}

	_, mods = fixModifiers(0x5C, ModifierMeta)
	if mods&ModifierMeta != 0 {
		t.Fatal("VK_RWIN did not clear ModifierMeta")
	}
}

func TestFixModifiers_UnrelatedKeyUnaffected(t *testing.T) {
	keyCode, mods := fixModifiers(0x41, ModifierShift|ModifierCtrl)
	if keyCode != 0x41 {
		t.Fatalf("keyCode = %#x, want unchanged %#x", keyCode, 0x41)
	}
	if mods != ModifierShift|ModifierCtrl {
		t.Fatalf("modifiers = %#b, want unchanged %#b", mods, ModifierShift|ModifierCtrl)
	}
}

func TestBuildUTF8TextPacket_CopiesText(t *testing.T) {
	buf := buildUTF8TextPacket("hello")
	if string(buf[8:]) != "hello" {
		t.Fatalf("text = %q, want %q", buf[8:], "hello")
	}
	if magic := binary.LittleEndian.Uint32(buf[4:8]); magic != protocol.UTF8TextEventMagic {
		t.Fatalf("magic = %#x, want %#x", magic, protocol.UTF8TextEventMagic)
	}
}

func TestPutHeader_SizeExcludesSizeFieldItself(t *testing.T) {
	buf := make([]byte, 20)
	putHeader(buf, 0x42)
	size := binary.BigEndian.Uint32(buf[0:4])
	if size != uint32(len(buf)-4) {
		t.Fatalf("header size = %d, want %d", size, len(buf)-4)
	}
}
