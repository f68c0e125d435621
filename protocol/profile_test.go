package protocol

import "testing"

func TestVersionQuad_AtLeast(t *testing.T) {
	tests := []struct {
		v                  VersionQuad
		major, minor, patch int
		want               bool
	}{
		{VersionQuad{7, 1, 431, 0}, 7, 1, 431, true},
		{VersionQuad{7, 1, 431, 0}, 7, 1, 432, false},
		{VersionQuad{7, 1, 430, 0}, 7, 1, 431, false},
		{VersionQuad{8, 0, 0, 0}, 7, 1, 431, true},
		{VersionQuad{7, 2, 0, 0}, 7, 1, 431, true},
		{VersionQuad{6, 9, 999, 0}, 7, 0, 0, false},
		{VersionQuad{7, 0, 0, 0}, 7, 0, 0, true},
	}
	for _, tt := range tests {
		if got := tt.v.AtLeast(tt.major, tt.minor, tt.patch); got != tt.want {
			t.Fatalf("%v.AtLeast(%d,%d,%d) = %v, want %v", tt.v, tt.major, tt.minor, tt.patch, got, tt.want)
		}
	}
}

func TestEncryptedControlStream(t *testing.T) {
	tests := []struct {
		v    VersionQuad
		want bool
	}{
		{VersionQuad{7, 1, 431, 0}, true},
		{VersionQuad{7, 1, 430, 0}, false},
		{VersionQuad{7, 0, 999, 0}, false},
		{VersionQuad{8, 0, 0, 0}, true},
	}
	for _, tt := range tests {
		if got := EncryptedControlStream(tt.v); got != tt.want {
			t.Fatalf("EncryptedControlStream(%v) = %v, want %v", tt.v, got, tt.want)
		}
	}
}

func TestUsesENet(t *testing.T) {
	tests := []struct {
		v    VersionQuad
		want bool
	}{
		{VersionQuad{3, 0, 0, 0}, false},
		{VersionQuad{4, 0, 0, 0}, false},
		{VersionQuad{5, 0, 0, 0}, true},
		{VersionQuad{7, 1, 431, 0}, true},
	}
	for _, tt := range tests {
		if got := UsesENet(tt.v); got != tt.want {
			t.Fatalf("UsesENet(%v) = %v, want %v", tt.v, got, tt.want)
		}
	}
}

func TestUsePeriodicPing(t *testing.T) {
	tests := []struct {
		v    VersionQuad
		want bool
	}{
		{VersionQuad{7, 1, 415, 0}, true},
		{VersionQuad{7, 1, 414, 0}, false},
		{VersionQuad{7, 0, 999, 0}, false},
	}
	for _, tt := range tests {
		if got := UsePeriodicPing(tt.v); got != tt.want {
			t.Fatalf("UsePeriodicPing(%v) = %v, want %v", tt.v, got, tt.want)
		}
	}
}

func TestProfileFor_SelectsGenerationByMajorVersion(t *testing.T) {
	tests := []struct {
		v    VersionQuad
		name string
	}{
		{VersionQuad{3, 0, 0, 0}, "gen3"},
		{VersionQuad{4, 0, 0, 0}, "gen4"},
		{VersionQuad{5, 0, 0, 0}, "gen5"},
		{VersionQuad{6, 0, 0, 0}, "gen5"},
		{VersionQuad{7, 0, 0, 0}, "gen7"},
		{VersionQuad{7, 1, 430, 0}, "gen7"},
		{VersionQuad{7, 1, 431, 0}, "gen7enc"},
		{VersionQuad{8, 0, 0, 0}, "gen7enc"},
	}
	for _, tt := range tests {
		if got := ProfileFor(tt.v).Name(); got != tt.name {
			t.Fatalf("ProfileFor(%v).Name() = %q, want %q", tt.v, got, tt.name)
		}
	}
}

func TestProfile_CodeAbsentForUnsupportedMessage(t *testing.T) {
	p := ProfileFor(VersionQuad{3, 0, 0, 0})
	if _, ok := p.Code(IdxRumbleData); ok {
		t.Fatal("gen3 profile reports support for rumble data, want absent")
	}
	if _, ok := p.Code(IdxStartA); ok {
		t.Fatal("gen3 profile reports support for Start A, want absent (pre-ENet generations skip it)")
	}
}

func TestProfile_CodePresentForSupportedMessage(t *testing.T) {
	p := ProfileFor(VersionQuad{7, 1, 431, 0})
	code, ok := p.Code(IdxTermination)
	if !ok {
		t.Fatal("gen7enc profile reports no termination code, want present")
	}
	if code != 0x0109 {
		t.Fatalf("gen7enc termination code = %#x, want %#x", code, 0x0109)
	}

	unenc := ProfileFor(VersionQuad{7, 1, 430, 0})
	code, ok = unenc.Code(IdxTermination)
	if !ok {
		t.Fatal("gen7 (unencrypted) profile reports no termination code, want present")
	}
	if code != 0x0100 {
		t.Fatalf("gen7 termination code = %#x, want %#x", code, 0x0100)
	}
}

func TestProfile_PayloadLenUnsupportedIsAbsent(t *testing.T) {
	p := ProfileFor(VersionQuad{3, 0, 0, 0})
	if got := p.PayloadLen(IdxStartA); got != absent {
		t.Fatalf("gen3 PayloadLen(IdxStartA) = %d, want %d", got, absent)
	}
}
