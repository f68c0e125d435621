package protocol

// MessageIndex identifies a logical control-stream message independent of
// the wire-level type code used to carry it. The type code and payload
// layout for a given index vary by server generation.
type MessageIndex int

const (
	IdxStartA MessageIndex = iota
	IdxRequestIDRFrame
	IdxStartB
	IdxInvalidateRefFrames
	IdxLossStats
	IdxFrameStats
	IdxInputData
	IdxRumbleData
	IdxTermination
	idxCount
)

// absent marks a message index that a generation does not support.
const absent = -1

// Profile resolves message type codes, payload lengths, and preconstructed
// payloads for one protocol generation. It is computed once per session
// from the negotiated server version quad and never mutated afterward.
type Profile struct {
	name           string
	codes          [idxCount]int
	payloadLens    [idxCount]int
	preconstructed [idxCount][]byte
}

// Code returns the wire-level message type for idx, and false if this
// profile does not support the message at all.
func (p *Profile) Code(idx MessageIndex) (uint16, bool) {
	v := p.codes[idx]
	if v == absent {
		return 0, false
	}
	return uint16(v), true
}

// PayloadLen returns the fixed payload length associated with idx, or -1
// if idx carries a variable-length payload (e.g. input data) or is absent.
func (p *Profile) PayloadLen(idx MessageIndex) int {
	return p.payloadLens[idx]
}

// Preconstructed returns the canned payload bytes for idx, if any.
func (p *Profile) Preconstructed(idx MessageIndex) []byte {
	return p.preconstructed[idx]
}

// Name returns the human-readable generation label, e.g. "gen7enc".
func (p *Profile) Name() string {
	return p.name
}

func newProfile(name string) *Profile {
	p := &Profile{name: name}
	for i := range p.codes {
		p.codes[i] = absent
		p.payloadLens[i] = absent
	}
	return p
}

var (
	profileGen3 = buildGen3()
	profileGen4 = buildGen4()
	profileGen5 = buildGen5()
	profileGen7 = buildGen7(false)
	profileGen7Enc = buildGen7(true)
)

func buildGen3() *Profile {
	p := newProfile("gen3")
	p.codes[IdxRequestIDRFrame] = 0x1407
	p.codes[IdxStartB] = 0x1410
	p.codes[IdxInvalidateRefFrames] = 0x1404
	p.codes[IdxLossStats] = 0x140c
	p.codes[IdxFrameStats] = 0x1417

	p.payloadLens[IdxRequestIDRFrame] = 2
	p.payloadLens[IdxStartB] = 16
	p.payloadLens[IdxInvalidateRefFrames] = 24
	p.payloadLens[IdxLossStats] = 32
	p.payloadLens[IdxFrameStats] = 64

	p.preconstructed[IdxRequestIDRFrame] = []byte{0, 0}
	// { 0, 0, 0, 0xa } as four little-endian ints == 16 bytes total.
	p.preconstructed[IdxStartB] = []byte{
		0, 0, 0, 0,
		0, 0, 0, 0,
		0, 0, 0, 0,
		0x0a, 0, 0, 0,
	}
	return p
}

func buildGen4() *Profile {
	p := newProfile("gen4")
	p.codes[IdxRequestIDRFrame] = 0x0606
	p.codes[IdxStartB] = 0x0609
	p.codes[IdxInvalidateRefFrames] = 0x0604
	p.codes[IdxLossStats] = 0x060a
	p.codes[IdxFrameStats] = 0x0611

	p.payloadLens[IdxRequestIDRFrame] = 2
	p.payloadLens[IdxStartB] = 1
	p.payloadLens[IdxInvalidateRefFrames] = 24
	p.payloadLens[IdxLossStats] = 32
	p.payloadLens[IdxFrameStats] = 64

	p.preconstructed[IdxRequestIDRFrame] = []byte{0, 0}
	p.preconstructed[IdxStartB] = []byte{0}
	return p
}

func buildGen5() *Profile {
	p := newProfile("gen5")
	p.codes[IdxStartA] = 0x0305
	p.codes[IdxStartB] = 0x0307
	p.codes[IdxInvalidateRefFrames] = 0x0301
	p.codes[IdxLossStats] = 0x0201
	p.codes[IdxFrameStats] = 0x0204
	p.codes[IdxInputData] = 0x0207

	p.payloadLens[IdxStartA] = 2
	p.payloadLens[IdxStartB] = 1
	p.payloadLens[IdxInvalidateRefFrames] = 24
	p.payloadLens[IdxLossStats] = 32
	p.payloadLens[IdxFrameStats] = 80

	p.preconstructed[IdxStartA] = []byte{0, 0}
	p.preconstructed[IdxStartB] = []byte{0}
	return p
}

func buildGen7(encrypted bool) *Profile {
	name := "gen7"
	if encrypted {
		name = "gen7enc"
	}
	p := newProfile(name)
	p.codes[IdxStartA] = 0x0305
	p.codes[IdxStartB] = 0x0307
	p.codes[IdxInvalidateRefFrames] = 0x0301
	p.codes[IdxLossStats] = 0x0201
	p.codes[IdxFrameStats] = 0x0204
	p.codes[IdxInputData] = 0x0206
	p.codes[IdxRumbleData] = 0x010b
	if encrypted {
		p.codes[IdxTermination] = 0x0109
	} else {
		p.codes[IdxTermination] = 0x0100
	}

	p.payloadLens[IdxStartA] = 2
	p.payloadLens[IdxStartB] = 1
	p.payloadLens[IdxInvalidateRefFrames] = 24
	p.payloadLens[IdxLossStats] = 32
	p.payloadLens[IdxFrameStats] = 80

	p.preconstructed[IdxStartA] = []byte{0, 0}
	p.preconstructed[IdxStartB] = []byte{0}
	return p
}

// VersionQuad is the four-component app version reported by the server's
// SDP response, e.g. {7, 1, 431, 0}.
type VersionQuad [4]int

// AtLeast reports whether v is greater than or equal to the given version,
// compared component by component in order.
func (v VersionQuad) AtLeast(major, minor, patch int) bool {
	want := [3]int{major, minor, patch}
	for i, w := range want {
		if v[i] > w {
			return true
		}
		if v[i] < w {
			return false
		}
	}
	return true
}

// ProfileFor resolves the message profile for a negotiated server version.
// Generation is keyed off the major version component; generation 7+
// additionally branches on whether the encrypted control stream feature
// (7.1.431+) is active.
func ProfileFor(v VersionQuad) *Profile {
	switch v[0] {
	case 3:
		return profileGen3
	case 4:
		return profileGen4
	case 5, 6:
		return profileGen5
	default:
		if EncryptedControlStream(v) {
			return profileGen7Enc
		}
		return profileGen7
	}
}

// EncryptedControlStream reports whether the negotiated version uses the
// AES-GCM encrypted control channel envelope (server 7.1.431+).
func EncryptedControlStream(v VersionQuad) bool {
	return v.AtLeast(7, 1, 431)
}

// UsesENet reports whether input and control traffic ride a reliable-UDP
// ENet peer connection rather than the legacy control TCP socket. This
// became the default starting with generation 5.
func UsesENet(v VersionQuad) bool {
	return v[0] >= 5
}

// UsePeriodicPing reports whether the telemetry worker should send a bare
// 250ms keepalive ping (0x0200) instead of loss-stats reports. Servers at
// 7.1.415+ stopped expecting loss-stats payloads on this cadence and just
// want a liveness signal; older servers still want the 50ms loss report.
func UsePeriodicPing(v VersionQuad) bool {
	return v.AtLeast(7, 1, 415)
}
