package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"sync"
)

// LegacyInputCodec encrypts input packets for delivery on the dedicated
// (pre-7.1.431) input channel, before the Control Session ever sees them.
// It is stateful in two distinct ways depending on server generation:
//
//   - Gen3-Gen6 (CBC mode): the block-cipher chain is initialized once
//     with the negotiated IV and never reset; every subsequent packet's
//     ciphertext continues the chain started by the first. This is not a
//     bug to "fix" -- real servers depend on this exact chaining.
//   - Gen7+ (GCM mode, non-unified): each packet is encrypted fresh under
//     the current IV, but the last 16 bytes of the preceding packet's
//     ciphertext become the IV for the next one. This imitates a
//     (probably accidental) behavior in the reference server and must be
//     preserved bit-exactly for servers that expect it.
type LegacyInputCodec struct {
	mu  sync.Mutex
	key []byte

	gcmMode bool

	// CBC state, lazily initialized on first use and never reset.
	cbcBlock cipher.Block
	cbcMode  cipher.BlockMode

	// Rolling IV: the negotiated IV until the first GCM encrypt, then the
	// tail of the previous ciphertext. Also used as the one-time CBC IV.
	iv []byte
}

// NewLegacyInputCodec builds a codec for the dedicated input channel.
// gcmMode selects AES-128-GCM (Gen7+, pre-unified-control-stream) over
// AES-128-CBC (Gen3-Gen6).
func NewLegacyInputCodec(key, iv []byte, gcmMode bool) *LegacyInputCodec {
	return &LegacyInputCodec{key: key, gcmMode: gcmMode, iv: append([]byte(nil), iv...)}
}

// Encrypt encrypts plaintext and returns the ciphertext ready to be
// length-prefixed and sent. For CBC mode the plaintext is PKCS7-padded to
// the block size first; for GCM mode the return value is tag||ciphertext,
// matching the reference server's prepend-the-tag wire layout, and the
// codec's rolling IV is advanced from the tail of the result once the
// ciphertext itself (excluding the tag) is at least 16 bytes, mirroring
// the reference implementation's check on encryptedSize precisely.
func (c *LegacyInputCodec) Encrypt(plaintext []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gcmMode {
		return c.encryptGCMLocked(plaintext)
	}
	return c.encryptCBCLocked(plaintext)
}

func (c *LegacyInputCodec) encryptCBCLocked(plaintext []byte) ([]byte, error) {
	if c.cbcBlock == nil {
		block, err := aes.NewCipher(c.key)
		if err != nil {
			return nil, err
		}
		c.cbcBlock = block
		c.cbcMode = cipher.NewCBCEncrypter(block, c.iv)
	}

	padded := pkcs7Pad(plaintext, c.cbcBlock.BlockSize())
	out := make([]byte, len(padded))
	c.cbcMode.CryptBlocks(out, padded)
	return out, nil
}

func (c *LegacyInputCodec) encryptGCMLocked(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, 16)
	if err != nil {
		return nil, err
	}

	sealed := gcm.Seal(nil, c.iv, plaintext, nil)
	tagStart := len(sealed) - gcm.Overhead()
	ciphertext := sealed[:tagStart]
	tag := sealed[tagStart:]

	out := make([]byte, len(tag)+len(ciphertext))
	copy(out, tag)
	copy(out[len(tag):], ciphertext)

	if len(ciphertext) >= 16 {
		rolled := append([]byte(nil), out[len(out)-16:]...)
		c.iv = rolled
	}

	return out, nil
}

// pkcs7Pad mirrors addPkcs7PaddingInPlace: always adds padding, even when
// plaintext is already block-aligned (a full extra block of padding
// bytes equal to the block size is appended in that case).
func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - (len(data) % blockSize)
	out := make([]byte, len(data)+padLen)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(padLen)
	}
	return out
}

// LengthPrefix builds the 4-byte big-endian length prefix the legacy input
// socket framing uses ahead of each encrypted packet.
func LengthPrefix(payloadLen int) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(payloadLen))
	return b
}
