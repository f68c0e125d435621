package crypto

import (
	"bytes"
	"testing"
)

func TestNewContext_RejectsBadKeySize(t *testing.T) {
	if _, err := NewContext(make([]byte, 10)); err != ErrInvalidKey {
		t.Fatalf("NewContext error = %v, want %v", err, ErrInvalidKey)
	}
}

func TestContext_GCMRoundTrip(t *testing.T) {
	c, err := NewContext(bytes.Repeat([]byte{0x01}, 16))
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}

	iv := make([]byte, 16)
	plaintext := []byte("the quick brown fox")

	ciphertext, tag, err := c.EncryptGCM(plaintext, iv, nil)
	if err != nil {
		t.Fatalf("EncryptGCM: %v", err)
	}
	if len(tag) != 16 {
		t.Fatalf("tag length = %d, want 16", len(tag))
	}

	got, err := c.DecryptGCM(ciphertext, iv, tag, nil)
	if err != nil {
		t.Fatalf("DecryptGCM: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("DecryptGCM = %q, want %q", got, plaintext)
	}
}

func TestContext_GCMWrongIVSize(t *testing.T) {
	c, err := NewContext(bytes.Repeat([]byte{0x01}, 16))
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	if _, _, err := c.EncryptGCM([]byte("x"), make([]byte, 12), nil); err == nil {
		t.Fatal("EncryptGCM with 12-byte IV succeeded, want error (protocol requires 16-byte IVs)")
	}
}

func TestContext_GCMTamperedTagFails(t *testing.T) {
	c, err := NewContext(bytes.Repeat([]byte{0x02}, 16))
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	iv := make([]byte, 16)
	ciphertext, tag, err := c.EncryptGCM([]byte("payload"), iv, nil)
	if err != nil {
		t.Fatalf("EncryptGCM: %v", err)
	}
	tag[0] ^= 0xff
	if _, err := c.DecryptGCM(ciphertext, iv, tag, nil); err != ErrDecryptionFailed {
		t.Fatalf("DecryptGCM error = %v, want %v", err, ErrDecryptionFailed)
	}
}

func TestContext_CBCRoundTrip(t *testing.T) {
	c, err := NewContext(bytes.Repeat([]byte{0x03}, 16))
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	iv := bytes.Repeat([]byte{0x04}, 16)

	for _, n := range []int{0, 1, 15, 16, 17, 100} {
		plaintext := bytes.Repeat([]byte{0xCD}, n)
		ciphertext, err := c.EncryptCBC(plaintext, iv)
		if err != nil {
			t.Fatalf("len=%d: EncryptCBC: %v", n, err)
		}
		if len(ciphertext)%16 != 0 {
			t.Fatalf("len=%d: ciphertext length %d not block-aligned", n, len(ciphertext))
		}
		got, err := c.DecryptCBC(ciphertext, iv)
		if err != nil {
			t.Fatalf("len=%d: DecryptCBC: %v", n, err)
		}
		if !bytes.Equal(got, plaintext) {
			t.Fatalf("len=%d: DecryptCBC = %x, want %x", n, got, plaintext)
		}
	}
}

func TestContext_EncryptCBCPadToBlock(t *testing.T) {
	c, err := NewContext(bytes.Repeat([]byte{0x05}, 16))
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	iv := make([]byte, 16)

	out, err := c.EncryptCBCPadToBlock([]byte("short"), iv)
	if err != nil {
		t.Fatalf("EncryptCBCPadToBlock: %v", err)
	}
	if len(out) != 16 {
		t.Fatalf("output length = %d, want 16 (single block)", len(out))
	}

	out, err = c.EncryptCBCPadToBlock(bytes.Repeat([]byte{1}, 20), iv)
	if err != nil {
		t.Fatalf("EncryptCBCPadToBlock: %v", err)
	}
	if len(out) != 32 {
		t.Fatalf("output length = %d, want 32 (two blocks)", len(out))
	}
}

func TestContext_Sizes(t *testing.T) {
	c, err := NewContext(bytes.Repeat([]byte{0x06}, 16))
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	if got := c.GCMNonceSize(); got != 16 {
		t.Fatalf("GCMNonceSize = %d, want 16", got)
	}
	if got := c.GCMOverhead(); got != 16 {
		t.Fatalf("GCMOverhead = %d, want 16", got)
	}
	if got := c.BlockSize(); got != 16 {
		t.Fatalf("BlockSize = %d, want 16", got)
	}
}
