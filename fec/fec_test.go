package fec

import (
	"bytes"
	"testing"
)

func buildShards(t *testing.T, c *Codec, shardLen int) [][]byte {
	t.Helper()
	shards := make([][]byte, c.TotalShards())
	for i := 0; i < c.DataShards(); i++ {
		shards[i] = bytes.Repeat([]byte{byte(i + 1)}, shardLen)
	}
	for i := c.DataShards(); i < c.TotalShards(); i++ {
		shards[i] = make([]byte, shardLen)
	}
	if err := c.Encode(shards); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return shards
}

func TestCodec_ReconstructsSingleLostDataShard(t *testing.T) {
	c, err := New(4, 2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	original := buildShards(t, c, 32)
	want := append([]byte(nil), original[1]...)

	present := make([]bool, c.TotalShards())
	for i := range present {
		present[i] = true
	}
	present[1] = false
	original[1] = nil

	if err := c.Reconstruct(original, present); err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	if !bytes.Equal(original[1], want) {
		t.Fatalf("recovered shard = %x, want %x", original[1], want)
	}
}

func TestCodec_ReconstructsUpToParityShardsLost(t *testing.T) {
	c, err := New(5, 3)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	original := buildShards(t, c, 16)
	wantFirst := append([]byte(nil), original[0]...)
	wantThird := append([]byte(nil), original[2]...)
	wantFourth := append([]byte(nil), original[3]...)

	present := make([]bool, c.TotalShards())
	for i := range present {
		present[i] = true
	}
	for _, idx := range []int{0, 2, 3} {
		present[idx] = false
		original[idx] = nil
	}

	if err := c.Reconstruct(original, present); err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	if !bytes.Equal(original[0], wantFirst) || !bytes.Equal(original[2], wantThird) || !bytes.Equal(original[3], wantFourth) {
		t.Fatalf("recovered shards = [%x %x %x], want [%x %x %x]",
			original[0], original[2], original[3], wantFirst, wantThird, wantFourth)
	}
}

func TestCodec_ReconstructFailsWhenTooFewShardsPresent(t *testing.T) {
	c, err := New(4, 2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	shards := buildShards(t, c, 8)
	present := make([]bool, c.TotalShards())
	for i := range present {
		present[i] = true
	}
	// Lose three data shards but keep only two parity shards: not enough
	// redundancy to recover.
	for _, idx := range []int{0, 1, 2} {
		present[idx] = false
		shards[idx] = nil
	}

	if err := c.Reconstruct(shards, present); err != ErrNotEnoughShards {
		t.Fatalf("Reconstruct = %v, want %v", err, ErrNotEnoughShards)
	}
}

func TestCodec_ReconstructIsNoopWhenAllDataShardsPresent(t *testing.T) {
	c, err := New(3, 2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	shards := buildShards(t, c, 8)
	want := make([][]byte, len(shards))
	for i, s := range shards {
		want[i] = append([]byte(nil), s...)
	}

	present := make([]bool, c.TotalShards())
	for i := range present {
		present[i] = true
	}
	present[c.DataShards()] = false // a parity shard is "missing" but unneeded
	shards[c.DataShards()] = nil

	if err := c.Reconstruct(shards, present); err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	for i := 0; i < c.DataShards(); i++ {
		if !bytes.Equal(shards[i], want[i]) {
			t.Fatalf("data shard %d changed: got %x want %x", i, shards[i], want[i])
		}
	}
}

func TestNew_RejectsShardCountsExceedingFieldSize(t *testing.T) {
	if _, err := New(200, 100); err != ErrTooManyShards {
		t.Fatalf("New(200,100) = %v, want %v", err, ErrTooManyShards)
	}
	if _, err := New(0, 1); err != ErrTooManyShards {
		t.Fatalf("New(0,1) = %v, want %v", err, ErrTooManyShards)
	}
}

func TestCodec_EncodeRejectsShardLengthMismatch(t *testing.T) {
	c, err := New(2, 2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	shards := [][]byte{
		make([]byte, 8),
		make([]byte, 4), // mismatched length
		make([]byte, 8),
		make([]byte, 8),
	}
	if err := c.Encode(shards); err != ErrInvalidShardSize {
		t.Fatalf("Encode = %v, want %v", err, ErrInvalidShardSize)
	}
}
