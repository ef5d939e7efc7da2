package fastcopy

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestCopySmall(t *testing.T) {
	src := []byte{1, 2, 3, 4, 5}
	dst := make([]byte, len(src))
	Copy(dst, src)
	if !bytes.Equal(dst, src) {
		t.Fatalf("small copy mismatch")
	}
}

func TestCopyLargeSharded(t *testing.T) {
	// well above the parallel threshold, not a multiple of the shard count
	src := make([]byte, (4<<20)+12345)
	rng := rand.New(rand.NewSource(1))
	rng.Read(src)
	dst := make([]byte, len(src))
	Copy(dst, src)
	if !bytes.Equal(dst, src) {
		t.Fatalf("sharded copy mismatch")
	}
}

func TestCopyIntoLargerDestination(t *testing.T) {
	src := []byte{9, 8, 7}
	dst := []byte{0, 0, 0, 0xff}
	Copy(dst, src)
	if !bytes.Equal(dst, []byte{9, 8, 7, 0xff}) {
		t.Fatalf("copy must write only len(src) bytes, got %v", dst)
	}
}
