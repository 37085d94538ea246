package crypto

import (
	"testing"
)

func TestHashDeterministic(t *testing.T) {
	a := Hash([]byte("dagger"))
	b := Hash([]byte("dagger"))
	c := Hash([]byte("Dagger"))

	if a != b {
		t.Fatalf("same input should produce the same digest")
	}
	if a == c {
		t.Fatalf("different inputs should produce different digests")
	}
	if len(a) != HashSize {
		t.Fatalf("digest should be %d bytes, not %d", HashSize, len(a))
	}
}
