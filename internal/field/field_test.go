package field

import "testing"

func TestReduceToFieldClearsTopBits(t *testing.T) {
	var v [32]byte
	for i := range v {
		v[i] = 0xFF
	}
	reduced := ReduceToField(v)
	if reduced[0]&0xE0 != 0 {
		t.Fatalf("top 3 bits not cleared: %08b", reduced[0])
	}
	for i := 1; i < len(reduced); i++ {
		if reduced[i] != 0xFF {
			t.Fatalf("byte %d unexpectedly modified: %x", i, reduced[i])
		}
	}
}

func TestTokenHashDeterministic(t *testing.T) {
	tokenID := []byte("a-token-id")
	h1 := TokenHash(tokenID)
	h2 := TokenHash(tokenID)
	if h1 != h2 {
		t.Fatal("token hash is not deterministic")
	}
	other := TokenHash([]byte("different-token-id"))
	if h1 == other {
		t.Fatal("distinct token ids collided")
	}
}

func TestIsZero(t *testing.T) {
	var zero [32]byte
	if !IsZero(zero) {
		t.Fatal("expected zero value to be reported as zero")
	}
	nonZero := zero
	nonZero[31] = 1
	if IsZero(nonZero) {
		t.Fatal("expected non-zero value to be reported as non-zero")
	}
}
