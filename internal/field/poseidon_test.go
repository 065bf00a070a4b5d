package field

import "testing"

func randField(seed byte) [32]byte {
	var b [32]byte
	for i := range b {
		b[i] = seed + byte(i)
	}
	b[0] &= 0x1F
	return b
}

func TestPoseidonDeterministic(t *testing.T) {
	a := randField(1)
	b := randField(2)
	h1 := Poseidon(a, b)
	h2 := Poseidon(a, b)
	if h1 != h2 {
		t.Fatal("poseidon hash is not deterministic")
	}
}

func TestPoseidonInputSensitivity(t *testing.T) {
	a := randField(1)
	b := randField(2)
	c := randField(3)
	if Poseidon(a, b) == Poseidon(a, c) {
		t.Fatal("different inputs produced the same hash")
	}
}

func TestCommitmentDeterministicAndDistinct(t *testing.T) {
	nullifier := randField(10)
	secret := randField(20)

	c1 := Commitment(nullifier, secret, 1_000_000_000)
	c2 := Commitment(nullifier, secret, 1_000_000_000)
	if c1 != c2 {
		t.Fatal("commitment is not deterministic")
	}

	otherSecret := randField(21)
	c3 := Commitment(nullifier, otherSecret, 1_000_000_000)
	if c1 == c3 {
		t.Fatal("distinct secrets produced the same commitment")
	}
}

func TestNullifierHashDeterministic(t *testing.T) {
	nullifier := randField(5)
	if NullifierHash(nullifier) != NullifierHash(nullifier) {
		t.Fatal("nullifier hash is not deterministic")
	}
}

func TestWithdrawalBindingHashCoversAllFields(t *testing.T) {
	nh := randField(1)
	recipient := randField(2)
	relayer := randField(3)

	base := WithdrawalBindingHash(nh, recipient, relayer, 100)
	withDifferentFee := WithdrawalBindingHash(nh, recipient, relayer, 200)
	if base == withDifferentFee {
		t.Fatal("fee change did not affect binding hash")
	}

	withDifferentRecipient := WithdrawalBindingHash(nh, randField(9), relayer, 100)
	if base == withDifferentRecipient {
		t.Fatal("recipient change did not affect binding hash")
	}
}
