// Package zkverify validates the Groth16 proof triple and public signals
// submitted with a withdrawal request (spec C6), grounded on the teacher's
// internal/zerocash/tx.go VerifyTx pattern: rebuild a public-only witness
// from a gnark circuit struct, unmarshal the proof, and call groth16.Verify
// against a verifying key loaded from disk at startup.
//
// The wire format for the proof triple (A: 64 bytes, B: 128 bytes,
// C: 64 bytes) is the raw uncompressed affine coordinate encoding of a
// BN254 G1/G2/G1 point respectively (2x32 bytes for a G1 affine point,
// 2x64 bytes — each an Fp2 element's two 32-byte components — for a G2
// affine point), concatenated A||B||C, which is the prefix of gnark's raw
// (WriteRawTo) Proof encoding. Verify completes that encoding with an empty
// commitment list and a zero commitment proof-of-knowledge point, which is
// what a proof of this commitment-free circuit carries, before calling
// Proof.ReadFrom.
package zkverify

import (
	"bytes"
	"fmt"
	"math/big"
	"os"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"

	"github.com/privacy-proxy/relayer/internal/field"
)

// withdrawalCircuit mirrors the public inputs of privacy-proxy-sdk's
// withdrawal circuit. Only the public witness is ever built here — the
// relayer never proves, only verifies — so the Define method exists
// solely to satisfy frontend.Circuit and is never compiled against.
type withdrawalCircuit struct {
	MerkleRoot    frontend.Variable `gnark:",public"`
	NullifierHash frontend.Variable `gnark:",public"`
	Recipient     frontend.Variable `gnark:",public"`
	Amount        frontend.Variable `gnark:",public"`
	RelayerPubkey frontend.Variable `gnark:",public"`
	Fee           frontend.Variable `gnark:",public"`
	BindingHash   frontend.Variable `gnark:",public"`
}

func (c *withdrawalCircuit) Define(api frontend.API) error {
	return nil
}

// PublicSignals mirrors privacy-proxy-sdk's WithdrawalPublicInputs.
type PublicSignals struct {
	MerkleRoot    [32]byte
	NullifierHash [32]byte
	Recipient     [32]byte
	Amount        uint64
	RelayerPubkey [32]byte
	Fee           uint64
	BindingHash   [32]byte
}

// ProofTriple mirrors privacy-proxy-sdk's ZkProof{a,b,c}.
type ProofTriple struct {
	A [64]byte
	B [128]byte
	C [64]byte
}

// Verifier holds the loaded Groth16 verifying key.
type Verifier struct {
	vk groth16.VerifyingKey
}

// NewVerifier wraps an already-loaded verifying key, used by LoadVerifier
// and by tests that run a real Groth16 setup in-process.
func NewVerifier(vk groth16.VerifyingKey) *Verifier {
	return &Verifier{vk: vk}
}

// LoadVerifier reads a gnark-native verifying key from vkPath.
func LoadVerifier(vkPath string) (*Verifier, error) {
	f, err := os.Open(vkPath)
	if err != nil {
		return nil, fmt.Errorf("zkverify: open verifying key %s: %w", vkPath, err)
	}
	defer f.Close()

	vk := groth16.NewVerifyingKey(ecc.BN254)
	if _, err := vk.ReadFrom(f); err != nil {
		return nil, fmt.Errorf("zkverify: read verifying key %s: %w", vkPath, err)
	}
	return NewVerifier(vk), nil
}

// Verify checks the proof against the public signals, including the
// binding-hash recomputation (spec C6: "the relayer recomputes
// binding_hash locally and requires it to match the proof's public
// signal"). It also validates the shape invariants spec C6 calls out
// before ever touching the pairing check.
func (v *Verifier) Verify(proof ProofTriple, signals PublicSignals) error {
	if signals.Amount == 0 {
		return fmt.Errorf("zkverify: amount must be non-zero")
	}
	if signals.Fee >= signals.Amount {
		return fmt.Errorf("zkverify: fee (%d) must be less than amount (%d)", signals.Fee, signals.Amount)
	}
	if field.IsZero(signals.NullifierHash) {
		return fmt.Errorf("zkverify: nullifier hash must be non-zero")
	}
	if field.IsZero(signals.Recipient) {
		return fmt.Errorf("zkverify: recipient must be non-zero")
	}
	if field.IsZero(signals.RelayerPubkey) {
		return fmt.Errorf("zkverify: relayer pubkey must be non-zero")
	}

	expectedBinding := field.WithdrawalBindingHash(signals.NullifierHash, signals.Recipient, signals.RelayerPubkey, signals.Fee)
	if expectedBinding != signals.BindingHash {
		return fmt.Errorf("zkverify: binding hash does not match recipient/relayer/fee")
	}

	witnessAssignment := &withdrawalCircuit{
		MerkleRoot:    new(big.Int).SetBytes(signals.MerkleRoot[:]),
		NullifierHash: new(big.Int).SetBytes(signals.NullifierHash[:]),
		Recipient:     new(big.Int).SetBytes(signals.Recipient[:]),
		Amount:        new(big.Int).SetUint64(signals.Amount),
		RelayerPubkey: new(big.Int).SetBytes(signals.RelayerPubkey[:]),
		Fee:           new(big.Int).SetUint64(signals.Fee),
		BindingHash:   new(big.Int).SetBytes(signals.BindingHash[:]),
	}
	w, err := frontend.NewWitness(witnessAssignment, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return fmt.Errorf("zkverify: build public witness: %w", err)
	}

	gnarkProof := groth16.NewProof(ecc.BN254)
	var buf bytes.Buffer
	buf.Write(proof.A[:])
	buf.Write(proof.B[:])
	buf.Write(proof.C[:])
	// Trailing fields of gnark's Proof encoding: a uint32 commitment count
	// (zero) and a 64-byte CommitmentPok G1 point (the zero point).
	buf.Write(make([]byte, 4+64))
	if _, err := gnarkProof.ReadFrom(&buf); err != nil {
		return fmt.Errorf("zkverify: malformed proof: %w", err)
	}

	if err := groth16.Verify(gnarkProof, v.vk, w); err != nil {
		return fmt.Errorf("zkverify: proof did not verify: %w", err)
	}
	return nil
}
