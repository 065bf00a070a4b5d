package ledger

import "crypto/sha256"

// discriminator computes SHA-256("global:"+name)[:8], the domain-separated
// instruction tag the original relayer's anchor_discriminator helper uses
// in deposit.rs/withdrawal.rs. C7 keeps this pattern for every instruction
// it builds, without the Solana-specific account/PDA layout the original
// programs/ directory defines (out of scope per spec.md §1's
// ledger-abstraction framing — see SPEC_FULL.md supplement 8).
func discriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("global:" + name))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}

// Instruction is an opaque, ledger-agnostic write the relayer submits
// through Submit. Name picks the instruction discriminator; Data is the
// instruction-specific payload appended after it.
type Instruction struct {
	Name string
	Data []byte
}

// Encode renders the instruction as discriminator || data, the wire shape
// every concrete ledger backend is expected to embed into its native
// transaction format.
func (ix Instruction) Encode() []byte {
	d := discriminator(ix.Name)
	out := make([]byte, 0, len(d)+len(ix.Data))
	out = append(out, d[:]...)
	out = append(out, ix.Data...)
	return out
}

// Instruction names used across the deposit and withdrawal pipelines,
// matching the original relayer's instruction names 1:1.
const (
	InstructionDeposit             = "deposit"
	InstructionRequestWithdrawal   = "request_withdrawal"
	InstructionExecuteWithdrawal   = "execute_withdrawal"
)
