// Package field implements the ledger-field arithmetic and domain-separated
// hashing primitives shared by the Merkle service, the commitment/nullifier
// scheme, and the withdrawal binding hash (spec C1).
package field

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// Domain separation tags. Values match the ASCII big-endian packing used by
// the original relayer's domain tags ("comm", "null", "bind", "ownb")
// reduced to a uint64 and laid into the last 8 bytes of a 32-byte field
// element, exactly as privacy-proxy-sdk/src/crypto.go does it.
const (
	DomainCommit    uint64 = 0x636F6D6D // "comm"
	DomainNullifier uint64 = 0x6E756C6C // "null"
	DomainBind      uint64 = 0x62696E64 // "bind"
	DomainOwnerBind uint64 = 0x6F776E62 // "ownb"
)

// Element is a field element of the Poseidon-compatible ledger field
// (BN254's scalar field), matching the field the zk circuits operate over.
type Element = fr.Element

// ReduceToField clears the top 3 bits of a 256-bit value so that it is
// guaranteed to be less than the field modulus, matching the reduction the
// deposit/withdrawal pipelines apply to ledger addresses before hashing them
// with Poseidon (spec C1, "field-compatibility reduction").
func ReduceToField(value [32]byte) [32]byte {
	out := value
	out[0] &= 0x1F
	return out
}

// DomainBytes lays a uint64 domain tag into the last 8 bytes of a 32-byte
// field-sized buffer, the remaining bytes zero.
func DomainBytes(domain uint64) [32]byte {
	var b [32]byte
	binary.BigEndian.PutUint64(b[24:], domain)
	return b
}

// Uint64Bytes lays a uint64 value into the last 8 bytes of a 32-byte
// field-sized buffer, matching how amounts, fees, and ids are packed before
// being fed into Poseidon alongside 32-byte hashes.
func Uint64Bytes(v uint64) [32]byte {
	var b [32]byte
	binary.BigEndian.PutUint64(b[24:], v)
	return b
}

// TokenHash implements H(token_id) = SHA-256(token_id) exactly as spec.md
// defines it, deliberately without the "token_hash:" domain prefix the
// original Rust relayer's encryption.go uses — spec.md speaks directly on
// this point and takes precedence (see DESIGN.md).
func TokenHash(tokenID []byte) [32]byte {
	return sha256.Sum256(tokenID)
}

// IsZero reports whether every byte of v is zero, used by the non-zero
// validation guards that gate commitment/nullifier generation.
func IsZero(v [32]byte) bool {
	for _, b := range v {
		if b != 0 {
			return false
		}
	}
	return true
}
