// Package ledger implements the adapter abstracting the public ledger the
// relayer submits transactions to and reads pool state from (spec C7).
//
// The two-signer separation — a deposit wallet that signs every pool/
// verifier-program write, and a treasury wallet whose key is used
// read-only (only its address is ever advertised) — is the single-wallet
// invariant the GLOSSARY calls load-bearing for the privacy argument.
package ledger

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
)

// Wallet is a ledger-agnostic Ed25519 keypair. No example repo in the
// retrieval pack carries a ledger-specific wallet/signing library matching
// this abstraction (the teacher signs *circuit witnesses*, not ledger
// transactions), so this uses the standard library's crypto/ed25519
// directly — justified in DESIGN.md as there being no ecosystem
// alternative among the examples for this concern.
type Wallet struct {
	Public  ed25519.PublicKey
	private ed25519.PrivateKey
}

// walletFile is the on-disk JSON representation: a 32-byte seed, base64
// encoded, matching the teacher's convention of storing keys in small JSON
// sidecar files (cmd/auctiond persists config the same way).
type walletFile struct {
	Seed string `json:"seed"`
}

// LoadOrCreateWallet reads a wallet from path, generating and persisting a
// new one if the file does not exist.
func LoadOrCreateWallet(path string) (*Wallet, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		var wf walletFile
		if err := json.Unmarshal(data, &wf); err != nil {
			return nil, fmt.Errorf("ledger: parse wallet file %s: %w", path, err)
		}
		seed, err := base64.StdEncoding.DecodeString(wf.Seed)
		if err != nil || len(seed) != ed25519.SeedSize {
			return nil, fmt.Errorf("ledger: wallet file %s has an invalid seed", path)
		}
		priv := ed25519.NewKeyFromSeed(seed)
		return &Wallet{Public: priv.Public().(ed25519.PublicKey), private: priv}, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("ledger: read wallet file %s: %w", path, err)
	}

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("ledger: generate wallet: %w", err)
	}
	seed := priv.Seed()
	out, err := json.Marshal(walletFile{Seed: base64.StdEncoding.EncodeToString(seed)})
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, out, 0o600); err != nil {
		return nil, fmt.Errorf("ledger: persist wallet to %s: %w", path, err)
	}
	return &Wallet{Public: priv.Public().(ed25519.PublicKey), private: priv}, nil
}

// Address renders the wallet's public key the way it is advertised over
// HTTP and embedded into instruction account lists.
func (w *Wallet) Address() string {
	return base64.RawURLEncoding.EncodeToString(w.Public)
}

// Sign signs msg with the wallet's private key.
func (w *Wallet) Sign(msg []byte) []byte {
	return ed25519.Sign(w.private, msg)
}
