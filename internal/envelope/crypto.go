// Package envelope implements the ECDH + AEAD encryption scheme protecting
// deposit payloads in transit to the relayer (spec C5's
// {encrypted,ciphertext,nonce,client_pubkey} envelope).
//
// Grounded on the original relayer's server.rs handle_deposit (X25519 via
// x25519-dalek + AES-256-GCM via the aes_gcm crate) and privacy-proxy-sdk's
// crypto.rs encrypt_payload/decrypt_payload. The Go port uses
// golang.org/x/crypto/curve25519 for the ECDH step — already a transitive
// dependency of the teacher's own go.mod — combined with the standard
// library's crypto/aes + crypto/cipher for AES-256-GCM, since no ecosystem
// AEAD package beyond the standard library appears anywhere in the
// example pack for this purpose (see DESIGN.md). golang.org/x/crypto/nacl/box
// was deliberately not used: it bundles X25519 with XSalsa20-Poly1305,
// which does not match the AES-GCM-based wire format the original source
// defines.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// NonceSize is the AES-GCM nonce length the wire format uses (96 bits).
const NonceSize = 12

// KeyPair is an X25519 ECDH keypair. The relayer generates one ephemeral
// pair at startup and advertises the public half via /info.
type KeyPair struct {
	Private [32]byte
	Public  [32]byte
}

// GenerateKeyPair produces a fresh X25519 keypair.
func GenerateKeyPair() (*KeyPair, error) {
	var priv [32]byte
	if _, err := rand.Read(priv[:]); err != nil {
		return nil, fmt.Errorf("envelope: generate private key: %w", err)
	}
	// Clamp per RFC 7748. curve25519.X25519 clamps its scalar internally as
	// well; clamping here makes the stored private key the clamped form.
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64

	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("envelope: derive public key: %w", err)
	}
	var kp KeyPair
	kp.Private = priv
	copy(kp.Public[:], pub)
	return &kp, nil
}

// SharedSecret computes the X25519 Diffie-Hellman shared secret between
// this keypair's private half and a peer's public key, which is then used
// directly as the AES-256-GCM key (matching x25519_dalek's
// diffie_hellman().as_bytes() usage in the original source — no additional
// KDF is applied there, so none is applied here).
func (kp *KeyPair) SharedSecret(peerPublic [32]byte) ([32]byte, error) {
	shared, err := curve25519.X25519(kp.Private[:], peerPublic[:])
	if err != nil {
		return [32]byte{}, fmt.Errorf("envelope: ECDH failed: %w", err)
	}
	var out [32]byte
	copy(out[:], shared)
	return out, nil
}

// Decrypt opens an AES-256-GCM ciphertext under key with the given nonce.
func Decrypt(key [32]byte, nonce, ciphertext []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("envelope: nonce must be %d bytes, got %d", NonceSize, len(nonce))
	}
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("envelope: aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("envelope: gcm: %w", err)
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("envelope: decryption failed")
	}
	return plaintext, nil
}

// Encrypt seals plaintext under key with a fresh random nonce, returning
// the nonce alongside the ciphertext. Used by tests exercising the
// roundtrip, and available for any server-to-client encrypted response in
// the future.
func Encrypt(key [32]byte, plaintext []byte) (nonce, ciphertext []byte, err error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, nil, fmt.Errorf("envelope: aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("envelope: gcm: %w", err)
	}
	nonce = make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("envelope: generate nonce: %w", err)
	}
	ciphertext = gcm.Seal(nil, nonce, plaintext, nil)
	return nonce, ciphertext, nil
}
