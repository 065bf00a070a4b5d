// Package blindsign implements the RFC-9474-shaped RSA blind signature
// engine used to issue unlinkable deposit credits (spec C2).
//
// No example repository in the retrieval pack carries a blind-signature
// library (the one ecosystem candidate, Cashu's BDHKE scheme in
// other_examples, is built on secp256k1 elliptic-curve blinding and is not
// RSA-compatible), so this package builds directly on the standard
// library's crypto/rsa and math/big, grounded on the original relayer's
// blind_signer.rs (see DESIGN.md).
package blindsign

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"

	"github.com/rs/zerolog/log"
)

// Signer holds the relayer's RSA-2048 signing keypair and exposes the
// blind-signature primitives: signing a blinded message, and verifying an
// unblinded signature against a token id.
type Signer struct {
	priv *rsa.PrivateKey
}

// DefaultKeyBits matches RSA_KEY_BITS's default in the original config.rs.
const DefaultKeyBits = 2048

// NewOrLoad loads an RSA private key from a PKCS#8 DER file at path, or
// generates a new keyBits-sized key and persists it there if the file does
// not exist yet. Regenerating the key invalidates every credit signed under
// the previous key, so a warning is logged when that happens, matching the
// original relayer's startup behavior.
func NewOrLoad(path string, keyBits int) (*Signer, error) {
	if keyBits <= 0 {
		keyBits = DefaultKeyBits
	}

	if data, err := os.ReadFile(path); err == nil {
		priv, err := parsePrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("blindsign: parse existing key at %s: %w", path, err)
		}
		return &Signer{priv: priv}, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("blindsign: read key file %s: %w", path, err)
	}

	log.Warn().Str("path", path).Msg("no RSA signing key found, generating a new one — credits signed under any previous key are now invalid")

	priv, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return nil, fmt.Errorf("blindsign: generate key: %w", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("blindsign: marshal key: %w", err)
	}
	if err := os.WriteFile(path, der, 0o600); err != nil {
		return nil, fmt.Errorf("blindsign: persist key to %s: %w", path, err)
	}
	return &Signer{priv: priv}, nil
}

func parsePrivateKey(data []byte) (*rsa.PrivateKey, error) {
	// Accept either a raw DER file or a PEM-wrapped one.
	if block, _ := pem.Decode(data); block != nil {
		data = block.Bytes
	}
	key, err := x509.ParsePKCS8PrivateKey(data)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("key is not RSA")
	}
	return rsaKey, nil
}

// SignBlinded computes blinded^d mod n, the relayer's half of the blind
// signature protocol. It never sees the token id the client is blinding,
// which is exactly what makes the resulting credit unlinkable to the
// payment that purchased it.
func (s *Signer) SignBlinded(blinded []byte) ([]byte, error) {
	n := s.priv.N
	mBlind := new(big.Int).SetBytes(blinded)
	if mBlind.Cmp(n) >= 0 {
		return nil, fmt.Errorf("blindsign: blinded message out of range")
	}
	sBlind := new(big.Int).Exp(mBlind, s.priv.D, n)
	return sBlind.Bytes(), nil
}

// Verify checks sig^e mod n == bytes_to_int(SHA-256(tokenID)), the public
// verification half of the protocol, used during credit redemption.
func (s *Signer) Verify(tokenID, sig []byte) bool {
	n := s.priv.N
	e := big.NewInt(int64(s.priv.E))

	hash := sha256.Sum256(tokenID)
	m := new(big.Int).SetBytes(hash[:])

	sInt := new(big.Int).SetBytes(sig)
	computed := new(big.Int).Exp(sInt, e, n)

	return computed.Cmp(m) == 0
}

// PublicKeyNBytes returns the RSA modulus n, big-endian, for /info.
func (s *Signer) PublicKeyNBytes() []byte {
	return s.priv.N.Bytes()
}

// PublicKeyEBytes returns the RSA public exponent e, big-endian, for /info.
func (s *Signer) PublicKeyEBytes() []byte {
	return big.NewInt(int64(s.priv.E)).Bytes()
}
