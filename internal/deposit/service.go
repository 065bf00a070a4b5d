// Package deposit implements the deposit intake pipeline (spec C5):
// decrypt the client's envelope, verify its credit, enforce single-use
// redemption, commit into the bucket's Merkle tree, and author the
// on-chain pool transaction — compensating the local state if that
// transaction fails.
//
// Grounded on the original relayer's server.rs handle_deposit handler and
// deposit.go's DepositPipeline, kept in the teacher's "one method per
// pipeline stage, bail out early" shape from
// internal/transactions/register.
package deposit

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"

	"github.com/privacy-proxy/relayer/internal/blindsign"
	"github.com/privacy-proxy/relayer/internal/envelope"
	"github.com/privacy-proxy/relayer/internal/ledger"
	"github.com/privacy-proxy/relayer/internal/merkletree"
	"github.com/privacy-proxy/relayer/internal/obs"
	"github.com/privacy-proxy/relayer/internal/relayererr"
	"github.com/privacy-proxy/relayer/internal/tokenstore"
)

// Envelope is the decoded form of the encrypted HTTP payload (spec C5):
// {encrypted:true, ciphertext, nonce, client_pubkey}. Decoding base64/hex
// wire fields into these byte slices is the HTTP handler's job, per C8's
// "thin adapter" framing.
type Envelope struct {
	Ciphertext  []byte
	Nonce       []byte
	ClientPubkey [32]byte
}

// plaintext is the JSON shape of the decrypted envelope body.
type plaintext struct {
	Credit struct {
		TokenID   []byte `json:"token_id"`
		Signature []byte `json:"signature"`
		Amount    uint64 `json:"amount"`
	} `json:"credit"`
	Commitment    [32]byte `json:"commitment"`
	EncryptedNote []byte   `json:"encrypted_note,omitempty"`
}

// Result is what a successful deposit reports back to the client.
type Result struct {
	TxSig      string
	LeafIndex  uint64
	MerkleRoot [32]byte
	BucketID   uint8
}

// Service wires together the components a deposit touches: the relayer's
// ECDH keypair, the blind-signature verifier, the used-token store, the
// Merkle service, and the ledger adapter signing as the deposit wallet.
type Service struct {
	ecdh       *envelope.KeyPair
	signer     *blindsign.Signer
	usedTokens *tokenstore.Store
	trees      *merkletree.Service
	chain      ledger.Ledger
	depositKey *ledger.Wallet
	log        *obs.Logger
}

// NewService constructs a deposit pipeline.
func NewService(ecdh *envelope.KeyPair, signer *blindsign.Signer, usedTokens *tokenstore.Store, trees *merkletree.Service, chain ledger.Ledger, depositKey *ledger.Wallet, log *obs.Logger) *Service {
	return &Service{
		ecdh:       ecdh,
		signer:     signer,
		usedTokens: usedTokens,
		trees:      trees,
		chain:      chain,
		depositKey: depositKey,
		log:        log,
	}
}

// Deposit runs the full C5 pipeline against one received envelope.
func (s *Service) Deposit(ctx context.Context, env Envelope) (*Result, error) {
	shared, err := s.ecdh.SharedSecret(env.ClientPubkey)
	if err != nil {
		return nil, relayererr.Wrap(relayererr.CategoryCrypto, "ecdh_failed", err)
	}
	plain, err := envelope.Decrypt(shared, env.Nonce, env.Ciphertext)
	if err != nil {
		return nil, relayererr.Wrap(relayererr.CategoryCrypto, "decryption_failed", err)
	}

	var p plaintext
	if err := json.Unmarshal(plain, &p); err != nil {
		return nil, relayererr.Wrap(relayererr.CategoryProtocolInput, "malformed_envelope", err)
	}

	bucketID, ok := merkletree.BucketID(p.Credit.Amount)
	if !ok {
		return nil, relayererr.ErrInvalidBucket
	}

	if !s.signer.Verify(p.Credit.TokenID, p.Credit.Signature) {
		return nil, relayererr.ErrInvalidSignature
	}

	tokenHash := sha256.Sum256(p.Credit.TokenID)
	if s.usedTokens.Contains(tokenHash) {
		return nil, relayererr.ErrTokenAlreadyUsed
	}
	if err := s.usedTokens.Insert(tokenHash); err != nil {
		if s.usedTokens.Contains(tokenHash) {
			// Another concurrent caller won the race for this token between
			// the Contains check and Insert.
			return nil, relayererr.ErrTokenAlreadyUsed
		}
		// Insert rolled the entry back because persisting the store failed.
		return nil, relayererr.Wrap(relayererr.CategoryPersistence, "token_store_persist_failed", err)
	}

	leafIndex, err := s.trees.Insert(bucketID, p.Commitment)
	if err != nil {
		s.compensateTokenOnly(tokenHash)
		return nil, relayererr.Wrap(relayererr.CategoryCrypto, "merkle_insert_failed", err)
	}

	root, err := s.trees.Root(bucketID)
	if err != nil {
		s.compensate(bucketID, tokenHash)
		return nil, relayererr.Wrap(relayererr.CategoryCrypto, "merkle_root_failed", err)
	}

	ix := ledger.Instruction{
		Name: ledger.InstructionDeposit,
		Data: encodeDepositData(bucketID, p.Commitment, tokenHash, p.EncryptedNote, root),
	}
	txSig, err := s.chain.Submit(ctx, s.depositKey, ix, nil)
	if err != nil {
		s.compensate(bucketID, tokenHash)
		s.log.Error("deposit transaction failed, rolled back local state", map[string]any{
			"bucket": bucketID,
			"error":  err.Error(),
		})
		return nil, relayererr.Wrap(relayererr.CategoryLedger, "deposit_tx_failed", err)
	}

	s.log.Audit("deposit accepted", map[string]any{
		"bucket":     bucketID,
		"leaf_index": leafIndex,
		"tx":         txSig,
	})
	return &Result{TxSig: txSig, LeafIndex: leafIndex, MerkleRoot: root, BucketID: bucketID}, nil
}

// compensate undoes both the Merkle insert and the token-used marker, per
// spec C5 step 8's rollback requirement.
func (s *Service) compensate(bucketID uint8, tokenHash [32]byte) {
	if err := s.trees.TruncateLast(bucketID); err != nil {
		s.log.Error("rollback: failed to truncate Merkle leaf", map[string]any{"bucket": bucketID, "error": err.Error()})
	}
	s.compensateTokenOnly(tokenHash)
}

func (s *Service) compensateTokenOnly(tokenHash [32]byte) {
	if err := s.usedTokens.Remove(tokenHash); err != nil {
		s.log.Error("rollback: failed to remove used-token marker", map[string]any{"error": err.Error()})
	}
}

// encodeDepositData packs the instruction payload the pool program
// expects: bucket_id, commitment, token hash, optional encrypted note, and
// the new root, length-prefixing the variable-length note so the decoder
// on the other end does not need an out-of-band length.
func encodeDepositData(bucketID uint8, commitment, tokenHash [32]byte, encryptedNote []byte, newRoot [32]byte) []byte {
	out := make([]byte, 0, 1+32+32+4+len(encryptedNote)+32)
	out = append(out, bucketID)
	out = append(out, commitment[:]...)
	out = append(out, tokenHash[:]...)

	var noteLen [4]byte
	binary.LittleEndian.PutUint32(noteLen[:], uint32(len(encryptedNote)))
	out = append(out, noteLen[:]...)
	out = append(out, encryptedNote...)

	out = append(out, newRoot[:]...)
	return out
}
