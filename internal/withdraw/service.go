// Package withdraw implements the withdrawal pipeline and timelock
// scheduler (spec C6), grounded on the original relayer's withdrawal.rs
// and server.rs handle_withdraw/handle_withdraw_execute handlers, kept in
// the teacher's internal/transactions/withdraw one-struct-per-pipeline
// shape.
package withdraw

import (
	"context"
	"fmt"
	"time"

	"github.com/privacy-proxy/relayer/internal/config"
	"github.com/privacy-proxy/relayer/internal/field"
	"github.com/privacy-proxy/relayer/internal/ledger"
	"github.com/privacy-proxy/relayer/internal/merkletree"
	"github.com/privacy-proxy/relayer/internal/obs"
	"github.com/privacy-proxy/relayer/internal/relayererr"
	"github.com/privacy-proxy/relayer/internal/zkverify"
)

// Request is the decoded form of a /withdraw POST body.
type Request struct {
	Proof      zkverify.ProofTriple
	Signals    zkverify.PublicSignals
	BucketID   uint8
	DelayHours int
}

// Service runs the C6 pipeline: local precondition checks, Groth16
// verification, request submission, and (via Scheduler) timelocked
// execution.
type Service struct {
	verifier *zkverify.Verifier
	trees    *merkletree.Service
	chain    ledger.Ledger
	depositKey *ledger.Wallet
	cfg      *config.Config
	roots    *rootHistory
	log      *obs.Logger
}

// NewService constructs a withdrawal pipeline.
func NewService(verifier *zkverify.Verifier, trees *merkletree.Service, chain ledger.Ledger, depositKey *ledger.Wallet, cfg *config.Config, log *obs.Logger) *Service {
	return &Service{
		verifier:   verifier,
		trees:      trees,
		chain:      chain,
		depositKey: depositKey,
		cfg:        cfg,
		roots:      newRootHistory(),
		log:        log,
	}
}

// ObserveRoot records a newly-committed bucket root into the historical
// root window, called by the HTTP deposit handler after each deposit and by
// startup reconciliation, so later withdrawals can reference it.
func (s *Service) ObserveRoot(bucketID uint8, root [32]byte) {
	s.roots.Record(bucketID, root, time.Now())
}

// RequestWithdrawal runs the C6 "request" step: local precondition checks,
// proof verification, and the on-chain request_withdrawal submission.
func (s *Service) RequestWithdrawal(ctx context.Context, req Request) (recordID string, err error) {
	if err := s.checkPreconditions(req); err != nil {
		return "", err
	}

	if err := s.verifier.Verify(req.Proof, req.Signals); err != nil {
		return "", relayererr.Wrap(relayererr.CategoryCrypto, "proof_verification_failed", err)
	}

	ix := ledger.Instruction{
		Name: ledger.InstructionRequestWithdrawal,
		Data: encodeRequestWithdrawalData(req),
	}
	recordID, err = s.chain.Submit(ctx, s.depositKey, ix, nil)
	if err != nil {
		return "", relayererr.Wrap(relayererr.CategoryLedger, "request_withdrawal_failed", err)
	}

	s.log.Audit("withdrawal requested", map[string]any{
		"record_id":      recordID,
		"bucket":         req.BucketID,
		"nullifier_hash": fmt.Sprintf("%x", req.Signals.NullifierHash),
	})
	return recordID, nil
}

// checkPreconditions enforces spec C6's locally-checked invariants before
// ever submitting to the chain.
func (s *Service) checkPreconditions(req Request) error {
	if int(req.BucketID) >= len(merkletree.Buckets) {
		return relayererr.ErrInvalidBucket
	}

	if req.DelayHours == 0 && !s.cfg.DevMode {
		return relayererr.New(relayererr.CategoryProtocolInput, "delay_not_permitted", "delay_hours=0 is only permitted in dev mode")
	}
	if req.DelayHours != 0 && (req.DelayHours < 1 || req.DelayHours > 24) {
		return relayererr.New(relayererr.CategoryProtocolInput, "invalid_delay", "delay_hours must be between 1 and 24")
	}

	if req.Signals.Recipient[0]&0xE0 != 0 {
		return relayererr.New(relayererr.CategoryProtocolInput, "field_reduction_violation", "recipient is not field-reduced")
	}
	if req.Signals.RelayerPubkey[0]&0xE0 != 0 {
		return relayererr.New(relayererr.CategoryProtocolInput, "field_reduction_violation", "relayer_pubkey is not field-reduced")
	}

	expectedFee := config.Fee(req.Signals.Amount, s.cfg.FeeBPS)
	if req.Signals.Fee != expectedFee {
		return relayererr.New(relayererr.CategoryProtocolInput, "fee_mismatch", fmt.Sprintf("expected fee %d, got %d", expectedFee, req.Signals.Fee))
	}

	if !s.roots.Contains(req.BucketID, req.Signals.MerkleRoot) {
		return relayererr.New(relayererr.CategoryProtocolInput, "unknown_merkle_root", "merkle_root is not among the bucket's retained historical roots")
	}

	return nil
}

func encodeRequestWithdrawalData(req Request) []byte {
	out := make([]byte, 0, 1+32+32+32+8+32+8+32+8)
	out = append(out, req.BucketID)
	out = append(out, req.Signals.MerkleRoot[:]...)
	out = append(out, req.Signals.NullifierHash[:]...)
	out = append(out, req.Signals.Recipient[:]...)
	out = appendUint64(out, req.Signals.Amount)
	out = append(out, req.Signals.RelayerPubkey[:]...)
	out = appendUint64(out, req.Signals.Fee)
	out = append(out, req.Signals.BindingHash[:]...)
	out = appendUint64(out, uint64(req.DelayHours)*3600)
	return out
}

func appendUint64(out []byte, v uint64) []byte {
	b := field.Uint64Bytes(v)
	return append(out, b[:]...)
}
