package withdraw

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"

	"github.com/privacy-proxy/relayer/internal/config"
	"github.com/privacy-proxy/relayer/internal/field"
	"github.com/privacy-proxy/relayer/internal/ledger"
	"github.com/privacy-proxy/relayer/internal/merkletree"
	"github.com/privacy-proxy/relayer/internal/obs"
	"github.com/privacy-proxy/relayer/internal/zkverify"
)

type stubLedger struct {
	submitted []ledger.Instruction
	accounts  map[string]*ledger.Account
	nullifiers map[[32]byte]bool
}

func newStubLedger() *stubLedger {
	return &stubLedger{accounts: make(map[string]*ledger.Account), nullifiers: make(map[[32]byte]bool)}
}

func (s *stubLedger) VerifyPayment(ctx context.Context, txSig, payer, treasury string, minUnits uint64) (bool, error) {
	return true, nil
}

func (s *stubLedger) Submit(ctx context.Context, signer *ledger.Wallet, ix ledger.Instruction, accounts []string) (string, error) {
	s.submitted = append(s.submitted, ix)
	return fmt.Sprintf("sig-%d", len(s.submitted)), nil
}

func (s *stubLedger) FetchAccount(ctx context.Context, address string) (*ledger.Account, error) {
	if acct, ok := s.accounts[address]; ok {
		return acct, nil
	}
	return &ledger.Account{Address: address, Exists: false}, nil
}

func (s *stubLedger) ListPendingWithdrawals(ctx context.Context) ([]ledger.PendingWithdrawal, error) {
	return nil, nil
}
func (s *stubLedger) PoolSize(ctx context.Context, bucketID uint8) (uint64, error) { return 0, nil }
func (s *stubLedger) PoolRoot(ctx context.Context, bucketID uint8) ([32]byte, error) {
	return [32]byte{}, nil
}
func (s *stubLedger) UnprocessedDepositCount(ctx context.Context, bucketID uint8) (int, error) {
	return 0, nil
}
func (s *stubLedger) OnChainCommitments(ctx context.Context, bucketID uint8) ([][32]byte, error) {
	return nil, nil
}
func (s *stubLedger) IsNullifierSpent(ctx context.Context, nullifierHash [32]byte) (bool, error) {
	return s.nullifiers[nullifierHash], nil
}

func setupVerifier(t *testing.T) (*zkverify.Verifier, groth16.ProvingKey) {
	t.Helper()
	var circuit withdrawalCircuitForTest
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &circuit)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	return zkverify.NewVerifier(vk), pk
}

func proveForTest(t *testing.T, pk groth16.ProvingKey, signals zkverify.PublicSignals) zkverify.ProofTriple {
	t.Helper()
	var circuit withdrawalCircuitForTest
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &circuit)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	assignment := &withdrawalCircuitForTest{
		MerkleRoot:    new(big.Int).SetBytes(signals.MerkleRoot[:]),
		NullifierHash: new(big.Int).SetBytes(signals.NullifierHash[:]),
		Recipient:     new(big.Int).SetBytes(signals.Recipient[:]),
		Amount:        new(big.Int).SetUint64(signals.Amount),
		RelayerPubkey: new(big.Int).SetBytes(signals.RelayerPubkey[:]),
		Fee:           new(big.Int).SetUint64(signals.Fee),
		BindingHash:   new(big.Int).SetBytes(signals.BindingHash[:]),
	}
	w, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		t.Fatalf("witness: %v", err)
	}
	proof, err := groth16.Prove(ccs, pk, w)
	if err != nil {
		t.Fatalf("prove: %v", err)
	}
	var buf bytes.Buffer
	if _, err := proof.WriteRawTo(&buf); err != nil {
		t.Fatalf("serialize proof: %v", err)
	}
	raw := buf.Bytes()
	var triple zkverify.ProofTriple
	copy(triple.A[:], raw[:64])
	copy(triple.B[:], raw[64:192])
	copy(triple.C[:], raw[192:256])
	return triple
}

// withdrawalCircuitForTest mirrors zkverify's internal circuit shape so the
// compiled constraint system has the same public input layout.
type withdrawalCircuitForTest struct {
	MerkleRoot    frontend.Variable `gnark:",public"`
	NullifierHash frontend.Variable `gnark:",public"`
	Recipient     frontend.Variable `gnark:",public"`
	Amount        frontend.Variable `gnark:",public"`
	RelayerPubkey frontend.Variable `gnark:",public"`
	Fee           frontend.Variable `gnark:",public"`
	BindingHash   frontend.Variable `gnark:",public"`
}

func (c *withdrawalCircuitForTest) Define(api frontend.API) error { return nil }

func newTestWithdrawService(t *testing.T, chain ledger.Ledger) (*Service, groth16.ProvingKey) {
	t.Helper()
	dir := t.TempDir()
	trees, err := merkletree.NewService(dir)
	if err != nil {
		t.Fatalf("new merkle service: %v", err)
	}
	wallet, err := ledger.LoadOrCreateWallet(dir + "/deposit_wallet.json")
	if err != nil {
		t.Fatalf("new wallet: %v", err)
	}
	log, err := obs.New(obs.LevelError, dir+"/relayer.log", dir+"/audit.log")
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	cfg := &config.Config{FeeBPS: 50, DevMode: false}
	verifier, pk := setupVerifier(t)
	return NewService(verifier, trees, chain, wallet, cfg, log), pk
}

func validRequest(bucketID uint8, delayHours int) Request {
	nullifier := [32]byte{1}
	recipient := [32]byte{2}
	relayer := [32]byte{3}
	var fee uint64 = 5
	return Request{
		BucketID:   bucketID,
		DelayHours: delayHours,
		Signals: zkverify.PublicSignals{
			MerkleRoot:    [32]byte{9},
			NullifierHash: nullifier,
			Recipient:     recipient,
			Amount:        1000,
			RelayerPubkey: relayer,
			Fee:           fee,
			BindingHash:   field.WithdrawalBindingHash(nullifier, recipient, relayer, fee),
		},
	}
}

func TestCheckPreconditionsRejectsUnknownRoot(t *testing.T) {
	svc, _ := newTestWithdrawService(t, newStubLedger())
	req := validRequest(0, 1)

	err := svc.checkPreconditions(req)
	if err == nil {
		t.Fatalf("expected rejection for a merkle_root the service never observed")
	}
}

func TestCheckPreconditionsAcceptsObservedRoot(t *testing.T) {
	svc, _ := newTestWithdrawService(t, newStubLedger())
	req := validRequest(0, 1)
	svc.ObserveRoot(0, req.Signals.MerkleRoot)

	if err := svc.checkPreconditions(req); err != nil {
		t.Fatalf("unexpected rejection: %v", err)
	}
}

func TestCheckPreconditionsRejectsBadFee(t *testing.T) {
	svc, _ := newTestWithdrawService(t, newStubLedger())
	req := validRequest(0, 1)
	svc.ObserveRoot(0, req.Signals.MerkleRoot)
	req.Signals.Fee = 0 // amount=1000, fee_bps=50 -> expected fee is 5, not 0

	if err := svc.checkPreconditions(req); err == nil {
		t.Fatalf("expected fee mismatch to be rejected")
	}
}

func TestCheckPreconditionsRejectsZeroDelayOutsideDevMode(t *testing.T) {
	svc, _ := newTestWithdrawService(t, newStubLedger())
	req := validRequest(0, 0)
	svc.ObserveRoot(0, req.Signals.MerkleRoot)

	if err := svc.checkPreconditions(req); err == nil {
		t.Fatalf("expected delay_hours=0 to be rejected outside dev mode")
	}
}

func TestCheckPreconditionsRejectsUnreducedRecipient(t *testing.T) {
	svc, _ := newTestWithdrawService(t, newStubLedger())
	req := validRequest(0, 1)
	svc.ObserveRoot(0, req.Signals.MerkleRoot)
	req.Signals.Recipient[0] = 0xE0

	if err := svc.checkPreconditions(req); err == nil {
		t.Fatalf("expected a non-field-reduced recipient to be rejected")
	}
}

func TestRequestWithdrawalSubmitsOnSuccess(t *testing.T) {
	stub := newStubLedger()
	svc, pk := newTestWithdrawService(t, stub)
	req := validRequest(0, 1)
	req.Proof = proveForTest(t, pk, req.Signals)
	svc.ObserveRoot(0, req.Signals.MerkleRoot)

	if _, err := svc.RequestWithdrawal(context.Background(), req); err != nil {
		t.Fatalf("RequestWithdrawal failed: %v", err)
	}
	if len(stub.submitted) != 1 {
		t.Fatalf("expected exactly one submission, got %d", len(stub.submitted))
	}
	if !bytes.Equal(stub.submitted[0].Data[:1], []byte{0}) {
		t.Errorf("expected bucket id 0 encoded in the first byte")
	}
}
