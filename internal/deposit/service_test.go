package deposit

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/privacy-proxy/relayer/internal/blindsign"
	"github.com/privacy-proxy/relayer/internal/envelope"
	"github.com/privacy-proxy/relayer/internal/ledger"
	"github.com/privacy-proxy/relayer/internal/merkletree"
	"github.com/privacy-proxy/relayer/internal/obs"
	"github.com/privacy-proxy/relayer/internal/tokenstore"
)

// fakeLedger is a minimal, in-memory ledger.Ledger used to exercise the
// deposit pipeline without a real chain, mirroring how
// internal/zerocash_test exercises its Ledger stub directly in-process.
type fakeLedger struct {
	failSubmit bool
	submitted  []ledger.Instruction
}

func (f *fakeLedger) VerifyPayment(ctx context.Context, txSig, payer, treasury string, minUnits uint64) (bool, error) {
	return true, nil
}

func (f *fakeLedger) Submit(ctx context.Context, signer *ledger.Wallet, ix ledger.Instruction, accounts []string) (string, error) {
	if f.failSubmit {
		return "", fmt.Errorf("simulated rpc failure")
	}
	f.submitted = append(f.submitted, ix)
	return "sig-1", nil
}

func (f *fakeLedger) FetchAccount(ctx context.Context, address string) (*ledger.Account, error) {
	return &ledger.Account{Address: address, Exists: true}, nil
}

func (f *fakeLedger) ListPendingWithdrawals(ctx context.Context) ([]ledger.PendingWithdrawal, error) {
	return nil, nil
}

func (f *fakeLedger) PoolSize(ctx context.Context, bucketID uint8) (uint64, error) { return 0, nil }
func (f *fakeLedger) PoolRoot(ctx context.Context, bucketID uint8) ([32]byte, error) {
	return [32]byte{}, nil
}
func (f *fakeLedger) UnprocessedDepositCount(ctx context.Context, bucketID uint8) (int, error) {
	return 0, nil
}
func (f *fakeLedger) OnChainCommitments(ctx context.Context, bucketID uint8) ([][32]byte, error) {
	return nil, nil
}

func (f *fakeLedger) IsNullifierSpent(ctx context.Context, nullifierHash [32]byte) (bool, error) {
	return false, nil
}

func newTestService(t *testing.T, chain ledger.Ledger) (*Service, *envelope.KeyPair, *blindsign.Signer) {
	t.Helper()
	relayerKP, err := envelope.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate relayer keypair: %v", err)
	}
	dir := t.TempDir()
	signer, err := blindsign.NewOrLoad(dir+"/rsa_key.der", 2048)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	store, err := tokenstore.Load("")
	if err != nil {
		t.Fatalf("load tokenstore: %v", err)
	}
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
	svc := NewService(relayerKP, signer, store, trees, chain, wallet, log)
	return svc, relayerKP, signer
}

func buildEnvelope(t *testing.T, relayerKP *envelope.KeyPair, tokenID, sig []byte, amount uint64, commitment [32]byte) Envelope {
	t.Helper()
	clientKP, err := envelope.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate client keypair: %v", err)
	}
	shared, err := clientKP.SharedSecret(relayerKP.Public)
	if err != nil {
		t.Fatalf("shared secret: %v", err)
	}

	p := plaintext{Commitment: commitment}
	p.Credit.TokenID = tokenID
	p.Credit.Signature = sig
	p.Credit.Amount = amount
	raw, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal plaintext: %v", err)
	}

	nonce, ciphertext, err := envelope.Encrypt(shared, raw)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	return Envelope{Ciphertext: ciphertext, Nonce: nonce, ClientPubkey: clientKP.Public}
}

func signToken(t *testing.T, signer *blindsign.Signer, tokenID []byte) []byte {
	t.Helper()
	sum := sha256.Sum256(tokenID)
	sig, err := signer.SignBlinded(sum[:])
	if err != nil {
		t.Fatalf("sign blinded: %v", err)
	}
	return sig
}

func TestDepositHappyPath(t *testing.T) {
	chain := &fakeLedger{}
	svc, relayerKP, signer := newTestService(t, chain)

	tokenID := []byte("token-1")
	sig := signToken(t, signer, tokenID)
	env := buildEnvelope(t, relayerKP, tokenID, sig, merkletree.Buckets[2], [32]byte{7})

	result, err := svc.Deposit(context.Background(), env)
	if err != nil {
		t.Fatalf("Deposit failed: %v", err)
	}
	if result.LeafIndex != 0 {
		t.Errorf("expected leaf index 0, got %d", result.LeafIndex)
	}
	if len(chain.submitted) != 1 {
		t.Errorf("expected exactly one submitted instruction, got %d", len(chain.submitted))
	}
}

func TestDepositRejectsReusedToken(t *testing.T) {
	chain := &fakeLedger{}
	svc, relayerKP, signer := newTestService(t, chain)

	tokenID := []byte("token-2")
	sig := signToken(t, signer, tokenID)
	env1 := buildEnvelope(t, relayerKP, tokenID, sig, merkletree.Buckets[0], [32]byte{1})
	if _, err := svc.Deposit(context.Background(), env1); err != nil {
		t.Fatalf("first deposit should succeed: %v", err)
	}

	env2 := buildEnvelope(t, relayerKP, tokenID, sig, merkletree.Buckets[0], [32]byte{2})
	_, err := svc.Deposit(context.Background(), env2)
	if err == nil {
		t.Fatalf("second deposit with the same token should be rejected")
	}
}

func TestDepositRejectsUnknownBucket(t *testing.T) {
	chain := &fakeLedger{}
	svc, relayerKP, signer := newTestService(t, chain)

	tokenID := []byte("token-3")
	sig := signToken(t, signer, tokenID)
	env := buildEnvelope(t, relayerKP, tokenID, sig, 42, [32]byte{3})

	if _, err := svc.Deposit(context.Background(), env); err == nil {
		t.Fatalf("expected a bucket error for a non-denomination amount")
	}
}

func TestDepositRollsBackOnSubmitFailure(t *testing.T) {
	chain := &fakeLedger{failSubmit: true}
	svc, relayerKP, signer := newTestService(t, chain)

	tokenID := []byte("token-4")
	sig := signToken(t, signer, tokenID)
	env := buildEnvelope(t, relayerKP, tokenID, sig, merkletree.Buckets[1], [32]byte{4})

	if _, err := svc.Deposit(context.Background(), env); err == nil {
		t.Fatalf("expected deposit to fail when the ledger submit fails")
	}

	size, err := svc.trees.Size(1)
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	if size != 0 {
		t.Errorf("expected Merkle insert to be rolled back, tree size is %d", size)
	}
	tokenHash := sha256.Sum256(tokenID)
	if svc.usedTokens.Contains(tokenHash) {
		t.Errorf("expected used-token marker to be rolled back")
	}
}
