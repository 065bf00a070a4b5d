package ledger

import (
	"context"
	"time"
)

// PendingWithdrawal mirrors the original relayer's PendingWithdrawalRecord:
// a withdrawal that has been requested on-chain but not yet executed,
// tracked by the ledger so the timelock scheduler can poll for due ones.
type PendingWithdrawal struct {
	RecordID      string
	BucketID      uint8
	NullifierHash [32]byte
	Recipient     [32]byte
	Amount        uint64
	Fee           uint64
	ExecuteAfter  time.Time
	Executed      bool
}

// Account is a generic ledger account fetch result.
type Account struct {
	Address string
	Data    []byte
	Balance uint64
	Exists  bool
}

// Ledger abstracts the public ledger the relayer talks to: payment
// verification, transaction submission, account/pool reads, and pending
// withdrawal enumeration (spec C7). A concrete implementation talks to one
// real chain; this package's *RPCLedger is the one wired into cmd/relayerd.
type Ledger interface {
	// VerifyPayment confirms that txSig is a confirmed transaction that
	// increased treasury's balance by at least minUnits. *RPCLedger does not
	// check payer against the transaction's signer or fee payer. Only ever
	// called with the treasury address, never the deposit wallet's — the
	// single-wallet invariant (spec C7/§8) depends on this.
	VerifyPayment(ctx context.Context, txSig, payer, treasury string, minUnits uint64) (bool, error)

	// Submit signs ix with signer and submits it, returning the resulting
	// transaction signature. Per the single-wallet invariant, callers must
	// only ever pass the deposit wallet as signer for pool/verifier writes.
	Submit(ctx context.Context, signer *Wallet, ix Instruction, accounts []string) (string, error)

	FetchAccount(ctx context.Context, address string) (*Account, error)

	ListPendingWithdrawals(ctx context.Context) ([]PendingWithdrawal, error)

	PoolSize(ctx context.Context, bucketID uint8) (uint64, error)
	PoolRoot(ctx context.Context, bucketID uint8) ([32]byte, error)

	// IsNullifierSpent reports whether nullifierHash is already recorded in
	// the verifier program's spent set, letting execute_withdrawal retries
	// (scheduler + manual) treat an already-spent nullifier as a no-op
	// success rather than an error (SPEC_FULL.md supplement 4).
	IsNullifierSpent(ctx context.Context, nullifierHash [32]byte) (bool, error)

	// UnprocessedDepositCount reports how many on-chain deposit
	// transactions for bucketID the relayer has not yet reconciled locally
	// — feeds SyncFromChain's T_scan decision (spec §4.4).
	UnprocessedDepositCount(ctx context.Context, bucketID uint8) (int, error)
	// OnChainCommitments returns the full, authoritative commitment list
	// for bucketID, from which SyncFromChain rebuilds the local tree.
	OnChainCommitments(ctx context.Context, bucketID uint8) ([][32]byte, error)
}
