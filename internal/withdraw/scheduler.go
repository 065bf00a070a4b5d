package withdraw

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/privacy-proxy/relayer/internal/config"
	"github.com/privacy-proxy/relayer/internal/field"
	"github.com/privacy-proxy/relayer/internal/ledger"
	"github.com/privacy-proxy/relayer/internal/obs"
	"github.com/privacy-proxy/relayer/internal/relayererr"
)

// pollInterval is the timelock scheduler's bounded poll period (spec C6:
// "bounded period, e.g. 30 seconds").
const pollInterval = 30 * time.Second

// settlementDelay is the pause after a rent top-up before issuing
// execute_withdrawal, giving the ledger time to commit the transfer.
const settlementDelay = 500 * time.Millisecond

const (
	executeRetries    = 5
	executeRetryDelay = 2 * time.Second
)

// Scheduler is the single logical actor running execute_withdrawal for due
// pending records — one in-flight execute at a time, matching spec §9's
// "must never race with itself" requirement.
type Scheduler struct {
	svc          *Service
	chain        ledger.Ledger
	cfg          *config.Config
	treasuryAddr string
	log          *obs.Logger
}

// NewScheduler constructs a timelock scheduler bound to svc's chain client.
// treasuryAddr is the treasury wallet's public address — read-only here,
// per C7's single-wallet invariant, since only the deposit wallet ever
// signs the rent top-up or execute_withdrawal instructions.
func NewScheduler(svc *Service, chain ledger.Ledger, cfg *config.Config, treasuryAddr string, log *obs.Logger) *Scheduler {
	return &Scheduler{svc: svc, chain: chain, cfg: cfg, treasuryAddr: treasuryAddr, log: log}
}

// Run polls the ledger for due pending withdrawals until ctx is cancelled.
// It is intended to be the single goroutine running this loop; callers
// supervise it with errgroup in cmd/relayerd.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	records, err := s.chain.ListPendingWithdrawals(ctx)
	if err != nil {
		s.log.Error("scheduler: failed to list pending withdrawals", map[string]any{"error": err.Error()})
		return
	}

	now := time.Now()
	for _, rec := range records {
		if rec.Executed || rec.ExecuteAfter.After(now) {
			continue
		}
		if err := s.Execute(ctx, rec); err != nil {
			s.log.Error("scheduler: execute_withdrawal failed", map[string]any{
				"record_id": rec.RecordID,
				"error":     err.Error(),
			})
		}
	}
}

// Execute runs the C6 "execute" step for one pending record: idempotency
// check, rent pre-funding, and the on-chain execute_withdrawal call. It is
// safe to call concurrently for distinct records, and safe to call twice
// for the same record (SPEC_FULL.md supplement 4).
func (s *Scheduler) Execute(ctx context.Context, rec ledger.PendingWithdrawal) error {
	spent, err := s.chain.IsNullifierSpent(ctx, rec.NullifierHash)
	if err != nil {
		return relayererr.Wrap(relayererr.CategoryLedger, "nullifier_status_failed", err)
	}
	if spent {
		s.log.Info("execute_withdrawal: nullifier already spent, treating as success", map[string]any{"record_id": rec.RecordID})
		return nil
	}

	if time.Now().Before(rec.ExecuteAfter) {
		return relayererr.New(relayererr.CategoryLedger, "timelock_not_elapsed", "execute_after has not yet passed")
	}

	recipientAddr := addressFromBytes(rec.Recipient)
	toppedUp, err := s.ensureRentExempt(ctx, recipientAddr)
	if err != nil {
		return err
	}
	treasuryToppedUp, err := s.ensureRentExempt(ctx, s.treasuryAddr)
	if err != nil {
		return err
	}
	if toppedUp || treasuryToppedUp {
		time.Sleep(settlementDelay)
	}

	ix := ledger.Instruction{
		Name: ledger.InstructionExecuteWithdrawal,
		Data: encodeExecuteWithdrawalData(rec),
	}
	_, err = s.submitWithRetry(ctx, ix)
	if err != nil {
		return relayererr.Wrap(relayererr.CategoryLedger, "execute_withdrawal_failed", err)
	}

	s.log.Audit("withdrawal executed", map[string]any{
		"record_id": rec.RecordID,
		"recipient": recipientAddr,
		"amount":    rec.Amount,
		"fee":       rec.Fee,
	})
	return nil
}

// ensureRentExempt tops up addr from the deposit wallet up to
// config.RentExemptMinimum if its current balance is insufficient (or the
// account does not exist yet). It is idempotent: already-sufficient
// balances are a no-op.
func (s *Scheduler) ensureRentExempt(ctx context.Context, addr string) (bool, error) {
	acct, err := s.chain.FetchAccount(ctx, addr)
	if err != nil {
		return false, relayererr.Wrap(relayererr.CategoryLedger, "fetch_account_failed", err)
	}
	if acct.Exists && acct.Balance >= config.RentExemptMinimum {
		return false, nil
	}

	topUp := uint64(config.RentExemptMinimum)
	if acct.Exists {
		topUp = config.RentExemptMinimum - acct.Balance
	}
	ix := ledger.Instruction{Name: "rent_top_up", Data: encodeRentTopUpData(addr, topUp)}
	if _, err := s.submitWithRetry(ctx, ix); err != nil {
		return false, relayererr.Wrap(relayererr.CategoryLedger, "rent_top_up_failed", err)
	}
	return true, nil
}

func encodeRentTopUpData(addr string, amount uint64) []byte {
	amountBytes := field.Uint64Bytes(amount)
	out := make([]byte, 0, len(addr)+len(amountBytes))
	out = append(out, amountBytes[:]...)
	out = append(out, []byte(addr)...)
	return out
}

// submitWithRetry submits ix via the deposit wallet, retrying only on
// transient (network/timeout) errors, never on errors the ledger program
// itself rejects (those are non-retryable per spec C6's failure model).
func (s *Scheduler) submitWithRetry(ctx context.Context, ix ledger.Instruction) (string, error) {
	var lastErr error
	for attempt := 0; attempt < executeRetries; attempt++ {
		sig, err := s.chain.Submit(ctx, s.svc.depositKey, ix, nil)
		if err == nil {
			return sig, nil
		}
		lastErr = err
		if !isTransient(err) {
			return "", err
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(executeRetryDelay << uint(attempt)):
		}
	}
	return "", fmt.Errorf("exhausted retries: %w", lastErr)
}

// isTransient classifies an error as retryable: network-level failures and
// deadline exceeded, never a rejection the ledger program issued on
// purpose (proof/nullifier/timelock failures surface as relayererr.Error
// values constructed by this package, not raw transport errors).
func isTransient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func addressFromBytes(b [32]byte) string {
	return hex.EncodeToString(b[:])
}

func encodeExecuteWithdrawalData(rec ledger.PendingWithdrawal) []byte {
	return []byte(rec.RecordID)
}
