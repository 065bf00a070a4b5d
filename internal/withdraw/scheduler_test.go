package withdraw

import (
	"context"
	"testing"
	"time"

	"github.com/privacy-proxy/relayer/internal/config"
	"github.com/privacy-proxy/relayer/internal/ledger"
)

func newTestScheduler(t *testing.T, chain *stubLedger) *Scheduler {
	t.Helper()
	svc, _ := newTestWithdrawService(t, chain)
	cfg := &config.Config{FeeBPS: 50}
	return NewScheduler(svc, chain, cfg, "treasury-address", svc.log)
}

func testRecord() ledger.PendingWithdrawal {
	return ledger.PendingWithdrawal{
		RecordID:      "record-1",
		BucketID:      0,
		NullifierHash: [32]byte{1},
		Recipient:     [32]byte{2},
		Amount:        1000,
		Fee:           5,
		ExecuteAfter:  time.Now().Add(-time.Minute),
	}
}

func TestExecuteSkipsAlreadySpentNullifier(t *testing.T) {
	stub := newStubLedger()
	stub.nullifiers[[32]byte{1}] = true
	sched := newTestScheduler(t, stub)

	if err := sched.Execute(context.Background(), testRecord()); err != nil {
		t.Fatalf("expected no-op success for an already-spent nullifier, got: %v", err)
	}
	if len(stub.submitted) != 0 {
		t.Errorf("expected no submission for an already-spent nullifier")
	}
}

func TestExecuteRejectsBeforeTimelock(t *testing.T) {
	stub := newStubLedger()
	sched := newTestScheduler(t, stub)
	rec := testRecord()
	rec.ExecuteAfter = time.Now().Add(time.Hour)

	if err := sched.Execute(context.Background(), rec); err == nil {
		t.Fatalf("expected rejection before the timelock has elapsed")
	}
}

func TestExecuteToppsUpRentBeforeExecuting(t *testing.T) {
	stub := newStubLedger()
	sched := newTestScheduler(t, stub)
	rec := testRecord()

	if err := sched.Execute(context.Background(), rec); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	// Two rent top-ups (recipient + treasury) plus the execute_withdrawal
	// instruction itself.
	if len(stub.submitted) != 3 {
		t.Fatalf("expected 3 submissions (2 top-ups + execute), got %d", len(stub.submitted))
	}
	last := stub.submitted[len(stub.submitted)-1]
	if last.Name != ledger.InstructionExecuteWithdrawal {
		t.Errorf("expected the final submission to be execute_withdrawal, got %s", last.Name)
	}
}

func TestExecuteSkipsTopUpWhenAlreadyRentExempt(t *testing.T) {
	stub := newStubLedger()
	rec := testRecord()
	recipientAddr := addressFromBytes(rec.Recipient)
	stub.accounts[recipientAddr] = &ledger.Account{Address: recipientAddr, Exists: true, Balance: config.RentExemptMinimum}
	stub.accounts["treasury-address"] = &ledger.Account{Address: "treasury-address", Exists: true, Balance: config.RentExemptMinimum}
	sched := newTestScheduler(t, stub)

	if err := sched.Execute(context.Background(), rec); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(stub.submitted) != 1 {
		t.Fatalf("expected only the execute_withdrawal submission when both accounts are already rent-exempt, got %d", len(stub.submitted))
	}
}
