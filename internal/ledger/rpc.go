package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// RPCLedger is the concrete Ledger implementation talking to the ledger's
// JSON-RPC endpoint. No example repository carries a ready-made ledger RPC
// client compatible with this abstraction (the corpus's chain-facing
// dependency, go-ethereum, speaks a different, Ethereum-specific RPC
// surface), so this is hand-rolled on net/http + encoding/json — justified
// in DESIGN.md.
type RPCLedger struct {
	url        string
	httpClient *http.Client
	poolProg   string
	verifierProg string
}

// NewRPCLedger constructs an adapter pointed at rpcURL.
func NewRPCLedger(rpcURL, poolProgramID, verifierProgramID string) *RPCLedger {
	return &RPCLedger{
		url:          rpcURL,
		httpClient:   &http.Client{Timeout: 15 * time.Second},
		poolProg:     poolProgramID,
		verifierProg: verifierProgramID,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (l *RPCLedger) call(ctx context.Context, method string, params any, out any) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ledger rpc %s: %w", method, err)
	}
	defer resp.Body.Close()

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("ledger rpc %s: decode response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("ledger rpc %s: %s", method, rpcResp.Error.Message)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(rpcResp.Result, out)
}

// paymentVerificationRetries and paymentVerificationDelay implement the
// original server.rs sign_blinded handler's "fetch tx with up to 10
// retries x 2s sleep" behavior for a transaction that may not have
// propagated/confirmed yet.
const (
	paymentVerificationRetries = 10
	paymentVerificationDelay   = 2 * time.Second
)

type txResult struct {
	Confirmed       bool              `json:"confirmed"`
	Err             string            `json:"err,omitempty"`
	BalanceIncrease map[string]uint64 `json:"balance_increase"`
}

func (l *RPCLedger) VerifyPayment(ctx context.Context, txSig, payer, treasury string, minUnits uint64) (bool, error) {
	var tx txResult
	var err error
	for attempt := 0; attempt < paymentVerificationRetries; attempt++ {
		err = l.call(ctx, "getTransaction", []any{txSig}, &tx)
		if err == nil && tx.Confirmed {
			break
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(paymentVerificationDelay):
		}
	}
	if err != nil {
		return false, fmt.Errorf("ledger: fetch payment tx %s: %w", txSig, err)
	}
	if !tx.Confirmed {
		return false, fmt.Errorf("ledger: payment tx %s did not confirm", txSig)
	}
	if tx.Err != "" {
		return false, fmt.Errorf("ledger: payment tx %s failed on-chain: %s", txSig, tx.Err)
	}
	received := tx.BalanceIncrease[treasury]
	return received >= minUnits, nil
}

func (l *RPCLedger) Submit(ctx context.Context, signer *Wallet, ix Instruction, accounts []string) (string, error) {
	payload := ix.Encode()
	sig := signer.Sign(payload)

	params := map[string]any{
		"signer":    signer.Address(),
		"accounts":  accounts,
		"data":      payload,
		"signature": sig,
	}
	var txSig string
	if err := l.call(ctx, "sendTransaction", params, &txSig); err != nil {
		return "", fmt.Errorf("ledger: submit %s: %w", ix.Name, err)
	}
	log.Info().Str("instruction", ix.Name).Str("tx", txSig).Msg("submitted ledger transaction")
	return txSig, nil
}

func (l *RPCLedger) FetchAccount(ctx context.Context, address string) (*Account, error) {
	var acc Account
	if err := l.call(ctx, "getAccount", []any{address}, &acc); err != nil {
		return nil, fmt.Errorf("ledger: fetch account %s: %w", address, err)
	}
	acc.Address = address
	return &acc, nil
}

func (l *RPCLedger) ListPendingWithdrawals(ctx context.Context) ([]PendingWithdrawal, error) {
	var records []PendingWithdrawal
	if err := l.call(ctx, "listPendingWithdrawals", []any{l.verifierProg}, &records); err != nil {
		return nil, fmt.Errorf("ledger: list pending withdrawals: %w", err)
	}
	return records, nil
}

type poolState struct {
	Size uint64   `json:"size"`
	Root [32]byte `json:"root"`
}

func (l *RPCLedger) PoolSize(ctx context.Context, bucketID uint8) (uint64, error) {
	var state poolState
	if err := l.call(ctx, "getPoolState", []any{l.poolProg, bucketID}, &state); err != nil {
		return 0, fmt.Errorf("ledger: pool size bucket %d: %w", bucketID, err)
	}
	return state.Size, nil
}

func (l *RPCLedger) PoolRoot(ctx context.Context, bucketID uint8) ([32]byte, error) {
	var state poolState
	if err := l.call(ctx, "getPoolState", []any{l.poolProg, bucketID}, &state); err != nil {
		return [32]byte{}, fmt.Errorf("ledger: pool root bucket %d: %w", bucketID, err)
	}
	return state.Root, nil
}

func (l *RPCLedger) UnprocessedDepositCount(ctx context.Context, bucketID uint8) (int, error) {
	var count int
	if err := l.call(ctx, "getUnprocessedDepositCount", []any{l.poolProg, bucketID}, &count); err != nil {
		return 0, fmt.Errorf("ledger: unprocessed deposit count bucket %d: %w", bucketID, err)
	}
	return count, nil
}

func (l *RPCLedger) IsNullifierSpent(ctx context.Context, nullifierHash [32]byte) (bool, error) {
	var spent bool
	if err := l.call(ctx, "getNullifierStatus", []any{l.verifierProg, nullifierHash}, &spent); err != nil {
		return false, fmt.Errorf("ledger: nullifier status: %w", err)
	}
	return spent, nil
}

func (l *RPCLedger) OnChainCommitments(ctx context.Context, bucketID uint8) ([][32]byte, error) {
	var commitments [][32]byte
	if err := l.call(ctx, "getPoolCommitments", []any{l.poolProg, bucketID}, &commitments); err != nil {
		return nil, fmt.Errorf("ledger: on-chain commitments bucket %d: %w", bucketID, err)
	}
	return commitments, nil
}
