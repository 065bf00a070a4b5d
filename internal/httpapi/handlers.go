package httpapi

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/privacy-proxy/relayer/internal/config"
	"github.com/privacy-proxy/relayer/internal/deposit"
	"github.com/privacy-proxy/relayer/internal/merkletree"
	"github.com/privacy-proxy/relayer/internal/relayererr"
	"github.com/privacy-proxy/relayer/internal/withdraw"
	"github.com/privacy-proxy/relayer/internal/zkverify"
)

// handleHealth reports liveness only — no component is touched.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// bucketDescriptor mirrors one of the seven fixed denominations /info and
// /pools advertise.
type bucketDescriptor struct {
	Bucket uint8  `json:"bucket"`
	Amount uint64 `json:"amount"`
}

type infoResponse struct {
	Success         bool               `json:"success"`
	RSAModulus      string             `json:"rsa_n"`
	RSAExponent     string             `json:"rsa_e"`
	ECDHPublicKey   string             `json:"ecdh_pubkey"`
	TreasuryAddress string             `json:"treasury_address"`
	FeeBPS          uint64             `json:"fee_bps"`
	Buckets         []bucketDescriptor `json:"buckets"`
}

// handleInfo exposes the relayer's public key material and fee schedule
// (spec §6.1). The treasury address comes from the treasury wallet's public
// key only — never its signing capability, per the single-wallet invariant.
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	buckets := make([]bucketDescriptor, len(merkletree.Buckets))
	for i, amount := range merkletree.Buckets {
		buckets[i] = bucketDescriptor{Bucket: uint8(i), Amount: amount}
	}
	writeJSON(w, http.StatusOK, infoResponse{
		Success:         true,
		RSAModulus:      hex.EncodeToString(s.signer.PublicKeyNBytes()),
		RSAExponent:     hex.EncodeToString(s.signer.PublicKeyEBytes()),
		ECDHPublicKey:   hex.EncodeToString(s.ecdh.Public[:]),
		TreasuryAddress: s.treasuryAddr,
		FeeBPS:          s.cfg.FeeBPS,
		Buckets:         buckets,
	})
}

type signRequest struct {
	BlindedToken string `json:"blinded_token"`
	Amount       uint64 `json:"amount"`
	PaymentTx    string `json:"payment_tx"`
	Payer        string `json:"payer"`
}

type signResponse struct {
	Success   bool   `json:"success"`
	Signature string `json:"signature"`
}

// handleSign issues a blind signature over an already-paid-for credit (spec
// §4.2/§6.1): verify the payment against the treasury, enforce at-most-one
// signature per payment transaction (Open Question 3), then sign.
func (s *Server) handleSign(w http.ResponseWriter, r *http.Request) {
	var req signRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, relayererr.New(relayererr.CategoryProtocolInput, "bad_encoding", "malformed JSON body"))
		return
	}

	blinded, err := hex.DecodeString(req.BlindedToken)
	if err != nil {
		s.writeError(w, relayererr.ErrInvalidBlindedToken)
		return
	}

	ctx, cancel := requestContext(r)
	defer cancel()

	minUnits := config.TotalWithFee(req.Amount, s.cfg.FeeBPS)
	ok, err := s.chain.VerifyPayment(ctx, req.PaymentTx, req.Payer, s.treasuryAddr, minUnits)
	if err != nil {
		s.writeError(w, relayererr.Wrap(relayererr.CategoryLedger, "payment_verification_failed", err))
		return
	}
	if !ok {
		s.writeError(w, relayererr.New(relayererr.CategoryAuthCredit, "payment_underpaid", "payment transaction did not credit the treasury the required amount"))
		return
	}

	paymentHash := sha256.Sum256([]byte(req.PaymentTx))
	if s.usedPaymentTx.Contains(paymentHash) {
		s.writeError(w, relayererr.New(relayererr.CategoryAuthCredit, "payment_already_redeemed", "this payment transaction has already been used to obtain a signed credit"))
		return
	}
	if err := s.usedPaymentTx.Insert(paymentHash); err != nil {
		s.writeError(w, relayererr.New(relayererr.CategoryAuthCredit, "payment_already_redeemed", "this payment transaction has already been used to obtain a signed credit"))
		return
	}

	sig, err := s.signer.SignBlinded(blinded)
	if err != nil {
		s.usedPaymentTx.Remove(paymentHash)
		s.writeError(w, relayererr.Wrap(relayererr.CategoryCrypto, "blind_sign_failed", err))
		return
	}

	writeJSON(w, http.StatusOK, signResponse{Success: true, Signature: hex.EncodeToString(sig)})
}

type depositRequest struct {
	Ciphertext   string `json:"ciphertext"`
	Nonce        string `json:"nonce"`
	ClientPubkey string `json:"client_pubkey"`
}

type depositResponse struct {
	Success    bool   `json:"success"`
	TxSig      string `json:"tx_signature"`
	LeafIndex  uint64 `json:"leaf_index"`
	MerkleRoot string `json:"merkle_root"`
}

// handleDeposit decodes the encrypted envelope (spec §4.5) and hands it to
// deposit.Service.
func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, relayererr.New(relayererr.CategoryProtocolInput, "bad_encoding", "malformed JSON body"))
		return
	}

	ciphertext, err := hex.DecodeString(req.Ciphertext)
	if err != nil {
		s.writeError(w, relayererr.New(relayererr.CategoryProtocolInput, "bad_encoding", "ciphertext is not valid hex"))
		return
	}
	nonce, err := hex.DecodeString(req.Nonce)
	if err != nil {
		s.writeError(w, relayererr.New(relayererr.CategoryProtocolInput, "bad_encoding", "nonce is not valid hex"))
		return
	}
	pubkeyBytes, err := hex.DecodeString(req.ClientPubkey)
	if err != nil || len(pubkeyBytes) != 32 {
		s.writeError(w, relayererr.New(relayererr.CategoryProtocolInput, "bad_encoding", "client_pubkey must be 32 bytes of hex"))
		return
	}
	var clientPubkey [32]byte
	copy(clientPubkey[:], pubkeyBytes)

	ctx, cancel := requestContext(r)
	defer cancel()

	result, err := s.depositSvc.Deposit(ctx, deposit.Envelope{
		Ciphertext:   ciphertext,
		Nonce:        nonce,
		ClientPubkey: clientPubkey,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.withdrawSvc.ObserveRoot(result.BucketID, result.MerkleRoot)

	writeJSON(w, http.StatusOK, depositResponse{
		Success:    true,
		TxSig:      result.TxSig,
		LeafIndex:  result.LeafIndex,
		MerkleRoot: hex.EncodeToString(result.MerkleRoot[:]),
	})
}

type proofTripleWire struct {
	A string `json:"a"`
	B string `json:"b"`
	C string `json:"c"`
}

type publicSignalsWire struct {
	MerkleRoot    string `json:"merkle_root"`
	NullifierHash string `json:"nullifier_hash"`
	Recipient     string `json:"recipient"`
	Amount        uint64 `json:"amount"`
	RelayerPubkey string `json:"relayer_pubkey"`
	Fee           uint64 `json:"fee"`
	BindingHash   string `json:"binding_hash"`
}

type withdrawRequest struct {
	BucketID   uint8             `json:"bucket_id"`
	DelayHours int               `json:"delay_hours"`
	Proof      proofTripleWire   `json:"proof"`
	Signals    publicSignalsWire `json:"signals"`
}

type withdrawResponse struct {
	Success  bool   `json:"success"`
	RecordID string `json:"record_id"`
}

func fixedHex(field string, n int) ([]byte, error) {
	b, err := hex.DecodeString(field)
	if err != nil || len(b) != n {
		return nil, relayererr.New(relayererr.CategoryProtocolInput, "bad_encoding", "hex field has an unexpected length or is malformed")
	}
	return b, nil
}

func (w *withdrawRequest) decode() (withdraw.Request, error) {
	var req withdraw.Request
	a, err := fixedHex(w.Proof.A, 64)
	if err != nil {
		return req, err
	}
	b, err := fixedHex(w.Proof.B, 128)
	if err != nil {
		return req, err
	}
	c, err := fixedHex(w.Proof.C, 64)
	if err != nil {
		return req, err
	}
	var proof zkverify.ProofTriple
	copy(proof.A[:], a)
	copy(proof.B[:], b)
	copy(proof.C[:], c)

	merkleRoot, err := fixedHex(w.Signals.MerkleRoot, 32)
	if err != nil {
		return req, err
	}
	nullifierHash, err := fixedHex(w.Signals.NullifierHash, 32)
	if err != nil {
		return req, err
	}
	recipient, err := fixedHex(w.Signals.Recipient, 32)
	if err != nil {
		return req, err
	}
	relayerPubkey, err := fixedHex(w.Signals.RelayerPubkey, 32)
	if err != nil {
		return req, err
	}
	bindingHash, err := fixedHex(w.Signals.BindingHash, 32)
	if err != nil {
		return req, err
	}

	var signals zkverify.PublicSignals
	copy(signals.MerkleRoot[:], merkleRoot)
	copy(signals.NullifierHash[:], nullifierHash)
	copy(signals.Recipient[:], recipient)
	signals.Amount = w.Signals.Amount
	copy(signals.RelayerPubkey[:], relayerPubkey)
	signals.Fee = w.Signals.Fee
	copy(signals.BindingHash[:], bindingHash)

	req.Proof = proof
	req.Signals = signals
	req.BucketID = w.BucketID
	req.DelayHours = w.DelayHours
	return req, nil
}

// handleWithdraw relays the withdrawal request (spec §4.6) to
// withdraw.Service, which runs every local precondition and the Groth16
// verification before ever touching the chain.
func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var wireReq withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&wireReq); err != nil {
		s.writeError(w, relayererr.New(relayererr.CategoryProtocolInput, "bad_encoding", "malformed JSON body"))
		return
	}
	req, err := wireReq.decode()
	if err != nil {
		s.writeError(w, err)
		return
	}

	ctx, cancel := requestContext(r)
	defer cancel()

	recordID, err := s.withdrawSvc.RequestWithdrawal(ctx, req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, withdrawResponse{Success: true, RecordID: recordID})
}

type withdrawExecuteRequest struct {
	NullifierHash string `json:"nullifier_hash"`
}

// handleWithdrawExecute triggers execution of one specific ready-to-execute
// pending record (spec §6.1), looking it up by nullifier among the ledger's
// pending records rather than trusting a client-supplied record body.
func (s *Server) handleWithdrawExecute(w http.ResponseWriter, r *http.Request) {
	var req withdrawExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, relayererr.New(relayererr.CategoryProtocolInput, "bad_encoding", "malformed JSON body"))
		return
	}
	nullifierBytes, err := fixedHex(req.NullifierHash, 32)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var nullifierHash [32]byte
	copy(nullifierHash[:], nullifierBytes)

	ctx, cancel := requestContext(r)
	defer cancel()

	records, err := s.chain.ListPendingWithdrawals(ctx)
	if err != nil {
		s.writeError(w, relayererr.Wrap(relayererr.CategoryLedger, "list_pending_failed", err))
		return
	}
	for _, rec := range records {
		if rec.NullifierHash == nullifierHash {
			if err := s.scheduler.Execute(ctx, rec); err != nil {
				s.writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"success": true})
			return
		}
	}
	s.writeError(w, relayererr.New(relayererr.CategoryLedger, "record_not_found", "no pending withdrawal matches that nullifier"))
}

type pendingWithdrawalView struct {
	RecordID      string `json:"record_id"`
	Bucket        uint8  `json:"bucket"`
	NullifierHash string `json:"nullifier_hash"`
	Recipient     string `json:"recipient"`
	Amount        uint64 `json:"amount"`
	Fee           uint64 `json:"fee"`
	ExecuteAfter  string `json:"execute_after"`
	Executed      bool   `json:"executed"`
}

// handleWithdrawPending lists pending withdrawals with their execution
// timestamps (spec §6.1).
func (s *Server) handleWithdrawPending(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := requestContext(r)
	defer cancel()

	records, err := s.chain.ListPendingWithdrawals(ctx)
	if err != nil {
		s.writeError(w, relayererr.Wrap(relayererr.CategoryLedger, "list_pending_failed", err))
		return
	}

	views := make([]pendingWithdrawalView, len(records))
	for i, rec := range records {
		views[i] = pendingWithdrawalView{
			RecordID:      rec.RecordID,
			Bucket:        rec.BucketID,
			NullifierHash: hex.EncodeToString(rec.NullifierHash[:]),
			Recipient:     hex.EncodeToString(rec.Recipient[:]),
			Amount:        rec.Amount,
			Fee:           rec.Fee,
			ExecuteAfter:  rec.ExecuteAfter.Format(time.RFC3339),
			Executed:      rec.Executed,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "pending": views})
}

type poolView struct {
	Bucket uint8  `json:"bucket"`
	Amount uint64 `json:"amount"`
	Size   uint64 `json:"size"`
	Root   string `json:"root"`
}

func (s *Server) poolView(bucketID uint8) (poolView, error) {
	size, err := s.trees.Size(bucketID)
	if err != nil {
		return poolView{}, relayererr.ErrInvalidBucket
	}
	root, err := s.trees.Root(bucketID)
	if err != nil {
		return poolView{}, relayererr.ErrInvalidBucket
	}
	return poolView{Bucket: bucketID, Amount: merkletree.Buckets[bucketID], Size: size, Root: hex.EncodeToString(root[:])}, nil
}

// handlePools reports every bucket's size and root (spec §6.1).
func (s *Server) handlePools(w http.ResponseWriter, r *http.Request) {
	pools := make([]poolView, len(merkletree.Buckets))
	for i := range merkletree.Buckets {
		view, err := s.poolView(uint8(i))
		if err != nil {
			s.writeError(w, err)
			return
		}
		pools[i] = view
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "pools": pools})
}

func parseBucket(r *http.Request) (uint8, error) {
	raw := r.PathValue("bucket")
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 || n >= len(merkletree.Buckets) {
		return 0, relayererr.ErrInvalidBucket
	}
	return uint8(n), nil
}

func parseLeafIndex(r *http.Request) (uint64, error) {
	raw := r.PathValue("leaf_index")
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, relayererr.New(relayererr.CategoryProtocolInput, "bad_encoding", "leaf_index must be a non-negative integer")
	}
	return n, nil
}

// handlePoolsBucket reports a single bucket's size and root.
func (s *Server) handlePoolsBucket(w http.ResponseWriter, r *http.Request) {
	bucketID, err := parseBucket(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	view, err := s.poolView(bucketID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "pool": view})
}

type proofResponse struct {
	Success   bool     `json:"success"`
	LeafIndex uint64   `json:"leaf_index"`
	Siblings  []string `json:"siblings"`
	PathBits  []bool   `json:"path_bits"`
}

// handleProof returns the Merkle inclusion proof for a leaf (spec §6.1),
// used by clients to build their own withdrawal witness.
func (s *Server) handleProof(w http.ResponseWriter, r *http.Request) {
	bucketID, err := parseBucket(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	leafIndex, err := parseLeafIndex(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	proof, err := s.trees.Proof(bucketID, leafIndex)
	if err != nil {
		s.writeError(w, relayererr.New(relayererr.CategoryProtocolInput, "leaf_out_of_range", "leaf_index is out of range for this bucket"))
		return
	}

	siblings := make([]string, len(proof.Siblings))
	for i, sib := range proof.Siblings {
		siblings[i] = hex.EncodeToString(sib[:])
	}
	pathBits := make([]bool, len(proof.PathBits))
	copy(pathBits, proof.PathBits[:])

	writeJSON(w, http.StatusOK, proofResponse{
		Success:   true,
		LeafIndex: proof.LeafIndex,
		Siblings:  siblings,
		PathBits:  pathBits,
	})
}

// handleCommitment returns the raw commitment stored at leafIndex — a
// diagnostic endpoint (spec §6.1), never used in the protocol's happy path.
func (s *Server) handleCommitment(w http.ResponseWriter, r *http.Request) {
	bucketID, err := parseBucket(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	leafIndex, err := parseLeafIndex(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	commitment, err := s.trees.Commitment(bucketID, leafIndex)
	if err != nil {
		s.writeError(w, relayererr.New(relayererr.CategoryProtocolInput, "leaf_out_of_range", "leaf_index is out of range for this bucket"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "leaf_index": leafIndex, "commitment": hex.EncodeToString(commitment[:])})
}
