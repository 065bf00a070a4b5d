// Package httpapi implements the relayer's operator-facing HTTP surface
// (spec C8): eleven thin handlers over net/http's Go 1.22+ pattern mux,
// each validating its wire encoding, calling exactly one component method,
// and encoding the reply — no protocol logic lives here.
//
// Grounded on the teacher's internal/zerocash/api.go RunServer/handlePubKey/
// handleTx trio: a bare *http.ServeMux built with HandleFunc, handlers that
// decode a JSON body, call into the domain package, and write a JSON
// response directly, with no middleware framework.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/privacy-proxy/relayer/internal/blindsign"
	"github.com/privacy-proxy/relayer/internal/config"
	"github.com/privacy-proxy/relayer/internal/deposit"
	"github.com/privacy-proxy/relayer/internal/envelope"
	"github.com/privacy-proxy/relayer/internal/ledger"
	"github.com/privacy-proxy/relayer/internal/merkletree"
	"github.com/privacy-proxy/relayer/internal/obs"
	"github.com/privacy-proxy/relayer/internal/relayererr"
	"github.com/privacy-proxy/relayer/internal/tokenstore"
	"github.com/privacy-proxy/relayer/internal/withdraw"
)

// Server holds every component a handler may need to call into. It never
// mutates component state directly — that is always delegated to the
// component's own method.
type Server struct {
	cfg           *config.Config
	signer        *blindsign.Signer
	ecdh          *envelope.KeyPair
	trees         *merkletree.Service
	chain         ledger.Ledger
	depositSvc    *deposit.Service
	withdrawSvc   *withdraw.Service
	scheduler     *withdraw.Scheduler
	usedPaymentTx *tokenstore.Store
	treasuryAddr  string
	log           *obs.Logger
}

// NewServer wires a Server from its already-constructed components.
// usedPaymentTx is the Open Question 3 redemption tracker, keyed by
// SHA-256(payment_tx), kept separate from the credit-token store so a spent
// credit token and a spent payment signature are never confused.
func NewServer(
	cfg *config.Config,
	signer *blindsign.Signer,
	ecdh *envelope.KeyPair,
	trees *merkletree.Service,
	chain ledger.Ledger,
	depositSvc *deposit.Service,
	withdrawSvc *withdraw.Service,
	scheduler *withdraw.Scheduler,
	usedPaymentTx *tokenstore.Store,
	treasuryAddr string,
	log *obs.Logger,
) *Server {
	return &Server{
		cfg:           cfg,
		signer:        signer,
		ecdh:          ecdh,
		trees:         trees,
		chain:         chain,
		depositSvc:    depositSvc,
		withdrawSvc:   withdrawSvc,
		scheduler:     scheduler,
		usedPaymentTx: usedPaymentTx,
		treasuryAddr:  treasuryAddr,
		log:           log,
	}
}

// Routes builds the mux for the eleven operator-facing endpoints (spec
// §6.1), keyed on Go 1.22's method-qualified pattern syntax.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /info", s.handleInfo)
	mux.HandleFunc("POST /sign", s.handleSign)
	mux.HandleFunc("POST /deposit", s.handleDeposit)
	mux.HandleFunc("POST /withdraw", s.handleWithdraw)
	mux.HandleFunc("POST /withdraw/execute", s.handleWithdrawExecute)
	mux.HandleFunc("GET /withdraw/pending", s.handleWithdrawPending)
	mux.HandleFunc("GET /pools", s.handlePools)
	mux.HandleFunc("GET /pools/{bucket}", s.handlePoolsBucket)
	mux.HandleFunc("GET /proof/{bucket}/{leaf_index}", s.handleProof)
	mux.HandleFunc("GET /commitment/{bucket}/{leaf_index}", s.handleCommitment)
	return mux
}

// writeJSON encodes v as the response body at the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// errorEnvelope is the uniform failure shape spec.md §6.1 mandates:
// {success:false, error:<short code>}.
type errorEnvelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// writeError maps err onto the uniform error envelope, using its
// relayererr.Error category for the HTTP status and code when available,
// and falling back to a generic internal error otherwise (spec §7: "internal
// details are logged but not returned").
func (s *Server) writeError(w http.ResponseWriter, err error) {
	if rerr, ok := err.(*relayererr.Error); ok {
		s.log.Error("request failed", map[string]any{"code": rerr.Code, "category": string(rerr.Category), "detail": rerr.Message})
		writeJSON(w, rerr.HTTPStatus(), errorEnvelope{Success: false, Error: rerr.Code})
		return
	}
	s.log.Error("request failed with an unclassified error", map[string]any{"error": err.Error()})
	writeJSON(w, http.StatusInternalServerError, errorEnvelope{Success: false, Error: relayererr.ErrInternal.Code})
}

func requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), 30*time.Second)
}
