// main.go - relayerd is the privacy-preserving mixer relayer's entry point:
// it wires every component built under internal/ into one process, runs a
// startup reconciliation pass to completion before serving, and then
// supervises the HTTP surface, the timelock scheduler, and the health and
// metrics loops with golang.org/x/sync/errgroup, mirroring the
// teacher's demonstration wiring in cmd/auctiond/main.go but replacing the
// one-shot N-participant scenario with a long-running service.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/privacy-proxy/relayer/internal/blindsign"
	"github.com/privacy-proxy/relayer/internal/config"
	"github.com/privacy-proxy/relayer/internal/deposit"
	"github.com/privacy-proxy/relayer/internal/envelope"
	"github.com/privacy-proxy/relayer/internal/httpapi"
	"github.com/privacy-proxy/relayer/internal/ledger"
	"github.com/privacy-proxy/relayer/internal/merkletree"
	"github.com/privacy-proxy/relayer/internal/obs"
	"github.com/privacy-proxy/relayer/internal/tokenstore"
	"github.com/privacy-proxy/relayer/internal/withdraw"
	"github.com/privacy-proxy/relayer/internal/zkverify"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "relayerd:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	level := obs.LevelInfo
	if cfg.DevMode {
		level = obs.LevelDebug
	}
	log, err := obs.New(level, filepath.Join(cfg.StateDir, "relayer.log"), filepath.Join(cfg.StateDir, "audit.log"))
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}

	signer, err := blindsign.NewOrLoad(filepath.Join(cfg.StateDir, "rsa_signing_key.der"), cfg.RSAKeyBits)
	if err != nil {
		return fmt.Errorf("blind signer: %w", err)
	}

	ecdh, err := envelope.GenerateKeyPair()
	if err != nil {
		return fmt.Errorf("ecdh keypair: %w", err)
	}

	usedTokens, err := tokenstore.Load(filepath.Join(cfg.StateDir, "used_tokens.dat"))
	if err != nil {
		return fmt.Errorf("used-token store: %w", err)
	}
	usedPaymentTx, err := tokenstore.Load(filepath.Join(cfg.StateDir, "used_payment_tx.dat"))
	if err != nil {
		return fmt.Errorf("used-payment-tx store: %w", err)
	}

	trees, err := merkletree.NewService(cfg.StateDir)
	if err != nil {
		return fmt.Errorf("merkle service: %w", err)
	}

	depositWallet, err := ledger.LoadOrCreateWallet(cfg.KeypairPath)
	if err != nil {
		return fmt.Errorf("deposit wallet: %w", err)
	}

	treasuryAddr := depositWallet.Address()
	if cfg.UsesTreasuryFallback() {
		log.Audit("deposit wallet is also acting as treasury — this is a privacy risk", map[string]any{
			"address": treasuryAddr,
		})
	} else {
		treasuryWallet, err := ledger.LoadOrCreateWallet(cfg.TreasuryKeyPath)
		if err != nil {
			return fmt.Errorf("treasury wallet: %w", err)
		}
		treasuryAddr = treasuryWallet.Address()
	}

	chain := ledger.NewRPCLedger(cfg.RPCURL, cfg.PoolProgramID, cfg.VerifierProgramID)

	verifier, err := zkverify.LoadVerifier(filepath.Join(cfg.StateDir, "withdrawal_verifying.key"))
	if err != nil {
		return fmt.Errorf("load verifying key (run the withdrawal circuit's trusted setup first): %w", err)
	}

	depositSvc := deposit.NewService(ecdh, signer, usedTokens, trees, chain, depositWallet, log)
	withdrawSvc := withdraw.NewService(verifier, trees, chain, depositWallet, cfg, log)
	scheduler := withdraw.NewScheduler(withdrawSvc, chain, cfg, treasuryAddr, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := reconcileFromChain(ctx, trees, chain, withdrawSvc, log); err != nil {
		log.Error("startup reconciliation failed, continuing with local state", map[string]any{"error": err.Error()})
	}

	server := httpapi.NewServer(cfg, signer, ecdh, trees, chain, depositSvc, withdrawSvc, scheduler, usedPaymentTx, treasuryAddr, log)

	metrics := NewMetricsCollector()
	limiter := NewIPRateLimiter(20, 20, time.Minute)
	health := buildHealthChecker(trees, chain, usedTokens, usedPaymentTx)

	handler := limiter.middleware(metrics, instrument(metrics, server.Routes()))
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: handler,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("relayerd listening", map[string]any{"port": cfg.HTTPPort, "version": version})
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return scheduler.Run(gctx)
	})

	g.Go(func() error {
		return runHealthLoop(gctx, health, log)
	})

	g.Go(func() error {
		return runMetricsLoop(gctx, metrics, log)
	})

	return g.Wait()
}

// reconcileFromChain runs the C4 startup sync for every bucket, then seeds
// the withdrawal service's historical-root window from the resulting local
// root so a restart does not start with an empty root history (SPEC_FULL.md
// supplement 3).
func reconcileFromChain(ctx context.Context, trees *merkletree.Service, chain ledger.Ledger, withdrawSvc *withdraw.Service, log *obs.Logger) error {
	for bucketID := range merkletree.Buckets {
		id := uint8(bucketID)
		commitments, err := chain.OnChainCommitments(ctx, id)
		if err != nil {
			return fmt.Errorf("bucket %d: fetch commitments: %w", id, err)
		}
		unprocessed, err := chain.UnprocessedDepositCount(ctx, id)
		if err != nil {
			return fmt.Errorf("bucket %d: fetch unprocessed count: %w", id, err)
		}
		if err := trees.SyncFromChain(id, commitments, unprocessed); err != nil {
			return fmt.Errorf("bucket %d: sync: %w", id, err)
		}
		root, err := trees.Root(id)
		if err != nil {
			continue
		}
		withdrawSvc.ObserveRoot(id, root)
		log.Info("reconciled bucket from chain", map[string]any{"bucket": id, "leaves": len(commitments)})
	}
	return nil
}

func buildHealthChecker(trees *merkletree.Service, chain ledger.Ledger, usedTokens, usedPaymentTx *tokenstore.Store) *HealthChecker {
	hc := NewHealthChecker(version)
	hc.RegisterComponent("merkle_service", func() error {
		_, err := trees.Size(0)
		return err
	})
	hc.RegisterComponent("ledger_rpc", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err := chain.PoolSize(ctx, 0)
		return err
	})
	hc.RegisterComponent("used_token_store", func() error {
		_ = usedTokens.Len()
		return nil
	})
	hc.RegisterComponent("used_payment_tx_store", func() error {
		_ = usedPaymentTx.Len()
		return nil
	})
	return hc
}

func runHealthLoop(ctx context.Context, hc *HealthChecker, log *obs.Logger) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			h := hc.CheckHealth()
			if h.OverallStatus != Healthy {
				log.Warn("health check degraded", map[string]any{"status": h.OverallStatus})
			}
		}
	}
}

func runMetricsLoop(ctx context.Context, metrics *MetricsCollector, log *obs.Logger) error {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			log.Info("metrics snapshot", map[string]any{"summary": metrics.GetMetricsSummary()})
		}
	}
}

// statusRecorder captures the status code a handler wrote, since
// http.ResponseWriter does not expose it after the fact.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument wraps next, recording one HTTP request metric per call.
func instrument(metrics *MetricsCollector, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.RecordHTTPRequest(r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}
