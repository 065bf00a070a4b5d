// Package config implements the relayer's startup configuration (spec C9),
// keeping the teacher's Config-struct-plus-Validate idiom
// (cmd/auctiond/config.go) but sourcing values from the environment, as
// the original relayer's config.rs and spec.md §6.3 require.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds every startup parameter spec.md §6.3 names.
type Config struct {
	RPCURL           string
	KeypairPath      string
	TreasuryKeyPath  string // empty means "fall back to the deposit wallet"
	FeeBPS           uint64
	HTTPPort         int
	StateDir         string
	PoolProgramID    string
	VerifierProgramID string
	AnonymizingOverlayRequired bool
	RSAKeyBits       int
	DevMode          bool
}

// DefaultFeeBPS matches config.rs's FEE_BPS default.
const DefaultFeeBPS = 50

// RentExemptMinimum is R, the base-unit balance an account must hold before
// a withdrawal can safely transfer out of it without the ledger reclaiming
// the account (spec C6 rent pre-funding policy).
const RentExemptMinimum = 890_880

// Load reads configuration from the environment (after loading a .env file
// if one is present, mirroring the original relayer's dotenvy::dotenv()
// call in main.rs) and validates it.
func Load() (*Config, error) {
	_ = godotenv.Load() // .env is optional; absence is not an error.

	devMode := envBool("RELAYER_DEV_MODE", false)

	c := &Config{
		RPCURL:                     envString("RPC_URL", "http://127.0.0.1:8899"),
		KeypairPath:                envString("KEYPAIR_PATH", "deposit_wallet.json"),
		TreasuryKeyPath:            os.Getenv("TREASURY_KEYPAIR_PATH"),
		FeeBPS:                     envUint64("FEE_BPS", DefaultFeeBPS),
		HTTPPort:                   envInt("HTTP_PORT", 8080),
		StateDir:                   envString("STATE_DIR", "relayer_state"),
		PoolProgramID:              envString("POOL_PROGRAM_ID", ""),
		VerifierProgramID:          envString("VERIFIER_PROGRAM_ID", ""),
		AnonymizingOverlayRequired: envBool("ANONYMIZING_OVERLAY_REQUIRED", !devMode),
		RSAKeyBits:                 envInt("RSA_KEY_BITS", 2048),
		DevMode:                    devMode,
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate enforces the invariants spec.md §6.3/§9 call out explicitly.
func (c *Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("config: RPC_URL must not be empty")
	}
	if c.KeypairPath == "" {
		return fmt.Errorf("config: KEYPAIR_PATH must not be empty")
	}
	if c.FeeBPS >= 10_000 {
		return fmt.Errorf("config: FEE_BPS must be less than 10000 (100%%), got %d", c.FeeBPS)
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("config: HTTP_PORT %d is not a valid port", c.HTTPPort)
	}
	if !c.AnonymizingOverlayRequired && !c.DevMode {
		return fmt.Errorf("config: anonymizing overlay may only be disabled in dev mode")
	}
	if c.RSAKeyBits < 2048 {
		return fmt.Errorf("config: RSA_KEY_BITS must be at least 2048, got %d", c.RSAKeyBits)
	}
	return nil
}

// UsesTreasuryFallback reports whether the deposit wallet doubles as the
// treasury wallet (supplemented feature 1 in SPEC_FULL.md).
func (c *Config) UsesTreasuryFallback() bool {
	return c.TreasuryKeyPath == ""
}

// TotalWithFee computes amount + floor(amount*fee_bps/10000), multiplying
// before dividing in a single expression — matching config.rs's
// calculate_total_with_fee order of operations (SPEC_FULL.md supplement 2).
func TotalWithFee(amount, feeBPS uint64) uint64 {
	return amount + (amount*feeBPS)/10_000
}

// Fee computes floor(amount*fee_bps/10000) alone, used by the withdrawal
// pipeline's local fee precondition check (spec C6).
func Fee(amount, feeBPS uint64) uint64 {
	return (amount * feeBPS) / 10_000
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envUint64(key string, def uint64) uint64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
