package config

import "testing"

func TestTotalWithFee(t *testing.T) {
	got := TotalWithFee(1_000_000_000, 50) // 0.5%
	want := uint64(1_000_000_000 + 5_000_000)
	if got != want {
		t.Fatalf("got %d, want %d", got, want)
	}
}

func TestFeeTruncates(t *testing.T) {
	// 1_000_000_007 * 50 / 10000 should truncate, not round.
	got := Fee(1_000_000_007, 50)
	want := uint64(1_000_000_007*50) / 10_000
	if got != want {
		t.Fatalf("got %d, want %d", got, want)
	}
}

func TestValidateRejectsFeeAtOrAboveOneHundredPercent(t *testing.T) {
	c := &Config{RPCURL: "http://x", KeypairPath: "k.json", FeeBPS: 10_000, HTTPPort: 8080, AnonymizingOverlayRequired: true, RSAKeyBits: 2048}
	if err := c.Validate(); err == nil {
		t.Fatal("expected fee_bps >= 10000 to be rejected")
	}
}

func TestValidateRejectsOverlayDisabledOutsideDevMode(t *testing.T) {
	c := &Config{RPCURL: "http://x", KeypairPath: "k.json", FeeBPS: 50, HTTPPort: 8080, AnonymizingOverlayRequired: false, DevMode: false, RSAKeyBits: 2048}
	if err := c.Validate(); err == nil {
		t.Fatal("expected overlay-disabled-outside-dev-mode to be rejected")
	}
}

func TestUsesTreasuryFallback(t *testing.T) {
	c := &Config{}
	if !c.UsesTreasuryFallback() {
		t.Fatal("expected empty TreasuryKeyPath to mean fallback")
	}
	c.TreasuryKeyPath = "treasury.json"
	if c.UsesTreasuryFallback() {
		t.Fatal("expected non-empty TreasuryKeyPath to disable fallback")
	}
}
