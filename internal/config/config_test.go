package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

const sampleYAML = `
server:
  port: "9090"
  jwt_secret: "super-secret-value"
database:
  url: "postgres://test"
blockchain:
  operator_wallet: "0xa1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1"
accrual:
  max_catchup_days: 3
limits:
  min_withdrawal: "10"
  daily_withdrawal_limit: "50000"
  daily_limit_enabled: true
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFromFile(t *testing.T) {
	cfg, _, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != "9090" || cfg.Database.URL != "postgres://test" {
		t.Fatalf("unexpected config: %+v", cfg.Server)
	}
	if cfg.Accrual.MaxCatchupDays != 3 {
		t.Fatalf("expected catch-up override, got %d", cfg.Accrual.MaxCatchupDays)
	}
	if cfg.Fee.PlexPerDollar != 10 || cfg.Fee.MinBalance != 5000 {
		t.Fatalf("expected fee defaults, got %+v", cfg.Fee)
	}
	if cfg.Scheduler.PaymentMonitorInterval != 5*time.Minute {
		t.Fatalf("unexpected interval: %s", cfg.Scheduler.PaymentMonitorInterval)
	}
	limits, err := cfg.Limits.Parse()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !limits.MinWithdrawal.Equal(decimal.NewFromInt(10)) || !limits.DailyLimitEnabled {
		t.Fatalf("unexpected limits: %+v", limits)
	}
	if !limits.PayoutMultiplier.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("expected default payout multiplier, got %s", limits.PayoutMultiplier)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("PLEX_SERVER_PORT", "7070")
	t.Setenv("PLEX_FEE_PLEX_PER_DOLLAR", "12")
	cfg, _, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != "7070" || cfg.Fee.PlexPerDollar != 12 {
		t.Fatalf("expected env overrides, got port=%s plex=%d", cfg.Server.Port, cfg.Fee.PlexPerDollar)
	}
}

func TestLoadValidationFails(t *testing.T) {
	_, _, err := Load(writeConfig(t, `
server:
  jwt_secret: "short"
blockchain:
  operator_wallet: "0xa1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1"
`))
	if err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestLoadRejectsMalformedOperatorWallet(t *testing.T) {
	yaml := strings.Replace(sampleYAML, "0xa1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1", "0xoperator", 1)
	if _, _, err := Load(writeConfig(t, yaml)); err == nil {
		t.Fatalf("expected wallet validation error")
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected read error")
	}
}

func TestLimitsParseRejectsNegative(t *testing.T) {
	if _, err := (LimitsConfig{MinWithdrawal: "-1", PayoutMultiplier: "5"}).Parse(); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := (LimitsConfig{PayoutMultiplier: "0"}).Parse(); err == nil {
		t.Fatalf("expected error for zero multiplier")
	}
}

func TestRuntimeUpdate(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	runtime := NewRuntime(RuntimeLimits{PayoutMultiplier: decimal.NewFromInt(5)}, log)
	if err := runtime.Update(LimitsConfig{PayoutMultiplier: "5", WithdrawalEmergencyStop: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !runtime.Limits().WithdrawalEmergencyStop {
		t.Fatalf("expected emergency stop to be applied")
	}
	if err := runtime.Update(LimitsConfig{PayoutMultiplier: "bad"}); err == nil {
		t.Fatalf("expected parse error")
	}
	if !runtime.Limits().WithdrawalEmergencyStop {
		t.Fatalf("invalid update must keep previous limits")
	}
}
