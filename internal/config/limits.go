package config

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// LimitsConfig holds the operator knobs that may change while the service runs.
type LimitsConfig struct {
	MinWithdrawal            string `mapstructure:"min_withdrawal"`
	DailyWithdrawalLimit     string `mapstructure:"daily_withdrawal_limit"`
	DailyLimitEnabled        bool   `mapstructure:"daily_limit_enabled"`
	PayoutMultiplier         string `mapstructure:"payout_multiplier"`
	LargeWithdrawalThreshold string `mapstructure:"large_withdrawal_threshold"`
	ROIEmergencyStop         bool   `mapstructure:"roi_emergency_stop"`
	WithdrawalEmergencyStop  bool   `mapstructure:"withdrawal_emergency_stop"`
}

// RuntimeLimits is the parsed form of LimitsConfig.
type RuntimeLimits struct {
	MinWithdrawal            decimal.Decimal
	DailyWithdrawalLimit     decimal.Decimal
	DailyLimitEnabled        bool
	PayoutMultiplier         decimal.Decimal
	LargeWithdrawalThreshold decimal.Decimal
	ROIEmergencyStop         bool
	WithdrawalEmergencyStop  bool
}

func (c LimitsConfig) Parse() (RuntimeLimits, error) {
	minWithdrawal, err := parseNonNegative("limits.min_withdrawal", c.MinWithdrawal)
	if err != nil {
		return RuntimeLimits{}, err
	}
	dailyLimit, err := parseNonNegative("limits.daily_withdrawal_limit", c.DailyWithdrawalLimit)
	if err != nil {
		return RuntimeLimits{}, err
	}
	multiplier, err := parseNonNegative("limits.payout_multiplier", c.PayoutMultiplier)
	if err != nil {
		return RuntimeLimits{}, err
	}
	if !multiplier.IsPositive() {
		return RuntimeLimits{}, fmt.Errorf("limits.payout_multiplier must be positive")
	}
	large, err := parseNonNegative("limits.large_withdrawal_threshold", c.LargeWithdrawalThreshold)
	if err != nil {
		return RuntimeLimits{}, err
	}
	return RuntimeLimits{
		MinWithdrawal:            minWithdrawal,
		DailyWithdrawalLimit:     dailyLimit,
		DailyLimitEnabled:        c.DailyLimitEnabled,
		PayoutMultiplier:         multiplier,
		LargeWithdrawalThreshold: large,
		ROIEmergencyStop:         c.ROIEmergencyStop,
		WithdrawalEmergencyStop:  c.WithdrawalEmergencyStop,
	}, nil
}

func parseNonNegative(key, raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", key, err)
	}
	if value.IsNegative() {
		return decimal.Zero, fmt.Errorf("%s must not be negative", key)
	}
	return value, nil
}

// Runtime serves the current limits and swaps them when the config file changes.
type Runtime struct {
	current atomic.Pointer[RuntimeLimits]
	log     *slog.Logger
}

func NewRuntime(limits RuntimeLimits, log *slog.Logger) *Runtime {
	if log == nil {
		log = slog.Default()
	}
	r := &Runtime{log: log}
	r.current.Store(&limits)
	return r
}

func (r *Runtime) Limits() RuntimeLimits {
	return *r.current.Load()
}

// Update replaces the limits; invalid input keeps the previous values.
func (r *Runtime) Update(raw LimitsConfig) error {
	limits, err := raw.Parse()
	if err != nil {
		return err
	}
	previous := r.current.Swap(&limits)
	if previous.ROIEmergencyStop != limits.ROIEmergencyStop || previous.WithdrawalEmergencyStop != limits.WithdrawalEmergencyStop {
		r.log.Warn("emergency stop flags changed",
			slog.Bool("roi_emergency_stop", limits.ROIEmergencyStop),
			slog.Bool("withdrawal_emergency_stop", limits.WithdrawalEmergencyStop),
		)
	}
	return nil
}

// Watch reloads limits whenever viper sees the config file change.
func (r *Runtime) Watch(v *viper.Viper) {
	v.OnConfigChange(func(event fsnotify.Event) {
		if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
			return
		}
		var raw LimitsConfig
		if err := v.UnmarshalKey("limits", &raw); err != nil {
			r.log.Error("reload limits", slog.String("file", event.Name), slog.Any("error", err))
			return
		}
		if err := r.Update(raw); err != nil {
			r.log.Error("reload limits", slog.String("file", event.Name), slog.Any("error", err))
			return
		}
		r.log.Info("limits reloaded", slog.String("file", event.Name))
	})
	v.WatchConfig()
}
