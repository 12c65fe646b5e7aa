package config

import (
	"fmt"

	"prop_bot/internal/traderr"
)

// Validate проверяет конфиг после декода. Первая ошибка — наружу:
// торговать с частично валидным конфигом нельзя.
func (c *Config) Validate() error {
	if len(c.Symbols) == 0 {
		return &traderr.ConfigError{Field: "symbols", Msg: "at least one symbol required"}
	}
	if c.Mode != ModeSwing && c.Mode != ModeDay {
		return &traderr.ConfigError{Field: "mode", Msg: fmt.Sprintf("unknown mode %q, want SWING or DAY", c.Mode)}
	}
	if c.Magic <= 0 {
		return &traderr.ConfigError{Field: "magic", Msg: "must be positive"}
	}
	if c.PollInterval <= 0 {
		return &traderr.ConfigError{Field: "poll_interval", Msg: "must be positive"}
	}

	if c.Risk.RiskPct <= 0 || c.Risk.RiskPct > 10 {
		return &traderr.ConfigError{Field: "risk.risk_pct", Msg: fmt.Sprintf("%.2f out of range (0, 10]", c.Risk.RiskPct)}
	}
	if c.Risk.DailyLimitPct <= 0 || c.Risk.DailyLimitPct >= 100 {
		return &traderr.ConfigError{Field: "risk.daily_limit_pct", Msg: "out of range (0, 100)"}
	}
	if c.Risk.OverallLimitPct <= 0 || c.Risk.OverallLimitPct >= 100 {
		return &traderr.ConfigError{Field: "risk.overall_limit_pct", Msg: "out of range (0, 100)"}
	}
	if c.Risk.DailyLimitPct >= c.Risk.OverallLimitPct {
		// дневной лимит жёстче общего, иначе daily никогда не сработает первым
		return &traderr.ConfigError{Field: "risk.daily_limit_pct", Msg: "must be below overall_limit_pct"}
	}

	if c.Strategy.LiquidityLookback < 5 {
		return &traderr.ConfigError{Field: "strategy.liquidity_lookback", Msg: "too small, want >= 5"}
	}
	if c.Strategy.SMAPeriod < 2 {
		return &traderr.ConfigError{Field: "strategy.sma_period", Msg: "too small"}
	}
	if c.Strategy.WickRatio <= 0 || c.Strategy.WickRatio >= 1 {
		return &traderr.ConfigError{Field: "strategy.wick_ratio", Msg: "out of range (0, 1)"}
	}
	if c.Strategy.RSIPeriod < 2 {
		return &traderr.ConfigError{Field: "strategy.rsi_period", Msg: "too small"}
	}
	if !c.Strategy.InfiniteTP && c.Strategy.FallbackRR <= 0 {
		return &traderr.ConfigError{Field: "strategy.fallback_rr", Msg: "must be positive"}
	}
	if c.Strategy.MaxRR > 0 && c.Strategy.FallbackRR > c.Strategy.MaxRR {
		return &traderr.ConfigError{Field: "strategy.fallback_rr", Msg: "must not exceed max_rr"}
	}
	if c.Strategy.BarsFetch < c.Strategy.SMAPeriod+c.Strategy.LiquidityLookback {
		return &traderr.ConfigError{Field: "strategy.bars_fetch", Msg: "too small for sma_period + liquidity_lookback"}
	}
	if c.Strategy.BarsFetch < c.Strategy.RSIPeriod+1 {
		return &traderr.ConfigError{Field: "strategy.bars_fetch", Msg: "too small for rsi_period"}
	}

	if c.Lifecycle.BreakevenPips <= 0 {
		return &traderr.ConfigError{Field: "lifecycle.breakeven_pips", Msg: "must be positive"}
	}
	if c.Lifecycle.TrailingPips <= c.Lifecycle.BreakevenPips {
		return &traderr.ConfigError{Field: "lifecycle.trailing_pips", Msg: "must exceed breakeven_pips"}
	}
	if c.Lifecycle.TrailingOffsetPips <= 0 || c.Lifecycle.TrailingOffsetPips >= c.Lifecycle.TrailingPips {
		return &traderr.ConfigError{Field: "lifecycle.trailing_offset_pips", Msg: "must be in (0, trailing_pips)"}
	}
	if c.Lifecycle.MinDuration < 0 {
		return &traderr.ConfigError{Field: "lifecycle.min_duration", Msg: "must not be negative"}
	}
	if c.Lifecycle.FridayExitHour < 0 || c.Lifecycle.FridayExitHour > 23 {
		return &traderr.ConfigError{Field: "lifecycle.friday_exit_hour", Msg: "out of range [0, 23]"}
	}

	if c.Supervisor.RetryAttempts < 1 {
		return &traderr.ConfigError{Field: "supervisor.retry_attempts", Msg: "must be >= 1"}
	}
	if c.Supervisor.ProtectiveAttempts < c.Supervisor.RetryAttempts {
		return &traderr.ConfigError{Field: "supervisor.protective_attempts", Msg: "must be >= retry_attempts"}
	}
	if c.Supervisor.RetryBase <= 0 || c.Supervisor.RetryCap < c.Supervisor.RetryBase {
		return &traderr.ConfigError{Field: "supervisor.retry_cap", Msg: "must be >= retry_base"}
	}
	if c.Supervisor.RecoveryThreshold < 1 {
		return &traderr.ConfigError{Field: "supervisor.recovery_threshold", Msg: "must be >= 1"}
	}

	if c.Bridge.URL == "" {
		return &traderr.ConfigError{Field: "bridge.url", Msg: "required"}
	}

	return nil
}
