package config

import (
	"encoding/json"
	"fmt"

	"tradeengine/compose"
	"tradeengine/models"
)

// ExchangeConfig pins a strategy to one venue and accounting mode.
type ExchangeConfig struct {
	ExchangeID  string             `json:"exchange_id"`
	MarketType  models.MarketType  `json:"market_type"`
	TradingMode models.TradingMode `json:"trading_mode"`
	IsCrossMargin bool             `json:"is_cross_margin"`
}

// ModelConfig selects the LLM backing an LLMComposer. Empty Provider
// means the strategy runs GridComposer instead (no LLM dependency).
type ModelConfig struct {
	Provider string `json:"provider,omitempty"`
	ModelID  string `json:"model_id,omitempty"`
}

// RiskControlConfig is the CODE-ENFORCED subset of guardrail limits,
// trimmed from the teacher's much larger AI-guided risk surface down to
// the parameters the normalization core actually consumes.
type RiskControlConfig struct {
	MaxPositions    *int     `json:"max_positions,omitempty"`
	MaxLeverage     *float64 `json:"max_leverage,omitempty"`
	QuantityStep    *float64 `json:"quantity_step,omitempty"`
	MinTradeQty     *float64 `json:"min_trade_qty,omitempty"`
	MaxOrderQty     *float64 `json:"max_order_qty,omitempty"`
	MinNotional     *float64 `json:"min_notional,omitempty"`
	MaxPositionQty  *float64 `json:"max_position_qty,omitempty"`
}

// Constraints converts the wire-level risk config into the guardrail's
// Constraints type.
func (r RiskControlConfig) Constraints() *models.Constraints {
	return &models.Constraints{
		MaxPositions:   r.MaxPositions,
		MaxLeverage:    r.MaxLeverage,
		QuantityStep:   r.QuantityStep,
		MinTradeQty:    r.MinTradeQty,
		MaxOrderQty:    r.MaxOrderQty,
		MinNotional:    r.MinNotional,
		MaxPositionQty: r.MaxPositionQty,
	}
}

// TradingConfig is the strategy's decision-cycle setup: symbols, cadence,
// starting capital.
type TradingConfig struct {
	StrategyName     string   `json:"strategy_name,omitempty"`
	Symbols          []string `json:"symbols"`
	InitialCapital   float64  `json:"initial_capital"`
	CycleIntervalSec int      `json:"cycle_interval_seconds"`
}

// GridConfig configures the rule-based composer used when ModelConfig has
// no provider.
type GridConfig struct {
	StepPct      float64 `json:"step_pct,omitempty"`
	MaxSteps     int     `json:"max_steps,omitempty"`
	BaseFraction float64 `json:"base_fraction,omitempty"`
}

// StrategyConfig is the full JSON-blob configuration for one strategy,
// persisted as-is in the strategies table and decoded back at startup.
type StrategyConfig struct {
	Exchange       ExchangeConfig          `json:"exchange"`
	Model          ModelConfig             `json:"model"`
	Trading        TradingConfig           `json:"trading"`
	RiskControl    RiskControlConfig       `json:"risk_control"`
	Grid           GridConfig              `json:"grid,omitempty"`
	PromptSections compose.PromptSections  `json:"prompt_sections,omitempty"`
	CustomPrompt   string                  `json:"custom_prompt,omitempty"`
}

// DefaultStrategyConfig mirrors the teacher's GetDefaultStrategyConfig:
// sane starting values for a new strategy, virtual/paper by default.
func DefaultStrategyConfig() StrategyConfig {
	maxPositions := 5
	maxLeverage := 3.0
	minNotional := 10.0

	return StrategyConfig{
		Exchange: ExchangeConfig{
			ExchangeID:  "paper",
			MarketType:  models.MarketFuture,
			TradingMode: models.TradingModeVirtual,
		},
		Trading: TradingConfig{
			StrategyName:     "default",
			Symbols:          []string{"BTC-USDT", "ETH-USDT"},
			InitialCapital:   10_000,
			CycleIntervalSec: 60,
		},
		RiskControl: RiskControlConfig{
			MaxPositions: &maxPositions,
			MaxLeverage:  &maxLeverage,
			MinNotional:  &minNotional,
		},
		Grid: GridConfig{StepPct: 0.005, MaxSteps: 3, BaseFraction: 0.08},
	}
}

// ParseStrategyConfig decodes a persisted JSON config blob.
func ParseStrategyConfig(blob string) (StrategyConfig, error) {
	var cfg StrategyConfig
	if blob == "" {
		return DefaultStrategyConfig(), nil
	}
	if err := json.Unmarshal([]byte(blob), &cfg); err != nil {
		return StrategyConfig{}, fmt.Errorf("parse strategy config: %w", err)
	}
	return cfg, nil
}

// Marshal serializes the config back to its persisted JSON form.
func (c StrategyConfig) Marshal() (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal strategy config: %w", err)
	}
	return string(b), nil
}
