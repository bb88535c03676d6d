// Package models holds the wire/in-memory data model shared across the
// engine: instruments, candles, features, positions, instructions, tx
// results and digests. Kept free of behavior — operations live in the
// packages that consume these types (portfolio, compose, history, ...).
package models

// TradingMode tags a strategy as trading against a real venue or a
// simulated one.
type TradingMode string

const (
	TradingModeLive    TradingMode = "live"
	TradingModeVirtual TradingMode = "virtual"
)

// TradeType is the semantic direction of an open position.
type TradeType string

const (
	TradeTypeLong  TradeType = "LONG"
	TradeTypeShort TradeType = "SHORT"
)

// TradeSide is the low-level execution side (exchange primitive), kept
// distinct from TradeDecisionAction which encodes intent at the position
// level. Removal consideration: if the pipeline fully normalizes around
// TradeDecisionAction we could derive side on the fly via DeriveSide, but
// we keep it explicit on TradeInstruction/TxResult to ease auditing.
type TradeSide string

const (
	SideBuy  TradeSide = "BUY"
	SideSell TradeSide = "SELL"
)

// MarketType distinguishes spot from derivatives accounting paths.
type MarketType string

const (
	MarketSpot   MarketType = "spot"
	MarketFuture MarketType = "future"
	MarketSwap   MarketType = "swap"
)

// MarginMode is the leverage margin mode for derivatives positions.
type MarginMode string

const (
	MarginIsolated MarginMode = "isolated"
	MarginCross    MarginMode = "cross"
)

// InstrumentRef identifies a tradable instrument. Symbols are normalized
// per exchange by the execution gateway (BTC-USDT -> exchange-native form).
type InstrumentRef struct {
	Symbol     string `json:"symbol"`
	ExchangeID string `json:"exchange_id,omitempty"`
}

// Candle is an aggregated OHLCV bar for a fixed interval.
type Candle struct {
	TsMs       int64         `json:"ts_ms"`
	Instrument InstrumentRef `json:"instrument"`
	Open       float64       `json:"open"`
	High       float64       `json:"high"`
	Low        float64       `json:"low"`
	Close      float64       `json:"close"`
	Volume     float64       `json:"volume"`
	Interval   string        `json:"interval"`
}

// FeatureVector holds computed features for one instrument at a point in
// time. meta.group_by_key distinguishes grouping buckets (interval_1m,
// market_snapshot, ...) for downstream prompt/grid consumers.
type FeatureVector struct {
	TsMs       int64           `json:"ts_ms"`
	Instrument InstrumentRef   `json:"instrument"`
	Values     map[string]float64 `json:"values"`
	Meta       map[string]string  `json:"meta,omitempty"`
}

// Constraints are the per-strategy guardrail limits enforced by the
// composer's normalization core.
type Constraints struct {
	MaxPositions    *int     `json:"max_positions,omitempty"`
	MaxLeverage     *float64 `json:"max_leverage,omitempty"`
	QuantityStep    *float64 `json:"quantity_step,omitempty"`
	MinTradeQty     *float64 `json:"min_trade_qty,omitempty"`
	MaxOrderQty     *float64 `json:"max_order_qty,omitempty"`
	MinNotional     *float64 `json:"min_notional,omitempty"`
	MaxPositionQty  *float64 `json:"max_position_qty,omitempty"`
}

// PositionSnapshot is the current position state for one instrument.
type PositionSnapshot struct {
	Instrument       InstrumentRef `json:"instrument"`
	Quantity         float64       `json:"quantity"` // signed: +long, -short
	AvgPrice         float64       `json:"avg_price,omitempty"`
	MarkPrice        float64       `json:"mark_price,omitempty"`
	UnrealizedPnL    float64       `json:"unrealized_pnl,omitempty"`
	UnrealizedPnLPct float64       `json:"unrealized_pnl_pct,omitempty"`
	Notional         float64       `json:"notional,omitempty"`
	Leverage         float64       `json:"leverage,omitempty"`
	EntryTsMs        int64         `json:"entry_ts,omitempty"`
	ClosedTsMs       int64         `json:"closed_ts,omitempty"`
	TradeType        TradeType     `json:"trade_type,omitempty"`
}

// PortfolioView is the full accounting snapshot consumed by the composer.
type PortfolioView struct {
	StrategyID        string                      `json:"strategy_id,omitempty"`
	TsMs              int64                       `json:"ts_ms"`
	AccountBalance    float64                     `json:"account_balance"`
	Positions         map[string]*PositionSnapshot `json:"positions"`
	GrossExposure     float64                     `json:"gross_exposure,omitempty"`
	NetExposure       float64                     `json:"net_exposure,omitempty"`
	Constraints       *Constraints                `json:"constraints,omitempty"`
	TotalValue        float64                     `json:"total_value,omitempty"`
	TotalUnrealizedPnL float64                    `json:"total_unrealized_pnl,omitempty"`
	TotalRealizedPnL  float64                     `json:"total_realized_pnl,omitempty"`
	BuyingPower       float64                     `json:"buying_power,omitempty"`
	FreeCash          float64                     `json:"free_cash,omitempty"`

	// Mode/MarketType are not part of the wire shape in the original
	// model but are carried on the Go PortfolioView because the Go
	// accounting engine is a stateful struct (see portfolio.Service)
	// rather than a free function closed over module globals.
	Mode       TradingMode `json:"-"`
	MarketType MarketType  `json:"-"`
}

// TradeDecisionAction is the position-oriented high-level action produced
// by a plan, before guardrail normalization derives a concrete side.
type TradeDecisionAction string

const (
	ActionOpenLong   TradeDecisionAction = "open_long"
	ActionOpenShort  TradeDecisionAction = "open_short"
	ActionCloseLong  TradeDecisionAction = "close_long"
	ActionCloseShort TradeDecisionAction = "close_short"
	ActionNoop       TradeDecisionAction = "noop"
)

// DeriveSide maps a high-level action to its executable side. Returns ""
// for non-order actions (NOOP or anything unrecognized).
func DeriveSide(action TradeDecisionAction) TradeSide {
	switch action {
	case ActionOpenLong, ActionCloseShort:
		return SideBuy
	case ActionOpenShort, ActionCloseLong:
		return SideSell
	default:
		return ""
	}
}

// TradeDecisionItem is one line of a plan proposal. target_qty is an
// operation size (magnitude), not a final position — the composer derives
// the final target from current position + action.
type TradeDecisionItem struct {
	Instrument InstrumentRef       `json:"instrument"`
	Action     TradeDecisionAction `json:"action"`
	TargetQty  float64             `json:"target_qty"`
	Leverage   *float64            `json:"leverage,omitempty"`
	Confidence *float64            `json:"confidence,omitempty"`
	Rationale  string              `json:"rationale,omitempty"`
}

// TradePlanProposal is the composer's pre-normalization output.
type TradePlanProposal struct {
	TsMs      int64                `json:"ts_ms"`
	Items     []TradeDecisionItem  `json:"items"`
	Rationale string               `json:"rationale,omitempty"`
}

// PriceMode selects market vs limit order pricing.
type PriceMode string

const (
	PriceMarket PriceMode = "market"
	PriceLimit  PriceMode = "limit"
)

// TradeInstruction is an executable instruction emitted after guardrail
// normalization. Invariant: (Action, Side) alignment per DeriveSide.
type TradeInstruction struct {
	InstructionID  string              `json:"instruction_id"`
	ComposeID      string              `json:"compose_id"`
	Instrument     InstrumentRef       `json:"instrument"`
	Action         TradeDecisionAction `json:"action,omitempty"`
	Side           TradeSide           `json:"side"`
	Quantity       float64             `json:"quantity"`
	Leverage       *float64            `json:"leverage,omitempty"`
	PriceMode      PriceMode           `json:"price_mode"`
	LimitPrice     *float64            `json:"limit_price,omitempty"`
	MaxSlippageBps *float64            `json:"max_slippage_bps,omitempty"`
	Meta           map[string]string   `json:"meta,omitempty"`
}

// TxStatus is the execution status of a submitted instruction.
type TxStatus string

const (
	TxFilled   TxStatus = "filled"
	TxPartial  TxStatus = "partial"
	TxRejected TxStatus = "rejected"
	TxError    TxStatus = "error"
)

// TxResult is the outcome of executing one TradeInstruction at a venue.
type TxResult struct {
	InstructionID string            `json:"instruction_id"`
	Instrument    InstrumentRef     `json:"instrument"`
	Side          TradeSide         `json:"side"`
	RequestedQty  float64           `json:"requested_qty"`
	FilledQty     float64           `json:"filled_qty"`
	AvgExecPrice  *float64          `json:"avg_exec_price,omitempty"`
	SlippageBps   *float64          `json:"slippage_bps,omitempty"`
	FeeCost       *float64          `json:"fee_cost,omitempty"`
	Leverage      *float64          `json:"leverage,omitempty"`
	Status        TxStatus          `json:"status"`
	Reason        string            `json:"reason,omitempty"`
	Meta          map[string]string `json:"meta,omitempty"`
}

// MetricPoint is a generic time/value pair used for value-history charts.
type MetricPoint struct {
	TsMs  int64   `json:"ts_ms"`
	Value float64 `json:"value"`
}

// TradeHistoryEntry is a settled or rolled trade record for UI history and
// digest aggregation.
type TradeHistoryEntry struct {
	TradeID        string        `json:"trade_id,omitempty"`
	ComposeID      string        `json:"compose_id,omitempty"`
	InstructionID  string        `json:"instruction_id,omitempty"`
	StrategyID     string        `json:"strategy_id,omitempty"`
	Instrument     InstrumentRef `json:"instrument"`
	Side           TradeSide     `json:"side"`
	Type           TradeType     `json:"type"`
	Quantity       float64       `json:"quantity"`
	EntryPrice     *float64      `json:"entry_price,omitempty"`
	ExitPrice      *float64      `json:"exit_price,omitempty"`
	AvgExecPrice   *float64      `json:"avg_exec_price,omitempty"`
	NotionalEntry  *float64      `json:"notional_entry,omitempty"`
	NotionalExit   *float64      `json:"notional_exit,omitempty"`
	EntryTsMs      *int64        `json:"entry_ts,omitempty"`
	ExitTsMs       *int64        `json:"exit_ts,omitempty"`
	TradeTsMs      int64         `json:"trade_ts,omitempty"`
	HoldingMs      *int64        `json:"holding_ms,omitempty"`
	UnrealizedPnL  *float64      `json:"unrealized_pnl,omitempty"`
	RealizedPnL    *float64      `json:"realized_pnl,omitempty"`
	RealizedPnLPct *float64      `json:"realized_pnl_pct,omitempty"`
	FeeCost        *float64      `json:"fee_cost,omitempty"`
	Leverage       *float64      `json:"leverage,omitempty"`
	Note           string        `json:"note,omitempty"`
}

// HistoryRecord is a generic persisted record for post-hoc analysis and
// digest building. Kind is one of "features"|"compose"|"instructions"|"execution".
type HistoryRecord struct {
	TsMs        int64                  `json:"ts_ms"`
	Kind        string                 `json:"kind"`
	ReferenceID string                 `json:"reference_id"`
	Payload     map[string]any         `json:"payload"`
}

// TradeDigestEntry is the per-instrument digest stat block.
type TradeDigestEntry struct {
	Instrument             InstrumentRef `json:"instrument"`
	TradeCount             int           `json:"trade_count"`
	RealizedPnL            float64       `json:"realized_pnl"`
	WinRate                *float64      `json:"win_rate,omitempty"`
	AvgHoldingMs           *int64        `json:"avg_holding_ms,omitempty"`
	LastTradeTsMs          *int64        `json:"last_trade_ts,omitempty"`
}

// TradeDigest is the compact digest used by composers as historical
// reference: per-symbol stats plus a scalar Sharpe ratio.
type TradeDigest struct {
	TsMs        int64                        `json:"ts_ms"`
	ByInstrument map[string]TradeDigestEntry `json:"by_instrument"`
	SharpeRatio  *float64                    `json:"sharpe_ratio,omitempty"`
}

// ComposeContext is the input assembled for a composer.
type ComposeContext struct {
	TsMs       int64           `json:"ts_ms"`
	ComposeID  string          `json:"compose_id"`
	StrategyID string          `json:"strategy_id,omitempty"`
	Features   []FeatureVector `json:"features"`
	Portfolio  PortfolioView   `json:"portfolio"`
	Digest     TradeDigest     `json:"digest"`
}

// ComposeResult is the output of a compose operation: normalized
// instructions ready for the execution gateway, plus an optional rationale.
type ComposeResult struct {
	Instructions []TradeInstruction `json:"instructions"`
	Rationale    string             `json:"rationale,omitempty"`
}

// StrategyStatus is the simplified high-level runtime status for a
// strategy. Legacy PAUSED/ERROR states are gone; cancellation or errors
// finalize to STOPPED with context stored separately in metadata.
type StrategyStatus string

const (
	StatusRunning StrategyStatus = "running"
	StatusStopped StrategyStatus = "stopped"
)

// StopReason is the canonical stop reason recorded in strategy metadata.
type StopReason string

const (
	StopNormalExit           StopReason = "normal_exit"
	StopCancelled            StopReason = "cancelled"
	StopError                StopReason = "error"
	StopErrorClosingPositions StopReason = "error_closing_positions"
)

// StrategySummary is a minimal summary for leaderboard/status views. Purely
// for UI aggregation; does not affect the compose pipeline.
type StrategySummary struct {
	StrategyID       string          `json:"strategy_id,omitempty"`
	Name             string          `json:"name,omitempty"`
	ModelProvider    string          `json:"model_provider,omitempty"`
	ModelID          string          `json:"model_id,omitempty"`
	ExchangeID       string          `json:"exchange_id,omitempty"`
	Mode             TradingMode     `json:"mode,omitempty"`
	Status           StrategyStatus  `json:"status,omitempty"`
	RealizedPnL      float64         `json:"realized_pnl,omitempty"`
	PnLPct           float64         `json:"pnl_pct,omitempty"`
	UnrealizedPnL    float64         `json:"unrealized_pnl,omitempty"`
	UnrealizedPnLPct float64         `json:"unrealized_pnl_pct,omitempty"`
	TotalValue       float64         `json:"total_value,omitempty"`
	LastUpdatedTsMs  int64           `json:"last_updated_ts,omitempty"`
}

// DecisionCycleResult is the outcome of a single decision cycle, the value
// the coordinator hands back to the supervisor for persistence.
type DecisionCycleResult struct {
	ComposeID       string              `json:"compose_id"`
	TimestampMs     int64               `json:"timestamp_ms"`
	CycleIndex      int                 `json:"cycle_index"`
	Rationale       string              `json:"rationale,omitempty"`
	StrategySummary StrategySummary     `json:"strategy_summary"`
	Instructions    []TradeInstruction  `json:"instructions"`
	Trades          []TradeHistoryEntry `json:"trades"`
	HistoryRecords  []HistoryRecord     `json:"history_records"`
	Digest          TradeDigest         `json:"digest"`
	PortfolioView   PortfolioView       `json:"portfolio_view"`
}
