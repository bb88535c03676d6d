// Package coordinator runs one strategy's decision cycle end to end:
// optional live balance/position sync, feature build, digest build,
// compose, execute, trade booking against the portfolio, summary and
// history-record construction. It is the direct translation of
// _internal/coordinator.py's StrategyCoordinator.
package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	"tradeengine/compose"
	"tradeengine/config"
	"tradeengine/execution"
	"tradeengine/features"
	"tradeengine/history"
	"tradeengine/logger"
	"tradeengine/market"
	"tradeengine/metrics"
	"tradeengine/models"
	"tradeengine/portfolio"
)

// positionEpsilon matches the reference coordinator's zero-quantity
// tolerance: venue-reported dust below this is treated as flat.
const positionEpsilon = 1e-8

// Coordinator owns the dependencies one running strategy needs for a
// decision cycle: a portfolio ledger, a feature pipeline, a composer
// (rule-based or LLM-backed), an execution gateway, and the history
// trail feeding the digest back into the next cycle's compose context.
type Coordinator struct {
	StrategyID     string
	StrategyName   string
	ExchangeID     string
	ModelProvider  string
	ModelID        string
	Mode           models.TradingMode
	MarketType     models.MarketType
	Symbols        []string
	InitialCapital float64

	Portfolio *portfolio.Service
	Pipeline  *features.Pipeline
	Composer  compose.Composer
	Gateway   execution.Gateway
	Recorder  *history.Recorder
	Digests   *history.DigestBuilder

	cycleIndex int
	log        logger.Logger
}

// New builds a Coordinator. Digests defaults to history.NewDigestBuilder(0)
// (the builder's own default window) when nil.
func New(strategyID, strategyName, exchangeID string, mode models.TradingMode, marketType models.MarketType, symbols []string, initialCapital float64, p *portfolio.Service, pipeline *features.Pipeline, composer compose.Composer, gateway execution.Gateway, recorder *history.Recorder, digests *history.DigestBuilder) *Coordinator {
	if digests == nil {
		digests = history.NewDigestBuilder(0)
	}
	if recorder == nil {
		recorder = history.NewRecorder(0)
	}
	return &Coordinator{
		StrategyID:     strategyID,
		StrategyName:   strategyName,
		ExchangeID:     exchangeID,
		Mode:           mode,
		MarketType:     marketType,
		Symbols:        symbols,
		InitialCapital: initialCapital,
		Portfolio:      p,
		Pipeline:       pipeline,
		Composer:       composer,
		Gateway:        gateway,
		Recorder:       recorder,
		Digests:        digests,
		log:            logger.For(strategyID),
	}
}

// RunOnce executes exactly one decision cycle and returns its result. It
// never returns an error for venue/provider failures in the body of the
// cycle (those degrade to rationale text or rejected tx results per the
// composer/gateway contracts) — the error return is reserved for
// programmer errors (nil dependencies).
func (c *Coordinator) RunOnce(ctx context.Context) (models.DecisionCycleResult, error) {
	if c.Portfolio == nil || c.Pipeline == nil || c.Composer == nil || c.Gateway == nil {
		return models.DecisionCycleResult{}, fmt.Errorf("coordinator: missing required dependency")
	}

	cycleStart := time.Now()
	nowMs := cycleStart.UnixMilli()

	if c.Mode == models.TradingModeLive {
		if err := c.syncLiveAccount(ctx); err != nil {
			c.log.Warnf("live account sync failed, continuing with stale state: %v", err)
		}
	}

	preView := c.Portfolio.View()

	allFeatures := c.Pipeline.Build(ctx, nowMs)
	snapshotFeatures := features.ExtractMarketSnapshot(allFeatures)

	digest := c.Digests.Build(c.Recorder.Records(), nowMs)

	composeID := models.NewID("compose")
	composeCtx := models.ComposeContext{
		TsMs:       nowMs,
		ComposeID:  composeID,
		StrategyID: c.StrategyID,
		Features:   allFeatures,
		Portfolio:  preView,
		Digest:     digest,
	}

	composeStart := time.Now()
	composeResult := c.Composer.Compose(ctx, composeCtx)
	metrics.RecordCompose(c.StrategyID, c.ModelID, time.Since(composeStart).Seconds(), len(composeResult.Instructions) == 0)

	instructions := composeResult.Instructions
	for i := range instructions {
		instructions[i].ComposeID = composeID
	}

	txResults := c.Gateway.Execute(ctx, instructions, snapshotFeatures)

	rationale, okInstructions, okResults := c.partitionResults(composeResult.Rationale, instructions, txResults)

	for _, tx := range okResults {
		if tx.Status == models.TxFilled || (tx.Status == models.TxPartial && tx.FilledQty > 0) {
			c.reportTradeOrder(tx)
		}
	}

	trades := c.buildTrades(composeID, nowMs, okResults, okInstructions, preView.Positions)

	c.Portfolio.ApplyTrades(trades, snapshotFeatures)
	postView := c.Portfolio.View()

	summary := c.buildSummary(nowMs, postView)

	records := c.buildHistoryRecords(composeID, nowMs, allFeatures, composeResult, okInstructions, trades, summary)
	for _, r := range records {
		c.Recorder.Record(r)
	}

	finalDigest := c.Digests.Build(c.Recorder.Records(), nowMs)
	c.cycleIndex++

	c.recordCycleMetrics(cycleStart, summary, postView, trades)

	return models.DecisionCycleResult{
		ComposeID:       composeID,
		TimestampMs:     nowMs,
		CycleIndex:      c.cycleIndex,
		Rationale:       rationale,
		StrategySummary: summary,
		Instructions:    okInstructions,
		Trades:          trades,
		HistoryRecords:  records,
		Digest:          finalDigest,
		PortfolioView:   postView,
	}, nil
}

// partitionResults splits tx results into rejected/errored (appended to
// the rationale as execution warnings, instruction dropped) and
// successful (kept for trade booking), mirroring the reference
// coordinator's post-execute step 7.
func (c *Coordinator) partitionResults(rationale string, instructions []models.TradeInstruction, results []models.TxResult) (string, []models.TradeInstruction, []models.TxResult) {
	var warnings []string
	var okInstructions []models.TradeInstruction
	var okResults []models.TxResult

	for i, tx := range results {
		var inst models.TradeInstruction
		if i < len(instructions) {
			inst = instructions[i]
		}
		if tx.Status == models.TxRejected || tx.Status == models.TxError {
			reason := tx.Reason
			if reason == "" {
				reason = string(tx.Status)
			}
			warnings = append(warnings, fmt.Sprintf("%s %s: %s", inst.Instrument.Symbol, inst.Action, reason))
			metrics.RecordRejectedInstruction(c.StrategyID, c.ExchangeID)
			continue
		}
		okInstructions = append(okInstructions, inst)
		okResults = append(okResults, tx)
	}

	if len(warnings) > 0 {
		rationale = appendExecutionWarnings(rationale, warnings)
	}
	return rationale, okInstructions, okResults
}

func appendExecutionWarnings(rationale string, warnings []string) string {
	out := rationale + "\n\n**Execution Warnings:**\n"
	for _, w := range warnings {
		out += "- " + w + "\n"
	}
	return out
}

// syncLiveAccount pulls balance and positions from the venue and rewrites
// the portfolio's cash/position state. Spot accounting treats free
// balance as both cash and account balance; derivatives accounting
// treats total balance as equity/account_balance and free balance as
// both buying_power and free_cash — all three assigned directly so they
// never go stale between cycles.
func (c *Coordinator) syncLiveAccount(ctx context.Context) error {
	balances, err := c.Gateway.FetchBalance(ctx)
	if err != nil {
		return fmt.Errorf("fetch balance: %w", err)
	}

	bal, ok := balances["USDT"]
	if !ok {
		bal, ok = balances["USDC"]
	}
	if !ok {
		for _, b := range balances {
			bal = b
			ok = true
			break
		}
	}
	if ok {
		if c.MarketType == models.MarketSpot {
			c.Portfolio.SetLiveBalances(bal.Free, bal.Free, bal.Free)
		} else {
			c.Portfolio.SetLiveBalances(bal.Total, bal.Free, bal.Free)
		}
	}

	positions, err := c.Gateway.FetchPositions(ctx, c.Symbols)
	if err != nil {
		return fmt.Errorf("fetch positions: %w", err)
	}

	rebuilt := map[string]*models.PositionSnapshot{}
	for _, p := range positions {
		if math.Abs(p.Quantity) < positionEpsilon {
			continue
		}
		symbol := market.ReverseNormalize(p.Symbol)
		rebuilt[symbol] = &models.PositionSnapshot{
			Instrument:    models.InstrumentRef{Symbol: symbol, ExchangeID: c.ExchangeID},
			Quantity:      p.Quantity,
			AvgPrice:      p.EntryPrice,
			MarkPrice:     p.MarkPrice,
			UnrealizedPnL: p.UnrealizedPnL,
			Leverage:      p.Leverage,
			TradeType:     tradeTypeOf(p.Quantity),
		}
	}
	c.Portfolio.ReplacePositions(rebuilt)
	return nil
}

// buildTrades turns filled/partially-filled tx results into booked
// trades. A fill that reduces or reverses existing exposure books a
// close trade (realized PnL from entry/exit price delta); any exposure
// crossing through zero into the opposite direction books a second open
// trade for the overshoot. A partial close that does not fully flatten
// the position is paired, via annotatePairedExit, to the still-open
// trade it reduces.
func (c *Coordinator) buildTrades(composeID string, nowMs int64, results []models.TxResult, instructions []models.TradeInstruction, prevPositions map[string]*models.PositionSnapshot) []models.TradeHistoryEntry {
	const eps = 1e-8
	var trades []models.TradeHistoryEntry

	for i, tx := range results {
		if tx.FilledQty <= 0 || i >= len(instructions) {
			continue
		}
		inst := instructions[i]
		symbol := inst.Instrument.Symbol

		var prevQty, prevAvgPrice, prevLeverage float64
		var prevEntryTs *int64
		if pos := prevPositions[symbol]; pos != nil {
			prevQty = pos.Quantity
			prevAvgPrice = pos.AvgPrice
			prevLeverage = pos.Leverage
			if pos.EntryTsMs != 0 {
				ts := pos.EntryTsMs
				prevEntryTs = &ts
			}
		}

		execPrice := 0.0
		if tx.AvgExecPrice != nil {
			execPrice = *tx.AvgExecPrice
		}

		isOpposite := (prevQty > 0 && tx.Side == models.SideSell) || (prevQty < 0 && tx.Side == models.SideBuy)
		if !isOpposite {
			fee := 0.0
			if tx.FeeCost != nil {
				fee = *tx.FeeCost
			}
			trades = append(trades, c.buildOpenTrade(composeID, nowMs, inst, tx, tx.FilledQty, fee))
			continue
		}

		closeQty := math.Min(tx.FilledQty, math.Abs(prevQty))
		fee := 0.0
		if tx.FeeCost != nil {
			fee = *tx.FeeCost
		}
		closeFee := fee
		if tx.FilledQty > 0 {
			closeFee = fee * (closeQty / tx.FilledQty)
		}

		var realized float64
		if prevQty > 0 {
			realized = (execPrice - prevAvgPrice) * closeQty
		} else {
			realized = (prevAvgPrice - execPrice) * closeQty
		}
		realized -= closeFee

		entryPrice := prevAvgPrice
		exitPrice := execPrice
		notionalEntry := entryPrice * closeQty
		notionalExit := exitPrice * closeQty
		exitTs := nowMs
		var holdingMs *int64
		if prevEntryTs != nil {
			h := nowMs - *prevEntryTs
			holdingMs = &h
		}
		lev := prevLeverage
		if tx.Leverage != nil {
			lev = *tx.Leverage
		}

		closeTrade := models.TradeHistoryEntry{
			TradeID:       models.NewID("trade"),
			ComposeID:     composeID,
			InstructionID: inst.InstructionID,
			StrategyID:    c.StrategyID,
			Instrument:    inst.Instrument,
			Side:          tx.Side,
			Type:          tradeTypeOf(prevQty),
			Quantity:      closeQty,
			EntryPrice:    &entryPrice,
			ExitPrice:     &exitPrice,
			AvgExecPrice:  tx.AvgExecPrice,
			NotionalEntry: &notionalEntry,
			NotionalExit:  &notionalExit,
			EntryTsMs:     prevEntryTs,
			ExitTsMs:      &exitTs,
			TradeTsMs:     nowMs,
			HoldingMs:     holdingMs,
			RealizedPnL:   &realized,
			FeeCost:       &closeFee,
			Leverage:      nonZeroPtr(lev),
			Note:          inst.Meta["rationale"],
		}

		isFullClose := tx.FilledQty >= math.Abs(prevQty)-eps
		if !isFullClose {
			if pairedID, found := c.annotatePairedExit(symbol, exitPrice, exitTs, notionalExit); found {
				closeTrade.Note = appendNote(closeTrade.Note, fmt.Sprintf("paired_exit_of:%s", pairedID))
			}
		}
		trades = append(trades, closeTrade)

		if remaining := tx.FilledQty - closeQty; remaining > eps {
			openFee := fee - closeFee
			trades = append(trades, c.buildOpenTrade(composeID, nowMs, inst, tx, remaining, openFee))
		}
	}

	return trades
}

func (c *Coordinator) buildOpenTrade(composeID string, nowMs int64, inst models.TradeInstruction, tx models.TxResult, qty, fee float64) models.TradeHistoryEntry {
	execPrice := 0.0
	if tx.AvgExecPrice != nil {
		execPrice = *tx.AvgExecPrice
	}
	notionalEntry := execPrice * qty
	realized := -fee
	entryTs := nowMs

	signedQty := qty
	if tx.Side == models.SideSell {
		signedQty = -qty
	}

	return models.TradeHistoryEntry{
		TradeID:       models.NewID("trade"),
		ComposeID:     composeID,
		InstructionID: inst.InstructionID,
		StrategyID:    c.StrategyID,
		Instrument:    inst.Instrument,
		Side:          tx.Side,
		Type:          tradeTypeOf(signedQty),
		Quantity:      qty,
		EntryPrice:    &execPrice,
		AvgExecPrice:  tx.AvgExecPrice,
		NotionalEntry: &notionalEntry,
		EntryTsMs:     &entryTs,
		TradeTsMs:     nowMs,
		RealizedPnL:   &realized,
		FeeCost:       &fee,
		Leverage:      tx.Leverage,
		Note:          inst.Meta["rationale"],
	}
}

// annotatePairedExit scans recorded execution history in reverse for the
// most recent still-open trade on symbol (no ExitTsMs yet) and fills in
// its exit fields in place — the underlying slice is shared with the
// recorder's stored HistoryRecord, so the mutation is visible to the
// next digest build. Returns the annotated trade's id.
func (c *Coordinator) annotatePairedExit(symbol string, exitPrice float64, exitTsMs int64, notionalExit float64) (string, bool) {
	records := c.Recorder.Records()
	for i := len(records) - 1; i >= 0; i-- {
		rec := records[i]
		if rec.Kind != "execution" {
			continue
		}
		tradesRaw, ok := rec.Payload["trades"]
		if !ok {
			continue
		}
		trades, ok := tradesRaw.([]models.TradeHistoryEntry)
		if !ok {
			continue
		}
		for j := len(trades) - 1; j >= 0; j-- {
			t := &trades[j]
			if t.Instrument.Symbol != symbol || t.ExitTsMs != nil {
				continue
			}
			entryTs := t.TradeTsMs
			if t.EntryTsMs != nil {
				entryTs = *t.EntryTsMs
			}
			holding := exitTsMs - entryTs
			t.ExitPrice = &exitPrice
			t.ExitTsMs = &exitTsMs
			t.HoldingMs = &holding
			t.NotionalExit = &notionalExit
			return t.TradeID, true
		}
	}
	return "", false
}

// Summary computes a StrategySummary from the current portfolio view
// outside of a decision cycle — used to persist an initial snapshot
// before the first RunOnce and for on-demand status queries.
func (c *Coordinator) Summary(nowMs int64) models.StrategySummary {
	return c.buildSummary(nowMs, c.Portfolio.View())
}

func (c *Coordinator) buildSummary(nowMs int64, view models.PortfolioView) models.StrategySummary {
	var pnlPct, unrealPct float64
	if c.InitialCapital > 0 {
		pnlPct = (view.TotalRealizedPnL + view.TotalUnrealizedPnL) / c.InitialCapital
	}
	if view.TotalValue > 0 {
		unrealPct = view.TotalUnrealizedPnL / view.TotalValue * 100
	}

	return models.StrategySummary{
		StrategyID:       c.StrategyID,
		Name:             c.StrategyName,
		ModelProvider:    c.ModelProvider,
		ModelID:          c.ModelID,
		ExchangeID:       c.ExchangeID,
		Mode:             c.Mode,
		Status:           models.StatusRunning,
		RealizedPnL:      view.TotalRealizedPnL,
		PnLPct:           pnlPct,
		UnrealizedPnL:    view.TotalUnrealizedPnL,
		UnrealizedPnLPct: unrealPct,
		TotalValue:       view.TotalValue,
		LastUpdatedTsMs:  nowMs,
	}
}

// recordCycleMetrics pushes one cycle's outcome into the prometheus
// registry: cycle wall-clock duration, summary gauges, per-position
// unrealized PnL, and a win/loss increment for every trade that closed
// with a realized PnL this cycle.
func (c *Coordinator) recordCycleMetrics(cycleStart time.Time, summary models.StrategySummary, view models.PortfolioView, trades []models.TradeHistoryEntry) {
	metrics.RecordCycleDuration(c.StrategyID, time.Since(cycleStart).Seconds())
	metrics.UpdateStrategyMetrics(c.StrategyID, c.ExchangeID, c.ModelID, summary.RealizedPnL, summary.PnLPct, summary.TotalValue, summary.UnrealizedPnL)
	metrics.SetPositionsCount(c.StrategyID, len(view.Positions))

	for symbol, pos := range view.Positions {
		if pos == nil {
			continue
		}
		side := "long"
		if pos.Quantity < 0 {
			side = "short"
		}
		metrics.UpdatePositionMetrics(c.StrategyID, symbol, side, pos.UnrealizedPnL)
	}

	for _, t := range trades {
		if t.ExitTsMs != nil && t.RealizedPnL != nil {
			metrics.RecordTrade(c.StrategyID, *t.RealizedPnL)
		}
	}
}

func (c *Coordinator) buildHistoryRecords(composeID string, nowMs int64, allFeatures []models.FeatureVector, composeResult models.ComposeResult, instructions []models.TradeInstruction, trades []models.TradeHistoryEntry, summary models.StrategySummary) []models.HistoryRecord {
	return []models.HistoryRecord{
		{TsMs: nowMs, Kind: "features", ReferenceID: composeID, Payload: map[string]any{"features": allFeatures}},
		{TsMs: nowMs, Kind: "compose", ReferenceID: composeID, Payload: map[string]any{"summary": summary, "rationale": composeResult.Rationale}},
		{TsMs: nowMs, Kind: "instructions", ReferenceID: composeID, Payload: map[string]any{"instructions": instructions}},
		{TsMs: nowMs, Kind: "execution", ReferenceID: composeID, Payload: map[string]any{"trades": trades}},
	}
}

// CloseAllPositions builds reduce-only closing instructions for every
// nonzero position, executes them, books the resulting trades against
// the portfolio, and records them to history one at a time. It swallows
// gateway/portfolio failures (logging them) and returns nil rather than
// propagating — a strategy shutdown should not get stuck on a failed
// close.
func (c *Coordinator) CloseAllPositions(ctx context.Context) (trades []models.TradeHistoryEntry) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Errorf("close all positions panicked: %v", r)
			trades = nil
		}
	}()

	view := c.Portfolio.View()

	var instructions []models.TradeInstruction
	for symbol, pos := range view.Positions {
		if pos == nil || math.Abs(pos.Quantity) < positionEpsilon {
			continue
		}
		action := models.ActionCloseLong
		side := models.SideSell
		if pos.Quantity < 0 {
			action = models.ActionCloseShort
			side = models.SideBuy
		}
		instructions = append(instructions, models.TradeInstruction{
			InstructionID: models.NewID("instruction"),
			ComposeID:     models.NewID("compose"),
			Instrument:    models.InstrumentRef{Symbol: symbol, ExchangeID: c.ExchangeID},
			Action:        action,
			Side:          side,
			Quantity:      math.Abs(pos.Quantity),
			PriceMode:     models.PriceMarket,
			Meta:          map[string]string{"reduce_only": "true", "rationale": "Strategy stopped: closing all positions"},
		})
	}
	if len(instructions) == 0 {
		return nil
	}

	results := c.Gateway.Execute(ctx, instructions, nil)
	nowMs := time.Now().UnixMilli()
	built := c.buildTrades(instructions[0].ComposeID, nowMs, results, instructions, view.Positions)
	if len(built) == 0 {
		return nil
	}

	c.Portfolio.ApplyTrades(built, nil)
	for _, t := range built {
		c.Recorder.Record(models.HistoryRecord{
			TsMs:        nowMs,
			Kind:        "execution",
			ReferenceID: t.ComposeID,
			Payload:     map[string]any{"trades": []models.TradeHistoryEntry{t}},
		})
	}
	return built
}

// Close best-effort releases the execution gateway's own resources
// (websocket connections, signer handles). Errors are logged, not
// propagated — shutdown proceeds regardless.
func (c *Coordinator) Close(ctx context.Context) error {
	if c.Gateway == nil {
		return nil
	}
	if err := c.Gateway.Close(ctx); err != nil {
		c.log.Warnf("gateway close failed: %v", err)
	}
	return nil
}

// reportTradeOrder fires a best-effort, non-blocking webhook notification
// for one filled/partially-filled trade. Silently skipped when
// TRADE_ORDER_REPORT_WEBHOOK_URL is unset; failures are logged, never
// surfaced to the caller — report_trade_order in the source is explicitly
// a side-channel notification, not part of the decision-cycle contract.
func (c *Coordinator) reportTradeOrder(tx models.TxResult) {
	url := config.Getenv("TRADE_ORDER_REPORT_WEBHOOK_URL", "")
	if url == "" {
		return
	}

	body, err := json.Marshal(map[string]any{
		"strategy_id":    c.StrategyID,
		"exchange_id":    c.ExchangeID,
		"instruction_id": tx.InstructionID,
		"symbol":         tx.Instrument.Symbol,
		"side":           tx.Side,
		"status":         tx.Status,
		"filled_qty":     tx.FilledQty,
		"avg_exec_price": tx.AvgExecPrice,
		"fee_cost":       tx.FeeCost,
	})
	if err != nil {
		c.log.Warnf("marshal trade order report: %v", err)
		return
	}

	go func() {
		reqCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			c.log.Warnf("build trade order report request: %v", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			c.log.Warnf("trade order report webhook failed: %v", err)
			return
		}
		defer resp.Body.Close()
	}()
}

func tradeTypeOf(qty float64) models.TradeType {
	if qty >= 0 {
		return models.TradeTypeLong
	}
	return models.TradeTypeShort
}

func nonZeroPtr(v float64) *float64 {
	if v == 0 {
		return nil
	}
	return &v
}

func appendNote(base, addition string) string {
	if base == "" {
		return addition
	}
	return base + "; " + addition
}
