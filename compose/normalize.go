// Package compose hosts the guardrail plan-normalization core shared by
// every composer variant (LLM-backed and rule-based grid), plus the two
// concrete composer implementations. Input is a ComposeContext; output is
// a ComposeResult whose instructions have passed every guardrail: per-order
// filters, notional/leverage caps, and a buying-power clamp with a
// conservative slippage buffer.
package compose

import (
	"fmt"
	"math"

	"tradeengine/logger"
	"tradeengine/models"
)

// DefaultSlippageBps is applied to the buying-power clamp's effective price
// and used as MaxSlippageBps on emitted instructions when the caller
// doesn't override it.
const DefaultSlippageBps = 25.0

// QuantityPrecision is the minimum meaningful quantity delta; anything at
// or below this is treated as zero.
const QuantityPrecision = 1e-9

// DefaultCapFactor bounds position sizing by notional when NewNormalizer
// is given a non-positive cap factor; StrategyConfig has no cap-factor field.
const DefaultCapFactor = 1.5

// Normalizer holds the per-strategy parameters the guardrail core needs:
// market type, cap factor, and slippage assumption. One Normalizer is
// shared by both composer variants.
type Normalizer struct {
	MarketType        models.MarketType
	DefaultSlippage   float64
	QuantityPrecision float64
	CapFactor         float64
	MaxPositions      *int
	MaxLeverage       *float64

	log logger.Logger
}

// NewNormalizer builds a Normalizer with spec-default slippage/precision.
func NewNormalizer(marketType models.MarketType, capFactor float64, maxPositions *int, maxLeverage *float64) *Normalizer {
	if capFactor <= 0 {
		capFactor = DefaultCapFactor
	}
	return &Normalizer{
		MarketType:        marketType,
		DefaultSlippage:   DefaultSlippageBps,
		QuantityPrecision: QuantityPrecision,
		CapFactor:         capFactor,
		MaxPositions:      maxPositions,
		MaxLeverage:       maxLeverage,
		log:               logger.With("component", "compose.normalize"),
	}
}

// buyingPowerContext is the precomputed state _init_buying_power_context
// returns in the source: equity, allowed leverage, constraints, projected
// gross exposure and the symbol->price map.
type buyingPowerContext struct {
	equity         float64
	allowedLev     float64
	constraints    models.Constraints
	projectedGross float64
	priceMap       map[string]float64
}

func extractPriceMap(features []models.FeatureVector) map[string]float64 {
	out := map[string]float64{}
	for _, f := range features {
		sym := f.Instrument.Symbol
		if sym == "" {
			continue
		}
		for _, key := range []string{"price.last", "price.close", "price.mark", "funding.mark_price"} {
			if v, ok := f.Values[key]; ok && v != 0 {
				out[sym] = v
				break
			}
		}
	}
	return out
}

func (n *Normalizer) initBuyingPowerContext(ctx models.ComposeContext) buyingPowerContext {
	constraints := models.Constraints{MaxPositions: n.MaxPositions, MaxLeverage: n.MaxLeverage}
	if ctx.Portfolio.Constraints != nil {
		constraints = *ctx.Portfolio.Constraints
	}

	var equity float64
	if n.MarketType == models.MarketSpot {
		equity = ctx.Portfolio.AccountBalance
	} else if ctx.Portfolio.TotalValue != 0 {
		equity = ctx.Portfolio.TotalValue
	} else {
		equity = ctx.Portfolio.AccountBalance + ctx.Portfolio.NetExposure
	}

	allowedLev := 1.0
	if n.MarketType != models.MarketSpot && constraints.MaxLeverage != nil {
		allowedLev = *constraints.MaxLeverage
	}

	priceMap := extractPriceMap(ctx.Features)
	projectedGross := ctx.Portfolio.GrossExposure
	if projectedGross == 0 {
		for sym, snap := range ctx.Portfolio.Positions {
			px := priceMap[sym]
			if px == 0 {
				px = snap.MarkPrice
			}
			projectedGross += math.Abs(snap.Quantity) * px
		}
	}

	return buyingPowerContext{
		equity:         equity,
		allowedLev:     allowedLev,
		constraints:    constraints,
		projectedGross: projectedGross,
		priceMap:       priceMap,
	}
}

// applyQuantityFilters implements the per-order filters: max_order_qty,
// floor-to-step, min_trade_qty, min_notional. Returns the filtered
// quantity (0 on rejection) and a non-empty reason when rejected.
func applyQuantityFilters(symbol string, quantity, quantityStep, minTradeQty float64, maxOrderQty, minNotional *float64, priceMap map[string]float64) (float64, string) {
	qty := quantity

	if maxOrderQty != nil {
		qty = math.Min(qty, *maxOrderQty)
	}

	if quantityStep > 0 {
		qty = math.Floor(qty/quantityStep) * quantityStep
	}

	if qty <= 0 {
		return 0, fmt.Sprintf("%s: qty=%.4f <= 0 after step filter", symbol, qty)
	}

	if qty < minTradeQty {
		return 0, fmt.Sprintf("%s: %.4f < min_trade_qty=%.4f", symbol, qty, minTradeQty)
	}

	if minNotional != nil {
		price, ok := priceMap[symbol]
		if !ok {
			return 0, fmt.Sprintf("%s: no price reference available for min_notional check", symbol)
		}
		notional := qty * price
		if notional < *minNotional {
			return 0, fmt.Sprintf("%s: %.4f < min_notional=%.4f", symbol, notional, *minNotional)
		}
	}

	return qty, ""
}

// normalizeQuantity runs the three-step guardrail chain: filters,
// notional/leverage cap, buying-power clamp. Returns the final quantity,
// the buying-power delta it consumes, and a rejection reason when the
// quantity was driven to zero.
func (n *Normalizer) normalizeQuantity(symbol string, quantity float64, side models.TradeSide, currentQty float64, bpc buyingPowerContext) (float64, float64, string) {
	qty := quantity

	c := bpc.constraints
	quantityStep := 0.0
	if c.QuantityStep != nil {
		quantityStep = *c.QuantityStep
	}
	minTradeQty := 0.0
	if c.MinTradeQty != nil {
		minTradeQty = *c.MinTradeQty
	}
	qty, reason := applyQuantityFilters(symbol, qty, quantityStep, minTradeQty, c.MaxOrderQty, c.MinNotional, bpc.priceMap)
	if qty <= n.QuantityPrecision {
		if reason == "" {
			reason = fmt.Sprintf("%s: quantity %.8f below precision after filters", symbol, qty)
		}
		return 0, 0, reason
	}

	// Step 2: notional/leverage cap.
	if price, ok := bpc.priceMap[symbol]; ok && price > 0 {
		capFactor := n.CapFactor
		if quantityStep > 0 {
			capFactor = math.Max(capFactor, DefaultCapFactor)
		}
		allowedLevCap := bpc.allowedLev
		if math.IsInf(allowedLevCap, 0) || math.IsNaN(allowedLevCap) {
			allowedLevCap = math.Inf(1)
		}
		maxAbsByFactor := (capFactor * bpc.equity) / price
		maxAbsByLev := (allowedLevCap * bpc.equity) / price
		maxAbsFinal := math.Min(maxAbsByFactor, maxAbsByLev)

		desiredFinal := currentQty + signedQty(qty, side)
		if !math.IsInf(maxAbsFinal, 0) && math.Abs(desiredFinal) > maxAbsFinal {
			newQty := math.Max(0, maxAbsFinal-math.Abs(currentQty))
			if newQty < qty {
				qty = newQty
			}
		}
	}

	if qty <= n.QuantityPrecision {
		return 0, 0, fmt.Sprintf("%s: quantity driven to 0 by notional/leverage cap", symbol)
	}

	// Step 3: buying-power clamp.
	px, hasPrice := bpc.priceMap[symbol]
	var finalQty float64
	if !hasPrice || px <= 0 {
		isReduction := (side == models.SideBuy && currentQty < 0) || (side == models.SideSell && currentQty > 0)
		if isReduction {
			finalQty = math.Min(qty, math.Abs(currentQty))
		} else {
			return 0, 0, fmt.Sprintf("%s: missing price — blocking exposure-increasing trade", symbol)
		}
	} else {
		var availBP float64
		if n.MarketType == models.MarketSpot {
			availBP = math.Max(0, bpc.equity)
		} else {
			availBP = math.Max(0, bpc.equity*bpc.allowedLev-bpc.projectedGross)
		}
		a := math.Abs(currentQty)
		slip := n.DefaultSlippage / 10000.0
		effectivePx := px * (1.0 + slip)
		apUnits := 0.0
		if availBP > 0 {
			apUnits = availBP / effectivePx
		}

		var qAllowed float64
		switch side {
		case models.SideBuy:
			if currentQty >= 0 {
				qAllowed = apUnits
			} else if qty <= 2*a {
				qAllowed = qty
			} else {
				qAllowed = 2*a + apUnits
			}
		default: // SELL
			if currentQty <= 0 {
				qAllowed = apUnits
			} else if qty <= 2*a {
				qAllowed = qty
			} else {
				qAllowed = 2*a + apUnits
			}
		}
		finalQty = math.Max(0, math.Min(qty, qAllowed))
	}

	if finalQty <= n.QuantityPrecision {
		return 0, 0, fmt.Sprintf("%s: quantity driven to 0 by buying-power clamp", symbol)
	}

	absBefore := math.Abs(currentQty)
	absAfter := math.Abs(currentQty + signedQty(finalQty, side))
	deltaAbs := absAfter - absBefore
	consumedBP := 0.0
	if hasPrice && px > 0 && deltaAbs > 0 {
		slip := n.DefaultSlippage / 10000.0
		effectivePx := px * (1.0 + slip)
		consumedBP = deltaAbs * effectivePx
	}

	return finalQty, consumedBP, ""
}

func signedQty(qty float64, side models.TradeSide) float64 {
	if side == models.SideBuy {
		return qty
	}
	return -qty
}

// resolveTargetQuantity maps an action + current position to a final
// target position, clamped symmetrically by max_position_qty.
func resolveTargetQuantity(item models.TradeDecisionItem, currentQty float64, maxPositionQty *float64) float64 {
	if item.Action == models.ActionNoop {
		return currentQty
	}

	mag := math.Abs(item.TargetQty)
	target := currentQty

	switch item.Action {
	case models.ActionOpenLong:
		base := 0.0
		if currentQty > 0 {
			base = currentQty
		}
		target = base + mag
	case models.ActionOpenShort:
		base := 0.0
		if currentQty < 0 {
			base = currentQty
		}
		target = base - mag
	case models.ActionCloseLong:
		if currentQty > 0 {
			target = math.Max(currentQty-mag, 0)
		}
	case models.ActionCloseShort:
		if currentQty < 0 {
			target = math.Min(currentQty+mag, 0)
		}
	}

	if maxPositionQty != nil {
		maxAbs := math.Abs(*maxPositionQty)
		target = math.Max(-maxAbs, math.Min(maxAbs, target))
	}

	return target
}

func countActive(positions map[string]float64, precision float64) int {
	n := 0
	for _, q := range positions {
		if math.Abs(q) > precision {
			n++
		}
	}
	return n
}

// Normalize is the shared plan-normalization core used by both composer
// variants: resolves each item's target position, splits direction flips
// into a flatten-then-open pair, runs every guardrail, and emits stable,
// deterministic TradeInstructions. Any guardrail rejection is appended to
// warnings (surfaced by the caller as an Execution Warnings rationale
// block) instead of silently vanishing.
func (n *Normalizer) Normalize(ctx models.ComposeContext, plan models.TradePlanProposal) ([]models.TradeInstruction, []string) {
	var instructions []models.TradeInstruction
	var warnings []string

	projected := map[string]float64{}
	for symbol, snap := range ctx.Portfolio.Positions {
		projected[symbol] = snap.Quantity
	}
	activePositions := countActive(projected, n.QuantityPrecision)

	bpc := n.initBuyingPowerContext(ctx)
	maxPositions := bpc.constraints.MaxPositions
	maxPositionQty := bpc.constraints.MaxPositionQty

	for idx, item := range plan.Items {
		symbol := item.Instrument.Symbol
		currentQty := projected[symbol]

		targetQty := resolveTargetQuantity(item, currentQty, maxPositionQty)
		if n.MarketType == models.MarketSpot && targetQty < 0 {
			targetQty = 0
		}

		var subTargets []float64
		if currentQty*targetQty < 0 {
			subTargets = []float64{0, targetQty}
		} else {
			subTargets = []float64{targetQty}
		}

		localCurrent := currentQty
		for subI, subTarget := range subTargets {
			delta := subTarget - localCurrent
			if math.Abs(delta) <= n.QuantityPrecision {
				continue
			}

			isNewPosition := math.Abs(localCurrent) <= n.QuantityPrecision && math.Abs(subTarget) > n.QuantityPrecision
			if isNewPosition && maxPositions != nil && activePositions >= *maxPositions {
				warnings = append(warnings, fmt.Sprintf("%s: skipped, max_positions=%d reached", symbol, *maxPositions))
				continue
			}

			side := models.SideBuy
			if delta < 0 {
				side = models.SideSell
			}

			requestedLev := 1.0
			if item.Leverage != nil {
				requestedLev = *item.Leverage
			}
			allowedLevItem := requestedLev
			if bpc.constraints.MaxLeverage != nil {
				allowedLevItem = *bpc.constraints.MaxLeverage
			}
			var finalLeverage float64
			if n.MarketType == models.MarketSpot {
				finalLeverage = 1.0
			} else {
				finalLeverage = math.Max(1.0, math.Min(requestedLev, allowedLevItem))
			}

			quantity := math.Abs(delta)
			finalQty, consumedBP, reason := n.normalizeQuantity(symbol, quantity, side, localCurrent, bpc)
			if finalQty <= n.QuantityPrecision {
				if reason != "" {
					warnings = append(warnings, reason)
					n.log.Warnf("guardrail rejected %s", reason)
				}
				continue
			}

			signedDelta := finalQty
			if side == models.SideSell {
				signedDelta = -finalQty
			}
			projected[symbol] = localCurrent + signedDelta
			bpc.projectedGross += consumedBP

			if isNewPosition {
				activePositions++
			}
			if math.Abs(projected[symbol]) <= n.QuantityPrecision && activePositions > 0 {
				activePositions--
			}

			instr := n.createInstruction(ctx, idx*10+subI, item, symbol, side, finalQty, finalLeverage, localCurrent)
			instructions = append(instructions, instr)

			localCurrent = projected[symbol]
		}
	}

	return instructions, warnings
}

func (n *Normalizer) createInstruction(ctx models.ComposeContext, idx int, item models.TradeDecisionItem, symbol string, side models.TradeSide, quantity, finalLeverage, currentQty float64) models.TradeInstruction {
	signedDelta := quantity
	if side == models.SideSell {
		signedDelta = -quantity
	}
	finalTarget := currentQty + signedDelta

	meta := map[string]string{
		"action":            string(item.Action),
		"current_qty":       fmt.Sprintf("%.8f", currentQty),
		"final_target_qty":  fmt.Sprintf("%.8f", finalTarget),
	}
	if item.Rationale != "" {
		meta["rationale"] = item.Rationale
	}
	// For derivatives, mark reduceOnly when the instruction shrinks absolute
	// exposure so the gateway never accidentally opens the other side.
	if n.MarketType != models.MarketSpot && math.Abs(finalTarget) < math.Abs(currentQty) {
		meta["reduceOnly"] = "true"
	}

	slip := n.DefaultSlippage
	lev := finalLeverage
	return models.TradeInstruction{
		InstructionID:  fmt.Sprintf("%s:%s:%d", ctx.ComposeID, symbol, idx),
		ComposeID:      ctx.ComposeID,
		Instrument:     item.Instrument,
		Action:         item.Action,
		Side:           side,
		Quantity:       quantity,
		Leverage:       &lev,
		PriceMode:      models.PriceMarket,
		MaxSlippageBps: &slip,
		Meta:           meta,
	}
}
