package compose

import (
	"context"
	"fmt"
	"math"

	"tradeengine/models"
)

// GridComposer is a purely rule-based composer: mean-reversion grid logic
// around a step percentage, reusing Normalizer for the shared guardrail
// pipeline. It exists so a strategy can run without any LLM dependency.
type GridComposer struct {
	Norm         *Normalizer
	Symbols      []string
	ExchangeID   string
	IsSpot       bool
	MaxLeverage  float64
	StepPct      float64
	MaxSteps     int
	BaseFraction float64
}

// NewGridComposer builds a GridComposer with the source's defaults
// (step_pct=0.5%, max_steps=3, base_fraction=8% of equity).
func NewGridComposer(norm *Normalizer, symbols []string, exchangeID string, isSpot bool, maxLeverage float64) *GridComposer {
	return &GridComposer{
		Norm:         norm,
		Symbols:      symbols,
		ExchangeID:   exchangeID,
		IsSpot:       isSpot,
		MaxLeverage:  maxLeverage,
		StepPct:      0.005,
		MaxSteps:     3,
		BaseFraction: 0.08,
	}
}

func latestChangePct(features []models.FeatureVector, symbol string) (float64, bool) {
	var best float64
	bestRank := 999
	found := false
	for _, fv := range features {
		if fv.Instrument.Symbol != symbol {
			continue
		}
		change, ok := fv.Values["change_pct"]
		if !ok {
			continue
		}
		interval := fv.Meta["interval"]
		rank := 2
		if interval == "1s" {
			rank = 0
		} else if interval == "1m" {
			rank = 1
		}
		if rank < bestRank {
			best = change
			bestRank = rank
			found = true
		}
	}
	return best, found
}

func (g *GridComposer) leverageFor(constraintsLev *float64) float64 {
	lev := g.MaxLeverage
	if constraintsLev != nil {
		lev = math.Min(g.MaxLeverage, *constraintsLev)
	}
	if lev <= 0 {
		lev = 1.0
	}
	return lev
}

func stepsFromAvg(price, avg, stepPct float64, maxSteps int) int {
	if avg <= 0 {
		return 1
	}
	movePct := math.Abs(price/avg - 1.0)
	step := stepPct
	if step <= 0 {
		step = 1e-9
	}
	k := int(math.Floor(movePct / step))
	if k < 0 {
		k = 0
	}
	if k > maxSteps {
		k = maxSteps
	}
	return k
}

// Compose produces a ComposeResult from grid rules: opens on a
// change-percent breakout when flat, adds/reduces in steps of StepPct
// around the position's average price otherwise.
func (g *GridComposer) Compose(_ context.Context, ctx models.ComposeContext) models.ComposeResult {
	bpc := g.Norm.initBuyingPowerContext(ctx)

	var items []models.TradeDecisionItem

	for _, symbol := range g.Symbols {
		price := bpc.priceMap[symbol]
		if price <= 0 {
			continue
		}

		var qty, avgPx float64
		if pos, ok := ctx.Portfolio.Positions[symbol]; ok {
			qty = pos.Quantity
			avgPx = pos.AvgPrice
		}

		baseQty := math.Max(0, (bpc.equity*g.BaseFraction)/price)
		if baseQty <= 0 {
			continue
		}

		instrument := models.InstrumentRef{Symbol: symbol, ExchangeID: g.ExchangeID}

		if math.Abs(qty) <= g.Norm.QuantityPrecision {
			chg, ok := latestChangePct(ctx.Features, symbol)
			if !ok {
				continue
			}
			conf := math.Min(1.0, math.Abs(chg)/(2*g.StepPct))
			switch {
			case chg <= -g.StepPct:
				lev := 1.0
				if !g.IsSpot {
					lev = g.leverageFor(bpc.constraints.MaxLeverage)
				}
				items = append(items, models.TradeDecisionItem{
					Instrument: instrument,
					Action:     models.ActionOpenLong,
					TargetQty:  baseQty,
					Leverage:   &lev,
					Confidence: &conf,
					Rationale:  fmt.Sprintf("Grid open-long: change_pct=%.4f <= -step=%.4f", chg, g.StepPct),
				})
			case !g.IsSpot && chg >= g.StepPct:
				lev := g.leverageFor(bpc.constraints.MaxLeverage)
				items = append(items, models.TradeDecisionItem{
					Instrument: instrument,
					Action:     models.ActionOpenShort,
					TargetQty:  baseQty,
					Leverage:   &lev,
					Confidence: &conf,
					Rationale:  fmt.Sprintf("Grid open-short: change_pct=%.4f >= step=%.4f", chg, g.StepPct),
				})
			}
			continue
		}

		k := stepsFromAvg(price, avgPx, g.StepPct, g.MaxSteps)
		if k <= 0 {
			continue
		}
		conf := math.Min(1.0, float64(k)/float64(g.MaxSteps))

		if qty > 0 {
			down := avgPx > 0 && price <= avgPx*(1.0-g.StepPct)
			up := avgPx > 0 && price >= avgPx*(1.0+g.StepPct)
			switch {
			case down:
				lev := 1.0
				if !g.IsSpot {
					lev = g.leverageFor(bpc.constraints.MaxLeverage)
				}
				items = append(items, models.TradeDecisionItem{
					Instrument: instrument,
					Action:     models.ActionOpenLong,
					TargetQty:  baseQty * float64(k),
					Leverage:   &lev,
					Confidence: &conf,
					Rationale:  fmt.Sprintf("Grid long add: price %.4f <= avg %.4f by %d steps", price, avgPx, k),
				})
			case up:
				lev := 1.0
				items = append(items, models.TradeDecisionItem{
					Instrument: instrument,
					Action:     models.ActionCloseLong,
					TargetQty:  math.Min(math.Abs(qty), baseQty*float64(k)),
					Leverage:   &lev,
					Confidence: &conf,
					Rationale:  fmt.Sprintf("Grid long reduce: price %.4f >= avg %.4f by %d steps", price, avgPx, k),
				})
			}
			continue
		}

		// qty < 0: short side.
		up := avgPx > 0 && price >= avgPx*(1.0+g.StepPct)
		down := avgPx > 0 && price <= avgPx*(1.0-g.StepPct)
		switch {
		case up && !g.IsSpot:
			lev := g.leverageFor(bpc.constraints.MaxLeverage)
			items = append(items, models.TradeDecisionItem{
				Instrument: instrument,
				Action:     models.ActionOpenShort,
				TargetQty:  baseQty * float64(k),
				Leverage:   &lev,
				Confidence: &conf,
				Rationale:  fmt.Sprintf("Grid short add: price %.4f >= avg %.4f by %d steps", price, avgPx, k),
			})
		case down:
			lev := 1.0
			items = append(items, models.TradeDecisionItem{
				Instrument: instrument,
				Action:     models.ActionCloseShort,
				TargetQty:  math.Min(math.Abs(qty), baseQty*float64(k)),
				Leverage:   &lev,
				Confidence: &conf,
				Rationale:  fmt.Sprintf("Grid short cover: price %.4f <= avg %.4f by %d steps", price, avgPx, k),
			})
		}
	}

	if len(items) == 0 {
		return models.ComposeResult{Rationale: "Grid NOOP"}
	}

	planRationale := fmt.Sprintf("Grid step=%.4f, base_fraction=%.3f", g.StepPct, g.BaseFraction)
	plan := models.TradePlanProposal{TsMs: ctx.TsMs, Items: items, Rationale: planRationale}
	instructions, warnings := g.Norm.Normalize(ctx, plan)
	return models.ComposeResult{Instructions: instructions, Rationale: withWarnings(planRationale, warnings)}
}
