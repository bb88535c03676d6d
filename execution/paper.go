package execution

import (
	"context"

	"tradeengine/logger"
	"tradeengine/models"
)

// PaperGateway simulates fills with slippage and a flat fee, keeping a
// record of every instruction it was asked to execute. It never touches
// the network — FetchBalance/FetchPositions/CancelOrder/FetchOpenOrders
// are all no-ops returning empty results, matching a venue that doesn't
// exist outside this process.
type PaperGateway struct {
	FeeBps float64

	Executed []models.TradeInstruction

	log logger.Logger
}

// NewPaperGateway builds a PaperGateway with the source's default flat fee
// (10 bps).
func NewPaperGateway() *PaperGateway {
	return &PaperGateway{FeeBps: 10.0, log: logger.With("component", "execution.paper")}
}

// Execute derives the fill side (explicit Side, falling back to
// DeriveSide(Action)), prices it off the snapshot with directional
// slippage (BUY: ref*(1+slip), SELL: ref*(1-slip)), and fills the full
// requested quantity.
func (g *PaperGateway) Execute(ctx context.Context, instructions []models.TradeInstruction, marketFeatures []models.FeatureVector) []models.TxResult {
	priceMap := extractPriceMap(marketFeatures)

	results := make([]models.TxResult, 0, len(instructions))
	for _, inst := range instructions {
		g.Executed = append(g.Executed, inst)

		refPrice := priceMap[inst.Instrument.Symbol]

		side := inst.Side
		if side == "" {
			side = models.DeriveSide(inst.Action)
		}
		if side == "" {
			side = models.SideBuy
		}

		slipBps := 0.0
		if inst.MaxSlippageBps != nil {
			slipBps = *inst.MaxSlippageBps
		}
		slip := slipBps / 10_000.0

		var execPrice float64
		if side == models.SideBuy {
			execPrice = refPrice * (1.0 + slip)
		} else {
			execPrice = refPrice * (1.0 - slip)
		}

		notional := execPrice * inst.Quantity
		feeCost := notional * (g.FeeBps / 10_000.0)

		result := models.TxResult{
			InstructionID: inst.InstructionID,
			Instrument:    inst.Instrument,
			Side:          side,
			RequestedQty:  inst.Quantity,
			FilledQty:     inst.Quantity,
			Status:        models.TxFilled,
			Leverage:      inst.Leverage,
			Meta:          inst.Meta,
		}
		if execPrice != 0 {
			p := execPrice
			result.AvgExecPrice = &p
		}
		if slipBps != 0 {
			s := slipBps
			result.SlippageBps = &s
		}
		if feeCost != 0 {
			f := feeCost
			result.FeeCost = &f
		}
		results = append(results, result)
	}

	return results
}

// extractPriceMap picks one reference price per symbol, preferring
// price.last, then price.close, then price.mark, then funding.mark_price
// — the same priority order the portfolio service uses for valuation.
func extractPriceMap(features []models.FeatureVector) map[string]float64 {
	out := make(map[string]float64)
	for _, fv := range features {
		symbol := fv.Instrument.Symbol
		for _, key := range []string{"price.last", "price.close", "price.mark", "funding.mark_price"} {
			if v, ok := fv.Values[key]; ok && v != 0 {
				if _, already := out[symbol]; !already {
					out[symbol] = v
				}
			}
		}
	}
	return out
}

func (g *PaperGateway) FetchBalance(ctx context.Context) (map[string]Balance, error) { return nil, nil }

func (g *PaperGateway) FetchPositions(ctx context.Context, symbols []string) ([]Position, error) {
	return nil, nil
}

func (g *PaperGateway) CancelOrder(ctx context.Context, symbol, orderID string) error { return nil }

func (g *PaperGateway) FetchOpenOrders(ctx context.Context, symbol string) ([]string, error) {
	return nil, nil
}

func (g *PaperGateway) FetchTicker(ctx context.Context, symbol string) (TickerData, error) {
	return TickerData{}, nil
}

func (g *PaperGateway) FetchOHLCV(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	return nil, nil
}

func (g *PaperGateway) Close(ctx context.Context) error { return nil }
