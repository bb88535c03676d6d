// Package portfolio tracks cash and positions in memory and computes
// derived metrics: gross/net exposure, equity, unrealized/realized PnL,
// buying power, and free cash. It is a direct translation of the
// in-memory portfolio service's apply_trades algorithm, branching on
// spot vs derivatives accounting exactly as that algorithm does.
package portfolio

import (
	"sync"
	"time"

	"tradeengine/models"
)

// Service is the in-memory accounting engine for one strategy.
type Service struct {
	mu         sync.Mutex
	strategyID string
	mode       models.TradingMode
	marketType models.MarketType
	view       models.PortfolioView
}

// New builds a Service seeded with initial_capital as both cash and
// equity, mirroring the teacher's constructor.
func New(strategyID string, initialCapital float64, mode models.TradingMode, marketType models.MarketType, constraints *models.Constraints) *Service {
	return &Service{
		strategyID: strategyID,
		mode:       mode,
		marketType: marketType,
		view: models.PortfolioView{
			StrategyID:     strategyID,
			TsMs:           nowMs(),
			AccountBalance: initialCapital,
			Positions:      map[string]*models.PositionSnapshot{},
			Constraints:    constraints,
			TotalValue:     initialCapital,
			BuyingPower:    initialCapital,
			FreeCash:       initialCapital,
			Mode:           mode,
			MarketType:     marketType,
		},
	}
}

func nowMs() int64 { return time.Now().UnixMilli() }

// View returns a snapshot of the current portfolio state with a refreshed
// timestamp.
func (s *Service) View() models.PortfolioView {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view.TsMs = nowMs()
	return s.view
}

// SetAccountBalance overwrites account_balance directly — used by the
// coordinator's LIVE balance sync step, which bypasses apply_trades.
func (s *Service) SetAccountBalance(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view.AccountBalance = v
}

// ReplacePositions clears and rebuilds the position map — used when the
// coordinator rebuilds positions from a LIVE venue fetch.
func (s *Service) ReplacePositions(positions map[string]*models.PositionSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view.Positions = positions
}

// SetLiveBalances directly assigns account_balance/buying_power/free_cash
// from a LIVE venue balance fetch, bypassing the ApplyTrades recompute —
// used by the coordinator's LIVE balance sync step so buying_power and
// free_cash never go stale between cycles.
func (s *Service) SetLiveBalances(accountBalance, buyingPower, freeCash float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view.AccountBalance = accountBalance
	s.view.BuyingPower = buyingPower
	s.view.FreeCash = freeCash
}

// extractPriceMap pulls a symbol->price map out of market snapshot
// features, preferring price.last then price.close then price.mark then
// funding.mark_price — same priority order the feature pipeline documents
// for the market-snapshot computer's aliased keys.
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

// ApplyTrades mutates position and cash state for each trade in order,
// then recomputes portfolio aggregates. See spec §4.3 for the exact rules;
// this function follows them line for line.
func (s *Service) ApplyTrades(trades []models.TradeHistoryEntry, marketFeatures []models.FeatureVector) {
	s.mu.Lock()
	defer s.mu.Unlock()

	priceMap := extractPriceMap(marketFeatures)
	totalRealized := s.view.TotalRealizedPnL

	for _, trade := range trades {
		symbol := trade.Instrument.Symbol

		var execPrice float64
		switch {
		case trade.AvgExecPrice != nil:
			execPrice = *trade.AvgExecPrice
		case trade.ExitPrice != nil:
			execPrice = *trade.ExitPrice
		case trade.EntryPrice != nil:
			execPrice = *trade.EntryPrice
		}
		price := execPrice
		if price == 0 {
			price = priceMap[symbol]
		}

		delta := trade.Quantity
		quantityDelta := delta
		if trade.Side == models.SideSell {
			quantityDelta = -delta
		}

		position, ok := s.view.Positions[symbol]
		if !ok {
			position = &models.PositionSnapshot{Instrument: trade.Instrument, MarkPrice: price}
			s.view.Positions[symbol] = position
		}

		currentQty := position.Quantity
		avgPrice := position.AvgPrice
		realizedDelta := computeRealizedDelta(trade, currentQty, quantityDelta, avgPrice, price)
		newQty := currentQty + quantityDelta

		position.MarkPrice = price

		switch {
		case newQty == 0:
			// Fully closed: tombstone. Keep avg_price/entry_ts for audit,
			// record closed_ts, zero out unrealized.
			position.Quantity = 0
			position.ClosedTsMs = nowMs()
			position.UnrealizedPnL = 0
			position.UnrealizedPnLPct = 0
		case currentQty == 0:
			// Opening from flat.
			position.Quantity = newQty
			position.AvgPrice = price
			position.EntryTsMs = firstNonZero(derefInt64(trade.EntryTsMs), trade.TradeTsMs, nowMs())
			position.ClosedTsMs = 0
			position.TradeType = tradeTypeOf(newQty)
			if trade.Leverage != nil {
				position.Leverage = *trade.Leverage
			}
		case sameSign(currentQty, newQty):
			if abs(newQty) > abs(currentQty) {
				// Increasing: weighted-average entry price.
				position.AvgPrice = (abs(currentQty)*avgPrice + abs(quantityDelta)*price) / abs(newQty)
				position.Quantity = newQty
				if trade.Leverage != nil {
					prevLev := position.Leverage
					if prevLev == 0 {
						prevLev = *trade.Leverage
					}
					position.Leverage = (abs(currentQty)*prevLev + abs(quantityDelta)**trade.Leverage) / abs(newQty)
				}
			} else {
				// Reducing: keep avg price.
				position.Quantity = newQty
			}
		default:
			// Crossing through zero to the opposite direction: reset.
			position.Quantity = newQty
			position.AvgPrice = price
			position.EntryTsMs = firstNonZero(derefInt64(trade.EntryTsMs), trade.TradeTsMs, nowMs())
			position.TradeType = tradeTypeOf(newQty)
			if trade.Leverage != nil {
				position.Leverage = *trade.Leverage
			}
		}

		notional := price * delta
		fee := 0.0
		if trade.FeeCost != nil {
			fee = *trade.FeeCost
		}

		if s.marketType == models.MarketSpot {
			if trade.Side == models.SideBuy {
				s.view.AccountBalance -= notional
				s.view.AccountBalance -= fee
			} else {
				s.view.AccountBalance += notional
				s.view.AccountBalance -= fee
			}
		} else {
			// Derivatives: cash (wallet balance) only moves by realized PnL
			// and fees. Notional is never deducted from cash.
			s.view.AccountBalance -= fee
			s.view.AccountBalance += realizedDelta
		}

		totalRealized += realizedDelta

		if pos := s.view.Positions[symbol]; pos != nil {
			recomputeUnrealized(pos)
		}
	}

	// Recompute portfolio aggregates.
	var gross, net, unreal float64
	for _, pos := range s.view.Positions {
		if snap, ok := priceMap[pos.Instrument.Symbol]; ok && snap > 0 {
			pos.MarkPrice = snap
		}
		recomputeUnrealized(pos)
		gross += abs(pos.Quantity) * pos.MarkPrice
		net += pos.Quantity * pos.MarkPrice
		unreal += pos.UnrealizedPnL
	}

	s.view.GrossExposure = gross
	s.view.NetExposure = net
	s.view.TotalUnrealizedPnL = unreal
	s.view.TotalRealizedPnL = totalRealized

	var equity float64
	if s.marketType == models.MarketSpot {
		equity = s.view.AccountBalance + net
	} else {
		equity = s.view.AccountBalance + unreal
	}
	s.view.TotalValue = equity

	if s.marketType == models.MarketSpot {
		s.view.BuyingPower = maxf(0, s.view.AccountBalance)
		s.view.FreeCash = maxf(0, s.view.AccountBalance)
		return
	}

	maxLev := 1.0
	if s.view.Constraints != nil && s.view.Constraints.MaxLeverage != nil && *s.view.Constraints.MaxLeverage > 0 {
		maxLev = *s.view.Constraints.MaxLeverage
	}
	s.view.BuyingPower = maxf(0, equity*maxLev-gross)

	var requiredMargin float64
	for _, pos := range s.view.Positions {
		if pos.Quantity == 0 || pos.MarkPrice <= 0 {
			continue
		}
		notionalI := abs(pos.Quantity) * pos.MarkPrice
		levI := pos.Leverage
		if levI <= 0 {
			levI = 1.0
		}
		levI = maxf(1.0, levI)
		requiredMargin += notionalI / levI
	}
	s.view.FreeCash = maxf(0, equity-requiredMargin)
}

// computeRealizedDelta prefers an explicit realized_pnl on the trade, else
// derives it from the portion of the fill that reduces existing exposure,
// with fees allocated proportionally to that reducing portion.
func computeRealizedDelta(trade models.TradeHistoryEntry, currentQty, quantityDelta, avgPrice, fillPrice float64) float64 {
	if trade.RealizedPnL != nil {
		return *trade.RealizedPnL
	}

	var realized, reduction float64
	switch {
	case currentQty > 0 && quantityDelta < 0:
		reduction = minf(abs(quantityDelta), abs(currentQty))
		realized = (fillPrice - avgPrice) * reduction
	case currentQty < 0 && quantityDelta > 0:
		reduction = minf(abs(quantityDelta), abs(currentQty))
		realized = (avgPrice - fillPrice) * reduction
	}

	if reduction > 0 && trade.FeeCost != nil {
		executed := abs(quantityDelta)
		allocation := 1.0
		if executed > 0 {
			allocation = reduction / executed
		}
		realized -= *trade.FeeCost * allocation
	}
	return realized
}

func recomputeUnrealized(pos *models.PositionSnapshot) {
	if pos.AvgPrice != 0 && pos.MarkPrice != 0 {
		pos.UnrealizedPnL = (pos.MarkPrice - pos.AvgPrice) * pos.Quantity
		denom := abs(pos.Quantity) * pos.AvgPrice
		if denom != 0 {
			pos.UnrealizedPnLPct = (pos.UnrealizedPnL / denom) * 100
		} else {
			pos.UnrealizedPnLPct = 0
		}
	} else {
		pos.UnrealizedPnL = 0
		pos.UnrealizedPnLPct = 0
	}
}

func sameSign(a, b float64) bool { return (a > 0 && b > 0) || (a < 0 && b < 0) }

func tradeTypeOf(qty float64) models.TradeType {
	if qty > 0 {
		return models.TradeTypeLong
	}
	return models.TradeTypeShort
}

func derefInt64(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}

func firstNonZero(vals ...int64) int64 {
	for _, v := range vals {
		if v != 0 {
			return v
		}
	}
	return 0
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
