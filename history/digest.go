package history

import (
	"math"

	"tradeengine/models"
)

// riskFreeRate is the annualized risk-free rate used in the Sharpe ratio
// calculation.
const riskFreeRate = 0.03

const secondsPerYear = 365 * 24 * 3600

// DigestBuilder builds a compact TradeDigest from a window of recent
// history records: per-instrument trade stats plus a Sharpe ratio derived
// from the equity curve recorded in "compose" records.
type DigestBuilder struct {
	window int
}

// NewDigestBuilder builds a DigestBuilder considering at most the last
// window records (defaults to 50 when window <= 0).
func NewDigestBuilder(window int) *DigestBuilder {
	if window <= 0 {
		window = 50
	}
	return &DigestBuilder{window: window}
}

// Build distills records into a TradeDigest. Only the most recent window
// records are considered.
func (b *DigestBuilder) Build(records []models.HistoryRecord, nowMs int64) models.TradeDigest {
	recent := records
	if len(recent) > b.window {
		recent = recent[len(recent)-b.window:]
	}

	byInstrument := make(map[string]models.TradeDigestEntry)
	stats := make(map[string]*instrumentStats)

	for _, rec := range recent {
		if rec.Kind != "execution" {
			continue
		}
		trades, ok := rec.Payload["trades"].([]models.TradeHistoryEntry)
		if !ok {
			continue
		}
		for _, trade := range trades {
			applyTrade(byInstrument, stats, trade)
		}
	}

	finalize(byInstrument, stats)

	timestamp := nowMs
	if len(recent) > 0 {
		timestamp = recent[len(recent)-1].TsMs
	}

	digest := models.TradeDigest{TsMs: timestamp, ByInstrument: byInstrument}
	if sharpe := b.sharpeRatio(recent); sharpe != nil {
		digest.SharpeRatio = sharpe
	}
	return digest
}

type instrumentStats struct {
	wins, losses           int
	holdingMsSum           int64
	holdingMsCount         int64
}

func applyTrade(byInstrument map[string]models.TradeDigestEntry, stats map[string]*instrumentStats, trade models.TradeHistoryEntry) {
	symbol := trade.Instrument.Symbol
	if symbol == "" {
		return
	}
	entry, ok := byInstrument[symbol]
	if !ok {
		entry = models.TradeDigestEntry{Instrument: trade.Instrument}
		stats[symbol] = &instrumentStats{}
	}
	entry.TradeCount++
	if trade.RealizedPnL != nil {
		entry.RealizedPnL += *trade.RealizedPnL
	}
	if trade.TradeTsMs != 0 {
		ts := trade.TradeTsMs
		entry.LastTradeTsMs = &ts
	}
	byInstrument[symbol] = entry

	st := stats[symbol]
	if outcome := outcomePnL(trade); outcome != nil {
		switch {
		case *outcome > 0:
			st.wins++
		case *outcome < 0:
			st.losses++
		}
	}
	if trade.HoldingMs != nil {
		st.holdingMsSum += *trade.HoldingMs
		st.holdingMsCount++
	}
}

// outcomePnL prefers a PnL derived from entry/exit price and the closed
// quantity (robust to partial closes); falls back to the recorded realized
// PnL. Pure opens (no exit fields) are excluded so fee-only negative
// realized PnL doesn't get counted as a loss.
func outcomePnL(trade models.TradeHistoryEntry) *float64 {
	hasExit := trade.ExitTsMs != nil || trade.ExitPrice != nil || trade.NotionalExit != nil
	if !hasExit {
		return nil
	}

	var closeQty float64
	if trade.ExitPrice != nil && trade.NotionalExit != nil && *trade.ExitPrice > 0 {
		closeQty = *trade.NotionalExit / *trade.ExitPrice
	}
	if closeQty <= 0 {
		closeQty = trade.Quantity
	}

	if trade.EntryPrice != nil && trade.ExitPrice != nil && closeQty > 0 {
		var pnl float64
		switch trade.Type {
		case models.TradeTypeLong:
			pnl = (*trade.ExitPrice - *trade.EntryPrice) * closeQty
		case models.TradeTypeShort:
			pnl = (*trade.EntryPrice - *trade.ExitPrice) * closeQty
		default:
			return trade.RealizedPnL
		}
		return &pnl
	}
	return trade.RealizedPnL
}

func finalize(byInstrument map[string]models.TradeDigestEntry, stats map[string]*instrumentStats) {
	for symbol, entry := range byInstrument {
		st := stats[symbol]
		if st == nil {
			continue
		}
		if denom := st.wins + st.losses; denom > 0 {
			rate := float64(st.wins) / float64(denom)
			entry.WinRate = &rate
		}
		if st.holdingMsCount > 0 {
			avg := st.holdingMsSum / st.holdingMsCount
			entry.AvgHoldingMs = &avg
		}
		byInstrument[symbol] = entry
	}
}

// sharpeRatio derives a Sharpe ratio from the equity curve recorded in
// "compose" records' StrategySummary.TotalValue, annualized using the
// records' actual average spacing.
func (b *DigestBuilder) sharpeRatio(records []models.HistoryRecord) *float64 {
	if len(records) < 2 {
		return nil
	}

	var equities []float64
	var timestamps []int64
	for _, rec := range records {
		if rec.Kind != "compose" {
			continue
		}
		summary, ok := rec.Payload["summary"].(models.StrategySummary)
		if !ok || summary.TotalValue <= 0 {
			continue
		}
		equities = append(equities, summary.TotalValue)
		timestamps = append(timestamps, rec.TsMs)
	}
	if len(equities) < 2 {
		return nil
	}

	var intervalSum float64
	var intervalCount int
	for i := 1; i < len(timestamps); i++ {
		interval := float64(timestamps[i]-timestamps[i-1]) / 1000.0
		if interval > 0 {
			intervalSum += interval
			intervalCount++
		}
	}
	if intervalCount == 0 {
		return nil
	}
	avgPeriodSeconds := intervalSum / float64(intervalCount)
	periodsPerYear := secondsPerYear / avgPeriodSeconds

	var returns []float64
	for i := 1; i < len(equities); i++ {
		if equities[i-1] > 0 {
			returns = append(returns, (equities[i]-equities[i-1])/equities[i-1])
		}
	}
	if len(returns) < 2 {
		return nil
	}

	mean := average(returns)
	std := sampleStdDev(returns, mean)
	if std <= 0 {
		return nil
	}

	periodRiskFree := riskFreeRate / periodsPerYear
	sharpe := (mean - periodRiskFree) / std
	return &sharpe
}

func average(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func sampleStdDev(xs []float64, mean float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var sumSq float64
	for _, x := range xs {
		d := x - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(xs)-1))
}
