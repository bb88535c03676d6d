// Package features turns raw candles and market snapshots into the
// FeatureVector values the composer consumes: momentum/volatility
// indicators over the micro/medium candle windows, plus flattened
// ticker/funding/open-interest fields from the venue snapshot.
package features

import (
	"math"
	"sort"

	"tradeengine/models"
)

const (
	// GroupByKey is the FeatureVector.Meta key distinguishing grouping
	// buckets for downstream prompt/grid consumers.
	GroupByKey = "group_by_key"
	// GroupByIntervalPrefix tags candle-derived feature groups by interval.
	GroupByIntervalPrefix = "interval_"
	// GroupByMarketSnapshot tags ticker/funding-derived feature groups.
	GroupByMarketSnapshot = "market_snapshot"
)

// CandleFeatureComputer builds one FeatureVector per instrument from a
// window of candles: EMA(12/26/50), MACD, MACD signal/histogram, RSI(14)
// and Bollinger Bands(20, 2std) computed on the closing series, plus the
// latest close/volume/change_pct.
type CandleFeatureComputer struct{}

// NewCandleFeatureComputer constructs a CandleFeatureComputer.
func NewCandleFeatureComputer() *CandleFeatureComputer {
	return &CandleFeatureComputer{}
}

// ComputeFeatures groups candles by symbol, sorts each group by ts, and
// emits one FeatureVector per symbol using the last point in the window.
func (c *CandleFeatureComputer) ComputeFeatures(candles []models.Candle, extraMeta map[string]string) []models.FeatureVector {
	if len(candles) == 0 {
		return nil
	}

	grouped := make(map[string][]models.Candle)
	for _, cd := range candles {
		grouped[cd.Instrument.Symbol] = append(grouped[cd.Instrument.Symbol], cd)
	}

	out := make([]models.FeatureVector, 0, len(grouped))
	for symbol, series := range grouped {
		sort.Slice(series, func(i, j int) bool { return series[i].TsMs < series[j].TsMs })
		out = append(out, computeOne(symbol, series, extraMeta))
	}
	return out
}

func computeOne(symbol string, series []models.Candle, extraMeta map[string]string) models.FeatureVector {
	closes := make([]float64, len(series))
	for i, cd := range series {
		closes[i] = cd.Close
	}

	last := series[len(series)-1]
	prev := last
	if len(series) > 1 {
		prev = series[len(series)-2]
	}

	changePct := 0.0
	if prev.Close != 0 {
		changePct = (last.Close - prev.Close) / prev.Close
	}

	ema12 := ema(closes, 12)
	ema26 := ema(closes, 26)
	ema50 := ema(closes, 50)

	var macd, macdSignal, macdHistogram float64
	haveMACD := len(closes) >= 26
	if haveMACD {
		macd = ema12 - ema26
		macdSignal = emaOfSeries(macdSeries(closes), 9)
		macdHistogram = macd - macdSignal
	}

	rsi, haveRSI := rsi14(closes)
	bbMiddle, bbUpper, bbLower, haveBB := bollinger(closes, 20, 2.0)

	values := map[string]float64{
		"close":      last.Close,
		"volume":     last.Volume,
		"change_pct": changePct,
	}
	if len(closes) >= 12 {
		values["ema_12"] = ema12
	}
	if len(closes) >= 26 {
		values["ema_26"] = ema26
	}
	if len(closes) >= 50 {
		values["ema_50"] = ema50
	}
	if haveMACD {
		values["macd"] = macd
		values["macd_signal"] = macdSignal
		values["macd_histogram"] = macdHistogram
	}
	if haveRSI {
		values["rsi"] = rsi
	}
	if haveBB {
		values["bb_middle"] = bbMiddle
		values["bb_upper"] = bbUpper
		values["bb_lower"] = bbLower
	}

	meta := map[string]string{
		GroupByKey: GroupByIntervalPrefix + last.Interval,
		"interval": last.Interval,
	}
	for k, v := range extraMeta {
		if _, exists := meta[k]; !exists {
			meta[k] = v
		}
	}

	return models.FeatureVector{
		TsMs:       last.TsMs,
		Instrument: last.Instrument,
		Values:     values,
		Meta:       meta,
	}
}

// ema computes the exponential moving average over the full series using
// an SMA seed over the first `period` points, mirroring the teacher's
// calculateEMA (SMA seed + multiplier walk) rather than pandas' adjust=False
// recursion — both converge on long windows.
func ema(closes []float64, period int) float64 {
	if len(closes) < period {
		return 0
	}
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += closes[i]
	}
	e := sum / float64(period)
	mult := 2.0 / float64(period+1)
	for i := period; i < len(closes); i++ {
		e = (closes[i]-e)*mult + e
	}
	return e
}

// emaOfSeries applies the same EMA walk to an already-derived series (used
// for the MACD signal line), seeding from the first point rather than an
// N-point SMA since short diff series rarely have `period` points to spare.
func emaOfSeries(series []float64, period int) float64 {
	if len(series) == 0 {
		return 0
	}
	mult := 2.0 / float64(period+1)
	e := series[0]
	for i := 1; i < len(series); i++ {
		e = (series[i]-e)*mult + e
	}
	return e
}

// macdSeries returns the running ema12-ema26 difference at each point so a
// signal-line EMA can be computed over it.
func macdSeries(closes []float64) []float64 {
	if len(closes) < 26 {
		return nil
	}
	out := make([]float64, 0, len(closes)-25)
	for i := 26; i <= len(closes); i++ {
		window := closes[:i]
		out = append(out, ema(window, 12)-ema(window, 26))
	}
	return out
}

// rsi14 computes Wilder-smoothed RSI(14) the way the teacher's
// calculateRSI does: seed average gain/loss over the first `period`
// deltas, then smooth the remainder.
func rsi14(closes []float64) (float64, bool) {
	const period = 14
	if len(closes) <= period {
		return 0, false
	}

	var gains, losses float64
	for i := 1; i <= period; i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			gains += change
		} else {
			losses += -change
		}
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)

	for i := period + 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			avgGain = (avgGain*float64(period-1) + change) / float64(period)
			avgLoss = (avgLoss * float64(period-1)) / float64(period)
		} else {
			avgGain = (avgGain * float64(period-1)) / float64(period)
			avgLoss = (avgLoss*float64(period-1) + (-change)) / float64(period)
		}
	}

	if avgLoss == 0 {
		return 100, true
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs)), true
}

// bollinger computes the 20-period SMA and +/-2 stddev bands over the
// last `period` closes.
func bollinger(closes []float64, period int, numStd float64) (middle, upper, lower float64, ok bool) {
	if len(closes) < period {
		return 0, 0, 0, false
	}
	window := closes[len(closes)-period:]
	sum := 0.0
	for _, v := range window {
		sum += v
	}
	mean := sum / float64(period)

	var sq float64
	for _, v := range window {
		d := v - mean
		sq += d * d
	}
	std := math.Sqrt(sq / float64(period-1))

	return mean, mean + std*numStd, mean - std*numStd, true
}
