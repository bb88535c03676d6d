package features

import (
	"tradeengine/logger"
	"tradeengine/models"
)

// TickerSnapshot is the normalized per-symbol venue snapshot fed into
// MarketSnapshotFeatureComputer: ticker fields, open interest and funding,
// already flattened out of whatever shape the venue client returned.
type TickerSnapshot struct {
	TsMs int64

	Last, Close, Open, High, Low, Bid, Ask float64
	HasLast, HasClose, HasOpen, HasHigh, HasLow, HasBid, HasAsk bool

	ChangePct    float64
	HasChangePct bool
	Volume       float64
	HasVolume    bool

	OpenInterest    float64
	HasOpenInterest bool

	FundingRate    float64
	HasFundingRate bool
	MarkPrice      float64
	HasMarkPrice   bool
}

// MarketSnapshotFeatureComputer converts a per-symbol TickerSnapshot map
// into FeatureVector items, flattening price/funding/open-interest fields
// under the "price."/"funding." prefixes.
type MarketSnapshotFeatureComputer struct {
	log logger.Logger
}

// NewMarketSnapshotFeatureComputer builds a MarketSnapshotFeatureComputer.
func NewMarketSnapshotFeatureComputer() *MarketSnapshotFeatureComputer {
	return &MarketSnapshotFeatureComputer{log: logger.With("component", "features.market_snapshot")}
}

// Build emits one FeatureVector per symbol with a non-empty snapshot.
func (m *MarketSnapshotFeatureComputer) Build(snapshot map[string]TickerSnapshot, exchangeID string, nowMs int64) []models.FeatureVector {
	out := make([]models.FeatureVector, 0, len(snapshot))

	for symbol, data := range snapshot {
		values := map[string]float64{}

		if data.HasLast {
			values["price.last"] = data.Last
		}
		if data.HasClose {
			values["price.close"] = data.Close
		}
		if data.HasOpen && data.Open != 0 {
			values["price.open"] = data.Open
		}
		if data.HasHigh && data.High != 0 {
			values["price.high"] = data.High
		}
		if data.HasLow && data.Low != 0 {
			values["price.low"] = data.Low
		}
		if data.HasBid {
			values["price.bid"] = data.Bid
		}
		if data.HasAsk {
			values["price.ask"] = data.Ask
		}
		if data.HasChangePct {
			values["price.change_pct"] = data.ChangePct
		}
		if data.HasVolume && data.Volume != 0 {
			values["price.volume"] = data.Volume
		}
		if data.HasOpenInterest {
			values["open_interest"] = data.OpenInterest
		}
		if data.HasFundingRate {
			values["funding.rate"] = data.FundingRate
		}
		if data.HasMarkPrice {
			values["funding.mark_price"] = data.MarkPrice
		}

		if len(values) == 0 {
			m.log.Warnf("no values extracted for %s", symbol)
			continue
		}

		ts := data.TsMs
		if ts == 0 {
			ts = nowMs
		}

		out = append(out, models.FeatureVector{
			TsMs:       ts,
			Instrument: models.InstrumentRef{Symbol: symbol, ExchangeID: exchangeID},
			Values:     values,
			Meta:       map[string]string{GroupByKey: GroupByMarketSnapshot},
		})
	}

	m.log.Debugf("built %d market snapshot features from %d symbols", len(out), len(snapshot))
	return out
}
