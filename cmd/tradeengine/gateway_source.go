package main

import (
	"context"

	"tradeengine/execution"
	"tradeengine/features"
	"tradeengine/models"
)

// gatewayMarketAdapter lets market.NewDefaultSource fall back to a
// strategy's own execution gateway for candle/ticker data when no
// dedicated venue client library is wired — every gateway already
// implements FetchOHLCV natively, and FetchTicker only needs its
// TickerData reshaped into a features.TickerSnapshot.
type gatewayMarketAdapter struct {
	gw execution.Gateway
}

func (a gatewayMarketAdapter) FetchOHLCV(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	return a.gw.FetchOHLCV(ctx, symbol, interval, limit)
}

func (a gatewayMarketAdapter) FetchTicker(ctx context.Context, symbol string) (features.TickerSnapshot, error) {
	t, err := a.gw.FetchTicker(ctx, symbol)
	if err != nil {
		return features.TickerSnapshot{}, err
	}
	return features.TickerSnapshot{
		TsMs:            t.TsMs,
		Last:            t.Last,
		HasLast:         t.Last != 0,
		Close:           t.Close,
		HasClose:        t.Close != 0,
		Open:            t.Open,
		HasOpen:         t.Open != 0,
		High:            t.High,
		HasHigh:         t.High != 0,
		Low:             t.Low,
		HasLow:          t.Low != 0,
		Bid:             t.Bid,
		HasBid:          t.Bid != 0,
		Ask:             t.Ask,
		HasAsk:          t.Ask != 0,
		ChangePct:       t.ChangePct,
		HasChangePct:    true,
		Volume:          t.Volume,
		HasVolume:       t.Volume != 0,
		OpenInterest:    t.OpenInterest,
		HasOpenInterest: t.OpenInterest != 0,
		FundingRate:     t.FundingRate,
		HasFundingRate:  t.FundingRate != 0,
		MarkPrice:       t.MarkPrice,
		HasMarkPrice:    t.MarkPrice != 0,
	}, nil
}
