// Package execution submits normalized TradeInstructions to a venue (or
// simulates fills in Paper mode) and reports back TxResult entries.
package execution

import (
	"context"

	"tradeengine/models"
)

// Balance is one currency's wallet state as reported by a venue.
type Balance struct {
	Free  float64
	Used  float64
	Total float64
}

// Position is a venue-reported open position, normalized enough for the
// coordinator's LIVE position-sync step.
type Position struct {
	Symbol        string
	Quantity      float64 // signed: +long, -short
	EntryPrice    float64
	MarkPrice     float64
	UnrealizedPnL float64
	Leverage      float64
}

// Gateway executes normalized trade instructions against an exchange or
// broker and exposes the account/market read operations the coordinator
// needs for balance sync, position sync, and feature fetching.
type Gateway interface {
	// Execute submits instructions and returns one TxResult per
	// instruction, in the same order. market_features supplies reference
	// prices for the gateways (paper, and venues substituting IoC limits
	// for "market" orders).
	Execute(ctx context.Context, instructions []models.TradeInstruction, marketFeatures []models.FeatureVector) []models.TxResult

	FetchBalance(ctx context.Context) (map[string]Balance, error)
	FetchPositions(ctx context.Context, symbols []string) ([]Position, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	FetchOpenOrders(ctx context.Context, symbol string) ([]string, error)

	// FetchTicker/FetchOHLCV let market.Source delegate to this gateway
	// when the generic client library has no class for the venue.
	FetchTicker(ctx context.Context, symbol string) (TickerData, error)
	FetchOHLCV(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error)

	Close(ctx context.Context) error
}

// TickerData is the raw venue ticker payload a Gateway returns;
// cmd/tradeengine's gatewayMarketAdapter reshapes it into a
// features.TickerSnapshot for the market package.
type TickerData struct {
	TsMs                               int64
	Last, Close, Open, High, Low, Bid, Ask float64
	ChangePct, Volume                 float64
	FundingRate, MarkPrice             float64
	OpenInterest                      float64
}
