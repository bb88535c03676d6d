package features

import (
	"context"

	"tradeengine/logger"
	"tradeengine/models"
)

// Source is the subset of market.Source the pipeline depends on, declared
// locally to avoid a features -> market import cycle (market already
// imports features for TickerSnapshot).
type Source interface {
	GetRecentCandles(ctx context.Context, symbols []string, interval string, lookback int) []models.Candle
	GetMarketSnapshot(ctx context.Context, symbols []string) map[string]TickerSnapshot
}

// Pipeline builds the full per-cycle feature set: medium-window candle
// features, then micro-window candle features, then market-snapshot
// features, concatenated in that order.
type Pipeline struct {
	Source     Source
	ExchangeID string
	Symbols    []string

	MicroInterval  string
	MicroLookback  int
	MediumInterval string
	MediumLookback int

	candles  *CandleFeatureComputer
	snapshot *MarketSnapshotFeatureComputer
	log      logger.Logger
}

// NewPipeline builds a Pipeline with the source's default windows: micro
// "1s"*180, medium "1m"*240.
func NewPipeline(source Source, exchangeID string, symbols []string) *Pipeline {
	return &Pipeline{
		Source:         source,
		ExchangeID:     exchangeID,
		Symbols:        symbols,
		MicroInterval:  "1s",
		MicroLookback:  180,
		MediumInterval: "1m",
		MediumLookback: 240,
		candles:        NewCandleFeatureComputer(),
		snapshot:       NewMarketSnapshotFeatureComputer(),
		log:            logger.With("component", "features.pipeline"),
	}
}

// Build fetches candles for both windows plus the market snapshot, and
// returns the concatenated feature set (medium, then micro, then
// snapshot; order only matters for downstream grouping legibility).
func (p *Pipeline) Build(ctx context.Context, nowMs int64) []models.FeatureVector {
	mediumCandles := p.Source.GetRecentCandles(ctx, p.Symbols, p.MediumInterval, p.MediumLookback)
	mediumFeatures := p.candles.ComputeFeatures(mediumCandles, nil)
	p.log.Debugf("computed %d medium features from %d candles", len(mediumFeatures), len(mediumCandles))

	microCandles := p.Source.GetRecentCandles(ctx, p.Symbols, p.MicroInterval, p.MicroLookback)
	microFeatures := p.candles.ComputeFeatures(microCandles, nil)
	p.log.Debugf("computed %d micro features from %d candles", len(microFeatures), len(microCandles))

	snapshot := p.Source.GetMarketSnapshot(ctx, p.Symbols)
	snapshotFeatures := p.snapshot.Build(snapshot, p.ExchangeID, nowMs)
	p.log.Debugf("computed %d market snapshot features", len(snapshotFeatures))

	out := make([]models.FeatureVector, 0, len(mediumFeatures)+len(microFeatures)+len(snapshotFeatures))
	out = append(out, mediumFeatures...)
	out = append(out, microFeatures...)
	out = append(out, snapshotFeatures...)

	p.log.Infof("total features generated: %d (medium: %d, micro: %d, snapshot: %d)",
		len(out), len(mediumFeatures), len(microFeatures), len(snapshotFeatures))
	return out
}
