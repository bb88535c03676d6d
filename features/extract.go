package features

import "tradeengine/models"

// ExtractMarketSnapshot filters a feature set down to its market-snapshot
// group, the subset execution gateways and the portfolio service price off
// of (candle-derived features carry no current price).
func ExtractMarketSnapshot(features []models.FeatureVector) []models.FeatureVector {
	out := make([]models.FeatureVector, 0, len(features))
	for _, f := range features {
		if f.Meta[GroupByKey] == GroupByMarketSnapshot {
			out = append(out, f)
		}
	}
	return out
}
