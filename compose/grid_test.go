package compose

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"tradeengine/models"
)

func featureVec(symbol string, changePct float64) models.FeatureVector {
	return models.FeatureVector{
		Instrument: models.InstrumentRef{Symbol: symbol},
		Values: map[string]float64{
			"price.last": 100,
			"change_pct": changePct,
		},
		Meta: map[string]string{"interval": "1m"},
	}
}

func baseContext(symbol string, changePct float64) models.ComposeContext {
	return models.ComposeContext{
		ComposeID: "c1",
		Features:  []models.FeatureVector{featureVec(symbol, changePct)},
		Portfolio: models.PortfolioView{
			AccountBalance: 10000,
			TotalValue:     10000,
			Positions:      map[string]*models.PositionSnapshot{},
		},
	}
}

func TestGridComposer_OpensLongOnNegativeStepBreach(t *testing.T) {
	norm := NewNormalizer(models.MarketFuture, 0, nil, nil)
	maxLev := 3.0
	norm.MaxLeverage = &maxLev
	g := NewGridComposer(norm, []string{"BTC-USDT"}, "paper", false, 3.0)

	result := g.Compose(context.Background(), baseContext("BTC-USDT", -0.01))

	require.Len(t, result.Instructions, 1)
	ins := result.Instructions[0]
	require.Equal(t, models.ActionOpenLong, ins.Action)
	require.Equal(t, models.SideBuy, ins.Side)
	require.Greater(t, ins.Quantity, 0.0)
}

func TestGridComposer_NoTradeWithinStepBand(t *testing.T) {
	norm := NewNormalizer(models.MarketFuture, 0, nil, nil)
	g := NewGridComposer(norm, []string{"BTC-USDT"}, "paper", false, 3.0)

	result := g.Compose(context.Background(), baseContext("BTC-USDT", 0.001))
	require.Empty(t, result.Instructions)
}

func TestGridComposer_SkipsSymbolWithNoPriceReference(t *testing.T) {
	norm := NewNormalizer(models.MarketFuture, 0, nil, nil)
	g := NewGridComposer(norm, []string{"ETH-USDT"}, "paper", false, 3.0)

	ctx := baseContext("BTC-USDT", -0.01) // no ETH-USDT price in the feature set
	result := g.Compose(context.Background(), ctx)
	require.Empty(t, result.Instructions)
}
