package compose

import (
	"testing"

	"github.com/stretchr/testify/require"

	"tradeengine/models"
)

func TestNormalize_OpenLongEmitsBuyInstructionWithinGuardrails(t *testing.T) {
	norm := NewNormalizer(models.MarketFuture, 0, nil, nil)
	ctx := models.ComposeContext{
		Features: []models.FeatureVector{{
			Instrument: models.InstrumentRef{Symbol: "BTC-USDT"},
			Values:     map[string]float64{"price.last": 100},
		}},
		Portfolio: models.PortfolioView{
			AccountBalance: 10000,
			TotalValue:     10000,
			Positions:      map[string]*models.PositionSnapshot{},
		},
	}
	plan := models.TradePlanProposal{Items: []models.TradeDecisionItem{{
		Instrument: models.InstrumentRef{Symbol: "BTC-USDT"},
		Action:     models.ActionOpenLong,
		TargetQty:  1,
	}}}

	instrs, warnings := norm.Normalize(ctx, plan)
	require.Empty(t, warnings)
	require.Len(t, instrs, 1)
	require.Equal(t, models.SideBuy, instrs[0].Side)
	require.InDelta(t, 1.0, instrs[0].Quantity, 1e-6)
}

func TestNormalize_RejectsBelowMinNotional(t *testing.T) {
	minNotional := 5000.0
	norm := NewNormalizer(models.MarketFuture, 0, nil, nil)
	ctx := models.ComposeContext{
		Features: []models.FeatureVector{{
			Instrument: models.InstrumentRef{Symbol: "BTC-USDT"},
			Values:     map[string]float64{"price.last": 100},
		}},
		Portfolio: models.PortfolioView{
			AccountBalance: 10000,
			TotalValue:     10000,
			Positions:      map[string]*models.PositionSnapshot{},
			Constraints:    &models.Constraints{MinNotional: &minNotional},
		},
	}
	plan := models.TradePlanProposal{Items: []models.TradeDecisionItem{{
		Instrument: models.InstrumentRef{Symbol: "BTC-USDT"},
		Action:     models.ActionOpenLong,
		TargetQty:  1, // 1 * 100 = 100 notional, below the 5000 floor
	}}}

	instrs, warnings := norm.Normalize(ctx, plan)
	require.Empty(t, instrs)
	require.NotEmpty(t, warnings)
}

func TestNormalize_SkipsNewPositionAtMaxPositions(t *testing.T) {
	maxPositions := 1
	norm := NewNormalizer(models.MarketFuture, 0, &maxPositions, nil)
	ctx := models.ComposeContext{
		Features: []models.FeatureVector{
			{Instrument: models.InstrumentRef{Symbol: "ETH-USDT"}, Values: map[string]float64{"price.last": 100}},
		},
		Portfolio: models.PortfolioView{
			AccountBalance: 10000,
			TotalValue:     10000,
			Positions: map[string]*models.PositionSnapshot{
				"BTC-USDT": {Quantity: 1, AvgPrice: 100},
			},
		},
	}
	plan := models.TradePlanProposal{Items: []models.TradeDecisionItem{{
		Instrument: models.InstrumentRef{Symbol: "ETH-USDT"},
		Action:     models.ActionOpenLong,
		TargetQty:  1,
	}}}

	instrs, warnings := norm.Normalize(ctx, plan)
	require.Empty(t, instrs)
	require.Len(t, warnings, 1)
}

func TestNormalize_SpotMarketNeverGoesShort(t *testing.T) {
	norm := NewNormalizer(models.MarketSpot, 0, nil, nil)
	ctx := models.ComposeContext{
		Features: []models.FeatureVector{{
			Instrument: models.InstrumentRef{Symbol: "BTC-USDT"},
			Values:     map[string]float64{"price.last": 100},
		}},
		Portfolio: models.PortfolioView{
			AccountBalance: 10000,
			Positions:      map[string]*models.PositionSnapshot{},
		},
	}
	plan := models.TradePlanProposal{Items: []models.TradeDecisionItem{{
		Instrument: models.InstrumentRef{Symbol: "BTC-USDT"},
		Action:     models.ActionOpenShort,
		TargetQty:  1,
	}}}

	instrs, _ := norm.Normalize(ctx, plan)
	require.Empty(t, instrs)
}
