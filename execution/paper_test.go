package execution

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"tradeengine/models"
)

func TestPaperGateway_Execute_AppliesDirectionalSlippageAndFee(t *testing.T) {
	gw := NewPaperGateway()
	maxSlip := 100.0 // 1%
	instrs := []models.TradeInstruction{{
		InstructionID:  "i1",
		Instrument:     models.InstrumentRef{Symbol: "BTC-USDT"},
		Side:           models.SideBuy,
		Quantity:       2,
		MaxSlippageBps: &maxSlip,
	}}
	features := []models.FeatureVector{{
		Instrument: models.InstrumentRef{Symbol: "BTC-USDT"},
		Values:     map[string]float64{"price.last": 100},
	}}

	results := gw.Execute(context.Background(), instrs, features)
	require.Len(t, results, 1)
	require.Equal(t, models.TxFilled, results[0].Status)
	require.Equal(t, 2.0, results[0].FilledQty)
	require.InDelta(t, 101.0, *results[0].AvgExecPrice, 1e-9) // 100 * 1.01
	require.NotNil(t, results[0].FeeCost)
	require.Len(t, gw.Executed, 1)
}

func TestPaperGateway_Execute_SellSideAppliesNegativeSlippage(t *testing.T) {
	gw := NewPaperGateway()
	maxSlip := 100.0
	instrs := []models.TradeInstruction{{
		InstructionID:  "i2",
		Instrument:     models.InstrumentRef{Symbol: "BTC-USDT"},
		Side:           models.SideSell,
		Quantity:       1,
		MaxSlippageBps: &maxSlip,
	}}
	features := []models.FeatureVector{{
		Instrument: models.InstrumentRef{Symbol: "BTC-USDT"},
		Values:     map[string]float64{"price.last": 100},
	}}

	results := gw.Execute(context.Background(), instrs, features)
	require.InDelta(t, 99.0, *results[0].AvgExecPrice, 1e-9) // 100 * 0.99
}

func TestPaperGateway_Execute_DerivesSideFromActionWhenUnset(t *testing.T) {
	gw := NewPaperGateway()
	instrs := []models.TradeInstruction{{
		InstructionID: "i3",
		Instrument:    models.InstrumentRef{Symbol: "ETH-USDT"},
		Action:        models.ActionOpenShort,
		Quantity:      1,
	}}
	features := []models.FeatureVector{{
		Instrument: models.InstrumentRef{Symbol: "ETH-USDT"},
		Values:     map[string]float64{"price.last": 50},
	}}

	results := gw.Execute(context.Background(), instrs, features)
	require.Equal(t, models.SideSell, results[0].Side)
}

func TestPaperGateway_FetchBalanceAndPositions_AreNoOps(t *testing.T) {
	gw := NewPaperGateway()
	balances, err := gw.FetchBalance(context.Background())
	require.NoError(t, err)
	require.Empty(t, balances)

	positions, err := gw.FetchPositions(context.Background(), []string{"BTC-USDT"})
	require.NoError(t, err)
	require.Empty(t, positions)
}
