package portfolio

import (
	"testing"

	"github.com/stretchr/testify/require"

	"tradeengine/models"
)

func ptr(v float64) *float64 { return &v }

func TestApplyTrades_SpotRoundTrip(t *testing.T) {
	// Mirrors scenario S1: spot round trip with fees ignored for price math.
	svc := New("s1", 10_000, models.TradingModeVirtual, models.MarketSpot, nil)

	open := models.TradeHistoryEntry{
		Instrument:   models.InstrumentRef{Symbol: "BTCUSDT"},
		Side:         models.SideBuy,
		Type:         models.TradeTypeLong,
		Quantity:     0.1,
		AvgExecPrice: ptr(20_000),
	}
	svc.ApplyTrades([]models.TradeHistoryEntry{open}, nil)

	view := svc.View()
	pos := view.Positions["BTCUSDT"]
	require.NotNil(t, pos)
	require.InDelta(t, 0.1, pos.Quantity, 1e-9)
	require.InDelta(t, 20_000, pos.AvgPrice, 1e-9)
	require.InDelta(t, 10_000-0.1*20_000, view.AccountBalance, 1e-6)

	closeTrade := models.TradeHistoryEntry{
		Instrument:   models.InstrumentRef{Symbol: "BTCUSDT"},
		Side:         models.SideSell,
		Type:         models.TradeTypeLong,
		Quantity:     0.1,
		AvgExecPrice: ptr(22_000),
	}
	svc.ApplyTrades([]models.TradeHistoryEntry{closeTrade}, nil)

	view = svc.View()
	pos = view.Positions["BTCUSDT"]
	require.InDelta(t, 0, pos.Quantity, 1e-9)
	require.NotZero(t, pos.ClosedTsMs)
	require.InDelta(t, 10_000+(22_000-20_000)*0.1, view.AccountBalance, 1e-6)
}

func TestApplyTrades_DerivativesDirectionFlip(t *testing.T) {
	lev := 5.0
	constraints := &models.Constraints{MaxLeverage: &lev}
	svc := New("s2", 10_000, models.TradingModeVirtual, models.MarketSwap, constraints)

	short := models.TradeHistoryEntry{
		Instrument:   models.InstrumentRef{Symbol: "ETHUSDT"},
		Side:         models.SideSell,
		Quantity:     3,
		AvgExecPrice: ptr(100),
		Leverage:     ptr(2),
	}
	svc.ApplyTrades([]models.TradeHistoryEntry{short}, nil)
	pos := svc.View().Positions["ETHUSDT"]
	require.InDelta(t, -3, pos.Quantity, 1e-9)

	flip := models.TradeHistoryEntry{
		Instrument:   models.InstrumentRef{Symbol: "ETHUSDT"},
		Side:         models.SideBuy,
		Quantity:     8,
		AvgExecPrice: ptr(100),
		Leverage:     ptr(2),
	}
	svc.ApplyTrades([]models.TradeHistoryEntry{flip}, nil)
	pos = svc.View().Positions["ETHUSDT"]
	require.InDelta(t, 5, pos.Quantity, 1e-9)
	require.InDelta(t, 100, pos.AvgPrice, 1e-9)
	require.Equal(t, models.TradeTypeLong, pos.TradeType)
}

func TestApplyTrades_RealizedPnLExplicitWins(t *testing.T) {
	svc := New("s3", 1_000, models.TradingModeVirtual, models.MarketSwap, nil)
	trade := models.TradeHistoryEntry{
		Instrument:   models.InstrumentRef{Symbol: "SOLUSDT"},
		Side:         models.SideBuy,
		Quantity:     1,
		AvgExecPrice: ptr(10),
		RealizedPnL:  ptr(42),
	}
	svc.ApplyTrades([]models.TradeHistoryEntry{trade}, nil)
	require.InDelta(t, 1_000+42, svc.View().AccountBalance, 1e-9)
}

func TestApplyTrades_BuyingPowerAndFreeCashBounds(t *testing.T) {
	lev := 3.0
	constraints := &models.Constraints{MaxLeverage: &lev}
	svc := New("s4", 10_000, models.TradingModeVirtual, models.MarketSwap, constraints)

	trade := models.TradeHistoryEntry{
		Instrument:   models.InstrumentRef{Symbol: "BTCUSDT"},
		Side:         models.SideBuy,
		Quantity:     1,
		AvgExecPrice: ptr(1_000),
		Leverage:     ptr(2),
	}
	svc.ApplyTrades([]models.TradeHistoryEntry{trade}, nil)
	view := svc.View()
	require.GreaterOrEqual(t, view.BuyingPower, 0.0)
	require.LessOrEqual(t, view.BuyingPower, view.TotalValue*lev)
	require.GreaterOrEqual(t, view.FreeCash, 0.0)
	require.LessOrEqual(t, view.FreeCash, view.TotalValue)
}
