package history

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeengine/models"
)

func ptr(v float64) *float64 { return &v }
func ptrI(v int64) *int64    { return &v }

func TestDigestBuilder_AggregatesPerInstrument(t *testing.T) {
	b := NewDigestBuilder(50)
	instrument := models.InstrumentRef{Symbol: "BTC-USDT", ExchangeID: "binance"}

	records := []models.HistoryRecord{
		{
			TsMs: 1_000, Kind: "execution",
			Payload: map[string]any{"trades": []models.TradeHistoryEntry{
				{
					Instrument: instrument, Type: models.TradeTypeLong, Quantity: 1,
					EntryPrice: ptr(100), ExitPrice: ptr(110), NotionalExit: ptr(110),
					ExitTsMs: ptrI(1_500), TradeTsMs: 1_500, HoldingMs: ptrI(500),
					RealizedPnL: ptr(10),
				},
			}},
		},
		{
			TsMs: 2_000, Kind: "execution",
			Payload: map[string]any{"trades": []models.TradeHistoryEntry{
				{
					Instrument: instrument, Type: models.TradeTypeLong, Quantity: 1,
					EntryPrice: ptr(100), ExitPrice: ptr(90), NotionalExit: ptr(90),
					ExitTsMs: ptrI(2_200), TradeTsMs: 2_200, HoldingMs: ptrI(700),
					RealizedPnL: ptr(-10),
				},
			}},
		},
	}

	digest := b.Build(records, 9_999)
	require.Contains(t, digest.ByInstrument, "BTC-USDT")
	entry := digest.ByInstrument["BTC-USDT"]
	assert.Equal(t, 2, entry.TradeCount)
	assert.Equal(t, 0.0, entry.RealizedPnL)
	require.NotNil(t, entry.WinRate)
	assert.InDelta(t, 0.5, *entry.WinRate, 1e-9)
	require.NotNil(t, entry.AvgHoldingMs)
	assert.Equal(t, int64(600), *entry.AvgHoldingMs)
	assert.Equal(t, int64(2_000), digest.TsMs)
}

func TestDigestBuilder_SkipsPureOpensForWinLoss(t *testing.T) {
	b := NewDigestBuilder(50)
	instrument := models.InstrumentRef{Symbol: "ETH-USDT"}

	records := []models.HistoryRecord{
		{
			TsMs: 1_000, Kind: "execution",
			Payload: map[string]any{"trades": []models.TradeHistoryEntry{
				{Instrument: instrument, Quantity: 1, RealizedPnL: ptr(-0.5)},
			}},
		},
	}

	digest := b.Build(records, 0)
	entry := digest.ByInstrument["ETH-USDT"]
	assert.Equal(t, 1, entry.TradeCount)
	assert.Nil(t, entry.WinRate, "pure opens carry no win/loss signal")
}

func TestDigestBuilder_SharpeRatioRequiresVolatility(t *testing.T) {
	b := NewDigestBuilder(50)
	records := []models.HistoryRecord{
		{TsMs: 0, Kind: "compose", Payload: map[string]any{"summary": models.StrategySummary{TotalValue: 1000}}},
		{TsMs: 60_000, Kind: "compose", Payload: map[string]any{"summary": models.StrategySummary{TotalValue: 1000}}},
		{TsMs: 120_000, Kind: "compose", Payload: map[string]any{"summary": models.StrategySummary{TotalValue: 1000}}},
	}
	digest := b.Build(records, 0)
	assert.Nil(t, digest.SharpeRatio, "zero-volatility equity curve has no defined Sharpe ratio")
}

func TestDigestBuilder_SharpeRatioComputedWithEnoughReturns(t *testing.T) {
	b := NewDigestBuilder(50)
	records := []models.HistoryRecord{
		{TsMs: 0, Kind: "compose", Payload: map[string]any{"summary": models.StrategySummary{TotalValue: 1000}}},
		{TsMs: 60_000, Kind: "compose", Payload: map[string]any{"summary": models.StrategySummary{TotalValue: 1010}}},
		{TsMs: 120_000, Kind: "compose", Payload: map[string]any{"summary": models.StrategySummary{TotalValue: 990}}},
	}
	digest := b.Build(records, 0)
	require.NotNil(t, digest.SharpeRatio)
}

func TestDigestBuilder_WindowTruncatesToMostRecent(t *testing.T) {
	b := NewDigestBuilder(1)
	instrument := models.InstrumentRef{Symbol: "BTC-USDT"}
	records := []models.HistoryRecord{
		{TsMs: 1, Kind: "execution", Payload: map[string]any{"trades": []models.TradeHistoryEntry{
			{Instrument: instrument, Quantity: 1},
		}}},
		{TsMs: 2, Kind: "execution", Payload: map[string]any{"trades": []models.TradeHistoryEntry{}}},
	}
	digest := b.Build(records, 0)
	assert.NotContains(t, digest.ByInstrument, "BTC-USDT", "window=1 should only see the last record")
}
