package coordinator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"tradeengine/execution"
	"tradeengine/features"
	"tradeengine/history"
	"tradeengine/models"
	"tradeengine/portfolio"
)

// fakeSource feeds the feature pipeline a fixed market snapshot and no
// candles, just enough to exercise snapshot-feature extraction.
type fakeSource struct {
	prices map[string]float64
}

func (f *fakeSource) GetRecentCandles(_ context.Context, _ []string, _ string, _ int) []models.Candle {
	return nil
}

func (f *fakeSource) GetMarketSnapshot(_ context.Context, symbols []string) map[string]features.TickerSnapshot {
	out := map[string]features.TickerSnapshot{}
	for _, s := range symbols {
		price, ok := f.prices[s]
		if !ok {
			continue
		}
		out[s] = features.TickerSnapshot{Last: price, HasLast: true}
	}
	return out
}

// fakeComposer returns a canned ComposeResult regardless of context.
type fakeComposer struct {
	result models.ComposeResult
}

func (f *fakeComposer) Compose(_ context.Context, _ models.ComposeContext) models.ComposeResult {
	return f.result
}

// fakeGateway returns a canned TxResult per instruction, one-to-one.
type fakeGateway struct {
	results []models.TxResult
}

func (f *fakeGateway) Execute(_ context.Context, instructions []models.TradeInstruction, _ []models.FeatureVector) []models.TxResult {
	if f.results != nil {
		return f.results
	}
	out := make([]models.TxResult, len(instructions))
	for i, inst := range instructions {
		px := 100.0
		out[i] = models.TxResult{
			InstructionID: inst.InstructionID,
			Instrument:    inst.Instrument,
			Side:          inst.Side,
			RequestedQty:  inst.Quantity,
			FilledQty:     inst.Quantity,
			AvgExecPrice:  &px,
			Status:        models.TxFilled,
		}
	}
	return out
}

func (f *fakeGateway) FetchBalance(_ context.Context) (map[string]execution.Balance, error) {
	return map[string]execution.Balance{"USDT": {Free: 9_000, Total: 9_000}}, nil
}

func (f *fakeGateway) FetchPositions(_ context.Context, _ []string) ([]execution.Position, error) {
	return nil, nil
}

func (f *fakeGateway) CancelOrder(_ context.Context, _, _ string) error { return nil }

func (f *fakeGateway) FetchOpenOrders(_ context.Context, _ string) ([]string, error) { return nil, nil }

func (f *fakeGateway) FetchTicker(_ context.Context, _ string) (execution.TickerData, error) {
	return execution.TickerData{}, nil
}

func (f *fakeGateway) FetchOHLCV(_ context.Context, _, _ string, _ int) ([]models.Candle, error) {
	return nil, nil
}

func (f *fakeGateway) Close(_ context.Context) error { return nil }

func newTestCoordinator(composer *fakeComposer, gateway *fakeGateway) *Coordinator {
	symbols := []string{"BTC-USDT"}
	src := &fakeSource{prices: map[string]float64{"BTC-USDT": 100}}
	pipeline := features.NewPipeline(src, "paper", symbols)
	p := portfolio.New("strat-1", 10_000, models.TradingModeVirtual, models.MarketFuture, nil)
	recorder := history.NewRecorder(0)
	digests := history.NewDigestBuilder(0)
	return New("strat-1", "test-strategy", "paper", models.TradingModeVirtual, models.MarketFuture, symbols, 10_000, p, pipeline, composer, gateway, recorder, digests)
}

func ptr(v float64) *float64 { return &v }

func TestRunOnce_OpensPositionAndRecordsHistory(t *testing.T) {
	lev := 1.0
	conf := 0.8
	composer := &fakeComposer{result: models.ComposeResult{
		Instructions: []models.TradeInstruction{{
			InstructionID: "inst-1",
			Instrument:    models.InstrumentRef{Symbol: "BTC-USDT", ExchangeID: "paper"},
			Action:        models.ActionOpenLong,
			Side:          models.SideBuy,
			Quantity:      1,
			PriceMode:     models.PriceMarket,
			Leverage:      &lev,
			Meta:          map[string]string{"rationale": "test open"},
		}},
		Rationale: "opening",
	}}
	_ = conf
	gw := &fakeGateway{}
	c := newTestCoordinator(composer, gw)

	result, err := c.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.CycleIndex)
	require.Len(t, result.Trades, 1)
	require.Equal(t, models.TradeTypeLong, result.Trades[0].Type)
	require.NotNil(t, result.Trades[0].EntryPrice)
	require.InDelta(t, 100, *result.Trades[0].EntryPrice, 1e-9)
	require.Len(t, result.HistoryRecords, 4)

	pos := result.PortfolioView.Positions["BTC-USDT"]
	require.NotNil(t, pos)
	require.InDelta(t, 1, pos.Quantity, 1e-9)
}

func TestRunOnce_PartitionsRejectedInstructions(t *testing.T) {
	composer := &fakeComposer{result: models.ComposeResult{
		Instructions: []models.TradeInstruction{{
			InstructionID: "inst-1",
			Instrument:    models.InstrumentRef{Symbol: "BTC-USDT", ExchangeID: "paper"},
			Action:        models.ActionOpenLong,
			Side:          models.SideBuy,
			Quantity:      1,
			PriceMode:     models.PriceMarket,
		}},
		Rationale: "opening",
	}}
	gw := &fakeGateway{results: []models.TxResult{{
		InstructionID: "inst-1",
		Instrument:    models.InstrumentRef{Symbol: "BTC-USDT", ExchangeID: "paper"},
		Status:        models.TxRejected,
		Reason:        "insufficient margin",
	}}}
	c := newTestCoordinator(composer, gw)

	result, err := c.RunOnce(context.Background())
	require.NoError(t, err)
	require.Empty(t, result.Trades)
	require.Empty(t, result.Instructions)
	require.Contains(t, result.Rationale, "Execution Warnings")
	require.Contains(t, result.Rationale, "insufficient margin")
}

func TestRunOnce_ClosesAndPairsExit(t *testing.T) {
	openComposer := &fakeComposer{result: models.ComposeResult{
		Instructions: []models.TradeInstruction{{
			InstructionID: "inst-open",
			Instrument:    models.InstrumentRef{Symbol: "BTC-USDT", ExchangeID: "paper"},
			Action:        models.ActionOpenLong,
			Side:          models.SideBuy,
			Quantity:      2,
			PriceMode:     models.PriceMarket,
		}},
	}}
	gwOpen := &fakeGateway{results: []models.TxResult{{
		InstructionID: "inst-open",
		Instrument:    models.InstrumentRef{Symbol: "BTC-USDT", ExchangeID: "paper"},
		Side:          models.SideBuy,
		FilledQty:     2,
		AvgExecPrice:  ptr(100),
		Status:        models.TxFilled,
	}}}
	c := newTestCoordinator(openComposer, gwOpen)
	_, err := c.RunOnce(context.Background())
	require.NoError(t, err)

	closeComposer := &fakeComposer{result: models.ComposeResult{
		Instructions: []models.TradeInstruction{{
			InstructionID: "inst-close",
			Instrument:    models.InstrumentRef{Symbol: "BTC-USDT", ExchangeID: "paper"},
			Action:        models.ActionCloseLong,
			Side:          models.SideSell,
			Quantity:      1,
			PriceMode:     models.PriceMarket,
		}},
	}}
	c.Composer = closeComposer
	c.Gateway = &fakeGateway{results: []models.TxResult{{
		InstructionID: "inst-close",
		Instrument:    models.InstrumentRef{Symbol: "BTC-USDT", ExchangeID: "paper"},
		Side:          models.SideSell,
		FilledQty:     1,
		AvgExecPrice:  ptr(110),
		Status:        models.TxFilled,
	}}}

	result, err := c.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Trades, 1)
	closeTrade := result.Trades[0]
	require.NotNil(t, closeTrade.RealizedPnL)
	require.InDelta(t, 10, *closeTrade.RealizedPnL, 1e-9) // (110-100)*1
	require.NotEmpty(t, closeTrade.Note)
	require.Contains(t, closeTrade.Note, "paired_exit_of:")

	pos := result.PortfolioView.Positions["BTC-USDT"]
	require.NotNil(t, pos)
	require.InDelta(t, 1, pos.Quantity, 1e-9)
}

func TestCloseAllPositions_ClosesEveryNonzeroPosition(t *testing.T) {
	openComposer := &fakeComposer{result: models.ComposeResult{
		Instructions: []models.TradeInstruction{{
			InstructionID: "inst-open",
			Instrument:    models.InstrumentRef{Symbol: "BTC-USDT", ExchangeID: "paper"},
			Action:        models.ActionOpenLong,
			Side:          models.SideBuy,
			Quantity:      1,
			PriceMode:     models.PriceMarket,
		}},
	}}
	gwOpen := &fakeGateway{results: []models.TxResult{{
		InstructionID: "inst-open",
		Instrument:    models.InstrumentRef{Symbol: "BTC-USDT", ExchangeID: "paper"},
		Side:          models.SideBuy,
		FilledQty:     1,
		AvgExecPrice:  ptr(100),
		Status:        models.TxFilled,
	}}}
	c := newTestCoordinator(openComposer, gwOpen)
	_, err := c.RunOnce(context.Background())
	require.NoError(t, err)

	c.Gateway = &fakeGateway{results: []models.TxResult{{
		InstructionID: "close-all",
		Instrument:    models.InstrumentRef{Symbol: "BTC-USDT", ExchangeID: "paper"},
		Side:          models.SideSell,
		FilledQty:     1,
		AvgExecPrice:  ptr(105),
		Status:        models.TxFilled,
	}}}

	trades := c.CloseAllPositions(context.Background())
	require.Len(t, trades, 1)
	require.InDelta(t, 1, trades[0].Quantity, 1e-9)

	view := c.Portfolio.View()
	pos := view.Positions["BTC-USDT"]
	require.NotNil(t, pos)
	require.InDelta(t, 0, pos.Quantity, 1e-9)
}

func TestCloseAllPositions_NoPositionsReturnsNil(t *testing.T) {
	c := newTestCoordinator(&fakeComposer{}, &fakeGateway{})
	trades := c.CloseAllPositions(context.Background())
	require.Nil(t, trades)
}

// liveBalanceGateway reports a fixed free/total balance and no positions,
// standing in for a venue response in LIVE mode.
type liveBalanceGateway struct {
	fakeGateway
	free, total float64
}

func (g *liveBalanceGateway) FetchBalance(_ context.Context) (map[string]execution.Balance, error) {
	return map[string]execution.Balance{"USDT": {Free: g.free, Total: g.total}}, nil
}

func TestSyncLiveAccount_SwapSyncSetsBuyingPowerAndFreeCashFromFreeBalance(t *testing.T) {
	symbols := []string{"BTC-USDT"}
	src := &fakeSource{prices: map[string]float64{"BTC-USDT": 100}}
	pipeline := features.NewPipeline(src, "paper", symbols)
	p := portfolio.New("strat-1", 10_000, models.TradingModeLive, models.MarketFuture, nil)
	recorder := history.NewRecorder(0)
	digests := history.NewDigestBuilder(0)
	gw := &liveBalanceGateway{free: 500, total: 700}
	c := New("strat-1", "test-strategy", "paper", models.TradingModeLive, models.MarketFuture, symbols, 10_000, p, pipeline, &fakeComposer{}, gw, recorder, digests)

	err := c.syncLiveAccount(context.Background())
	require.NoError(t, err)

	view := c.Portfolio.View()
	require.InDelta(t, 700, view.AccountBalance, 1e-9)
	require.InDelta(t, 500, view.FreeCash, 1e-9)
	require.InDelta(t, 500, view.BuyingPower, 1e-9)
}
