package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"tradeengine/config"
	"tradeengine/execution"
	"tradeengine/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engine.db")
	s, err := Open(path, "")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGetStrategy_RoundTripsConfigAndCredentials(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := StrategyRecord{
		ID:         "strat-1",
		Name:       "momentum",
		ExchangeID: "binance",
		Config:     config.DefaultStrategyConfig(),
		Credentials: execution.Credentials{
			APIKey:    "key-123",
			APISecret: "secret-456",
		},
	}
	require.NoError(t, s.CreateStrategy(ctx, rec))

	got, err := s.GetStrategy(ctx, "strat-1")
	require.NoError(t, err)
	require.Equal(t, "momentum", got.Name)
	require.Equal(t, "binance", got.ExchangeID)
	require.Equal(t, "key-123", got.Credentials.APIKey)
	require.Equal(t, "secret-456", got.Credentials.APISecret)
	require.Equal(t, models.StatusStopped, got.Status)
	require.Equal(t, rec.Config.Trading.Symbols, got.Config.Trading.Symbols)
}

func TestCreateStrategy_EncryptsCredentialsAtRest(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "engine.db"), "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"[:64])
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	rec := StrategyRecord{ID: "strat-1", Name: "n", Config: config.DefaultStrategyConfig(), Credentials: execution.Credentials{APIKey: "topsecret"}}
	require.NoError(t, s.CreateStrategy(ctx, rec))

	var sealed []byte
	require.NoError(t, s.db.QueryRow(`SELECT credentials_sealed FROM strategies WHERE id = ?`, "strat-1").Scan(&sealed))
	require.NotContains(t, string(sealed), "topsecret")

	got, err := s.GetStrategy(ctx, "strat-1")
	require.NoError(t, err)
	require.Equal(t, "topsecret", got.Credentials.APIKey)
}

func TestDeleteStrategy_CascadesHoldingsAndTrades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := StrategyRecord{ID: "strat-1", Name: "n", Config: config.DefaultStrategyConfig()}
	require.NoError(t, s.CreateStrategy(ctx, rec))

	view := models.PortfolioView{
		StrategyID: "strat-1",
		TsMs:       1,
		Positions: map[string]*models.PositionSnapshot{
			"BTC-USDT": {Instrument: models.InstrumentRef{Symbol: "BTC-USDT"}, Quantity: 1},
		},
	}
	require.NoError(t, s.PersistPortfolioView(ctx, view))
	require.NoError(t, s.PersistTradeHistory(ctx, "strat-1", models.TradeHistoryEntry{TradeID: "t1", Instrument: models.InstrumentRef{Symbol: "BTC-USDT"}}))

	require.NoError(t, s.DeleteStrategy(ctx, "strat-1"))

	var count int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(1) FROM strategy_holdings WHERE strategy_id = ?`, "strat-1").Scan(&count))
	require.Zero(t, count)
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(1) FROM strategy_details WHERE strategy_id = ?`, "strat-1").Scan(&count))
	require.Zero(t, count)
}

func TestStrategyRunningAndHasInitialState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	rec := StrategyRecord{ID: "strat-1", Name: "n", Config: config.DefaultStrategyConfig()}
	require.NoError(t, s.CreateStrategy(ctx, rec))

	require.False(t, s.StrategyRunning(ctx, "strat-1"))
	require.False(t, s.HasInitialState(ctx, "strat-1"))

	require.NoError(t, s.SetStrategyStatus(ctx, "strat-1", models.StatusRunning))
	require.True(t, s.StrategyRunning(ctx, "strat-1"))

	require.NoError(t, s.PersistPortfolioView(ctx, models.PortfolioView{StrategyID: "strat-1", TsMs: 1}))
	require.True(t, s.HasInitialState(ctx, "strat-1"))
}

func TestPersistPortfolioView_ReplacesHoldingsEachCall(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	rec := StrategyRecord{ID: "strat-1", Name: "n", Config: config.DefaultStrategyConfig()}
	require.NoError(t, s.CreateStrategy(ctx, rec))

	view1 := models.PortfolioView{
		StrategyID: "strat-1",
		TsMs:       1,
		Positions: map[string]*models.PositionSnapshot{
			"BTC-USDT": {Instrument: models.InstrumentRef{Symbol: "BTC-USDT"}, Quantity: 1, AvgPrice: 100},
		},
	}
	require.NoError(t, s.PersistPortfolioView(ctx, view1))

	view2 := models.PortfolioView{StrategyID: "strat-1", TsMs: 2, Positions: map[string]*models.PositionSnapshot{}}
	require.NoError(t, s.PersistPortfolioView(ctx, view2))

	snap, err := s.GetLatestPortfolioSnapshot(ctx, "strat-1")
	require.NoError(t, err)
	require.Equal(t, int64(2), snap.TsMs)
	require.Empty(t, snap.Positions)
}

func TestPersistCycleResultsInterface_PersistComposeAndInstructions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	rec := StrategyRecord{ID: "strat-1", Name: "n", Config: config.DefaultStrategyConfig()}
	require.NoError(t, s.CreateStrategy(ctx, rec))

	require.NoError(t, s.PersistComposeCycle(ctx, "strat-1", "compose-1", 10, 1, "because reasons"))
	inst := models.TradeInstruction{InstructionID: "instr-1", ComposeID: "compose-1", Side: models.SideBuy, Quantity: 1}
	require.NoError(t, s.PersistInstructions(ctx, "strat-1", "compose-1", []models.TradeInstruction{inst}))

	got, err := s.ListInstructions(ctx, "compose-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "instr-1", got[0].InstructionID)
}

func TestPersistTradeHistory_UpsertOverwritesExitFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	rec := StrategyRecord{ID: "strat-1", Name: "n", Config: config.DefaultStrategyConfig()}
	require.NoError(t, s.CreateStrategy(ctx, rec))

	entryPrice := 100.0
	trade := models.TradeHistoryEntry{TradeID: "t1", Instrument: models.InstrumentRef{Symbol: "BTC-USDT"}, EntryPrice: &entryPrice}
	require.NoError(t, s.PersistTradeHistory(ctx, "strat-1", trade))

	exitPrice := 110.0
	realized := 10.0
	trade.ExitPrice = &exitPrice
	trade.RealizedPnL = &realized
	trade.Note = "paired_exit_of:t1"
	require.NoError(t, s.PersistTradeHistory(ctx, "strat-1", trade))

	got, err := s.ListTradeHistory(ctx, "strat-1", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NotNil(t, got[0].ExitPrice)
	require.InDelta(t, 110.0, *got[0].ExitPrice, 1e-9)
	require.Equal(t, "paired_exit_of:t1", got[0].Note)
}

func TestPersistStrategySummary_UpsertsAndReads(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	rec := StrategyRecord{ID: "strat-1", Name: "momentum", ExchangeID: "binance", Config: config.DefaultStrategyConfig()}
	require.NoError(t, s.CreateStrategy(ctx, rec))

	require.NoError(t, s.PersistStrategySummary(ctx, models.StrategySummary{StrategyID: "strat-1", RealizedPnL: 42, TotalValue: 10_042}))

	got, err := s.GetStrategySummary(ctx, "strat-1")
	require.NoError(t, err)
	require.Equal(t, "momentum", got.Name)
	require.InDelta(t, 42.0, got.RealizedPnL, 1e-9)
	require.InDelta(t, 10_042.0, got.TotalValue, 1e-9)
}

func TestListRunning_OnlyReturnsRunningStrategies(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateStrategy(ctx, StrategyRecord{ID: "s1", Name: "a", Config: config.DefaultStrategyConfig()}))
	require.NoError(t, s.CreateStrategy(ctx, StrategyRecord{ID: "s2", Name: "b", Config: config.DefaultStrategyConfig()}))
	require.NoError(t, s.SetStrategyStatus(ctx, "s2", models.StatusRunning))

	running, err := s.ListRunning(ctx)
	require.NoError(t, err)
	require.Len(t, running, 1)
	require.Equal(t, "s2", running[0].ID)
}
