package supervisor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tradeengine/coordinator"
	"tradeengine/execution"
	"tradeengine/features"
	"tradeengine/history"
	"tradeengine/models"
	"tradeengine/portfolio"
)

// fakeStore is an in-memory Store recording every call for assertions.
type fakeStore struct {
	mu sync.Mutex

	running       bool
	hasInitial    bool
	composeCycles int
	instructions  int
	trades        []models.TradeHistoryEntry
	portfolioViews int
	summaries     int
	status        models.StrategyStatus
	stopReason    models.StopReason
}

func (f *fakeStore) StrategyRunning(_ context.Context, _ string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeStore) HasInitialState(_ context.Context, _ string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hasInitial
}

func (f *fakeStore) PersistComposeCycle(_ context.Context, _, _ string, _ int64, _ int, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.composeCycles++
	return nil
}

func (f *fakeStore) PersistInstructions(_ context.Context, _, _ string, _ []models.TradeInstruction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.instructions++
	return nil
}

func (f *fakeStore) PersistTradeHistory(_ context.Context, _ string, trade models.TradeHistoryEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trades = append(f.trades, trade)
	return nil
}

func (f *fakeStore) PersistPortfolioView(_ context.Context, _ models.PortfolioView) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.portfolioViews++
	return nil
}

func (f *fakeStore) PersistStrategySummary(_ context.Context, _ models.StrategySummary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries++
	return nil
}

func (f *fakeStore) SetStrategyStatus(_ context.Context, _ string, status models.StrategyStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = status
	return nil
}

func (f *fakeStore) RecordStopReason(_ context.Context, _ string, reason models.StopReason) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopReason = reason
	return nil
}

// noopSource/noopGateway/noopComposer give the coordinator enough to run
// a cycle that produces no trades.
type noopSource struct{}

func (noopSource) GetRecentCandles(_ context.Context, _ []string, _ string, _ int) []models.Candle {
	return nil
}

func (noopSource) GetMarketSnapshot(_ context.Context, _ []string) map[string]features.TickerSnapshot {
	return nil
}

type noopComposer struct{}

func (noopComposer) Compose(_ context.Context, _ models.ComposeContext) models.ComposeResult {
	return models.ComposeResult{Rationale: "noop"}
}

type noopGateway struct{}

func (noopGateway) Execute(_ context.Context, _ []models.TradeInstruction, _ []models.FeatureVector) []models.TxResult {
	return nil
}
func (noopGateway) FetchBalance(_ context.Context) (map[string]execution.Balance, error) {
	return nil, nil
}
func (noopGateway) FetchPositions(_ context.Context, _ []string) ([]execution.Position, error) {
	return nil, nil
}
func (noopGateway) CancelOrder(_ context.Context, _, _ string) error { return nil }
func (noopGateway) FetchOpenOrders(_ context.Context, _ string) ([]string, error) {
	return nil, nil
}
func (noopGateway) FetchTicker(_ context.Context, _ string) (execution.TickerData, error) {
	return execution.TickerData{}, nil
}
func (noopGateway) FetchOHLCV(_ context.Context, _, _ string, _ int) ([]models.Candle, error) {
	return nil, nil
}
func (noopGateway) Close(_ context.Context) error { return nil }

func newTestCoordinator() *coordinator.Coordinator {
	symbols := []string{"BTC-USDT"}
	pipeline := features.NewPipeline(noopSource{}, "paper", symbols)
	p := portfolio.New("strat-1", 10_000, models.TradingModeVirtual, models.MarketFuture, nil)
	return coordinator.New("strat-1", "test", "paper", models.TradingModeVirtual, models.MarketFuture, symbols, 10_000, p, pipeline, noopComposer{}, noopGateway{}, history.NewRecorder(0), history.NewDigestBuilder(0))
}

func TestWaitRunning_ProceedsOnceStoreReportsRunning(t *testing.T) {
	store := &fakeStore{running: true}
	c := NewController("strat-1", store, time.Second)
	c.WaitRunning(context.Background())
	require.Equal(t, StateRunning, c.State())
}

func TestWaitRunning_TimesOutAndStillProceeds(t *testing.T) {
	store := &fakeStore{running: false}
	c := NewController("strat-1", store, 50*time.Millisecond)
	start := time.Now()
	c.WaitRunning(context.Background())
	require.Equal(t, StateRunning, c.State())
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestPersistCycleResults_WritesInFixedOrder(t *testing.T) {
	store := &fakeStore{}
	c := NewController("strat-1", store, time.Second)

	result := models.DecisionCycleResult{
		ComposeID:   "compose-1",
		TimestampMs: 1,
		CycleIndex:  1,
		Trades: []models.TradeHistoryEntry{
			{TradeID: "t1"},
		},
	}
	c.PersistCycleResults(context.Background(), result)

	require.Equal(t, 1, store.composeCycles)
	require.Equal(t, 1, store.instructions)
	require.Len(t, store.trades, 1)
	require.Equal(t, 1, store.portfolioViews)
	require.Equal(t, 1, store.summaries)
}

func TestFinalize_ClosesAndRecordsStopReason(t *testing.T) {
	store := &fakeStore{}
	c := NewController("strat-1", store, time.Second)
	coord := newTestCoordinator()

	c.Finalize(context.Background(), coord, models.StopCancelled)

	require.Equal(t, StateStopped, c.State())
	require.Equal(t, models.StatusStopped, store.status)
	require.Equal(t, models.StopCancelled, store.stopReason)
}

func TestRun_StopsWhenContextCancelled(t *testing.T) {
	store := &fakeStore{running: true, hasInitial: true}
	c := NewController("strat-1", store, time.Second)
	coord := newTestCoordinator()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	reason := c.Run(ctx, coord, 10*time.Millisecond)
	require.Equal(t, models.StopCancelled, reason)
	require.Equal(t, models.StatusStopped, store.status)
	require.GreaterOrEqual(t, store.composeCycles, 1)
}
