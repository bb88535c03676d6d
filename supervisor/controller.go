// Package supervisor drives one strategy's lifecycle: waiting for an
// external "go" signal, running the decision-cycle loop on a ticker,
// persisting every cycle's results, and finalizing (closing resources,
// recording a stop reason) on shutdown. It is a direct translation of
// _internal/stream_controller.py's StreamController, wired to the
// coordinator package instead of the Python runtime.
package supervisor

import (
	"context"
	"time"

	"tradeengine/coordinator"
	"tradeengine/logger"
	"tradeengine/metrics"
	"tradeengine/models"
)

// ControllerState is the lifecycle state machine: INITIALIZING ->
// WAITING_RUNNING -> RUNNING -> STOPPED.
type ControllerState string

const (
	StateInitializing   ControllerState = "INITIALIZING"
	StateWaitingRunning ControllerState = "WAITING_RUNNING"
	StateRunning        ControllerState = "RUNNING"
	StateStopped        ControllerState = "STOPPED"
)

// Store is the persistence surface the supervisor depends on. The store
// package implements this against sqlite; tests substitute an in-memory
// fake. Every method is expected to be safe to call from the supervised
// goroutine only (no concurrent-call guarantee required).
type Store interface {
	StrategyRunning(ctx context.Context, strategyID string) bool
	HasInitialState(ctx context.Context, strategyID string) bool

	PersistComposeCycle(ctx context.Context, strategyID, composeID string, tsMs int64, cycleIndex int, rationale string) error
	PersistInstructions(ctx context.Context, strategyID, composeID string, instructions []models.TradeInstruction) error
	PersistTradeHistory(ctx context.Context, strategyID string, trade models.TradeHistoryEntry) error
	PersistPortfolioView(ctx context.Context, view models.PortfolioView) error
	PersistStrategySummary(ctx context.Context, summary models.StrategySummary) error

	SetStrategyStatus(ctx context.Context, strategyID string, status models.StrategyStatus) error
	RecordStopReason(ctx context.Context, strategyID string, reason models.StopReason) error
}

// Controller orchestrates one strategy's lifecycle against a Store.
type Controller struct {
	StrategyID  string
	Store       Store
	WaitTimeout time.Duration

	state ControllerState
	log   logger.Logger
}

// NewController builds a Controller. waitTimeout defaults to 300s
// (the reference controller's default) when <= 0.
func NewController(strategyID string, store Store, waitTimeout time.Duration) *Controller {
	if waitTimeout <= 0 {
		waitTimeout = 300 * time.Second
	}
	return &Controller{
		StrategyID:  strategyID,
		Store:       store,
		WaitTimeout: waitTimeout,
		state:       StateInitializing,
		log:         logger.For(strategyID),
	}
}

// State returns the controller's current lifecycle state.
func (c *Controller) State() ControllerState { return c.state }

func (c *Controller) transitionTo(s ControllerState) {
	c.log.Infof("controller %s -> %s", c.state, s)
	c.state = s
}

// WaitRunning blocks until the store reports the strategy as running, the
// context is cancelled, or WaitTimeout elapses — whichever comes first.
// Mirrors wait_running's swallow-everything-and-proceed behavior: a
// timeout or cancellation still transitions to RUNNING so the caller's
// loop starts rather than getting stuck.
func (c *Controller) WaitRunning(ctx context.Context) {
	c.transitionTo(StateWaitingRunning)
	deadline := time.Now().Add(c.WaitTimeout)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for !c.Store.StrategyRunning(ctx, c.StrategyID) {
		if time.Now().After(deadline) {
			c.log.Warnf("timeout waiting for strategy to be marked running (%s)", c.WaitTimeout)
			break
		}
		select {
		case <-ctx.Done():
			c.transitionTo(StateRunning)
			return
		case <-ticker.C:
			c.log.Infof("waiting for strategy to be marked as running")
		}
	}
	c.transitionTo(StateRunning)
	metrics.SetStrategyRunning(c.StrategyID, true)
}

// HasInitialState reports whether an initial portfolio snapshot was
// already persisted, letting a resumed strategy skip re-seeding it.
func (c *Controller) HasInitialState(ctx context.Context) bool {
	return c.Store.HasInitialState(ctx, c.StrategyID)
}

// PersistInitialState persists a zero-trade portfolio snapshot and
// summary before the first decision cycle runs.
func (c *Controller) PersistInitialState(ctx context.Context, coord *coordinator.Coordinator) {
	view := coord.Portfolio.View()
	view.StrategyID = c.StrategyID
	if err := c.Store.PersistPortfolioView(ctx, view); err != nil {
		c.log.Warnf("persist initial portfolio view: %v", err)
	} else {
		c.log.Infof("persisted initial portfolio view")
	}

	summary := coord.Summary(time.Now().UnixMilli())
	if err := c.Store.PersistStrategySummary(ctx, summary); err != nil {
		c.log.Warnf("persist initial strategy summary: %v", err)
	} else {
		c.log.Infof("persisted initial strategy summary")
	}
}

// PersistCycleResults writes one decision cycle's outputs in a fixed
// order — compose cycle and instructions first (so a NOOP cycle is still
// recorded even if trade persistence later fails), then trades, then the
// refreshed portfolio view and summary. Each step logs and continues past
// its own failure rather than aborting the whole persist.
func (c *Controller) PersistCycleResults(ctx context.Context, result models.DecisionCycleResult) {
	if err := c.Store.PersistComposeCycle(ctx, c.StrategyID, result.ComposeID, result.TimestampMs, result.CycleIndex, result.Rationale); err != nil {
		c.log.Warnf("persist compose cycle %s: %v", result.ComposeID, err)
	}

	if err := c.Store.PersistInstructions(ctx, c.StrategyID, result.ComposeID, result.Instructions); err != nil {
		c.log.Warnf("persist instructions for %s: %v", result.ComposeID, err)
	}

	for _, trade := range result.Trades {
		if err := c.Store.PersistTradeHistory(ctx, c.StrategyID, trade); err != nil {
			c.log.Warnf("persist trade %s: %v", trade.TradeID, err)
			continue
		}
		c.log.Infof("persisted trade %s", trade.TradeID)
	}

	view := result.PortfolioView
	view.StrategyID = c.StrategyID
	if err := c.Store.PersistPortfolioView(ctx, view); err != nil {
		c.log.Warnf("persist portfolio view: %v", err)
	}

	if err := c.Store.PersistStrategySummary(ctx, result.StrategySummary); err != nil {
		c.log.Warnf("persist strategy summary: %v", err)
	}
}

// PersistTrades persists a batch of ad-hoc trades (e.g. from a forced
// close-all) outside of a regular decision cycle.
func (c *Controller) PersistTrades(ctx context.Context, trades []models.TradeHistoryEntry) {
	for _, trade := range trades {
		if err := c.Store.PersistTradeHistory(ctx, c.StrategyID, trade); err != nil {
			c.log.Warnf("persist ad-hoc trade %s: %v", trade.TradeID, err)
			continue
		}
		c.log.Infof("persisted ad-hoc trade %s", trade.TradeID)
	}
}

// Finalize closes the coordinator's gateway resources and marks the
// strategy STOPPED with the given reason. All terminal states collapse
// to STOPPED; the detailed reason is preserved in persisted metadata for
// resume decisions, matching the reference controller's simplified
// status model.
func (c *Controller) Finalize(ctx context.Context, coord *coordinator.Coordinator, reason models.StopReason) {
	c.transitionTo(StateStopped)

	if err := coord.Close(ctx); err != nil {
		c.log.Warnf("close coordinator resources: %v", err)
	} else {
		c.log.Infof("closed coordinator resources (reason=%s)", reason)
	}
	metrics.SetStrategyRunning(c.StrategyID, false)

	if err := c.Store.SetStrategyStatus(ctx, c.StrategyID, models.StatusStopped); err != nil {
		c.log.Warnf("set strategy status stopped: %v", err)
	}
	if err := c.Store.RecordStopReason(ctx, c.StrategyID, reason); err != nil {
		c.log.Warnf("record stop reason %s: %v", reason, err)
	}
}

// IsRunning reports whether the store still considers the strategy
// running — the supervised loop's per-tick continue/stop check.
func (c *Controller) IsRunning(ctx context.Context) bool {
	return c.Store.StrategyRunning(ctx, c.StrategyID)
}

// Run drives the supervised decision-cycle loop: waits for the running
// signal, seeds initial state if this is a fresh strategy, then ticks
// RunOnce at cycleInterval until ctx is cancelled or the store reports
// the strategy no longer running. On exit it closes all open positions
// and finalizes with the appropriate stop reason.
func (c *Controller) Run(ctx context.Context, coord *coordinator.Coordinator, cycleInterval time.Duration) models.StopReason {
	c.WaitRunning(ctx)

	if !c.HasInitialState(ctx) {
		c.PersistInitialState(ctx, coord)
	}

	ticker := time.NewTicker(cycleInterval)
	defer ticker.Stop()

	reason := models.StopNormalExit

	if ctx.Err() == nil && c.IsRunning(ctx) {
		c.runCycle(ctx, coord)
	}

loop:
	for {
		select {
		case <-ctx.Done():
			reason = models.StopCancelled
			break loop
		case <-ticker.C:
			if !c.IsRunning(ctx) {
				reason = models.StopNormalExit
				break loop
			}
			c.runCycle(ctx, coord)
		}
	}

	closed := coord.CloseAllPositions(ctx)
	if len(closed) > 0 {
		c.PersistTrades(ctx, closed)
	}
	c.Finalize(ctx, coord, reason)
	return reason
}

func (c *Controller) runCycle(ctx context.Context, coord *coordinator.Coordinator) {
	result, err := coord.RunOnce(ctx)
	if err != nil {
		c.log.Errorf("decision cycle failed: %v", err)
		return
	}
	c.PersistCycleResults(ctx, result)
}
