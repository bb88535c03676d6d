package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"tradeengine/compose"
	"tradeengine/coordinator"
	"tradeengine/execution"
	"tradeengine/features"
	"tradeengine/logger"
	"tradeengine/market"
	"tradeengine/models"
	"tradeengine/portfolio"
	"tradeengine/store"
	"tradeengine/supervisor"
)

// runtime owns every strategy currently under supervision and implements
// api.Launcher so the HTTP layer can start/stop strategies without
// knowing how a coordinator or gateway gets built.
type runtime struct {
	store *store.Store
	log   logger.Logger

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

func newRuntime(st *store.Store) *runtime {
	return &runtime{
		store:   st,
		log:     logger.With("component", "cmd.tradeengine"),
		running: make(map[string]context.CancelFunc),
	}
}

// Launch builds a fresh coordinator for the strategy, seeded from its
// configured initial capital, and starts its supervised loop in a
// goroutine. Idempotent: a strategy already running is left alone.
func (r *runtime) Launch(strategyID string) error {
	return r.launch(strategyID, false)
}

// launch is Launch's resume-aware implementation. On resume=true it
// recovers the ledger's starting capital from the strategy's latest
// persisted portfolio snapshot instead of its originally configured
// initial capital, the auto-resume-on-startup behavior: a process
// restart picks back up from where the ledger actually was, not from
// scratch.
func (r *runtime) launch(strategyID string, resume bool) error {
	r.mu.Lock()
	if _, ok := r.running[strategyID]; ok {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	ctx := context.Background()
	rec, err := r.store.GetStrategy(ctx, strategyID)
	if err != nil {
		return fmt.Errorf("load strategy %s: %w", strategyID, err)
	}

	var initialCapitalOverride *float64
	if resume {
		snapshot, err := r.store.GetLatestPortfolioSnapshot(ctx, strategyID)
		switch {
		case err == nil:
			v := snapshot.TotalValue
			initialCapitalOverride = &v
		case errors.Is(err, store.ErrNotFound):
			// No prior snapshot: fall back to the configured capital.
		default:
			return fmt.Errorf("load portfolio snapshot for %s: %w", strategyID, err)
		}
	}

	coord, err := buildCoordinator(rec, initialCapitalOverride)
	if err != nil {
		return fmt.Errorf("build coordinator for %s: %w", strategyID, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.running[strategyID] = cancel
	r.mu.Unlock()

	ctrl := supervisor.NewController(strategyID, r.store, time.Duration(0))
	cycleInterval := time.Duration(rec.Config.Trading.CycleIntervalSec) * time.Second
	if cycleInterval <= 0 {
		cycleInterval = 60 * time.Second
	}

	go func() {
		reason := ctrl.Run(ctx, coord, cycleInterval)
		r.log.Infof("strategy %s stopped (%s)", strategyID, reason)
		r.mu.Lock()
		delete(r.running, strategyID)
		r.mu.Unlock()
	}()

	r.log.Infof("launched strategy %s (%s/%s)", strategyID, rec.ExchangeID, rec.Config.Model.ModelID)
	return nil
}

// Stop cancels the strategy's supervised loop; the loop itself closes
// positions, finalizes and records the stop reason before exiting.
func (r *runtime) Stop(strategyID string) error {
	r.mu.Lock()
	cancel, ok := r.running[strategyID]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	cancel()
	return nil
}

// StopAll cancels every currently supervised strategy, used on process
// shutdown to let each finalize cleanly within the shutdown grace period.
func (r *runtime) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, cancel := range r.running {
		r.log.Infof("stopping strategy %s for shutdown", id)
		cancel()
	}
}

// resumeRunning relaunches every strategy the store still marks RUNNING,
// the auto-resume-on-startup behavior: a process restart picks back up
// where persisted state left off instead of requiring a manual restart
// of each strategy.
func (r *runtime) resumeRunning(ctx context.Context) {
	recs, err := r.store.ListRunning(ctx)
	if err != nil {
		r.log.Errorf("list running strategies for resume: %v", err)
		return
	}
	for _, rec := range recs {
		if err := r.launch(rec.ID, true); err != nil {
			r.log.Errorf("resume strategy %s: %v", rec.ID, err)
			continue
		}
		r.log.Infof("resumed strategy %s", rec.ID)
	}
}

// buildCoordinator wires one strategy's gateway, feature pipeline,
// composer and portfolio ledger from its persisted config/credentials —
// the per-strategy equivalent of the reference controller's trader
// construction in trader/auto_trader.go. initialCapitalOverride, when
// non-nil, seeds the ledger from a recovered portfolio snapshot instead
// of the strategy's configured initial capital (the resume path).
func buildCoordinator(rec store.StrategyRecord, initialCapitalOverride *float64) (*coordinator.Coordinator, error) {
	cfg := rec.Config
	constraints := cfg.RiskControl.Constraints()

	initialCapital := cfg.Trading.InitialCapital
	if initialCapitalOverride != nil {
		initialCapital = *initialCapitalOverride
	}

	gw, err := execution.NewGateway(cfg.Exchange.ExchangeID, rec.Credentials, *constraints)
	if err != nil {
		return nil, fmt.Errorf("build gateway: %w", err)
	}

	src := market.NewDefaultSource(cfg.Exchange.ExchangeID, nil, nil, gatewayMarketAdapter{gw: gw})
	pipeline := features.NewPipeline(src, cfg.Exchange.ExchangeID, cfg.Trading.Symbols)

	maxLeverage := 1.0
	if constraints.MaxLeverage != nil {
		maxLeverage = *constraints.MaxLeverage
	}
	// 0 lets NewNormalizer apply its own DefaultCapFactor; strategies don't
	// currently expose a per-strategy cap factor override.
	norm := compose.NewNormalizer(cfg.Exchange.MarketType, 0, constraints.MaxPositions, constraints.MaxLeverage)

	var composer compose.Composer
	if cfg.Model.Provider == "" {
		grid := compose.NewGridComposer(norm, cfg.Trading.Symbols, cfg.Exchange.ExchangeID, cfg.Exchange.MarketType == models.MarketSpot, maxLeverage)
		if cfg.Grid.StepPct > 0 {
			grid.StepPct = cfg.Grid.StepPct
		}
		if cfg.Grid.MaxSteps > 0 {
			grid.MaxSteps = cfg.Grid.MaxSteps
		}
		if cfg.Grid.BaseFraction > 0 {
			grid.BaseFraction = cfg.Grid.BaseFraction
		}
		composer = grid
	} else {
		opts := []compose.ProviderOption{compose.WithModel(cfg.Model.ModelID)}
		if baseURL := os.Getenv("LLM_BASE_URL"); baseURL != "" {
			opts = append(opts, compose.WithBaseURL(baseURL))
		}
		if apiKey := os.Getenv("LLM_API_KEY"); apiKey != "" {
			opts = append(opts, compose.WithAPIKey(apiKey))
		}
		provider := compose.NewHTTPProvider(opts...)
		composer = compose.NewLLMComposer(norm, compose.WithProvider(provider), compose.WithPromptSections(cfg.PromptSections))
	}

	ledger := portfolio.New(rec.ID, initialCapital, cfg.Exchange.TradingMode, cfg.Exchange.MarketType, constraints)

	coord := coordinator.New(
		rec.ID, cfg.Trading.StrategyName, cfg.Exchange.ExchangeID,
		cfg.Exchange.TradingMode, cfg.Exchange.MarketType, cfg.Trading.Symbols,
		initialCapital, ledger, pipeline, composer, gw, nil, nil,
	)
	coord.ModelProvider = cfg.Model.Provider
	coord.ModelID = cfg.Model.ModelID
	return coord, nil
}
