package execution

import (
	"context"
	"fmt"
	"sync"

	lighter "github.com/elliottech/lighter-go"

	"tradeengine/logger"
	"tradeengine/models"
)

// LighterGateway executes against the Lighter zkSync perpetual DEX.
// Like Hyperliquid, orders are wallet-signed rather than API-key
// authenticated; Lighter additionally requires a numeric market index
// per symbol, resolved once and cached.
type LighterGateway struct {
	client        *lighter.Client
	apiKeyIndex   int
	marketIndexes map[string]int

	mu            sync.Mutex
	configuredSym map[string]bool

	constraints models.Constraints
	log         logger.Logger
}

// NewLighterGateway builds a LighterGateway. Lighter mainnet-only per the
// venue's current support (testnet is not wired).
func NewLighterGateway(walletAddr, apiKeyPrivateKeyHex string, apiKeyIndex int, constraints models.Constraints) (*LighterGateway, error) {
	key, _, err := loadWallet(apiKeyPrivateKeyHex)
	if err != nil {
		return nil, err
	}
	client, err := lighter.NewClient(lighter.ClientConfig{
		WalletAddress: walletAddr,
		APIKeyPrivate: key,
		APIKeyIndex:   apiKeyIndex,
	})
	if err != nil {
		return nil, fmt.Errorf("init lighter client: %w", err)
	}

	return &LighterGateway{
		client:        client,
		apiKeyIndex:   apiKeyIndex,
		marketIndexes: make(map[string]int),
		configuredSym: make(map[string]bool),
		constraints:   constraints,
		log:           logger.With("component", "execution.lighter"),
	}, nil
}

func (g *LighterGateway) marketIndex(ctx context.Context, symbol string) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if idx, ok := g.marketIndexes[symbol]; ok {
		return idx, nil
	}
	idx, err := g.client.ResolveMarketIndex(ctx, symbol)
	if err != nil {
		return 0, err
	}
	g.marketIndexes[symbol] = idx
	return idx, nil
}

func (g *LighterGateway) ensureConfigured(ctx context.Context, symbol string, marketIdx int, leverage float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.configuredSym[symbol] || leverage <= 0 {
		return
	}
	if err := g.client.UpdateLeverage(ctx, marketIdx, int(leverage)); err != nil {
		g.log.Warnf("set leverage %v for %s failed (may already be set): %v", leverage, symbol, err)
	}
	g.configuredSym[symbol] = true
}

func (g *LighterGateway) Execute(ctx context.Context, instructions []models.TradeInstruction, marketFeatures []models.FeatureVector) []models.TxResult {
	priceMap := extractPriceMap(marketFeatures)
	results := make([]models.TxResult, 0, len(instructions))
	for _, inst := range instructions {
		results = append(results, g.executeOne(ctx, inst, priceMap))
	}
	return results
}

func (g *LighterGateway) executeOne(ctx context.Context, inst models.TradeInstruction, priceMap map[string]float64) models.TxResult {
	if inst.Action == models.ActionNoop {
		return rejected(inst, "noop")
	}

	reason, ok := checkFilters(inst.Quantity, priceMap[inst.Instrument.Symbol], g.constraints.QuantityStep, g.constraints.MinTradeQty, g.constraints.MaxOrderQty, g.constraints.MinNotional)
	if !ok {
		return rejected(inst, reason)
	}

	marketIdx, err := g.marketIndex(ctx, inst.Instrument.Symbol)
	if err != nil {
		return errored(inst, fmt.Errorf("resolve market index: %w", err))
	}

	reduceOnly := reduceOnlyFor(inst)
	if !reduceOnly && inst.Leverage != nil {
		g.ensureConfigured(ctx, inst.Instrument.Symbol, marketIdx, *inst.Leverage)
	}

	side := inst.Side
	if side == "" {
		side = models.DeriveSide(inst.Action)
	}
	isAsk := side == models.SideSell

	refPrice := priceMap[inst.Instrument.Symbol]
	limitPrice := refPrice
	if inst.PriceMode == models.PriceLimit && inst.LimitPrice != nil {
		limitPrice = *inst.LimitPrice
	} else if inst.MaxSlippageBps != nil && *inst.MaxSlippageBps > 0 {
		slip := *inst.MaxSlippageBps / 10_000.0
		if isAsk {
			limitPrice = refPrice * (1.0 - slip)
		} else {
			limitPrice = refPrice * (1.0 + slip)
		}
	}

	resp, err := g.client.CreateOrder(ctx, lighter.CreateOrderParams{
		MarketIndex: marketIdx,
		IsAsk:       isAsk,
		BaseAmount:  inst.Quantity,
		Price:       limitPrice,
		ReduceOnly:  reduceOnly,
		ClientOrderIndex: sanitizeClientOrderIndex(inst.InstructionID),
	})
	if err != nil {
		return errored(inst, err)
	}

	status := models.TxFilled
	filled := inst.Quantity
	var avgExec *float64
	if resp.AvgPrice > 0 {
		p := resp.AvgPrice
		avgExec = &p
	}
	if resp.FilledBaseAmount < inst.Quantity {
		filled = resp.FilledBaseAmount
		status = models.TxPartial
	}

	return models.TxResult{
		InstructionID: inst.InstructionID, Instrument: inst.Instrument, Side: side,
		RequestedQty: inst.Quantity, FilledQty: filled, AvgExecPrice: avgExec,
		Status: status, Leverage: inst.Leverage,
	}
}

// sanitizeClientOrderIndex folds the textual instruction id down to the
// int64 client-order-index Lighter's protocol requires instead of an
// opaque string id.
func sanitizeClientOrderIndex(instructionID string) int64 {
	var h int64
	for _, r := range instructionID {
		h = h*31 + int64(r)
	}
	if h < 0 {
		h = -h
	}
	return h
}

func (g *LighterGateway) FetchBalance(ctx context.Context) (map[string]Balance, error) {
	acct, err := g.client.GetAccount(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]Balance{
		"USDC": {Free: acct.AvailableBalance, Used: acct.MarginUsed, Total: acct.TotalBalance},
	}, nil
}

func (g *LighterGateway) FetchPositions(ctx context.Context, symbols []string) ([]Position, error) {
	acct, err := g.client.GetAccount(ctx)
	if err != nil {
		return nil, err
	}
	wanted := toSet(symbols)
	var out []Position
	for _, p := range acct.Positions {
		if len(wanted) > 0 && !wanted[p.Symbol] {
			continue
		}
		if p.BaseAmount == 0 {
			continue
		}
		out = append(out, Position{
			Symbol: p.Symbol, Quantity: p.BaseAmount, EntryPrice: p.EntryPrice,
			MarkPrice: p.MarkPrice, UnrealizedPnL: p.UnrealizedPnl, Leverage: p.Leverage,
		})
	}
	return out, nil
}

func (g *LighterGateway) CancelOrder(ctx context.Context, symbol, orderID string) error {
	marketIdx, err := g.marketIndex(ctx, symbol)
	if err != nil {
		return err
	}
	return g.client.CancelOrder(ctx, marketIdx, orderID)
}

func (g *LighterGateway) FetchOpenOrders(ctx context.Context, symbol string) ([]string, error) {
	marketIdx, err := g.marketIndex(ctx, symbol)
	if err != nil {
		return nil, err
	}
	orders, err := g.client.GetOpenOrders(ctx, marketIdx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(orders))
	for i, o := range orders {
		ids[i] = o.OrderID
	}
	return ids, nil
}

func (g *LighterGateway) FetchTicker(ctx context.Context, symbol string) (TickerData, error) {
	marketIdx, err := g.marketIndex(ctx, symbol)
	if err != nil {
		return TickerData{}, err
	}
	book, err := g.client.GetOrderBookDetails(ctx, marketIdx)
	if err != nil {
		return TickerData{}, err
	}
	return TickerData{Last: book.LastTradePrice, Close: book.LastTradePrice, MarkPrice: book.MarkPrice}, nil
}

func (g *LighterGateway) FetchOHLCV(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	marketIdx, err := g.marketIndex(ctx, symbol)
	if err != nil {
		return nil, err
	}
	candles, err := g.client.GetCandlesticks(ctx, marketIdx, interval, limit)
	if err != nil {
		return nil, err
	}
	out := make([]models.Candle, len(candles))
	for i, c := range candles {
		out[i] = models.Candle{
			TsMs: c.TimeMs, Instrument: models.InstrumentRef{Symbol: symbol, ExchangeID: "lighter"},
			Open: c.Open, High: c.High, Low: c.Low, Close: c.Close, Volume: c.Volume, Interval: interval,
		}
	}
	return out, nil
}

func (g *LighterGateway) Close(ctx context.Context) error { return nil }
