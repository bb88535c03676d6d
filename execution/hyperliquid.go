package execution

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"sync"

	hyperliquid "github.com/sonirico/go-hyperliquid"

	"tradeengine/logger"
	"tradeengine/models"
)

// HyperliquidGateway executes against Hyperliquid perpetuals. Orders are
// wallet-signed (go-ethereum ECDSA) rather than API-key authenticated;
// reduceOnly and position sizing follow the same normalization as the
// CEX gateways so the coordinator doesn't need venue-specific branches.
type HyperliquidGateway struct {
	client     *hyperliquid.Client
	privateKey *ecdsa.PrivateKey
	address    string

	constraints models.Constraints

	mu            sync.Mutex
	configuredSym map[string]bool

	log logger.Logger
}

// NewHyperliquidGateway builds a HyperliquidGateway from a wallet private
// key and optional explicit account address (falls back to the key's
// derived address when empty).
func NewHyperliquidGateway(privateKeyHex, walletAddr string, testnet bool, constraints models.Constraints) (*HyperliquidGateway, error) {
	key, derivedAddr, err := loadWallet(privateKeyHex)
	if err != nil {
		return nil, err
	}
	address := walletAddr
	if address == "" {
		address = derivedAddr
	}

	client := hyperliquid.NewClient(hyperliquid.ClientOptions{IsTestnet: testnet})

	return &HyperliquidGateway{
		client:        client,
		privateKey:    key,
		address:       address,
		constraints:   constraints,
		configuredSym: make(map[string]bool),
		log:           logger.With("component", "execution.hyperliquid"),
	}, nil
}

func (g *HyperliquidGateway) ensureConfigured(ctx context.Context, symbol string, leverage float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.configuredSym[symbol] || leverage <= 0 {
		return
	}
	if err := g.client.UpdateLeverage(ctx, g.privateKey, symbol, int(leverage), false); err != nil {
		g.log.Warnf("set leverage %v for %s failed (may already be set): %v", leverage, symbol, err)
	}
	g.configuredSym[symbol] = true
}

func (g *HyperliquidGateway) Execute(ctx context.Context, instructions []models.TradeInstruction, marketFeatures []models.FeatureVector) []models.TxResult {
	priceMap := extractPriceMap(marketFeatures)
	results := make([]models.TxResult, 0, len(instructions))
	for _, inst := range instructions {
		results = append(results, g.executeOne(ctx, inst, priceMap))
	}
	return results
}

func (g *HyperliquidGateway) executeOne(ctx context.Context, inst models.TradeInstruction, priceMap map[string]float64) models.TxResult {
	if inst.Action == models.ActionNoop {
		return rejected(inst, "noop")
	}

	reason, ok := checkFilters(inst.Quantity, priceMap[inst.Instrument.Symbol], g.constraints.QuantityStep, g.constraints.MinTradeQty, g.constraints.MaxOrderQty, g.constraints.MinNotional)
	if !ok {
		return rejected(inst, reason)
	}

	reduceOnly := reduceOnlyFor(inst)
	if !reduceOnly && inst.Leverage != nil {
		g.ensureConfigured(ctx, inst.Instrument.Symbol, *inst.Leverage)
	}

	side := inst.Side
	if side == "" {
		side = models.DeriveSide(inst.Action)
	}
	isBuy := side == models.SideBuy

	refPrice := priceMap[inst.Instrument.Symbol]
	limitPrice := refPrice
	if inst.PriceMode == models.PriceLimit && inst.LimitPrice != nil {
		limitPrice = *inst.LimitPrice
	} else if inst.MaxSlippageBps != nil && *inst.MaxSlippageBps > 0 {
		slip := *inst.MaxSlippageBps / 10_000.0
		if isBuy {
			limitPrice = refPrice * (1.0 + slip)
		} else {
			limitPrice = refPrice * (1.0 - slip)
		}
	}

	order := hyperliquid.OrderRequest{
		Coin:       inst.Instrument.Symbol,
		IsBuy:      isBuy,
		Size:       inst.Quantity,
		LimitPrice: limitPrice,
		ReduceOnly: reduceOnly,
		OrderType:  hyperliquid.OrderTypeIOC,
		ClientID:   sanitizeClientOrderID(inst.InstructionID, 34),
	}

	resp, err := g.client.PlaceOrder(ctx, g.privateKey, order)
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
	if resp.FilledSize < inst.Quantity {
		filled = resp.FilledSize
		status = models.TxPartial
	}

	return models.TxResult{
		InstructionID: inst.InstructionID, Instrument: inst.Instrument, Side: side,
		RequestedQty: inst.Quantity, FilledQty: filled, AvgExecPrice: avgExec,
		Status: status, Leverage: inst.Leverage,
	}
}

func (g *HyperliquidGateway) FetchBalance(ctx context.Context) (map[string]Balance, error) {
	state, err := g.client.GetAccountState(ctx, g.address)
	if err != nil {
		return nil, err
	}
	return map[string]Balance{
		"USDC": {Free: state.WithdrawableUsd, Used: state.MarginUsed, Total: state.AccountValueUsd},
	}, nil
}

func (g *HyperliquidGateway) FetchPositions(ctx context.Context, symbols []string) ([]Position, error) {
	state, err := g.client.GetAccountState(ctx, g.address)
	if err != nil {
		return nil, err
	}
	wanted := toSet(symbols)
	var out []Position
	for _, p := range state.Positions {
		if len(wanted) > 0 && !wanted[p.Coin] {
			continue
		}
		if p.Size == 0 {
			continue
		}
		out = append(out, Position{
			Symbol: p.Coin, Quantity: p.Size, EntryPrice: p.EntryPrice,
			MarkPrice: p.MarkPrice, UnrealizedPnL: p.UnrealizedPnl, Leverage: p.Leverage,
		})
	}
	return out, nil
}

func (g *HyperliquidGateway) CancelOrder(ctx context.Context, symbol, orderID string) error {
	return g.client.CancelOrder(ctx, g.privateKey, symbol, orderID)
}

func (g *HyperliquidGateway) FetchOpenOrders(ctx context.Context, symbol string) ([]string, error) {
	orders, err := g.client.GetOpenOrders(ctx, g.address)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, o := range orders {
		if o.Coin == symbol {
			ids = append(ids, fmt.Sprintf("%d", o.OrderID))
		}
	}
	return ids, nil
}

func (g *HyperliquidGateway) FetchTicker(ctx context.Context, symbol string) (TickerData, error) {
	mid, err := g.client.GetMidPrice(ctx, symbol)
	if err != nil {
		return TickerData{}, err
	}
	return TickerData{Last: mid, Close: mid}, nil
}

func (g *HyperliquidGateway) FetchOHLCV(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	candles, err := g.client.GetCandles(ctx, symbol, interval, limit)
	if err != nil {
		return nil, err
	}
	out := make([]models.Candle, len(candles))
	for i, c := range candles {
		out[i] = models.Candle{
			TsMs: c.TimeMs, Instrument: models.InstrumentRef{Symbol: symbol, ExchangeID: "hyperliquid"},
			Open: c.Open, High: c.High, Low: c.Low, Close: c.Close, Volume: c.Volume, Interval: interval,
		}
	}
	return out, nil
}

func (g *HyperliquidGateway) Close(ctx context.Context) error { return nil }
