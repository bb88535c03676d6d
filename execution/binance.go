package execution

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"tradeengine/logger"
	"tradeengine/models"
)

// BinanceGateway executes against Binance USDT-M futures via go-binance/v2.
// Margin mode and leverage are configured once per symbol and cached, the
// same "idempotent, cached per symbol" contract spec.md §4.4 calls for.
type BinanceGateway struct {
	client     *futures.Client
	constraints models.Constraints

	mu              sync.Mutex
	configuredSym   map[string]bool

	log logger.Logger
}

// NewBinanceGateway builds a BinanceGateway from API credentials.
func NewBinanceGateway(apiKey, apiSecret string, constraints models.Constraints) *BinanceGateway {
	return &BinanceGateway{
		client:        futures.NewClient(apiKey, apiSecret),
		constraints:   constraints,
		configuredSym: make(map[string]bool),
		log:           logger.With("component", "execution.binance"),
	}
}

func (g *BinanceGateway) ensureConfigured(ctx context.Context, symbol string, leverage float64, isolated bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.configuredSym[symbol] {
		return
	}

	marginType := futures.MarginTypeCrossed
	if isolated {
		marginType = futures.MarginTypeIsolated
	}
	if err := g.client.NewChangeMarginTypeService().Symbol(symbol).MarginType(marginType).Do(ctx); err != nil {
		g.log.Warnf("set margin type for %s failed (may already be set): %v", symbol, err)
	}
	if leverage > 0 {
		if _, err := g.client.NewChangeLeverageService().Symbol(symbol).Leverage(int(leverage)).Do(ctx); err != nil {
			g.log.Warnf("set leverage %v for %s failed: %v", leverage, symbol, err)
		}
	}
	g.configuredSym[symbol] = true
}

// Execute submits each instruction independently; a failure on one never
// stops the rest of the batch.
func (g *BinanceGateway) Execute(ctx context.Context, instructions []models.TradeInstruction, marketFeatures []models.FeatureVector) []models.TxResult {
	priceMap := extractPriceMap(marketFeatures)
	results := make([]models.TxResult, 0, len(instructions))

	for _, inst := range instructions {
		results = append(results, g.executeOne(ctx, inst, priceMap))
	}
	return results
}

func (g *BinanceGateway) executeOne(ctx context.Context, inst models.TradeInstruction, priceMap map[string]float64) models.TxResult {
	if inst.Action == models.ActionNoop {
		return rejected(inst, "noop")
	}

	reason, ok := checkFilters(inst.Quantity, priceMap[inst.Instrument.Symbol], g.constraints.QuantityStep, g.constraints.MinTradeQty, g.constraints.MaxOrderQty, g.constraints.MinNotional)
	if !ok {
		return rejected(inst, reason)
	}

	reduceOnly := reduceOnlyFor(inst)
	if !reduceOnly && inst.Leverage != nil {
		refPrice := priceMap[inst.Instrument.Symbol]
		notional := refPrice * inst.Quantity
		required := estimateRequiredMargin(notional, *inst.Leverage)
		_ = required // margin pre-check is advisory; actual rejection comes from the venue
		g.ensureConfigured(ctx, inst.Instrument.Symbol, *inst.Leverage, false)
	}

	side := inst.Side
	if side == "" {
		side = models.DeriveSide(inst.Action)
	}
	binanceSide := futures.SideTypeBuy
	if side == models.SideSell {
		binanceSide = futures.SideTypeSell
	}

	clientOrderID := sanitizeClientOrderID(inst.InstructionID, 36)

	svc := g.client.NewCreateOrderService().
		Symbol(inst.Instrument.Symbol).
		Side(binanceSide).
		Quantity(strconv.FormatFloat(inst.Quantity, 'f', -1, 64)).
		NewClientOrderID(clientOrderID).
		ReduceOnly(reduceOnly)

	if inst.PriceMode == models.PriceLimit && inst.LimitPrice != nil {
		svc = svc.Type(futures.OrderTypeLimit).
			TimeInForce(futures.TimeInForceTypeGTC).
			Price(strconv.FormatFloat(*inst.LimitPrice, 'f', -1, 64))
	} else if inst.MaxSlippageBps != nil && *inst.MaxSlippageBps > 0 {
		// Binance has true market orders, but spec.md's IoC-limit substitution
		// applies uniformly so slippage bounds are always respected.
		refPrice := priceMap[inst.Instrument.Symbol]
		slip := *inst.MaxSlippageBps / 10_000.0
		limitPrice := refPrice * (1.0 + slip)
		if side == models.SideSell {
			limitPrice = refPrice * (1.0 - slip)
		}
		svc = svc.Type(futures.OrderTypeLimit).
			TimeInForce(futures.TimeInForceTypeIOC).
			Price(strconv.FormatFloat(limitPrice, 'f', -1, 64))
	} else {
		svc = svc.Type(futures.OrderTypeMarket)
	}

	order, err := svc.Do(ctx)
	if err != nil {
		return errored(inst, err)
	}

	// Market/IOC orders may not have resolved fills immediately; give the
	// matching engine a moment then re-fetch, per spec.md §4.4.
	time.Sleep(500 * time.Millisecond)
	fetched, err := g.client.NewGetOrderService().Symbol(inst.Instrument.Symbol).OrderID(order.OrderID).Do(ctx)
	if err != nil {
		g.log.Warnf("fetch order %d for %s failed, using submission response: %v", order.OrderID, inst.Instrument.Symbol, err)
		return resultFromSubmission(inst, side, order)
	}
	return resultFromFetchedOrder(inst, side, fetched)
}

func resultFromSubmission(inst models.TradeInstruction, side models.TradeSide, order *futures.CreateOrderResponse) models.TxResult {
	filled, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)
	avgPrice, _ := strconv.ParseFloat(order.AvgPrice, 64)
	status := models.TxPartial
	if filled >= inst.Quantity {
		status = models.TxFilled
	}
	r := models.TxResult{
		InstructionID: inst.InstructionID,
		Instrument:    inst.Instrument,
		Side:          side,
		RequestedQty:  inst.Quantity,
		FilledQty:     filled,
		Status:        status,
		Leverage:      inst.Leverage,
	}
	if avgPrice != 0 {
		r.AvgExecPrice = &avgPrice
	}
	return r
}

func resultFromFetchedOrder(inst models.TradeInstruction, side models.TradeSide, order *futures.Order) models.TxResult {
	filled, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)
	avgPrice, _ := strconv.ParseFloat(order.AvgPrice, 64)
	status := models.TxPartial
	switch order.Status {
	case futures.OrderStatusTypeFilled:
		status = models.TxFilled
	case futures.OrderStatusTypeCanceled, futures.OrderStatusTypeRejected, futures.OrderStatusTypeExpired:
		status = models.TxRejected
	}
	r := models.TxResult{
		InstructionID: inst.InstructionID,
		Instrument:    inst.Instrument,
		Side:          side,
		RequestedQty:  inst.Quantity,
		FilledQty:     filled,
		Status:        status,
		Leverage:      inst.Leverage,
	}
	if avgPrice != 0 {
		r.AvgExecPrice = &avgPrice
	}
	return r
}

func (g *BinanceGateway) FetchBalance(ctx context.Context) (map[string]Balance, error) {
	balances, err := g.client.NewGetBalanceService().Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Balance, len(balances))
	for _, b := range balances {
		free, _ := strconv.ParseFloat(b.AvailableBalance, 64)
		total, _ := strconv.ParseFloat(b.Balance, 64)
		out[b.Asset] = Balance{Free: free, Used: total - free, Total: total}
	}
	return out, nil
}

func (g *BinanceGateway) FetchPositions(ctx context.Context, symbols []string) ([]Position, error) {
	risks, err := g.client.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, err
	}
	wanted := toSet(symbols)
	var out []Position
	for _, p := range risks {
		if len(wanted) > 0 && !wanted[p.Symbol] {
			continue
		}
		qty, _ := strconv.ParseFloat(p.PositionAmt, 64)
		if qty == 0 {
			continue
		}
		entry, _ := strconv.ParseFloat(p.EntryPrice, 64)
		mark, _ := strconv.ParseFloat(p.MarkPrice, 64)
		upnl, _ := strconv.ParseFloat(p.UnRealizedProfit, 64)
		lev, _ := strconv.ParseFloat(p.Leverage, 64)
		out = append(out, Position{Symbol: p.Symbol, Quantity: qty, EntryPrice: entry, MarkPrice: mark, UnrealizedPnL: upnl, Leverage: lev})
	}
	return out, nil
}

func (g *BinanceGateway) CancelOrder(ctx context.Context, symbol, orderID string) error {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid order id %q: %w", orderID, err)
	}
	_, err = g.client.NewCancelOrderService().Symbol(symbol).OrderID(id).Do(ctx)
	return err
}

func (g *BinanceGateway) FetchOpenOrders(ctx context.Context, symbol string) ([]string, error) {
	orders, err := g.client.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(orders))
	for i, o := range orders {
		ids[i] = strconv.FormatInt(o.OrderID, 10)
	}
	return ids, nil
}

func (g *BinanceGateway) FetchTicker(ctx context.Context, symbol string) (TickerData, error) {
	tickers, err := g.client.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
	if err != nil || len(tickers) == 0 {
		return TickerData{}, err
	}
	t := tickers[0]
	last, _ := strconv.ParseFloat(t.LastPrice, 64)
	open, _ := strconv.ParseFloat(t.OpenPrice, 64)
	high, _ := strconv.ParseFloat(t.HighPrice, 64)
	low, _ := strconv.ParseFloat(t.LowPrice, 64)
	changePct, _ := strconv.ParseFloat(t.PriceChangePercent, 64)
	volume, _ := strconv.ParseFloat(t.QuoteVolume, 64)
	return TickerData{
		TsMs: t.CloseTime, Last: last, Close: last, Open: open, High: high, Low: low,
		ChangePct: changePct / 100.0, Volume: volume,
	}, nil
}

func (g *BinanceGateway) FetchOHLCV(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	klines, err := g.client.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.Candle, len(klines))
	for i, k := range klines {
		open, _ := strconv.ParseFloat(k.Open, 64)
		high, _ := strconv.ParseFloat(k.High, 64)
		low, _ := strconv.ParseFloat(k.Low, 64)
		close, _ := strconv.ParseFloat(k.Close, 64)
		volume, _ := strconv.ParseFloat(k.Volume, 64)
		out[i] = models.Candle{
			TsMs:       k.OpenTime,
			Instrument: models.InstrumentRef{Symbol: symbol, ExchangeID: "binance"},
			Open:       open, High: high, Low: low, Close: close, Volume: volume,
			Interval: interval,
		}
	}
	return out, nil
}

func (g *BinanceGateway) Close(ctx context.Context) error { return nil }

func toSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, it := range items {
		out[it] = true
	}
	return out
}
