// Package market fetches candles and venue snapshots per symbol/interval,
// normalizing exchange-native shapes into the engine's Candle and
// TickerSnapshot types. Fetches are best-effort per symbol: one symbol's
// failure never aborts the batch.
package market

import (
	"context"
	"strings"

	"tradeengine/features"
	"tradeengine/logger"
	"tradeengine/models"
)

// Source fetches recent candles and a latest-snapshot for a set of
// symbols. Implementations may fall back across intervals or delegate to
// an execution gateway when the generic client library doesn't know the
// venue.
type Source interface {
	GetRecentCandles(ctx context.Context, symbols []string, interval string, lookback int) []models.Candle
	GetMarketSnapshot(ctx context.Context, symbols []string) map[string]features.TickerSnapshot
}

// Gateway is the subset of an execution gateway a market Source can
// delegate to when the generic client library has no class for the venue
// (mirrors BaseExecutionGateway.fetch_ohlcv/fetch_ticker in the Python
// reference).
type Gateway interface {
	FetchOHLCV(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error)
	FetchTicker(ctx context.Context, symbol string) (features.TickerSnapshot, error)
}

// CandleFetcher fetches raw candles for one symbol/interval from a venue
// client library (e.g. go-binance, bybit.go.api). Returns an error the
// Source logs and treats as "this symbol/interval failed".
type CandleFetcher interface {
	FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, bool, error) // bool: false when this interval errored as unsupported
}

// TickerFetcher fetches a ticker/funding/open-interest snapshot for one
// symbol from a venue client library.
type TickerFetcher interface {
	FetchTicker(ctx context.Context, symbol string) (features.TickerSnapshot, error)
}

// fallbackIntervals maps an unsupported interval to the interval to retry
// with — only "1s"→"1m" today, matching the only gap the reference venues
// actually hit (Binance has no 1s klines).
var fallbackIntervals = map[string]string{
	"1s": "1m",
}

// DefaultSource is the engine's venue-generic market data source: it
// tries CandleFetcher/TickerFetcher first, falling back to a Gateway when
// the venue has no native client support.
type DefaultSource struct {
	ExchangeID string
	Candles    CandleFetcher
	Tickers    TickerFetcher
	Gateway    Gateway

	log logger.Logger
}

// NewDefaultSource builds a DefaultSource for one exchange.
func NewDefaultSource(exchangeID string, candles CandleFetcher, tickers TickerFetcher, gateway Gateway) *DefaultSource {
	return &DefaultSource{
		ExchangeID: exchangeID,
		Candles:    candles,
		Tickers:    tickers,
		Gateway:    gateway,
		log:        logger.With("component", "market.source").With("exchange", exchangeID),
	}
}

// GetRecentCandles fetches candles for each symbol independently,
// substituting the fallback interval when the venue rejects the
// requested one, and delegating to the gateway when no native client
// exists for this exchange. A gateway reports an unsupported interval only
// as an error, so on the gateway path any error for an interval that has a
// fallback triggers the fallback.
func (s *DefaultSource) GetRecentCandles(ctx context.Context, symbols []string, interval string, lookback int) []models.Candle {
	var out []models.Candle

	for _, symbol := range symbols {
		candles, ok, err := s.fetchOne(ctx, symbol, interval, lookback)
		if err != nil {
			if _, has := fallbackIntervals[interval]; has && s.Candles == nil {
				s.log.Warnf("fetch candles for %s (interval=%s) via gateway failed: %v", symbol, interval, err)
				ok = false
			} else {
				s.log.Warnf("fetch candles for %s (interval=%s) failed, skipping: %v", symbol, interval, err)
				continue
			}
		}
		if !ok {
			if fb, has := fallbackIntervals[interval]; has {
				s.log.Infof("exchange does not support interval %s for %s, falling back to %s", interval, symbol, fb)
				fbCandles, _, fbErr := s.fetchOne(ctx, symbol, fb, lookback)
				if fbErr != nil {
					s.log.Warnf("fallback interval %s also failed for %s: %v", fb, symbol, fbErr)
					continue
				}
				candles = fbCandles
			}
		}
		out = append(out, candles...)
	}

	return out
}

func (s *DefaultSource) fetchOne(ctx context.Context, symbol, interval string, lookback int) ([]models.Candle, bool, error) {
	if s.Candles != nil {
		return s.Candles.FetchCandles(ctx, symbol, interval, lookback)
	}
	if s.Gateway != nil {
		candles, err := s.Gateway.FetchOHLCV(ctx, symbol, interval, lookback)
		return candles, true, err
	}
	return nil, true, errNoCandleSource
}

// GetMarketSnapshot fetches a ticker per symbol, best-effort; a failed
// symbol is simply omitted from the returned map.
func (s *DefaultSource) GetMarketSnapshot(ctx context.Context, symbols []string) map[string]features.TickerSnapshot {
	out := make(map[string]features.TickerSnapshot, len(symbols))

	for _, symbol := range symbols {
		var (
			snap features.TickerSnapshot
			err  error
		)
		switch {
		case s.Tickers != nil:
			snap, err = s.Tickers.FetchTicker(ctx, symbol)
		case s.Gateway != nil:
			snap, err = s.Gateway.FetchTicker(ctx, symbol)
		default:
			err = errNoTickerSource
		}
		if err != nil {
			s.log.Warnf("fetch market snapshot for %s failed: %v", symbol, err)
			continue
		}
		out[symbol] = snap
	}

	return out
}

// Normalize upper-cases and trims a symbol; stock-style symbols need no
// quote-currency suffix handling here, venue clients normalize further.
func Normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// ReverseNormalize converts a venue-native symbol (e.g. Weex's
// "cmt_btcusdt") back to the engine's canonical "BASE-QUOTE" form used in
// PortfolioView.Positions keys. Symbols already in canonical form pass
// through unchanged.
func ReverseNormalize(symbol string) string {
	if !strings.HasPrefix(symbol, "cmt_") {
		return symbol
	}
	base := strings.ToLower(strings.TrimPrefix(symbol, "cmt_"))
	for _, quote := range []string{"usdt", "usdc", "usd", "btc", "eth"} {
		if strings.HasSuffix(base, quote) {
			head := strings.TrimSuffix(base, quote)
			if head != "" {
				return strings.ToUpper(head) + "-" + strings.ToUpper(quote)
			}
		}
	}
	return symbol
}
