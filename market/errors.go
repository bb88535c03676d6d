package market

import "errors"

var (
	errNoCandleSource = errors.New("market: no candle fetcher or gateway configured")
	errNoTickerSource = errors.New("market: no ticker fetcher or gateway configured")
)
