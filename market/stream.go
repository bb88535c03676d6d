package market

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"tradeengine/logger"
	"tradeengine/models"
)

// KlineStream maintains a reconnecting websocket subscription to a venue's
// kline stream for one symbol/interval, passing every decoded bar to
// onCandle. It keeps no candle cache of its own, and DefaultSource does
// not read from it.
type KlineStream struct {
	URL        string
	Symbol     string
	Interval   string
	ExchangeID string

	kill chan struct{}
	log  logger.Logger

	onCandle func(models.Candle)
}

// NewKlineStream builds a KlineStream; onCandle is invoked for every
// decoded bar (final or still-forming) from the feed.
func NewKlineStream(url, exchangeID, symbol, interval string, onCandle func(models.Candle)) *KlineStream {
	return &KlineStream{
		URL:        url,
		Symbol:     symbol,
		Interval:   interval,
		ExchangeID: exchangeID,
		kill:       make(chan struct{}),
		log:        logger.With("component", "market.stream").With("symbol", symbol),
		onCandle:   onCandle,
	}
}

// Run connects and reconnects until Stop is called. A failed dial is
// retried after 5s; when an open connection's read fails, it redials at once.
func (s *KlineStream) Run() {
	s.log.Infof("starting kline stream for %s@%s", s.Symbol, s.Interval)
	for {
		select {
		case <-s.kill:
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.Dial(s.URL, nil)
		if err != nil {
			s.log.Warnf("dial %s failed: %v", s.URL, err)
			time.Sleep(5 * time.Second)
			continue
		}

		s.readLoop(conn)
		conn.Close()
	}
}

func (s *KlineStream) readLoop(conn *websocket.Conn) {
	for {
		select {
		case <-s.kill:
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			s.log.Warnf("read error, reconnecting: %v", err)
			return
		}

		candle, ok := parseKlineMessage(message, s.ExchangeID, s.Symbol, s.Interval)
		if !ok {
			continue
		}
		if s.onCandle != nil {
			s.onCandle(candle)
		}
	}
}

// Stop terminates the stream's reconnect loop.
func (s *KlineStream) Stop() {
	close(s.kill)
}

// rawKlineEnvelope matches the combined-stream wrapper most venues use:
// {"stream": "...", "data": {"k": {...}}}.
type rawKlineEnvelope struct {
	Data struct {
		Kline struct {
			OpenTime  int64  `json:"t"`
			Open      string `json:"o"`
			High      string `json:"h"`
			Low       string `json:"l"`
			Close     string `json:"c"`
			Volume    string `json:"v"`
			Interval  string `json:"i"`
		} `json:"k"`
	} `json:"data"`
}

func parseKlineMessage(raw []byte, exchangeID, symbol, interval string) (models.Candle, bool) {
	var env rawKlineEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return models.Candle{}, false
	}
	k := env.Data.Kline
	if k.Close == "" {
		return models.Candle{}, false
	}

	parse := func(s string) float64 {
		v, _ := strconv.ParseFloat(s, 64)
		return v
	}

	return models.Candle{
		TsMs:       k.OpenTime,
		Instrument: models.InstrumentRef{Symbol: strings.ToUpper(symbol), ExchangeID: exchangeID},
		Open:       parse(k.Open),
		High:       parse(k.High),
		Low:        parse(k.Low),
		Close:      parse(k.Close),
		Volume:     parse(k.Volume),
		Interval:   interval,
	}, true
}
