package binance

import (
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
	"github.com/solweave/strategy-engine/internal/service/provider"
)

// TradeFeed provider.EventFeed 的币安实现。每个 symbol 维护一条
// aggTrade websocket 流，向所有订阅方的 channel 扇出；
// 订阅方消费不动时丢弃该订阅方的事件并告警，绝不阻塞流。
type TradeFeed struct {
	mu      sync.Mutex
	streams map[string]*symbolStream
}

type symbolStream struct {
	subs  map[string]chan<- provider.TradeEvent
	stopC chan struct{}
}

func NewTradeFeed() *TradeFeed {
	return &TradeFeed{
		streams: make(map[string]*symbolStream),
	}
}

func (f *TradeFeed) Subscribe(symbol, subscriberID string, ch chan<- provider.TradeEvent) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	st, ok := f.streams[symbol]
	if !ok {
		_, stopC, err := binance.WsAggTradeServe(symbol, f.handler(symbol), func(err error) {
			slog.Error("trade stream error", "symbol", symbol, "error", err)
		})
		if err != nil {
			slog.Error("failed to open trade stream", "symbol", symbol, "error", err)
			return false
		}
		st = &symbolStream{
			subs:  make(map[string]chan<- provider.TradeEvent),
			stopC: stopC,
		}
		f.streams[symbol] = st
	}
	st.subs[subscriberID] = ch
	return true
}

func (f *TradeFeed) Unsubscribe(symbol, subscriberID string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	st, ok := f.streams[symbol]
	if !ok {
		return
	}
	delete(st.subs, subscriberID)
	if len(st.subs) == 0 {
		// 最后一个订阅方退订时关掉 websocket
		close(st.stopC)
		delete(f.streams, symbol)
	}
}

func (f *TradeFeed) handler(symbol string) binance.WsAggTradeHandler {
	return func(event *binance.WsAggTradeEvent) {
		price, err := decimal.NewFromString(event.Price)
		if err != nil {
			slog.Warn("skip trade event with bad price", "symbol", symbol, "price", event.Price)
			return
		}
		quantity, err := decimal.NewFromString(event.Quantity)
		if err != nil {
			slog.Warn("skip trade event with bad quantity", "symbol", symbol, "quantity", event.Quantity)
			return
		}

		side := provider.TradeSideBuy
		if event.IsBuyerMaker {
			// 买方挂单被动成交，主动方是卖出
			side = provider.TradeSideSell
		}
		ev := provider.TradeEvent{
			Type:        side,
			Symbol:      event.Symbol,
			SolAmount:   price.Mul(quantity),
			TokenAmount: quantity,
			Price:       price,
			Signature:   strconv.FormatInt(event.AggTradeID, 10),
			Timestamp:   time.UnixMilli(event.TradeTime),
		}

		f.mu.Lock()
		st, ok := f.streams[symbol]
		if !ok {
			f.mu.Unlock()
			return
		}
		subs := make(map[string]chan<- provider.TradeEvent, len(st.subs))
		for id, ch := range st.subs {
			subs[id] = ch
		}
		f.mu.Unlock()

		for id, ch := range subs {
			select {
			case ch <- ev:
			default:
				slog.Warn("subscriber queue full, trade event dropped", "symbol", symbol, "subscriber", id)
			}
		}
	}
}
