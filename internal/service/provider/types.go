package provider

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PriceQuote 一次报价及其来源
type PriceQuote struct {
	Price  decimal.Decimal
	Source string
}

// WaitResult 长轮询等价格的结果。超时不是错误，Success=false 表示超时。
type WaitResult struct {
	Success bool
	Price   decimal.Decimal
}

// TradingProvider 市场侧的全部依赖。引擎只依赖这份契约，
// 所有调用都视为可失败、有延迟的远程调用。
type TradingProvider interface {
	Buy(ctx context.Context, amount decimal.Decimal) (string, error)
	Sell(ctx context.Context, amount decimal.Decimal) (string, error)
	GetPrice(ctx context.Context) (PriceQuote, error)
	WaitForPriceAbove(ctx context.Context, target decimal.Decimal, timeout time.Duration) (WaitResult, error)
	WaitForPriceBelow(ctx context.Context, target decimal.Decimal, timeout time.Duration) (WaitResult, error)
}

type TradeSide string

const (
	TradeSideBuy  TradeSide = "buy"
	TradeSideSell TradeSide = "sell"
)

// TradeEvent 外部成交通知
type TradeEvent struct {
	Type        TradeSide
	Symbol      string
	SolAmount   decimal.Decimal
	TokenAmount decimal.Decimal
	Price       decimal.Decimal
	Signature   string
	Timestamp   time.Time
}

// EventFeed 异步成交事件源。Subscribe 把事件投递到订阅方自备的 channel，
// 投递方不阻塞：channel 满时丢弃并由实现方记录。
type EventFeed interface {
	Subscribe(symbol, subscriberID string, ch chan<- TradeEvent) bool
	Unsubscribe(symbol, subscriberID string)
}
