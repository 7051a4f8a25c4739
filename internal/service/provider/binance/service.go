package binance

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
	"github.com/solweave/strategy-engine/internal/service/provider"
)

const defaultPollInterval = time.Second

// Service provider.TradingProvider 的币安实现。市价单 + ticker 轮询，
// 纯 I/O 包装，不含任何策略逻辑。
type Service struct {
	cli          *binance.Client
	symbol       string
	pollInterval time.Duration
}

type Option func(*Service)

func WithPollInterval(d time.Duration) Option {
	return func(s *Service) {
		s.pollInterval = d
	}
}

func NewService(cli *binance.Client, symbol string, opts ...Option) provider.TradingProvider {
	svc := &Service{
		cli:          cli,
		symbol:       symbol,
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Buy 市价买入，amount 为计价货币金额
func (s *Service) Buy(ctx context.Context, amount decimal.Decimal) (string, error) {
	res, err := s.cli.NewCreateOrderService().
		Symbol(s.symbol).
		Side(binance.SideTypeBuy).
		Type(binance.OrderTypeMarket).
		QuoteOrderQty(amount.String()).
		Do(ctx)
	if err != nil {
		return "", fmt.Errorf("market buy %s: %w", s.symbol, err)
	}
	return strconv.FormatInt(res.OrderID, 10), nil
}

// Sell 市价卖出，amount 为基础货币数量
func (s *Service) Sell(ctx context.Context, amount decimal.Decimal) (string, error) {
	res, err := s.cli.NewCreateOrderService().
		Symbol(s.symbol).
		Side(binance.SideTypeSell).
		Type(binance.OrderTypeMarket).
		Quantity(amount.String()).
		Do(ctx)
	if err != nil {
		return "", fmt.Errorf("market sell %s: %w", s.symbol, err)
	}
	return strconv.FormatInt(res.OrderID, 10), nil
}

func (s *Service) GetPrice(ctx context.Context) (provider.PriceQuote, error) {
	prices, err := s.cli.NewListPricesService().Symbol(s.symbol).Do(ctx)
	if err != nil {
		return provider.PriceQuote{}, fmt.Errorf("get price %s: %w", s.symbol, err)
	}
	if len(prices) == 0 {
		return provider.PriceQuote{}, fmt.Errorf("no price returned for %s", s.symbol)
	}
	price, err := decimal.NewFromString(prices[0].Price)
	if err != nil {
		return provider.PriceQuote{}, fmt.Errorf("parse price %q: %w", prices[0].Price, err)
	}
	return provider.PriceQuote{Price: price, Source: "binance"}, nil
}

func (s *Service) WaitForPriceAbove(ctx context.Context, target decimal.Decimal, timeout time.Duration) (provider.WaitResult, error) {
	return s.waitForPrice(ctx, timeout, func(p decimal.Decimal) bool {
		return p.GreaterThanOrEqual(target)
	})
}

func (s *Service) WaitForPriceBelow(ctx context.Context, target decimal.Decimal, timeout time.Duration) (provider.WaitResult, error) {
	return s.waitForPrice(ctx, timeout, func(p decimal.Decimal) bool {
		return p.LessThanOrEqual(target)
	})
}

// waitForPrice 长轮询直到价格满足条件或超时。超时返回 Success=false，不是错误。
func (s *Service) waitForPrice(ctx context.Context, timeout time.Duration, reached func(decimal.Decimal) bool) (provider.WaitResult, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	var last decimal.Decimal
	for {
		quote, err := s.GetPrice(ctx)
		if err == nil {
			last = quote.Price
			if reached(quote.Price) {
				return provider.WaitResult{Success: true, Price: quote.Price}, nil
			}
		}

		if time.Now().After(deadline) {
			return provider.WaitResult{Success: false, Price: last}, nil
		}
		select {
		case <-ctx.Done():
			return provider.WaitResult{Success: false, Price: last}, ctx.Err()
		case <-ticker.C:
		}
	}
}
