package oracle

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
)

// Static serves prices and funding rates held in memory. Set and Delete
// make it the deterministic oracle for tests and the demo.
type Static struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
	rates  map[string]decimal.Decimal
}

func NewStatic() *Static {
	return &Static{
		prices: make(map[string]decimal.Decimal),
		rates:  make(map[string]decimal.Decimal),
	}
}

func (s *Static) Set(symbol string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[symbol] = price
}

func (s *Static) SetTick(t Tick) {
	s.Set(t.Symbol, t.Mid())
}

func (s *Static) Delete(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.prices, symbol)
}

func (s *Static) SetRate(symbol string, rate decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates[symbol] = rate
}

func (s *Static) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, unavailable(symbol, err)
	}
	s.mu.RLock()
	p, ok := s.prices[symbol]
	s.mu.RUnlock()
	if !ok {
		return decimal.Zero, unavailable(symbol, nil)
	}
	return checkPrice(symbol, p)
}

// FundingRate returns zero for symbols without a configured rate.
func (s *Static) FundingRate(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rates[symbol], nil
}
