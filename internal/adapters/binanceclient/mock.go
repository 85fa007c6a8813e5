package binanceclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"cryptoMegaBot/internal/domain"
	"cryptoMegaBot/internal/ports"
)

// Mock is the deterministic C1 Exchange implementation §4.1 requires so the
// §8 scenarios are reproducible without a live venue. It fills market
// orders immediately at the last known ticker price (or the request's
// Price for limit orders) and supports injectable failures (force_error,
// rate_limited, latency) the way a hand-written fake normally would in
// this codebase's style (memkeystore.Store is the same idea for C3).
type Mock struct {
	mu sync.Mutex

	venue    string
	tickers  map[string]ports.Ticker
	balances map[string]ports.Balance
	orders   map[string]domain.OrderStatus
	nextID   int64

	subsMu sync.Mutex
	subs   map[string][]mockSub

	forceErr    error
	rateLimited bool
	retryAfter  time.Duration
	latency     time.Duration
}

type mockSub struct {
	id     int
	symbol string
	tf     string
	emit   func(domain.Bar)
}

func NewMock(venue string) *Mock {
	return &Mock{
		venue:    venue,
		tickers:  make(map[string]ports.Ticker),
		balances: make(map[string]ports.Balance),
		orders:   make(map[string]domain.OrderStatus),
		subs:     make(map[string][]mockSub),
	}
}

func (m *Mock) Venue() string { return m.venue }

// SetTicker seeds the last-price quote a future PlaceOrder or GetTicker
// call will see.
func (m *Mock) SetTicker(symbol string, last float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickers[symbol] = ports.Ticker{Symbol: symbol, Bid: last, Ask: last, Last: last}
}

// SetBalance seeds the free balance GetBalance returns for asset.
func (m *Mock) SetBalance(asset string, free float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[asset] = ports.Balance{Asset: asset, Free: free}
}

// ForceError makes every subsequent call fail with err until cleared
// (pass nil to clear). Used to drive C2 circuit-breaker/retry scenarios.
func (m *Mock) ForceError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forceErr = err
}

// SetRateLimited toggles injecting a typed RateLimited error carrying
// retryAfter as its hint.
func (m *Mock) SetRateLimited(rateLimited bool, retryAfter time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rateLimited = rateLimited
	m.retryAfter = retryAfter
}

// SetLatency makes every call sleep (respecting ctx) before returning,
// to exercise §4.1's cancellation contract under load.
func (m *Mock) SetLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency = d
}

func (m *Mock) sleepOrCancel(ctx context.Context) error {
	m.mu.Lock()
	d := m.latency
	m.mu.Unlock()
	if d <= 0 {
		if ctx.Err() != nil {
			return fmt.Errorf("mock: %w", ports.ErrCancelled)
		}
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return fmt.Errorf("mock: %w", ports.ErrCancelled)
	}
}

func (m *Mock) injectedError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.forceErr != nil {
		return m.forceErr
	}
	if m.rateLimited {
		return fmt.Errorf("mock: rate limited: %w", &ports.RateLimitedError{RetryAfter: m.retryAfter})
	}
	return nil
}

func (m *Mock) GetTicker(ctx context.Context, symbol string) (ports.Ticker, error) {
	if err := ctx.Err(); err != nil {
		return ports.Ticker{}, fmt.Errorf("mock: %w", ports.ErrCancelled)
	}
	if err := m.sleepOrCancel(ctx); err != nil {
		return ports.Ticker{}, err
	}
	if err := m.injectedError(); err != nil {
		return ports.Ticker{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickers[symbol]
	if !ok {
		return ports.Ticker{}, fmt.Errorf("mock: no ticker seeded for %s: %w", symbol, ports.ErrNotFound)
	}
	return t, nil
}

// PlaceOrder fills market orders immediately at the seeded ticker price
// (limit orders fill at their own Price) and assigns a sequential
// exchange_order_id. This is not idempotent at the adapter layer per
// §4.1 — duplicate client_ids create duplicate mock orders here, exactly
// as the contract says a real venue would; idempotency is C2's job.
func (m *Mock) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderStatus, error) {
	if err := m.sleepOrCancel(ctx); err != nil {
		return domain.OrderStatus{}, err
	}
	if err := m.injectedError(); err != nil {
		return domain.OrderStatus{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	price := req.Price
	if req.Type == domain.OrderTypeMarket {
		if t, ok := m.tickers[req.Symbol]; ok {
			price = t.Last
		}
	}
	if price <= 0 {
		return domain.OrderStatus{}, fmt.Errorf("mock: place order: no price available: %w", ports.ErrInvalidParams)
	}

	m.nextID++
	id := fmt.Sprintf("mock-%d", m.nextID)
	status := domain.OrderStatus{
		ExchangeOrderID: id,
		ClientID:        req.ClientID,
		Status:          domain.OrderFilled,
		FilledAmount:    req.Amount,
		AvgFillPrice:    price,
	}
	m.orders[id] = status
	return status, nil
}

func (m *Mock) CancelOrder(ctx context.Context, exchangeOrderID, symbol string) error {
	if err := m.sleepOrCancel(ctx); err != nil {
		return err
	}
	if err := m.injectedError(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	status, ok := m.orders[exchangeOrderID]
	if !ok {
		return fmt.Errorf("mock: cancel order %s: %w", exchangeOrderID, ports.ErrNotFound)
	}
	status.Status = domain.OrderCanceled
	m.orders[exchangeOrderID] = status
	return nil
}

func (m *Mock) GetOrderStatus(ctx context.Context, exchangeOrderID, symbol string) (domain.OrderStatus, error) {
	if err := m.sleepOrCancel(ctx); err != nil {
		return domain.OrderStatus{}, err
	}
	if err := m.injectedError(); err != nil {
		return domain.OrderStatus{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	status, ok := m.orders[exchangeOrderID]
	if !ok {
		return domain.OrderStatus{}, fmt.Errorf("mock: order %s: %w", exchangeOrderID, ports.ErrNotFound)
	}
	return status, nil
}

func (m *Mock) GetBalance(ctx context.Context, asset string) (ports.Balance, error) {
	if err := m.sleepOrCancel(ctx); err != nil {
		return ports.Balance{}, err
	}
	if err := m.injectedError(); err != nil {
		return ports.Balance{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[asset], nil
}

func (m *Mock) GetOpenOrders(ctx context.Context, symbol string) ([]domain.OrderStatus, error) {
	if err := m.sleepOrCancel(ctx); err != nil {
		return nil, err
	}
	if err := m.injectedError(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.OrderStatus
	for _, o := range m.orders {
		if !o.Status.Terminal() {
			out = append(out, o)
		}
	}
	return out, nil
}

// SubscribeKlines registers emit against (symbol, timeframe); PushBar
// drives it synchronously so tests can build the exact §8 scenarios bar
// by bar. stop unregisters the subscription.
func (m *Mock) SubscribeKlines(ctx context.Context, symbol, timeframe string, emit func(domain.Bar), onErr func(error)) (func(), error) {
	m.subsMu.Lock()
	m.nextID++
	id := int(m.nextID)
	key := symbol + ":" + timeframe
	m.subs[key] = append(m.subs[key], mockSub{id: id, symbol: symbol, tf: timeframe, emit: emit})
	m.subsMu.Unlock()

	stop := func() {
		m.subsMu.Lock()
		defer m.subsMu.Unlock()
		subs := m.subs[key]
		for i, s := range subs {
			if s.id == id {
				m.subs[key] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
	return stop, nil
}

// PushBar delivers bar to every subscriber registered for (symbol,
// timeframe), tagging it with this Mock's venue. It also updates the
// seeded ticker so a subsequent PlaceOrder fills at the bar's close.
func (m *Mock) PushBar(symbol, timeframe string, bar domain.Bar) {
	bar.Venue = m.venue
	bar.Symbol = symbol
	m.SetTicker(symbol, bar.Close)

	m.subsMu.Lock()
	subs := append([]mockSub(nil), m.subs[symbol+":"+timeframe]...)
	m.subsMu.Unlock()
	for _, s := range subs {
		s.emit(bar)
	}
}

// NewClientID is a small convenience used by tests that need a fresh
// idempotency key without importing google/uuid directly.
func NewClientID() string { return uuid.New().String() }
