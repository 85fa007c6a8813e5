package executor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoMegaBot/internal/domain"
	"cryptoMegaBot/internal/metrics"
	"cryptoMegaBot/internal/ports"
)

type nopLogger struct{}

func (nopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (nopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// fakeExchange implements ports.Exchange with per-call injectable behavior,
// used to drive §8's circuit-breaker and retry scenarios deterministically.
type fakeExchange struct {
	placeErr    error
	placeCalls  int32
	statusQueue []domain.OrderStatus
	statusIdx   int32
}

func (f *fakeExchange) Venue() string { return "fake" }
func (f *fakeExchange) GetTicker(ctx context.Context, symbol string) (ports.Ticker, error) {
	return ports.Ticker{}, nil
}
func (f *fakeExchange) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderStatus, error) {
	atomic.AddInt32(&f.placeCalls, 1)
	if f.placeErr != nil {
		return domain.OrderStatus{}, f.placeErr
	}
	return domain.OrderStatus{ExchangeOrderID: "1", ClientID: req.ClientID, Status: domain.OrderOpen}, nil
}
func (f *fakeExchange) CancelOrder(ctx context.Context, exchangeOrderID, symbol string) error {
	return nil
}
func (f *fakeExchange) GetOrderStatus(ctx context.Context, exchangeOrderID, symbol string) (domain.OrderStatus, error) {
	idx := atomic.AddInt32(&f.statusIdx, 1) - 1
	if int(idx) >= len(f.statusQueue) {
		return f.statusQueue[len(f.statusQueue)-1], nil
	}
	return f.statusQueue[idx], nil
}
func (f *fakeExchange) GetBalance(ctx context.Context, asset string) (ports.Balance, error) {
	return ports.Balance{}, nil
}
func (f *fakeExchange) GetOpenOrders(ctx context.Context, symbol string) ([]domain.OrderStatus, error) {
	return nil, nil
}
func (f *fakeExchange) SubscribeKlines(ctx context.Context, symbol, timeframe string, emit func(domain.Bar), onErr func(error)) (func(), error) {
	return func() {}, nil
}

func TestExecutor_PlaceOrder_VerifiesUntilTerminal(t *testing.T) {
	exch := &fakeExchange{
		statusQueue: []domain.OrderStatus{
			{ExchangeOrderID: "1", Status: domain.OrderOpen},
			{ExchangeOrderID: "1", Status: domain.OrderFilled, FilledAmount: 1},
		},
	}
	exec := New(exch, nopLogger{}, Config{
		Retry:            RetryConfig{MaxRetries: 1, BaseDelay: time.Millisecond},
		Verify:           VerifyConfig{MaxPolls: 3, Interval: time.Millisecond},
		CircuitCapacity:  100,
		CircuitOpenAfter: time.Second,
		IdempotencyTTL:   time.Minute,
	}, metrics.NewRegistry())

	status, err := exec.PlaceOrder(context.Background(), domain.OrderRequest{ClientID: "c1", Symbol: "BTCUSDT", Amount: 1})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderFilled, status.Status)
}

func TestExecutor_PlaceOrder_IdempotentOnDuplicateClientID(t *testing.T) {
	exch := &fakeExchange{statusQueue: []domain.OrderStatus{{ExchangeOrderID: "1", Status: domain.OrderFilled}}}
	exec := New(exch, nopLogger{}, DefaultConfig(), metrics.NewRegistry())

	req := domain.OrderRequest{ClientID: "dup", Symbol: "BTCUSDT", Amount: 1}
	_, err := exec.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	_, err = exec.PlaceOrder(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&exch.placeCalls))
}

func TestExecutor_CircuitOpensAfterConsecutiveFailures(t *testing.T) {
	exch := &fakeExchange{placeErr: fmt.Errorf("boom: %w", ports.ErrPermanent)}
	exec := New(exch, nopLogger{}, Config{
		Retry:            RetryConfig{MaxRetries: 0, BaseDelay: time.Millisecond},
		Verify:           DefaultVerifyConfig(),
		CircuitCapacity:  100,
		CircuitOpenAfter: 60 * time.Second,
		IdempotencyTTL:   time.Minute,
	}, metrics.NewRegistry())

	for i := 0; i < 10; i++ {
		_, err := exec.PlaceOrder(context.Background(), domain.OrderRequest{ClientID: fmt.Sprintf("c%d", i), Symbol: "BTCUSDT", Amount: 1})
		assert.Error(t, err)
	}

	state, _ := exec.CircuitState()
	assert.Equal(t, "open", state)

	_, err := exec.PlaceOrder(context.Background(), domain.OrderRequest{ClientID: "c11", Symbol: "BTCUSDT", Amount: 1})
	assert.ErrorIs(t, err, ports.ErrCircuitOpen)
	assert.Equal(t, int32(10), atomic.LoadInt32(&exch.placeCalls), "circuit-open call must not reach the adapter")
}

func TestExecutor_VerifyUsesRequestSymbol(t *testing.T) {
	exch := &symbolCapturingExchange{status: domain.OrderStatus{ExchangeOrderID: "1", Status: domain.OrderOpen}}
	exec := New(exch, nopLogger{}, Config{
		Retry:            DefaultRetryConfig(),
		Verify:           VerifyConfig{MaxPolls: 1, Interval: time.Millisecond},
		CircuitCapacity:  100,
		CircuitOpenAfter: time.Second,
		IdempotencyTTL:   time.Minute,
	}, metrics.NewRegistry())

	_, err := exec.PlaceOrder(context.Background(), domain.OrderRequest{ClientID: "c1", Symbol: "ETHUSDT", Amount: 1})
	require.NoError(t, err)
	assert.Equal(t, "ETHUSDT", exch.gotSymbol, "verify must poll with the original request's symbol")
}

type symbolCapturingExchange struct {
	fakeExchange
	status    domain.OrderStatus
	gotSymbol string
}

func (f *symbolCapturingExchange) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderStatus, error) {
	return domain.OrderStatus{ExchangeOrderID: "1", ClientID: req.ClientID, Status: domain.OrderOpen}, nil
}
func (f *symbolCapturingExchange) GetOrderStatus(ctx context.Context, exchangeOrderID, symbol string) (domain.OrderStatus, error) {
	f.gotSymbol = symbol
	return domain.OrderStatus{ExchangeOrderID: exchangeOrderID, Status: domain.OrderFilled, FilledAmount: 1}, nil
}

func TestExecutor_CancelledContextForwardsImmediately(t *testing.T) {
	exch := &fakeExchange{placeErr: errors.New("network down")}
	exec := New(exch, nopLogger{}, Config{
		Retry:            RetryConfig{MaxRetries: 5, BaseDelay: time.Second},
		Verify:           DefaultVerifyConfig(),
		CircuitCapacity:  100,
		CircuitOpenAfter: time.Second,
		IdempotencyTTL:   time.Minute,
	}, metrics.NewRegistry())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := exec.PlaceOrder(ctx, domain.OrderRequest{ClientID: "c1", Symbol: "BTCUSDT", Amount: 1})
	assert.Error(t, err)
}
