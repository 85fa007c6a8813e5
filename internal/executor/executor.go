// Package executor implements the Reliable Executor (C2): it wraps an
// Exchange Adapter (C1) with retry, a circuit breaker, execution
// verification, and client_id idempotency, per §4.2.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cryptoMegaBot/internal/domain"
	"cryptoMegaBot/internal/metrics"
	"cryptoMegaBot/internal/ports"
)

// VerifyConfig controls §4.2(c) execution verification: after PlaceOrder
// returns an id, re-poll order status until terminal or partially_filled
// has stabilized, or the poll budget is exhausted.
type VerifyConfig struct {
	MaxPolls int
	Interval time.Duration
}

func DefaultVerifyConfig() VerifyConfig {
	return VerifyConfig{MaxPolls: 5, Interval: 200 * time.Millisecond}
}

// Config bundles all Executor tunables.
type Config struct {
	Retry            RetryConfig
	Verify           VerifyConfig
	CircuitCapacity  int
	CircuitOpenAfter time.Duration
	IdempotencyTTL   time.Duration
}

func DefaultConfig() Config {
	return Config{
		Retry:            DefaultRetryConfig(),
		Verify:           DefaultVerifyConfig(),
		CircuitCapacity:  100,
		CircuitOpenAfter: 60 * time.Second,
		IdempotencyTTL:   5 * time.Minute,
	}
}

// Executor is the Reliable Executor. One Executor wraps one Exchange.
type Executor struct {
	exchange ports.Exchange
	logger   ports.Logger
	cfg      Config
	cb       *circuitBreaker
	idemp    *idempotencyStore
	metrics  *metrics.Registry

	inflightMu sync.Mutex
	inflight   map[string]chan domain.OrderStatus
}

func New(exchange ports.Exchange, logger ports.Logger, cfg Config, reg *metrics.Registry) *Executor {
	return &Executor{
		exchange: exchange,
		logger:   logger,
		cfg:      cfg,
		cb:       newCircuitBreaker(cfg.CircuitCapacity, cfg.CircuitOpenAfter),
		idemp:    newIdempotencyStore(cfg.IdempotencyTTL),
		metrics:  reg,
		inflight: make(map[string]chan domain.OrderStatus),
	}
}

// CircuitState reports closed/open/half_open and the current error rate,
// exposed through the metrics registry too but useful for direct tests.
func (e *Executor) CircuitState() (string, float64) {
	return e.cb.State()
}

// PlaceOrder submits req with retry, circuit-breaker protection,
// idempotency, and post-submit verification.
func (e *Executor) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderStatus, error) {
	if status, ok := e.idemp.Get(req.ClientID); ok {
		return status, nil
	}

	wait, leader := e.claimInFlight(req.ClientID)
	if !leader {
		select {
		case status := <-wait:
			return status, nil
		case <-ctx.Done():
			return domain.OrderStatus{}, ports.ErrCancelled
		}
	}
	defer e.releaseInFlight(req.ClientID)

	if !e.cb.Allow() {
		return domain.OrderStatus{}, fmt.Errorf("place order: %w", ports.ErrCircuitOpen)
	}

	start := time.Now()
	status, err := withRetry(ctx, e.cfg.Retry, func(ctx context.Context) (domain.OrderStatus, error) {
		return e.exchange.PlaceOrder(ctx, req)
	})
	e.recordOutcome(start, err)
	if err != nil {
		return domain.OrderStatus{}, fmt.Errorf("place order: %w", err)
	}

	verified := e.verify(ctx, req.Symbol, status)
	e.idemp.Put(req.ClientID, verified)
	return verified, nil
}

// CancelOrder forwards to the adapter with retry and circuit protection,
// but is never subject to idempotency caching (cancellation has no
// meaningful "duplicate outcome" to replay).
func (e *Executor) CancelOrder(ctx context.Context, exchangeOrderID, symbol string) error {
	if !e.cb.Allow() {
		return fmt.Errorf("cancel order: %w", ports.ErrCircuitOpen)
	}
	start := time.Now()
	_, err := withRetry(ctx, e.cfg.Retry, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, e.exchange.CancelOrder(ctx, exchangeOrderID, symbol)
	})
	e.recordOutcome(start, err)
	if err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	return nil
}

func (e *Executor) claimInFlight(clientID string) (chan domain.OrderStatus, bool) {
	e.inflightMu.Lock()
	defer e.inflightMu.Unlock()

	if ch, ok := e.inflight[clientID]; ok {
		return ch, false
	}
	ch := make(chan domain.OrderStatus, 1)
	e.inflight[clientID] = ch
	return ch, true
}

func (e *Executor) releaseInFlight(clientID string) {
	e.inflightMu.Lock()
	ch, ok := e.inflight[clientID]
	delete(e.inflight, clientID)
	e.inflightMu.Unlock()

	if ok {
		if status, found := e.idemp.Get(clientID); found {
			ch <- status
		}
		close(ch)
	}
}

func (e *Executor) recordOutcome(start time.Time, err error) {
	e.metrics.Attempts.Inc()
	if err == nil {
		e.metrics.Successes.Inc()
		e.cb.RecordResult(true)
	} else {
		e.metrics.Failures.Inc()
		e.cb.RecordResult(false)
	}
	e.metrics.Latency.Observe(time.Since(start).Milliseconds())

	state, rate := e.cb.State()
	e.metrics.ErrorRateX1000.Set(int64(rate * 1000))
	switch state {
	case "open":
		e.metrics.CircuitState.Set(1)
	case "half_open":
		e.metrics.CircuitState.Set(2)
	default:
		e.metrics.CircuitState.Set(0)
	}
}

// verify re-polls order status until terminal, partially_filled stabilizes,
// the poll budget is exhausted, or ctx is cancelled. A status still not
// terminal when the budget runs out or ctx is cancelled is returned as
// "unknown" for human reconciliation — the caller (Order Dispatcher) must
// treat Unknown as "do not apply to position".
func (e *Executor) verify(ctx context.Context, symbol string, status domain.OrderStatus) domain.OrderStatus {
	if status.Status.Terminal() {
		return status
	}

	last := status
	for poll := 0; poll < e.cfg.Verify.MaxPolls; poll++ {
		select {
		case <-ctx.Done():
			last.Status = domain.OrderUnknown
			return last
		case <-time.After(e.cfg.Verify.Interval):
		}

		latest, err := e.exchange.GetOrderStatus(ctx, status.ExchangeOrderID, symbol)
		if err != nil {
			e.logger.Warn(ctx, fmt.Sprintf("verify order %s", status.ExchangeOrderID), map[string]interface{}{"error": err.Error()})
			continue
		}
		previousFilledAmount := last.FilledAmount
		last = latest
		if latest.Status.Terminal() {
			return last
		}
		if latest.Status == domain.OrderPartiallyFilled && latest.FilledAmount == previousFilledAmount {
			return last
		}
	}
	if !last.Status.Terminal() {
		last.Status = domain.OrderUnknown
	}
	return last
}
