// Package dispatcher implements the Order Dispatcher (C6): it converts
// strategy signals into sized, risk-checked orders submitted through the
// Reliable Executor (C2), and reconciles confirmed fills back into the
// Strategy Runtime (C5).
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"cryptoMegaBot/internal/domain"
	"cryptoMegaBot/internal/executor"
	"cryptoMegaBot/internal/ports"
	"cryptoMegaBot/internal/strategy/runtime"
)

// VolatilityFunc returns the current ATR and stddev for an instance's
// symbol, used by percent_risk and volatility_adjusted sizing. Strategy
// instances compute these already for their own signal logic; the
// Supervisor wires a closure reading the same rolling window.
type VolatilityFunc func() (atr, stddev float64)

// InstanceConfig is everything the dispatcher needs to size and risk-check
// orders for one strategy instance, set up once at registration time by
// the Supervisor.
type InstanceConfig struct {
	Venue          string
	Symbol         string
	QuoteAsset     string // asset GetBalance is queried against for sizing
	VenueMinAmount float64
	Sizing         SizingConfig
	Risk           RiskLimits
	Volatility     VolatilityFunc // nil is fine unless Sizing needs it
}

// QuarantinedOrder is an order whose terminal status could not be
// determined — §4.6(4)'s "on unknown, quarantine for operator review".
type QuarantinedOrder struct {
	StrategyID string
	Request    domain.OrderRequest
	Status     domain.OrderStatus
	At         time.Time
}

// Dispatcher reads signals from a Runtime and submits orders through an
// Executor, enforcing one-in-flight-order-per-instance and the §4.6(2)
// risk checks before every Enter.
type Dispatcher struct {
	exec    *executor.Executor
	exch    ports.Exchange
	logger  ports.Logger
	runtime *runtime.Runtime

	mu         sync.Mutex
	configs    map[string]InstanceConfig
	riskStates map[string]*instanceRiskState
	inflight   map[string]bool
	dropped    map[string]int

	quarantineMu sync.Mutex
	quarantine   []QuarantinedOrder
}

func New(exec *executor.Executor, exch ports.Exchange, logger ports.Logger, rt *runtime.Runtime) *Dispatcher {
	return &Dispatcher{
		exec:       exec,
		exch:       exch,
		logger:     logger,
		runtime:    rt,
		configs:    make(map[string]InstanceConfig),
		riskStates: make(map[string]*instanceRiskState),
		inflight:   make(map[string]bool),
		dropped:    make(map[string]int),
	}
}

// RegisterInstance wires a strategy instance's sizing/risk configuration.
// startingEquity seeds the drawdown/daily-loss baseline.
func (d *Dispatcher) RegisterInstance(strategyID string, cfg InstanceConfig, startingEquity float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.configs[strategyID] = cfg
	d.riskStates[strategyID] = newInstanceRiskState(cfg.Risk, startingEquity)
}

// Run consumes signals from the Runtime until ctx is done. Across
// strategies, submission work (market context lookup, sizing, executor
// round-trip) runs concurrently per §4.6 — the consume loop only does the
// cheap claim check before handing a signal off to its own goroutine, so a
// slow submit for one strategy never blocks signal processing for another.
// The claim/release pair still serializes each strategy instance to at
// most one in-flight order, exactly as before.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case sig, open := <-d.runtime.Signals():
			if !open {
				return
			}
			if !d.claim(sig.StrategyID) {
				d.recordDrop(sig.StrategyID)
				d.logger.Warn(ctx, "signal dropped: order already in flight for strategy", map[string]interface{}{"strategy_id": sig.StrategyID})
				continue
			}
			wg.Add(1)
			go func(sig domain.Signal) {
				defer wg.Done()
				defer d.release(sig.StrategyID)
				d.handle(ctx, sig)
			}(sig)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, sig domain.Signal) {
	d.mu.Lock()
	cfg, ok := d.configs[sig.StrategyID]
	d.mu.Unlock()
	if !ok {
		d.logger.Error(ctx, fmt.Errorf("no dispatcher config for strategy %s", sig.StrategyID), "dropping signal")
		return
	}

	inst := d.runtime.Instance(sig.StrategyID)
	if inst == nil {
		return
	}

	switch sig.Kind {
	case domain.SignalEnter:
		d.handleEnter(ctx, sig, cfg, inst)
	case domain.SignalExit:
		d.handleExit(ctx, sig, cfg, inst)
	}
}

func (d *Dispatcher) handleEnter(ctx context.Context, sig domain.Signal, cfg InstanceConfig, inst *runtime.Instance) {
	d.mu.Lock()
	riskState := d.riskStates[sig.StrategyID]
	d.mu.Unlock()
	if riskState != nil {
		if err := riskState.Check(); err != nil {
			d.logger.Warn(ctx, "signal rejected by risk checks", map[string]interface{}{"strategy_id": sig.StrategyID, "reason": err.Error(), "kind": ports.ErrRiskReject.Error()})
			return
		}
	}

	mkt, err := d.marketContext(ctx, cfg)
	if err != nil {
		d.logger.Warn(ctx, "could not build market context for sizing", map[string]interface{}{"strategy_id": sig.StrategyID, "error": err.Error()})
		return
	}

	amount := sig.SizeHint
	if amount <= 0 {
		amount = sizeOrder(cfg.Sizing, mkt).InexactFloat64()
	}
	if amount <= cfg.VenueMinAmount {
		d.logger.Warn(ctx, "computed amount below venue minimum, dropping signal", map[string]interface{}{"strategy_id": sig.StrategyID, "amount": amount, "min": cfg.VenueMinAmount})
		return
	}

	req := domain.OrderRequest{
		ClientID: uuid.New().String(),
		Venue:    cfg.Venue,
		Symbol:   cfg.Symbol,
		Type:     domain.OrderTypeMarket,
		Side:     sig.Side,
		Amount:   amount,
		TsMs:     time.Now().UnixMilli(),
	}
	d.submit(ctx, sig.StrategyID, req, inst)
}

func (d *Dispatcher) handleExit(ctx context.Context, sig domain.Signal, cfg InstanceConfig, inst *runtime.Instance) {
	position := inst.Position()
	if position.IsFlat() {
		return
	}
	side := domain.Sell
	if position.Size < 0 {
		side = domain.Buy
	}
	req := domain.OrderRequest{
		ClientID: uuid.New().String(),
		Venue:    cfg.Venue,
		Symbol:   cfg.Symbol,
		Type:     domain.OrderTypeMarket,
		Side:     side,
		Amount:   absFloat(position.Size),
		TsMs:     time.Now().UnixMilli(),
	}
	d.submit(ctx, sig.StrategyID, req, inst)
}

func (d *Dispatcher) submit(ctx context.Context, strategyID string, req domain.OrderRequest, inst *runtime.Instance) {
	status, err := d.exec.PlaceOrder(ctx, req)
	if err != nil {
		d.logger.Error(ctx, err, "order submission failed", map[string]interface{}{"strategy_id": strategyID, "client_id": req.ClientID})
		return
	}

	switch status.Status {
	case domain.OrderUnknown:
		d.quarantineMu.Lock()
		d.quarantine = append(d.quarantine, QuarantinedOrder{StrategyID: strategyID, Request: req, Status: status, At: time.Now()})
		d.quarantineMu.Unlock()
		d.logger.Error(ctx, fmt.Errorf("order status unknown"), "order quarantined for operator review", map[string]interface{}{"strategy_id": strategyID, "client_id": req.ClientID})
		return
	case domain.OrderFilled, domain.OrderPartiallyFilled:
		before := inst.Position()
		inst.ReconcileFill(domain.Fill{Side: req.Side, Amount: status.FilledAmount, Price: status.AvgFillPrice})
		after := inst.Position()
		d.recordRealizedPnL(strategyID, before, after, status.AvgFillPrice)
	}
}

// recordRealizedPnL feeds the risk tracker whenever a fill flattens or
// reduces a position — the only moments a P&L is actually realized.
func (d *Dispatcher) recordRealizedPnL(strategyID string, before, after domain.StrategyPosition, fillPrice float64) {
	d.mu.Lock()
	riskState := d.riskStates[strategyID]
	d.mu.Unlock()
	if riskState == nil || before.IsFlat() {
		return
	}

	closedSize := absFloat(before.Size) - absFloat(after.Size)
	if after.IsFlat() || (before.Size > 0) != (after.Size > 0) {
		closedSize = absFloat(before.Size)
	}
	if closedSize <= 0 {
		return
	}
	pnlPerUnit := fillPrice - before.AvgEntryPrice
	if before.Size < 0 {
		pnlPerUnit = -pnlPerUnit
	}
	riskState.RecordTradeResult(pnlPerUnit * closedSize)
}

// Quarantined returns a snapshot of orders awaiting operator review.
func (d *Dispatcher) Quarantined() []QuarantinedOrder {
	d.quarantineMu.Lock()
	defer d.quarantineMu.Unlock()
	out := make([]QuarantinedOrder, len(d.quarantine))
	copy(out, d.quarantine)
	return out
}

func (d *Dispatcher) claim(strategyID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inflight[strategyID] {
		return false
	}
	d.inflight[strategyID] = true
	return true
}

func (d *Dispatcher) release(strategyID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inflight, strategyID)
}

func (d *Dispatcher) recordDrop(strategyID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dropped[strategyID]++
}

// DroppedCount reports how many signals were dropped for strategyID due to
// an order already being in flight.
func (d *Dispatcher) DroppedCount(strategyID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped[strategyID]
}

func (d *Dispatcher) marketContext(ctx context.Context, cfg InstanceConfig) (MarketContext, error) {
	ticker, err := d.exch.GetTicker(ctx, cfg.Symbol)
	if err != nil {
		return MarketContext{}, err
	}
	balance, err := d.exch.GetBalance(ctx, cfg.QuoteAsset)
	if err != nil {
		return MarketContext{}, err
	}
	mkt := MarketContext{Price: ticker.Last, FreeQuoteBalance: balance.Free, Equity: balance.Free + balance.Locked}
	if cfg.Volatility != nil {
		mkt.ATR, mkt.StdDev = cfg.Volatility()
	}
	return mkt, nil
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
