package domain

// Bar is an immutable OHLCV sample for one (venue, symbol, timeframe) window.
// The runtime treats Kline as the Bar representation — see
// internal/domain/kline.go; OpenTime stands in for spec's ts_ms.
type Bar = Kline

// SignalKind distinguishes the three shapes a strategy's on_bar call can
// return: no action, enter a new position, or exit the current one.
type SignalKind string

const (
	SignalNone  SignalKind = "none"
	SignalEnter SignalKind = "enter"
	SignalExit  SignalKind = "exit"
)

// ExitReason explains why a strategy asked to close its position.
type ExitReason string

const (
	ExitTakeProfit ExitReason = "tp"
	ExitStopLoss   ExitReason = "sl"
	ExitReversion  ExitReason = "reversion"
	ExitDuration   ExitReason = "duration"
	ExitDrawdown   ExitReason = "drawdown"
)

// Signal is the value a Strategy's OnBar returns. Kind==SignalNone carries no
// other fields. Kind==SignalEnter carries Side (and optionally SizeHint).
// Kind==SignalExit carries Reason.
type Signal struct {
	Kind     SignalKind
	Side     OrderSide
	SizeHint float64 // 0 means "let the dispatcher size it"
	Reason   ExitReason

	StrategyID string // set by the runtime before handing the signal to C6
}

// StrategyPosition is the spec's minimal per-instance position: a signed
// size and the average entry price it was built at. The runtime only ever
// needs these two numbers and the invariant size==0 <=> avgEntryPrice==0.
type StrategyPosition struct {
	Size          float64
	AvgEntryPrice float64
}

// IsFlat reports whether the position is (within epsilon) closed.
func (p StrategyPosition) IsFlat() bool {
	const epsilon = 1e-9
	return p.Size > -epsilon && p.Size < epsilon
}

// Fill is a confirmed execution applied to a StrategyPosition.
type Fill struct {
	Side   OrderSide
	Amount float64
	Price  float64
}

// Reconcile applies a confirmed fill to a position per the spec's
// reconciliation rules (open/increase, flip, reduce, flatten) and returns
// the updated position. A zero-amount or zero-price fill is a no-op.
func (p StrategyPosition) Reconcile(f Fill) StrategyPosition {
	const epsilon = 1e-9
	if f.Amount == 0 || f.Price == 0 {
		return p
	}

	signedFill := f.Amount
	if f.Side == Sell {
		signedFill = -f.Amount
	}
	newSize := p.Size + signedFill

	if newSize > -epsilon && newSize < epsilon {
		return StrategyPosition{Size: 0, AvgEntryPrice: 0}
	}

	sameDirection := p.IsFlat() || sameSign(newSize, p.Size)
	if sameDirection {
		if p.IsFlat() {
			return StrategyPosition{Size: newSize, AvgEntryPrice: f.Price}
		}
		absOld := abs(p.Size)
		absNew := abs(newSize)
		avg := (absOld*p.AvgEntryPrice + f.Amount*f.Price) / absNew
		return StrategyPosition{Size: newSize, AvgEntryPrice: avg}
	}

	if abs(signedFill) >= abs(p.Size) {
		// Flip: the fill more than covers the existing position.
		return StrategyPosition{Size: newSize, AvgEntryPrice: f.Price}
	}

	// Reduce: partial close, average entry price is unchanged.
	return StrategyPosition{Size: newSize, AvgEntryPrice: p.AvgEntryPrice}
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
