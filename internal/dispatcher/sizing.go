package dispatcher

import (
	"github.com/shopspring/decimal"
)

// SizingMethod selects which §4.6(1) formula computes an Enter signal's
// amount.
type SizingMethod string

const (
	SizingFixedPct          SizingMethod = "fixed_pct"
	SizingPercentRisk       SizingMethod = "percent_risk"
	SizingVolatilityAdjusted SizingMethod = "volatility_adjusted"
)

// SizingConfig is the per-strategy-instance sizing configuration the
// Supervisor wires up from each strategy's own position_size_pct plus
// dispatcher-level risk knobs.
type SizingConfig struct {
	Method           SizingMethod
	PositionSizePct  float64 // fixed_pct
	RiskPerTradePct  float64 // percent_risk
	ATRMultiplier    float64 // percent_risk stop_distance = k*ATR, default 2
	MinSize          float64 // volatility_adjusted clamp floor
	MaxSize          float64 // volatility_adjusted clamp ceiling
}

func (c SizingConfig) atrMultiplier() float64 {
	if c.ATRMultiplier > 0 {
		return c.ATRMultiplier
	}
	return 2.0
}

// MarketContext carries the numbers a sizing formula needs at decision
// time — pulled from the exchange adapter (balance, price) and from the
// strategy instance's own rolling indicators (atr, stddev) for the two
// sizing methods that need volatility.
type MarketContext struct {
	Price           float64
	FreeQuoteBalance float64
	Equity          float64
	ATR             float64
	StdDev          float64
}

// sizeOrder computes the order amount per §4.6(1), grounded in
// web3guy0-polybot's risk/sizing.go Sizer.Calculate pattern: decimal math
// at the sizing boundary, float64 everywhere else (indicators, bars).
func sizeOrder(cfg SizingConfig, mkt MarketContext) decimal.Decimal {
	price := decimal.NewFromFloat(mkt.Price)
	if price.IsZero() || price.IsNegative() {
		return decimal.Zero
	}

	switch cfg.Method {
	case SizingPercentRisk:
		riskAmount := decimal.NewFromFloat(mkt.Equity).Mul(decimal.NewFromFloat(cfg.RiskPerTradePct))
		stopDistance := decimal.NewFromFloat(mkt.ATR).Mul(decimal.NewFromFloat(cfg.atrMultiplier()))
		if stopDistance.IsZero() {
			return decimal.Zero
		}
		return riskAmount.Div(stopDistance.Mul(price))

	case SizingVolatilityAdjusted:
		if mkt.StdDev <= 0 {
			return decimal.Zero
		}
		base := decimal.NewFromFloat(1).Div(decimal.NewFromFloat(mkt.StdDev))
		minSize := decimal.NewFromFloat(cfg.MinSize)
		maxSize := decimal.NewFromFloat(cfg.MaxSize)
		if maxSize.LessThanOrEqual(minSize) {
			return minSize
		}
		// Normalize base (an unbounded 1/sigma) into [min_size, max_size]
		// via a hard clamp — this codebase has no natural upper bound for
		// 1/sigma, so clamping directly is the simplest faithful reading
		// of "normalized to [min_size, max_size]".
		size := base
		if size.LessThan(minSize) {
			size = minSize
		}
		if size.GreaterThan(maxSize) {
			size = maxSize
		}
		return size

	default: // SizingFixedPct
		amount := decimal.NewFromFloat(mkt.FreeQuoteBalance).Mul(decimal.NewFromFloat(cfg.PositionSizePct))
		return amount.Div(price)
	}
}
