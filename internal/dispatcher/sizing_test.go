package dispatcher

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func decimalFromFloat(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func TestSizeOrder_FixedPct(t *testing.T) {
	cfg := SizingConfig{Method: SizingFixedPct, PositionSizePct: 0.1}
	mkt := MarketContext{Price: 50000, FreeQuoteBalance: 10000}

	size := sizeOrder(cfg, mkt)
	assert.True(t, size.Equal(decimalFromFloat(0.02)), "expected 0.1*10000/50000=0.02, got %s", size)
}

func TestSizeOrder_PercentRisk(t *testing.T) {
	cfg := SizingConfig{Method: SizingPercentRisk, RiskPerTradePct: 0.01, ATRMultiplier: 2}
	mkt := MarketContext{Price: 100, Equity: 10000, ATR: 5}

	// risk_amount = 10000*0.01 = 100; stop_distance = 5*2 = 10
	// size = 100 / (10 * 100) = 0.1
	size := sizeOrder(cfg, mkt)
	assert.True(t, size.Equal(decimalFromFloat(0.1)), "got %s", size)
}

func TestSizeOrder_PercentRiskZeroATRYieldsZero(t *testing.T) {
	cfg := SizingConfig{Method: SizingPercentRisk, RiskPerTradePct: 0.01}
	mkt := MarketContext{Price: 100, Equity: 10000, ATR: 0}

	size := sizeOrder(cfg, mkt)
	assert.True(t, size.IsZero())
}

func TestSizeOrder_VolatilityAdjustedClampsToRange(t *testing.T) {
	cfg := SizingConfig{Method: SizingVolatilityAdjusted, MinSize: 0.01, MaxSize: 1.0}

	low := sizeOrder(cfg, MarketContext{Price: 100, StdDev: 1000}) // 1/1000 clamps up to MinSize
	assert.True(t, low.Equal(decimalFromFloat(0.01)))

	high := sizeOrder(cfg, MarketContext{Price: 100, StdDev: 0.001}) // 1/0.001=1000 clamps down to MaxSize
	assert.True(t, high.Equal(decimalFromFloat(1.0)))
}

func TestSizeOrder_VolatilityAdjustedZeroStdDevYieldsZero(t *testing.T) {
	cfg := SizingConfig{Method: SizingVolatilityAdjusted, MinSize: 0.01, MaxSize: 1.0}
	size := sizeOrder(cfg, MarketContext{Price: 100, StdDev: 0})
	assert.True(t, size.IsZero())
}

func TestSizeOrder_ZeroOrNegativePriceYieldsZero(t *testing.T) {
	cfg := SizingConfig{Method: SizingFixedPct, PositionSizePct: 0.1}
	assert.True(t, sizeOrder(cfg, MarketContext{Price: 0, FreeQuoteBalance: 10000}).IsZero())
	assert.True(t, sizeOrder(cfg, MarketContext{Price: -1, FreeQuoteBalance: 10000}).IsZero())
}
