package strategies

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoMegaBot/internal/domain"
)

func validBreakoutParams() map[string]float64 {
	return map[string]float64{
		"lookback_period":       20,
		"volatility_multiplier": 2.0,
		"reset_threshold":       0.5,
		"position_size_pct":     0.1,
		"take_profit":           0.03,
		"stop_loss":             0.02,
	}
}

func closeBar(c float64) domain.Bar { return domain.Bar{Close: c} }

func fillFlat(s *BreakoutReset, n int, c float64) {
	flat := domain.StrategyPosition{}
	for i := 0; i < n; i++ {
		s.OnBar(closeBar(c), flat)
	}
}

func TestBreakoutReset_ValidateParams(t *testing.T) {
	s := &BreakoutReset{}

	assert.NoError(t, s.ValidateParams(validBreakoutParams()))

	bad := validBreakoutParams()
	bad["lookback_period"] = 2
	assert.Error(t, s.ValidateParams(bad))

	bad = validBreakoutParams()
	bad["volatility_multiplier"] = 0
	assert.Error(t, s.ValidateParams(bad))

	bad = validBreakoutParams()
	bad["position_size_pct"] = 1.5
	assert.Error(t, s.ValidateParams(bad))
}

func TestBreakoutReset_EntersLongOnUpperBandBreakout(t *testing.T) {
	s, err := NewBreakoutReset(validBreakoutParams())
	require.NoError(t, err)

	fillFlat(s, 19, 100)

	sig := s.OnBar(closeBar(150), domain.StrategyPosition{})
	assert.Equal(t, domain.SignalEnter, sig.Kind)
	assert.Equal(t, domain.Buy, sig.Side)
}

func TestBreakoutReset_EntersShortOnLowerBandBreakout(t *testing.T) {
	s, err := NewBreakoutReset(validBreakoutParams())
	require.NoError(t, err)

	fillFlat(s, 19, 100)

	sig := s.OnBar(closeBar(50), domain.StrategyPosition{})
	assert.Equal(t, domain.SignalEnter, sig.Kind)
	assert.Equal(t, domain.Sell, sig.Side)
}

func TestBreakoutReset_StopLossExitsBeforeReversion(t *testing.T) {
	s, err := NewBreakoutReset(validBreakoutParams())
	require.NoError(t, err)

	fillFlat(s, 19, 100)

	long := domain.StrategyPosition{Size: 1, AvgEntryPrice: 100}
	sig := s.OnBar(closeBar(97.9), long)
	assert.Equal(t, domain.SignalExit, sig.Kind)
	assert.Equal(t, domain.ExitStopLoss, sig.Reason)
}

func TestBreakoutReset_TakeProfitExit(t *testing.T) {
	s, err := NewBreakoutReset(validBreakoutParams())
	require.NoError(t, err)

	fillFlat(s, 19, 100)

	long := domain.StrategyPosition{Size: 1, AvgEntryPrice: 100}
	sig := s.OnBar(closeBar(103.5), long)
	assert.Equal(t, domain.SignalExit, sig.Kind)
	assert.Equal(t, domain.ExitTakeProfit, sig.Reason)
}

func TestBreakoutReset_NoSignalWhileFlatInsideBands(t *testing.T) {
	s, err := NewBreakoutReset(validBreakoutParams())
	require.NoError(t, err)

	fillFlat(s, 19, 100)

	sig := s.OnBar(closeBar(100), domain.StrategyPosition{})
	assert.Equal(t, domain.SignalNone, sig.Kind)
}

func TestBreakoutReset_WithholdsSignalsBelowLookback(t *testing.T) {
	s, err := NewBreakoutReset(validBreakoutParams())
	require.NoError(t, err)

	flat := domain.StrategyPosition{}
	for i := 0; i < 19; i++ {
		sig := s.OnBar(closeBar(1000), flat) // an extreme value that would otherwise break out
		assert.Equal(t, domain.SignalNone, sig.Kind)
	}
}
