package strategies

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoMegaBot/internal/domain"
)

func validMeanReversionParams() map[string]float64 {
	return map[string]float64{
		"lookback_period":   20,
		"entry_z_score":     2.0,
		"exit_z_score":      0.5,
		"position_size_pct": 0.1,
		"take_profit":       0.03,
		"stop_loss":         0.02,
	}
}

func fillFlatMR(s *MeanReversion, n int, c float64) {
	flat := domain.StrategyPosition{}
	for i := 0; i < n; i++ {
		s.OnBar(closeBar(c), flat)
	}
}

func TestMeanReversion_ValidateParams(t *testing.T) {
	s := &MeanReversion{}

	assert.NoError(t, s.ValidateParams(validMeanReversionParams()))

	bad := validMeanReversionParams()
	bad["entry_z_score"] = 0.5
	assert.Error(t, s.ValidateParams(bad))

	bad = validMeanReversionParams()
	bad["exit_z_score"] = 2.0
	assert.Error(t, s.ValidateParams(bad))

	bad = validMeanReversionParams()
	delete(bad, "lookback_period")
	assert.Error(t, s.ValidateParams(bad))
}

func TestMeanReversion_EntersLongOnExtremeNegativeZScore(t *testing.T) {
	s, err := NewMeanReversion(validMeanReversionParams())
	require.NoError(t, err)

	fillFlatMR(s, 19, 100)

	sig := s.OnBar(closeBar(50), domain.StrategyPosition{})
	assert.Equal(t, domain.SignalEnter, sig.Kind)
	assert.Equal(t, domain.Buy, sig.Side)
}

func TestMeanReversion_EntersShortOnExtremePositiveZScore(t *testing.T) {
	s, err := NewMeanReversion(validMeanReversionParams())
	require.NoError(t, err)

	fillFlatMR(s, 19, 100)

	sig := s.OnBar(closeBar(150), domain.StrategyPosition{})
	assert.Equal(t, domain.SignalEnter, sig.Kind)
	assert.Equal(t, domain.Sell, sig.Side)
}

// StopLoss. With position (+1, 100), stop_loss=0.02, feed close=97.9.
// Expect Exit{sl} — checked ahead of take-profit and the z-score crossing,
// deliberately not replicating the Python source's accidental ordering.
func TestMeanReversion_StopLossExitsBeforeTakeProfitOrReversion(t *testing.T) {
	s, err := NewMeanReversion(validMeanReversionParams())
	require.NoError(t, err)

	fillFlatMR(s, 19, 100)

	long := domain.StrategyPosition{Size: 1, AvgEntryPrice: 100}
	sig := s.OnBar(closeBar(97.9), long)
	assert.Equal(t, domain.SignalExit, sig.Kind)
	assert.Equal(t, domain.ExitStopLoss, sig.Reason)
}

func TestMeanReversion_TakeProfitExit(t *testing.T) {
	s, err := NewMeanReversion(validMeanReversionParams())
	require.NoError(t, err)

	fillFlatMR(s, 19, 100)

	long := domain.StrategyPosition{Size: 1, AvgEntryPrice: 100}
	sig := s.OnBar(closeBar(103.5), long)
	assert.Equal(t, domain.SignalExit, sig.Kind)
	assert.Equal(t, domain.ExitTakeProfit, sig.Reason)
}

func TestMeanReversion_ExitsOnZScoreCrossingBackThroughExitBand(t *testing.T) {
	s, err := NewMeanReversion(validMeanReversionParams())
	require.NoError(t, err)

	fillFlatMR(s, 19, 100)

	// Close sits barely above the window mean, which is within reach of
	// TP/SL from entry (100.5) but not past either threshold, so the exit
	// must come from the z-score crossing back through -exit_z.
	long := domain.StrategyPosition{Size: 1, AvgEntryPrice: 100.5}
	sig := s.OnBar(closeBar(100.4), long)
	assert.Equal(t, domain.SignalExit, sig.Kind)
	assert.Equal(t, domain.ExitReversion, sig.Reason)
}

func TestMeanReversion_NoSignalWhenStdDevIsZero(t *testing.T) {
	s, err := NewMeanReversion(validMeanReversionParams())
	require.NoError(t, err)

	fillFlatMR(s, 19, 100)

	sig := s.OnBar(closeBar(100), domain.StrategyPosition{})
	assert.Equal(t, domain.SignalNone, sig.Kind)
}

func TestMeanReversion_DefaultsExitZAndPositionSizeWhenOmitted(t *testing.T) {
	params := validMeanReversionParams()
	delete(params, "exit_z_score")
	delete(params, "position_size_pct")

	s, err := NewMeanReversion(params)
	require.NoError(t, err)
	assert.Equal(t, 0.5, s.exitZ)
	assert.Equal(t, 0.1, s.PositionSizePct())
}
