package indicators

import (
	"context"
	"fmt"
	"math"

	"cryptoMegaBot/internal/domain"
)

// StdDevConfig holds configuration for the standard-deviation indicator.
type StdDevConfig struct {
	IndicatorConfig
}

// StdDev implements the population standard deviation of closes over a
// rolling window. Breakout-Reset and Mean-Reversion get their band/z-score
// mean and stddev from MeanAndStdDev below rather than from this type.
type StdDev struct {
	config StdDevConfig
}

func NewStdDev(config StdDevConfig) *StdDev {
	return &StdDev{config: config}
}

func (s *StdDev) Name() string { return "STDDEV" }

func (s *StdDev) RequiredDataPoints() int { return s.config.Period }

// Calculate computes the standard deviation of the last Period closes.
func (s *StdDev) Calculate(ctx context.Context, klines []*domain.Kline) (float64, error) {
	period := s.config.Period
	if len(klines) < period {
		return 0, fmt.Errorf("not enough data (%d) to calculate stddev for period %d", len(klines), period)
	}

	window := klines[len(klines)-period:]
	mean := 0.0
	for _, k := range window {
		mean += k.Close
	}
	mean /= float64(period)

	var sumSq float64
	for _, k := range window {
		d := k.Close - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(period)), nil
}

// MeanAndStdDev computes both in one pass over the last Period closes,
// the shape both reference strategies actually consume (they need mean
// and stddev together every bar).
func MeanAndStdDev(klines []*domain.Kline, period int) (mean, stddev float64, err error) {
	if len(klines) < period {
		return 0, 0, fmt.Errorf("not enough data (%d) to calculate mean/stddev for period %d", len(klines), period)
	}
	window := klines[len(klines)-period:]
	for _, k := range window {
		mean += k.Close
	}
	mean /= float64(period)

	var sumSq float64
	for _, k := range window {
		d := k.Close - mean
		sumSq += d * d
	}
	stddev = math.Sqrt(sumSq / float64(period))
	return mean, stddev, nil
}
