package strategies

import (
	"fmt"

	"cryptoMegaBot/internal/domain"
	"cryptoMegaBot/internal/strategy/indicators"
)

// BreakoutReset is the first of the two reference strategies §4.5 names as
// acceptance targets. It tracks an N-period rolling mean/stddev of closes,
// enters on a band breakout while flat, and exits on take-profit,
// stop-loss, or a mean-reversion reset — checked in that order, every bar,
// before any entry is considered. Grounded in
// original_source/strategies/breakout_reset.py's process_realtime_data,
// reworked from the Python's buffered-dataframe style into the bar-by-bar
// on_bar contract this codebase's RuntimeStrategy requires.
type BreakoutReset struct {
	lookback            int
	volatilityMultiplier float64
	resetThreshold       float64
	takeProfit           float64 // 0 disables
	stopLoss             float64 // 0 disables
	positionSizePct      float64

	closes []domain.Bar
}

func NewBreakoutReset(params map[string]float64) (*BreakoutReset, error) {
	if err := (&BreakoutReset{}).ValidateParams(params); err != nil {
		return nil, err
	}
	s := &BreakoutReset{
		lookback:             int(params["lookback_period"]),
		volatilityMultiplier: params["volatility_multiplier"],
		resetThreshold:       params["reset_threshold"],
		positionSizePct:      params["position_size_pct"],
	}
	if v, ok := params["take_profit"]; ok {
		s.takeProfit = v
	}
	if v, ok := params["stop_loss"]; ok {
		s.stopLoss = v
	}
	return s, nil
}

func (s *BreakoutReset) Name() string { return "breakout_reset" }

func (s *BreakoutReset) Lookback() int { return s.lookback }

// PositionSizePct exposes the fixed_pct sizing fraction this instance was
// configured with, so main.go can hand it to the dispatcher's per-instance
// sizing config without duplicating it in two places.
func (s *BreakoutReset) PositionSizePct() float64 { return s.positionSizePct }

// ValidateParams matches breakout_reset.py's validate_parameters: required
// fields must be present with the right sign, optional take_profit/
// stop_loss must be positive when supplied.
func (s *BreakoutReset) ValidateParams(params map[string]float64) error {
	lookback, ok := params["lookback_period"]
	if !ok || lookback != float64(int(lookback)) || lookback < 5 || lookback > 200 {
		return fmt.Errorf("breakout_reset: lookback_period must be an integer in [5, 200]")
	}
	k, ok := params["volatility_multiplier"]
	if !ok || k <= 0 {
		return fmt.Errorf("breakout_reset: volatility_multiplier must be > 0")
	}
	reset, ok := params["reset_threshold"]
	if !ok || reset <= 0 {
		return fmt.Errorf("breakout_reset: reset_threshold must be > 0")
	}
	sizePct, ok := params["position_size_pct"]
	if !ok || sizePct <= 0 || sizePct > 1 {
		return fmt.Errorf("breakout_reset: position_size_pct must be in (0, 1]")
	}
	if tp, ok := params["take_profit"]; ok && tp <= 0 {
		return fmt.Errorf("breakout_reset: take_profit must be > 0 when set")
	}
	if sl, ok := params["stop_loss"]; ok && sl <= 0 {
		return fmt.Errorf("breakout_reset: stop_loss must be > 0 when set")
	}
	return nil
}

func (s *BreakoutReset) OnBar(bar domain.Bar, position domain.StrategyPosition) domain.Signal {
	s.closes = append(s.closes, bar)
	if limit := 2 * s.lookback; len(s.closes) > limit {
		s.closes = s.closes[len(s.closes)-limit:]
	}
	if len(s.closes) < s.lookback {
		return domain.Signal{Kind: domain.SignalNone}
	}

	window := make([]*domain.Kline, len(s.closes))
	for i := range s.closes {
		window[i] = &s.closes[i]
	}
	mean, stddev, err := indicators.MeanAndStdDev(window, s.lookback)
	if err != nil {
		return domain.Signal{Kind: domain.SignalNone}
	}

	close := bar.Close
	bandWidth := s.volatilityMultiplier * stddev
	upper := mean + bandWidth
	lower := mean - bandWidth

	if !position.IsFlat() {
		if sig, exit := s.checkExit(close, mean, bandWidth, position); exit {
			return sig
		}
		return domain.Signal{Kind: domain.SignalNone}
	}

	switch {
	case close > upper:
		return domain.Signal{Kind: domain.SignalEnter, Side: domain.Buy}
	case close < lower:
		return domain.Signal{Kind: domain.SignalEnter, Side: domain.Sell}
	default:
		return domain.Signal{Kind: domain.SignalNone}
	}
}

// checkExit evaluates take-profit, then stop-loss, then the mean-reversion
// reset exit — take-profit and stop-loss first, exactly as
// breakout_reset.py's process_realtime_data orders them.
func (s *BreakoutReset) checkExit(close, mean, bandWidth float64, position domain.StrategyPosition) (domain.Signal, bool) {
	pnlPct := (close - position.AvgEntryPrice) / position.AvgEntryPrice
	if position.Size < 0 {
		pnlPct = -pnlPct
	}

	if s.takeProfit > 0 && pnlPct >= s.takeProfit {
		return domain.Signal{Kind: domain.SignalExit, Reason: domain.ExitTakeProfit}, true
	}
	if s.stopLoss > 0 && pnlPct <= -s.stopLoss {
		return domain.Signal{Kind: domain.SignalExit, Reason: domain.ExitStopLoss}, true
	}

	resetBand := bandWidth * s.resetThreshold * 0.5
	if position.Size > 0 && close < mean-resetBand {
		return domain.Signal{Kind: domain.SignalExit, Reason: domain.ExitReversion}, true
	}
	if position.Size < 0 && close > mean+resetBand {
		return domain.Signal{Kind: domain.SignalExit, Reason: domain.ExitReversion}, true
	}
	return domain.Signal{}, false
}
