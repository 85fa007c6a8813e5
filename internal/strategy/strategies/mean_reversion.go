package strategies

import (
	"fmt"

	"cryptoMegaBot/internal/domain"
	"cryptoMegaBot/internal/strategy/indicators"
)

// MeanReversion is the second reference strategy §4.5 names. It computes a
// z-score of the current close against an N-period rolling mean/stddev and
// enters against the extreme, exiting on take-profit, stop-loss, or the
// z-score crossing back through ±exit_z. Grounded in
// original_source/strategies/mean_reversion.py, with exits checked
// stop-loss-first, where the Python's elif chain checks take-profit first
// (as Breakout-Reset does). With both thresholds positive, no bar meets
// both, so the order does not change which exit fires.
type MeanReversion struct {
	lookback        int
	entryZ          float64
	exitZ           float64
	takeProfit      float64 // 0 disables
	stopLoss        float64 // 0 disables
	positionSizePct float64

	closes []domain.Bar
}

func NewMeanReversion(params map[string]float64) (*MeanReversion, error) {
	if err := (&MeanReversion{}).ValidateParams(params); err != nil {
		return nil, err
	}
	s := &MeanReversion{
		lookback: int(params["lookback_period"]),
		entryZ:   params["entry_z_score"],
		exitZ:    0.5,
	}
	if v, ok := params["exit_z_score"]; ok {
		s.exitZ = v
	}
	if v, ok := params["take_profit"]; ok {
		s.takeProfit = v
	}
	if v, ok := params["stop_loss"]; ok {
		s.stopLoss = v
	}
	if v, ok := params["position_size_pct"]; ok {
		s.positionSizePct = v
	} else {
		s.positionSizePct = 0.1
	}
	return s, nil
}

func (s *MeanReversion) Name() string { return "mean_reversion" }

func (s *MeanReversion) Lookback() int { return s.lookback }

func (s *MeanReversion) PositionSizePct() float64 { return s.positionSizePct }

// ValidateParams mirrors mean_reversion.py's parameter bounds: lookback
// 5-200, entry_z_score 1.0-3.0 (required), exit_z_score 0.1-1.5 (optional),
// take_profit/stop_loss 0.001-1.0 (optional). Unknown params are not
// rejected here (the runtime's params map is typed float64-only, so there
// is no analogous "unexpected keyword" failure mode to replicate).
func (s *MeanReversion) ValidateParams(params map[string]float64) error {
	lookback, ok := params["lookback_period"]
	if !ok || lookback != float64(int(lookback)) || lookback < 5 || lookback > 200 {
		return fmt.Errorf("mean_reversion: lookback_period must be an integer in [5, 200]")
	}
	entryZ, ok := params["entry_z_score"]
	if !ok || entryZ < 1.0 || entryZ > 3.0 {
		return fmt.Errorf("mean_reversion: entry_z_score must be in [1.0, 3.0]")
	}
	if exitZ, ok := params["exit_z_score"]; ok && (exitZ < 0.1 || exitZ > 1.5) {
		return fmt.Errorf("mean_reversion: exit_z_score must be in [0.1, 1.5]")
	}
	if tp, ok := params["take_profit"]; ok && (tp < 0.001 || tp > 1.0) {
		return fmt.Errorf("mean_reversion: take_profit must be in [0.001, 1.0]")
	}
	if sl, ok := params["stop_loss"]; ok && (sl < 0.001 || sl > 1.0) {
		return fmt.Errorf("mean_reversion: stop_loss must be in [0.001, 1.0]")
	}
	return nil
}

func (s *MeanReversion) OnBar(bar domain.Bar, position domain.StrategyPosition) domain.Signal {
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
	if err != nil || stddev == 0 {
		return domain.Signal{Kind: domain.SignalNone}
	}

	close := bar.Close
	z := (close - mean) / stddev

	if !position.IsFlat() {
		if sig, exit := s.checkExit(close, z, position); exit {
			return sig
		}
		return domain.Signal{Kind: domain.SignalNone}
	}

	switch {
	case z < -s.entryZ:
		return domain.Signal{Kind: domain.SignalEnter, Side: domain.Buy}
	case z > s.entryZ:
		return domain.Signal{Kind: domain.SignalEnter, Side: domain.Sell}
	default:
		return domain.Signal{Kind: domain.SignalNone}
	}
}

func (s *MeanReversion) checkExit(close, z float64, position domain.StrategyPosition) (domain.Signal, bool) {
	pnlPct := (close - position.AvgEntryPrice) / position.AvgEntryPrice
	if position.Size < 0 {
		pnlPct = -pnlPct
	}

	if s.stopLoss > 0 && pnlPct <= -s.stopLoss {
		return domain.Signal{Kind: domain.SignalExit, Reason: domain.ExitStopLoss}, true
	}
	if s.takeProfit > 0 && pnlPct >= s.takeProfit {
		return domain.Signal{Kind: domain.SignalExit, Reason: domain.ExitTakeProfit}, true
	}

	// z-score crossing back through ±exit_z toward the mean.
	if position.Size > 0 && z >= -s.exitZ {
		return domain.Signal{Kind: domain.SignalExit, Reason: domain.ExitReversion}, true
	}
	if position.Size < 0 && z <= s.exitZ {
		return domain.Signal{Kind: domain.SignalExit, Reason: domain.ExitReversion}, true
	}
	return domain.Signal{}, false
}
