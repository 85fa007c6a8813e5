package dispatcher

import (
	"fmt"
	"sync"
	"time"
)

// RiskLimits bounds one strategy instance's trading per §4.6(2): drawdown
// from its own equity peak, a run of consecutive losses, and a daily loss
// budget. Shaped after the teacher's risk manager's RiskConfig/RiskStats
// fields (MaxDrawdown, MaxDailyLoss, consecutive-loss bookkeeping), but
// tracked per strategy instance instead of globally — the teacher's
// manager assumed one account-wide leveraged position, which doesn't fit
// a runtime hosting N concurrent strategy instances each with their own
// equity curve. The teacher's version is not reusable as-is and was
// retired rather than kept unwired; see DESIGN.md.
type RiskLimits struct {
	MaxDrawdownPct     float64
	DailyLossLimitPct  float64
	MaxConsecutiveLoss int
}

// instanceRiskState is one strategy instance's running risk bookkeeping.
type instanceRiskState struct {
	mu sync.Mutex

	limits RiskLimits

	equityPeak       float64
	equity           float64
	consecutiveLoss  int
	dayStart         time.Time
	dailyStartEquity float64
}

func newInstanceRiskState(limits RiskLimits, startingEquity float64) *instanceRiskState {
	now := time.Now()
	return &instanceRiskState{
		limits:           limits,
		equityPeak:       startingEquity,
		equity:           startingEquity,
		dayStart:         now,
		dailyStartEquity: startingEquity,
	}
}

// RecordTradeResult updates equity/drawdown/consecutive-loss bookkeeping
// after a fill flattens, reduces, or flips a position. pnl is signed
// (negative for a loss).
func (s *instanceRiskState) RecordTradeResult(pnl float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rolloverDayLocked()
	s.equity += pnl
	if s.equity > s.equityPeak {
		s.equityPeak = s.equity
	}
	if pnl < 0 {
		s.consecutiveLoss++
	} else {
		s.consecutiveLoss = 0
	}
}

func (s *instanceRiskState) rolloverDayLocked() {
	if time.Since(s.dayStart) >= 24*time.Hour {
		s.dayStart = time.Now()
		s.dailyStartEquity = s.equity
	}
}

// Check returns a non-nil error (classified ports.ErrRiskReject by the
// caller) if submitting a new order would violate any of §4.6(2)'s limits.
func (s *instanceRiskState) Check() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rolloverDayLocked()

	if s.equityPeak > 0 {
		drawdown := (s.equityPeak - s.equity) / s.equityPeak
		if drawdown > s.limits.MaxDrawdownPct {
			return fmt.Errorf("drawdown %.4f exceeds max_drawdown_pct %.4f", drawdown, s.limits.MaxDrawdownPct)
		}
	}
	if s.limits.MaxConsecutiveLoss > 0 && s.consecutiveLoss >= s.limits.MaxConsecutiveLoss {
		return fmt.Errorf("consecutive losses %d reached limit %d", s.consecutiveLoss, s.limits.MaxConsecutiveLoss)
	}
	if s.dailyStartEquity > 0 {
		dailyLoss := (s.dailyStartEquity - s.equity) / s.dailyStartEquity
		if dailyLoss > s.limits.DailyLossLimitPct {
			return fmt.Errorf("daily loss %.4f exceeds daily_loss_limit_pct %.4f", dailyLoss, s.limits.DailyLossLimitPct)
		}
	}
	return nil
}
