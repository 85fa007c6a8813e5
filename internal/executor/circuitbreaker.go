package executor

import (
	"sync"
	"time"
)

// circuitState is the breaker's three-way state: closed, open, half_open.
type circuitState int

const (
	closed circuitState = iota
	open
	halfOpen
)

// circuitBreaker implements §4.2(b): a fixed-capacity ring buffer of 0/1
// outcomes drives closed->open->half_open->closed transitions, generalized
// from the teacher's consecutive-failure bookkeeping into a ring buffer
// per §8 invariant 6 ("circuit state is open whenever samples>=10 and
// error rate>50%").
type circuitBreaker struct {
	mu sync.Mutex

	capacity    int
	openTimeout time.Duration

	ring     []bool // true = success
	filled   []bool
	writeIdx int

	state    circuitState
	openedAt time.Time

	now func() time.Time
}

func newCircuitBreaker(capacity int, openTimeout time.Duration) *circuitBreaker {
	return &circuitBreaker{
		capacity:    capacity,
		openTimeout: openTimeout,
		ring:        make([]bool, capacity),
		filled:      make([]bool, capacity),
		now:         time.Now,
	}
}

// Allow reports whether a new call may proceed, transitioning open->half_open
// if the timeout has elapsed.
func (cb *circuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case closed:
		return true
	case halfOpen:
		return true
	case open:
		if cb.now().Sub(cb.openedAt) >= cb.openTimeout {
			cb.state = halfOpen
			return true
		}
		return false
	}
	return false
}

// RecordResult feeds one outcome into the ring buffer and updates state.
func (cb *circuitBreaker) RecordResult(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == halfOpen {
		if success {
			cb.state = closed
			cb.resetRing()
		} else {
			cb.state = open
			cb.openedAt = cb.now()
			cb.resetRing()
		}
		return
	}

	cb.ring[cb.writeIdx] = success
	cb.filled[cb.writeIdx] = true
	cb.writeIdx = (cb.writeIdx + 1) % cb.capacity

	samples, errors := cb.sample()
	if samples >= 10 && float64(errors)/float64(samples) > 0.5 {
		cb.state = open
		cb.openedAt = cb.now()
	}
}

func (cb *circuitBreaker) resetRing() {
	for i := range cb.ring {
		cb.filled[i] = false
	}
	cb.writeIdx = 0
}

func (cb *circuitBreaker) sample() (samples, errs int) {
	for i, f := range cb.filled {
		if !f {
			continue
		}
		samples++
		if !cb.ring[i] {
			errs++
		}
	}
	return
}

// State returns closed/open/half_open and the current error rate.
func (cb *circuitBreaker) State() (string, float64) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	samples, errs := cb.sample()
	rate := 0.0
	if samples > 0 {
		rate = float64(errs) / float64(samples)
	}
	switch cb.state {
	case open:
		return "open", rate
	case halfOpen:
		return "half_open", rate
	default:
		return "closed", rate
	}
}
