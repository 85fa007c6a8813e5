package marketdata

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"cryptoMegaBot/internal/domain"
	"cryptoMegaBot/internal/metrics"
	"cryptoMegaBot/internal/ports"
)

// ReconnectConfig controls the jittered exponential backoff §4.4 requires
// between stream reconnect attempts.
type ReconnectConfig struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	JitterFrac float64 // fraction of the computed delay to randomize, e.g. 0.2
}

func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{BaseDelay: time.Second, MaxDelay: 30 * time.Second, JitterFrac: 0.2}
}

// Stream is one (venue, symbol, timeframe) subscription: it owns a
// Broadcaster, dedups bars by ts_ms, and reconnects the underlying
// exchange stream on error with jittered backoff. Grounded in the
// teacher's StreamKlines reconnect loop (internal/adapters/binanceclient/
// client.go), generalized from "one hardcoded stream" to "any Exchange
// implementation, many concurrent streams".
type Stream struct {
	Venue     string
	Symbol    string
	Timeframe string

	exchange ports.Exchange
	logger   ports.Logger
	reconCfg ReconnectConfig
	bc       *Broadcaster

	staleTimeout time.Duration

	mu       sync.Mutex
	lastTsMs int64
	lastBar  time.Time
}

// NewStream builds a Stream. staleMultiplier*timeframeDuration is how long
// the ingestor tolerates silence before firing a heartbeat warning; it
// defaults to 3 when staleMultiplier<=0, per §4.4.
func NewStream(venue string, exchange ports.Exchange, logger ports.Logger, symbol, timeframe string, staleMultiplier int, reconCfg ReconnectConfig, dropped *metrics.Counter) *Stream {
	if staleMultiplier <= 0 {
		staleMultiplier = 3
	}
	tfDur := timeframeDuration(timeframe)
	return &Stream{
		Venue:        venue,
		Symbol:       symbol,
		Timeframe:    timeframe,
		exchange:     exchange,
		logger:       logger,
		reconCfg:     reconCfg,
		bc:           NewBroadcaster(dropped),
		staleTimeout: tfDur * time.Duration(staleMultiplier),
	}
}

// Subscribe exposes the stream's Broadcaster to consumers (C5 Runtime
// instances).
func (s *Stream) Subscribe(buffer int) (<-chan domain.Bar, func()) {
	return s.bc.Subscribe(buffer)
}

// Run drives the reconnect loop until ctx is cancelled. It never returns
// until ctx is done; callers run it in its own goroutine.
func (s *Stream) Run(ctx context.Context) {
	attempt := 0
	for ctx.Err() == nil {
		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			s.logger.Warn(ctx, fmt.Sprintf("market data stream %s/%s/%s disconnected", s.Venue, s.Symbol, s.Timeframe), map[string]interface{}{"error": err.Error(), "attempt": attempt})
		}
		delay := s.backoff(attempt)
		attempt++
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (s *Stream) backoff(attempt int) time.Duration {
	delay := s.reconCfg.BaseDelay * time.Duration(1<<uint(attempt))
	if delay > s.reconCfg.MaxDelay || delay <= 0 {
		delay = s.reconCfg.MaxDelay
	}
	jitter := float64(delay) * s.reconCfg.JitterFrac * (rand.Float64()*2 - 1)
	result := time.Duration(float64(delay) + jitter)
	if result < 0 {
		result = s.reconCfg.BaseDelay
	}
	return result
}

// runOnce subscribes once and blocks until the subscription ends (error,
// stop, or ctx done), monitoring for stale data in the meantime.
func (s *Stream) runOnce(ctx context.Context) error {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	stop, err := s.exchange.SubscribeKlines(streamCtx, s.Symbol, s.Timeframe, s.onBar, func(err error) {
		select {
		case errCh <- err:
		default:
		}
	})
	if err != nil {
		return err
	}
	defer stop()

	heartbeat := time.NewTicker(s.staleTimeout / 4)
	if s.staleTimeout <= 0 {
		heartbeat.Stop()
	}
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			return err
		case <-heartbeat.C:
			if s.isStale() {
				s.logger.Warn(ctx, fmt.Sprintf("market data stream %s/%s/%s is stale", s.Venue, s.Symbol, s.Timeframe), map[string]interface{}{"stale_timeout": s.staleTimeout.String()})
			}
		}
	}
}

func (s *Stream) isStale() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastBar.IsZero() {
		return false
	}
	return time.Since(s.lastBar) >= s.staleTimeout
}

// onBar dedups by ts_ms (the spec's dedup key) before broadcasting —
// reconnects can replay the in-progress bar, and duplicates here would
// double-count a fill reconciliation decision downstream.
func (s *Stream) onBar(bar domain.Bar) {
	ts := bar.TsMs()
	s.mu.Lock()
	if ts <= s.lastTsMs && s.lastTsMs != 0 {
		s.mu.Unlock()
		return
	}
	s.lastTsMs = ts
	s.lastBar = time.Now()
	s.mu.Unlock()

	s.bc.Publish(bar)
}

// timeframeDuration parses the handful of interval strings the codebase
// ever deals in ("1m", "5m", "1h", "4h", "1d"). An unrecognized suffix
// falls back to minutes, matching the teacher's own lenient interval
// handling elsewhere.
func timeframeDuration(tf string) time.Duration {
	if len(tf) < 2 {
		return time.Minute
	}
	n, err := strconv.Atoi(tf[:len(tf)-1])
	if err != nil || n <= 0 {
		return time.Minute
	}
	switch strings.ToLower(tf[len(tf)-1:]) {
	case "s":
		return time.Duration(n) * time.Second
	case "m":
		return time.Duration(n) * time.Minute
	case "h":
		return time.Duration(n) * time.Hour
	case "d":
		return time.Duration(n) * 24 * time.Hour
	case "w":
		return time.Duration(n) * 7 * 24 * time.Hour
	default:
		return time.Duration(n) * time.Minute
	}
}

// Ingestor owns a set of Streams keyed by (venue, symbol, timeframe) and
// starts/stops them together, the way the Supervisor (C7) needs to manage
// market data as a single unit alongside strategy runtimes and the
// dispatcher.
type Ingestor struct {
	exchange ports.Exchange
	logger   ports.Logger
	reconCfg ReconnectConfig
	staleMul int
	dropped  *metrics.Counter

	mu      sync.Mutex
	streams map[string]*Stream
}

// NewIngestor wires reg.MarketDataDropped into every Stream it creates, so
// the broadcaster's oldest-drop-on-overflow policy is observable (§4.4/§5).
// reg may be nil, in which case drops go uncounted.
func NewIngestor(exchange ports.Exchange, logger ports.Logger, staleMultiplier int, reconCfg ReconnectConfig, reg *metrics.Registry) *Ingestor {
	ing := &Ingestor{
		exchange: exchange,
		logger:   logger,
		reconCfg: reconCfg,
		staleMul: staleMultiplier,
		streams:  make(map[string]*Stream),
	}
	if reg != nil {
		ing.dropped = &reg.MarketDataDropped
	}
	return ing
}

// Stream returns (creating if necessary) the Stream for (symbol,
// timeframe). Streams must be created before Run is called: Run starts
// only the streams registered at that moment. Subscribe on the returned
// Stream is always safe.
func (i *Ingestor) Stream(symbol, timeframe string) *Stream {
	key := symbol + ":" + timeframe
	i.mu.Lock()
	defer i.mu.Unlock()
	if s, ok := i.streams[key]; ok {
		return s
	}
	s := NewStream(i.exchange.Venue(), i.exchange, i.logger, symbol, timeframe, i.staleMul, i.reconCfg, i.dropped)
	i.streams[key] = s
	return s
}

// Run starts every registered Stream's reconnect loop and blocks until ctx
// is cancelled.
func (i *Ingestor) Run(ctx context.Context) {
	i.mu.Lock()
	streams := make([]*Stream, 0, len(i.streams))
	for _, s := range i.streams {
		streams = append(streams, s)
	}
	i.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range streams {
		wg.Add(1)
		go func(s *Stream) {
			defer wg.Done()
			s.Run(ctx)
		}(s)
	}
	wg.Wait()
}
