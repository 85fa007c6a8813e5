// Package supervisor implements the Supervisor (C7): it starts the
// ingestor, strategy instances, and dispatcher in order, starts the key
// manager's background sweepers, and propagates a single cancellation
// token to every task per §4.7/§5.
package supervisor

import (
	"context"
	"sync"

	"cryptoMegaBot/internal/dispatcher"
	"cryptoMegaBot/internal/domain"
	"cryptoMegaBot/internal/keymanager"
	"cryptoMegaBot/internal/marketdata"
	"cryptoMegaBot/internal/ports"
	"cryptoMegaBot/internal/strategy/runtime"
)

// StrategyInstanceSpec is everything the Supervisor needs to wire one
// strategy instance to its bar source and the dispatcher.
type StrategyInstanceSpec struct {
	ID        string
	Symbol    string
	Timeframe string
	Strategy  ports.RuntimeStrategy
	Dispatch  dispatcher.InstanceConfig
	StartingEquity float64
}

// Supervisor owns the C4/C5/C6 lifecycle plus the C3 sweepers. It is built
// once at startup with its collaborators already constructed (exchange,
// executor, key manager) and is handed the strategy instance specs to
// start.
type Supervisor struct {
	logger    ports.Logger
	ingestor  *marketdata.Ingestor
	runtime   *runtime.Runtime
	dispatch  *dispatcher.Dispatcher
	keyMgr    *keymanager.Manager
	sweeperCfg keymanager.SweeperConfig

	specs []StrategyInstanceSpec
}

func New(logger ports.Logger, ingestor *marketdata.Ingestor, rt *runtime.Runtime, disp *dispatcher.Dispatcher, keyMgr *keymanager.Manager, sweeperCfg keymanager.SweeperConfig) *Supervisor {
	return &Supervisor{
		logger:     logger,
		ingestor:   ingestor,
		runtime:    rt,
		dispatch:   disp,
		keyMgr:     keyMgr,
		sweeperCfg: sweeperCfg,
	}
}

// AddStrategy registers a strategy instance to be started by Run. Call
// this before Run; instances added afterward are not picked up (matching
// the ingestor's own "register streams before Run" contract).
func (s *Supervisor) AddStrategy(spec StrategyInstanceSpec) {
	s.specs = append(s.specs, spec)
}

// Run starts everything in the §4.7 order — ingestor, then strategies,
// then dispatcher, then sweepers — and blocks until ctx is cancelled. On
// return, every task has observed cancellation: no new orders are issued
// past this point, and any order the dispatcher was mid-submit on has
// either completed or been quarantined (Executor's own ctx handling
// guarantees the former; the dispatcher's quarantine path the latter).
func (s *Supervisor) Run(ctx context.Context) {
	var wg sync.WaitGroup

	// Every stream must be registered with the ingestor before Run starts
	// its reconnect goroutines: Ingestor.Run snapshots its stream set once
	// at call time, so a stream created afterward would never be started.
	streams := make([]*marketdata.Stream, len(s.specs))
	bars := make([]<-chan domain.Bar, len(s.specs))
	for i, spec := range s.specs {
		streams[i] = s.ingestor.Stream(spec.Symbol, spec.Timeframe)
		bars[i], _ = streams[i].Subscribe(64)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.ingestor.Run(ctx)
	}()

	for i, spec := range s.specs {
		s.runtime.AddInstance(ctx, spec.ID, streams[i].Venue, spec.Symbol, spec.Timeframe, spec.Strategy, bars[i])
		s.dispatch.RegisterInstance(spec.ID, spec.Dispatch, spec.StartingEquity)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.dispatch.Run(ctx)
	}()

	if s.keyMgr != nil {
		s.keyMgr.RunSweepers(ctx, s.sweeperCfg)
	}

	s.logger.Info(ctx, "supervisor started", map[string]interface{}{"strategy_instances": len(s.specs)})

	<-ctx.Done()
	s.logger.Info(ctx, "supervisor shutting down", nil)
	wg.Wait()
}
