package main

import (
	"context"
	"fmt"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"os"
	"os/signal"
	"syscall"
	"time"

	"cryptoMegaBot/config"
	"cryptoMegaBot/internal/adapters/binanceclient"
	appLoggerPkg "cryptoMegaBot/internal/adapters/logger"
	"cryptoMegaBot/internal/adapters/rediskeystore"
	"cryptoMegaBot/internal/adapters/sqlite"
	"cryptoMegaBot/internal/dispatcher"
	"cryptoMegaBot/internal/domain"
	"cryptoMegaBot/internal/executor"
	"cryptoMegaBot/internal/keymanager"
	"cryptoMegaBot/internal/marketdata"
	"cryptoMegaBot/internal/metrics"
	"cryptoMegaBot/internal/ports"
	"cryptoMegaBot/internal/strategy/indicators"
	"cryptoMegaBot/internal/strategy/runtime"
	"cryptoMegaBot/internal/strategy/strategies"
	"cryptoMegaBot/internal/supervisor"

	"github.com/redis/go-redis/v9"
)

// Exit codes per §6.3: 0 clean shutdown, 1 config error, 2 fatal dependency
// error (key store unreachable), 3 cancelled.
const (
	exitOK          = 0
	exitConfigError = 1
	exitDependency  = 2
	exitCancelled   = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Printf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
		return exitConfigError
	}

	// 2. Initialize Logger
	appLogger := appLoggerPkg.NewStdLogger(cfg.LogLevel)
	ctx := context.Background()
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// 3. Initialize the sqlite-backed audit log §4.3 requires for every Key
	// Manager operation.
	auditRepo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
	if err != nil {
		appLogger.Error(ctx, err, "failed to initialize audit repository")
		return exitDependency
	}
	defer auditRepo.Close()

	// 4. Initialize the C1 Exchange Adapter: a real Binance-backed adapter,
	// or the deterministic Mock, selected by USE_REAL_EXCHANGE.
	var exchange ports.Exchange
	if cfg.UseRealExchange {
		binanceClient, err := binanceclient.New(binanceclient.Config{
			APIKey:               cfg.APIKey,
			SecretKey:            cfg.SecretKey,
			UseTestnet:           cfg.UseTestnet,
			Logger:               appLogger,
			ReconnectDelay:       cfg.ReconnectDelay,
			MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		})
		if err != nil {
			appLogger.Error(ctx, err, "failed to initialize Binance client")
			return exitDependency
		}
		exchange = binanceclient.NewAdapter(binanceClient)
	} else {
		mock := binanceclient.NewMock(cfg.ExchangeID)
		mock.SetTicker(cfg.Symbol, 50000)
		mock.SetBalance("USDT", cfg.MinAvailableBalance*10)
		exchange = mock
	}
	appLogger.Info(ctx, "exchange adapter initialized", map[string]interface{}{"venue": exchange.Venue(), "real": cfg.UseRealExchange})

	// 5. Initialize the C3 Key Manager: Redis-shaped KeyStore, audit log,
	// PBKDF2+AES-GCM encryption at rest.
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmtAddr(cfg.RedisHost, cfg.RedisPort),
		DB:       cfg.RedisDB,
		Password: cfg.RedisPassword,
	})
	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		appLogger.Error(ctx, err, "key store unreachable")
		return exitDependency
	}
	keyStore := rediskeystore.New(rdb)
	keyMgr, err := keymanager.New(keyStore, auditRepo, appLogger, cfg.EncryptionKey, cfg.EncryptionSalt)
	if err != nil {
		appLogger.Error(ctx, err, "failed to initialize key manager")
		return exitDependency
	}

	// 6. Initialize the C2 Reliable Executor wrapping the exchange.
	reg := metrics.NewRegistry()
	exec := executor.New(exchange, appLogger, executor.Config{
		Retry:            executor.RetryConfig{MaxRetries: cfg.ExecutorMaxRetries, BaseDelay: cfg.ExecutorBaseDelay},
		Verify:           executor.VerifyConfig{MaxPolls: cfg.ExecutorVerifyMaxPolls, Interval: cfg.ExecutorVerifyInterval},
		CircuitCapacity:  cfg.ExecutorCircuitCapacity,
		CircuitOpenAfter: cfg.ExecutorOpenTimeout,
		IdempotencyTTL:   cfg.ExecutorIdempotencyTTL,
	}, reg)

	// 7. Initialize the C4 Market-Data Ingestor, C5 Strategy Runtime, and
	// C6 Order Dispatcher.
	ingestor := marketdata.NewIngestor(exchange, appLogger, cfg.MarketDataStaleMultiplier, marketdata.DefaultReconnectConfig(), reg)
	rt := runtime.New(appLogger, 256)
	disp := dispatcher.New(exec, exchange, appLogger, rt)

	breakout, err := strategies.NewBreakoutReset(map[string]float64{
		"lookback_period":       20,
		"volatility_multiplier": 2.0,
		"reset_threshold":       0.5,
		"position_size_pct":     0.1,
		"take_profit":           0.03,
		"stop_loss":             0.02,
	})
	if err != nil {
		appLogger.Error(ctx, err, "invalid breakout_reset parameters")
		return exitConfigError
	}

	meanRev, err := strategies.NewMeanReversion(map[string]float64{
		"lookback_period":   20,
		"entry_z_score":     2.0,
		"exit_z_score":      0.5,
		"position_size_pct": 0.1,
		"take_profit":       0.03,
		"stop_loss":         0.02,
	})
	if err != nil {
		appLogger.Error(ctx, err, "invalid mean_reversion parameters")
		return exitConfigError
	}

	// 8. Wire the C7 Supervisor: it owns start order and the shutdown
	// cascade.
	sweeperCfg := keymanager.SweeperConfig{
		ExpirationInterval:     time.Hour,
		NotificationInterval:   24 * time.Hour,
		AutoRotationInterval:   24 * time.Hour,
		AutoRotationEnabled:    cfg.APIKeyAutoRotationEnabled,
		NotificationWindowDays: cfg.APIKeyNotificationWindowDays,
		AutoRotationGraceHours: cfg.APIKeyRotationGracePeriodHours,
	}
	sup := supervisor.New(appLogger, ingestor, rt, disp, keyMgr, sweeperCfg)

	sup.AddStrategy(supervisor.StrategyInstanceSpec{
		ID:        "breakout-reset-1",
		Symbol:    cfg.Symbol,
		Timeframe: "1h",
		Strategy:  breakout,
		Dispatch: dispatcher.InstanceConfig{
			Venue:          exchange.Venue(),
			Symbol:         cfg.Symbol,
			QuoteAsset:     "USDT",
			VenueMinAmount: cfg.Quantity * 0.01,
			Sizing:         dispatcher.SizingConfig{Method: dispatcher.SizingFixedPct, PositionSizePct: breakout.PositionSizePct()},
			Risk:           dispatcher.RiskLimits{MaxDrawdownPct: cfg.RiskMaxDrawdownPct, DailyLossLimitPct: cfg.RiskDailyLossLimitPct, MaxConsecutiveLoss: cfg.RiskMaxConsecutiveLoss},
			Volatility:     volatilityFunc(rt, "breakout-reset-1", breakout.Lookback()),
		},
		StartingEquity: cfg.MinAvailableBalance * 10,
	})

	sup.AddStrategy(supervisor.StrategyInstanceSpec{
		ID:        "mean-reversion-1",
		Symbol:    cfg.Symbol,
		Timeframe: "1h",
		Strategy:  meanRev,
		Dispatch: dispatcher.InstanceConfig{
			Venue:          exchange.Venue(),
			Symbol:         cfg.Symbol,
			QuoteAsset:     "USDT",
			VenueMinAmount: cfg.Quantity * 0.01,
			Sizing:         dispatcher.SizingConfig{Method: dispatcher.SizingFixedPct, PositionSizePct: meanRev.PositionSizePct()},
			Risk:           dispatcher.RiskLimits{MaxDrawdownPct: cfg.RiskMaxDrawdownPct, DailyLossLimitPct: cfg.RiskDailyLossLimitPct, MaxConsecutiveLoss: cfg.RiskMaxConsecutiveLoss},
			Volatility:     volatilityFunc(rt, "mean-reversion-1", meanRev.Lookback()),
		},
		StartingEquity: cfg.MinAvailableBalance * 10,
	})

	// 9. Run until SIGINT/SIGTERM, then let the single cancellation token
	// cascade through ingestor, strategies, dispatcher, and sweepers.
	runCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	appLogger.Info(runCtx, "starting supervisor", nil)
	sup.Run(runCtx)

	if runCtx.Err() != nil {
		appLogger.Info(ctx, "shutdown triggered by cancellation", map[string]interface{}{"reason": runCtx.Err().Error()})
		return exitCancelled
	}
	appLogger.Info(ctx, "Application finished gracefully.", nil)
	return exitOK
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}

// volatilityFunc closes over a strategy instance's rolling bar buffer and
// computes the ATR/stddev pair the dispatcher's percent_risk and
// volatility_adjusted sizing methods need (§4.6(1)). period matches the
// strategy's own lookback window so the volatility estimate is drawn from
// the same bars the strategy is basing its signal on.
func volatilityFunc(rt *runtime.Runtime, instanceID string, period int) dispatcher.VolatilityFunc {
	atrCalc := indicators.NewATR(indicators.ATRConfig{IndicatorConfig: indicators.IndicatorConfig{Period: period}})
	return func() (atr, stddev float64) {
		inst := rt.Instance(instanceID)
		if inst == nil {
			return 0, 0
		}
		bars := inst.Bars()
		if len(bars) == 0 {
			return 0, 0
		}
		window := make([]*domain.Kline, len(bars))
		for i := range bars {
			window[i] = &bars[i]
		}
		atr, err := atrCalc.Calculate(context.Background(), window)
		if err != nil {
			atr = 0
		}
		_, stddev, err = indicators.MeanAndStdDev(window, period)
		if err != nil {
			stddev = 0
		}
		return atr, stddev
	}
}
