package domain

import "time"

// Kline represents a single candlestick data point. Venue is set by the
// Exchange Adapter that produced it; empty Venue is only ever seen on
// klines built directly by historical-fetch tooling that predates C4.
type Kline struct {
	Venue     string    // Exchange venue identifier ("binance", "mock", ...)
	OpenTime  time.Time // Start time of the interval
	CloseTime time.Time // End time of the interval
	Symbol    string    // Trading symbol
	Interval  string    // Kline interval (e.g., "1m", "1h")
	Open      float64   // Opening price
	High      float64   // Highest price
	Low       float64   // Lowest price
	Close     float64   // Closing price
	Volume    float64   // Trading volume
	IsFinal   bool      // Whether this kline is the final one for the interval
}

// TsMs is the bar's open time as a millisecond epoch, the spec's ts_ms.
func (k Kline) TsMs() int64 { return k.OpenTime.UnixMilli() }
