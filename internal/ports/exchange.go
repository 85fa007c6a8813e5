package ports

import (
	"time"
)

// OrderResponse represents the essential details returned after placing an order.
type OrderResponse struct {
	OrderID       int64     // Exchange's order ID
	Symbol        string    // Symbol for the order
	ClientOrderID string    // User-defined order ID
	Price         float64   // Price of the order (might be 0 for market orders initially)
	AvgPrice      float64   // Average filled price
	OrigQuantity  float64   // Original quantity requested
	ExecutedQty   float64   // Quantity filled
	Status        string    // Order status (e.g., NEW, FILLED, CANCELED)
	TimeInForce   string    // Time in force (e.g., GTC, IOC, FOK)
	Type          string    // Order type (e.g., MARKET, LIMIT, STOP_MARKET)
	Side          string    // Order side (BUY, SELL)
	Timestamp     time.Time // Time the order response was generated
}

// PositionRisk represents the risk details for an open position, as returned
// by the venue's futures position-risk endpoint (binanceclient.Client
// retains this raw shape; binanceclient.Adapter does not expose it above
// C1 since ports.Exchange has no position-risk operation).
type PositionRisk struct {
	Symbol           string  // Symbol of the position
	PositionAmt      float64 // Current position amount (positive for long, negative for short)
	EntryPrice       float64 // Average entry price of the position
	MarkPrice        float64 // Current mark price
	UnRealizedProfit float64 // Unrealized profit/loss
	LiquidationPrice float64 // Estimated liquidation price
	Leverage         int     // Current leverage for the position
	IsolatedMargin   float64 // Isolated margin (if applicable)
	IsAutoAddMargin  bool    // Whether auto margin add is enabled
	MaxNotionalValue float64 // Maximum notional value allowed
}
