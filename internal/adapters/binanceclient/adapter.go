package binanceclient

import (
	"context"
	"fmt"
	"strconv"

	"cryptoMegaBot/internal/domain"
	"cryptoMegaBot/internal/ports"
)

// Adapter exposes Client through the venue-agnostic ports.Exchange
// capability set (C1). The heavy lifting — auth, rate-limit handling, error
// translation, WS reconnection — stays in Client; this is a thin reshaping
// layer so nothing above C1 needs to know it is talking to Binance.
type Adapter struct {
	client *Client
}

func NewAdapter(client *Client) *Adapter {
	return &Adapter{client: client}
}

func (a *Adapter) Venue() string { return "binance" }

func (a *Adapter) GetTicker(ctx context.Context, symbol string) (ports.Ticker, error) {
	last, err := a.client.GetTickerPrice(ctx, symbol)
	if err != nil {
		return ports.Ticker{}, err
	}
	// Binance futures' lightweight ticker endpoint used here only exposes
	// last price; bid/ask mirror it rather than pulling the order book.
	return ports.Ticker{Symbol: symbol, Last: last, Bid: last, Ask: last}, nil
}

func (a *Adapter) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderStatus, error) {
	if req.Type != domain.OrderTypeMarket {
		return domain.OrderStatus{}, fmt.Errorf("binanceclient: place order: %w", ports.ErrInvalidParams)
	}
	quantity := strconv.FormatFloat(req.Amount, 'f', -1, 64)
	resp, err := a.client.PlaceMarketOrder(ctx, req.Symbol, req.Side, quantity)
	if err != nil {
		return domain.OrderStatus{}, err
	}
	return orderResponseToStatus(resp, req.ClientID), nil
}

func (a *Adapter) CancelOrder(ctx context.Context, exchangeOrderID, symbol string) error {
	id, err := strconv.ParseInt(exchangeOrderID, 10, 64)
	if err != nil {
		return fmt.Errorf("binanceclient: cancel order: %w", ports.ErrInvalidParams)
	}
	_, err = a.client.CancelOrder(ctx, symbol, id)
	return err
}

func (a *Adapter) GetOrderStatus(ctx context.Context, exchangeOrderID, symbol string) (domain.OrderStatus, error) {
	id, err := strconv.ParseInt(exchangeOrderID, 10, 64)
	if err != nil {
		return domain.OrderStatus{}, fmt.Errorf("binanceclient: get order status: %w", ports.ErrInvalidParams)
	}
	resp, err := a.client.GetOrderByID(ctx, symbol, id)
	if err != nil {
		return domain.OrderStatus{}, err
	}
	return orderResponseToStatus(resp, resp.ClientOrderID), nil
}

func (a *Adapter) GetBalance(ctx context.Context, asset string) (ports.Balance, error) {
	free, err := a.client.GetAccountBalance(ctx, asset)
	if err != nil {
		return ports.Balance{}, err
	}
	return ports.Balance{Asset: asset, Free: free}, nil
}

// GetOpenOrders is not exposed by Client today; the teacher's service loop
// never needed it (positions are tracked locally). Left unimplemented
// rather than faked, returning ErrInvalidParams so a caller notices instead
// of silently trusting an empty list.
func (a *Adapter) GetOpenOrders(ctx context.Context, symbol string) ([]domain.OrderStatus, error) {
	return nil, fmt.Errorf("binanceclient: get open orders: %w", ports.ErrInvalidParams)
}

func (a *Adapter) SubscribeKlines(ctx context.Context, symbol, timeframe string, emit func(domain.Bar), onErr func(error)) (func(), error) {
	doneCh, stopCh, err := a.client.StreamKlines(ctx, symbol, timeframe, func(k *domain.Kline) {
		k.Venue = a.Venue()
		emit(*k)
	}, onErr)
	if err != nil {
		return nil, err
	}
	stop := func() {
		select {
		case <-stopCh:
		default:
			close(stopCh)
		}
	}
	go func() {
		<-doneCh
	}()
	return stop, nil
}

func orderResponseToStatus(resp *ports.OrderResponse, clientID string) domain.OrderStatus {
	return domain.OrderStatus{
		ExchangeOrderID: strconv.FormatInt(resp.OrderID, 10),
		ClientID:        clientID,
		Status:          mapBinanceStatus(resp.Status),
		FilledAmount:    resp.ExecutedQty,
		AvgFillPrice:    resp.AvgPrice,
		Raw:             resp,
	}
}

func mapBinanceStatus(status string) domain.OrderStatusKind {
	switch status {
	case "NEW":
		return domain.OrderOpen
	case "PARTIALLY_FILLED":
		return domain.OrderPartiallyFilled
	case "FILLED":
		return domain.OrderFilled
	case "CANCELED", "EXPIRED":
		return domain.OrderCanceled
	case "REJECTED":
		return domain.OrderRejected
	case "NEW_INSURANCE", "NEW_ADL":
		return domain.OrderPending
	default:
		return domain.OrderUnknown
	}
}
