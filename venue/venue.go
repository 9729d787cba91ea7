// Package venue abstracts the execution venue the engine trades against.
// The engine owns exactly one venue connection; all calls are blocking
// round-trips and are never issued concurrently.
package venue

import (
	"context"

	"github.com/shopspring/decimal"
)

// Direction is the side of a basket and of every order inside it.
type Direction string

const (
	Buy  Direction = "BUY"
	Sell Direction = "SELL"
)

// Opposite returns the closing side for d.
func (d Direction) Opposite() Direction {
	if d == Buy {
		return Sell
	}
	return Buy
}

// Order is a live order as reported by the venue. The venue owns it; the
// engine only references it by ticket.
type Order struct {
	Ticket     string
	Symbol     string
	Direction  Direction
	Lots       decimal.Decimal
	OpenPrice  decimal.Decimal
	StopLoss   decimal.Decimal // zero = none
	TakeProfit decimal.Decimal // zero = none
	Tag        string
}

// OrderRequest is a market-order submission.
type OrderRequest struct {
	Symbol     string
	Direction  Direction
	Lots       decimal.Decimal
	StopLoss   decimal.Decimal // zero = none
	TakeProfit decimal.Decimal // zero = none
	Tag        string
}

// Venue is the execution API consumed by the engine.
type Venue interface {
	// SubmitOrder places a market order and returns its ticket.
	SubmitOrder(ctx context.Context, req OrderRequest) (string, error)

	// ModifyOrder replaces the stop-loss / take-profit of an open order.
	ModifyOrder(ctx context.Context, ticket string, sl, tp decimal.Decimal) error

	// CloseOrder closes an open order at market.
	CloseOrder(ctx context.Context, ticket string) error

	// ListOpenOrders returns the open orders for symbol carrying tag.
	// Untagged orders are invisible to the caller.
	ListOpenOrders(ctx context.Context, symbol, tag string) ([]Order, error)

	// BidAsk returns the current top-of-book quote.
	BidAsk(ctx context.Context, symbol string) (bid, ask decimal.Decimal, err error)
}
