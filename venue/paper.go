package venue

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"gridpilot/logger"
)

// Paper is an in-memory venue used for dry runs and tests. Market orders
// fill immediately at the current quote, and attached stop-loss /
// take-profit levels execute broker-side on every quote update.
type Paper struct {
	mu     sync.Mutex
	bid    decimal.Decimal
	ask    decimal.Decimal
	orders map[string]*Order
	closed []Order
}

// NewPaper creates a paper venue with no quote yet. Call SetQuote before
// submitting orders.
func NewPaper() *Paper {
	return &Paper{orders: make(map[string]*Order)}
}

// SetQuote updates the top of book and executes any stop-loss or
// take-profit an open order has crossed, the way a broker would.
func (p *Paper) SetQuote(bid, ask decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bid = bid
	p.ask = ask

	for ticket, o := range p.orders {
		if p.protectionHit(o) {
			delete(p.orders, ticket)
			p.closed = append(p.closed, *o)
		}
	}
}

// protectionHit reports whether the current quote crosses the order's
// protective levels. BUY orders exit against the bid, SELL against the ask.
func (p *Paper) protectionHit(o *Order) bool {
	if o.Direction == Buy {
		if !o.TakeProfit.IsZero() && p.bid.GreaterThanOrEqual(o.TakeProfit) {
			return true
		}
		if !o.StopLoss.IsZero() && p.bid.LessThanOrEqual(o.StopLoss) {
			return true
		}
		return false
	}
	if !o.TakeProfit.IsZero() && p.ask.LessThanOrEqual(o.TakeProfit) {
		return true
	}
	if !o.StopLoss.IsZero() && p.ask.GreaterThanOrEqual(o.StopLoss) {
		return true
	}
	return false
}

func (p *Paper) SubmitOrder(ctx context.Context, req OrderRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.bid.IsZero() && p.ask.IsZero() {
		return "", fmt.Errorf("paper venue has no quote yet")
	}
	if req.Lots.LessThanOrEqual(decimal.Zero) {
		return "", fmt.Errorf("lot size must be positive, got %s", req.Lots)
	}

	fill := p.ask
	if req.Direction == Sell {
		fill = p.bid
	}

	ticket := uuid.NewString()
	p.orders[ticket] = &Order{
		Ticket:     ticket,
		Symbol:     req.Symbol,
		Direction:  req.Direction,
		Lots:       req.Lots,
		OpenPrice:  fill,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		Tag:        req.Tag,
	}
	logger.Debugf("[Paper] filled %s %s %s @ %s", req.Direction, req.Lots, req.Symbol, fill)
	return ticket, nil
}

func (p *Paper) ModifyOrder(ctx context.Context, ticket string, sl, tp decimal.Decimal) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[ticket]
	if !ok {
		return fmt.Errorf("unknown ticket %s", ticket)
	}
	o.StopLoss = sl
	o.TakeProfit = tp
	return nil
}

func (p *Paper) CloseOrder(ctx context.Context, ticket string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[ticket]
	if !ok {
		return fmt.Errorf("unknown ticket %s", ticket)
	}
	delete(p.orders, ticket)
	p.closed = append(p.closed, *o)
	return nil
}

func (p *Paper) ListOpenOrders(ctx context.Context, symbol, tag string) ([]Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []Order
	for _, o := range p.orders {
		if o.Symbol == symbol && o.Tag == tag {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (p *Paper) BidAsk(ctx context.Context, symbol string) (decimal.Decimal, decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bid.IsZero() && p.ask.IsZero() {
		return decimal.Zero, decimal.Zero, fmt.Errorf("paper venue has no quote yet")
	}
	return p.bid, p.ask, nil
}

// ClosedOrders returns every order the venue has closed so far, in close
// order. Used by tests and dry-run reporting.
func (p *Paper) ClosedOrders() []Order {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Order, len(p.closed))
	copy(out, p.closed)
	return out
}

// Inject places a pre-existing order directly into the book. Tests use it
// to simulate foreign orders and restart scenarios.
func (p *Paper) Inject(o Order) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if o.Ticket == "" {
		o.Ticket = uuid.NewString()
	}
	cp := o
	p.orders[o.Ticket] = &cp
	return o.Ticket
}
