package venue

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"gridpilot/logger"
)

// The futures package does not name the conditional market types accepted by
// the plain order endpoint, only LIMIT/MARKET/LIQUIDATION.
const (
	orderTypeStopMarket       futures.OrderType = "STOP_MARKET"
	orderTypeTakeProfitMarket futures.OrderType = "TAKE_PROFIT_MARKET"
)

const (
	protSuffixSL = "-sl"
	protSuffixTP = "-tp"
)

// Binance adapts the USD-M futures API to the Venue interface. Each grid
// entry is a market order with client id "<tag>-<ticket>", paired with
// reduce-only STOP_MARKET / TAKE_PROFIT_MARKET protection carrying the same
// id plus an "-sl"/"-tp" suffix. Those protective orders are the venue-side
// ground truth: ListOpenOrders reads the live book, adopts entries placed by
// a previous process run, and drops entries whose position leg is gone
// (protection filled, liquidated or manually closed). The in-memory registry
// is only a cache over that state. ModifyOrder cancels and re-issues the
// protective orders.
type Binance struct {
	client *futures.Client

	mu      sync.Mutex
	entries map[string]*binanceEntry
}

type binanceEntry struct {
	order     Order
	clientID  string
	slOrderID int64
	tpOrderID int64
}

// NewBinance creates the adapter. Credentials must already be validated.
func NewBinance(apiKey, secretKey string) *Binance {
	return &Binance{
		client:  futures.NewClient(apiKey, secretKey),
		entries: make(map[string]*binanceEntry),
	}
}

func (b *Binance) SubmitOrder(ctx context.Context, req OrderRequest) (string, error) {
	ticket := strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	clientID := req.Tag + "-" + ticket

	res, err := b.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(sideFor(req.Direction)).
		Type(futures.OrderTypeMarket).
		Quantity(req.Lots.String()).
		NewClientOrderID(clientID).
		Do(ctx)
	if err != nil {
		return "", fmt.Errorf("submit %s %s: %w", req.Direction, req.Symbol, err)
	}

	open, _ := decimal.NewFromString(res.AvgPrice)
	entry := &binanceEntry{
		order: Order{
			Ticket:    ticket,
			Symbol:    req.Symbol,
			Direction: req.Direction,
			Lots:      req.Lots,
			OpenPrice: open,
			Tag:       req.Tag,
		},
		clientID: clientID,
	}

	b.mu.Lock()
	b.entries[ticket] = entry
	b.mu.Unlock()

	if err := b.placeProtection(ctx, entry, req.StopLoss, req.TakeProfit); err != nil {
		logger.Warnf("[Binance] protection for %s failed, will retry on sync: %v", ticket, err)
	}
	return ticket, nil
}

func (b *Binance) ModifyOrder(ctx context.Context, ticket string, sl, tp decimal.Decimal) error {
	b.mu.Lock()
	entry, ok := b.entries[ticket]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown ticket %s", ticket)
	}
	if entry.order.StopLoss.Equal(sl) && entry.order.TakeProfit.Equal(tp) {
		return nil
	}
	if err := b.cancelProtection(ctx, entry); err != nil {
		return err
	}
	return b.placeProtection(ctx, entry, sl, tp)
}

func (b *Binance) CloseOrder(ctx context.Context, ticket string) error {
	b.mu.Lock()
	entry, ok := b.entries[ticket]
	b.mu.Unlock()
	if !ok {
		// Already flat; redundant close is a no-op.
		return nil
	}

	if err := b.cancelProtection(ctx, entry); err != nil {
		logger.Warnf("[Binance] cancel protection for %s: %v", ticket, err)
	}

	_, err := b.client.NewCreateOrderService().
		Symbol(entry.order.Symbol).
		Side(sideFor(entry.order.Direction.Opposite())).
		Type(futures.OrderTypeMarket).
		Quantity(entry.order.Lots.String()).
		ReduceOnly(true).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("close %s: %w", ticket, err)
	}

	b.mu.Lock()
	delete(b.entries, ticket)
	b.mu.Unlock()
	return nil
}

// ListOpenOrders reconciles against the exchange's live order book. Tagged
// protective orders found there define which entries exist: entries from a
// previous run are adopted, and tracked entries whose protection left the
// book are dropped once the exchange confirms the position leg is gone.
func (b *Binance) ListOpenOrders(ctx context.Context, symbol, tag string) ([]Order, error) {
	live, err := b.client.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("open orders %s: %w", symbol, err)
	}

	// Group this tag's protective orders by the entry they guard.
	type protection struct{ sl, tp *futures.Order }
	book := make(map[string]*protection)
	for _, o := range live {
		base, kind, ok := splitProtectiveID(o.ClientOrderID, tag)
		if !ok {
			continue
		}
		p := book[base]
		if p == nil {
			p = &protection{}
			book[base] = p
		}
		if kind == protSuffixSL {
			p.sl = o
		} else {
			p.tp = o
		}
	}

	b.mu.Lock()
	tracked := make(map[string]*binanceEntry)
	for _, e := range b.entries {
		if e.order.Symbol == symbol && e.order.Tag == tag {
			tracked[e.clientID] = e
		}
	}
	b.mu.Unlock()

	var out []Order
	for base, p := range book {
		e, ok := tracked[base]
		if !ok {
			e, err = b.adoptEntry(ctx, symbol, tag, base, p.sl, p.tp)
			if err != nil {
				return nil, err
			}
		} else {
			b.refreshProtection(e, p.sl, p.tp)
			delete(tracked, base)
		}
		out = append(out, e.order)
	}

	// Tracked entries whose protection is no longer on the book.
	for _, e := range tracked {
		gone, err := b.entryGone(ctx, e)
		if err != nil {
			return nil, fmt.Errorf("order status %s: %w", e.order.Ticket, err)
		}
		if gone {
			b.mu.Lock()
			delete(b.entries, e.order.Ticket)
			b.mu.Unlock()
			if err := b.cancelProtection(ctx, e); err != nil {
				logger.Debugf("[Binance] sibling cancel after close: %v", err)
			}
			continue
		}
		out = append(out, e.order)
	}
	return out, nil
}

func (b *Binance) BidAsk(ctx context.Context, symbol string) (decimal.Decimal, decimal.Decimal, error) {
	depth, err := b.client.NewDepthService().Symbol(symbol).Limit(5).Do(ctx)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("depth %s: %w", symbol, err)
	}
	if len(depth.Bids) == 0 || len(depth.Asks) == 0 {
		return decimal.Zero, decimal.Zero, fmt.Errorf("empty book for %s", symbol)
	}
	bid, err := decimal.NewFromString(depth.Bids[0].Price)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	ask, err := decimal.NewFromString(depth.Asks[0].Price)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return bid, ask, nil
}

// adoptEntry rebuilds registry state for an entry found at the exchange but
// not in memory, i.e. one submitted by a previous process run. The original
// fill is recovered through the entry's client order id.
func (b *Binance) adoptEntry(ctx context.Context, symbol, tag, clientID string, sl, tp *futures.Order) (*binanceEntry, error) {
	src, err := b.client.NewGetOrderService().
		Symbol(symbol).
		OrigClientOrderID(clientID).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("recover entry %s: %w", clientID, err)
	}
	open, _ := decimal.NewFromString(src.AvgPrice)
	lots, _ := decimal.NewFromString(src.ExecutedQuantity)
	dir := Buy
	if src.Side == futures.SideTypeSell {
		dir = Sell
	}

	e := &binanceEntry{
		order: Order{
			Ticket:    strings.TrimPrefix(clientID, tag+"-"),
			Symbol:    symbol,
			Direction: dir,
			Lots:      lots,
			OpenPrice: open,
			Tag:       tag,
		},
		clientID: clientID,
	}
	b.refreshProtection(e, sl, tp)

	b.mu.Lock()
	b.entries[e.order.Ticket] = e
	b.mu.Unlock()
	logger.Infof("[Binance] adopted entry %s (%s %s @ %s)", e.order.Ticket, dir, lots, open)
	return e, nil
}

// refreshProtection re-points the entry at the protective orders currently
// on the book.
func (b *Binance) refreshProtection(e *binanceEntry, sl, tp *futures.Order) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sl != nil {
		e.slOrderID = sl.OrderID
		if v, err := decimal.NewFromString(sl.StopPrice); err == nil {
			e.order.StopLoss = v
		}
	}
	if tp != nil {
		e.tpOrderID = tp.OrderID
		if v, err := decimal.NewFromString(tp.StopPrice); err == nil {
			e.order.TakeProfit = v
		}
	}
}

// entryGone reports whether the entry's position leg no longer exists at the
// exchange: a protective order filled, or the leg vanished without a fill
// (liquidation, manual close).
func (b *Binance) entryGone(ctx context.Context, e *binanceEntry) (bool, error) {
	if e.slOrderID == 0 && e.tpOrderID == 0 {
		// Protection not placed yet; nothing exchange-side to consult.
		return false, nil
	}
	filled, err := b.protectionFilled(ctx, e)
	if err != nil {
		return false, err
	}
	if filled {
		return true, nil
	}
	// Protection canceled or expired without a fill: trust the position.
	flat, err := b.positionFlat(ctx, e.order.Symbol, e.order.Direction)
	if err != nil {
		return false, err
	}
	if flat {
		logger.Warnf("[Binance] %s position flat with protection gone, dropping entry %s",
			e.order.Symbol, e.order.Ticket)
	}
	return flat, nil
}

// positionFlat reports whether the exchange holds no position on the given
// side of the symbol.
func (b *Binance) positionFlat(ctx context.Context, symbol string, d Direction) (bool, error) {
	positions, err := b.client.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
	if err != nil {
		return false, fmt.Errorf("position risk %s: %w", symbol, err)
	}
	for _, p := range positions {
		amt, err := decimal.NewFromString(p.PositionAmt)
		if err != nil {
			continue
		}
		if d == Buy && amt.IsPositive() {
			return false, nil
		}
		if d == Sell && amt.IsNegative() {
			return false, nil
		}
	}
	return true, nil
}

// placeProtection issues reduce-only conditional orders for the entry's
// stop-loss and take-profit, where set.
func (b *Binance) placeProtection(ctx context.Context, e *binanceEntry, sl, tp decimal.Decimal) error {
	exit := sideFor(e.order.Direction.Opposite())

	if !sl.IsZero() {
		res, err := b.client.NewCreateOrderService().
			Symbol(e.order.Symbol).
			Side(exit).
			Type(orderTypeStopMarket).
			StopPrice(sl.String()).
			Quantity(e.order.Lots.String()).
			NewClientOrderID(e.clientID + protSuffixSL).
			ReduceOnly(true).
			Do(ctx)
		if err != nil {
			return fmt.Errorf("stop-loss: %w", err)
		}
		b.mu.Lock()
		e.slOrderID = res.OrderID
		e.order.StopLoss = sl
		b.mu.Unlock()
	}
	if !tp.IsZero() {
		res, err := b.client.NewCreateOrderService().
			Symbol(e.order.Symbol).
			Side(exit).
			Type(orderTypeTakeProfitMarket).
			StopPrice(tp.String()).
			Quantity(e.order.Lots.String()).
			NewClientOrderID(e.clientID + protSuffixTP).
			ReduceOnly(true).
			Do(ctx)
		if err != nil {
			return fmt.Errorf("take-profit: %w", err)
		}
		b.mu.Lock()
		e.tpOrderID = res.OrderID
		e.order.TakeProfit = tp
		b.mu.Unlock()
	}
	return nil
}

func (b *Binance) cancelProtection(ctx context.Context, e *binanceEntry) error {
	for _, id := range []int64{e.slOrderID, e.tpOrderID} {
		if id == 0 {
			continue
		}
		_, err := b.client.NewCancelOrderService().
			Symbol(e.order.Symbol).
			OrderID(id).
			Do(ctx)
		if err != nil && !strings.Contains(err.Error(), "Unknown order") {
			return err
		}
	}
	b.mu.Lock()
	e.slOrderID = 0
	e.tpOrderID = 0
	b.mu.Unlock()
	return nil
}

// protectionFilled reports whether either protective order of the entry has
// executed, meaning the exchange closed the position leg.
func (b *Binance) protectionFilled(ctx context.Context, e *binanceEntry) (bool, error) {
	for _, id := range []int64{e.slOrderID, e.tpOrderID} {
		if id == 0 {
			continue
		}
		o, err := b.client.NewGetOrderService().
			Symbol(e.order.Symbol).
			OrderID(id).
			Do(ctx)
		if err != nil {
			return false, err
		}
		if o.Status == futures.OrderStatusTypeFilled {
			return true, nil
		}
	}
	return false, nil
}

// splitProtectiveID parses "<tag>-<ticket>-sl|-tp" client order ids,
// returning the entry client id "<tag>-<ticket>" and the protective kind.
func splitProtectiveID(id, tag string) (base, kind string, ok bool) {
	if !strings.HasPrefix(id, tag+"-") {
		return "", "", false
	}
	switch {
	case strings.HasSuffix(id, protSuffixSL):
		return strings.TrimSuffix(id, protSuffixSL), protSuffixSL, true
	case strings.HasSuffix(id, protSuffixTP):
		return strings.TrimSuffix(id, protSuffixTP), protSuffixTP, true
	}
	return "", "", false
}

func sideFor(d Direction) futures.SideType {
	if d == Buy {
		return futures.SideTypeBuy
	}
	return futures.SideTypeSell
}
