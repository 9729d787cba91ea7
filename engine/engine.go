// Package engine implements the grid position-management loop: a cascade of
// same-direction market orders opened at spaced price levels, all converging
// on one shared exit target, torn down atomically when the basket goes flat.
//
// The loop is single-threaded and tick-driven. One full evaluation (gates,
// reconciliation, teardown, leveling, target sync, proactive close) runs to
// completion per incoming quote; venue calls are blocking round-trips and a
// slow venue stalls the loop but cannot corrupt state.
package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"gridpilot/config"
	"gridpilot/logger"
	"gridpilot/market"
	"gridpilot/metrics"
	"gridpilot/notify"
	"gridpilot/venue"
)

// Engine manages the BUY and SELL baskets of a single instrument against a
// single exclusively-owned venue connection.
type Engine struct {
	cfg      *config.Config
	venue    venue.Venue
	notifier notify.Notifier

	point decimal.Decimal
	buy   *Basket
	sell  *Basket

	window *TimeWindowGate
	pivot  *PivotGate
}

// New validates the configuration, computes the level ladder once and
// returns a ready engine. A validation failure here is the only fatal error
// path; everything after startup is soft.
func New(cfg *config.Config, v venue.Venue, n notify.Notifier) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	levels, err := buildLevels(cfg.Levels, cfg.Digits)
	if err != nil {
		return nil, err
	}
	if n == nil {
		n = notify.LogNotifier{}
	}
	return &Engine{
		cfg:      cfg,
		venue:    v,
		notifier: n,
		point:    decimal.New(1, int32(-(cfg.Digits + 1))),
		buy:      newBasket(venue.Buy, levels),
		sell:     newBasket(venue.Sell, levels),
		window:   NewTimeWindowGate(cfg.Window),
		pivot:    NewPivotGate(cfg.Pivot),
	}, nil
}

// Restore adopts orders already open at the venue under this engine's tag,
// rebuilding basket state after a restart. Orders are assigned to levels in
// entry order (first entry is the one closest to the original reference),
// and the adopted basket's reference is taken from that first entry's open
// price. Must be called before the first tick.
func (e *Engine) Restore(ctx context.Context) error {
	orders, err := e.venue.ListOpenOrders(ctx, e.cfg.Symbol, e.cfg.Tag)
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	for _, b := range []*Basket{e.buy, e.sell} {
		var own []venue.Order
		for _, o := range orders {
			if o.Direction == b.Direction {
				own = append(own, o)
			}
		}
		if len(own) == 0 {
			continue
		}
		// A BUY cascade fills downward, so the first entry is the highest
		// open price; SELL is the mirror image.
		sort.Slice(own, func(i, j int) bool {
			if b.Direction == venue.Buy {
				return own[i].OpenPrice.GreaterThan(own[j].OpenPrice)
			}
			return own[i].OpenPrice.LessThan(own[j].OpenPrice)
		})
		tickets := make([]string, len(own))
		for i, o := range own {
			tickets[i] = o.Ticket
		}
		b.adopt(tickets, own[0].OpenPrice)
		logger.Infof("[Grid] %s: adopted %d open orders, reference %s",
			b.Direction, len(own), b.Reference)
	}
	return nil
}

// Tick runs one full evaluation against the given quote. Errors inside a
// tick are logged and absorbed; the loop never halts on them.
func (e *Engine) Tick(ctx context.Context, tick market.Tick) {
	metrics.TickProcessed()

	allowed := e.window.Allowed(tick.Time)

	open, err := e.venue.ListOpenOrders(ctx, e.cfg.Symbol, e.cfg.Tag)
	if err != nil {
		logger.Warnf("[Grid] order reconciliation failed, skipping tick: %v", err)
		return
	}

	byDir := make(map[venue.Direction][]venue.Order, 2)
	for _, o := range open {
		byDir[o.Direction] = append(byDir[o.Direction], o)
	}

	for _, b := range []*Basket{e.buy, e.sell} {
		orders := byDir[b.Direction]

		if err := e.checkForeign(b, orders); err != nil {
			logger.Errorf("[Grid] %s management suspended: %v", b.Direction, err)
			continue
		}
		b.OpenCount = len(orders)
		metrics.SetOpenOrders(string(b.Direction), b.OpenCount)

		// Teardown of a basket that went flat runs before anything else,
		// including outside the session window.
		e.closeBasketIfFlat(b, tick)

		if !allowed {
			// Hard session boundary: an open basket is force-closed
			// regardless of floating P&L.
			if b.OpenCount > 0 {
				e.forceClose(ctx, b, orders)
			}
			continue
		}

		var opened []venue.Order
		if e.directionEnabled(b.Direction) {
			opened = e.advanceLevels(ctx, b, tick)
			orders = append(orders, opened...)
		}
		e.syncTargets(ctx, b, tick, orders, len(opened) > 0)
		e.priceTriggeredClose(ctx, b, tick, orders)
	}
}

// Run consumes ticks until the context is cancelled or the feed closes.
func (e *Engine) Run(ctx context.Context, ticks <-chan market.Tick) error {
	logger.Infof("[Grid] engine running: %s, tag %q, %d levels per direction",
		e.cfg.Symbol, e.cfg.Tag, NumLevels)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tick, ok := <-ticks:
			if !ok {
				return fmt.Errorf("tick feed closed")
			}
			e.Tick(ctx, tick)
		}
	}
}

func (e *Engine) directionEnabled(d venue.Direction) bool {
	if d == venue.Buy {
		return e.cfg.BuyEnabled
	}
	return e.cfg.SellEnabled
}

// checkForeign enforces the tag collision policy: every tagged order must
// have been submitted (or adopted) by this engine instance.
func (e *Engine) checkForeign(b *Basket, orders []venue.Order) error {
	for _, o := range orders {
		if !b.owns(o.Ticket) {
			return fmt.Errorf("%w: ticket %s", ErrTagCollision, o.Ticket)
		}
	}
	return nil
}

// closeBasketIfFlat tears the basket down once the venue reports it flat.
// Idempotent: a basket that never sent anything, or was already torn down,
// is left untouched and no duplicate notification is emitted.
func (e *Engine) closeBasketIfFlat(b *Basket, tick market.Tick) {
	if b.OpenCount != 0 || !b.anySent() {
		return
	}
	target := b.TakeProfit
	b.reset()
	metrics.BasketClosed(string(b.Direction))
	logger.Infof("[Grid] %s basket flat, torn down (last target %s)", b.Direction, target)
	e.notifier.BasketClosed(notify.Event{
		Symbol:    e.cfg.Symbol,
		Direction: b.Direction,
		Price:     target,
		At:        tick.Time,
	})
}

// advanceLevels walks the ladder: activates levels whose adverse-move
// threshold the quote has crossed, then submits an order for every
// activated, enabled, unsent level. A failed submission stays unsent and
// retries next tick, deliberately without backoff. Returns the orders
// opened this tick so target sync sees them immediately.
func (e *Engine) advanceLevels(ctx context.Context, b *Basket, tick market.Tick) []venue.Order {
	// Brand-new basket: pivot band gates creation, and level 1 activates
	// unconditionally once admitted.
	if !b.anySent() && !b.HasReference {
		if !e.pivot.EntryAllowed(tick.Ask, b.OpenCount) {
			logger.Debugf("[Grid] %s: %v (ask %s outside pivot band)", b.Direction, ErrGatingRejected, tick.Ask)
			return nil
		}
		lvl1 := &b.Levels[0]
		if !lvl1.Enabled {
			return nil
		}
		if !lvl1.Activated {
			lvl1.Activated = true
			e.emitLevelActivated(b, 1, e.entryPrice(b.Direction, tick), tick.Time)
		}
	}

	// Levels 2..14 activate on adverse movement from the reference.
	if b.HasReference {
		for i := 1; i < NumLevels; i++ {
			lvl := &b.Levels[i]
			if lvl.Activated {
				continue
			}
			var crossed bool
			if b.Direction == venue.Buy {
				crossed = tick.Ask.LessThanOrEqual(b.Reference.Sub(lvl.Offset))
			} else {
				crossed = tick.Bid.GreaterThanOrEqual(b.Reference.Add(lvl.Offset))
			}
			if crossed {
				lvl.Activated = true
				e.emitLevelActivated(b, i+1, e.entryPrice(b.Direction, tick), tick.Time)
			}
		}
	}

	var opened []venue.Order
	for i := range b.Levels {
		lvl := &b.Levels[i]
		if !lvl.Activated || lvl.Sent || !lvl.Enabled {
			continue
		}
		o, err := e.openOrder(ctx, b, i+1, tick)
		if err != nil {
			logger.Warnf("[Grid] %s level %d submission failed, retrying next tick: %v",
				b.Direction, i+1, err)
			metrics.OrderFailed(string(b.Direction))
			continue
		}
		opened = append(opened, o)
	}
	return opened
}

// openOrder submits the market order for a level, stamps the basket
// reference on the first fill of a generation and registers the ticket.
func (e *Engine) openOrder(ctx context.Context, b *Basket, level int, tick market.Tick) (venue.Order, error) {
	lvl := &b.Levels[level-1]
	entry := e.entryPrice(b.Direction, tick)
	sl, tp := e.targetsFor(b.Direction, lvl, tick)

	req := venue.OrderRequest{
		Symbol:     e.cfg.Symbol,
		Direction:  b.Direction,
		Lots:       lvl.Lots,
		StopLoss:   sl,
		TakeProfit: tp,
		Tag:        e.cfg.Tag,
	}
	ticket, err := e.venue.SubmitOrder(ctx, req)
	if err != nil {
		return venue.Order{}, err
	}

	lvl.Sent = true
	b.track(ticket, level)
	if !b.HasReference {
		b.Reference = entry
		b.HasReference = true
	}
	b.OpenCount++
	metrics.SetOpenOrders(string(b.Direction), b.OpenCount)
	metrics.OrderSubmitted(string(b.Direction))
	logger.Infof("[Grid] %s level %d sent: %s lots @ ~%s (ticket %s)",
		b.Direction, level, lvl.Lots, entry, ticket)

	return venue.Order{
		Ticket:     ticket,
		Symbol:     e.cfg.Symbol,
		Direction:  b.Direction,
		Lots:       lvl.Lots,
		OpenPrice:  entry,
		StopLoss:   sl,
		TakeProfit: tp,
		Tag:        e.cfg.Tag,
	}, nil
}

// syncTargets maintains the basket's shared exit target. When a level fired
// this tick (resync), the target is recomputed from the most recently sent
// level's TP/SL settings applied to the current quote, so the effective
// target moves outward as more levels activate; that chasing is core
// strategy behavior, not drift to correct. Between firings the target holds
// still, letting price reach it. Adopted baskets with no recorded target yet
// also recompute once. Every open order that differs is then aligned.
func (e *Engine) syncTargets(ctx context.Context, b *Basket, tick market.Tick, orders []venue.Order, resync bool) {
	if b.OpenCount == 0 {
		return
	}
	last := b.lastSentLevel()
	if last == 0 {
		return
	}
	if resync || (b.TakeProfit.IsZero() && b.StopLoss.IsZero()) {
		sl, tp := e.targetsFor(b.Direction, &b.Levels[last-1], tick)
		b.TakeProfit = tp
		b.StopLoss = sl
	}
	sl, tp := b.StopLoss, b.TakeProfit

	for _, o := range orders {
		if o.TakeProfit.Equal(tp) && o.StopLoss.Equal(sl) {
			continue
		}
		if err := e.venue.ModifyOrder(ctx, o.Ticket, sl, tp); err != nil {
			// Eventual consistency: the order keeps its stale target until
			// the next sync cycle.
			logger.Warnf("[Grid] modify %s failed, retrying next sync: %v", o.Ticket, err)
			continue
		}
		metrics.OrderModified(string(b.Direction))
	}
}

// priceTriggeredClose proactively flattens the basket once the quote
// crosses its shared target, racing the venue's own take-profit execution.
// Whichever fires first wins; closing an already-flat basket is a no-op.
func (e *Engine) priceTriggeredClose(ctx context.Context, b *Basket, tick market.Tick, orders []venue.Order) {
	if b.OpenCount == 0 || b.TakeProfit.IsZero() {
		return
	}
	var hit bool
	if b.Direction == venue.Buy {
		hit = tick.Bid.GreaterThanOrEqual(b.TakeProfit)
	} else {
		hit = tick.Ask.LessThanOrEqual(b.TakeProfit)
	}
	if !hit {
		return
	}
	logger.Infof("[Grid] %s target %s crossed, closing %d orders", b.Direction, b.TakeProfit, len(orders))
	e.closeAll(ctx, b, orders)
}

// forceClose flattens the basket at a hard session boundary.
func (e *Engine) forceClose(ctx context.Context, b *Basket, orders []venue.Order) {
	logger.Warnf("[Grid] %s: session window closed with open basket, force-closing %d orders",
		b.Direction, len(orders))
	e.closeAll(ctx, b, orders)
}

func (e *Engine) closeAll(ctx context.Context, b *Basket, orders []venue.Order) {
	for _, o := range orders {
		if err := e.venue.CloseOrder(ctx, o.Ticket); err != nil {
			logger.Warnf("[Grid] close %s failed: %v", o.Ticket, err)
		}
	}
	// Teardown happens next tick, once the venue confirms the basket flat.
}

// entryPrice is the side a market order fills at: ask for BUY, bid for SELL.
func (e *Engine) entryPrice(d venue.Direction, tick market.Tick) decimal.Decimal {
	if d == venue.Buy {
		return tick.Ask
	}
	return tick.Bid
}

// targetsFor derives a level's SL/TP prices from the current quote.
func (e *Engine) targetsFor(d venue.Direction, lvl *GridLevel, tick market.Tick) (sl, tp decimal.Decimal) {
	price := e.entryPrice(d, tick)
	if d == venue.Buy {
		if lvl.TPPips > 0 {
			tp = price.Add(decimal.NewFromInt(int64(lvl.TPPips)).Mul(e.point))
		}
		if lvl.SLPips > 0 {
			sl = price.Sub(decimal.NewFromInt(int64(lvl.SLPips)).Mul(e.point))
		}
		return sl, tp
	}
	if lvl.TPPips > 0 {
		tp = price.Sub(decimal.NewFromInt(int64(lvl.TPPips)).Mul(e.point))
	}
	if lvl.SLPips > 0 {
		sl = price.Add(decimal.NewFromInt(int64(lvl.SLPips)).Mul(e.point))
	}
	return sl, tp
}

func (e *Engine) emitLevelActivated(b *Basket, level int, price decimal.Decimal, at time.Time) {
	logger.Infof("[Grid] %s level %d activated @ %s", b.Direction, level, price)
	e.notifier.LevelActivated(notify.Event{
		Symbol:    e.cfg.Symbol,
		Direction: b.Direction,
		Level:     level,
		Price:     price,
		At:        at,
	})
}

// Baskets exposes the per-direction baskets for inspection (tests, status
// reporting). The engine is single-threaded; callers must not retain the
// pointers across ticks they do not control.
func (e *Engine) Baskets() (buy, sell *Basket) {
	return e.buy, e.sell
}
