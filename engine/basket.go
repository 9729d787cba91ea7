package engine

import (
	"github.com/shopspring/decimal"

	"gridpilot/venue"
)

// NumLevels is the fixed depth of a basket's level ladder.
const NumLevels = 14

// GridLevel is one rung of the ladder. Enabled/Lots/pips/Offset are fixed at
// engine construction; Activated and Sent are runtime flags living for one
// basket generation.
type GridLevel struct {
	Enabled     bool
	Lots        decimal.Decimal
	SpacingPips int
	TPPips      int
	SLPips      int

	// Offset is the cumulative price distance from the basket reference at
	// which this level activates. Zero for level 1.
	Offset decimal.Decimal

	Activated bool
	Sent      bool
}

// Basket is the set of same-direction orders opened by progressively
// activated levels, sharing one exit target. One basket exists per
// direction; it is born when its first order opens and torn down the tick
// after the venue reports it flat.
type Basket struct {
	Direction venue.Direction
	Levels    [NumLevels]GridLevel

	// Reference is the price the ladder hangs from, stamped from the live
	// quote the instant the first order opens. HasReference is false exactly
	// when the basket holds no orders.
	Reference    decimal.Decimal
	HasReference bool

	// Shared exit targets, recomputed by target sync as levels activate.
	TakeProfit decimal.Decimal
	StopLoss   decimal.Decimal

	// OpenCount is the venue-reported open-order count, refreshed each tick.
	OpenCount int

	tickets map[string]int // ticket -> 1-based level index
}

func newBasket(dir venue.Direction, levels [NumLevels]GridLevel) *Basket {
	return &Basket{
		Direction: dir,
		Levels:    levels,
		tickets:   make(map[string]int),
	}
}

// anySent reports whether any level has fired an order in the current
// basket generation. Once true it stays true until teardown.
func (b *Basket) anySent() bool {
	for i := range b.Levels {
		if b.Levels[i].Sent {
			return true
		}
	}
	return false
}

// lastSentLevel returns the highest 1-based level index with Sent=true,
// or 0 when the basket has sent nothing. Its TP/SL settings drive the
// shared exit target.
func (b *Basket) lastSentLevel() int {
	last := 0
	for i := range b.Levels {
		if b.Levels[i].Sent {
			last = i + 1
		}
	}
	return last
}

// owns reports whether the ticket was issued for this basket.
func (b *Basket) owns(ticket string) bool {
	_, ok := b.tickets[ticket]
	return ok
}

// track registers a freshly submitted order against its level.
func (b *Basket) track(ticket string, level int) {
	b.tickets[ticket] = level
}

// adopt marks levels 1..n sent and activated and registers their tickets,
// rebuilding a basket from venue state after a restart.
func (b *Basket) adopt(tickets []string, reference decimal.Decimal) {
	for i, ticket := range tickets {
		if i >= NumLevels {
			break
		}
		b.Levels[i].Activated = true
		b.Levels[i].Sent = true
		b.tickets[ticket] = i + 1
	}
	b.Reference = reference
	b.HasReference = true
	b.OpenCount = len(b.tickets)
}

// reset tears the basket down to its idle state: every runtime flag false,
// reference cleared, targets zeroed, ticket registry emptied. Configured
// level settings and offsets are untouched.
func (b *Basket) reset() {
	for i := range b.Levels {
		b.Levels[i].Activated = false
		b.Levels[i].Sent = false
	}
	b.Reference = decimal.Zero
	b.HasReference = false
	b.TakeProfit = decimal.Zero
	b.StopLoss = decimal.Zero
	b.OpenCount = 0
	b.tickets = make(map[string]int)
}
