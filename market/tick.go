// Package market supplies the price ticks the engine consumes, either from
// a live websocket book-ticker stream or by polling the venue.
package market

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tick is one top-of-book quote update.
type Tick struct {
	Bid  decimal.Decimal
	Ask  decimal.Decimal
	Time time.Time
}
