package engine

import (
	"time"

	"github.com/shopspring/decimal"

	"gridpilot/config"
)

// TimeWindowGate decides whether trading is allowed at a given wall-clock
// time. Disabled means always allowed. When the gate flips to false while a
// basket is open, the engine force-closes it the same tick; there is no
// grace period.
type TimeWindowGate struct {
	window config.TimeWindow
}

func NewTimeWindowGate(w config.TimeWindow) *TimeWindowGate {
	return &TimeWindowGate{window: w}
}

// Allowed reports whether t falls inside the session window and outside the
// break window.
func (g *TimeWindowGate) Allowed(t time.Time) bool {
	w := g.window
	if !w.Enabled {
		return true
	}
	m := t.Hour()*60 + t.Minute()
	if m < w.OpenHour*60+w.OpenMin || m >= w.CloseHour*60+w.CloseMin {
		return false
	}
	if w.HasBreak() && m >= w.BreakStartHour*60+w.BreakStartMin && m < w.BreakEndHour*60+w.BreakEndMin {
		return false
	}
	return true
}

// PivotGate admits the creation of brand-new baskets only while the ask sits
// inside the configured band. An open basket is always admitted: the gate
// never blocks leveling, syncing or closing of existing positions.
type PivotGate struct {
	enabled bool
	lower   decimal.Decimal
	upper   decimal.Decimal
}

func NewPivotGate(b config.PivotBand) *PivotGate {
	return &PivotGate{
		enabled: b.Enabled,
		lower:   decimal.NewFromFloat(b.Lower),
		upper:   decimal.NewFromFloat(b.Upper),
	}
}

// EntryAllowed reports whether a new entry may proceed given the current ask
// and the basket's venue-reported open-order count.
func (g *PivotGate) EntryAllowed(ask decimal.Decimal, openCount int) bool {
	if openCount > 0 {
		return true
	}
	if !g.enabled {
		return true
	}
	return ask.GreaterThanOrEqual(g.lower) && ask.LessThanOrEqual(g.upper)
}
