// Package notify fans basket-closed and level-activated events out to the
// alerting collaborators (log, Telegram, audit store). Emitters are
// side-effect only; a failing emitter never disturbs the tick loop.
package notify

import (
	"time"

	"github.com/shopspring/decimal"

	"gridpilot/logger"
	"gridpilot/venue"
)

// Event carries the payload common to both event kinds.
type Event struct {
	Symbol    string
	Direction venue.Direction
	Level     int             // level index, level-activated only
	Price     decimal.Decimal // activation price, or realized target for closures
	At        time.Time
}

// Notifier receives engine events.
type Notifier interface {
	LevelActivated(ev Event)
	BasketClosed(ev Event)
}

// Multi dispatches every event to each wrapped notifier in order.
type Multi []Notifier

func (m Multi) LevelActivated(ev Event) {
	for _, n := range m {
		n.LevelActivated(ev)
	}
}

func (m Multi) BasketClosed(ev Event) {
	for _, n := range m {
		n.BasketClosed(ev)
	}
}

// LogNotifier writes events to the process log.
type LogNotifier struct{}

func (LogNotifier) LevelActivated(ev Event) {
	logger.Infof("🔔 [Grid] %s %s level %d activated @ %s", ev.Symbol, ev.Direction, ev.Level, ev.Price)
}

func (LogNotifier) BasketClosed(ev Event) {
	logger.Infof("✅ [Grid] %s %s basket closed, target was %s", ev.Symbol, ev.Direction, ev.Price)
}
