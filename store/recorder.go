package store

import (
	"gridpilot/logger"
	"gridpilot/notify"
)

// Recorder adapts the store to the notify.Notifier interface so engine
// events flow into the audit trail through the same fan-out as alerting.
// Persistence failures are logged and dropped; they never reach the tick loop.
type Recorder struct {
	s *Store
}

// Recorder returns the notification adapter for this store.
func (s *Store) Recorder() *Recorder {
	return &Recorder{s: s}
}

func (r *Recorder) BasketClosed(ev notify.Event) {
	if err := r.s.RecordBasketClosed(ev.Symbol, string(ev.Direction), ev.Price.String(), ev.At); err != nil {
		logger.Warnf("audit: %v", err)
	}
}

func (r *Recorder) LevelActivated(ev notify.Event) {
	if err := r.s.RecordLevelActivated(ev.Symbol, string(ev.Direction), ev.Level, ev.Price.String(), ev.At); err != nil {
		logger.Warnf("audit: %v", err)
	}
}
