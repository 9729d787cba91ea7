package market

import (
	"context"
	"time"

	"gridpilot/logger"
	"gridpilot/venue"
)

// Poller produces ticks by polling the venue's top of book on a fixed
// interval. Used when no stream endpoint is configured.
type Poller struct {
	venue    venue.Venue
	symbol   string
	interval time.Duration
}

func NewPoller(v venue.Venue, symbol string, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Poller{venue: v, symbol: symbol, interval: interval}
}

// Run polls until ctx is cancelled. Quote failures are logged and skipped.
func (p *Poller) Run(ctx context.Context, out chan<- Tick) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			bid, ask, err := p.venue.BidAsk(ctx, p.symbol)
			if err != nil {
				logger.Debugf("poll %s: %v", p.symbol, err)
				continue
			}
			select {
			case out <- Tick{Bid: bid, Ask: ask, Time: time.Now()}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
