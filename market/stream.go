package market

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"gridpilot/logger"
)

const reconnectDelay = 5 * time.Second

// StreamClient reads top-of-book updates from a websocket book-ticker
// endpoint and reconnects with a fixed delay on any failure.
type StreamClient struct {
	url string
}

// NewStreamClient takes the full stream URL, e.g.
// wss://fstream.binance.com/ws/btcusdt@bookTicker.
func NewStreamClient(url string) *StreamClient {
	return &StreamClient{url: url}
}

// bookTickerMsg matches the binance bookTicker payload; only best bid/ask
// are consumed.
type bookTickerMsg struct {
	Bid string `json:"b"`
	Ask string `json:"a"`
}

// Run connects and pushes ticks into out until ctx is cancelled. The
// channel is not closed on return.
func (c *StreamClient) Run(ctx context.Context, out chan<- Tick) error {
	for {
		if err := c.readLoop(ctx, out); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warnf("stream disconnected: %v, reconnecting in %s", err, reconnectDelay)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay):
		}
	}
}

func (c *StreamClient) readLoop(ctx context.Context, out chan<- Tick) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}
	defer conn.Close()
	logger.Infof("stream connected: %s", c.url)

	// Unblock ReadMessage when the context goes away.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		var msg bookTickerMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Debugf("stream: skipping malformed message: %v", err)
			continue
		}
		bid, err1 := decimal.NewFromString(msg.Bid)
		ask, err2 := decimal.NewFromString(msg.Ask)
		if err1 != nil || err2 != nil {
			continue
		}
		select {
		case out <- Tick{Bid: bid, Ask: ask, Time: time.Now()}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
