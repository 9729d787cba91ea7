package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"gridpilot/config"
	"gridpilot/engine"
	"gridpilot/logger"
	"gridpilot/market"
	"gridpilot/metrics"
	"gridpilot/notify"
	"gridpilot/store"
	"gridpilot/venue"
)

func main() {
	configPath := flag.String("config", "config.json", "path to configuration file")
	flag.Parse()

	// .env is optional; environment always wins over the file.
	if err := godotenv.Load(); err == nil {
		logger.Info("loaded environment from .env")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load configuration: %v", err)
	}
	if err := logger.Init(cfg.Log); err != nil {
		logger.Fatalf("init logger: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		// The only fatal error path: the engine refuses to start on an
		// invalid ladder, window or band.
		logger.Fatalf("configuration rejected: %v", err)
	}

	st, err := store.New(cfg.DBPath)
	if err != nil {
		logger.Fatalf("open store: %v", err)
	}
	defer st.Close()

	var (
		v     venue.Venue
		paper *venue.Paper
	)
	switch cfg.Venue {
	case "binance":
		v = venue.NewBinance(cfg.BinanceAPIKey, cfg.BinanceSecret)
		logger.Infof("venue: binance futures (%s)", cfg.Symbol)
	default:
		paper = venue.NewPaper()
		v = paper
		if strings.TrimSpace(cfg.StreamURL) == "" {
			// Without an exchange behind it the paper venue has no quote
			// source of its own.
			logger.Fatalf("paper venue requires stream_url for quotes")
		}
		logger.Infof("venue: paper (%s, dry run)", cfg.Symbol)
	}

	notifiers := notify.Multi{notify.LogNotifier{}, st.Recorder()}
	if cfg.TelegramToken != "" && cfg.TelegramChatID != 0 {
		tg, err := notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			logger.Warnf("telegram disabled: %v", err)
		} else {
			notifiers = append(notifiers, tg)
		}
	}

	eng, err := engine.New(cfg, v, notifiers)
	if err != nil {
		logger.Fatalf("engine init: %v", err)
	}

	metrics.Serve(cfg.MetricsAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Infof("received %s, shutting down", sig)
		cancel()
	}()

	// Adopt any orders still open under our tag from a previous run.
	if err := eng.Restore(ctx); err != nil {
		logger.Fatalf("restore basket state: %v", err)
	}

	ticks := make(chan market.Tick, 1)
	go func() {
		runFeed(ctx, cfg, v, ticks)
		close(ticks)
	}()

	// The paper venue has no exchange behind it: its quote is driven from
	// the same feed the engine ticks on, so simulated TP/SL fire realistically.
	if paper != nil {
		inner := ticks
		wrapped := make(chan market.Tick, 1)
		go func() {
			defer close(wrapped)
			for t := range inner {
				paper.SetQuote(t.Bid, t.Ask)
				wrapped <- t
			}
		}()
		ticks = wrapped
	}

	if err := eng.Run(ctx, ticks); err != nil && ctx.Err() == nil {
		logger.Fatalf("engine stopped: %v", err)
	}
	logger.Info("engine stopped")
}

// runFeed picks the tick source: a websocket stream when configured,
// otherwise venue polling.
func runFeed(ctx context.Context, cfg *config.Config, v venue.Venue, out chan<- market.Tick) {
	if strings.TrimSpace(cfg.StreamURL) != "" {
		feed := market.NewStreamClient(cfg.StreamURL)
		if err := feed.Run(ctx, out); err != nil && ctx.Err() == nil {
			logger.Errorf("stream feed: %v", err)
		}
		return
	}
	poller := market.NewPoller(v, cfg.Symbol, time.Duration(cfg.PollIntervalMs)*time.Millisecond)
	if err := poller.Run(ctx, out); err != nil && ctx.Err() == nil {
		logger.Errorf("poll feed: %v", err)
	}
}
