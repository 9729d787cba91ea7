// Package config holds the engine configuration surface: the 14-level grid
// ladder, session window, pivot band, venue selection and ambient settings.
// Configuration is loaded once at startup; changing the ladder requires a
// restart, level offsets are never recomputed at runtime.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gridpilot/logger"
)

// NumLevels is the fixed depth of the grid ladder.
const NumLevels = 14

// ErrInvalid marks fatal configuration errors. The engine refuses to start
// when Validate returns an error wrapping it.
var ErrInvalid = errors.New("invalid configuration")

// LevelConfig configures one rung of the grid ladder.
type LevelConfig struct {
	Enabled     bool    `json:"enabled"`
	Lots        float64 `json:"lots"`
	SpacingPips int     `json:"spacing_pips"` // distance from the previous level; ignored for level 1
	TPPips      int     `json:"tp_pips"`      // 0 = no take profit
	SLPips      int     `json:"sl_pips"`      // 0 = no stop loss
}

// TimeWindow is the trading-session admission window, with an optional
// intraday break. All fields are exchange-local wall clock.
type TimeWindow struct {
	Enabled        bool `json:"enabled"`
	OpenHour       int  `json:"open_hour"`
	OpenMin        int  `json:"open_min"`
	CloseHour      int  `json:"close_hour"`
	CloseMin       int  `json:"close_min"`
	BreakStartHour int  `json:"break_start_hour"`
	BreakStartMin  int  `json:"break_start_min"`
	BreakEndHour   int  `json:"break_end_hour"`
	BreakEndMin    int  `json:"break_end_min"`
}

// HasBreak reports whether a break window is configured.
func (w TimeWindow) HasBreak() bool {
	return w.BreakEndHour*60+w.BreakEndMin > w.BreakStartHour*60+w.BreakStartMin
}

// PivotBand gates the creation of brand-new baskets to a price range.
// It never blocks management of an already-open basket.
type PivotBand struct {
	Enabled bool    `json:"enabled"`
	Lower   float64 `json:"lower"`
	Upper   float64 `json:"upper"`
}

// Config is the full process configuration.
type Config struct {
	Symbol string `json:"symbol"`
	Digits int    `json:"digits"` // nominal price decimal places; quotes carry one fractional digit more, so one point = 10^-(digits+1)

	// Tag scopes which venue orders belong to this engine instance. The
	// engine never counts, modifies or closes orders lacking this tag.
	Tag string `json:"tag"`

	BuyEnabled  bool `json:"buy_enabled"`
	SellEnabled bool `json:"sell_enabled"`

	Levels []LevelConfig `json:"levels"`
	Window TimeWindow    `json:"time_window"`
	Pivot  PivotBand     `json:"pivot_band"`

	// Venue selection: "paper" or "binance".
	Venue         string `json:"venue"`
	BinanceAPIKey string `json:"-"`
	BinanceSecret string `json:"-"`

	// Tick feed: websocket stream URL, or empty to poll the venue.
	StreamURL      string `json:"stream_url"`
	PollIntervalMs int    `json:"poll_interval_ms"`

	TelegramToken  string `json:"-"`
	TelegramChatID int64  `json:"telegram_chat_id"`

	DBPath      string         `json:"db_path"`
	MetricsAddr string         `json:"metrics_addr"`
	Log         *logger.Config `json:"log"`
}

// Default returns a configuration with every knob at its default. The ladder
// has all 14 levels enabled with uniform spacing.
func Default() *Config {
	levels := make([]LevelConfig, NumLevels)
	for i := range levels {
		levels[i] = LevelConfig{
			Enabled:     true,
			Lots:        0.01,
			SpacingPips: 100,
			TPPips:      150,
			SLPips:      0,
		}
	}
	levels[0].SpacingPips = 0

	return &Config{
		Symbol:         "EURUSD",
		Digits:         4,
		Tag:            "gridpilot",
		BuyEnabled:     true,
		SellEnabled:    true,
		Levels:         levels,
		Venue:          "paper",
		PollIntervalMs: 500,
		DBPath:         "data/gridpilot.db",
	}
}

// Load reads the configuration file (if present) over the defaults and then
// applies environment overrides. Credentials only come from the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read %s: %w", path, err)
		} else {
			logger.Infof("%s not found, using defaults", path)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("GRID_SYMBOL"); v != "" {
		c.Symbol = strings.TrimSpace(v)
	}
	if v := os.Getenv("GRID_TAG"); v != "" {
		c.Tag = strings.TrimSpace(v)
	}
	if v := os.Getenv("GRID_VENUE"); v != "" {
		c.Venue = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("BINANCE_API_KEY"); v != "" {
		c.BinanceAPIKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("BINANCE_SECRET_KEY"); v != "" {
		c.BinanceSecret = strings.TrimSpace(v)
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.TelegramToken = strings.TrimSpace(v)
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			c.TelegramChatID = id
		}
	}
	if v := os.Getenv("GRID_DB_PATH"); v != "" {
		c.DBPath = strings.TrimSpace(v)
	}
	if v := os.Getenv("GRID_METRICS_ADDR"); v != "" {
		c.MetricsAddr = strings.TrimSpace(v)
	}
}

// Validate checks the configuration the engine is about to run with.
// Any error here is fatal at startup.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Symbol) == "" {
		return fmt.Errorf("%w: symbol is required", ErrInvalid)
	}
	if strings.TrimSpace(c.Tag) == "" {
		return fmt.Errorf("%w: order tag is required", ErrInvalid)
	}
	if c.Digits < 1 || c.Digits > 8 {
		return fmt.Errorf("%w: digits must be in [1,8], got %d", ErrInvalid, c.Digits)
	}
	if len(c.Levels) != NumLevels {
		return fmt.Errorf("%w: exactly %d levels required, got %d", ErrInvalid, NumLevels, len(c.Levels))
	}
	for i, lvl := range c.Levels {
		if i > 0 && lvl.SpacingPips <= 0 {
			return fmt.Errorf("%w: level %d spacing must be positive, got %d", ErrInvalid, i+1, lvl.SpacingPips)
		}
		if lvl.Enabled && lvl.Lots <= 0 {
			return fmt.Errorf("%w: level %d is enabled with lot size %v", ErrInvalid, i+1, lvl.Lots)
		}
		if lvl.TPPips < 0 || lvl.SLPips < 0 {
			return fmt.Errorf("%w: level %d has negative tp/sl pips", ErrInvalid, i+1)
		}
	}
	if err := c.validateWindow(); err != nil {
		return err
	}
	if c.Pivot.Enabled && c.Pivot.Lower >= c.Pivot.Upper {
		return fmt.Errorf("%w: pivot band lower %v >= upper %v", ErrInvalid, c.Pivot.Lower, c.Pivot.Upper)
	}
	switch c.Venue {
	case "paper":
	case "binance":
		if c.BinanceAPIKey == "" || c.BinanceSecret == "" {
			return fmt.Errorf("%w: binance venue requires BINANCE_API_KEY and BINANCE_SECRET_KEY", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown venue %q", ErrInvalid, c.Venue)
	}
	return nil
}

func (c *Config) validateWindow() error {
	w := c.Window
	if !w.Enabled {
		return nil
	}
	for _, hm := range [][2]int{
		{w.OpenHour, w.OpenMin},
		{w.CloseHour, w.CloseMin},
		{w.BreakStartHour, w.BreakStartMin},
		{w.BreakEndHour, w.BreakEndMin},
	} {
		if hm[0] < 0 || hm[0] > 23 || hm[1] < 0 || hm[1] > 59 {
			return fmt.Errorf("%w: time window field out of range (%02d:%02d)", ErrInvalid, hm[0], hm[1])
		}
	}
	open := w.OpenHour*60 + w.OpenMin
	close := w.CloseHour*60 + w.CloseMin
	if open >= close {
		return fmt.Errorf("%w: session open %d must precede close %d", ErrInvalid, open, close)
	}
	if w.HasBreak() {
		bs := w.BreakStartHour*60 + w.BreakStartMin
		be := w.BreakEndHour*60 + w.BreakEndMin
		if bs < open || be > close {
			return fmt.Errorf("%w: break window must sit inside the session", ErrInvalid)
		}
	}
	return nil
}
