package notify

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"gridpilot/logger"
)

// Telegram pushes events to a chat. Send failures are logged and dropped;
// alerting is best-effort.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegram authorizes the bot and returns the notifier.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}
	logger.Infof("Telegram notifier ready (bot: %s)", bot.Self.UserName)
	return &Telegram{bot: bot, chatID: chatID}, nil
}

func (t *Telegram) LevelActivated(ev Event) {
	t.send(fmt.Sprintf("🔔 %s %s grid level %d activated @ %s", ev.Symbol, ev.Direction, ev.Level, ev.Price))
}

func (t *Telegram) BasketClosed(ev Event) {
	t.send(fmt.Sprintf("✅ %s %s basket closed, target %s", ev.Symbol, ev.Direction, ev.Price))
}

func (t *Telegram) send(text string) {
	if _, err := t.bot.Send(tgbotapi.NewMessage(t.chatID, text)); err != nil {
		logger.Warnf("telegram send failed: %v", err)
	}
}
