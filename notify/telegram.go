package notify

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/polyedge/updown/types"
)

// Notifier pushes engine events to a Telegram chat. Optional: a nil
// Notifier is safe to call and does nothing.
type Notifier struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

// NewNotifier creates a notifier, or nil when no token is configured
func NewNotifier(token string, chatID int64) (*Notifier, error) {
	if token == "" || chatID == 0 {
		return nil, nil
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram init: %w", err)
	}

	log.Info().Str("bot", api.Self.UserName).Msg("💬 Telegram notifier ready")
	return &Notifier{api: api, chatID: chatID}, nil
}

// Consume drains the event channel until it closes
func (n *Notifier) Consume(events <-chan types.Event) {
	for event := range events {
		n.Notify(event)
	}
}

// Notify sends one event. Send failures are logged, never propagated.
func (n *Notifier) Notify(event types.Event) {
	if n == nil {
		return
	}

	text := format(event)
	if text == "" {
		return
	}

	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = "Markdown"
	if _, err := n.api.Send(msg); err != nil {
		log.Warn().Err(err).Msg("Telegram send failed")
	}
}

func format(event types.Event) string {
	switch event.Type {
	case types.EventPositionOpened:
		return fmt.Sprintf("📌 *Opened* %s\ntier: %s\nsize: $%s @ %s",
			event.MarketID, event.Tier, event.Size.StringFixed(2), event.Price.StringFixed(2))
	case types.EventPositionClosed:
		emoji := "🟢"
		if event.PnL.IsNegative() {
			emoji = "🔴"
		}
		return fmt.Sprintf("%s *Closed* %s\npnl: $%s\nreason: %s",
			emoji, event.MarketID, event.PnL.StringFixed(2), event.Reason)
	case types.EventPartialExit:
		return fmt.Sprintf("✂️ *Partial exit* %s %s\npnl: $%s",
			event.MarketID, event.Direction, event.PnL.StringFixed(2))
	case types.EventEntryBlocked:
		return fmt.Sprintf("🚫 *Entry blocked* %s\n%s", event.MarketID, event.Reason)
	case types.EventEntryFailed:
		return fmt.Sprintf("⚠️ *Entry failed* %s\n%s", event.MarketID, event.Reason)
	default:
		// signal detections are too chatty for a phone
		return ""
	}
}
