package connector

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/bowerhall/contextbank/internal/logger"
)

// Telegram fetches messages through the bot API's update queue. The offset
// advances past consumed updates so repeated fetches do not replay them.
type Telegram struct {
	api    *tgbotapi.BotAPI
	offset int
}

func NewTelegram(token string) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram connect: %w", err)
	}

	logger.Info("telegram connector ready", "account", api.Self.UserName)

	return &Telegram{api: api}, nil
}

func (t *Telegram) Source() string {
	return "telegram"
}

func (t *Telegram) FetchEvents(ctx context.Context, since time.Time) ([]RawEvent, error) {
	u := tgbotapi.NewUpdate(t.offset)
	u.Limit = 100

	updates, err := t.api.GetUpdates(u)
	if err != nil {
		return nil, fmt.Errorf("telegram fetch: %w", err)
	}

	var events []RawEvent
	for _, update := range updates {
		if update.UpdateID >= t.offset {
			t.offset = update.UpdateID + 1
		}

		msg := update.Message
		if msg == nil || msg.Text == "" {
			continue
		}

		occurred := time.Unix(int64(msg.Date), 0).UTC()
		if !since.IsZero() && occurred.Before(since) {
			continue
		}

		events = append(events, RawEvent{
			Source:         "telegram",
			ExternalID:     fmt.Sprintf("%d:%d", msg.Chat.ID, msg.MessageID),
			EventType:      "message",
			Title:          msg.From.UserName,
			OccurredAt:     occurred,
			EmbeddableText: msg.Text,
			Metadata: map[string]any{
				"chat_id": msg.Chat.ID,
				"from":    msg.From.UserName,
			},
		})
	}

	return events, nil
}
