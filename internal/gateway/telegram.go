package gateway

import (
	"context"
	"fmt"
	"log"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramPrefix namespaces telegram chat ids in user ids so the mux
// can route outbound sends back through the right transport.
const TelegramPrefix = "tg:"

type TelegramGateway struct {
	Bot     *tgbotapi.BotAPI
	Handler Handler
}

func NewTelegramGateway(token string, handler Handler) (*TelegramGateway, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}

	log.Printf("Authorized on account %s", bot.Self.UserName)

	return &TelegramGateway{
		Bot:     bot,
		Handler: handler,
	}, nil
}

func (tg *TelegramGateway) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := tg.Bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil || update.Message.From == nil {
				continue
			}

			userID := fmt.Sprintf("%s%d", TelegramPrefix, update.Message.Chat.ID)
			ev := Event{
				UserID:   userID,
				Username: update.Message.From.UserName,
				RawInput: update.Message.Text,
			}

			for _, reply := range tg.Handler.Handle(ctx, ev) {
				if err := tg.Send(ctx, userID, reply); err != nil {
					log.Printf("telegram reply to %s failed: %v", userID, err)
				}
			}
		}
	}
}

func (tg *TelegramGateway) Send(ctx context.Context, userID string, text string) error {
	raw, ok := strings.CutPrefix(userID, TelegramPrefix)
	if !ok {
		return fmt.Errorf("not a telegram user id: %s", userID)
	}
	id := int64(0)
	if _, err := fmt.Sscanf(raw, "%d", &id); err != nil || id == 0 {
		return fmt.Errorf("invalid chat ID: %s", userID)
	}

	msg := tgbotapi.NewMessage(id, text)
	msg.ParseMode = "Markdown"
	_, err := tg.Bot.Send(msg)
	return err
}

func (tg *TelegramGateway) Stop() error {
	tg.Bot.StopReceivingUpdates()
	return nil
}
