package gateway

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// DiscordPrefix namespaces discord channel ids in user ids.
const DiscordPrefix = "dc:"

type DiscordGateway struct {
	Session *discordgo.Session
	Handler Handler

	done chan struct{}
}

func NewDiscordGateway(token string, handler Handler) (*DiscordGateway, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	s.Identify.Intents = discordgo.IntentsDirectMessages | discordgo.IntentsGuildMessages | discordgo.IntentMessageContent

	return &DiscordGateway{
		Session: s,
		Handler: handler,
		done:    make(chan struct{}),
	}, nil
}

func (dg *DiscordGateway) Start(ctx context.Context) error {
	dg.Session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.ID == s.State.User.ID {
			return
		}

		userID := DiscordPrefix + m.ChannelID
		ev := Event{
			UserID:   userID,
			Username: m.Author.Username,
			RawInput: m.Content,
		}

		for _, reply := range dg.Handler.Handle(ctx, ev) {
			if err := dg.Send(ctx, userID, reply); err != nil {
				log.Printf("discord reply to %s failed: %v", userID, err)
			}
		}
	})

	if err := dg.Session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}
	log.Printf("Authorized on discord account %s", dg.Session.State.User.Username)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-dg.done:
		return nil
	}
}

func (dg *DiscordGateway) Send(ctx context.Context, userID string, text string) error {
	channelID, ok := strings.CutPrefix(userID, DiscordPrefix)
	if !ok {
		return fmt.Errorf("not a discord user id: %s", userID)
	}
	_, err := dg.Session.ChannelMessageSend(channelID, text)
	return err
}

func (dg *DiscordGateway) Stop() error {
	close(dg.done)
	return dg.Session.Close()
}
