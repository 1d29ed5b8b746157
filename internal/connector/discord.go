package connector

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
)

// Discord fetches recent messages from a configured set of channels.
type Discord struct {
	session  *discordgo.Session
	channels []string
}

func NewDiscord(token string, channels []string) (*Discord, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord connect: %w", err)
	}

	return &Discord{session: session, channels: channels}, nil
}

func (d *Discord) Source() string {
	return "discord"
}

func (d *Discord) FetchEvents(ctx context.Context, since time.Time) ([]RawEvent, error) {
	var events []RawEvent

	for _, channelID := range d.channels {
		messages, err := d.session.ChannelMessages(channelID, 100, "", "", "")
		if err != nil {
			return nil, fmt.Errorf("discord fetch channel %s: %w", channelID, err)
		}

		for _, msg := range messages {
			if msg.Content == "" {
				continue
			}

			occurred := msg.Timestamp.UTC()
			if !since.IsZero() && occurred.Before(since) {
				continue
			}

			events = append(events, RawEvent{
				Source:         "discord",
				ExternalID:     msg.ID,
				EventType:      "message",
				Title:          msg.Author.Username,
				OccurredAt:     occurred,
				EmbeddableText: msg.Content,
				Metadata: map[string]any{
					"channel_id": channelID,
					"author":     msg.Author.Username,
				},
			})
		}
	}

	return events, nil
}
