package alert

import (
	"context"
	"fmt"

	"github.com/agentfloor/agentfloor/internal/models"
	"github.com/bwmarrin/discordgo"
)

// discordLimit is Discord's maximum message length.
const discordLimit = 2000

// discordSender abstracts the discordgo.Session method we use.
type discordSender interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord posts notices to one Discord channel over the REST API.
type Discord struct {
	sess    discordSender
	channel string
}

// NewDiscord creates a Discord notifier using a bot token. No gateway
// connection is opened.
func NewDiscord(botToken, channel string) (*Discord, error) {
	if botToken == "" || channel == "" {
		return nil, fmt.Errorf("alert: discord bot token and channel are required")
	}
	dg, err := discordgo.New("Bot " + botToken)
	if err != nil {
		return nil, fmt.Errorf("alert: discord session: %w", err)
	}
	return &Discord{sess: dg, channel: channel}, nil
}

// LeaseExpired sends the notice, truncated to Discord's length limit.
func (d *Discord) LeaseExpired(ctx context.Context, items []models.QueueItem) error {
	if len(items) == 0 {
		return nil
	}
	text := FormatLeaseExpired(items)
	if r := []rune(text); len(r) > discordLimit {
		text = string(r[:discordLimit-3]) + "..."
	}
	if _, err := d.sess.ChannelMessageSend(d.channel, text, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("alert: discord send: %w", err)
	}
	return nil
}
