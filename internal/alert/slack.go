package alert

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/agentfloor/agentfloor/internal/models"
	"github.com/slack-go/slack"
)

// maxRetries is the max number of retries for rate-limited API calls.
const maxRetries = 3

// slackPoster abstracts the Slack API method we use, enabling test mocks.
type slackPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// Slack posts notices to one Slack channel.
type Slack struct {
	client  slackPoster
	channel string
}

// NewSlack creates a Slack notifier using a bot token.
func NewSlack(botToken, channel string) (*Slack, error) {
	if botToken == "" || channel == "" {
		return nil, fmt.Errorf("alert: slack bot token and channel are required")
	}
	return &Slack{client: slack.New(botToken), channel: channel}, nil
}

// LeaseExpired posts the notice, waiting out rate limits.
func (s *Slack) LeaseExpired(ctx context.Context, items []models.QueueItem) error {
	if len(items) == 0 {
		return nil
	}
	text := FormatLeaseExpired(items)
	for attempt := 0; ; attempt++ {
		_, _, err := s.client.PostMessageContext(ctx, s.channel, slack.MsgOptionText(text, false))
		if err == nil {
			return nil
		}
		var rle *slack.RateLimitedError
		if !errors.As(err, &rle) || attempt == maxRetries {
			return fmt.Errorf("alert: slack post: %w", err)
		}
		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
