package slackbot

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	"shortssync/internal/logging"
)

// Notifier posts plain-text reports to one channel.
type Notifier struct {
	api       *slack.Client
	channelID string
	logger    logging.Logger
}

// NewNotifier returns nil when token or channel is missing; a nil Notifier
// drops every message.
func NewNotifier(token, channelID string, logger logging.Logger, opts ...slack.Option) *Notifier {
	if token == "" || channelID == "" {
		return nil
	}
	return &Notifier{
		api:       slack.New(token, opts...),
		channelID: channelID,
		logger:    logger,
	}
}

func (n *Notifier) Post(ctx context.Context, text string) error {
	if n == nil || text == "" {
		return nil
	}
	_, ts, err := n.api.PostMessageContext(ctx, n.channelID, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("post to %s: %w", n.channelID, err)
	}
	n.logger.WithFields(logging.Fields{"channel_id": n.channelID, "ts": ts}).Debug("slack message posted")
	return nil
}
