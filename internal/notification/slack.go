package notification

import (
	"context"
	"net/http"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	goslack "github.com/slack-go/slack"
)

// Slack posts Block Kit messages to an incoming webhook. The destination
// is the webhook URL from the user's settings.
type Slack struct {
	client *http.Client
}

func NewSlack(client *http.Client) *Slack {
	if client == nil {
		client = http.DefaultClient
	}
	return &Slack{client: client}
}

func (s *Slack) Name() string { return ChannelSlack }

func (s *Slack) Send(ctx context.Context, dest string, msg Message) error {
	if dest == "" {
		return goerr.Wrap(ErrNotConfigured, "slack webhook missing", goerr.V("channel", ChannelSlack))
	}
	webhook := &goslack.WebhookMessage{
		Text:   msg.Title,
		Blocks: &goslack.Blocks{BlockSet: slackBlocks(msg)},
	}
	if err := goslack.PostWebhookCustomHTTPContext(ctx, dest, s.client, webhook); err != nil {
		return goerr.Wrap(err, "failed to post slack webhook", goerr.V("monitor_id", msg.MonitorID))
	}
	return nil
}

func slackBlocks(msg Message) []goslack.Block {
	blocks := []goslack.Block{
		goslack.NewHeaderBlock(goslack.NewTextBlockObject(goslack.PlainTextType, msg.Title, true, false)),
		goslack.NewSectionBlock(goslack.NewTextBlockObject(goslack.MarkdownType, msg.Body, false, false), nil, nil),
	}
	if len(msg.Slots) > 0 {
		lines := make([]string, 0, len(msg.Slots))
		for _, s := range msg.Slots {
			lines = append(lines, "• "+s.String())
		}
		blocks = append(blocks, goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, strings.Join(lines, "\n"), false, false), nil, nil))
	}
	blocks = append(blocks, goslack.NewContextBlock("",
		goslack.NewTextBlockObject(goslack.MarkdownType, "*Center:* "+msg.Center.Label(), false, false)))
	return blocks
}
