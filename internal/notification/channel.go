// Package notification fans slot alerts and monitor warnings out to the
// channels a user enabled.
package notification

import (
	"context"
	"io"
	"net/http"

	"github.com/m-mizutani/goerr/v2"
)

// Channel names, also used as metric labels.
const (
	ChannelEmail    = "email"
	ChannelSMS      = "sms"
	ChannelWhatsApp = "whatsapp"
	ChannelTelegram = "telegram"
	ChannelSlack    = "slack"
	ChannelWebPush  = "webpush"
)

// Channel delivers a message to one destination.
type Channel interface {
	Name() string
	Send(ctx context.Context, dest string, msg Message) error
}

// ErrNotConfigured is returned by channels missing server-side credentials.
var ErrNotConfigured = goerr.New("channel not configured")

// ErrUpstream is returned when a provider answers with a non-2xx status.
var ErrUpstream = goerr.New("provider rejected message")

func checkResponse(resp *http.Response, channel string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return goerr.Wrap(ErrUpstream, "unexpected provider status",
		goerr.V("channel", channel), goerr.V("status", resp.StatusCode), goerr.V("body", string(body)))
}
