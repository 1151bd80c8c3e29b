package notification

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"visa-slot-monitor/config"
)

// Twilio sends SMS or WhatsApp messages through the Messages API.
type Twilio struct {
	cfg      config.TwilioConfig
	client   *http.Client
	whatsApp bool
}

// NewSMS creates the SMS channel.
func NewSMS(cfg config.TwilioConfig, client *http.Client) *Twilio {
	return newTwilio(cfg, client, false)
}

// NewWhatsApp creates the WhatsApp channel.
func NewWhatsApp(cfg config.TwilioConfig, client *http.Client) *Twilio {
	return newTwilio(cfg, client, true)
}

func newTwilio(cfg config.TwilioConfig, client *http.Client, whatsApp bool) *Twilio {
	if client == nil {
		client = http.DefaultClient
	}
	return &Twilio{cfg: cfg, client: client, whatsApp: whatsApp}
}

func (t *Twilio) Name() string {
	if t.whatsApp {
		return ChannelWhatsApp
	}
	return ChannelSMS
}

func (t *Twilio) Send(ctx context.Context, dest string, msg Message) error {
	from, to := t.cfg.SMSFrom, dest
	if t.whatsApp {
		from = whatsAppAddress(t.cfg.WhatsAppFrom)
		to = whatsAppAddress(dest)
	}
	if t.cfg.AccountSID == "" || t.cfg.AuthToken == "" || from == "" {
		return goerr.Wrap(ErrNotConfigured, "twilio credentials missing", goerr.V("channel", t.Name()))
	}

	form := url.Values{}
	form.Set("From", from)
	form.Set("To", to)
	form.Set("Body", msg.Text())

	endpoint := strings.TrimRight(t.cfg.BaseURL, "/") + "/2010-04-01/Accounts/" + t.cfg.AccountSID + "/Messages.json"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return goerr.Wrap(err, "failed to build twilio request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(t.cfg.AccountSID, t.cfg.AuthToken)

	resp, err := t.client.Do(req)
	if err != nil {
		return goerr.Wrap(err, "twilio request failed", goerr.V("channel", t.Name()))
	}
	defer resp.Body.Close()
	return checkResponse(resp, t.Name())
}

func whatsAppAddress(number string) string {
	if number == "" || strings.HasPrefix(number, "whatsapp:") {
		return number
	}
	return "whatsapp:" + number
}
