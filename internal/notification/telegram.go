package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"visa-slot-monitor/config"
)

// Telegram posts messages through a bot.
type Telegram struct {
	cfg    config.TelegramConfig
	client *http.Client
}

func NewTelegram(cfg config.TelegramConfig, client *http.Client) *Telegram {
	if client == nil {
		client = http.DefaultClient
	}
	return &Telegram{cfg: cfg, client: client}
}

func (t *Telegram) Name() string { return ChannelTelegram }

type telegramRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

func (t *Telegram) Send(ctx context.Context, dest string, msg Message) error {
	if t.cfg.BotToken == "" {
		return goerr.Wrap(ErrNotConfigured, "telegram bot token missing", goerr.V("channel", ChannelTelegram))
	}
	body, err := json.Marshal(telegramRequest{ChatID: dest, Text: msg.Markdown(), ParseMode: "Markdown"})
	if err != nil {
		return goerr.Wrap(err, "failed to encode telegram message")
	}

	endpoint := strings.TrimRight(t.cfg.BaseURL, "/") + "/bot" + t.cfg.BotToken + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return goerr.Wrap(err, "failed to build telegram request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return goerr.Wrap(err, "telegram request failed", goerr.V("chat_id", dest))
	}
	defer resp.Body.Close()
	return checkResponse(resp, ChannelTelegram)
}
