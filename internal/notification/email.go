package notification

import (
	"context"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"visa-slot-monitor/config"
)

// SendMailFunc matches smtp.SendMail.
type SendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Email sends HTML mail through an SMTP relay.
type Email struct {
	cfg      config.SMTPConfig
	sendMail SendMailFunc
}

// NewEmail creates the email channel. A nil sendMail uses smtp.SendMail.
func NewEmail(cfg config.SMTPConfig, sendMail SendMailFunc) *Email {
	if sendMail == nil {
		sendMail = smtp.SendMail
	}
	return &Email{cfg: cfg, sendMail: sendMail}
}

func (e *Email) Name() string { return ChannelEmail }

func (e *Email) Send(ctx context.Context, dest string, msg Message) error {
	if e.cfg.Host == "" || e.cfg.From == "" {
		return goerr.Wrap(ErrNotConfigured, "smtp host or sender missing", goerr.V("channel", ChannelEmail))
	}
	body, err := msg.HTML()
	if err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", e.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", dest)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Title))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n\r\n")
	b.WriteString(body)

	var auth smtp.Auth
	if e.cfg.Username != "" {
		auth = smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)
	}
	addr := net.JoinHostPort(e.cfg.Host, strconv.Itoa(e.cfg.Port))

	// net/smtp has no context support; the send runs on its own goroutine
	// and is abandoned when ctx ends.
	done := make(chan error, 1)
	go func() {
		done <- e.sendMail(addr, auth, e.cfg.From, []string{dest}, []byte(b.String()))
	}()
	select {
	case err := <-done:
		if err != nil {
			return goerr.Wrap(err, "failed to send email", goerr.V("to", dest))
		}
		return nil
	case <-ctx.Done():
		return goerr.Wrap(ctx.Err(), "email send timed out", goerr.V("to", dest))
	}
}
