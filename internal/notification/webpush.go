package notification

import (
	"context"
	"errors"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/m-mizutani/goerr/v2"
	"go.uber.org/zap"

	"visa-slot-monitor/config"
	"visa-slot-monitor/internal/model"
)

// PushSender sends one web push message.
type PushSender interface {
	Send(ctx context.Context, payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// VAPIDSender is the PushSender backed by webpush-go.
type VAPIDSender struct{}

func (VAPIDSender) Send(ctx context.Context, payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotificationWithContext(ctx, payload, sub, options)
}

// SubscriptionStore is the slice of the store the push channel needs.
type SubscriptionStore interface {
	ListPushSubscriptions(ctx context.Context, userID string) ([]model.PushSubscription, error)
	DeletePushSubscription(ctx context.Context, endpoint string) error
}

// WebPush delivers to every browser a user subscribed. The destination is
// the user ID.
type WebPush struct {
	store   SubscriptionStore
	sender  PushSender
	options *webpush.Options
	logger  *zap.Logger
}

// NewWebPush creates the push channel. A nil sender uses VAPIDSender.
func NewWebPush(cfg config.PushConfig, st SubscriptionStore, sender PushSender, logger *zap.Logger) *WebPush {
	if sender == nil {
		sender = VAPIDSender{}
	}
	return &WebPush{
		store:  st,
		sender: sender,
		options: &webpush.Options{
			Subscriber:      cfg.Subject,
			VAPIDPublicKey:  cfg.PublicKey,
			VAPIDPrivateKey: cfg.PrivateKey,
			TTL:             cfg.TTL,
		},
		logger: logger,
	}
}

func (w *WebPush) Name() string { return ChannelWebPush }

func (w *WebPush) Send(ctx context.Context, dest string, msg Message) error {
	if w.options.VAPIDPrivateKey == "" {
		return goerr.Wrap(ErrNotConfigured, "vapid keys missing", goerr.V("channel", ChannelWebPush))
	}
	subs, err := w.store.ListPushSubscriptions(ctx, dest)
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		return nil
	}
	payload, err := msg.PushPayload()
	if err != nil {
		return err
	}

	var errs []error
	for _, sub := range subs {
		if err := w.sendOne(ctx, sub, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (w *WebPush) sendOne(ctx context.Context, sub model.PushSubscription, payload []byte) error {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := w.sender.Send(ctx, payload, wpSub, w.options)
	if err != nil {
		return goerr.Wrap(err, "web push failed", goerr.V("endpoint", sub.Endpoint))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
		w.logger.Info("push subscription expired, deleting", zap.String("endpoint", sub.Endpoint))
		if err := w.store.DeletePushSubscription(ctx, sub.Endpoint); err != nil {
			w.logger.Error("failed to delete expired subscription", zap.String("endpoint", sub.Endpoint), zap.Error(err))
		}
		return nil
	case resp.StatusCode >= 300:
		return checkResponse(resp, ChannelWebPush)
	}
	return nil
}
