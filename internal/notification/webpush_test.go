package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"visa-slot-monitor/config"
	"visa-slot-monitor/internal/model"
	"visa-slot-monitor/internal/store"
)

// mockSender is a mock implementation of the PushSender interface.
type mockSender struct {
	SendFunc func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

func (m *mockSender) Send(_ context.Context, payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return m.SendFunc(payload, sub, options)
}

func newTestDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{})
	require.NoError(t, err)

	return gormDB, mock
}

func response(status int) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewBufferString("")),
	}
}

var testPush = config.PushConfig{PublicKey: "pub", PrivateKey: "priv", Subject: "mailto:ops@example.com", TTL: 60}

func TestWebPush_SendsToEverySubscription(t *testing.T) {
	gormDB, mock := newTestDB(t)
	var endpoints []string
	sender := &mockSender{
		SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
			endpoints = append(endpoints, sub.Endpoint)
			assert.Equal(t, "priv", options.VAPIDPrivateKey)
			var body map[string]any
			assert.NoError(t, json.Unmarshal(payload, &body))
			assert.Equal(t, "Algiers 2", body["center"])
			return response(http.StatusCreated), nil
		},
	}
	ch := NewWebPush(testPush, store.NewGormStore(gormDB), sender, zap.NewNop())

	mock.ExpectQuery(`SELECT \* FROM "push_subscriptions" WHERE user_id = \$1`).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"endpoint", "user_id", "p256dh", "auth", "created_at"}).
			AddRow("https://push.example.com/a", "user-1", "k1", "a1", time.Now()).
			AddRow("https://push.example.com/b", "user-1", "k2", "a2", time.Now()))

	err := ch.Send(context.Background(), "user-1", testSlotsMessage())
	require.NoError(t, err)
	assert.Equal(t, []string{"https://push.example.com/a", "https://push.example.com/b"}, endpoints)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebPush_DeletesExpiredSubscription(t *testing.T) {
	gormDB, mock := newTestDB(t)
	sender := &mockSender{
		SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
			return response(http.StatusGone), nil
		},
	}
	ch := NewWebPush(testPush, store.NewGormStore(gormDB), sender, zap.NewNop())

	mock.ExpectQuery(`SELECT \* FROM "push_subscriptions" WHERE user_id = \$1`).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"endpoint", "user_id", "p256dh", "auth", "created_at"}).
			AddRow("https://push.example.com/expired", "user-1", "k", "a", time.Now()))

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "push_subscriptions" WHERE "push_subscriptions"."endpoint" = \$1`).
		WithArgs("https://push.example.com/expired").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := ch.Send(context.Background(), "user-1", testSlotsMessage())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

type memSubs struct {
	subs    []model.PushSubscription
	deleted []string
}

func (m *memSubs) ListPushSubscriptions(context.Context, string) ([]model.PushSubscription, error) {
	return m.subs, nil
}

func (m *memSubs) DeletePushSubscription(_ context.Context, endpoint string) error {
	m.deleted = append(m.deleted, endpoint)
	return nil
}

func TestWebPush_JoinsFailures(t *testing.T) {
	subs := &memSubs{subs: []model.PushSubscription{
		{Endpoint: "https://push.example.com/ok"},
		{Endpoint: "https://push.example.com/bad"},
	}}
	sender := &mockSender{
		SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
			if sub.Endpoint == "https://push.example.com/bad" {
				return response(http.StatusInternalServerError), nil
			}
			return response(http.StatusCreated), nil
		},
	}
	ch := NewWebPush(testPush, subs, sender, zap.NewNop())

	err := ch.Send(context.Background(), "user-1", testSlotsMessage())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstream)
	assert.Empty(t, subs.deleted)
}

func TestWebPush_NotConfigured(t *testing.T) {
	ch := NewWebPush(config.PushConfig{}, &memSubs{}, nil, zap.NewNop())
	err := ch.Send(context.Background(), "user-1", testSlotsMessage())
	assert.ErrorIs(t, err, ErrNotConfigured)
}
