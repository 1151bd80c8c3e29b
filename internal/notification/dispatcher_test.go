package notification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"visa-slot-monitor/config"
	"visa-slot-monitor/internal/metrics"
	"visa-slot-monitor/internal/model"
	"visa-slot-monitor/internal/store"
)

type fakeStore struct {
	mu       sync.Mutex
	settings map[string]*model.Settings
	notified []string
	markErr  error
	marked   chan []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{settings: map[string]*model.Settings{}, marked: make(chan []string, 16)}
}

func (f *fakeStore) LoadUserSettings(_ context.Context, userID string) (*model.Settings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.settings[userID]
	if !ok {
		return nil, goerr.Wrap(store.ErrNotFound, "settings not found")
	}
	cp := *s
	return &cp, nil
}

func (f *fakeStore) MarkSlotsNotified(_ context.Context, ids []string, _ time.Time) error {
	f.mu.Lock()
	f.notified = append(f.notified, ids...)
	f.mu.Unlock()
	f.marked <- ids
	return f.markErr
}

type sent struct {
	channel string
	dest    string
	msg     Message
}

type recordingChannel struct {
	name string
	err  error
	out  chan sent
}

func (r *recordingChannel) Name() string { return r.name }

func (r *recordingChannel) Send(_ context.Context, dest string, msg Message) error {
	r.out <- sent{channel: r.name, dest: dest, msg: msg}
	return r.err
}

type blockingChannel struct {
	release chan struct{}
}

func (b *blockingChannel) Name() string { return ChannelEmail }

func (b *blockingChannel) Send(ctx context.Context, _ string, _ Message) error {
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func testConfig(workers, queue int) config.NotificationConfig {
	cfg := config.Default().Notification
	cfg.Workers = workers
	cfg.QueueSize = queue
	return cfg
}

func receive(t *testing.T, ch <-chan sent) sent {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for send")
		return sent{}
	}
}

func waitMarked(t *testing.T, st *fakeStore) []string {
	t.Helper()
	select {
	case ids := <-st.marked:
		return ids
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for slots to be marked")
		return nil
	}
}

func TestDispatcher_FansOutToEnabledChannels(t *testing.T) {
	st := newFakeStore()
	st.settings["user-1"] = &model.Settings{
		UserID:                "user-1",
		EmailNotifications:    true,
		EmailAddress:          "user@example.com",
		SMSNotifications:      true,
		PhoneNumber:           "",
		TelegramNotifications: false,
		TelegramChatID:        "42",
		PushNotifications:     true,
	}
	out := make(chan sent, 8)
	email := &recordingChannel{name: ChannelEmail, out: out}
	sms := &recordingChannel{name: ChannelSMS, out: out}
	telegram := &recordingChannel{name: ChannelTelegram, out: out}
	push := &recordingChannel{name: ChannelWebPush, out: out, err: errors.New("push service down")}
	m := metrics.NewUnregistered()

	d := NewDispatcher(testConfig(1, 4), st, []Channel{email, sms, telegram, push}, zap.NewNop(), m)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	require.True(t, d.NotifySlotsFound(testMonitor(), "Family trip", testSlots(), ""))

	got := map[string]string{}
	for i := 0; i < 2; i++ {
		s := receive(t, out)
		got[s.channel] = s.dest
		assert.Equal(t, KindSlotsFound, s.msg.Kind)
	}
	assert.Equal(t, map[string]string{ChannelEmail: "user@example.com", ChannelWebPush: "user-1"}, got)

	// a failed channel does not prevent marking
	assert.ElementsMatch(t, []string{"slot-1", "slot-2"}, waitMarked(t, st))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationsTotal.WithLabelValues(ChannelEmail, "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationsTotal.WithLabelValues(ChannelWebPush, "failure")))
	require.NoError(t, d.Shutdown(context.Background()))
}

func TestDispatcher_SkipsNotifiedAndPendingSlots(t *testing.T) {
	st := newFakeStore()
	d := NewDispatcher(testConfig(0, 4), st, nil, zap.NewNop(), nil)

	slots := testSlots()
	slots[1].Notified = true
	require.True(t, d.NotifySlotsFound(testMonitor(), "", slots, ""))

	// slot-1 is pending until the worker processes the job
	assert.False(t, d.NotifySlotsFound(testMonitor(), "", slots, ""))
	assert.Len(t, d.jobs, 1)

	j := <-d.jobs
	assert.Equal(t, []string{"slot-1"}, j.slotIDs)
	require.Len(t, j.msg.Slots, 1)
}

func TestDispatcher_PendingReleasedAfterProcessing(t *testing.T) {
	st := newFakeStore()
	st.markErr = errors.New("db down")
	d := NewDispatcher(testConfig(1, 4), st, nil, zap.NewNop(), nil)
	d.Start(context.Background())

	require.True(t, d.NotifySlotsFound(testMonitor(), "", testSlots(), ""))
	waitMarked(t, st)

	// marking failed, so the next check may enqueue the same slots again
	assert.Eventually(t, func() bool {
		return d.NotifySlotsFound(testMonitor(), "", testSlots(), "")
	}, time.Second, 10*time.Millisecond)
	waitMarked(t, st)
	require.NoError(t, d.Shutdown(context.Background()))
}

func TestDispatcher_MissingSettingsStillMarks(t *testing.T) {
	st := newFakeStore()
	out := make(chan sent, 1)
	d := NewDispatcher(testConfig(1, 4), st, []Channel{&recordingChannel{name: ChannelEmail, out: out}}, zap.NewNop(), nil)
	d.Start(context.Background())

	require.True(t, d.NotifySlotsFound(testMonitor(), "", testSlots(), ""))
	assert.Len(t, waitMarked(t, st), 2)
	assert.Empty(t, out)
	require.NoError(t, d.Shutdown(context.Background()))
}

func TestDispatcher_FullQueueDrops(t *testing.T) {
	st := newFakeStore()
	m := metrics.NewUnregistered()
	d := NewDispatcher(testConfig(0, 1), st, nil, zap.NewNop(), m)

	assert.True(t, d.NotifyError(testMonitor(), 3, "boom"))

	done := make(chan bool)
	go func() { done <- d.NotifySlotsFound(testMonitor(), "", testSlots(), "") }()
	select {
	case queued := <-done:
		assert.False(t, queued)
	case <-time.After(time.Second):
		t.Fatal("NotifySlotsFound blocked on a full queue")
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationsDropped.WithLabelValues(string(KindSlotsFound))))

	// dropped slots are not left pending
	<-d.jobs
	assert.True(t, d.NotifySlotsFound(testMonitor(), "", testSlots(), ""))
}

func TestDispatcher_ErrorMessageHasNoSlots(t *testing.T) {
	st := newFakeStore()
	st.settings["user-1"] = &model.Settings{UserID: "user-1", TelegramNotifications: true, TelegramChatID: "42"}
	out := make(chan sent, 1)
	d := NewDispatcher(testConfig(1, 4), st, []Channel{&recordingChannel{name: ChannelTelegram, out: out}}, zap.NewNop(), nil)
	d.Start(context.Background())

	require.True(t, d.NotifyError(testMonitor(), 3, "navigation failed"))
	s := receive(t, out)
	assert.Equal(t, KindError, s.msg.Kind)
	assert.Contains(t, s.msg.Body, "navigation failed")
	require.NoError(t, d.Shutdown(context.Background()))
	assert.Empty(t, st.notified)
}

func TestDispatcher_Shutdown(t *testing.T) {
	st := newFakeStore()
	st.settings["user-1"] = &model.Settings{UserID: "user-1", EmailNotifications: true, EmailAddress: "u@example.com"}
	blocker := &blockingChannel{release: make(chan struct{})}
	d := NewDispatcher(testConfig(1, 4), st, []Channel{blocker}, zap.NewNop(), nil)
	d.Start(context.Background())

	require.True(t, d.NotifyError(testMonitor(), 3, "x"))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Shutdown(ctx), context.DeadlineExceeded)
	assert.False(t, d.NotifyError(testMonitor(), 3, "after close"))
	assert.ErrorIs(t, d.Shutdown(context.Background()), ErrDispatcherClosed)

	close(blocker.release)
}

func TestDispatcher_SendTestUsesSettingsDestination(t *testing.T) {
	st := newFakeStore()
	// disabled channels can still be tested
	st.settings["user-1"] = &model.Settings{UserID: "user-1", TelegramChatID: "42"}
	out := make(chan sent, 1)
	telegram := &recordingChannel{name: ChannelTelegram, out: out}
	m := metrics.NewUnregistered()
	d := NewDispatcher(testConfig(0, 1), st, []Channel{telegram}, zap.NewNop(), m)

	require.NoError(t, d.SendTest(context.Background(), "user-1", ChannelTelegram, ""))
	s := receive(t, out)
	assert.Equal(t, "42", s.dest)
	assert.Equal(t, KindTest, s.msg.Kind)
	assert.Equal(t, "Test Notification", s.msg.Title)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationsTotal.WithLabelValues(ChannelTelegram, "success")))
}

func TestDispatcher_SendTestExplicitDestination(t *testing.T) {
	out := make(chan sent, 1)
	email := &recordingChannel{name: ChannelEmail, out: out}
	d := NewDispatcher(testConfig(0, 1), newFakeStore(), []Channel{email}, zap.NewNop(), nil)

	require.NoError(t, d.SendTest(context.Background(), "user-1", ChannelEmail, "me@example.com"))
	assert.Equal(t, "me@example.com", receive(t, out).dest)
}

func TestDispatcher_SendTestErrors(t *testing.T) {
	out := make(chan sent, 4)
	failing := &recordingChannel{name: ChannelSMS, out: out, err: errors.New("twilio down")}
	email := &recordingChannel{name: ChannelEmail, out: out}
	m := metrics.NewUnregistered()
	d := NewDispatcher(testConfig(0, 1), newFakeStore(), []Channel{failing, email}, zap.NewNop(), m)
	ctx := context.Background()

	assert.ErrorIs(t, d.SendTest(ctx, "user-1", "pigeon", "x"), ErrUnknownChannel)
	assert.ErrorIs(t, d.SendTest(ctx, "user-1", ChannelTelegram, "42"), ErrNotConfigured)
	assert.ErrorIs(t, d.SendTest(ctx, "user-1", ChannelEmail, ""), ErrNoDestination)

	err := d.SendTest(ctx, "user-1", ChannelSMS, "+213555000000")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "twilio down")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationsTotal.WithLabelValues(ChannelSMS, "failure")))
}
