package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/savage-app/savage/internal/mq"
	"github.com/savage-app/savage/internal/search"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncPushesEveryUsername(t *testing.T) {
	users := newFakeUsers()
	alice := users.add(t, "alice", "secret1")
	bob := users.add(t, "bob", "secret1")
	index := &fakeIndex{}
	svc := NewUsernameSyncService(users, index, time.Minute, zerolog.Nop())

	n, err := svc.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Equal(t, 1, index.saveCount())
	assert.Equal(t, []search.Record{
		{ObjectID: "1", Username: alice.Username},
		{ObjectID: "2", Username: bob.Username},
	}, index.saves[0])
}

func TestHandleRequestCoalesces(t *testing.T) {
	users := newFakeUsers()
	users.add(t, "alice", "secret1")
	index := &fakeIndex{}
	svc := NewUsernameSyncService(users, index, time.Minute, zerolog.Nop())

	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return clock }
	ctx := context.Background()

	require.NoError(t, svc.HandleRequest(ctx, SyncRequest{Reason: SyncReasonInbox, RequestedAt: clock}))
	assert.Equal(t, 1, index.saveCount())

	clock = clock.Add(10 * time.Second)
	require.NoError(t, svc.HandleRequest(ctx, SyncRequest{Reason: SyncReasonInbox, RequestedAt: clock}))
	assert.Equal(t, 1, index.saveCount(), "inbox burst inside the minimum interval is skipped")

	require.NoError(t, svc.HandleRequest(ctx, SyncRequest{Reason: SyncReasonRegistration, RequestedAt: clock.Add(-time.Minute)}))
	assert.Equal(t, 1, index.saveCount(), "request older than the last sync is already covered")

	require.NoError(t, svc.HandleRequest(ctx, SyncRequest{Reason: SyncReasonRegistration, RequestedAt: clock}))
	assert.Equal(t, 2, index.saveCount(), "a new registration is pushed right away")

	clock = clock.Add(2 * time.Minute)
	require.NoError(t, svc.HandleRequest(ctx, SyncRequest{Reason: SyncReasonInbox, RequestedAt: clock}))
	assert.Equal(t, 3, index.saveCount())
}

func TestSubscribeOverLocalBus(t *testing.T) {
	users := newFakeUsers()
	users.add(t, "alice", "secret1")
	index := &fakeIndex{}
	svc := NewUsernameSyncService(users, index, time.Minute, zerolog.Nop())

	bus := mq.NewLocalBus(8)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- svc.Subscribe(ctx, bus, "usernames.sync") }()

	require.Eventually(t, func() bool { return bus.Subscribers("usernames.sync") == 1 }, time.Second, 5*time.Millisecond)

	_, err := bus.Publish(ctx, "usernames.sync", []byte("not json"), nil)
	require.NoError(t, err)

	pub := NewSyncPublisher(bus, "usernames.sync")
	require.NoError(t, pub.RequestSync(ctx, SyncReasonInbox))

	require.Eventually(t, func() bool { return index.saveCount() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestSyncPublisherPayload(t *testing.T) {
	bus := &recordingPublisher{}
	pub := NewSyncPublisher(bus, "usernames.sync")
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	pub.now = func() time.Time { return at }

	require.NoError(t, pub.RequestSync(context.Background(), SyncReasonRegistration))
	require.Equal(t, "usernames.sync", bus.channel)

	var req SyncRequest
	require.NoError(t, json.Unmarshal(bus.data, &req))
	assert.Equal(t, SyncRequest{Reason: SyncReasonRegistration, RequestedAt: at}, req)
	assert.Equal(t, SyncReasonRegistration, bus.attrs["reason"])
}

func TestRunOnceWithoutInterval(t *testing.T) {
	users := newFakeUsers()
	users.add(t, "alice", "secret1")
	index := &fakeIndex{}
	svc := NewUsernameSyncService(users, index, time.Minute, zerolog.Nop())

	require.NoError(t, svc.Run(context.Background(), 0))
	assert.Equal(t, 1, index.saveCount())
}

type recordingPublisher struct {
	channel string
	data    []byte
	attrs   map[string]string
}

func (r *recordingPublisher) Publish(_ context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	r.channel, r.data, r.attrs = channel, data, attrs
	return "id-1", nil
}
