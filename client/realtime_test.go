package client

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/team-chat/query"
)

func fastRealtime() Option {
	return WithRealtime(RealtimeConfig{
		HandshakeTimeout:     2 * time.Second,
		PingInterval:         5 * time.Second,
		InitialBackoff:       10 * time.Millisecond,
		MaxBackoff:           50 * time.Millisecond,
		MaxReconnectAttempts: 50,
	})
}

func nextEvent[T any](t *testing.T, sub *Subscription[T]) Event[T] {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "event channel closed")
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	panic("unreachable")
}

func expectNoEvent[T any](t *testing.T, sub *Subscription[T], wait time.Duration) {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		if ok {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(wait):
	}
}

func awaitStatus[T any](t *testing.T, sub *Subscription[T], want Status) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case st, ok := <-sub.Status():
			require.True(t, ok, "status channel closed before %s", want)
			if st == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for status %s", want)
		}
	}
}

func subscribeMessages(t *testing.T, c *Client, opts SubscribeOptions) *Subscription[testMessage] {
	t.Helper()
	sub, err := Subscribe[testMessage](context.Background(), c, "messages", opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })
	return sub
}

func TestSubscribe_DeliversEveryCreateExactlyOnce(t *testing.T) {
	b := newFakeBackend(t)
	ctx := context.Background()
	writer := newTestClient(t, b)
	reader := newTestClient(t, b, fastRealtime())
	login(t, writer, "ada@example.com", "correct-horse")
	login(t, reader, "bob@example.com", "battery-staple")

	sub := subscribeMessages(t, reader, SubscribeOptions{})

	const n = 25
	want := make(map[string]string, n)
	messages := Collection[testMessage](writer, "messages")
	for i := range n {
		msg, err := messages.Create(ctx, map[string]string{"text": string(rune('a' + i))})
		require.NoError(t, err)
		want[msg.ID] = msg.Text
	}

	got := make(map[string]string, n)
	for range n {
		ev := nextEvent(t, sub)
		require.Equal(t, EventCreated, ev.Type)
		_, dup := got[ev.Key]
		require.False(t, dup, "duplicate event for %s", ev.Key)
		got[ev.Key] = ev.Record.Text
		assert.Equal(t, "u-ada", ev.Record.UserCreated.ID)
	}
	assert.Equal(t, want, got)
	expectNoEvent(t, sub, 100*time.Millisecond)
}

func TestSubscribe_EventsFollowServerOrder(t *testing.T) {
	b := newFakeBackend(t)
	c := newTestClient(t, b, fastRealtime())
	login(t, c, "ada@example.com", "correct-horse")
	sub := subscribeMessages(t, c, SubscribeOptions{})

	m1 := b.insert("u-ada", "first")
	m2 := b.insert("u-bob", "second")
	require.NoError(t, Collection[testMessage](c, "messages").Delete(context.Background(), m1.ID))

	ev := nextEvent(t, sub)
	assert.Equal(t, EventCreated, ev.Type)
	assert.Equal(t, m1.ID, ev.Key)
	ev = nextEvent(t, sub)
	assert.Equal(t, m2.ID, ev.Key)
	ev = nextEvent(t, sub)
	assert.Equal(t, EventDeleted, ev.Type)
	assert.Equal(t, m1.ID, ev.Key)
}

func TestSubscribe_ForwardsQuery(t *testing.T) {
	b := newFakeBackend(t)
	c := newTestClient(t, b, fastRealtime())
	login(t, c, "bob@example.com", "battery-staple")

	sub := subscribeMessages(t, c, SubscribeOptions{
		Query: query.Query{Filter: query.Field("user_created.id", "_eq", "u-ada")},
	})

	got := b.lastSubscription()
	assert.True(t, got.Filter.Match(map[string]any{"user_created": map[string]any{"id": "u-ada"}}))
	assert.False(t, got.Filter.Match(map[string]any{"user_created": map[string]any{"id": "u-bob"}}))

	b.insert("u-bob", "filtered out")
	ada := b.insert("u-ada", "delivered")
	ev := nextEvent(t, sub)
	assert.Equal(t, ada.ID, ev.Key)
}

func TestSubscribe_WithoutSession(t *testing.T) {
	b := newFakeBackend(t)
	c := newTestClient(t, b)

	_, err := Subscribe[testMessage](context.Background(), c, "messages", SubscribeOptions{})

	assert.ErrorIs(t, err, ErrUnauthenticated)
	_, _, _, dials, _ := b.stats()
	assert.Zero(t, dials)
}

func TestSubscribe_RejectedToken(t *testing.T) {
	b := newFakeBackend(t)
	c := newTestClient(t, b)
	login(t, c, "ada@example.com", "correct-horse")
	b.expireAccessTokens()

	_, err := Subscribe[testMessage](context.Background(), c, "messages", SubscribeOptions{})

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "TOKEN_EXPIRED", authErr.Code)
}

func TestSubscribe_InitNotReplayedWithoutSince(t *testing.T) {
	b := newFakeBackend(t)
	b.insert("u-ada", "old one")
	b.insert("u-ada", "old two")
	c := newTestClient(t, b, fastRealtime())
	login(t, c, "ada@example.com", "correct-horse")

	sub := subscribeMessages(t, c, SubscribeOptions{})
	fresh := b.insert("u-bob", "fresh")

	ev := nextEvent(t, sub)
	assert.Equal(t, fresh.ID, ev.Key)
}

func TestSubscribe_SinceReplaysInit(t *testing.T) {
	b := newFakeBackend(t)
	old := b.insert("u-ada", "before the cut")
	since := old.DateCreated.Add(time.Microsecond)
	kept := b.insert("u-ada", "after the cut")
	c := newTestClient(t, b, fastRealtime())
	login(t, c, "ada@example.com", "correct-horse")

	sub := subscribeMessages(t, c, SubscribeOptions{Since: since})

	ev := nextEvent(t, sub)
	assert.Equal(t, EventCreated, ev.Type)
	assert.Equal(t, kept.ID, ev.Key)
	expectNoEvent(t, sub, 100*time.Millisecond)
}

func TestSubscribe_ReconnectDeliversMessagesCreatedDuringDrop(t *testing.T) {
	b := newFakeBackend(t)
	c := newTestClient(t, b, fastRealtime())
	login(t, c, "bob@example.com", "battery-staple")
	sub := subscribeMessages(t, c, SubscribeOptions{})
	awaitStatus(t, sub, StatusLive)

	before := b.insert("u-ada", "before the drop")
	assert.Equal(t, before.ID, nextEvent(t, sub).Key)

	b.setRealtimeDown(true)
	b.dropSockets()
	awaitStatus(t, sub, StatusReconnecting)

	during := b.insert("u-ada", "during the drop")
	b.setRealtimeDown(false)
	awaitStatus(t, sub, StatusLive)

	ev := nextEvent(t, sub)
	assert.Equal(t, EventCreated, ev.Type)
	assert.Equal(t, during.ID, ev.Key)
	assert.Equal(t, "during the drop", ev.Record.Text)

	after := b.insert("u-ada", "after the drop")
	assert.Equal(t, after.ID, nextEvent(t, sub).Key)
	expectNoEvent(t, sub, 100*time.Millisecond)

	resumed := b.lastSubscription()
	assert.False(t, resumed.Filter.Match(recordOf(testMessage{DateCreated: before.DateCreated.Add(-time.Millisecond)})))
	assert.True(t, resumed.Filter.Match(recordOf(during)))
	_, refreshes, _, _, _ := b.stats()
	assert.GreaterOrEqual(t, refreshes, 1)
	assert.NoError(t, sub.Err())
}

func TestSubscribe_GivesUpAfterMaxAttempts(t *testing.T) {
	b := newFakeBackend(t)
	c := newTestClient(t, b, WithRealtime(RealtimeConfig{
		InitialBackoff:       5 * time.Millisecond,
		MaxBackoff:           10 * time.Millisecond,
		MaxReconnectAttempts: 3,
	}))
	login(t, c, "ada@example.com", "correct-horse")
	sub := subscribeMessages(t, c, SubscribeOptions{})

	b.setRealtimeDown(true)
	b.dropSockets()

	awaitStatus(t, sub, StatusUnavailable)
	select {
	case <-sub.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("subscription did not stop")
	}
	_, open := <-sub.Events()
	assert.False(t, open)

	var subErr *SubscriptionError
	require.ErrorAs(t, sub.Err(), &subErr)
	assert.Equal(t, 3, subErr.Attempts)
	assert.Equal(t, "messages", subErr.Collection)
}

func TestSubscription_CloseStopsDeliveryAndReleasesConnection(t *testing.T) {
	b := newFakeBackend(t)
	c := newTestClient(t, b, fastRealtime())
	login(t, c, "ada@example.com", "correct-horse")

	for range 3 {
		sub, err := Subscribe[testMessage](context.Background(), c, "messages", SubscribeOptions{})
		require.NoError(t, err)
		require.Equal(t, 1, b.socketCount())

		require.NoError(t, sub.Close())
		require.NoError(t, sub.Close())

		b.insert("u-bob", "after close")
		_, open := <-sub.Events()
		assert.False(t, open)
		assert.NoError(t, sub.Err())
		require.Eventually(t, func() bool { return b.socketCount() == 0 }, 2*time.Second, 10*time.Millisecond)
	}

	_, _, _, _, unsubscribes := b.stats()
	assert.Equal(t, 3, unsubscribes)
}

func TestSubscription_CancelledContextCloses(t *testing.T) {
	b := newFakeBackend(t)
	c := newTestClient(t, b, fastRealtime())
	login(t, c, "ada@example.com", "correct-horse")

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := Subscribe[testMessage](ctx, c, "messages", SubscribeOptions{})
	require.NoError(t, err)

	cancel()
	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not stop after cancel")
	}
	assert.NoError(t, sub.Err())
	require.Eventually(t, func() bool { return b.socketCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestSubscribe_SeedsFromNewestRecord(t *testing.T) {
	b := newFakeBackend(t)
	for i := 0; i < query.MaxLimit+200; i++ {
		b.insert("u-ada", fmt.Sprintf("history %d", i))
	}
	c := newTestClient(t, b, fastRealtime())
	login(t, c, "bob@example.com", "battery-staple")

	sub := subscribeMessages(t, c, SubscribeOptions{})

	seed := b.lastSubscription()
	assert.Equal(t, []string{"-date_created"}, seed.Sort)
	assert.Equal(t, 1, seed.Limit)

	fresh := b.insert("u-bob", "fresh")
	assert.Equal(t, fresh.ID, nextEvent(t, sub).Key)
	expectNoEvent(t, sub, 100*time.Millisecond)
}

func TestSubscribe_ReconnectAfterLongHistory(t *testing.T) {
	b := newFakeBackend(t)
	for i := 0; i < query.MaxLimit+200; i++ {
		b.insert("u-ada", fmt.Sprintf("history %d", i))
	}
	c := newTestClient(t, b, fastRealtime())
	login(t, c, "bob@example.com", "battery-staple")
	sub := subscribeMessages(t, c, SubscribeOptions{})
	awaitStatus(t, sub, StatusLive)

	b.setRealtimeDown(true)
	b.dropSockets()
	awaitStatus(t, sub, StatusReconnecting)

	during := b.insert("u-ada", "during the drop")
	b.setRealtimeDown(false)
	awaitStatus(t, sub, StatusLive)

	ev := nextEvent(t, sub)
	assert.Equal(t, EventCreated, ev.Type)
	assert.Equal(t, during.ID, ev.Key)
	expectNoEvent(t, sub, 100*time.Millisecond)
}

func TestSubscribe_ReconnectPagesThroughLargeBacklog(t *testing.T) {
	b := newFakeBackend(t)
	b.insert("u-ada", "before the drop")
	c := newTestClient(t, b, fastRealtime())
	login(t, c, "bob@example.com", "battery-staple")
	sub := subscribeMessages(t, c, SubscribeOptions{})
	awaitStatus(t, sub, StatusLive)

	b.setRealtimeDown(true)
	b.dropSockets()
	awaitStatus(t, sub, StatusReconnecting)

	missed := make([]testMessage, 0, query.MaxLimit+100)
	for i := 0; i < query.MaxLimit+100; i++ {
		missed = append(missed, b.insert("u-ada", fmt.Sprintf("missed %d", i)))
	}
	b.setRealtimeDown(false)

	for _, want := range missed {
		ev := nextEvent(t, sub)
		require.Equal(t, EventCreated, ev.Type)
		require.Equal(t, want.ID, ev.Key)
	}
	expectNoEvent(t, sub, 100*time.Millisecond)

	after := b.insert("u-bob", "after the drop")
	assert.Equal(t, after.ID, nextEvent(t, sub).Key)
}

func TestSubscribe_SinceReplaysBeyondOnePage(t *testing.T) {
	b := newFakeBackend(t)
	since := b.clock
	total := query.MaxLimit + 50
	for i := 0; i < total; i++ {
		b.insert("u-ada", fmt.Sprintf("history %d", i))
	}
	c := newTestClient(t, b, fastRealtime())
	login(t, c, "ada@example.com", "correct-horse")

	sub := subscribeMessages(t, c, SubscribeOptions{Since: since})

	stored := b.storedMessages()
	for i := 0; i < total; i++ {
		require.Equal(t, stored[i].ID, nextEvent(t, sub).Key)
	}
	expectNoEvent(t, sub, 100*time.Millisecond)
}
