package hub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/club-chat/chat-service/internal/config"
	"github.com/weiawesome/club-chat/chat-service/internal/domain"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(config.WebSocketConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(cancel)
	return h
}

func testClient(h *Hub, id string) *Client {
	c := newClient(id, h, nil, config.WebSocketConfig{}, 8)
	h.Register(c)
	return c
}

func receive(t *testing.T, c *Client) map[string]string {
	t.Helper()
	select {
	case data := <-c.Send:
		var out map[string]string
		require.NoError(t, json.Unmarshal(data, &out))
		return out
	case <-time.After(time.Second):
		t.Fatalf("client %s received nothing", c.ID)
		return nil
	}
}

func assertNothing(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data := <-c.Send:
		t.Fatalf("client %s got unexpected frame %s", c.ID, data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_BroadcastRespectsSubscriptionsAndFilters(t *testing.T) {
	h := startHub(t)

	thread := testClient(h, "thread")
	badge := testClient(h, "badge")
	other := testClient(h, "other")

	require.NoError(t, h.Subscribe(thread, "c1", ""))
	require.NoError(t, h.Subscribe(badge, "c1", domain.SenderProfessional))
	require.NoError(t, h.Subscribe(other, "c2", ""))
	assert.Equal(t, 2, h.SubscriberCount("c1"))

	require.NoError(t, h.BroadcastToConversation("c1", domain.SenderPlayer, map[string]string{"content": "from player"}))
	assert.Equal(t, "from player", receive(t, thread)["content"])
	assertNothing(t, badge)
	assertNothing(t, other)

	require.NoError(t, h.BroadcastToConversation("c1", domain.SenderProfessional, map[string]string{"content": "from pro"}))
	assert.Equal(t, "from pro", receive(t, thread)["content"])
	assert.Equal(t, "from pro", receive(t, badge)["content"])
	assertNothing(t, other)
}

func TestHub_UnsubscribeAndUnregister(t *testing.T) {
	h := startHub(t)

	a := testClient(h, "a")
	b := testClient(h, "b")
	require.NoError(t, h.Subscribe(a, "c1", ""))
	require.NoError(t, h.Subscribe(b, "c1", ""))

	assert.Equal(t, []string{"c1"}, a.Conversations())
	h.Unsubscribe(a, "c1")
	assert.Empty(t, a.Conversations())
	require.NoError(t, h.BroadcastToConversation("c1", domain.SenderPlayer, map[string]string{"n": "1"}))
	assert.Equal(t, "1", receive(t, b)["n"])
	assertNothing(t, a)

	h.Unregister(b)
	require.Eventually(t, func() bool { return h.SubscriberCount("c1") == 0 }, time.Second, 10*time.Millisecond)

	_, open := <-b.Send
	assert.False(t, open, "unregister closes the send channel")

	// A late frame for an unregistered client must not panic.
	assert.NoError(t, b.SendMessage(map[string]string{"late": "true"}))
}

func TestHub_SlowClientIsDropped(t *testing.T) {
	h := startHub(t)

	slow := newClient("slow", h, nil, config.WebSocketConfig{}, 0)
	h.Register(slow)
	require.NoError(t, h.Subscribe(slow, "c1", ""))

	require.NoError(t, h.BroadcastToConversation("c1", domain.SenderPlayer, map[string]string{}))
	require.Eventually(t, func() bool { return h.ClientCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestHub_SubscribeAfterUnregisterIsRefused(t *testing.T) {
	h := startHub(t)

	gone := testClient(h, "gone")
	h.Unregister(gone)
	require.Eventually(t, func() bool { return h.ClientCount() == 0 }, time.Second, 10*time.Millisecond)

	assert.ErrorIs(t, h.Subscribe(gone, "c1", ""), ErrClientGone)
	assert.Equal(t, 0, h.SubscriberCount("c1"))
	assert.Empty(t, gone.Conversations())

	// A client that never registered is refused as well.
	stranger := newClient("stranger", h, nil, config.WebSocketConfig{}, 8)
	assert.ErrorIs(t, h.Subscribe(stranger, "c1", ""), ErrClientGone)
}

func TestHub_RegisterAfterStopClosesClient(t *testing.T) {
	h := NewHub(config.WebSocketConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	late := testClient(h, "late")
	_, open := <-late.Send
	assert.False(t, open)
	assert.Equal(t, 0, h.ClientCount())
}

func TestHub_RestrictToAssigneeDropsOtherProfessionals(t *testing.T) {
	h := startHub(t)

	player := testClient(h, "player")
	player.Session.Authenticate(domain.Participant{ID: "p1", Class: domain.SenderPlayer})
	winner := testClient(h, "winner")
	winner.Session.Authenticate(domain.Participant{ID: "pro-1", Class: domain.SenderProfessional, Area: "medical"})
	loser := testClient(h, "loser")
	loser.Session.Authenticate(domain.Participant{ID: "pro-2", Class: domain.SenderProfessional, Area: "medical"})

	for _, c := range []*Client{player, winner, loser} {
		require.NoError(t, h.Subscribe(c, "c1", ""))
	}
	require.NoError(t, h.Subscribe(loser, "c2", ""))

	assert.Equal(t, 1, h.RestrictToAssignee("c1", "pro-1"))
	assert.Equal(t, 2, h.SubscriberCount("c1"))
	assert.Equal(t, []string{"c2"}, loser.Conversations())

	revoked := receive(t, loser)
	assert.Equal(t, domain.MsgTypeError, revoked["type"])
	assert.Equal(t, domain.ErrCodeForbidden, revoked["code"])
	assert.Equal(t, "c1", revoked["conversation_id"])

	require.NoError(t, h.BroadcastToConversation("c1", domain.SenderProfessional, map[string]string{"content": "claimed"}))
	assert.Equal(t, "claimed", receive(t, player)["content"])
	assert.Equal(t, "claimed", receive(t, winner)["content"])
	assertNothing(t, loser)
}
