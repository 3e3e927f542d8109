package hub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/devaloi/giftline/internal/domain"
	"github.com/devaloi/giftline/internal/testutil"
)

type allowList map[string]bool

func (a allowList) CanJoin(_ context.Context, userID, conversationID string) error {
	if a[userID+"/"+conversationID] {
		return nil
	}
	return domain.Forbidden("not a participant")
}

func newTestHub(t *testing.T, authz JoinAuthorizer) *Hub {
	t.Helper()
	h := New(zerolog.Nop(), authz, 16)
	go h.Run()
	t.Cleanup(h.Stop)
	return h
}

func TestHubConnectSendsConfirmation(t *testing.T) {
	t.Parallel()
	h := newTestHub(t, nil)

	c := testutil.NewMockClient("c1", "alice")
	h.Connect(c)

	events := c.EventsOfType(domain.EventConfirmation)
	require.Len(t, events, 1)
	var confirm domain.ConfirmationEvent
	require.NoError(t, json.Unmarshal(events[0], &confirm))
	require.Equal(t, "c1", confirm.ConnectionID)
	require.Equal(t, "alice", confirm.UserID)

	user, ok := h.Registry().UserOf("c1")
	require.True(t, ok)
	require.Equal(t, "alice", user)
}

func TestHubJoinChecksAuthorization(t *testing.T) {
	t.Parallel()
	h := newTestHub(t, allowList{"alice/conv": true})

	alice := testutil.NewMockClient("c1", "alice")
	mallory := testutil.NewMockClient("c2", "mallory")
	h.Connect(alice)
	h.Connect(mallory)

	require.NoError(t, h.Join(context.Background(), alice, "conv"))
	require.ErrorIs(t, h.Join(context.Background(), mallory, "conv"), domain.ErrForbidden)
	require.ErrorIs(t, h.Join(context.Background(), alice, ""), domain.ErrInvalidArgument)

	require.Equal(t, []string{"c1"}, h.Registry().MembersOf("conv"))
}

func TestHubJoinWithoutConnect(t *testing.T) {
	t.Parallel()
	h := newTestHub(t, nil)

	c := testutil.NewMockClient("c1", "alice")
	require.ErrorIs(t, h.Join(context.Background(), c, "conv"), domain.ErrUnauthenticated)
	require.Empty(t, h.Registry().MembersOf("conv"))
}

func TestHubJoinUnregisteredSkipsAuthorization(t *testing.T) {
	t.Parallel()
	calls := 0
	h := newTestHub(t, AuthorizerFunc(func(context.Context, string, string) error {
		calls++
		return nil
	}))

	c := testutil.NewMockClient("c1", "alice")
	require.ErrorIs(t, h.Join(context.Background(), c, "conv"), domain.ErrUnauthenticated)
	require.Zero(t, calls)
}

func TestHubLeave(t *testing.T) {
	t.Parallel()
	h := newTestHub(t, nil)
	ctx := context.Background()

	c := testutil.NewMockClient("c1", "alice")
	h.Connect(c)
	require.NoError(t, h.Join(ctx, c, "a"))
	require.NoError(t, h.Join(ctx, c, "b"))

	require.NoError(t, h.Leave(c, "a"))
	require.Equal(t, []string{"b"}, h.Registry().RoomsOf("c1"))
	require.Empty(t, h.Registry().MembersOf("a"))
	require.Zero(t, h.Broadcast("a", []byte(`{}`)))

	require.ErrorIs(t, h.Leave(c, "a"), domain.ErrNotFound)
	require.ErrorIs(t, h.Leave(c, ""), domain.ErrInvalidArgument)
	require.Equal(t, 1, h.Broadcast("b", []byte(`{}`)))
}

func TestHubBroadcastOnlyToRoom(t *testing.T) {
	t.Parallel()
	h := newTestHub(t, nil)
	ctx := context.Background()

	c1 := testutil.NewMockClient("c1", "alice")
	c2 := testutil.NewMockClient("c2", "bob")
	c3 := testutil.NewMockClient("c3", "carol")
	for _, c := range []*testutil.MockClient{c1, c2, c3} {
		h.Connect(c)
	}
	require.NoError(t, h.Join(ctx, c1, "room1"))
	require.NoError(t, h.Join(ctx, c2, "room1"))
	require.NoError(t, h.Join(ctx, c3, "room2"))

	n := h.Broadcast("room1", []byte(`{"type":"send-chat-update"}`))
	require.Equal(t, 2, n)

	require.Len(t, c1.EventsOfType(domain.EventChatUpdate), 1)
	require.Len(t, c2.EventsOfType(domain.EventChatUpdate), 1)
	require.Empty(t, c3.EventsOfType(domain.EventChatUpdate))
}

func TestHubBroadcastEmptyRoom(t *testing.T) {
	t.Parallel()
	h := newTestHub(t, nil)

	require.Zero(t, h.Broadcast("nobody-here", []byte(`{}`)))
}

func TestHubBroadcastSkipsClosedConnection(t *testing.T) {
	t.Parallel()
	h := newTestHub(t, nil)
	ctx := context.Background()

	live := testutil.NewMockClient("c1", "alice")
	dead := testutil.NewMockClient("c2", "bob")
	h.Connect(live)
	h.Connect(dead)
	require.NoError(t, h.Join(ctx, live, "room"))
	require.NoError(t, h.Join(ctx, dead, "room"))

	// The connection died but its disconnect has not been processed yet.
	dead.Close()

	require.Equal(t, 1, h.Broadcast("room", []byte(`{"type":"send-chat-update"}`)))
}

func TestHubDisconnectRemovesMemberships(t *testing.T) {
	t.Parallel()
	h := newTestHub(t, nil)
	ctx := context.Background()

	c := testutil.NewMockClient("c1", "alice")
	h.Connect(c)
	require.NoError(t, h.Join(ctx, c, "room"))

	h.Disconnect(c)
	h.Disconnect(c)

	require.Empty(t, h.Registry().MembersOf("room"))
	require.Zero(t, h.Broadcast("room", []byte(`{}`)))
}

func TestHubPublishDeliversInOrder(t *testing.T) {
	t.Parallel()
	h := newTestHub(t, nil)
	ctx := context.Background()

	c := testutil.NewMockClient("c1", "alice")
	h.Connect(c)
	require.NoError(t, h.Join(ctx, c, "room"))

	for i := 0; i < 10; i++ {
		payload, err := domain.Encode(domain.JoinedEvent{Type: "seq", ConversationID: string(rune('a' + i))})
		require.NoError(t, err)
		require.NoError(t, h.Publish(ctx, "room", payload))
	}

	require.Eventually(t, func() bool {
		return len(c.EventsOfType("seq")) == 10
	}, time.Second, 10*time.Millisecond)

	for i, raw := range c.EventsOfType("seq") {
		var e domain.JoinedEvent
		require.NoError(t, json.Unmarshal(raw, &e))
		require.Equal(t, string(rune('a'+i)), e.ConversationID)
	}
}

func TestHubPublishAfterStop(t *testing.T) {
	t.Parallel()
	h := New(zerolog.Nop(), nil, 1)
	h.Stop()
	h.Stop()

	require.ErrorIs(t, h.Publish(context.Background(), "room", []byte(`{}`)), ErrStopped)
}

func TestEnvelopeRoundTrip(t *testing.T) {
	t.Parallel()
	data, err := encodeEnvelope("room", []byte(`{"type":"send-chat-update"}`))
	require.NoError(t, err)

	room, payload, err := decodeEnvelope(data)
	require.NoError(t, err)
	require.Equal(t, "room", room)
	require.JSONEq(t, `{"type":"send-chat-update"}`, string(payload))

	_, _, err = decodeEnvelope([]byte(`{"payload":{}}`))
	require.Error(t, err)
}
