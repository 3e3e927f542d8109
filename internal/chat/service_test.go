package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/devaloi/giftline/internal/domain"
	"github.com/devaloi/giftline/internal/hub"
	"github.com/devaloi/giftline/internal/store"
	"github.com/devaloi/giftline/internal/testutil"
)

type fixture struct {
	store *store.SQLiteStore
	pub   *testutil.FakePublisher
	files *testutil.FakeFiles
	svc   *Service
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	s, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	for _, u := range []domain.User{
		{ID: "alice", FirstName: "Alice", AvatarFileKey: "alice.png"},
		{ID: "bob", FirstName: "Bob"},
		{ID: "carol", FirstName: "Carol", AvatarFileKey: "broken.png"},
	} {
		_, err := s.CreateUser(ctx, u)
		require.NoError(t, err)
	}

	f := &fixture{store: s, pub: &testutil.FakePublisher{}, files: testutil.NewFakeFiles()}
	f.files.Put("alice.png", []byte("png"))
	f.files.Put("broken.png", []byte("png"))
	f.files.FailURL["broken.png"] = true
	f.svc = NewService(s, f.pub, f.files, opts, zerolog.Nop())
	return f
}

func (f *fixture) conversation(t *testing.T, a, b string) string {
	t.Helper()
	res, err := f.svc.CreateConversation(context.Background(), a, b)
	require.NoError(t, err)
	require.False(t, res.Error, res.Message)
	return res.ConversationID
}

func decodeUpdate(t *testing.T, payload []byte) domain.ChatUpdateEvent {
	t.Helper()
	var ev domain.ChatUpdateEvent
	require.NoError(t, json.Unmarshal(payload, &ev))
	require.Equal(t, domain.EventChatUpdate, ev.Type)
	return ev
}

func TestCreateConversation(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{EnforceMembership: true})
	ctx := context.Background()

	res, err := f.svc.CreateConversation(ctx, "alice", "bob")
	require.NoError(t, err)
	require.False(t, res.Error)
	require.NotEmpty(t, res.ConversationID)
	require.NotEmpty(t, res.Message)

	// A second request for the same pair returns the same conversation.
	again, err := f.svc.CreateConversation(ctx, "bob", "alice")
	require.NoError(t, err)
	require.False(t, again.Error)
	require.Equal(t, res.ConversationID, again.ConversationID)
}

func TestCreateConversationRejections(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{EnforceMembership: true})
	ctx := context.Background()

	cases := []struct {
		name      string
		caller    string
		recipient string
	}{
		{"self", "alice", "alice"},
		{"missing recipient id", "alice", ""},
		{"unknown recipient", "alice", "ghost"},
		{"unknown caller", "ghost", "alice"},
	}
	for _, tc := range cases {
		res, err := f.svc.CreateConversation(ctx, tc.caller, tc.recipient)
		require.NoError(t, err, tc.name)
		require.True(t, res.Error, tc.name)
		require.NotEmpty(t, res.Message, tc.name)
		require.Empty(t, res.ConversationID, tc.name)
	}

	list, err := f.store.ListConversationsForUser(ctx, "alice")
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestSendMessagePersistsThenPublishes(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{EnforceMembership: true})
	ctx := context.Background()
	id := f.conversation(t, "alice", "bob")

	res, err := f.svc.SendMessage(ctx, "alice", id, "hello")
	require.NoError(t, err)
	require.False(t, res.Error, res.Message)

	pubs := f.pub.Publications()
	require.Len(t, pubs, 1)
	require.Equal(t, id, pubs[0].Room)
	ev := decodeUpdate(t, pubs[0].Payload)
	require.Equal(t, id, ev.ConversationID)
	require.Len(t, ev.Messages, 1)
	require.Equal(t, "hello", ev.Messages[0].Content)
	require.Equal(t, "Alice", ev.Messages[0].Sender.FirstName)

	res, err = f.svc.SendMessage(ctx, "bob", id, "hi back")
	require.NoError(t, err)
	require.False(t, res.Error)
	ev = decodeUpdate(t, f.pub.Publications()[1].Payload)
	require.Equal(t, []string{"hello", "hi back"}, contents(ev.Messages))
}

func TestSendMessageRejectionsDoNotMutate(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{EnforceMembership: true})
	ctx := context.Background()
	id := f.conversation(t, "alice", "bob")

	cases := []struct {
		name, caller, conv, content string
	}{
		{"unknown conversation", "alice", "does-not-exist", "hi"},
		{"empty content", "alice", id, ""},
		{"unknown caller", "ghost", id, "hi"},
		{"outsider", "carol", id, "hi"},
		{"missing conversation id", "alice", "", "hi"},
	}
	for _, tc := range cases {
		res, err := f.svc.SendMessage(ctx, tc.caller, tc.conv, tc.content)
		require.NoError(t, err, tc.name)
		require.True(t, res.Error, tc.name)
		require.NotEmpty(t, res.Message, tc.name)
	}

	conv, err := f.store.GetConversation(ctx, id)
	require.NoError(t, err)
	require.Empty(t, conv.Messages)
	require.Empty(t, f.pub.Publications())
}

func TestSendMessagePublishFailureIsNotSurfaced(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{EnforceMembership: true})
	ctx := context.Background()
	id := f.conversation(t, "alice", "bob")
	f.pub.Err = errors.New("no listeners")

	res, err := f.svc.SendMessage(ctx, "alice", id, "still stored")
	require.NoError(t, err)
	require.False(t, res.Error)

	conv, err := f.store.GetConversation(ctx, id)
	require.NoError(t, err)
	require.Equal(t, []string{"still stored"}, contents(conv.Messages))
}

func TestSendMessageWithStoppedHub(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{EnforceMembership: true})
	id := f.conversation(t, "alice", "bob")

	h := hub.New(zerolog.Nop(), nil, 8)
	h.Stop()
	svc := NewService(f.store, h, nil, Options{}, zerolog.Nop())

	res, err := svc.SendMessage(context.Background(), "alice", id, "to nobody")
	require.NoError(t, err)
	require.False(t, res.Error)

	conv, err := f.store.GetConversation(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, conv.Messages, 1)
}

func TestConcurrentSendsSameConversation(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{EnforceMembership: true})
	ctx := context.Background()
	id := f.conversation(t, "alice", "bob")

	const perSender = 20
	var wg sync.WaitGroup
	for _, sender := range []string{"alice", "bob"} {
		wg.Add(1)
		go func(sender string) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				res, err := f.svc.SendMessage(ctx, sender, id, fmt.Sprintf("%s-%d", sender, i))
				if err != nil || res.Error {
					t.Errorf("send: %v %+v", err, res)
				}
			}
		}(sender)
	}
	wg.Wait()

	conv, err := f.store.GetConversation(ctx, id)
	require.NoError(t, err)
	require.Len(t, conv.Messages, 2*perSender)

	// Every publication is a prefix of the final ledger, growing by one.
	pubs := f.pub.Publications()
	require.Len(t, pubs, 2*perSender)
	final := contents(conv.Messages)
	for i, p := range pubs {
		ev := decodeUpdate(t, p.Payload)
		require.Equal(t, final[:i+1], contents(ev.Messages))
	}
	require.Zero(t, f.svc.convLocks.size())
}

func TestConcurrentSendsDifferentConversationsDoNotShareLocks(t *testing.T) {
	t.Parallel()
	k := newKeyedMutex()

	unlockA := k.Lock("a")
	done := make(chan struct{})
	go func() {
		unlockB := k.Lock("b")
		unlockB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind lock on a")
	}
	unlockA()
	require.Zero(t, k.size())
}

func TestListConversations(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{EnforceMembership: true})
	ctx := context.Background()

	res, err := f.svc.ListConversations(ctx, "bob")
	require.NoError(t, err)
	require.False(t, res.Error)
	require.NotNil(t, res.Conversations)
	require.Empty(t, res.Conversations)
	data, err := domain.Encode(res)
	require.NoError(t, err)
	require.Contains(t, string(data), `"conversations":[]`)

	ab := f.conversation(t, "alice", "bob")
	ac := f.conversation(t, "alice", "carol")

	_, err = f.svc.SendMessage(ctx, "bob", ab, "older")
	require.NoError(t, err)
	_, err = f.svc.SendMessage(ctx, "carol", ac, "newer")
	require.NoError(t, err)

	res, err = f.svc.ListConversations(ctx, "alice")
	require.NoError(t, err)
	require.False(t, res.Error)
	require.Len(t, res.Conversations, 2)
	require.Equal(t, ac, res.Conversations[0].ID)
	require.Equal(t, "newer", res.Conversations[0].LastMessage.Content)
	require.Equal(t, ab, res.Conversations[1].ID)

	avatars := map[string]string{}
	for _, p := range res.Conversations[0].Participants {
		avatars[p.ID] = p.AvatarURL
	}
	require.Equal(t, "https://files.test/alice.png", avatars["alice"])
	// Resolution failures degrade to an empty URL.
	require.Equal(t, "", avatars["carol"])

	res, err = f.svc.ListConversations(ctx, "ghost")
	require.NoError(t, err)
	require.True(t, res.Error)
}

func TestGetConversation(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{EnforceMembership: true})
	ctx := context.Background()
	id := f.conversation(t, "alice", "bob")
	_, err := f.svc.SendMessage(ctx, "alice", id, "hello")
	require.NoError(t, err)

	res, err := f.svc.GetConversation(ctx, "bob", id)
	require.NoError(t, err)
	require.False(t, res.Error)
	require.Equal(t, []string{"hello"}, contents(res.Conversation.Messages))

	res, err = f.svc.GetConversation(ctx, "bob", "missing")
	require.NoError(t, err)
	require.True(t, res.Error)

	res, err = f.svc.GetConversation(ctx, "carol", id)
	require.NoError(t, err)
	require.True(t, res.Error)
	require.Nil(t, res.Conversation)
}

func TestGetConversationWithoutMembershipEnforcement(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})
	ctx := context.Background()
	id := f.conversation(t, "alice", "bob")

	res, err := f.svc.GetConversation(ctx, "carol", id)
	require.NoError(t, err)
	require.False(t, res.Error)
	require.NoError(t, f.svc.CanJoin(ctx, "carol", id))
}

func TestCanJoin(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{EnforceMembership: true})
	ctx := context.Background()
	id := f.conversation(t, "alice", "bob")

	require.NoError(t, f.svc.CanJoin(ctx, "bob", id))
	require.ErrorIs(t, f.svc.CanJoin(ctx, "carol", id), domain.ErrForbidden)
	require.ErrorIs(t, f.svc.CanJoin(ctx, "bob", "missing"), domain.ErrNotFound)
}

func TestCanJoinWithoutMembershipEnforcement(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{EnforceMembership: false})
	ctx := context.Background()
	id := f.conversation(t, "alice", "bob")

	require.NoError(t, f.svc.CanJoin(ctx, "carol", id))
	require.ErrorIs(t, f.svc.CanJoin(ctx, "carol", "missing"), domain.ErrNotFound)
}

func TestInfrastructureFailureIsReturned(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{EnforceMembership: true})
	id := f.conversation(t, "alice", "bob")
	require.NoError(t, f.store.Close())

	_, err := f.svc.SendMessage(context.Background(), "alice", id, "hi")
	require.Error(t, err)
	require.False(t, domain.IsBusiness(err))
}

// Scenario: A creates a conversation with B, a live connection in the room
// sees the update, B reads the history later, and a send to an unknown
// conversation changes nothing.
func TestConversationScenario(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{EnforceMembership: true})
	ctx := context.Background()

	h := hub.New(zerolog.Nop(), nil, 16)
	go h.Run()
	defer h.Stop()
	svc := NewService(f.store, h, f.files, Options{EnforceMembership: true}, zerolog.Nop())

	created, err := svc.CreateConversation(ctx, "alice", "bob")
	require.NoError(t, err)
	require.False(t, created.Error)
	x := created.ConversationID

	watcher := testutil.NewMockClient("conn-a", "alice")
	h.Connect(watcher)
	require.NoError(t, h.Join(ctx, watcher, x))

	sent, err := svc.SendMessage(ctx, "alice", x, "hello")
	require.NoError(t, err)
	require.False(t, sent.Error)

	require.Eventually(t, func() bool {
		return len(watcher.EventsOfType(domain.EventChatUpdate)) == 1
	}, time.Second, 10*time.Millisecond)
	ev := decodeUpdate(t, watcher.EventsOfType(domain.EventChatUpdate)[0])
	require.Equal(t, []string{"hello"}, contents(ev.Messages))

	got, err := svc.GetConversation(ctx, "bob", x)
	require.NoError(t, err)
	require.Equal(t, []string{"hello"}, contents(got.Conversation.Messages))

	bad, err := svc.SendMessage(ctx, "alice", "no-such-conversation", "hi")
	require.NoError(t, err)
	require.True(t, bad.Error)
	require.NotEmpty(t, bad.Message)

	got, err = svc.GetConversation(ctx, "bob", x)
	require.NoError(t, err)
	require.Len(t, got.Conversation.Messages, 1)
}

func contents(msgs []domain.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}
