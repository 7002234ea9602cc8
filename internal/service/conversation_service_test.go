package service

import (
	"Parley/internal/api/dto"
	"Parley/internal/model"
	"Parley/internal/pkg/consts"
	"Parley/internal/pkg/retryqueue"
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func directReq(text string, participants ...string) *dto.CreateConversationReq {
	return &dto.CreateConversationReq{Type: "direct", ParticipantIDs: participants, MessageText: text}
}

func TestCreateDirectConversationFirstMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.conv.CreateConversation(ctx, "alice", directReq("hi", "alice", "bob"))
	require.NoError(t, err)
	assert.Equal(t, "alice_bob", resp.ConversationID)
	assert.True(t, resp.Created)
	assert.False(t, resp.Queued)
	assert.Equal(t, string(model.RefConfirmed), resp.Message.State)

	conv := f.store.Conversation("alice_bob")
	require.NotNil(t, conv)
	assert.Equal(t, map[string]int{"alice": 0, "bob": 1}, conv.UnreadCount)
	assert.Equal(t, "hi", conv.LastMessage.Text)
	assert.Equal(t, map[string]bool{"alice": false, "bob": false}, conv.DeletedBy)

	msgs := f.store.Messages("alice_bob")
	require.Len(t, msgs, 1)
	assert.Equal(t, model.StatusSending, msgs[0].Status)
	assert.Equal(t, []string{"alice"}, msgs[0].ReadBy)

	require.NoError(t, f.status.MarkDelivered(ctx, "alice_bob", msgs[0].ID))
	m := f.store.Message("alice_bob", msgs[0].ID)
	assert.Equal(t, model.StatusDelivered, m.Status)
	assert.Equal(t, []string{"alice"}, m.ReadBy)

	assert.Equal(t, []string{consts.EventConversationCreated, consts.EventMessageCreated, consts.EventMessageStatus}, f.notifier.types())
}

func TestCreateJoinsExistingConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.conv.CreateConversation(ctx, "alice", directReq("hi", "alice", "bob"))
	require.NoError(t, err)
	resp, err := f.conv.CreateConversation(ctx, "bob", directReq("hello", "bob", "alice"))
	require.NoError(t, err)
	assert.False(t, resp.Created)
	assert.Equal(t, "alice_bob", resp.ConversationID)

	conv := f.store.Conversation("alice_bob")
	assert.Equal(t, map[string]int{"alice": 1, "bob": 1}, conv.UnreadCount)
	assert.Equal(t, "hello", conv.LastMessage.Text)
	assert.Len(t, f.store.Messages("alice_bob"), 2)
}

func TestConcurrentDirectCreatesYieldOneConversation(t *testing.T) {
	f := newFixture(t)
	const n = 25

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.conv.CreateConversation(context.Background(), "alice", directReq("hi", "alice", "bob"))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, 1, f.store.ConversationCount())
	assert.Len(t, f.store.Messages("alice_bob"), n)
	conv := f.store.Conversation("alice_bob")
	assert.Equal(t, n, conv.UnreadCount["bob"])
	assert.Equal(t, 0, conv.UnreadCount["alice"])
	assert.Empty(t, f.items(t))
}

func TestSimultaneousCreatesFromBothSides(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	for _, c := range []struct{ sender, text string }{{"alice", "hi"}, {"bob", "hello"}} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.conv.CreateConversation(context.Background(), c.sender, directReq(c.text, "alice", "bob"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.store.ConversationCount())
	texts := map[string]bool{}
	for _, m := range f.store.Messages("alice_bob") {
		texts[m.Text] = true
	}
	assert.Equal(t, map[string]bool{"hi": true, "hello": true}, texts)
	assert.Equal(t, map[string]int{"alice": 1, "bob": 1}, f.store.Conversation("alice_bob").UnreadCount)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		sender string
		req    *dto.CreateConversationReq
		want   error
	}{
		{"one participant", "a", directReq("hi", "a"), ErrTooFewParticipants},
		{"direct with three", "a", directReq("hi", "a", "b", "c"), ErrDirectArity},
		{"duplicate", "a", directReq("hi", "a", "a"), ErrDuplicateParticipant},
		{"empty text", "a", directReq("   ", "a", "b"), ErrMessageEmpty},
		{"too long", "a", directReq(strings.Repeat("x", 1001), "a", "b"), ErrMessageTooLong},
		{"sender outside", "c", directReq("hi", "a", "b"), ErrSenderNotMember},
		{"dotted id", "a", directReq("hi", "a", "b.c"), ErrInvalidUserID},
		{"bad type", "a", &dto.CreateConversationReq{Type: "channel", ParticipantIDs: []string{"a", "b"}, MessageText: "hi"}, ErrInvalidConvType},
		{"group without name", "a", &dto.CreateConversationReq{Type: "group", ParticipantIDs: []string{"a", "b", "c"}, MessageText: "hi", GroupName: " "}, ErrGroupNameRequired},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := f.conv.CreateConversation(ctx, c.sender, c.req)
			assert.ErrorIs(t, err, c.want)
			assert.ErrorIs(t, err, ErrParamInvalid)
		})
	}
	assert.Equal(t, 0, f.store.ConversationCount())
	assert.Empty(t, f.items(t))
}

func TestCreateRejectsOversizedGroup(t *testing.T) {
	f := newFixture(t)
	f.conv.limits.MaxGroupSize = 3

	_, err := f.conv.CreateConversation(context.Background(), "a", &dto.CreateConversationReq{
		Type: "group", ParticipantIDs: []string{"a", "b", "c", "d"}, MessageText: "hi", GroupName: "g",
	})
	assert.ErrorIs(t, err, ErrGroupTooLarge)
}

func TestCreateGroupConversation(t *testing.T) {
	f := newFixture(t)

	resp, err := f.conv.CreateConversation(context.Background(), "a", &dto.CreateConversationReq{
		Type: "group", ParticipantIDs: []string{"a", "b", "c"}, MessageText: "welcome", GroupName: " team ",
	})
	require.NoError(t, err)

	conv := f.store.Conversation(resp.ConversationID)
	require.NotNil(t, conv)
	assert.Equal(t, model.ConversationGroup, conv.Type)
	assert.Equal(t, "team", conv.GroupName)
	assert.Equal(t, "a", conv.CreatorID)
	assert.Equal(t, []string{"a"}, conv.AdminIDs)
	assert.Equal(t, map[string]int{"a": 0, "b": 1, "c": 1}, conv.UnreadCount)
}

func TestCreateOfflineQueuesAndReplays(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	restore := f.offline()

	resp, err := f.conv.CreateConversation(ctx, "alice", directReq("hi", "alice", "bob"))
	require.NoError(t, err)
	assert.True(t, resp.Queued)
	assert.Equal(t, string(model.RefPending), resp.Message.State)
	assert.NotEmpty(t, resp.Message.LocalID)
	assert.Equal(t, string(model.StatusSending), resp.Message.Message.Status)

	items := f.items(t)
	require.Len(t, items, 1)
	assert.Equal(t, retryqueue.OpConversationCreate, items[0].OperationType)

	// still offline: item stays with a bumped retry count
	stats, err := f.queue.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Retried)

	restore()
	stats, err = f.queue.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Succeeded)
	assert.Empty(t, f.items(t))

	msgs := f.store.Messages("alice_bob")
	require.Len(t, msgs, 1)
	assert.Equal(t, resp.Message.LocalID, msgs[0].ID)
	assert.Equal(t, 1, f.store.Conversation("alice_bob").UnreadCount["bob"])

	evt, ok := f.notifier.last(consts.EventMessageCreated)
	require.True(t, ok)
	require.NotNil(t, evt.Ref)
	assert.Equal(t, model.RefConfirmed, evt.Ref.State)
	assert.Equal(t, resp.Message.LocalID, evt.Ref.LocalID)
	assert.Equal(t, msgs[0].ID, evt.Ref.ID())
}

func TestCreateReplayIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	restore := f.offline()
	_, err := f.conv.CreateConversation(ctx, "alice", directReq("hi", "alice", "bob"))
	require.NoError(t, err)
	restore()

	item := f.items(t)[0]
	assert.Equal(t, retryqueue.Success, f.conv.processCreate(ctx, item))
	assert.Equal(t, retryqueue.Success, f.conv.processCreate(ctx, item))

	assert.Len(t, f.store.Messages("alice_bob"), 1)
	assert.Equal(t, 1, f.store.Conversation("alice_bob").UnreadCount["bob"])
}

func TestCreatePermissionDeniedIsSynchronous(t *testing.T) {
	f := newFixture(t)
	f.store.SetFault(func(op, key string) error { return errDenied })

	_, err := f.conv.CreateConversation(context.Background(), "alice", directReq("hi", "alice", "bob"))
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Empty(t, f.items(t))
}

func TestSendMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedGroup("a", "b", "c")

	resp, err := f.conv.SendMessage(ctx, "g1", "b", &dto.SendMessageReq{Text: " yo "})
	require.NoError(t, err)
	assert.Equal(t, string(model.RefConfirmed), resp.Message.State)
	assert.Equal(t, "yo", resp.Message.Message.Text)

	conv := f.store.Conversation("g1")
	assert.Equal(t, map[string]int{"a": 1, "b": 0, "c": 1}, conv.UnreadCount)

	_, err = f.conv.SendMessage(ctx, "g1", "z", &dto.SendMessageReq{Text: "hi"})
	assert.ErrorIs(t, err, ErrSenderNotMember)
	_, err = f.conv.SendMessage(ctx, "nope", "a", &dto.SendMessageReq{Text: "hi"})
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestSendMessageClearsDeletedFlag(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedDirect()
	require.NoError(t, f.conv.SetUserFlag(ctx, "a_b", "b", "deleted", true))
	assert.True(t, f.store.Conversation("a_b").DeletedBy["b"])

	_, err := f.conv.SendMessage(ctx, "a_b", "a", &dto.SendMessageReq{Text: "back?"})
	require.NoError(t, err)
	assert.False(t, f.store.Conversation("a_b").DeletedBy["b"])
}

func TestSendMessageOfflineQueuesAndReplays(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedDirect()
	restore := f.offline()

	resp, err := f.conv.SendMessage(ctx, "a_b", "a", &dto.SendMessageReq{Text: "later"})
	require.NoError(t, err)
	assert.True(t, resp.Queued)
	require.Len(t, f.items(t), 1)
	assert.Equal(t, retryqueue.OpMessageSend, f.items(t)[0].OperationType)

	_, queued := f.notifier.last(consts.EventMessageCreated)
	assert.False(t, queued, "nothing is announced before the store accepts the message")

	restore()
	_, err = f.queue.Drain(ctx)
	require.NoError(t, err)
	require.NotNil(t, f.store.Message("a_b", resp.Message.LocalID))
	assert.Equal(t, 1, f.store.Conversation("a_b").UnreadCount["b"])

	evt, ok := f.notifier.last(consts.EventMessageCreated)
	require.True(t, ok)
	require.NotNil(t, evt.Ref)
	assert.Equal(t, model.RefConfirmed, evt.Ref.State)
	assert.Equal(t, resp.Message.LocalID, evt.Ref.LocalID)
	assert.Equal(t, resp.Message.LocalID, evt.Ref.StoreID)
	assert.Equal(t, []string{resp.Message.LocalID}, evt.MessageIDs)
}

func TestLeaveConversationPromotesAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedGroup("a", "b", "c")

	require.NoError(t, f.conv.LeaveConversation(ctx, "g1", "a"))
	conv := f.store.Conversation("g1")
	assert.Equal(t, []string{"b", "c"}, conv.ParticipantIDs)
	assert.Equal(t, []string{"b"}, conv.AdminIDs)
	assert.NotContains(t, conv.UnreadCount, "a")
	assert.NotContains(t, conv.MutedBy, "a")

	assert.ErrorIs(t, f.conv.LeaveConversation(ctx, "g1", "a"), ErrNotMember)
}

func TestLeaveDirectConversationRejected(t *testing.T) {
	f := newFixture(t)
	f.seedDirect()
	assert.ErrorIs(t, f.conv.LeaveConversation(context.Background(), "a_b", "a"), ErrNotGroup)
}

func TestRemoveParticipantRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedGroup("a", "b", "c")

	assert.ErrorIs(t, f.conv.RemoveParticipant(ctx, "g1", "b", "c"), ErrNotAdmin)
	assert.ErrorIs(t, f.conv.RemoveParticipant(ctx, "g1", "a", "a"), ErrCannotRemoveSelf)
	require.NoError(t, f.conv.RemoveParticipant(ctx, "g1", "a", "c"))
	assert.Equal(t, []string{"a", "b"}, f.store.Conversation("g1").ParticipantIDs)
}

func TestUpdateGroupInfo(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedGroup("a", "b", "c")

	name := "renamed"
	require.NoError(t, f.conv.UpdateGroupInfo(ctx, "g1", "a", &dto.UpdateGroupReq{GroupName: &name}))
	assert.Equal(t, "renamed", f.store.Conversation("g1").GroupName)

	assert.ErrorIs(t, f.conv.UpdateGroupInfo(ctx, "g1", "b", &dto.UpdateGroupReq{GroupName: &name}), ErrNotAdmin)
	blank := "  "
	assert.ErrorIs(t, f.conv.UpdateGroupInfo(ctx, "g1", "a", &dto.UpdateGroupReq{GroupName: &blank}), ErrGroupNameRequired)
}

func TestSetUserFlag(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedDirect()

	require.NoError(t, f.conv.SetUserFlag(ctx, "a_b", "a", "muted", true))
	conv := f.store.Conversation("a_b")
	assert.True(t, conv.MutedBy["a"])
	assert.False(t, conv.MutedBy["b"])

	assert.ErrorIs(t, f.conv.SetUserFlag(ctx, "a_b", "a", "pinned", true), ErrInvalidFlag)
	assert.ErrorIs(t, f.conv.SetUserFlag(ctx, "a_b", "z", "muted", true), ErrNotMember)
}

func TestMembershipOpsOfflineAreNotQueued(t *testing.T) {
	f := newFixture(t)
	f.seedGroup("a", "b", "c")
	f.offline()

	err := f.conv.LeaveConversation(context.Background(), "g1", "b")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Empty(t, f.items(t))
}
