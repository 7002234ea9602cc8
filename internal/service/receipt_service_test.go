package service

import (
	"Parley/internal/api/dto"
	"Parley/internal/model"
	"Parley/internal/pkg/retryqueue"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedUnread stores a_b with three delivered messages from a and b's unread at 3.
func seedUnread(f *fixture) []string {
	msgs := f.seedDirect(model.StatusDelivered, model.StatusDelivered, model.StatusDelivered)
	conv := f.store.Conversation("a_b")
	conv.UnreadCount["b"] = 3
	f.store.PutConversation(conv)

	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	return ids
}

// failMessage makes every transactional write to msgID fail with err.
func failMessage(f *fixture, msgID string, err error) {
	f.store.SetFault(func(op, key string) error {
		if op == "tx.UpdateMessage" && key == msgID {
			return err
		}
		return nil
	})
}

func TestMarkConversationRead(t *testing.T) {
	f := newFixture(t)
	ids := seedUnread(f)

	resp, err := f.receipt.MarkConversationRead(context.Background(), "a_b", "b", &dto.MarkConversationReadReq{
		MessageIDs: append(ids, "ghost", ids[0]),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Updated)
	assert.Equal(t, 1, resp.Skipped)
	assert.False(t, resp.Queued)

	for _, id := range ids {
		m := f.store.Message("a_b", id)
		assert.Equal(t, model.StatusRead, m.Status)
		assert.Equal(t, []string{"a", "b"}, m.ReadBy)
	}
	assert.Equal(t, 0, f.store.Conversation("a_b").UnreadCount["b"])
}

func TestMarkConversationReadIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	ids := seedUnread(f)
	failMessage(f, ids[1], errOffline)

	resp, err := f.receipt.MarkConversationRead(context.Background(), "a_b", "b", &dto.MarkConversationReadReq{MessageIDs: ids})
	require.NoError(t, err)
	assert.True(t, resp.Queued)

	for _, id := range ids {
		assert.Equal(t, model.StatusDelivered, f.store.Message("a_b", id).Status)
	}
	assert.Equal(t, 3, f.store.Conversation("a_b").UnreadCount["b"])

	items := f.items(t)
	require.Len(t, items, 1)
	assert.Equal(t, retryqueue.OpReadReceiptBatch, items[0].OperationType)
}

func TestMarkConversationReadOptOutStillResetsUnread(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ids := seedUnread(f)
	require.NoError(t, f.settings.SetReadReceipts(ctx, "b", false))

	resp, err := f.receipt.MarkConversationRead(ctx, "a_b", "b", &dto.MarkConversationReadReq{MessageIDs: ids})
	require.NoError(t, err)
	assert.Equal(t, 0, resp.Updated)
	assert.Equal(t, 3, resp.Skipped)
	assert.Equal(t, model.StatusDelivered, f.store.Message("a_b", ids[0]).Status)
	assert.Equal(t, 0, f.store.Conversation("a_b").UnreadCount["b"])
}

func TestMarkConversationReadRequiresMembership(t *testing.T) {
	f := newFixture(t)
	ids := seedUnread(f)

	_, err := f.receipt.MarkConversationRead(context.Background(), "a_b", "z", &dto.MarkConversationReadReq{MessageIDs: ids})
	assert.ErrorIs(t, err, ErrNotMember)
	assert.NotContains(t, f.store.Conversation("a_b").UnreadCount, "z")
}

func TestMarkConversationReadPermissionDenied(t *testing.T) {
	f := newFixture(t)
	ids := seedUnread(f)
	failMessage(f, ids[0], errDenied)

	_, err := f.receipt.MarkConversationRead(context.Background(), "a_b", "b", &dto.MarkConversationReadReq{MessageIDs: ids})
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Empty(t, f.items(t))
}

func TestBatchReplayUsesTransactionBeforeFallback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ids := seedUnread(f)
	failMessage(f, ids[1], errOffline)

	_, err := f.receipt.MarkConversationRead(ctx, "a_b", "b", &dto.MarkConversationReadReq{MessageIDs: ids})
	require.NoError(t, err)

	for i := 0; i < DefaultBatchFallbackAfter; i++ {
		stats, err := f.queue.Drain(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Retried)
		assert.Equal(t, model.StatusDelivered, f.store.Message("a_b", ids[0]).Status, "batch must not partially apply")
	}
	items := f.items(t)
	require.Len(t, items, 1)
	assert.Equal(t, DefaultBatchFallbackAfter, items[0].RetryCount)

	// retry count reached the threshold: per-message updates
	stats, err := f.queue.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Retried, "one message still fails with a retryable error")

	for _, id := range []string{ids[0], ids[2]} {
		m := f.store.Message("a_b", id)
		assert.Equal(t, model.StatusRead, m.Status)
		assert.Equal(t, []string{"a", "b"}, m.ReadBy)
	}
	assert.Equal(t, model.StatusDelivered, f.store.Message("a_b", ids[1]).Status)
	assert.Equal(t, 0, f.store.Conversation("a_b").UnreadCount["b"])

	f.store.SetFault(nil)
	stats, err = f.queue.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Succeeded)
	assert.Equal(t, model.StatusRead, f.store.Message("a_b", ids[1]).Status)
	assert.Empty(t, f.items(t))
}

func TestBatchReplayKeepsItemOnUnclassifiedError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ids := seedUnread(f)
	failMessage(f, ids[0], errors.New("transaction aborted: write skew"))

	_, err := f.queue.Enqueue(ctx, retryqueue.OpReadReceiptBatch, batchPayload{ConversationID: "a_b", MessageIDs: ids, UserID: "b"})
	require.NoError(t, err)

	stats, err := f.queue.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Retried)
	assert.Equal(t, 0, stats.Dropped)

	items := f.items(t)
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].RetryCount)
	assert.Contains(t, items[0].LastError, "write skew")
	for _, id := range ids {
		assert.Equal(t, model.StatusDelivered, f.store.Message("a_b", id).Status)
	}
	assert.Equal(t, 3, f.store.Conversation("a_b").UnreadCount["b"])
}

func TestFallbackSkipsPermanentlyFailingMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ids := seedUnread(f)
	failMessage(f, ids[2], errDenied)

	item := &retryqueue.Item{OperationType: retryqueue.OpReadReceiptBatch, RetryCount: DefaultBatchFallbackAfter}
	item.Data = mustJSON(t, batchPayload{ConversationID: "a_b", MessageIDs: ids, UserID: "b"})

	assert.Equal(t, retryqueue.Success, f.receipt.processBatch(ctx, item))
	assert.Equal(t, model.StatusRead, f.store.Message("a_b", ids[0]).Status)
	assert.Equal(t, model.StatusRead, f.store.Message("a_b", ids[1]).Status)
	assert.Equal(t, model.StatusDelivered, f.store.Message("a_b", ids[2]).Status)
	assert.Equal(t, 0, f.store.Conversation("a_b").UnreadCount["b"])
	assert.NotEmpty(t, item.LastError)
}

func TestFallbackRetriesWhenUnreadResetFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ids := seedUnread(f)
	f.store.SetFault(func(op, key string) error {
		if op == "tx.ResetUnread" {
			return errOffline
		}
		return nil
	})

	item := &retryqueue.Item{OperationType: retryqueue.OpReadReceiptBatch, RetryCount: 5}
	item.Data = mustJSON(t, batchPayload{ConversationID: "a_b", MessageIDs: ids, UserID: "b"})

	assert.Equal(t, retryqueue.RetryableFailure, f.receipt.processBatch(ctx, item))
	for _, id := range ids {
		assert.Equal(t, model.StatusRead, f.store.Message("a_b", id).Status)
	}
	assert.Equal(t, 3, f.store.Conversation("a_b").UnreadCount["b"])
}

func TestReadReceiptSettings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	enabled, err := f.receipt.ReadReceiptsEnabled(ctx, "b")
	require.NoError(t, err)
	assert.True(t, enabled)

	require.NoError(t, f.receipt.SetReadReceipts(ctx, "b", false))
	enabled, err = f.receipt.ReadReceiptsEnabled(ctx, "b")
	require.NoError(t, err)
	assert.False(t, enabled)

	f.settings.Err = errOffline
	assert.ErrorIs(t, f.receipt.SetReadReceipts(ctx, "b", true), ErrStoreUnavailable)
}
