package retryqueue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPebbleStorage_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := OpenPebbleStorage(dir, true)
	require.NoError(t, err)
	q := New(s)
	ctx := context.Background()

	_, err = q.Enqueue(ctx, OpConversationCreate, receiptPayload{ConversationID: "alice_bob"})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, OpReadReceipt, receiptPayload{MessageID: "m2"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = OpenPebbleStorage(dir, true)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	items, err := s.List()
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, OpConversationCreate, items[0].OperationType)
	assert.Equal(t, OpReadReceipt, items[1].OperationType)

	var p receiptPayload
	require.NoError(t, items[0].Decode(&p))
	assert.Equal(t, "alice_bob", p.ConversationID)

	// ids keep increasing after reopen
	id, err := s.Append(&Item{OperationType: OpStatusUpdate})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), id)
}

func TestPebbleStorage_UpdateDelete(t *testing.T) {
	s, err := OpenPebbleStorage(t.TempDir(), false)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	id, err := s.Append(&Item{OperationType: OpStatusUpdate})
	require.NoError(t, err)

	require.NoError(t, s.Update(&Item{ID: id, OperationType: OpStatusUpdate, RetryCount: 4}))
	items, err := s.List()
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 4, items[0].RetryCount)

	assert.ErrorIs(t, s.Update(&Item{ID: 99}), ErrItemNotFound)

	require.NoError(t, s.Delete(id))
	n, err := s.Len()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestPebbleStorage_DrainWithQueue(t *testing.T) {
	s, err := OpenPebbleStorage(t.TempDir(), false)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	q := New(s)
	ctx := context.Background()
	require.NoError(t, q.RegisterProcessor(OpReadReceipt, func(ctx context.Context, it *Item) Result {
		return RetryableFailure
	}))
	_, err = q.Enqueue(ctx, OpReadReceipt, receiptPayload{})
	require.NoError(t, err)

	_, err = q.Drain(ctx)
	require.NoError(t, err)
	items, err := s.List()
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].RetryCount)
}
