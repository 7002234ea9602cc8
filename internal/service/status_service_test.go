package service

import (
	"Parley/internal/model"
	"Parley/internal/pkg/retryqueue"
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadPatchRules(t *testing.T) {
	base := func(st model.Status, readers ...string) *model.Message {
		m := model.NewMessage("m", "c", "a", "x", testTime)
		m.Status = st
		m.ReadBy = append(m.ReadBy, readers...)
		return m
	}

	_, ok := readPatch(base(model.StatusSending), "b")
	assert.False(t, ok, "sending is not readable yet")

	_, ok = readPatch(base(model.StatusDelivered), "a")
	assert.False(t, ok, "sender reading own message")

	p, ok := readPatch(base(model.StatusDelivered), "b")
	assert.True(t, ok)
	assert.Equal(t, model.StatusRead, p.Status)
	assert.Equal(t, "b", p.AddReader)

	p, ok = readPatch(base(model.StatusRead, "b"), "c")
	assert.True(t, ok)
	assert.Empty(t, p.Status)
	assert.Equal(t, "c", p.AddReader)

	_, ok = readPatch(base(model.StatusRead, "b"), "b")
	assert.False(t, ok)

	_, ok = readPatch(base(model.Status("archived")), "b")
	assert.False(t, ok, "unknown status is never read")
}

func TestMarkDeliveredIsIdempotentAndNeverDowngrades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	msgs := f.seedDirect(model.StatusSending, model.StatusRead)

	require.NoError(t, f.status.MarkDelivered(ctx, "a_b", msgs[0].ID))
	require.NoError(t, f.status.MarkDelivered(ctx, "a_b", msgs[0].ID))
	assert.Equal(t, model.StatusDelivered, f.store.Message("a_b", msgs[0].ID).Status)

	require.NoError(t, f.status.MarkDelivered(ctx, "a_b", msgs[1].ID))
	assert.Equal(t, model.StatusRead, f.store.Message("a_b", msgs[1].ID).Status)

	assert.Len(t, f.notifier.types(), 1)
}

func TestMarkDeliveredOnInvisibleMessageIsNoop(t *testing.T) {
	f := newFixture(t)
	f.seedDirect()

	require.NoError(t, f.status.MarkDelivered(context.Background(), "a_b", "ghost"))
	assert.Nil(t, f.store.Message("a_b", "ghost"))
	assert.Empty(t, f.items(t))
}

func TestStatusSequenceIsMonotonic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	msgs := f.seedDirect(model.StatusSending)
	id := msgs[0].ID

	observed := []model.Status{f.store.Message("a_b", id).Status}
	calls := []func() error{
		func() error { return f.status.MarkRead(ctx, "a_b", id, "b") },
		func() error { return f.status.MarkDelivered(ctx, "a_b", id) },
		func() error { return f.status.MarkRead(ctx, "a_b", id, "b") },
		func() error { return f.status.MarkDelivered(ctx, "a_b", id) },
		func() error { return f.status.MarkRead(ctx, "a_b", id, "b") },
	}
	for _, call := range calls {
		require.NoError(t, call())
		observed = append(observed, f.store.Message("a_b", id).Status)
	}

	for i := 1; i < len(observed); i++ {
		assert.True(t, observed[i].AtLeast(observed[i-1]), "status went from %s to %s", observed[i-1], observed[i])
	}
	assert.Equal(t, model.StatusSending, observed[1], "read before delivery is ignored")
	assert.Equal(t, model.StatusRead, observed[len(observed)-1])
}

func TestConcurrentStatusCallsNeverDowngrade(t *testing.T) {
	f := newFixture(t)
	msgs := f.seedDirect(model.StatusDelivered)
	id := msgs[0].ID

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.status.MarkRead(context.Background(), "a_b", id, "b"))
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, f.status.MarkDelivered(context.Background(), "a_b", id))
		}()
	}
	wg.Wait()

	m := f.store.Message("a_b", id)
	assert.Equal(t, model.StatusRead, m.Status)
	assert.Equal(t, []string{"a", "b"}, m.ReadBy)
}

func TestMarkReadTwiceKeepsReaderOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	msgs := f.seedDirect(model.StatusDelivered)

	require.NoError(t, f.status.MarkRead(ctx, "a_b", msgs[0].ID, "b"))
	require.NoError(t, f.status.MarkRead(ctx, "a_b", msgs[0].ID, "b"))

	m := f.store.Message("a_b", msgs[0].ID)
	assert.Equal(t, model.StatusRead, m.Status)
	assert.Equal(t, []string{"a", "b"}, m.ReadBy)
	assert.Len(t, f.notifier.types(), 1)
}

func TestMarkReadSecondGroupReaderJoinsReadBy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedGroup("a", "b", "c")
	m := model.NewMessage("gm", "g1", "a", "hi all", testTime)
	m.Status = model.StatusDelivered
	f.store.PutMessage(m)

	require.NoError(t, f.status.MarkRead(ctx, "g1", "gm", "b"))
	require.NoError(t, f.status.MarkRead(ctx, "g1", "gm", "c"))

	got := f.store.Message("g1", "gm")
	assert.Equal(t, model.StatusRead, got.Status)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, got.ReadBy)
}

func TestMarkReadRequiresMembership(t *testing.T) {
	f := newFixture(t)
	msgs := f.seedDirect(model.StatusDelivered)

	err := f.status.MarkRead(context.Background(), "a_b", msgs[0].ID, "mallory")
	assert.ErrorIs(t, err, ErrNotMember)

	m := f.store.Message("a_b", msgs[0].ID)
	assert.Equal(t, model.StatusDelivered, m.Status)
	assert.NotContains(t, m.ReadBy, "mallory")
	assert.Empty(t, f.items(t))
	assert.Empty(t, f.notifier.types())
}

func TestReadReceiptReplayDropsNonMember(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	msgs := f.seedDirect(model.StatusDelivered)

	_, err := f.queue.Enqueue(ctx, retryqueue.OpReadReceipt, receiptPayload{ConversationID: "a_b", MessageID: msgs[0].ID, UserID: "mallory"})
	require.NoError(t, err)

	stats, err := f.queue.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Dropped)
	assert.Empty(t, f.items(t))
	assert.Equal(t, model.StatusDelivered, f.store.Message("a_b", msgs[0].ID).Status)
}

func TestMarkReadRespectsOptOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	msgs := f.seedDirect(model.StatusDelivered)
	require.NoError(t, f.settings.SetReadReceipts(ctx, "b", false))

	require.NoError(t, f.status.MarkRead(ctx, "a_b", msgs[0].ID, "b"))
	m := f.store.Message("a_b", msgs[0].ID)
	assert.Equal(t, model.StatusDelivered, m.Status)
	assert.Equal(t, []string{"a"}, m.ReadBy)
}

func TestMarkReadPermissionFailureIsSynchronous(t *testing.T) {
	f := newFixture(t)
	msgs := f.seedDirect(model.StatusDelivered)
	f.store.SetFault(func(op, key string) error { return errDenied })

	err := f.status.MarkRead(context.Background(), "a_b", msgs[0].ID, "b")
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Empty(t, f.items(t))
}

func TestMarkReadNetworkFailureIsQueued(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	msgs := f.seedDirect(model.StatusDelivered)
	restore := f.offline()

	require.NoError(t, f.status.MarkRead(ctx, "a_b", msgs[0].ID, "b"))
	items := f.items(t)
	require.Len(t, items, 1)
	assert.Equal(t, retryqueue.OpReadReceipt, items[0].OperationType)
	assert.Equal(t, 0, items[0].RetryCount)

	restore()
	stats, err := f.queue.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Succeeded)
	m := f.store.Message("a_b", msgs[0].ID)
	assert.Equal(t, model.StatusRead, m.Status)
	assert.Equal(t, []string{"a", "b"}, m.ReadBy)
}

func TestMarkDeliveredNetworkFailureIsQueued(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	msgs := f.seedDirect(model.StatusSending)
	restore := f.offline()

	require.NoError(t, f.status.MarkDelivered(ctx, "a_b", msgs[0].ID))
	require.Len(t, f.items(t), 1)
	assert.Equal(t, retryqueue.OpStatusUpdate, f.items(t)[0].OperationType)

	restore()
	_, err := f.queue.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDelivered, f.store.Message("a_b", msgs[0].ID).Status)
	assert.Empty(t, f.items(t))
}

func TestStatusReplayWaitsForMessageThenGivesUp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedDirect()

	_, err := f.queue.Enqueue(ctx, retryqueue.OpStatusUpdate, statusPayload{
		ConversationID: "a_b", MessageID: "late", Status: model.StatusDelivered,
	})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		stats, err := f.queue.Drain(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Retried)
	}
	stats, err := f.queue.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Dropped)
	assert.Empty(t, f.items(t))
}

func TestStatusReplaySucceedsOnceMessageArrives(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedDirect()

	_, err := f.queue.Enqueue(ctx, retryqueue.OpStatusUpdate, statusPayload{
		ConversationID: "a_b", MessageID: "m1", Status: model.StatusDelivered,
	})
	require.NoError(t, err)
	_, err = f.queue.Drain(ctx)
	require.NoError(t, err)

	f.store.PutMessage(model.NewMessage("m1", "a_b", "a", "hi", testTime))
	stats, err := f.queue.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Succeeded)
	assert.Equal(t, model.StatusDelivered, f.store.Message("a_b", "m1").Status)
}
