package service

import (
	"Parley/internal/model"
	"Parley/internal/pkg/errclass"
	"Parley/internal/pkg/retryqueue"
	"Parley/internal/repository/memrepo"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

var (
	testTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	errOffline = errclass.New(errclass.CodeUnavailable, "client is offline")
	errDenied  = errclass.New(errclass.CodePermissionDenied, "missing or insufficient permissions")
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingNotifier) Notify(_ context.Context, evt Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingNotifier) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res []string
	for _, e := range r.events {
		res = append(res, e.Type)
	}
	return res
}

// last returns the most recent event of type typ.
func (r *recordingNotifier) last(typ string) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Type == typ {
			return r.events[i], true
		}
	}
	return Event{}, false
}

type fixture struct {
	store    *memrepo.Store
	settings *memrepo.Settings
	queue    *retryqueue.Queue
	notifier *recordingNotifier

	conv    *conversationServiceImpl
	status  *statusServiceImpl
	receipt *receiptServiceImpl
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    memrepo.New(),
		settings: memrepo.NewSettings(),
		queue:    retryqueue.New(retryqueue.NewMemoryStorage()),
		notifier: &recordingNotifier{},
	}
	f.conv = NewConversationService(f.store, f.queue, f.notifier, DefaultChatLimits()).(*conversationServiceImpl)
	f.status = NewStatusService(f.store, f.settings, f.queue, f.notifier).(*statusServiceImpl)
	f.receipt = NewReceiptService(f.store, f.settings, f.queue, f.notifier, DefaultBatchFallbackAfter).(*receiptServiceImpl)

	require.NoError(t, f.conv.RegisterProcessors(f.queue))
	require.NoError(t, f.status.RegisterProcessors(f.queue))
	require.NoError(t, f.receipt.RegisterProcessors(f.queue))
	return f
}

// offline fails every store call until the returned func is called.
func (f *fixture) offline() (restore func()) {
	f.store.SetFault(func(op, key string) error { return errOffline })
	return func() { f.store.SetFault(nil) }
}

func (f *fixture) items(t *testing.T) []*retryqueue.Item {
	t.Helper()
	items, err := f.queue.Items()
	require.NoError(t, err)
	return items
}

// seedDirect stores conversation a_b with one message per status.
func (f *fixture) seedDirect(statuses ...model.Status) []*model.Message {
	now := time.Now()
	conv := model.NewConversation("a_b", model.ConversationDirect, []string{"a", "b"}, now)
	f.store.PutConversation(conv)

	msgs := make([]*model.Message, 0, len(statuses))
	for i, st := range statuses {
		m := model.NewMessage("m"+string(rune('1'+i)), "a_b", "a", "hello", now.Add(time.Duration(i)*time.Second))
		m.Status = st
		f.store.PutMessage(m)
		msgs = append(msgs, m)
	}
	return msgs
}

func (f *fixture) seedGroup(members ...string) *model.Conversation {
	conv := model.NewConversation("g1", model.ConversationGroup, members, time.Now())
	conv.GroupName = "team"
	conv.CreatorID = members[0]
	conv.AdminIDs = []string{members[0]}
	f.store.PutConversation(conv)
	return conv
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}
