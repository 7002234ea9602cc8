// Package memrepo 内存版 ChatRepo，乐观并发：提交时读集版本有变则重跑事务。供测试与本地开发使用
package memrepo

import (
	"Parley/internal/model"
	"Parley/internal/pkg/errclass"
	"Parley/internal/repository"
	"context"
	"maps"
	"sync"
	"sync/atomic"
)

const defaultMaxAttempts = 64

// ErrContention 事务多次冲突后放弃
var ErrContention = errclass.New(errclass.CodeUnavailable, "transaction contention")

// Fault 故障注入。op 为方法名，事务内带 "tx." 前缀；key 为会话或消息ID
type Fault func(op, key string) error

type docKey struct {
	kind string
	id   string
}

type convDoc struct {
	version uint64
	conv    *model.Conversation
}

type msgDoc struct {
	version uint64
	msg     *model.Message
}

type Store struct {
	mu            sync.Mutex
	conversations map[string]*convDoc
	messages      map[string]*msgDoc
	fault         atomic.Value

	MaxAttempts int
	conflicts   atomic.Int64
}

func New() *Store {
	return &Store{
		conversations: make(map[string]*convDoc),
		messages:      make(map[string]*msgDoc),
		MaxAttempts:   defaultMaxAttempts,
	}
}

var _ repository.ChatRepo = (*Store)(nil)

// SetFault 传 nil 清除
func (s *Store) SetFault(f Fault) {
	s.fault.Store(&f)
}

// Conflicts 重跑过的事务数
func (s *Store) Conflicts() int64 {
	return s.conflicts.Load()
}

func (s *Store) check(op, key string) error {
	p, _ := s.fault.Load().(*Fault)
	if p == nil || *p == nil {
		return nil
	}
	return (*p)(op, key)
}

func msgKey(convID, msgID string) string {
	return convID + "/" + msgID
}

func cloneConversation(c *model.Conversation) *model.Conversation {
	if c == nil {
		return nil
	}
	out := *c
	out.ParticipantIDs = append([]string(nil), c.ParticipantIDs...)
	out.AdminIDs = append([]string(nil), c.AdminIDs...)
	out.UnreadCount = maps.Clone(c.UnreadCount)
	out.ArchivedBy = maps.Clone(c.ArchivedBy)
	out.DeletedBy = maps.Clone(c.DeletedBy)
	out.MutedBy = maps.Clone(c.MutedBy)
	if c.LastMessage != nil {
		last := *c.LastMessage
		out.LastMessage = &last
	}
	return &out
}

func cloneMessage(m *model.Message) *model.Message {
	if m == nil {
		return nil
	}
	out := *m
	out.ReadBy = append([]string(nil), m.ReadBy...)
	out.Metadata = maps.Clone(m.Metadata)
	return &out
}

// PutConversation 绕过事务直接写入
func (s *Store) PutConversation(c *model.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.conversations[c.ID]
	if d == nil {
		d = &convDoc{}
		s.conversations[c.ID] = d
	}
	d.version++
	d.conv = cloneConversation(c)
}

// PutMessage 绕过事务直接写入
func (s *Store) PutMessage(m *model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := msgKey(m.ConversationID, m.ID)
	d := s.messages[k]
	if d == nil {
		d = &msgDoc{}
		s.messages[k] = d
	}
	d.version++
	d.msg = cloneMessage(m)
}

// Conversation 返回副本，不存在时为 nil
func (s *Store) Conversation(convID string) *model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d := s.conversations[convID]; d != nil {
		return cloneConversation(d.conv)
	}
	return nil
}

func (s *Store) Message(convID, msgID string) *model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d := s.messages[msgKey(convID, msgID)]; d != nil {
		return cloneMessage(d.msg)
	}
	return nil
}

func (s *Store) Messages(convID string) []*model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []*model.Message
	for _, d := range s.messages {
		if d.msg.ConversationID == convID {
			res = append(res, cloneMessage(d.msg))
		}
	}
	return res
}

func (s *Store) ConversationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conversations)
}

func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx repository.ChatTx) error) error {
	if err := s.check("RunTransaction", ""); err != nil {
		return err
	}
	for attempt := 0; attempt < s.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		tx := newTx(s)
		if err := fn(ctx, tx); err != nil {
			return err
		}
		if err := s.check("tx.commit", ""); err != nil {
			return err
		}
		if s.commit(tx) {
			return nil
		}
		s.conflicts.Add(1)
	}
	return ErrContention
}

func (s *Store) commit(tx *memTx) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, v := range tx.readVersions {
		if s.currentVersion(k) != v {
			return false
		}
	}
	for id := range tx.dirtyConvs {
		d := s.conversations[id]
		if d == nil {
			d = &convDoc{}
			s.conversations[id] = d
		}
		d.version++
		d.conv = tx.convs[id]
	}
	for k := range tx.dirtyMsgs {
		d := s.messages[k]
		if d == nil {
			d = &msgDoc{}
			s.messages[k] = d
		}
		d.version++
		d.msg = tx.msgs[k]
	}
	return true
}

// currentVersion 文档不存在时为 0，调用方需持有 s.mu
func (s *Store) currentVersion(k docKey) uint64 {
	switch k.kind {
	case "conversation":
		if d := s.conversations[k.id]; d != nil {
			return d.version
		}
	case "message":
		if d := s.messages[k.id]; d != nil {
			return d.version
		}
	}
	return 0
}

func (s *Store) GetConversation(_ context.Context, convID string) (*model.Conversation, error) {
	if err := s.check("GetConversation", convID); err != nil {
		return nil, err
	}
	if c := s.Conversation(convID); c != nil {
		return c, nil
	}
	return nil, repository.ErrNotFound
}

func (s *Store) GetMessage(_ context.Context, convID, msgID string) (*model.Message, error) {
	if err := s.check("GetMessage", msgID); err != nil {
		return nil, err
	}
	if m := s.Message(convID, msgID); m != nil {
		return m, nil
	}
	return nil, repository.ErrNotFound
}

func (s *Store) MessageExists(_ context.Context, convID, msgID string) (bool, error) {
	if err := s.check("MessageExists", msgID); err != nil {
		return false, err
	}
	return s.Message(convID, msgID) != nil, nil
}

func (s *Store) FilterExistingMessages(_ context.Context, convID string, msgIDs []string) ([]string, error) {
	if err := s.check("FilterExistingMessages", convID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []string
	seen := make(map[string]bool, len(msgIDs))
	for _, id := range msgIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		if s.messages[msgKey(convID, id)] != nil {
			res = append(res, id)
		}
	}
	return res, nil
}

func (s *Store) MergeMessageMetadata(_ context.Context, convID, msgID string, metadata map[string]any) error {
	if err := s.check("MergeMessageMetadata", msgID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.messages[msgKey(convID, msgID)]
	if d == nil {
		return repository.ErrNotFound
	}
	m := cloneMessage(d.msg)
	if m.Metadata == nil {
		m.Metadata = make(map[string]any, len(metadata))
	}
	for k, v := range metadata {
		m.Metadata[k] = v
	}
	d.version++
	d.msg = m
	return nil
}
