package memrepo

import (
	"Parley/internal/model"
	"Parley/internal/repository"
	"context"
)

// memTx 提交前缓存读写，已触及的文档从自身副本读取
type memTx struct {
	s            *Store
	readVersions map[docKey]uint64
	convs        map[string]*model.Conversation
	msgs         map[string]*model.Message
	dirtyConvs   map[string]bool
	dirtyMsgs    map[string]bool
}

func newTx(s *Store) *memTx {
	return &memTx{
		s:            s,
		readVersions: make(map[docKey]uint64),
		convs:        make(map[string]*model.Conversation),
		msgs:         make(map[string]*model.Message),
		dirtyConvs:   make(map[string]bool),
		dirtyMsgs:    make(map[string]bool),
	}
}

func (t *memTx) loadConversation(convID string) *model.Conversation {
	if c, ok := t.convs[convID]; ok {
		return c
	}
	t.s.mu.Lock()
	var c *model.Conversation
	var v uint64
	if d := t.s.conversations[convID]; d != nil {
		c, v = cloneConversation(d.conv), d.version
	}
	t.s.mu.Unlock()

	t.readVersions[docKey{kind: "conversation", id: convID}] = v
	t.convs[convID] = c
	return c
}

func (t *memTx) loadMessage(convID, msgID string) *model.Message {
	k := msgKey(convID, msgID)
	if m, ok := t.msgs[k]; ok {
		return m
	}
	t.s.mu.Lock()
	var m *model.Message
	var v uint64
	if d := t.s.messages[k]; d != nil {
		m, v = cloneMessage(d.msg), d.version
	}
	t.s.mu.Unlock()

	t.readVersions[docKey{kind: "message", id: k}] = v
	t.msgs[k] = m
	return m
}

func (t *memTx) GetConversation(_ context.Context, convID string) (*model.Conversation, error) {
	if err := t.s.check("tx.GetConversation", convID); err != nil {
		return nil, err
	}
	c := t.loadConversation(convID)
	if c == nil {
		return nil, repository.ErrNotFound
	}
	return cloneConversation(c), nil
}

func (t *memTx) InsertConversation(_ context.Context, conv *model.Conversation) error {
	if err := t.s.check("tx.InsertConversation", conv.ID); err != nil {
		return err
	}
	if t.loadConversation(conv.ID) != nil {
		return repository.ErrAlreadyExists
	}
	t.convs[conv.ID] = cloneConversation(conv)
	t.dirtyConvs[conv.ID] = true
	return nil
}

func (t *memTx) mutateConversation(op, convID string, fn func(c *model.Conversation)) error {
	if err := t.s.check(op, convID); err != nil {
		return err
	}
	c := t.loadConversation(convID)
	if c == nil {
		return repository.ErrNotFound
	}
	fn(c)
	t.dirtyConvs[convID] = true
	return nil
}

func (t *memTx) RecordMessageSent(_ context.Context, conv *model.Conversation, msg *model.Message) error {
	return t.mutateConversation("tx.RecordMessageSent", conv.ID, func(c *model.Conversation) {
		last := msg.Snapshot()
		c.LastMessage = &last
		c.LastMessageTimestamp = msg.Timestamp
		c.UpdatedAt = msg.Timestamp
		if c.DeletedBy == nil {
			c.DeletedBy = make(map[string]bool)
		}
		if c.UnreadCount == nil {
			c.UnreadCount = make(map[string]int)
		}
		for _, uid := range conv.ParticipantIDs {
			c.DeletedBy[uid] = false
		}
		for _, uid := range conv.Recipients(msg.SenderID) {
			c.UnreadCount[uid]++
		}
	})
}

func (t *memTx) ResetUnread(_ context.Context, convID, userID string) error {
	return t.mutateConversation("tx.ResetUnread", convID, func(c *model.Conversation) {
		if c.UnreadCount == nil {
			c.UnreadCount = make(map[string]int)
		}
		c.UnreadCount[userID] = 0
	})
}

func (t *memTx) RemoveParticipant(_ context.Context, convID, userID string, adminIDs []string) error {
	return t.mutateConversation("tx.RemoveParticipant", convID, func(c *model.Conversation) {
		kept := c.ParticipantIDs[:0]
		for _, uid := range c.ParticipantIDs {
			if uid != userID {
				kept = append(kept, uid)
			}
		}
		c.ParticipantIDs = kept
		c.AdminIDs = append([]string{}, adminIDs...)
		delete(c.UnreadCount, userID)
		delete(c.ArchivedBy, userID)
		delete(c.DeletedBy, userID)
		delete(c.MutedBy, userID)
	})
}

func (t *memTx) UpdateGroupInfo(_ context.Context, convID string, info repository.GroupInfo) error {
	return t.mutateConversation("tx.UpdateGroupInfo", convID, func(c *model.Conversation) {
		if info.Name != nil {
			c.GroupName = *info.Name
		}
		if info.PhotoURL != nil {
			c.GroupPhotoURL = *info.PhotoURL
		}
		c.UpdatedAt = info.UpdatedAt
	})
}

func (t *memTx) SetUserFlag(_ context.Context, convID string, flag model.UserFlag, userID string, value bool) error {
	return t.mutateConversation("tx.SetUserFlag", convID, func(c *model.Conversation) {
		var m *map[string]bool
		switch flag {
		case model.FlagArchived:
			m = &c.ArchivedBy
		case model.FlagDeleted:
			m = &c.DeletedBy
		case model.FlagMuted:
			m = &c.MutedBy
		default:
			return
		}
		if *m == nil {
			*m = make(map[string]bool)
		}
		(*m)[userID] = value
	})
}

func (t *memTx) GetMessage(_ context.Context, convID, msgID string) (*model.Message, error) {
	if err := t.s.check("tx.GetMessage", msgID); err != nil {
		return nil, err
	}
	m := t.loadMessage(convID, msgID)
	if m == nil {
		return nil, repository.ErrNotFound
	}
	return cloneMessage(m), nil
}

func (t *memTx) InsertMessage(_ context.Context, msg *model.Message) error {
	if err := t.s.check("tx.InsertMessage", msg.ID); err != nil {
		return err
	}
	if t.loadMessage(msg.ConversationID, msg.ID) != nil {
		return repository.ErrAlreadyExists
	}
	k := msgKey(msg.ConversationID, msg.ID)
	t.msgs[k] = cloneMessage(msg)
	t.dirtyMsgs[k] = true
	return nil
}

func (t *memTx) UpdateMessage(_ context.Context, convID, msgID string, patch repository.MessagePatch) error {
	if err := t.s.check("tx.UpdateMessage", msgID); err != nil {
		return err
	}
	if patch.Empty() {
		return nil
	}
	m := t.loadMessage(convID, msgID)
	if m == nil {
		return repository.ErrNotFound
	}
	if patch.Status != "" {
		m.Status = patch.Status
	}
	if patch.AddReader != "" && !m.ReadByUser(patch.AddReader) {
		m.ReadBy = append(m.ReadBy, patch.AddReader)
	}
	t.dirtyMsgs[msgKey(convID, msgID)] = true
	return nil
}
