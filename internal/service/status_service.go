package service

import (
	"Parley/internal/model"
	"Parley/internal/pkg/consts"
	"Parley/internal/pkg/retryqueue"
	"Parley/internal/repository"
	"context"
	"errors"
	log "log/slog"
	"time"
)

// notVisibleRetries is how many replays a status change waits for its message
// to become visible before the item is dropped.
const notVisibleRetries = 3

var errMessageNotVisible = errors.New("message not visible yet")

// StatusService 消息状态机 sending -> delivered -> read
type StatusService interface {
	MarkDelivered(ctx context.Context, convID, msgID string) error
	MarkRead(ctx context.Context, convID, msgID, userID string) error
	RegisterProcessors(q *retryqueue.Queue) error
}

type statusServiceImpl struct {
	repo     repository.ChatRepo
	settings repository.SettingsRepo
	queue    retryqueue.Enqueuer
	notifier Notifier
	now      func() time.Time
}

func NewStatusService(repo repository.ChatRepo, settings repository.SettingsRepo, queue retryqueue.Enqueuer, notifier Notifier) StatusService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &statusServiceImpl{
		repo:     repo,
		settings: settings,
		queue:    queue,
		notifier: notifier,
		now:      time.Now,
	}
}

// statusPayload 是 STATUS_UPDATE 的队列数据
type statusPayload struct {
	ConversationID string       `json:"conversationId"`
	MessageID      string       `json:"messageId"`
	Status         model.Status `json:"status"`
}

// receiptPayload 是 READ_RECEIPT 的队列数据
type receiptPayload struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	UserID         string `json:"userId"`
}

// readPatch 已读规则，单条与批量共用。返回 false 表示无需写入
func readPatch(msg *model.Message, readerID string) (repository.MessagePatch, bool) {
	if readerID == msg.SenderID || !msg.Status.AtLeast(model.StatusDelivered) || msg.ReadByUser(readerID) {
		return repository.MessagePatch{}, false
	}
	patch := repository.MessagePatch{AddReader: readerID}
	if msg.Status.CanAdvanceTo(model.StatusRead) {
		patch.Status = model.StatusRead
	}
	return patch, true
}

// MarkDelivered 标记送达，消息尚不可见时忽略，已送达或已读时幂等
func (s *statusServiceImpl) MarkDelivered(ctx context.Context, convID, msgID string) error {
	p := &statusPayload{ConversationID: convID, MessageID: msgID, Status: model.StatusDelivered}

	exists, err := s.repo.MessageExists(ctx, convID, msgID)
	if err != nil {
		_, err = deferOrFail(ctx, s.queue, retryqueue.OpStatusUpdate, p, err)
		return err
	}
	if !exists {
		log.WarnContext(ctx, "mark delivered on invisible message ignored", "conversation_id", convID, "message_id", msgID)
		return nil
	}

	changed, err := s.applyDelivered(ctx, p)
	if err != nil && !errors.Is(err, errMessageNotVisible) {
		_, err = deferOrFail(ctx, s.queue, retryqueue.OpStatusUpdate, p, err)
		return err
	}
	if changed {
		s.notifier.Notify(ctx, Event{Type: consts.EventMessageStatus, ConversationID: convID, MessageIDs: []string{msgID}, Status: model.StatusDelivered, At: s.now()})
	}
	return nil
}

func (s *statusServiceImpl) applyDelivered(ctx context.Context, p *statusPayload) (bool, error) {
	var changed bool
	err := s.repo.RunTransaction(ctx, func(ctx context.Context, tx repository.ChatTx) error {
		changed = false
		msg, err := tx.GetMessage(ctx, p.ConversationID, p.MessageID)
		if errors.Is(err, repository.ErrNotFound) {
			return errMessageNotVisible
		}
		if err != nil {
			return err
		}
		if !msg.Status.CanAdvanceTo(model.StatusDelivered) {
			return nil
		}
		changed = true
		return tx.UpdateMessage(ctx, p.ConversationID, p.MessageID, repository.MessagePatch{Status: model.StatusDelivered})
	})
	return changed, err
}

// MarkRead 标记单条消息已读，仅会话成员可调用。关闭了已读回执的用户、发送者本人、尚未送达的消息均不写入
func (s *statusServiceImpl) MarkRead(ctx context.Context, convID, msgID, userID string) error {
	if !validUserID(userID) {
		return ErrInvalidUserID
	}
	p := &receiptPayload{ConversationID: convID, MessageID: msgID, UserID: userID}

	changed, err := s.applyRead(ctx, p)
	if errors.Is(err, errMessageNotVisible) {
		log.WarnContext(ctx, "mark read on invisible message ignored", "conversation_id", convID, "message_id", msgID)
		return nil
	}
	if err != nil {
		_, err = deferOrFail(ctx, s.queue, retryqueue.OpReadReceipt, p, err)
		return err
	}
	if changed {
		s.notifier.Notify(ctx, Event{Type: consts.EventMessageStatus, ConversationID: convID, MessageIDs: []string{msgID}, UserID: userID, Status: model.StatusRead, At: s.now()})
	}
	return nil
}

func (s *statusServiceImpl) applyRead(ctx context.Context, p *receiptPayload) (bool, error) {
	enabled, err := s.settings.ReadReceiptsEnabled(ctx, p.UserID)
	if err != nil {
		return false, err
	}

	var changed bool
	err = s.repo.RunTransaction(ctx, func(ctx context.Context, tx repository.ChatTx) error {
		changed = false
		err := checkMember(ctx, tx, p.ConversationID, p.UserID)
		if errors.Is(err, ErrConversationNotFound) {
			// 会话可能仍在创建队列中
			return errMessageNotVisible
		}
		if err != nil {
			return err
		}
		if !enabled {
			return nil
		}
		msg, err := tx.GetMessage(ctx, p.ConversationID, p.MessageID)
		if errors.Is(err, repository.ErrNotFound) {
			return errMessageNotVisible
		}
		if err != nil {
			return err
		}
		patch, ok := readPatch(msg, p.UserID)
		if !ok {
			return nil
		}
		changed = true
		return tx.UpdateMessage(ctx, p.ConversationID, p.MessageID, patch)
	})
	return changed, err
}

func (s *statusServiceImpl) RegisterProcessors(q *retryqueue.Queue) error {
	if err := q.RegisterProcessor(retryqueue.OpStatusUpdate, s.processStatus); err != nil {
		return err
	}
	return q.RegisterProcessor(retryqueue.OpReadReceipt, s.processReceipt)
}

func (s *statusServiceImpl) processStatus(ctx context.Context, it *retryqueue.Item) retryqueue.Result {
	var p statusPayload
	if err := it.Decode(&p); err != nil {
		return decodeFailed(ctx, it, err)
	}
	if p.Status != model.StatusDelivered {
		// read receipts carry a reader and travel as READ_RECEIPT
		log.ErrorContext(ctx, "unsupported status in retry item", "status", p.Status, "item_id", it.ID)
		return retryqueue.PermanentFailure
	}

	changed, err := s.applyDelivered(ctx, &p)
	if errors.Is(err, errMessageNotVisible) {
		return notVisibleResult(it, err)
	}
	if changed {
		s.notifier.Notify(ctx, Event{Type: consts.EventMessageStatus, ConversationID: p.ConversationID, MessageIDs: []string{p.MessageID}, Status: model.StatusDelivered, At: s.now()})
	}
	return replayResult(it, err)
}

func (s *statusServiceImpl) processReceipt(ctx context.Context, it *retryqueue.Item) retryqueue.Result {
	var p receiptPayload
	if err := it.Decode(&p); err != nil {
		return decodeFailed(ctx, it, err)
	}

	changed, err := s.applyRead(ctx, &p)
	if errors.Is(err, errMessageNotVisible) {
		return notVisibleResult(it, err)
	}
	if changed {
		s.notifier.Notify(ctx, Event{Type: consts.EventMessageStatus, ConversationID: p.ConversationID, MessageIDs: []string{p.MessageID}, UserID: p.UserID, Status: model.StatusRead, At: s.now()})
	}
	return replayResult(it, err)
}

// notVisibleResult 消息可能仍在发送队列中，等待若干轮后放弃
func notVisibleResult(it *retryqueue.Item, err error) retryqueue.Result {
	it.LastError = err.Error()
	if it.RetryCount+1 >= notVisibleRetries {
		return retryqueue.PermanentFailure
	}
	return retryqueue.RetryableFailure
}
