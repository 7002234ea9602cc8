package service

import (
	"Parley/internal/api/dto"
	"Parley/internal/model"
	"Parley/internal/pkg/consts"
	"Parley/internal/pkg/errclass"
	"Parley/internal/pkg/metrics"
	"Parley/internal/pkg/retryqueue"
	"Parley/internal/repository"
	"context"
	"errors"
	log "log/slog"
	"time"
)

const (
	DefaultBatchFallbackAfter = 3
	maxBatchSize              = 500
)

// ReceiptService 批量已读与已读回执开关
type ReceiptService interface {
	MarkConversationRead(ctx context.Context, convID, userID string, req *dto.MarkConversationReadReq) (*dto.MarkConversationReadResp, error)
	ReadReceiptsEnabled(ctx context.Context, userID string) (bool, error)
	SetReadReceipts(ctx context.Context, userID string, enabled bool) error
	RegisterProcessors(q *retryqueue.Queue) error
}

type receiptServiceImpl struct {
	repo          repository.ChatRepo
	settings      repository.SettingsRepo
	queue         retryqueue.Enqueuer
	notifier      Notifier
	fallbackAfter int
	now           func() time.Time
}

// NewReceiptService fallbackAfter 为批量事务连续失败多少次后改为逐条更新
func NewReceiptService(repo repository.ChatRepo, settings repository.SettingsRepo, queue retryqueue.Enqueuer, notifier Notifier, fallbackAfter int) ReceiptService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if fallbackAfter <= 0 {
		fallbackAfter = DefaultBatchFallbackAfter
	}
	return &receiptServiceImpl{
		repo:          repo,
		settings:      settings,
		queue:         queue,
		notifier:      notifier,
		fallbackAfter: fallbackAfter,
		now:           time.Now,
	}
}

// batchPayload 是 READ_RECEIPT_BATCH 的队列数据
type batchPayload struct {
	ConversationID string   `json:"conversationId"`
	MessageIDs     []string `json:"messageIds"`
	UserID         string   `json:"userId"`
}

type batchOutcome struct {
	updated []string
	skipped int
}

// MarkConversationRead 在一个事务里标记多条消息已读并清零未读数，要么全部生效要么全部不生效
func (s *receiptServiceImpl) MarkConversationRead(ctx context.Context, convID, userID string, req *dto.MarkConversationReadReq) (*dto.MarkConversationReadResp, error) {
	if convID == "" {
		return nil, ErrConversationIDMissing
	}
	if !validUserID(userID) {
		return nil, ErrInvalidUserID
	}
	ids := dedupe(req.MessageIDs)
	if len(ids) > maxBatchSize {
		return nil, ErrTooManyMessages
	}
	p := &batchPayload{ConversationID: convID, MessageIDs: ids, UserID: userID}

	out, err := s.applyBatch(ctx, p)
	if err != nil {
		queued, ferr := deferOrFail(ctx, s.queue, retryqueue.OpReadReceiptBatch, p, err)
		if ferr != nil {
			return nil, ferr
		}
		return &dto.MarkConversationReadResp{Queued: queued}, nil
	}

	s.notifyRead(ctx, p, out.updated)
	return &dto.MarkConversationReadResp{Updated: len(out.updated), Skipped: out.skipped}, nil
}

func (s *receiptServiceImpl) applyBatch(ctx context.Context, p *batchPayload) (*batchOutcome, error) {
	enabled, err := s.settings.ReadReceiptsEnabled(ctx, p.UserID)
	if err != nil {
		return nil, err
	}

	visible, err := s.repo.FilterExistingMessages(ctx, p.ConversationID, p.MessageIDs)
	if err != nil {
		return nil, err
	}

	var out batchOutcome
	err = s.repo.RunTransaction(ctx, func(ctx context.Context, tx repository.ChatTx) error {
		out = batchOutcome{skipped: len(p.MessageIDs) - len(visible)}

		if err := checkMember(ctx, tx, p.ConversationID, p.UserID); err != nil {
			return err
		}

		for _, id := range visible {
			if !enabled {
				out.skipped++
				continue
			}
			msg, err := tx.GetMessage(ctx, p.ConversationID, id)
			if errors.Is(err, repository.ErrNotFound) {
				out.skipped++
				continue
			}
			if err != nil {
				return err
			}
			patch, ok := readPatch(msg, p.UserID)
			if !ok {
				out.skipped++
				continue
			}
			if err = tx.UpdateMessage(ctx, p.ConversationID, id, patch); err != nil {
				return err
			}
			out.updated = append(out.updated, id)
		}
		return tx.ResetUnread(ctx, p.ConversationID, p.UserID)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func checkMember(ctx context.Context, tx repository.ChatTx, convID, userID string) error {
	conv, err := tx.GetConversation(ctx, convID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrConversationNotFound
	}
	if err != nil {
		return err
	}
	if !conv.IsMember(userID) {
		return ErrNotMember
	}
	return nil
}

func (s *receiptServiceImpl) RegisterProcessors(q *retryqueue.Queue) error {
	return q.RegisterProcessor(retryqueue.OpReadReceiptBatch, s.processBatch)
}

// processBatch 前几次按原批量事务重放，之后改为逐条尽力更新
func (s *receiptServiceImpl) processBatch(ctx context.Context, it *retryqueue.Item) retryqueue.Result {
	var p batchPayload
	if err := it.Decode(&p); err != nil {
		return decodeFailed(ctx, it, err)
	}

	if it.RetryCount < s.fallbackAfter {
		out, err := s.applyBatch(ctx, &p)
		if err == nil {
			s.notifyRead(ctx, &p, out.updated)
		}
		return replayResult(it, err)
	}

	metrics.ReceiptFallbacks.Inc()
	log.WarnContext(ctx, "batch read receipt falling back to individual updates",
		"conversation_id", p.ConversationID, "messages", len(p.MessageIDs), "retry_count", it.RetryCount)
	return s.applyIndividually(ctx, it, &p)
}

// applyIndividually 每条消息各自一个事务，随后单独清零未读数。
// 仅当存在可重试失败时整体重试；永久失败的消息记录后跳过。
func (s *receiptServiceImpl) applyIndividually(ctx context.Context, it *retryqueue.Item, p *batchPayload) retryqueue.Result {
	retry := false
	note := func(stage string, err error) {
		it.LastError = err.Error()
		if isDomainError(err) || retryqueue.ResultFor(errclass.Classify(err)) == retryqueue.PermanentFailure {
			log.WarnContext(ctx, "individual read receipt failed permanently", "stage", stage, "conversation_id", p.ConversationID, "err", err)
			return
		}
		retry = true
	}

	enabled, err := s.settings.ReadReceiptsEnabled(ctx, p.UserID)
	if err != nil {
		return replayResult(it, err)
	}

	var updated []string
	if enabled {
		for _, id := range p.MessageIDs {
			changed := false
			err = s.repo.RunTransaction(ctx, func(ctx context.Context, tx repository.ChatTx) error {
				changed = false
				msg, err := tx.GetMessage(ctx, p.ConversationID, id)
				if errors.Is(err, repository.ErrNotFound) {
					return nil
				}
				if err != nil {
					return err
				}
				patch, ok := readPatch(msg, p.UserID)
				if !ok {
					return nil
				}
				changed = true
				return tx.UpdateMessage(ctx, p.ConversationID, id, patch)
			})
			if err != nil {
				note("message "+id, err)
				continue
			}
			if changed {
				updated = append(updated, id)
			}
		}
	}

	resetFailed := false
	err = s.repo.RunTransaction(ctx, func(ctx context.Context, tx repository.ChatTx) error {
		if err := checkMember(ctx, tx, p.ConversationID, p.UserID); err != nil {
			return err
		}
		return tx.ResetUnread(ctx, p.ConversationID, p.UserID)
	})
	if err != nil {
		resetFailed = true
		note("unread reset", err)
	}

	s.notifyRead(ctx, p, updated)
	switch {
	case retry:
		return retryqueue.RetryableFailure
	case resetFailed:
		return retryqueue.PermanentFailure
	}
	return retryqueue.Success
}

func (s *receiptServiceImpl) notifyRead(ctx context.Context, p *batchPayload, updated []string) {
	if len(updated) == 0 {
		return
	}
	s.notifier.Notify(ctx, Event{
		Type:           consts.EventMessagesRead,
		ConversationID: p.ConversationID,
		MessageIDs:     updated,
		UserID:         p.UserID,
		Status:         model.StatusRead,
		At:             s.now(),
	})
}

func (s *receiptServiceImpl) ReadReceiptsEnabled(ctx context.Context, userID string) (bool, error) {
	if !validUserID(userID) {
		return false, ErrInvalidUserID
	}
	enabled, err := s.settings.ReadReceiptsEnabled(ctx, userID)
	if err != nil {
		return false, syncError(ctx, err)
	}
	return enabled, nil
}

func (s *receiptServiceImpl) SetReadReceipts(ctx context.Context, userID string, enabled bool) error {
	if !validUserID(userID) {
		return ErrInvalidUserID
	}
	return syncError(ctx, s.settings.SetReadReceipts(ctx, userID, enabled))
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
