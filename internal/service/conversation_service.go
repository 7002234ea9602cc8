package service

import (
	"Parley/internal/api/dto"
	"Parley/internal/model"
	"Parley/internal/pkg/consts"
	"Parley/internal/pkg/convid"
	"Parley/internal/pkg/retryqueue"
	"Parley/internal/repository"
	"context"
	"errors"
	log "log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// maxCreateAttempts bounds re-runs after losing a conversation creation race.
const maxCreateAttempts = 3

// ChatLimits 业务限制，来自 chat.* 配置
type ChatLimits struct {
	MaxGroupSize     int
	MaxMessageLength int
}

func DefaultChatLimits() ChatLimits {
	return ChatLimits{MaxGroupSize: 50, MaxMessageLength: model.MaxMessageLength}
}

// ConversationService 会话创建、发消息与成员管理
type ConversationService interface {
	CreateConversation(ctx context.Context, senderID string, req *dto.CreateConversationReq) (*dto.CreateConversationResp, error)
	SendMessage(ctx context.Context, convID, senderID string, req *dto.SendMessageReq) (*dto.SendMessageResp, error)
	LeaveConversation(ctx context.Context, convID, userID string) error
	RemoveParticipant(ctx context.Context, convID, actorID, userID string) error
	UpdateGroupInfo(ctx context.Context, convID, actorID string, req *dto.UpdateGroupReq) error
	SetUserFlag(ctx context.Context, convID, userID, flag string, value bool) error
	RegisterProcessors(q *retryqueue.Queue) error
}

type conversationServiceImpl struct {
	repo     repository.ChatRepo
	queue    retryqueue.Enqueuer
	notifier Notifier
	limits   ChatLimits
	now      func() time.Time
}

func NewConversationService(repo repository.ChatRepo, queue retryqueue.Enqueuer, notifier Notifier, limits ChatLimits) ConversationService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &conversationServiceImpl{
		repo:     repo,
		queue:    queue,
		notifier: notifier,
		limits:   limits,
		now:      time.Now,
	}
}

// createPayload 是 CONVERSATION_CREATE 的队列数据，ID 在首次尝试前分配，重放幂等
type createPayload struct {
	Type           model.ConversationType `json:"type"`
	ParticipantIDs []string               `json:"participantIds"`
	SenderID       string                 `json:"senderId"`
	Text           string                 `json:"text"`
	GroupName      string                 `json:"groupName,omitempty"`
	GroupPhotoURL  string                 `json:"groupPhotoURL,omitempty"`
	ConversationID string                 `json:"conversationId"`
	MessageID      string                 `json:"messageId"`
	Timestamp      time.Time              `json:"timestamp"`
}

// sendPayload 是 MESSAGE_SEND 的队列数据
type sendPayload struct {
	ConversationID string    `json:"conversationId"`
	MessageID      string    `json:"messageId"`
	SenderID       string    `json:"senderId"`
	Text           string    `json:"text"`
	Timestamp      time.Time `json:"timestamp"`
}

// CreateConversation 原子地创建会话并写入第一条消息，会话已存在时转为发送消息
func (s *conversationServiceImpl) CreateConversation(ctx context.Context, senderID string, req *dto.CreateConversationReq) (*dto.CreateConversationResp, error) {
	p, err := s.prepareCreate(senderID, req)
	if err != nil {
		return nil, err
	}
	msg := model.NewMessage(p.MessageID, p.ConversationID, p.SenderID, p.Text, p.Timestamp)

	created, err := s.applyCreate(ctx, p)
	if err != nil {
		queued, ferr := deferOrFail(ctx, s.queue, retryqueue.OpConversationCreate, p, err)
		if ferr != nil {
			return nil, ferr
		}
		return &dto.CreateConversationResp{
			ConversationID: p.ConversationID,
			Message:        toRefDTO(model.PendingRef(p.MessageID, msg)),
			Queued:         queued,
		}, nil
	}

	s.notifyCreated(ctx, created, msg, nil)
	return &dto.CreateConversationResp{
		ConversationID: p.ConversationID,
		Message:        toRefDTO(model.ConfirmedRef(p.MessageID, msg)),
		Created:        created,
	}, nil
}

// prepareCreate 校验请求并分配会话与消息ID，不访问存储
func (s *conversationServiceImpl) prepareCreate(senderID string, req *dto.CreateConversationReq) (*createPayload, error) {
	typ := model.ConversationType(req.Type)
	if typ != model.ConversationDirect && typ != model.ConversationGroup {
		return nil, ErrInvalidConvType
	}
	if len(req.ParticipantIDs) < 2 {
		return nil, ErrTooFewParticipants
	}

	seen := make(map[string]struct{}, len(req.ParticipantIDs))
	for _, uid := range req.ParticipantIDs {
		if !validUserID(uid) {
			return nil, ErrInvalidUserID
		}
		if _, dup := seen[uid]; dup {
			return nil, ErrDuplicateParticipant
		}
		seen[uid] = struct{}{}
	}

	p := &createPayload{
		Type:           typ,
		ParticipantIDs: append([]string(nil), req.ParticipantIDs...),
		SenderID:       senderID,
		MessageID:      uuid.NewString(),
		Timestamp:      s.now(),
	}

	switch typ {
	case model.ConversationDirect:
		id, err := convid.DeriveDirectID(req.ParticipantIDs)
		if err != nil {
			return nil, ErrDirectArity
		}
		p.ConversationID = id
	case model.ConversationGroup:
		p.GroupName = strings.TrimSpace(req.GroupName)
		if p.GroupName == "" {
			return nil, ErrGroupNameRequired
		}
		if s.limits.MaxGroupSize > 0 && len(req.ParticipantIDs) > s.limits.MaxGroupSize {
			return nil, ErrGroupTooLarge
		}
		p.GroupPhotoURL = req.GroupPhotoURL
		p.ConversationID = convid.NewGroupID()
	}

	text, err := s.checkText(req.MessageText)
	if err != nil {
		return nil, err
	}
	p.Text = text

	if _, ok := seen[senderID]; !ok {
		return nil, ErrSenderNotMember
	}
	return p, nil
}

func (s *conversationServiceImpl) checkText(raw string) (string, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", ErrMessageEmpty
	}
	limit := s.limits.MaxMessageLength
	if limit <= 0 {
		limit = model.MaxMessageLength
	}
	if utf8.RuneCountInString(text) > limit {
		return "", ErrMessageTooLong
	}
	return text, nil
}

// applyCreate 执行建会话事务，返回是否新建了会话。
// 并发创建同一单聊时，输掉插入竞争的一方重跑事务并走加入分支。
func (s *conversationServiceImpl) applyCreate(ctx context.Context, p *createPayload) (bool, error) {
	var err error
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		var created bool
		err = s.repo.RunTransaction(ctx, func(ctx context.Context, tx repository.ChatTx) error {
			created = false
			msg := model.NewMessage(p.MessageID, p.ConversationID, p.SenderID, p.Text, p.Timestamp)

			conv, err := tx.GetConversation(ctx, p.ConversationID)
			if errors.Is(err, repository.ErrNotFound) {
				conv = s.newConversation(p, msg)
				if err = tx.InsertConversation(ctx, conv); err != nil {
					return err
				}
				created = true
				return tx.InsertMessage(ctx, msg)
			}
			if err != nil {
				return err
			}
			return appendMessage(ctx, tx, conv, msg)
		})
		if !errors.Is(err, repository.ErrAlreadyExists) {
			return created, err
		}
		log.InfoContext(ctx, "lost conversation creation race, retrying", "conversation_id", p.ConversationID, "attempt", attempt+1)
	}
	return false, err
}

func (s *conversationServiceImpl) newConversation(p *createPayload, msg *model.Message) *model.Conversation {
	conv := model.NewConversation(p.ConversationID, p.Type, p.ParticipantIDs, p.Timestamp)
	for _, uid := range conv.Recipients(p.SenderID) {
		conv.UnreadCount[uid] = 1
	}
	last := msg.Snapshot()
	conv.LastMessage = &last
	conv.LastMessageTimestamp = msg.Timestamp
	if p.Type == model.ConversationGroup {
		conv.GroupName = p.GroupName
		conv.GroupPhotoURL = p.GroupPhotoURL
		conv.CreatorID = p.SenderID
		conv.AdminIDs = []string{p.SenderID}
	}
	return conv
}

// appendMessage 加入分支：写消息、更新 lastMessage、递增未读。消息已存在视为已完成
func appendMessage(ctx context.Context, tx repository.ChatTx, conv *model.Conversation, msg *model.Message) error {
	if !conv.IsMember(msg.SenderID) {
		return ErrSenderNotMember
	}
	if _, err := tx.GetMessage(ctx, conv.ID, msg.ID); err == nil {
		return nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	if err := tx.InsertMessage(ctx, msg); err != nil {
		return err
	}
	return tx.RecordMessageSent(ctx, conv, msg)
}

// SendMessage 向已有会话发送消息
func (s *conversationServiceImpl) SendMessage(ctx context.Context, convID, senderID string, req *dto.SendMessageReq) (*dto.SendMessageResp, error) {
	if convID == "" {
		return nil, ErrConversationIDMissing
	}
	if !validUserID(senderID) {
		return nil, ErrInvalidUserID
	}
	text, err := s.checkText(req.Text)
	if err != nil {
		return nil, err
	}

	p := &sendPayload{
		ConversationID: convID,
		MessageID:      uuid.NewString(),
		SenderID:       senderID,
		Text:           text,
		Timestamp:      s.now(),
	}
	msg := model.NewMessage(p.MessageID, convID, senderID, text, p.Timestamp)

	if err = s.applySend(ctx, p); err != nil {
		queued, ferr := deferOrFail(ctx, s.queue, retryqueue.OpMessageSend, p, err)
		if ferr != nil {
			return nil, ferr
		}
		return &dto.SendMessageResp{Message: toRefDTO(model.PendingRef(p.MessageID, msg)), Queued: queued}, nil
	}

	s.notifyMessage(ctx, msg, nil)
	return &dto.SendMessageResp{Message: toRefDTO(model.ConfirmedRef(p.MessageID, msg))}, nil
}

func (s *conversationServiceImpl) applySend(ctx context.Context, p *sendPayload) error {
	return s.repo.RunTransaction(ctx, func(ctx context.Context, tx repository.ChatTx) error {
		conv, err := tx.GetConversation(ctx, p.ConversationID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrConversationNotFound
		}
		if err != nil {
			return err
		}
		msg := model.NewMessage(p.MessageID, p.ConversationID, p.SenderID, p.Text, p.Timestamp)
		return appendMessage(ctx, tx, conv, msg)
	})
}

func (s *conversationServiceImpl) notifyCreated(ctx context.Context, created bool, msg *model.Message, ref *model.MessageRef) {
	if created {
		s.notifier.Notify(ctx, Event{Type: consts.EventConversationCreated, ConversationID: msg.ConversationID, At: msg.Timestamp})
	}
	s.notifyMessage(ctx, msg, ref)
}

func (s *conversationServiceImpl) notifyMessage(ctx context.Context, msg *model.Message, ref *model.MessageRef) {
	evt := Event{Type: consts.EventMessageCreated, ConversationID: msg.ConversationID, Message: msg, Ref: ref, At: msg.Timestamp}
	if ref != nil {
		evt.MessageIDs = []string{ref.ID()}
	}
	s.notifier.Notify(ctx, evt)
}

// confirmReplayed 排队时客户端拿到的是 pending 引用，重放写入后确认
func confirmReplayed(msg *model.Message) *model.MessageRef {
	ref := model.PendingRef(msg.ID, msg).Confirm(msg.ID, msg)
	return &ref
}

// LeaveConversation 退出群聊，最后一名管理员退出时由剩余第一位成员接任
func (s *conversationServiceImpl) LeaveConversation(ctx context.Context, convID, userID string) error {
	err := s.repo.RunTransaction(ctx, func(ctx context.Context, tx repository.ChatTx) error {
		conv, err := s.loadGroup(ctx, tx, convID)
		if err != nil {
			return err
		}
		if !conv.IsMember(userID) {
			return ErrNotMember
		}
		return tx.RemoveParticipant(ctx, convID, userID, conv.AdminsAfterRemoval(userID))
	})
	if err != nil {
		return syncError(ctx, err)
	}
	s.notifier.Notify(ctx, Event{Type: consts.EventConversationUpdated, ConversationID: convID, UserID: userID, At: s.now()})
	return nil
}

// RemoveParticipant 管理员移除成员
func (s *conversationServiceImpl) RemoveParticipant(ctx context.Context, convID, actorID, userID string) error {
	if actorID == userID {
		return ErrCannotRemoveSelf
	}
	err := s.repo.RunTransaction(ctx, func(ctx context.Context, tx repository.ChatTx) error {
		conv, err := s.loadGroup(ctx, tx, convID)
		if err != nil {
			return err
		}
		if !conv.IsAdmin(actorID) {
			return ErrNotAdmin
		}
		if !conv.IsMember(userID) {
			return ErrNotMember
		}
		return tx.RemoveParticipant(ctx, convID, userID, conv.AdminsAfterRemoval(userID))
	})
	if err != nil {
		return syncError(ctx, err)
	}
	s.notifier.Notify(ctx, Event{Type: consts.EventConversationUpdated, ConversationID: convID, UserID: userID, At: s.now()})
	return nil
}

// UpdateGroupInfo 管理员修改群名称或头像
func (s *conversationServiceImpl) UpdateGroupInfo(ctx context.Context, convID, actorID string, req *dto.UpdateGroupReq) error {
	info := repository.GroupInfo{PhotoURL: req.GroupPhotoURL, UpdatedAt: s.now()}
	if req.GroupName != nil {
		name := strings.TrimSpace(*req.GroupName)
		if name == "" {
			return ErrGroupNameRequired
		}
		info.Name = &name
	}
	if info.Name == nil && info.PhotoURL == nil {
		return nil
	}

	err := s.repo.RunTransaction(ctx, func(ctx context.Context, tx repository.ChatTx) error {
		conv, err := s.loadGroup(ctx, tx, convID)
		if err != nil {
			return err
		}
		if !conv.IsAdmin(actorID) {
			return ErrNotAdmin
		}
		return tx.UpdateGroupInfo(ctx, convID, info)
	})
	if err != nil {
		return syncError(ctx, err)
	}
	s.notifier.Notify(ctx, Event{Type: consts.EventConversationUpdated, ConversationID: convID, At: info.UpdatedAt})
	return nil
}

var userFlags = map[string]model.UserFlag{
	"archived": model.FlagArchived,
	"muted":    model.FlagMuted,
	"deleted":  model.FlagDeleted,
}

// SetUserFlag 设置归档、免打扰、删除等个人标记，不影响其他成员
func (s *conversationServiceImpl) SetUserFlag(ctx context.Context, convID, userID, flag string, value bool) error {
	f, ok := userFlags[flag]
	if !ok {
		return ErrInvalidFlag
	}
	err := s.repo.RunTransaction(ctx, func(ctx context.Context, tx repository.ChatTx) error {
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
		return tx.SetUserFlag(ctx, convID, f, userID, value)
	})
	return syncError(ctx, err)
}

func (s *conversationServiceImpl) loadGroup(ctx context.Context, tx repository.ChatTx, convID string) (*model.Conversation, error) {
	conv, err := tx.GetConversation(ctx, convID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}
	if conv.Type != model.ConversationGroup {
		return nil, ErrNotGroup
	}
	return conv, nil
}

// RegisterProcessors 注册会话相关的重放函数
func (s *conversationServiceImpl) RegisterProcessors(q *retryqueue.Queue) error {
	if err := q.RegisterProcessor(retryqueue.OpConversationCreate, s.processCreate); err != nil {
		return err
	}
	return q.RegisterProcessor(retryqueue.OpMessageSend, s.processSend)
}

func (s *conversationServiceImpl) processCreate(ctx context.Context, it *retryqueue.Item) retryqueue.Result {
	var p createPayload
	if err := it.Decode(&p); err != nil {
		return decodeFailed(ctx, it, err)
	}

	exists, err := s.repo.MessageExists(ctx, p.ConversationID, p.MessageID)
	if err != nil {
		return replayResult(it, err)
	}
	if exists {
		return retryqueue.Success
	}

	created, err := s.applyCreate(ctx, &p)
	if err == nil {
		msg := model.NewMessage(p.MessageID, p.ConversationID, p.SenderID, p.Text, p.Timestamp)
		s.notifyCreated(ctx, created, msg, confirmReplayed(msg))
	}
	return replayResult(it, err)
}

func (s *conversationServiceImpl) processSend(ctx context.Context, it *retryqueue.Item) retryqueue.Result {
	var p sendPayload
	if err := it.Decode(&p); err != nil {
		return decodeFailed(ctx, it, err)
	}

	exists, err := s.repo.MessageExists(ctx, p.ConversationID, p.MessageID)
	if err != nil {
		return replayResult(it, err)
	}
	if exists {
		return retryqueue.Success
	}

	err = s.applySend(ctx, &p)
	if err == nil {
		msg := model.NewMessage(p.MessageID, p.ConversationID, p.SenderID, p.Text, p.Timestamp)
		s.notifyMessage(ctx, msg, confirmReplayed(msg))
	}
	return replayResult(it, err)
}
