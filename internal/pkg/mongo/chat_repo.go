package mongo

import (
	"Parley/internal/model"
	"Parley/internal/repository"
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

type chatRepoImpl struct {
	client        *mongo.Client
	conversations *mongo.Collection
	messages      *mongo.Collection
}

// chatTxImpl 事务内操作，ctx 必须是 WithTransaction 传入的 SessionContext
type chatTxImpl struct {
	conversations *mongo.Collection
	messages      *mongo.Collection
}

func NewChatRepo(db *mongo.Database) repository.ChatRepo {
	return &chatRepoImpl{
		client:        db.Client(),
		conversations: db.Collection(conversationCollection),
		messages:      db.Collection(messageCollection),
	}
}

// RunTransaction 在快照隔离的多文档事务中执行 fn
// WithTransaction re-runs fn on TransientTransactionError (write conflicts) and
// retries the commit on UnknownTransactionCommitResult.
func (s *chatRepoImpl) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx repository.ChatTx) error) error {
	session, err := s.client.StartSession()
	if err != nil {
		return errors.Wrap(err, "start session")
	}
	defer session.EndSession(ctx)

	tx := &chatTxImpl{conversations: s.conversations, messages: s.messages}
	opts := options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority())

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc, tx)
	}, opts)
	return err
}

func (s *chatRepoImpl) GetConversation(ctx context.Context, convID string) (*model.Conversation, error) {
	return findConversation(ctx, s.conversations, convID)
}

func (s *chatRepoImpl) GetMessage(ctx context.Context, convID, msgID string) (*model.Message, error) {
	return findMessage(ctx, s.messages, convID, msgID)
}

func (s *chatRepoImpl) MessageExists(ctx context.Context, convID, msgID string) (bool, error) {
	n, err := s.messages.CountDocuments(ctx, bson.M{"_id": msgID, "conversation_id": convID}, options.Count().SetLimit(1))
	if err != nil {
		return false, errors.Wrap(err, "count message")
	}
	return n > 0, nil
}

// FilterExistingMessages 一次查询过滤出已存在的消息
func (s *chatRepoImpl) FilterExistingMessages(ctx context.Context, convID string, msgIDs []string) ([]string, error) {
	if len(msgIDs) == 0 {
		return nil, nil
	}
	cursor, err := s.messages.Find(ctx,
		bson.M{"conversation_id": convID, "_id": bson.M{"$in": msgIDs}},
		options.Find().SetProjection(bson.M{"_id": 1}),
	)
	if err != nil {
		return nil, errors.Wrap(err, "find messages")
	}
	defer func() {
		_ = cursor.Close(ctx)
	}()

	var rows []struct {
		ID string `bson:"_id"`
	}
	if err = cursor.All(ctx, &rows); err != nil {
		return nil, errors.Wrap(err, "decode messages")
	}

	found := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		found[r.ID] = struct{}{}
	}
	existing := make([]string, 0, len(found))
	for _, id := range msgIDs {
		if _, ok := found[id]; ok {
			existing = append(existing, id)
			delete(found, id)
		}
	}
	return existing, nil
}

// MergeMessageMetadata 只合并 metadata 子字段
func (s *chatRepoImpl) MergeMessageMetadata(ctx context.Context, convID, msgID string, metadata map[string]any) error {
	if len(metadata) == 0 {
		return nil
	}
	set := bson.M{}
	for k, v := range metadata {
		set["metadata."+k] = v
	}
	res, err := s.messages.UpdateOne(ctx, bson.M{"_id": msgID, "conversation_id": convID}, bson.M{"$set": set})
	if err != nil {
		return errors.Wrap(err, "merge metadata")
	}
	if res.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (t *chatTxImpl) GetConversation(ctx context.Context, convID string) (*model.Conversation, error) {
	return findConversation(ctx, t.conversations, convID)
}

func (t *chatTxImpl) InsertConversation(ctx context.Context, conv *model.Conversation) error {
	_, err := t.conversations.InsertOne(ctx, conv)
	if mongo.IsDuplicateKeyError(err) {
		return repository.ErrAlreadyExists
	}
	return errors.Wrap(err, "insert conversation")
}

// RecordMessageSent 更新最后一条消息，并原子递增除发送者外所有成员的未读数
func (t *chatTxImpl) RecordMessageSent(ctx context.Context, conv *model.Conversation, msg *model.Message) error {
	set := bson.M{
		"last_message":           model.LastMessage{Text: msg.Text, SenderID: msg.SenderID, Timestamp: msg.Timestamp},
		"last_message_timestamp": msg.Timestamp,
		"updated_at":             msg.Timestamp,
	}
	for _, uid := range conv.ParticipantIDs {
		set["deleted_by."+uid] = false
	}
	update := bson.M{"$set": set}

	if recipients := conv.Recipients(msg.SenderID); len(recipients) > 0 {
		inc := bson.M{}
		for _, uid := range recipients {
			inc["unread_count."+uid] = 1
		}
		update["$inc"] = inc
	}
	return updateConversation(ctx, t.conversations, conv.ID, update)
}

func (t *chatTxImpl) ResetUnread(ctx context.Context, convID, userID string) error {
	return updateConversation(ctx, t.conversations, convID, bson.M{
		"$set": bson.M{"unread_count." + userID: 0},
	})
}

// RemoveParticipant 移除成员并清理其所有按用户维度的字段
func (t *chatTxImpl) RemoveParticipant(ctx context.Context, convID, userID string, adminIDs []string) error {
	if adminIDs == nil {
		adminIDs = []string{}
	}
	return updateConversation(ctx, t.conversations, convID, bson.M{
		"$pull": bson.M{"participant_ids": userID},
		"$set":  bson.M{"admin_ids": adminIDs},
		"$unset": bson.M{
			"unread_count." + userID: "",
			"archived_by." + userID:  "",
			"deleted_by." + userID:   "",
			"muted_by." + userID:     "",
		},
		"$currentDate": bson.M{"updated_at": true},
	})
}

func (t *chatTxImpl) UpdateGroupInfo(ctx context.Context, convID string, info repository.GroupInfo) error {
	set := bson.M{"updated_at": info.UpdatedAt}
	if info.Name != nil {
		set["group_name"] = *info.Name
	}
	if info.PhotoURL != nil {
		set["group_photo_url"] = *info.PhotoURL
	}
	return updateConversation(ctx, t.conversations, convID, bson.M{"$set": set})
}

func (t *chatTxImpl) SetUserFlag(ctx context.Context, convID string, flag model.UserFlag, userID string, value bool) error {
	return updateConversation(ctx, t.conversations, convID, bson.M{
		"$set": bson.M{string(flag) + "." + userID: value},
	})
}

func (t *chatTxImpl) GetMessage(ctx context.Context, convID, msgID string) (*model.Message, error) {
	return findMessage(ctx, t.messages, convID, msgID)
}

func (t *chatTxImpl) InsertMessage(ctx context.Context, msg *model.Message) error {
	_, err := t.messages.InsertOne(ctx, msg)
	if mongo.IsDuplicateKeyError(err) {
		return repository.ErrAlreadyExists
	}
	return errors.Wrap(err, "insert message")
}

// UpdateMessage 状态与已读列表在同一次写入中完成，已读者用 $addToSet 去重
func (t *chatTxImpl) UpdateMessage(ctx context.Context, convID, msgID string, patch repository.MessagePatch) error {
	if patch.Empty() {
		return nil
	}
	update := bson.M{}
	if patch.Status != "" {
		update["$set"] = bson.M{"status": patch.Status}
	}
	if patch.AddReader != "" {
		update["$addToSet"] = bson.M{"read_by": patch.AddReader}
	}
	res, err := t.messages.UpdateOne(ctx, bson.M{"_id": msgID, "conversation_id": convID}, update)
	if err != nil {
		return errors.Wrap(err, "update message")
	}
	if res.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func findConversation(ctx context.Context, col *mongo.Collection, convID string) (*model.Conversation, error) {
	var conv model.Conversation
	err := col.FindOne(ctx, bson.M{"_id": convID}).Decode(&conv)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "find conversation")
	}
	return &conv, nil
}

func findMessage(ctx context.Context, col *mongo.Collection, convID, msgID string) (*model.Message, error) {
	var msg model.Message
	err := col.FindOne(ctx, bson.M{"_id": msgID, "conversation_id": convID}).Decode(&msg)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "find message")
	}
	return &msg, nil
}

func updateConversation(ctx context.Context, col *mongo.Collection, convID string, update bson.M) error {
	res, err := col.UpdateOne(ctx, bson.M{"_id": convID}, update)
	if err != nil {
		return errors.Wrap(err, "update conversation")
	}
	if res.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}
