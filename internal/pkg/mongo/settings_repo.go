package mongo

import (
	"Parley/internal/model"
	"Parley/internal/repository"
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type settingsRepoImpl struct {
	col *mongo.Collection
}

func NewSettingsRepo(db *mongo.Database) repository.SettingsRepo {
	return &settingsRepoImpl{col: db.Collection(settingsCollection)}
}

func (s *settingsRepoImpl) ReadReceiptsEnabled(ctx context.Context, userID string) (bool, error) {
	var st model.UserSettings
	err := s.col.FindOne(ctx, bson.M{"_id": userID}).Decode(&st)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return true, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "find user settings")
	}
	return st.ReadReceiptsEnabled, nil
}

func (s *settingsRepoImpl) SetReadReceipts(ctx context.Context, userID string, enabled bool) error {
	_, err := s.col.UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{"$set": bson.M{"read_receipts_enabled": enabled, "updated_at": time.Now()}},
		options.Update().SetUpsert(true),
	)
	return errors.Wrap(err, "upsert user settings")
}
