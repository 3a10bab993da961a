//go:generate go run go.uber.org/mock/mockgen -source=read_marker_repository.go -destination=../mocks/mock_read_marker_repository.go -package=mocks
package repository

import (
	"context"
	"time"

	"loventia/internal/entity"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ReadMarkerRepository stores per user, per conversation read high-water marks.
type ReadMarkerRepository interface {
	// Advance moves the marker forward; an older LastReadAt is ignored.
	Advance(ctx context.Context, marker entity.ReadMarker) error
	Get(ctx context.Context, userId, conversationId string) (entity.ReadMarker, error)
}

type readMarkerRepository struct {
	db mongo.Database
}

func NewReadMarkerRepository(db mongo.Database) ReadMarkerRepository {
	return &readMarkerRepository{
		db: db,
	}
}

type readMarkerDocument struct {
	UserId         string    `bson:"userId"`
	ConversationId string    `bson:"conversationId"`
	LastReadAt     time.Time `bson:"lastReadAt"`
	LastReadAtNs   int64     `bson:"lastReadAtNs"`
}

func (r *readMarkerRepository) Advance(ctx context.Context, marker entity.ReadMarker) error {
	collection := r.db.Collection(readMarkersCollection)
	filter := bson.M{
		"userId":         marker.UserId,
		"conversationId": marker.ConversationId,
	}
	update := bson.M{
		"$max": bson.M{
			"lastReadAt":   marker.LastReadAt,
			"lastReadAtNs": marker.LastReadAt.UnixNano(),
		},
	}

	_, err := collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}

func (r *readMarkerRepository) Get(ctx context.Context, userId, conversationId string) (entity.ReadMarker, error) {
	collection := r.db.Collection(readMarkersCollection)
	filter := bson.M{
		"userId":         userId,
		"conversationId": conversationId,
	}

	var document readMarkerDocument
	err := collection.FindOne(ctx, filter).Decode(&document)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return entity.ReadMarker{UserId: userId, ConversationId: conversationId}, nil
		}
		return entity.ReadMarker{}, err
	}

	return entity.ReadMarker{
		UserId:         document.UserId,
		ConversationId: document.ConversationId,
		LastReadAt:     time.Unix(0, document.LastReadAtNs).UTC(),
	}, nil
}
