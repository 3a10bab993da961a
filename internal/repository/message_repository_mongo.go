package repository

import (
	"context"

	"loventia/internal/entity"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type messageRepository struct {
	db mongo.Database
}

func NewMessageRepository(db mongo.Database) MessageRepository {
	return &messageRepository{
		db: db,
	}
}

// EnsureIndexes creates the indexes the history and overview queries rely on.
func EnsureIndexes(ctx context.Context, db mongo.Database) error {
	_, err := db.Collection(messagesCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "conversationId", Value: 1}, {Key: "createdAtNs", Value: 1}, {Key: "_id", Value: 1}}},
		{Keys: bson.D{{Key: "senderId", Value: 1}}},
		{Keys: bson.D{{Key: "recipientId", Value: 1}}},
	})
	if err != nil {
		return err
	}

	_, err = db.Collection(readMarkersCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "userId", Value: 1}, {Key: "conversationId", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

func (r *messageRepository) Create(ctx context.Context, message entity.Message) error {
	collection := r.db.Collection(messagesCollection)

	_, err := collection.InsertOne(ctx, toMessageDocument(message))
	return err
}

func (r *messageRepository) GetByConversationId(ctx context.Context, conversationId string) ([]entity.Message, error) {
	collection := r.db.Collection(messagesCollection)
	filter := bson.M{"conversationId": conversationId}

	opts := options.Find()
	opts.SetSort(bson.D{{Key: "createdAtNs", Value: 1}, {Key: "_id", Value: 1}})

	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var documents []messageDocument
	if err := cursor.All(ctx, &documents); err != nil {
		return nil, err
	}

	messages := make([]entity.Message, 0, len(documents))
	for _, d := range documents {
		messages = append(messages, d.toEntity())
	}
	return messages, nil
}

type overviewRow struct {
	ConversationId string          `bson:"conversationId"`
	LastMessage    messageDocument `bson:"lastMessage"`
	UnreadCount    int             `bson:"unreadCount"`
}

// Overview groups the user's messages per conversation keeping the latest one,
// joins the user's read marker and counts incoming messages past it.
func (r *messageRepository) Overview(ctx context.Context, userId string) ([]entity.Conversation, error) {
	collection := r.db.Collection(messagesCollection)

	matchStage := bson.D{{Key: "$match", Value: bson.D{
		{Key: "$or", Value: bson.A{
			bson.D{{Key: "senderId", Value: userId}},
			bson.D{{Key: "recipientId", Value: userId}},
		}},
	}}}
	sortStage := bson.D{{Key: "$sort", Value: bson.D{{Key: "createdAtNs", Value: 1}, {Key: "_id", Value: 1}}}}
	groupStage := bson.D{{Key: "$group", Value: bson.D{
		{Key: "_id", Value: "$conversationId"},
		{Key: "lastMessage", Value: bson.D{{Key: "$last", Value: "$$ROOT"}}},
	}}}
	markerStage := bson.D{{Key: "$lookup", Value: bson.D{
		{Key: "from", Value: readMarkersCollection},
		{Key: "let", Value: bson.D{{Key: "cid", Value: "$_id"}}},
		{Key: "pipeline", Value: mongo.Pipeline{
			{{Key: "$match", Value: bson.D{{Key: "$expr", Value: bson.D{{Key: "$and", Value: bson.A{
				bson.D{{Key: "$eq", Value: bson.A{"$conversationId", "$$cid"}}},
				bson.D{{Key: "$eq", Value: bson.A{"$userId", userId}}},
			}}}}}}},
		}},
		{Key: "as", Value: "marker"},
	}}}
	lastReadStage := bson.D{{Key: "$addFields", Value: bson.D{
		{Key: "lastReadNs", Value: bson.D{{Key: "$ifNull", Value: bson.A{
			bson.D{{Key: "$first", Value: "$marker.lastReadAtNs"}},
			int64(0),
		}}}},
	}}}
	unreadStage := bson.D{{Key: "$lookup", Value: bson.D{
		{Key: "from", Value: messagesCollection},
		{Key: "let", Value: bson.D{{Key: "cid", Value: "$_id"}, {Key: "since", Value: "$lastReadNs"}}},
		{Key: "pipeline", Value: mongo.Pipeline{
			{{Key: "$match", Value: bson.D{{Key: "$expr", Value: bson.D{{Key: "$and", Value: bson.A{
				bson.D{{Key: "$eq", Value: bson.A{"$conversationId", "$$cid"}}},
				bson.D{{Key: "$eq", Value: bson.A{"$recipientId", userId}}},
				bson.D{{Key: "$gt", Value: bson.A{"$createdAtNs", "$$since"}}},
			}}}}}}},
			{{Key: "$count", Value: "n"}},
		}},
		{Key: "as", Value: "unread"},
	}}}
	projectStage := bson.D{{Key: "$project", Value: bson.D{
		{Key: "_id", Value: 0},
		{Key: "conversationId", Value: "$_id"},
		{Key: "lastMessage", Value: 1},
		{Key: "unreadCount", Value: bson.D{{Key: "$ifNull", Value: bson.A{
			bson.D{{Key: "$first", Value: "$unread.n"}},
			0,
		}}}},
	}}}

	cursor, err := collection.Aggregate(ctx, mongo.Pipeline{
		matchStage, sortStage, groupStage, markerStage, lastReadStage, unreadStage, projectStage,
	})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var rows []overviewRow
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, err
	}

	conversations := make([]entity.Conversation, 0, len(rows))
	for _, row := range rows {
		last := row.LastMessage.toEntity()
		conversations = append(conversations, entity.Conversation{
			ConversationId: row.ConversationId,
			PeerId:         last.PeerOf(userId),
			LastMessage:    last,
			UnreadCount:    row.UnreadCount,
		})
	}
	return conversations, nil
}
