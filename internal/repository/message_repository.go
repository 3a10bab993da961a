//go:generate go run go.uber.org/mock/mockgen -source=message_repository.go -destination=../mocks/mock_message_repository.go -package=mocks
package repository

import (
	"context"
	"time"

	"loventia/internal/entity"
)

const (
	messagesCollection    = "messages"
	readMarkersCollection = "read_markers"
)

// MessageRepository is the append-only persistence of chat messages.
// There is deliberately no update or delete.
type MessageRepository interface {
	Create(ctx context.Context, message entity.Message) error
	// GetByConversationId returns messages ordered by createdAt then id, ascending.
	GetByConversationId(ctx context.Context, conversationId string) ([]entity.Message, error)
	// Overview returns one row per conversation of userId with the latest
	// message and the number of messages addressed to userId after its read
	// marker. Rows are unordered.
	Overview(ctx context.Context, userId string) ([]entity.Conversation, error)
}

type messageDocument struct {
	Id             string    `bson:"_id"`
	ConversationId string    `bson:"conversationId"`
	SenderId       string    `bson:"senderId"`
	RecipientId    string    `bson:"recipientId"`
	Text           string    `bson:"text"`
	CreatedAt      time.Time `bson:"createdAt"`
	// BSON dates only carry milliseconds; ordering and unread counting use this.
	CreatedAtNs int64 `bson:"createdAtNs"`
}

func toMessageDocument(message entity.Message) messageDocument {
	return messageDocument{
		Id:             message.Id,
		ConversationId: message.ConversationId,
		SenderId:       message.SenderId,
		RecipientId:    message.RecipientId,
		Text:           message.Text,
		CreatedAt:      message.CreatedAt,
		CreatedAtNs:    message.CreatedAt.UnixNano(),
	}
}

func (d messageDocument) toEntity() entity.Message {
	return entity.Message{
		Id:             d.Id,
		ConversationId: d.ConversationId,
		SenderId:       d.SenderId,
		RecipientId:    d.RecipientId,
		Text:           d.Text,
		CreatedAt:      time.Unix(0, d.CreatedAtNs).UTC(),
	}
}
