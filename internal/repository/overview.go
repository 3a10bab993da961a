package repository

import (
	"time"

	"loventia/internal/entity"

	"github.com/samber/lo"
)

// messageBefore is the history order: createdAt, then id.
func messageBefore(a, b entity.Message) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.Id < b.Id
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

// summarize builds the overview row of one conversation from its ordered history.
func summarize(userId, conversationId string, history []entity.Message, lastReadAt time.Time) (entity.Conversation, bool) {
	if len(history) == 0 {
		return entity.Conversation{}, false
	}

	last := history[len(history)-1]
	unread := lo.CountBy(history, func(m entity.Message) bool {
		return m.RecipientId == userId && m.CreatedAt.After(lastReadAt)
	})

	return entity.Conversation{
		ConversationId: conversationId,
		PeerId:         last.PeerOf(userId),
		LastMessage:    last,
		UnreadCount:    unread,
	}, true
}
