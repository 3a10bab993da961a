package usecase

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"loventia/internal/entity"
	"loventia/internal/repository"
)

type ConversationUsecase interface {
	// Overview lists the user's conversations, most recent last message first.
	Overview(ctx context.Context, userId string) ([]entity.Conversation, error)
}

type conversationUsecase struct {
	messageRepo repository.MessageRepository
}

func NewConversationUsecase(messageRepo repository.MessageRepository) ConversationUsecase {
	return &conversationUsecase{
		messageRepo: messageRepo,
	}
}

func (u *conversationUsecase) Overview(ctx context.Context, userId string) ([]entity.Conversation, error) {
	if userId == "" || strings.Contains(userId, entity.ConversationSeparator) {
		return nil, ErrInvalidParticipant
	}

	conversations, err := u.messageRepo.Overview(ctx, userId)
	if err != nil {
		return nil, fmt.Errorf("overview: %w", err)
	}
	if conversations == nil {
		return []entity.Conversation{}, nil
	}

	slices.SortStableFunc(conversations, func(a, b entity.Conversation) int {
		if c := b.LastMessage.CreatedAt.Compare(a.LastMessage.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ConversationId, b.ConversationId)
	})
	return conversations, nil
}
