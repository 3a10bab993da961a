package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"loventia/internal/entity"
	"loventia/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrEmptyText          = errors.New("message text is empty")
	ErrTextTooLong        = errors.New("message text is too long")
	ErrSelfMessage        = errors.New("cannot send a message to yourself")
	ErrInvalidParticipant = errors.New("invalid participant id")
	ErrPersistence        = errors.New("message could not be persisted")
)

// IsValidation reports whether err was raised before anything was persisted
// because the request itself is malformed.
func IsValidation(err error) bool {
	return errors.Is(err, ErrEmptyText) ||
		errors.Is(err, ErrTextTooLong) ||
		errors.Is(err, ErrSelfMessage) ||
		errors.Is(err, ErrInvalidParticipant)
}

type MessageUsecase interface {
	// Append is the single write path. It returns the message with its
	// assigned id and createdAt.
	Append(ctx context.Context, senderId, recipientId, text string) (entity.Message, error)
	History(ctx context.Context, userId, peerId string) ([]entity.Message, error)
	MarkRead(ctx context.Context, userId, peerId string) error
}

type messageUsecase struct {
	messageRepo repository.MessageRepository
	markerRepo  repository.ReadMarkerRepository
	maxLength   int
	log         zerolog.Logger

	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

// NewMessageUsecase builds the message store operations. maxLength <= 0
// disables the length check.
func NewMessageUsecase(
	messageRepo repository.MessageRepository,
	markerRepo repository.ReadMarkerRepository,
	maxLength int,
	log zerolog.Logger,
) MessageUsecase {
	return &messageUsecase{
		messageRepo: messageRepo,
		markerRepo:  markerRepo,
		maxLength:   maxLength,
		log:         log.With().Str("component", "message_usecase").Logger(),
		now:         time.Now,
	}
}

func validateParticipants(userId, peerId string) error {
	for _, id := range []string{userId, peerId} {
		if id == "" || strings.Contains(id, entity.ConversationSeparator) {
			return ErrInvalidParticipant
		}
	}
	if userId == peerId {
		return ErrSelfMessage
	}
	return nil
}

// tick returns a timestamp strictly after every timestamp it returned before,
// so createdAt never goes backwards even if the wall clock does.
// Callers hold u.mu.
func (u *messageUsecase) tick() time.Time {
	now := u.now().UTC()
	if !now.After(u.last) {
		now = u.last.Add(time.Nanosecond)
	}
	u.last = now
	return now
}

func (u *messageUsecase) Append(ctx context.Context, senderId, recipientId, text string) (entity.Message, error) {
	if err := validateParticipants(senderId, recipientId); err != nil {
		return entity.Message{}, err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return entity.Message{}, ErrEmptyText
	}
	if u.maxLength > 0 && utf8.RuneCountInString(text) > u.maxLength {
		return entity.Message{}, ErrTextTooLong
	}

	// Ids are time ordered and generated together with createdAt so that
	// (createdAt, id) order matches the order of Append calls.
	u.mu.Lock()
	id, err := uuid.NewV7()
	createdAt := u.tick()
	u.mu.Unlock()
	if err != nil {
		return entity.Message{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	message := entity.Message{
		Id:             id.String(),
		ConversationId: entity.ConversationId(senderId, recipientId),
		SenderId:       senderId,
		RecipientId:    recipientId,
		Text:           text,
		CreatedAt:      createdAt,
	}

	if err := u.messageRepo.Create(ctx, message); err != nil {
		u.log.Error().Err(err).
			Str("conversation_id", message.ConversationId).
			Msg("failed to persist message")
		return entity.Message{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	return message, nil
}

func (u *messageUsecase) History(ctx context.Context, userId, peerId string) ([]entity.Message, error) {
	if err := validateParticipants(userId, peerId); err != nil {
		return nil, err
	}

	messages, err := u.messageRepo.GetByConversationId(ctx, entity.ConversationId(userId, peerId))
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	if messages == nil {
		messages = []entity.Message{}
	}
	return messages, nil
}

func (u *messageUsecase) MarkRead(ctx context.Context, userId, peerId string) error {
	if err := validateParticipants(userId, peerId); err != nil {
		return err
	}

	u.mu.Lock()
	readAt := u.tick()
	u.mu.Unlock()

	err := u.markerRepo.Advance(ctx, entity.ReadMarker{
		UserId:         userId,
		ConversationId: entity.ConversationId(userId, peerId),
		LastReadAt:     readAt,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return nil
}
