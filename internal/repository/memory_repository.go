package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"loventia/internal/entity"
)

type markerKey struct {
	userId         string
	conversationId string
}

// MemoryStore keeps messages and read markers in process. It implements both
// MessageRepository and ReadMarkerRepository and is what tests and local runs use.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string][]entity.Message    // conversationId -> ordered history
	userIndex     map[string]map[string]struct{} // userId -> conversationIds
	markers       map[markerKey]time.Time
}

var (
	_ MessageRepository    = (*MemoryStore)(nil)
	_ ReadMarkerRepository = (*MemoryStore)(nil)
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string][]entity.Message),
		userIndex:     make(map[string]map[string]struct{}),
		markers:       make(map[markerKey]time.Time),
	}
}

func (s *MemoryStore) Create(ctx context.Context, message entity.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	history := s.conversations[message.ConversationId]
	i := sort.Search(len(history), func(i int) bool {
		return messageBefore(message, history[i])
	})
	history = append(history, entity.Message{})
	copy(history[i+1:], history[i:])
	history[i] = message
	s.conversations[message.ConversationId] = history

	for _, userId := range []string{message.SenderId, message.RecipientId} {
		if s.userIndex[userId] == nil {
			s.userIndex[userId] = make(map[string]struct{})
		}
		s.userIndex[userId][message.ConversationId] = struct{}{}
	}
	return nil
}

func (s *MemoryStore) GetByConversationId(ctx context.Context, conversationId string) ([]entity.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.conversations[conversationId]
	messages := make([]entity.Message, len(history))
	copy(messages, history)
	return messages, nil
}

func (s *MemoryStore) Overview(ctx context.Context, userId string) ([]entity.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	conversations := make([]entity.Conversation, 0, len(s.userIndex[userId]))
	for conversationId := range s.userIndex[userId] {
		lastReadAt := s.markers[markerKey{userId: userId, conversationId: conversationId}]
		row, ok := summarize(userId, conversationId, s.conversations[conversationId], lastReadAt)
		if ok {
			conversations = append(conversations, row)
		}
	}
	return conversations, nil
}

func (s *MemoryStore) Advance(ctx context.Context, marker entity.ReadMarker) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := markerKey{userId: marker.UserId, conversationId: marker.ConversationId}
	if marker.LastReadAt.After(s.markers[key]) {
		s.markers[key] = marker.LastReadAt
	}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, userId, conversationId string) (entity.ReadMarker, error) {
	if err := ctx.Err(); err != nil {
		return entity.ReadMarker{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return entity.ReadMarker{
		UserId:         userId,
		ConversationId: conversationId,
		LastReadAt:     s.markers[markerKey{userId: userId, conversationId: conversationId}],
	}, nil
}
