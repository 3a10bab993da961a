package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"loventia/internal/entity"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStore persists messages and read markers in an embedded BadgerDB.
//
// Keys:
//
//	msg:{conversationId}:{createdAt nanos, 19 digits}:{id}  -> JSON message
//	conv:{userId}:{conversationId}                          -> empty
//	read:{userId}:{conversationId}                          -> lastReadAt nanos
//
// The zero padded timestamp makes a prefix scan return history in order, and
// the id breaks ties between messages stored at the same nanosecond.
type BadgerStore struct {
	db *badger.DB
}

var (
	_ MessageRepository    = (*BadgerStore)(nil)
	_ ReadMarkerRepository = (*BadgerStore)(nil)
)

const advanceRetries = 3

func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func messagePrefix(conversationId string) string {
	return "msg:" + conversationId + ":"
}

func messageKey(message entity.Message) []byte {
	return []byte(fmt.Sprintf("%s%019d:%s",
		messagePrefix(message.ConversationId),
		message.CreatedAt.UnixNano(),
		message.Id,
	))
}

func userConversationPrefix(userId string) string {
	return "conv:" + userId + ":"
}

func readMarkerKey(userId, conversationId string) []byte {
	return []byte("read:" + userId + ":" + conversationId)
}

func (s *BadgerStore) Create(ctx context.Context, message entity.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	bytes, err := json.Marshal(message)
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(messageKey(message), bytes); err != nil {
			return err
		}
		for _, userId := range []string{message.SenderId, message.RecipientId} {
			if err := txn.Set([]byte(userConversationPrefix(userId)+message.ConversationId), nil); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BadgerStore) GetByConversationId(ctx context.Context, conversationId string) ([]entity.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	messages := []entity.Message{}
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(messagePrefix(conversationId))
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			message, err := decodeMessage(it.Item())
			if err != nil {
				return err
			}
			messages = append(messages, message)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (s *BadgerStore) Overview(ctx context.Context, userId string) ([]entity.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conversations := []entity.Conversation{}
	err := s.db.View(func(txn *badger.Txn) error {
		conversationIds, err := userConversations(txn, userId)
		if err != nil {
			return err
		}

		for _, conversationId := range conversationIds {
			row, ok, err := summarizeStored(txn, userId, conversationId)
			if err != nil {
				return err
			}
			if ok {
				conversations = append(conversations, row)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conversations, nil
}

func userConversations(txn *badger.Txn, userId string) ([]string, error) {
	prefix := userConversationPrefix(userId)
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	var conversationIds []string
	for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
		conversationIds = append(conversationIds, strings.TrimPrefix(string(it.Item().Key()), prefix))
	}
	return conversationIds, nil
}

// summarizeStored reads the latest message with a reverse scan and counts
// incoming messages stored after the read marker with a forward scan from it.
func summarizeStored(txn *badger.Txn, userId, conversationId string) (entity.Conversation, bool, error) {
	lastReadNs, err := readMarkerNanos(txn, userId, conversationId)
	if err != nil {
		return entity.Conversation{}, false, err
	}

	prefix := []byte(messagePrefix(conversationId))

	last, found, err := lastMessage(txn, prefix)
	if err != nil || !found {
		return entity.Conversation{}, false, err
	}

	unread := 0
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()
	for it.Seek([]byte(fmt.Sprintf("%s%019d", prefix, lastReadNs+1))); it.ValidForPrefix(prefix); it.Next() {
		message, err := decodeMessage(it.Item())
		if err != nil {
			return entity.Conversation{}, false, err
		}
		if message.RecipientId == userId {
			unread++
		}
	}

	return entity.Conversation{
		ConversationId: conversationId,
		PeerId:         last.PeerOf(userId),
		LastMessage:    last,
		UnreadCount:    unread,
	}, true, nil
}

func lastMessage(txn *badger.Txn, prefix []byte) (entity.Message, bool, error) {
	opts := badger.DefaultIteratorOptions
	opts.Reverse = true
	it := txn.NewIterator(opts)
	defer it.Close()

	// '~' sorts after every digit, so the seek lands past the newest key.
	it.Seek(append(append([]byte{}, prefix...), '~'))
	if !it.ValidForPrefix(prefix) {
		return entity.Message{}, false, nil
	}
	message, err := decodeMessage(it.Item())
	if err != nil {
		return entity.Message{}, false, err
	}
	return message, true, nil
}

func decodeMessage(item *badger.Item) (entity.Message, error) {
	var message entity.Message
	err := item.Value(func(value []byte) error {
		return json.Unmarshal(value, &message)
	})
	return message, err
}

func readMarkerNanos(txn *badger.Txn, userId, conversationId string) (int64, error) {
	item, err := txn.Get(readMarkerKey(userId, conversationId))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var nanos int64
	err = item.Value(func(value []byte) error {
		nanos, err = strconv.ParseInt(string(value), 10, 64)
		return err
	})
	return nanos, err
}

func (s *BadgerStore) Advance(ctx context.Context, marker entity.ReadMarker) error {
	next := marker.LastReadAt.UnixNano()
	var err error
	for range advanceRetries {
		if err = ctx.Err(); err != nil {
			return err
		}
		err = s.db.Update(func(txn *badger.Txn) error {
			current, err := readMarkerNanos(txn, marker.UserId, marker.ConversationId)
			if err != nil {
				return err
			}
			if next <= current {
				return nil
			}
			return txn.Set(readMarkerKey(marker.UserId, marker.ConversationId), []byte(strconv.FormatInt(next, 10)))
		})
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func (s *BadgerStore) Get(ctx context.Context, userId, conversationId string) (entity.ReadMarker, error) {
	if err := ctx.Err(); err != nil {
		return entity.ReadMarker{}, err
	}

	marker := entity.ReadMarker{UserId: userId, ConversationId: conversationId}
	err := s.db.View(func(txn *badger.Txn) error {
		nanos, err := readMarkerNanos(txn, userId, conversationId)
		if err != nil {
			return err
		}
		if nanos > 0 {
			marker.LastReadAt = time.Unix(0, nanos).UTC()
		}
		return nil
	})
	return marker, err
}
