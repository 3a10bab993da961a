package usecase

import (
	"context"
	"sync"

	"loventia/internal/entity"

	"github.com/rs/zerolog"
)

type DeliveryState string

const (
	StateReceived     DeliveryState = "RECEIVED"
	StatePersisted    DeliveryState = "PERSISTED"
	StateBroadcast    DeliveryState = "BROADCAST"
	StateAcknowledged DeliveryState = "ACKNOWLEDGED"
	StateFailed       DeliveryState = "FAILED"
)

// DeliveryObserver is notified of every state a send request enters.
type DeliveryObserver interface {
	ObserveDelivery(state DeliveryState)
}

type DeliveryUsecase interface {
	// Deliver persists the message, broadcasts it to its conversation room and
	// then calls ack, if not nil, with the persisted message. Sends within one
	// conversation are serialized, so broadcast order equals persist order.
	Deliver(ctx context.Context, senderId, recipientId, text string, ack func(entity.Message)) (entity.Message, error)
}

type deliveryUsecase struct {
	messages    MessageUsecase
	broadcaster Broadcaster
	observer    DeliveryObserver
	log         zerolog.Logger
	locks       *conversationLocks
}

func NewDeliveryUsecase(
	messages MessageUsecase,
	broadcaster Broadcaster,
	observer DeliveryObserver,
	log zerolog.Logger,
) DeliveryUsecase {
	return &deliveryUsecase{
		messages:    messages,
		broadcaster: broadcaster,
		observer:    observer,
		log:         log.With().Str("component", "delivery").Logger(),
		locks:       newConversationLocks(),
	}
}

func (u *deliveryUsecase) observe(state DeliveryState) {
	if u.observer != nil {
		u.observer.ObserveDelivery(state)
	}
}

func (u *deliveryUsecase) Deliver(ctx context.Context, senderId, recipientId, text string, ack func(entity.Message)) (entity.Message, error) {
	u.observe(StateReceived)

	unlock := u.locks.lock(entity.ConversationId(senderId, recipientId))
	message, err := u.messages.Append(ctx, senderId, recipientId, text)
	if err != nil {
		unlock()
		u.observe(StateFailed)
		return entity.Message{}, err
	}
	u.observe(StatePersisted)

	event, err := entity.NewEvent(entity.EventNewMessage, message)
	if err != nil {
		// The message is durable; members recover it through history.
		u.log.Error().Err(err).Str("message_id", message.Id).Msg("failed to encode newMessage")
	} else {
		u.broadcaster.Broadcast(message.ConversationId, event)
	}
	unlock()
	u.observe(StateBroadcast)

	if ack != nil {
		ack(message)
	}
	u.observe(StateAcknowledged)

	u.log.Debug().
		Str("message_id", message.Id).
		Str("conversation_id", message.ConversationId).
		Msg("message delivered")
	return message, nil
}

// conversationLocks is a mutex per conversation id, dropped once unused.
type conversationLocks struct {
	mu    sync.Mutex
	locks map[string]*conversationLock
}

type conversationLock struct {
	sync.Mutex
	refs int
}

func newConversationLocks() *conversationLocks {
	return &conversationLocks{locks: make(map[string]*conversationLock)}
}

func (l *conversationLocks) lock(key string) (unlock func()) {
	l.mu.Lock()
	cl, ok := l.locks[key]
	if !ok {
		cl = &conversationLock{}
		l.locks[key] = cl
	}
	cl.refs++
	l.mu.Unlock()

	cl.Lock()
	return func() {
		cl.Unlock()
		l.mu.Lock()
		cl.refs--
		if cl.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}
