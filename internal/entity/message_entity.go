package entity

import (
	"errors"
	"strings"
	"time"
)

// ConversationSeparator joins the two sorted participant ids of a conversation.
const ConversationSeparator = ":"

var ErrInvalidConversationId = errors.New("invalid conversation id")

// Message is immutable once persisted.
type Message struct {
	Id             string    `bson:"_id" json:"id"`
	ConversationId string    `bson:"conversationId" json:"conversationId"`
	SenderId       string    `bson:"senderId" json:"sender"`
	RecipientId    string    `bson:"recipientId" json:"recipient"`
	Text           string    `bson:"text" json:"text"`
	CreatedAt      time.Time `bson:"createdAt" json:"createdAt"`
}

// PeerOf returns the participant that is not userId.
func (m Message) PeerOf(userId string) string {
	if m.SenderId == userId {
		return m.RecipientId
	}
	return m.SenderId
}

// Conversation is derived from the message store on every read.
type Conversation struct {
	ConversationId string  `bson:"conversationId" json:"conversationId"`
	PeerId         string  `bson:"peerId" json:"peerId"`
	LastMessage    Message `bson:"lastMessage" json:"lastMessage"`
	UnreadCount    int     `bson:"unreadCount" json:"unreadCount"`
}

// ReadMarker is the high-water mark of what UserId has read in a conversation.
type ReadMarker struct {
	UserId         string    `bson:"userId" json:"userId"`
	ConversationId string    `bson:"conversationId" json:"conversationId"`
	LastReadAt     time.Time `bson:"lastReadAt" json:"lastReadAt"`
}

// ConversationId is order independent: both participants compute the same key.
func ConversationId(userA, userB string) string {
	if userB < userA {
		userA, userB = userB, userA
	}
	return userA + ConversationSeparator + userB
}

// ParseConversationId returns the two participants of a conversation id in sorted order.
func ParseConversationId(conversationId string) (string, string, error) {
	parts := strings.Split(conversationId, ConversationSeparator)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" || parts[0] > parts[1] {
		return "", "", ErrInvalidConversationId
	}
	return parts[0], parts[1], nil
}

// CounterpartIn returns the other participant of conversationId, or an error
// when userId does not take part in it.
func CounterpartIn(conversationId, userId string) (string, error) {
	a, b, err := ParseConversationId(conversationId)
	if err != nil {
		return "", err
	}
	switch userId {
	case a:
		return b, nil
	case b:
		return a, nil
	}
	return "", ErrInvalidConversationId
}
