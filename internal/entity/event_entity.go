package entity

import "encoding/json"

// Wire event names shared by the gateway and the connection manager.
const (
	EventJoinRoom      = "joinRoom"
	EventLeaveRoom     = "leaveRoom"
	EventSendMessage   = "sendMessage"
	EventNewMessage    = "newMessage"
	EventMessageSent   = "messageSent"
	EventMessageFailed = "messageFailed"
	EventPing          = "ping"
	EventPong          = "pong"
	EventError         = "error"
)

// Failure reasons carried by messageFailed.
const (
	FailureValidation  = "validation"
	FailurePersistence = "persistence"
	FailureRateLimited = "rate_limited"
	FailureForbidden   = "forbidden"
)

type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type OutgoingMessage struct {
	Text      string `json:"text" validate:"required"`
	ClientRef string `json:"clientRef,omitempty" validate:"omitempty,max=64"`
}

type SendMessagePayload struct {
	RoomId  string          `json:"roomId" validate:"required"`
	Message OutgoingMessage `json:"message"`
}

type MessageSentPayload struct {
	ClientRef string  `json:"clientRef,omitempty"`
	Message   Message `json:"message"`
}

type MessageFailedPayload struct {
	ClientRef string `json:"clientRef,omitempty"`
	RoomId    string `json:"roomId,omitempty"`
	Reason    string `json:"reason"`
	Error     string `json:"error"`
}

type HeartbeatPayload struct {
	Ts int64 `json:"ts"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}

// NewEvent encodes data into an event frame.
func NewEvent(name string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Event{Event: name, Data: raw})
}
