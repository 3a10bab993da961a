package websocket

import (
	"loventia/internal/entity"
)

func errorFrame(message string) []byte {
	frame, _ := entity.NewEvent(entity.EventError, entity.ErrorPayload{Error: message})
	return frame
}

func pongFrame(heartbeat entity.HeartbeatPayload) []byte {
	frame, _ := entity.NewEvent(entity.EventPong, heartbeat)
	return frame
}

func sentFrame(clientRef string, message entity.Message) []byte {
	frame, _ := entity.NewEvent(entity.EventMessageSent, entity.MessageSentPayload{
		ClientRef: clientRef,
		Message:   message,
	})
	return frame
}

func failedFrame(payload entity.SendMessagePayload, reason string, err error) []byte {
	frame, _ := entity.NewEvent(entity.EventMessageFailed, entity.MessageFailedPayload{
		ClientRef: payload.Message.ClientRef,
		RoomId:    payload.RoomId,
		Reason:    reason,
		Error:     err.Error(),
	})
	return frame
}
