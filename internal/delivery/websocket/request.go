package websocket

import (
	"encoding/json"
	"errors"

	"loventia/internal/entity"
)

var ErrMalformedEvent = errors.New("malformed event")

func decodeEvent(payload []byte) (entity.Event, error) {
	var event entity.Event
	if err := json.Unmarshal(payload, &event); err != nil || event.Event == "" {
		return entity.Event{}, ErrMalformedEvent
	}
	return event, nil
}

// decodeRoom accepts the room id as a bare JSON string.
func decodeRoom(data json.RawMessage) (string, error) {
	var room string
	if err := json.Unmarshal(data, &room); err != nil || room == "" {
		return "", ErrMalformedEvent
	}
	return room, nil
}

func decodeSendMessage(data json.RawMessage) (entity.SendMessagePayload, error) {
	var payload entity.SendMessagePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return entity.SendMessagePayload{}, ErrMalformedEvent
	}
	return payload, nil
}

func decodeHeartbeat(data json.RawMessage) entity.HeartbeatPayload {
	var heartbeat entity.HeartbeatPayload
	if len(data) > 0 {
		_ = json.Unmarshal(data, &heartbeat)
	}
	return heartbeat
}
