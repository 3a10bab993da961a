package ws

import (
	"context"
	"encoding/json"
	"strings"

	"loventia/infrastructure/metrics"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const roomChannelPrefix = "rooms:"

// RedisHub fans room broadcasts out across instances. Local members are served
// by the embedded Hub; every broadcast is also published so other instances can
// deliver it to their own members of the room.
type RedisHub struct {
	*Hub

	redisClient *redis.Client
	serverID    string
}

type RedisMessage struct {
	FromServerID string `json:"fromServerId"`
	Room         string `json:"room"`
	Payload      []byte `json:"payload"`
}

var _ IHub = (*RedisHub)(nil)

func NewRedisHub(redisClient *redis.Client, serverID string, log zerolog.Logger, m *metrics.Metrics) *RedisHub {
	hub := NewHub(log, m)
	hub.log = hub.log.With().Str("server_id", serverID).Logger()
	return &RedisHub{
		Hub:         hub,
		redisClient: redisClient,
		serverID:    serverID,
	}
}

func (h *RedisHub) Run(ctx context.Context) {
	pubsub := h.redisClient.PSubscribe(ctx, roomChannelPrefix+"*")
	defer pubsub.Close()

	go h.subscribeRedis(ctx, pubsub)
	h.Hub.Run(ctx)
}

func (h *RedisHub) subscribeRedis(ctx context.Context, pubsub *redis.PubSub) {
	ch := pubsub.Channel()
	h.log.Info().Msg("redis subscriber started")

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var redisMsg RedisMessage
			if err := json.Unmarshal([]byte(msg.Payload), &redisMsg); err != nil {
				h.log.Error().Err(err).Msg("error unmarshaling redis message")
				continue
			}
			// Our own publications were already delivered locally.
			if redisMsg.FromServerID == h.serverID {
				continue
			}
			room := redisMsg.Room
			if room == "" {
				room = strings.TrimPrefix(msg.Channel, roomChannelPrefix)
			}
			h.Hub.Broadcast(room, redisMsg.Payload)
		}
	}
}

// Broadcast delivers locally and publishes for the other instances.
func (h *RedisHub) Broadcast(room string, message []byte) {
	h.Hub.Broadcast(room, message)
	h.publishToRedis(room, message)
}

func (h *RedisHub) publishToRedis(room string, message []byte) {
	msgBytes, err := json.Marshal(RedisMessage{
		FromServerID: h.serverID,
		Room:         room,
		Payload:      message,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("error marshaling redis message")
		return
	}

	err = h.redisClient.Publish(context.Background(), roomChannelPrefix+room, msgBytes).Err()
	if err != nil {
		h.log.Error().Err(err).Str("room", room).Msg("error publishing to redis")
	}
}
