package ws

import (
	"context"
	"sync"

	"loventia/infrastructure/metrics"

	"github.com/rs/zerolog"
)

type commandKind int

const (
	cmdRegister commandKind = iota
	cmdUnregister
	cmdJoin
	cmdLeave
	cmdBroadcast
)

type command struct {
	kind    commandKind
	client  *UserClient
	room    string
	message []byte
}

type Hub struct {
	clients map[*UserClient]map[string]struct{} // client -> joined rooms
	rooms   map[string]map[*UserClient]struct{} // room -> members
	mu      sync.RWMutex

	// One queue for every kind of command keeps join, leave and broadcast in
	// request order.
	commands  chan command
	done      chan struct{}
	stopOnce  sync.Once
	enqueueMu sync.RWMutex // held for reading while a command is queued

	log     zerolog.Logger
	metrics *metrics.Metrics
}

var _ IHub = (*Hub)(nil)

func NewHub(log zerolog.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		clients:  make(map[*UserClient]map[string]struct{}),
		rooms:    make(map[string]map[*UserClient]struct{}),
		commands: make(chan command, 256),
		done:     make(chan struct{}),
		log:      log.With().Str("component", "hub").Logger(),
		metrics:  m,
	}
}

// Run applies commands until ctx is cancelled, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer h.stop()

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-h.commands:
			h.apply(cmd)
		}
	}
}

// stop closes every client, including ones whose registration was still
// queued when Run returned.
func (h *Hub) stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		// Wait out enqueue calls that saw the hub running; none can start now.
		h.enqueueMu.Lock()
		h.enqueueMu.Unlock() //nolint:staticcheck

		h.mu.Lock()
		for client := range h.clients {
			h.removeLocked(client)
		}
	drain:
		for {
			select {
			case cmd := <-h.commands:
				if cmd.kind == cmdRegister && !cmd.client.closed {
					cmd.client.closed = true
					close(cmd.client.send)
				}
			default:
				break drain
			}
		}
		h.mu.Unlock()
		h.metrics.SetRooms(0)
	})
}

func (h *Hub) apply(cmd command) {
	switch cmd.kind {
	case cmdRegister:
		h.mu.Lock()
		h.clients[cmd.client] = make(map[string]struct{})
		h.mu.Unlock()
		h.metrics.ClientConnected()
		h.log.Debug().Str("user_id", cmd.client.UserId).Msg("client connected")

	case cmdUnregister:
		h.mu.Lock()
		removed := h.removeLocked(cmd.client)
		rooms := len(h.rooms)
		h.mu.Unlock()
		if removed {
			h.metrics.SetRooms(rooms)
			h.log.Debug().Str("user_id", cmd.client.UserId).Msg("client disconnected")
		}

	case cmdJoin:
		h.mu.Lock()
		joined, ok := h.clients[cmd.client]
		if ok {
			joined[cmd.room] = struct{}{}
			if h.rooms[cmd.room] == nil {
				h.rooms[cmd.room] = make(map[*UserClient]struct{})
			}
			h.rooms[cmd.room][cmd.client] = struct{}{}
		}
		rooms := len(h.rooms)
		h.mu.Unlock()
		h.metrics.SetRooms(rooms)

	case cmdLeave:
		h.mu.Lock()
		if joined, ok := h.clients[cmd.client]; ok {
			delete(joined, cmd.room)
			h.leaveLocked(cmd.client, cmd.room)
		}
		rooms := len(h.rooms)
		h.mu.Unlock()
		h.metrics.SetRooms(rooms)

	case cmdBroadcast:
		h.broadcastLocal(cmd.room, cmd.message)
	}
}

// broadcastLocal delivers to every member joined when the command is applied.
// A member whose buffer is full is disconnected rather than allowed to stall
// the room.
func (h *Hub) broadcastLocal(room string, message []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var slow []*UserClient
	for client := range h.rooms[room] {
		select {
		case client.send <- message:
		default:
			slow = append(slow, client)
		}
	}
	for _, client := range slow {
		h.metrics.BroadcastDropped()
		h.log.Warn().Str("user_id", client.UserId).Str("room", room).Msg("dropping slow client")
		h.removeLocked(client)
	}
	if len(slow) > 0 {
		h.metrics.SetRooms(len(h.rooms))
	}
}

// removeLocked forgets client everywhere and closes its send channel.
// Callers hold h.mu for writing.
func (h *Hub) removeLocked(client *UserClient) bool {
	joined, ok := h.clients[client]
	if !ok {
		return false
	}
	for room := range joined {
		h.leaveLocked(client, room)
	}
	delete(h.clients, client)
	client.closed = true
	close(client.send)
	h.metrics.ClientDisconnected()
	return true
}

func (h *Hub) leaveLocked(client *UserClient, room string) {
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, client)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// enqueue hands cmd to the Run loop. It reports false once the hub stopped.
func (h *Hub) enqueue(cmd command) bool {
	h.enqueueMu.RLock()
	defer h.enqueueMu.RUnlock()

	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.commands <- cmd:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) RegisterClient(client *UserClient) {
	if h.enqueue(command{kind: cmdRegister, client: client}) {
		return
	}
	// Stopped hub: close the client so its pumps exit.
	h.mu.Lock()
	if !client.closed {
		client.closed = true
		close(client.send)
	}
	h.mu.Unlock()
}

func (h *Hub) UnregisterClient(client *UserClient) {
	h.enqueue(command{kind: cmdUnregister, client: client})
}

func (h *Hub) Join(client *UserClient, room string) {
	h.enqueue(command{kind: cmdJoin, client: client, room: room})
}

func (h *Hub) Leave(client *UserClient, room string) {
	h.enqueue(command{kind: cmdLeave, client: client, room: room})
}

func (h *Hub) Broadcast(room string, message []byte) {
	h.enqueue(command{kind: cmdBroadcast, room: room, message: message})
}

// SendToClient queues message for a single connection without blocking.
// It reports false when the client is gone or its buffer is full.
func (h *Hub) SendToClient(client *UserClient, message []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if client.closed {
		return false
	}
	select {
	case client.send <- message:
		return true
	default:
		h.log.Warn().Str("user_id", client.UserId).Msg("failed to send to client")
		return false
	}
}

func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) GetRoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// IsMember reports whether client is currently joined to room.
func (h *Hub) IsMember(client *UserClient, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[room][client]
	return ok
}
