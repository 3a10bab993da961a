package ws

import "context"

// IHub is the realtime gateway registry: connections, room membership and
// fan-out. Membership changes and broadcasts are applied in the order they
// were requested.
type IHub interface {
	Run(ctx context.Context)
	RegisterClient(client *UserClient)
	UnregisterClient(client *UserClient)
	Join(client *UserClient, room string)
	Leave(client *UserClient, room string)
	Broadcast(room string, message []byte)
	SendToClient(client *UserClient, message []byte) bool
	GetClientCount() int
	GetRoomCount() int
}
