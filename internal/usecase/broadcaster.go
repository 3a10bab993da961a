//go:generate go run go.uber.org/mock/mockgen -source=broadcaster.go -destination=../mocks/mock_broadcaster.go -package=mocks
package usecase

// Broadcaster fans a serialized event out to every connection joined to room.
type Broadcaster interface {
	Broadcast(room string, message []byte)
}
