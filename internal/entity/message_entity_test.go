package entity

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConversationId_IsOrderIndependent(t *testing.T) {
	req := require.New(t)
	pairs := [][2]string{
		{"alice", "bob"},
		{"64f1c0ffee", "64f1c0ffef"},
		{"u-2", "u-10"},
	}
	for _, p := range pairs {
		req.Equal(ConversationId(p[0], p[1]), ConversationId(p[1], p[0]))
	}
	req.Equal("alice:bob", ConversationId("bob", "alice"))
}

func TestParseConversationId(t *testing.T) {
	req := require.New(t)

	a, b, err := ParseConversationId(ConversationId("bob", "alice"))
	req.NoError(err)
	req.Equal("alice", a)
	req.Equal("bob", b)

	for _, bad := range []string{"", "alice", "alice:", ":bob", "bob:alice", "a:b:c"} {
		_, _, err = ParseConversationId(bad)
		req.ErrorIs(err, ErrInvalidConversationId, bad)
	}
}

func TestCounterpartIn(t *testing.T) {
	req := require.New(t)
	id := ConversationId("alice", "bob")

	peer, err := CounterpartIn(id, "alice")
	req.NoError(err)
	req.Equal("bob", peer)

	peer, err = CounterpartIn(id, "bob")
	req.NoError(err)
	req.Equal("alice", peer)

	_, err = CounterpartIn(id, "mallory")
	req.ErrorIs(err, ErrInvalidConversationId)
}

func TestMessage_PeerOf(t *testing.T) {
	req := require.New(t)
	m := Message{SenderId: "alice", RecipientId: "bob"}
	req.Equal("bob", m.PeerOf("alice"))
	req.Equal("alice", m.PeerOf("bob"))
}

func TestNewEvent(t *testing.T) {
	req := require.New(t)
	frame, err := NewEvent(EventJoinRoom, "alice:bob")
	req.NoError(err)

	var evt Event
	req.NoError(json.Unmarshal(frame, &evt))
	req.Equal(EventJoinRoom, evt.Event)

	var room string
	req.NoError(json.Unmarshal(evt.Data, &room))
	req.Equal("alice:bob", room)
}
