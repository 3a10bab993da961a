package jwt

import (
	"testing"
	"time"

	"loventia/internal/entity"

	"github.com/stretchr/testify/require"
)

func TestJWTManager_RoundTrip(t *testing.T) {
	req := require.New(t)
	m := NewJWTManager("secret", time.Minute)

	token, err := m.GenerateAccessToken(entity.Identity{UserId: "alice", Username: "Alice"})
	req.NoError(err)

	identity, err := m.ValidateAccessToken(token)
	req.NoError(err)
	req.Equal("alice", identity.UserId)
	req.Equal("Alice", identity.Username)
}

func TestJWTManager_RejectsForeignSecret(t *testing.T) {
	req := require.New(t)
	token, err := NewJWTManager("other", time.Minute).GenerateAccessToken(entity.Identity{UserId: "alice"})
	req.NoError(err)

	_, err = NewJWTManager("secret", time.Minute).ValidateAccessToken(token)
	req.ErrorIs(err, ErrInvalidToken)
}

func TestJWTManager_RejectsExpired(t *testing.T) {
	req := require.New(t)
	m := NewJWTManager("secret", -time.Minute)
	token, err := m.GenerateAccessToken(entity.Identity{UserId: "alice"})
	req.NoError(err)

	_, err = m.ValidateAccessToken(token)
	req.ErrorIs(err, ErrExpiredToken)
}

func TestJWTManager_RejectsGarbage(t *testing.T) {
	_, err := NewJWTManager("secret", time.Minute).ValidateAccessToken("not-a-token")
	require.ErrorIs(t, err, ErrInvalidToken)
}
