package usecase

import (
	"errors"
	"fmt"

	"loventia/internal/entity"
)

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrNotParticipant = errors.New("not a participant of this conversation")
)

// TokenVerifier turns an opaque access token into a verified identity.
type TokenVerifier interface {
	ValidateAccessToken(token string) (entity.Identity, error)
}

type AuthUsecase interface {
	Authenticate(token string) (entity.Identity, error)
	// Authorize checks that identity takes part in conversationId and returns
	// the other participant.
	Authorize(identity entity.Identity, conversationId string) (string, error)
}

type authUsecase struct {
	verifier TokenVerifier
}

func NewAuthUsecase(verifier TokenVerifier) AuthUsecase {
	return &authUsecase{
		verifier: verifier,
	}
}

func (u *authUsecase) Authenticate(token string) (entity.Identity, error) {
	if token == "" {
		return entity.Identity{}, ErrUnauthorized
	}

	identity, err := u.verifier.ValidateAccessToken(token)
	if err != nil {
		return entity.Identity{}, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	if identity.UserId == "" {
		return entity.Identity{}, ErrUnauthorized
	}
	return identity, nil
}

func (u *authUsecase) Authorize(identity entity.Identity, conversationId string) (string, error) {
	peerId, err := entity.CounterpartIn(conversationId, identity.UserId)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrNotParticipant, conversationId)
	}
	return peerId, nil
}
