package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"

	"loventia/infrastructure/ws"
	"loventia/internal/entity"
	"loventia/internal/usecase"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

var (
	errRateLimited  = errors.New("too many messages, slow down")
	errUnknownEvent = errors.New("unknown event")
	errRoomRequired = errors.New("roomId is required")
	errClientRef    = errors.New("clientRef is too long")
)

// payloadError turns a validator failure into the error reported to the
// sender, naming the first offending field.
func payloadError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return ErrMalformedEvent
	}
	switch fieldErrs[0].Field() {
	case "RoomId":
		return errRoomRequired
	case "ClientRef":
		return errClientRef
	default:
		return usecase.ErrEmptyText
	}
}

type Options struct {
	// AllowedOrigins is checked against the Origin header; "*" or an empty
	// list allows any origin.
	AllowedOrigins    []string
	SendRatePerSecond float64
	SendBurst         int
}

type WebsocketHandler struct {
	hub        ws.IHub
	authUc     usecase.AuthUsecase
	deliveryUc usecase.DeliveryUsecase
	upgrader   websocket.Upgrader
	validate   *validator.Validate
	sendRate   rate.Limit
	sendBurst  int
	log        zerolog.Logger
}

func NewWebsocketHandler(hub ws.IHub, authUc usecase.AuthUsecase, deliveryUc usecase.DeliveryUsecase, opts Options, log zerolog.Logger) *WebsocketHandler {
	h := &WebsocketHandler{
		hub:        hub,
		authUc:     authUc,
		deliveryUc: deliveryUc,
		validate:   validator.New(),
		sendRate:   rate.Limit(opts.SendRatePerSecond),
		sendBurst:  opts.SendBurst,
		log:        log.With().Str("component", "gateway").Logger(),
	}
	if h.sendRate <= 0 {
		h.sendRate = rate.Inf
	}
	if h.sendBurst <= 0 {
		h.sendBurst = 1
	}

	origins := opts.AllowedOrigins
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || len(origins) == 0 ||
				slices.Contains(origins, "*") || slices.Contains(origins, origin)
		},
	}
	return h
}

// handshakeToken reads the credential from the Authorization header, falling
// back to the token query parameter for browsers that cannot set headers on
// websocket requests.
func handshakeToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return token
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// Method Get /ws
func (h *WebsocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	identity, err := h.authUc.Authenticate(handshakeToken(r))
	if err != nil {
		h.log.Debug().Err(err).Msg("handshake rejected")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"invalid or expired token","data":null}`)) //nolint:errcheck
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("upgrade error")
		return
	}

	client := ws.NewUserClient(h.hub, conn, identity.UserId, h.log)
	h.hub.RegisterClient(client)

	s := &session{
		handler:  h,
		identity: identity,
		limiter:  rate.NewLimiter(h.sendRate, h.sendBurst),
		ctx:      context.WithoutCancel(r.Context()),
	}

	go client.WritePump()
	client.ReadPump(s.handle)
}

// session is the per-connection state of the gateway. Its handle method is
// only ever called from the connection's read pump.
type session struct {
	handler  *WebsocketHandler
	identity entity.Identity
	limiter  *rate.Limiter
	ctx      context.Context
}

func (s *session) handle(client *ws.UserClient, payload []byte) {
	h := s.handler

	event, err := decodeEvent(payload)
	if err != nil {
		client.Send(errorFrame(err.Error()))
		return
	}

	switch event.Event {
	case entity.EventJoinRoom:
		room, err := decodeRoom(event.Data)
		if err != nil {
			client.Send(errorFrame(err.Error()))
			return
		}
		if _, err := h.authUc.Authorize(s.identity, room); err != nil {
			client.Send(errorFrame(usecase.ErrNotParticipant.Error()))
			return
		}
		h.hub.Join(client, room)

	case entity.EventLeaveRoom:
		room, err := decodeRoom(event.Data)
		if err != nil {
			client.Send(errorFrame(err.Error()))
			return
		}
		h.hub.Leave(client, room)

	case entity.EventSendMessage:
		s.sendMessage(client, event.Data)

	case entity.EventPing:
		client.Send(pongFrame(decodeHeartbeat(event.Data)))

	default:
		client.Send(errorFrame(errUnknownEvent.Error() + ": " + event.Event))
	}
}

func (s *session) sendMessage(client *ws.UserClient, data json.RawMessage) {
	h := s.handler

	payload, err := decodeSendMessage(data)
	if err != nil {
		client.Send(failedFrame(payload, entity.FailureValidation, err))
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		client.Send(failedFrame(payload, entity.FailureValidation, payloadError(err)))
		return
	}
	if !s.limiter.Allow() {
		client.Send(failedFrame(payload, entity.FailureRateLimited, errRateLimited))
		return
	}

	recipientId, err := h.authUc.Authorize(s.identity, payload.RoomId)
	if err != nil {
		client.Send(failedFrame(payload, entity.FailureForbidden, usecase.ErrNotParticipant))
		return
	}

	_, err = h.deliveryUc.Deliver(s.ctx, s.identity.UserId, recipientId, payload.Message.Text, func(message entity.Message) {
		client.Send(sentFrame(payload.Message.ClientRef, message))
	})
	if err != nil {
		if usecase.IsValidation(err) {
			client.Send(failedFrame(payload, entity.FailureValidation, err))
			return
		}
		h.log.Error().Err(err).Str("room", payload.RoomId).Msg("send failed")
		client.Send(failedFrame(payload, entity.FailurePersistence, usecase.ErrPersistence))
	}
}
