package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"loventia/internal/usecase"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

type HttpHandler struct {
	messageUc      usecase.MessageUsecase
	conversationUc usecase.ConversationUsecase
	deliveryUc     usecase.DeliveryUsecase
	validate       *validator.Validate
	log            zerolog.Logger
}

func NewHttpHandler(
	messageUc usecase.MessageUsecase,
	conversationUc usecase.ConversationUsecase,
	deliveryUc usecase.DeliveryUsecase,
	log zerolog.Logger,
) *HttpHandler {
	return &HttpHandler{
		messageUc:      messageUc,
		conversationUc: conversationUc,
		deliveryUc:     deliveryUc,
		validate:       validator.New(),
		log:            log.With().Str("component", "http").Logger(),
	}
}

type Response struct {
	Message string `json:"message"`
	Data    any    `json:"data"`
}

type SendMessageRequest struct {
	Text string `json:"text" validate:"required"`
}

func writeResponse(w http.ResponseWriter, status int, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(Response{Message: message, Data: data}) //nolint:errcheck
}

// writeError maps usecase errors onto status codes. Persistence and unknown
// errors are logged and hidden behind a generic message.
func (h *HttpHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case usecase.IsValidation(err):
		writeResponse(w, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, usecase.ErrUnauthorized):
		writeResponse(w, http.StatusUnauthorized, "unauthorized", nil)
	case errors.Is(err, usecase.ErrPersistence):
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("persistence failure")
		writeResponse(w, http.StatusInternalServerError, "message could not be saved", nil)
	default:
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeResponse(w, http.StatusInternalServerError, "internal server error", nil)
	}
}

// Method Get /messages/overview
func (h *HttpHandler) GetOverview(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())

	conversations, err := h.conversationUc.Overview(r.Context(), identity.UserId)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeResponse(w, http.StatusOK, "success", conversations)
}

// Method Get /messages/{peerId}
func (h *HttpHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())
	peerId := chi.URLParam(r, "peerId")

	messages, err := h.messageUc.History(r.Context(), identity.UserId, peerId)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeResponse(w, http.StatusOK, "success", messages)
}

// Method Post /messages/{peerId}
func (h *HttpHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())
	peerId := chi.URLParam(r, "peerId")

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeResponse(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeResponse(w, http.StatusBadRequest, usecase.ErrEmptyText.Error(), nil)
		return
	}

	message, err := h.deliveryUc.Deliver(r.Context(), identity.UserId, peerId, req.Text, nil)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeResponse(w, http.StatusCreated, "success", message)
}

// Method Post /messages/{peerId}/read
func (h *HttpHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())
	peerId := chi.URLParam(r, "peerId")

	if err := h.messageUc.MarkRead(r.Context(), identity.UserId, peerId); err != nil {
		h.writeError(w, r, err)
		return
	}

	writeResponse(w, http.StatusOK, "success", nil)
}

// Method Get /healthz
func (h *HttpHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeResponse(w, http.StatusOK, "ok", map[string]string{"status": "ok"})
}

