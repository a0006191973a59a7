package handlers

import (
	"context"
	"net/http"

	"whatsapp-broker/internal/models"
	"whatsapp-broker/internal/services"

	"github.com/gorilla/mux"
)

type ConversationHandler struct {
	conversations *services.ConversationService
}

func NewConversationHandler(conversations *services.ConversationService) *ConversationHandler {
	return &ConversationHandler{conversations: conversations}
}

func (h *ConversationHandler) Register(r *mux.Router) {
	r.HandleFunc("/conversations/{id:[0-9]+}", h.Get()).Methods(http.MethodGet)
	r.HandleFunc("/conversations/{id:[0-9]+}/archive", h.transition(h.conversations.Archive)).Methods(http.MethodPost)
	r.HandleFunc("/conversations/{id:[0-9]+}/close", h.transition(h.conversations.Close)).Methods(http.MethodPost)
	r.HandleFunc("/conversations/{id:[0-9]+}/reopen", h.transition(h.conversations.Reopen)).Methods(http.MethodPost)
	r.HandleFunc("/conversations/{id:[0-9]+}/read", h.transition(h.conversations.MarkRead)).Methods(http.MethodPost)
	r.HandleFunc("/conversations/{id:[0-9]+}/assign", h.Assign()).Methods(http.MethodPost)
	r.HandleFunc("/conversations/{id:[0-9]+}/tags", h.tags(h.conversations.AddTags)).Methods(http.MethodPost)
	r.HandleFunc("/conversations/{id:[0-9]+}/tags", h.tags(h.conversations.RemoveTags)).Methods(http.MethodDelete)
}

func (h *ConversationHandler) Get() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			respondError(w, r, err)
			return
		}
		conv, err := h.conversations.Get(r.Context(), id)
		if err != nil {
			respondError(w, r, err)
			return
		}
		respondData(w, http.StatusOK, conv)
	}
}

type conversationOp func(ctx context.Context, id uint) (*models.Conversation, error)

// transition serves the body-less conversation actions.
func (h *ConversationHandler) transition(op conversationOp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			respondError(w, r, err)
			return
		}
		conv, err := op(r.Context(), id)
		if err != nil {
			respondError(w, r, err)
			return
		}
		respondData(w, http.StatusOK, conv)
	}
}

func (h *ConversationHandler) Assign() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			respondError(w, r, err)
			return
		}
		var req struct {
			AssignedTo string `json:"assignedTo"`
		}
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, r, err)
			return
		}
		conv, err := h.conversations.Assign(r.Context(), id, req.AssignedTo)
		if err != nil {
			respondError(w, r, err)
			return
		}
		respondData(w, http.StatusOK, conv)
	}
}

func (h *ConversationHandler) tags(op func(ctx context.Context, id uint, tags []string) (*models.Conversation, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			respondError(w, r, err)
			return
		}
		var req tagsRequest
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, r, err)
			return
		}
		conv, err := op(r.Context(), id, req.Tags)
		if err != nil {
			respondError(w, r, err)
			return
		}
		respondData(w, http.StatusOK, conv)
	}
}
