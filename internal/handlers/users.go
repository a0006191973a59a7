package handlers

import (
	"context"
	"net/http"
	"strings"

	"whatsapp-broker/internal/models"
	"whatsapp-broker/internal/services"

	"github.com/gorilla/mux"
)

type UserHandler struct {
	users         *services.UserService
	conversations *services.ConversationService
}

func NewUserHandler(users *services.UserService, conversations *services.ConversationService) *UserHandler {
	return &UserHandler{users: users, conversations: conversations}
}

func (h *UserHandler) Register(r *mux.Router) {
	r.HandleFunc("/users/{id:[0-9]+}", h.GetByID()).Methods(http.MethodGet)
	r.HandleFunc("/users/wa/{waId}", h.GetByWaID()).Methods(http.MethodGet)
	r.HandleFunc("/users/wa/{waId}", h.Update()).Methods(http.MethodPatch)
	r.HandleFunc("/users/wa/{waId}/block", h.action(h.users.Block)).Methods(http.MethodPost)
	r.HandleFunc("/users/wa/{waId}/unblock", h.action(h.users.Unblock)).Methods(http.MethodPost)
	r.HandleFunc("/users/wa/{waId}/tags", h.tags(h.users.AddTags)).Methods(http.MethodPost)
	r.HandleFunc("/users/wa/{waId}/tags", h.tags(h.users.RemoveTags)).Methods(http.MethodDelete)
	r.HandleFunc("/users/wa/{waId}/conversations", h.Conversations()).Methods(http.MethodGet)
	r.HandleFunc("/users/wa/{waId}/unread", h.Unread()).Methods(http.MethodGet)
}

func waIDVar(r *http.Request) string {
	return strings.TrimPrefix(strings.TrimSpace(mux.Vars(r)["waId"]), "+")
}

func (h *UserHandler) GetByID() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			respondError(w, r, err)
			return
		}
		user, err := h.users.Get(r.Context(), id)
		if err != nil {
			respondError(w, r, err)
			return
		}
		respondData(w, http.StatusOK, user)
	}
}

func (h *UserHandler) GetByWaID() http.HandlerFunc {
	return h.action(h.users.GetByWaID)
}

func (h *UserHandler) Update() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var upd services.UserUpdate
		if err := decodeJSON(r, &upd); err != nil {
			respondError(w, r, err)
			return
		}
		user, err := h.users.Update(r.Context(), waIDVar(r), upd)
		if err != nil {
			respondError(w, r, err)
			return
		}
		respondData(w, http.StatusOK, user)
	}
}

func (h *UserHandler) action(op func(ctx context.Context, waID string) (*models.User, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := op(r.Context(), waIDVar(r))
		if err != nil {
			respondError(w, r, err)
			return
		}
		respondData(w, http.StatusOK, user)
	}
}

func (h *UserHandler) tags(op func(ctx context.Context, waID string, tags []string) (*models.User, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req tagsRequest
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, r, err)
			return
		}
		user, err := op(r.Context(), waIDVar(r), req.Tags)
		if err != nil {
			respondError(w, r, err)
			return
		}
		respondData(w, http.StatusOK, user)
	}
}

func (h *UserHandler) Conversations() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page := pageFromQuery(r)
		convs, total, err := h.conversations.ListForUser(r.Context(), waIDVar(r), page)
		if err != nil {
			respondError(w, r, err)
			return
		}
		respondPage(w, convs, page, total)
	}
}

// Unread reports the unread count summed over the user's active
// conversations.
func (h *UserHandler) Unread() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		total, err := h.conversations.UnreadTotal(r.Context(), waIDVar(r))
		if err != nil {
			respondError(w, r, err)
			return
		}
		respondData(w, http.StatusOK, map[string]int64{"unreadCount": total})
	}
}
