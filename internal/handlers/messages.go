package handlers

import (
	"net/http"
	"strconv"
	"time"

	"whatsapp-broker/internal/apperr"
	"whatsapp-broker/internal/models"
	"whatsapp-broker/internal/repository"
	"whatsapp-broker/internal/services"

	"github.com/gorilla/mux"
)

type MessageHandler struct {
	messages *services.MessageService
	outbound *services.OutboundService
}

func NewMessageHandler(messages *services.MessageService, outbound *services.OutboundService) *MessageHandler {
	return &MessageHandler{messages: messages, outbound: outbound}
}

func (h *MessageHandler) Register(r *mux.Router) {
	r.HandleFunc("/messages/stats", h.Stats()).Methods(http.MethodGet)
	r.HandleFunc("/messages/conversation/{id:[0-9]+}", h.ByConversation()).Methods(http.MethodGet)
	r.HandleFunc("/messages/phone/{phone}", h.ByPhone()).Methods(http.MethodGet)
	r.HandleFunc("/messages/{id:[0-9]+}", h.Get()).Methods(http.MethodGet)
	r.HandleFunc("/messages/{id:[0-9]+}", h.Delete()).Methods(http.MethodDelete)
	r.HandleFunc("/messages/{messageId}/read", h.MarkRead()).Methods(http.MethodPost)
	r.HandleFunc("/messages/{messageId}/failed", h.MarkFailed()).Methods(http.MethodPost)
	r.HandleFunc("/messages/{type:[a-z]+}", h.Send()).Methods(http.MethodPost)
}

// sendBody is the typed send payload: the recipient plus one content object
// keyed by the message type, e.g. {"to": "...", "text": {"body": "..."}}.
type sendBody struct {
	To      string `json:"to"`
	ReplyTo string `json:"replyTo,omitempty"`
	models.MessageContent
}

func (h *MessageHandler) Send() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msgType := models.MessageType(mux.Vars(r)["type"])
		if !models.IsValidMessageType(msgType) {
			respondError(w, r, apperr.Validation("unsupported message type %q", msgType))
			return
		}
		var body sendBody
		if err := decodeJSON(r, &body); err != nil {
			respondError(w, r, err)
			return
		}
		msg, err := h.outbound.Send(r.Context(), services.SendRequest{
			To:      body.To,
			Type:    msgType,
			Content: body.MessageContent,
			ReplyTo: body.ReplyTo,
		})
		if err != nil {
			respondError(w, r, err)
			return
		}
		respondData(w, http.StatusCreated, msg)
	}
}

func (h *MessageHandler) MarkRead() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		messageID := mux.Vars(r)["messageId"]
		if err := h.outbound.MarkRead(r.Context(), messageID); err != nil {
			respondError(w, r, err)
			return
		}
		respondMessage(w, http.StatusOK, "Message marked as read")
	}
}

func (h *MessageHandler) MarkFailed() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Reason string `json:"reason"`
		}
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, r, err)
			return
		}
		msg, err := h.messages.MarkFailed(r.Context(), mux.Vars(r)["messageId"], req.Reason)
		if err != nil {
			respondError(w, r, err)
			return
		}
		respondData(w, http.StatusOK, msg)
	}
}

func (h *MessageHandler) Get() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			respondError(w, r, err)
			return
		}
		msg, err := h.messages.Get(r.Context(), id)
		if err != nil {
			respondError(w, r, err)
			return
		}
		respondData(w, http.StatusOK, msg)
	}
}

func (h *MessageHandler) Delete() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			respondError(w, r, err)
			return
		}
		if err := h.messages.Delete(r.Context(), id); err != nil {
			respondError(w, r, err)
			return
		}
		respondMessage(w, http.StatusOK, "Message deleted")
	}
}

func (h *MessageHandler) ByConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			respondError(w, r, err)
			return
		}
		page := pageFromQuery(r)
		msgs, total, err := h.messages.ListByConversation(r.Context(), id, page)
		if err != nil {
			respondError(w, r, err)
			return
		}
		respondPage(w, msgs, page, total)
	}
}

func (h *MessageHandler) ByPhone() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page := pageFromQuery(r)
		msgs, total, err := h.messages.ListByPhone(r.Context(), mux.Vars(r)["phone"], page)
		if err != nil {
			respondError(w, r, err)
			return
		}
		respondPage(w, msgs, page, total)
	}
}

func (h *MessageHandler) Stats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter, err := statsFilterFromQuery(r)
		if err != nil {
			respondError(w, r, err)
			return
		}
		stats, err := h.messages.Stats(r.Context(), filter)
		if err != nil {
			respondError(w, r, err)
			return
		}
		respondData(w, http.StatusOK, stats)
	}
}

func statsFilterFromQuery(r *http.Request) (repository.StatsFilter, error) {
	var f repository.StatsFilter
	q := r.URL.Query()
	if raw := q.Get("conversationId"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return f, apperr.Validation("invalid conversationId %q", raw)
		}
		f.ConversationID = uint(id)
	}
	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"since", &f.Since}, {"until", &f.Until}} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return f, apperr.Validation("invalid %s %q, expected RFC3339", p.name, raw)
		}
		*p.dst = t
	}
	return f, nil
}
