package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"whatsapp-broker/internal/apperr"
	"whatsapp-broker/internal/events"
	"whatsapp-broker/internal/metrics"
	"whatsapp-broker/internal/models"
	"whatsapp-broker/internal/repository"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
)

// IncomingMessage is one inbound message event.
type IncomingMessage struct {
	ExternalID string
	From       string
	To         string
	Type       models.MessageType
	Content    models.MessageContent
	Timestamp  time.Time
	ReplyToID  string
	SenderName string
}

// StatusUpdate is one delivery status event.
type StatusUpdate struct {
	ExternalID         string
	Status             models.MessageStatus
	Timestamp          time.Time
	ConversationID     string
	ConversationExpiry *time.Time
	Origin             string
	FailedReason       string
}

// errAlreadyStored aborts a transaction whose message is already recorded,
// undoing any user or conversation it created on the way.
var errAlreadyStored = errors.New("message already stored")

// ReconcilerConfig carries the reconciler's dependencies.
type ReconcilerConfig struct {
	// Tx groups the writes for one message.
	Tx            TxRunner
	Users         UserStore
	Conversations ConversationStore
	Messages      MessageStore
	Publisher     events.Publisher
	Metrics       *metrics.Metrics
	// PhoneNumberID is recorded as the recipient of inbound messages that
	// do not name one.
	PhoneNumberID string
	// RecentTTL keeps processed message ids in memory so replays skip the
	// store. Zero disables it.
	RecentTTL time.Duration
}

// Reconciler applies inbound events to the store.
type Reconciler struct {
	participants
	tx            TxRunner
	messages      MessageStore
	publisher     events.Publisher
	metrics       *metrics.Metrics
	phoneNumberID string
	recent        *cache.Cache
	now           func() time.Time
}

func NewReconciler(cfg ReconcilerConfig) (*Reconciler, error) {
	if cfg.Users == nil || cfg.Conversations == nil || cfg.Messages == nil {
		return nil, fmt.Errorf("reconciler requires user, conversation and message stores")
	}
	if cfg.Tx == nil {
		return nil, fmt.Errorf("reconciler requires a transaction runner")
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = events.Nop{}
	}
	r := &Reconciler{
		participants:  participants{users: cfg.Users, conversations: cfg.Conversations},
		tx:            cfg.Tx,
		messages:      cfg.Messages,
		publisher:     publisher,
		metrics:       cfg.Metrics,
		phoneNumberID: cfg.PhoneNumberID,
		now:           func() time.Time { return time.Now().UTC() },
	}
	if cfg.RecentTTL > 0 {
		r.recent = cache.New(cfg.RecentTTL, 2*cfg.RecentTTL)
	}
	return r, nil
}

func (r *Reconciler) seen(id string) bool {
	if r.recent == nil {
		return false
	}
	_, ok := r.recent.Get(id)
	return ok
}

func (r *Reconciler) remember(id string) {
	if r.recent != nil {
		r.recent.SetDefault(id, struct{}{})
	}
}

// HandleIncomingMessage records an inbound message. The message, the
// conversation preview and counters, and the user's last activity are
// written in one transaction. Replays of a message already stored are
// no-ops and leave no new user or conversation behind.
func (r *Reconciler) HandleIncomingMessage(ctx context.Context, in IncomingMessage) (err error) {
	defer func() { r.metrics.RecordEvent("message", err) }()

	if in.ExternalID == "" || in.From == "" {
		return apperr.Validation("incoming message requires an id and a sender")
	}
	if !models.IsValidMessageType(in.Type) {
		return apperr.Validation("unsupported message type %q", in.Type)
	}
	if r.seen(in.ExternalID) {
		r.metrics.RecordDuplicate()
		log.Debug().Str("messageID", in.ExternalID).Msg("Message recently processed, skipping")
		return nil
	}

	to := in.To
	if to == "" {
		to = r.phoneNumberID
	}
	preview := in.Content.Preview(in.Type)

	var (
		user *models.User
		conv *models.Conversation
	)
	err = r.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		user, conv, err = r.resolve(ctx, in.From, in.SenderName)
		if err != nil {
			return err
		}

		msg := &models.Message{
			ConversationID:   conv.ID,
			MessageID:        in.ExternalID,
			From:             in.From,
			To:               to,
			Type:             in.Type,
			Content:          in.Content,
			Status:           models.StatusDelivered,
			Direction:        models.DirectionInbound,
			ContextMessageID: in.ReplyToID,
			Timestamp:        in.Timestamp,
		}
		if err := r.messages.Create(ctx, msg); err != nil {
			if errors.Is(err, apperr.ErrDuplicate) {
				return errAlreadyStored
			}
			return fmt.Errorf("failed to store message %s: %w", in.ExternalID, err)
		}

		now := r.now()
		if err := r.conversations.RecordMessage(ctx, conv.ID, msg.ID, now, preview, true); err != nil {
			return fmt.Errorf("failed to update conversation %d: %w", conv.ID, err)
		}
		if err := r.users.TouchLastMessage(ctx, user.ID, now); err != nil {
			return fmt.Errorf("failed to update user %s: %w", user.WaID, err)
		}
		return nil
	})
	if errors.Is(err, errAlreadyStored) {
		r.metrics.RecordDuplicate()
		r.remember(in.ExternalID)
		log.Info().Str("messageID", in.ExternalID).Msg("Message already processed, skipping")
		return nil
	}
	if err != nil {
		return err
	}
	r.remember(in.ExternalID)

	log.Info().
		Str("messageID", in.ExternalID).
		Str("from", in.From).
		Str("type", string(in.Type)).
		Uint("conversationID", conv.ID).
		Msg("Inbound message processed")

	r.publish(ctx, events.Event{
		Type:           events.TypeMessageReceived,
		MessageID:      in.ExternalID,
		ConversationID: conv.ID,
		WaID:           user.WaID,
		Direction:      models.DirectionInbound,
		MessageType:    in.Type,
		Status:         models.StatusDelivered,
		Preview:        preview,
	})
	return nil
}

// HandleStatusUpdate applies a delivery status. A status for a message that
// is not stored yet is ignored.
func (r *Reconciler) HandleStatusUpdate(ctx context.Context, st StatusUpdate) (err error) {
	defer func() { r.metrics.RecordEvent("status", err) }()

	if st.ExternalID == "" {
		return apperr.Validation("status update requires a message id")
	}
	if !models.IsValidMessageStatus(st.Status) {
		return apperr.Validation("unsupported message status %q", st.Status)
	}

	msg, err := r.messages.UpdateStatus(ctx, st.ExternalID, repository.StatusChange{
		Status:       st.Status,
		At:           st.Timestamp,
		FailedReason: st.FailedReason,
	})
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			log.Debug().Str("messageID", st.ExternalID).Str("status", string(st.Status)).Msg("Status for unknown message, ignoring")
			return nil
		}
		return fmt.Errorf("failed to update status of %s: %w", st.ExternalID, err)
	}

	if err := r.propagateConversation(ctx, msg.ConversationID, st); err != nil {
		return err
	}

	log.Debug().Str("messageID", st.ExternalID).Str("status", string(st.Status)).Msg("Message status updated")

	r.publish(ctx, events.Event{
		Type:           events.TypeMessageStatus,
		MessageID:      st.ExternalID,
		ConversationID: msg.ConversationID,
		Direction:      msg.Direction,
		MessageType:    msg.Type,
		Status:         st.Status,
	})
	return nil
}

// propagateConversation copies provider conversation details onto the
// owning conversation. A missing conversation is tolerated.
func (r *Reconciler) propagateConversation(ctx context.Context, conversationID uint, st StatusUpdate) error {
	updates := map[string]any{}
	if st.ConversationID != "" {
		updates["wa_conversation_id"] = st.ConversationID
	}
	if st.ConversationExpiry != nil {
		updates["expires_at"] = *st.ConversationExpiry
	}
	if st.Origin != "" {
		updates["origin"] = st.Origin
	}
	if len(updates) == 0 {
		return nil
	}
	if _, err := r.conversations.Update(ctx, conversationID, updates); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			log.Warn().Uint("conversationID", conversationID).Str("messageID", st.ExternalID).Msg("Conversation for status update not found")
			return nil
		}
		return fmt.Errorf("failed to update conversation %d: %w", conversationID, err)
	}
	return nil
}

// publish sends ev downstream. Failures are logged only.
func (r *Reconciler) publish(ctx context.Context, ev events.Event) {
	ev.ID = uuid.NewString()
	ev.OccurredAt = r.now()
	if err := r.publisher.Publish(ctx, ev); err != nil {
		log.Warn().Err(err).Str("type", ev.Type).Str("messageID", ev.MessageID).Msg("Failed to publish event")
	}
}
