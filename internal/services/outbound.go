package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"whatsapp-broker/internal/adapters/meta"
	"whatsapp-broker/internal/apperr"
	"whatsapp-broker/internal/events"
	"whatsapp-broker/internal/metrics"
	"whatsapp-broker/internal/models"
	"whatsapp-broker/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// SendRequest is a locally originated message.
type SendRequest struct {
	To      string                `json:"to"`
	Type    models.MessageType    `json:"type"`
	Content models.MessageContent `json:"content"`
	ReplyTo string                `json:"replyTo,omitempty"`
}

// OutboundConfig carries the outbound coordinator's dependencies.
type OutboundConfig struct {
	// Tx groups the writes that record a sent message.
	Tx            TxRunner
	Sender        MessageSender
	Users         UserStore
	Conversations ConversationStore
	Messages      MessageStore
	Publisher     events.Publisher
	Metrics       *metrics.Metrics
	// PhoneNumberID is recorded as the sender of outbound messages.
	PhoneNumberID string
}

// OutboundService sends messages through the provider and records them
// the same way inbound messages are recorded.
type OutboundService struct {
	participants
	tx            TxRunner
	sender        MessageSender
	messages      MessageStore
	publisher     events.Publisher
	metrics       *metrics.Metrics
	phoneNumberID string
	now           func() time.Time
}

func NewOutboundService(cfg OutboundConfig) (*OutboundService, error) {
	if cfg.Sender == nil {
		return nil, fmt.Errorf("message sender cannot be nil")
	}
	if cfg.Users == nil || cfg.Conversations == nil || cfg.Messages == nil {
		return nil, fmt.Errorf("outbound service requires user, conversation and message stores")
	}
	if cfg.Tx == nil {
		return nil, fmt.Errorf("outbound service requires a transaction runner")
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &OutboundService{
		participants:  participants{users: cfg.Users, conversations: cfg.Conversations},
		tx:            cfg.Tx,
		sender:        cfg.Sender,
		messages:      cfg.Messages,
		publisher:     publisher,
		metrics:       cfg.Metrics,
		phoneNumberID: cfg.PhoneNumberID,
		now:           func() time.Time { return time.Now().UTC() },
	}, nil
}

// Send delivers req and records the outbound message. Provider errors are
// returned unchanged and nothing is stored for them.
func (s *OutboundService) Send(ctx context.Context, req SendRequest) (*models.Message, error) {
	req.To = strings.TrimPrefix(strings.TrimSpace(req.To), "+")
	if req.To == "" {
		return nil, apperr.Validation("recipient is required")
	}
	if err := req.Content.Validate(req.Type); err != nil {
		return nil, err
	}

	result, err := s.sender.SendMessage(ctx, meta.OutgoingMessage{
		To:      req.To,
		Type:    req.Type,
		Content: req.Content,
		ReplyTo: req.ReplyTo,
	})
	s.metrics.RecordSend(string(req.Type), err)
	if err != nil {
		return nil, err
	}

	waID := req.To
	if result.WaID != "" {
		waID = result.WaID
	}
	status := models.StatusSent
	if result.Held {
		status = models.StatusPending
	}
	now := s.now()
	preview := req.Content.Preview(req.Type)

	var msg *models.Message
	var conv *models.Conversation
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		user, c, err := s.resolve(ctx, waID, "")
		if err != nil {
			return err
		}
		conv = c
		msg = &models.Message{
			ConversationID:   conv.ID,
			MessageID:        result.MessageID,
			From:             s.phoneNumberID,
			To:               waID,
			Type:             req.Type,
			Content:          req.Content,
			Status:           status,
			Direction:        models.DirectionOutbound,
			ContextMessageID: req.ReplyTo,
			Timestamp:        now,
		}
		if err := s.messages.Create(ctx, msg); err != nil {
			if errors.Is(err, apperr.ErrDuplicate) {
				return errAlreadyStored
			}
			return fmt.Errorf("failed to store outbound message %s: %w", result.MessageID, err)
		}
		if err := s.conversations.RecordMessage(ctx, conv.ID, msg.ID, now, preview, false); err != nil {
			return fmt.Errorf("failed to update conversation %d: %w", conv.ID, err)
		}
		if err := s.users.TouchLastMessage(ctx, user.ID, now); err != nil {
			return fmt.Errorf("failed to update user %s: %w", user.WaID, err)
		}
		return nil
	})
	if errors.Is(err, errAlreadyStored) {
		log.Info().Str("messageID", result.MessageID).Msg("Outbound message already recorded")
		return s.messages.FindByMessageID(ctx, result.MessageID)
	}
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("messageID", msg.MessageID).
		Str("to", waID).
		Str("type", string(req.Type)).
		Str("status", string(status)).
		Uint("conversationID", conv.ID).
		Msg("Outbound message recorded")

	ev := events.Event{
		ID:             uuid.NewString(),
		Type:           events.TypeMessageSent,
		OccurredAt:     now,
		MessageID:      msg.MessageID,
		ConversationID: conv.ID,
		WaID:           waID,
		Direction:      models.DirectionOutbound,
		MessageType:    req.Type,
		Status:         status,
		Preview:        preview,
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		log.Warn().Err(err).Str("messageID", msg.MessageID).Msg("Failed to publish sent event")
	}
	return msg, nil
}

// MarkRead reports an inbound message as read to the provider and stamps
// the local copy when there is one.
func (s *OutboundService) MarkRead(ctx context.Context, messageID string) error {
	if messageID == "" {
		return apperr.Validation("message id is required")
	}
	if err := s.sender.MarkAsRead(ctx, messageID); err != nil {
		return err
	}
	_, err := s.messages.UpdateStatus(ctx, messageID, repository.StatusChange{
		Status: models.StatusRead,
		At:     s.now(),
	})
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return fmt.Errorf("failed to mark message %s read: %w", messageID, err)
	}
	return nil
}
