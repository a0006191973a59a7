package services

import (
	"context"
	"fmt"
	"strings"

	"whatsapp-broker/internal/apperr"
	"whatsapp-broker/internal/models"
	"whatsapp-broker/internal/repository"
)

// MessageService exposes stored message history.
type MessageService struct {
	messages      MessageStore
	conversations ConversationStore
	stats         StatsStore
}

func NewMessageService(messages MessageStore, conversations ConversationStore, stats StatsStore) (*MessageService, error) {
	if messages == nil || conversations == nil || stats == nil {
		return nil, fmt.Errorf("message service requires message, conversation and stats stores")
	}
	return &MessageService{messages: messages, conversations: conversations, stats: stats}, nil
}

func (s *MessageService) Get(ctx context.Context, id uint) (*models.Message, error) {
	return s.messages.FindByID(ctx, id)
}

// ListByConversation returns one page of history, oldest first within the
// page, together with the total message count.
func (s *MessageService) ListByConversation(ctx context.Context, conversationID uint, page repository.Page) ([]models.Message, int64, error) {
	if _, err := s.conversations.FindByID(ctx, conversationID); err != nil {
		return nil, 0, err
	}
	return s.messages.ListByConversation(ctx, conversationID, page)
}

func (s *MessageService) ListByPhone(ctx context.Context, phone string, page repository.Page) ([]models.Message, int64, error) {
	phone = strings.TrimPrefix(strings.TrimSpace(phone), "+")
	if phone == "" {
		return nil, 0, apperr.Validation("phone number is required")
	}
	return s.messages.ListByPhone(ctx, phone, page)
}

// MarkFailed records a failure reported outside the webhook flow.
func (s *MessageService) MarkFailed(ctx context.Context, messageID, reason string) (*models.Message, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, apperr.Validation("failure reason is required")
	}
	return s.messages.UpdateStatus(ctx, messageID, repository.StatusChange{
		Status:       models.StatusFailed,
		FailedReason: reason,
	})
}

func (s *MessageService) Stats(ctx context.Context, f repository.StatsFilter) (*repository.MessageStats, error) {
	if !f.Since.IsZero() && !f.Until.IsZero() && f.Until.Before(f.Since) {
		return nil, apperr.Validation("until must not be before since")
	}
	return s.stats.MessageStats(ctx, f)
}

func (s *MessageService) Delete(ctx context.Context, id uint) error {
	return s.messages.Delete(ctx, id)
}
