package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"whatsapp-broker/internal/apperr"
	"whatsapp-broker/internal/models"
	"whatsapp-broker/internal/repository"

	"github.com/rs/zerolog/log"
)

// ConversationService exposes conversation lifecycle operations.
type ConversationService struct {
	conversations ConversationStore
	users         UserStore
}

func NewConversationService(conversations ConversationStore, users UserStore) (*ConversationService, error) {
	if conversations == nil || users == nil {
		return nil, fmt.Errorf("conversation service requires conversation and user stores")
	}
	return &ConversationService{conversations: conversations, users: users}, nil
}

func (s *ConversationService) Get(ctx context.Context, id uint) (*models.Conversation, error) {
	return s.conversations.FindByID(ctx, id)
}

// ListForUser returns the conversations of the user with the given waId.
func (s *ConversationService) ListForUser(ctx context.Context, waID string, page repository.Page) ([]models.Conversation, int64, error) {
	user, err := s.users.FindByWaID(ctx, waID)
	if err != nil {
		return nil, 0, err
	}
	return s.conversations.ListByUser(ctx, user.ID, page)
}

func (s *ConversationService) Archive(ctx context.Context, id uint) (*models.Conversation, error) {
	return s.setStatus(ctx, id, models.ConversationArchived)
}

func (s *ConversationService) Close(ctx context.Context, id uint) (*models.Conversation, error) {
	return s.setStatus(ctx, id, models.ConversationClosed)
}

// Reopen makes a closed conversation active again. It fails with
// ErrConflict when the user already has another open conversation.
func (s *ConversationService) Reopen(ctx context.Context, id uint) (*models.Conversation, error) {
	return s.setStatus(ctx, id, models.ConversationActive)
}

func (s *ConversationService) setStatus(ctx context.Context, id uint, status models.ConversationStatus) (*models.Conversation, error) {
	conv, err := s.conversations.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv.Status == status {
		return conv, nil
	}

	if conv.Status == models.ConversationClosed {
		other, err := s.conversations.FindOpenByUserExcluding(ctx, conv.UserID, conv.ID)
		switch {
		case err == nil:
			return nil, apperr.Conflict("user %d already has open conversation %d", conv.UserID, other.ID)
		case !errors.Is(err, apperr.ErrNotFound):
			return nil, err
		}
	}

	updated, err := s.conversations.Update(ctx, id, map[string]any{"status": status})
	if err != nil {
		if errors.Is(err, apperr.ErrDuplicate) {
			return nil, apperr.Conflict("user %d already has an open conversation", conv.UserID)
		}
		return nil, err
	}
	log.Info().Uint("conversationID", id).Str("from", string(conv.Status)).Str("to", string(status)).Msg("Conversation status changed")
	return updated, nil
}

// Assign sets the assignee; an empty assignee unassigns.
func (s *ConversationService) Assign(ctx context.Context, id uint, assignee string) (*models.Conversation, error) {
	return s.conversations.Update(ctx, id, map[string]any{"assigned_to": strings.TrimSpace(assignee)})
}

// MarkRead resets the unread counter.
func (s *ConversationService) MarkRead(ctx context.Context, id uint) (*models.Conversation, error) {
	return s.conversations.Update(ctx, id, map[string]any{"unread_count": 0})
}

func (s *ConversationService) AddTags(ctx context.Context, id uint, tags []string) (*models.Conversation, error) {
	if err := requireTags(tags); err != nil {
		return nil, err
	}
	return s.conversations.AddTags(ctx, id, tags)
}

func (s *ConversationService) RemoveTags(ctx context.Context, id uint, tags []string) (*models.Conversation, error) {
	if err := requireTags(tags); err != nil {
		return nil, err
	}
	return s.conversations.RemoveTags(ctx, id, tags)
}

// UnreadTotal sums the unread counters of the user's active conversations.
func (s *ConversationService) UnreadTotal(ctx context.Context, waID string) (int64, error) {
	user, err := s.users.FindByWaID(ctx, waID)
	if err != nil {
		return 0, err
	}
	return s.conversations.SumUnread(ctx, user.ID)
}

func requireTags(tags []string) error {
	for _, t := range tags {
		if strings.TrimSpace(t) != "" {
			return nil
		}
	}
	return apperr.Validation("at least one non-empty tag is required")
}
