// Package services folds inbound webhook events and outbound sends into
// user, conversation and message state.
package services

import (
	"context"
	"time"

	"whatsapp-broker/internal/adapters/meta"
	"whatsapp-broker/internal/models"
	"whatsapp-broker/internal/repository"
)

// UserStore is the user persistence the services need.
type UserStore interface {
	Create(ctx context.Context, u *models.User) error
	FindByID(ctx context.Context, id uint) (*models.User, error)
	FindByWaID(ctx context.Context, waID string) (*models.User, error)
	Update(ctx context.Context, id uint, updates map[string]any) (*models.User, error)
	TouchLastMessage(ctx context.Context, id uint, at time.Time) error
	AddTags(ctx context.Context, id uint, tags []string) (*models.User, error)
	RemoveTags(ctx context.Context, id uint, tags []string) (*models.User, error)
}

// ConversationStore is the conversation persistence the services need.
type ConversationStore interface {
	Create(ctx context.Context, c *models.Conversation) error
	FindByID(ctx context.Context, id uint) (*models.Conversation, error)
	FindOpenByUser(ctx context.Context, userID uint) (*models.Conversation, error)
	FindOpenByUserExcluding(ctx context.Context, userID, id uint) (*models.Conversation, error)
	ListByUser(ctx context.Context, userID uint, page repository.Page) ([]models.Conversation, int64, error)
	Update(ctx context.Context, id uint, updates map[string]any) (*models.Conversation, error)
	RecordMessage(ctx context.Context, id, messageID uint, at time.Time, preview string, incrementUnread bool) error
	SumUnread(ctx context.Context, userID uint) (int64, error)
	AddTags(ctx context.Context, id uint, tags []string) (*models.Conversation, error)
	RemoveTags(ctx context.Context, id uint, tags []string) (*models.Conversation, error)
}

// MessageStore is the message persistence the services need.
type MessageStore interface {
	Create(ctx context.Context, m *models.Message) error
	FindByID(ctx context.Context, id uint) (*models.Message, error)
	FindByMessageID(ctx context.Context, messageID string) (*models.Message, error)
	UpdateStatus(ctx context.Context, messageID string, change repository.StatusChange) (*models.Message, error)
	Update(ctx context.Context, id uint, updates map[string]any) (*models.Message, error)
	ListByConversation(ctx context.Context, conversationID uint, page repository.Page) ([]models.Message, int64, error)
	ListByPhone(ctx context.Context, phone string, page repository.Page) ([]models.Message, int64, error)
	Delete(ctx context.Context, id uint) error
}

// WebhookLogStore is the audit log persistence the dispatcher needs.
type WebhookLogStore interface {
	Create(ctx context.Context, l *models.WebhookLog) error
	FindByID(ctx context.Context, id uint) (*models.WebhookLog, error)
	MarkProcessed(ctx context.Context, id uint, at time.Time) error
	MarkFailed(ctx context.Context, id uint, errText string, countRetry bool) error
	ListRetryable(ctx context.Context, maxRetries, limit int) ([]models.WebhookLog, error)
	CountByStatus(ctx context.Context) (map[models.WebhookStatus]int64, error)
}

// StatsStore runs message aggregates.
type StatsStore interface {
	MessageStats(ctx context.Context, f repository.StatsFilter) (*repository.MessageStats, error)
}

// MessageSender is the outbound capability of the messaging provider.
type MessageSender interface {
	SendMessage(ctx context.Context, msg meta.OutgoingMessage) (*meta.SendResult, error)
	MarkAsRead(ctx context.Context, messageID string) error
}

// TxRunner runs fn in one transaction. Store calls made with the ctx handed
// to fn join it.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

var (
	_ TxRunner          = (*repository.Repositories)(nil)
	_ UserStore         = (*repository.UserRepository)(nil)
	_ ConversationStore = (*repository.ConversationRepository)(nil)
	_ MessageStore      = (*repository.MessageRepository)(nil)
	_ WebhookLogStore   = (*repository.WebhookLogRepository)(nil)
	_ StatsStore        = (*repository.StatsRepository)(nil)
	_ MessageSender     = (*meta.Client)(nil)
)
