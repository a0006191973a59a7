// Package repository persists users, conversations, messages and webhook logs
// through GORM and translates store failures into apperr kinds.
package repository

import (
	"errors"
	"fmt"
	"strings"

	"whatsapp-broker/internal/apperr"

	"gorm.io/gorm"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

// Page selects a window of a sorted result. Number starts at 1.
type Page struct {
	Number int
	Size   int
}

func (p Page) normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size < 1 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	return p
}

func (p Page) offset() int {
	return (p.Number - 1) * p.Size
}

// Repositories bundles every entity repository over one database handle.
type Repositories struct {
	Users         *UserRepository
	Conversations *ConversationRepository
	Messages      *MessageRepository
	WebhookLogs   *WebhookLogRepository
	Stats         *StatsRepository

	db *gorm.DB
}

// New builds all repositories. driverName selects the placeholder style of
// the raw statistics queries.
func New(db *gorm.DB, driverName string) (*Repositories, error) {
	if db == nil {
		return nil, fmt.Errorf("database instance (gorm.DB) cannot be nil")
	}
	stats, err := NewStatsRepository(db, driverName)
	if err != nil {
		return nil, err
	}
	return &Repositories{
		Users:         NewUserRepository(db),
		Conversations: NewConversationRepository(db),
		Messages:      NewMessageRepository(db),
		WebhookLogs:   NewWebhookLogRepository(db),
		Stats:         stats,
		db:            db,
	}, nil
}

// translate maps a GORM error onto the apperr kinds.
func translate(err error, entity, key string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return apperr.NotFound(entity, key)
	case isUniqueViolation(err):
		return fmt.Errorf("%s %q: %w", entity, key, apperr.ErrDuplicate)
	default:
		return fmt.Errorf("%s %q: %w", entity, key, err)
	}
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "(2067)")
}
