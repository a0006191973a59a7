// Package events publishes reconciled conversation events to downstream
// consumers.
package events

import (
	"context"
	"time"

	"whatsapp-broker/internal/models"
)

const (
	TypeMessageReceived = "message.received"
	TypeMessageStatus   = "message.status"
	TypeMessageSent     = "message.sent"
)

// Event is the JSON document published for every reconciled change.
type Event struct {
	ID             string               `json:"id"`
	Type           string               `json:"type"`
	OccurredAt     time.Time            `json:"occurredAt"`
	MessageID      string               `json:"messageId"`
	ConversationID uint                 `json:"conversationId,omitempty"`
	WaID           string               `json:"waId,omitempty"`
	Direction      models.Direction     `json:"direction,omitempty"`
	MessageType    models.MessageType   `json:"messageType,omitempty"`
	Status         models.MessageStatus `json:"status,omitempty"`
	Preview        string               `json:"preview,omitempty"`
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }
