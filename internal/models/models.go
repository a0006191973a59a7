package models

import (
	"time"
)

// User is a WhatsApp contact identified by its waId.
type User struct {
	ID             uint         `gorm:"primaryKey" json:"id"`
	WaID           string       `gorm:"uniqueIndex;not null" json:"waId"`
	PhoneNumber    string       `gorm:"index;not null" json:"phoneNumber"`
	Name           string       `json:"name"`
	ProfilePicture string       `json:"profilePicture,omitempty"`
	IsBlocked      bool         `gorm:"not null;default:false" json:"isBlocked"`
	Tags           Tags         `gorm:"type:text" json:"tags"`
	CustomFields   CustomFields `gorm:"type:text" json:"customFields,omitempty"`
	LastMessageAt  *time.Time   `json:"lastMessageAt,omitempty"`
	CreatedAt      time.Time    `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt      time.Time    `gorm:"autoUpdateTime" json:"updatedAt"`
}

// Conversation groups the messages exchanged with one user. At most one
// conversation per user may be in a status other than closed; the
// idx_conversations_open_user partial index enforces it.
type Conversation struct {
	ID                 uint               `gorm:"primaryKey" json:"id"`
	UserID             uint               `gorm:"index;not null" json:"userId"`
	User               *User              `gorm:"foreignKey:UserID" json:"user,omitempty"`
	WaConversationID   string             `gorm:"index" json:"waConversationId,omitempty"`
	PhoneNumber        string             `gorm:"index;not null" json:"phoneNumber"`
	Status             ConversationStatus `gorm:"type:varchar(16);not null;default:active;index" json:"status"`
	UnreadCount        int                `gorm:"not null;default:0" json:"unreadCount"`
	LastMessageID      *uint              `json:"lastMessageId,omitempty"`
	LastMessageAt      *time.Time         `gorm:"index" json:"lastMessageAt,omitempty"`
	LastMessagePreview string             `json:"lastMessagePreview,omitempty"`
	AssignedTo         string             `json:"assignedTo,omitempty"`
	Tags               Tags               `gorm:"type:text" json:"tags"`
	ExpiresAt          *time.Time         `json:"expiresAt,omitempty"`
	Origin             string             `json:"origin,omitempty"`
	CreatedAt          time.Time          `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt          time.Time          `gorm:"autoUpdateTime" json:"updatedAt"`
}

// Message is one WhatsApp message, keyed by the provider's message id.
type Message struct {
	ID               uint           `gorm:"primaryKey" json:"id"`
	ConversationID   uint           `gorm:"index;not null" json:"conversationId"`
	MessageID        string         `gorm:"uniqueIndex;not null" json:"messageId"`
	From             string         `gorm:"index;not null" json:"from"`
	To               string         `gorm:"index;not null" json:"to"`
	Type             MessageType    `gorm:"type:varchar(16);not null" json:"type"`
	Content          MessageContent `gorm:"type:text" json:"content"`
	Status           MessageStatus  `gorm:"type:varchar(16);not null;index" json:"status"`
	Direction        Direction      `gorm:"type:varchar(16);not null" json:"direction"`
	ContextMessageID string         `json:"contextMessageId,omitempty"`
	Timestamp        time.Time      `gorm:"index" json:"timestamp"`
	DeliveredAt      *time.Time     `json:"deliveredAt,omitempty"`
	ReadAt           *time.Time     `json:"readAt,omitempty"`
	FailedReason     string         `json:"failedReason,omitempty"`
	CreatedAt        time.Time      `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt        time.Time      `gorm:"autoUpdateTime" json:"updatedAt"`
}

// WebhookLog records one received webhook batch and its processing outcome.
type WebhookLog struct {
	ID          uint          `gorm:"primaryKey" json:"id"`
	EventType   string        `gorm:"index;not null" json:"eventType"`
	Payload     []byte        `gorm:"not null" json:"-"`
	Status      WebhookStatus `gorm:"type:varchar(16);not null;default:pending;index:idx_webhook_logs_status_created,priority:1" json:"status"`
	ProcessedAt *time.Time    `json:"processedAt,omitempty"`
	Error       string        `json:"error,omitempty"`
	RetryCount  int           `gorm:"not null;default:0" json:"retryCount"`
	CreatedAt   time.Time     `gorm:"autoCreateTime;index:idx_webhook_logs_status_created,priority:2" json:"createdAt"`
	UpdatedAt   time.Time     `gorm:"autoUpdateTime" json:"updatedAt"`
}

// All returns every persisted model, in migration order.
func All() []any {
	return []any{&User{}, &Conversation{}, &Message{}, &WebhookLog{}}
}
