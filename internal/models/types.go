package models

// MessageType is the WhatsApp message kind carried by a message.
type MessageType string

const (
	TypeText        MessageType = "text"
	TypeImage       MessageType = "image"
	TypeVideo       MessageType = "video"
	TypeAudio       MessageType = "audio"
	TypeDocument    MessageType = "document"
	TypeSticker     MessageType = "sticker"
	TypeLocation    MessageType = "location"
	TypeContacts    MessageType = "contacts"
	TypeInteractive MessageType = "interactive"
	TypeTemplate    MessageType = "template"
	TypeReaction    MessageType = "reaction"
)

// List of supported message types
var supportedMessageTypes = []MessageType{
	TypeText,
	TypeImage,
	TypeVideo,
	TypeAudio,
	TypeDocument,
	TypeSticker,
	TypeLocation,
	TypeContacts,
	TypeInteractive,
	TypeTemplate,
	TypeReaction,
}

// Map for quick validation
var messageTypeMap map[MessageType]bool

func init() {
	messageTypeMap = make(map[MessageType]bool, len(supportedMessageTypes))
	for _, t := range supportedMessageTypes {
		messageTypeMap[t] = true
	}
}

// IsValidMessageType reports whether t belongs to the fixed enumeration.
func IsValidMessageType(t MessageType) bool {
	return messageTypeMap[t]
}

// SupportedMessageTypes returns a copy of the enumeration in declaration order.
func SupportedMessageTypes() []MessageType {
	out := make([]MessageType, len(supportedMessageTypes))
	copy(out, supportedMessageTypes)
	return out
}

type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

// IsValidMessageStatus reports whether s is a known delivery status.
func IsValidMessageStatus(s MessageStatus) bool {
	switch s {
	case StatusPending, StatusSent, StatusDelivered, StatusRead, StatusFailed:
		return true
	}
	return false
}

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

type ConversationStatus string

const (
	ConversationActive   ConversationStatus = "active"
	ConversationArchived ConversationStatus = "archived"
	ConversationClosed   ConversationStatus = "closed"
)

// WebhookStatus is the processing state of one received batch.
type WebhookStatus string

const (
	WebhookPending   WebhookStatus = "pending"
	WebhookProcessed WebhookStatus = "processed"
	WebhookFailed    WebhookStatus = "failed"
)
