package meta

import (
	"fmt"
	"strings"

	"whatsapp-broker/internal/models"
)

// WebhookPayload is the body Meta posts for WhatsApp Business webhooks.
type WebhookPayload struct {
	Object string         `json:"object"`
	Entry  []WebhookEntry `json:"entry"`
}

type WebhookEntry struct {
	ID      string          `json:"id"`
	Changes []WebhookChange `json:"changes"`
}

type WebhookChange struct {
	Field string       `json:"field"`
	Value WebhookValue `json:"value"`
}

type WebhookMetadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type WebhookValue struct {
	MessagingProduct string           `json:"messaging_product"`
	Metadata         WebhookMetadata  `json:"metadata"`
	Contacts         []WebhookContact `json:"contacts,omitempty"`
	Messages         []WebhookMessage `json:"messages,omitempty"`
	Statuses         []WebhookStatus  `json:"statuses,omitempty"`
	Errors           []WebhookError   `json:"errors,omitempty"`
}

type WebhookContact struct {
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
	WaID string `json:"wa_id"`
}

type MessageContext struct {
	From string `json:"from,omitempty"`
	ID   string `json:"id"`
}

// WebhookMessage is one inbound message. The typed payloads reuse the
// stored content shapes so no conversion is needed.
type WebhookMessage struct {
	From      string             `json:"from"`
	ID        string             `json:"id"`
	Timestamp string             `json:"timestamp"`
	Type      models.MessageType `json:"type"`
	models.MessageContent
	Context *MessageContext `json:"context,omitempty"`
	Errors  []WebhookError  `json:"errors,omitempty"`
}

type StatusConversation struct {
	ID                  string `json:"id"`
	ExpirationTimestamp string `json:"expiration_timestamp,omitempty"`
	Origin              struct {
		Type string `json:"type"`
	} `json:"origin"`
}

type StatusPricing struct {
	Billable     bool   `json:"billable"`
	PricingModel string `json:"pricing_model"`
	Category     string `json:"category"`
}

// WebhookStatus is one delivery status notification.
type WebhookStatus struct {
	ID           string              `json:"id"`
	Status       string              `json:"status"`
	Timestamp    string              `json:"timestamp"`
	RecipientID  string              `json:"recipient_id"`
	Conversation *StatusConversation `json:"conversation,omitempty"`
	Pricing      *StatusPricing      `json:"pricing,omitempty"`
	Errors       []WebhookError      `json:"errors,omitempty"`
}

type WebhookError struct {
	Code      int    `json:"code"`
	Title     string `json:"title"`
	Message   string `json:"message,omitempty"`
	ErrorData *struct {
		Details string `json:"details"`
	} `json:"error_data,omitempty"`
}

// DescribeErrors renders the errors as "code: title (details)" joined by "; ".
func DescribeErrors(errs []WebhookError) string {
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		s := fmt.Sprintf("%d: %s", e.Code, e.Title)
		if e.ErrorData != nil && e.ErrorData.Details != "" {
			s += " (" + e.ErrorData.Details + ")"
		} else if e.Message != "" && e.Message != e.Title {
			s += " (" + e.Message + ")"
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, "; ")
}

// SendMessageRequest is the body of POST /{phone-number-id}/messages.
type SendMessageRequest struct {
	MessagingProduct string             `json:"messaging_product"`
	RecipientType    string             `json:"recipient_type,omitempty"`
	To               string             `json:"to"`
	Type             models.MessageType `json:"type"`
	models.MessageContent
	Context *MessageContext `json:"context,omitempty"`
}

type SendMessageResponse struct {
	MessagingProduct string `json:"messaging_product"`
	Contacts         []struct {
		Input string `json:"input"`
		WaID  string `json:"wa_id"`
	} `json:"contacts"`
	Messages []struct {
		ID            string `json:"id"`
		MessageStatus string `json:"message_status,omitempty"`
	} `json:"messages"`
}

// MarkReadRequest marks an inbound message as read.
type MarkReadRequest struct {
	MessagingProduct string `json:"messaging_product"`
	Status           string `json:"status"`
	MessageID        string `json:"message_id"`
}

type successResponse struct {
	Success bool `json:"success"`
}

// APIError is the error envelope returned by the Graph API.
type APIError struct {
	StatusCode   int    `json:"-"`
	Message      string `json:"message"`
	Type         string `json:"type"`
	Code         int    `json:"code"`
	ErrorSubcode int    `json:"error_subcode,omitempty"`
	ErrorData    *struct {
		MessagingProduct string `json:"messaging_product"`
		Details          string `json:"details"`
	} `json:"error_data,omitempty"`
	FBTraceID string `json:"fbtrace_id,omitempty"`
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("graph api error %d (code %d, %s): %s", e.StatusCode, e.Code, e.Type, e.Message)
	if e.ErrorData != nil && e.ErrorData.Details != "" {
		msg += ": " + e.ErrorData.Details
	}
	if e.FBTraceID != "" {
		msg += " [trace " + e.FBTraceID + "]"
	}
	return msg
}

type apiErrorEnvelope struct {
	Error *APIError `json:"error"`
}
