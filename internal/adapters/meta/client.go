package meta

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"whatsapp-broker/internal/models"
	"whatsapp-broker/pkg/httputil"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

const (
	messagingProduct = "whatsapp"

	// Provider-side send states reported in messages[].message_status.
	SendStateAccepted = "accepted"
	SendStateHeld     = "held_for_quality_assessment"
	SendStatePaused   = "paused"
)

// Client talks to the WhatsApp Cloud API on behalf of one phone number.
type Client struct {
	httpClient    *resty.Client
	phoneNumberID string
}

// NewClient creates a Graph API client for phoneNumberID.
func NewClient(baseURL, apiVersion, accessToken, phoneNumberID string, timeout time.Duration) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("meta baseURL cannot be empty")
	}
	if apiVersion == "" {
		return nil, fmt.Errorf("meta API version cannot be empty")
	}
	if accessToken == "" {
		return nil, fmt.Errorf("meta access token cannot be empty")
	}
	if phoneNumberID == "" {
		return nil, fmt.Errorf("meta phone number ID cannot be empty")
	}

	client := httputil.NewDefaultRestyClient(timeout).
		SetBaseURL(strings.TrimRight(baseURL, "/")+"/"+apiVersion).
		SetAuthToken(accessToken).
		SetHeader("Content-Type", "application/json")

	log.Info().Str("baseURL", baseURL).Str("apiVersion", apiVersion).Str("phoneNumberID", phoneNumberID).Msg("Meta client configured")

	return &Client{httpClient: client, phoneNumberID: phoneNumberID}, nil
}

// OutgoingMessage is a message to deliver to one recipient.
type OutgoingMessage struct {
	To      string
	Type    models.MessageType
	Content models.MessageContent
	ReplyTo string
}

// SendResult is the provider's answer to a send.
type SendResult struct {
	MessageID string
	WaID      string
	// Held is set when the provider accepted the request but has not
	// released the message yet.
	Held bool
}

// SendMessage posts msg to the messages endpoint.
func (c *Client) SendMessage(ctx context.Context, msg OutgoingMessage) (*SendResult, error) {
	url := fmt.Sprintf("/%s/messages", c.phoneNumberID)
	body := SendMessageRequest{
		MessagingProduct: messagingProduct,
		RecipientType:    "individual",
		To:               msg.To,
		Type:             msg.Type,
		MessageContent:   msg.Content,
	}
	if msg.ReplyTo != "" {
		body.Context = &MessageContext{ID: msg.ReplyTo}
	}

	var result SendMessageResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&result).
		Post(url)
	if err != nil {
		log.Error().Err(err).Str("url", url).Str("to", msg.To).Msg("Meta API: SendMessage request failed")
		return nil, fmt.Errorf("meta API SendMessage request failed: %w", err)
	}
	if resp.IsError() {
		apiErr := decodeAPIError(resp)
		log.Error().Err(apiErr).Str("url", url).Str("to", msg.To).Int("statusCode", resp.StatusCode()).Msg("Meta API: SendMessage returned an error")
		return nil, apiErr
	}
	if len(result.Messages) == 0 || result.Messages[0].ID == "" {
		return nil, fmt.Errorf("meta API SendMessage response carried no message id: %s", resp.String())
	}

	out := &SendResult{MessageID: result.Messages[0].ID}
	switch result.Messages[0].MessageStatus {
	case SendStateHeld, SendStatePaused:
		out.Held = true
	}
	if len(result.Contacts) > 0 {
		out.WaID = result.Contacts[0].WaID
	}
	log.Info().Str("messageID", out.MessageID).Str("to", msg.To).Str("type", string(msg.Type)).Msg("Sent WhatsApp message")
	return out, nil
}

// MarkAsRead reports an inbound message as read to the sender.
func (c *Client) MarkAsRead(ctx context.Context, messageID string) error {
	url := fmt.Sprintf("/%s/messages", c.phoneNumberID)
	var result successResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(MarkReadRequest{MessagingProduct: messagingProduct, Status: "read", MessageID: messageID}).
		SetResult(&result).
		Post(url)
	if err != nil {
		log.Error().Err(err).Str("messageID", messageID).Msg("Meta API: MarkAsRead request failed")
		return fmt.Errorf("meta API MarkAsRead request failed: %w", err)
	}
	if resp.IsError() {
		apiErr := decodeAPIError(resp)
		log.Error().Err(apiErr).Str("messageID", messageID).Int("statusCode", resp.StatusCode()).Msg("Meta API: MarkAsRead returned an error")
		return apiErr
	}
	if !result.Success {
		return fmt.Errorf("meta API MarkAsRead was not acknowledged: %s", resp.String())
	}
	return nil
}

func decodeAPIError(resp *resty.Response) *APIError {
	var env apiErrorEnvelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil || env.Error == nil {
		return &APIError{StatusCode: resp.StatusCode(), Message: strings.TrimSpace(resp.String()), Type: "unknown"}
	}
	env.Error.StatusCode = resp.StatusCode()
	return env.Error
}
