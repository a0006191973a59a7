package models

import (
	"database/sql/driver"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"whatsapp-broker/internal/apperr"
)

// PreviewMaxLength bounds the conversation preview, counted in characters.
const PreviewMaxLength = 100

type TextContent struct {
	Body       string `json:"body"`
	PreviewURL bool   `json:"preview_url,omitempty"`
}

// MediaContent covers image, video, audio, document and sticker payloads.
type MediaContent struct {
	ID       string `json:"id,omitempty"`
	Link     string `json:"link,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	SHA256   string `json:"sha256,omitempty"`
}

type LocationContent struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
	Address   string  `json:"address,omitempty"`
}

type ContactName struct {
	FormattedName string `json:"formatted_name"`
	FirstName     string `json:"first_name,omitempty"`
	LastName      string `json:"last_name,omitempty"`
	MiddleName    string `json:"middle_name,omitempty"`
	Suffix        string `json:"suffix,omitempty"`
	Prefix        string `json:"prefix,omitempty"`
}

type ContactPhone struct {
	Phone string `json:"phone"`
	Type  string `json:"type,omitempty"`
	WaID  string `json:"wa_id,omitempty"`
}

type ContactEmail struct {
	Email string `json:"email"`
	Type  string `json:"type,omitempty"`
}

type ContactAddress struct {
	Street      string `json:"street,omitempty"`
	City        string `json:"city,omitempty"`
	State       string `json:"state,omitempty"`
	Zip         string `json:"zip,omitempty"`
	Country     string `json:"country,omitempty"`
	CountryCode string `json:"country_code,omitempty"`
	Type        string `json:"type,omitempty"`
}

type ContactOrg struct {
	Company    string `json:"company,omitempty"`
	Department string `json:"department,omitempty"`
	Title      string `json:"title,omitempty"`
}

type ContactURL struct {
	URL  string `json:"url"`
	Type string `json:"type,omitempty"`
}

// ContactCard is one vCard-like entry of a contacts message.
type ContactCard struct {
	Name      ContactName      `json:"name"`
	Phones    []ContactPhone   `json:"phones,omitempty"`
	Emails    []ContactEmail   `json:"emails,omitempty"`
	Addresses []ContactAddress `json:"addresses,omitempty"`
	Org       *ContactOrg      `json:"org,omitempty"`
	URLs      []ContactURL     `json:"urls,omitempty"`
	Birthday  string           `json:"birthday,omitempty"`
}

type InteractiveReply struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

type InteractiveText struct {
	Text string `json:"text"`
}

type InteractiveHeader struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	Image    *MediaContent `json:"image,omitempty"`
	Video    *MediaContent `json:"video,omitempty"`
	Document *MediaContent `json:"document,omitempty"`
}

type InteractiveButton struct {
	Type  string           `json:"type"`
	Reply InteractiveReply `json:"reply"`
}

type InteractiveSection struct {
	Title string             `json:"title,omitempty"`
	Rows  []InteractiveReply `json:"rows"`
}

type InteractiveAction struct {
	Button            string               `json:"button,omitempty"`
	Buttons           []InteractiveButton  `json:"buttons,omitempty"`
	Sections          []InteractiveSection `json:"sections,omitempty"`
	CatalogID         string               `json:"catalog_id,omitempty"`
	ProductRetailerID string               `json:"product_retailer_id,omitempty"`
}

// InteractiveContent holds both directions: outbound messages carry the
// header/body/footer/action layout, inbound replies carry ButtonReply or
// ListReply.
type InteractiveContent struct {
	Type        string             `json:"type"`
	Header      *InteractiveHeader `json:"header,omitempty"`
	Body        *InteractiveText   `json:"body,omitempty"`
	Footer      *InteractiveText   `json:"footer,omitempty"`
	Action      *InteractiveAction `json:"action,omitempty"`
	ButtonReply *InteractiveReply  `json:"button_reply,omitempty"`
	ListReply   *InteractiveReply  `json:"list_reply,omitempty"`
}

type TemplateLanguage struct {
	Code string `json:"code"`
}

type TemplateCurrency struct {
	FallbackValue string `json:"fallback_value"`
	Code          string `json:"code"`
	Amount1000    int64  `json:"amount_1000"`
}

type TemplateDateTime struct {
	FallbackValue string `json:"fallback_value"`
}

type TemplateParameter struct {
	Type     string            `json:"type"`
	Text     string            `json:"text,omitempty"`
	Currency *TemplateCurrency `json:"currency,omitempty"`
	DateTime *TemplateDateTime `json:"date_time,omitempty"`
	Image    *MediaContent     `json:"image,omitempty"`
	Document *MediaContent     `json:"document,omitempty"`
	Video    *MediaContent     `json:"video,omitempty"`
}

type TemplateComponent struct {
	Type       string              `json:"type"`
	SubType    string              `json:"sub_type,omitempty"`
	Index      string              `json:"index,omitempty"`
	Parameters []TemplateParameter `json:"parameters,omitempty"`
}

type TemplateContent struct {
	Name       string              `json:"name"`
	Language   TemplateLanguage    `json:"language"`
	Components []TemplateComponent `json:"components,omitempty"`
}

type ReactionContent struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

// MessageContent is a closed union over the supported message types: exactly
// the field named by the message type is set. Validate enforces it.
type MessageContent struct {
	Text        *TextContent        `json:"text,omitempty"`
	Image       *MediaContent       `json:"image,omitempty"`
	Video       *MediaContent       `json:"video,omitempty"`
	Audio       *MediaContent       `json:"audio,omitempty"`
	Document    *MediaContent       `json:"document,omitempty"`
	Sticker     *MediaContent       `json:"sticker,omitempty"`
	Location    *LocationContent    `json:"location,omitempty"`
	Contacts    []ContactCard       `json:"contacts,omitempty"`
	Interactive *InteractiveContent `json:"interactive,omitempty"`
	Template    *TemplateContent    `json:"template,omitempty"`
	Reaction    *ReactionContent    `json:"reaction,omitempty"`
}

func (c MessageContent) Value() (driver.Value, error) {
	b, err := json.Marshal(c)
	return string(b), err
}

func (c *MessageContent) Scan(src any) error {
	*c = MessageContent{}
	return scanJSON(src, c)
}

// variants lists which union members are populated, keyed by type.
func (c MessageContent) variants() map[MessageType]bool {
	return map[MessageType]bool{
		TypeText:        c.Text != nil,
		TypeImage:       c.Image != nil,
		TypeVideo:       c.Video != nil,
		TypeAudio:       c.Audio != nil,
		TypeDocument:    c.Document != nil,
		TypeSticker:     c.Sticker != nil,
		TypeLocation:    c.Location != nil,
		TypeContacts:    len(c.Contacts) > 0,
		TypeInteractive: c.Interactive != nil,
		TypeTemplate:    c.Template != nil,
		TypeReaction:    c.Reaction != nil,
	}
}

// Validate checks that t is supported, that its payload is present and that
// no other payload is set.
func (c MessageContent) Validate(t MessageType) error {
	if !IsValidMessageType(t) {
		return apperr.Validation("unsupported message type %q", t)
	}
	for variant, set := range c.variants() {
		if variant == t && !set {
			return apperr.Validation("%s message requires a %s payload", t, t)
		}
		if variant != t && set {
			return apperr.Validation("%s message must not carry a %s payload", t, variant)
		}
	}
	switch t {
	case TypeText:
		if strings.TrimSpace(c.Text.Body) == "" {
			return apperr.Validation("text body is required")
		}
	case TypeImage, TypeVideo, TypeAudio, TypeDocument, TypeSticker:
		m := c.media(t)
		if m.ID == "" && m.Link == "" {
			return apperr.Validation("%s requires a media id or link", t)
		}
	case TypeTemplate:
		if c.Template.Name == "" || c.Template.Language.Code == "" {
			return apperr.Validation("template requires a name and language code")
		}
	case TypeReaction:
		if c.Reaction.MessageID == "" {
			return apperr.Validation("reaction requires the target message id")
		}
	}
	return nil
}

func (c MessageContent) media(t MessageType) *MediaContent {
	switch t {
	case TypeImage:
		return c.Image
	case TypeVideo:
		return c.Video
	case TypeAudio:
		return c.Audio
	case TypeDocument:
		return c.Document
	case TypeSticker:
		return c.Sticker
	}
	return nil
}

// Preview derives the conversation preview for a message of type t,
// truncated to PreviewMaxLength characters.
func (c MessageContent) Preview(t MessageType) string {
	return TruncatePreview(c.rawPreview(t))
}

func (c MessageContent) rawPreview(t MessageType) string {
	switch t {
	case TypeText:
		if c.Text != nil {
			return c.Text.Body
		}
		return ""
	case TypeImage:
		if c.Image != nil && c.Image.Caption != "" {
			return c.Image.Caption
		}
		return "📷 Image"
	case TypeVideo:
		if c.Video != nil && c.Video.Caption != "" {
			return c.Video.Caption
		}
		return "🎥 Video"
	case TypeAudio:
		return "🎵 Audio"
	case TypeDocument:
		if c.Document != nil && c.Document.Filename != "" {
			return c.Document.Filename
		}
		return "📎 Document"
	case TypeSticker:
		return "🎨 Sticker"
	case TypeLocation:
		if c.Location != nil && c.Location.Name != "" {
			return "📍 " + c.Location.Name
		}
		return "📍 Location"
	case TypeContacts:
		return "👤 Contact"
	case TypeInteractive:
		if c.Interactive != nil {
			if r := c.Interactive.ButtonReply; r != nil && r.Title != "" {
				return r.Title
			}
			if r := c.Interactive.ListReply; r != nil && r.Title != "" {
				return r.Title
			}
		}
		return "Interactive"
	case TypeTemplate:
		if c.Template != nil && c.Template.Name != "" {
			return "📋 " + c.Template.Name
		}
		return "📋 Template"
	case TypeReaction:
		if c.Reaction != nil && c.Reaction.Emoji != "" {
			return c.Reaction.Emoji
		}
		return "👍"
	}
	return "Message"
}

// TruncatePreview cuts s to PreviewMaxLength runes.
func TruncatePreview(s string) string {
	if utf8.RuneCountInString(s) <= PreviewMaxLength {
		return s
	}
	runes := []rune(s)
	return string(runes[:PreviewMaxLength])
}
