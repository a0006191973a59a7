package repository

import (
	"context"
	"strconv"
	"time"

	"whatsapp-broker/internal/models"

	"gorm.io/gorm"
)

type MessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Create inserts m. A message id that is already stored yields ErrDuplicate.
func (r *MessageRepository) Create(ctx context.Context, m *models.Message) error {
	return translate(conn(ctx, r.db).Create(m).Error, "message", m.MessageID)
}

func (r *MessageRepository) FindByID(ctx context.Context, id uint) (*models.Message, error) {
	var m models.Message
	if err := conn(ctx, r.db).First(&m, id).Error; err != nil {
		return nil, translate(err, "message", strconv.FormatUint(uint64(id), 10))
	}
	return &m, nil
}

// FindByMessageID looks a message up by its provider id.
func (r *MessageRepository) FindByMessageID(ctx context.Context, messageID string) (*models.Message, error) {
	var m models.Message
	if err := conn(ctx, r.db).Where("message_id = ?", messageID).First(&m).Error; err != nil {
		return nil, translate(err, "message", messageID)
	}
	return &m, nil
}

// StatusChange describes one delivery status write.
type StatusChange struct {
	Status       models.MessageStatus
	At           time.Time
	FailedReason string
}

// UpdateStatus writes the status and stamps delivered-at or read-at. Each
// write overwrites the previous value of the fields it touches.
func (r *MessageRepository) UpdateStatus(ctx context.Context, messageID string, change StatusChange) (*models.Message, error) {
	updates := map[string]any{"status": change.Status}
	switch change.Status {
	case models.StatusDelivered:
		updates["delivered_at"] = change.At
	case models.StatusRead:
		updates["read_at"] = change.At
	case models.StatusFailed:
		if change.FailedReason != "" {
			updates["failed_reason"] = change.FailedReason
		}
	}
	return r.updateWhere(ctx, "message_id = ?", messageID, updates)
}

// Update applies column updates to the message with the given primary key.
func (r *MessageRepository) Update(ctx context.Context, id uint, updates map[string]any) (*models.Message, error) {
	return r.updateWhere(ctx, "id = ?", id, updates)
}

func (r *MessageRepository) updateWhere(ctx context.Context, cond string, key any, updates map[string]any) (*models.Message, error) {
	label := keyString(key)
	res := conn(ctx, r.db).Model(&models.Message{}).Where(cond, key).Updates(updates)
	if res.Error != nil {
		return nil, translate(res.Error, "message", label)
	}
	if res.RowsAffected == 0 {
		return nil, translate(gorm.ErrRecordNotFound, "message", label)
	}
	var m models.Message
	if err := conn(ctx, r.db).Where(cond, key).First(&m).Error; err != nil {
		return nil, translate(err, "message", label)
	}
	return &m, nil
}

// ListByConversation returns one page of the conversation's history. Pages
// are counted from the newest message; each page is returned oldest first.
func (r *MessageRepository) ListByConversation(ctx context.Context, conversationID uint, page Page) ([]models.Message, int64, error) {
	return r.listNewestFirst(ctx, page, "conversation_id = ?", conversationID)
}

// ListByPhone returns messages sent to or received from phone.
func (r *MessageRepository) ListByPhone(ctx context.Context, phone string, page Page) ([]models.Message, int64, error) {
	return r.listNewestFirst(ctx, page, `"from" = ? OR "to" = ?`, phone, phone)
}

func (r *MessageRepository) listNewestFirst(ctx context.Context, page Page, cond string, args ...any) ([]models.Message, int64, error) {
	page = page.normalize()
	q := conn(ctx, r.db).Model(&models.Message{}).Where(cond, args...).Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, translate(err, "messages", keyString(args[0]))
	}
	var out []models.Message
	err := q.Order("timestamp DESC").Order("id DESC").
		Offset(page.offset()).Limit(page.Size).
		Find(&out).Error
	if err != nil {
		return nil, 0, translate(err, "messages", keyString(args[0]))
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, total, nil
}

func (r *MessageRepository) Delete(ctx context.Context, id uint) error {
	res := conn(ctx, r.db).Delete(&models.Message{}, id)
	if res.Error != nil {
		return translate(res.Error, "message", keyString(id))
	}
	if res.RowsAffected == 0 {
		return translate(gorm.ErrRecordNotFound, "message", keyString(id))
	}
	return nil
}

func keyString(key any) string {
	switch v := key.(type) {
	case string:
		return v
	case uint:
		return strconv.FormatUint(uint64(v), 10)
	default:
		return ""
	}
}
