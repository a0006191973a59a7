package repository

import (
	"context"
	"strconv"
	"time"

	"whatsapp-broker/internal/models"

	"gorm.io/gorm"
)

type ConversationRepository struct {
	db *gorm.DB
}

func NewConversationRepository(db *gorm.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

func convKey(id uint) string { return strconv.FormatUint(uint64(id), 10) }

// Create inserts c. A second non-closed conversation for the same user
// yields ErrDuplicate. Like UserRepository.Create it runs in a savepoint.
func (r *ConversationRepository) Create(ctx context.Context, c *models.Conversation) error {
	if c.Tags == nil {
		c.Tags = models.Tags{}
	}
	if c.Status == "" {
		c.Status = models.ConversationActive
	}
	err := conn(ctx, r.db).Transaction(func(tx *gorm.DB) error {
		return tx.Omit("User").Create(c).Error
	})
	return translate(err, "conversation", "user "+convKey(c.UserID))
}

// FindByID loads the conversation together with its user.
func (r *ConversationRepository) FindByID(ctx context.Context, id uint) (*models.Conversation, error) {
	var c models.Conversation
	if err := conn(ctx, r.db).Preload("User").First(&c, id).Error; err != nil {
		return nil, translate(err, "conversation", convKey(id))
	}
	return &c, nil
}

// FindOpenByUser returns the user's single non-closed conversation.
func (r *ConversationRepository) FindOpenByUser(ctx context.Context, userID uint) (*models.Conversation, error) {
	var c models.Conversation
	err := conn(ctx, r.db).
		Where("user_id = ? AND status <> ?", userID, models.ConversationClosed).
		First(&c).Error
	if err != nil {
		return nil, translate(err, "open conversation", "user "+convKey(userID))
	}
	return &c, nil
}

// FindOpenByUserExcluding is FindOpenByUser ignoring the conversation id.
func (r *ConversationRepository) FindOpenByUserExcluding(ctx context.Context, userID, id uint) (*models.Conversation, error) {
	var c models.Conversation
	err := conn(ctx, r.db).
		Where("user_id = ? AND status <> ? AND id <> ?", userID, models.ConversationClosed, id).
		First(&c).Error
	if err != nil {
		return nil, translate(err, "open conversation", "user "+convKey(userID))
	}
	return &c, nil
}

// FindByProviderID looks a conversation up by the WhatsApp conversation id.
func (r *ConversationRepository) FindByProviderID(ctx context.Context, waConversationID string) (*models.Conversation, error) {
	var c models.Conversation
	if err := conn(ctx, r.db).Where("wa_conversation_id = ?", waConversationID).First(&c).Error; err != nil {
		return nil, translate(err, "conversation", waConversationID)
	}
	return &c, nil
}

// ListByUser returns the user's conversations, most recently active first.
func (r *ConversationRepository) ListByUser(ctx context.Context, userID uint, page Page) ([]models.Conversation, int64, error) {
	page = page.normalize()
	q := conn(ctx, r.db).Model(&models.Conversation{}).Where("user_id = ?", userID).Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, translate(err, "conversations", "user "+convKey(userID))
	}
	var out []models.Conversation
	err := q.Order("last_message_at IS NULL, last_message_at DESC").Order("id DESC").
		Offset(page.offset()).Limit(page.Size).
		Find(&out).Error
	if err != nil {
		return nil, 0, translate(err, "conversations", "user "+convKey(userID))
	}
	return out, total, nil
}

// Update applies column updates and returns the stored result.
func (r *ConversationRepository) Update(ctx context.Context, id uint, updates map[string]any) (*models.Conversation, error) {
	res := conn(ctx, r.db).Model(&models.Conversation{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return nil, translate(res.Error, "conversation", convKey(id))
	}
	if res.RowsAffected == 0 {
		return nil, translate(gorm.ErrRecordNotFound, "conversation", convKey(id))
	}
	return r.FindByID(ctx, id)
}

// RecordMessage sets the last-message fields and, for inbound traffic,
// increments the unread counter in the same statement.
func (r *ConversationRepository) RecordMessage(ctx context.Context, id, messageID uint, at time.Time, preview string, incrementUnread bool) error {
	updates := map[string]any{
		"last_message_id":      messageID,
		"last_message_at":      at,
		"last_message_preview": models.TruncatePreview(preview),
	}
	if incrementUnread {
		updates["unread_count"] = gorm.Expr("unread_count + ?", 1)
	}
	res := conn(ctx, r.db).Model(&models.Conversation{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return translate(res.Error, "conversation", convKey(id))
	}
	if res.RowsAffected == 0 {
		return translate(gorm.ErrRecordNotFound, "conversation", convKey(id))
	}
	return nil
}

// SumUnread totals the unread counters of the user's active conversations.
func (r *ConversationRepository) SumUnread(ctx context.Context, userID uint) (int64, error) {
	var total int64
	err := conn(ctx, r.db).Model(&models.Conversation{}).
		Select("COALESCE(SUM(unread_count), 0)").
		Where("user_id = ? AND status = ?", userID, models.ConversationActive).
		Scan(&total).Error
	if err != nil {
		return 0, translate(err, "conversations", "user "+convKey(userID))
	}
	return total, nil
}

func (r *ConversationRepository) AddTags(ctx context.Context, id uint, tags []string) (*models.Conversation, error) {
	return r.mutateTags(ctx, id, func(t models.Tags) models.Tags { return t.Add(tags...) })
}

func (r *ConversationRepository) RemoveTags(ctx context.Context, id uint, tags []string) (*models.Conversation, error) {
	return r.mutateTags(ctx, id, func(t models.Tags) models.Tags { return t.Remove(tags...) })
}

func (r *ConversationRepository) mutateTags(ctx context.Context, id uint, fn func(models.Tags) models.Tags) (*models.Conversation, error) {
	err := conn(ctx, r.db).Transaction(func(tx *gorm.DB) error {
		var c models.Conversation
		if err := tx.Select("id", "tags").First(&c, id).Error; err != nil {
			return err
		}
		return tx.Model(&models.Conversation{}).Where("id = ?", id).Update("tags", fn(c.Tags)).Error
	})
	if err != nil {
		return nil, translate(err, "conversation", convKey(id))
	}
	return r.FindByID(ctx, id)
}
