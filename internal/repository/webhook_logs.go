package repository

import (
	"context"
	"strconv"
	"time"

	"whatsapp-broker/internal/models"

	"gorm.io/gorm"
)

type WebhookLogRepository struct {
	db *gorm.DB
}

func NewWebhookLogRepository(db *gorm.DB) *WebhookLogRepository {
	return &WebhookLogRepository{db: db}
}

func (r *WebhookLogRepository) Create(ctx context.Context, l *models.WebhookLog) error {
	if l.Status == "" {
		l.Status = models.WebhookPending
	}
	return translate(conn(ctx, r.db).Create(l).Error, "webhook log", l.EventType)
}

func (r *WebhookLogRepository) FindByID(ctx context.Context, id uint) (*models.WebhookLog, error) {
	var l models.WebhookLog
	if err := conn(ctx, r.db).First(&l, id).Error; err != nil {
		return nil, translate(err, "webhook log", strconv.FormatUint(uint64(id), 10))
	}
	return &l, nil
}

// MarkProcessed records a successful run and clears the previous error.
func (r *WebhookLogRepository) MarkProcessed(ctx context.Context, id uint, at time.Time) error {
	return r.update(ctx, id, map[string]any{
		"status":       models.WebhookProcessed,
		"processed_at": at,
		"error":        "",
	})
}

// MarkFailed records a failed run. Retries also bump the retry counter.
func (r *WebhookLogRepository) MarkFailed(ctx context.Context, id uint, errText string, countRetry bool) error {
	updates := map[string]any{
		"status": models.WebhookFailed,
		"error":  errText,
	}
	if countRetry {
		updates["retry_count"] = gorm.Expr("retry_count + ?", 1)
	}
	return r.update(ctx, id, updates)
}

func (r *WebhookLogRepository) update(ctx context.Context, id uint, updates map[string]any) error {
	key := strconv.FormatUint(uint64(id), 10)
	res := conn(ctx, r.db).Model(&models.WebhookLog{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return translate(res.Error, "webhook log", key)
	}
	if res.RowsAffected == 0 {
		return translate(gorm.ErrRecordNotFound, "webhook log", key)
	}
	return nil
}

// ListRetryable returns failed logs below the retry ceiling, oldest first.
func (r *WebhookLogRepository) ListRetryable(ctx context.Context, maxRetries, limit int) ([]models.WebhookLog, error) {
	var out []models.WebhookLog
	err := conn(ctx, r.db).
		Where("status = ? AND retry_count < ?", models.WebhookFailed, maxRetries).
		Order("created_at ASC").Order("id ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, translate(err, "webhook logs", string(models.WebhookFailed))
	}
	return out, nil
}

// CountByStatus returns the number of logs in each status.
func (r *WebhookLogRepository) CountByStatus(ctx context.Context) (map[models.WebhookStatus]int64, error) {
	var rows []struct {
		Status models.WebhookStatus
		Total  int64
	}
	err := conn(ctx, r.db).Model(&models.WebhookLog{}).
		Select("status, COUNT(*) AS total").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, translate(err, "webhook logs", "status counts")
	}
	out := map[models.WebhookStatus]int64{
		models.WebhookPending:   0,
		models.WebhookProcessed: 0,
		models.WebhookFailed:    0,
	}
	for _, row := range rows {
		out[row.Status] = row.Total
	}
	return out, nil
}
