package repository

import (
	"context"
	"strconv"
	"time"

	"whatsapp-broker/internal/models"

	"gorm.io/gorm"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts u. A second user with the same waId yields ErrDuplicate.
// The insert runs in its own savepoint so a duplicate leaves an enclosing
// transaction usable.
func (r *UserRepository) Create(ctx context.Context, u *models.User) error {
	if u.Tags == nil {
		u.Tags = models.Tags{}
	}
	err := conn(ctx, r.db).Transaction(func(tx *gorm.DB) error {
		return tx.Create(u).Error
	})
	return translate(err, "user", u.WaID)
}

func (r *UserRepository) FindByID(ctx context.Context, id uint) (*models.User, error) {
	var u models.User
	if err := conn(ctx, r.db).First(&u, id).Error; err != nil {
		return nil, translate(err, "user", strconv.FormatUint(uint64(id), 10))
	}
	return &u, nil
}

func (r *UserRepository) FindByWaID(ctx context.Context, waID string) (*models.User, error) {
	var u models.User
	if err := conn(ctx, r.db).Where("wa_id = ?", waID).First(&u).Error; err != nil {
		return nil, translate(err, "user", waID)
	}
	return &u, nil
}

// Update applies column updates to the user and returns the stored result.
func (r *UserRepository) Update(ctx context.Context, id uint, updates map[string]any) (*models.User, error) {
	key := strconv.FormatUint(uint64(id), 10)
	err := conn(ctx, r.db).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.User{}).Where("id = ?", id).Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if err != nil {
		return nil, translate(err, "user", key)
	}
	return r.FindByID(ctx, id)
}

// TouchLastMessage records activity on the user.
func (r *UserRepository) TouchLastMessage(ctx context.Context, id uint, at time.Time) error {
	_, err := r.Update(ctx, id, map[string]any{"last_message_at": at})
	return err
}

// AddTags adds tags with set semantics.
func (r *UserRepository) AddTags(ctx context.Context, id uint, tags []string) (*models.User, error) {
	return r.mutateTags(ctx, id, func(t models.Tags) models.Tags { return t.Add(tags...) })
}

// RemoveTags removes tags; absent tags are ignored.
func (r *UserRepository) RemoveTags(ctx context.Context, id uint, tags []string) (*models.User, error) {
	return r.mutateTags(ctx, id, func(t models.Tags) models.Tags { return t.Remove(tags...) })
}

func (r *UserRepository) mutateTags(ctx context.Context, id uint, fn func(models.Tags) models.Tags) (*models.User, error) {
	key := strconv.FormatUint(uint64(id), 10)
	err := conn(ctx, r.db).Transaction(func(tx *gorm.DB) error {
		var u models.User
		if err := tx.Select("id", "tags").First(&u, id).Error; err != nil {
			return err
		}
		return tx.Model(&models.User{}).Where("id = ?", id).Update("tags", fn(u.Tags)).Error
	})
	if err != nil {
		return nil, translate(err, "user", key)
	}
	return r.FindByID(ctx, id)
}
