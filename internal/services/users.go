package services

import (
	"context"
	"fmt"
	"strings"

	"whatsapp-broker/internal/apperr"
	"whatsapp-broker/internal/models"

	"github.com/rs/zerolog/log"
)

// UserUpdate lists the user attributes callers may change. Nil fields are
// left alone; CustomFields are merged key by key.
type UserUpdate struct {
	Name           *string             `json:"name,omitempty"`
	ProfilePicture *string             `json:"profilePicture,omitempty"`
	CustomFields   models.CustomFields `json:"customFields,omitempty"`
}

type UserService struct {
	users UserStore
}

func NewUserService(users UserStore) (*UserService, error) {
	if users == nil {
		return nil, fmt.Errorf("user store cannot be nil")
	}
	return &UserService{users: users}, nil
}

func (s *UserService) Get(ctx context.Context, id uint) (*models.User, error) {
	return s.users.FindByID(ctx, id)
}

func (s *UserService) GetByWaID(ctx context.Context, waID string) (*models.User, error) {
	return s.users.FindByWaID(ctx, waID)
}

func (s *UserService) Update(ctx context.Context, waID string, upd UserUpdate) (*models.User, error) {
	user, err := s.users.FindByWaID(ctx, waID)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return nil, apperr.Validation("name cannot be empty")
		}
		updates["name"] = name
	}
	if upd.ProfilePicture != nil {
		updates["profile_picture"] = strings.TrimSpace(*upd.ProfilePicture)
	}
	if len(upd.CustomFields) > 0 {
		merged := models.CustomFields{}
		for k, v := range user.CustomFields {
			merged[k] = v
		}
		for k, v := range upd.CustomFields {
			if strings.TrimSpace(k) == "" {
				return nil, apperr.Validation("custom field names cannot be empty")
			}
			merged[k] = v
		}
		updates["custom_fields"] = merged
	}
	if len(updates) == 0 {
		return nil, apperr.Validation("no fields to update")
	}
	return s.users.Update(ctx, user.ID, updates)
}

func (s *UserService) Block(ctx context.Context, waID string) (*models.User, error) {
	return s.setBlocked(ctx, waID, true)
}

func (s *UserService) Unblock(ctx context.Context, waID string) (*models.User, error) {
	return s.setBlocked(ctx, waID, false)
}

func (s *UserService) setBlocked(ctx context.Context, waID string, blocked bool) (*models.User, error) {
	user, err := s.users.FindByWaID(ctx, waID)
	if err != nil {
		return nil, err
	}
	updated, err := s.users.Update(ctx, user.ID, map[string]any{"is_blocked": blocked})
	if err != nil {
		return nil, err
	}
	log.Info().Str("waId", waID).Bool("blocked", blocked).Msg("User block state changed")
	return updated, nil
}

func (s *UserService) AddTags(ctx context.Context, waID string, tags []string) (*models.User, error) {
	if err := requireTags(tags); err != nil {
		return nil, err
	}
	user, err := s.users.FindByWaID(ctx, waID)
	if err != nil {
		return nil, err
	}
	return s.users.AddTags(ctx, user.ID, tags)
}

func (s *UserService) RemoveTags(ctx context.Context, waID string, tags []string) (*models.User, error) {
	if err := requireTags(tags); err != nil {
		return nil, err
	}
	user, err := s.users.FindByWaID(ctx, waID)
	if err != nil {
		return nil, err
	}
	return s.users.RemoveTags(ctx, user.ID, tags)
}
