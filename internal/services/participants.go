package services

import (
	"context"
	"errors"
	"fmt"

	"whatsapp-broker/internal/apperr"
	"whatsapp-broker/internal/models"

	"github.com/rs/zerolog/log"
)

// participants resolves the user and open conversation for a WhatsApp
// address. Inbound and outbound traffic share it so both produce the same
// conversational state.
type participants struct {
	users         UserStore
	conversations ConversationStore
}

// findOrCreateUser returns the user for waID, creating it on first sight.
// A changed non-empty profile name is written back; failure to do so is
// logged and ignored.
func (p participants) findOrCreateUser(ctx context.Context, waID, name string) (*models.User, error) {
	user, err := p.users.FindByWaID(ctx, waID)
	if err == nil {
		if name != "" && name != user.Name {
			updated, uerr := p.users.Update(ctx, user.ID, map[string]any{"name": name})
			if uerr != nil {
				log.Warn().Err(uerr).Str("waId", waID).Msg("Failed to refresh user name")
				return user, nil
			}
			log.Debug().Str("waId", waID).Str("name", name).Msg("User name refreshed")
			return updated, nil
		}
		return user, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up user %s: %w", waID, err)
	}

	if name == "" {
		name = waID
	}
	user = &models.User{WaID: waID, PhoneNumber: waID, Name: name}
	if err := p.users.Create(ctx, user); err != nil {
		if errors.Is(err, apperr.ErrDuplicate) {
			// Another event for the same sender created it first.
			return p.users.FindByWaID(ctx, waID)
		}
		return nil, fmt.Errorf("failed to create user %s: %w", waID, err)
	}
	log.Info().Str("waId", waID).Uint("userID", user.ID).Msg("Created user")
	return user, nil
}

// findOrCreateConversation returns the user's single non-closed
// conversation, opening one when none exists. The store rejects a second
// open conversation, in which case the winner is re-read.
func (p participants) findOrCreateConversation(ctx context.Context, user *models.User) (*models.Conversation, error) {
	conv, err := p.conversations.FindOpenByUser(ctx, user.ID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up conversation for %s: %w", user.WaID, err)
	}

	conv = &models.Conversation{
		UserID:      user.ID,
		PhoneNumber: user.PhoneNumber,
		Status:      models.ConversationActive,
	}
	if err := p.conversations.Create(ctx, conv); err != nil {
		if errors.Is(err, apperr.ErrDuplicate) {
			log.Debug().Str("waId", user.WaID).Msg("Conversation created concurrently, using existing one")
			return p.conversations.FindOpenByUser(ctx, user.ID)
		}
		return nil, fmt.Errorf("failed to create conversation for %s: %w", user.WaID, err)
	}
	log.Info().Str("waId", user.WaID).Uint("conversationID", conv.ID).Msg("Opened conversation")
	return conv, nil
}

// resolve returns both the user and its open conversation.
func (p participants) resolve(ctx context.Context, waID, name string) (*models.User, *models.Conversation, error) {
	user, err := p.findOrCreateUser(ctx, waID, name)
	if err != nil {
		return nil, nil, err
	}
	conv, err := p.findOrCreateConversation(ctx, user)
	if err != nil {
		return nil, nil, err
	}
	return user, conv, nil
}
