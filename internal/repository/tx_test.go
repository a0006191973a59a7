package repository

import (
	"context"
	"errors"
	"testing"

	"whatsapp-broker/internal/apperr"
	"whatsapp-broker/internal/models"
)

func TestWithinTxRollsBackOnError(t *testing.T) {
	r := newTestRepos(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := r.WithinTx(ctx, func(ctx context.Context) error {
		if err := r.Users.Create(ctx, &models.User{WaID: "1777", PhoneNumber: "1777"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected the callback error, got %v", err)
	}
	if _, err := r.Users.FindByWaID(ctx, "1777"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected the user to be rolled back, got %v", err)
	}
}

func TestWithinTxSurvivesDuplicate(t *testing.T) {
	r := newTestRepos(t)
	ctx := context.Background()
	existing, _ := seedConversation(t, r, "1888")

	err := r.WithinTx(ctx, func(ctx context.Context) error {
		err := r.Users.Create(ctx, &models.User{WaID: "1888", PhoneNumber: "1888"})
		if !errors.Is(err, apperr.ErrDuplicate) {
			t.Errorf("expected ErrDuplicate, got %v", err)
		}
		// The transaction stays usable after the failed insert.
		u, err := r.Users.FindByWaID(ctx, "1888")
		if err != nil {
			return err
		}
		if u.ID != existing.ID {
			t.Errorf("re-fetched user %d, want %d", u.ID, existing.ID)
		}
		return r.Users.Create(ctx, &models.User{WaID: "1999", PhoneNumber: "1999"})
	})
	if err != nil {
		t.Fatalf("WithinTx: %v", err)
	}
	if _, err := r.Users.FindByWaID(ctx, "1999"); err != nil {
		t.Fatalf("expected the committed user, got %v", err)
	}
}
