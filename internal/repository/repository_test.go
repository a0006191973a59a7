package repository

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"whatsapp-broker/internal/apperr"
	"whatsapp-broker/internal/db"
	"whatsapp-broker/internal/models"
)

func newTestRepos(t *testing.T) *Repositories {
	t.Helper()
	gdb, err := db.Open(db.DriverSQLiteNoCGO, filepath.Join(t.TempDir(), "repo.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(gdb) })
	if err := db.Migrate(gdb, models.All()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	repos, err := New(gdb, db.DriverSQLiteNoCGO)
	if err != nil {
		t.Fatalf("repositories: %v", err)
	}
	return repos
}

func seedConversation(t *testing.T, r *Repositories, waID string) (*models.User, *models.Conversation) {
	t.Helper()
	ctx := context.Background()
	u := &models.User{WaID: waID, PhoneNumber: waID, Name: waID}
	if err := r.Users.Create(ctx, u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	c := &models.Conversation{UserID: u.ID, PhoneNumber: waID}
	if err := r.Conversations.Create(ctx, c); err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	return u, c
}

func TestUserCreateDuplicate(t *testing.T) {
	r := newTestRepos(t)
	ctx := context.Background()

	if err := r.Users.Create(ctx, &models.User{WaID: "1555", PhoneNumber: "1555"}); err != nil {
		t.Fatalf("first create: %v", err)
	}
	err := r.Users.Create(ctx, &models.User{WaID: "1555", PhoneNumber: "1555"})
	if !errors.Is(err, apperr.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	u, err := r.Users.FindByWaID(ctx, "1555")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if u.Tags == nil || len(u.Tags) != 0 {
		t.Fatalf("expected empty tag set, got %#v", u.Tags)
	}
	if _, err := r.Users.FindByWaID(ctx, "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUserUpdateAndTags(t *testing.T) {
	r := newTestRepos(t)
	ctx := context.Background()
	u, _ := seedConversation(t, r, "1666")

	fields := models.CustomFields{"tier": models.StringField("gold"), "score": models.NumberField(7)}
	updated, err := r.Users.Update(ctx, u.ID, map[string]any{"name": "Bea", "custom_fields": fields})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Name != "Bea" {
		t.Fatalf("expected name Bea, got %q", updated.Name)
	}
	if s, _ := updated.CustomFields["tier"].AsString(); s != "gold" {
		t.Fatalf("custom fields not persisted: %#v", updated.CustomFields)
	}

	if _, err := r.Users.Update(ctx, 9999, map[string]any{"name": "x"}); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if _, err := r.Users.AddTags(ctx, u.ID, []string{"vip", "beta"}); err != nil {
		t.Fatalf("add tags: %v", err)
	}
	again, err := r.Users.AddTags(ctx, u.ID, []string{"vip"})
	if err != nil {
		t.Fatalf("add tags again: %v", err)
	}
	if want := (models.Tags{"vip", "beta"}); !reflect.DeepEqual(again.Tags, want) {
		t.Fatalf("expected %v, got %v", want, again.Tags)
	}
	removed, err := r.Users.RemoveTags(ctx, u.ID, []string{"vip", "absent"})
	if err != nil {
		t.Fatalf("remove tags: %v", err)
	}
	if want := (models.Tags{"beta"}); !reflect.DeepEqual(removed.Tags, want) {
		t.Fatalf("expected %v, got %v", want, removed.Tags)
	}
}

func TestConversationSingleOpenPerUser(t *testing.T) {
	r := newTestRepos(t)
	ctx := context.Background()
	u, c := seedConversation(t, r, "1777")

	err := r.Conversations.Create(ctx, &models.Conversation{UserID: u.ID, PhoneNumber: "1777"})
	if !errors.Is(err, apperr.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for a second open conversation, got %v", err)
	}

	open, err := r.Conversations.FindOpenByUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("find open: %v", err)
	}
	if open.ID != c.ID {
		t.Fatalf("expected conversation %d, got %d", c.ID, open.ID)
	}
	if _, err := r.Conversations.FindOpenByUserExcluding(ctx, u.ID, c.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected no other open conversation, got %v", err)
	}

	if _, err := r.Conversations.Update(ctx, c.ID, map[string]any{"status": models.ConversationClosed}); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := r.Conversations.FindOpenByUser(ctx, u.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after close, got %v", err)
	}
}

func TestConversationRecordMessage(t *testing.T) {
	r := newTestRepos(t)
	ctx := context.Background()
	_, c := seedConversation(t, r, "1888")
	at := time.Now().UTC().Truncate(time.Millisecond)

	for i := 1; i <= 3; i++ {
		if err := r.Conversations.RecordMessage(ctx, c.ID, uint(i), at, fmt.Sprintf("msg %d", i), true); err != nil {
			t.Fatalf("record inbound %d: %v", i, err)
		}
	}
	if err := r.Conversations.RecordMessage(ctx, c.ID, 4, at, "reply", false); err != nil {
		t.Fatalf("record outbound: %v", err)
	}

	got, err := r.Conversations.FindByID(ctx, c.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.UnreadCount != 3 {
		t.Fatalf("expected unread 3, got %d", got.UnreadCount)
	}
	if got.LastMessagePreview != "reply" || got.LastMessageID == nil || *got.LastMessageID != 4 {
		t.Fatalf("unexpected last message fields: %+v", got)
	}
	if got.User == nil || got.User.WaID != "1888" {
		t.Fatalf("expected preloaded user, got %+v", got.User)
	}

	total, err := r.Conversations.SumUnread(ctx, got.UserID)
	if err != nil {
		t.Fatalf("sum unread: %v", err)
	}
	if total != 3 {
		t.Fatalf("expected total unread 3, got %d", total)
	}

	if err := r.Conversations.RecordMessage(ctx, 9999, 1, at, "x", true); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMessageCreateAndList(t *testing.T) {
	r := newTestRepos(t)
	ctx := context.Background()
	_, c := seedConversation(t, r, "1999")
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		m := &models.Message{
			ConversationID: c.ID,
			MessageID:      fmt.Sprintf("wamid.%d", i),
			From:           "1999",
			To:             "business",
			Type:           models.TypeText,
			Content:        models.MessageContent{Text: &models.TextContent{Body: fmt.Sprintf("m%d", i)}},
			Status:         models.StatusDelivered,
			Direction:      models.DirectionInbound,
			Timestamp:      base.Add(time.Duration(i) * time.Minute),
		}
		if err := r.Messages.Create(ctx, m); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}

	dup := &models.Message{ConversationID: c.ID, MessageID: "wamid.0", From: "1999", To: "business", Type: models.TypeText, Status: models.StatusDelivered, Direction: models.DirectionInbound}
	if err := r.Messages.Create(ctx, dup); !errors.Is(err, apperr.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	page, total, err := r.Messages.ListByConversation(ctx, c.ID, Page{Number: 1, Size: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 5 || len(page) != 2 {
		t.Fatalf("expected 2 of 5, got %d of %d", len(page), total)
	}
	if page[0].MessageID != "wamid.3" || page[1].MessageID != "wamid.4" {
		t.Fatalf("expected newest page oldest first, got %s, %s", page[0].MessageID, page[1].MessageID)
	}
	if page[1].Content.Text == nil || page[1].Content.Text.Body != "m4" {
		t.Fatalf("content not round-tripped: %+v", page[1].Content)
	}

	byPhone, total, err := r.Messages.ListByPhone(ctx, "1999", Page{})
	if err != nil {
		t.Fatalf("list by phone: %v", err)
	}
	if total != 5 || len(byPhone) != 5 {
		t.Fatalf("expected 5 messages by phone, got %d", len(byPhone))
	}
}

func TestMessageUpdateStatus(t *testing.T) {
	r := newTestRepos(t)
	ctx := context.Background()
	_, c := seedConversation(t, r, "2111")
	m := &models.Message{ConversationID: c.ID, MessageID: "wamid.out", From: "business", To: "2111", Type: models.TypeText,
		Content: models.MessageContent{Text: &models.TextContent{Body: "hi"}}, Status: models.StatusSent, Direction: models.DirectionOutbound, Timestamp: time.Now().UTC()}
	if err := r.Messages.Create(ctx, m); err != nil {
		t.Fatalf("create: %v", err)
	}

	readAt := time.Now().UTC().Truncate(time.Second)
	got, err := r.Messages.UpdateStatus(ctx, "wamid.out", StatusChange{Status: models.StatusRead, At: readAt})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Status != models.StatusRead || got.ReadAt == nil || !got.ReadAt.Equal(readAt) {
		t.Fatalf("unexpected read state: %+v", got)
	}

	deliveredAt := readAt.Add(-time.Second)
	got, err = r.Messages.UpdateStatus(ctx, "wamid.out", StatusChange{Status: models.StatusDelivered, At: deliveredAt})
	if err != nil {
		t.Fatalf("delivered: %v", err)
	}
	if got.Status != models.StatusDelivered || got.DeliveredAt == nil || got.ReadAt == nil {
		t.Fatalf("late delivered must overwrite status and keep read-at: %+v", got)
	}

	got, err = r.Messages.UpdateStatus(ctx, "wamid.out", StatusChange{Status: models.StatusFailed, At: readAt, FailedReason: "131026: undeliverable"})
	if err != nil {
		t.Fatalf("failed: %v", err)
	}
	if got.FailedReason != "131026: undeliverable" {
		t.Fatalf("expected failure reason, got %q", got.FailedReason)
	}

	if _, err := r.Messages.UpdateStatus(ctx, "wamid.none", StatusChange{Status: models.StatusRead, At: readAt}); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestWebhookLogLifecycle(t *testing.T) {
	r := newTestRepos(t)
	ctx := context.Background()

	var ids []uint
	for i := 0; i < 3; i++ {
		l := &models.WebhookLog{EventType: "whatsapp_business_account", Payload: []byte(`{}`)}
		if err := r.WebhookLogs.Create(ctx, l); err != nil {
			t.Fatalf("create: %v", err)
		}
		ids = append(ids, l.ID)
	}
	if err := r.WebhookLogs.MarkFailed(ctx, ids[0], "boom", false); err != nil {
		t.Fatalf("fail 0: %v", err)
	}
	if err := r.WebhookLogs.MarkFailed(ctx, ids[1], "boom", false); err != nil {
		t.Fatalf("fail 1: %v", err)
	}
	if err := r.WebhookLogs.MarkFailed(ctx, ids[1], "boom again", true); err != nil {
		t.Fatalf("retry fail 1: %v", err)
	}
	if err := r.WebhookLogs.MarkProcessed(ctx, ids[2], time.Now().UTC()); err != nil {
		t.Fatalf("processed: %v", err)
	}

	retryable, err := r.WebhookLogs.ListRetryable(ctx, 1, 100)
	if err != nil {
		t.Fatalf("list retryable: %v", err)
	}
	if len(retryable) != 1 || retryable[0].ID != ids[0] {
		t.Fatalf("expected only log %d below the ceiling, got %+v", ids[0], retryable)
	}

	l, err := r.WebhookLogs.FindByID(ctx, ids[1])
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if l.RetryCount != 1 || l.Error != "boom again" || l.Status != models.WebhookFailed {
		t.Fatalf("unexpected log state: %+v", l)
	}

	counts, err := r.WebhookLogs.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts[models.WebhookFailed] != 2 || counts[models.WebhookProcessed] != 1 || counts[models.WebhookPending] != 0 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}

func TestMessageStats(t *testing.T) {
	r := newTestRepos(t)
	ctx := context.Background()
	_, c := seedConversation(t, r, "2222")
	now := time.Now().UTC()

	msgs := []struct {
		id  string
		typ models.MessageType
		dir models.Direction
		st  models.MessageStatus
	}{
		{"a", models.TypeText, models.DirectionInbound, models.StatusDelivered},
		{"b", models.TypeImage, models.DirectionInbound, models.StatusDelivered},
		{"c", models.TypeText, models.DirectionOutbound, models.StatusRead},
	}
	for _, m := range msgs {
		err := r.Messages.Create(ctx, &models.Message{ConversationID: c.ID, MessageID: m.id, From: "x", To: "y", Type: m.typ, Status: m.st, Direction: m.dir, Timestamp: now})
		if err != nil {
			t.Fatalf("create %s: %v", m.id, err)
		}
	}

	stats, err := r.Stats.MessageStats(ctx, StatsFilter{ConversationID: c.ID})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 3 || stats.Inbound != 2 || stats.Outbound != 1 {
		t.Fatalf("unexpected totals: %+v", stats)
	}
	if stats.ByType[models.TypeText] != 2 || stats.ByStatus[models.StatusDelivered] != 2 {
		t.Fatalf("unexpected breakdown: %+v", stats)
	}

	empty, err := r.Stats.MessageStats(ctx, StatsFilter{ConversationID: c.ID + 1})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if empty.Total != 0 {
		t.Fatalf("expected no messages, got %d", empty.Total)
	}
}
