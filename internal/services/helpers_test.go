package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"whatsapp-broker/internal/adapters/meta"
	"whatsapp-broker/internal/db"
	"whatsapp-broker/internal/events"
	"whatsapp-broker/internal/models"
	"whatsapp-broker/internal/repository"

	"gorm.io/gorm"
)

const testPhoneNumberID = "PNID"

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) ofType(t string) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Event
	for _, ev := range p.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type fakeSender struct {
	mu      sync.Mutex
	next    int
	held    bool
	waID    string
	err     error
	readErr error
	sent    []meta.OutgoingMessage
	read    []string
}

func (f *fakeSender) SendMessage(_ context.Context, msg meta.OutgoingMessage) (*meta.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.next++
	f.sent = append(f.sent, msg)
	waID := f.waID
	if waID == "" {
		waID = msg.To
	}
	return &meta.SendResult{MessageID: fmt.Sprintf("wamid.out%d", f.next), WaID: waID, Held: f.held}, nil
}

func (f *fakeSender) MarkAsRead(_ context.Context, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return f.readErr
	}
	f.read = append(f.read, messageID)
	return nil
}

type testEnv struct {
	db            *gorm.DB
	repos         *repository.Repositories
	publisher     *recordingPublisher
	sender        *fakeSender
	reconciler    *Reconciler
	dispatcher    *Dispatcher
	outbound      *OutboundService
	conversations *ConversationService
	users         *UserService
	messages      *MessageService
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := db.Open(db.DriverSQLiteNoCGO, filepath.Join(t.TempDir(), "services.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(gdb) })
	if err := db.Migrate(gdb, models.All()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gdb
}

func newTestRepos(t *testing.T) *repository.Repositories {
	t.Helper()
	repos, err := repository.New(newTestDB(t), db.DriverSQLiteNoCGO)
	if err != nil {
		t.Fatalf("repositories: %v", err)
	}
	return repos
}

// failNextConversationUpdate makes the next UPDATE on conversations fail
// as if the connection dropped.
func failNextConversationUpdate(t *testing.T, gdb *gorm.DB) {
	t.Helper()
	var armed atomic.Bool
	armed.Store(true)
	err := gdb.Callback().Update().Before("gorm:update").Register("test:fail_conversation_update", func(tx *gorm.DB) {
		if tx.Statement.Table == "conversations" && armed.CompareAndSwap(true, false) {
			tx.AddError(errors.New("connection reset by peer"))
		}
	})
	if err != nil {
		t.Fatalf("register callback: %v", err)
	}
}

func newTestEnv(t *testing.T, recentTTL time.Duration) *testEnv {
	t.Helper()
	gdb := newTestDB(t)
	repos, err := repository.New(gdb, db.DriverSQLiteNoCGO)
	if err != nil {
		t.Fatalf("repositories: %v", err)
	}
	env := &testEnv{db: gdb, repos: repos, publisher: &recordingPublisher{}, sender: &fakeSender{}}

	env.reconciler, err = NewReconciler(ReconcilerConfig{
		Tx:            repos,
		Users:         repos.Users,
		Conversations: repos.Conversations,
		Messages:      repos.Messages,
		Publisher:     env.publisher,
		PhoneNumberID: testPhoneNumberID,
		RecentTTL:     recentTTL,
	})
	if err != nil {
		t.Fatalf("reconciler: %v", err)
	}
	env.dispatcher, err = NewDispatcher(repos.WebhookLogs, env.reconciler, nil, nil)
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	env.outbound, err = NewOutboundService(OutboundConfig{
		Tx:            repos,
		Sender:        env.sender,
		Users:         repos.Users,
		Conversations: repos.Conversations,
		Messages:      repos.Messages,
		Publisher:     env.publisher,
		PhoneNumberID: testPhoneNumberID,
	})
	if err != nil {
		t.Fatalf("outbound: %v", err)
	}
	if env.conversations, err = NewConversationService(repos.Conversations, repos.Users); err != nil {
		t.Fatalf("conversations: %v", err)
	}
	if env.users, err = NewUserService(repos.Users); err != nil {
		t.Fatalf("users: %v", err)
	}
	if env.messages, err = NewMessageService(repos.Messages, repos.Conversations, repos.Stats); err != nil {
		t.Fatalf("messages: %v", err)
	}
	return env
}

func textPayload(from, name, id, timestamp, body string) []byte {
	return []byte(fmt.Sprintf(`{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "WABA1",
    "changes": [{
      "field": "messages",
      "value": {
        "messaging_product": "whatsapp",
        "metadata": {"display_phone_number": "15550000000", "phone_number_id": %q},
        "contacts": [{"profile": {"name": %q}, "wa_id": %q}],
        "messages": [{"from": %q, "id": %q, "timestamp": %q, "type": "text", "text": {"body": %q}}]
      }
    }]
  }]
}`, testPhoneNumberID, name, from, from, id, timestamp, body))
}

func statusPayload(id, status, timestamp, extra string) []byte {
	return []byte(fmt.Sprintf(`{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "WABA1",
    "changes": [{
      "field": "messages",
      "value": {
        "messaging_product": "whatsapp",
        "metadata": {"display_phone_number": "15550000000", "phone_number_id": %q},
        "statuses": [{"id": %q, "status": %q, "timestamp": %q, "recipient_id": "15551234567"%s}]
      }
    }]
  }]
}`, testPhoneNumberID, id, status, timestamp, extra))
}

func inbound(from, id, body string) IncomingMessage {
	return IncomingMessage{
		ExternalID: id,
		From:       from,
		Type:       models.TypeText,
		Content:    models.MessageContent{Text: &models.TextContent{Body: body}},
		Timestamp:  time.Unix(1700000000, 0).UTC(),
	}
}

func textRequest(to, body string) SendRequest {
	return SendRequest{
		To:      to,
		Type:    models.TypeText,
		Content: models.MessageContent{Text: &models.TextContent{Body: body}},
	}
}
