package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"whatsapp-broker/internal/adapters/meta"
	"whatsapp-broker/internal/db"
	"whatsapp-broker/internal/models"
	"whatsapp-broker/internal/repository"
	"whatsapp-broker/internal/services"

	"github.com/gorilla/mux"
)

const (
	testVerifyToken = "verify-me"
	testAppSecret   = "app-secret"
)

type stubSender struct {
	mu   sync.Mutex
	next int
}

func (s *stubSender) SendMessage(_ context.Context, msg meta.OutgoingMessage) (*meta.SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return &meta.SendResult{MessageID: fmt.Sprintf("wamid.api%d", s.next), WaID: msg.To}, nil
}

func (s *stubSender) MarkAsRead(context.Context, string) error { return nil }

type apiEnv struct {
	repos      *repository.Repositories
	reconciler *services.Reconciler
	webhook    *WebhookHandler
	router     *mux.Router
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	gdb, err := db.Open(db.DriverSQLiteNoCGO, filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(gdb) })
	if err := db.Migrate(gdb, models.All()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	repos, err := repository.New(gdb, db.DriverSQLiteNoCGO)
	if err != nil {
		t.Fatal(err)
	}

	reconciler, err := services.NewReconciler(services.ReconcilerConfig{
		Tx:            repos,
		Users:         repos.Users,
		Conversations: repos.Conversations,
		Messages:      repos.Messages,
		PhoneNumberID: "PNID",
	})
	if err != nil {
		t.Fatal(err)
	}
	dispatcher, err := services.NewDispatcher(repos.WebhookLogs, reconciler, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	outbound, err := services.NewOutboundService(services.OutboundConfig{
		Tx:            repos,
		Sender:        &stubSender{},
		Users:         repos.Users,
		Conversations: repos.Conversations,
		Messages:      repos.Messages,
		PhoneNumberID: "PNID",
	})
	if err != nil {
		t.Fatal(err)
	}
	conversations, err := services.NewConversationService(repos.Conversations, repos.Users)
	if err != nil {
		t.Fatal(err)
	}
	users, err := services.NewUserService(repos.Users)
	if err != nil {
		t.Fatal(err)
	}
	messages, err := services.NewMessageService(repos.Messages, repos.Conversations, repos.Stats)
	if err != nil {
		t.Fatal(err)
	}
	sweeper, err := services.NewRetrySweeper(dispatcher, time.Hour, 3)
	if err != nil {
		t.Fatal(err)
	}

	env := &apiEnv{
		repos:      repos,
		reconciler: reconciler,
		webhook:    NewWebhookHandler(dispatcher, testVerifyToken, testAppSecret, 5*time.Second),
		router:     mux.NewRouter(),
	}
	env.router.NotFoundHandler = http.HandlerFunc(NotFound)
	api := env.router.PathPrefix("/api").Subrouter()
	env.webhook.Register(api)
	NewConversationHandler(conversations).Register(api)
	NewUserHandler(users, conversations).Register(api)
	NewMessageHandler(messages, outbound).Register(api)
	NewAdminHandler(repos.WebhookLogs, sweeper).Register(api)
	return env
}

func (e *apiEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

// seed stores one inbound text message and returns its conversation id.
func (e *apiEnv) seed(t *testing.T, waID, messageID string) uint {
	t.Helper()
	ctx := context.Background()
	err := e.reconciler.HandleIncomingMessage(ctx, services.IncomingMessage{
		ExternalID: messageID,
		From:       waID,
		Type:       models.TypeText,
		Content:    models.MessageContent{Text: &models.TextContent{Body: "hello"}},
		Timestamp:  time.Unix(1700000000, 0).UTC(),
	})
	if err != nil {
		t.Fatal(err)
	}
	msg, err := e.repos.Messages.FindByMessageID(ctx, messageID)
	if err != nil {
		t.Fatal(err)
	}
	return msg.ConversationID
}

type testEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder, data any) testEnvelope {
	t.Helper()
	var env testEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	if data != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, data); err != nil {
			t.Fatalf("decode data %s: %v", env.Data, err)
		}
	}
	return env
}
