package handlers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"whatsapp-broker/internal/adapters/meta"
	"whatsapp-broker/internal/models"

	"github.com/gorilla/mux"
	"github.com/justinas/alice"
	"github.com/rs/zerolog/log"
)

const (
	signatureHeader = "X-Hub-Signature-256"
	maxWebhookBody  = 5 << 20
	eventReceived   = "EVENT_RECEIVED"
)

// Dispatcher processes one raw webhook batch. *services.Dispatcher
// implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, raw []byte) (*models.WebhookLog, error)
}

// WebhookHandler is the Meta webhook endpoint. Batches are acknowledged
// immediately and processed in the background.
type WebhookHandler struct {
	dispatcher  Dispatcher
	verifyToken string
	appSecret   []byte
	timeout     time.Duration
	wg          sync.WaitGroup
}

func NewWebhookHandler(dispatcher Dispatcher, verifyToken, appSecret string, timeout time.Duration) *WebhookHandler {
	if dispatcher == nil {
		log.Fatal().Msg("Dispatcher cannot be nil for WebhookHandler")
	}
	if appSecret == "" {
		log.Warn().Msg("Meta app secret is not configured. Webhook signatures will not be verified.")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WebhookHandler{
		dispatcher:  dispatcher,
		verifyToken: verifyToken,
		appSecret:   []byte(appSecret),
		timeout:     timeout,
	}
}

func (h *WebhookHandler) Register(r *mux.Router) {
	r.HandleFunc("/webhook", h.Verify).Methods(http.MethodGet)
	r.Handle("/webhook", alice.New(h.requireSignature).ThenFunc(h.Receive)).Methods(http.MethodPost)
}

// Verify answers the subscription handshake.
func (h *WebhookHandler) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") == "subscribe" && h.verifyToken != "" && q.Get("hub.verify_token") == h.verifyToken {
		log.Info().Msg("Webhook verification successful")
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(q.Get("hub.challenge")))
		return
	}
	log.Warn().Str("mode", q.Get("hub.mode")).Msg("Webhook verification failed")
	http.Error(w, "Forbidden", http.StatusForbidden)
}

// Receive validates and acknowledges a webhook batch, then hands it to the
// dispatcher.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		log.Error().Err(err).Msg("Failed to read webhook body")
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	var payload meta.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Warn().Err(err).Msg("Failed to decode webhook payload")
		http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}
	log.Debug().Str("object", payload.Object).Int("entries", len(payload.Entry)).Msg("Webhook batch received")

	h.wg.Add(1)
	go h.process(body)

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(eventReceived))
}

func (h *WebhookHandler) process(body []byte) {
	defer h.wg.Done()
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	entry, err := h.dispatcher.Dispatch(ctx, body)
	if err != nil {
		ev := log.Error().Err(err)
		if entry != nil {
			ev = ev.Uint("webhookLogID", entry.ID)
		}
		ev.Msg("Webhook batch failed, left for the retry sweep")
	}
}

// requireSignature rejects bodies whose X-Hub-Signature-256 does not match.
// The body is buffered and handed on unchanged.
func (h *WebhookHandler) requireSignature(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(h.appSecret) == 0 {
			next.ServeHTTP(w, r)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			log.Error().Err(err).Msg("Failed to read webhook body")
			http.Error(w, "Failed to read request body", http.StatusBadRequest)
			return
		}
		if !h.validSignature(body, r.Header.Get(signatureHeader)) {
			log.Warn().Str("remoteAddr", r.RemoteAddr).Msg("Invalid webhook signature")
			http.Error(w, "Invalid signature", http.StatusUnauthorized)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

// validSignature checks "sha256=<hex>" against the HMAC of the raw body.
func (h *WebhookHandler) validSignature(body []byte, header string) bool {
	if header == "" {
		return false
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, "sha256="))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, h.appSecret)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// Wait blocks until background batches finish or ctx is done.
func (h *WebhookHandler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
