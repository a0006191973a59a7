package main

import (
	"context"
	"net/http"

	"whatsapp-broker/internal/handlers"
	"whatsapp-broker/internal/metrics"

	"github.com/gorilla/mux"
	"github.com/justinas/alice"
)

type routeDeps struct {
	webhook       *handlers.WebhookHandler
	conversations *handlers.ConversationHandler
	users         *handlers.UserHandler
	messages      *handlers.MessageHandler
	admin         *handlers.AdminHandler
	ping          func(ctx context.Context) error
	metrics       *metrics.Metrics
}

func newRouter(d routeDeps) http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(handlers.NotFound)

	if d.metrics != nil {
		r.Handle("/metrics", d.metrics.Handler()).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", handlers.Health(d.ping)).Methods(http.MethodGet)
	d.webhook.Register(api)
	d.conversations.Register(api)
	d.users.Register(api)
	d.messages.Register(api)
	d.admin.Register(api)

	return alice.New(handlers.Recoverer, handlers.AccessLog).Then(r)
}
